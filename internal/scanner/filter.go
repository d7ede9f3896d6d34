package scanner

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/codeindex/internal/gitignore"
)

// ignoreCacheSize bounds the number of parsed .gitignore files kept.
const ignoreCacheSize = 1000

// Filter decides whether a root-relative path is indexable. It is shared
// by discovery and the change watcher so both apply identical rules.
type Filter struct {
	root    string
	exclude *gitignore.Matcher
	useGit  bool
	ignores *lru.Cache[string, *gitignore.Matcher]
	cacheMu sync.Mutex
}

// NewFilter builds a filter for root.
func NewFilter(root string, opts Options) (*Filter, error) {
	cache, err := lru.New[string, *gitignore.Matcher](ignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create gitignore cache: %w", err)
	}

	exclude := gitignore.New()
	for _, p := range opts.Exclude {
		exclude.AddPattern(p)
	}

	return &Filter{
		root:    root,
		exclude: exclude,
		useGit:  !opts.IgnoreGitignore,
		ignores: cache,
	}, nil
}

// Root returns the absolute root the filter evaluates paths against.
func (f *Filter) Root() string { return f.root }

// Allow reports whether rel (root-relative, either separator) should be
// visited. Directories are checked against exclusions only; files must
// also carry an allow-listed extension.
func (f *Filter) Allow(rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == "" {
		return true
	}

	parts := strings.Split(rel, "/")
	dirs := parts
	if !isDir {
		dirs = parts[:len(parts)-1]
	}
	for _, p := range dirs {
		if excludedDirs[p] {
			return false
		}
	}

	if !isDir && DetectLanguage(rel) == "" {
		return false
	}

	if f.exclude.Match(rel, isDir) {
		return false
	}
	return !f.gitignored(parts, isDir)
}

// gitignored checks the .gitignore of the root and of every ancestor
// directory of the path, each against the path relative to it.
func (f *Filter) gitignored(parts []string, isDir bool) bool {
	if !f.useGit {
		return false
	}
	for i := 0; i < len(parts); i++ {
		dir := path.Join(parts[:i]...)
		m := f.matcherFor(dir)
		if m == nil {
			continue
		}
		if m.Match(path.Join(parts[i:]...), isDir) {
			return true
		}
	}
	return false
}

func (f *Filter) matcherFor(dir string) *gitignore.Matcher {
	key := filepath.Join(f.root, filepath.FromSlash(dir))

	f.cacheMu.Lock()
	m, ok := f.ignores.Get(key)
	f.cacheMu.Unlock()
	if ok {
		if m.Len() == 0 {
			return nil
		}
		return m
	}

	m = gitignore.New()
	file := filepath.Join(key, ".gitignore")
	if _, err := os.Stat(file); err == nil {
		_ = m.AddFromFile(file)
	}

	f.cacheMu.Lock()
	f.ignores.Add(key, m)
	f.cacheMu.Unlock()

	if m.Len() == 0 {
		return nil
	}
	return m
}

// InvalidateIgnoreCache drops parsed .gitignore files. The watcher calls
// it when a .gitignore changes.
func (f *Filter) InvalidateIgnoreCache() {
	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()
	f.ignores.Purge()
}
