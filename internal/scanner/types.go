// Package scanner discovers indexable source files under a root
// directory. Discovery honors .gitignore files, configured exclude
// patterns and a fixed extension allow-list, and never opens file contents.
package scanner

import (
	"path/filepath"
	"strings"
	"time"
)

// File is one discovered source file.
type File struct {
	// Path is relative to the discovery root, with forward slashes.
	Path     string
	AbsPath  string
	Language string
	Size     int64
	ModTime  time.Time
}

// Warning reports a sub-entry that could not be read. Discovery skips it
// and continues.
type Warning struct {
	Path string
	Err  error
}

// Options configures a Discoverer.
type Options struct {
	// Exclude holds extra gitignore-style patterns.
	Exclude []string

	// MaxFileSize skips larger files (0 = DefaultMaxFileSize).
	MaxFileSize int64

	// IgnoreGitignore disables .gitignore handling.
	IgnoreGitignore bool

	// OnWarning receives unreadable sub-entries. Defaults to a slog warning.
	OnWarning func(Warning)
}

// DefaultMaxFileSize is the default maximum file size (10MB).
const DefaultMaxFileSize = 10 * 1024 * 1024

// languageMap is the extension allow-list. Every entry has a grammar in
// the chunk package.
var languageMap = map[string]string{
	".go":   "go",
	".py":   "python",
	".pyi":  "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".mjs":  "javascript",
	".cjs":  "javascript",
	".ts":   "typescript",
	".mts":  "typescript",
	".cts":  "typescript",
	".tsx":  "tsx",
	".java": "java",
	".rs":   "rust",
}

// excludedDirs are never descended into.
var excludedDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	".codeindex":   true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"dist":         true,
	"build":        true,
	"target":       true,
}

// DetectLanguage returns the language for a path, or "" when the
// extension is not on the allow-list.
func DetectLanguage(path string) string {
	return languageMap[strings.ToLower(filepath.Ext(path))]
}

// SupportedExtensions returns the allow-listed extensions.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(languageMap))
	for ext := range languageMap {
		exts = append(exts, ext)
	}
	return exts
}
