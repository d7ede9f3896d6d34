package chunk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	cierrors "github.com/Aman-CERP/codeindex/internal/errors"
	"github.com/Aman-CERP/codeindex/internal/logging"
	"github.com/Aman-CERP/codeindex/internal/scanner"
)

var errSyntax = errors.New("syntax error")

// compiledQuery is the set of declaration queries for one language.
// A pattern that fails to compile against the linked grammar is dropped.
type compiledQuery struct {
	once    sync.Once
	queries []*sitter.Query
	err     error
}

// Extractor splits source files into declaration chunks using tree-sitter
// queries. It is safe for concurrent use.
type Extractor struct {
	logger  *slog.Logger
	parsers sync.Pool
	queries map[string]*compiledQuery
}

// NewExtractor creates an extractor for every known grammar.
func NewExtractor(logger *slog.Logger) *Extractor {
	e := &Extractor{
		logger:  logging.WithSource(logger, "chunk"),
		queries: make(map[string]*compiledQuery, len(grammars)),
	}
	e.parsers.New = func() any { return sitter.NewParser() }
	for name := range grammars {
		e.queries[name] = &compiledQuery{}
	}
	return e
}

// Close releases compiled queries.
func (e *Extractor) Close() {
	for _, cq := range e.queries {
		for _, q := range cq.queries {
			q.Close()
		}
		cq.queries = nil
	}
}

// declaration is one matched node before it becomes a Chunk.
type declaration struct {
	node *sitter.Node
	kind Kind
	name string
}

type nodeKey struct {
	start, end uint32
	typ        string
}

func keyOf(n *sitter.Node) nodeKey {
	return nodeKey{start: n.StartByte(), end: n.EndByte(), typ: n.Type()}
}

// Extract parses content and returns one chunk per function, method, and
// class declaration, ordered by start line with enclosing declarations
// first. When language is empty it is detected from filePath. Unsupported
// languages yield no chunks and no error. Source with syntax errors yields
// a *errors.ParseError.
func (e *Extractor) Extract(ctx context.Context, filePath string, content []byte, language string) ([]Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if language == "" {
		language = scanner.DetectLanguage(filePath)
	}
	g, ok := grammars[language]
	if !ok {
		return nil, nil
	}

	queries, err := e.queriesFor(g)
	if err != nil {
		return nil, err
	}

	parser := e.parsers.Get().(*sitter.Parser)
	defer e.parsers.Put(parser)
	parser.SetLanguage(g.language())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &cierrors.ParseError{FilePath: filePath, Cause: err}
	}
	if tree == nil {
		return nil, &cierrors.ParseError{FilePath: filePath, Cause: errors.New("parser returned no tree")}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, &cierrors.ParseError{FilePath: filePath, Line: firstErrorLine(root), Cause: errSyntax}
	}

	decls := collect(queries, root, content)
	if len(decls) == 0 {
		if other, ok := wholeFile(filePath, content, language); ok {
			return []Chunk{other}, nil
		}
		return nil, nil
	}
	classifyMethods(decls)

	chunks := make([]Chunk, 0, len(decls))
	for _, d := range decls {
		start, end := lineSpan(d.node)
		chunks = append(chunks, Chunk{
			ID:        ChunkID(filePath, start, end),
			FilePath:  filePath,
			Content:   d.node.Content(content),
			StartLine: start,
			EndLine:   end,
			Kind:      d.kind,
			Language:  language,
			Name:      d.name,
		})
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].StartLine != chunks[j].StartLine {
			return chunks[i].StartLine < chunks[j].StartLine
		}
		return chunks[i].EndLine > chunks[j].EndLine
	})
	return dedupe(chunks), nil
}

// queriesFor compiles the language's patterns once. The joined query is
// tried first; if the grammar rejects it, each pattern is compiled on its
// own and the ones that fail are skipped.
func (e *Extractor) queriesFor(g grammar) ([]*sitter.Query, error) {
	cq := e.queries[g.name]
	cq.once.Do(func() {
		lang := g.language()
		joined := strings.Join(g.patterns, "\n")
		if q, err := sitter.NewQuery([]byte(joined), lang); err == nil {
			cq.queries = []*sitter.Query{q}
			return
		}
		for _, p := range g.patterns {
			q, err := sitter.NewQuery([]byte(p), lang)
			if err != nil {
				e.logger.Debug("skipping declaration pattern",
					slog.String("language", g.name),
					slog.String("pattern", p),
					slog.String("error", err.Error()))
				continue
			}
			cq.queries = append(cq.queries, q)
		}
		if len(cq.queries) == 0 {
			cq.err = cierrors.InternalError(fmt.Sprintf("no usable declaration queries for %s", g.name), nil)
		}
	})
	return cq.queries, cq.err
}

func collect(queries []*sitter.Query, root *sitter.Node, content []byte) []declaration {
	var decls []declaration
	seen := make(map[nodeKey]bool)

	for _, q := range queries {
		qc := sitter.NewQueryCursor()
		qc.Exec(q, root)
		for {
			m, ok := qc.NextMatch()
			if !ok {
				break
			}
			m = qc.FilterPredicates(m, content)

			var d declaration
			for _, c := range m.Captures {
				switch q.CaptureNameForId(c.Index) {
				case captureFunction:
					d.node, d.kind = c.Node, KindFunction
				case captureMethod:
					d.node, d.kind = c.Node, KindMethod
				case captureClass:
					d.node, d.kind = c.Node, KindClass
				case captureName:
					d.name = c.Node.Content(content)
				}
			}
			if d.node == nil {
				continue
			}
			d.node = outerNode(d.node)
			k := keyOf(d.node)
			if seen[k] {
				continue
			}
			seen[k] = true
			decls = append(decls, d)
		}
		qc.Close()
	}
	return decls
}

// outerNode returns the node whose span a declaration chunk covers. A
// decorated Python definition starts at its first decorator, and a Go type
// spec that is alone in its declaration includes the type keyword. Specs in
// a grouped type declaration stay separate.
func outerNode(n *sitter.Node) *sitter.Node {
	parent := n.Parent()
	if parent == nil {
		return n
	}
	switch {
	case parent.Type() == "decorated_definition":
		return parent
	case n.Type() == "type_spec" && parent.Type() == "type_declaration" && countChildren(parent, "type_spec") == 1:
		return parent
	}
	return n
}

func countChildren(n *sitter.Node, typ string) int {
	count := 0
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c != nil && c.Type() == typ {
			count++
		}
	}
	return count
}

// classifyMethods turns a function into a method when its nearest
// enclosing declaration is a class.
func classifyMethods(decls []declaration) {
	kinds := make(map[nodeKey]Kind, len(decls))
	for _, d := range decls {
		kinds[keyOf(d.node)] = d.kind
	}
	for i := range decls {
		if decls[i].kind != KindFunction {
			continue
		}
		for p := decls[i].node.Parent(); p != nil; p = p.Parent() {
			kind, ok := kinds[keyOf(p)]
			if !ok {
				continue
			}
			if kind == KindClass {
				decls[i].kind = KindMethod
			}
			break
		}
	}
}

// lineSpan converts a node's points to 1-based inclusive lines. A node that
// ends at column 0 of a later row stops on the previous line.
func lineSpan(n *sitter.Node) (int, int) {
	start := n.StartPoint()
	end := n.EndPoint()
	startLine := int(start.Row) + 1
	endLine := int(end.Row) + 1
	if end.Column == 0 && end.Row > start.Row {
		endLine = int(end.Row)
	}
	return startLine, endLine
}

// dedupe drops chunks whose id was already produced. Input must be sorted
// so that the enclosing declaration comes first.
func dedupe(chunks []Chunk) []Chunk {
	seen := make(map[string]bool, len(chunks))
	out := chunks[:0]
	for _, c := range chunks {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

func wholeFile(filePath string, content []byte, language string) (Chunk, bool) {
	if len(bytes.TrimSpace(content)) == 0 {
		return Chunk{}, false
	}
	lines := bytes.Count(content, []byte("\n"))
	if !bytes.HasSuffix(content, []byte("\n")) {
		lines++
	}
	return Chunk{
		ID:        ChunkID(filePath, 1, lines),
		FilePath:  filePath,
		Content:   string(content),
		StartLine: 1,
		EndLine:   lines,
		Kind:      KindOther,
		Language:  language,
	}, true
}

// firstErrorLine returns the 1-based line of the first ERROR or MISSING
// node in document order, or 0 when none is found.
func firstErrorLine(root *sitter.Node) int {
	var walk func(n *sitter.Node) int
	walk = func(n *sitter.Node) int {
		if n.Type() == "ERROR" || n.IsMissing() {
			return int(n.StartPoint().Row) + 1
		}
		if !n.HasError() {
			return 0
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			child := n.Child(i)
			if child == nil {
				continue
			}
			if line := walk(child); line > 0 {
				return line
			}
		}
		return 0
	}
	return walk(root)
}
