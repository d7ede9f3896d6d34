package chunk

import (
	"context"
	"log/slog"
)

// Location is a position reported by a symbol provider.
type Location struct {
	FilePath  string
	StartLine int
	EndLine   int
}

// SymbolProvider answers definition and reference lookups, typically backed
// by a language server. Lines are 1-based.
type SymbolProvider interface {
	Definitions(ctx context.Context, filePath string, line int) ([]Location, error)
	References(ctx context.Context, filePath string, line int) ([]Location, error)
}

// Enrich fills Relationships for each chunk by asking provider about the
// chunk's first line. A nil provider leaves chunks untouched. Provider
// failures are logged and the chunk keeps whatever was collected.
func Enrich(ctx context.Context, provider SymbolProvider, chunks []Chunk, logger *slog.Logger) {
	if provider == nil {
		return
	}
	for i := range chunks {
		if ctx.Err() != nil {
			return
		}
		c := &chunks[i]

		defs, err := provider.Definitions(ctx, c.FilePath, c.StartLine)
		if err != nil {
			logEnrichFailure(logger, c, "definitions", err)
		}
		refs, err := provider.References(ctx, c.FilePath, c.StartLine)
		if err != nil {
			logEnrichFailure(logger, c, "references", err)
		}

		var rels []Relationship
		for _, loc := range defs {
			if loc.FilePath == c.FilePath && loc.StartLine == c.StartLine {
				continue
			}
			rels = append(rels, toRelationship(loc, RelationDefinition))
		}
		for _, loc := range refs {
			rels = append(rels, toRelationship(loc, RelationReference))
		}
		if len(rels) > 0 {
			c.Relationships = rels
		}
	}
}

func toRelationship(loc Location, rel Relation) Relationship {
	end := loc.EndLine
	if end < loc.StartLine {
		end = loc.StartLine
	}
	return Relationship{
		TargetFile:  loc.FilePath,
		TargetRange: Range{StartLine: loc.StartLine, EndLine: end},
		Relation:    rel,
	}
}

func logEnrichFailure(logger *slog.Logger, c *Chunk, op string, err error) {
	if logger == nil {
		return
	}
	logger.Debug("symbol lookup failed",
		slog.String("file", c.FilePath),
		slog.Int("line", c.StartLine),
		slog.String("op", op),
		slog.String("error", err.Error()))
}
