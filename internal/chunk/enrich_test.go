package chunk

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/codeindex/internal/logging"
)

type fakeSymbols struct {
	defs    map[string][]Location
	refs    map[string][]Location
	defsErr error
}

func (f *fakeSymbols) Definitions(_ context.Context, filePath string, _ int) ([]Location, error) {
	if f.defsErr != nil {
		return nil, f.defsErr
	}
	return f.defs[filePath], nil
}

func (f *fakeSymbols) References(_ context.Context, filePath string, _ int) ([]Location, error) {
	return f.refs[filePath], nil
}

func TestEnrich_NilProviderLeavesChunksUnset(t *testing.T) {
	chunks := []Chunk{{FilePath: "a.py", StartLine: 1, EndLine: 2}}

	Enrich(context.Background(), nil, chunks, logging.Discard())

	assert.Nil(t, chunks[0].Relationships)
}

func TestEnrich_FillsDefinitionsAndReferences(t *testing.T) {
	// Given a provider that knows one definition and one reference
	provider := &fakeSymbols{
		defs: map[string][]Location{"a.py": {
			{FilePath: "a.py", StartLine: 1, EndLine: 2}, // the chunk itself
			{FilePath: "lib/base.py", StartLine: 10, EndLine: 20},
		}},
		refs: map[string][]Location{"a.py": {{FilePath: "b.py", StartLine: 4}}},
	}
	chunks := []Chunk{{FilePath: "a.py", StartLine: 1, EndLine: 2}}

	// When enriching
	Enrich(context.Background(), provider, chunks, logging.Discard())

	// Then self-definitions are dropped and ranges are normalised
	assert.Equal(t, []Relationship{
		{TargetFile: "lib/base.py", TargetRange: Range{StartLine: 10, EndLine: 20}, Relation: RelationDefinition},
		{TargetFile: "b.py", TargetRange: Range{StartLine: 4, EndLine: 4}, Relation: RelationReference},
	}, chunks[0].Relationships)
}

func TestEnrich_ProviderErrorKeepsOtherResults(t *testing.T) {
	provider := &fakeSymbols{
		defsErr: errors.New("server not ready"),
		refs:    map[string][]Location{"a.py": {{FilePath: "c.py", StartLine: 3, EndLine: 3}}},
	}
	chunks := []Chunk{{FilePath: "a.py", StartLine: 1, EndLine: 2}}

	Enrich(context.Background(), provider, chunks, nil)

	assert.Len(t, chunks[0].Relationships, 1)
	assert.Equal(t, RelationReference, chunks[0].Relationships[0].Relation)
}
