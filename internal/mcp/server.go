package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/codeindex/internal/embed"
	"github.com/Aman-CERP/codeindex/internal/index"
	"github.com/Aman-CERP/codeindex/internal/logging"
	"github.com/Aman-CERP/codeindex/internal/search"
	"github.com/Aman-CERP/codeindex/internal/store"
	"github.com/Aman-CERP/codeindex/pkg/version"
)

// KeywordCounter reports the size of the keyword index.
// *store.KeywordIndex implements it.
type KeywordCounter interface {
	Count() (int, error)
}

// Deps are the engine parts the tools drive. Keyword is optional.
type Deps struct {
	Coordinator *index.Coordinator
	Engine      *search.Engine
	Store       store.VectorStore
	Keyword     KeywordCounter
	Embedder    embed.Embedder
	Root        string
	Collection  string
	Logger      *slog.Logger
}

// Server is the MCP server for one project.
type Server struct {
	mcp    *mcp.Server
	deps   Deps
	logger *slog.Logger

	// base outlives tool requests; runs started by index_start derive
	// from it so they keep going after the call returns.
	mu   sync.RWMutex
	base context.Context
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{"index_start", "Start indexing the project (or a sub-directory) in the background. Returns the run id; poll index_status for progress."},
	{"index_status", "Report the progress of an indexing run: status, processed and total files, chunks created and per-file errors."},
	{"index_pause", "Pause the indexing run. Files already being processed finish first."},
	{"index_resume", "Resume a paused indexing run."},
	{"index_cancel", "Cancel the indexing run after the files in flight. Stored chunks are kept."},
	{"index_file", "Re-index one file now: its old chunks are replaced. A file that no longer exists is removed from the index."},
	{"remove_file", "Remove every chunk of one file from the index."},
	{"search", "Search indexed code by meaning and by keyword. Returns matching functions, methods and classes with file and line range."},
	{"store_health", "Check the vector store and embedding provider: reachability, latency and point counts."},
}

// NewServer registers the tools.
func NewServer(deps Deps) (*Server, error) {
	switch {
	case deps.Coordinator == nil:
		return nil, errors.New("coordinator is required")
	case deps.Engine == nil:
		return nil, errors.New("search engine is required")
	case deps.Store == nil:
		return nil, errors.New("vector store is required")
	case deps.Embedder == nil:
		return nil, errors.New("embedder is required")
	}
	if deps.Collection == "" {
		deps.Collection = index.DefaultCollection
	}

	s := &Server{
		deps:   deps,
		logger: logging.WithSource(deps.Logger, "mcp"),
		base:   context.Background(),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: version.Name, Version: version.Version}, nil)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns the registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), tools...)
}

func describe(name string) string {
	for _, t := range tools {
		if t.Name == name {
			return t.Description
		}
	}
	return ""
}

func (s *Server) registerTools() {
	add := func(name string) *mcp.Tool { return &mcp.Tool{Name: name, Description: describe(name)} }

	mcp.AddTool(s.mcp, add("index_start"), s.handleIndexStart)
	mcp.AddTool(s.mcp, add("index_status"), s.handleIndexStatus)
	mcp.AddTool(s.mcp, add("index_pause"), s.handleIndexPause)
	mcp.AddTool(s.mcp, add("index_resume"), s.handleIndexResume)
	mcp.AddTool(s.mcp, add("index_cancel"), s.handleIndexCancel)
	mcp.AddTool(s.mcp, add("index_file"), s.handleIndexFile)
	mcp.AddTool(s.mcp, add("remove_file"), s.handleRemoveFile)
	mcp.AddTool(s.mcp, add("search"), s.handleSearch)
	mcp.AddTool(s.mcp, add("store_health"), s.handleStoreHealth)

	s.logger.Debug("MCP tools registered", slog.Int("count", len(tools)))
}

// Serve runs the server on the transport until ctx is done. Only stdio is
// supported.
func (s *Server) Serve(ctx context.Context, transport string) error {
	if transport != "stdio" {
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	s.logger.Info("starting MCP server", slog.String("transport", transport), slog.String("root", s.deps.Root))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped")
	return nil
}

func (s *Server) baseContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base
}

// handle resolves an optional run id to a handle.
func (s *Server) handle(runID string) (index.RunHandle, error) {
	if runID != "" {
		return index.RunHandle{ID: runID}, nil
	}
	h, ok := s.deps.Coordinator.Current()
	if !ok {
		return index.RunHandle{}, fmt.Errorf("%w: no run has been started", index.ErrRunNotFound)
	}
	return h, nil
}

func (s *Server) status(h index.RunHandle) (*mcp.CallToolResult, RunOutput, error) {
	snap, err := s.deps.Coordinator.GetStatus(h)
	if err != nil {
		return nil, RunOutput{}, toolError(err)
	}
	return nil, runOutput(snap), nil
}

func (s *Server) handleIndexStart(_ context.Context, _ *mcp.CallToolRequest, in IndexStartInput) (*mcp.CallToolResult, RunOutput, error) {
	root := s.deps.Root
	if in.Path != "" {
		root = in.Path
		if !filepath.IsAbs(root) {
			root = filepath.Join(s.deps.Root, root)
		}
	}

	h, err := s.deps.Coordinator.StartIndexing(s.baseContext(), root, nil)
	if err != nil {
		return nil, RunOutput{}, toolError(err)
	}
	s.logger.Info("run started from MCP", slog.String("run_id", h.ID), slog.String("root", root))
	return s.status(h)
}

func (s *Server) handleIndexStatus(_ context.Context, _ *mcp.CallToolRequest, in RunInput) (*mcp.CallToolResult, RunOutput, error) {
	h, err := s.handle(in.RunID)
	if err != nil {
		return nil, RunOutput{}, toolError(err)
	}
	return s.status(h)
}

func (s *Server) handleIndexPause(_ context.Context, _ *mcp.CallToolRequest, in RunInput) (*mcp.CallToolResult, RunOutput, error) {
	return s.transition(in.RunID, s.deps.Coordinator.Pause)
}

func (s *Server) handleIndexResume(_ context.Context, _ *mcp.CallToolRequest, in RunInput) (*mcp.CallToolResult, RunOutput, error) {
	return s.transition(in.RunID, s.deps.Coordinator.Resume)
}

func (s *Server) handleIndexCancel(_ context.Context, _ *mcp.CallToolRequest, in RunInput) (*mcp.CallToolResult, RunOutput, error) {
	return s.transition(in.RunID, s.deps.Coordinator.Cancel)
}

func (s *Server) transition(runID string, fn func(index.RunHandle) error) (*mcp.CallToolResult, RunOutput, error) {
	h, err := s.handle(runID)
	if err != nil {
		return nil, RunOutput{}, toolError(err)
	}
	if err := fn(h); err != nil {
		return nil, RunOutput{}, toolError(err)
	}
	return s.status(h)
}

func (s *Server) handleIndexFile(ctx context.Context, _ *mcp.CallToolRequest, in FileInput) (*mcp.CallToolResult, IndexFileOutput, error) {
	if in.Path == "" {
		return nil, IndexFileOutput{}, NewInvalidParamsError("path parameter is required")
	}
	n, err := s.deps.Coordinator.IndexFile(ctx, in.Path)
	if err != nil {
		return nil, IndexFileOutput{}, toolError(err)
	}
	return nil, IndexFileOutput{Path: in.Path, Chunks: n}, nil
}

func (s *Server) handleRemoveFile(ctx context.Context, _ *mcp.CallToolRequest, in FileInput) (*mcp.CallToolResult, RemoveFileOutput, error) {
	if in.Path == "" {
		return nil, RemoveFileOutput{}, NewInvalidParamsError("path parameter is required")
	}
	if err := s.deps.Coordinator.RemoveFile(ctx, in.Path); err != nil {
		return nil, RemoveFileOutput{}, toolError(err)
	}
	return nil, RemoveFileOutput{Path: in.Path, Removed: true}, nil
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if in.Query == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}
	results, err := s.deps.Engine.Search(ctx, in.Query, search.Options{
		TopK:       in.Limit,
		Mode:       search.Mode(in.Mode),
		Language:   in.Language,
		PathPrefix: in.Path,
	})
	if err != nil {
		return nil, SearchOutput{}, toolError(err)
	}
	return nil, SearchOutput{Results: results}, nil
}

func (s *Server) handleStoreHealth(ctx context.Context, _ *mcp.CallToolRequest, _ HealthInput) (*mcp.CallToolResult, HealthOutput, error) {
	h := s.deps.Store.Health(ctx)
	out := HealthOutput{
		Backend:       h.Backend,
		Healthy:       h.Healthy,
		LatencyMS:     float64(h.Latency.Microseconds()) / 1000,
		Error:         h.Error,
		Collection:    s.deps.Collection,
		Collections:   h.Collections,
		Embedder:      s.deps.Embedder.ModelName(),
		Dimensions:    s.deps.Embedder.Dimensions(),
		EmbedderReady: s.deps.Embedder.Available(ctx),
	}
	if h.Healthy {
		n, err := s.deps.Store.Count(ctx, s.deps.Collection)
		if err != nil && !errors.Is(err, store.ErrCollectionNotFound) {
			return nil, HealthOutput{}, toolError(err)
		}
		out.Points = n
	}
	if s.deps.Keyword != nil {
		if n, err := s.deps.Keyword.Count(); err == nil {
			out.KeywordChunks = n
		}
	}
	return nil, out, nil
}
