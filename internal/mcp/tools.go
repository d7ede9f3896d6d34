package mcp

import (
	"time"

	"github.com/Aman-CERP/codeindex/internal/index"
	"github.com/Aman-CERP/codeindex/internal/search"
)

// IndexStartInput defines the input schema for index_start.
type IndexStartInput struct {
	Path string `json:"path,omitempty" jsonschema:"directory to index, relative to the project root; default is the project root"`
}

// RunInput selects a run. An empty run_id means the latest run.
type RunInput struct {
	RunID string `json:"run_id,omitempty" jsonschema:"run id returned by index_start; default is the latest run"`
}

// RunOutput is the state of an indexing run.
type RunOutput struct {
	RunID           string            `json:"run_id"`
	Root            string            `json:"root"`
	Status          string            `json:"status" jsonschema:"idle, running, paused, completed or error"`
	TotalFiles      int               `json:"total_files"`
	ProcessedFiles  int               `json:"processed_files"`
	ChunksCreated   int               `json:"chunks_created"`
	ProgressPct     float64           `json:"progress_pct"`
	CurrentFile     string            `json:"current_file,omitempty"`
	CancelRequested bool              `json:"cancel_requested,omitempty"`
	ElapsedSeconds  float64           `json:"elapsed_seconds"`
	StartedAt       string            `json:"started_at"`
	FinishedAt      string            `json:"finished_at,omitempty"`
	Message         string            `json:"message,omitempty" jsonschema:"run-level error message when status is error"`
	Errors          []index.FileError `json:"errors,omitempty" jsonschema:"per-file failures; the run still completes"`
}

func runOutput(s index.Snapshot) RunOutput {
	out := RunOutput{
		RunID:           s.RunID,
		Root:            s.Root,
		Status:          string(s.Status),
		TotalFiles:      s.TotalFiles,
		ProcessedFiles:  s.ProcessedFiles,
		ChunksCreated:   s.ChunksCreated,
		ProgressPct:     s.Progress() * 100,
		CurrentFile:     s.CurrentFile,
		CancelRequested: s.CancelRequested,
		StartedAt:       s.StartedAt.UTC().Format(time.RFC3339),
		Message:         s.Message,
		Errors:          s.Errors,
	}
	end := time.Now()
	if !s.FinishedAt.IsZero() {
		end = s.FinishedAt
		out.FinishedAt = s.FinishedAt.UTC().Format(time.RFC3339)
	}
	out.ElapsedSeconds = end.Sub(s.StartedAt).Seconds()
	return out
}

// FileInput names one file.
type FileInput struct {
	Path string `json:"path" jsonschema:"file path, absolute or relative to the project root"`
}

// IndexFileOutput reports an incremental re-index.
type IndexFileOutput struct {
	Path   string `json:"path"`
	Chunks int    `json:"chunks" jsonschema:"chunks now stored for the file; 0 if it was removed or skipped"`
}

// RemoveFileOutput reports an incremental removal.
type RemoveFileOutput struct {
	Path    string `json:"path"`
	Removed bool   `json:"removed"`
}

// SearchInput defines the input schema for search.
type SearchInput struct {
	Query    string `json:"query" jsonschema:"natural language or identifier query"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Mode     string `json:"mode,omitempty" jsonschema:"hybrid (default), vector or keyword"`
	Language string `json:"language,omitempty" jsonschema:"only return chunks in this language, e.g. go or python"`
	Path     string `json:"path,omitempty" jsonschema:"only return chunks under this directory or file"`
}

// SearchOutput defines the output schema for search.
type SearchOutput struct {
	Results []search.Result `json:"results"`
}

// HealthInput takes no arguments.
type HealthInput struct{}

// HealthOutput reports the vector store and embedder state.
type HealthOutput struct {
	Backend       string   `json:"backend"`
	Healthy       bool     `json:"healthy"`
	LatencyMS     float64  `json:"latency_ms"`
	Error         string   `json:"error,omitempty"`
	Collection    string   `json:"collection"`
	Collections   []string `json:"collections,omitempty"`
	Points        int      `json:"points"`
	KeywordChunks int      `json:"keyword_chunks,omitempty"`
	Embedder      string   `json:"embedder"`
	Dimensions    int      `json:"dimensions"`
	EmbedderReady bool     `json:"embedder_ready"`
}
