package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// HealthReport is what `codeindex health` shows.
type HealthReport struct {
	Project string `json:"project"`
	DataDir string `json:"data_dir"`

	StoreBackend  string        `json:"store_backend"`
	StoreHealthy  bool          `json:"store_healthy"`
	StoreLatency  time.Duration `json:"store_latency"`
	StoreError    string        `json:"store_error,omitempty"`
	Collection    string        `json:"collection"`
	Collections   []string      `json:"collections,omitempty"`
	Points        int           `json:"points"`
	KeywordChunks int           `json:"keyword_chunks,omitempty"`

	EmbedderModel      string `json:"embedder_model"`
	EmbedderDimensions int    `json:"embedder_dimensions"`
	EmbedderReady      bool   `json:"embedder_ready"`
}

// Healthy reports whether both backends answered.
func (h HealthReport) Healthy() bool {
	return h.StoreHealthy && h.EmbedderReady
}

// HealthRenderer prints a HealthReport.
type HealthRenderer struct {
	out    io.Writer
	styles Styles
}

// NewHealthRenderer creates a health renderer.
func NewHealthRenderer(out io.Writer, noColor bool) *HealthRenderer {
	return &HealthRenderer{out: out, styles: GetStyles(noColor || DetectNoColor())}
}

// Render writes the report as text.
func (r *HealthRenderer) Render(h HealthReport) error {
	p := func(format string, args ...any) { _, _ = fmt.Fprintf(r.out, format, args...) }

	p("%s\n\n", r.styles.Header.Render("Index health: "+h.Project))
	p("  Data dir:   %s\n\n", h.DataDir)

	p("  Vector store:\n")
	p("    Backend:    %s\n", h.StoreBackend)
	p("    Status:     %s\n", r.status(h.StoreHealthy, h.StoreError))
	if h.StoreHealthy {
		p("    Latency:    %s\n", h.StoreLatency.Round(time.Microsecond))
	}
	p("    Collection: %s (%d points)\n", h.Collection, h.Points)
	if h.KeywordChunks > 0 {
		p("    Keyword:    %d chunks\n", h.KeywordChunks)
	}
	p("\n  Embedder:\n")
	p("    Model:      %s (%d dims)\n", h.EmbedderModel, h.EmbedderDimensions)
	p("    Status:     %s\n", r.status(h.EmbedderReady, ""))
	return nil
}

// RenderJSON writes the report as indented JSON.
func (r *HealthRenderer) RenderJSON(h HealthReport) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(h)
}

func (r *HealthRenderer) status(ok bool, detail string) string {
	if ok {
		return r.styles.Success.Render("ready")
	}
	if detail != "" {
		return r.styles.Error.Render("error: " + detail)
	}
	return r.styles.Warning.Render("offline")
}
