package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_Icons(t *testing.T) {
	tests := []struct {
		name  string
		print func(w *Writer)
		want  string
	}{
		{"success", func(w *Writer) { w.Success("Index complete") }, IconSuccess + " Index complete\n"},
		{"successf", func(w *Writer) { w.Successf("%d files", 3) }, IconSuccess + " 3 files\n"},
		{"warning", func(w *Writer) { w.Warning("Embedder not ready") }, IconWarning + " Embedder not ready\n"},
		{"warningf", func(w *Writer) { w.Warningf("%s missing", "x") }, IconWarning + " x missing\n"},
		{"error", func(w *Writer) { w.Error("Failed to connect") }, IconError + " Failed to connect\n"},
		{"errorf", func(w *Writer) { w.Errorf("code %d", 7) }, IconError + " code 7\n"},
		{"status", func(w *Writer) { w.Status(IconInfo, "Checking") }, IconInfo + " Checking\n"},
		{"statusf", func(w *Writer) { w.Statusf(IconInfo, "%s", "Checking") }, IconInfo + " Checking\n"},
		{"indented", func(w *Writer) { w.Status("", "details") }, "  details\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a plain writer
			buf := &bytes.Buffer{}
			w := New(buf, true)

			// When: printing
			tt.print(w)

			// Then: the line is icon, space, message
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestWriter_Code_IndentsEachLine(t *testing.T) {
	// Given: a plain writer
	buf := &bytes.Buffer{}
	w := New(buf, true)

	// When: printing a two-line block
	w.Code("codeindex index\ncodeindex watch\n")

	// Then: each line is indented and the block is padded by blank lines
	lines := strings.Split(buf.String(), "\n")
	assert.Equal(t, []string{"", "    codeindex index", "    codeindex watch", "", ""}, lines)
}

func TestWriter_HintAndNewline(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf, true)

	w.Hint("use --force to overwrite")
	w.Newline()

	assert.Equal(t, "  use --force to overwrite\n\n", buf.String())
}
