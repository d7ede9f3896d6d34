package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Aman-CERP/codeindex/internal/index"
)

// maxShownErrors bounds the error list under the progress bar.
const maxShownErrors = 5

// TUIRenderer draws a live progress panel with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *runModel
	tracker *Tracker
	started bool
	done    chan struct{}
}

// NewTUIRenderer fails when the output is not a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, errors.New("output is not a TTY")
	}
	tracker := NewTracker()
	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   newRunModel(tracker, cfg.ProjectDir, GetStyles(cfg.NoColor)),
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithInput(nil)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// Update implements Renderer.
func (r *TUIRenderer) Update(snap index.Snapshot) {
	r.tracker.Observe(snap)
	r.send(snapshotMsg(snap))
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(snap index.Snapshot) {
	r.tracker.Observe(snap)
	r.send(completeMsg(snap))
}

func (r *TUIRenderer) send(msg tea.Msg) {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Stop implements Renderer. It waits briefly for the final frame.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p == nil {
		return nil
	}
	select {
	case <-r.done:
	case <-time.After(500 * time.Millisecond):
		p.Quit()
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
		}
	}
	return nil
}

type snapshotMsg index.Snapshot
type completeMsg index.Snapshot
type tickMsg time.Time

// runModel is the bubbletea model for one indexing run.
type runModel struct {
	tracker    *Tracker
	spinner    spinner.Model
	bar        progress.Model
	styles     Styles
	projectDir string
	width      int
	final      *index.Snapshot
}

func newRunModel(tracker *Tracker, projectDir string, styles Styles) *runModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Active

	return &runModel{
		tracker:    tracker,
		spinner:    s,
		bar:        progress.New(progress.WithSolidFill(ColorAccent), progress.WithWidth(50), progress.WithoutPercentage()),
		styles:     styles,
		projectDir: projectDir,
		width:      80,
	}
}

// Init implements tea.Model.
func (m *runModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m *runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(20, msg.Width-20)
	case completeMsg:
		snap := index.Snapshot(msg)
		m.final = &snap
		return m, tea.Quit
	case snapshotMsg:
		return m, nil
	case tickMsg:
		return m, tickCmd()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *runModel) View() string {
	if m.final != nil {
		return m.renderFinal(*m.final)
	}

	stats := m.tracker.Stats()
	snap := stats.Snapshot
	width := max(40, m.width-4)

	title := "codeindex"
	if m.projectDir != "" {
		title += " • " + m.projectDir
	}

	var lines []string
	lines = append(lines, m.styles.Header.Render(title))
	lines = append(lines, m.statusLine(snap))

	if snap.TotalFiles == 0 {
		lines = append(lines, m.styles.Dim.Render("discovering files..."))
	} else {
		lines = append(lines, fmt.Sprintf("%s  %s", m.bar.ViewAs(stats.Progress),
			m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100))))
		lines = append(lines, m.styles.Label.Render(fmt.Sprintf("%d / %d files  •  %d chunks",
			snap.ProcessedFiles, snap.TotalFiles, snap.ChunksCreated)))
	}

	speed := fmt.Sprintf("%.1f files/s", stats.Speed)
	if stats.AvgSpeed > 0 {
		speed += fmt.Sprintf(" (avg %.1f, peak %.1f)", stats.AvgSpeed, stats.Peak)
	}
	if stats.ETA > 0 {
		speed += "  •  ETA " + formatDuration(stats.ETA)
	}
	lines = append(lines, m.styles.Label.Render(speed))
	lines = append(lines, m.styles.Success.Render(m.tracker.RenderSparkline(width-12))+" "+m.styles.Dim.Render("throughput"))

	if snap.CurrentFile != "" {
		lines = append(lines, m.styles.Dim.Render(truncateFilePath(snap.CurrentFile, width-2)))
	}
	lines = append(lines, m.renderErrors(snap.Errors, width)...)

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1).
		Width(width)
	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

func (m *runModel) statusLine(snap index.Snapshot) string {
	switch {
	case snap.CancelRequested:
		return m.styles.Warning.Render(m.spinner.View() + " cancelling")
	case snap.Status == index.StatusPaused:
		return m.styles.Warning.Render("⏸ paused")
	default:
		return m.styles.Active.Render(m.spinner.View() + " indexing")
	}
}

func (m *runModel) renderErrors(errs []index.FileError, width int) []string {
	if len(errs) == 0 {
		return nil
	}
	lines := []string{m.styles.Error.Render(fmt.Sprintf("✗ %d errors", len(errs)))}
	for _, e := range errs[max(0, len(errs)-maxShownErrors):] {
		lines = append(lines, m.styles.Dim.Render(truncateFilePath(e.FilePath, width/3)+": ")+
			m.styles.Error.Render(truncate(e.Message, width-width/3-4)))
	}
	return lines
}

func (m *runModel) renderFinal(snap index.Snapshot) string {
	var header string
	switch snap.Status {
	case index.StatusError:
		header = m.styles.Error.Render("✗ Indexing failed: " + snap.Message)
	case index.StatusIdle:
		header = m.styles.Warning.Render("Indexing cancelled")
	default:
		header = m.styles.Success.Render("✓ Indexing complete")
	}

	lines := []string{
		header,
		"",
		fmt.Sprintf("%s    %s", m.styles.Label.Render("Files:"), m.styles.Active.Render(fmt.Sprintf("%d / %d", snap.ProcessedFiles, snap.TotalFiles))),
		fmt.Sprintf("%s   %s", m.styles.Label.Render("Chunks:"), m.styles.Active.Render(fmt.Sprintf("%d", snap.ChunksCreated))),
	}
	if !snap.FinishedAt.IsZero() {
		lines = append(lines, fmt.Sprintf("%s %s", m.styles.Label.Render("Duration:"),
			m.styles.Active.Render(formatDuration(snap.FinishedAt.Sub(snap.StartedAt)))))
	}
	lines = append(lines, m.renderErrors(snap.Errors, max(40, m.width-8))...)

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorAccent)).
		Padding(1, 2).
		Width(max(40, m.width-4))
	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	secs := int(d.Round(time.Second) / time.Second)
	h, m, sec := secs/3600, secs/60%60, secs%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0 && sec > 0:
		return fmt.Sprintf("%dm %ds", m, sec)
	case m > 0:
		return fmt.Sprintf("%dm", m)
	default:
		return fmt.Sprintf("%ds", sec)
	}
}

func truncate(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// truncateFilePath keeps the file name and as much of its directory as fits.
func truncateFilePath(path string, maxLen int) string {
	if path == "" || len(path) <= maxLen {
		return path
	}
	if maxLen < 4 {
		return "..."
	}
	i := strings.LastIndex(path, "/")
	name := path[i+1:]
	if i < 0 || len(name)+4 > maxLen {
		return "..." + path[len(path)-maxLen+3:]
	}
	dir := path[:i]
	keep := maxLen - len(name) - 4
	if keep <= 0 {
		return ".../" + name
	}
	return "..." + dir[len(dir)-keep:] + "/" + name
}

var _ Renderer = (*TUIRenderer)(nil)
