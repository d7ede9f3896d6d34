package ui

import (
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/codeindex/internal/index"
)

// speedInterval is the minimum gap between throughput samples.
const speedInterval = 500 * time.Millisecond

// etaSmoothingFactor weighs a fresh ETA against the previous one.
const etaSmoothingFactor = 0.3

// Tracker derives throughput and ETA from successive run snapshots.
// It is safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	snap  index.Snapshot
	now   func() time.Time
	start time.Time

	lastETA time.Duration

	lastProcessed int
	lastSample    time.Time
	speed         float64
	avgSpeed      float64
	peakSpeed     float64
	samples       int
	spark         *Sparkline
}

// TrackerStats is a point-in-time view for rendering.
type TrackerStats struct {
	Snapshot index.Snapshot
	Progress float64
	ETA      time.Duration
	Elapsed  time.Duration
	Speed    float64
	AvgSpeed float64
	Peak     float64
}

// NewTracker creates a tracker.
func NewTracker() *Tracker {
	return newTrackerWithClock(time.Now)
}

func newTrackerWithClock(now func() time.Time) *Tracker {
	t := now()
	return &Tracker{now: now, start: t, lastSample: t, spark: NewSparkline(60)}
}

// Observe records a snapshot.
func (t *Tracker) Observe(snap index.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if snap.RunID != t.snap.RunID {
		t.start = t.now()
		if !snap.StartedAt.IsZero() {
			t.start = snap.StartedAt
		}
		t.lastSample = t.start
		t.lastProcessed, t.speed, t.avgSpeed, t.peakSpeed, t.samples, t.lastETA = 0, 0, 0, 0, 0, 0
		t.spark.Clear()
	}
	t.snap = snap

	now := t.now()
	elapsed := now.Sub(t.lastSample)
	if elapsed < speedInterval {
		return
	}
	if delta := snap.ProcessedFiles - t.lastProcessed; delta > 0 {
		t.speed = float64(delta) / elapsed.Seconds()
		t.samples++
		if t.samples == 1 {
			t.avgSpeed = t.speed
		} else {
			t.avgSpeed = 0.2*t.speed + 0.8*t.avgSpeed
		}
		t.peakSpeed = max(t.peakSpeed, t.speed)
		t.spark.Add(t.speed)
	}
	t.lastProcessed = snap.ProcessedFiles
	t.lastSample = now
}

// Stats returns the current view.
func (t *Tracker) Stats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TrackerStats{
		Snapshot: t.snap,
		Progress: min(t.snap.Progress(), 1),
		ETA:      t.eta(),
		Elapsed:  t.now().Sub(t.start),
		Speed:    t.speed,
		AvgSpeed: t.avgSpeed,
		Peak:     t.peakSpeed,
	}
}

// eta smooths the linear estimate. Must hold t.mu.
func (t *Tracker) eta() time.Duration {
	done, total := t.snap.ProcessedFiles, t.snap.TotalFiles
	if done == 0 || total == 0 || done >= total {
		return 0
	}
	elapsed := t.now().Sub(t.start)
	raw := time.Duration(float64(elapsed)/(float64(done)/float64(total))) - elapsed
	if raw < 0 {
		return 0
	}
	if t.lastETA == 0 {
		t.lastETA = raw
		return raw
	}
	t.lastETA = time.Duration(etaSmoothingFactor*float64(raw) + (1-etaSmoothingFactor)*float64(t.lastETA))
	return t.lastETA
}

// RenderSparkline returns the throughput history.
func (t *Tracker) RenderSparkline(width int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spark.Render(width)
}

// SparklineChars are the eight bar heights, lowest first.
var SparklineChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline is a ring buffer of samples drawn with block characters.
type Sparkline struct {
	samples []float64
	head    int
	count   int
}

// NewSparkline keeps the last size samples.
func NewSparkline(size int) *Sparkline {
	if size <= 0 {
		size = 60
	}
	return &Sparkline{samples: make([]float64, size)}
}

// Add appends a sample, evicting the oldest when full.
func (s *Sparkline) Add(v float64) {
	s.samples[s.head] = v
	s.head = (s.head + 1) % len(s.samples)
	s.count++
}

// Clear drops every sample.
func (s *Sparkline) Clear() {
	clear(s.samples)
	s.head, s.count = 0, 0
}

// recent returns up to n samples, oldest first.
func (s *Sparkline) recent(n int) []float64 {
	have := min(s.count, len(s.samples))
	n = min(n, have)
	out := make([]float64, n)
	for i := range n {
		idx := (s.head - n + i + len(s.samples)) % len(s.samples)
		out[i] = s.samples[idx]
	}
	return out
}

// Render draws the newest width samples scaled to their maximum, padded
// on the right with spaces.
func (s *Sparkline) Render(width int) string {
	if width <= 0 {
		width = len(s.samples)
	}
	vals := s.recent(width)
	peak := 0.0
	for _, v := range vals {
		peak = max(peak, v)
	}

	var sb strings.Builder
	for _, v := range vals {
		idx := 0
		if peak > 0 {
			idx = int(v / peak * float64(len(SparklineChars)-1))
		}
		sb.WriteRune(SparklineChars[max(0, min(idx, len(SparklineChars)-1))])
	}
	sb.WriteString(strings.Repeat(" ", width-len(vals)))
	return sb.String()
}
