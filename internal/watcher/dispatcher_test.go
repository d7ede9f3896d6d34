package watcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/codeindex/internal/logging"
)

func TestDispatcher_RoutesByEventType(t *testing.T) {
	sink := &recordingSink{}
	var seen []BatchResult
	d := NewDispatcher(nil, sink, logging.Discard(), WithOnBatch(func(r BatchResult) { seen = append(seen, r) }))

	res := d.Dispatch(context.Background(), []Event{
		{Type: Created, Path: "a.go"},
		{Type: Changed, Path: "b.go"},
		{Type: Deleted, Path: "c.go"},
	})

	indexed, removed := sink.calls()
	assert.Equal(t, []string{"a.go", "b.go"}, indexed)
	assert.Equal(t, []string{"c.go"}, removed)
	assert.Equal(t, 2, res.Indexed)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 4, res.Chunks)
	require.Len(t, seen, 1)
}

func TestDispatcher_FailuresDoNotStopBatch(t *testing.T) {
	sink := &recordingSink{fail: map[string]error{"bad.go": errors.New("boom")}}
	d := NewDispatcher(nil, sink, logging.Discard())

	res := d.Dispatch(context.Background(), []Event{
		{Type: Changed, Path: "bad.go"},
		{Type: Changed, Path: "good.go"},
	})

	indexed, _ := sink.calls()
	assert.Equal(t, []string{"good.go"}, indexed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, d.Totals().Failed)
	assert.Equal(t, 1, d.Totals().Indexed)
}

func TestDispatcher_RunStopsWhenChannelCloses(t *testing.T) {
	ch := make(chan []Event, 1)
	sink := &recordingSink{}
	d := NewDispatcher(ch, sink, logging.Discard())

	ch <- []Event{{Type: Deleted, Path: "x.go"}}
	close(ch)
	d.Run(context.Background())

	_, removed := sink.calls()
	assert.Equal(t, []string{"x.go"}, removed)
}

func TestDispatcher_CancelledContextSkipsRest(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(nil, sink, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := d.Dispatch(ctx, []Event{{Type: Changed, Path: "a.go"}})

	assert.Equal(t, 0, res.Indexed)
	indexed, _ := sink.calls()
	assert.Empty(t, indexed)
}
