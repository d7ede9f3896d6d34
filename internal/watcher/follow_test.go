package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/codeindex/internal/logging"
)

func TestFollow_ReplaysChangesFromInitial(t *testing.T) {
	// Given: a watcher whose dispatcher waits for the initial step
	root := t.TempDir()
	w, err := NewFSWatcher(root, Options{Debounce: 30 * time.Millisecond}, logging.Discard())
	require.NoError(t, err)
	defer w.Close()
	sink := &recordingSink{}
	d := NewDispatcher(w.Batches(), sink, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Follow(ctx, w, d, func(context.Context) error {
			// When: a file appears before initial returns
			if err := os.WriteFile(filepath.Join(root, "late.go"), []byte("package x\n"), 0o644); err != nil {
				return err
			}
			time.Sleep(150 * time.Millisecond)
			indexed, _ := sink.calls()
			if len(indexed) != 0 {
				return errors.New("dispatched before initial returned")
			}
			return nil
		})
	}()

	// Then: it is indexed once initial is done
	require.Eventually(t, func() bool {
		indexed, _ := sink.calls()
		return len(indexed) == 1 && indexed[0] == "late.go"
	}, 5*time.Second, 20*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestFollow_InitialErrorStops(t *testing.T) {
	root := t.TempDir()
	w, err := NewFSWatcher(root, Options{}, logging.Discard())
	require.NoError(t, err)
	defer w.Close()
	d := NewDispatcher(w.Batches(), &recordingSink{}, logging.Discard())
	boom := errors.New("index failed")

	err = Follow(context.Background(), w, d, func(context.Context) error { return boom })

	assert.ErrorIs(t, err, boom)
}
