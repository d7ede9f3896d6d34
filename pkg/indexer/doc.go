// Package indexer is the public entry point to the codeindex engine.
//
// It opens a project from its configuration (.codeindex.yaml, the user
// config and CODEINDEX_* variables), then exposes the run lifecycle and
// the incremental operations a watcher or editor integration needs:
//
//	ix, err := indexer.Open(".", indexer.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer ix.Close()
//
//	h, err := ix.StartIndexing(ctx, "", func(s indexer.Snapshot) {
//	    fmt.Printf("%d/%d files\n", s.ProcessedFiles, s.TotalFiles)
//	})
//	snap, err := ix.Wait(ctx, h)
//
// Only one run is active at a time. Pause takes effect at the next file
// boundary; the file being embedded always finishes. A run that ends
// completed may still carry per-file errors in Snapshot.Errors; only
// StatusError means indexing failed.
//
// # Thread Safety
//
// An Indexer is safe for concurrent use. IndexFile and RemoveFile
// serialize per path, so a watcher may call them while a run is active.
//
// The data directory is locked while an Indexer is open; a second Open on
// the same project fails with ERR_203_DATA_DIR_LOCKED until Close.
package indexer
