// Package watcher turns filesystem notifications into incremental index
// updates.
//
// An FSWatcher watches a project tree with fsnotify and applies the same
// ignore rules as discovery. Its events go through a Debouncer, which keeps
// only the latest event per path and drains a whole burst as one batch once
// the tree has been quiet for the debounce window. A Dispatcher hands each
// batch to a Sink, normally the index coordinator:
//
//	w, err := watcher.NewFSWatcher(root, opts, logger)
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//
//	d := watcher.NewDispatcher(w.Batches(), coordinator, logger)
//	go d.Run(ctx)
//	return w.Run(ctx)
package watcher
