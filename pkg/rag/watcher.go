package rag

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 500 * time.Millisecond

// Watcher keeps the engine in sync with a knowledge directory. Events are
// debounced so editors that write in bursts trigger one re-ingest, not many.
type Watcher struct {
	source  *DirectorySource
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	watching bool
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewWatcher(source *DirectorySource) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		source:  source,
		watcher: watcher,
	}, nil
}

// Start begins watching the knowledge directory.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watching {
		return nil
	}

	if err := w.watcher.Add(w.source.dir); err != nil {
		return err
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.watching = true

	go w.run(ctx)

	slog.Info("Watching knowledge directory", "dir", w.source.dir)
	return nil
}

// Stop halts watching and waits for the event loop to drain.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.watching {
		return nil
	}

	w.cancel()
	err := w.watcher.Close()
	<-w.done
	w.watching = false

	slog.Info("Stopped knowledge watcher", "dir", w.source.dir)
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	pending := make(map[string]fsnotify.Op)
	var pendingMu sync.Mutex
	var debounceTimer *time.Timer

	flush := func() {
		pendingMu.Lock()
		events := pending
		pending = make(map[string]fsnotify.Op)
		pendingMu.Unlock()

		for path, op := range events {
			w.handle(ctx, path, op)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			flush()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}

			pendingMu.Lock()
			pending[event.Name] |= event.Op
			pendingMu.Unlock()

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(watchDebounce, flush)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Knowledge watcher error", "dir", w.source.dir, "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, path string, op fsnotify.Op) {
	if !w.source.extractors.Supports(path) {
		return
	}

	switch {
	case op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// A rename may be a move within the directory; the create event for
		// the new name re-ingests it separately.
		if err := w.source.removeFile(ctx, path); err != nil {
			slog.Warn("Failed to remove document", "path", path, "error", err)
		}

	case op&(fsnotify.Create|fsnotify.Write) != 0:
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			return
		}
		if err := w.source.ingestFile(ctx, path); err != nil {
			slog.Warn("Failed to re-ingest document", "path", path, "error", err)
		}
	}
}
