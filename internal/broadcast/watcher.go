package broadcast

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const heartbeatInterval = 30 * time.Second

// Watcher bridges the task store's out-of-process file writes (detected
// via fsnotify) and its in-process Changed() channel into Hub
// publications, plus a periodic heartbeat so idle SSE connections can
// detect a dead proxy. The debounce-timer-into-signal-channel shape is
// grounded on the fsnotify session-file watcher pattern used elsewhere in
// the ecosystem for coalescing rapid writes.
type Watcher struct {
	hub      *Hub
	path     string
	debounce time.Duration
	logger   *slog.Logger

	storeChanged <-chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher builds a Watcher for the task store file at path. storeChanged
// is the store's own Changed() channel, consumed alongside the filesystem
// watch so in-process writes publish immediately without waiting on
// fsnotify's debounce.
func NewWatcher(hub *Hub, path string, debounce time.Duration, storeChanged <-chan struct{}, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{hub: hub, path: path, debounce: debounce, storeChanged: storeChanged, logger: logger}
}

// Run blocks until ctx is cancelled, triggering a Hub.Recompute whenever
// the file changes (debounced) or the store signals an in-process
// mutation, and a Hub.Heartbeat every 30s.
func (w *Watcher) Run(ctx context.Context) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("broadcast: failed to start file watcher, falling back to store-changed signal only", "error", err)
		w.runWithoutFsnotify(ctx)
		return
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		w.logger.Error("broadcast: failed to watch task store directory", "dir", dir, "error", err)
	}

	signals := make(chan struct{}, 1)
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.storeChanged:
			w.hub.Recompute()

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.scheduleSignal(signals)

		case <-signals:
			w.hub.Recompute()

		case ferr, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("broadcast: file watcher error", "error", ferr)

		case <-heartbeat.C:
			w.hub.Heartbeat()
		}
	}
}

func (w *Watcher) scheduleSignal(signals chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case signals <- struct{}{}:
		default:
		}
	})
}

// runWithoutFsnotify degrades to only the in-process store-changed signal
// and heartbeat, used when the OS file watcher can't be started.
func (w *Watcher) runWithoutFsnotify(ctx context.Context) {
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.storeChanged:
			w.hub.Recompute()
		case <-heartbeat.C:
			w.hub.Heartbeat()
		}
	}
}
