package definitions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Reloader is notified with the code of a changed definition file
type Reloader func(code string)

// Watcher reloads definitions when files in the definitions directory change.
// Rapid successive writes to one file are collapsed into a single reload.
type Watcher struct {
	dir      string
	watcher  *fsnotify.Watcher
	reload   Reloader
	logger   *zap.Logger
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]time.Time
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher creates a watcher for dir. Every reloader is called per change.
func NewWatcher(dir string, logger *zap.Logger, reloaders ...Reloader) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		dir:     dir,
		watcher: fw,
		reload: func(code string) {
			for _, r := range reloaders {
				r(code)
			}
		},
		logger:   logger,
		debounce: 300 * time.Millisecond,
		pending:  make(map[string]time.Time),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// SetDebounce changes the quiet period before a reload fires
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	w.debounce = d
	w.mu.Unlock()
}

// Start begins watching. It returns immediately.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		if cerr := w.watcher.Close(); cerr != nil {
			w.logger.Warn("Failed to close definitions watcher", zap.Error(cerr))
		}
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.logger.Info("Watching report definitions", zap.String("dir", w.dir))

	go w.run(ctx)
	return nil
}

// Stop ends the watch loop and waits for it to exit
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		w.logger.Error("Failed to close definitions watcher", zap.Error(err))
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Definitions watcher error", zap.Error(err))
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return
	}
	code, ok := CodeFromPath(event.Name)
	if !ok {
		return
	}

	w.mu.Lock()
	w.pending[code] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) flush() {
	now := time.Now()
	var ready []string

	w.mu.Lock()
	for code, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			ready = append(ready, code)
			delete(w.pending, code)
		}
	}
	w.mu.Unlock()

	for _, code := range ready {
		w.logger.Info("Report definition changed", zap.String("code", code))
		w.reload(code)
	}
}
