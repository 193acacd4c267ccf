package depgraph

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Holder when any of its manifest files change.
// Bursts of events are collapsed into a single reload after the debounce
// window.
type Watcher struct {
	holder   *Holder
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger
	onReload func(BuildStats, error)

	stopOnce sync.Once
	done     chan struct{}
}

// NewWatcher watches the directories containing the holder's manifests
func NewWatcher(holder *Holder, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create manifest watcher: %w", err)
	}

	dirs := make(map[string]bool)
	for _, p := range holder.Paths() {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		dir := p
		if !info.IsDir() {
			dir = filepath.Dir(p)
		}
		dirs[dir] = true
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	return &Watcher{
		holder:   holder,
		watcher:  fw,
		debounce: debounce,
		logger:   slog.Default().With("component", "manifest_watcher"),
		done:     make(chan struct{}),
	}, nil
}

// OnReload registers a callback invoked after every reload
func (w *Watcher) OnReload(fn func(BuildStats, error)) {
	w.onReload = fn
}

// Run processes events until ctx is cancelled or Stop is called
func (w *Watcher) Run(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("manifest watcher error", "error", err)
		case <-fire:
			fire = nil
			stats, err := w.holder.Reload(ctx)
			if err != nil {
				w.logger.Warn("manifest reload finished with errors", "error", err)
			} else {
				w.logger.Info("manifests reloaded", "components", stats.Components)
			}
			if w.onReload != nil {
				w.onReload(stats, err)
			}
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	return isManifestFile(event.Name)
}

// Stop closes the underlying watcher
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}
