package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloader watches the loaded config files and re-reads them on change,
// notifying subscribers with the fresh snapshot. Quota changes take effect
// without a restart; everything structural (ports, storage backend) still
// needs one.
type Reloader struct {
	mgr      *Manager
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu       sync.Mutex
	onReload []func(*Config)

	OnError func(err error)
}

// NewReloader creates a reloader over the manager's loaded config paths.
func NewReloader(mgr *Manager) (*Reloader, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	r := &Reloader{
		mgr:      mgr,
		watcher:  fsWatcher,
		debounce: 500 * time.Millisecond,
	}

	// Watch the directories, not the files: editors replace files on save
	// and a direct file watch goes stale after the first rename.
	seen := map[string]bool{}
	for _, path := range mgr.GetPaths() {
		dir := filepath.Dir(path)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if err := fsWatcher.Add(dir); err != nil {
			fsWatcher.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	return r, nil
}

// Subscribe registers a callback invoked with each successfully reloaded
// config.
func (r *Reloader) Subscribe(fn func(*Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReload = append(r.onReload, fn)
}

// Run starts the watch loop. Blocks until the context is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	var timerMu sync.Mutex
	var timer *time.Timer

	watched := map[string]bool{}
	for _, p := range r.mgr.GetPaths() {
		if abs, err := filepath.Abs(p); err == nil {
			watched[abs] = true
		}
	}

	for {
		select {
		case <-ctx.Done():
			r.watcher.Close()
			return ctx.Err()

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			absPath, err := filepath.Abs(event.Name)
			if err != nil || !watched[absPath] {
				continue
			}

			// Debounce rapid successive writes.
			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(r.debounce, r.reload)
			timerMu.Unlock()

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			if r.OnError != nil {
				r.OnError(err)
			}
		}
	}
}

func (r *Reloader) reload() {
	if err := r.mgr.Load(); err != nil {
		if r.OnError != nil {
			r.OnError(err)
		}
		return
	}

	cfg := r.mgr.Get()

	r.mu.Lock()
	subs := make([]func(*Config), len(r.onReload))
	copy(subs, r.onReload)
	r.mu.Unlock()

	for _, fn := range subs {
		fn(cfg)
	}
}

// Close stops the underlying watcher.
func (r *Reloader) Close() error {
	return r.watcher.Close()
}
