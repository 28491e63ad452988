package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the config file and reloads it on change.
type Watcher struct {
	manager      *Manager
	watcher      *fsnotify.Watcher
	onReload     func(*Config)
	debounceTime time.Duration
	mu           sync.Mutex
	pending      bool
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewWatcher creates a watcher for the manager's config file.
func NewWatcher(manager *Manager) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		manager:      manager,
		watcher:      watcher,
		debounceTime: 500 * time.Millisecond,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// OnReload sets the callback invoked with the freshly loaded config.
func (w *Watcher) OnReload(callback func(*Config)) {
	w.onReload = callback
}

// Start begins watching. The config file must already exist; editors
// often replace files on save, so the parent directory is watched and
// events are filtered by name.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.manager.GetConfigPath())
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()

	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.cancel()
	w.wg.Wait()
	return w.watcher.Close()
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	target := w.manager.GetConfigPath()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.mu.Lock()
				w.pending = true
				w.mu.Unlock()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("WARNING: config watcher error: %v", err)
		}
	}
}

func (w *Watcher) debounceLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounceTime)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			w.mu.Lock()
			pending := w.pending
			w.pending = false
			w.mu.Unlock()

			if !pending {
				continue
			}

			cfg, err := w.manager.Load()
			if err != nil {
				log.Printf("WARNING: config reload failed: %v", err)
				continue
			}
			cfg.ApplyEnv()

			if w.onReload != nil {
				w.onReload(cfg)
			}
		}
	}
}
