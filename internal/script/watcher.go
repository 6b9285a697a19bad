package script

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lampyd/internal/debounce"
)

// DefaultReloadDebounce is the quiet period before changed scripts are reloaded
const DefaultReloadDebounce = 300 * time.Millisecond

// Watcher reloads scripts when files in the script directory change.
// Editors often write a file several times in a row, so changes are
// collected and applied once the directory has been quiet for a while.
type Watcher struct {
	dir     string
	engine  *Engine
	watcher *fsnotify.Watcher
	reload  *debounce.Debouncer

	mu    sync.Mutex
	dirty map[string]fsnotify.Op

	// called after each batch, for tests
	onReload func()
}

// NewWatcher creates a watcher for dir
func NewWatcher(dir string, engine *Engine, quiet time.Duration) *Watcher {
	if quiet <= 0 {
		quiet = DefaultReloadDebounce
	}
	w := &Watcher{
		dir:    dir,
		engine: engine,
		dirty:  make(map[string]fsnotify.Op),
	}
	w.reload = debounce.New(quiet, w.flush)
	return w
}

// Start begins watching the directory
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return err
	}
	w.watcher = watcher

	log.Info().Str("dir", w.dir).Msg("Script watcher started")
	go w.watch(ctx)
	return nil
}

// Stop stops watching and drops pending reloads
func (w *Watcher) Stop() error {
	w.reload.Close()
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

func (w *Watcher) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("Script watcher stopped")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Ext(event.Name) != ".lua" {
				continue
			}
			log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Script change detected")

			w.mu.Lock()
			w.dirty[event.Name] |= event.Op
			w.mu.Unlock()
			w.reload.Trigger()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Script watcher error")
		}
	}
}

func (w *Watcher) flush() {
	w.mu.Lock()
	dirty := w.dirty
	w.dirty = make(map[string]fsnotify.Op)
	w.mu.Unlock()

	for path, op := range dirty {
		if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
			w.engine.Remove(path)
			// atomic saves rename a new file into place
			if _, err := os.Stat(path); err != nil {
				continue
			}
		}
		if err := w.engine.LoadFile(path); err != nil {
			log.Error().Err(err).Str("script", path).Msg("Failed to reload pattern script")
		}
	}

	if w.onReload != nil {
		w.onReload()
	}
}
