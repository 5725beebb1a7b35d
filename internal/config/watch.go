package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/opencode-nexus/nexus/internal/event"
	"github.com/opencode-nexus/nexus/internal/logging"
)

// debounceWindow coalesces editor write bursts into one reload.
const debounceWindow = 250 * time.Millisecond

// Watcher reloads the config file on change and emits a ConfigChanged
// application event for each successful reload.
type Watcher struct {
	path string
	bus  *event.Bus

	// OnReload, when set, receives each successfully reloaded config.
	OnReload func(*Config)
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, bus *event.Bus) *Watcher {
	return &Watcher{path: path, bus: bus}
}

// Run watches until ctx is cancelled. The parent directory is watched
// rather than the file itself so atomic replace-by-rename is observed.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	log := logging.With("config-watcher")
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerC = timer.C
			} else {
				timer.Reset(debounceWindow)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("watch error")
		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		logging.Warn().Err(err).Str("path", w.path).Msg("config reload failed")
		return
	}
	logging.Info().Str("path", w.path).Msg("config reloaded")
	if w.OnReload != nil {
		w.OnReload(cfg)
	}
	w.bus.Emit(event.New(event.CategoryApplication, event.ConfigChangedData{
		Key: "config_file",
	}))
}
