package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 250 * time.Millisecond

// Watcher reloads the config file when it changes on disk. Editors
// replace files rather than rewriting them, so the parent directory is
// watched and events are debounced before reloading.
type Watcher struct {
	path     string
	onChange func(*Config)
	fw       *fsnotify.Watcher
}

// Watch starts watching path (DefaultPath when empty) and invokes
// onChange with each successfully reloaded config. Invalid intermediate
// states are logged and skipped. Canceling ctx stops the watcher.
func Watch(ctx context.Context, path string, onChange func(*Config)) (*Watcher, error) {
	if path == "" {
		path = DefaultPath()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{path: path, onChange: onChange, fw: fw}
	go w.loop(ctx)
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			w.fw.Close()
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
			} else {
				timer.Reset(watchDebounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			cfg, err := Load(w.path)
			if err != nil {
				slog.Warn("config reload skipped", "path", w.path, "error", err)
				continue
			}
			w.onChange(cfg)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}
