package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config when config.yaml changes on disk and
// notifies subscribers with the freshly validated snapshot. Invalid
// edits are ignored; the previous config stays in effect.
type Watcher struct {
	workspace string
	fsw       *fsnotify.Watcher
	onChange  []func(*Config)
}

// NewWatcher creates a watcher for the workspace config file.
func NewWatcher(workspace string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: editors replace files by
	// rename, which drops a direct file watch.
	if err := fsw.Add(filepath.Dir(Path(workspace))); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{workspace: workspace, fsw: fsw}, nil
}

// OnChange registers a callback invoked after each successful reload.
// Register all callbacks before calling Run.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.onChange = append(w.onChange, fn)
}

// Run blocks until ctx is done, reloading on relevant events.
// Writes are debounced since editors emit bursts of events per save.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()

	target := Path(w.workspace)
	var debounce *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Name != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			cfg, err := Load(w.workspace)
			if err != nil {
				continue
			}
			for _, fn := range w.onChange {
				fn(cfg)
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}
