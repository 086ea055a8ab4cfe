package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/oliverbravery/3D-Print-Sentinel/logging"
)

// DefaultReloadDelay is how long the file must stay unchanged before it is re-read.
const DefaultReloadDelay = 250 * time.Millisecond

// A Watcher re-reads a config file whenever it changes and hands every valid result to a
// callback. Invalid edits are logged and skipped.
type Watcher struct {
	path      string
	watcher   *fsnotify.Watcher
	debounced func(f func())
	onChange  func(*Config)
	logger    logging.Logger
}

// NewWatcher watches path. The directory is watched rather than the file so that editors which
// replace the file on save are followed.
func NewWatcher(path string, reloadDelay time.Duration, onChange func(*Config), logger logging.Logger) (*Watcher, error) {
	if reloadDelay <= 0 {
		reloadDelay = DefaultReloadDelay
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating file watcher")
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		//nolint:errcheck
		fsw.Close()
		return nil, errors.Wrapf(err, "watching %s", path)
	}
	return &Watcher{
		path:      abs,
		watcher:   fsw,
		debounced: debounce.New(reloadDelay),
		onChange:  onChange,
		logger:    logger,
	}, nil
}

// Run delivers changes until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.debounced(func() { w.reload(ctx) })
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warnw("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	cfg, err := Read(ctx, w.path, w.logger)
	if err != nil {
		w.logger.Warnw("ignoring invalid config change", "path", w.path, "error", err)
		return
	}
	w.logger.Infow("config file changed", "path", w.path)
	w.onChange(cfg)
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
