// Package watch regenerates invoices whenever a watched worklog file
// changes on disk.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce collapses editor write bursts into one regeneration.
const debounce = 500 * time.Millisecond

// Regenerate is called after a watched file settles. It receives the
// path that triggered the rebuild.
type Regenerate func(trigger string)

// Files watches the given worklog files and calls regen (debounced)
// whenever one of them is written, created or renamed. Blocks until
// ctx is cancelled.
func Files(ctx context.Context, paths []string, logger *slog.Logger, regen Regenerate) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the parent directories: editors often replace files via
	// rename, which would drop a direct file watch.
	watched := make(map[string]struct{}, len(paths))
	dirs := make(map[string]struct{})
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		watched[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			return err
		}
	}

	logger.Info("watching worklogs", "files", len(watched))

	var timer *time.Timer
	var timerCh <-chan time.Time
	var trigger string

	schedule := func(path string) {
		trigger = path
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
			return
		}
		// Drain a tick from an already-fired timer before Reset, or
		// one burst would regenerate twice.
		if !timer.Stop() {
			select {
			case <-timerCh:
			default:
			}
		}
		timer.Reset(debounce)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher stopped")
			return nil

		case <-timerCh:
			regen(trigger)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			if _, ok := watched[abs]; !ok {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logger.Debug("worklog changed", "file", abs, "op", ev.Op.String())
			schedule(abs)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)
		}
	}
}
