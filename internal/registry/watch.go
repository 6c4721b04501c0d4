package registry

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

var zlog = zerolog.Nop()

// SetLogger installs a structured logger for the watcher.
func SetLogger(l zerolog.Logger) { zlog = l.With().Str("component", "registry").Logger() }

// Watch reports artifacts removed or renamed away under dir until ctx is
// done. New model directories are picked up as they appear.
func Watch(ctx context.Context, dir string, onRemove func(Artifact)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		_ = w.Close()
		return err
	}
	if err := addRecursive(w, dir); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				handle(w, dir, ev, onRemove)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				zlog.Warn().Err(err).Str("dir", dir).Msg("watch error")
			}
		}
	}()
	return nil
}

func handle(w *fsnotify.Watcher, dir string, ev fsnotify.Event, onRemove func(Artifact)) {
	switch {
	case ev.Has(fsnotify.Create):
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if err := addRecursive(w, ev.Name); err != nil {
				zlog.Warn().Err(err).Str("path", ev.Name).Msg("watch new directory")
			}
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		id, ok := FileID(dir, ev.Name)
		if !ok {
			return
		}
		zlog.Debug().Str("file_id", id).Str("path", ev.Name).Msg("artifact removed")
		onRemove(Artifact{FileID: id, Path: ev.Name})
	}
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := w.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}
