package loader

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchSettle is how long a file must stay quiet before it is loaded.
// Writers usually produce several Write events per file.
const watchSettle = 500 * time.Millisecond

// WatchFunc receives the outcome of every load triggered by Watch.
type WatchFunc func(path string, stats *Stats, err error)

// Watch loads supported files as they are created or rewritten in dir
// until ctx is cancelled. Existing files are not loaded.
func (l *Loader) Watch(ctx context.Context, dir string, fn WatchFunc) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	slog.Info("ingest: watching directory", "dir", dir)

	var (
		mu      sync.Mutex
		pending = make(map[string]*time.Timer)
		wg      sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		for path, t := range pending {
			if t.Stop() {
				wg.Done()
			}
			delete(pending, path)
		}
		mu.Unlock()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("ingest: watcher error", "error", err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			path, load := l.watchTarget(ev)
			if !load {
				continue
			}
			mu.Lock()
			if t, ok := pending[path]; ok && t.Stop() {
				t.Reset(watchSettle)
			} else {
				wg.Add(1)
				var t *time.Timer
				t = time.AfterFunc(watchSettle, func() {
					defer wg.Done()
					mu.Lock()
					if pending[path] == t {
						delete(pending, path)
					}
					mu.Unlock()
					if ctx.Err() != nil {
						return
					}
					stats, err := l.LoadFile(ctx, path)
					if err != nil {
						slog.Warn("ingest: watched file failed", "file", filepath.Base(path), "error", err)
					}
					if fn != nil {
						fn(path, stats, err)
					}
				})
				pending[path] = t
			}
			mu.Unlock()
		}
	}
}

// watchTarget reports whether an event should trigger a load.
func (l *Loader) watchTarget(ev fsnotify.Event) (string, bool) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return "", false
	}
	if strings.HasPrefix(filepath.Base(ev.Name), "_") {
		return "", false
	}
	if !l.parsers.Supports(ev.Name) {
		return "", false
	}
	return ev.Name, true
}
