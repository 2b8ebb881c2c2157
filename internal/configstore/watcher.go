package configstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// handler applies file events. Calls are never concurrent.
type handler interface {
	upsert(name string, data []byte) error
	remove(name string)
}

// watcher feeds a directory's file events to a handler from one goroutine.
type watcher struct {
	dir     string
	fs      *fsnotify.Watcher
	handler handler
	logger  zerolog.Logger
	done    chan struct{}
}

// startWatcher subscribes to dir, loads every file through h and then
// applies changes in the background. A file that fails to load makes the
// whole call fail.
func startWatcher(dir string, h handler, logger zerolog.Logger) (*watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Subscribe before the initial scan so no change slips between the two.
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &watcher{
		dir:     dir,
		fs:      fw,
		handler: h,
		logger:  logger.With().Str("dir", dir).Logger(),
		done:    make(chan struct{}),
	}

	if err := w.loadAll(); err != nil {
		fw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

func (w *watcher) loadAll() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", w.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && !hidden(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(w.dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if err := w.handler.upsert(name, data); err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	w.logger.Info().Int("files", len(names)).Msg("directory loaded")
	return nil
}

func (w *watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.apply(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("watch error")
		}
	}
}

func (w *watcher) apply(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if hidden(name) {
		return
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.handler.remove(name)
		w.logger.Info().Str("file", name).Msg("file removed")
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if err != nil || !info.Mode().IsRegular() {
			return
		}
		data, err := os.ReadFile(event.Name)
		if err != nil {
			w.logger.Warn().Err(err).Str("file", name).Msg("read failed")
			return
		}
		if err := w.handler.upsert(name, data); err != nil {
			w.logger.Warn().Err(err).Str("file", name).Msg("reload failed, keeping previous version")
			return
		}
		w.logger.Info().Str("file", name).Msg("file loaded")
	}
}

func (w *watcher) close() error {
	err := w.fs.Close()
	<-w.done
	return err
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~")
}
