package configstore

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/LotuxPunk/Hermes/internal/core"
)

// Directory holds template bodies keyed by file name without extension.
type Directory struct {
	mu    sync.RWMutex
	files map[string]string

	watcher *watcher
}

// OpenDirectory loads every file of dir and watches it for changes.
func OpenDirectory(dir string, logger zerolog.Logger) (*Directory, error) {
	d := &Directory{files: make(map[string]string)}

	w, err := startWatcher(dir, d, logger.With().Str("component", "templates").Logger())
	if err != nil {
		return nil, err
	}
	d.watcher = w
	return d, nil
}

// Get returns the template stored under name.
func (d *Directory) Get(name string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	body, ok := d.files[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", core.ErrTemplateNotFound, name)
	}
	return body, nil
}

// Names returns the sorted template names.
func (d *Directory) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.files))
	for name := range d.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close stops watching the directory.
func (d *Directory) Close() error {
	return d.watcher.close()
}

func (d *Directory) upsert(name string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.files[stem(name)] = string(data)
	return nil
}

func (d *Directory) remove(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.files, stem(name))
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
