// Package configstore keeps typed configuration records and template bodies
// in memory, loaded from directories and reloaded when files change.
package configstore

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/LotuxPunk/Hermes/internal/core"
)

// Decoder turns a file's content into a config record.
type Decoder[T core.Config] func(data []byte) (T, error)

type entry[T core.Config] struct {
	file   string
	config T
}

// Store holds the configs of one directory keyed by their own id. Readers
// see whole-entry replacements only; one watcher goroutine is the sole writer.
type Store[T core.Config] struct {
	decode    Decoder[T]
	templates *Directory
	logger    zerolog.Logger

	mu      sync.RWMutex
	entries map[string]entry[T] // id -> entry
	files   map[string]string   // file name -> id

	watcher *watcher
}

// Open loads every file of dir and watches it for changes. templates may be
// nil, in which case GetTemplate always fails.
func Open[T core.Config](dir string, decode Decoder[T], templates *Directory, logger zerolog.Logger) (*Store[T], error) {
	s := &Store[T]{
		decode:    decode,
		templates: templates,
		logger:    logger.With().Str("component", "configstore").Logger(),
		entries:   make(map[string]entry[T]),
		files:     make(map[string]string),
	}

	w, err := startWatcher(dir, s, s.logger)
	if err != nil {
		return nil, err
	}
	s.watcher = w
	return s, nil
}

// Get returns the config with the given id.
func (s *Store[T]) Get(id string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", core.ErrConfigNotFound, id)
	}
	return e.config, nil
}

// GetAll returns a snapshot of every config keyed by id.
func (s *Store[T]) GetAll() map[string]T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]T, len(s.entries))
	for id, e := range s.entries {
		out[id] = e.config
	}
	return out
}

// GetTemplate returns the template of the config with the given id.
func (s *Store[T]) GetTemplate(id string) (string, error) {
	cfg, err := s.Get(id)
	if err != nil {
		return "", err
	}
	if s.templates == nil {
		return "", fmt.Errorf("%w: %s", core.ErrTemplateNotFound, id)
	}
	return s.templates.Get(cfg.ConfigID())
}

// Close stops watching the directory.
func (s *Store[T]) Close() error {
	return s.watcher.close()
}

func (s *Store[T]) upsert(name string, data []byte) error {
	cfg, err := s.decode(data)
	if err != nil {
		return err
	}
	id := cfg.ConfigID()

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.files[name]; ok && prev != id {
		// The file now declares another id; drop the stale one.
		if e, ok := s.entries[prev]; ok && e.file == name {
			delete(s.entries, prev)
		}
	}
	if e, ok := s.entries[id]; ok && e.file != name {
		s.logger.Warn().Str("id", id).Str("file", name).Str("previous_file", e.file).Msg("duplicate config id, last write wins")
		delete(s.files, e.file)
	}
	s.entries[id] = entry[T]{file: name, config: cfg}
	s.files[name] = id
	return nil
}

func (s *Store[T]) remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.files[name]
	if !ok {
		return
	}
	delete(s.files, name)
	if e, ok := s.entries[id]; ok && e.file == name {
		delete(s.entries, id)
	}
}
