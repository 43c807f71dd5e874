// Package settings persists the user-adjustable engine settings. Today that
// is the audio cache limit; it is stored as a small TOML document and read by
// the cache on every eviction decision.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/milora-tts/internal/tts/ttsutils"
	"github.com/pelletier/go-toml/v2"
)

const (
	filePermissions = 0o600
	tempPattern     = ".settings-*"
)

// ErrNegativeLimit is returned when a cache limit below zero is requested.
var ErrNegativeLimit = errors.New("cache limit must be non-negative")

type document struct {
	CacheLimit int `toml:"cache_limit"`
}

// Store holds the current settings and writes every change through to disk.
// A Store with an empty path keeps its settings in memory only.
type Store struct {
	path string
	log  *logger.Logger

	mu         sync.RWMutex
	cacheLimit int
}

// Open loads settings from path. A missing file yields the defaults; an
// unreadable or malformed file is logged and also yields the defaults.
func Open(path string, defaultLimit int, log *logger.Logger) (*Store, error) {
	if defaultLimit < 0 {
		return nil, fmt.Errorf("%w: default %d", ErrNegativeLimit, defaultLimit)
	}

	store := &Store{
		path:       path,
		log:        log,
		cacheLimit: defaultLimit,
	}

	if path == "" {
		return store, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("Failed to read settings %s, using defaults: %v", path, err)
		}

		return store, nil
	}

	var doc document

	err = toml.Unmarshal(data, &doc)
	if err != nil || doc.CacheLimit < 0 {
		log.Warn("Ignoring invalid settings file %s: %v", path, err)

		return store, nil
	}

	store.cacheLimit = doc.CacheLimit

	return store, nil
}

// CacheLimit returns the maximum number of cached audio entries.
func (s *Store) CacheLimit() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cacheLimit
}

// SetCacheLimit validates and persists a new cache limit. The in-memory value
// only changes once the write succeeded.
func (s *Store) SetCacheLimit(limit int) error {
	if limit < 0 {
		return fmt.Errorf("%w: got %d", ErrNegativeLimit, limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.persist(document{CacheLimit: limit})
	if err != nil {
		return err
	}

	s.cacheLimit = limit
	s.log.Info("Cache limit set to %d", limit)

	return nil
}

func (s *Store) persist(doc document) error {
	if s.path == "" {
		return nil
	}

	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	dir := filepath.Dir(s.path)

	dirErr := ttsutils.EnsureDir(dir)
	if dirErr != nil {
		return fmt.Errorf("failed to prepare settings directory: %w", dirErr)
	}

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("failed to create settings file: %w", err)
	}

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()

	if writeErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write settings: %w", errors.Join(writeErr, closeErr))
	}

	_ = os.Chmod(tmp.Name(), filePermissions)

	renameErr := os.Rename(tmp.Name(), s.path)
	if renameErr != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to save settings: %w", renameErr)
	}

	return nil
}
