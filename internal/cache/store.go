// Package cache stores compressed synthesis results on disk, one file per
// text fingerprint, and keeps the entry count bounded by evicting the least
// recently used files.
//
// The file modification time is the LRU clock: it is set when an entry is
// written and refreshed on every hit. Eviction and clear-all may run while a
// synthesis is reading or writing entries; a file that disappears underneath
// an operation is treated as a miss or as already removed.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/milora-tts/internal/telemetry"
	"github.com/book-expert/milora-tts/internal/tts/ttsutils"
	"github.com/dustin/go-humanize"
)

const (
	// Extension is appended to every cache file name.
	Extension = ".mp3"

	// DefaultLimit is the entry limit used when no other source is configured.
	DefaultLimit = 50

	filePermissions = 0o600
	tempPattern     = ".pending-*"
	jobQueueSize    = 8
)

// Static errors.
var (
	ErrCacheDirEmpty = errors.New("cache directory cannot be empty")
	ErrStoreClosed   = errors.New("cache store is closed")
	ErrEmptyPayload  = errors.New("refusing to cache an empty payload")
)

// Key is the fingerprint of a synthesis input.
type Key [sha256.Size]byte

// KeyFor derives the cache key of text. The same text always yields the same key.
func KeyFor(text string) Key {
	return sha256.Sum256([]byte(text))
}

// String returns the lowercase hex form of the key.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// FileName returns the cache file name for the key.
func (k Key) FileName() string {
	return k.String() + Extension
}

// LimitSource supplies the maximum number of entries. It is consulted on every
// eviction decision so that changes take effect without a restart.
type LimitSource interface {
	CacheLimit() int
}

// FixedLimit is a LimitSource with a constant value.
type FixedLimit int

// CacheLimit returns the fixed limit.
func (l FixedLimit) CacheLimit() int {
	return int(l)
}

// Entry describes one cached file.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// ClearResult reports the outcome of an asynchronous clear-all.
type ClearResult struct {
	Deleted int
	Err     error
}

type jobKind int

const (
	jobEvict jobKind = iota + 1
	jobClear
)

type job struct {
	kind  jobKind
	reply chan ClearResult
}

// Store is the on-disk audio cache. Its directory is owned exclusively by the
// Store; other components go through its methods.
type Store struct {
	dir     string
	limits  LimitSource
	log     *logger.Logger
	metrics *telemetry.Instruments

	jobs      chan job
	evictWait chan struct{}
	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates the cache directory if needed and starts the maintenance worker
// that runs eviction and clear-all off the synthesis path.
func New(
	dir string,
	limits LimitSource,
	log *logger.Logger,
	metrics *telemetry.Instruments,
) (*Store, error) {
	if dir == "" {
		return nil, ErrCacheDirEmpty
	}

	dirErr := ttsutils.EnsureDir(dir)
	if dirErr != nil {
		return nil, fmt.Errorf("failed to prepare cache directory: %w", dirErr)
	}

	if limits == nil {
		limits = FixedLimit(DefaultLimit)
	}

	if metrics == nil {
		metrics = telemetry.Noop()
	}

	store := &Store{
		dir:       dir,
		limits:    limits,
		log:       log,
		metrics:   metrics,
		jobs:      make(chan job, jobQueueSize),
		evictWait: make(chan struct{}, 1),
		quit:      make(chan struct{}),
	}

	store.wg.Add(1)

	go store.maintain()

	return store, nil
}

// Dir returns the cache directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file path backing key.
func (s *Store) Path(key Key) string {
	return filepath.Join(s.dir, key.FileName())
}

// Lookup returns the cached payload for key. Missing, empty or unreadable
// entries are reported as a miss. A hit refreshes the entry's timestamp.
func (s *Store) Lookup(key Key) ([]byte, bool) {
	path := s.Path(key)

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("Failed to read cache entry %s: %v", key.FileName(), err)
		}

		s.metrics.RecordCacheLookup(context.Background(), telemetry.ResultMiss)

		return nil, false
	}

	if len(data) == 0 {
		s.metrics.RecordCacheLookup(context.Background(), telemetry.ResultMiss)

		return nil, false
	}

	now := time.Now()

	touchErr := os.Chtimes(path, now, now)
	if touchErr != nil {
		// Evicted between the read and the touch; the bytes are still good.
		s.log.Warn("Failed to refresh cache entry %s: %v", key.FileName(), touchErr)
	}

	s.metrics.RecordCacheLookup(context.Background(), telemetry.ResultHit)

	return data, true
}

// Put writes data for key, replacing any previous entry, and schedules an
// eviction pass. The write goes to a temporary file that is renamed into
// place so readers never observe a partial entry.
func (s *Store) Put(key Key, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyPayload
	}

	tmp, err := os.CreateTemp(s.dir, tempPattern)
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}

	tmpName := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()

	if writeErr != nil || closeErr != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("failed to write cache entry %s: %w", key.FileName(), errors.Join(writeErr, closeErr))
	}

	chmodErr := os.Chmod(tmpName, filePermissions)
	if chmodErr != nil {
		s.log.Warn("Failed to set permissions on cache entry %s: %v", key.FileName(), chmodErr)
	}

	renameErr := os.Rename(tmpName, s.Path(key))
	if renameErr != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("failed to commit cache entry %s: %w", key.FileName(), renameErr)
	}

	s.log.Info("Cached audio %s (%s)", key.FileName(), humanize.Bytes(uint64(len(data))))
	s.RequestEviction()

	return nil
}

// Remove deletes the entry for key if present.
func (s *Store) Remove(key Key) {
	err := os.Remove(s.Path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Warn("Failed to remove cache entry %s: %v", key.FileName(), err)
	}
}

// Entries lists the cache files, oldest first.
func (s *Store) Entries() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache directory: %w", err)
	}

	entries := make([]Entry, 0, len(dirEntries))

	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() || !isCacheFile(dirEntry.Name()) {
			continue
		}

		info, infoErr := dirEntry.Info()
		if infoErr != nil {
			// Removed concurrently.
			continue
		}

		entries = append(entries, Entry{
			Name:    dirEntry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ModTime.Before(entries[j].ModTime)
	})

	return entries, nil
}

// Evict deletes the oldest entries until at most limit remain and returns how
// many were removed. A negative limit is treated as zero.
func (s *Store) Evict(limit int) (int, error) {
	if limit < 0 {
		limit = 0
	}

	entries, err := s.Entries()
	if err != nil {
		return 0, err
	}

	if len(entries) <= limit {
		return 0, nil
	}

	excess := len(entries) - limit
	s.log.Info("Cache holds %d entries, limit %d; removing %d oldest", len(entries), limit, excess)

	removed, err := s.removeEntries(entries[:excess])
	s.metrics.RecordEvicted(context.Background(), removed)

	return removed, err
}

// ClearAll deletes every cache entry and returns how many were removed.
func (s *Store) ClearAll() (int, error) {
	entries, err := s.Entries()
	if err != nil {
		return 0, err
	}

	removed, err := s.removeEntries(entries)
	s.metrics.RecordEvicted(context.Background(), removed)
	s.log.Info("Cleared %d cache entries", removed)

	return removed, err
}

// RequestEviction schedules an eviction pass against the current limit and
// never blocks. Requests made while a pass is already pending are coalesced.
// A full queue can only hold clear-all jobs, which leave nothing to evict, so
// the request is dropped.
func (s *Store) RequestEviction() {
	if s.closed() {
		return
	}

	select {
	case s.evictWait <- struct{}{}:
	default:
		return
	}

	select {
	case s.jobs <- job{kind: jobEvict, reply: nil}:
	default:
		<-s.evictWait
		s.log.Warn("Cache maintenance queue is full, skipping eviction")
	}
}

// ClearAllAsync schedules a clear-all on the maintenance worker. The result is
// delivered on the returned channel, which receives exactly one value.
func (s *Store) ClearAllAsync() <-chan ClearResult {
	reply := make(chan ClearResult, 1)

	if s.closed() {
		reply <- ClearResult{Deleted: 0, Err: ErrStoreClosed}

		return reply
	}

	select {
	case s.jobs <- job{kind: jobClear, reply: reply}:
	case <-s.quit:
		reply <- ClearResult{Deleted: 0, Err: ErrStoreClosed}
	}

	return reply
}

// Close stops the maintenance worker after it finishes the job in hand.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		s.wg.Wait()
	})
}

func (s *Store) closed() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

func (s *Store) maintain() {
	defer s.wg.Done()

	for {
		select {
		case <-s.quit:
			s.drainOnClose()

			return
		case next := <-s.jobs:
			s.run(next)
		}
	}
}

// drainOnClose answers clear requests that were queued before Close so their
// callers are never left waiting.
func (s *Store) drainOnClose() {
	for {
		select {
		case pending := <-s.jobs:
			if pending.reply != nil {
				pending.reply <- ClearResult{Deleted: 0, Err: ErrStoreClosed}
			}
		default:
			return
		}
	}
}

func (s *Store) run(next job) {
	switch next.kind {
	case jobEvict:
		<-s.evictWait

		_, err := s.Evict(s.limits.CacheLimit())
		if err != nil {
			s.log.Error("Cache eviction failed: %v", err)
		}
	case jobClear:
		deleted, err := s.ClearAll()
		next.reply <- ClearResult{Deleted: deleted, Err: err}
	}
}

func (s *Store) removeEntries(entries []Entry) (int, error) {
	var (
		removed int
		errs    []error
	)

	for _, entry := range entries {
		err := os.Remove(filepath.Join(s.dir, entry.Name))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("Failed to delete cache entry %s: %v", entry.Name, err)
			errs = append(errs, err)

			continue
		}

		removed++
	}

	return removed, errors.Join(errs...)
}

func isCacheFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), Extension) && !strings.HasPrefix(name, ".")
}
