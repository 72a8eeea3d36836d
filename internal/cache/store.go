// Package cache implements the disk-backed store for downloaded archives,
// intermediate tables and batch outcomes.
//
// Entries live as individual payload files next to an aggregate JSON index,
// cache_metadata.json. The index is rewritten whole on every mutation and on
// every successful Get, which refreshes the entry's last-access stamp.
// Expired entries linger on disk until the sweep that follows the next Set.
//
// The store never surfaces I/O problems to callers: a broken index, an
// unreadable payload or a checksum mismatch all degrade to a cache miss.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Bowen577/KNMI-EPW-Generator/internal/domain"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/observability"
)

const indexFile = "cache_metadata.json"

// DataType selects the payload file extension, mirroring what the entry
// holds: raw archive bytes, a tabular intermediate, or a JSON document.
type DataType string

const (
	TypeBlob   DataType = "blob"
	TypeTable  DataType = "table"
	TypeRecord DataType = "record"
)

func (d DataType) extension() string {
	switch d {
	case TypeTable:
		return ".csv"
	case TypeRecord:
		return ".json"
	default:
		return ".bin"
	}
}

// entryMeta is the indexed bookkeeping for one cached payload.
type entryMeta struct {
	CreatedAt  int64    `json:"created_at"`
	LastAccess int64    `json:"last_access"`
	TTLSeconds int64    `json:"ttl_seconds"`
	DataType   DataType `json:"data_type"`
	Checksum   string   `json:"checksum"`
	SizeBytes  int64    `json:"size_bytes"`
}

// Stats summarizes the store for logs and the CLI.
type Stats struct {
	Entries      int
	TotalBytes   int64
	Expired      int
	UsagePercent float64
}

// Store is a disk key-value cache with TTL expiry and size-bounded LRU
// eviction. All methods are safe for concurrent use.
type Store struct {
	dir        string
	maxBytes   int64
	defaultTTL time.Duration
	logger     *slog.Logger
	metrics    *observability.Metrics

	mu    sync.Mutex
	index map[string]entryMeta
}

// NewStore opens (or creates) a cache directory. An unreadable or corrupt
// index is discarded with a warning rather than reported.
func NewStore(dir string, maxSizeMB int, defaultTTL time.Duration, logger *slog.Logger, metrics *observability.Metrics) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.E(domain.KindCache, "create cache dir", dir, err)
	}
	s := &Store{
		dir:        dir,
		maxBytes:   int64(maxSizeMB) * 1024 * 1024,
		defaultTTL: defaultTTL,
		logger:     logger,
		metrics:    metrics,
		index:      make(map[string]entryMeta),
	}
	s.loadIndex()
	return s, nil
}

// Has reports whether an unexpired, integrity-valid entry exists for key.
// Unlike Get it does not refresh the last-access stamp.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.index[key]
	if !ok || s.expired(meta) {
		return false
	}
	payload, err := os.ReadFile(s.payloadPath(key, meta.DataType))
	if err != nil {
		return false
	}
	return checksum(payload) == meta.Checksum
}

// Get returns the payload for key. Expired entries, unreadable payloads and
// checksum mismatches all come back as a miss. A hit refreshes the entry's
// last-access stamp and rewrites the index.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.index[key]
	if !ok || s.expired(meta) {
		s.metrics.CacheMisses.Inc()
		return nil, false
	}

	payload, err := os.ReadFile(s.payloadPath(key, meta.DataType))
	if err != nil {
		s.logger.Warn("cache payload unreadable", "key", key, "error", err)
		s.metrics.CacheMisses.Inc()
		return nil, false
	}
	if checksum(payload) != meta.Checksum {
		s.logger.Warn("cache integrity check failed, treating as miss", "key", key)
		s.metrics.CacheMisses.Inc()
		return nil, false
	}

	meta.LastAccess = clock.Now().Unix()
	s.index[key] = meta
	s.saveIndexLocked()

	s.metrics.CacheHits.Inc()
	return payload, true
}

// GetJSON decodes a cached JSON entry into v.
func (s *Store) GetJSON(key string, v any) bool {
	payload, ok := s.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(payload, v); err != nil {
		s.logger.Warn("cache entry not decodable", "key", key, "error", err)
		return false
	}
	return true
}

// Set stores payload under key. A non-positive ttl selects the store default.
// After the write, expired entries are swept and the least recently used
// entries are evicted until the store fits its size limit. Write failures
// are logged and swallowed; the entry is simply not cached.
func (s *Store) Set(key string, payload []byte, ttl time.Duration, dt DataType) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.index[key]; ok && old.DataType != dt {
		s.removeFile(key, old.DataType)
	}

	if err := os.WriteFile(s.payloadPath(key, dt), payload, 0o644); err != nil {
		s.logger.Warn("cache write failed", "key", key, "error", err)
		return
	}

	now := clock.Now().Unix()
	s.index[key] = entryMeta{
		CreatedAt:  now,
		LastAccess: now,
		TTLSeconds: int64(ttl / time.Second),
		DataType:   dt,
		Checksum:   checksum(payload),
		SizeBytes:  int64(len(payload)),
	}
	s.saveIndexLocked()

	s.evictExpiredLocked()
	s.evictOverLimitLocked()
	s.metrics.CacheBytes.Set(float64(s.diskUsageLocked()))
}

// SetJSON stores v as an indented JSON entry.
func (s *Store) SetJSON(key string, v any, ttl time.Duration) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		s.logger.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	s.Set(key, payload, ttl, TypeRecord)
}

// Delete removes key and its payload. Deleting an absent key is a no-op.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.index[key]
	if !ok {
		return
	}
	s.removeFile(key, meta.DataType)
	delete(s.index, key)
	s.saveIndexLocked()
	s.metrics.CacheBytes.Set(float64(s.diskUsageLocked()))
}

// Clear removes every payload file and resets the index.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ext := range []string{".bin", ".csv", ".json"} {
		matches, err := filepath.Glob(filepath.Join(s.dir, "*"+ext))
		if err != nil {
			continue
		}
		for _, path := range matches {
			if filepath.Base(path) == indexFile {
				continue
			}
			if err := os.Remove(path); err != nil {
				s.logger.Warn("cache clear: remove failed", "path", path, "error", err)
			}
		}
	}

	s.index = make(map[string]entryMeta)
	s.saveIndexLocked()
	s.metrics.CacheBytes.Set(0)
	s.logger.Info("cache cleared", "dir", s.dir)
}

// Stats reports entry count, on-disk size and how many entries have expired
// but not yet been swept.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Entries: len(s.index)}
	for key, meta := range s.index {
		if s.expired(meta) {
			st.Expired++
		}
		if info, err := os.Stat(s.payloadPath(key, meta.DataType)); err == nil {
			st.TotalBytes += info.Size()
		}
	}
	if s.maxBytes > 0 {
		st.UsagePercent = float64(st.TotalBytes) / float64(s.maxBytes) * 100
	}
	return st
}

func (s *Store) expired(meta entryMeta) bool {
	return clock.Now().Unix()-meta.CreatedAt > meta.TTLSeconds
}

// evictExpiredLocked drops every expired entry and, if anything was removed,
// rewrites the index.
func (s *Store) evictExpiredLocked() {
	removed := 0
	for key, meta := range s.index {
		if !s.expired(meta) {
			continue
		}
		s.removeFile(key, meta.DataType)
		delete(s.index, key)
		removed++
		s.metrics.CacheEvictions.WithLabelValues("expired").Inc()
	}
	if removed > 0 {
		s.logger.Info("removed expired cache entries", "count", removed)
		s.saveIndexLocked()
	}
}

// evictOverLimitLocked removes entries in last-access order, oldest first,
// until the on-disk total fits the size limit.
func (s *Store) evictOverLimitLocked() {
	total := s.diskUsageLocked()
	if total <= s.maxBytes {
		return
	}

	type aged struct {
		key  string
		meta entryMeta
	}
	entries := make([]aged, 0, len(s.index))
	for k, m := range s.index {
		entries = append(entries, aged{k, m})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].meta.LastAccess != entries[j].meta.LastAccess {
			return entries[i].meta.LastAccess < entries[j].meta.LastAccess
		}
		return entries[i].key < entries[j].key
	})

	removed := 0
	for _, e := range entries {
		if total <= s.maxBytes {
			break
		}
		if info, err := os.Stat(s.payloadPath(e.key, e.meta.DataType)); err == nil {
			total -= info.Size()
		}
		s.removeFile(e.key, e.meta.DataType)
		delete(s.index, e.key)
		removed++
		s.metrics.CacheEvictions.WithLabelValues("size").Inc()
	}
	if removed > 0 {
		s.logger.Info("evicted cache entries over size limit",
			"count", removed, "remaining_bytes", total)
		s.saveIndexLocked()
	}
}

// diskUsageLocked totals the stat sizes of indexed payload files. Files that
// vanished underneath the index contribute nothing.
func (s *Store) diskUsageLocked() int64 {
	var total int64
	for key, meta := range s.index {
		if info, err := os.Stat(s.payloadPath(key, meta.DataType)); err == nil {
			total += info.Size()
		}
	}
	return total
}

func (s *Store) loadIndex() {
	data, err := os.ReadFile(filepath.Join(s.dir, indexFile))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("cache index unreadable, starting empty", "error", err)
		}
		return
	}
	if err := json.Unmarshal(data, &s.index); err != nil {
		s.logger.Warn("cache index corrupt, starting empty", "error", err)
		s.index = make(map[string]entryMeta)
	}
}

func (s *Store) saveIndexLocked() {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		s.logger.Warn("cache index encode failed", "error", err)
		return
	}
	if err := os.WriteFile(filepath.Join(s.dir, indexFile), data, 0o644); err != nil {
		s.logger.Warn("cache index write failed", "error", err)
	}
}

func (s *Store) removeFile(key string, dt DataType) {
	if err := os.Remove(s.payloadPath(key, dt)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("cache payload remove failed", "key", key, "error", err)
	}
}

// payloadPath derives a stable filename from the key hash so arbitrary keys
// cannot escape the cache directory.
func (s *Store) payloadPath(key string, dt DataType) string {
	hash := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(hash[:8])+dt.extension())
}

func checksum(payload []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(payload))
}
