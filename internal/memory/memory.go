// Package memory implements the sharded SQLite memory store: one database
// file per agent or business shard, FTS5 full-text search over entry text,
// lazy TTL expiry, blob side files, and cross-shard maintenance.
package memory

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raeburn-ai/raeburn/internal/metrics"
)

const (
	globalShard = "global"

	// DefaultMaxResults bounds reads when the caller passes no limit.
	DefaultMaxResults = 5

	// DefaultDecayFactor multiplies importance on each decay pass when no
	// factor is configured.
	DefaultDecayFactor = 0.98

	// DefaultPruneThreshold is the importance floor used by
	// PruneImportance when the caller passes a non-positive threshold.
	DefaultPruneThreshold = 0.2
)

// ErrShardLocked reports a write that still saw SQLITE_BUSY after the
// internal retry.
var ErrShardLocked = errors.New("shard_locked_timeout")

// ErrCorrupted reports a shard whose integrity check came back not-ok.
var ErrCorrupted = errors.New("store_corruption")

// Options configure a Store.
type Options struct {
	// Dir is the store root. Shard databases live under Dir/shards, blob
	// side files under Dir/blobs, and the global shard at Dir/global.db.
	Dir string
	// Sharding routes ForAgent/ForBusiness scopes to per-owner database
	// files. When false every scope shares the global database and
	// isolation relies on the agent_id column alone.
	Sharding bool
	// DefaultTTL applies to entries added without an explicit TTL. Zero
	// means entries never expire by default.
	DefaultTTL time.Duration
	// MaxResults bounds reads when no limit is given.
	MaxResults int
	// QueryStrict makes tag filtering require exact tag-list equality
	// instead of any-tag overlap.
	QueryStrict bool
	// ImportanceDecay enables ApplyImportanceDecay.
	ImportanceDecay bool
	// DecayFactor multiplies importance on each decay pass.
	DecayFactor float64

	Metrics *metrics.Registry
	Logger  *slog.Logger
}

// DefaultOptions returns the stock configuration: data under ./memory,
// sharding enabled, no default TTL, five-result reads, overlap tag matching,
// and importance decay disabled.
func DefaultOptions() Options {
	return Options{
		Dir:         "memory",
		Sharding:    true,
		MaxResults:  DefaultMaxResults,
		DecayFactor: DefaultDecayFactor,
	}
}

// Store manages the shard set and the blob directory. It is safe for
// concurrent use; writes serialize per shard.
type Store struct {
	opts Options
	log  *slog.Logger

	mu     sync.Mutex
	shards map[string]*shard
	closed bool
}

// New prepares the store root and blob directory. Shard databases open
// lazily on first use.
func New(opts Options) (*Store, error) {
	if opts.Dir == "" {
		opts.Dir = "memory"
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	if opts.DecayFactor <= 0 {
		opts.DecayFactor = DefaultDecayFactor
	}
	if opts.Logger == nil {
		opts.Logger = slog.With("component", "memory")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(opts.Dir, "blobs"), 0o755); err != nil {
		return nil, fmt.Errorf("create blobs dir: %w", err)
	}
	s := &Store{
		opts:   opts,
		log:    opts.Logger,
		shards: make(map[string]*shard),
	}
	s.log.Info("memory store ready", "dir", opts.Dir, "sharding", opts.Sharding)
	return s, nil
}

// Close closes every open shard database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	var firstErr error
	for name, sh := range s.shards {
		if err := sh.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close shard %s: %w", name, err)
		}
	}
	s.shards = make(map[string]*shard)
	return firstErr
}

// Scope is a view of the store bound to one owner and its shard. Scopes are
// cheap to construct and carry no state of their own.
type Scope struct {
	store *Store
	owner string
	shard string
}

// ForAgent scopes the store to an agent. An empty id falls back to the
// global scope.
func (s *Store) ForAgent(id string) *Scope {
	if id == "" {
		return s.Global()
	}
	return &Scope{store: s, owner: id, shard: s.shardFor("agent", id)}
}

// ForBusiness scopes the store to a business.
func (s *Store) ForBusiness(id string) *Scope {
	if id == "" {
		return s.Global()
	}
	return &Scope{store: s, owner: id, shard: s.shardFor("business", id)}
}

// Global returns the unscoped view backed by the global database.
func (s *Store) Global() *Scope {
	return &Scope{store: s, owner: globalShard, shard: globalShard}
}

func (s *Store) shardFor(kind, id string) string {
	if !s.opts.Sharding {
		return globalShard
	}
	return kind + "_" + sanitizeShardID(id)
}

func (s *Store) shardForOwner(owner string) string {
	if owner == "" || owner == globalShard {
		return globalShard
	}
	return s.shardFor("agent", owner)
}

// sanitizeShardID keeps owner ids safe to use in shard file names.
func sanitizeShardID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}

func (s *Store) shardPath(name string) string {
	if name == globalShard {
		return filepath.Join(s.opts.Dir, "global.db")
	}
	return filepath.Join(s.opts.Dir, "shards", name+".db")
}

// openShard returns the cached shard engine, opening and migrating the
// database file on first use.
func (s *Store) openShard(name string) (*shard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("memory store is closed")
	}
	if sh, ok := s.shards[name]; ok {
		return sh, nil
	}
	path := s.shardPath(name)
	if name != globalShard {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create shards dir: %w", err)
		}
	}
	sh, err := newShard(name, path)
	if err != nil {
		return nil, err
	}
	s.shards[name] = sh
	s.log.Debug("opened memory shard", "shard", name, "path", path)
	return sh, nil
}

// allShards opens every shard present on disk plus any already open, sorted
// by name. Cross-shard maintenance operations iterate this set.
func (s *Store) allShards() ([]*shard, error) {
	names := make(map[string]struct{})
	s.mu.Lock()
	for name := range s.shards {
		names[name] = struct{}{}
	}
	s.mu.Unlock()
	if _, err := os.Stat(filepath.Join(s.opts.Dir, "global.db")); err == nil {
		names[globalShard] = struct{}{}
	}
	matches, err := filepath.Glob(filepath.Join(s.opts.Dir, "shards", "*.db"))
	if err != nil {
		return nil, fmt.Errorf("list shards: %w", err)
	}
	for _, m := range matches {
		names[strings.TrimSuffix(filepath.Base(m), ".db")] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)
	shards := make([]*shard, 0, len(sorted))
	for _, name := range sorted {
		sh, err := s.openShard(name)
		if err != nil {
			return nil, err
		}
		shards = append(shards, sh)
	}
	return shards, nil
}

func (s *Store) observe(op string, start time.Time) {
	if s.opts.Metrics == nil {
		return
	}
	s.opts.Metrics.MemoryOperations.WithLabelValues(op).Inc()
	s.opts.Metrics.MemoryLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s *Store) blobDir() string {
	return filepath.Join(s.opts.Dir, "blobs")
}

// writeBlob persists data to a side file and returns its basename, which is
// what gets recorded as the entry's blob_ref.
func (s *Store) writeBlob(data []byte) (string, error) {
	name := uuid.NewString() + ".bin"
	if err := os.WriteFile(filepath.Join(s.blobDir(), name), data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return name, nil
}

// ReadBlob returns the contents of a blob referenced by an entry. Full-path
// references from older dumps are reduced to their basename.
func (s *Store) ReadBlob(ref string) ([]byte, error) {
	if ref == "" {
		return nil, errors.New("empty blob ref")
	}
	data, err := os.ReadFile(filepath.Join(s.blobDir(), filepath.Base(ref)))
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

func (s *Store) removeBlob(ref string) {
	if ref == "" {
		return
	}
	_ = os.Remove(filepath.Join(s.blobDir(), filepath.Base(ref)))
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
