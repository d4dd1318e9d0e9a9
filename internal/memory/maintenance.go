package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/raeburn-ai/raeburn/internal/events"
)

// PruneExpired removes expired entries from every shard and compacts the
// files. Idempotent; returns how many entries were removed.
func (s *Store) PruneExpired(ctx context.Context) (int64, error) {
	defer s.observe("prune_expired", time.Now())
	shards, err := s.allShards()
	if err != nil {
		return 0, err
	}
	var (
		mu    sync.Mutex
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, sh := range shards {
		sh := sh
		g.Go(func() error {
			sh.mu.Lock()
			defer sh.mu.Unlock()
			n, err := sh.purgeExpired(gctx)
			if err != nil {
				return err
			}
			if _, err := sh.exec(gctx, "VACUUM"); err != nil {
				return fmt.Errorf("vacuum shard %s: %w", sh.name, err)
			}
			mu.Lock()
			total += n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return total, nil
}

// PruneImportance hard-deletes entries whose importance sits below the
// threshold. A non-positive threshold uses DefaultPruneThreshold.
func (s *Store) PruneImportance(ctx context.Context, threshold float64) (int64, error) {
	defer s.observe("prune_importance", time.Now())
	if threshold <= 0 {
		threshold = DefaultPruneThreshold
	}
	shards, err := s.allShards()
	if err != nil {
		return 0, err
	}
	var (
		mu    sync.Mutex
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, sh := range shards {
		sh := sh
		g.Go(func() error {
			sh.mu.Lock()
			defer sh.mu.Unlock()
			res, err := sh.exec(gctx, "DELETE FROM memory_entries WHERE importance < ?", threshold)
			if err != nil {
				return fmt.Errorf("prune importance on shard %s: %w", sh.name, err)
			}
			n, _ := res.RowsAffected()
			mu.Lock()
			total += n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return total, nil
}

// ApplyImportanceDecay multiplies the importance of live entries by the
// configured factor. A no-op unless decay is enabled.
func (s *Store) ApplyImportanceDecay(ctx context.Context) (int64, error) {
	defer s.observe("importance_decay", time.Now())
	if !s.opts.ImportanceDecay {
		return 0, nil
	}
	shards, err := s.allShards()
	if err != nil {
		return 0, err
	}
	var (
		mu    sync.Mutex
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, sh := range shards {
		sh := sh
		g.Go(func() error {
			sh.mu.Lock()
			defer sh.mu.Unlock()
			res, err := sh.exec(gctx, "UPDATE memory_entries SET importance = importance * ? WHERE deleted = 0", s.opts.DecayFactor)
			if err != nil {
				return fmt.Errorf("decay importance on shard %s: %w", sh.name, err)
			}
			n, _ := res.RowsAffected()
			mu.Lock()
			total += n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return total, nil
}

// CleanupOrphanBlobs removes blob files no shard references anymore and
// returns how many it deleted.
func (s *Store) CleanupOrphanBlobs(ctx context.Context) (int64, error) {
	defer s.observe("cleanup_blobs", time.Now())
	shards, err := s.allShards()
	if err != nil {
		return 0, err
	}
	var (
		mu   sync.Mutex
		refs = make(map[string]struct{})
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, sh := range shards {
		sh := sh
		g.Go(func() error {
			rows, err := sh.db.QueryContext(gctx, "SELECT blob_ref FROM memory_entries WHERE blob_ref IS NOT NULL AND blob_ref != ''")
			if err != nil {
				return fmt.Errorf("list blob refs on shard %s: %w", sh.name, err)
			}
			defer func() { _ = rows.Close() }()
			for rows.Next() {
				var ref string
				if err := rows.Scan(&ref); err != nil {
					return err
				}
				mu.Lock()
				refs[filepath.Base(ref)] = struct{}{}
				mu.Unlock()
			}
			return rows.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	files, err := filepath.Glob(filepath.Join(s.blobDir(), "*.bin"))
	if err != nil {
		return 0, fmt.Errorf("list blobs: %w", err)
	}
	var removed int64
	for _, f := range files {
		if _, ok := refs[filepath.Base(f)]; ok {
			continue
		}
		if err := os.Remove(f); err == nil {
			removed++
		}
	}
	return removed, nil
}

// IntegrityCheck runs PRAGMA integrity_check on every shard and reports
// whether all of them came back clean.
func (s *Store) IntegrityCheck(ctx context.Context) (bool, error) {
	defer s.observe("integrity_check", time.Now())
	shards, err := s.allShards()
	if err != nil {
		return false, err
	}
	ok := true
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, sh := range shards {
		sh := sh
		g.Go(func() error {
			rows, err := sh.db.QueryContext(gctx, "PRAGMA integrity_check")
			if err != nil {
				return fmt.Errorf("integrity check shard %s: %w", sh.name, err)
			}
			defer func() { _ = rows.Close() }()
			for rows.Next() {
				var line string
				if err := rows.Scan(&line); err != nil {
					return err
				}
				if line != "ok" {
					mu.Lock()
					ok = false
					mu.Unlock()
				}
			}
			return rows.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}
	return ok, nil
}

// DumpAll exports every entry, deleted ones included, annotated with its
// shard. Items come back grouped by shard name and in creation order within
// each shard.
func (s *Store) DumpAll(ctx context.Context) ([]DumpItem, error) {
	defer s.observe("dump", time.Now())
	shards, err := s.allShards()
	if err != nil {
		return nil, err
	}
	byShard := make(map[string][]DumpItem, len(shards))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, sh := range shards {
		sh := sh
		g.Go(func() error {
			rows, err := sh.db.QueryContext(gctx, "SELECT "+entryColumns+" FROM memory_entries ORDER BY created_at")
			if err != nil {
				return fmt.Errorf("dump shard %s: %w", sh.name, err)
			}
			defer func() { _ = rows.Close() }()
			items := []DumpItem{}
			for rows.Next() {
				e, err := scanEntry(rows)
				if err != nil {
					return fmt.Errorf("scan entry: %w", err)
				}
				items = append(items, DumpItem{Entry: *e, Shard: sh.name})
			}
			if err := rows.Err(); err != nil {
				return err
			}
			mu.Lock()
			byShard[sh.name] = items
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(byShard))
	for name := range byShard {
		names = append(names, name)
	}
	sort.Strings(names)
	out := []DumpItem{}
	for _, name := range names {
		out = append(out, byShard[name]...)
	}
	return out, nil
}

// LoadDump upserts dump items back into the store. Items keep their shard
// when the dump names one; otherwise they route by owner the same way new
// writes do. Missing ids, owners, and timestamps get fresh defaults.
func (s *Store) LoadDump(ctx context.Context, items []DumpItem) (int, error) {
	defer s.observe("load", time.Now())
	groups := make(map[string][]DumpItem)
	for _, item := range items {
		shard := item.Shard
		if shard == "" {
			shard = s.shardForOwner(item.AgentID)
		}
		groups[shard] = append(groups[shard], item)
	}
	var (
		mu    sync.Mutex
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	for name, group := range groups {
		name, group := name, group
		g.Go(func() error {
			sh, err := s.openShard(name)
			if err != nil {
				return err
			}
			sh.mu.Lock()
			defer sh.mu.Unlock()
			if _, err := sh.purgeExpired(gctx); err != nil {
				return err
			}
			for _, item := range group {
				if err := sh.upsert(gctx, normalizeDumpItem(item)); err != nil {
					return err
				}
			}
			mu.Lock()
			total += len(group)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return total, nil
}

func normalizeDumpItem(item DumpItem) Entry {
	e := item.Entry
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.AgentID == "" {
		e.AgentID = globalShard
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = nowUnix()
	}
	return e
}

// Scheduler runs the maintenance cycle (expiry pruning, importance decay,
// blob cleanup, integrity check) on a cron cadence.
type Scheduler struct {
	store *Store
	bus   *events.Bus
	log   *slog.Logger
	cron  *cron.Cron
}

// NewScheduler validates the cron spec (robfig v3 syntax, @every included)
// and prepares the cycle. Call Start to begin firing.
func NewScheduler(store *Store, spec string, bus *events.Bus, log *slog.Logger) (*Scheduler, error) {
	if log == nil {
		log = slog.With("component", "memory")
	}
	s := &Scheduler{store: store, bus: bus, log: log, cron: cron.New()}
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("parse maintenance schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins firing maintenance runs on the configured schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("memory maintenance scheduled")
}

// Stop halts the schedule, waiting for any in-flight run to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce executes a full maintenance cycle immediately.
func (s *Scheduler) RunOnce(ctx context.Context) {
	removed, err := s.store.PruneExpired(ctx)
	s.report("prune_expired", removed, err)
	decayed, err := s.store.ApplyImportanceDecay(ctx)
	s.report("importance_decay", decayed, err)
	blobs, err := s.store.CleanupOrphanBlobs(ctx)
	s.report("cleanup_blobs", blobs, err)
	ok, err := s.store.IntegrityCheck(ctx)
	if err == nil && !ok {
		err = ErrCorrupted
	}
	s.report("integrity_check", 0, err)
}

func (s *Scheduler) report(op string, n int64, err error) {
	if err != nil {
		s.log.Error("memory maintenance step failed", "op", op, "error", err)
	} else {
		s.log.Info("memory maintenance step done", "op", op, "affected", n)
	}
	if s.bus == nil {
		return
	}
	ev := events.Event{Type: events.EventMaintenance, Op: op, Removed: n}
	if err != nil {
		ev.ErrorMsg = err.Error()
	}
	s.bus.Publish(ev)
}
