package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// migrations create the entry table, the external-content FTS5 index, and
// the triggers keeping the two in sync. All statements are idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS memory_entries (
		id TEXT PRIMARY KEY,
		agent_id TEXT,
		text TEXT,
		tags TEXT,
		importance REAL,
		created_at REAL,
		expires_at REAL,
		source TEXT,
		metadata TEXT,
		blob_ref TEXT,
		deleted INTEGER DEFAULT 0,
		embedding TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_agent_created ON memory_entries(agent_id, created_at)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS fts_entries USING fts5(
		text,
		content='memory_entries',
		content_rowid='rowid'
	)`,
	`CREATE TRIGGER IF NOT EXISTS fts_entries_insert AFTER INSERT ON memory_entries BEGIN
		INSERT INTO fts_entries(rowid, text) VALUES (new.rowid, new.text);
	END`,
	`CREATE TRIGGER IF NOT EXISTS fts_entries_delete AFTER DELETE ON memory_entries BEGIN
		INSERT INTO fts_entries(fts_entries, rowid, text) VALUES ('delete', old.rowid, old.text);
	END`,
	`CREATE TRIGGER IF NOT EXISTS fts_entries_update AFTER UPDATE OF text ON memory_entries BEGIN
		INSERT INTO fts_entries(fts_entries, rowid, text) VALUES ('delete', old.rowid, old.text);
		INSERT INTO fts_entries(rowid, text) VALUES (new.rowid, new.text);
	END`,
}

// shard wraps one SQLite database file. mu serializes writers; WAL lets
// readers proceed alongside them.
type shard struct {
	name string
	path string
	db   *sql.DB
	mu   sync.Mutex
}

func newShard(name, path string) (*shard, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open shard %s: %w", name, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set pragmas on shard %s: %w", name, err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)
	sh := &shard{name: name, path: path, db: db}
	if err := sh.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sh, nil
}

func (sh *shard) migrate() error {
	for _, stmt := range migrations {
		if _, err := sh.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate shard %s: %w", sh.name, err)
		}
	}
	return nil
}

// exec runs a write statement, retrying once when SQLite reports the
// database locked. Callers hold sh.mu.
func (sh *shard) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := sh.db.ExecContext(ctx, query, args...)
	if err == nil || !isBusy(err) {
		return res, err
	}
	time.Sleep(50 * time.Millisecond)
	res, err = sh.db.ExecContext(ctx, query, args...)
	if err != nil && isBusy(err) {
		return nil, fmt.Errorf("%w: shard %s: %v", ErrShardLocked, sh.name, err)
	}
	return res, err
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// purgeExpired removes entries whose expiry has passed. TTL enforcement is
// lazy: every reading or mutating operation runs this first.
func (sh *shard) purgeExpired(ctx context.Context) (int64, error) {
	res, err := sh.exec(ctx, "DELETE FROM memory_entries WHERE expires_at IS NOT NULL AND expires_at < ?", nowUnix())
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (sh *shard) purgeLocked(ctx context.Context) error {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, err := sh.purgeExpired(ctx)
	return err
}

// upsert inserts or overwrites an entry by id. The conflict branch updates
// in place so the FTS triggers keep the index in sync.
func (sh *shard) upsert(ctx context.Context, e Entry) error {
	_, err := sh.exec(ctx,
		`INSERT INTO memory_entries (id, agent_id, text, tags, importance, created_at, expires_at, source, metadata, blob_ref, deleted, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			agent_id = excluded.agent_id,
			text = excluded.text,
			tags = excluded.tags,
			importance = excluded.importance,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			source = excluded.source,
			metadata = excluded.metadata,
			blob_ref = excluded.blob_ref,
			deleted = excluded.deleted,
			embedding = excluded.embedding`,
		e.ID, e.AgentID, e.Text, encodeTags(e.Tags), e.Importance, e.CreatedAt,
		nullableFloat(e.ExpiresAt), e.Source, encodeMetadata(e.Metadata), e.BlobRef,
		boolToInt(e.Deleted), encodeEmbedding(e.Embedding),
	)
	if err != nil {
		return fmt.Errorf("upsert entry %s: %w", e.ID, err)
	}
	return nil
}
