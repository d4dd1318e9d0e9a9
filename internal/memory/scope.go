package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Add stores a new entry for the scope owner and returns it.
func (sc *Scope) Add(ctx context.Context, text string, opts AddOptions) (*Entry, error) {
	defer sc.store.observe("add", time.Now())
	sh, err := sc.store.openShard(sc.shard)
	if err != nil {
		return nil, err
	}
	blobRef := ""
	if opts.Blob != nil {
		if blobRef, err = sc.store.writeBlob(opts.Blob); err != nil {
			return nil, err
		}
	}
	now := nowUnix()
	entry := &Entry{
		ID:         uuid.NewString(),
		AgentID:    sc.owner,
		Text:       text,
		Tags:       append([]string{}, opts.Tags...),
		Importance: 0.5,
		CreatedAt:  now,
		Source:     opts.Source,
		Metadata:   opts.Metadata,
		BlobRef:    blobRef,
	}
	if opts.Importance != nil {
		entry.Importance = *opts.Importance
	}
	switch {
	case opts.TTL != nil:
		v := now + opts.TTL.Seconds()
		entry.ExpiresAt = &v
	case sc.store.opts.DefaultTTL > 0:
		v := now + sc.store.opts.DefaultTTL.Seconds()
		entry.ExpiresAt = &v
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, err := sh.purgeExpired(ctx); err != nil {
		return nil, err
	}
	if _, err := sh.exec(ctx,
		`INSERT INTO memory_entries (id, agent_id, text, tags, importance, created_at, expires_at, source, metadata, blob_ref, deleted, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		entry.ID, entry.AgentID, entry.Text, encodeTags(entry.Tags), entry.Importance,
		entry.CreatedAt, nullableFloat(entry.ExpiresAt), entry.Source,
		encodeMetadata(entry.Metadata), entry.BlobRef, encodeEmbedding(entry.Embedding),
	); err != nil {
		return nil, fmt.Errorf("insert entry: %w", err)
	}
	return entry, nil
}

// Get returns the owner's most recent entries, newest first. A non-positive
// limit falls back to the configured max.
func (sc *Scope) Get(ctx context.Context, limit int, includeDeleted bool) ([]Entry, error) {
	defer sc.store.observe("get", time.Now())
	sh, err := sc.store.openShard(sc.shard)
	if err != nil {
		return nil, err
	}
	if err := sh.purgeLocked(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = sc.store.opts.MaxResults
	}
	q := "SELECT " + entryColumns + " FROM memory_entries WHERE agent_id = ?"
	if !includeDeleted {
		q += " AND deleted = 0"
	}
	q += " ORDER BY created_at DESC LIMIT ?"
	rows, err := sh.db.QueryContext(ctx, q, sc.owner, limit)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectEntries(rows)
}

// Search runs an FTS5 MATCH over the owner's live entries, best match first
// (bm25 ascending, then newest). Tag filtering is exact-list in strict mode
// and any-overlap otherwise; metadata filters match against the raw JSON.
// The query must be a valid FTS5 MATCH expression.
func (sc *Scope) Search(ctx context.Context, query string, opts SearchOptions) ([]Entry, error) {
	defer sc.store.observe("search", time.Now())
	sh, err := sc.store.openShard(sc.shard)
	if err != nil {
		return nil, err
	}
	if err := sh.purgeLocked(ctx); err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = sc.store.opts.MaxResults
	}

	q := "SELECT " + searchColumns + ", bm25(fts_entries) AS bm25_score" +
		" FROM fts_entries JOIN memory_entries e ON fts_entries.rowid = e.rowid" +
		" WHERE fts_entries MATCH ? AND e.agent_id = ? AND e.deleted = 0"
	args := []any{query, sc.owner}
	var overlap []string
	if len(opts.Tags) > 0 {
		if sc.store.opts.QueryStrict {
			q += " AND e.tags = ?"
			args = append(args, encodeTags(opts.Tags))
		} else {
			overlap = opts.Tags
		}
	}
	keys := make([]string, 0, len(opts.MetadataFilter))
	for k := range opts.MetadataFilter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q += " AND e.metadata LIKE ?"
		args = append(args, `%"`+k+`"%`+opts.MetadataFilter[k]+`%`)
	}
	q += " ORDER BY bm25_score ASC, e.created_at DESC"
	// Overlap filtering happens row-side, so the limit cannot be pushed
	// into SQL; the scan below stops as soon as it has enough.
	if overlap == nil {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := sh.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Entry{}
	for rows.Next() {
		var rank float64
		e, err := scanEntry(rows, &rank)
		if err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		if overlap != nil && !tagsOverlap(e.Tags, overlap) {
			continue
		}
		out = append(out, *e)
		if len(out) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ByTag returns recent live entries carrying the tag, newest first.
func (sc *Scope) ByTag(ctx context.Context, tag string, limit int) ([]Entry, error) {
	defer sc.store.observe("by_tag", time.Now())
	sh, err := sc.store.openShard(sc.shard)
	if err != nil {
		return nil, err
	}
	if err := sh.purgeLocked(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = sc.store.opts.MaxResults
	}
	rows, err := sh.db.QueryContext(ctx,
		"SELECT "+entryColumns+" FROM memory_entries WHERE agent_id = ? AND deleted = 0 ORDER BY created_at DESC",
		sc.owner)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if !tagsOverlap(e.Tags, []string{tag}) {
			continue
		}
		out = append(out, *e)
		if len(out) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRelevant returns the entries most relevant to a query, blending match
// confidence with recency and importance:
//
//	score = 0.5·match + 0.3·(1/(1+hours_since_created)) + 0.2·importance
//
// The match component is constant 1.0 across the candidate set, which Search
// already ordered best-first. Candidates come from Search when the query is
// non-empty and from Get otherwise, three times oversampled, then de-duped
// by (text, tags) keeping the most recent copy.
func (sc *Scope) GetRelevant(ctx context.Context, query string, tags []string, limit int) ([]Entry, error) {
	defer sc.store.observe("get_relevant", time.Now())
	if limit <= 0 {
		limit = sc.store.opts.MaxResults
	}
	var (
		cands []Entry
		err   error
	)
	if strings.TrimSpace(query) != "" {
		cands, err = sc.Search(ctx, query, SearchOptions{Limit: limit * 3, Tags: tags})
	} else {
		cands, err = sc.Get(ctx, limit*3, false)
	}
	if err != nil {
		return nil, err
	}
	now := nowUnix()
	sort.SliceStable(cands, func(i, j int) bool {
		return relevance(cands[i], now) > relevance(cands[j], now)
	})
	out := dedupeByContent(cands)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func relevance(e Entry, now float64) float64 {
	hours := (now - e.CreatedAt) / 3600
	if hours < 0 {
		hours = 0
	}
	recency := 1 / (1 + hours)
	return 0.5*1.0 + 0.3*recency + 0.2*e.Importance
}

// dedupeByContent drops entries repeating an earlier (text, tags) pair,
// keeping the most recently created copy at its own rank.
func dedupeByContent(entries []Entry) []Entry {
	newest := make(map[string]Entry, len(entries))
	for _, e := range entries {
		k := contentKey(e)
		if cur, ok := newest[k]; !ok || e.CreatedAt > cur.CreatedAt {
			newest[k] = e
		}
	}
	out := make([]Entry, 0, len(newest))
	for _, e := range entries {
		if newest[contentKey(e)].ID == e.ID {
			out = append(out, e)
		}
	}
	return out
}

func contentKey(e Entry) string {
	return e.Text + "\x00" + strings.Join(e.Tags, "\x1f")
}

func tagsOverlap(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// Update rewrites the entry's patched fields. Unknown ids are a no-op.
func (sc *Scope) Update(ctx context.Context, id string, patch Patch) error {
	defer sc.store.observe("update", time.Now())
	sh, err := sc.store.openShard(sc.shard)
	if err != nil {
		return err
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, err := sh.purgeExpired(ctx); err != nil {
		return err
	}
	row := sh.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM memory_entries WHERE id = ?", id)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read entry: %w", err)
	}
	if patch.Text != nil {
		entry.Text = *patch.Text
	}
	if patch.Tags != nil {
		entry.Tags = append([]string{}, (*patch.Tags)...)
	}
	if patch.TTL != nil {
		v := nowUnix() + patch.TTL.Seconds()
		entry.ExpiresAt = &v
	}
	if patch.Metadata != nil {
		entry.Metadata = patch.Metadata
	}
	if patch.Importance != nil {
		entry.Importance = *patch.Importance
	}
	if _, err := sh.exec(ctx,
		"UPDATE memory_entries SET text = ?, tags = ?, importance = ?, expires_at = ?, metadata = ? WHERE id = ?",
		entry.Text, encodeTags(entry.Tags), entry.Importance,
		nullableFloat(entry.ExpiresAt), encodeMetadata(entry.Metadata), id,
	); err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	return nil
}

// SoftDelete hides the entry from reads without removing the row.
func (sc *Scope) SoftDelete(ctx context.Context, id string) error {
	defer sc.store.observe("soft_delete", time.Now())
	sh, err := sc.store.openShard(sc.shard)
	if err != nil {
		return err
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, err := sh.exec(ctx, "UPDATE memory_entries SET deleted = 1 WHERE id = ?", id); err != nil {
		return fmt.Errorf("soft delete entry: %w", err)
	}
	return nil
}

// Delete hard-removes the entry and its blob side file.
func (sc *Scope) Delete(ctx context.Context, id string) error {
	defer sc.store.observe("delete", time.Now())
	sh, err := sc.store.openShard(sc.shard)
	if err != nil {
		return err
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	var blobRef sql.NullString
	err = sh.db.QueryRowContext(ctx, "SELECT blob_ref FROM memory_entries WHERE id = ?", id).Scan(&blobRef)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read entry: %w", err)
	}
	if _, err := sh.exec(ctx, "DELETE FROM memory_entries WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	sc.store.removeBlob(blobRef.String)
	return nil
}
