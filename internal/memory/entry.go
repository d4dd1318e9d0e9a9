package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Entry is one stored memory.
type Entry struct {
	ID         string         `json:"id"`
	AgentID    string         `json:"agent_id"`
	Text       string         `json:"text"`
	Tags       []string       `json:"tags"`
	Importance float64        `json:"importance"`
	CreatedAt  float64        `json:"created_at"`
	ExpiresAt  *float64       `json:"expires_at,omitempty"`
	Source     string         `json:"source,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	BlobRef    string         `json:"blob_ref,omitempty"`
	Deleted    bool           `json:"deleted"`
	Embedding  []float64      `json:"embedding,omitempty"`
}

// AddOptions carry the optional fields of Scope.Add.
type AddOptions struct {
	Tags []string
	// Importance defaults to 0.5 when nil.
	Importance *float64
	// TTL nil uses the store default; zero expires the entry immediately.
	TTL      *time.Duration
	Source   string
	Metadata map[string]any
	// Blob is written to a side file under the blobs directory and
	// referenced from the entry by basename.
	Blob []byte
}

// SearchOptions narrow a full-text search.
type SearchOptions struct {
	Limit int
	// Tags filter matches: exact list equality in strict mode, any-tag
	// overlap otherwise.
	Tags []string
	// MetadataFilter requires each key/value pair to appear in the raw
	// metadata JSON (LIKE %"key"%value%).
	MetadataFilter map[string]string
}

// Patch updates only the fields it carries; nil fields keep their stored
// values.
type Patch struct {
	Text       *string
	Tags       *[]string
	TTL        *time.Duration
	Metadata   map[string]any
	Importance *float64
}

// DumpItem is one entry of a portable dump, annotated with the shard it came
// from so LoadDump can put it back.
type DumpItem struct {
	Entry
	Shard string `json:"shard,omitempty"`
}

const entryColumns = "id, agent_id, text, tags, importance, created_at, expires_at, source, metadata, blob_ref, deleted, embedding"

const searchColumns = "e.id, e.agent_id, e.text, e.tags, e.importance, e.created_at, e.expires_at, e.source, e.metadata, e.blob_ref, e.deleted, e.embedding"

type rowScanner interface {
	Scan(dest ...any) error
}

// scanEntry reads one entryColumns row, tolerating NULLs and malformed JSON
// in the tags, metadata, and embedding columns. Extra scan targets cover
// additional selected columns such as the bm25 rank.
func scanEntry(r rowScanner, extra ...any) (*Entry, error) {
	var (
		id         string
		agentID    sql.NullString
		text       sql.NullString
		tags       sql.NullString
		importance sql.NullFloat64
		createdAt  sql.NullFloat64
		expiresAt  sql.NullFloat64
		source     sql.NullString
		metadata   sql.NullString
		blobRef    sql.NullString
		deleted    sql.NullInt64
		embedding  sql.NullString
	)
	dest := []any{
		&id, &agentID, &text, &tags, &importance, &createdAt, &expiresAt,
		&source, &metadata, &blobRef, &deleted, &embedding,
	}
	dest = append(dest, extra...)
	if err := r.Scan(dest...); err != nil {
		return nil, err
	}
	e := &Entry{
		ID:         id,
		AgentID:    agentID.String,
		Text:       text.String,
		Tags:       decodeTags(tags.String),
		Importance: importance.Float64,
		CreatedAt:  createdAt.Float64,
		Source:     source.String,
		Metadata:   decodeMetadata(metadata.String),
		BlobRef:    blobRef.String,
		Deleted:    deleted.Int64 != 0,
		Embedding:  decodeEmbedding(embedding.String),
	}
	if expiresAt.Valid {
		v := expiresAt.Float64
		e.ExpiresAt = &v
	}
	return e, nil
}

func collectEntries(rows *sql.Rows) ([]Entry, error) {
	out := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeTags(raw string) []string {
	if raw == "" {
		return []string{}
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil || tags == nil {
		return []string{}
	}
	return tags
}

func decodeMetadata(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil || len(m) == 0 {
		return nil
	}
	return m
}

func decodeEmbedding(raw string) []float64 {
	if raw == "" {
		return nil
	}
	var v []float64
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil
	}
	return v
}

func encodeTags(tags []string) string {
	if tags == nil {
		tags = []string{}
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

func encodeMetadata(m map[string]any) string {
	if m == nil {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// encodeEmbedding returns a driver value: NULL for absent vectors.
func encodeEmbedding(v []float64) any {
	if len(v) == 0 {
		return nil
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// nullableFloat returns a driver value: NULL for a nil pointer.
func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
