package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/raeburn-ai/raeburn/internal/memory"
)

// MemoryAddRequest is the JSON body for the POST /v1/memory endpoint. Blob
// carries binary payloads base64-encoded; it is stored in a side file and
// referenced from the entry.
type MemoryAddRequest struct {
	Agent      string         `json:"agent,omitempty"`
	Business   string         `json:"business,omitempty"`
	Text       string         `json:"text"`
	Tags       []string       `json:"tags,omitempty"`
	Importance *float64       `json:"importance,omitempty"`
	TTLSeconds *float64       `json:"ttl_seconds,omitempty"`
	Source     string         `json:"source,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Blob       []byte         `json:"blob,omitempty"`
}

// scopeFor picks the shard view for a request: agent beats business beats
// global.
func scopeFor(s *memory.Store, agent, business string) *memory.Scope {
	if agent != "" {
		return s.ForAgent(agent)
	}
	if business != "" {
		return s.ForBusiness(business)
	}
	return s.Global()
}

// MemoryAddHandler stores one memory entry and returns it.
func MemoryAddHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MemoryAddRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			jsonError(w, "text required", http.StatusBadRequest)
			return
		}
		opts := memory.AddOptions{
			Tags:       req.Tags,
			Importance: req.Importance,
			Source:     req.Source,
			Metadata:   req.Metadata,
			Blob:       req.Blob,
		}
		if req.TTLSeconds != nil {
			ttl := time.Duration(*req.TTLSeconds * float64(time.Second))
			opts.TTL = &ttl
		}
		entry, err := scopeFor(d.Store, req.Agent, req.Business).Add(r.Context(), req.Text, opts)
		if err != nil {
			jsonError(w, err.Error(), statusFor(err, http.StatusInternalServerError))
			return
		}
		writeJSON(w, entry)
	}
}

// MemoryListResponse is the JSON body returned by the memory read endpoints.
type MemoryListResponse struct {
	Count   int            `json:"count"`
	Entries []memory.Entry `json:"entries"`
}

// MemoryListHandler reads entries from one scope, most recent first. A `q`
// parameter switches to full-text search, a `tag` parameter to tag lookup.
func MemoryListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qs := r.URL.Query()
		sc := scopeFor(d.Store, qs.Get("agent"), qs.Get("business"))
		limit := queryInt(qs.Get("limit"))

		var (
			entries []memory.Entry
			err     error
		)
		switch {
		case qs.Get("q") != "":
			entries, err = sc.Search(r.Context(), qs.Get("q"), memory.SearchOptions{
				Limit: limit,
				Tags:  queryList(qs.Get("tags")),
			})
		case qs.Get("tag") != "":
			entries, err = sc.ByTag(r.Context(), qs.Get("tag"), limit)
		default:
			entries, err = sc.Get(r.Context(), limit, queryBool(qs.Get("include_deleted")))
		}
		if err != nil {
			jsonError(w, err.Error(), statusFor(err, http.StatusInternalServerError))
			return
		}
		writeJSON(w, MemoryListResponse{Count: len(entries), Entries: entries})
	}
}

// MemoryRelevantHandler returns the entries most relevant to a query,
// ranked by the blended match/recency/importance score.
func MemoryRelevantHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qs := r.URL.Query()
		query := qs.Get("query")
		if query == "" {
			query = qs.Get("q")
		}
		sc := scopeFor(d.Store, qs.Get("agent"), qs.Get("business"))
		entries, err := sc.GetRelevant(r.Context(), query, queryList(qs.Get("tags")), queryInt(qs.Get("limit")))
		if err != nil {
			jsonError(w, err.Error(), statusFor(err, http.StatusInternalServerError))
			return
		}
		writeJSON(w, MemoryListResponse{Count: len(entries), Entries: entries})
	}
}

// MemoryDeleteHandler removes one entry. The default is a soft delete that
// hides the entry from reads; `?hard=1` removes the row and its blob.
// Deletes are idempotent: unknown ids succeed.
func MemoryDeleteHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qs := r.URL.Query()
		id := chi.URLParam(r, "id")
		sc := scopeFor(d.Store, qs.Get("agent"), qs.Get("business"))
		hard := queryBool(qs.Get("hard"))

		var err error
		if hard {
			err = sc.Delete(r.Context(), id)
		} else {
			err = sc.SoftDelete(r.Context(), id)
		}
		if err != nil {
			jsonError(w, err.Error(), statusFor(err, http.StatusInternalServerError))
			return
		}
		writeJSON(w, map[string]any{"deleted": id, "hard": hard})
	}
}

// MemoryDumpResponse is the JSON body returned by GET /v1/memory/dump and
// accepted by POST /v1/memory/load.
type MemoryDumpResponse struct {
	Count int               `json:"count"`
	Items []memory.DumpItem `json:"items"`
}

// MemoryDumpHandler exports every live entry across all shards.
func MemoryDumpHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := d.Store.DumpAll(r.Context())
		if err != nil {
			jsonError(w, err.Error(), statusFor(err, http.StatusInternalServerError))
			return
		}
		writeJSON(w, MemoryDumpResponse{Count: len(items), Items: items})
	}
}

// MemoryLoadHandler imports a dump produced by MemoryDumpHandler. Items
// land in the shard recorded on them, falling back to the owner's shard.
func MemoryLoadHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MemoryDumpResponse
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		n, err := d.Store.LoadDump(r.Context(), req.Items)
		if err != nil {
			jsonError(w, err.Error(), statusFor(err, http.StatusInternalServerError))
			return
		}
		writeJSON(w, map[string]int{"loaded": n})
	}
}

func queryInt(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

func queryBool(raw string) bool {
	return raw == "1" || strings.EqualFold(raw, "true")
}

func queryList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
