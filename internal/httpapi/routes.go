// Package httpapi exposes the routing, orchestration, and memory engines
// over HTTP. Handlers are plain closures over a Dependencies bundle; the
// package owns no goroutines and no state of its own.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/raeburn-ai/raeburn/internal/durable"
	"github.com/raeburn-ai/raeburn/internal/events"
	"github.com/raeburn-ai/raeburn/internal/memory"
	"github.com/raeburn-ai/raeburn/internal/metrics"
	"github.com/raeburn-ai/raeburn/internal/registry"
	"github.com/raeburn-ai/raeburn/internal/router"
)

// Dependencies bundles everything the handlers need. All fields except
// Events are required; a nil Events bus disables the SSE endpoint.
type Dependencies struct {
	Router   *router.Router
	Runner   *durable.Dispatcher
	Store    *memory.Store
	Registry *registry.Registry
	Metrics  *metrics.Registry
	Events   *events.Bus
	Logger   *slog.Logger
}

// MountRoutes attaches every endpoint to r.
func MountRoutes(r chi.Router, d Dependencies) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		// An empty registry cannot route anything; that is a 503, not an ok.
		modelCount := len(d.Registry.Models())
		status := "ok"
		code := http.StatusOK
		if modelCount == 0 {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  status,
			"models":  modelCount,
			"durable": d.Runner != nil && d.Runner.Durable(),
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/route", RouteHandler(d))
		r.Post("/route_first", RouteFirstHandler(d))
		r.Post("/run", RunHandler(d))

		r.Post("/memory", MemoryAddHandler(d))
		r.Get("/memory", MemoryListHandler(d))
		r.Get("/memory/relevant", MemoryRelevantHandler(d))
		r.Get("/memory/dump", MemoryDumpHandler(d))
		r.Post("/memory/load", MemoryLoadHandler(d))
		r.Delete("/memory/{id}", MemoryDeleteHandler(d))

		r.Get("/models", ModelsHandler(d))
		r.Post("/models/probe", ModelsProbeHandler(d))

		if d.Events != nil {
			r.Get("/events", SSEHandler(d.Events))
		}
	})

	r.Handle("/metrics", d.Metrics.Handler())
}
