// Package router fans one prompt out to the registry's candidate models,
// scores every response, and returns them ranked. A failed or timed-out
// dispatch is never dropped: it comes back with Err set and a score that
// reflects the failure, so callers can see what every model did.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/raeburn-ai/raeburn/internal/events"
	"github.com/raeburn-ai/raeburn/internal/metrics"
	"github.com/raeburn-ai/raeburn/internal/providers"
	"github.com/raeburn-ai/raeburn/internal/registry"
	"github.com/raeburn-ai/raeburn/internal/scoring"
)

// ErrBadRequest is the only error Route raises itself; everything that goes
// wrong after validation travels in-band on the ranked responses.
var ErrBadRequest = errors.New("bad_request: prompt must not be blank")

var errNoCandidates = errors.New("no candidate models available")

const (
	// DefaultSessionID groups requests that never set a session.
	DefaultSessionID = "default"
	// DefaultTimeout is the per-dispatch envelope when none is configured.
	DefaultTimeout = 30 * time.Second
)

// CandidateSource yields the candidate models for a request. Defined here so
// tests can stand in for the registry.
type CandidateSource interface {
	Choose(limit int, opts registry.ChooseOptions) []registry.Candidate
}

// Options configures a Router.
type Options struct {
	Source CandidateSource
	// Weights blends the hybrid score; the zero value means defaults.
	Weights scoring.Weights
	// Timeout bounds each dispatch; zero means DefaultTimeout.
	Timeout time.Duration
	Metrics *metrics.Registry
	Events  *events.Bus
	Logger  *slog.Logger
}

// Request describes one routing call.
type Request struct {
	Prompt    string
	SessionID string // empty means DefaultSessionID
	Task      string
	// Sequential dispatches candidates one at a time instead of fanning out.
	Sequential bool
	// LimitModels caps the candidate list; zero means no cap.
	LimitModels int

	RequireJSON      bool
	RequireStreaming bool
	RequiredRoles    []string
}

// Routed is one model's response with its final score attached.
type Routed struct {
	providers.Response
	Score float64 `json:"score"`
}

// Router dispatches prompts and ranks the responses.
type Router struct {
	source  CandidateSource
	weights scoring.Weights
	timeout time.Duration
	metrics *metrics.Registry
	events  *events.Bus
	log     *slog.Logger
}

func New(opts Options) *Router {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.With("component", "router")
	}
	return &Router{
		source:  opts.Source,
		weights: opts.Weights,
		timeout: opts.Timeout,
		metrics: opts.Metrics,
		events:  opts.Events,
		log:     log,
	}
}

// Route sends the prompt to every candidate and returns the responses sorted
// by score, best first. The result is never empty: the registry falls back
// to the local echo model when every candidate is filtered out. Dispatches
// that exceed the per-dispatch envelope come back with Err "cancelled" and
// are ranked like any other failure.
func (r *Router) Route(ctx context.Context, req Request) ([]Routed, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrBadRequest
	}
	if req.SessionID == "" {
		req.SessionID = DefaultSessionID
	}

	mode := "parallel"
	if req.Sequential {
		mode = "sequential"
	}
	if r.metrics != nil {
		r.metrics.RouteRequests.WithLabelValues(mode).Inc()
	}

	cands := r.source.Choose(req.LimitModels, registry.ChooseOptions{
		Task:             req.Task,
		RequireJSON:      req.RequireJSON,
		RequireStreaming: req.RequireStreaming,
		RequiredRoles:    req.RequiredRoles,
	})
	if len(cands) == 0 {
		// The registry's echo fallback makes this unreachable in practice.
		return nil, errNoCandidates
	}

	responses := make([]providers.Response, len(cands))
	if req.Sequential {
		for i, c := range cands {
			responses[i] = r.dispatch(ctx, c, req)
		}
	} else {
		var wg sync.WaitGroup
		for i, c := range cands {
			wg.Add(1)
			go func(i int, c registry.Candidate) {
				defer wg.Done()
				responses[i] = r.dispatch(ctx, c, req)
			}(i, c)
		}
		wg.Wait()
	}

	ranked := make([]Routed, len(responses))
	for i, resp := range responses {
		score := scoring.Score(req.Prompt, scoring.Candidate{
			Content:   resp.Content,
			LatencyMS: resp.LatencyMS,
			Err:       resp.Err,
		}, r.weights)
		score *= biasMultiplier(cands[i].Descriptor, req.Task, resp.Health)
		ranked[i] = Routed{Response: resp, Score: score}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	r.publish(ranked, req.SessionID)
	r.log.Debug("routed prompt",
		"session_id", req.SessionID,
		"mode", mode,
		"candidates", len(ranked),
		"winner", ranked[0].Model,
	)
	return ranked, nil
}

// RouteFirst returns only the top-ranked response.
func (r *Router) RouteFirst(ctx context.Context, req Request) (Routed, error) {
	ranked, err := r.Route(ctx, req)
	if err != nil {
		return Routed{}, err
	}
	return ranked[0], nil
}

// dispatch runs one candidate under the per-dispatch envelope. A panicking
// adapter is captured and synthesized into a failed response so one bad
// backend cannot take down the fan-out.
func (r *Router) dispatch(ctx context.Context, c registry.Candidate, req Request) (resp providers.Response) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("adapter panic during dispatch", "model", c.Descriptor.Name, "panic", rec)
			resp = providers.Response{
				Model:     c.Descriptor.Name,
				LatencyMS: float64(time.Since(start).Milliseconds()),
				Err:       providers.UpstreamError(fmt.Errorf("adapter panic: %v", rec)),
				Health:    c.Adapter.Health(),
			}
			if r.metrics != nil {
				r.metrics.AdapterFailures.WithLabelValues(c.Descriptor.Name).Inc()
			}
		}
	}()

	dctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	resp = c.Adapter.Generate(dctx, req.Prompt, req.SessionID)

	if r.metrics != nil {
		r.metrics.AdapterLatency.WithLabelValues(resp.Model).Observe(resp.LatencyMS)
		if resp.Err != "" {
			r.metrics.AdapterFailures.WithLabelValues(resp.Model).Inc()
		}
	}
	return resp
}

func (r *Router) publish(ranked []Routed, sessionID string) {
	if r.events == nil {
		return
	}
	for _, routed := range ranked {
		typ := events.EventRouteSuccess
		if routed.Err != "" {
			typ = events.EventRouteError
		}
		r.events.Publish(events.Event{
			Type:      typ,
			Model:     routed.Model,
			SessionID: sessionID,
			LatencyMS: routed.LatencyMS,
			Score:     routed.Score,
			ErrorMsg:  routed.Err,
		})
	}
}
