package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/raeburn-ai/raeburn/internal/orchestrator"
	"github.com/raeburn-ai/raeburn/internal/router"
)

// RouteRequest is the JSON body for the /v1/route and /v1/route_first
// endpoints.
type RouteRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id,omitempty"`
	Task      string `json:"task,omitempty"`
	// Parallel defaults to true; false dispatches candidates sequentially.
	Parallel    *bool `json:"parallel,omitempty"`
	LimitModels int   `json:"limit_models,omitempty"`

	RequireJSON      bool     `json:"require_json,omitempty"`
	RequireStreaming bool     `json:"require_streaming,omitempty"`
	RequiredRoles    []string `json:"required_roles,omitempty"`
}

func (rr RouteRequest) routing() router.Request {
	req := router.Request{
		Prompt:           rr.Prompt,
		SessionID:        rr.SessionID,
		Task:             rr.Task,
		LimitModels:      rr.LimitModels,
		RequireJSON:      rr.RequireJSON,
		RequireStreaming: rr.RequireStreaming,
		RequiredRoles:    rr.RequiredRoles,
	}
	if rr.Parallel != nil && !*rr.Parallel {
		req.Sequential = true
	}
	return req
}

// RouteResponse is the JSON body returned by the /v1/route endpoint.
type RouteResponse struct {
	Count     int             `json:"count"`
	Responses []router.Routed `json:"responses"`
}

// RouteHandler fans the prompt out across the candidate models and returns
// every response ranked best first.
func RouteHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RouteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		ranked, err := d.Router.Route(r.Context(), req.routing())
		if err != nil {
			jsonError(w, err.Error(), statusFor(err, http.StatusBadGateway))
			return
		}
		writeJSON(w, RouteResponse{Count: len(ranked), Responses: ranked})
	}
}

// RouteFirstHandler routes like RouteHandler but returns only the winner.
func RouteFirstHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RouteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		best, err := d.Router.RouteFirst(r.Context(), req.routing())
		if err != nil {
			jsonError(w, err.Error(), statusFor(err, http.StatusBadGateway))
			return
		}
		writeJSON(w, best)
	}
}

// RunHandler executes one full pipeline cycle: persona resolution, memory
// injection, routing, judging, and recording. Runs go through the durable
// dispatcher, which falls back to the in-process pipeline when Temporal is
// down or disabled.
func RunHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var task orchestrator.Task
		if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(task.UserInput) == "" {
			jsonError(w, "user_input required", http.StatusBadRequest)
			return
		}
		res, err := d.Runner.Run(r.Context(), task)
		if err != nil {
			jsonError(w, err.Error(), statusFor(err, http.StatusBadGateway))
			return
		}
		writeJSON(w, res)
	}
}
