package providers

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Retry policy shared by all HTTP adapters.
const (
	maxAttempts = 3
	backoffBase = 500 * time.Millisecond
	backoffCap  = 4 * time.Second
)

// AttemptFunc performs one provider call and returns the parsed completion.
type AttemptFunc func(ctx context.Context) (string, error)

// Retryable reports whether another attempt may change the outcome: network
// errors and HTTP 5xx are transient, HTTP 4xx and malformed bodies are not.
func Retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= http.StatusInternalServerError
	}
	var de *DecodeError
	return !errors.As(err, &de)
}

// Run executes attempt under the shared retry policy and builds the uniform
// Response: wall-clock latency from first attempt to final outcome, the
// in-band error text, and a state snapshot taken after the outcome is
// recorded. Content is empty on terminal failure; adapters with a fallback
// convention (ollama) patch it afterwards.
func Run(ctx context.Context, cfg Config, st *State, attempt AttemptFunc) Response {
	start := time.Now()
	content, err := withBackoff(ctx, cfg, st, attempt)

	var errText string
	switch {
	case err == nil:
	case Cancelled(ctx):
		errText = ErrTextCancelled
	default:
		errText = UpstreamError(err)
	}
	if errText != "" {
		content = ""
	}
	return finish(cfg, st, start, content, errText)
}

// Immediate builds a Response that never touched the network: the credential
// check failed or the adapter is purely local. A non-empty errText counts as
// one failed attempt.
func Immediate(cfg Config, st *State, start time.Time, content, errText string) Response {
	if errText != "" {
		st.NoteFailure()
	}
	return finish(cfg, st, start, content, errText)
}

func finish(cfg Config, st *State, start time.Time, content, errText string) Response {
	latency := float64(time.Since(start)) / float64(time.Millisecond)
	st.Observe(latency, errText)
	return Response{
		Model:     cfg.Name,
		Content:   content,
		LatencyMS: latency,
		Err:       errText,
		Health:    st.Snapshot(),
	}
}

// ProbeGenerate implements the canned health probe shared by all adapters:
// a minimal generation whose success stamps the last-passed timestamp.
func ProbeGenerate(ctx context.Context, a Adapter, st *State) bool {
	resp := a.Generate(ctx, "ping", "health")
	if resp.Err != "" {
		return false
	}
	st.StampLastPassed(time.Now())
	return true
}

// withBackoff runs attempt up to maxAttempts times. Every failed attempt
// bumps the adapter's failure counter; terminal classifications and caller
// cancellation stop the loop early. Sleeps double from backoffBase up to
// backoffCap and abort when the caller's context ends.
func withBackoff(ctx context.Context, cfg Config, st *State, attempt AttemptFunc) (string, error) {
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		if i > 0 {
			delay := backoffBase << uint(i-1)
			if delay > backoffCap {
				delay = backoffCap
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		actx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout())
		content, err := attempt(actx)
		cancel()
		if err == nil {
			return content, nil
		}

		st.NoteFailure()
		lastErr = err
		if ctx.Err() != nil || !Retryable(err) {
			break
		}
	}
	return "", lastErr
}
