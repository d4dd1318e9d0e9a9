// Package echo implements the local fallback adapter: a deterministic echo
// of the prompt with no network I/O. The registry guarantees at least one
// echo adapter exists so routing can never come up empty.
package echo

import (
	"context"
	"time"

	"github.com/raeburn-ai/raeburn/internal/providers"
)

// Adapter echoes the prompt back, tagged with its registry name.
type Adapter struct {
	cfg   providers.Config
	state *providers.State
}

// New creates a local echo adapter.
func New(cfg providers.Config) *Adapter {
	st := providers.NewState()
	st.SeedLastPassed(cfg.LastPassed)
	return &Adapter{cfg: cfg, state: st}
}

func (a *Adapter) Name() string { return a.cfg.Name }

func (a *Adapter) Kind() string { return providers.KindLocalEcho }

func (a *Adapter) Generate(ctx context.Context, prompt, sessionID string) providers.Response {
	start := time.Now()
	if providers.Cancelled(ctx) {
		return providers.Immediate(a.cfg, a.state, start, "", providers.ErrTextCancelled)
	}
	return providers.Immediate(a.cfg, a.state, start, prompt+" [local:"+a.cfg.Name+"]", "")
}

func (a *Adapter) Probe(ctx context.Context) bool {
	return providers.ProbeGenerate(ctx, a, a.state)
}

func (a *Adapter) Health() providers.HealthSnapshot { return a.state.Snapshot() }
