package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/raeburn-ai/raeburn/internal/agents"
	"github.com/raeburn-ai/raeburn/internal/events"
	"github.com/raeburn-ai/raeburn/internal/injector"
	"github.com/raeburn-ai/raeburn/internal/judge"
	"github.com/raeburn-ai/raeburn/internal/memory"
	"github.com/raeburn-ai/raeburn/internal/metrics"
	"github.com/raeburn-ai/raeburn/internal/providers"
	"github.com/raeburn-ai/raeburn/internal/router"
)

type fakeRouter struct {
	ranked []router.Routed
	err    error
	got    router.Request
	calls  int
}

func (f *fakeRouter) Route(_ context.Context, req router.Request) ([]router.Routed, error) {
	f.got = req
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.ranked, nil
}

type pickSecond struct{}

func (pickSecond) Pick(_ context.Context, _ string, ranked []router.Routed) (router.Routed, error) {
	return ranked[1], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func defaultRanked() []router.Routed {
	return []router.Routed{
		{Response: providers.Response{Model: "m1", Content: "first answer", LatencyMS: 12}, Score: 0.9},
		{Response: providers.Response{Model: "m2", Content: "second answer", LatencyMS: 30}, Score: 0.6},
	}
}

func newTestPipeline(t *testing.T, mutate func(*Options)) (*Pipeline, *memory.Store, *fakeRouter) {
	t.Helper()
	mopts := memory.DefaultOptions()
	mopts.Dir = t.TempDir()
	mopts.Logger = discardLogger()
	store, err := memory.New(mopts)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	fr := &fakeRouter{ranked: defaultRanked()}
	opts := Options{
		Resolver: agents.New("", discardLogger()),
		Injector: injector.New(store, 0),
		Store:    store,
		Router:   fr,
		Judge:    judge.New("rule", nil, discardLogger()),
		Logger:   discardLogger(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts), store, fr
}

func TestRun_basicFlow(t *testing.T) {
	p, _, fr := newTestPipeline(t, nil)

	res, err := p.Run(context.Background(), Task{UserInput: "summarize the notes"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Result != "first answer" || res.ModelUsed != "m1" {
		t.Fatalf("expected the top candidate to win, got %+v", res)
	}
	if res.Score != 0.9 {
		t.Fatalf("expected winner score 0.9, got %v", res.Score)
	}
	if res.Agent != "generalist" || res.Priority != 1 || res.Mode != ModeProd {
		t.Fatalf("unexpected defaults: %+v", res)
	}
	if !strings.HasPrefix(res.SessionID, "sess_") || len(res.SessionID) != len("sess_")+8 {
		t.Fatalf("unexpected session id %q", res.SessionID)
	}
	if res.DurationMS < 0 {
		t.Fatalf("negative duration %d", res.DurationMS)
	}

	wantPrompt := "You are a versatile assistant able to tackle any task.\n\nUser: summarize the notes"
	if fr.got.Prompt != wantPrompt {
		t.Fatalf("routed prompt mismatch\n got: %q\nwant: %q", fr.got.Prompt, wantPrompt)
	}
	if fr.got.SessionID != res.SessionID {
		t.Fatalf("router session %q != result session %q", fr.got.SessionID, res.SessionID)
	}
	if !fr.got.Sequential {
		t.Fatalf("priority 1 should route sequentially")
	}
}

func TestRun_parallelDispatch(t *testing.T) {
	cases := []struct {
		name         string
		priority     int
		force        bool
		wantParallel bool
	}{
		{"default priority", 1, false, false},
		{"high priority", 2, false, true},
		{"forced by config", 1, true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, _, fr := newTestPipeline(t, func(o *Options) { o.Parallel = tc.force })
			if _, err := p.Run(context.Background(), Task{UserInput: "go", Priority: tc.priority}); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := !fr.got.Sequential; got != tc.wantParallel {
				t.Fatalf("parallel = %v, want %v", got, tc.wantParallel)
			}
		})
	}
}

func TestRun_unknownRoleFallsBackToGeneralist(t *testing.T) {
	p, _, _ := newTestPipeline(t, nil)

	res, err := p.Run(context.Background(), Task{UserInput: "hi", AgentRole: "archivist"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Agent != "generalist" {
		t.Fatalf("expected generalist fallback, got %q", res.Agent)
	}
}

func TestRun_contextAndStyleFlowIntoPrompt(t *testing.T) {
	p, store, fr := newTestPipeline(t, nil)

	if _, err := store.ForAgent("copywriter").Add(context.Background(), "tagline drafts live in the shared doc", memory.AddOptions{}); err != nil {
		t.Fatalf("seed memory: %v", err)
	}

	if _, err := p.Run(context.Background(), Task{UserInput: "tagline drafts", AgentRole: "copywriter"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantPrompt := "You craft concise and compelling marketing copy.\n\n" +
		"User: tagline drafts\n\n" +
		"Context:\ntagline drafts live in the shared doc\n" +
		"Style: energetic"
	if fr.got.Prompt != wantPrompt {
		t.Fatalf("routed prompt mismatch\n got: %q\nwant: %q", fr.got.Prompt, wantPrompt)
	}
	if fr.got.Task != "copywriter" {
		t.Fatalf("expected agent role as routing task, got %q", fr.got.Task)
	}
}

func TestRun_prodRecordsInteractionAndQuality(t *testing.T) {
	p, store, _ := newTestPipeline(t, nil)
	ctx := context.Background()

	res, err := p.Run(ctx, Task{UserInput: "hello", Priority: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	interactions, err := store.ForAgent("generalist").ByTag(ctx, "interaction", 10)
	if err != nil {
		t.Fatalf("ByTag interaction: %v", err)
	}
	if len(interactions) != 1 {
		t.Fatalf("expected one interaction memory, got %d", len(interactions))
	}
	in := interactions[0]
	if in.Text != "Task: hello\nResult: first answer" {
		t.Fatalf("unexpected interaction text %q", in.Text)
	}
	for key, want := range map[string]any{
		"input":      "hello",
		"output":     "first answer",
		"agent":      "generalist",
		"session":    res.SessionID,
		"mode":       ModeProd,
		"model_used": "m1",
	} {
		if got := in.Metadata[key]; got != want {
			t.Fatalf("interaction metadata %q = %v, want %v", key, got, want)
		}
	}
	if _, ok := in.Metadata["timestamp"].(string); !ok {
		t.Fatalf("interaction metadata missing timestamp, got %v", in.Metadata["timestamp"])
	}

	quality, err := store.Global().ByTag(ctx, "quality", 10)
	if err != nil {
		t.Fatalf("ByTag quality: %v", err)
	}
	if len(quality) != 1 {
		t.Fatalf("expected one quality memory, got %d", len(quality))
	}
	q := quality[0]
	if q.Metadata["model"] != "m1" || q.Metadata["session"] != res.SessionID {
		t.Fatalf("unexpected quality metadata %v", q.Metadata)
	}
}

func TestRun_dryRunSkipsInteractionKeepsQuality(t *testing.T) {
	p, store, _ := newTestPipeline(t, func(o *Options) { o.Mode = ModeDryRun })
	ctx := context.Background()

	res, err := p.Run(ctx, Task{UserInput: "hello"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Mode != ModeDryRun {
		t.Fatalf("expected dry-run mode, got %q", res.Mode)
	}

	interactions, err := store.ForAgent("generalist").ByTag(ctx, "interaction", 10)
	if err != nil {
		t.Fatalf("ByTag interaction: %v", err)
	}
	if len(interactions) != 0 {
		t.Fatalf("dry-run must not write interaction memories, got %d", len(interactions))
	}

	quality, err := store.Global().ByTag(ctx, "quality", 10)
	if err != nil {
		t.Fatalf("ByTag quality: %v", err)
	}
	if len(quality) != 1 {
		t.Fatalf("dry-run must still record quality, got %d entries", len(quality))
	}
}

func TestRun_routeFailureWrapsStepAndWritesNothing(t *testing.T) {
	p, store, fr := newTestPipeline(t, nil)
	fr.err = errors.New("upstream_error: all providers failed")
	ctx := context.Background()

	_, err := p.Run(ctx, Task{UserInput: "hello"})
	if !errors.Is(err, ErrPipeline) {
		t.Fatalf("expected pipeline_error, got %v", err)
	}
	if !strings.Contains(err.Error(), "route") {
		t.Fatalf("expected failing step name in %q", err.Error())
	}

	quality, err2 := store.Global().ByTag(ctx, "quality", 10)
	if err2 != nil {
		t.Fatalf("ByTag quality: %v", err2)
	}
	interactions, err2 := store.ForAgent("generalist").ByTag(ctx, "interaction", 10)
	if err2 != nil {
		t.Fatalf("ByTag interaction: %v", err2)
	}
	if len(quality) != 0 || len(interactions) != 0 {
		t.Fatalf("no memories should be written without a winner")
	}
}

func TestRun_judgeFailureWrapsStep(t *testing.T) {
	p, _, fr := newTestPipeline(t, nil)
	fr.ranked = nil // empty candidate list trips the judge

	_, err := p.Run(context.Background(), Task{UserInput: "hello"})
	if !errors.Is(err, ErrPipeline) {
		t.Fatalf("expected pipeline_error, got %v", err)
	}
	if !strings.Contains(err.Error(), "judge") {
		t.Fatalf("expected judge step in %q", err.Error())
	}
}

func TestRun_judgeCanOverrideRanking(t *testing.T) {
	p, store, _ := newTestPipeline(t, func(o *Options) { o.Judge = pickSecond{} })
	ctx := context.Background()

	res, err := p.Run(ctx, Task{UserInput: "hello"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ModelUsed != "m2" || res.Result != "second answer" || res.Score != 0.6 {
		t.Fatalf("expected judged winner m2, got %+v", res)
	}

	quality, err := store.Global().ByTag(ctx, "quality", 10)
	if err != nil {
		t.Fatalf("ByTag quality: %v", err)
	}
	if len(quality) != 1 || quality[0].Metadata["model"] != "m2" {
		t.Fatalf("quality should follow the judged winner, got %v", quality)
	}
}

func TestRun_publishesPipelineEvents(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(16)
	defer bus.Unsubscribe(sub)

	p, _, _ := newTestPipeline(t, func(o *Options) { o.Events = bus })

	res, err := p.Run(context.Background(), Task{UserInput: "hello"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	started := <-sub.C
	if started.Type != events.EventPipelineStarted || started.SessionID != res.SessionID {
		t.Fatalf("unexpected first event %+v", started)
	}
	completed := <-sub.C
	if completed.Type != events.EventPipelineCompleted {
		t.Fatalf("unexpected second event %+v", completed)
	}
	if completed.Model != "m1" || completed.Score != 0.9 || completed.Agent != "generalist" {
		t.Fatalf("unexpected completion payload %+v", completed)
	}
}

func TestRun_publishesFailureEvent(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(16)
	defer bus.Unsubscribe(sub)

	p, _, fr := newTestPipeline(t, func(o *Options) { o.Events = bus })
	fr.err = errors.New("boom")

	if _, err := p.Run(context.Background(), Task{UserInput: "hello"}); err == nil {
		t.Fatalf("expected run to fail")
	}

	<-sub.C // started
	failed := <-sub.C
	if failed.Type != events.EventPipelineFailed {
		t.Fatalf("expected failure event, got %+v", failed)
	}
	if !strings.Contains(failed.ErrorMsg, "pipeline_error") {
		t.Fatalf("failure event should carry the wrapped error, got %q", failed.ErrorMsg)
	}
}

func TestRun_recordsMetrics(t *testing.T) {
	reg := metrics.New()
	p, _, fr := newTestPipeline(t, func(o *Options) { o.Metrics = reg })

	if _, err := p.Run(context.Background(), Task{UserInput: "ok run"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	fr.err = errors.New("boom")
	if _, err := p.Run(context.Background(), Task{UserInput: "bad run"}); err == nil {
		t.Fatalf("expected second run to fail")
	}

	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read scrape: %v", err)
	}
	text := string(body)
	if !strings.Contains(text, `pipeline_runs_total{mode="prod",status="ok"} 1`) {
		t.Fatalf("missing ok run counter in scrape:\n%s", text)
	}
	if !strings.Contains(text, `pipeline_runs_total{mode="prod",status="error"} 1`) {
		t.Fatalf("missing error run counter in scrape:\n%s", text)
	}
}

func TestRun_testModeSuppressesCompletionLog(t *testing.T) {
	for mode, wantLog := range map[string]bool{ModeProd: true, ModeTest: false} {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))
		p, _, _ := newTestPipeline(t, func(o *Options) {
			o.Mode = mode
			o.Logger = logger
		})

		if _, err := p.Run(context.Background(), Task{UserInput: "hello"}); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if got := strings.Contains(buf.String(), "orchestration complete"); got != wantLog {
			t.Fatalf("mode %s: completion log present = %v, want %v", mode, got, wantLog)
		}
	}
}

func TestNewSessionID_format(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		id := NewSessionID()
		if !strings.HasPrefix(id, "sess_") || len(id) != len("sess_")+8 {
			t.Fatalf("bad session id %q", id)
		}
		for _, r := range id[len("sess_"):] {
			if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
				t.Fatalf("session id %q has invalid rune %q", id, r)
			}
		}
		seen[id] = true
	}
	if len(seen) < 2 {
		t.Fatalf("session ids should vary, got %v", seen)
	}
}
