package agents

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agents.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestResolve_builtins(t *testing.T) {
	r := New("", discardLogger())

	gen := r.Resolve("generalist")
	if gen.SystemPrompt != "You are a versatile assistant able to tackle any task." {
		t.Fatalf("unexpected generalist prompt: %q", gen.SystemPrompt)
	}
	cw := r.Resolve("copywriter")
	if cw.SystemPrompt != "You craft concise and compelling marketing copy." {
		t.Fatalf("unexpected copywriter prompt: %q", cw.SystemPrompt)
	}
	if cw.PromptStyle != "energetic" {
		t.Fatalf("unexpected copywriter style: %q", cw.PromptStyle)
	}
}

func TestResolve_unknownRoleFallsBackToGeneralist(t *testing.T) {
	r := New("", discardLogger())

	a := r.Resolve("unknown")
	if a.Name != "generalist" {
		t.Fatalf("expected generalist fallback, got %q", a.Name)
	}
}

func TestNew_overlaysConfigFile(t *testing.T) {
	path := writeConfig(t, `{"analyst": {"name": "analyst", "system_prompt": "You analyse."}}`)
	r := New(path, discardLogger())

	a := r.Resolve("analyst")
	if a.Name != "analyst" || a.SystemPrompt != "You analyse." {
		t.Fatalf("unexpected analyst: %+v", a)
	}
	if !slices.Contains(r.Roles(), "analyst") {
		t.Fatalf("analyst missing from roles %v", r.Roles())
	}
}

func TestNew_skipsInvalidEntries(t *testing.T) {
	path := writeConfig(t, `{"bad": {"name": 123}, "good": {"name": "good"}}`)
	r := New(path, discardLogger())

	if slices.Contains(r.Roles(), "bad") {
		t.Fatalf("invalid entry should be skipped, roles %v", r.Roles())
	}
	if r.Resolve("good").Name != "good" {
		t.Fatalf("valid sibling entry should survive")
	}
	if r.Resolve("generalist").SystemPrompt == "" {
		t.Fatalf("builtins should survive a partially bad config")
	}
}

func TestNew_defaultsNameToRole(t *testing.T) {
	path := writeConfig(t, `{"planner": {"system_prompt": "Plan tasks"}}`)
	r := New(path, discardLogger())

	a := r.Resolve("planner")
	if a.Name != "planner" {
		t.Fatalf("expected name to default to role, got %q", a.Name)
	}
}

func TestNew_nonObjectConfigKeepsBuiltins(t *testing.T) {
	path := writeConfig(t, `["not", "an", "object"]`)
	r := New(path, discardLogger())

	roles := r.Roles()
	if len(roles) != 2 || roles[0] != "copywriter" || roles[1] != "generalist" {
		t.Fatalf("expected builtins only, got %v", roles)
	}
}

func TestNew_missingConfigFileKeepsBuiltins(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "absent.json"), discardLogger())

	if len(r.Roles()) != 2 {
		t.Fatalf("expected builtins only, got %v", r.Roles())
	}
}

func TestReload_picksUpConfigChanges(t *testing.T) {
	path := writeConfig(t, `{"analyst": {"name": "analyst"}}`)
	r := New(path, discardLogger())
	if !slices.Contains(r.Roles(), "analyst") {
		t.Fatalf("analyst should load initially")
	}

	if err := os.WriteFile(path, []byte(`{"reviewer": {"name": "reviewer"}}`), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	r.Reload()

	if slices.Contains(r.Roles(), "analyst") {
		t.Fatalf("removed overlay entry should revert after reload")
	}
	if r.Resolve("reviewer").Name != "reviewer" {
		t.Fatalf("new overlay entry should appear after reload")
	}
}

func TestRegister_addsRoleAtRuntime(t *testing.T) {
	r := New("", discardLogger())

	r.Register("planner", Agent{
		SystemPrompt:     "Plan tasks",
		Capabilities:     []string{"plan"},
		ModelPreferences: []string{"openai"},
	})

	a := r.Resolve("planner")
	if a.Name != "planner" {
		t.Fatalf("expected registered name to default to role, got %q", a.Name)
	}
	if !slices.Equal(a.Capabilities, []string{"plan"}) || !slices.Equal(a.ModelPreferences, []string{"openai"}) {
		t.Fatalf("unexpected registered agent: %+v", a)
	}
}

func TestBuildPrompt_allBlocks(t *testing.T) {
	a := Agent{Name: "tester", SystemPrompt: "SYS", PromptStyle: "casual"}

	got := BuildPrompt(a, "hello", []string{"prev answer"})
	want := "SYS\n\nUser: hello\n\nContext:\nprev answer\nStyle: casual"
	if got != want {
		t.Fatalf("prompt mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestBuildPrompt_bare(t *testing.T) {
	a := Agent{Name: "plain"}

	got := BuildPrompt(a, "go", nil)
	if got != "User: go" {
		t.Fatalf("expected bare user line, got %q", got)
	}
}

func TestBuildPrompt_contextOnly(t *testing.T) {
	a := Agent{Name: "plain"}

	got := BuildPrompt(a, "go", []string{"fact one", "fact two"})
	want := "User: go\n\nContext:\nfact one\nfact two"
	if got != want {
		t.Fatalf("prompt mismatch\n got: %q\nwant: %q", got, want)
	}
}
