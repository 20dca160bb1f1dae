package preset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/parlorhq/parlor/internal/llm"
)

func tempRegistry(t *testing.T) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "presets.yaml")
	r, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return r
}

func TestLoadRegistry_MissingFileIsEmpty(t *testing.T) {
	r := tempRegistry(t)
	if got := r.List(); len(got) != 0 {
		t.Errorf("expected empty registry, got %v", got)
	}
}

func TestRegistry_PutGetRoundTrip(t *testing.T) {
	r := tempRegistry(t)

	temp := 0.3
	p := Preset{
		ID:           "writer",
		Name:         "Technical Writer",
		Provider:     "openai",
		Model:        "gpt-4",
		SystemPrompt: "You edit prose.",
		Temperature:  &temp,
	}
	if err := r.Put(p); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := r.Get("writer")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Technical Writer" || got.Model != "gpt-4" {
		t.Errorf("unexpected preset: %+v", got)
	}
	if got.Temperature == nil || *got.Temperature != 0.3 {
		t.Errorf("temperature lost: %+v", got.Temperature)
	}
}

func TestRegistry_PersistsAcrossLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	r, _ := LoadRegistry(path)
	r.Put(Preset{ID: "a", Name: "A", Provider: "openai", Model: "gpt-4"})
	r.Put(Preset{ID: "b", Name: "B", Provider: "anthropic", Model: "claude-sonnet-4-20250514", Thinking: true, Effort: llm.EffortHigh})

	reloaded, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded.List()) != 2 {
		t.Fatalf("expected 2 presets after reload, got %d", len(reloaded.List()))
	}
	b, err := reloaded.Get("b")
	if err != nil {
		t.Fatal(err)
	}
	if !b.Thinking || b.Effort != llm.EffortHigh {
		t.Errorf("thinking settings lost: %+v", b)
	}
}

func TestRegistry_PutReplacesByID(t *testing.T) {
	r := tempRegistry(t)
	r.Put(Preset{ID: "x", Name: "old", Provider: "openai", Model: "gpt-4"})
	r.Put(Preset{ID: "x", Name: "new", Provider: "openai", Model: "gpt-4o"})

	if len(r.List()) != 1 {
		t.Fatalf("expected replacement, got %d presets", len(r.List()))
	}
	got, _ := r.Get("x")
	if got.Name != "new" || got.Model != "gpt-4o" {
		t.Errorf("unexpected preset: %+v", got)
	}
}

func TestRegistry_Delete(t *testing.T) {
	r := tempRegistry(t)
	r.Put(Preset{ID: "x", Name: "X", Provider: "openai", Model: "gpt-4"})

	if err := r.Delete("x"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.Get("x"); err == nil {
		t.Error("expected error for deleted preset")
	}
	if err := r.Delete("x"); err == nil {
		t.Error("expected error deleting unknown preset")
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := tempRegistry(t)
	if _, err := r.Get("nope"); err == nil {
		t.Error("expected error for unknown preset")
	}
}

func TestLoadRegistry_FileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	content := `presets:
  - id: helper
    name: Helper
    provider: openai
    model: gpt-4
    system_prompt: Be helpful.
    temperature: 0.7
`
	os.WriteFile(path, []byte(content), 0600)

	r, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	p, err := r.Get("helper")
	if err != nil {
		t.Fatal(err)
	}
	if p.SystemPrompt != "Be helpful." {
		t.Errorf("system prompt: %q", p.SystemPrompt)
	}
}

func TestApply(t *testing.T) {
	temp := 0.1
	p := Preset{
		ID:           "w",
		Model:        "gpt-4",
		SystemPrompt: "You are terse.",
		Temperature:  &temp,
		Thinking:     true,
	}
	history := []llm.Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
	}

	req := Apply(p, history)

	if len(req.Messages) != 3 {
		t.Fatalf("expected system + 2 messages, got %d", len(req.Messages))
	}
	if req.Messages[0].Role != "system" || req.Messages[0].Content != "You are terse." {
		t.Errorf("system message: %+v", req.Messages[0])
	}
	if req.Model != "gpt-4" || !req.Thinking {
		t.Errorf("settings not carried: %+v", req)
	}
	if req.Temperature == nil || *req.Temperature != 0.1 {
		t.Errorf("temperature not carried")
	}

	// The caller's slice must be untouched.
	if len(history) != 2 || history[0].Role != "user" {
		t.Errorf("caller's messages mutated: %+v", history)
	}
}

func TestApply_NoSystemPrompt(t *testing.T) {
	req := Apply(Preset{ID: "p", Model: "m"}, []llm.Message{{Role: "user", Content: "q"}})
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Errorf("no system message should be prepended: %+v", req.Messages)
	}
}
