package openai

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/callpilot/pkg/provider/llm"
)

func TestParams_Roles(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o-mini"}
	params, err := p.params(llm.CompletionRequest{
		SystemPrompt: "You are helpful.",
		Messages: []llm.Message{
			{Role: llm.RoleAssistant, Content: "Hi there!"},
			{Role: llm.RoleUser, Content: "Hello!"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	m := params.Messages
	if len(m) != 3 || m[0].OfSystem == nil || m[1].OfAssistant == nil || m[2].OfUser == nil {
		t.Fatalf("messages = %+v", m)
	}
}

func TestParams_UnknownRole(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "gpt-4o-mini"}
	if _, err := p.params(llm.CompletionRequest{Messages: []llm.Message{{Role: "tool", Content: "x"}}}); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestParams_OptionalFields(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o-mini"}
	params, err := p.params(llm.CompletionRequest{
		SystemPrompt: "Answer briefly.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		MaxTokens:    120,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(params.Messages) != 2 || params.Messages[0].OfSystem == nil {
		t.Fatalf("unexpected messages %+v", params.Messages)
	}
	if params.MaxCompletionTokens.Value != 120 {
		t.Errorf("MaxCompletionTokens = %v", params.MaxCompletionTokens)
	}
	if string(params.Model) != "gpt-4o-mini" {
		t.Errorf("Model = %q", params.Model)
	}
}

// TestComplete_AgainstFakeServer drives a full round trip against an
// OpenAI-compatible test server.
func TestComplete_AgainstFakeServer(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"length","message":{"role":"assistant","content":"Sure, one moment."}}],
			"usage":{"prompt_tokens":12,"completion_tokens":4,"total_tokens":16}
		}`))
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Complete(t.Context(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Can I book a table?"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Sure, one moment." || resp.Usage.TotalTokens != 16 || !resp.Truncated() {
		t.Fatalf("unexpected response %+v", resp)
	}
	if gotBody["model"] != "gpt-4o-mini" {
		t.Errorf("server saw model %v", gotBody["model"])
	}
}

// TestCountTokens_Positive checks that token counting returns a value that
// grows with input.
func TestCountTokens_Positive(t *testing.T) {
	t.Parallel()

	p, _ := New("sk-test", "gpt-4o")
	one, _ := p.CountTokens([]llm.Message{{Role: llm.RoleUser, Content: "Hello world"}})
	two, _ := p.CountTokens([]llm.Message{
		{Role: llm.RoleUser, Content: "Hello world"},
		{Role: llm.RoleAssistant, Content: "Hi there, how can I help?"},
	})
	if one <= 0 || two <= one {
		t.Fatalf("one=%d two=%d", one, two)
	}
}

// TestNew_MissingAPIKey ensures constructor rejects an empty API key.
func TestNew_MissingAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New("", "gpt-4o"); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// TestNew_MissingModel ensures constructor rejects an empty model.
func TestNew_MissingModel(t *testing.T) {
	t.Parallel()
	if _, err := New("sk-test", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

// TestCapabilities_Delegates checks Capabilities uses the shared model table.
func TestCapabilities_Delegates(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "gpt-4"}
	if p.Capabilities() != llm.CapabilitiesFor("gpt-4") {
		t.Fatal("Capabilities mismatch")
	}
}
