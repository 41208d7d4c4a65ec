package llm

import "testing"

func TestNewOpenRouterProvider_RequiresKey(t *testing.T) {
	_, err := NewOpenRouterProvider(OpenRouterConfig{Model: "google/gemini-2.0-flash-exp"})
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNewOpenRouterProvider_ModelPassThrough(t *testing.T) {
	// OpenRouter model ids carry a vendor prefix and skip the short-name
	// mapping the native providers use.
	for _, model := range []string{
		"google/gemini-2.0-flash-exp",
		"anthropic/claude-3-haiku",
		"meta-llama/llama-3-8b",
	} {
		p, err := NewOpenRouterProvider(OpenRouterConfig{APIKey: "sk-or-test", Model: model})
		if err != nil {
			t.Fatalf("model %q: unexpected error: %v", model, err)
		}
		if p.ModelID() != model {
			t.Errorf("model %q: ModelID() = %q", model, p.ModelID())
		}
	}
}

func TestNewOpenRouterProvider_CustomBaseURL(t *testing.T) {
	p, err := NewOpenRouterProvider(OpenRouterConfig{
		APIKey:  "sk-or-test",
		Model:   "google/gemini-2.0-flash-exp",
		BaseURL: "https://proxy.internal/v1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
}
