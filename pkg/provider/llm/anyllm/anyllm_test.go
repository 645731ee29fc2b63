package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/medlingo/pkg/provider/llm"
)

// TestConvertMessage_User checks that user-role messages are converted correctly.
func TestConvertMessage_User(t *testing.T) {
	got := convertMessage(llm.Message{Role: "user", Content: "Hello!"})
	if got.Role != "user" {
		t.Errorf("expected role user, got %q", got.Role)
	}
	if got.ContentString() != "Hello!" {
		t.Errorf("expected content %q, got %q", "Hello!", got.ContentString())
	}
}

// TestBuildParams_SystemPromptFirst checks that the system prompt leads the message list.
func TestBuildParams_SystemPromptFirst(t *testing.T) {
	p := &Provider{model: "claude-3-5-haiku-latest"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are a medical translator.",
		Messages:     []llm.Message{{Role: "user", Content: "Translate: fever"}},
		Temperature:  0.3,
		MaxTokens:    4000,
	})
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("expected first message to be system, got %q", params.Messages[0].Role)
	}
	if params.Model != "claude-3-5-haiku-latest" {
		t.Errorf("expected model to be forwarded, got %q", params.Model)
	}
	if params.Temperature == nil || *params.Temperature != 0.3 {
		t.Errorf("expected temperature 0.3, got %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 4000 {
		t.Errorf("expected max tokens 4000, got %v", params.MaxTokens)
	}
}

// TestBuildParams_ZeroValuesOmitted checks that unset knobs stay nil.
func TestBuildParams_ZeroValuesOmitted(t *testing.T) {
	p := &Provider{model: "m"}
	params := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: "user", Content: "x"}}})
	if params.Temperature != nil {
		t.Error("expected nil temperature")
	}
	if params.MaxTokens != nil {
		t.Error("expected nil max tokens")
	}
	if len(params.Messages) != 1 {
		t.Errorf("expected 1 message without system prompt, got %d", len(params.Messages))
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "m"); err == nil {
		t.Error("expected error for empty provider name")
	}
	if _, err := New("ollama", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("bogus", "m"); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestNewOllama(t *testing.T) {
	p, err := NewOllama("llama3.1")
	if err != nil {
		t.Fatalf("NewOllama: %v", err)
	}
	if p.Name() != "ollama" {
		t.Errorf("expected name ollama, got %q", p.Name())
	}
}
