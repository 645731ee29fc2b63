// Package llm defines the Provider interface for the hosted language models
// that perform MedLingo's translations.
//
// A provider wraps a remote or local chat-completion API (OpenRouter, OpenAI,
// Anthropic, a local Ollama instance, ...) behind one small interface so that
// the translation gateway never couples to a specific SDK.
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrRateLimited is wrapped by providers when the upstream API rejected the
// request because of rate limiting or exhausted quota (HTTP 429).
var ErrRateLimited = errors.New("llm: rate limited")

// Message is a single chat message.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is an optional instruction injected before Messages.
	SystemPrompt string

	// Messages is the ordered conversation. The last message drives the reply.
	Messages []Message

	// Temperature controls output randomness. Zero means provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider default.
	MaxTokens int
}

// CompletionResponse is the model's full reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete sends req to the model and waits for the full reply.
	// Errors caused by upstream rate limiting wrap [ErrRateLimited].
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// IsRateLimited reports whether err signals upstream rate limiting, either by
// wrapping [ErrRateLimited] or by carrying an HTTP 429 marker in its message
// (some SDKs only surface the status code as text).
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}
