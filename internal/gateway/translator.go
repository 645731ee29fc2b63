// Package gateway implements MedLingo's translation gateway: a medical
// translation prompt sent to a hosted chat model, a process-lifetime cache,
// and the POST /api/translate handler that maps failures to HTTP statuses.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/medlingo/internal/observe"
	"github.com/MrWong99/medlingo/pkg/language"
	"github.com/MrWong99/medlingo/pkg/provider/llm"
)

// Failure classes returned by [Translator.Translate].
var (
	ErrInvalidRequest = errors.New("gateway: missing required fields")
	ErrNotConfigured  = errors.New("gateway: translation service not configured")
	ErrRateLimited    = errors.New("gateway: upstream rate limited")
	ErrUpstream       = errors.New("gateway: upstream failure")
)

const (
	temperature = 0.3
	maxTokens   = 4000
)

type cacheKey struct {
	text, source, target string
}

// Translator turns (text, source, target) into translated text. A nil
// provider yields [ErrNotConfigured] for every request.
type Translator struct {
	provider llm.Provider
	metrics  *observe.Metrics

	mu    sync.RWMutex
	cache map[cacheKey]string
}

// TranslatorOption configures a [Translator].
type TranslatorOption func(*Translator)

// WithMetrics records upstream latency on m.
func WithMetrics(m *observe.Metrics) TranslatorOption {
	return func(t *Translator) { t.metrics = m }
}

// NewTranslator returns a Translator backed by p.
func NewTranslator(p llm.Provider, opts ...TranslatorOption) *Translator {
	t := &Translator{
		provider: p,
		cache:    make(map[cacheKey]string),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Configured reports whether a model provider is available.
func (t *Translator) Configured() bool { return t.provider != nil }

// CacheLen returns the number of cached translations.
func (t *Translator) CacheLen() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.cache)
}

// Translate returns the translation of text. Results are cached for the life
// of the Translator. An empty model reply yields the source text unchanged.
func (t *Translator) Translate(ctx context.Context, text, source, target string) (string, error) {
	translation, _, err := t.translate(ctx, text, source, target)
	return translation, err
}

// translate additionally reports whether the result came from the cache.
func (t *Translator) translate(ctx context.Context, text, source, target string) (string, bool, error) {
	if strings.TrimSpace(text) == "" || strings.TrimSpace(source) == "" || strings.TrimSpace(target) == "" {
		return "", false, ErrInvalidRequest
	}
	if t.provider == nil {
		return "", false, ErrNotConfigured
	}

	key := cacheKey{text: text, source: source, target: target}
	t.mu.RLock()
	cached, ok := t.cache[key]
	t.mu.RUnlock()
	if ok {
		return cached, true, nil
	}

	ctx, span := observe.StartTranslateSpan(ctx, source, target, len(text))
	start := time.Now()
	resp, err := t.provider.Complete(ctx, buildRequest(text, source, target))
	if t.metrics != nil {
		t.metrics.TranslationDuration.Record(ctx, time.Since(start).Seconds())
	}
	observe.EndSpan(span, err)
	if err != nil {
		if llm.IsRateLimited(err) {
			return "", false, fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		return "", false, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	translation := text
	if resp != nil {
		if c := strings.TrimSpace(resp.Content); c != "" {
			translation = c
		}
	}

	t.mu.Lock()
	t.cache[key] = translation
	t.mu.Unlock()
	return translation, false, nil
}

// buildRequest renders the medical translation prompt.
func buildRequest(text, source, target string) llm.CompletionRequest {
	src, dst := language.Name(source), language.Name(target)
	return llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf("You are a specialized medical translator expert in healthcare terminology. "+
			"Translate accurately from %s to %s, focusing on medical conditions, anatomy, medications, "+
			"procedures, and diagnostics. Provide only the translation.", src, dst),
		Messages: []llm.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Translate the following medical text from %s to %s:\n\n\"%s\"\n\nTranslation:", src, dst, text),
		}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}
