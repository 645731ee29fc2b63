package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/medlingo/internal/config"
	"github.com/MrWong99/medlingo/internal/resilience"
	"github.com/MrWong99/medlingo/pkg/provider/llm"
	"github.com/MrWong99/medlingo/pkg/provider/llm/anyllm"
	"github.com/MrWong99/medlingo/pkg/provider/llm/openai"
	"github.com/MrWong99/medlingo/pkg/provider/stt"
	"github.com/MrWong99/medlingo/pkg/provider/stt/deepgram"
	"github.com/MrWong99/medlingo/pkg/provider/tts"
	"github.com/MrWong99/medlingo/pkg/provider/tts/elevenlabs"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// OpenRouter speaks the OpenAI chat-completions protocol.
	reg.RegisterLLM("openrouter", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, name := range anyllm.Supported {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if rate := entry.Option("sample_rate"); rate != "" {
			n, err := strconv.Atoi(rate)
			if err != nil {
				return nil, fmt.Errorf("deepgram: sample_rate %q: %w", rate, err)
			}
			opts = append(opts, deepgram.WithSampleRate(n))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if format := entry.Option("output_format"); format != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(format))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	slog.Debug("registered providers", "llm", reg.LLMNames())
}

// buildTranslationModel creates the primary model and its fallbacks. A
// primary that cannot be built (typically: no API key) is logged and
// skipped; with no usable model at all it returns nil, and the gateway
// answers every request with a configuration error.
func buildTranslationModel(cfg *config.Config, reg *config.Registry) llm.Provider {
	entries := append([]config.ProviderEntry{cfg.Providers.LLM}, cfg.Providers.LLMFallbacks...)

	var group *resilience.ModelFallback
	for i, entry := range entries {
		if i > 0 && entry.APIKey == "" && entry.Name == cfg.Providers.LLM.Name {
			entry.APIKey = cfg.Providers.LLM.APIKey
		}
		p, err := reg.CreateLLM(entry)
		if err != nil {
			level := slog.LevelWarn
			if errors.Is(err, config.ErrProviderNotRegistered) {
				level = slog.LevelError
			}
			slog.Log(context.Background(), level, "translation model unavailable", "provider", entry.Name, "model", entry.Model, "err", err)
			continue
		}
		name := entry.Name
		if entry.Model != "" {
			name += "/" + entry.Model
		}
		if group == nil {
			group = resilience.NewModelFallback(p, name, resilience.FallbackConfig{
				CircuitBreaker: resilience.CircuitBreakerConfig{
					// A rate limit is the upstream working as intended.
					IsFailure: func(err error) bool { return err != nil && !errors.Is(err, llm.ErrRateLimited) },
				},
			})
			continue
		}
		group.AddFallback(name, p)
	}
	if group == nil {
		return nil
	}
	slog.Info("translation models ready", "order", group.Names())
	return group
}
