package config_test

import (
	"errors"
	"log/slog"
	"slices"
	"testing"

	"github.com/MrWong99/medlingo/internal/config"
	"github.com/MrWong99/medlingo/pkg/provider/llm"
	llmmock "github.com/MrWong99/medlingo/pkg/provider/llm/mock"
	"github.com/MrWong99/medlingo/pkg/provider/stt"
	sttmock "github.com/MrWong99/medlingo/pkg/provider/stt/mock"
	"github.com/MrWong99/medlingo/pkg/provider/tts"
	ttsmock "github.com/MrWong99/medlingo/pkg/provider/tts/mock"
)

func TestLogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		level config.LogLevel
		valid bool
		slog  slog.Level
	}{
		{config.LogDebug, true, slog.LevelDebug},
		{config.LogInfo, true, slog.LevelInfo},
		{config.LogWarn, true, slog.LevelWarn},
		{config.LogError, true, slog.LevelError},
		{"verbose", false, slog.LevelInfo},
		{"", false, slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.level.IsValid(); got != tt.valid {
			t.Errorf("%q.IsValid() = %v, want %v", tt.level, got, tt.valid)
		}
		if got := tt.level.Level(); got != tt.slog {
			t.Errorf("%q.Level() = %v, want %v", tt.level, got, tt.slog)
		}
	}
}

func TestStoreBackend_IsValid(t *testing.T) {
	t.Parallel()
	for b, want := range map[config.StoreBackend]bool{
		config.StoreMemory:   true,
		config.StorePostgres: true,
		"redis":              false,
		"":                   false,
	} {
		if got := b.IsValid(); got != want {
			t.Errorf("%q.IsValid() = %v, want %v", b, got, want)
		}
	}
}

func TestProviderEntry_Option(t *testing.T) {
	t.Parallel()
	e := config.ProviderEntry{Options: map[string]any{"output_format": "pcm_24000", "sample_rate": 16000, "voices": []any{"a"}}}
	if got := e.Option("output_format"); got != "pcm_24000" {
		t.Errorf("Option(output_format) = %q", got)
	}
	if got := e.Option("sample_rate"); got != "16000" {
		t.Errorf("Option(sample_rate) = %q, want 16000", got)
	}
	if got := e.Option("voices"); got != "" {
		t.Errorf("non-scalar option = %q, want empty", got)
	}
	if got := (config.ProviderEntry{}).Option("x"); got != "" {
		t.Errorf("nil options = %q", got)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	var gotEntry config.ProviderEntry
	reg.RegisterLLM("openrouter", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return &llmmock.Provider{}, nil
	})
	reg.RegisterLLM("anthropic", func(config.ProviderEntry) (llm.Provider, error) {
		return nil, errors.New("no key")
	})
	reg.RegisterSTT("deepgram", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
	reg.RegisterTTS("elevenlabs", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })

	entry := config.ProviderEntry{Name: "openrouter", APIKey: "sk-or", Model: "m"}
	p, err := reg.CreateLLM(entry)
	if err != nil || p == nil {
		t.Fatalf("CreateLLM = %v, %v", p, err)
	}
	if gotEntry.APIKey != "sk-or" || gotEntry.Model != "m" {
		t.Errorf("factory got %+v", gotEntry)
	}
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "anthropic"}); err == nil || errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("factory error = %v", err)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "deepgram"}); err != nil {
		t.Errorf("CreateSTT: %v", err)
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "elevenlabs"}); err != nil {
		t.Errorf("CreateTTS: %v", err)
	}

	for _, create := range []func() error{
		func() error { _, err := reg.CreateLLM(config.ProviderEntry{Name: "nope"}); return err },
		func() error { _, err := reg.CreateSTT(config.ProviderEntry{Name: "nope"}); return err },
		func() error { _, err := reg.CreateTTS(config.ProviderEntry{Name: "nope"}); return err },
	} {
		if err := create(); !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("unregistered = %v, want ErrProviderNotRegistered", err)
		}
	}

	if got := reg.LLMNames(); !slices.Equal(got, []string{"anthropic", "openrouter"}) {
		t.Errorf("LLMNames = %v", got)
	}
}
