package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/medlingo/pkg/language"
)

// Environment variables that override file values. Secrets normally come
// from here rather than from the YAML file.
const (
	EnvAPIKey      = "OPENROUTER_API_KEY"
	EnvModel       = "OPENROUTER_MODEL"
	EnvPostgresDSN = "MEDLINGO_POSTGRES_DSN"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr  = ":8080"
	DefaultLLMProvider = "openrouter"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openrouter", "openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram"},
	"tts": {"elevenlabs"},
}

// keyless lists LLM providers that run without an API key.
var keyless = []string{"ollama", "llamacpp", "llamafile"}

// Load reads the YAML configuration file at path, applies defaults and
// environment overrides and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// FromEnv returns the configuration used when no file is given: defaults
// plus environment overrides.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	ApplyEnv(cfg, os.LookupEnv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// environment overrides and validates the result. An empty document is a
// valid, all-defaults config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.LLM.Name == "" {
		cfg.Providers.LLM.Name = DefaultLLMProvider
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreMemory
	}
}

// ApplyEnv overlays environment variables read through lookup. The API key
// and model apply to the primary LLM entry. A DSN in the environment also
// selects the postgres store unless the file chose a backend, so ApplyEnv
// must run before [ApplyDefaults].
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAPIKey); ok && v != "" {
		cfg.Providers.LLM.APIKey = v
	}
	if v, ok := lookup(EnvModel); ok && v != "" {
		cfg.Providers.LLM.Model = v
	}
	if v, ok := lookup(EnvPostgresDSN); ok && v != "" {
		cfg.Store.PostgresDSN = v
		if cfg.Store.Backend == "" {
			cfg.Store.Backend = StorePostgres
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// A missing translation credential is only a warning: the server still
// starts and answers translation requests with a configuration error.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	if missingKey(cfg.Providers.LLM) {
		slog.Warn("no translation credential configured; translation requests will fail",
			"provider", cfg.Providers.LLM.Name,
			"env", EnvAPIKey,
		)
	}
	for i, fb := range cfg.Providers.LLMFallbacks {
		prefix := fmt.Sprintf("providers.llm_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName("llm", fb.Name)
		if fb.Model == "" && fb.Name != DefaultLLMProvider {
			errs = append(errs, fmt.Errorf("%s.model is required for provider %q", prefix, fb.Name))
		}
	}

	if !cfg.Store.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, postgres", cfg.Store.Backend))
	}
	if cfg.Store.Backend == StorePostgres && cfg.Store.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("store.postgres_dsn is required for the postgres backend (or set %s)", EnvPostgresDSN))
	}

	c := cfg.Client
	if c.Role != "" && !c.Role.Valid() {
		errs = append(errs, fmt.Errorf("client.role %q is invalid; valid values: doctor, patient", c.Role))
	}
	for field, code := range map[string]string{"client.source_language": c.SourceLanguage, "client.target_language": c.TargetLanguage} {
		if code != "" && !language.Known(code) {
			slog.Warn("unknown language code; it is passed through unchanged", "field", field, "code", code)
		}
	}

	return errors.Join(errs...)
}

func missingKey(e ProviderEntry) bool {
	return e.APIKey == "" && !slices.Contains(keyless, e.Name)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
