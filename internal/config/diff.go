package config

import (
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Only the log level
// can be applied without a restart; the other flags tell the operator that a
// restart is needed for the change to take effect.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TranslationChanged also covers the fallback chain.
	ListenAddrChanged  bool
	TranslationChanged bool
	StoreChanged       bool
	OriginsChanged     bool
}

// RestartRequired reports whether any change needs a process restart.
func (d ConfigDiff) RestartRequired() bool {
	return d.ListenAddrChanged || d.TranslationChanged || d.StoreChanged || d.OriginsChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.ListenAddrChanged = old.Server.ListenAddr != new.Server.ListenAddr
	d.OriginsChanged = !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins)
	d.StoreChanged = old.Store != new.Store

	if !sameEntry(old.Providers.LLM, new.Providers.LLM) ||
		!slices.EqualFunc(old.Providers.LLMFallbacks, new.Providers.LLMFallbacks, sameEntry) {
		d.TranslationChanged = true
	}
	return d
}

// sameEntry compares two provider entries, including their options.
func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	return maps.EqualFunc(a.Options, b.Options, func(x, y any) bool { return reflect.DeepEqual(x, y) })
}
