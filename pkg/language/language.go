// Package language is the static catalogue of locales MedLingo can recognise,
// translate and speak.
//
// Codes are BCP-47 tags as used by browser speech APIs (e.g. "en-US"). Lookups
// for codes outside the catalogue degrade gracefully: [Name] and [Label] return
// the code unchanged so that prompts and UIs still show something meaningful.
package language

import "strings"

// Language describes one supported locale.
type Language struct {
	// Code is the BCP-47 locale tag (e.g. "es-ES").
	Code string

	// Name is the plain English language name used in translation prompts.
	Name string

	// Label is the human-readable picker label including the region.
	Label string
}

var catalogue = []Language{
	{Code: "en-US", Name: "English", Label: "English (US)"},
	{Code: "es-ES", Name: "Spanish", Label: "Spanish (Spain)"},
	{Code: "fr-FR", Name: "French", Label: "French (France)"},
	{Code: "de-DE", Name: "German", Label: "German (Germany)"},
	{Code: "ja-JP", Name: "Japanese", Label: "Japanese (Japan)"},
	{Code: "zh-CN", Name: "Chinese", Label: "Chinese (Simplified)"},
	{Code: "pt-BR", Name: "Portuguese", Label: "Portuguese (Brazil)"},
	{Code: "ar-SA", Name: "Arabic", Label: "Arabic (Saudi Arabia)"},
	{Code: "ru-RU", Name: "Russian", Label: "Russian (Russia)"},
	{Code: "hi-IN", Name: "Hindi", Label: "Hindi (India)"},
}

var byCode = func() map[string]Language {
	m := make(map[string]Language, len(catalogue))
	for _, l := range catalogue {
		m[l.Code] = l
	}
	return m
}()

// Defaults used when a participant has not picked languages yet.
const (
	DefaultSource = "en-US"
	DefaultTarget = "es-ES"
)

// All returns the catalogue in picker order. The returned slice is a copy.
func All() []Language {
	out := make([]Language, len(catalogue))
	copy(out, catalogue)
	return out
}

// Known reports whether code is in the catalogue.
func Known(code string) bool {
	_, ok := byCode[code]
	return ok
}

// Lookup returns the catalogue entry for code.
func Lookup(code string) (Language, bool) {
	l, ok := byCode[code]
	return l, ok
}

// Name returns the English language name for code, or code itself when unknown.
func Name(code string) string {
	if l, ok := byCode[code]; ok {
		return l.Name
	}
	return code
}

// Label returns the picker label for code, or code itself when unknown.
func Label(code string) string {
	if l, ok := byCode[code]; ok {
		return l.Label
	}
	return code
}

// Base returns the primary language subtag of code in lower case
// ("es" for "es-ES").
func Base(code string) string {
	base, _, _ := strings.Cut(code, "-")
	return strings.ToLower(base)
}
