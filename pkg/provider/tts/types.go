package tts

import "strings"

// VoiceProfile describes one synthesis voice.
type VoiceProfile struct {
	ID       string
	Name     string
	Provider string

	// Language is the BCP-47 tag the voice is meant for. Empty for
	// multilingual voices.
	Language string

	Metadata map[string]string
}

// DefaultVoice picks the voice for language: an exact tag match first, then a
// voice of the same primary language ("es" for "es-MX"), then the first
// multilingual voice.
func DefaultVoice(voices []VoiceProfile, language string) (VoiceProfile, bool) {
	primary := primaryTag(language)
	var sameLang, multi *VoiceProfile
	for i := range voices {
		v := &voices[i]
		switch {
		case strings.EqualFold(v.Language, language):
			return *v, true
		case sameLang == nil && v.Language != "" && strings.EqualFold(primaryTag(v.Language), primary):
			sameLang = v
		case multi == nil && v.Language == "":
			multi = v
		}
	}
	if sameLang != nil {
		return *sameLang, true
	}
	if multi != nil {
		return *multi, true
	}
	return VoiceProfile{}, false
}

func primaryTag(tag string) string {
	p, _, _ := strings.Cut(tag, "-")
	return p
}
