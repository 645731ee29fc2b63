// Package tts defines the text-to-speech capability. Playback of translated
// turns is fire-and-forget: the engine hands text to a [Speaker] and only
// logs failures.
package tts

import (
	"context"
	"errors"
)

// ErrNoVoice is returned when no voice is available for a language.
var ErrNoVoice = errors.New("tts: no voice available")

// Provider is the abstraction over any TTS backend. Implementations must be
// safe for concurrent use.
type Provider interface {
	// SynthesizeStream reads text fragments until text is closed and emits
	// PCM audio chunks. The audio channel is closed when synthesis is done or
	// ctx is cancelled.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns the voices the backend offers.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
