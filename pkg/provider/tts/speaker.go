package tts

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Speaker synthesises whole utterances with a [Provider] and writes the
// audio to a sink. The voice list is fetched once and cached.
type Speaker struct {
	provider Provider
	sink     io.Writer

	overrides map[string]VoiceProfile

	mu     sync.Mutex
	voices []VoiceProfile
	loaded bool
	// play serialises writes so utterances do not interleave on the sink.
	play sync.Mutex
}

// SpeakerOption configures a [Speaker].
type SpeakerOption func(*Speaker)

// WithVoice pins the voice used for language, bypassing [DefaultVoice].
func WithVoice(language string, v VoiceProfile) SpeakerOption {
	return func(s *Speaker) { s.overrides[strings.ToLower(language)] = v }
}

// NewSpeaker returns a Speaker that writes PCM audio to sink.
func NewSpeaker(p Provider, sink io.Writer, opts ...SpeakerOption) *Speaker {
	s := &Speaker{provider: p, sink: sink, overrides: make(map[string]VoiceProfile)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Speak synthesises text in language and blocks until the audio has been
// written to the sink.
func (s *Speaker) Speak(ctx context.Context, text, language string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	voice, err := s.voice(ctx, language)
	if err != nil {
		return err
	}
	if voice.Language == "" {
		voice.Language = language
	}

	in := make(chan string, 1)
	in <- text
	close(in)
	audio, err := s.provider.SynthesizeStream(ctx, in, voice)
	if err != nil {
		return fmt.Errorf("tts: synthesize: %w", err)
	}

	s.play.Lock()
	defer s.play.Unlock()
	var werr error
	for chunk := range audio {
		if werr != nil {
			continue // drain so the provider can finish
		}
		if _, err := s.sink.Write(chunk); err != nil {
			werr = fmt.Errorf("tts: write audio: %w", err)
		}
	}
	if werr != nil {
		return werr
	}
	return ctx.Err()
}

func (s *Speaker) voice(ctx context.Context, language string) (VoiceProfile, error) {
	if v, ok := s.overrides[strings.ToLower(language)]; ok {
		return v, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		voices, err := s.provider.ListVoices(ctx)
		if err != nil {
			return VoiceProfile{}, fmt.Errorf("tts: list voices: %w", err)
		}
		s.voices, s.loaded = voices, true
	}
	v, ok := DefaultVoice(s.voices, language)
	if !ok {
		return VoiceProfile{}, fmt.Errorf("%w for %s", ErrNoVoice, language)
	}
	return v, nil
}
