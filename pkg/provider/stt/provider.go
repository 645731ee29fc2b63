// Package stt defines the speech recognition capability used by a
// recognition session.
//
// A provider opens streams. Each stream accepts raw PCM audio and emits
// interim transcripts on Partials and committed segments on Finals. When a
// stream ends on its own (the backend closes a segment, the network drops,
// the microphone disappears) both channels close and Err reports why.
//
// Capability errors are classified by the sentinels below so that callers can
// decide whether to restart, give up or just report.
package stt

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable means the runtime has no speech recognition capability.
	ErrUnavailable = errors.New("stt: speech recognition unavailable")

	// ErrPermissionDenied means microphone access was refused. It requires
	// an explicit user retry.
	ErrPermissionDenied = errors.New("stt: microphone permission denied")

	// ErrNoSpeech means the backend heard nothing in its listening window.
	ErrNoSpeech = errors.New("stt: no speech detected")

	// ErrAudioCapture is a transient capture glitch.
	ErrAudioCapture = errors.New("stt: audio capture failed")

	// ErrNetwork is a transient network failure between capture and backend.
	ErrNetwork = errors.New("stt: network error")
)

// IsPermission reports whether err must stop recording instead of being
// retried.
func IsPermission(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrUnavailable)
}

// IsTransient reports whether err is a glitch that keeps a session alive.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNoSpeech) || errors.Is(err, ErrAudioCapture) || errors.Is(err, ErrNetwork)
}

// StreamConfig describes the audio format and language of a new stream.
type StreamConfig struct {
	// Language is the BCP-47 tag of the speaker, e.g. "en-US".
	Language string

	// SampleRate is the PCM sample rate in Hz. Zero selects the provider
	// default.
	SampleRate int

	// Channels is the number of interleaved audio channels. Zero means mono.
	Channels int

	// Keywords are vocabulary hints such as drug names that the backend
	// should favour.
	Keywords []KeywordBoost
}

// SessionHandle is one open recognition stream. All methods are safe for
// concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of PCM audio. It fails after the stream
	// ended.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts. Closed when the stream ends.
	Partials() <-chan Transcript

	// Finals emits committed segments. Closed when the stream ends.
	Finals() <-chan Transcript

	// Err returns the reason the stream ended, or nil for a normal end.
	// It is only meaningful after Finals is closed.
	Err() error

	// Close terminates the stream and flushes pending audio. Calling Close
	// more than once is safe.
	Close() error
}

// Provider opens recognition streams. Implementations must be safe for
// concurrent use.
type Provider interface {
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
