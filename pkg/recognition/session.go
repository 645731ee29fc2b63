// Package recognition turns an stt.Provider into a start/stop recording
// session.
//
// A [Session] is Idle or Recording. While recording it keeps a stream open
// and re-opens it after a short delay whenever the backend ends it on its
// own, so recording stays continuous. Permission errors stop the session;
// transient errors are reported and the session keeps going until
// MaxRestarts consecutive restarts have failed.
//
// Every recognition event emits the full text known so far: the committed
// segments joined with spaces, followed by the current partial segment.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/MrWong99/medlingo/pkg/provider/stt"
)

// Default restart policy.
const (
	DefaultRestartDelay = 300 * time.Millisecond
	DefaultMaxRestarts  = 3
)

// ErrNotRecording is returned by [Session.SendAudio] while the session is idle.
var ErrNotRecording = errors.New("recognition: not recording")

// State is the externally visible state of a [Session].
type State int

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config configures a [Session].
type Config struct {
	// Provider opens recognition streams. Nil means the runtime has no
	// speech recognition capability; Start then fails with
	// stt.ErrUnavailable.
	Provider stt.Provider

	// Language is the speaker's locale, e.g. "en-US".
	Language string

	// Keywords are passed to every stream as vocabulary hints.
	Keywords []stt.KeywordBoost

	// Clock drives the restart timer. Defaults to the real clock.
	Clock clockwork.Clock

	// RestartDelay is the pause before a spontaneously ended stream is
	// re-opened. Defaults to 300ms.
	RestartDelay time.Duration

	// MaxRestarts bounds consecutive failed restarts. Defaults to 3.
	MaxRestarts int

	// OnText receives the full known text after every partial or final
	// segment. May be nil.
	OnText func(text string)

	// OnError receives every capability error, transient or not. May be nil.
	OnError func(err error)

	// OnStateChange is called when the session leaves or enters Recording.
	// The error is the reason for an involuntary stop, nil otherwise.
	// May be nil.
	OnStateChange func(state State, err error)
}

// Session is a continuous recording session. Callbacks are serialised and
// must not call [Session.Start] or [Session.Stop].
// All methods are safe for concurrent use.
type Session struct {
	provider     stt.Provider
	streamCfg    stt.StreamConfig
	clock        clockwork.Clock
	restartDelay time.Duration
	maxRestarts  int
	onText       func(string)
	onError      func(error)
	onState      func(State, error)

	// emitMu serialises callbacks.
	emitMu sync.Mutex

	mu       sync.Mutex
	state    State
	stopping bool
	gen      uint64 // incremented for every stream and on Stop
	ctx      context.Context
	cancel   context.CancelFunc
	handle   stt.SessionHandle
	watching chan struct{} // closed when the current stream's reader exits
	timer    clockwork.Timer
	finals   []string
	partial  string
	failures int
	heard    bool // the current stream produced a transcript
	lastErr  error
}

// New returns an idle session.
func New(cfg Config) *Session {
	clk := cfg.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	delay := cfg.RestartDelay
	if delay <= 0 {
		delay = DefaultRestartDelay
	}
	maxRestarts := cfg.MaxRestarts
	if maxRestarts <= 0 {
		maxRestarts = DefaultMaxRestarts
	}
	return &Session{
		provider:     cfg.Provider,
		streamCfg:    stt.StreamConfig{Language: cfg.Language, Keywords: cfg.Keywords},
		clock:        clk,
		restartDelay: delay,
		maxRestarts:  maxRestarts,
		onText:       cfg.OnText,
		onError:      cfg.OnError,
		onState:      cfg.OnStateChange,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the error that last stopped the session involuntarily.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Text returns the full text known so far.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.textLocked()
}

// SetLanguage changes the locale used for streams opened from now on.
func (s *Session) SetLanguage(lang string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamCfg.Language = lang
}

// Start opens the first stream and enters Recording. It fails fast with
// stt.ErrUnavailable or stt.ErrPermissionDenied when the capability is
// absent or refused. Starting resets the accumulated text. Calling Start
// while recording is a no-op.
func (s *Session) Start(ctx context.Context) error {
	if s.provider == nil {
		return stt.ErrUnavailable
	}

	s.mu.Lock()
	if s.state == Recording {
		s.mu.Unlock()
		return nil
	}
	cfg := s.streamCfg
	s.mu.Unlock()

	sctx, cancel := context.WithCancel(ctx)
	h, err := s.provider.StartStream(sctx, cfg)
	if err != nil {
		cancel()
		return fmt.Errorf("recognition: start: %w", err)
	}

	s.mu.Lock()
	if s.state == Recording {
		// Lost a race with a concurrent Start.
		s.mu.Unlock()
		cancel()
		_ = h.Close()
		return nil
	}
	s.state = Recording
	s.ctx, s.cancel = sctx, cancel
	s.finals, s.partial = nil, ""
	s.failures = 0
	s.lastErr = nil
	s.attachLocked(h)
	s.mu.Unlock()

	slog.Debug("recognition started", "language", cfg.Language)
	s.emit(func() {
		if s.onState != nil {
			s.onState(Recording, nil)
		}
	})
	return nil
}

// Stop closes the stream, waits for it to flush and returns the accumulated
// final text. It returns "" when the session is idle.
func (s *Session) Stop() string {
	s.mu.Lock()
	if s.state != Recording || s.stopping {
		s.mu.Unlock()
		return ""
	}
	s.stopping = true
	h, watching := s.handle, s.watching
	s.gen++
	s.handle = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	// Late finals from the flush still land in s.finals: the reader keeps
	// its stream's generation until it exits.
	if h != nil {
		_ = h.Close()
		<-watching
	}

	s.mu.Lock()
	text := strings.Join(s.finals, " ")
	s.state = Idle
	s.stopping = false
	s.finals, s.partial = nil, ""
	cancel := s.cancel
	s.mu.Unlock()
	cancel()

	s.emit(func() {
		if s.onState != nil {
			s.onState(Idle, nil)
		}
	})
	return strings.TrimSpace(text)
}

// SendAudio forwards a PCM chunk to the open stream. Chunks arriving while
// a stream is being re-opened are dropped.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	state, h := s.state, s.handle
	s.mu.Unlock()
	if state != Recording {
		return ErrNotRecording
	}
	if h == nil {
		return nil
	}
	return h.SendAudio(chunk)
}

// attachLocked makes h the current stream and starts its reader.
func (s *Session) attachLocked(h stt.SessionHandle) {
	s.gen++
	s.handle = h
	s.heard = false
	s.watching = make(chan struct{})
	go s.watch(s.gen, h, s.watching)
}

// watch reads one stream until both of its channels close.
func (s *Session) watch(gen uint64, h stt.SessionHandle, done chan struct{}) {
	partials, finals := h.Partials(), h.Finals()
	for partials != nil || finals != nil {
		select {
		case tr, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			s.onTranscript(tr, false)
		case tr, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			s.onTranscript(tr, true)
		}
	}
	close(done)
	s.onStreamEnd(gen, h.Err())
}

func (s *Session) onTranscript(tr stt.Transcript, final bool) {
	text := strings.TrimSpace(tr.Text)

	s.mu.Lock()
	if s.state != Recording {
		s.mu.Unlock()
		return
	}
	if text != "" {
		s.heard = true
		s.failures = 0
	}
	if final {
		if text != "" {
			s.finals = append(s.finals, text)
		}
		s.partial = ""
	} else {
		s.partial = text
	}
	full := s.textLocked()
	s.mu.Unlock()

	s.emit(func() {
		if s.onText != nil {
			s.onText(full)
		}
	})
}

// onStreamEnd decides between restarting and going idle after a stream of
// generation gen ended with err.
func (s *Session) onStreamEnd(gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen || s.state != Recording {
		s.mu.Unlock()
		return
	}
	s.handle = nil

	if s.ctx.Err() != nil {
		s.mu.Unlock()
		s.halt(gen, nil)
		return
	}
	if err != nil && stt.IsPermission(err) {
		s.mu.Unlock()
		s.report(err)
		s.halt(gen, err)
		return
	}
	if err != nil && !s.heard {
		s.failures++
	}
	exhausted := s.failures >= s.maxRestarts
	if !exhausted {
		s.scheduleRestartLocked()
	}
	s.mu.Unlock()

	if err != nil {
		s.report(err)
	}
	if exhausted {
		s.halt(gen, err)
	}
}

func (s *Session) scheduleRestartLocked() {
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.restartDelay, func() { s.restart(gen) })
}

// restart re-opens the stream unless the session moved on since the
// restart was scheduled.
func (s *Session) restart(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != Recording {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	ctx, cfg := s.ctx, s.streamCfg
	s.mu.Unlock()

	h, err := s.provider.StartStream(ctx, cfg)

	s.mu.Lock()
	if s.gen != gen || s.state != Recording {
		s.mu.Unlock()
		if h != nil {
			_ = h.Close()
		}
		return
	}
	if err == nil {
		s.attachLocked(h)
		s.mu.Unlock()
		slog.Debug("recognition restarted", "language", cfg.Language)
		return
	}

	permanent := stt.IsPermission(err) || ctx.Err() != nil
	if !permanent {
		s.failures++
	}
	exhausted := permanent || s.failures >= s.maxRestarts
	if !exhausted {
		s.scheduleRestartLocked()
	}
	s.mu.Unlock()

	slog.Warn("recognition restart failed", "attempt", s.failures, "error", err)
	s.report(err)
	if exhausted {
		s.halt(gen, err)
	}
}

// halt moves to Idle after an involuntary stop, unless Stop or a newer
// stream got there first.
func (s *Session) halt(gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen || s.state != Recording {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.state = Idle
	s.handle = nil
	s.finals, s.partial = nil, ""
	s.lastErr = err
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	cancel := s.cancel
	s.mu.Unlock()
	cancel()

	if err != nil {
		slog.Warn("recognition stopped", "error", err)
	}
	s.emit(func() {
		if s.onState != nil {
			s.onState(Idle, err)
		}
	})
}

func (s *Session) report(err error) {
	s.emit(func() {
		if s.onError != nil {
			s.onError(err)
		}
	})
}

func (s *Session) emit(f func()) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	f()
}

func (s *Session) textLocked() string {
	parts := s.finals
	if s.partial != "" {
		parts = append(parts[:len(parts):len(parts)], s.partial)
	}
	return strings.Join(parts, " ")
}

// UserMessage returns the wording shown to a user for a capability error.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, stt.ErrUnavailable):
		return "Speech recognition is not supported."
	case errors.Is(err, stt.ErrPermissionDenied):
		return "Microphone access denied."
	case errors.Is(err, stt.ErrNoSpeech):
		return "No speech detected."
	case errors.Is(err, stt.ErrAudioCapture):
		return "Microphone error."
	case errors.Is(err, stt.ErrNetwork):
		return "Speech recognition network error."
	default:
		return "Speech recognition error: " + err.Error()
	}
}
