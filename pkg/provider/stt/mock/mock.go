// Package mock provides test doubles for the stt package interfaces.
//
// A [Provider] hands out a fresh [Session] per StartStream call. Tests drive
// a session with EmitPartial, EmitFinal and End, which simulate the backend.
//
//	p := &mock.Provider{}
//	h, _ := p.StartStream(ctx, stt.StreamConfig{Language: "en-US"})
//	p.Last().EmitFinal("The patient has a fever")
//	p.Last().End(stt.ErrNetwork)
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/medlingo/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// StartStreamErrs are returned by successive calls, one per call, before
	// falling back to StartStreamErr. A nil entry lets that call succeed.
	StartStreamErrs []error

	// StartStreamErr, if non-nil, is returned once StartStreamErrs is used up.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall

	sessions []*Session
}

var _ stt.Provider = (*Provider)(nil)

// StartStream records the call and returns a new Session or the configured
// error.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})

	err := p.StartStreamErr
	if len(p.StartStreamErrs) > 0 {
		err = p.StartStreamErrs[0]
		p.StartStreamErrs = p.StartStreamErrs[1:]
	}
	if err != nil {
		return nil, err
	}
	s := NewSession()
	p.sessions = append(p.sessions, s)
	return s, nil
}

// Calls returns the number of StartStream calls so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Sessions returns every session handed out so far.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, len(p.sessions))
	copy(out, p.sessions)
	return out
}

// Last returns the most recently started session, or nil.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// Session is a mock implementation of stt.SessionHandle.
type Session struct {
	partials chan stt.Transcript
	finals   chan stt.Transcript

	mu     sync.Mutex
	ended  bool
	err    error
	audio  [][]byte
	closes int
}

var _ stt.SessionHandle = (*Session)(nil)

// NewSession returns an open session with buffered channels.
func NewSession() *Session {
	return &Session{
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
	}
}

// EmitPartial delivers an interim transcript. It is a no-op after End.
func (s *Session) EmitPartial(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.partials <- stt.Transcript{Text: text}
	}
}

// EmitFinal delivers a committed segment. It is a no-op after End.
func (s *Session) EmitFinal(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.finals <- stt.Transcript{Text: text, IsFinal: true}
	}
}

// End simulates the backend ending the stream with err.
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(err)
}

func (s *Session) endLocked(err error) {
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.partials)
	close(s.finals)
}

// Ended reports whether the stream has ended.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// SendAudio records a copy of chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return errors.New("mock: session ended")
	}
	s.audio = append(s.audio, append([]byte(nil), chunk...))
	return nil
}

// Audio returns the chunks received so far.
func (s *Session) Audio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.audio...)
}

// Partials implements stt.SessionHandle.
func (s *Session) Partials() <-chan stt.Transcript { return s.partials }

// Finals implements stt.SessionHandle.
func (s *Session) Finals() <-chan stt.Transcript { return s.finals }

// Err implements stt.SessionHandle.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the stream normally.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.endLocked(nil)
	return nil
}

// CloseCount returns the number of Close calls.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
