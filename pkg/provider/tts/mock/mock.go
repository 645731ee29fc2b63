// Package mock provides a test double for the tts.Provider interface.
//
//	p := &mock.Provider{
//	    SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")},
//	    ListVoicesResult: []tts.VoiceProfile{{ID: "v1", Language: "es-ES"}},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/medlingo/pkg/provider/tts"
)

// SynthesizeCall records one SynthesizeStream invocation with the text it
// consumed.
type SynthesizeCall struct {
	Voice tts.VoiceProfile
	Text  []string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SynthesizeChunks is emitted on every audio channel.
	SynthesizeChunks [][]byte

	// SynthesizeErr, if non-nil, is returned from SynthesizeStream.
	SynthesizeErr error

	// ListVoicesResult and ListVoicesErr are returned from ListVoices.
	ListVoicesResult []tts.VoiceProfile
	ListVoicesErr    error

	synthCalls []SynthesizeCall
	listCalls  int
	spoken     chan SynthesizeCall
}

var _ tts.Provider = (*Provider)(nil)

// SynthesizeStream drains text, records the call and emits SynthesizeChunks.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	err, chunks := p.SynthesizeErr, p.SynthesizeChunks
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make(chan []byte, len(chunks))
	go func() {
		defer close(out)
		call := SynthesizeCall{Voice: voice}
		for s := range text {
			call.Text = append(call.Text, s)
		}
		p.record(call)
		for _, c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (p *Provider) record(call SynthesizeCall) {
	p.mu.Lock()
	p.synthCalls = append(p.synthCalls, call)
	ch := p.spoken
	p.mu.Unlock()
	if ch != nil {
		ch <- call
	}
}

// Spoken returns a channel that receives every subsequent SynthesizeStream
// call once its text has been consumed. The channel is buffered for 16 calls.
func (p *Provider) Spoken() <-chan SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.spoken == nil {
		p.spoken = make(chan SynthesizeCall, 16)
	}
	return p.spoken
}

// SynthesizeCalls returns the recorded calls.
func (p *Provider) SynthesizeCalls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SynthesizeCall(nil), p.synthCalls...)
}

// ListVoices returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listCalls++
	return p.ListVoicesResult, p.ListVoicesErr
}

// ListVoicesCalls returns the number of ListVoices calls.
func (p *Provider) ListVoicesCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listCalls
}
