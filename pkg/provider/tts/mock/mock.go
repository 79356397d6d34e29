// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/ckocel/voxtutor/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider. It echoes every text
// fragment back as audio bytes ([]byte of the fragment), which lets tests
// assert exactly which text reached synthesis and in what order.
type Provider struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned from SynthesizeStream.
	StartErr error

	// Texts records every fragment received, across all streams, in order.
	Texts []string

	// Voices records the voice passed to each SynthesizeStream call.
	Voices []tts.Voice
}

var _ tts.Provider = (*Provider)(nil)

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	p.mu.Lock()
	if p.StartErr != nil {
		err := p.StartErr
		p.mu.Unlock()
		return nil, err
	}
	p.Voices = append(p.Voices, voice)
	p.mu.Unlock()

	audio := make(chan []byte, 64)
	go func() {
		defer close(audio)
		for {
			select {
			case <-ctx.Done():
				return
			case fragment, ok := <-text:
				if !ok {
					return
				}
				p.mu.Lock()
				p.Texts = append(p.Texts, fragment)
				p.mu.Unlock()
				select {
				case audio <- []byte(fragment):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return audio, nil
}

// Received returns a snapshot of all text fragments synthesised so far.
func (p *Provider) Received() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Texts))
	copy(out, p.Texts)
	return out
}
