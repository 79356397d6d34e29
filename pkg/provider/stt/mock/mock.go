// Package mock provides a test double for the stt.Provider interface.
//
// The mock records every Transcribe call and replays scripted results, with
// optional per-call blocking so tests can exercise cancellation of in-flight
// interim requests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/ckocel/voxtutor/pkg/provider/stt"
	"github.com/ckocel/voxtutor/pkg/types"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// PCM is the audio buffer passed to Transcribe.
	PCM []byte
	// Cfg is the configuration passed to Transcribe.
	Cfg stt.Config
}

// Provider is a mock implementation of stt.Provider.
//
// Each call consumes the next entry of Results; calls beyond the scripted
// results return Result (or the zero Transcript). Set Err to fail every call.
type Provider struct {
	mu sync.Mutex

	// Results holds one transcript per expected call, in order.
	Results []types.Transcript

	// Result is returned once Results is exhausted.
	Result types.Transcript

	// Err, if non-nil, is returned from every Transcribe call.
	Err error

	// Delay, if non-zero, blocks each call until the delay elapses or ctx is
	// cancelled (returning ctx.Err()). Used to test interim cancellation.
	Delay time.Duration

	// TranscribeCalls records every invocation in order.
	TranscribeCalls []TranscribeCall

	next int
}

var _ stt.Provider = (*Provider)(nil)

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, cfg stt.Config) (types.Transcript, error) {
	p.mu.Lock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{PCM: cp, Cfg: cfg})
	res := p.Result
	if p.next < len(p.Results) {
		res = p.Results[p.next]
	}
	p.next++
	err := p.Err
	delay := p.Delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return types.Transcript{}, ctx.Err()
		}
	}
	if err != nil {
		return types.Transcript{}, err
	}
	return res, nil
}

// CallCount returns the number of Transcribe invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}
