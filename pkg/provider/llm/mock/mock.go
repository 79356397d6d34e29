// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the conversation engine sends
// correct ChatRequests and to feed controlled chunk sequences without a live
// LLM backend. All fields are safe to set before calling any method; mutating
// them during a concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    Rounds: [][]llm.Chunk{{{Text: "Hello!", FinishReason: "stop"}}},
//	}
//	ch, err := p.StreamChat(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/ckocel/voxtutor/pkg/provider/llm"
)

// StreamCall records a single invocation of StreamChat.
type StreamCall struct {
	// Ctx is the context passed to StreamChat.
	Ctx context.Context
	// Req is the ChatRequest passed to StreamChat.
	Req llm.ChatRequest
}

// Provider is a mock implementation of llm.Provider.
//
// Each StreamChat call consumes the next entry of Rounds; calls beyond the
// scripted rounds emit a single empty "stop" chunk. Set StreamErr to fail
// the stream before it starts.
type Provider struct {
	mu sync.Mutex

	// Rounds holds one chunk script per expected StreamChat call, in order.
	// All chunks of the active script are sent before the channel is closed.
	Rounds [][]llm.Chunk

	// StreamErr, if non-nil, is returned as the error from StreamChat instead
	// of starting a channel.
	StreamErr error

	// StreamCalls records every StreamChat invocation in order.
	StreamCalls []StreamCall

	round int
}

var _ llm.Provider = (*Provider)(nil)

// StreamChat implements llm.Provider.
func (p *Provider) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	var script []llm.Chunk
	if p.round < len(p.Rounds) {
		script = p.Rounds[p.round]
	} else {
		script = []llm.Chunk{{FinishReason: "stop"}}
	}
	p.round++
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(script))
	go func() {
		defer close(ch)
		for _, c := range script {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Calls returns a snapshot of recorded StreamChat invocations.
func (p *Provider) Calls() []StreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StreamCall, len(p.StreamCalls))
	copy(out, p.StreamCalls)
	return out
}
