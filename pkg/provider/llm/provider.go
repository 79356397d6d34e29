// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API and exposes a uniform
// streaming interface with function calling for the voxtutor conversation
// engine, without coupling it to any specific SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamChat must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import (
	"context"

	"github.com/ckocel/voxtutor/pkg/types"
)

// ToolChoice controls whether the model may call tools during a round.
type ToolChoice string

const (
	// ToolChoiceAuto lets the model decide whether to call tools.
	ToolChoiceAuto ToolChoice = "auto"

	// ToolChoiceNone disables tool calling for the round even when tool
	// definitions are supplied. Used for the follow-up round after tool
	// execution to force a natural-language synthesis.
	ToolChoiceNone ToolChoice = "none"
)

// ChatRequest carries everything the LLM needs to produce one streamed round.
// Tool availability is a per-round parameter of the call, not ambient state:
// the conversation engine offers tools in the first round and withholds them
// in the follow-up round after tool execution.
type ChatRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []types.Message

	// Tools is the set of function definitions offered to the model for this
	// round. Nil or empty disables tool calling regardless of ToolChoice.
	Tools []types.ToolDefinition

	// ToolChoice selects the tool-calling mode for this round.
	// Ignored when Tools is empty.
	ToolChoice ToolChoice

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// Temperature controls output randomness in the range [0.0, 2.0].
	Temperature float64
}

// ToolCallDelta is a streamed fragment of a tool call. Providers may split a
// single tool call across many chunks; the Index identifies which call a
// fragment belongs to, and Arguments fragments must be concatenated by the
// consumer in arrival order.
type ToolCallDelta struct {
	// Index identifies the tool call this fragment extends. Stable across all
	// fragments of the same call within one round.
	Index int

	// ID is the provider-assigned call identifier. Usually present only on the
	// first fragment of a call; empty on continuation fragments.
	ID string

	// Name is the tool name. Usually present only on the first fragment.
	Name string

	// Arguments is the next fragment of the JSON arguments text.
	Arguments string
}

// Chunk is a single fragment emitted by a streaming chat round. A chunk may
// carry a content delta, tool-call deltas, a finish signal, or any combination.
type Chunk struct {
	// Text is the incremental content of this chunk. May be empty if the chunk
	// carries only ToolCallDeltas or a FinishReason.
	Text string

	// ToolCallDeltas contains streamed tool-call fragments, in arrival order.
	ToolCallDeltas []ToolCallDelta

	// FinishReason is set on the final chunk and indicates why generation
	// stopped. Common values are "stop", "length", "tool_calls", and "error";
	// empty for non-final chunks.
	FinishReason string
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines
// and must propagate context cancellation promptly: when ctx is cancelled the
// stream channel must be closed as quickly as possible.
type Provider interface {
	// StreamChat sends req to the model and returns a read-only channel that
	// emits Chunk values as they arrive. The channel is closed by the
	// implementation when the round finishes or when ctx is cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. Errors that
	// occur after the channel is opened are surfaced as a Chunk with
	// FinishReason "error"; the initial error return is non-nil only for
	// failures that prevent the stream from starting.
	//
	// The returned channel must never be nil when error is nil.
	StreamChat(ctx context.Context, req ChatRequest) (<-chan Chunk, error)
}
