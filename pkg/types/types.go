// Package types defines the shared types used across all voxtutor packages.
//
// These types form the lingua franca between providers, the conversation
// engine, the retrieval layer, and the session orchestrator. They are
// intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// AudioFrame represents a single frame of audio data flowing through the pipeline.
// Frames are the atomic unit of audio transport — captured from the room input
// stream, processed by VAD, buffered for transcription, and played back through
// the room output stream.
type AudioFrame struct {
	// PCM audio data, 16-bit signed little-endian.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for room Opus, 16000 for STT).
	SampleRate int

	// Channels: 1 for mono (STT input), 2 for stereo (room output).
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of samples per channel in the frame.
func (f AudioFrame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / 2 / f.Channels
}

// Transcript represents a speech-to-text result.
// Both interim and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or interim transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}

// Message represents a single message in an LLM conversation history.
// The ordering of messages is significant — history is replayed verbatim
// to the language model.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text content of the message. Empty for assistant messages
	// that carry only tool calls.
	Content string

	// Name is an optional participant name (for multi-speaker contexts).
	Name string

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying which tool call this
	// message responds to. It must reference a ToolCall.ID emitted by a preceding
	// assistant message in the same exchange.
	ToolCallID string
}

// ToolCall represents a tool/function invocation requested by the LLM.
// During streaming it is built incrementally: argument fragments are
// concatenated in arrival order until the round ends.
type ToolCall struct {
	// ID is the unique identifier for this tool call (provider-assigned).
	ID string

	// Name is the tool/function name.
	Name string

	// Arguments is the raw accumulated JSON arguments string.
	Arguments string
}

// ToolDefinition describes a tool that can be offered to an LLM.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in LLM prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any
}

// StatusKind enumerates the out-of-band signals a session publishes on its
// data side-channel while a turn is being processed.
type StatusKind int

const (
	// StatusText is a human-readable progress indicator ("Searching the web...").
	StatusText StatusKind = iota

	// StatusVisualLoading signals that a visual is being generated.
	StatusVisualLoading

	// StatusVisualReady carries the URL of a generated visual.
	StatusVisualReady

	// StatusDone signals that LLM processing for the turn has finished.
	// Audio may still be synthesizing or playing — this is a logical-completion
	// signal, not a playback-completion signal.
	StatusDone
)

// String returns the human-readable name of the status kind.
func (k StatusKind) String() string {
	switch k {
	case StatusText:
		return "status"
	case StatusVisualLoading:
		return "visual-loading"
	case StatusVisualReady:
		return "visual"
	case StatusDone:
		return "done"
	default:
		return "unknown"
	}
}

// StatusEvent is an ephemeral out-of-band signal emitted during a conversational
// turn. It is delivered over a side channel distinct from the audio/text stream
// and is never persisted.
type StatusEvent struct {
	// Kind classifies the event.
	Kind StatusKind

	// Text is the progress indicator for StatusText events.
	Text string

	// URL is the visual location for StatusVisualReady events.
	URL string
}

// VADEvent represents a voice activity detection result for a single audio frame.
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// Probability is the speech probability score (0.0–1.0).
	Probability float64

	// Frames holds the padded utterance frames on a VADSpeechEnd event: the
	// detector's pre-roll buffer plus every speech frame up to the boundary.
	// Nil for all other event types.
	Frames []AudioFrame

	// SpeechDuration is the length of the completed utterance on a VADSpeechEnd
	// event. Zero for all other event types.
	SpeechDuration time.Duration
}

// VADEventType enumerates VAD detection states.
type VADEventType int

const (
	// VADSpeechStart indicates speech has just begun.
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue indicates ongoing speech.
	VADSpeechContinue

	// VADSpeechEnd indicates speech has just ended.
	VADSpeechEnd

	// VADSilence indicates no speech detected.
	VADSilence
)
