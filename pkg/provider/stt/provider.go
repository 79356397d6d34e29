// Package stt defines the Provider interface for Speech-to-Text backends.
//
// The transcription services voxtutor targets are request/response only:
// a complete audio buffer goes in, text comes out. Streaming behaviour is
// emulated above this interface by the speech boundary detector, which runs
// voice activity detection over the live frame stream and submits accumulated
// buffers as one-shot requests.
//
// Implementations must be safe for concurrent use — the boundary detector
// issues interim requests while a final request for the previous utterance
// may still be in flight.
package stt

import (
	"context"

	"github.com/ckocel/voxtutor/pkg/types"
)

// Config describes the audio format and recognition hints for a
// transcription request.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Common values: 16000
	// (STT-optimised mono), 48000 (room Opus decode output).
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// transcription services). Implementors may downmix stereo internally.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en", "tr").
	// An empty string lets the provider auto-detect, if supported.
	Language string
}

// Provider is the abstraction over any one-shot transcription backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Transcribe submits raw 16-bit signed little-endian PCM audio for
	// transcription and returns the recognised text. The pcm buffer must match
	// the SampleRate and Channels declared in cfg.
	//
	// An empty pcm buffer returns an empty final Transcript without a network
	// call. Returns an error if the request fails or ctx is cancelled.
	Transcribe(ctx context.Context, pcm []byte, cfg Config) (types.Transcript, error)
}
