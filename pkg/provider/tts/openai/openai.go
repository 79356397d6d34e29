// Package openai provides a TTS provider backed by any OpenAI-compatible
// audio speech API. Each text fragment arriving on the input channel is
// synthesised with its own request and the response body is forwarded to the
// audio channel in chunks as it downloads, so playback of a sentence can
// begin before the next sentence has been synthesised.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/ckocel/voxtutor/pkg/provider/tts"
)

// readChunkSize is the granularity at which response audio is forwarded to
// the output channel. 4 KiB keeps first-audio latency low without flooding
// the channel with tiny slices.
const readChunkSize = 4096

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using an OpenAI-compatible speech endpoint.
type Provider struct {
	client oai.Client
	model  string
	format oai.AudioSpeechNewParamsResponseFormat
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
	format  oai.AudioSpeechNewParamsResponseFormat
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithResponseFormat overrides the audio container requested from the
// endpoint. Defaults to WAV, which the room transport can re-encode without
// an external decoder.
func WithResponseFormat(f oai.AudioSpeechNewParamsResponseFormat) Option {
	return func(c *config) {
		c.format = f
	}
}

// New constructs a new speech synthesis Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai tts: model must not be empty")
	}

	cfg := &config{format: oai.AudioSpeechNewParamsResponseFormatWAV}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		format: cfg.format,
	}, nil
}

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("openai tts: context already cancelled: %w", err)
	}

	audio := make(chan []byte, 32)
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
				if fragment == "" {
					continue
				}
				if err := p.synthesize(ctx, fragment, voice, audio); err != nil {
					// Synthesis errors end the stream early; the session reads
					// ctx.Err() to distinguish cancellation.
					return
				}
			}
		}
	}()
	return audio, nil
}

// synthesize performs one speech request and forwards the response body to
// audio in chunks.
func (p *Provider) synthesize(ctx context.Context, text string, voice tts.Voice, audio chan<- []byte) error {
	params := oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(voice.ID),
		ResponseFormat: p.format,
	}
	if voice.Speed > 0 {
		params.Speed = param.NewOpt(voice.Speed)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return fmt.Errorf("openai tts: speech request: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, readChunkSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case audio <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("openai tts: read audio: %w", err)
		}
	}
}
