// Package energy implements a dependency-free VAD engine based on short-term
// RMS energy.
//
// Each frame's RMS level is mapped to a pseudo-probability against a noise
// reference, then run through a small state machine: speech starts after a
// short debounce of loud frames, and ends only after a hang-over window of
// quiet frames, so brief pauses inside an utterance do not split it. The
// speech-end event carries the complete utterance with pre-roll padding, which
// preserves plosive onsets that would otherwise be clipped by the debounce.
package energy

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ckocel/voxtutor/pkg/provider/vad"
	"github.com/ckocel/voxtutor/pkg/types"
)

// Defaults for the detector timings. Hang-over matches a natural inter-word
// pause; anything shorter splits slow speakers mid-sentence.
const (
	DefaultHangover   = 500 * time.Millisecond
	DefaultPreRoll    = 200 * time.Millisecond
	DefaultMinSpeech  = 60 * time.Millisecond
	DefaultNoiseLevel = 0.015
)

// Compile-time assertion that Engine implements vad.Engine.
var _ vad.Engine = (*Engine)(nil)

// Engine creates RMS-energy VAD sessions.
type Engine struct {
	hangover   time.Duration
	preRoll    time.Duration
	minSpeech  time.Duration
	noiseLevel float64
}

// Option is a functional option for Engine.
type Option func(*Engine)

// WithHangover sets the silence duration that ends an active utterance.
func WithHangover(d time.Duration) Option {
	return func(e *Engine) {
		e.hangover = d
	}
}

// WithPreRoll sets how much audio before speech onset is prepended to the
// utterance delivered on speech end.
func WithPreRoll(d time.Duration) Option {
	return func(e *Engine) {
		e.preRoll = d
	}
}

// WithMinSpeech sets the debounce: speech must persist this long before a
// VADSpeechStart is emitted.
func WithMinSpeech(d time.Duration) Option {
	return func(e *Engine) {
		e.minSpeech = d
	}
}

// WithNoiseLevel sets the RMS reference level (0.0–1.0 full scale) at which a
// frame scores probability 0.5.
func WithNoiseLevel(level float64) Option {
	return func(e *Engine) {
		e.noiseLevel = level
	}
}

// New constructs an energy VAD engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		hangover:   DefaultHangover,
		preRoll:    DefaultPreRoll,
		minSpeech:  DefaultMinSpeech,
		noiseLevel: DefaultNoiseLevel,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy vad: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy vad: frame size must be positive, got %dms", cfg.FrameSizeMs)
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy vad: speech threshold %.2f out of range [0,1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy vad: silence threshold %.2f must be in [0, %.2f]", cfg.SilenceThreshold, cfg.SpeechThreshold)
	}

	frameDur := time.Duration(cfg.FrameSizeMs) * time.Millisecond
	s := &session{
		cfg:            cfg,
		frameDur:       frameDur,
		noiseLevel:     e.noiseLevel,
		preRollFrames:  framesFor(e.preRoll, frameDur),
		startFrames:    framesFor(e.minSpeech, frameDur),
		hangoverFrames: framesFor(e.hangover, frameDur),
	}
	return s, nil
}

// framesFor returns how many whole frames cover d, at least 1.
func framesFor(d, frameDur time.Duration) int {
	n := int(d / frameDur)
	if n < 1 {
		n = 1
	}
	return n
}

type sessionState int

const (
	stateSilence sessionState = iota
	stateSpeech
)

type session struct {
	mu sync.Mutex

	cfg        vad.Config
	frameDur   time.Duration
	noiseLevel float64

	preRollFrames  int
	startFrames    int
	hangoverFrames int

	state     sessionState
	preRoll   []types.AudioFrame
	pending   []types.AudioFrame // loud frames accumulating toward debounce
	utterance []types.AudioFrame
	voiced    int // frames in utterance up to the last loud one
	quietRun  int
	closed    bool
}

var _ vad.SessionHandle = (*session)(nil)

// ProcessFrame implements vad.SessionHandle.
func (s *session) ProcessFrame(frame types.AudioFrame) (types.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.VADEvent{}, fmt.Errorf("energy vad: session closed")
	}
	ch := frame.Channels
	if ch <= 0 {
		ch = 1
	}
	want := s.cfg.SampleRate * s.cfg.FrameSizeMs / 1000 * 2 * ch
	if len(frame.Data) != want {
		return types.VADEvent{}, fmt.Errorf("energy vad: frame size %d bytes, want %d", len(frame.Data), want)
	}

	prob := s.probability(frame.Data)

	switch s.state {
	case stateSilence:
		return s.processSilence(frame, prob), nil
	default:
		return s.processSpeech(frame, prob), nil
	}
}

func (s *session) processSilence(frame types.AudioFrame, prob float64) types.VADEvent {
	if prob < s.cfg.SpeechThreshold {
		s.pending = s.pending[:0]
		s.preRoll = append(s.preRoll, frame)
		if len(s.preRoll) > s.preRollFrames {
			s.preRoll = s.preRoll[len(s.preRoll)-s.preRollFrames:]
		}
		return types.VADEvent{Type: types.VADSilence, Probability: prob}
	}

	s.pending = append(s.pending, frame)
	if len(s.pending) < s.startFrames {
		return types.VADEvent{Type: types.VADSilence, Probability: prob}
	}

	// Debounce satisfied: the utterance starts at the pre-roll.
	s.state = stateSpeech
	s.utterance = append(s.utterance[:0], s.preRoll...)
	s.utterance = append(s.utterance, s.pending...)
	s.voiced = len(s.utterance)
	s.preRoll = s.preRoll[:0]
	s.pending = s.pending[:0]
	s.quietRun = 0
	return types.VADEvent{Type: types.VADSpeechStart, Probability: prob}
}

func (s *session) processSpeech(frame types.AudioFrame, prob float64) types.VADEvent {
	s.utterance = append(s.utterance, frame)

	if prob >= s.cfg.SilenceThreshold {
		s.quietRun = 0
		s.voiced = len(s.utterance)
		return types.VADEvent{Type: types.VADSpeechContinue, Probability: prob}
	}

	s.quietRun++
	if s.quietRun < s.hangoverFrames {
		return types.VADEvent{Type: types.VADSpeechContinue, Probability: prob}
	}

	frames := make([]types.AudioFrame, len(s.utterance))
	copy(frames, s.utterance)
	dur := time.Duration(s.voiced) * s.frameDur

	s.state = stateSilence
	s.utterance = s.utterance[:0]
	s.voiced = 0
	s.quietRun = 0
	return types.VADEvent{
		Type:           types.VADSpeechEnd,
		Probability:    prob,
		Frames:         frames,
		SpeechDuration: dur,
	}
}

// probability maps frame RMS to a [0,1] score. The logistic curve crosses 0.5
// at the noise reference level and saturates quickly above it.
func (s *session) probability(pcm []byte) float64 {
	rms := computeRMS(pcm)
	if s.noiseLevel <= 0 {
		if rms > 0 {
			return 1
		}
		return 0
	}
	return 1 / (1 + math.Exp(-8*(rms-s.noiseLevel)/s.noiseLevel))
}

// computeRMS returns the root-mean-square of 16-bit LE samples, normalised to
// [0,1] full scale.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		v := float64(sample) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// Reset implements vad.SessionHandle.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.state = stateSilence
	s.preRoll = s.preRoll[:0]
	s.pending = s.pending[:0]
	s.utterance = s.utterance[:0]
	s.voiced = 0
	s.quietRun = 0
}

// Close implements vad.SessionHandle.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.preRoll = nil
	s.pending = nil
	s.utterance = nil
	return nil
}
