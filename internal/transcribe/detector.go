// Package transcribe emulates streaming speech recognition over a one-shot
// transcription API.
//
// The underlying STT providers are request/response only, but a voice
// conversation needs live interim text and low-latency finalization. The
// Detector bridges the gap: it runs voice activity detection over the
// incoming frame stream and, while the user speaks, periodically submits the
// accumulated audio as asynchronous interim requests. At end of speech a
// fresh interim result is reused as the final transcript, skipping the
// redundant final network call; stale interims trigger exactly one blocking
// final request.
//
// Two tasks per detector: the frame forwarder feeds VAD and accumulates
// audio, the event loop drives interim timing and finalization. The forwarder
// never blocks on transcription work.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ckocel/voxtutor/internal/observe"
	"github.com/ckocel/voxtutor/internal/resilience"
	"github.com/ckocel/voxtutor/pkg/provider/stt"
	"github.com/ckocel/voxtutor/pkg/provider/vad"
	"github.com/ckocel/voxtutor/pkg/types"
)

const (
	// defaultInterimInterval is how often an interim request may be fired
	// while the user is speaking.
	defaultInterimInterval = time.Second

	// defaultMinAudio is the minimum accumulated speech before the first
	// interim request. Very short buffers transcribe to garbage.
	defaultMinAudio = 400 * time.Millisecond

	// defaultFreshFor is how recent a cached interim must be to stand in for
	// the final transcript. Reusing a fresh interim trades a small risk of
	// slightly-stale text for materially lower finalization latency.
	defaultFreshFor = 1200 * time.Millisecond

	eventBuffer      = 16
	transcriptBuffer = 16
	usageBuffer      = 4
)

// Usage accounts for one completed utterance.
type Usage struct {
	// AudioDuration is the voiced length of the utterance.
	AudioDuration time.Duration

	// ReusedInterim reports whether the final transcript was served from the
	// interim cache without a final network call.
	ReusedInterim bool
}

// Config assembles a Detector. STT, VAD and Frames are required.
type Config struct {
	STT stt.Provider
	VAD vad.SessionHandle

	// Frames is the live audio input, typically the room subscription stream.
	// The forwarder stops when it closes.
	Frames <-chan types.AudioFrame

	// SampleRate and Channels describe the incoming frames and are forwarded
	// to the STT provider. Defaults: 48000 / 1.
	SampleRate int
	Channels   int

	// Language is the recognition hint passed to the STT provider.
	Language string

	// InterimInterval, MinAudio and FreshFor override the interim timing.
	// Zero means the default.
	InterimInterval time.Duration
	MinAudio        time.Duration
	FreshFor        time.Duration

	// Breaker gates interim requests. Nil disables gating.
	Breaker *resilience.Breaker

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// inflight tracks a single asynchronous interim request.
type inflight struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Detector turns a raw frame stream into interim and final transcripts.
type Detector struct {
	stt      stt.Provider
	vad      vad.SessionHandle
	frames   <-chan types.AudioFrame
	sttCfg   stt.Config
	interval time.Duration
	minAudio time.Duration
	freshFor time.Duration
	breaker  *resilience.Breaker
	log      *slog.Logger
	metrics  *observe.Metrics

	mu        sync.Mutex
	speaking  bool
	buf       []types.AudioFrame
	bufDur    time.Duration
	interim   string
	interimAt time.Time
	pending   *inflight

	vadEvents   chan types.VADEvent
	transcripts chan types.Transcript
	usage       chan Usage

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New validates cfg and builds a Detector. Call Start to begin processing.
func New(cfg Config) (*Detector, error) {
	if cfg.STT == nil {
		return nil, errors.New("transcribe: STT provider is required")
	}
	if cfg.VAD == nil {
		return nil, errors.New("transcribe: VAD session is required")
	}
	if cfg.Frames == nil {
		return nil, errors.New("transcribe: frame stream is required")
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if cfg.InterimInterval == 0 {
		cfg.InterimInterval = defaultInterimInterval
	}
	if cfg.MinAudio == 0 {
		cfg.MinAudio = defaultMinAudio
	}
	if cfg.FreshFor == 0 {
		cfg.FreshFor = defaultFreshFor
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Detector{
		stt:    cfg.STT,
		vad:    cfg.VAD,
		frames: cfg.Frames,
		sttCfg: stt.Config{
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
			Language:   cfg.Language,
		},
		interval:    cfg.InterimInterval,
		minAudio:    cfg.MinAudio,
		freshFor:    cfg.FreshFor,
		breaker:     cfg.Breaker,
		log:         cfg.Logger.With("component", "transcribe"),
		metrics:     cfg.Metrics,
		vadEvents:   make(chan types.VADEvent, eventBuffer),
		transcripts: make(chan types.Transcript, transcriptBuffer),
		usage:       make(chan Usage, usageBuffer),
	}, nil
}

// Transcripts emits interim and final results. Closed by Close.
func (d *Detector) Transcripts() <-chan types.Transcript { return d.transcripts }

// Usage emits one accounting event per finalized utterance. Closed by Close.
func (d *Detector) Usage() <-chan Usage { return d.usage }

// Start launches the frame forwarder and the VAD event loop. It returns
// immediately; processing continues until ctx is cancelled, the frame stream
// closes, or Close is called.
func (d *Detector) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(2)
	go d.forward(ctx)
	go d.eventLoop(ctx)
}

// Close stops both tasks together, then closes the VAD session, in that
// order. The output channels are closed once processing has fully stopped.
func (d *Detector) Close() error {
	d.closeOnce.Do(func() {
		if d.cancel != nil {
			d.cancel()
			d.wg.Wait()
		}
		d.closeErr = d.vad.Close()
		close(d.transcripts)
		close(d.usage)
	})
	return d.closeErr
}

// forward is the frame forwarder task. It feeds every frame through VAD,
// accumulates speech audio and hands boundary events to the event loop. It
// must never block on transcription work.
func (d *Detector) forward(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-d.frames:
			if !ok {
				return
			}
			ev, err := d.vad.ProcessFrame(frame)
			if err != nil {
				d.log.Debug("vad rejected frame", "error", err)
				continue
			}
			switch ev.Type {
			case types.VADSpeechStart:
				d.mu.Lock()
				d.speaking = true
				d.buf = append(d.buf[:0], frame)
				d.bufDur = frameDuration(frame)
				d.interim = ""
				d.interimAt = time.Time{}
				d.mu.Unlock()
				d.pushEvent(ev)
			case types.VADSpeechContinue:
				d.mu.Lock()
				if d.speaking {
					d.buf = append(d.buf, frame)
					d.bufDur += frameDuration(frame)
				}
				d.mu.Unlock()
			case types.VADSpeechEnd:
				d.mu.Lock()
				d.speaking = false
				d.mu.Unlock()
				d.pushEvent(ev)
			}
		}
	}
}

// pushEvent hands a boundary event to the event loop without blocking the
// audio path. A full queue drops the event; the warn makes it visible.
func (d *Detector) pushEvent(ev types.VADEvent) {
	select {
	case d.vadEvents <- ev:
	default:
		d.log.Warn("vad event queue full, dropping event", "type", ev.Type)
	}
}

// eventLoop drives interim timing and utterance finalization.
func (d *Detector) eventLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.vadEvents:
			if ev.Type == types.VADSpeechEnd {
				d.finalize(ctx, ev)
			}
		case <-ticker.C:
			d.maybeInterim(ctx)
		}
	}
}

// maybeInterim fires one asynchronous interim request if the user is
// speaking, enough audio has accumulated, no request is already in flight and
// the breaker permits it.
func (d *Detector) maybeInterim(ctx context.Context) {
	d.mu.Lock()
	if !d.speaking || d.bufDur < d.minAudio || d.pending != nil {
		d.mu.Unlock()
		return
	}
	if d.breaker != nil && !d.breaker.Allow() {
		d.mu.Unlock()
		return
	}
	pcm := concatFrames(d.buf)
	accumulated := d.bufDur
	ictx, cancel := context.WithCancel(ctx)
	req := &inflight{cancel: cancel, done: make(chan struct{})}
	d.pending = req
	d.mu.Unlock()

	// Counted in the waitgroup so Close cannot close the output channels
	// while this request is still able to emit.
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(req.done)
		defer cancel()

		tr, err := d.stt.Transcribe(ictx, pcm, d.sttCfg)

		d.mu.Lock()
		if d.pending == req {
			d.pending = nil
		}
		d.mu.Unlock()

		if err != nil {
			if errors.Is(err, context.Canceled) {
				if d.breaker != nil {
					d.breaker.RecordCancel()
				}
				return
			}
			if d.breaker != nil {
				d.breaker.RecordFailure()
			}
			d.metrics.RecordInterim(ctx, "error")
			// Interims are best-effort; failures never surface to the turn.
			d.log.Debug("interim transcription failed", "error", err)
			return
		}
		if d.breaker != nil {
			d.breaker.RecordSuccess()
		}
		d.metrics.RecordInterim(ctx, "ok")

		d.mu.Lock()
		d.interim = tr.Text
		d.interimAt = time.Now()
		d.mu.Unlock()

		d.emitTranscript(ctx, types.Transcript{
			Text:       tr.Text,
			Confidence: tr.Confidence,
			Duration:   accumulated,
		})
	}()
}

// finalize produces the final transcript for a completed utterance. A fresh
// interim is reused as-is without re-validating it against the true boundary
// frames; that latency/accuracy trade-off is the point of the interim cache.
func (d *Detector) finalize(ctx context.Context, ev types.VADEvent) {
	d.mu.Lock()
	pending := d.pending
	d.mu.Unlock()
	if pending != nil {
		pending.cancel()
		<-pending.done
	}

	d.mu.Lock()
	interim, interimAt := d.interim, d.interimAt
	frames := ev.Frames
	if len(frames) == 0 {
		// The VAD-delimited set carries boundary padding and is preferred;
		// the local buffer is the fallback.
		frames = append([]types.AudioFrame(nil), d.buf...)
	}
	d.speaking = false
	d.buf = nil
	d.bufDur = 0
	d.interim = ""
	d.interimAt = time.Time{}
	d.mu.Unlock()

	duration := ev.SpeechDuration
	if duration == 0 {
		for _, f := range frames {
			duration += frameDuration(f)
		}
	}

	text := interim
	reused := interim != "" && time.Since(interimAt) <= d.freshFor
	if !reused {
		start := time.Now()
		tr, err := d.transcribeFinal(ctx, concatFrames(frames))
		d.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			// Fall back to the last interim, possibly empty, rather than
			// aborting the turn.
			d.metrics.RecordProviderError(ctx, "stt", "final")
			d.log.Warn("final transcription failed, falling back to interim",
				"error", err, "interim_len", len(interim))
		} else {
			d.metrics.RecordProviderRequest(ctx, "stt", "final", "ok")
			text = tr.Text
		}
	} else {
		d.metrics.RecordInterim(ctx, "reused")
	}

	d.emitTranscript(ctx, types.Transcript{Text: text, IsFinal: true, Duration: duration})
	select {
	case d.usage <- Usage{AudioDuration: duration, ReusedInterim: reused}:
	case <-ctx.Done():
	}
}

// transcribeFinal runs the blocking final request, through the breaker when
// one is configured.
func (d *Detector) transcribeFinal(ctx context.Context, pcm []byte) (types.Transcript, error) {
	if d.breaker == nil {
		return d.stt.Transcribe(ctx, pcm, d.sttCfg)
	}
	var tr types.Transcript
	err := d.breaker.Execute(func() error {
		var err error
		tr, err = d.stt.Transcribe(ctx, pcm, d.sttCfg)
		return err
	})
	if err != nil {
		return types.Transcript{}, fmt.Errorf("transcribe: final request: %w", err)
	}
	return tr, nil
}

// emitTranscript delivers a result, honouring cancellation.
func (d *Detector) emitTranscript(ctx context.Context, tr types.Transcript) {
	select {
	case d.transcripts <- tr:
	case <-ctx.Done():
	}
}

// concatFrames flattens accumulated frames into one PCM buffer.
func concatFrames(frames []types.AudioFrame) []byte {
	total := 0
	for _, f := range frames {
		total += len(f.Data)
	}
	pcm := make([]byte, 0, total)
	for _, f := range frames {
		pcm = append(pcm, f.Data...)
	}
	return pcm
}

// frameDuration returns the wall-clock length of one frame.
func frameDuration(f types.AudioFrame) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}
