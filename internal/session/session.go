// Package session orchestrates one live voice conversation per room: the
// room connection, the speech boundary detector, the conversation engine and
// speech synthesis, plus the barge-in policy and latency accounting that tie
// them together.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ckocel/voxtutor/internal/engine"
	"github.com/ckocel/voxtutor/internal/observe"
	"github.com/ckocel/voxtutor/internal/resilience"
	"github.com/ckocel/voxtutor/internal/transcribe"
	"github.com/ckocel/voxtutor/pkg/provider/vad"
	"github.com/ckocel/voxtutor/pkg/room"
	"github.com/ckocel/voxtutor/pkg/types"
)

// dataChannel is the signaling side channel, distinct from the audio stream.
const dataChannel = "agent"

// pauseCheckInterval is how often paused playback re-checks the gate.
const pauseCheckInterval = 20 * time.Millisecond

// turn tracks one in-flight conversational exchange.
type turn struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Session owns a single room connection end to end. Create sessions through
// [Manager.StartSession].
type Session struct {
	roomName string
	userID   string
	docIDs   []string

	deps     Deps
	conn     room.Connection
	detector *transcribe.Detector
	eng      *engine.Engine
	policy   InterruptPolicy
	latency  *LatencyTracker
	log      *slog.Logger
	metrics  *observe.Metrics

	mu           sync.Mutex
	history      []types.Message
	participants map[string]string // identity -> name
	current      *turn
	agentSpeech  strings.Builder
	paused       bool
	suspectGen   int

	startedAt time.Time
	started   bool          // set when start completes, read after startDone
	startDone chan struct{} // closed when start returns
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
	onStop    func(roomName string)
}

// start connects to the room and launches the processing pipeline. Failures
// at this boundary propagate to the caller; a session that cannot start is
// reported, not degraded. The session is already visible to Stop while start
// runs; Stop waits on startDone before touching the handles built here.
func (s *Session) start(ctx context.Context, persona string) error {
	defer close(s.startDone)

	token, err := s.deps.Minter.Mint(room.Grant{
		Room:         s.roomName,
		Identity:     "agent-" + s.roomName,
		Name:         s.deps.AgentName,
		CanPublish:   true,
		CanSubscribe: true,
	})
	if err != nil {
		return fmt.Errorf("session: mint token: %w", err)
	}

	s.conn, err = s.deps.Platform.Connect(ctx, s.deps.RoomURL, token)
	if err != nil {
		return fmt.Errorf("session: connect: %w", err)
	}

	if err := s.ensureConversation(ctx); err != nil {
		s.conn.Close()
		return err
	}

	vadSession, err := s.deps.VAD.NewSession(vad.Config{
		SampleRate:       s.deps.SampleRate,
		FrameSizeMs:      20,
		SpeechThreshold:  0.5,
		SilenceThreshold: 0.35,
	})
	if err != nil {
		s.conn.Close()
		return fmt.Errorf("session: vad session: %w", err)
	}

	s.detector, err = transcribe.New(transcribe.Config{
		STT:        s.deps.STT,
		VAD:        vadSession,
		Frames:     s.conn.SubscribeAudio(),
		SampleRate: s.deps.SampleRate,
		Language:   s.deps.Language,
		Breaker: resilience.New(resilience.Config{
			Name: "stt:" + s.roomName,
		}),
		Logger:  s.log,
		Metrics: s.metrics,
	})
	if err != nil {
		vadSession.Close()
		s.conn.Close()
		return fmt.Errorf("session: detector: %w", err)
	}

	registry := buildToolRegistry(s.deps, s.onVisualReady, s.log)
	s.eng, err = engine.New(engine.Config{
		LLM:           s.deps.LLM,
		Tools:         registry,
		Documents:     s.deps.Documents,
		Conversations: s.deps.Conversations,
		UserID:        s.userID,
		DocIDs:        s.docIDs,
		RoomName:      s.roomName,
		Temperature:   s.deps.Temperature,
		OnStatus:      s.publishStatus,
		Logger:        s.log,
		Metrics:       s.metrics,
	})
	if err != nil {
		s.detector.Close()
		s.conn.Close()
		return fmt.Errorf("session: engine: %w", err)
	}

	s.history = []types.Message{{Role: "system", Content: persona}}
	s.participants = make(map[string]string)
	s.startedAt = time.Now()
	s.started = true

	s.metrics.ActiveSessions.Add(s.ctx, 1)
	s.detector.Start(s.ctx)
	s.wg.Add(2)
	go s.eventLoop()
	go s.pipelineLoop()

	s.log.Info("session started", "room", s.roomName, "user", s.userID)
	return nil
}

// ensureConversation creates the persistence record when none exists yet for
// this room.
func (s *Session) ensureConversation(ctx context.Context) error {
	if s.deps.Conversations == nil {
		return nil
	}
	conv, err := s.deps.Conversations.GetByRoom(ctx, s.roomName)
	if err != nil {
		return fmt.Errorf("session: conversation lookup: %w", err)
	}
	if conv != nil {
		return nil
	}
	if _, err := s.deps.Conversations.CreateConversation(ctx, s.userID, s.roomName); err != nil {
		return fmt.Errorf("session: create conversation: %w", err)
	}
	return nil
}

// Stop tears the session down. Safe to call more than once; the conversation
// record is ended exactly once with the final duration and headcount.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.log.Info("stopping session", "room", s.roomName)
		s.cancel()
		// A concurrent start may still be connecting; cancelling s.ctx aborts
		// it, and waiting here lets the teardown see its final state.
		<-s.startDone
		if s.detector != nil {
			s.detector.Close()
		}
		if s.conn != nil {
			s.conn.Close()
		}
		s.wg.Wait()
		if !s.started {
			if s.onStop != nil {
				s.onStop(s.roomName)
			}
			s.log.Info("session stopped before startup completed", "room", s.roomName)
			return
		}
		s.metrics.ActiveSessions.Add(context.Background(), -1)

		if s.deps.Conversations != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s.mu.Lock()
			headcount := len(s.participants)
			s.mu.Unlock()
			err := s.deps.Conversations.EndConversation(ctx, s.roomName, time.Since(s.startedAt), headcount)
			if err != nil {
				s.log.Warn("ending conversation failed", "room", s.roomName, "error", err)
			}
		}
		if s.onStop != nil {
			s.onStop(s.roomName)
		}
		s.log.Info("session stopped", "room", s.roomName)
	})
}

// eventLoop tracks room membership and reacts to disconnection.
func (s *Session) eventLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-s.conn.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case room.EventJoin:
				s.mu.Lock()
				s.participants[ev.Identity] = ev.Name
				s.mu.Unlock()
				s.metrics.ActiveParticipants.Add(s.ctx, 1)
				s.log.Info("participant joined", "room", s.roomName, "identity", ev.Identity)
			case room.EventLeave:
				s.metrics.ActiveParticipants.Add(s.ctx, -1)
				s.log.Info("participant left", "room", s.roomName, "identity", ev.Identity)
			case room.EventDisconnected:
				s.log.Info("room disconnected", "room", s.roomName)
				// Stop waits for this goroutine; run it from outside.
				go s.Stop()
				return
			}
		}
	}
}

// pipelineLoop consumes detector output: interims feed the barge-in policy,
// finals drive conversational turns, usage marks the latency interval.
func (s *Session) pipelineLoop() {
	defer s.wg.Done()
	transcripts := s.detector.Transcripts()
	usage := s.detector.Usage()
	for {
		select {
		case <-s.ctx.Done():
			return
		case u, ok := <-usage:
			if !ok {
				usage = nil
				continue
			}
			if s.latency != nil {
				s.latency.UserSpeechEnded(s.roomName)
			}
			s.log.Debug("utterance finalized",
				"room", s.roomName,
				"audio_duration", u.AudioDuration,
				"reused_interim", u.ReusedInterim)
		case tr, ok := <-transcripts:
			if !ok {
				return
			}
			if tr.IsFinal {
				s.handleFinal(tr)
			} else {
				s.handleInterim(tr)
			}
		}
	}
}

// handleInterim assesses possible barge-in while the agent is speaking.
func (s *Session) handleInterim(tr types.Transcript) {
	s.publishTranscript(tr)
	if !s.turnActive() {
		return
	}

	decision := s.policy.Assess(tr.Text, tr.Duration, s.spokenText())
	switch decision {
	case DecisionInterrupt:
		s.suspendPlayback()
	case DecisionEcho:
		s.metrics.RecordInterruption(s.ctx, "echo")
		s.log.Debug("interim classified as echo", "room", s.roomName, "text", tr.Text)
	default:
	}
}

// handleFinal turns a completed utterance into a conversational turn. A final
// arriving during an active turn is a confirmed interruption only if it
// passes the same barge-in policy.
func (s *Session) handleFinal(tr types.Transcript) {
	s.publishTranscript(tr)
	text := strings.TrimSpace(tr.Text)

	if active := s.currentTurn(); active != nil {
		decision := s.policy.Assess(tr.Text, tr.Duration, s.spokenText())
		if decision != DecisionInterrupt || text == "" {
			s.metrics.RecordInterruption(s.ctx, decision.String())
			s.log.Debug("final dropped during agent speech",
				"room", s.roomName, "decision", decision.String(), "text", tr.Text)
			s.resumePlayback()
			return
		}
		s.metrics.RecordInterruption(s.ctx, "confirmed")
		s.log.Info("barge-in confirmed, cancelling turn", "room", s.roomName)
		active.cancel()
		select {
		case <-active.done:
		case <-s.ctx.Done():
			return
		}
		s.resumePlayback()
	}

	if text == "" {
		if s.latency != nil {
			s.latency.Forget(s.roomName)
		}
		return
	}

	turnCtx, cancel := context.WithCancel(s.ctx)
	t := &turn{cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.history = append(s.history, types.Message{Role: "user", Content: text})
	history := append([]types.Message(nil), s.history...)
	s.current = t
	s.agentSpeech.Reset()
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runTurn(turnCtx, t, history)
}

// runTurn drives the engine and synthesis for one exchange.
func (s *Session) runTurn(ctx context.Context, t *turn, history []types.Message) {
	defer s.wg.Done()
	defer close(t.done)
	defer t.cancel()

	sink := make(chan string, 64)
	spoken := make(chan string, 64)

	// Tee engine output: record what the agent says for the echo guard, then
	// forward to synthesis.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(spoken)
		for fragment := range sink {
			s.mu.Lock()
			s.agentSpeech.WriteString(fragment)
			s.mu.Unlock()
			select {
			case spoken <- fragment:
			case <-ctx.Done():
				return
			}
		}
	}()

	audio, err := s.deps.TTS.SynthesizeStream(ctx, spoken, s.deps.Voice)
	if err != nil {
		s.log.Warn("synthesis start failed", "room", s.roomName, "error", err)
		s.metrics.RecordProviderError(ctx, "tts", "stream")
		close(sink)
		s.finishTurn(t, "")
		return
	}

	playbackDone := make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(playbackDone)
		s.playback(ctx, audio)
	}()

	full, err := s.eng.Turn(ctx, history, sink)
	close(sink)
	if err != nil && ctx.Err() == nil {
		s.log.Warn("turn failed", "room", s.roomName, "error", err)
	}

	select {
	case <-playbackDone:
	case <-ctx.Done():
	}
	s.finishTurn(t, full)
}

// finishTurn appends the assistant response to history and releases the turn
// slot. A cancelled turn keeps whatever was actually spoken.
func (s *Session) finishTurn(t *turn, full string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if full == "" {
		full = s.agentSpeech.String()
	}
	if full != "" {
		s.history = append(s.history, types.Message{Role: "assistant", Content: full})
	}
	if s.current == t {
		s.current = nil
		s.paused = false
	}
}

// playback forwards synthesized audio to the room, honouring the barge-in
// pause gate. The first chunk of a turn completes the latency measurement.
func (s *Session) playback(ctx context.Context, audio <-chan []byte) {
	first := true
	start := time.Now()
	for chunk := range audio {
		for s.isPaused() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pauseCheckInterval):
			}
		}
		if first {
			first = false
			s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
			if s.latency != nil {
				if lat, ok := s.latency.AgentSpeechStarted(s.roomName); ok {
					s.metrics.ResponseDuration.Record(ctx, lat.Seconds())
				}
			}
		}
		frame := types.AudioFrame{
			Data:       chunk,
			SampleRate: s.deps.TTSSampleRate,
			Channels:   1,
		}
		select {
		case s.conn.PublishAudio() <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// suspendPlayback pauses audio output after a suspected barge-in. Playback
// resumes automatically when no final transcript confirms it within the
// grace window.
func (s *Session) suspendPlayback() {
	s.mu.Lock()
	if s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = true
	s.suspectGen++
	gen := s.suspectGen
	s.mu.Unlock()

	s.metrics.RecordInterruption(s.ctx, "suspected")
	s.log.Info("suspected barge-in, pausing playback", "room", s.roomName)

	time.AfterFunc(s.policy.Grace, func() {
		s.mu.Lock()
		resume := s.paused && s.suspectGen == gen
		if resume {
			s.paused = false
		}
		s.mu.Unlock()
		if resume {
			s.metrics.RecordInterruption(s.ctx, "resumed")
			s.log.Info("barge-in unconfirmed, resuming playback", "room", s.roomName)
		}
	})
}

func (s *Session) resumePlayback() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

func (s *Session) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Session) turnActive() bool {
	return s.currentTurn() != nil
}

func (s *Session) currentTurn() *turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) spokenText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentSpeech.String()
}

// RoomName returns the room this session is bound to.
func (s *Session) RoomName() string { return s.roomName }

// Participants returns the identities seen in the room so far.
func (s *Session) Participants() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.participants))
	for identity := range s.participants {
		out = append(out, identity)
	}
	return out
}

// onVisualReady publishes a generated visual's URL on the side channel.
func (s *Session) onVisualReady(url string) {
	s.publishStatus(types.StatusEvent{Kind: types.StatusVisualReady, URL: url})
}

// publishStatus serializes a status event onto the signaling side channel.
// The schema is part of the frontend contract.
func (s *Session) publishStatus(ev types.StatusEvent) {
	var payloads [][]byte
	marshal := func(v any) {
		b, err := json.Marshal(v)
		if err != nil {
			s.log.Warn("status encode failed", "error", err)
			return
		}
		payloads = append(payloads, b)
	}

	switch ev.Kind {
	case types.StatusText:
		marshal(map[string]string{"type": "agent_status", "status": ev.Text})
	case types.StatusVisualLoading:
		marshal(map[string]string{"type": "agent_visual_loading"})
		if ev.Text != "" {
			marshal(map[string]string{"type": "agent_status", "status": ev.Text})
		}
	case types.StatusVisualReady:
		marshal(map[string]string{"type": "agent_visual", "url": ev.URL})
	case types.StatusDone:
		marshal(map[string]string{"type": "agent_status", "status": "_done"})
	}

	for _, p := range payloads {
		if err := s.conn.PublishData(dataChannel, p); err != nil {
			s.log.Warn("status publish failed", "room", s.roomName, "error", err)
		}
	}
}

// publishTranscript mirrors recognized speech onto the side channel so the
// frontend can render captions.
func (s *Session) publishTranscript(tr types.Transcript) {
	if strings.TrimSpace(tr.Text) == "" {
		return
	}
	b, err := json.Marshal(map[string]any{
		"type":  "transcript",
		"text":  tr.Text,
		"final": tr.IsFinal,
	})
	if err != nil {
		return
	}
	if err := s.conn.PublishData(dataChannel, b); err != nil {
		s.log.Warn("transcript publish failed", "room", s.roomName, "error", err)
	}
}
