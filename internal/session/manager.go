package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ckocel/voxtutor/internal/convstore"
	"github.com/ckocel/voxtutor/internal/observe"
	"github.com/ckocel/voxtutor/internal/tools"
	"github.com/ckocel/voxtutor/pkg/provider/llm"
	"github.com/ckocel/voxtutor/pkg/provider/stt"
	"github.com/ckocel/voxtutor/pkg/provider/tts"
	"github.com/ckocel/voxtutor/pkg/provider/vad"
	"github.com/ckocel/voxtutor/pkg/rag"
	"github.com/ckocel/voxtutor/pkg/room"
)

// Deps bundles the shared services a [Manager] hands to every session it
// starts. All providers are process-wide; per-session state (the room
// connection, the detector, the tool registry) is created in start.
type Deps struct {
	// Platform and Minter establish the agent's presence in a room.
	Platform room.Platform
	Minter   *room.TokenMinter
	RoomURL  string

	// Pipeline providers.
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider
	VAD vad.Engine

	// Documents enables retrieval and the document tools; nil disables both.
	Documents rag.Store

	// Conversations persists transcripts; nil disables persistence.
	Conversations convstore.Store

	// AgentName is the display name the agent joins rooms with.
	AgentName string

	// Voice selects the synthesis voice.
	Voice tts.Voice

	// Language hints transcription and the Wikipedia tool.
	Language string

	// Temperature is forwarded to the conversation engine.
	Temperature float64

	// SampleRate is the room's downlink PCM rate. Default 48000.
	SampleRate int

	// TTSSampleRate is the synthesis output rate. Default 24000.
	TTSSampleRate int

	// VisualEndpoint and VisualAPIKey configure the image-generation tool;
	// an empty endpoint disables it.
	VisualEndpoint string
	VisualAPIKey   string

	// HTTPClient is used by the outbound tools. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// Latency is the cross-session latency tracker; nil disables tracking.
	Latency *LatencyTracker

	// Policy tunes barge-in handling. Zero value means
	// [DefaultInterruptPolicy].
	Policy InterruptPolicy

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// ErrRoomActive is returned by [Manager.StartSession] when the room already
// has a running agent.
var ErrRoomActive = errors.New("session: room already has an active agent")

// Manager tracks at most one live [Session] per room.
type Manager struct {
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager builds a Manager. Missing optional Deps fields are defaulted;
// required ones are validated.
func NewManager(deps Deps) (*Manager, error) {
	switch {
	case deps.Platform == nil:
		return nil, fmt.Errorf("session: room platform is required")
	case deps.Minter == nil:
		return nil, fmt.Errorf("session: token minter is required")
	case deps.LLM == nil:
		return nil, fmt.Errorf("session: LLM provider is required")
	case deps.STT == nil:
		return nil, fmt.Errorf("session: STT provider is required")
	case deps.TTS == nil:
		return nil, fmt.Errorf("session: TTS provider is required")
	case deps.VAD == nil:
		return nil, fmt.Errorf("session: VAD engine is required")
	}
	if deps.AgentName == "" {
		deps.AgentName = "AI Assistant"
	}
	if deps.SampleRate == 0 {
		deps.SampleRate = 48000
	}
	if deps.TTSSampleRate == 0 {
		deps.TTSSampleRate = 24000
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = http.DefaultClient
	}
	if (deps.Policy == InterruptPolicy{}) {
		deps.Policy = DefaultInterruptPolicy()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	return &Manager{
		deps:     deps,
		sessions: make(map[string]*Session),
	}, nil
}

// StartSession joins roomName and begins the voice pipeline there. It fails
// when a session for that room is already running.
func (m *Manager) StartSession(ctx context.Context, roomName, persona, userID string, docIDs []string) (*Session, error) {
	if roomName == "" {
		return nil, fmt.Errorf("session: room name is required")
	}

	s := &Session{
		roomName:  roomName,
		userID:    userID,
		docIDs:    docIDs,
		deps:      m.deps,
		policy:    m.deps.Policy,
		latency:   m.deps.Latency,
		log:       m.deps.Logger.With("component", "session", "room", roomName),
		metrics:   m.deps.Metrics,
		onStop:    m.remove,
		startDone: make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	m.mu.Lock()
	if _, exists := m.sessions[roomName]; exists {
		m.mu.Unlock()
		s.cancel()
		return nil, fmt.Errorf("room %q: %w", roomName, ErrRoomActive)
	}
	m.sessions[roomName] = s
	m.mu.Unlock()

	// The session is visible to StopSession from here on, so a stop during a
	// slow connect must abort the startup calls too.
	startCtx, cancelStart := context.WithCancel(ctx)
	defer cancelStart()
	release := context.AfterFunc(s.ctx, cancelStart)
	defer release()

	if err := s.start(startCtx, persona); err != nil {
		s.cancel()
		m.remove(roomName)
		return nil, err
	}
	return s, nil
}

// StopSession stops the session for roomName. Returns false when no session
// is active there.
func (m *Manager) StopSession(roomName string) bool {
	m.mu.Lock()
	s, ok := m.sessions[roomName]
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.Stop()
	return true
}

// GetSession returns the active session for roomName, or nil.
func (m *Manager) GetSession(roomName string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[roomName]
}

// Active returns the number of live sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StopAll stops every live session, used during shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()
	for _, s := range all {
		s.Stop()
	}
}

func (m *Manager) remove(roomName string) {
	m.mu.Lock()
	delete(m.sessions, roomName)
	m.mu.Unlock()
}

// buildToolRegistry assembles the tool set for one session. The registry is
// per session because the visual tool's completion callback must reach that
// session's side channel.
func buildToolRegistry(deps Deps, onVisual tools.VisualReady, logger *slog.Logger) *tools.Registry {
	reg := tools.NewRegistry(logger, deps.Metrics)
	reg.Register(tools.NewWebSearch(deps.HTTPClient))
	reg.Register(tools.NewNewsSearch(deps.HTTPClient))
	reg.Register(tools.NewWikipedia(deps.HTTPClient, deps.Language))
	if deps.Documents != nil {
		reg.Register(tools.NewDocSearch(deps.Documents))
		reg.Register(tools.NewDocList(deps.Documents))
	}
	if deps.VisualEndpoint != "" {
		reg.Register(tools.NewGenerateVisual(deps.HTTPClient, deps.VisualEndpoint, deps.VisualAPIKey, onVisual, logger))
	}
	return reg
}
