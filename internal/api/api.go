// Package api implements the HTTP control surface: session lifecycle,
// document management, conversation history, health probes, and the metrics
// endpoint.
//
// The control surface is for operators and the application backend, not for
// room participants; realtime traffic flows over the room transport.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"

	"github.com/ckocel/voxtutor/internal/convstore"
	"github.com/ckocel/voxtutor/internal/health"
	"github.com/ckocel/voxtutor/internal/observe"
	"github.com/ckocel/voxtutor/internal/session"
	"github.com/ckocel/voxtutor/pkg/rag"
)

// SessionManager is the slice of [session.Manager] the control surface needs.
type SessionManager interface {
	StartSession(ctx context.Context, roomName, persona, userID string, docIDs []string) (*session.Session, error)
	StopSession(roomName string) bool
	GetSession(roomName string) *session.Session
	Active() int
}

// Config collects the dependencies of the control surface.
type Config struct {
	Sessions SessionManager

	// Documents backs the document endpoints; nil disables them with 503.
	Documents rag.Store

	// Conversations backs the history endpoint; nil disables it with 503.
	Conversations convstore.Store

	// DefaultPersona is used when a session start request carries none.
	DefaultPersona string

	// Health serves the probe endpoints; nil registers none.
	Health *health.Handler

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Server is the HTTP control surface.
type Server struct {
	cfg Config
	log *slog.Logger
}

// New builds a Server. Sessions is required.
func New(cfg Config) (*Server, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("api: session manager is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Server{cfg: cfg, log: cfg.Logger.With("component", "api")}, nil
}

// Routes returns the complete handler, with request metrics applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/sessions", s.startSession)
	mux.HandleFunc("GET /v1/sessions/{room}", s.getSession)
	mux.HandleFunc("DELETE /v1/sessions/{room}", s.stopSession)

	mux.HandleFunc("POST /v1/documents", s.addDocument)
	mux.HandleFunc("GET /v1/documents", s.listDocuments)
	mux.HandleFunc("DELETE /v1/documents/{docID}", s.deleteDocument)

	mux.HandleFunc("GET /v1/conversations/{room}/messages", s.listMessages)

	if s.cfg.Health != nil {
		s.cfg.Health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	return s.measure(mux)
}

// measure records request latency per method and route pattern.
func (s *Server) measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		s.cfg.Metrics.HTTPRequestDuration.Record(r.Context(), time.Since(start).Seconds(),
			metric.WithAttributes(
				observe.Attr("method", r.Method),
				observe.Attr("path", pattern),
			),
		)
	})
}

type startSessionRequest struct {
	RoomName string   `json:"room_name"`
	Persona  string   `json:"persona"`
	UserID   string   `json:"user_id"`
	DocIDs   []string `json:"doc_ids"`
}

type sessionResponse struct {
	RoomName      string   `json:"room_name"`
	AgentIdentity string   `json:"agent_identity"`
	Participants  []string `json:"participants,omitempty"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RoomName == "" {
		writeError(w, http.StatusBadRequest, "room_name is required")
		return
	}
	persona := req.Persona
	if persona == "" {
		persona = s.cfg.DefaultPersona
	}

	_, err := s.cfg.Sessions.StartSession(r.Context(), req.RoomName, persona, req.UserID, req.DocIDs)
	switch {
	case errors.Is(err, session.ErrRoomActive):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.log.Error("session start failed", "room", req.RoomName, "error", err)
		writeError(w, http.StatusBadGateway, "session start failed")
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse{
		RoomName:      req.RoomName,
		AgentIdentity: "agent-" + req.RoomName,
	})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	roomName := r.PathValue("room")
	sess := s.cfg.Sessions.GetSession(roomName)
	if sess == nil {
		writeError(w, http.StatusNotFound, "no active session for room")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		RoomName:      roomName,
		AgentIdentity: "agent-" + roomName,
		Participants:  sess.Participants(),
	})
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	roomName := r.PathValue("room")
	if !s.cfg.Sessions.StopSession(roomName) {
		writeError(w, http.StatusNotFound, "no active session for room")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addDocumentRequest struct {
	UserID   string `json:"user_id"`
	DocID    string `json:"doc_id"`
	Filename string `json:"filename"`
	Text     string `json:"text"`
}

func (s *Server) addDocument(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Documents == nil {
		writeError(w, http.StatusServiceUnavailable, "document storage not configured")
		return
	}
	var req addDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.DocID == "" {
		req.DocID = uuid.NewString()
	}

	chunks, err := s.cfg.Documents.AddDocument(r.Context(), rag.Document{
		UserID:   req.UserID,
		DocID:    req.DocID,
		Filename: req.Filename,
		Text:     req.Text,
	})
	switch {
	case errors.Is(err, rag.ErrNoText):
		writeError(w, http.StatusBadRequest, "document has no extractable text")
		return
	case err != nil:
		s.log.Error("document indexing failed", "doc_id", req.DocID, "error", err)
		writeError(w, http.StatusBadGateway, "document indexing failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"doc_id": req.DocID,
		"chunks": chunks,
	})
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Documents == nil {
		writeError(w, http.StatusServiceUnavailable, "document storage not configured")
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	docs := s.cfg.Documents.ListDocuments(r.Context(), userID, r.URL.Query()["doc_id"])
	out := make([]map[string]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, map[string]string{
			"doc_id":   d.DocID,
			"filename": d.Filename,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out})
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Documents == nil {
		writeError(w, http.StatusServiceUnavailable, "document storage not configured")
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := s.cfg.Documents.DeleteDocument(r.Context(), userID, r.PathValue("docID")); err != nil {
		s.log.Error("document delete failed", "doc_id", r.PathValue("docID"), "error", err)
		writeError(w, http.StatusBadGateway, "document delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Conversations == nil {
		writeError(w, http.StatusServiceUnavailable, "conversation storage not configured")
		return
	}
	roomName := r.PathValue("room")

	conv, err := s.cfg.Conversations.GetByRoom(r.Context(), roomName)
	if err != nil {
		s.log.Error("conversation lookup failed", "room", roomName, "error", err)
		writeError(w, http.StatusBadGateway, "conversation lookup failed")
		return
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, "no conversation for room")
		return
	}

	msgs, err := s.cfg.Conversations.ListMessages(r.Context(), conv.ID)
	if err != nil {
		s.log.Error("message listing failed", "room", roomName, "error", err)
		writeError(w, http.StatusBadGateway, "message listing failed")
		return
	}

	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, map[string]any{
			"participant_identity": m.ParticipantIdentity,
			"participant_name":     m.ParticipantName,
			"type":                 string(m.Type),
			"content":              m.Content,
			"created_at":           m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conv.ID,
		"status":          string(conv.Status),
		"messages":        out,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
