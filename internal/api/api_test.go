package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ckocel/voxtutor/internal/convstore"
	convmock "github.com/ckocel/voxtutor/internal/convstore/mock"
	"github.com/ckocel/voxtutor/internal/health"
	"github.com/ckocel/voxtutor/internal/session"
	"github.com/ckocel/voxtutor/pkg/rag"
	ragmock "github.com/ckocel/voxtutor/pkg/rag/mock"
)

// stubManager fakes the session manager with canned behaviour.
type stubManager struct {
	startErr error
	active   map[string]*session.Session
}

func (s *stubManager) StartSession(_ context.Context, roomName, persona, userID string, docIDs []string) (*session.Session, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	sess := &session.Session{}
	if s.active == nil {
		s.active = map[string]*session.Session{}
	}
	s.active[roomName] = sess
	return sess, nil
}

func (s *stubManager) StopSession(roomName string) bool {
	if _, ok := s.active[roomName]; !ok {
		return false
	}
	delete(s.active, roomName)
	return true
}

func (s *stubManager) GetSession(roomName string) *session.Session {
	return s.active[roomName]
}

func (s *stubManager) Active() int { return len(s.active) }

func newServer(t *testing.T, cfg Config) http.Handler {
	t.Helper()
	if cfg.Sessions == nil {
		cfg.Sessions = &stubManager{}
	}
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv.Routes()
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var payload map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("%s %s: response not JSON: %v", method, path, err)
		}
	}
	return rec, payload
}

func TestNewRequiresSessions(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing session manager")
	}
}

func TestSessionEndpoints(t *testing.T) {
	mgr := &stubManager{}
	h := newServer(t, Config{Sessions: mgr})

	t.Run("start", func(t *testing.T) {
		rec, body := doJSON(t, h, "POST", "/v1/sessions",
			`{"room_name":"room-1","user_id":"u1"}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201", rec.Code)
		}
		if body["agent_identity"] != "agent-room-1" {
			t.Fatalf("agent_identity = %v", body["agent_identity"])
		}
	})

	t.Run("start without room name", func(t *testing.T) {
		rec, _ := doJSON(t, h, "POST", "/v1/sessions", `{"user_id":"u1"}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("duplicate room conflicts", func(t *testing.T) {
		conflicted := newServer(t, Config{Sessions: &stubManager{
			startErr: fmt.Errorf("room %q: %w", "room-1", session.ErrRoomActive),
		}})
		rec, _ := doJSON(t, conflicted, "POST", "/v1/sessions", `{"room_name":"room-1"}`)
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}
	})

	t.Run("start failure maps to bad gateway", func(t *testing.T) {
		failing := newServer(t, Config{Sessions: &stubManager{
			startErr: errors.New("connect: refused"),
		}})
		rec, _ := doJSON(t, failing, "POST", "/v1/sessions", `{"room_name":"room-2"}`)
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("status = %d, want 502", rec.Code)
		}
	})

	t.Run("get", func(t *testing.T) {
		rec, body := doJSON(t, h, "GET", "/v1/sessions/room-1", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if body["room_name"] != "room-1" {
			t.Fatalf("room_name = %v", body["room_name"])
		}
	})

	t.Run("stop", func(t *testing.T) {
		rec, _ := doJSON(t, h, "DELETE", "/v1/sessions/room-1", "")
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
		rec, _ = doJSON(t, h, "DELETE", "/v1/sessions/room-1", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("repeat status = %d, want 404", rec.Code)
		}
	})

	t.Run("get unknown room", func(t *testing.T) {
		rec, _ := doJSON(t, h, "GET", "/v1/sessions/nope", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})
}

func TestDocumentEndpoints(t *testing.T) {
	store := &ragmock.Store{
		AddResult: 3,
		Docs: map[string][]rag.DocumentInfo{
			"u1": {
				{DocID: "d1", Filename: "notes.txt"},
				{DocID: "d2", Filename: "slides.txt"},
			},
		},
	}
	h := newServer(t, Config{Documents: store})

	t.Run("add", func(t *testing.T) {
		rec, body := doJSON(t, h, "POST", "/v1/documents",
			`{"user_id":"u1","doc_id":"d1","filename":"notes.txt","text":"Photosynthesis converts light into chemical energy."}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %v", rec.Code, body)
		}
		if body["doc_id"] != "d1" {
			t.Fatalf("doc_id = %v", body["doc_id"])
		}
		if body["chunks"] != float64(3) {
			t.Fatalf("chunks = %v, want 3", body["chunks"])
		}
	})

	t.Run("add without user", func(t *testing.T) {
		rec, _ := doJSON(t, h, "POST", "/v1/documents", `{"text":"hello"}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("add with empty text", func(t *testing.T) {
		rec, _ := doJSON(t, h, "POST", "/v1/documents", `{"user_id":"u1","text":"  "}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("add generates doc id", func(t *testing.T) {
		rec, body := doJSON(t, h, "POST", "/v1/documents",
			`{"user_id":"u1","filename":"b.txt","text":"Cell walls are rigid."}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201", rec.Code)
		}
		if body["doc_id"] == "" || body["doc_id"] == nil {
			t.Fatal("expected generated doc_id")
		}
	})

	t.Run("list", func(t *testing.T) {
		rec, body := doJSON(t, h, "GET", "/v1/documents?user_id=u1", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		docs, ok := body["documents"].([]any)
		if !ok || len(docs) != 2 {
			t.Fatalf("documents = %v, want 2 entries", body["documents"])
		}
	})

	t.Run("list filtered", func(t *testing.T) {
		rec, body := doJSON(t, h, "GET", "/v1/documents?user_id=u1&doc_id=d2", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		docs, ok := body["documents"].([]any)
		if !ok || len(docs) != 1 {
			t.Fatalf("documents = %v, want 1 entry", body["documents"])
		}
		if entry, ok := docs[0].(map[string]any); !ok || entry["doc_id"] != "d2" {
			t.Errorf("filtered entry = %v, want d2", docs[0])
		}
	})

	t.Run("delete", func(t *testing.T) {
		rec, _ := doJSON(t, h, "DELETE", "/v1/documents/d1?user_id=u1", "")
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
	})

	t.Run("disabled without store", func(t *testing.T) {
		disabled := newServer(t, Config{})
		rec, _ := doJSON(t, disabled, "GET", "/v1/documents?user_id=u1", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
	})
}

func TestListMessages(t *testing.T) {
	conv := &convmock.Store{}
	created, err := conv.CreateConversation(context.Background(), "u1", "room-1")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if err := conv.CreateMessage(context.Background(), convstoreMessage(created.ID, "transcript", "hello")); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if err := conv.CreateMessage(context.Background(), convstoreMessage(created.ID, "ai_response", "hi there")); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	h := newServer(t, Config{Conversations: conv})

	rec, body := doJSON(t, h, "GET", "/v1/conversations/room-1/messages", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	msgs, ok := body["messages"].([]any)
	if !ok || len(msgs) != 2 {
		t.Fatalf("messages = %v, want 2 entries", body["messages"])
	}

	rec, _ = doJSON(t, h, "GET", "/v1/conversations/unknown/messages", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown room status = %d, want 404", rec.Code)
	}
}

func convstoreMessage(conversationID string, typ convstore.MessageType, content string) convstore.Message {
	return convstore.Message{
		ConversationID:      conversationID,
		ParticipantIdentity: "user",
		ParticipantName:     "User",
		Type:                typ,
		Content:             content,
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	h := newServer(t, Config{
		Health: health.New("test", func() int { return 0 }),
	})

	rec, _ := doJSON(t, h, "GET", "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("/healthz status = %d, want 200", rec.Code)
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	raw := httptest.NewRecorder()
	h.ServeHTTP(raw, req)
	if raw.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", raw.Code)
	}
}
