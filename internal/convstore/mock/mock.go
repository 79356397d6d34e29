// Package mock provides an in-memory test double for convstore.Store.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ckocel/voxtutor/internal/convstore"
)

// Store is an in-memory convstore.Store. The zero value is ready to use.
// Error fields, when set, are returned by the corresponding method.
type Store struct {
	mu sync.Mutex

	CreateConvErr error
	GetErr        error
	CreateMsgErr  error
	EndErr        error

	conversations map[string]*convstore.Conversation // keyed by room name
	messages      map[string][]convstore.Message     // keyed by conversation ID
	nextID        int

	// EndCalls counts EndConversation invocations, including idempotent ones.
	EndCalls int
}

var _ convstore.Store = (*Store)(nil)

// CreateConversation implements [convstore.Store].
func (s *Store) CreateConversation(ctx context.Context, userID, roomName string) (*convstore.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateConvErr != nil {
		return nil, s.CreateConvErr
	}
	if s.conversations == nil {
		s.conversations = make(map[string]*convstore.Conversation)
	}
	s.nextID++
	conv := &convstore.Conversation{
		ID:        fmt.Sprintf("conv-%d", s.nextID),
		UserID:    userID,
		RoomName:  roomName,
		Status:    convstore.StatusActive,
		StartedAt: time.Now(),
	}
	s.conversations[roomName] = conv
	copied := *conv
	return &copied, nil
}

// GetByRoom implements [convstore.Store].
func (s *Store) GetByRoom(ctx context.Context, roomName string) (*convstore.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	conv, ok := s.conversations[roomName]
	if !ok {
		return nil, nil
	}
	copied := *conv
	return &copied, nil
}

// CreateMessage implements [convstore.Store].
func (s *Store) CreateMessage(ctx context.Context, msg convstore.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateMsgErr != nil {
		return s.CreateMsgErr
	}
	if s.messages == nil {
		s.messages = make(map[string][]convstore.Message)
	}
	s.nextID++
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("msg-%d", s.nextID)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return nil
}

// ListMessages implements [convstore.Store].
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]convstore.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	out := make([]convstore.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// EndConversation implements [convstore.Store]. Like the real store it leaves
// already-ended conversations untouched.
func (s *Store) EndConversation(ctx context.Context, roomName string, duration time.Duration, participantCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EndCalls++
	if s.EndErr != nil {
		return s.EndErr
	}
	conv, ok := s.conversations[roomName]
	if !ok || conv.Status == convstore.StatusEnded {
		return nil
	}
	conv.Status = convstore.StatusEnded
	conv.EndedAt = time.Now()
	conv.TotalDuration = duration
	conv.ParticipantCount = participantCount
	return nil
}

// Messages returns a snapshot of all messages persisted for conversationID.
func (s *Store) Messages(conversationID string) []convstore.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	out := make([]convstore.Message, len(msgs))
	copy(out, msgs)
	return out
}
