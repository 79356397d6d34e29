// Package convstore defines conversation persistence for voice sessions.
//
// A conversation row is created when a session starts and closed exactly once
// when it ends. Messages are the durable transcript: user utterances and
// assistant responses, ordered by creation time. Status side-channel events
// are never persisted.
//
// Every implementation must be safe for concurrent use.
package convstore

import (
	"context"
	"time"
)

// Conversation status values.
const (
	StatusActive = "active"
	StatusEnded  = "ended"
)

// MessageType classifies a persisted message.
type MessageType string

const (
	// MessageTranscript is a finalized user utterance.
	MessageTranscript MessageType = "transcript"

	// MessageAIResponse is an assistant response.
	MessageAIResponse MessageType = "ai_response"
)

// Conversation is one voice session's persistence record. RoomName is unique
// across active conversations and is the lookup key used by the pipeline.
type Conversation struct {
	ID               string
	UserID           string
	RoomName         string
	Status           string
	StartedAt        time.Time
	EndedAt          time.Time // zero until the conversation ends
	TotalDuration    time.Duration
	ParticipantCount int
}

// Message is a single persisted transcript entry.
type Message struct {
	ID                  string
	ConversationID      string
	ParticipantIdentity string
	ParticipantName     string
	Type                MessageType
	Content             string
	CreatedAt           time.Time
}

// Store is the abstraction over conversation persistence backends.
type Store interface {
	// CreateConversation opens a new active conversation for roomName.
	CreateConversation(ctx context.Context, userID, roomName string) (*Conversation, error)

	// GetByRoom returns the conversation for roomName, or (nil, nil) when no
	// conversation exists for that room.
	GetByRoom(ctx context.Context, roomName string) (*Conversation, error)

	// CreateMessage appends a message. ConversationID, Type and Content are
	// required; ID and CreatedAt are assigned by the store when zero.
	CreateMessage(ctx context.Context, msg Message) error

	// ListMessages returns all messages of a conversation ordered by creation
	// time, oldest first.
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)

	// EndConversation marks the room's conversation ended and records the
	// final duration and participant headcount. Idempotent: a second call for
	// an already-ended room leaves the recorded values untouched and returns
	// nil.
	EndConversation(ctx context.Context, roomName string, duration time.Duration, participantCount int) error
}
