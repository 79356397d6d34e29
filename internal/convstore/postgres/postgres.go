// Package postgres implements convstore.Store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ckocel/voxtutor/internal/convstore"
)

const ddl = `
CREATE TABLE IF NOT EXISTS voice_conversations (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	room_name         TEXT NOT NULL UNIQUE,
	status            TEXT NOT NULL DEFAULT 'active',
	started_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	ended_at          TIMESTAMPTZ,
	total_duration_ns BIGINT NOT NULL DEFAULT 0,
	participant_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_voice_conversations_user
	ON voice_conversations (user_id);

CREATE TABLE IF NOT EXISTS voice_messages (
	id                   TEXT PRIMARY KEY,
	conversation_id      TEXT NOT NULL REFERENCES voice_conversations(id) ON DELETE CASCADE,
	participant_identity TEXT NOT NULL,
	participant_name     TEXT NOT NULL,
	message_type         TEXT NOT NULL,
	content              TEXT NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_voice_messages_conversation
	ON voice_messages (conversation_id, created_at);
`

// Store persists conversations in PostgreSQL. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

var _ convstore.Store = (*Store)(nil)

// New connects to the database at dsn, runs schema migration and returns the
// store.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("conversation store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("conversation store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("conversation store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity, used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateConversation implements [convstore.Store].
func (s *Store) CreateConversation(ctx context.Context, userID, roomName string) (*convstore.Conversation, error) {
	conv := &convstore.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		RoomName:  roomName,
		Status:    convstore.StatusActive,
		StartedAt: time.Now(),
	}

	const q = `
		INSERT INTO voice_conversations (id, user_id, room_name, status, started_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, q, conv.ID, conv.UserID, conv.RoomName, conv.Status, conv.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("conversation store: create conversation: %w", err)
	}
	return conv, nil
}

// GetByRoom implements [convstore.Store].
func (s *Store) GetByRoom(ctx context.Context, roomName string) (*convstore.Conversation, error) {
	const q = `
		SELECT id, user_id, room_name, status, started_at, ended_at, total_duration_ns, participant_count
		FROM   voice_conversations
		WHERE  room_name = $1`

	var (
		conv       convstore.Conversation
		endedAt    *time.Time
		durationNS int64
	)
	err := s.pool.QueryRow(ctx, q, roomName).Scan(
		&conv.ID,
		&conv.UserID,
		&conv.RoomName,
		&conv.Status,
		&conv.StartedAt,
		&endedAt,
		&durationNS,
		&conv.ParticipantCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conversation store: get by room: %w", err)
	}
	if endedAt != nil {
		conv.EndedAt = *endedAt
	}
	conv.TotalDuration = time.Duration(durationNS)
	return &conv, nil
}

// CreateMessage implements [convstore.Store].
func (s *Store) CreateMessage(ctx context.Context, msg convstore.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	const q = `
		INSERT INTO voice_messages
		    (id, conversation_id, participant_identity, participant_name, message_type, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, q,
		msg.ID,
		msg.ConversationID,
		msg.ParticipantIdentity,
		msg.ParticipantName,
		string(msg.Type),
		msg.Content,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("conversation store: create message: %w", err)
	}
	return nil
}

// ListMessages implements [convstore.Store].
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]convstore.Message, error) {
	const q = `
		SELECT id, conversation_id, participant_identity, participant_name, message_type, content, created_at
		FROM   voice_messages
		WHERE  conversation_id = $1
		ORDER  BY created_at`

	rows, err := s.pool.Query(ctx, q, conversationID)
	if err != nil {
		return nil, fmt.Errorf("conversation store: list messages: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (convstore.Message, error) {
		var (
			m   convstore.Message
			typ string
		)
		err := row.Scan(&m.ID, &m.ConversationID, &m.ParticipantIdentity, &m.ParticipantName, &typ, &m.Content, &m.CreatedAt)
		m.Type = convstore.MessageType(typ)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("conversation store: list messages: %w", err)
	}
	return msgs, nil
}

// EndConversation implements [convstore.Store]. The status guard makes the
// update a no-op for conversations that are already ended.
func (s *Store) EndConversation(ctx context.Context, roomName string, duration time.Duration, participantCount int) error {
	const q = `
		UPDATE voice_conversations
		SET    status = $2, ended_at = now(), total_duration_ns = $3, participant_count = $4
		WHERE  room_name = $1 AND status = $5`

	_, err := s.pool.Exec(ctx, q, roomName, convstore.StatusEnded, duration.Nanoseconds(), participantCount, convstore.StatusActive)
	if err != nil {
		return fmt.Errorf("conversation store: end conversation: %w", err)
	}
	return nil
}
