package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Message directions recorded in the transcript.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// TranscriptEntry is one SMS exchanged in a conversation.
type TranscriptEntry struct {
	ID                string    `json:"id"`
	ConversationID    string    `json:"conversation_id"`
	TenantID          string    `json:"tenant_id"`
	Direction         string    `json:"direction"`
	From              string    `json:"from"`
	To                string    `json:"to"`
	Body              string    `json:"body"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// TranscriptRecorder appends transcript entries.
type TranscriptRecorder interface {
	Append(ctx context.Context, entry TranscriptEntry) error
}

// TranscriptStore persists message history to PostgreSQL for staff review.
type TranscriptStore struct {
	db     *sql.DB
	tracer trace.Tracer
}

// NewTranscriptStore returns nil when db is nil so callers can skip history.
func NewTranscriptStore(db *sql.DB) *TranscriptStore {
	if db == nil {
		return nil
	}
	return &TranscriptStore{
		db:     db,
		tracer: otel.Tracer("missedcall.internal.conversation.transcript"),
	}
}

// Append inserts a message; replays with the same id are ignored.
func (s *TranscriptStore) Append(ctx context.Context, entry TranscriptEntry) error {
	if s == nil || s.db == nil {
		return nil
	}
	if entry.ConversationID == "" {
		return errors.New("conversation: transcript conversationID required")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	ctx, span := s.tracer.Start(ctx, "conversation.transcript.append")
	defer span.End()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_messages (
			id, conversation_id, tenant_id, direction, from_phone, to_phone, body, provider_message_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, entry.ID, entry.ConversationID, entry.TenantID, entry.Direction, entry.From, entry.To, entry.Body,
		entry.ProviderMessageID, entry.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to insert message: %w", err)
	}
	return nil
}

// List returns the most recent messages of a conversation in send order.
func (s *TranscriptStore) List(ctx context.Context, conversationID string, limit int) ([]TranscriptEntry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if conversationID == "" {
		return nil, errors.New("conversation: transcript conversationID required")
	}
	if limit <= 0 {
		limit = 100
	}

	ctx, span := s.tracer.Start(ctx, "conversation.transcript.list")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, tenant_id, direction, from_phone, to_phone, body, provider_message_id, created_at
		FROM (
			SELECT * FROM conversation_messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`, conversationID, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: list transcript: %w", err)
	}
	defer rows.Close()

	out := []TranscriptEntry{}
	for rows.Next() {
		var entry TranscriptEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.ConversationID,
			&entry.TenantID,
			&entry.Direction,
			&entry.From,
			&entry.To,
			&entry.Body,
			&entry.ProviderMessageID,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("conversation: scan transcript: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: list transcript: %w", err)
	}
	return out, nil
}
