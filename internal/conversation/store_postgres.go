package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgxpool.Pool the store needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps conversations in the conversations table.
type PostgresStore struct {
	pool Querier
}

func NewPostgresStore(pool Querier) *PostgresStore {
	if pool == nil {
		panic("conversation: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

const conversationColumns = `id, tenant_id, caller_phone, lead_id, channel, status, state_payload,
		created_at, last_activity_at, ended_at`

func (s *PostgresStore) LatestForCaller(ctx context.Context, tenantID, phone string) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+conversationColumns+`
		FROM conversations
		WHERE tenant_id = $1 AND caller_phone = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, tenantID, phone)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("conversation: latest for caller: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = $1
	`, id)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("conversation: get: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) Create(ctx context.Context, conv *Conversation) error {
	payload, err := conv.State.Encode()
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO conversations (id, tenant_id, caller_phone, lead_id, channel, status, state_payload,
			created_at, last_activity_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, conv.ID, conv.TenantID, conv.CallerPhone, nullable(conv.LeadID), conv.Channel, string(conv.Status),
		[]byte(payload), conv.CreatedAt, conv.LastActivityAt, conv.EndedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrOpenConversationExists
		}
		return fmt.Errorf("conversation: insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, conv *Conversation) error {
	payload, err := conv.State.Encode()
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET lead_id = $2, status = $3, state_payload = $4, last_activity_at = $5, ended_at = $6
		WHERE id = $1
	`, conv.ID, nullable(conv.LeadID), string(conv.Status), []byte(payload), conv.LastActivityAt, conv.EndedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrOpenConversationExists
		}
		return fmt.Errorf("conversation: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func scanConversation(row pgx.Row) (*Conversation, error) {
	var (
		conv    Conversation
		leadID  *string
		status  string
		payload []byte
		endedAt *time.Time
	)
	if err := row.Scan(
		&conv.ID,
		&conv.TenantID,
		&conv.CallerPhone,
		&leadID,
		&conv.Channel,
		&status,
		&payload,
		&conv.CreatedAt,
		&conv.LastActivityAt,
		&endedAt,
	); err != nil {
		return nil, err
	}
	state, err := DecodeStatePayload(payload)
	if err != nil {
		return nil, err
	}
	if leadID != nil {
		conv.LeadID = *leadID
	}
	conv.Status = Status(status)
	conv.State = state
	conv.EndedAt = endedAt
	return &conv, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
