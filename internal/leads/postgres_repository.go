package leads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgxpool.Pool the repository needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores leads in the relational database.
type PostgresRepository struct {
	pool Querier
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool Querier) *PostgresRepository {
	if pool == nil {
		panic("leads: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

const leadColumns = `id, tenant_id, conversation_id, phone, status, priority, reason,
		appointment_booked, appointment_at, created_at, updated_at`

// Create inserts a new row.
func (r *PostgresRepository) Create(ctx context.Context, req *CreateLeadRequest) (*Lead, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id := uuid.New()
	query := `
		INSERT INTO leads (id, tenant_id, conversation_id, phone, status, priority)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	lead := &Lead{
		ID:             id.String(),
		TenantID:       req.TenantID,
		ConversationID: req.ConversationID,
		Phone:          req.Phone,
		Status:         StatusNew,
		Priority:       PriorityNormal,
	}
	if err := r.pool.QueryRow(ctx, query,
		id,
		req.TenantID,
		nullable(req.ConversationID),
		req.Phone,
		string(StatusNew),
		string(PriorityNormal),
	).Scan(&lead.CreatedAt, &lead.UpdatedAt); err != nil {
		return nil, fmt.Errorf("leads: insert failed: %w", err)
	}
	return lead, nil
}

// GetByID fetches a lead scoped to the tenant.
func (r *PostgresRepository) GetByID(ctx context.Context, tenantID string, id string) (*Lead, error) {
	query := `SELECT ` + leadColumns + `
		FROM leads
		WHERE id = $1 AND tenant_id = $2
	`
	lead, err := scanLead(r.pool.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		return nil, fmt.Errorf("leads: select failed: %w", err)
	}
	return lead, nil
}

// Update writes the engine-owned fields of a lead.
func (r *PostgresRepository) Update(ctx context.Context, lead *Lead) error {
	query := `
		UPDATE leads
		SET conversation_id = $3, status = $4, priority = $5, reason = $6,
			appointment_booked = $7, appointment_at = $8, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`
	tag, err := r.pool.Exec(ctx, query,
		lead.ID,
		lead.TenantID,
		nullable(lead.ConversationID),
		string(lead.Status),
		string(lead.Priority),
		lead.Reason,
		lead.AppointmentBooked,
		lead.AppointmentAt,
	)
	if err != nil {
		return fmt.Errorf("leads: update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeadNotFound
	}
	return nil
}

// ListByTenant returns the tenant's leads, newest first.
func (r *PostgresRepository) ListByTenant(ctx context.Context, tenantID string, filter ListLeadsFilter) ([]*Lead, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	query := `SELECT ` + leadColumns + `
		FROM leads
		WHERE tenant_id = $1
			AND ($2 = '' OR status = $2)
			AND ($3 = '' OR priority = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`
	rows, err := r.pool.Query(ctx, query, tenantID, string(filter.Status), string(filter.Priority), filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("leads: list failed: %w", err)
	}
	defer rows.Close()

	out := []*Lead{}
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("leads: scan failed: %w", err)
		}
		out = append(out, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leads: list failed: %w", err)
	}
	return out, nil
}

func scanLead(row pgx.Row) (*Lead, error) {
	var (
		lead           Lead
		conversationID *string
		status         string
		priority       string
		appointmentAt  *time.Time
	)
	if err := row.Scan(
		&lead.ID,
		&lead.TenantID,
		&conversationID,
		&lead.Phone,
		&status,
		&priority,
		&lead.Reason,
		&lead.AppointmentBooked,
		&appointmentAt,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if conversationID != nil {
		lead.ConversationID = *conversationID
	}
	lead.Status = Status(status)
	lead.Priority = Priority(priority)
	lead.AppointmentAt = appointmentAt
	return &lead, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
