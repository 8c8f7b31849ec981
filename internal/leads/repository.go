package leads

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for lead storage
type Repository interface {
	Create(ctx context.Context, req *CreateLeadRequest) (*Lead, error)
	GetByID(ctx context.Context, tenantID, id string) (*Lead, error)
	Update(ctx context.Context, lead *Lead) error
	ListByTenant(ctx context.Context, tenantID string, filter ListLeadsFilter) ([]*Lead, error)
}

// InMemoryRepository is a Repository backed by a map, used by tests and local runs
type InMemoryRepository struct {
	mu    sync.RWMutex
	leads map[string]*Lead
	now   func() time.Time
}

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		leads: make(map[string]*Lead),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create creates a new lead in memory
func (r *InMemoryRepository) Create(ctx context.Context, req *CreateLeadRequest) (*Lead, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := r.now()
	lead := &Lead{
		ID:             uuid.New().String(),
		TenantID:       req.TenantID,
		ConversationID: req.ConversationID,
		Phone:          req.Phone,
		Status:         StatusNew,
		Priority:       PriorityNormal,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	r.mu.Lock()
	r.leads[lead.ID] = cloneLead(lead)
	r.mu.Unlock()

	return lead, nil
}

// GetByID retrieves a lead by ID within a tenant
func (r *InMemoryRepository) GetByID(ctx context.Context, tenantID, id string) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lead, ok := r.leads[id]
	if !ok || lead.TenantID != tenantID {
		return nil, ErrLeadNotFound
	}
	return cloneLead(lead), nil
}

// Update replaces the mutable fields of a stored lead
func (r *InMemoryRepository) Update(ctx context.Context, lead *Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.leads[lead.ID]
	if !ok || existing.TenantID != lead.TenantID {
		return ErrLeadNotFound
	}
	lead.UpdatedAt = r.now()
	lead.CreatedAt = existing.CreatedAt
	r.leads[lead.ID] = cloneLead(lead)
	return nil
}

// ListByTenant returns the tenant's leads, newest first
func (r *InMemoryRepository) ListByTenant(ctx context.Context, tenantID string, filter ListLeadsFilter) ([]*Lead, error) {
	r.mu.RLock()
	var out []*Lead
	for _, lead := range r.leads {
		if lead.TenantID == tenantID && filter.matches(lead) {
			out = append(out, cloneLead(lead))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Offset >= len(out) {
		return []*Lead{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func cloneLead(l *Lead) *Lead {
	cp := *l
	if l.AppointmentAt != nil {
		at := *l.AppointmentAt
		cp.AppointmentAt = &at
	}
	return &cp
}
