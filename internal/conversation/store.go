package conversation

import (
	"context"
	"fmt"
	"sync"

	"github.com/wolfman30/missedcall-booking/internal/appointments"
	"github.com/wolfman30/missedcall-booking/internal/leads"
)

// Store persists conversations. The engine is its only writer.
type Store interface {
	// LatestForCaller returns the most recently created conversation for
	// the caller, or ErrConversationNotFound.
	LatestForCaller(ctx context.Context, tenantID, phone string) (*Conversation, error)
	Get(ctx context.Context, id string) (*Conversation, error)
	// Create inserts a new open conversation; ErrOpenConversationExists
	// signals a concurrent creator won.
	Create(ctx context.Context, conv *Conversation) error
	Save(ctx context.Context, conv *Conversation) error
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*Conversation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]*Conversation)}
}

func (m *MemoryStore) LatestForCaller(_ context.Context, tenantID, phone string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *Conversation
	for _, conv := range m.convs {
		if conv.TenantID != tenantID || conv.CallerPhone != phone {
			continue
		}
		if latest == nil || conv.CreatedAt.After(latest.CreatedAt) {
			latest = conv
		}
	}
	if latest == nil {
		return nil, ErrConversationNotFound
	}
	return latest.clone(), nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.convs[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return conv.clone(), nil
}

func (m *MemoryStore) Create(_ context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.convs[conv.ID]; exists {
		return fmt.Errorf("conversation: duplicate id %s", conv.ID)
	}
	if m.openConflict(conv) {
		return ErrOpenConversationExists
	}
	m.convs[conv.ID] = conv.clone()
	return nil
}

func (m *MemoryStore) Save(_ context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(conv)
}

func (m *MemoryStore) saveLocked(conv *Conversation) error {
	if _, ok := m.convs[conv.ID]; !ok {
		return ErrConversationNotFound
	}
	if m.openConflict(conv) {
		return ErrOpenConversationExists
	}
	m.convs[conv.ID] = conv.clone()
	return nil
}

// openConflict mirrors the partial unique index on open conversations.
func (m *MemoryStore) openConflict(conv *Conversation) bool {
	if !conv.Open() {
		return false
	}
	for id, other := range m.convs {
		if id != conv.ID && other.Open() && other.TenantID == conv.TenantID && other.CallerPhone == conv.CallerPhone {
			return true
		}
	}
	return false
}

// MemoryBookingHook finalizes the conversation and lead when a
// MemoryBooker books a slot, standing in for the SQL updates the Postgres
// booking transaction performs.
func MemoryBookingHook(store *MemoryStore, leadsRepo leads.Repository) appointments.BookingHook {
	return func(ctx context.Context, req appointments.BookingRequest, appt appointments.Appointment) error {
		state, err := DecodeStatePayload(req.FinalState)
		if err != nil {
			return err
		}

		store.mu.Lock()
		defer store.mu.Unlock()

		current, ok := store.convs[req.ConversationID]
		if !ok || current.TenantID != req.TenantID {
			return ErrConversationNotFound
		}
		conv := current.clone()

		if req.LeadID != "" && leadsRepo != nil {
			lead, err := leadsRepo.GetByID(ctx, req.TenantID, req.LeadID)
			if err != nil {
				return err
			}
			lead.MarkBooked(req.Slot)
			if err := leadsRepo.Update(ctx, lead); err != nil {
				return err
			}
		}

		conv.transition(Status(req.FinalStatus), state, appt.CreatedAt)
		return store.saveLocked(conv)
	}
}
