package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/missedcall-booking/pkg/logging"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ProcessedStore is the durable Deduper. Claims live in processed_events and
// follow the same TTL as the Redis claims: an id whose claim is older than
// the TTL can be claimed again.
type ProcessedStore struct {
	db     execer
	ttl    time.Duration
	now    func() time.Time
	logger *logging.Logger
}

func NewProcessedStore(db execer, ttl time.Duration, logger *logging.Logger) *ProcessedStore {
	if db == nil {
		panic("events: pgx pool required")
	}
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ProcessedStore{db: db, ttl: ttl, now: time.Now, logger: logger.WithComponent("events.processed")}
}

const claimProcessedSQL = `
	INSERT INTO processed_events (provider, event_id, processed_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (provider, event_id) DO UPDATE
		SET processed_at = EXCLUDED.processed_at
		WHERE processed_events.processed_at < $4
`

func (s *ProcessedStore) Claim(ctx context.Context, provider, eventID string) (bool, error) {
	if strings.TrimSpace(eventID) == "" {
		return false, ErrMissingEventID
	}
	now := s.now().UTC()
	ct, err := s.db.Exec(ctx, claimProcessedSQL, provider, eventID, now, now.Add(-s.ttl))
	if err != nil {
		return false, fmt.Errorf("events: claim %s/%s: %w", provider, eventID, err)
	}
	return ct.RowsAffected() > 0, nil
}

// Prune deletes claims past the TTL and returns how many were removed.
func (s *ProcessedStore) Prune(ctx context.Context) (int64, error) {
	ct, err := s.db.Exec(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, s.now().UTC().Add(-s.ttl))
	if err != nil {
		return 0, fmt.Errorf("events: prune processed: %w", err)
	}
	return ct.RowsAffected(), nil
}

// RunPruner calls Prune every interval until ctx is done.
func (s *ProcessedStore) RunPruner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Prune(ctx)
			if err != nil {
				s.logger.Warn("processed events prune failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("processed events pruned", "rows", n)
			}
		}
	}
}
