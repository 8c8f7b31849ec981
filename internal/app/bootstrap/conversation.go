package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/missedcall-booking/internal/appointments"
	"github.com/wolfman30/missedcall-booking/internal/clinic"
	appconfig "github.com/wolfman30/missedcall-booking/internal/config"
	"github.com/wolfman30/missedcall-booking/internal/conversation"
	"github.com/wolfman30/missedcall-booking/internal/events"
	"github.com/wolfman30/missedcall-booking/internal/leads"
	"github.com/wolfman30/missedcall-booking/internal/observability/metrics"
	"github.com/wolfman30/missedcall-booking/pkg/logging"
)

// ClinicStore is satisfied by the Redis and in-memory clinic stores.
type ClinicStore interface {
	Get(ctx context.Context, tenantID string) (*clinic.Config, error)
	Set(ctx context.Context, cfg *clinic.Config) error
}

// ConversationStack is everything the booking engine and its admin views need.
type ConversationStack struct {
	Engine        *conversation.Engine
	Conversations conversation.Store
	Leads         leads.Repository
	Clinics       ClinicStore
	// Transcripts is nil without Postgres.
	Transcripts *conversation.TranscriptStore
	Deduper     events.Deduper
}

// EngineOptions maps slot and reuse tuning from config.
func EngineOptions(cfg *appconfig.Config) conversation.Options {
	return conversation.Options{
		PageSize:     cfg.SlotPageSize,
		Granularity:  cfg.SlotGranularity,
		MinLeadTime:  cfg.SlotMinLeadTime,
		HorizonDays:  cfg.SlotHorizonDays,
		StickyWindow: cfg.StickyWindow,
	}
}

// BuildConversationStack wires Postgres-backed stores when pg is non-nil and
// in-memory ones otherwise. The in-memory mode is for local runs only: state
// is lost on restart and not shared between replicas.
func BuildConversationStack(cfg *appconfig.Config, pg *Postgres, redisClient *redis.Client, escalator conversation.Escalator, engineMetrics *metrics.EngineMetrics, logger *logging.Logger) (*ConversationStack, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	stack := &ConversationStack{}
	var booker appointments.Booker
	if pg != nil && pg.Pool != nil {
		stack.Conversations = conversation.NewPostgresStore(pg.Pool)
		stack.Leads = leads.NewPostgresRepository(pg.Pool)
		booker = appointments.NewPostgresBooker(pg.Pool, logger)
		if pg.DB != nil {
			stack.Transcripts = conversation.NewTranscriptStore(pg.DB)
		}
		logger.Info("conversation persistence enabled", "backend", "postgres")
	} else {
		memStore := conversation.NewMemoryStore()
		memLeads := leads.NewInMemoryRepository()
		stack.Conversations = memStore
		stack.Leads = memLeads
		booker = appointments.NewMemoryBooker(conversation.MemoryBookingHook(memStore, memLeads))
		logger.Warn("DATABASE_URL not set; conversations and bookings are kept in memory")
	}

	if redisClient != nil {
		stack.Clinics = clinic.NewStore(redisClient)
	} else {
		stack.Clinics = clinic.NewMemoryStore()
		logger.Warn("redis not configured; clinic configs fall back to defaults in memory")
	}

	stack.Deduper = buildDeduper(cfg, pg, redisClient, logger)

	opts := []conversation.EngineOption{
		conversation.WithOptions(EngineOptions(cfg)),
		conversation.WithEngineMetrics(engineMetrics),
	}
	if escalator != nil {
		opts = append(opts, conversation.WithEscalator(escalator))
	}
	if stack.Transcripts != nil {
		opts = append(opts, conversation.WithTranscripts(stack.Transcripts))
	}
	stack.Engine = conversation.NewEngine(stack.Conversations, stack.Leads, booker, stack.Clinics, logger, opts...)
	return stack, nil
}

func buildDeduper(cfg *appconfig.Config, pg *Postgres, redisClient *redis.Client, logger *logging.Logger) events.Deduper {
	switch {
	case cfg.DurableDedupe && pg != nil && pg.Pool != nil:
		logger.Info("webhook dedupe enabled", "backend", "postgres")
		return events.NewProcessedStore(pg.Pool, cfg.DedupeTTL, logger)
	case redisClient != nil:
		logger.Info("webhook dedupe enabled", "backend", "redis", "ttl", cfg.DedupeTTL.String())
		return events.NewRedisDeduper(redisClient, cfg.DedupeTTL)
	default:
		logger.Warn("webhook dedupe is process-local; retries reaching another replica are not detected")
		return events.NewMemoryDeduper(cfg.DedupeTTL)
	}
}
