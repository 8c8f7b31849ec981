package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/missedcall-booking/internal/appointments"
	"github.com/wolfman30/missedcall-booking/internal/calendar"
	"github.com/wolfman30/missedcall-booking/internal/clinic"
	"github.com/wolfman30/missedcall-booking/internal/intent"
	"github.com/wolfman30/missedcall-booking/internal/leads"
	"github.com/wolfman30/missedcall-booking/internal/observability/metrics"
	"github.com/wolfman30/missedcall-booking/pkg/logging"
)

var engineTracer = otel.Tracer("missedcall.internal.conversation")

const defaultNotifyTimeout = 30 * time.Second

// ClinicConfigStore loads per-tenant hours and display settings.
type ClinicConfigStore interface {
	Get(ctx context.Context, tenantID string) (*clinic.Config, error)
}

// Escalator tells staff a caller is waiting for a call back.
type Escalator interface {
	NotifyCallbackRequested(ctx context.Context, cfg *clinic.Config, lead *leads.Lead) error
}

// Options tune slot offering and conversation reuse.
type Options struct {
	PageSize     int
	Granularity  time.Duration
	MinLeadTime  time.Duration
	HorizonDays  int
	StickyWindow time.Duration
}

// DefaultOptions offers three slots per page over a two week horizon.
func DefaultOptions() Options {
	return Options{
		PageSize:     3,
		Granularity:  calendar.DefaultGranularity,
		MinLeadTime:  calendar.DefaultMinLeadTime,
		HorizonDays:  calendar.DefaultHorizonDays,
		StickyWindow: 72 * time.Hour,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.PageSize <= 0 {
		o.PageSize = def.PageSize
	}
	if o.Granularity <= 0 {
		o.Granularity = def.Granularity
	}
	if o.MinLeadTime < 0 {
		o.MinLeadTime = def.MinLeadTime
	}
	if o.HorizonDays <= 0 {
		o.HorizonDays = def.HorizonDays
	}
	if o.StickyWindow <= 0 {
		o.StickyWindow = def.StickyWindow
	}
	return o
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

func WithOptions(opts Options) EngineOption {
	return func(e *Engine) { e.opts = opts.withDefaults() }
}

func WithEscalator(escalator Escalator) EngineOption {
	return func(e *Engine) { e.escalator = escalator }
}

func WithTranscripts(recorder TranscriptRecorder) EngineOption {
	return func(e *Engine) {
		if recorder != nil {
			e.transcripts = recorder
		}
	}
}

func WithEngineMetrics(m *metrics.EngineMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine runs the missed-call booking conversation: it classifies each
// inbound message against the conversation's status, applies the
// transition and returns the reply to send.
type Engine struct {
	store       Store
	leads       leads.Repository
	booker      appointments.Booker
	clinics     ClinicConfigStore
	escalator   Escalator
	transcripts TranscriptRecorder
	metrics     *metrics.EngineMetrics
	logger      *logging.Logger
	opts        Options
	now         func() time.Time

	notifyTimeout time.Duration
	notifying     sync.WaitGroup
}

func NewEngine(store Store, leadsRepo leads.Repository, booker appointments.Booker, clinics ClinicConfigStore, logger *logging.Logger, opts ...EngineOption) *Engine {
	if store == nil {
		panic("conversation: store required")
	}
	if leadsRepo == nil {
		panic("conversation: leads repository required")
	}
	if booker == nil {
		panic("conversation: booker required")
	}
	if clinics == nil {
		panic("conversation: clinic config store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		store:   store,
		leads:   leadsRepo,
		booker:  booker,
		clinics: clinics,
		logger:  logger.WithComponent("conversation.engine"),
		opts:    DefaultOptions(),
		now:     time.Now,

		notifyTimeout: defaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// turn carries the working state of one HandleInbound or StartFollowUp call.
type turn struct {
	conv    *Conversation
	prev    *Conversation
	lead    *leads.Lead
	cfg     *clinic.Config
	loc     *time.Location
	now     time.Time
	from    string
	created bool
	intent  intent.Intent

	leadDirty  bool
	persist    bool
	body       string
	booked     *appointments.Appointment
	escalation string
}

// HandleInbound processes one caller message. A non-nil error means a
// collaborator failed; the returned Turn then carries a generic apology
// and the conversation keeps its previous state.
func (e *Engine) HandleInbound(ctx context.Context, msg InboundMessage) (Turn, error) {
	if strings.TrimSpace(msg.TenantID) == "" {
		return Turn{}, ErrMissingTenant
	}
	if strings.TrimSpace(msg.FromPhone) == "" {
		return Turn{}, ErrMissingPhone
	}

	started := e.now()
	ctx, span := engineTracer.Start(ctx, "conversation.handle_inbound")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation.tenant_id", msg.TenantID),
		attribute.String("conversation.provider_message_id", msg.ProviderMessageID),
	)

	t, err := e.begin(ctx, msg.TenantID, msg.FromPhone, msg.ToPhone, true)
	if err != nil {
		return e.fail(ctx, span, nil, msg.TenantID, msg.FromPhone, msg.ToPhone, err)
	}
	span.SetAttributes(attribute.String("conversation.id", t.conv.ID))

	e.record(ctx, t, DirectionInbound, msg.FromPhone, msg.ToPhone, msg.Body, msg.ProviderMessageID)

	t.intent = intent.Classify(msg.Body, t.conv.Status.Expectation(t.conv.State))
	span.SetAttributes(attribute.String("conversation.intent", t.intent.Type.String()))

	if err := e.apply(ctx, t); err != nil {
		return e.fail(ctx, span, t, msg.TenantID, msg.FromPhone, msg.ToPhone, err)
	}
	if err := e.commit(ctx, t); err != nil {
		return e.fail(ctx, span, t, msg.TenantID, msg.FromPhone, msg.ToPhone, err)
	}

	out := e.finish(ctx, t)
	e.metrics.ObserveTurn(string(out.Status), t.intent.Type.String(), e.now().Sub(started).Seconds())
	e.logger.Info("conversation turn",
		"tenant_id", t.conv.TenantID,
		"conversation_id", t.conv.ID,
		"from_status", t.prev.Status,
		"to_status", t.conv.Status,
		"intent", t.intent.String(),
		"suppressed", out.Suppressed(),
	)
	return out, nil
}

// StartFollowUp opens a conversation after a missed call and returns the
// initial prompt. It is a no-op when the caller already has an open
// conversation or has opted out.
func (e *Engine) StartFollowUp(ctx context.Context, req FollowUpRequest) (Turn, error) {
	if strings.TrimSpace(req.TenantID) == "" {
		return Turn{}, ErrMissingTenant
	}
	if strings.TrimSpace(req.CallerPhone) == "" {
		return Turn{}, ErrMissingPhone
	}

	ctx, span := engineTracer.Start(ctx, "conversation.start_follow_up")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.tenant_id", req.TenantID))

	latest, err := e.store.LatestForCaller(ctx, req.TenantID, req.CallerPhone)
	switch {
	case err == nil && (latest.Open() || latest.Status == StatusCompleted):
		e.logger.Info("follow-up skipped", "tenant_id", req.TenantID, "conversation_id", latest.ID, "status", latest.Status)
		return Turn{
			TenantID:       latest.TenantID,
			ConversationID: latest.ID,
			LeadID:         latest.LeadID,
			Status:         latest.Status,
			Intent:         intent.FreeText,
		}, nil
	case err != nil && !errors.Is(err, ErrConversationNotFound):
		span.RecordError(err)
		return Turn{}, fmt.Errorf("conversation: follow-up lookup: %w", err)
	}

	t, err := e.begin(ctx, req.TenantID, req.CallerPhone, req.ClinicPhone, false)
	if err != nil {
		span.RecordError(err)
		return Turn{}, err
	}
	if !t.created {
		// Lost a race with an inbound message that opened the conversation.
		return Turn{TenantID: t.conv.TenantID, ConversationID: t.conv.ID, LeadID: t.conv.LeadID, Status: t.conv.Status}, nil
	}
	t.body = missedCallPrompt(t.cfg.DisplayName())
	t.persist = true
	if err := e.commit(ctx, t); err != nil {
		span.RecordError(err)
		return Turn{}, err
	}
	e.logger.Info("follow-up started", "tenant_id", t.conv.TenantID, "conversation_id", t.conv.ID, "lead_id", t.conv.LeadID)
	return e.finish(ctx, t), nil
}

// begin loads the clinic config and finds or creates the caller's
// conversation and lead.
func (e *Engine) begin(ctx context.Context, tenantID, callerPhone, clinicPhone string, reuseSticky bool) (*turn, error) {
	cfg, err := e.clinics.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("conversation: load clinic config: %w", err)
	}
	if cfg == nil {
		cfg = clinic.DefaultConfig(tenantID)
	}
	loc := cfg.Location()
	now := e.now().In(loc)

	conv, created, err := e.resolve(ctx, tenantID, callerPhone, now, reuseSticky)
	if err != nil {
		return nil, err
	}
	for i, slot := range conv.State.OfferedSlots {
		conv.State.OfferedSlots[i] = slot.In(loc)
	}
	if err := conv.State.Validate(conv.Status); err != nil {
		e.logger.Warn("resetting conversation with invalid state", "conversation_id", conv.ID, "status", conv.Status, "error", err)
		conv.Status = StatusAwaitingInitialChoice
		conv.State = StatePayload{}
	}

	from := clinicPhone
	if from == "" {
		from = cfg.Phone
	}
	t := &turn{
		conv:    conv,
		prev:    conv.clone(),
		cfg:     cfg,
		loc:     loc,
		now:     now,
		from:    from,
		created: created,
	}
	if err := e.ensureLead(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (e *Engine) resolve(ctx context.Context, tenantID, phone string, now time.Time, reuseSticky bool) (*Conversation, bool, error) {
	latest, err := e.store.LatestForCaller(ctx, tenantID, phone)
	switch {
	case errors.Is(err, ErrConversationNotFound):
	case err != nil:
		return nil, false, fmt.Errorf("conversation: latest for caller: %w", err)
	case latest.Open(), latest.Status == StatusCompleted:
		return latest, false, nil
	case reuseSticky && now.Sub(latest.LastActivityAt) <= e.opts.StickyWindow:
		return latest, false, nil
	}

	conv := &Conversation{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		CallerPhone:    phone,
		Channel:        ChannelSMS,
		Status:         StatusAwaitingInitialChoice,
		CreatedAt:      now.UTC(),
		LastActivityAt: now.UTC(),
	}
	if err := e.store.Create(ctx, conv); err != nil {
		if errors.Is(err, ErrOpenConversationExists) {
			existing, lookupErr := e.store.LatestForCaller(ctx, tenantID, phone)
			if lookupErr != nil {
				return nil, false, fmt.Errorf("conversation: reload after create race: %w", lookupErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("conversation: create: %w", err)
	}
	return conv, true, nil
}

func (e *Engine) ensureLead(ctx context.Context, t *turn) error {
	if t.conv.LeadID != "" {
		lead, err := e.leads.GetByID(ctx, t.conv.TenantID, t.conv.LeadID)
		if err == nil {
			t.lead = lead
			return nil
		}
		if !errors.Is(err, leads.ErrLeadNotFound) {
			return fmt.Errorf("conversation: load lead: %w", err)
		}
	}
	lead, err := e.leads.Create(ctx, &leads.CreateLeadRequest{
		TenantID:       t.conv.TenantID,
		ConversationID: t.conv.ID,
		Phone:          t.conv.CallerPhone,
	})
	if err != nil {
		return fmt.Errorf("conversation: create lead: %w", err)
	}
	t.lead = lead
	t.conv.LeadID = lead.ID
	// Link right away so a turn that fails later does not leave the lead
	// orphaned and have the retry create another.
	if err := e.store.Save(ctx, t.conv); err != nil {
		return fmt.Errorf("conversation: link lead: %w", err)
	}
	t.prev.LeadID = lead.ID
	return nil
}

// commit saves the conversation, then the lead. A lead write failure after
// the conversation is saved is logged only.
func (e *Engine) commit(ctx context.Context, t *turn) error {
	if t.persist {
		if err := e.store.Save(ctx, t.conv); err != nil {
			return fmt.Errorf("conversation: save: %w", err)
		}
	}
	if t.leadDirty && t.lead != nil {
		if err := e.leads.Update(ctx, t.lead); err != nil {
			e.logger.Error("failed to update lead", "error", err, "tenant_id", t.conv.TenantID, "lead_id", t.lead.ID)
		}
	}
	e.notifyStaff(ctx, t)
	return nil
}

// Wait blocks until in-flight staff notifications finish.
func (e *Engine) Wait() {
	e.notifying.Wait()
}

func (e *Engine) finish(ctx context.Context, t *turn) Turn {
	out := Turn{
		TenantID:       t.conv.TenantID,
		ConversationID: t.conv.ID,
		LeadID:         t.conv.LeadID,
		Status:         t.conv.Status,
		Intent:         t.intent.Type,
		Appointment:    t.booked,
		Created:        t.created,
	}
	if t.body != "" {
		out.Reply = &OutboundReply{
			TenantID:       t.conv.TenantID,
			LeadID:         t.conv.LeadID,
			ConversationID: t.conv.ID,
			To:             t.conv.CallerPhone,
			From:           t.from,
			Body:           t.body,
			Metadata:       map[string]string{"status": string(t.conv.Status)},
		}
		e.record(ctx, t, DirectionOutbound, t.from, t.conv.CallerPhone, t.body, "")
	}
	return out
}

func (e *Engine) fail(ctx context.Context, span trace.Span, t *turn, tenantID, phone, clinicPhone string, err error) (Turn, error) {
	span.RecordError(err)
	out := Turn{
		TenantID: tenantID,
		Reply: &OutboundReply{
			TenantID: tenantID,
			To:       phone,
			From:     clinicPhone,
			Body:     systemApology,
		},
	}
	if t != nil {
		out.ConversationID = t.prev.ID
		out.LeadID = t.prev.LeadID
		out.Status = t.prev.Status
		out.Intent = t.intent.Type
		out.Reply.ConversationID = t.prev.ID
		out.Reply.LeadID = t.prev.LeadID
		out.Reply.From = t.from
	}
	e.logger.Error("conversation turn failed", "error", err, "tenant_id", tenantID, "conversation_id", out.ConversationID)
	return out, err
}

func (e *Engine) record(ctx context.Context, t *turn, direction, from, to, body, providerID string) {
	if e.transcripts == nil {
		return
	}
	if err := e.transcripts.Append(ctx, TranscriptEntry{
		ConversationID:    t.conv.ID,
		TenantID:          t.conv.TenantID,
		Direction:         direction,
		From:              from,
		To:                to,
		Body:              body,
		ProviderMessageID: providerID,
		CreatedAt:         e.now().UTC(),
	}); err != nil {
		e.logger.Warn("failed to record transcript", "error", err, "conversation_id", t.conv.ID, "direction", direction)
	}
}
