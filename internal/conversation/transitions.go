package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/missedcall-booking/internal/appointments"
	"github.com/wolfman30/missedcall-booking/internal/calendar"
	"github.com/wolfman30/missedcall-booking/internal/intent"
	"github.com/wolfman30/missedcall-booking/internal/leads"
)

// Escalation reasons, used for lead notes and metrics.
const (
	reasonRequested   = "requested"
	reasonFreeText    = "free_text"
	reasonFullyBooked = "fully_booked"
	reasonNoMoreTimes = "no_more_times"
)

// apply runs the transition for the classified intent. Only collaborator
// failures are returned as errors.
func (e *Engine) apply(ctx context.Context, t *turn) error {
	name := t.cfg.DisplayName()

	switch t.intent.Type {
	case intent.OptOut:
		if t.conv.Status == StatusCompleted {
			return nil
		}
		t.conv.transition(StatusCompleted, t.conv.State, t.now)
		t.lead.Status = leads.StatusLost
		t.leadDirty = true
		t.persist = true
		t.body = optedOut(name)
		return nil
	case intent.OptIn:
		t.conv.transition(StatusAwaitingInitialChoice, StatePayload{}, t.now)
		if t.lead.Status == leads.StatusLost {
			t.lead.Status = leads.StatusNew
			t.leadDirty = true
		}
		t.persist = true
		t.body = resubscribedPrompt(name)
		return nil
	case intent.Help:
		t.conv.LastActivityAt = t.now
		t.persist = true
		t.body = helpReply(name, t.cfg.Phone, t.conv.Status, t.conv.State.OfferedSlots, bookedSlot(t))
		return nil
	}

	switch t.conv.Status {
	case StatusAwaitingInitialChoice:
		return e.onInitialChoice(ctx, t)
	case StatusAwaitingSlotConfirmation:
		return e.onConfirmation(ctx, t)
	case StatusAwaitingSlotSelection:
		return e.onSelection(ctx, t)
	case StatusAppointmentBooked:
		t.conv.LastActivityAt = t.now
		t.persist = true
		t.body = alreadyBooked(name, bookedSlot(t))
	case StatusCallbackRequested:
		t.conv.LastActivityAt = t.now
		t.persist = true
		t.body = callbackPending(name)
	case StatusCompleted:
		// Opted out: stay silent until the caller texts START.
	}
	return nil
}

func (e *Engine) onInitialChoice(ctx context.Context, t *turn) error {
	name := t.cfg.DisplayName()
	switch t.intent.Type {
	case intent.ChooseCallback:
		e.escalate(t, reasonRequested, "caller asked for a call back", callbackConfirmation(name))
	case intent.ChooseBook:
		slots, err := e.availableSlots(ctx, t, 0, 1)
		if err != nil {
			return err
		}
		if len(slots) == 0 {
			e.escalate(t, reasonFullyBooked, "no online availability", fullyBooked(name, e.opts.HorizonDays))
			return nil
		}
		t.conv.transition(StatusAwaitingSlotConfirmation, StatePayload{
			OfferedSlots: slots,
			Intent:       StateIntentBook,
		}, t.now)
		t.persist = true
		t.body = singleOffer(slots[0])
	default:
		// Anything else, including a caller's unprompted first text, is an
		// implicit callback request carrying the text as the reason.
		e.escalate(t, reasonFreeText, t.intent.Text, messageForwarded(name))
	}
	return nil
}

func (e *Engine) onConfirmation(ctx context.Context, t *turn) error {
	name := t.cfg.DisplayName()
	state := t.conv.State
	switch t.intent.Type {
	case intent.Confirm:
		idx, ok := intent.Resolve(t.intent, state.OfferedSlots)
		if !ok {
			e.reprompt(t, confirmationHint(state.OfferedSlots[0]))
			return nil
		}
		return e.book(ctx, t, state.OfferedSlots[idx-1])
	case intent.RequestMore:
		return e.nextPage(ctx, t, state.PageOffset+len(state.OfferedSlots))
	case intent.ChooseCallback:
		e.escalate(t, reasonRequested, "caller asked for a call back", callbackConfirmation(name))
	default:
		e.reprompt(t, confirmationHint(state.OfferedSlots[0]))
	}
	return nil
}

func (e *Engine) onSelection(ctx context.Context, t *turn) error {
	name := t.cfg.DisplayName()
	state := t.conv.State
	switch t.intent.Type {
	case intent.SelectSlot:
		if t.intent.Slot < 1 || t.intent.Slot > len(state.OfferedSlots) {
			e.reprompt(t, selectionHint(len(state.OfferedSlots)))
			return nil
		}
		return e.book(ctx, t, state.OfferedSlots[t.intent.Slot-1])
	case intent.RequestMore:
		return e.nextPage(ctx, t, state.PageOffset+len(state.OfferedSlots))
	case intent.ChooseCallback:
		e.escalate(t, reasonRequested, "caller asked for a call back", callbackConfirmation(name))
	default:
		e.reprompt(t, selectionHint(len(state.OfferedSlots)))
	}
	return nil
}

// nextPage offers PageSize slots starting at offset, or escalates when the
// calendar has nothing left.
func (e *Engine) nextPage(ctx context.Context, t *turn, offset int) error {
	slots, err := e.availableSlots(ctx, t, offset, e.opts.PageSize)
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		e.escalate(t, reasonNoMoreTimes, "no further online availability", noMoreTimes(t.cfg.DisplayName()))
		return nil
	}
	t.conv.transition(StatusAwaitingSlotSelection, StatePayload{
		OfferedSlots: slots,
		PageOffset:   offset,
		Intent:       StateIntentBook,
	}, t.now)
	t.persist = true
	t.body = slotPage(slots)
	return nil
}

// book runs the booking transaction for slot. On success the transaction
// has already persisted the conversation and lead.
func (e *Engine) book(ctx context.Context, t *turn, slot time.Time) error {
	final := StatePayload{
		OfferedSlots: []time.Time{slot},
		PageOffset:   t.conv.State.PageOffset,
		Intent:       StateIntentBook,
	}
	raw, err := final.Encode()
	if err != nil {
		return err
	}

	res, err := e.booker.Book(ctx, appointments.BookingRequest{
		TenantID:        t.conv.TenantID,
		ConversationID:  t.conv.ID,
		LeadID:          t.conv.LeadID,
		PatientPhone:    t.conv.CallerPhone,
		Slot:            slot,
		DurationMinutes: t.cfg.AppointmentMinutes,
		FinalStatus:     string(StatusAppointmentBooked),
		FinalState:      raw,
	})
	if err != nil {
		e.metrics.ObserveBooking("error")
		return fmt.Errorf("conversation: book slot: %w", err)
	}
	e.metrics.ObserveBooking(res.Outcome.String())

	if res.Booked() {
		t.conv.transition(StatusAppointmentBooked, final, t.now)
		t.lead.MarkBooked(slot)
		t.booked = res.Appointment
		// The booking transaction already wrote the conversation and lead.
		t.persist = false
		t.leadDirty = false
		t.body = bookedConfirmation(t.cfg.DisplayName(), slot)
		return nil
	}
	return e.recoverConflict(ctx, t, slot)
}

// recoverConflict re-offers after another caller took slot. The taken slot
// is excluded explicitly in case the calendar read lags the commit.
func (e *Engine) recoverConflict(ctx context.Context, t *turn, taken time.Time) error {
	name := t.cfg.DisplayName()
	if t.conv.Status == StatusAwaitingSlotConfirmation {
		slots, err := e.availableSlots(ctx, t, 0, 1, taken)
		if err != nil {
			return err
		}
		if len(slots) == 0 {
			e.escalate(t, reasonFullyBooked, "no online availability", fullyBooked(name, e.opts.HorizonDays))
			return nil
		}
		t.conv.transition(StatusAwaitingSlotConfirmation, StatePayload{
			OfferedSlots: slots,
			Intent:       StateIntentBook,
		}, t.now)
		t.persist = true
		t.body = conflictOffer(slots[0])
		return nil
	}

	offset := t.conv.State.PageOffset
	slots, err := e.availableSlots(ctx, t, offset, e.opts.PageSize, taken)
	if err != nil {
		return err
	}
	if len(slots) == 0 && offset > 0 {
		offset = 0
		slots, err = e.availableSlots(ctx, t, offset, e.opts.PageSize, taken)
		if err != nil {
			return err
		}
	}
	if len(slots) == 0 {
		e.escalate(t, reasonFullyBooked, "no online availability", fullyBooked(name, e.opts.HorizonDays))
		return nil
	}
	t.conv.transition(StatusAwaitingSlotSelection, StatePayload{
		OfferedSlots: slots,
		PageOffset:   offset,
		Intent:       StateIntentBook,
	}, t.now)
	t.persist = true
	t.body = conflictPage(slots)
	return nil
}

func (e *Engine) availableSlots(ctx context.Context, t *turn, offset, count int, exclude ...time.Time) ([]time.Time, error) {
	to := t.now.AddDate(0, 0, e.opts.HorizonDays)
	booked, err := e.booker.BookedSlots(ctx, t.conv.TenantID, t.now, to)
	if err != nil {
		return nil, fmt.Errorf("conversation: load booked slots: %w", err)
	}
	if booked == nil {
		booked = calendar.NewBookedSet()
	}
	for _, slot := range exclude {
		booked.Add(slot.In(t.loc))
	}
	return calendar.AvailableSlots(t.cfg.BusinessHours, booked, calendar.Options{
		Granularity: e.opts.Granularity,
		Duration:    time.Duration(t.cfg.AppointmentMinutes) * time.Minute,
		Count:       count,
		PageOffset:  offset,
		Now:         t.now,
		MinLeadTime: e.opts.MinLeadTime,
		HorizonDays: e.opts.HorizonDays,
		Location:    t.loc,
	}), nil
}

// escalate ends the conversation as callback_requested and flags the lead
// for staff.
func (e *Engine) escalate(t *turn, reason, note, body string) {
	state := t.conv.State
	state.Intent = StateIntentCallback
	t.conv.transition(StatusCallbackRequested, state, t.now)
	t.lead.MarkQualified(note, leads.PriorityHigh)
	t.leadDirty = true
	t.persist = true
	t.body = body
	t.escalation = reason
}

func (e *Engine) reprompt(t *turn, body string) {
	t.conv.LastActivityAt = t.now
	t.persist = true
	t.body = body
}

// notifyStaff runs after the callback state is saved. Staff email and SMS
// go out on their own goroutine so the caller's reply is not held up;
// failures are logged.
func (e *Engine) notifyStaff(ctx context.Context, t *turn) {
	if t.escalation == "" {
		return
	}
	e.metrics.ObserveEscalation(t.escalation)
	if e.escalator == nil || t.lead == nil {
		return
	}

	cfg, lead := *t.cfg, *t.lead
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.notifyTimeout)
	e.notifying.Add(1)
	go func() {
		defer e.notifying.Done()
		defer cancel()
		if err := e.escalator.NotifyCallbackRequested(notifyCtx, &cfg, &lead); err != nil {
			e.logger.Error("failed to notify staff of callback", "error", err, "tenant_id", lead.TenantID, "lead_id", lead.ID)
		}
	}()
}

func bookedSlot(t *turn) *time.Time {
	if t.lead != nil && t.lead.AppointmentAt != nil {
		at := t.lead.AppointmentAt.In(t.loc)
		return &at
	}
	if len(t.conv.State.OfferedSlots) == 1 {
		at := t.conv.State.OfferedSlots[0]
		return &at
	}
	return nil
}
