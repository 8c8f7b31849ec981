package conversation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatePayloadValidate(t *testing.T) {
	slot := at(9, 0)
	tests := []struct {
		name    string
		status  Status
		payload StatePayload
		wantErr bool
	}{
		{"initial empty", StatusAwaitingInitialChoice, StatePayload{}, false},
		{"initial with slots", StatusAwaitingInitialChoice, StatePayload{OfferedSlots: []time.Time{slot}}, true},
		{"confirmation single", StatusAwaitingSlotConfirmation, StatePayload{OfferedSlots: []time.Time{slot}, Intent: StateIntentBook}, false},
		{"confirmation two slots", StatusAwaitingSlotConfirmation, StatePayload{OfferedSlots: []time.Time{slot, slot}, Intent: StateIntentBook}, true},
		{"confirmation missing intent", StatusAwaitingSlotConfirmation, StatePayload{OfferedSlots: []time.Time{slot}}, true},
		{"selection empty", StatusAwaitingSlotSelection, StatePayload{Intent: StateIntentBook}, true},
		{"selection page", StatusAwaitingSlotSelection, StatePayload{OfferedSlots: []time.Time{slot}, PageOffset: 3, Intent: StateIntentBook}, false},
		{"negative offset", StatusAwaitingSlotSelection, StatePayload{OfferedSlots: []time.Time{slot}, PageOffset: -1, Intent: StateIntentBook}, true},
		{"booked keeps slot", StatusAppointmentBooked, StatePayload{OfferedSlots: []time.Time{slot}, Intent: StateIntentBook}, false},
		{"unknown status", Status("archived"), StatePayload{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate(tt.status)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidStatePayload), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestStatePayloadEncodeAlwaysHasSlotsArray(t *testing.T) {
	raw, err := StatePayload{}.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"offered_slots":[],"page_offset":0,"intent":""}`, string(raw))

	raw, err = StatePayload{OfferedSlots: []time.Time{at(9, 30)}, Intent: StateIntentBook}.Encode()
	require.NoError(t, err)
	decoded, err := DecodeStatePayload(raw)
	require.NoError(t, err)
	require.Len(t, decoded.OfferedSlots, 1)
	assert.True(t, decoded.OfferedSlots[0].Equal(at(9, 30)))
	assert.Equal(t, StateIntentBook, decoded.Intent)
}

func TestDecodeStatePayload(t *testing.T) {
	p, err := DecodeStatePayload(nil)
	require.NoError(t, err)
	assert.Empty(t, p.OfferedSlots)

	_, err = DecodeStatePayload([]byte(`{"offered_slots": "tomorrow"}`))
	assert.Error(t, err)
}

func TestConversationTransitionStampsEndTime(t *testing.T) {
	conv := &Conversation{Status: StatusAwaitingInitialChoice}
	first := at(9, 0)

	conv.transition(StatusCallbackRequested, StatePayload{Intent: StateIntentCallback}, first)
	require.NotNil(t, conv.EndedAt)
	assert.False(t, conv.Open())
	assert.Equal(t, first, *conv.EndedAt)

	conv.transition(StatusCompleted, conv.State, first.Add(time.Hour))
	assert.Equal(t, first, *conv.EndedAt)

	conv.transition(StatusAwaitingInitialChoice, StatePayload{}, first.Add(2*time.Hour))
	assert.Nil(t, conv.EndedAt)
	assert.True(t, conv.Open())
	assert.Equal(t, first.Add(2*time.Hour), conv.LastActivityAt)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusAwaitingInitialChoice.Terminal())
	assert.False(t, StatusAwaitingSlotSelection.Terminal())
	assert.True(t, StatusAppointmentBooked.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.False(t, Status("bogus").Valid())
}
