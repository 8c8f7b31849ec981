// Package intent maps raw SMS replies to a small closed set of intents using
// deterministic keyword and pattern rules.
package intent

import (
	"fmt"
	"time"
)

// Type enumerates the intents the conversation engine understands.
type Type int

const (
	// FreeText is anything that could not be mapped; the raw text is kept.
	FreeText Type = iota
	OptOut
	OptIn
	Help
	ChooseBook
	ChooseCallback
	Confirm
	RequestMore
	SelectSlot
	// Unresolved is a confirmation or selection that names no offered slot.
	Unresolved
)

var typeNames = map[Type]string{
	FreeText:       "free_text",
	OptOut:         "opt_out",
	OptIn:          "opt_in",
	Help:           "help",
	ChooseBook:     "choose_book",
	ChooseCallback: "choose_callback",
	Confirm:        "confirm",
	RequestMore:    "request_more",
	SelectSlot:     "select_slot",
	Unresolved:     "unresolved",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("intent(%d)", int(t))
}

// IsGlobal reports whether the intent is legal in every state.
func (t Type) IsGlobal() bool {
	return t == OptOut || t == OptIn || t == Help
}

// Kind narrows which intents are legal for the current conversation state.
type Kind int

const (
	KindInitialChoice Kind = iota
	KindConfirmation
	KindSlotSelection
	// KindClosed is used for terminal states; only global commands apply.
	KindClosed
)

// Expectation describes what the engine is waiting for.
type Expectation struct {
	Kind    Kind
	Offered []time.Time
}

// ExpectInitialChoice waits for "call me back" vs "book".
func ExpectInitialChoice() Expectation { return Expectation{Kind: KindInitialChoice} }

// ExpectConfirmation waits for a yes/more answer about one offered slot.
func ExpectConfirmation(offered time.Time) Expectation {
	return Expectation{Kind: KindConfirmation, Offered: []time.Time{offered}}
}

// ExpectSelection waits for a pick among the offered slots.
func ExpectSelection(offered []time.Time) Expectation {
	return Expectation{Kind: KindSlotSelection, Offered: offered}
}

// ExpectNothing is used once a conversation has reached a terminal state.
func ExpectNothing() Expectation { return Expectation{Kind: KindClosed} }

// Clock is a time of day extracted from a reply. When Exact is false the
// hour came without am/pm and may mean either half of the day.
type Clock struct {
	Hour   int
	Minute int
	Exact  bool
}

// Matches reports whether t falls on this clock time.
func (c Clock) Matches(t time.Time) bool {
	if t.Minute() != c.Minute {
		return false
	}
	if c.Exact {
		return t.Hour() == c.Hour
	}
	h := c.Hour % 12
	return t.Hour() == h || t.Hour() == h+12
}

// Intent is the classified meaning of one inbound message.
type Intent struct {
	Type Type
	// Slot is the 1-based slot index for SelectSlot, or a positional hint
	// carried by Confirm.
	Slot     int
	Day      time.Weekday
	HasDay   bool
	Clock    Clock
	HasClock bool
	Text     string
}

func (i Intent) String() string {
	if i.Type == SelectSlot {
		return fmt.Sprintf("%s(%d)", i.Type, i.Slot)
	}
	return i.Type.String()
}
