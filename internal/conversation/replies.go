package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/missedcall-booking/internal/calendar"
)

const choicePrompt = "Reply 1 and we'll call you back, or reply 2 to book an appointment by text."

func missedCallPrompt(clinicName string) string {
	return fmt.Sprintf("Hi, this is %s. Sorry we missed your call! %s", clinicName, choicePrompt)
}

func resubscribedPrompt(clinicName string) string {
	return fmt.Sprintf("You're resubscribed to texts from %s. %s", clinicName, choicePrompt)
}

func singleOffer(slot time.Time) string {
	return fmt.Sprintf("Our next available time is %s. Reply 1 to book it or 2 to see more times.", calendar.Format(slot))
}

func conflictOffer(slot time.Time) string {
	return "Sorry, that time was just taken. " + singleOffer(slot)
}

func slotPage(slots []time.Time) string {
	var b strings.Builder
	b.WriteString("Here are the next open times:\n")
	for i, slot := range slots {
		fmt.Fprintf(&b, "%d) %s\n", i+1, calendar.Format(slot))
	}
	fmt.Fprintf(&b, "%d) More times\n", len(slots)+1)
	b.WriteString("Reply with a number to book.")
	return b.String()
}

func conflictPage(slots []time.Time) string {
	return "Sorry, that time was just taken. " + slotPage(slots)
}

func bookedConfirmation(clinicName string, slot time.Time) string {
	return fmt.Sprintf("You're all set! Your appointment with %s is confirmed for %s. See you then.", clinicName, calendar.Format(slot))
}

func callbackConfirmation(clinicName string) string {
	return fmt.Sprintf("Got it! Someone from %s will call you back shortly.", clinicName)
}

func messageForwarded(clinicName string) string {
	return fmt.Sprintf("Thanks! We've passed your message along and someone from %s will call you back shortly.", clinicName)
}

func fullyBooked(clinicName string, horizonDays int) string {
	return fmt.Sprintf("We're fully booked online for the next %d days, so someone from %s will call you to find a time that works.", horizonDays, clinicName)
}

func noMoreTimes(clinicName string) string {
	return fmt.Sprintf("That's every open time we have online right now. Someone from %s will call you to find a time that works.", clinicName)
}

func confirmationHint(slot time.Time) string {
	return fmt.Sprintf("Sorry, I didn't catch that. Reply 1 to book %s or 2 to see more times.", calendar.Format(slot))
}

func selectionHint(offered int) string {
	return fmt.Sprintf("Sorry, I didn't catch that. Reply with a number from 1 to %d to book, or %d for more times.", offered, offered+1)
}

func optedOut(clinicName string) string {
	return fmt.Sprintf("You've been unsubscribed and won't get more texts from %s. Reply START to resubscribe.", clinicName)
}

// helpReply repeats the menu that is live in the given status, so following
// it never does something other than what the caller read.
func helpReply(clinicName, phone string, status Status, offered []time.Time, booked *time.Time) string {
	var msg string
	switch {
	case status == StatusAwaitingSlotConfirmation && len(offered) > 0:
		msg = fmt.Sprintf("%s: reply 1 to book %s, 2 to see more times, or CALL ME for a call back.", clinicName, calendar.Format(offered[0]))
	case status == StatusAwaitingSlotSelection && len(offered) > 0:
		msg = fmt.Sprintf("%s: reply with a number from 1 to %d to book, %d for more times, or CALL ME for a call back.", clinicName, len(offered), len(offered)+1)
	case status == StatusAppointmentBooked:
		msg = alreadyBooked(clinicName, booked)
	case status == StatusCallbackRequested:
		msg = callbackPending(clinicName)
	case status == StatusCompleted:
		return fmt.Sprintf("%s: you're unsubscribed from texts. Reply START to resubscribe.", clinicName)
	default:
		msg = fmt.Sprintf("%s: reply 1 for a call back or 2 to book by text.", clinicName)
	}
	msg += " Reply STOP to opt out."
	if phone != "" {
		msg += " You can also call us at " + phone + "."
	}
	return msg
}

func alreadyBooked(clinicName string, slot *time.Time) string {
	if slot == nil {
		return fmt.Sprintf("You're already booked with %s. To change your appointment, please give us a call.", clinicName)
	}
	return fmt.Sprintf("You're booked with %s for %s. To change your appointment, please give us a call.", clinicName, calendar.Format(*slot))
}

func callbackPending(clinicName string) string {
	return fmt.Sprintf("Thanks, we have your message. Someone from %s will call you back shortly.", clinicName)
}

const systemApology = "Sorry, something went wrong on our end. Please try again in a few minutes."
