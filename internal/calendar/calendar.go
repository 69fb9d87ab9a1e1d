// Package calendar renders booked sessions as iCalendar invites.
package calendar

import (
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"github.com/example/padel-scheduler/internal/booking"
	"github.com/example/padel-scheduler/internal/slot"
)

const sessionDuration = time.Hour

// Invite renders a confirmed booking as an ICS document. The booking must
// carry a result label of the form "YYYY-MM-DD HH:MM:SS".
func Invite(b *booking.Booking, loc *time.Location) (string, error) {
	if b.Status != booking.StatusBooked {
		return "", fmt.Errorf("booking %d is %s, not booked", b.ID, b.Status)
	}
	if b.ResultOption == nil {
		return "", fmt.Errorf("booking %d has no booked time", b.ID)
	}

	// The booked time is stored as the intake phrase ("7pm"); older records
	// may carry the canonical form already.
	canonical := *b.ResultOption
	if c, err := slot.ParseClockTime(canonical); err == nil {
		canonical = c
	}
	start, err := time.ParseInLocation("2006-01-02 15:04:05", b.DateString()+" "+canonical, loc)
	if err != nil {
		return "", fmt.Errorf("parse booked time: %w", err)
	}

	location := "Padel Court"
	if b.ResultLabel != nil && *b.ResultLabel != "" {
		location = *b.ResultLabel
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)

	ev := cal.AddEvent(uuid.NewString())
	now := time.Now().In(loc)
	ev.SetCreatedTime(now)
	ev.SetDtStampTime(now)
	ev.SetStartAt(start)
	ev.SetEndAt(start.Add(sessionDuration))
	ev.SetSummary(fmt.Sprintf("Padel at %s", location))
	ev.SetLocation(location)
	ev.SetDescription(fmt.Sprintf("Court booking confirmed for %s at %s.", b.DateString(), *b.ResultOption))
	ev.SetStatus(ics.ObjectStatusConfirmed)

	alarm := ev.AddAlarm()
	alarm.SetAction(ics.ActionDisplay)
	alarm.SetTrigger("-PT60M")

	return cal.Serialize(), nil
}

// Filename returns the suggested attachment name for a booking's invite.
func Filename(b *booking.Booking) string {
	return fmt.Sprintf("padel_%s.ics", b.DateString())
}
