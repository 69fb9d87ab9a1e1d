// Package slot turns human time phrases into canonical 24-hour times and
// picks a usable availability descriptor for a booking's primary or
// fallback option.
package slot

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/example/padel-scheduler/internal/agent"
)

// ErrInvalidTimeFormat is returned for phrases that are not h[:mm](am|pm).
// It is surfaced at intake, before anything is scheduled.
var ErrInvalidTimeFormat = errors.New("invalid time format")

var phraseRe = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(am|pm)$`)

// ParseClockTime canonicalizes "7pm", "11:30am" into "19:00:00", "11:30:00".
// 12am maps to 00:00:00 and 12pm to 12:00:00.
func ParseClockTime(phrase string) (string, error) {
	m := phraseRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(phrase)))
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimeFormat, phrase)
	}

	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if hour < 1 || hour > 12 || minute > 59 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimeFormat, phrase)
	}

	switch {
	case m[3] == "pm" && hour != 12:
		hour += 12
	case m[3] == "am" && hour == 12:
		hour = 0
	}
	return fmt.Sprintf("%02d:%02d:00", hour, minute), nil
}

// Selection is the outcome of the policy: which descriptor to activate and
// which option phrase secured it.
type Selection struct {
	Descriptor agent.SlotDescriptor
	Option     string // the original phrase, primary or fallback
}

// Select tries the primary phrase first, then the fallback if configured.
// A descriptor matches when its label equals "date HH:MM:SS" exactly and is
// usable when booked < total. First usable match wins; there is at most one
// descriptor per exact date+time.
func Select(date string, primary string, fallback *string, available []agent.SlotDescriptor) (Selection, bool, error) {
	options := []string{primary}
	if fallback != nil && strings.TrimSpace(*fallback) != "" {
		options = append(options, *fallback)
	}

	for _, opt := range options {
		canonical, err := ParseClockTime(opt)
		if err != nil {
			return Selection{}, false, err
		}
		label := date + " " + canonical
		for _, d := range available {
			if strings.TrimSpace(d.Label) != label {
				continue
			}
			if d.BookedCount >= d.TotalCount {
				break // exact slot exists but is full; fall through to next option
			}
			return Selection{Descriptor: d, Option: opt}, true, nil
		}
	}
	return Selection{}, false, nil
}
