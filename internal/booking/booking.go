package booking

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a Booking. Pending and scheduled are the
// only non-terminal states; nothing leaves a terminal state except deletion.
type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusBooked    Status = "booked"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusBooked, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	switch s {
	case StatusBooked, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
// Same-state updates are allowed (field updates, not transitions).
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusPending:
		// pending -> failed covers recovery finalizing a past-due booking
		// that never made it to scheduled.
		return to == StatusScheduled || to == StatusFailed
	case StatusScheduled:
		return to == StatusBooked || to == StatusFailed || to == StatusCancelled
	}
	return false
}

// Booking is one reservation intent: a target date, a primary time phrase,
// an optional fallback, and the instant the attempt must begin.
type Booking struct {
	ID             int64
	TargetDate     time.Time // date only, midnight local
	OptionPrimary  string
	OptionFallback *string
	Status         Status
	ExecuteAt      time.Time

	ResultOption  *string
	ResultLabel   *string
	ErrorMessage  *string
	DiagnosticRef *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Update carries a status change plus optional field updates. Nil pointers
// leave the stored value untouched (except ErrorMessage, which is always
// written so a success clears a stale error).
type Update struct {
	Status        Status
	ResultOption  *string
	ResultLabel   *string
	ErrorMessage  *string
	DiagnosticRef *string
}

// ExecutionLogEntry is one append-only audit record for a booking attempt.
type ExecutionLogEntry struct {
	ID            int64
	BookingID     int64
	Timestamp     time.Time
	Action        string
	Result        string
	Details       *string
	DiagnosticRef *string
}

// Log results.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
	ResultError   = "error"
)

type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Booked  int `json:"booked"`
	Failed  int `json:"failed"`
}

func (b Booking) Validate() error {
	if b.TargetDate.IsZero() {
		return fmt.Errorf("target_date required")
	}
	if b.OptionPrimary == "" {
		return fmt.Errorf("option_primary required")
	}
	if !b.Status.Valid() {
		return fmt.Errorf("invalid status %q", b.Status)
	}
	if b.ExecuteAt.IsZero() {
		return fmt.Errorf("execute_at required")
	}
	return nil
}

// DateString is the canonical YYYY-MM-DD form used in slot labels and the API.
func (b Booking) DateString() string {
	return b.TargetDate.Format("2006-01-02")
}
