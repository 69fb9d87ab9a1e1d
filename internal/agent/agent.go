// Package agent defines the Browsing Agent boundary: an opaque capability
// that authenticates against the club portal, navigates to the booking
// page, reads availability, activates a slot, and reports confirmation.
package agent

import (
	"context"
	"time"
)

// SlotDescriptor is one concrete bookable unit as reported by the portal.
type SlotDescriptor struct {
	Label         string // "YYYY-MM-DD HH:MM:SS"
	BookedCount   int
	TotalCount    int
	ResourceLabel string // e.g. "Padel Court 2"
}

// Agent is consumed by the execution orchestrator. Implementations own
// their session state; callers serialize use of a single agent.
type Agent interface {
	Login(ctx context.Context) error
	Prepare(ctx context.Context, date time.Time) error
	RefreshAvailability(ctx context.Context) ([]SlotDescriptor, error)
	Activate(ctx context.Context, d SlotDescriptor) error
	VerifyConfirmation(ctx context.Context) (bool, error)

	// CaptureDiagnostic saves a snapshot of the current portal state and
	// returns a reference to it. Best-effort.
	CaptureDiagnostic(ctx context.Context, label string) (string, error)
}
