// Package executor runs one booking attempt end-to-end: login, prepare,
// wait for the unlock instant, refresh availability, select and activate a
// slot, verify, and finalize. Every step appends an execution log entry and
// every failure ends as a terminal failed status, never as a crash.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/padel-scheduler/internal/agent"
	"github.com/example/padel-scheduler/internal/booking"
	"github.com/example/padel-scheduler/internal/metrics"
	"github.com/example/padel-scheduler/internal/notify"
	"github.com/example/padel-scheduler/internal/slot"
)

// Store is the slice of persistence an attempt writes to.
type Store interface {
	UpdateStatus(ctx context.Context, id int64, u booking.Update) error
	AppendLog(ctx context.Context, e booking.ExecutionLogEntry) error
}

type Notifier interface {
	Notify(ctx context.Context, kind notify.Kind, p notify.Payload)
}

const (
	reasonNoAvailability = "no availability"
	reasonUnverified     = "confirmation not verified"
)

type Executor struct {
	store    Store
	agent    agent.Agent
	notifier Notifier
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger

	loc         *time.Location
	stepTimeout time.Duration

	// One portal session: attempts must not interleave navigation state.
	sessionMu sync.Mutex

	now func() time.Time
}

func New(store Store, ag agent.Agent, notifier Notifier, m *metrics.Metrics, log *zap.SugaredLogger, loc *time.Location, stepTimeout time.Duration) *Executor {
	return &Executor{
		store:       store,
		agent:       ag,
		notifier:    notifier,
		metrics:     m,
		log:         log,
		loc:         loc,
		stepTimeout: stepTimeout,
		now:         time.Now,
	}
}

// Execute runs the attempt for a fired booking. It holds the session lock
// for the whole attempt, including the timing barrier.
func (e *Executor) Execute(ctx context.Context, b booking.Booking) {
	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()

	e.metrics.AttemptsTotal.Inc()
	log := e.log.With("booking_id", b.ID, "date", b.DateString())
	log.Infow("attempt started", "primary", b.OptionPrimary)

	defer func() {
		if r := recover(); r != nil {
			reason := fmt.Sprintf("attempt panicked: %v", r)
			log.Errorw("attempt panicked", "panic", r)
			e.logStep(ctx, b.ID, "booking", booking.ResultError, &reason)
			e.finalizeFailed(ctx, b, reason, notify.KindSystemError)
		}
	}()

	// 1. Authenticated session.
	if err := e.step(ctx, func(sc context.Context) error { return e.agent.Login(sc) }); err != nil {
		e.failStep(ctx, b, "login", fmt.Sprintf("authentication failed: %v", err))
		return
	}
	e.logStep(ctx, b.ID, "login", booking.ResultSuccess, nil)

	// 2. Target context for the booking date.
	if err := e.step(ctx, func(sc context.Context) error { return e.agent.Prepare(sc, b.TargetDate) }); err != nil {
		e.failStep(ctx, b, "prepare", fmt.Sprintf("navigation failed: %v", err))
		return
	}
	e.logStep(ctx, b.ID, "prepare", booking.ResultSuccess, nil)

	// 3. Timing barrier: hold until the unlock instant.
	if !e.waitForUnlock(ctx, b, log) {
		// Engine shutdown during the wait; leave the booking scheduled so
		// recovery deals with it at next start.
		return
	}

	// 4. Availability refresh at unlock.
	var available []agent.SlotDescriptor
	if err := e.step(ctx, func(sc context.Context) error {
		var err error
		available, err = e.agent.RefreshAvailability(sc)
		return err
	}); err != nil {
		e.failStep(ctx, b, "show_availability", fmt.Sprintf("availability refresh failed: %v", err))
		return
	}
	e.logStep(ctx, b.ID, "show_availability", booking.ResultSuccess, nil)

	// 5. Primary, then fallback.
	sel, ok, err := slot.Select(b.DateString(), b.OptionPrimary, b.OptionFallback, available)
	if err != nil {
		// Options are validated at intake; a parse error here means the
		// stored phrase was corrupted.
		e.failStep(ctx, b, "select_slot", fmt.Sprintf("bad time option: %v", err))
		return
	}
	if !ok {
		detail := "both times unavailable"
		e.logStep(ctx, b.ID, "select_slot", booking.ResultFailed, &detail)
		e.finalize(ctx, b, booking.Update{Status: booking.StatusFailed, ErrorMessage: strptr(reasonNoAvailability)},
			notify.KindUnavailable, notify.Payload{Date: b.DateString(), Primary: b.OptionPrimary, Fallback: b.OptionFallback})
		e.metrics.FailedTotal.WithLabelValues("unavailable").Inc()
		return
	}

	// 6. Activate and verify.
	if err := e.step(ctx, func(sc context.Context) error { return e.agent.Activate(sc, sel.Descriptor) }); err != nil {
		e.failStep(ctx, b, "select_slot", fmt.Sprintf("slot activation failed: %v", err))
		return
	}
	detail := fmt.Sprintf("selected %s (%s)", sel.Descriptor.Label, sel.Descriptor.ResourceLabel)
	e.logStep(ctx, b.ID, "select_slot", booking.ResultSuccess, &detail)

	var confirmed bool
	if err := e.step(ctx, func(sc context.Context) error {
		var err error
		confirmed, err = e.agent.VerifyConfirmation(sc)
		return err
	}); err != nil {
		e.failStep(ctx, b, "verify", fmt.Sprintf("confirmation check failed: %v", err))
		return
	}
	if !confirmed {
		d := "no confirmation found"
		e.logStep(ctx, b.ID, "verify", booking.ResultFailed, &d)
		e.finalize(ctx, b, booking.Update{Status: booking.StatusFailed, ErrorMessage: strptr(reasonUnverified)},
			notify.KindFailure, notify.Payload{Date: b.DateString(), Primary: b.OptionPrimary, Fallback: b.OptionFallback, Reason: reasonUnverified})
		e.metrics.FailedTotal.WithLabelValues("unverified").Inc()
		return
	}
	d := fmt.Sprintf("booked %s", sel.Option)
	e.logStep(ctx, b.ID, "verify", booking.ResultSuccess, &d)

	e.finalize(ctx, b, booking.Update{
		Status:       booking.StatusBooked,
		ResultOption: strptr(sel.Option),
		ResultLabel:  strptr(sel.Descriptor.ResourceLabel),
	}, notify.KindSuccess, notify.Payload{
		Date:       b.DateString(),
		BookedTime: sel.Option,
		Court:      sel.Descriptor.ResourceLabel,
	})
	e.metrics.BookedTotal.Inc()
	log.Infow("attempt booked", "option", sel.Option, "court", sel.Descriptor.ResourceLabel)
}

// waitForUnlock suspends until the unlock instant (the midnight after
// execute_at). Returns false only when the context is cancelled mid-wait.
func (e *Executor) waitForUnlock(ctx context.Context, b booking.Booking, log *zap.SugaredLogger) bool {
	unlock := e.unlockInstant(b.ExecuteAt)
	wait := unlock.Sub(e.now())
	if wait <= 0 {
		log.Warnw("unlock instant already passed, proceeding immediately", "unlock", unlock)
		return true
	}

	log.Infow("waiting for unlock instant", "unlock", unlock, "wait", wait)
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		log.Warnw("attempt aborted during unlock wait", "error", ctx.Err())
		return false
	case <-t.C:
		e.metrics.BarrierWait.Observe(wait.Seconds())
		return true
	}
}

// unlockInstant is the midnight at or after execute_at. With a zero
// pre-unlock offset execute_at is the unlock midnight itself.
func (e *Executor) unlockInstant(executeAt time.Time) time.Time {
	t := executeAt.In(e.loc)
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, e.loc)
	if t.Equal(midnight) {
		return midnight
	}
	return midnight.AddDate(0, 0, 1)
}

func (e *Executor) step(ctx context.Context, fn func(context.Context) error) error {
	sc, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()
	return fn(sc)
}

// failStep records a step error and finalizes the attempt as failed.
func (e *Executor) failStep(ctx context.Context, b booking.Booking, action, reason string) {
	e.logStep(ctx, b.ID, action, booking.ResultError, &reason)
	e.finalizeFailed(ctx, b, reason, notify.KindFailure)
	e.metrics.FailedTotal.WithLabelValues(action).Inc()
}

func (e *Executor) finalizeFailed(ctx context.Context, b booking.Booking, reason string, kind notify.Kind) {
	p := notify.Payload{Date: b.DateString(), Primary: b.OptionPrimary, Fallback: b.OptionFallback, Reason: reason}
	if kind == notify.KindSystemError {
		p = notify.Payload{Subject: fmt.Sprintf("booking %d crashed", b.ID), Detail: reason}
	}
	e.finalize(ctx, b, booking.Update{Status: booking.StatusFailed, ErrorMessage: &reason}, kind, p)
}

// finalize writes the terminal status, captures a best-effort diagnostic
// snapshot (synchronously: the portal session is still locked to this
// attempt), and dispatches the notification as a detached task.
func (e *Executor) finalize(ctx context.Context, b booking.Booking, u booking.Update, kind notify.Kind, p notify.Payload) {
	if ref := e.captureDiagnostic(ctx, b, string(u.Status)); ref != "" {
		u.DiagnosticRef = &ref
	}
	if err := e.store.UpdateStatus(ctx, b.ID, u); err != nil {
		e.log.Errorw("failed to finalize booking", "booking_id", b.ID, "status", u.Status, "error", err)
	}

	go func() {
		nc, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		e.notifier.Notify(nc, kind, p)
	}()
}

func (e *Executor) captureDiagnostic(ctx context.Context, b booking.Booking, label string) string {
	sc, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()
	ref, err := e.agent.CaptureDiagnostic(sc, fmt.Sprintf("%s_%d", label, b.ID))
	if err != nil {
		detail := fmt.Sprintf("diagnostic capture failed: %v", err)
		e.logStep(ctx, b.ID, "diagnostic", booking.ResultError, &detail)
		return ""
	}
	return ref
}

func (e *Executor) logStep(ctx context.Context, bookingID int64, action, result string, details *string) {
	err := e.store.AppendLog(ctx, booking.ExecutionLogEntry{
		BookingID: bookingID,
		Timestamp: e.now().UTC(),
		Action:    action,
		Result:    result,
		Details:   details,
	})
	if err != nil {
		e.log.Errorw("failed to append execution log", "booking_id", bookingID, "action", action, "error", err)
	}
}

func strptr(s string) *string { return &s }
