// Package engine owns the booking lifecycle: intake, scheduling, recovery,
// and the periodic summary. All dependencies are carried explicitly so tests
// can assemble an engine from fakes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/example/padel-scheduler/internal/booking"
	"github.com/example/padel-scheduler/internal/intake"
	"github.com/example/padel-scheduler/internal/notify"
	"github.com/example/padel-scheduler/internal/scheduler"
	"github.com/example/padel-scheduler/internal/slot"
	"github.com/example/padel-scheduler/internal/store"
)

// ErrPastExecution rejects bookings whose execution instant already passed.
var ErrPastExecution = errors.New("execution time is in the past")

// ErrAttemptInProgress rejects a cancel that arrives after the booking's
// timer has fired; the running attempt finalizes the booking instead.
var ErrAttemptInProgress = errors.New("booking attempt already in progress")

// Notifier is the outbound notification surface the engine uses.
type Notifier interface {
	Notify(ctx context.Context, kind notify.Kind, p notify.Payload)
	Summary(ctx context.Context, s booking.Stats)
}

// Scheduler is the timer registry slice the engine drives.
type Scheduler interface {
	Schedule(ctx context.Context, id int64, at time.Time) error
	Cancel(id int64)
	Active(id int64) bool
}

type Config struct {
	LeadDays        int
	PreUnlockOffset time.Duration
	SummaryInterval time.Duration
}

type Engine struct {
	store    *store.Store
	sched    Scheduler
	notifier Notifier
	log      *zap.SugaredLogger
	loc      *time.Location
	cfg      Config

	now func() time.Time
}

func New(st *store.Store, sched Scheduler, notifier Notifier, log *zap.SugaredLogger, loc *time.Location, cfg Config) *Engine {
	return &Engine{
		store:    st,
		sched:    sched,
		notifier: notifier,
		log:      log,
		loc:      loc,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Start runs the recovery protocol and then keeps the daily summary ticking
// until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Recover(ctx, e.sched, e.notifier); err != nil {
		return err
	}
	if e.cfg.SummaryInterval > 0 {
		go e.summaryLoop(ctx)
	}
	return nil
}

// CreateBooking validates the options, derives the execution instant, and
// arms the timer. Options are stored as given; canonicalization happens at
// selection time.
func (e *Engine) CreateBooking(ctx context.Context, targetDate time.Time, primary, fallback string) (booking.Booking, error) {
	if _, err := slot.ParseClockTime(primary); err != nil {
		return booking.Booking{}, fmt.Errorf("primary option: %w", err)
	}
	var fb *string
	if fallback != "" {
		if _, err := slot.ParseClockTime(fallback); err != nil {
			return booking.Booking{}, fmt.Errorf("fallback option: %w", err)
		}
		fb = &fallback
	}

	executeAt := scheduler.ComputeExecuteAt(targetDate, e.cfg.LeadDays, e.cfg.PreUnlockOffset, e.loc)
	if executeAt.Before(e.now()) {
		return booking.Booking{}, fmt.Errorf("%w: booking for %s would execute at %s",
			ErrPastExecution, targetDate.Format("2006-01-02"), executeAt.Format(time.RFC3339))
	}

	b, err := e.store.Create(ctx, targetDate, primary, fb, executeAt)
	if err != nil {
		return booking.Booking{}, err
	}
	if err := e.sched.Schedule(ctx, b.ID, b.ExecuteAt); err != nil {
		// Roll the row back so a client retry cannot leave a duplicate
		// pending booking behind.
		e.log.Errorw("timer registration failed, rolling back booking", "booking_id", b.ID, "error", err)
		if delErr := e.store.Delete(ctx, b.ID); delErr != nil {
			e.log.Errorw("rollback of unarmed booking failed", "booking_id", b.ID, "error", delErr)
		}
		return booking.Booking{}, err
	}
	e.log.Infow("booking created",
		"booking_id", b.ID,
		"target_date", b.DateString(),
		"execute_at", b.ExecuteAt.In(e.loc).Format(time.RFC3339))
	return b, nil
}

// ImportCSV creates a booking for every importable row. Per-row failures
// land in the summary so one bad row cannot sink the batch.
func (e *Engine) ImportCSV(ctx context.Context, r io.Reader) (intake.Summary, error) {
	rows, sum, err := intake.ParseCSV(r)
	if err != nil {
		return intake.Summary{}, err
	}
	added := 0
	for _, row := range rows {
		if _, err := e.CreateBooking(ctx, row.TargetDate, row.Primary, row.Fallback); err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %v", row.TargetDate.Format("2006-01-02"), err))
			continue
		}
		added++
	}
	sum.Added = added
	return sum, nil
}

// Cancel disarms the timer and moves a scheduled booking to cancelled. A
// scheduled booking with no registered timer is mid-attempt: the fired
// attempt owns the terminal status, so the cancel is refused.
func (e *Engine) Cancel(ctx context.Context, id int64) error {
	b, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if b.Status == booking.StatusScheduled && !e.sched.Active(id) {
		return fmt.Errorf("%w: booking %d", ErrAttemptInProgress, id)
	}
	e.sched.Cancel(id)
	return e.store.UpdateStatus(ctx, id, booking.Update{Status: booking.StatusCancelled})
}

// Delete disarms any timer and removes the booking from both stores.
func (e *Engine) Delete(ctx context.Context, id int64) error {
	e.sched.Cancel(id)
	return e.store.Delete(ctx, id)
}

func (e *Engine) Get(ctx context.Context, id int64) (booking.Booking, error) {
	return e.store.Get(ctx, id)
}

func (e *Engine) List(ctx context.Context, status booking.Status, limit int) ([]booking.Booking, error) {
	return e.store.List(ctx, status, limit)
}

func (e *Engine) Upcoming(ctx context.Context, limit int) ([]booking.Booking, error) {
	return e.store.Upcoming(ctx, limit)
}

func (e *Engine) Logs(ctx context.Context, id int64) ([]booking.ExecutionLogEntry, error) {
	return e.store.Logs(ctx, id)
}

func (e *Engine) Stats(ctx context.Context) (booking.Stats, error) {
	return e.store.Stats(ctx)
}

func (e *Engine) summaryLoop(ctx context.Context) {
	t := time.NewTicker(e.cfg.SummaryInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			stats, err := e.store.Stats(ctx)
			if err != nil {
				e.log.Errorw("summary stats failed", "error", err)
				continue
			}
			e.notifier.Summary(ctx, stats)
		}
	}
}
