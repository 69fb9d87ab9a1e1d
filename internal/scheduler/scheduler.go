// Package scheduler holds one timer per non-terminal booking and fires the
// execution orchestrator at the booking's exact instant.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/padel-scheduler/internal/booking"
)

// ErrSchedulingFailure covers a booking that vanished between create and
// schedule. Fire-and-forget callers log it instead of propagating.
var ErrSchedulingFailure = errors.New("scheduling failure")

// ComputeExecuteAt maps a target date to the wake-up instant: the resource
// unlocks at midnight leadDays before the target date, and the attempt
// starts offset before that midnight.
func ComputeExecuteAt(targetDate time.Time, leadDays int, offset time.Duration, loc *time.Location) time.Time {
	day := targetDate.AddDate(0, 0, -leadDays)
	unlock := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	return unlock.Add(-offset)
}

// Store is the slice of persistence the scheduler needs.
type Store interface {
	Get(ctx context.Context, id int64) (booking.Booking, error)
	UpdateStatus(ctx context.Context, id int64, u booking.Update) error
}

// Executor runs one attempt end-to-end. It never returns an error: every
// failure ends inside the attempt as a terminal status.
type Executor interface {
	Execute(ctx context.Context, b booking.Booking)
}

type Scheduler struct {
	store Store
	exec  Executor
	log   *zap.SugaredLogger

	mu     sync.Mutex
	timers map[int64]*time.Timer

	baseCtx context.Context
	wg      sync.WaitGroup
	now     func() time.Time
}

func New(store Store, exec Executor, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		store:   store,
		exec:    exec,
		log:     log,
		timers:  make(map[int64]*time.Timer),
		baseCtx: context.Background(),
		now:     time.Now,
	}
}

// Start binds fired attempts to the engine lifetime context. Call once
// before the first Schedule.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
}

// Schedule registers exactly one timer for the booking, replacing any
// existing one, and moves the booking to scheduled. Idempotent per id.
func (s *Scheduler) Schedule(ctx context.Context, id int64, at time.Time) error {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		s.log.Errorw("cannot schedule: booking not found", "booking_id", id, "error", err)
		return fmt.Errorf("%w: booking %d: %v", ErrSchedulingFailure, id, err)
	}
	if b.Status.Terminal() {
		return fmt.Errorf("%w: booking %d is %s", ErrSchedulingFailure, id, b.Status)
	}

	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	s.timers[id] = time.AfterFunc(delay, func() { s.fire(id) })
	s.mu.Unlock()

	if b.Status != booking.StatusScheduled {
		if err := s.store.UpdateStatus(ctx, id, booking.Update{Status: booking.StatusScheduled}); err != nil {
			s.log.Errorw("failed to mark booking scheduled", "booking_id", id, "error", err)
			return err
		}
	}
	s.log.Infow("booking scheduled", "booking_id", id, "execute_at", at)
	return nil
}

// Cancel removes the timer if present; a no-op if absent or already fired.
func (s *Scheduler) Cancel(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// Active reports whether a timer is currently registered for the id.
func (s *Scheduler) Active(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

// Wait blocks until every in-flight attempt has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) fire(id int64) {
	// Register with the wait group in the same critical section that
	// retires the timer, so a shutdown Wait cannot slip between the timer
	// firing and the attempt being tracked.
	s.mu.Lock()
	delete(s.timers, id)
	ctx := s.baseCtx
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	b, err := s.store.Get(ctx, id)
	if err != nil {
		s.log.Errorw("fired timer for missing booking", "booking_id", id, "error", err)
		return
	}
	if b.Status != booking.StatusScheduled {
		// Cancelled or finalized between registration and firing.
		s.log.Infow("skipping fired booking", "booking_id", id, "status", b.Status)
		return
	}

	s.exec.Execute(ctx, b)
}
