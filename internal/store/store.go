// Package store keeps the relational system of record and the durable
// mirror consistent: every write lands in Postgres first and is then
// mirrored, and the startup recovery protocol reconciles the two.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/padel-scheduler/internal/booking"
	"github.com/example/padel-scheduler/internal/db"
	"github.com/example/padel-scheduler/internal/mirror"
	"github.com/example/padel-scheduler/internal/notify"
)

// ErrInvalidTransition is returned when an update would move a booking
// backwards out of a terminal state.
var ErrInvalidTransition = errors.New("invalid status transition")

// Repo is the relational side; implemented by booking.Repo.
type Repo interface {
	Insert(ctx context.Context, b booking.Booking) error
	Get(ctx context.Context, id int64) (booking.Booking, error)
	List(ctx context.Context, status booking.Status, limit int) ([]booking.Booking, error)
	Upcoming(ctx context.Context, limit int) ([]booking.Booking, error)
	NonTerminal(ctx context.Context) ([]booking.Booking, error)
	UpdateStatus(ctx context.Context, id int64, u booking.Update) error
	Delete(ctx context.Context, id int64) error
	AppendLog(ctx context.Context, e booking.ExecutionLogEntry) error
	Logs(ctx context.Context, bookingID int64) ([]booking.ExecutionLogEntry, error)
	Stats(ctx context.Context) (booking.Stats, error)
}

// Mirror is the durable side; implemented by mirror.Store.
type Mirror interface {
	Save(ctx context.Context, d mirror.Document) error
	Get(ctx context.Context, id int64) (mirror.Document, bool, error)
	PendingIDs(ctx context.Context) ([]int64, error)
	RemovePending(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	NextID(ctx context.Context) (int64, error)
	AdvancePastID(ctx context.Context, id int64) error
}

// Scheduler is the slice of the scheduler recovery needs.
type Scheduler interface {
	Schedule(ctx context.Context, id int64, at time.Time) error
}

// Notifier delivers outcome notifications; best-effort everywhere.
type Notifier interface {
	Notify(ctx context.Context, kind notify.Kind, p notify.Payload)
}

type Store struct {
	repo   Repo
	mirror Mirror
	log    *zap.SugaredLogger
	loc    *time.Location

	now func() time.Time
}

func New(repo Repo, m Mirror, log *zap.SugaredLogger, loc *time.Location) *Store {
	return &Store{repo: repo, mirror: m, log: log, loc: loc, now: time.Now}
}

// Create allocates an id from the mirror counter, writes the relational row,
// and mirrors it. A mirror write failure is logged, not fatal: the row is
// authoritative and the next update re-mirrors it.
func (s *Store) Create(ctx context.Context, targetDate time.Time, primary string, fallback *string, executeAt time.Time) (booking.Booking, error) {
	id, err := s.mirror.NextID(ctx)
	if err != nil {
		return booking.Booking{}, fmt.Errorf("allocate booking id: %w", err)
	}

	now := s.now().UTC()
	b := booking.Booking{
		ID:             id,
		TargetDate:     targetDate,
		OptionPrimary:  primary,
		OptionFallback: fallback,
		Status:         booking.StatusPending,
		ExecuteAt:      executeAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := b.Validate(); err != nil {
		return booking.Booking{}, err
	}
	if err := s.repo.Insert(ctx, b); err != nil {
		return booking.Booking{}, err
	}
	if err := s.mirror.Save(ctx, mirror.FromBooking(b)); err != nil {
		s.log.Errorw("mirror write failed on create", "booking_id", id, "error", err)
	}
	return b, nil
}

func (s *Store) Get(ctx context.Context, id int64) (booking.Booking, error) {
	return s.repo.Get(ctx, id)
}

func (s *Store) List(ctx context.Context, status booking.Status, limit int) ([]booking.Booking, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.List(ctx, status, limit)
}

func (s *Store) Upcoming(ctx context.Context, limit int) ([]booking.Booking, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.repo.Upcoming(ctx, limit)
}

func (s *Store) Logs(ctx context.Context, bookingID int64) ([]booking.ExecutionLogEntry, error) {
	return s.repo.Logs(ctx, bookingID)
}

func (s *Store) Stats(ctx context.Context) (booking.Stats, error) {
	return s.repo.Stats(ctx)
}

// UpdateStatus enforces the lifecycle edges, writes Postgres, then mirrors
// the full updated document. Terminal statuses leave the pending set.
func (s *Store) UpdateStatus(ctx context.Context, id int64, u booking.Update) error {
	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !booking.CanTransition(cur.Status, u.Status) {
		return fmt.Errorf("%w: %s -> %s (booking %d)", ErrInvalidTransition, cur.Status, u.Status, id)
	}
	if err := s.repo.UpdateStatus(ctx, id, u); err != nil {
		return err
	}

	updated := applyUpdate(cur, u, s.now().UTC())
	if err := s.mirror.Save(ctx, mirror.FromBooking(updated)); err != nil {
		s.log.Errorw("mirror write failed on status update", "booking_id", id, "status", u.Status, "error", err)
	}
	return nil
}

// Delete removes the booking and its log from both stores.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.mirror.Delete(ctx, id); err != nil {
		s.log.Errorw("mirror delete failed", "booking_id", id, "error", err)
	}
	return nil
}

func (s *Store) AppendLog(ctx context.Context, e booking.ExecutionLogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}
	return s.repo.AppendLog(ctx, e)
}

func applyUpdate(b booking.Booking, u booking.Update, now time.Time) booking.Booking {
	b.Status = u.Status
	if u.ResultOption != nil {
		b.ResultOption = u.ResultOption
	}
	if u.ResultLabel != nil {
		b.ResultLabel = u.ResultLabel
	}
	b.ErrorMessage = u.ErrorMessage
	if u.DiagnosticRef != nil {
		b.DiagnosticRef = u.DiagnosticRef
	}
	b.UpdatedAt = now
	return b
}

const downtimeReason = "execution time passed during downtime"

// Recover runs once at process start. It hydrates rows that exist only in
// the mirror, finalizes bookings whose instant passed while the engine was
// down, re-registers timers for the rest, and self-heals terminal ids out
// of the pending set. There is no silent loss: every mirrored non-terminal
// booking ends up scheduled or explicitly failed.
func (s *Store) Recover(ctx context.Context, sched Scheduler, notifier Notifier) error {
	ids, err := s.mirror.PendingIDs(ctx)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	for _, id := range ids {
		doc, ok, err := s.mirror.Get(ctx, id)
		if err != nil {
			s.log.Errorw("recovery: mirror read failed", "booking_id", id, "error", err)
			continue
		}
		if !ok {
			// Set member without a document; nothing to restore.
			_ = s.mirror.RemovePending(ctx, id)
			continue
		}
		if booking.Status(doc.Status).Terminal() {
			_ = s.mirror.RemovePending(ctx, id)
			continue
		}
		if err := s.mirror.AdvancePastID(ctx, id); err != nil {
			s.log.Errorw("recovery: counter advance failed", "booking_id", id, "error", err)
		}

		_, err = s.repo.Get(ctx, id)
		if db.IsNotFound(err) {
			b, convErr := doc.ToBooking(s.now(), s.loc)
			if convErr != nil {
				s.log.Errorw("recovery: mirror document unusable", "booking_id", id, "error", convErr)
				continue
			}
			if insErr := s.repo.Insert(ctx, b); insErr != nil {
				s.log.Errorw("recovery: hydrate failed", "booking_id", id, "error", insErr)
				continue
			}
			s.log.Infow("recovery: hydrated booking from mirror", "booking_id", id, "status", b.Status)
		} else if err != nil {
			s.log.Errorw("recovery: record read failed", "booking_id", id, "error", err)
			continue
		}
	}

	pending, err := s.repo.NonTerminal(ctx)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	now := s.now()
	var rearmed, expired int
	for _, b := range pending {
		if b.ExecuteAt.Before(now) {
			reason := downtimeReason
			if err := s.UpdateStatus(ctx, b.ID, booking.Update{Status: booking.StatusFailed, ErrorMessage: &reason}); err != nil {
				s.log.Errorw("recovery: finalize failed", "booking_id", b.ID, "error", err)
				continue
			}
			notifier.Notify(ctx, notify.KindFailure, notify.Payload{
				Date:     b.DateString(),
				Primary:  b.OptionPrimary,
				Fallback: b.OptionFallback,
				Reason:   reason,
			})
			expired++
			continue
		}
		if err := sched.Schedule(ctx, b.ID, b.ExecuteAt); err != nil {
			s.log.Errorw("recovery: reschedule failed", "booking_id", b.ID, "error", err)
			continue
		}
		rearmed++
	}

	s.log.Infow("recovery complete", "rearmed", rearmed, "expired", expired, "mirrored_pending", len(ids))
	return nil
}
