// Package mirror is the durable copy of booking state. It exists so the
// engine survives the host being fully stopped between scheduled runs: a
// JSON document per booking keyed by id, a set of ids currently in a
// non-terminal state, and the id counter that allocates booking ids.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/example/padel-scheduler/internal/booking"
)

const (
	keyPrefix  = "padel:booking:"
	queueKey   = "padel:booking_queue"
	counterKey = "padel:booking:counter"

	// SchemaVersion of the mirrored document. Documents with an older (or
	// missing) version hydrate with zero-value defaults for fields they lack.
	SchemaVersion = 1
)

// Document is the versioned wire shape of a mirrored booking.
type Document struct {
	SchemaVersion  int     `json:"schema_version"`
	ID             int64   `json:"id"`
	TargetDate     string  `json:"target_date"` // YYYY-MM-DD
	OptionPrimary  string  `json:"option_primary"`
	OptionFallback *string `json:"option_fallback,omitempty"`
	Status         string  `json:"status"`
	ExecuteAt      string  `json:"execute_at"` // RFC 3339
	ResultOption   *string `json:"result_option,omitempty"`
	ResultLabel    *string `json:"result_label,omitempty"`
	ErrorMessage   *string `json:"error_message,omitempty"`
	DiagnosticRef  *string `json:"diagnostic_ref,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

func FromBooking(b booking.Booking) Document {
	return Document{
		SchemaVersion:  SchemaVersion,
		ID:             b.ID,
		TargetDate:     b.DateString(),
		OptionPrimary:  b.OptionPrimary,
		OptionFallback: b.OptionFallback,
		Status:         string(b.Status),
		ExecuteAt:      b.ExecuteAt.Format(time.RFC3339),
		ResultOption:   b.ResultOption,
		ResultLabel:    b.ResultLabel,
		ErrorMessage:   b.ErrorMessage,
		DiagnosticRef:  b.DiagnosticRef,
		CreatedAt:      b.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      b.UpdatedAt.Format(time.RFC3339),
	}
}

// ToBooking validates the document and converts it back. Missing timestamps
// default to now; a missing status defaults to pending.
func (d Document) ToBooking(now time.Time, loc *time.Location) (booking.Booking, error) {
	if d.ID <= 0 {
		return booking.Booking{}, fmt.Errorf("mirror document missing id")
	}
	target, err := time.ParseInLocation("2006-01-02", d.TargetDate, loc)
	if err != nil {
		return booking.Booking{}, fmt.Errorf("mirror document %d: bad target_date %q: %w", d.ID, d.TargetDate, err)
	}
	executeAt, err := time.Parse(time.RFC3339, d.ExecuteAt)
	if err != nil {
		return booking.Booking{}, fmt.Errorf("mirror document %d: bad execute_at %q: %w", d.ID, d.ExecuteAt, err)
	}

	status := booking.Status(d.Status)
	if d.Status == "" {
		status = booking.StatusPending
	}
	if !status.Valid() {
		return booking.Booking{}, fmt.Errorf("mirror document %d: bad status %q", d.ID, d.Status)
	}

	createdAt := parseOr(d.CreatedAt, now)
	updatedAt := parseOr(d.UpdatedAt, now)

	return booking.Booking{
		ID:             d.ID,
		TargetDate:     target,
		OptionPrimary:  d.OptionPrimary,
		OptionFallback: d.OptionFallback,
		Status:         status,
		ExecuteAt:      executeAt,
		ResultOption:   d.ResultOption,
		ResultLabel:    d.ResultLabel,
		ErrorMessage:   d.ErrorMessage,
		DiagnosticRef:  d.DiagnosticRef,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}, nil
}

func parseOr(s string, def time.Time) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return def
	}
	return t
}

// Store talks to Redis.
type Store struct {
	client *redis.Client
}

func New(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Store{client: redis.NewClient(opts)}, nil
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Save writes the document and maintains the pending set: non-terminal ids
// are members, terminal ids are not.
func (s *Store) Save(ctx context.Context, d Document) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key(d.ID), raw, 0).Err(); err != nil {
		return fmt.Errorf("mirror save %d: %w", d.ID, err)
	}
	if booking.Status(d.Status).Terminal() {
		return s.client.SRem(ctx, queueKey, d.ID).Err()
	}
	return s.client.SAdd(ctx, queueKey, d.ID).Err()
}

func (s *Store) Get(ctx context.Context, id int64) (Document, bool, error) {
	raw, err := s.client.Get(ctx, key(id)).Result()
	if err == redis.Nil {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("mirror get %d: %w", id, err)
	}
	var d Document
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Document{}, false, fmt.Errorf("mirror get %d: decode: %w", id, err)
	}
	return d, true, nil
}

// PendingIDs returns the members of the non-terminal set.
func (s *Store) PendingIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.client.SMembers(ctx, queueKey).Result()
	if err != nil {
		return nil, fmt.Errorf("mirror pending ids: %w", err)
	}
	out := make([]int64, 0, len(ids))
	for _, raw := range ids {
		var id int64
		if _, err := fmt.Sscanf(raw, "%d", &id); err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// RemovePending drops an id from the non-terminal set without touching the
// document; used to self-heal terminal leftovers.
func (s *Store) RemovePending(ctx context.Context, id int64) error {
	return s.client.SRem(ctx, queueKey, id).Err()
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	if err := s.client.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("mirror delete %d: %w", id, err)
	}
	return s.client.SRem(ctx, queueKey, id).Err()
}

// NextID allocates the next booking id. The mirror counter is the allocator
// of record so ids stay unique across restarts and mirror-only intake.
func (s *Store) NextID(ctx context.Context) (int64, error) {
	id, err := s.client.Incr(ctx, counterKey).Result()
	if err != nil {
		return 0, fmt.Errorf("mirror next id: %w", err)
	}
	return id, nil
}

// AdvancePastID moves the counter forward so it can never re-issue an id
// observed during recovery. Single-writer engine, so get-then-set is fine.
func (s *Store) AdvancePastID(ctx context.Context, id int64) error {
	cur, err := s.client.Get(ctx, counterKey).Int64()
	if err != nil && err != redis.Nil {
		return err
	}
	if cur >= id {
		return nil
	}
	return s.client.Set(ctx, counterKey, id, 0).Err()
}

func key(id int64) string {
	return fmt.Sprintf("%s%d", keyPrefix, id)
}
