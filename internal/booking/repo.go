package booking

import (
	"context"
	"fmt"

	"github.com/example/padel-scheduler/internal/db"
)

const bookingColumns = `id,target_date,option_primary,option_fallback,status,execute_at,result_option,result_label,error_message,diagnostic_ref,created_at,updated_at`

// Repo is the Postgres system of record for bookings and their execution log.
type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

// Insert writes a booking with an explicit id. Ids are allocated by the
// durable mirror's counter, never by the database.
func (r *Repo) Insert(ctx context.Context, b Booking) error {
	err := r.db.Exec(ctx, `
INSERT INTO bookings(id,target_date,option_primary,option_fallback,status,execute_at,result_option,result_label,error_message,diagnostic_ref,created_at,updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		b.ID, b.TargetDate, b.OptionPrimary, b.OptionFallback, string(b.Status), b.ExecuteAt,
		b.ResultOption, b.ResultLabel, b.ErrorMessage, b.DiagnosticRef, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert booking %d: %w", b.ID, err)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id int64) (Booking, error) {
	row := r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id)
	b, err := scanBooking(row)
	if err != nil {
		return Booking{}, db.WrapNotFound(err)
	}
	return b, nil
}

// List returns bookings newest-execution-first, optionally filtered by status.
func (r *Repo) List(ctx context.Context, status Status, limit int) ([]Booking, error) {
	var (
		rows db.Rows
		err  error
	)
	if status == "" {
		rows, err = r.db.Query(ctx, `SELECT `+bookingColumns+` FROM bookings ORDER BY execute_at DESC LIMIT $1`, limit)
	} else {
		rows, err = r.db.Query(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE status=$1 ORDER BY execute_at DESC LIMIT $2`, string(status), limit)
	}
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// Upcoming returns scheduled bookings soonest-first.
func (r *Repo) Upcoming(ctx context.Context, limit int) ([]Booking, error) {
	rows, err := r.db.Query(ctx, `
SELECT `+bookingColumns+` FROM bookings
WHERE status=$1
ORDER BY execute_at ASC
LIMIT $2`, string(StatusScheduled), limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// NonTerminal returns every pending or scheduled booking; used by recovery.
func (r *Repo) NonTerminal(ctx context.Context) ([]Booking, error) {
	rows, err := r.db.Query(ctx, `
SELECT `+bookingColumns+` FROM bookings
WHERE status IN ($1,$2)
ORDER BY execute_at ASC`, string(StatusPending), string(StatusScheduled))
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// UpdateStatus applies an Update. Result fields only overwrite when set;
// error_message is always written so a success clears old failures.
func (r *Repo) UpdateStatus(ctx context.Context, id int64, u Update) error {
	err := r.db.Exec(ctx, `
UPDATE bookings
SET status=$2,
    result_option=COALESCE($3, result_option),
    result_label=COALESCE($4, result_label),
    error_message=$5,
    diagnostic_ref=COALESCE($6, diagnostic_ref),
    updated_at=now()
WHERE id=$1`, id, string(u.Status), u.ResultOption, u.ResultLabel, u.ErrorMessage, u.DiagnosticRef)
	if err != nil {
		return fmt.Errorf("update booking %d: %w", id, err)
	}
	return nil
}

// Delete removes a booking; execution_log rows go with it via ON DELETE CASCADE.
func (r *Repo) Delete(ctx context.Context, id int64) error {
	return r.db.Exec(ctx, `DELETE FROM bookings WHERE id=$1`, id)
}

func (r *Repo) AppendLog(ctx context.Context, e ExecutionLogEntry) error {
	return r.db.Exec(ctx, `
INSERT INTO execution_log(booking_id, ts, action, result, details, diagnostic_ref)
VALUES ($1,$2,$3,$4,$5,$6)`, e.BookingID, e.Timestamp, e.Action, e.Result, e.Details, e.DiagnosticRef)
}

func (r *Repo) Logs(ctx context.Context, bookingID int64) ([]ExecutionLogEntry, error) {
	rows, err := r.db.Query(ctx, `
SELECT id, booking_id, ts, action, result, details, diagnostic_ref
FROM execution_log
WHERE booking_id=$1
ORDER BY ts ASC`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExecutionLogEntry
	for rows.Next() {
		var e ExecutionLogEntry
		if err := rows.Scan(&e.ID, &e.BookingID, &e.Timestamp, &e.Action, &e.Result, &e.Details, &e.DiagnosticRef); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repo) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.db.QueryRow(ctx, `
SELECT count(*),
       count(*) FILTER (WHERE status IN ($1,$2)),
       count(*) FILTER (WHERE status=$3),
       count(*) FILTER (WHERE status=$4)
FROM bookings`,
		string(StatusPending), string(StatusScheduled), string(StatusBooked), string(StatusFailed),
	).Scan(&s.Total, &s.Pending, &s.Booked, &s.Failed)
	if err != nil {
		return Stats{}, err
	}
	return s, nil
}

func scanBooking(row db.Row) (Booking, error) {
	var b Booking
	var status string
	err := row.Scan(&b.ID, &b.TargetDate, &b.OptionPrimary, &b.OptionFallback, &status, &b.ExecuteAt,
		&b.ResultOption, &b.ResultLabel, &b.ErrorMessage, &b.DiagnosticRef, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Booking{}, err
	}
	b.Status = Status(status)
	return b, nil
}

func collect(rows db.Rows) ([]Booking, error) {
	defer rows.Close()
	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
