package mirror

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/padel-scheduler/internal/booking"
)

func TestToBookingDefaults(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	// A pre-versioning document: no schema_version, status, or timestamps.
	d := Document{
		ID:            4,
		TargetDate:    "2026-02-15",
		OptionPrimary: "7pm",
		ExecuteAt:     "2026-02-01T23:50:00Z",
	}

	b, err := d.ToBooking(now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPending, b.Status)
	assert.Equal(t, now, b.CreatedAt)
	assert.Equal(t, now, b.UpdatedAt)
	assert.Equal(t, "2026-02-15", b.DateString())
	assert.Equal(t, time.Date(2026, 2, 1, 23, 50, 0, 0, time.UTC).Unix(), b.ExecuteAt.Unix())
}

func TestToBookingRejectsGarbage(t *testing.T) {
	now := time.Now()

	_, err := Document{TargetDate: "2026-02-15", ExecuteAt: "2026-02-01T23:50:00Z"}.ToBooking(now, time.UTC)
	assert.Error(t, err, "missing id")

	_, err = Document{ID: 1, TargetDate: "soon", ExecuteAt: "2026-02-01T23:50:00Z"}.ToBooking(now, time.UTC)
	assert.Error(t, err, "bad target date")

	_, err = Document{ID: 1, TargetDate: "2026-02-15", ExecuteAt: "tonight"}.ToBooking(now, time.UTC)
	assert.Error(t, err, "bad execute_at")

	_, err = Document{ID: 1, TargetDate: "2026-02-15", ExecuteAt: "2026-02-01T23:50:00Z", Status: "limbo"}.ToBooking(now, time.UTC)
	assert.Error(t, err, "bad status")
}

func TestDocumentRoundTrip(t *testing.T) {
	fb := "8pm"
	msg := "no availability"
	b := booking.Booking{
		ID:             9,
		TargetDate:     time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
		OptionPrimary:  "7pm",
		OptionFallback: &fb,
		Status:         booking.StatusFailed,
		ExecuteAt:      time.Date(2026, 2, 1, 23, 50, 0, 0, time.UTC),
		ErrorMessage:   &msg,
		CreatedAt:      time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC),
		UpdatedAt:      time.Date(2026, 2, 2, 0, 5, 0, 0, time.UTC),
	}

	d := FromBooking(b)
	assert.Equal(t, SchemaVersion, d.SchemaVersion)

	got, err := d.ToBooking(time.Now(), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, b.Status, got.Status)
	assert.Equal(t, b.OptionFallback, got.OptionFallback)
	assert.Equal(t, b.ErrorMessage, got.ErrorMessage)
	assert.Equal(t, b.ExecuteAt.Unix(), got.ExecuteAt.Unix())
}
