package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/padel-scheduler/internal/booking"
	"github.com/example/padel-scheduler/internal/db"
	"github.com/example/padel-scheduler/internal/engine"
	"github.com/example/padel-scheduler/internal/intake"
)

type fakeService struct {
	createFn func(ctx context.Context, targetDate time.Time, primary, fallback string) (booking.Booking, error)
	getFn    func(ctx context.Context, id int64) (booking.Booking, error)
	cancelFn func(ctx context.Context, id int64) error
	deleteFn func(ctx context.Context, id int64) error
	listFn   func(ctx context.Context, status booking.Status, limit int) ([]booking.Booking, error)
}

func (f *fakeService) CreateBooking(ctx context.Context, targetDate time.Time, primary, fallback string) (booking.Booking, error) {
	return f.createFn(ctx, targetDate, primary, fallback)
}

func (f *fakeService) ImportCSV(ctx context.Context, r io.Reader) (intake.Summary, error) {
	rows, sum, err := intake.ParseCSV(r)
	if err != nil {
		return intake.Summary{}, err
	}
	sum.Added = len(rows)
	return sum, nil
}

func (f *fakeService) Cancel(ctx context.Context, id int64) error {
	if f.cancelFn != nil {
		return f.cancelFn(ctx, id)
	}
	return nil
}

func (f *fakeService) Delete(ctx context.Context, id int64) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id)
	}
	return nil
}

func (f *fakeService) Get(ctx context.Context, id int64) (booking.Booking, error) {
	return f.getFn(ctx, id)
}

func (f *fakeService) List(ctx context.Context, status booking.Status, limit int) ([]booking.Booking, error) {
	if f.listFn != nil {
		return f.listFn(ctx, status, limit)
	}
	return nil, nil
}

func (f *fakeService) Upcoming(ctx context.Context, limit int) ([]booking.Booking, error) {
	return f.List(ctx, booking.StatusScheduled, limit)
}

func (f *fakeService) Logs(ctx context.Context, id int64) ([]booking.ExecutionLogEntry, error) {
	return nil, nil
}

func (f *fakeService) Stats(ctx context.Context) (booking.Stats, error) {
	return booking.Stats{Total: 3, Pending: 1, Booked: 1, Failed: 1}, nil
}

func sample(id int64, status booking.Status) booking.Booking {
	fb := "8pm"
	return booking.Booking{
		ID:             id,
		TargetDate:     time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
		OptionPrimary:  "7pm",
		OptionFallback: &fb,
		Status:         status,
		ExecuteAt:      time.Date(2026, 2, 1, 23, 50, 0, 0, time.UTC),
		CreatedAt:      time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC),
		UpdatedAt:      time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC),
	}
}

func newTestServer(t *testing.T, svc Service) http.Handler {
	t.Helper()
	return NewServer(svc, zap.NewNop().Sugar(), time.UTC).Router()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateBooking(t *testing.T) {
	svc := &fakeService{
		createFn: func(ctx context.Context, targetDate time.Time, primary, fallback string) (booking.Booking, error) {
			assert.Equal(t, "2026-02-15", targetDate.Format("2006-01-02"))
			assert.Equal(t, "7pm", primary)
			assert.Equal(t, "8pm", fallback)
			return sample(1, booking.StatusScheduled), nil
		},
	}
	h := newTestServer(t, svc)

	rec := doJSON(t, h, http.MethodPost, "/bookings", map[string]string{
		"target_date":     "2026-02-15",
		"option_primary":  "7pm",
		"option_fallback": "8pm",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var got bookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, "scheduled", got.Status)
	assert.Equal(t, "2026-02-01T23:50:00Z", got.ExecuteAt)
}

func TestCreateBookingRejectsBadPayload(t *testing.T) {
	h := newTestServer(t, &fakeService{})

	rec := doJSON(t, h, http.MethodPost, "/bookings", map[string]string{
		"target_date":    "15/02/2026",
		"option_primary": "7pm",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/bookings", map[string]string{
		"target_date":    "2026-02-15",
		"option_primary": "19:00",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetBookingNotFound(t *testing.T) {
	svc := &fakeService{
		getFn: func(ctx context.Context, id int64) (booking.Booking, error) {
			return booking.Booking{}, db.ErrNotFound
		},
	}
	h := newTestServer(t, svc)

	rec := doJSON(t, h, http.MethodGet, "/bookings/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetBookingWithLog(t *testing.T) {
	svc := &fakeService{
		getFn: func(ctx context.Context, id int64) (booking.Booking, error) {
			return sample(id, booking.StatusBooked), nil
		},
	}
	h := newTestServer(t, svc)

	rec := doJSON(t, h, http.MethodGet, "/bookings/5", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Booking bookingResponse  `json:"booking"`
		Log     []map[string]any `json:"log"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(5), got.Booking.ID)
}

func TestListRejectsUnknownStatus(t *testing.T) {
	h := newTestServer(t, &fakeService{})
	rec := doJSON(t, h, http.MethodGet, "/bookings?status=limbo", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportCSV(t *testing.T) {
	h := newTestServer(t, &fakeService{})

	csv := "Date,Time1,Time2,Status\n2026-02-15,7pm,8pm,book\n2026-02-16,7pm,,skip\n"
	req := httptest.NewRequest(http.MethodPost, "/imports", bytes.NewBufferString(csv))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var sum intake.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 1, sum.Added)
	assert.Equal(t, 1, sum.Skipped)
}

func TestInviteForBookedBooking(t *testing.T) {
	svc := &fakeService{
		getFn: func(ctx context.Context, id int64) (booking.Booking, error) {
			b := sample(id, booking.StatusBooked)
			opt := "7pm"
			court := "Court 1"
			b.ResultOption = &opt
			b.ResultLabel = &court
			return b, nil
		},
	}
	h := newTestServer(t, svc)

	rec := doJSON(t, h, http.MethodGet, "/bookings/5/invite", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "padel_2026-02-15.ics")
	assert.Contains(t, rec.Body.String(), "BEGIN:VCALENDAR")
}

func TestInviteForUnbookedBookingConflicts(t *testing.T) {
	svc := &fakeService{
		getFn: func(ctx context.Context, id int64) (booking.Booking, error) {
			return sample(id, booking.StatusScheduled), nil
		},
	}
	h := newTestServer(t, svc)

	rec := doJSON(t, h, http.MethodGet, "/bookings/5/invite", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStats(t *testing.T) {
	h := newTestServer(t, &fakeService{})
	rec := doJSON(t, h, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var s booking.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, 3, s.Total)
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, &fakeService{})
	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDelete(t *testing.T) {
	deleted := int64(0)
	svc := &fakeService{
		deleteFn: func(ctx context.Context, id int64) error {
			deleted = id
			return nil
		},
	}
	h := newTestServer(t, svc)

	rec := doJSON(t, h, http.MethodDelete, "/bookings/7", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(7), deleted)
}

func TestCancelMidAttemptConflicts(t *testing.T) {
	svc := &fakeService{
		cancelFn: func(ctx context.Context, id int64) error {
			return engine.ErrAttemptInProgress
		},
	}
	h := newTestServer(t, svc)

	rec := doJSON(t, h, http.MethodPost, "/bookings/5/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelReturnsUpdatedBooking(t *testing.T) {
	svc := &fakeService{
		getFn: func(ctx context.Context, id int64) (booking.Booking, error) {
			return sample(id, booking.StatusCancelled), nil
		},
	}
	h := newTestServer(t, svc)

	rec := doJSON(t, h, http.MethodPost, "/bookings/5/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got bookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "cancelled", got.Status)
}
