package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/padel-scheduler/internal/agent"
)

func fakePortal(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.FormValue("email") != "user@example.com" || r.FormValue("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.Redirect(w, r, "/bookings", http.StatusFound)
	})
	mux.HandleFunc("/bookings", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html>bookings for %s</html>", r.URL.Query().Get("from_date"))
	})
	mux.HandleFunc("/bookings/availability", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"slots":[
			{"slot_start":"15/02/2026 19:00:00","subject":"Court 1","total_booked":4,"total_slots":4},
			{"slot_start":"15/02/2026 20:00:00","subject":"Court 2","total_booked":1,"total_slots":4}
		]}`)
	})
	mux.HandleFunc("/bookings/book", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>Booking confirmed, see you on court!</html>")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(Config{
		LoginURL:       srv.URL + "/login",
		BookingURL:     srv.URL + "/bookings",
		Creds:          Credentials{Username: "user@example.com", Password: "secret"},
		DiagnosticsDir: t.TempDir(),
	}, zap.NewNop().Sugar())
	require.NoError(t, err)
	return c
}

func TestLogin(t *testing.T) {
	srv := fakePortal(t)
	c := newClient(t, srv)
	assert.NoError(t, c.Login(context.Background()))
}

func TestLoginBadCredentials(t *testing.T) {
	srv := fakePortal(t)
	c := newClient(t, srv)
	c.cfg.Creds.Password = "wrong"
	assert.Error(t, c.Login(context.Background()))
}

func TestRefreshAvailabilityNormalizesLabels(t *testing.T) {
	srv := fakePortal(t)
	c := newClient(t, srv)

	got, err := c.RefreshAvailability(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, agent.SlotDescriptor{
		Label: "2026-02-15 19:00:00", BookedCount: 4, TotalCount: 4, ResourceLabel: "Court 1",
	}, got[0])
	assert.Equal(t, "2026-02-15 20:00:00", got[1].Label)
}

func TestPrepareSendsPortalDateFormat(t *testing.T) {
	srv := fakePortal(t)
	c := newClient(t, srv)

	date := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.Prepare(context.Background(), date))
	assert.Contains(t, string(c.lastBody), "15/02/2026")
}

func TestActivateAndVerify(t *testing.T) {
	srv := fakePortal(t)
	c := newClient(t, srv)

	d := agent.SlotDescriptor{Label: "2026-02-15 20:00:00", ResourceLabel: "Court 2"}
	require.NoError(t, c.Activate(context.Background(), d))

	ok, err := c.VerifyConfirmation(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyWithoutConfirmationText(t *testing.T) {
	srv := fakePortal(t)
	c := newClient(t, srv)
	c.lastBody = []byte("<html>something went wrong</html>")

	ok, err := c.VerifyConfirmation(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDryRunSkipsActivation(t *testing.T) {
	// No portal behind the URL: a dry run must never hit it.
	c, err := New(Config{
		LoginURL:   "http://127.0.0.1:1/login",
		BookingURL: "http://127.0.0.1:1/bookings",
		DryRun:     true,
	}, zap.NewNop().Sugar())
	require.NoError(t, err)

	require.NoError(t, c.Activate(context.Background(), agent.SlotDescriptor{Label: "2026-02-15 19:00:00"}))
	ok, err := c.VerifyConfirmation(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCaptureDiagnostic(t *testing.T) {
	srv := fakePortal(t)
	c := newClient(t, srv)
	c.lastBody = []byte("<html>snapshot</html>")

	ref, err := c.CaptureDiagnostic(context.Background(), "failed_1")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(ref) || ref != "")

	data, err := os.ReadFile(ref)
	require.NoError(t, err)
	assert.Equal(t, "<html>snapshot</html>", string(data))
}

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, "2026-02-15 19:00:00", normalizeLabel("15/02/2026 19:00:00"))
	assert.Equal(t, "garbage", normalizeLabel("garbage"))
}
