package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/padel-scheduler/internal/booking"
)

type webhookMessage struct {
	Username string `json:"username"`
	Content  string `json:"content"`
	Embeds   []struct {
		Title  string `json:"title"`
		Color  int    `json:"color"`
		Fields []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"fields"`
	} `json:"embeds"`
}

func capture(t *testing.T) (*httptest.Server, *[]webhookMessage) {
	t.Helper()
	var got []webhookMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var m webhookMessage
		require.NoError(t, json.Unmarshal(body, &m))
		got = append(got, m)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestNotifySuccess(t *testing.T) {
	srv, got := capture(t)
	d := NewDiscord(srv.URL, zap.NewNop().Sugar())

	d.Notify(context.Background(), KindSuccess, Payload{Date: "2026-02-15", BookedTime: "7pm", Court: "Court 1"})

	require.Len(t, *got, 1)
	m := (*got)[0]
	assert.Equal(t, "Padel Booking Bot", m.Username)
	require.Len(t, m.Embeds, 1)
	assert.Equal(t, "Booking Successful", m.Embeds[0].Title)

	fields := map[string]string{}
	for _, f := range m.Embeds[0].Fields {
		fields[f.Name] = f.Value
	}
	assert.Equal(t, "2026-02-15", fields["Date"])
	assert.Equal(t, "7pm", fields["Time"])
	assert.Equal(t, "Court 1", fields["Court"])
}

func TestNotifyUnavailableIncludesFallback(t *testing.T) {
	srv, got := capture(t)
	d := NewDiscord(srv.URL, zap.NewNop().Sugar())

	fb := "8pm"
	d.Notify(context.Background(), KindUnavailable, Payload{Date: "2026-02-15", Primary: "7pm", Fallback: &fb})

	require.Len(t, *got, 1)
	require.Len(t, (*got)[0].Embeds, 1)
	assert.Equal(t, "Slots Unavailable", (*got)[0].Embeds[0].Title)

	fields := map[string]string{}
	for _, f := range (*got)[0].Embeds[0].Fields {
		fields[f.Name] = f.Value
	}
	assert.Equal(t, "8pm", fields["Fallback"])
}

func TestNotifyWithoutWebhookIsNoop(t *testing.T) {
	d := NewDiscord("", zap.NewNop().Sugar())
	// Must not panic or block.
	d.Notify(context.Background(), KindFailure, Payload{Date: "2026-02-15", Reason: "x"})
}

func TestSummary(t *testing.T) {
	srv, got := capture(t)
	d := NewDiscord(srv.URL, zap.NewNop().Sugar())

	d.Summary(context.Background(), booking.Stats{Total: 4, Pending: 1, Booked: 2, Failed: 1})

	require.Len(t, *got, 1)
	require.Len(t, (*got)[0].Embeds, 1)
	assert.Equal(t, "Daily Booking Summary", (*got)[0].Embeds[0].Title)
}
