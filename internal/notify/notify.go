// Package notify delivers outcome notifications over a Discord webhook.
// Delivery is best-effort: failures are logged and never reach a booking's
// own status.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/example/padel-scheduler/internal/booking"
)

type Kind string

const (
	KindSuccess     Kind = "success"
	KindUnavailable Kind = "unavailable"
	KindFailure     Kind = "failure"
	KindSystemError Kind = "system_error"
)

// Payload carries whichever fields the kind needs; unused fields stay zero.
type Payload struct {
	Date       string
	Primary    string
	Fallback   *string
	BookedTime string
	Court      string
	Reason     string
	Subject    string
	Detail     string
}

type Discord struct {
	webhookURL string
	hc         *http.Client
	log        *zap.SugaredLogger
}

func NewDiscord(webhookURL string, log *zap.SugaredLogger) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		hc:         &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

type embed struct {
	Title     string  `json:"title"`
	Color     int     `json:"color"`
	Fields    []field `json:"fields,omitempty"`
	Timestamp string  `json:"timestamp"`
}

type field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

const (
	colorGreen  = 3066993
	colorRed    = 15158332
	colorOrange = 15105570
)

// Notify builds the embed for the kind and posts it. Errors are swallowed
// after logging; callers fire and forget.
func (d *Discord) Notify(ctx context.Context, kind Kind, p Payload) {
	var content string
	var e embed

	switch kind {
	case KindSuccess:
		content = "Padel court booked successfully!"
		e = embed{Title: "Booking Successful", Color: colorGreen, Fields: []field{
			{Name: "Date", Value: p.Date, Inline: true},
			{Name: "Time", Value: p.BookedTime, Inline: true},
		}}
		if p.Court != "" {
			e.Fields = append(e.Fields, field{Name: "Court", Value: p.Court})
		}
	case KindUnavailable:
		content = "No availability for requested times"
		e = embed{Title: "Slots Unavailable", Color: colorOrange, Fields: []field{
			{Name: "Date", Value: p.Date, Inline: true},
			{Name: "Primary", Value: p.Primary, Inline: true},
		}}
		if p.Fallback != nil {
			e.Fields = append(e.Fields, field{Name: "Fallback", Value: *p.Fallback, Inline: true})
		}
	case KindFailure:
		content = "Booking attempt failed"
		e = embed{Title: "Booking Failed", Color: colorRed, Fields: []field{
			{Name: "Date", Value: p.Date, Inline: true},
			{Name: "Primary", Value: p.Primary, Inline: true},
			{Name: "Reason", Value: p.Reason},
		}}
	case KindSystemError:
		content = "Booking system error"
		e = embed{Title: p.Subject, Color: colorRed, Fields: []field{
			{Name: "Detail", Value: p.Detail},
		}}
	default:
		d.log.Warnw("unknown notification kind", "kind", kind)
		return
	}
	e.Timestamp = time.Now().UTC().Format(time.RFC3339)

	if err := d.send(ctx, content, []embed{e}); err != nil {
		d.log.Errorw("notification delivery failed", "kind", kind, "error", err)
	}
}

// Summary posts the daily stats digest.
func (d *Discord) Summary(ctx context.Context, s booking.Stats) {
	e := embed{
		Title: "Daily Booking Summary",
		Color: colorGreen,
		Fields: []field{
			{Name: "Total", Value: fmt.Sprintf("%d", s.Total), Inline: true},
			{Name: "Pending", Value: fmt.Sprintf("%d", s.Pending), Inline: true},
			{Name: "Booked", Value: fmt.Sprintf("%d", s.Booked), Inline: true},
			{Name: "Failed", Value: fmt.Sprintf("%d", s.Failed), Inline: true},
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := d.send(ctx, "Daily summary", []embed{e}); err != nil {
		d.log.Errorw("summary delivery failed", "error", err)
	}
}

func (d *Discord) send(ctx context.Context, content string, embeds []embed) error {
	if d.webhookURL == "" {
		return nil
	}
	payload := struct {
		Username string  `json:"username"`
		Content  string  `json:"content"`
		Embeds   []embed `json:"embeds,omitempty"`
	}{
		Username: "Padel Booking Bot",
		Content:  content,
		Embeds:   embeds,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := d.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", res.StatusCode)
	}
	return nil
}
