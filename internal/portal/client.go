// Package portal implements the Browsing Agent against the club's member
// portal over HTTP: form login with a cookie session, a date-filtered
// booking page, and a JSON availability endpoint.
package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/padel-scheduler/internal/agent"
)

type Credentials struct {
	Username string
	Password string
}

type Config struct {
	LoginURL   string
	BookingURL string
	Creds      Credentials

	// DryRun reports would-be activations without clicking through;
	// verification is treated as positive.
	DryRun bool

	// DiagnosticsDir receives page snapshots on terminal outcomes.
	DiagnosticsDir string
}

type Client struct {
	cfg Config
	hc  *http.Client
	log *zap.SugaredLogger

	lastBody []byte // most recent page body, for verification and diagnostics
}

var _ agent.Agent = (*Client)(nil)

func New(cfg Config, log *zap.SugaredLogger) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg: cfg,
		hc:  &http.Client{Timeout: 60 * time.Second, Jar: jar},
		log: log,
	}, nil
}

// Login posts the credential form and checks we left the login page.
func (c *Client) Login(ctx context.Context) error {
	form := url.Values{
		"email":    {c.cfg.Creds.Username},
		"password": {c.cfg.Creds.Password},
	}
	res, body, err := c.do(ctx, http.MethodPost, c.cfg.LoginURL, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	if res.StatusCode >= 400 {
		return fmt.Errorf("login rejected (status=%d)", res.StatusCode)
	}
	// The portal redirects authenticated sessions away from the login page.
	if strings.Contains(strings.ToLower(res.Request.URL.Path), "login") {
		return fmt.Errorf("still on login page after submit")
	}
	c.lastBody = body
	return nil
}

// Prepare loads the booking page filtered to the target date.
func (c *Client) Prepare(ctx context.Context, date time.Time) error {
	// The portal's date picker takes DD/MM/YYYY.
	u, err := url.Parse(c.cfg.BookingURL)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("from_date", date.Format("02/01/2006"))
	u.RawQuery = q.Encode()

	res, body, err := c.do(ctx, http.MethodGet, u.String(), "", nil)
	if err != nil {
		return fmt.Errorf("booking page: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("booking page returned status %d", res.StatusCode)
	}
	c.lastBody = body
	return nil
}

type availabilityResponse struct {
	Slots []struct {
		SlotStart   string `json:"slot_start"` // "DD/MM/YYYY HH:MM:SS"
		Subject     string `json:"subject"`
		TotalBooked int    `json:"total_booked"`
		TotalSlots  int    `json:"total_slots"`
		ActivateURL string `json:"activate_url"`
	} `json:"slots"`
}

// RefreshAvailability fetches the availability feed behind the booking page.
func (c *Client) RefreshAvailability(ctx context.Context) ([]agent.SlotDescriptor, error) {
	res, body, err := c.do(ctx, http.MethodGet, c.cfg.BookingURL+"/availability", "", nil)
	if err != nil {
		return nil, fmt.Errorf("availability: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("availability returned status %d", res.StatusCode)
	}
	c.lastBody = body

	var ar availabilityResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return nil, fmt.Errorf("availability decode: %w", err)
	}

	out := make([]agent.SlotDescriptor, 0, len(ar.Slots))
	for _, s := range ar.Slots {
		out = append(out, agent.SlotDescriptor{
			Label:         normalizeLabel(s.SlotStart),
			BookedCount:   s.TotalBooked,
			TotalCount:    s.TotalSlots,
			ResourceLabel: strings.TrimSpace(s.Subject),
		})
	}
	return out, nil
}

// Activate clicks through the selected slot.
func (c *Client) Activate(ctx context.Context, d agent.SlotDescriptor) error {
	if c.cfg.DryRun {
		c.log.Infow("dry run: would activate slot", "label", d.Label, "resource", d.ResourceLabel)
		return nil
	}
	form := url.Values{
		"slot_start": {d.Label},
		"subject":    {d.ResourceLabel},
	}
	res, body, err := c.do(ctx, http.MethodPost, c.cfg.BookingURL+"/book", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	if res.StatusCode >= 400 {
		return fmt.Errorf("activate returned status %d", res.StatusCode)
	}
	c.lastBody = body
	return nil
}

var confirmationMarkers = []string{
	"booking confirmed",
	"reservation confirmed",
	"successfully booked",
	"confirmation",
	"thank you",
}

// VerifyConfirmation scans the last page for confirmation markers.
func (c *Client) VerifyConfirmation(ctx context.Context) (bool, error) {
	if c.cfg.DryRun {
		return true, nil
	}
	page := strings.ToLower(string(c.lastBody))
	for _, m := range confirmationMarkers {
		if strings.Contains(page, m) {
			return true, nil
		}
	}
	return false, nil
}

// CaptureDiagnostic writes the last page body to the diagnostics directory
// and returns the file path.
func (c *Client) CaptureDiagnostic(ctx context.Context, label string) (string, error) {
	if c.cfg.DiagnosticsDir == "" {
		return "", fmt.Errorf("diagnostics directory not configured")
	}
	if err := os.MkdirAll(c.cfg.DiagnosticsDir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s_%s.html", label, time.Now().Format("20060102_150405"), uuid.NewString()[:8])
	path := filepath.Join(c.cfg.DiagnosticsDir, name)
	if err := os.WriteFile(path, c.lastBody, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (c *Client) do(ctx context.Context, method, rawURL, contentType string, body io.Reader) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("user-agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("accept-language", "en-GB,en-US;q=0.9,en;q=0.8")
	if contentType != "" {
		req.Header.Set("content-type", contentType)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return res, nil, err
	}
	return res, b, nil
}

// normalizeLabel converts the portal's "DD/MM/YYYY HH:MM:SS" labels into the
// canonical "YYYY-MM-DD HH:MM:SS" form the selection policy matches on.
func normalizeLabel(s string) string {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, " ", 2)
	if len(parts) != 2 {
		return s
	}
	d, err := time.Parse("02/01/2006", parts[0])
	if err != nil {
		return s
	}
	return d.Format("2006-01-02") + " " + parts[1]
}
