// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr  string
	DatabaseURL string
	RedisURL    string

	PortalLoginURL   string
	PortalBookingURL string
	PortalUsername   string
	PortalPassword   string

	DiscordWebhookURL string

	LeadDays        int
	PreUnlockOffset time.Duration
	StepTimeout     time.Duration
	SummaryInterval time.Duration
	Timezone        string
	DryRun          bool
	DiagnosticsDir  string
}

// Load reads configuration from process environment. A .env file in the
// working directory is merged in first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	c := &Config{
		ListenAddr:        getenv("LISTEN_ADDR", ":8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          getenv("REDIS_URL", "redis://localhost:6379/0"),
		PortalLoginURL:    os.Getenv("PORTAL_LOGIN_URL"),
		PortalBookingURL:  os.Getenv("PORTAL_BOOKING_URL"),
		PortalUsername:    os.Getenv("PORTAL_USERNAME"),
		PortalPassword:    os.Getenv("PORTAL_PASSWORD"),
		DiscordWebhookURL: os.Getenv("DISCORD_WEBHOOK_URL"),
		Timezone:          getenv("TIMEZONE", "Europe/London"),
		DiagnosticsDir:    getenv("DIAGNOSTICS_DIR", "diagnostics"),
	}

	var err error
	if c.LeadDays, err = getint("LEAD_DAYS", 15); err != nil {
		return nil, err
	}
	if c.PreUnlockOffset, err = getdur("PRE_UNLOCK_OFFSET", 10*time.Minute); err != nil {
		return nil, err
	}
	if c.StepTimeout, err = getdur("STEP_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}
	if c.SummaryInterval, err = getdur("SUMMARY_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}
	if c.DryRun, err = getbool("DRY_RUN", false); err != nil {
		return nil, err
	}

	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if c.LeadDays < 1 {
		return nil, fmt.Errorf("LEAD_DAYS must be at least 1")
	}
	return c, nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getdur(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getbool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
