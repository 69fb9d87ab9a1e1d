package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/padel-scheduler/internal/api"
	"github.com/example/padel-scheduler/internal/booking"
	"github.com/example/padel-scheduler/internal/config"
	"github.com/example/padel-scheduler/internal/db"
	"github.com/example/padel-scheduler/internal/engine"
	"github.com/example/padel-scheduler/internal/executor"
	"github.com/example/padel-scheduler/internal/logger"
	"github.com/example/padel-scheduler/internal/metrics"
	"github.com/example/padel-scheduler/internal/migrate"
	"github.com/example/padel-scheduler/internal/mirror"
	"github.com/example/padel-scheduler/internal/notify"
	"github.com/example/padel-scheduler/internal/portal"
	"github.com/example/padel-scheduler/internal/scheduler"
	"github.com/example/padel-scheduler/internal/store"
)

func newServerCmd() *cobra.Command {
	var (
		migrateUp bool
		debug     bool
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the booking engine + JSON API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := logger.New(debug)
			if err != nil {
				return err
			}
			defer log.Sync()

			loc, err := cfg.Location()
			if err != nil {
				return fmt.Errorf("timezone: %w", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.Ping(ctx); err != nil {
				return fmt.Errorf("db ping: %w", err)
			}
			if migrateUp {
				if err := migrate.Up(ctx, d); err != nil {
					return err
				}
			}

			mir, err := mirror.New(cfg.RedisURL)
			if err != nil {
				return err
			}
			defer mir.Close()
			if err := mir.Ping(ctx); err != nil {
				return fmt.Errorf("redis ping: %w", err)
			}

			repo := booking.NewRepo(d)
			st := store.New(repo, mir, log, loc)
			notifier := notify.NewDiscord(cfg.DiscordWebhookURL, log)
			m := metrics.New("padelsched")

			agent, err := portal.New(portal.Config{
				LoginURL:       cfg.PortalLoginURL,
				BookingURL:     cfg.PortalBookingURL,
				Creds:          portal.Credentials{Username: cfg.PortalUsername, Password: cfg.PortalPassword},
				DryRun:         cfg.DryRun,
				DiagnosticsDir: cfg.DiagnosticsDir,
			}, log)
			if err != nil {
				return err
			}

			exec := executor.New(st, agent, notifier, m, log, loc, cfg.StepTimeout)
			sched := scheduler.New(st, exec, log)
			sched.Start(ctx)

			eng := engine.New(st, sched, notifier, log, loc, engine.Config{
				LeadDays:        cfg.LeadDays,
				PreUnlockOffset: cfg.PreUnlockOffset,
				SummaryInterval: cfg.SummaryInterval,
			})
			if err := eng.Start(ctx); err != nil {
				return fmt.Errorf("recovery: %w", err)
			}

			srv := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           api.NewServer(eng, log, loc).Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				log.Infow("api listening", "addr", cfg.ListenAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				return err
			}

			log.Infow("shutting down")
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer shutCancel()
			if err := srv.Shutdown(shutCtx); err != nil {
				log.Errorw("api shutdown", "error", err)
			}
			// In-flight booking attempts finish before exit.
			sched.Wait()
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "apply schema migrations on start")
	cmd.Flags().BoolVar(&debug, "debug", false, "debug logging")
	return cmd
}
