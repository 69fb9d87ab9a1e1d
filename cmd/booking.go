package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/padel-scheduler/internal/booking"
	"github.com/example/padel-scheduler/internal/config"
	"github.com/example/padel-scheduler/internal/db"
	"github.com/example/padel-scheduler/internal/intake"
	"github.com/example/padel-scheduler/internal/logger"
	"github.com/example/padel-scheduler/internal/migrate"
	"github.com/example/padel-scheduler/internal/mirror"
	"github.com/example/padel-scheduler/internal/scheduler"
	"github.com/example/padel-scheduler/internal/slot"
	"github.com/example/padel-scheduler/internal/store"
)

func newBookingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "booking",
		Short: "Manage bookings without the API",
	}
	cmd.AddCommand(newBookingCreateCmd())
	cmd.AddCommand(newBookingListCmd())
	cmd.AddCommand(newBookingImportCmd())
	return cmd
}

func newBookingCreateCmd() *cobra.Command {
	var (
		date       string
		primary    string
		fallback   string
		mirrorOnly bool
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Create a booking; the server arms its timer on next start",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			targetDate, err := time.ParseInLocation("2006-01-02", date, loc)
			if err != nil {
				return fmt.Errorf("--date: %w", err)
			}
			if _, err := slot.ParseClockTime(primary); err != nil {
				return fmt.Errorf("--primary: %w", err)
			}
			var fb *string
			if fallback != "" {
				if _, err := slot.ParseClockTime(fallback); err != nil {
					return fmt.Errorf("--fallback: %w", err)
				}
				fb = &fallback
			}
			executeAt := scheduler.ComputeExecuteAt(targetDate, cfg.LeadDays, cfg.PreUnlockOffset, loc)

			ctx := context.Background()
			mir, err := mirror.New(cfg.RedisURL)
			if err != nil {
				return err
			}
			defer mir.Close()

			if mirrorOnly {
				// Seeds the mirror alone; recovery hydrates the record on
				// the next server start.
				id, err := mir.NextID(ctx)
				if err != nil {
					return err
				}
				now := time.Now().UTC()
				b := booking.Booking{
					ID:             id,
					TargetDate:     targetDate,
					OptionPrimary:  primary,
					OptionFallback: fb,
					Status:         booking.StatusPending,
					ExecuteAt:      executeAt,
					CreatedAt:      now,
					UpdatedAt:      now,
				}
				if err := mir.Save(ctx, mirror.FromBooking(b)); err != nil {
					return err
				}
				fmt.Printf("mirrored booking id=%d for %s, executes %s\n",
					id, b.DateString(), executeAt.In(loc).Format(time.RFC3339))
				return nil
			}

			log, err := logger.New(false)
			if err != nil {
				return err
			}
			defer log.Sync()
			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()
			if err := migrate.Up(ctx, d); err != nil {
				return err
			}

			st := store.New(booking.NewRepo(d), mir, log, loc)
			b, err := st.Create(ctx, targetDate, primary, fb, executeAt)
			if err != nil {
				return err
			}
			fmt.Printf("created booking id=%d for %s, executes %s\n",
				b.ID, b.DateString(), executeAt.In(loc).Format(time.RFC3339))
			return nil
		},
	}

	c.Flags().StringVar(&date, "date", "", "target date (YYYY-MM-DD)")
	c.Flags().StringVar(&primary, "primary", "", "primary time, e.g. 7pm or 7:30pm")
	c.Flags().StringVar(&fallback, "fallback", "", "fallback time")
	c.Flags().BoolVar(&mirrorOnly, "mirror-only", false, "write only the durable mirror")
	_ = c.MarkFlagRequired("date")
	_ = c.MarkFlagRequired("primary")
	return c
}

func newBookingListCmd() *cobra.Command {
	var status string

	c := &cobra.Command{
		Use:   "list",
		Short: "List bookings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			ctx := context.Background()
			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			repo := booking.NewRepo(d)
			items, err := repo.List(ctx, booking.Status(status), 100)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDATE\tPRIMARY\tFALLBACK\tSTATUS\tEXECUTE AT")
			for _, b := range items {
				fb := "-"
				if b.OptionFallback != nil {
					fb = *b.OptionFallback
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
					b.ID, b.DateString(), b.OptionPrimary, fb, b.Status,
					b.ExecuteAt.In(loc).Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	c.Flags().StringVar(&status, "status", "", "filter by status")
	return c
}

func newBookingImportCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "import [file.csv]",
		Short: "Create bookings from a CSV file (Date,Time1,Time2,Status)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			rows, sum, err := intake.ParseCSV(f)
			if err != nil {
				return err
			}

			log, err := logger.New(false)
			if err != nil {
				return err
			}
			defer log.Sync()
			ctx := context.Background()
			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()
			if err := migrate.Up(ctx, d); err != nil {
				return err
			}
			mir, err := mirror.New(cfg.RedisURL)
			if err != nil {
				return err
			}
			defer mir.Close()

			st := store.New(booking.NewRepo(d), mir, log, loc)
			created := 0
			for _, row := range rows {
				var fb *string
				if row.Fallback != "" {
					fallback := row.Fallback
					fb = &fallback
				}
				executeAt := scheduler.ComputeExecuteAt(row.TargetDate, cfg.LeadDays, cfg.PreUnlockOffset, loc)
				if _, err := st.Create(ctx, row.TargetDate, row.Primary, fb, executeAt); err != nil {
					sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %v", row.TargetDate.Format("2006-01-02"), err))
					continue
				}
				created++
			}
			fmt.Printf("imported %d of %d rows (%d skipped)\n", created, sum.Total, sum.Skipped)
			for _, e := range sum.Errors {
				fmt.Fprintf(os.Stderr, "  error: %s\n", e)
			}
			return nil
		},
	}
	return c
}
