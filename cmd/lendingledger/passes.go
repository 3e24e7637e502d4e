package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/lending-ledger-go/internal/config"
	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/sweep"
)

const flagDay = "day"

// ErrMigrateNeedsPostgres is returned by migrate when the memory store is configured.
var ErrMigrateNeedsPostgres = errors.New("migrate needs the postgres store")

// pass is one sweeper run over a day.
type pass func(s *sweep.Sweeper, ctx context.Context, today time.Time) (int, error)

func newSweepCommand(cfg *config.Config, resolve func(*cobra.Command) error) *cobra.Command {
	return newPassCommand(cfg, resolve, "sweep", "Mark loans due before the day as overdue and update their fines", "transitioned",
		(*sweep.Sweeper).RunOverdueSweep)
}

func newRemindCommand(cfg *config.Config, resolve func(*cobra.Command) error) *cobra.Command {
	return newPassCommand(cfg, resolve, "remind", "Send reminders for loans due in the next two days", "reminded",
		(*sweep.Sweeper).SendDueReminders)
}

func newPassCommand(
	cfg *config.Config,
	resolve func(*cobra.Command) error,
	use, short, counted string,
	run pass,
) *cobra.Command {
	var day string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := resolve(cmd); err != nil {
				return err
			}

			today, err := parseDay(day, cfg.Clock())
			if err != nil {
				return err
			}

			return runPass(cmd, cfg, today, counted, run)
		},
	}

	cmd.Flags().StringVar(&day, flagDay, "", "day to run for as YYYY-MM-DD (default today)")

	return cmd
}

func runPass(cmd *cobra.Command, cfg *config.Config, today time.Time, counted string, run pass) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	a.startQueues(context.WithoutCancel(ctx))

	e, err := a.newEngine()
	if err != nil {
		return err
	}

	sweeper, err := a.newSweeper(e)
	if err != nil {
		return err
	}

	count, err := run(sweeper, ctx, today)
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d\n", today.Format(time.DateOnly), counted, count)

	return err
}

func parseDay(value string, clock func() time.Time) (time.Time, error) {
	if value == "" {
		return ledger.Day(clock()), nil
	}

	day, err := ledger.ParseDay(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q: %w", flagDay, value, err)
	}

	return day, nil
}

func newMigrateCommand(cfg *config.Config, resolve func(*cobra.Command) error) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres tables and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := resolve(cmd); err != nil {
				return err
			}

			if cfg.Store != config.StorePostgres {
				return ErrMigrateNeedsPostgres
			}

			ctx := cmd.Context()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if err := a.postgresStore.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")

			return nil
		},
	}
}
