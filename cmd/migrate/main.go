// Command migrate applies or inspects the PostgreSQL schema outside the server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/adapter/postgres"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/platform/logging"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const commandTimeout = 2 * time.Minute

type options struct {
	databaseURL string
	logLevel    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	_ = godotenv.Load()
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the taskstream PostgreSQL schema",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			logging.InitLogger(opts.logLevel, "text")
			if opts.databaseURL == "" {
				return errors.New("database URL required (--database-url or DATABASE_URL)")
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newUpCmd(opts),
		newToCmd(opts),
		newStatusCmd(opts),
	)
	return rootCmd
}

func newUpCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPool(cmd.Context(), opts, func(ctx context.Context, pool *pgxpool.Pool) error {
				if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
					return err
				}
				return printStatus(ctx, cmd, pool)
			})
		},
	}
}

func newToCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "to <version>",
		Short: "Migrate up or down to a specific schema version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := strconv.ParseInt(args[0], 10, 32)
			if err != nil || target < 0 {
				return fmt.Errorf("invalid version %q", args[0])
			}
			return withPool(cmd.Context(), opts, func(ctx context.Context, pool *pgxpool.Pool) error {
				if err := postgres.MigrateTo(ctx, pool, int32(target)); err != nil {
					return err
				}
				return printStatus(ctx, cmd, pool)
			})
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current and latest schema versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPool(cmd.Context(), opts, func(ctx context.Context, pool *pgxpool.Pool) error {
				return printStatus(ctx, cmd, pool)
			})
		},
	}
}

func withPool(parent context.Context, opts *options, fn func(context.Context, *pgxpool.Pool) error) error {
	ctx, cancel := context.WithTimeout(parent, commandTimeout)
	defer cancel()

	pool, err := postgres.Connect(ctx, opts.databaseURL, nil)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, pool)
}

func printStatus(ctx context.Context, cmd *cobra.Command, pool *pgxpool.Pool) error {
	current, latest, err := postgres.MigrationStatus(ctx, pool)
	if err != nil {
		return err
	}
	slog.Debug("Migration status loaded", "current", current, "latest", latest)

	state := "up to date"
	if current < latest {
		state = fmt.Sprintf("%d pending", latest-current)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d of %d (%s)\n", current, latest, state)
	return err
}
