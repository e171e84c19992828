package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/client"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/platform/logging"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/platform/version"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
)

type options struct {
	server      string
	logLevel    string
	logFormat   string
	once        bool
	maxAttempts int
	maxBackoff  time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:          "taskstream-watch <stream-id>",
		Short:        "Watch a taskstream board live from the terminal",
		Version:      version.Get().Version,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Logs go to stderr so the board on stdout stays readable.
			slog.SetDefault(logging.New(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat))
			return run(cmd.Context(), cmd, opts, args[0])
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&opts.server, "server", "s", "http://localhost:8080", "taskstream server URL")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "text", "log format (text, json)")
	flags.BoolVar(&opts.once, "once", false, "print the current board and exit")
	flags.IntVar(&opts.maxAttempts, "max-attempts", 10, "consecutive failed connection attempts before giving up")
	flags.DurationVar(&opts.maxBackoff, "max-backoff", 30*time.Second, "upper bound for the reconnect backoff")

	return rootCmd
}

func run(ctx context.Context, cmd *cobra.Command, opts *options, streamID string) error {
	c, err := client.New(opts.server)
	if err != nil {
		return err
	}

	w := newWatcher(c, streamID, cmd.OutOrStdout(), clockwork.NewRealClock())

	if opts.once {
		return w.printOnce(ctx)
	}

	err = w.follow(ctx, opts.maxAttempts, opts.maxBackoff)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("watch %s: %w", streamID, err)
	}
	return nil
}
