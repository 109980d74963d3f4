package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/renderscan/internal/collector"
	"github.com/roach88/renderscan/internal/store"
)

// shutdownTimeout bounds how long the collector waits for in-flight
// requests on exit.
const shutdownTimeout = 5 * time.Second

// CollectOptions holds flags for the collect command.
type CollectOptions struct {
	*RootOptions
	Addr     string
	Database string
	APIKeys  []string
	Retain   int
}

// NewCollectCommand creates the collect command.
func NewCollectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CollectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run a collector that archives telemetry batches",
		Long: `Run the reference collector. It accepts batches over HTTP/1.1 or
cleartext HTTP/2 and archives them in a SQLite database that the
report command reads.

Without --api-key any non-empty key is accepted.

Examples:
  renderscan collect --db ./telemetry.db
  renderscan collect --db ./telemetry.db --addr :9000 --api-key demo-key
  renderscan collect --db ./telemetry.db --retain 10000`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCollect(ctx, opts, cmd, nil)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "127.0.0.1:8787", "listen address")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringSliceVar(&opts.APIKeys, "api-key", nil, "accepted API key (repeatable)")
	cmd.Flags().IntVar(&opts.Retain, "retain", 0, "keep only the newest N batches (0 keeps all)")

	return cmd
}

// runCollect serves until ctx is cancelled. A nil listener listens on
// opts.Addr.
func runCollect(ctx context.Context, opts *CollectOptions, cmd *cobra.Command, l net.Listener) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	st, err := store.Open(opts.Database, store.WithRetention(opts.Retain))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if l == nil {
		l, err = net.Listen("tcp", opts.Addr)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to listen", err)
		}
	}

	hopts := []collector.Option{collector.WithLogger(logger)}
	if len(opts.APIKeys) > 0 {
		hopts = append(hopts, collector.WithAPIKeys(opts.APIKeys...))
	}
	srv := collector.NewServer(collector.NewHandler(st, hopts...))

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(l) }()

	fmt.Fprintf(cmd.OutOrStdout(), "collecting on http://%s, archiving to %s\n", l.Addr(), opts.Database)
	logger.Info("collector started", "addr", l.Addr().String(), "db", opts.Database)

	select {
	case err := <-errc:
		if err != nil {
			return WrapExitError(ExitCommandError, "collector failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Error("collector shutdown", "error", err)
	}
	if err := <-errc; err != nil {
		return WrapExitError(ExitCommandError, "collector failed", err)
	}
	logger.Info("collector stopped")
	return nil
}
