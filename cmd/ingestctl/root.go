package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"resume-ingest/internal/bootstrap"
	"resume-ingest/internal/shared/config"
	"resume-ingest/internal/shared/telemetry"
)

type rootOptions struct {
	sqlitePath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "ingestctl",
		Short:        "Resume ingestion pipeline CLI",
		Long:         "ingestctl resolves user checkpoints and runs resume batches locally against the configured adapters.",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if !opts.verbose {
				telemetry.SetOutput(io.Discard)
			}
		},
	}
	cmd.PersistentFlags().StringVar(&opts.sqlitePath, "sqlite", "", "SQLite database path (overrides SQLITE_PATH)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "print structured logs to stderr")

	cmd.AddCommand(newResolveCmd(opts), newRunCmd(opts))
	return cmd
}

func (o *rootOptions) build(ctx context.Context) (*bootstrap.App, error) {
	cfg := config.Load()
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	return bootstrap.Build(ctx, cfg, bootstrap.RoleCLI)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
