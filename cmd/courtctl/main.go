package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"litigation-backend/internal/bootstrap"
	"litigation-backend/internal/shared/config"
	"litigation-backend/internal/shared/telemetry"
)

var Version = "dev"

type opener func(ctx context.Context) (*bootstrap.App, error)

func main() {
	cfg := config.Load()
	telemetry.Setup(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	open := func(ctx context.Context) (*bootstrap.App, error) {
		return bootstrap.Build(ctx, cfg, bootstrap.Options{Worker: true, NoQueue: true})
	}

	if err := newRootCmd(open, os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(open opener, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "courtctl",
		Short:         "Operate quotes, document retrieval and site tokens from the shell",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	root.AddCommand(tokenCmd(open))
	root.AddCommand(quoteCmd(open))
	root.AddCommand(docsCmd(open))
	return root
}

// withApp builds the application for one command and closes it afterwards.
func withApp(cmd *cobra.Command, open opener, fn func(ctx context.Context, app *bootstrap.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := open(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()
	return fn(ctx, app)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
