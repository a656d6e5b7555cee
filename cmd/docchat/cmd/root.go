// Package cmd provides the docchat command line.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"docchat/internal/bootstrap"
)

var configPath string

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docchat",
		Short: "Ask questions about your own documents",
		Long: `docchat indexes PDFs and other documents into a vector store and answers
questions about them with a local or hosted language model.

Run 'docchat serve' for the browser UI or 'docchat tui' in a terminal.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default $CONFIG_FILE or configs/config.toml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newDocsCmd())
	cmd.AddCommand(newTUICmd())
	return cmd
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// withApp wires the application for one command and closes it afterwards.
func withApp(ctx context.Context, run func(app *bootstrap.App) error) error {
	app, err := bootstrap.New(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			app.Logger.Warn().Err(err).Msg("close resources failed")
		}
	}()
	return run(app)
}
