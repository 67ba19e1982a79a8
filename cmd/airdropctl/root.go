package main

import (
	"context"
	"time"

	"smallbiznis-airdrop/pkg/config"
	"smallbiznis-airdrop/pkg/hashistack/secretmanager"
	"smallbiznis-airdrop/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

type rootOptions struct {
	Timeout time.Duration
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "airdropctl",
		Short:         "Operate the airdrop reconciliation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "timeout for the whole command")

	cmd.AddCommand(newPollCommand(opts))
	cmd.AddCommand(newPushCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	return cmd
}

// execute builds a short-lived fx app from modules, starts it, hands the
// populated targets to fn and stops the app again.
func execute(ctx context.Context, opts *rootOptions, modules []fx.Option, targets []any, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	all := append([]fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		fx.NopLogger,
		fx.Populate(targets...),
	}, modules...)

	app := fx.New(all...)
	if err := app.Err(); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = app.Stop(context.Background()) }()

	return fn(ctx)
}
