package main

import (
	"context"
	"fmt"

	"smallbiznis-airdrop/pkg/db"
	"smallbiznis-airdrop/services/bootstrap"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func newMigrateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the airdrop tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc *bootstrap.Service
			modules := []fx.Option{db.Module, fx.Provide(bootstrap.NewService)}

			return execute(cmd.Context(), root, modules, []any{&svc}, func(ctx context.Context) error {
				if err := svc.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "airdrop tables are up to date")
				return nil
			})
		},
	}
}
