package main

import (
	"context"
	"fmt"

	"smallbiznis-airdrop/pkg/config"
	"smallbiznis-airdrop/pkg/redis"
	"smallbiznis-airdrop/pkg/task"
	"smallbiznis-airdrop/services/airdrop"
	"smallbiznis-airdrop/services/platform"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func newPollCommand(root *rootOptions) *cobra.Command {
	var trigger string

	cmd := &cobra.Command{
		Use:   "poll <platform>",
		Short: "Enqueue a poll run for one platform",
		Long: `Enqueue a poll run for one platform on the airdrop queue.

A run already in flight for the platform drops the new trigger.

Example:
  airdropctl poll twitter
  airdropctl poll discord --trigger backfill`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := platform.Parse(args[0])
			if err != nil {
				return err
			}
			return enqueuePoll(cmd, root, p, trigger)
		},
	}
	cmd.Flags().StringVar(&trigger, "trigger", "manual", "trigger recorded on the run")
	return cmd
}

func enqueuePoll(cmd *cobra.Command, root *rootOptions, p platform.Platform, trigger string) error {
	var (
		cfg      *config.Config
		enqueuer task.Enqueuer
	)
	modules := []fx.Option{redis.Module, task.Client}

	return execute(cmd.Context(), root, modules, []any{&cfg, &enqueuer}, func(ctx context.Context) error {
		pc, ok := cfg.Airdrop.Platforms()[string(p)]
		if !ok || !pc.Enable {
			return fmt.Errorf("platform %s is not enabled", p)
		}

		t, err := airdrop.NewPollTask(p, trigger)
		if err != nil {
			return err
		}
		info, err := enqueuer.Enqueue(ctx, t, airdrop.PollTaskOptions(cfg.Airdrop.Queue, pc)...)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s poll as %s on %s\n", p, info.ID, info.Queue)
		return nil
	})
}
