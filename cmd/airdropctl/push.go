package main

import (
	"context"
	"fmt"

	"smallbiznis-airdrop/pkg/config"
	"smallbiznis-airdrop/pkg/redis"
	"smallbiznis-airdrop/pkg/task"
	"smallbiznis-airdrop/services/airdrop"
	"smallbiznis-airdrop/services/platform"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

type pushOptions struct {
	Platform   string
	Action     string
	Username   string
	ExternalID string
	ContentID  string
	Marker     string
}

func newPushCommand(root *rootOptions) *cobra.Command {
	opts := &pushOptions{}

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Replay one engagement notification",
		Long: `Enqueue a single engagement notification, as if a platform had pushed it.

Replays are safe: a participant already credited is left alone.

Example:
  airdropctl push --platform discord --action follow --external-id 80351110224678912
  airdropctl push --platform discord --action like --username alice --content-id 1234 --marker airdrop:9001`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := opts.notification()
			if err != nil {
				return err
			}
			return enqueuePush(cmd, root, n)
		},
	}

	cmd.Flags().StringVar(&opts.Platform, "platform", "", "platform of the participant (required)")
	cmd.Flags().StringVar(&opts.Action, "action", "", "follow or like (required)")
	cmd.Flags().StringVar(&opts.Username, "username", "", "platform username")
	cmd.Flags().StringVar(&opts.ExternalID, "external-id", "", "platform user id")
	cmd.Flags().StringVar(&opts.ContentID, "content-id", "", "content the like targets")
	cmd.Flags().StringVar(&opts.Marker, "marker", "", "reaction marker of a like")
	_ = cmd.MarkFlagRequired("platform")
	_ = cmd.MarkFlagRequired("action")

	return cmd
}

func (o *pushOptions) notification() (airdrop.Notification, error) {
	p, err := platform.Parse(o.Platform)
	if err != nil {
		return airdrop.Notification{}, err
	}
	action, err := platform.ParseAction(o.Action)
	if err != nil {
		return airdrop.Notification{}, err
	}
	if o.Username == "" && o.ExternalID == "" {
		return airdrop.Notification{}, fmt.Errorf("one of --username or --external-id is required")
	}

	return airdrop.Notification{
		Platform:  p,
		Action:    action,
		ContentID: o.ContentID,
		Marker:    o.Marker,
		Participant: platform.Participant{
			Username:   o.Username,
			ExternalID: o.ExternalID,
		},
	}, nil
}

func enqueuePush(cmd *cobra.Command, root *rootOptions, n airdrop.Notification) error {
	var (
		cfg      *config.Config
		enqueuer task.Enqueuer
	)
	modules := []fx.Option{redis.Module, task.Client}

	return execute(cmd.Context(), root, modules, []any{&cfg, &enqueuer}, func(ctx context.Context) error {
		t, err := airdrop.NewPushTask(n)
		if err != nil {
			return err
		}
		info, err := enqueuer.Enqueue(ctx, t, asynq.Queue(cfg.Airdrop.Queue))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s %s notification as %s\n", n.Platform, n.Action, info.ID)
		return nil
	})
}
