package airdrop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"smallbiznis-airdrop/pkg/config"
	"smallbiznis-airdrop/pkg/taskname"
	"smallbiznis-airdrop/services/platform"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type PollPayload struct {
	Platform platform.Platform `json:"platform"`
	Trigger  string            `json:"trigger"`
}

func NewPollTask(p platform.Platform, trigger string) (*asynq.Task, error) {
	payload, err := json.Marshal(PollPayload{Platform: p, Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.AirdropPoll, payload), nil
}

func NewPushTask(n Notification) (*asynq.Task, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.AirdropPushNotification, payload), nil
}

// PollTaskOptions keeps a poll task alive as long as the run ceiling allows.
// Polls are never retried by the queue; the next cron tick is the retry.
func PollTaskOptions(queue string, cfg config.Platform) []asynq.Option {
	opts := []asynq.Option{asynq.Queue(queue), asynq.MaxRetry(0)}
	if cfg.RunTimeout > 0 {
		opts = append(opts, asynq.Timeout(cfg.RunTimeout+time.Minute))
	}
	return opts
}

type TaskHandler struct {
	orchestrators *Orchestrators
	listener      *Listener
}

func NewTaskHandler(orchestrators *Orchestrators, listener *Listener) *TaskHandler {
	return &TaskHandler{orchestrators: orchestrators, listener: listener}
}

func (h *TaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(taskname.AirdropPoll, h.HandlePoll)
	mux.HandleFunc(taskname.AirdropPushNotification, h.HandlePush)
}

func (h *TaskHandler) HandlePoll(ctx context.Context, t *asynq.Task) error {
	var payload PollPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode poll payload: %w: %w", err, asynq.SkipRetry)
	}
	if payload.Trigger == "" {
		payload.Trigger = "task"
	}

	_, err := h.orchestrators.Run(ctx, payload.Platform, payload.Trigger)
	switch {
	case err == nil, errors.Is(err, ErrRunInFlight):
		return nil
	default:
		return fmt.Errorf("poll %s: %w: %w", payload.Platform, err, asynq.SkipRetry)
	}
}

// HandlePush reconciles one notification. Ledger write failures are returned
// as is so the queue retries them; replays are safe.
func (h *TaskHandler) HandlePush(ctx context.Context, t *asynq.Task) error {
	var n Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		return fmt.Errorf("decode push payload: %w: %w", err, asynq.SkipRetry)
	}

	_, err := h.listener.Handle(ctx, n)
	var lwe *LedgerWriteError
	switch {
	case err == nil:
		return nil
	case IsExpected(err):
		zap.L().Debug("[airdrop] push notification without campaign", zap.String("platform", string(n.Platform)), zap.Error(err))
		return nil
	case errors.As(err, &lwe):
		return err
	default:
		return fmt.Errorf("push %s: %w: %w", n.Platform, err, asynq.SkipRetry)
	}
}

// RegisterSchedules adds one cron entry per polled platform.
func RegisterSchedules(scheduler *asynq.Scheduler, cfg *config.Config, orchestrators *Orchestrators) error {
	platforms := cfg.Airdrop.Platforms()
	for _, p := range orchestrators.Platforms() {
		pc := platforms[string(p)]
		if pc.PollCron == "" {
			continue
		}

		t, err := NewPollTask(p, "cron")
		if err != nil {
			return err
		}
		entryID, err := scheduler.Register(pc.PollCron, t, PollTaskOptions(cfg.Airdrop.Queue, pc)...)
		if err != nil {
			return fmt.Errorf("register %s poll schedule %q: %w", p, pc.PollCron, err)
		}
		zap.L().Info("[airdrop] poll scheduled",
			zap.String("platform", string(p)),
			zap.String("cron", pc.PollCron),
			zap.String("entry_id", entryID))
	}
	return nil
}
