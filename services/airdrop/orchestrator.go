package airdrop

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"smallbiznis-airdrop/pkg/config"
	"smallbiznis-airdrop/pkg/db"
	"smallbiznis-airdrop/pkg/repository"
	"smallbiznis-airdrop/pkg/retry"
	"smallbiznis-airdrop/services/platform"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Gate turns polling of a platform on or off at runtime.
type Gate interface {
	Enabled(ctx context.Context, p platform.Platform) bool
}

type RunReport struct {
	RunID     string               `json:"run_id"`
	Platform  platform.Platform    `json:"platform"`
	Trigger   string               `json:"trigger"`
	Status    RunStatus            `json:"status"`
	Pages     int                  `json:"pages"`
	Seen      int                  `json:"seen"`
	Decisions map[DecisionKind]int `json:"decisions"`
	Failed    int                  `json:"failed"`
	StartedAt time.Time            `json:"started_at"`
	Took      time.Duration        `json:"took"`
	Err       error                `json:"-"`
}

// Orchestrator runs the poll pipeline of one platform. At most one run is in
// flight per instance; a trigger arriving meanwhile is dropped.
type Orchestrator struct {
	platform    platform.Platform
	client      platform.Client
	cfg         config.Platform
	policy      *retry.Policy
	maxFailures int

	resolver *Resolver
	engine   *Engine
	writer   *Writer
	runs     repository.Repository[Run]
	node     *snowflake.Node
	gate     Gate
	metrics  *Metrics

	pagerOpts []platform.PagerOption
	running   atomic.Bool
}

type OrchestratorParams struct {
	Platform    platform.Platform
	Client      platform.Client
	Config      config.Platform
	Policy      *retry.Policy
	MaxFailures int
	Resolver    *Resolver
	Engine      *Engine
	Writer      *Writer
	Runs        repository.Repository[Run]
	Node        *snowflake.Node
	Gate        Gate
	Metrics     *Metrics
	PagerOpts   []platform.PagerOption
}

func NewOrchestrator(p OrchestratorParams) *Orchestrator {
	if p.Metrics == nil {
		p.Metrics = NewMetrics(nil)
	}
	return &Orchestrator{
		platform:    p.Platform,
		client:      p.Client,
		cfg:         p.Config,
		policy:      p.Policy,
		maxFailures: p.MaxFailures,
		resolver:    p.Resolver,
		engine:      p.Engine,
		writer:      p.Writer,
		runs:        p.Runs,
		node:        p.Node,
		gate:        p.Gate,
		metrics:     p.Metrics,
		pagerOpts:   p.PagerOpts,
	}
}

func (o *Orchestrator) Platform() platform.Platform { return o.platform }

// Running reports whether a run is in flight.
func (o *Orchestrator) Running() bool { return o.running.Load() }

func (o *Orchestrator) Run(ctx context.Context, trigger string) (*RunReport, error) {
	log := zap.L().With(zap.String("platform", string(o.platform)), zap.String("trigger", trigger))

	if !o.running.CompareAndSwap(false, true) {
		log.Warn("[airdrop] run already in flight, trigger dropped")
		return nil, ErrRunInFlight
	}
	defer o.running.Store(false)

	report := &RunReport{
		RunID:     o.node.Generate().String(),
		Platform:  o.platform,
		Trigger:   trigger,
		Decisions: map[DecisionKind]int{},
		StartedAt: time.Now(),
	}
	log = log.With(zap.String("run_id", report.RunID))

	if o.gate != nil && !o.gate.Enabled(ctx, o.platform) {
		log.Info("[airdrop] platform disabled by feature flag, run skipped")
		report.Status = RunSkipped
		o.metrics.run(o.platform, RunSkipped, 0)
		return report, nil
	}

	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}

	ctx, span := otel.Tracer("airdrop").Start(ctx, "airdrop.poll")
	span.SetAttributes(
		attribute.String("airdrop.platform", string(o.platform)),
		attribute.String("airdrop.run_id", report.RunID),
	)
	defer span.End()

	o.startRecord(ctx, report)
	log.Info("[airdrop] run started")

	err := o.run(ctx, report, log)
	report.Took = time.Since(report.StartedAt)

	switch {
	case err == nil:
		report.Status = RunSuccess
	case IsExpected(err):
		log.Debug("[airdrop] nothing to reconcile", zap.Error(err))
		report.Status = RunSkipped
		err = nil
	default:
		report.Status = RunFailed
		report.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	o.finishRecord(ctx, report)
	o.metrics.run(o.platform, report.Status, report.Took)

	log.Info("[airdrop] run finished",
		zap.String("status", string(report.Status)),
		zap.Int("pages", report.Pages),
		zap.Int("seen", report.Seen),
		zap.Int("credited", report.Decisions[CreateTrackerAndReward]),
		zap.Int("failed", report.Failed),
		zap.Duration("took", report.Took),
		zap.Error(err),
	)
	return report, err
}

func (o *Orchestrator) run(ctx context.Context, report *RunReport, log *zap.Logger) error {
	cc, err := o.resolver.Resolve(ctx, o.platform, platform.Follow)
	if err != nil {
		return err
	}

	account := cc.Schedule.LivelyAccountID
	if account == "" {
		account = o.cfg.GuildID
	}
	if account == "" {
		return fmt.Errorf("schedule %s has no monitored account", cc.Schedule.ID)
	}

	opts := []platform.PagerOption{
		platform.WithPageSize(o.cfg.PageSize),
		platform.WithPageDelay(o.cfg.PageDelay),
		platform.OnPage(func(page, records int) {
			o.metrics.page(o.platform)
		}),
	}
	if o.policy != nil {
		opts = append(opts, platform.WithPolicy(o.policy))
	}
	pager := platform.NewPager(o.client, account, append(opts, o.pagerOpts...)...)
	defer func() {
		report.Pages = pager.Pages()
		report.Seen = pager.Seen()
	}()

	consecutive := 0
	for rec, err := range pager.All(ctx) {
		if err != nil {
			return err
		}

		res, err := o.reconcile(ctx, cc, rec)
		if err != nil {
			if db.IsUnavailable(err) {
				return err
			}
			report.Failed++
			consecutive++
			log.Error("[airdrop] record failed",
				zap.String("username", rec.Username),
				zap.String("external_id", rec.ExternalID),
				zap.Error(err),
			)
			if o.maxFailures > 0 && consecutive >= o.maxFailures {
				return fmt.Errorf("%w: %d in a row, last: %v", ErrTooManyFailures, consecutive, err)
			}
			continue
		}

		consecutive = 0
		report.Decisions[res.Kind]++
		o.metrics.decision(o.platform, res.Kind)
		if res.Kind == CreateTrackerAndReward {
			log.Info("[airdrop] reward credited",
				zap.String("username", rec.Username),
				zap.String("profile_id", res.ProfileID),
				zap.String("tracker_id", res.TrackerID),
			)
		}
	}
	return nil
}

func (o *Orchestrator) reconcile(ctx context.Context, cc *CampaignContext, rec platform.Participant) (*Result, error) {
	d, err := o.engine.Decide(ctx, Input{Participant: rec, Context: cc})
	if err != nil {
		return nil, &RecordError{Stage: "decide", Platform: o.platform, Username: rec.Username, Err: err}
	}
	return o.writer.Commit(ctx, d)
}

// Run records are bookkeeping; a failure to write one never fails the run.
func (o *Orchestrator) startRecord(ctx context.Context, report *RunReport) {
	if o.runs == nil {
		return
	}
	err := o.runs.Create(context.WithoutCancel(ctx), &Run{
		ID:        report.RunID,
		Platform:  o.platform,
		Trigger:   report.Trigger,
		Status:    RunRunning,
		StartedAt: report.StartedAt,
	})
	if err != nil {
		zap.L().Warn("[airdrop] failed to record run start", zap.String("run_id", report.RunID), zap.Error(err))
	}
}

func (o *Orchestrator) finishRecord(ctx context.Context, report *RunReport) {
	if o.runs == nil {
		return
	}
	finished := report.StartedAt.Add(report.Took)
	update := map[string]any{
		"status":           report.Status,
		"pages":            report.Pages,
		"seen":             report.Seen,
		"profiles_created": report.Decisions[CreateProfile],
		"awaiting_link":    report.Decisions[AwaitingUserLink],
		"already_credited": report.Decisions[AlreadyCredited],
		"credited":         report.Decisions[CreateTrackerAndReward],
		"failed":           report.Failed,
		"finished_at":      &finished,
	}
	if report.Err != nil {
		update["error_msg"] = report.Err.Error()
	}
	if err := o.runs.Update(context.WithoutCancel(ctx), report.RunID, update); err != nil {
		zap.L().Warn("[airdrop] failed to record run result", zap.String("run_id", report.RunID), zap.Error(err))
	}
}

// Orchestrators holds one orchestrator per polled platform.
type Orchestrators struct {
	items map[platform.Platform]*Orchestrator
	order []platform.Platform
}

func NewOrchestrators(items ...*Orchestrator) *Orchestrators {
	o := &Orchestrators{items: map[platform.Platform]*Orchestrator{}}
	for _, it := range items {
		o.items[it.platform] = it
		o.order = append(o.order, it.platform)
	}
	return o
}

func (o *Orchestrators) Get(p platform.Platform) (*Orchestrator, bool) {
	it, ok := o.items[p]
	return it, ok
}

func (o *Orchestrators) Platforms() []platform.Platform {
	return o.order
}

func (o *Orchestrators) Run(ctx context.Context, p platform.Platform, trigger string) (*RunReport, error) {
	it, ok := o.Get(p)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlatformUnknown, p)
	}
	return it.Run(ctx, trigger)
}

// RunAll runs every platform concurrently. A platform already in flight is
// left alone; the first real failure is returned after all runs end.
func (o *Orchestrators) RunAll(ctx context.Context, trigger string) ([]*RunReport, error) {
	reports := make([]*RunReport, len(o.order))
	var g errgroup.Group
	for i, p := range o.order {
		it := o.items[p]
		g.Go(func() error {
			report, err := it.Run(ctx, trigger)
			reports[i] = report
			if errors.Is(err, ErrRunInFlight) {
				return nil
			}
			return err
		})
	}
	err := g.Wait()

	out := reports[:0]
	for _, r := range reports {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, err
}
