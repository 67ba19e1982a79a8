package airdrop

import (
	"context"
	"fmt"
	"time"

	"smallbiznis-airdrop/pkg/db/option"
	"smallbiznis-airdrop/pkg/repository"
	"smallbiznis-airdrop/services/platform"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CampaignContext is what a participant is reconciled against.
type CampaignContext struct {
	Platform platform.Platform
	Action   platform.ActionType
	Schedule *Schedule
	// Event is nil for follow actions outside a join event.
	Event *Event
	Rule  *RewardRule
}

// ScopeKey is the campaign target a tracker is unique within. Follows are
// credited once per schedule even when a join event is attached; reactions
// once per event.
func (c *CampaignContext) ScopeKey() string {
	if c.Action.RequiresEvent() && c.Event != nil {
		return c.Event.ID
	}
	return "schedule/" + c.Schedule.ID
}

func (c *CampaignContext) EventID() *string {
	if c.Event == nil {
		return nil
	}
	id := c.Event.ID
	return &id
}

type Resolver struct {
	schedules repository.Repository[Schedule]
	events    repository.Repository[Event]
	rules     repository.Repository[RewardRule]
	cache     *RuleCache
	now       func() time.Time
}

func NewResolver(db *gorm.DB, cache *RuleCache) *Resolver {
	return &Resolver{
		schedules: repository.ProvideStore[Schedule](db),
		events:    repository.ProvideStore[Event](db),
		rules:     repository.ProvideStore[RewardRule](db),
		cache:     cache,
		now:       time.Now,
	}
}

// Resolve loads the running schedule, the active event and the reward rule for
// one platform and action.
func (r *Resolver) Resolve(ctx context.Context, p platform.Platform, action platform.ActionType) (*CampaignContext, error) {
	schedule, err := r.activeSchedule(ctx, p)
	if err != nil {
		return nil, err
	}

	cc := &CampaignContext{Platform: p, Action: action, Schedule: schedule}

	event, err := r.events.FindOne(ctx, &Event{
		Platform:   p,
		ScheduleID: schedule.ID,
		IsActive:   true,
	}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "published_at",
		OrderBy: "desc",
		Allow:   map[string]bool{"published_at": true},
	}))
	if err != nil {
		return nil, fmt.Errorf("load active event: %w", err)
	}

	switch {
	case action.RequiresEvent():
		if event == nil {
			return nil, ErrNoActiveEvent
		}
		cc.Event = event
	case event != nil:
		if join := schedule.Hashtags.Data().Join; join != "" && event.HasTag(join) {
			cc.Event = event
		}
	}

	rule, err := r.cache.Load(ctx, p, action, func(ctx context.Context) (*RewardRule, error) {
		return r.rules.FindOne(ctx, &RewardRule{Platform: p, ActionType: action})
	})
	if err != nil {
		return nil, fmt.Errorf("load reward rule: %w", err)
	}
	if rule == nil {
		zap.L().Error("[airdrop] reward rule missing", zap.String("platform", string(p)), zap.String("action", string(action)))
		return nil, fmt.Errorf("%w: %s %s", ErrRuleMissing, p, action)
	}
	cc.Rule = rule

	return cc, nil
}

func (r *Resolver) activeSchedule(ctx context.Context, p platform.Platform) (*Schedule, error) {
	schedules, err := r.schedules.Find(ctx, &Schedule{Platform: p, IsActive: true},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "start_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"start_at": true},
		}))
	if err != nil {
		return nil, fmt.Errorf("load active schedule: %w", err)
	}

	now := r.now()
	for _, s := range schedules {
		if s.Running(now) {
			return s, nil
		}
	}
	return nil, ErrNoActiveSchedule
}
