package airdrop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smallbiznis-airdrop/pkg/repository"
	"smallbiznis-airdrop/services/platform"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type DecisionKind string

const (
	CreateProfile          DecisionKind = "CREATE_PROFILE"
	AwaitingUserLink       DecisionKind = "AWAITING_USER_LINK"
	AlreadyCredited        DecisionKind = "ALREADY_CREDITED"
	CreateTrackerAndReward DecisionKind = "CREATE_TRACKER_AND_REWARD"
	// Skipped is only produced by the push listener for notifications it filters out.
	Skipped DecisionKind = "SKIPPED"
)

var errInvalidParticipant = errors.New("participant has neither username nor external id")

type Input struct {
	Participant platform.Participant
	Context     *CampaignContext
}

// Decision is what the writer has to persist for one participant. Rows are
// staged with their ids so the decision fully describes the write.
type Decision struct {
	Kind        DecisionKind
	Context     *CampaignContext
	Participant platform.Participant
	Profile     *SocialProfile
	Tracker     *Tracker
	Reward      *RewardEntry
}

// Engine classifies a participant against what is already stored. It never writes.
type Engine struct {
	profiles repository.Repository[SocialProfile]
	trackers repository.Repository[Tracker]
	node     *snowflake.Node
	now      func() time.Time
}

func NewEngine(db *gorm.DB, node *snowflake.Node) *Engine {
	return &Engine{
		profiles: repository.ProvideStore[SocialProfile](db),
		trackers: repository.ProvideStore[Tracker](db),
		node:     node,
		now:      time.Now,
	}
}

func (e *Engine) Decide(ctx context.Context, in Input) (*Decision, error) {
	cc := in.Context
	rec := in.Participant
	if rec.Username == "" && rec.ExternalID == "" {
		return nil, errInvalidParticipant
	}
	if cc.Action.RequiresEvent() && cc.Event == nil {
		return nil, ErrNoActiveEvent
	}

	d := &Decision{Context: cc, Participant: rec}

	profile, err := e.findProfile(ctx, cc.Platform, rec)
	if err != nil {
		return nil, err
	}

	if profile == nil {
		d.Kind = CreateProfile
		d.Profile = e.newProfile(cc.Platform, rec)
		return d, nil
	}

	refresh(profile, rec, e.now())
	d.Profile = profile

	if !profile.Linked() {
		d.Kind = AwaitingUserLink
		return d, nil
	}

	existing, err := e.trackers.FindOne(ctx, &Tracker{
		ScopeKey:        cc.ScopeKey(),
		SocialProfileID: profile.ID,
		ActionType:      cc.Action,
	})
	if err != nil {
		return nil, fmt.Errorf("find tracker: %w", err)
	}
	if existing != nil {
		d.Kind = AlreadyCredited
		d.Tracker = existing
		return d, nil
	}

	d.Kind = CreateTrackerAndReward
	d.Tracker = &Tracker{
		ID:              e.node.Generate().String(),
		ScheduleID:      cc.Schedule.ID,
		EventID:         cc.EventID(),
		ScopeKey:        cc.ScopeKey(),
		SocialProfileID: profile.ID,
		ActionType:      cc.Action,
	}
	d.Reward = &RewardEntry{
		ID:              e.node.Generate().String(),
		TrackerID:       d.Tracker.ID,
		RewardRuleID:    cc.Rule.ID,
		SocialProfileID: profile.ID,
		Amount:          cc.Rule.Amount,
		Unit:            cc.Rule.Unit,
	}
	return d, nil
}

// findProfile looks up by username first, then by external id so a renamed
// account is still recognised.
func (e *Engine) findProfile(ctx context.Context, p platform.Platform, rec platform.Participant) (*SocialProfile, error) {
	if rec.Username != "" {
		profile, err := e.profiles.FindOne(ctx, &SocialProfile{Platform: p, Username: rec.Username})
		if err != nil {
			return nil, fmt.Errorf("find profile by username: %w", err)
		}
		if profile != nil {
			return profile, nil
		}
	}

	if rec.ExternalID != "" {
		externalID := rec.ExternalID
		profile, err := e.profiles.FindOne(ctx, &SocialProfile{Platform: p, ExternalID: &externalID})
		if err != nil {
			return nil, fmt.Errorf("find profile by external id: %w", err)
		}
		return profile, nil
	}
	return nil, nil
}

func (e *Engine) newProfile(p platform.Platform, rec platform.Participant) *SocialProfile {
	profile := &SocialProfile{
		ID:       e.node.Generate().String(),
		Platform: p,
		Username: rec.Username,
	}
	if profile.Username == "" {
		profile.Username = rec.ExternalID
	}
	refresh(profile, rec, e.now())
	return profile
}

// refresh copies the denormalized fields of a sighting. Empty values do not
// clear what an earlier, richer sighting stored.
func refresh(profile *SocialProfile, rec platform.Participant, seenAt time.Time) {
	if rec.Username != "" {
		profile.Username = rec.Username
	}
	if rec.ExternalID != "" {
		id := rec.ExternalID
		profile.ExternalID = &id
	}
	if rec.DisplayName != "" {
		profile.DisplayName = rec.DisplayName
	}
	if rec.ProfileURL != "" {
		profile.ProfileURL = rec.ProfileURL
	}
	if rec.Location != "" {
		profile.Location = rec.Location
	}
	if rec.Website != "" {
		profile.Website = rec.Website
	}
	profile.LastSeenAt = seenAt
}
