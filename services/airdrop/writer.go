package airdrop

import (
	"context"
	"fmt"

	"smallbiznis-airdrop/pkg/db"
	"smallbiznis-airdrop/pkg/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Result struct {
	Kind      DecisionKind `json:"decision"`
	ProfileID string       `json:"profile_id,omitempty"`
	TrackerID string       `json:"tracker_id,omitempty"`
}

// Writer persists decisions. Crediting is one transaction: profile refresh,
// tracker and reward entry commit or roll back together.
type Writer struct {
	db       *gorm.DB
	profiles repository.Repository[SocialProfile]
	trackers repository.Repository[Tracker]
	rewards  repository.Repository[RewardEntry]
}

func NewWriter(gdb *gorm.DB) *Writer {
	return &Writer{
		db:       gdb,
		profiles: repository.ProvideStore[SocialProfile](gdb),
		trackers: repository.ProvideStore[Tracker](gdb),
		rewards:  repository.ProvideStore[RewardEntry](gdb),
	}
}

func (w *Writer) Commit(ctx context.Context, d *Decision) (*Result, error) {
	res := &Result{Kind: d.Kind}
	if d.Profile != nil {
		res.ProfileID = d.Profile.ID
	}

	switch d.Kind {
	case AlreadyCredited:
		if d.Tracker != nil {
			res.TrackerID = d.Tracker.ID
		}
		return res, nil

	case CreateProfile:
		err := w.profiles.Create(ctx, d.Profile)
		if db.IsDuplicate(err) {
			// Another ingestion path inserted the same identity first.
			zap.L().Debug("[airdrop] profile created concurrently",
				zap.String("platform", string(d.Context.Platform)),
				zap.String("username", d.Participant.Username))
			res.Kind = AwaitingUserLink
			res.ProfileID = ""
			return res, nil
		}
		if err != nil {
			return nil, w.writeError(d, err)
		}
		return res, nil

	case AwaitingUserLink:
		if err := w.profiles.Update(ctx, d.Profile.ID, refreshedColumns(d.Profile)); err != nil {
			return nil, w.writeError(d, err)
		}
		return res, nil

	case CreateTrackerAndReward:
		err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := w.profiles.WithTrx(tx).Update(ctx, d.Profile.ID, refreshedColumns(d.Profile)); err != nil {
				return fmt.Errorf("refresh profile: %w", err)
			}
			if err := w.trackers.WithTrx(tx).Create(ctx, d.Tracker); err != nil {
				return fmt.Errorf("insert tracker: %w", err)
			}
			if err := w.rewards.WithTrx(tx).Create(ctx, d.Reward); err != nil {
				return fmt.Errorf("insert reward entry: %w", err)
			}
			return nil
		})
		if err == nil {
			res.TrackerID = d.Tracker.ID
			return res, nil
		}

		if db.IsDuplicate(err) {
			// The pre-check lost a race; the unique index decides.
			existing, ferr := w.trackers.FindOne(ctx, &Tracker{
				ScopeKey:        d.Tracker.ScopeKey,
				SocialProfileID: d.Tracker.SocialProfileID,
				ActionType:      d.Tracker.ActionType,
			})
			if ferr == nil && existing != nil {
				res.Kind = AlreadyCredited
				res.TrackerID = existing.ID
				return res, nil
			}
		}
		return nil, w.writeError(d, err)

	default:
		return nil, fmt.Errorf("unknown decision %q", d.Kind)
	}
}

func (w *Writer) writeError(d *Decision, err error) error {
	lwe := &LedgerWriteError{
		Platform: d.Context.Platform,
		Action:   d.Context.Action,
		Username: d.Participant.Username,
		ScopeKey: d.Context.ScopeKey(),
		Err:      err,
	}
	if d.Profile != nil {
		lwe.ProfileID = d.Profile.ID
	}
	return lwe
}

func refreshedColumns(p *SocialProfile) map[string]any {
	return map[string]any{
		"username":     p.Username,
		"external_id":  p.ExternalID,
		"display_name": p.DisplayName,
		"profile_url":  p.ProfileURL,
		"location":     p.Location,
		"website":      p.Website,
		"last_seen_at": p.LastSeenAt,
	}
}
