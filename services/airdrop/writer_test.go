package airdrop

import (
	"context"
	"testing"

	"smallbiznis-airdrop/services/platform"

	"github.com/stretchr/testify/require"
)

func decide(t *testing.T, f *fixture, cc *CampaignContext, rec platform.Participant) *Decision {
	t.Helper()
	d, err := f.engine.Decide(context.Background(), Input{Participant: rec, Context: cc})
	require.NoError(t, err)
	return d
}

func TestCommit_CreateProfile(t *testing.T) {
	f := newFixture(t)
	cc := followContext(t, f)

	d := decide(t, f, cc, platform.Participant{Username: "alice", ExternalID: "1", DisplayName: "Alice"})
	res, err := f.writer.Commit(context.Background(), d)
	require.NoError(t, err)
	require.Equal(t, CreateProfile, res.Kind)
	require.Equal(t, d.Profile.ID, res.ProfileID)

	var sp SocialProfile
	require.NoError(t, f.db.First(&sp, "id = ?", res.ProfileID).Error)
	require.Equal(t, "Alice", sp.DisplayName)
	require.False(t, sp.Linked())
	require.Zero(t, f.count(t, &Tracker{}))
}

func TestCommit_ConcurrentProfileInsertBecomesAwaitingLink(t *testing.T) {
	f := newFixture(t)
	cc := followContext(t, f)

	d := decide(t, f, cc, platform.Participant{Username: "alice", ExternalID: "1"})
	// The push path inserts the same identity between decide and commit.
	f.profile(t, platform.Twitter, "alice", "1", "")

	res, err := f.writer.Commit(context.Background(), d)
	require.NoError(t, err)
	require.Equal(t, AwaitingUserLink, res.Kind)
	require.EqualValues(t, 1, f.count(t, &SocialProfile{}))
}

func TestCommit_AwaitingLinkRefreshesProfile(t *testing.T) {
	f := newFixture(t)
	cc := followContext(t, f)
	sp := f.profile(t, platform.Twitter, "alice", "1", "")

	d := decide(t, f, cc, platform.Participant{Username: "alice", ExternalID: "1", DisplayName: "Alice B", Website: "https://alice.dev"})
	res, err := f.writer.Commit(context.Background(), d)
	require.NoError(t, err)
	require.Equal(t, AwaitingUserLink, res.Kind)

	var got SocialProfile
	require.NoError(t, f.db.First(&got, "id = ?", sp.ID).Error)
	require.Equal(t, "Alice B", got.DisplayName)
	require.Equal(t, "https://alice.dev", got.Website)
	require.Zero(t, f.count(t, &Tracker{}))
	require.Zero(t, f.count(t, &RewardEntry{}))
}

func TestCommit_CreditWritesTrackerAndReward(t *testing.T) {
	f := newFixture(t)
	cc := followContext(t, f)
	sp := f.profile(t, platform.Twitter, "alice", "1", "user-1")

	d := decide(t, f, cc, platform.Participant{Username: "alice", ExternalID: "1", DisplayName: "Alice"})
	res, err := f.writer.Commit(context.Background(), d)
	require.NoError(t, err)
	require.Equal(t, CreateTrackerAndReward, res.Kind)
	require.Equal(t, d.Tracker.ID, res.TrackerID)

	var entry RewardEntry
	require.NoError(t, f.db.First(&entry, "tracker_id = ?", res.TrackerID).Error)
	require.Equal(t, sp.ID, entry.SocialProfileID)
	require.EqualValues(t, 10, entry.Amount)
	require.Nil(t, entry.SettlementRef)

	var got SocialProfile
	require.NoError(t, f.db.First(&got, "id = ?", sp.ID).Error)
	require.Equal(t, "Alice", got.DisplayName)
}

func TestCommit_LostRaceIsAlreadyCredited(t *testing.T) {
	f := newFixture(t)
	cc := followContext(t, f)
	f.profile(t, platform.Twitter, "alice", "1", "user-1")

	first := decide(t, f, cc, platform.Participant{Username: "alice", ExternalID: "1"})
	second := decide(t, f, cc, platform.Participant{Username: "alice", ExternalID: "1"})
	require.Equal(t, CreateTrackerAndReward, second.Kind)

	_, err := f.writer.Commit(context.Background(), first)
	require.NoError(t, err)

	res, err := f.writer.Commit(context.Background(), second)
	require.NoError(t, err)
	require.Equal(t, AlreadyCredited, res.Kind)
	require.Equal(t, first.Tracker.ID, res.TrackerID)

	require.EqualValues(t, 1, f.count(t, &Tracker{}))
	require.EqualValues(t, 1, f.count(t, &RewardEntry{}))
}

func TestCommit_FailedRewardRollsBackTracker(t *testing.T) {
	f := newFixture(t)
	cc := followContext(t, f)
	f.profile(t, platform.Twitter, "alice", "1", "user-1")

	d := decide(t, f, cc, platform.Participant{Username: "alice", ExternalID: "1"})
	// Occupy the staged reward id so the reward insert fails after the tracker insert.
	require.NoError(t, f.db.Create(&RewardEntry{
		ID:              d.Reward.ID,
		TrackerID:       "other",
		RewardRuleID:    cc.Rule.ID,
		SocialProfileID: "other",
		Amount:          1,
		Unit:            "TOKEN",
	}).Error)

	_, err := f.writer.Commit(context.Background(), d)
	var lwe *LedgerWriteError
	require.ErrorAs(t, err, &lwe)
	require.Equal(t, "alice", lwe.Username)
	require.Equal(t, d.Profile.ID, lwe.ProfileID)
	require.Equal(t, cc.ScopeKey(), lwe.ScopeKey)

	require.Zero(t, f.count(t, &Tracker{}))
	require.EqualValues(t, 1, f.count(t, &RewardEntry{}))
}

func TestCommit_AlreadyCreditedWritesNothing(t *testing.T) {
	f := newFixture(t)
	cc := followContext(t, f)
	f.profile(t, platform.Twitter, "alice", "1", "user-1")

	_, err := f.writer.Commit(context.Background(), decide(t, f, cc, platform.Participant{Username: "alice", ExternalID: "1"}))
	require.NoError(t, err)

	d := decide(t, f, cc, platform.Participant{Username: "alice", ExternalID: "1"})
	require.Equal(t, AlreadyCredited, d.Kind)
	res, err := f.writer.Commit(context.Background(), d)
	require.NoError(t, err)
	require.Equal(t, AlreadyCredited, res.Kind)
	require.EqualValues(t, 1, f.count(t, &RewardEntry{}))
}
