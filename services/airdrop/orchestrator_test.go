package airdrop

import (
	"context"
	"errors"
	"testing"
	"time"

	"smallbiznis-airdrop/pkg/repository"
	"smallbiznis-airdrop/services/platform"

	"github.com/stretchr/testify/require"
)

func withRuns(f *fixture) func(*OrchestratorParams) {
	return func(p *OrchestratorParams) {
		p.Runs = repository.ProvideStore[Run](f.db)
	}
}

func TestRun_AliceAndBobEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.schedule(t, platform.Twitter, Hashtags{Primary: "#drop", Join: "#join"})
	f.rule(t, platform.Twitter, platform.Follow, 10, "TOKEN")

	client := newStubClient(platform.Twitter,
		platform.Participant{Username: "alice", ExternalID: "1"},
		platform.Participant{Username: "bob", ExternalID: "2"},
	)
	o := f.orchestrator(client)

	report, err := o.Run(context.Background(), "test")
	require.NoError(t, err)
	require.Equal(t, RunSuccess, report.Status)
	require.Equal(t, 2, report.Decisions[CreateProfile])
	require.EqualValues(t, 2, f.count(t, &SocialProfile{}))
	require.Zero(t, f.count(t, &Tracker{}))
	require.Zero(t, f.count(t, &RewardEntry{}))

	f.link(t, platform.Twitter, "alice", "user-alice")

	report, err = o.Run(context.Background(), "test")
	require.NoError(t, err)
	require.Equal(t, 1, report.Decisions[CreateTrackerAndReward])
	require.Equal(t, 1, report.Decisions[AwaitingUserLink])

	var entries []RewardEntry
	require.NoError(t, f.db.Find(&entries).Error)
	require.Len(t, entries, 1)
	require.EqualValues(t, 10, entries[0].Amount)
	require.Equal(t, "TOKEN", entries[0].Unit)
	require.Nil(t, entries[0].SettlementRef)

	var alice SocialProfile
	require.NoError(t, f.db.First(&alice, "username = ?", "alice").Error)
	require.Equal(t, alice.ID, entries[0].SocialProfileID)
	require.EqualValues(t, 1, f.count(t, &Tracker{}))
}

func TestRun_ReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.schedule(t, platform.Twitter, Hashtags{Primary: "#drop"})
	f.rule(t, platform.Twitter, platform.Follow, 10, "TOKEN")

	records := participants("alice", "bob", "carol")
	for i, r := range records {
		f.profile(t, platform.Twitter, r.Username, r.ExternalID, "user-"+string(rune('a'+i)))
	}
	o := f.orchestrator(newStubClient(platform.Twitter, records...))

	_, err := o.Run(context.Background(), "test")
	require.NoError(t, err)
	report, err := o.Run(context.Background(), "test")
	require.NoError(t, err)
	require.Equal(t, 3, report.Decisions[AlreadyCredited])

	require.EqualValues(t, 3, f.count(t, &Tracker{}))
	require.EqualValues(t, 3, f.count(t, &RewardEntry{}))
}

func TestRun_EveryRewardHasTrackerOfLinkedProfile(t *testing.T) {
	f := newFixture(t)
	f.schedule(t, platform.Twitter, Hashtags{Primary: "#drop"})
	f.rule(t, platform.Twitter, platform.Follow, 10, "TOKEN")

	records := participants("alice", "bob", "carol", "dave")
	f.profile(t, platform.Twitter, "alice", records[0].ExternalID, "user-a")
	f.profile(t, platform.Twitter, "carol", records[2].ExternalID, "user-c")
	o := f.orchestrator(newStubClient(platform.Twitter, records...))

	for range 2 {
		_, err := o.Run(context.Background(), "test")
		require.NoError(t, err)
	}

	var entries []RewardEntry
	require.NoError(t, f.db.Find(&entries).Error)
	require.Len(t, entries, 2)
	for _, e := range entries {
		var trackers []Tracker
		require.NoError(t, f.db.Find(&trackers, "id = ?", e.TrackerID).Error)
		require.Len(t, trackers, 1)

		var sp SocialProfile
		require.NoError(t, f.db.First(&sp, "id = ?", trackers[0].SocialProfileID).Error)
		require.True(t, sp.Linked())
	}

	// bob and dave were seen but never credited.
	require.EqualValues(t, 4, f.count(t, &SocialProfile{}))
}

func TestRun_SecondTriggerIsDropped(t *testing.T) {
	f := newFixture(t)
	f.schedule(t, platform.Twitter, Hashtags{Primary: "#drop"})
	f.rule(t, platform.Twitter, platform.Follow, 10, "TOKEN")

	client := newStubClient(platform.Twitter, participants("alice", "bob")...)
	client.entered = make(chan struct{}, 1)
	client.release = make(chan struct{})
	o := f.orchestrator(client, withRuns(f))

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), "first")
		done <- err
	}()
	<-client.entered
	require.True(t, o.Running())

	report, err := o.Run(context.Background(), "second")
	require.ErrorIs(t, err, ErrRunInFlight)
	require.Nil(t, report)

	close(client.release)
	require.NoError(t, <-done)
	require.False(t, o.Running())

	require.EqualValues(t, 1, client.calls.Load())
	require.EqualValues(t, 1, f.count(t, &Run{}))
	require.EqualValues(t, 2, f.count(t, &SocialProfile{}))

	// The flag is released, so a later trigger runs.
	client.entered = nil
	_, err = o.Run(context.Background(), "third")
	require.NoError(t, err)
}

func TestRun_NoActiveScheduleIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.rule(t, platform.Twitter, platform.Follow, 10, "TOKEN")
	client := newStubClient(platform.Twitter, participants("alice")...)
	o := f.orchestrator(client, withRuns(f))

	report, err := o.Run(context.Background(), "test")
	require.NoError(t, err)
	require.Equal(t, RunSkipped, report.Status)
	require.Zero(t, client.calls.Load())

	var run Run
	require.NoError(t, f.db.First(&run, "id = ?", report.RunID).Error)
	require.Equal(t, RunSkipped, run.Status)
	require.NotNil(t, run.FinishedAt)
}

func TestRun_MissingRuleFailsRun(t *testing.T) {
	f := newFixture(t)
	f.schedule(t, platform.Twitter, Hashtags{Primary: "#drop"})
	o := f.orchestrator(newStubClient(platform.Twitter, participants("alice")...))

	report, err := o.Run(context.Background(), "test")
	require.ErrorIs(t, err, ErrRuleMissing)
	require.Equal(t, RunFailed, report.Status)
	require.Zero(t, f.count(t, &SocialProfile{}))
}

func TestRun_PollFailureKeepsCommittedWrites(t *testing.T) {
	f := newFixture(t)
	f.schedule(t, platform.Twitter, Hashtags{Primary: "#drop"})
	f.rule(t, platform.Twitter, platform.Follow, 10, "TOKEN")

	client := newStubClient(platform.Twitter)
	client.pages[""] = &platform.Page{Records: participants("alice"), NextCursor: "p2"}
	client.pages["p2"] = nil
	o := f.orchestrator(&failingAfter{stubClient: client, cursor: "p2"}, withRuns(f))

	report, err := o.Run(context.Background(), "test")
	var pf *platform.PollFailure
	require.ErrorAs(t, err, &pf)
	require.Equal(t, "p2", pf.Cursor)
	require.Equal(t, RunFailed, report.Status)
	require.Equal(t, 1, report.Pages)

	require.EqualValues(t, 1, f.count(t, &SocialProfile{}))

	var run Run
	require.NoError(t, f.db.First(&run, "id = ?", report.RunID).Error)
	require.Equal(t, RunFailed, run.Status)
	require.Contains(t, run.ErrorMsg, "p2")
	require.Equal(t, 1, run.ProfilesCreated)
}

func TestRun_ConsecutiveFailuresAbort(t *testing.T) {
	f := newFixture(t)
	f.schedule(t, platform.Twitter, Hashtags{Primary: "#drop"})
	f.rule(t, platform.Twitter, platform.Follow, 10, "TOKEN")

	client := newStubClient(platform.Twitter, platform.Participant{}, platform.Participant{}, platform.Participant{})
	o := f.orchestrator(client, func(p *OrchestratorParams) { p.MaxFailures = 2 })

	report, err := o.Run(context.Background(), "test")
	require.ErrorIs(t, err, ErrTooManyFailures)
	require.Equal(t, 2, report.Failed)
}

func TestRun_RecordFailureDoesNotStopRun(t *testing.T) {
	f := newFixture(t)
	f.schedule(t, platform.Twitter, Hashtags{Primary: "#drop"})
	f.rule(t, platform.Twitter, platform.Follow, 10, "TOKEN")

	client := newStubClient(platform.Twitter,
		platform.Participant{},
		platform.Participant{Username: "alice", ExternalID: "1"},
	)
	o := f.orchestrator(client, func(p *OrchestratorParams) { p.MaxFailures = 5 })

	report, err := o.Run(context.Background(), "test")
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, 1, report.Decisions[CreateProfile])
}

type stubGate bool

func (g stubGate) Enabled(context.Context, platform.Platform) bool { return bool(g) }

func TestRun_DisabledByGate(t *testing.T) {
	f := newFixture(t)
	client := newStubClient(platform.Twitter)
	o := f.orchestrator(client, func(p *OrchestratorParams) { p.Gate = stubGate(false) })

	report, err := o.Run(context.Background(), "test")
	require.NoError(t, err)
	require.Equal(t, RunSkipped, report.Status)
	require.Zero(t, client.calls.Load())
}

func TestRun_TimeoutReleasesFlag(t *testing.T) {
	f := newFixture(t)
	f.schedule(t, platform.Twitter, Hashtags{Primary: "#drop"})
	f.rule(t, platform.Twitter, platform.Follow, 10, "TOKEN")

	client := newStubClient(platform.Twitter, participants("alice")...)
	client.entered = make(chan struct{}, 1)
	client.release = make(chan struct{})
	o := f.orchestrator(client, func(p *OrchestratorParams) { p.Config.RunTimeout = 50 * time.Millisecond })

	report, err := o.Run(context.Background(), "test")
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.Equal(t, RunFailed, report.Status)
	require.False(t, o.Running())
}

func TestRunAll_RunsEveryPlatform(t *testing.T) {
	f := newFixture(t)
	f.schedule(t, platform.Twitter, Hashtags{Primary: "#drop"})
	f.rule(t, platform.Twitter, platform.Follow, 10, "TOKEN")
	f.schedule(t, platform.Instagram, Hashtags{Primary: "#drop"})
	f.rule(t, platform.Instagram, platform.Follow, 5, "TOKEN")

	set := NewOrchestrators(
		f.orchestrator(newStubClient(platform.Twitter, participants("alice")...)),
		f.orchestrator(newStubClient(platform.Instagram, participants("bob")...)),
	)

	reports, err := set.RunAll(context.Background(), "startup")
	require.NoError(t, err)
	require.Len(t, reports, 2)
	require.EqualValues(t, 2, f.count(t, &SocialProfile{}))

	_, err = set.Run(context.Background(), platform.Discord, "test")
	require.ErrorIs(t, err, ErrPlatformUnknown)
}

// failingAfter fails every fetch at cursor.
type failingAfter struct {
	*stubClient
	cursor string
}

func (c *failingAfter) ListParticipants(ctx context.Context, account string, pageSize int, cursor string) (*platform.Page, error) {
	if cursor == c.cursor {
		return nil, errors.New("upstream rejected cursor " + cursor)
	}
	return c.stubClient.ListParticipants(ctx, account, pageSize, cursor)
}
