package platform

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"

	"smallbiznis-airdrop/pkg/retry"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeClock advances only when something sleeps on it.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return nil
}

type fetch struct {
	cursor string
	at     time.Time
}

// stubClient serves pages from a script; each call takes the next response.
type stubClient struct {
	clock     *fakeClock
	responses []func(cursor string) (*Page, error)
	fetches   []fetch
}

func (s *stubClient) Platform() Platform { return Twitter }

func (s *stubClient) Classifier() retry.Classifier { return twitterClassifier }

func (s *stubClient) ListParticipants(ctx context.Context, accountID string, pageSize int, cursor string) (*Page, error) {
	s.fetches = append(s.fetches, fetch{cursor: cursor, at: s.clock.Now()})
	i := len(s.fetches) - 1
	if i >= len(s.responses) {
		return &Page{}, nil
	}
	return s.responses[i](cursor)
}

func page(next string, rl RateLimit, names ...string) func(string) (*Page, error) {
	return func(string) (*Page, error) {
		p := &Page{NextCursor: next, RateLimit: rl}
		for _, n := range names {
			p.Records = append(p.Records, Participant{Username: n, ExternalID: "id-" + n})
		}
		return p, nil
	}
}

func fail(err error) func(string) (*Page, error) {
	return func(string) (*Page, error) { return nil, err }
}

func collect(t *testing.T, p *Pager) ([]string, error) {
	t.Helper()
	var names []string
	for r, err := range p.All(context.Background()) {
		if err != nil {
			return names, err
		}
		names = append(names, r.Username)
	}
	return names, nil
}

func newTestPager(clock *fakeClock, client Client, attempts int) *Pager {
	return NewPager(client, "lively",
		WithPageSize(2),
		WithPageDelay(3*time.Second),
		WithClock(clock.Now, clock.Sleep),
		WithPolicy(&retry.Policy{
			Attempts:       attempts,
			Delay:          time.Minute,
			RateLimitDelay: 15 * time.Minute,
			Classifier:     client.Classifier(),
			Sleep:          clock.Sleep,
		}),
	)
}

func TestPager_WalksAllPages(t *testing.T) {
	clock := newFakeClock()
	client := &stubClient{clock: clock, responses: []func(string) (*Page, error){
		page("c1", RateLimit{}, "alice", "bob"),
		page("c2", RateLimit{}, "carol", "dave"),
		page("", RateLimit{}, "erin"),
	}}

	p := newTestPager(clock, client, 3)
	names, err := collect(t, p)
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob", "carol", "dave", "erin"}, names)
	require.Equal(t, []string{"", "c1", "c2"}, []string{client.fetches[0].cursor, client.fetches[1].cursor, client.fetches[2].cursor})
	require.Equal(t, 3, p.Pages())
	require.Equal(t, 5, p.Seen())

	// politeness delay between pages, none before the first
	require.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, clock.slept)
}

func TestPager_StopsOnEmptyPage(t *testing.T) {
	clock := newFakeClock()
	client := &stubClient{clock: clock, responses: []func(string) (*Page, error){
		page("c1", RateLimit{}, "alice"),
		page("c2", RateLimit{}),
		page("", RateLimit{}, "never"),
	}}

	names, err := collect(t, newTestPager(clock, client, 3))
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, names)
	require.Len(t, client.fetches, 2)
}

func TestPager_FilteredPageIsNotTheEnd(t *testing.T) {
	clock := newFakeClock()
	filtered := func(string) (*Page, error) {
		return &Page{NextCursor: "c2", Filtered: 2}, nil
	}
	client := &stubClient{clock: clock, responses: []func(string) (*Page, error){
		filtered,
		page("", RateLimit{}, "bob"),
	}}

	names, err := collect(t, newTestPager(clock, client, 3))
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, names)
	require.Len(t, client.fetches, 2)
}

func TestPager_WaitsForRateLimitReset(t *testing.T) {
	clock := newFakeClock()
	resetAt := clock.Now().Add(10 * time.Minute)

	client := &stubClient{clock: clock, responses: []func(string) (*Page, error){
		page("c1", RateLimit{Remaining: 0, ResetAt: resetAt}, "alice"),
		page("", RateLimit{}, "bob"),
	}}

	names, err := collect(t, newTestPager(clock, client, 3))
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, names)
	require.Len(t, client.fetches, 2)
	require.False(t, client.fetches[1].at.Before(resetAt), "second page requested at %s before reset %s", client.fetches[1].at, resetAt)
}

func TestPager_RemainingQuotaDoesNotWait(t *testing.T) {
	clock := newFakeClock()
	client := &stubClient{clock: clock, responses: []func(string) (*Page, error){
		page("c1", RateLimit{Remaining: 5, ResetAt: clock.Now().Add(time.Hour)}, "alice"),
		page("", RateLimit{}, "bob"),
	}}

	_, err := collect(t, newTestPager(clock, client, 3))
	require.NoError(t, err)
	require.Equal(t, []time.Duration{3 * time.Second}, clock.slept)
}

func TestPager_RetryBudgetExhausted(t *testing.T) {
	clock := newFakeClock()
	client := &stubClient{clock: clock, responses: []func(string) (*Page, error){
		fail(syscall.ETIMEDOUT),
		fail(syscall.ECONNRESET),
		fail(syscall.ECONNABORTED),
		page("", RateLimit{}, "alice"),
	}}

	names, err := collect(t, newTestPager(clock, client, 3))
	require.Empty(t, names)

	var pf *PollFailure
	require.ErrorAs(t, err, &pf)
	require.Equal(t, 1, pf.Page)
	require.Equal(t, Twitter, pf.Platform)

	var rerr *retry.Error
	require.ErrorAs(t, err, &rerr)
	require.True(t, rerr.Exhausted)
	require.Len(t, client.fetches, 3, "the fourth attempt must never be issued")
}

func TestPager_RetryRecoversAfterOneFault(t *testing.T) {
	clock := newFakeClock()
	client := &stubClient{clock: clock, responses: []func(string) (*Page, error){
		fail(syscall.ETIMEDOUT),
		page("", RateLimit{}, "alice", "bob"),
	}}

	names, err := collect(t, newTestPager(clock, client, 3))
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, names)
	require.Equal(t, []time.Duration{time.Minute}, clock.slept)
}

func TestPager_FatalErrorFailsImmediately(t *testing.T) {
	clock := newFakeClock()
	client := &stubClient{clock: clock, responses: []func(string) (*Page, error){
		page("c1", RateLimit{}, "alice"),
		fail(&APIError{Platform: Twitter, StatusCode: 401}),
	}}

	names, err := collect(t, newTestPager(clock, client, 3))
	require.Equal(t, []string{"alice"}, names)

	var pf *PollFailure
	require.ErrorAs(t, err, &pf)
	require.Equal(t, "c1", pf.Cursor)
	require.Equal(t, 2, pf.Page)
	require.Len(t, client.fetches, 2)
}

func TestPager_RateLimitRejectionWaitsLonger(t *testing.T) {
	clock := newFakeClock()
	client := &stubClient{clock: clock, responses: []func(string) (*Page, error){
		fail(&APIError{Platform: Twitter, StatusCode: 429}),
		page("", RateLimit{}, "alice"),
	}}

	names, err := collect(t, newTestPager(clock, client, 3))
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, names)
	require.Equal(t, []time.Duration{15 * time.Minute}, clock.slept)
}

func TestPager_NotRestartable(t *testing.T) {
	clock := newFakeClock()
	client := &stubClient{clock: clock, responses: []func(string) (*Page, error){
		page("", RateLimit{}, "alice"),
	}}

	p := newTestPager(clock, client, 3)
	_, err := collect(t, p)
	require.NoError(t, err)

	_, err = collect(t, p)
	require.ErrorIs(t, err, ErrPagerConsumed)
	require.Len(t, client.fetches, 1)
}

func TestPager_EarlyBreakStopsFetching(t *testing.T) {
	clock := newFakeClock()
	client := &stubClient{clock: clock, responses: []func(string) (*Page, error){
		page("c1", RateLimit{}, "alice", "bob"),
		page("", RateLimit{}, "carol"),
	}}

	p := newTestPager(clock, client, 3)
	for r, err := range p.All(context.Background()) {
		require.NoError(t, err)
		if r.Username == "alice" {
			break
		}
	}
	require.Len(t, client.fetches, 1)
}

func TestPager_CancelledWhileWaiting(t *testing.T) {
	clock := newFakeClock()
	client := &stubClient{clock: clock, responses: []func(string) (*Page, error){
		page("c1", RateLimit{Remaining: 0, ResetAt: clock.Now().Add(time.Hour)}, "alice"),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := newTestPager(clock, client, 3)

	var got error
	for _, err := range p.All(ctx) {
		if err != nil {
			got = err
			break
		}
		cancel()
	}
	require.True(t, errors.Is(got, context.Canceled))
	require.Len(t, client.fetches, 1)
}
