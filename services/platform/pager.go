package platform

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
	"time"

	"smallbiznis-airdrop/pkg/retry"

	"go.uber.org/zap"
)

var ErrPagerConsumed = errors.New("pager already consumed")

type PagerOption func(*Pager)

// WithPageDelay sets the pause between two page requests.
func WithPageDelay(d time.Duration) PagerOption {
	return func(p *Pager) { p.delay = d }
}

func WithPageSize(n int) PagerOption {
	return func(p *Pager) { p.pageSize = n }
}

func WithPolicy(policy *retry.Policy) PagerOption {
	return func(p *Pager) { p.policy = policy }
}

// WithClock replaces time.Now and the sleeper, for tests.
func WithClock(now func() time.Time, sleep retry.Sleeper) PagerOption {
	return func(p *Pager) {
		p.now = now
		p.sleep = sleep
	}
}

// OnPage is called after each fetched page.
func OnPage(fn func(page int, records int)) PagerOption {
	return func(p *Pager) { p.onPage = fn }
}

// Pager walks every page of one account for a single run.
type Pager struct {
	client   Client
	account  string
	pageSize int
	delay    time.Duration
	policy   *retry.Policy
	now      func() time.Time
	sleep    retry.Sleeper
	onPage   func(page int, records int)

	used    atomic.Bool
	pages   int
	records int
}

func NewPager(client Client, account string, opts ...PagerOption) *Pager {
	p := &Pager{
		client:   client,
		account:  account,
		pageSize: 100,
		now:      time.Now,
		sleep:    retry.Sleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.policy == nil {
		p.policy = &retry.Policy{Attempts: 1, Classifier: client.Classifier()}
	}
	return p
}

func (p *Pager) Pages() int { return p.pages }
func (p *Pager) Seen() int { return p.records }

// All yields every participant across pages. The sequence stops at the first
// page without a cursor or without any entries, filtered ones included. A page
// that cannot be fetched yields a *PollFailure and ends the sequence. All can
// be ranged over once.
func (p *Pager) All(ctx context.Context) iter.Seq2[Participant, error] {
	return func(yield func(Participant, error) bool) {
		if !p.used.CompareAndSwap(false, true) {
			yield(Participant{}, ErrPagerConsumed)
			return
		}

		log := zap.L().With(zap.String("platform", string(p.client.Platform())), zap.String("account", p.account))

		var (
			cursor string
			last   RateLimit
		)
		for {
			if p.pages > 0 {
				if err := p.sleep(ctx, p.delay); err != nil {
					yield(Participant{}, err)
					return
				}
			}

			if last.Exhausted() {
				wait := last.ResetAt.Sub(p.now())
				if wait > 0 {
					log.Info("[pager] rate limit reached, waiting for reset",
						zap.Time("reset_at", last.ResetAt), zap.Duration("wait", wait))
					if err := p.sleep(ctx, wait); err != nil {
						yield(Participant{}, err)
						return
					}
				}
			}

			page, err := retry.Execute(ctx, p.policy, func(ctx context.Context) (*Page, error) {
				return p.client.ListParticipants(ctx, p.account, p.pageSize, cursor)
			})
			if err != nil {
				yield(Participant{}, &PollFailure{
					Platform: p.client.Platform(),
					Account:  p.account,
					Cursor:   cursor,
					Page:     p.pages + 1,
					Err:      err,
				})
				return
			}

			p.pages++
			if p.onPage != nil {
				p.onPage(p.pages, len(page.Records))
			}
			log.Debug("[pager] page fetched", zap.Int("page", p.pages), zap.Int("records", len(page.Records)),
				zap.Int("remaining", page.RateLimit.Remaining))

			for _, r := range page.Records {
				p.records++
				if !yield(r, nil) {
					return
				}
			}

			if page.NextCursor == "" || len(page.Records)+page.Filtered == 0 {
				return
			}
			cursor = page.NextCursor
			last = page.RateLimit
		}
	}
}
