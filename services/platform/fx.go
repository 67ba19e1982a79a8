package platform

import (
	"slices"
	"time"

	"smallbiznis-airdrop/pkg/config"
	"smallbiznis-airdrop/pkg/retry"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("platform",
	fx.Provide(NewRegistry),
)

type entry struct {
	client Client
	cfg    config.Platform
}

// Registry holds the client and settings of every enabled platform.
type Registry struct {
	entries map[Platform]entry
}

func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{entries: map[Platform]entry{}}

	a := cfg.Airdrop
	if a.Twitter.Enable {
		r.Register(NewTwitter(a.Twitter), a.Twitter)
	}
	if a.Instagram.Enable {
		r.Register(NewInstagram(a.Instagram), a.Instagram)
	}
	if a.Discord.Enable {
		r.Register(NewDiscord(a.Discord), a.Discord)
	}

	for _, p := range r.Enabled() {
		zap.L().Info("[platform] client registered", zap.String("platform", string(p)))
	}
	return r
}

func (r *Registry) Register(c Client, cfg config.Platform) {
	r.entries[c.Platform()] = entry{client: c, cfg: cfg}
}

func (r *Registry) Client(p Platform) (Client, bool) {
	e, ok := r.entries[p]
	return e.client, ok
}

func (r *Registry) Config(p Platform) config.Platform {
	return r.entries[p].cfg
}

// Enabled returns the registered platforms in name order.
func (r *Registry) Enabled() []Platform {
	out := make([]Platform, 0, len(r.entries))
	for p := range r.entries {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Policy builds the retry policy of p from its configuration and the client's
// classification table.
func (r *Registry) Policy(p Platform, onRetry func(class retry.Class, attempt int, err error)) *retry.Policy {
	e := r.entries[p]
	policy := &retry.Policy{
		Attempts:          e.cfg.Retry.Attempts,
		Delay:             e.cfg.Retry.Delay,
		RateLimitDelay:    e.cfg.Retry.RateLimitDelay,
		RateLimitAttempts: e.cfg.Retry.RateLimitAttempts,
	}
	if e.client != nil {
		policy.Classifier = e.client.Classifier()
	}
	policy.OnRetry = func(class retry.Class, attempt int, wait time.Duration, err error) {
		zap.L().Warn("[platform] call failed, retrying",
			zap.String("platform", string(p)),
			zap.String("class", class.String()),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if onRetry != nil {
			onRetry(class, attempt, err)
		}
	}
	return policy
}
