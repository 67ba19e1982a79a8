package airdrop

import (
	"context"
	"sync"
	"time"

	"smallbiznis-airdrop/services/platform"

	"golang.org/x/sync/singleflight"
)

type ruleKey struct {
	Platform platform.Platform
	Action   platform.ActionType
}

func (k ruleKey) String() string {
	return string(k.Platform) + ":" + string(k.Action)
}

type cachedRule struct {
	rule     *RewardRule
	loadedAt time.Time
}

// RuleCache keeps reward rules for ttl; concurrent misses for one key share a
// single load.
type RuleCache struct {
	mu    sync.RWMutex
	items map[ruleKey]cachedRule
	ttl   time.Duration
	group singleflight.Group
	now   func() time.Time

	onHit  func()
	onMiss func()
}

func NewRuleCache(ttl time.Duration) *RuleCache {
	return &RuleCache{
		items: make(map[ruleKey]cachedRule),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (c *RuleCache) get(key ruleKey) (*RewardRule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	if !ok || (c.ttl > 0 && c.now().Sub(v.loadedAt) > c.ttl) {
		return nil, false
	}
	return v.rule, true
}

func (c *RuleCache) set(key ruleKey, rule *RewardRule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cachedRule{rule: rule, loadedAt: c.now()}
}

func (c *RuleCache) Invalidate(p platform.Platform, action platform.ActionType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, ruleKey{p, action})
}

// Load returns the cached rule or calls load. Missing rules (nil) are not cached.
func (c *RuleCache) Load(ctx context.Context, p platform.Platform, action platform.ActionType, load func(context.Context) (*RewardRule, error)) (*RewardRule, error) {
	key := ruleKey{p, action}
	if rule, ok := c.get(key); ok {
		if c.onHit != nil {
			c.onHit()
		}
		return rule, nil
	}
	if c.onMiss != nil {
		c.onMiss()
	}

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		rule, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if rule != nil {
			c.set(key, rule)
		}
		return rule, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*RewardRule), nil
}
