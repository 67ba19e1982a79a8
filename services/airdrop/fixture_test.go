package airdrop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"smallbiznis-airdrop/pkg/retry"
	"smallbiznis-airdrop/services/platform"
	"smallbiznis-airdrop/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	cache    *RuleCache
	resolver *Resolver
	engine   *Engine
	writer   *Writer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t, Models()...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cache := NewRuleCache(time.Minute)
	return &fixture{
		db:       db,
		node:     node,
		cache:    cache,
		resolver: NewResolver(db, cache),
		engine:   NewEngine(db, node),
		writer:   NewWriter(db),
	}
}

func (f *fixture) schedule(t *testing.T, p platform.Platform, tags Hashtags) *Schedule {
	t.Helper()
	now := time.Now()
	s := &Schedule{
		ID:              f.node.Generate().String(),
		Platform:        p,
		Name:            "launch",
		Hashtags:        datatypes.NewJSONType(tags),
		LivelyAccountID: "acct-1",
		IsActive:        true,
		StartAt:         now.Add(-time.Hour),
		EndAt:           now.Add(24 * time.Hour),
	}
	require.NoError(t, f.db.Create(s).Error)
	return s
}

func (f *fixture) event(t *testing.T, s *Schedule, contentID string, tags ...string) *Event {
	t.Helper()
	e := &Event{
		ID:          f.node.Generate().String(),
		ScheduleID:  s.ID,
		Platform:    s.Platform,
		ContentID:   contentID,
		Hashtags:    datatypes.NewJSONType(tags),
		IsActive:    true,
		PublishedAt: time.Now(),
	}
	require.NoError(t, f.db.Create(e).Error)
	return e
}

func (f *fixture) rule(t *testing.T, p platform.Platform, action platform.ActionType, amount int64, unit string) *RewardRule {
	t.Helper()
	r := &RewardRule{
		ID:         f.node.Generate().String(),
		Platform:   p,
		ActionType: action,
		Amount:     amount,
		Unit:       unit,
	}
	require.NoError(t, f.db.Create(r).Error)
	return r
}

func (f *fixture) profile(t *testing.T, p platform.Platform, username, externalID, userID string) *SocialProfile {
	t.Helper()
	sp := &SocialProfile{
		ID:         f.node.Generate().String(),
		Platform:   p,
		Username:   username,
		LastSeenAt: time.Now(),
	}
	if externalID != "" {
		sp.ExternalID = &externalID
	}
	if userID != "" {
		sp.UserID = &userID
	}
	require.NoError(t, f.db.Create(sp).Error)
	return sp
}

func (f *fixture) link(t *testing.T, p platform.Platform, username, userID string) {
	t.Helper()
	res := f.db.Model(&SocialProfile{}).
		Where("platform = ? AND username = ?", p, username).
		Update("user_id", userID)
	require.NoError(t, res.Error)
	require.EqualValues(t, 1, res.RowsAffected)
}

func (f *fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func (f *fixture) orchestrator(client platform.Client, opts ...func(*OrchestratorParams)) *Orchestrator {
	p := OrchestratorParams{
		Platform: client.Platform(),
		Client:   client,
		Resolver: f.resolver,
		Engine:   f.engine,
		Writer:   f.writer,
		Runs:     nil,
		Node:     f.node,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return NewOrchestrator(p)
}

// stubClient serves fixed pages keyed by cursor.
type stubClient struct {
	platform platform.Platform
	pages    map[string]*platform.Page
	err      error
	calls    atomic.Int32

	// When set, each call announces itself on entered and waits for release.
	entered chan struct{}
	release chan struct{}
}

func newStubClient(p platform.Platform, records ...platform.Participant) *stubClient {
	return &stubClient{
		platform: p,
		pages:    map[string]*platform.Page{"": {Records: records}},
	}
}

func (s *stubClient) Platform() platform.Platform { return s.platform }

func (s *stubClient) Classifier() retry.Classifier { return nil }

func (s *stubClient) ListParticipants(ctx context.Context, account string, pageSize int, cursor string) (*platform.Page, error) {
	s.calls.Add(1)
	if s.entered != nil {
		s.entered <- struct{}{}
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	if page, ok := s.pages[cursor]; ok {
		return page, nil
	}
	return &platform.Page{}, nil
}

func participants(names ...string) []platform.Participant {
	out := make([]platform.Participant, 0, len(names))
	for i, n := range names {
		out = append(out, platform.Participant{
			Username:    n,
			ExternalID:  string(rune('1' + i)),
			DisplayName: n,
		})
	}
	return out
}
