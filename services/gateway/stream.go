package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"smallbiznis-airdrop/pkg/retry"
	"smallbiznis-airdrop/services/airdrop"
	"smallbiznis-airdrop/services/platform"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Handler reconciles one notification.
type Handler interface {
	Handle(ctx context.Context, n airdrop.Notification) (*airdrop.Result, error)
}

const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

var (
	errReconnect      = errors.New("gateway asked to reconnect")
	errInvalidSession = errors.New("gateway session invalidated")
)

type frame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type outFrame struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

type hello struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type identify struct {
	Token      string            `json:"token"`
	Intents    int               `json:"intents"`
	Properties map[string]string `json:"properties"`
}

type memberAdd struct {
	GuildID string              `json:"guild_id"`
	User    platform.DiscordUser `json:"user"`
}

type reactionAdd struct {
	UserID    string `json:"user_id"`
	MessageID string `json:"message_id"`
	GuildID   string `json:"guild_id"`
	Member    *struct {
		User platform.DiscordUser `json:"user"`
	} `json:"member"`
	Emoji struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"emoji"`
}

// Stream consumes the Discord gateway and turns member joins and reactions
// into notifications. Each dispatch is handled on its own; the stream keeps no
// campaign state.
type Stream struct {
	url     string
	token   string
	intents int
	guildID string
	handler Handler

	minBackoff time.Duration
	maxBackoff time.Duration
	sleep      retry.Sleeper

	seq atomic.Int64
}

type StreamOption func(*Stream)

func WithBackoff(min, max time.Duration) StreamOption {
	return func(s *Stream) {
		s.minBackoff = min
		s.maxBackoff = max
	}
}

func WithSleeper(sleep retry.Sleeper) StreamOption {
	return func(s *Stream) { s.sleep = sleep }
}

func NewStream(url, token string, intents int, guildID string, handler Handler, opts ...StreamOption) *Stream {
	s := &Stream{
		url:        url,
		token:      token,
		intents:    intents,
		guildID:    guildID,
		handler:    handler,
		minBackoff: time.Second,
		maxBackoff: time.Minute,
		sleep:      retry.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run keeps a session open until ctx is done, reconnecting with exponential
// backoff.
func (s *Stream) Run(ctx context.Context) error {
	backoff := s.minBackoff
	for {
		started := time.Now()
		err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A session that stayed up for a while resets the backoff.
		if time.Since(started) > s.maxBackoff {
			backoff = s.minBackoff
		}
		zap.L().Warn("[gateway] session closed, reconnecting", zap.Duration("backoff", backoff), zap.Error(err))
		if err := s.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, s.maxBackoff)
	}
}

func (s *Stream) session(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "session closed")
	conn.SetReadLimit(1 << 20)

	var f frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if f.Op != opHello {
		return fmt.Errorf("expected hello, got op %d", f.Op)
	}
	var h hello
	if err := json.Unmarshal(f.D, &h); err != nil || h.HeartbeatInterval <= 0 {
		return fmt.Errorf("invalid hello payload: %s", f.D)
	}

	if err := wsjson.Write(ctx, conn, outFrame{Op: opIdentify, D: identify{
		Token:   s.token,
		Intents: s.intents,
		Properties: map[string]string{
			"os":      "linux",
			"browser": "airdrop",
			"device":  "airdrop",
		},
	}}); err != nil {
		return fmt.Errorf("identify: %w", err)
	}
	zap.L().Info("[gateway] session identified", zap.Int64("heartbeat_ms", h.HeartbeatInterval))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.heartbeat(gctx, conn, time.Duration(h.HeartbeatInterval)*time.Millisecond)
	})
	g.Go(func() error {
		return s.read(gctx, conn)
	})
	return g.Wait()
}

func (s *Stream) beat(ctx context.Context, conn *websocket.Conn) error {
	var d any
	if seq := s.seq.Load(); seq > 0 {
		d = seq
	}
	return wsjson.Write(ctx, conn, outFrame{Op: opHeartbeat, D: d})
}

func (s *Stream) heartbeat(ctx context.Context, conn *websocket.Conn, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := s.beat(ctx, conn); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
		}
	}
}

func (s *Stream) read(ctx context.Context, conn *websocket.Conn) error {
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return fmt.Errorf("read gateway: %w", err)
		}
		if f.S != nil {
			s.seq.Store(*f.S)
		}

		switch f.Op {
		case opDispatch:
			s.dispatch(ctx, f.T, f.D)
		case opHeartbeat:
			if err := s.beat(ctx, conn); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
		case opReconnect:
			return errReconnect
		case opInvalidSession:
			s.seq.Store(0)
			return errInvalidSession
		case opHeartbeatAck:
		}
	}
}

func (s *Stream) dispatch(ctx context.Context, event string, data json.RawMessage) {
	n, ok, err := s.notification(event, data)
	if err != nil {
		zap.L().Warn("[gateway] undecodable dispatch", zap.String("event", event), zap.Error(err))
		return
	}
	if !ok {
		return
	}

	res, err := s.handler.Handle(ctx, n)
	if err != nil {
		lvl := zap.ErrorLevel
		if airdrop.IsExpected(err) {
			lvl = zap.DebugLevel
		}
		zap.L().Log(lvl, "[gateway] notification failed",
			zap.String("event", event),
			zap.String("external_id", n.Participant.ExternalID),
			zap.Error(err))
		return
	}
	zap.L().Debug("[gateway] notification handled", zap.String("event", event), zap.String("decision", string(res.Kind)))
}

// notification maps a dispatch to a notification; ok is false for events we
// do not track.
func (s *Stream) notification(event string, data json.RawMessage) (airdrop.Notification, bool, error) {
	switch event {
	case "GUILD_MEMBER_ADD":
		var m memberAdd
		if err := json.Unmarshal(data, &m); err != nil {
			return airdrop.Notification{}, false, err
		}
		if !s.ownGuild(m.GuildID) {
			return airdrop.Notification{}, false, nil
		}
		return airdrop.Notification{
			Platform:    platform.Discord,
			Action:      platform.Follow,
			Bot:         m.User.Bot,
			Participant: m.User.Participant(),
		}, true, nil

	case "MESSAGE_REACTION_ADD":
		var r reactionAdd
		if err := json.Unmarshal(data, &r); err != nil {
			return airdrop.Notification{}, false, err
		}
		if !s.ownGuild(r.GuildID) {
			return airdrop.Notification{}, false, nil
		}
		n := airdrop.Notification{
			Platform:    platform.Discord,
			Action:      platform.Like,
			ContentID:   r.MessageID,
			Marker:      r.Emoji.Name,
			Participant: platform.Participant{ExternalID: r.UserID},
		}
		if r.Emoji.ID != "" {
			n.Marker = r.Emoji.Name + ":" + r.Emoji.ID
		}
		if r.Member != nil {
			n.Bot = r.Member.User.Bot
			n.Participant = r.Member.User.Participant()
		}
		return n, true, nil
	}
	return airdrop.Notification{}, false, nil
}

func (s *Stream) ownGuild(id string) bool {
	return s.guildID == "" || id == "" || id == s.guildID
}
