package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"smallbiznis-airdrop/services/airdrop"
	"smallbiznis-airdrop/services/platform"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// fakeGateway says hello, records the identify frame and replays dispatches.
func fakeGateway(t *testing.T, identified chan<- identify, dispatches ...frame) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusInternalError, "")
		ctx := r.Context()

		if err := wsjson.Write(ctx, conn, outFrame{Op: opHello, D: hello{HeartbeatInterval: 60_000}}); err != nil {
			return
		}

		var in struct {
			Op int      `json:"op"`
			D  identify `json:"d"`
		}
		if err := wsjson.Read(ctx, conn, &in); err != nil || in.Op != opIdentify {
			return
		}
		identified <- in.D

		for _, f := range dispatches {
			if err := wsjson.Write(ctx, conn, f); err != nil {
				return
			}
		}

		// Hold the session until the client leaves.
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dispatch(t *testing.T, seq int64, event string, d any) frame {
	t.Helper()
	b, err := json.Marshal(d)
	require.NoError(t, err)
	return frame{Op: opDispatch, S: &seq, T: event, D: b}
}

func TestStream_DeliversNotifications(t *testing.T) {
	identified := make(chan identify, 1)
	srv := fakeGateway(t, identified,
		dispatch(t, 1, "GUILD_MEMBER_ADD", map[string]any{
			"guild_id": "g1",
			"user":     map[string]any{"id": "11", "username": "alice"},
		}),
		dispatch(t, 2, "GUILD_MEMBER_ADD", map[string]any{
			"guild_id": "other",
			"user":     map[string]any{"id": "12", "username": "mallory"},
		}),
		dispatch(t, 3, "MESSAGE_REACTION_ADD", map[string]any{
			"guild_id":   "g1",
			"user_id":    "13",
			"message_id": "m1",
			"member":     map[string]any{"user": map[string]any{"id": "13", "username": "bob"}},
			"emoji":      map[string]any{"id": "9001", "name": "airdrop"},
		}),
	)

	h := &stubHandler{ch: make(chan airdrop.Notification, 4)}
	s := NewStream("ws"+strings.TrimPrefix(srv.URL, "http"), "tok", 513, "g1", h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case id := <-identified:
		require.Equal(t, "tok", id.Token)
		require.Equal(t, 513, id.Intents)
	case <-time.After(5 * time.Second):
		t.Fatal("no identify")
	}

	var got []airdrop.Notification
	for len(got) < 2 {
		select {
		case n := <-h.ch:
			got = append(got, n)
		case <-time.After(5 * time.Second):
			t.Fatalf("got %d notifications, want 2", len(got))
		}
	}

	require.Equal(t, platform.Follow, got[0].Action)
	require.Equal(t, "alice", got[0].Participant.Username)
	require.Equal(t, "11", got[0].Participant.ExternalID)

	require.Equal(t, platform.Like, got[1].Action)
	require.Equal(t, "m1", got[1].ContentID)
	require.Equal(t, "airdrop:9001", got[1].Marker)
	require.Equal(t, "bob", got[1].Participant.Username)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop")
	}
	require.EqualValues(t, 3, s.seq.Load())
}

func TestStream_ReconnectsAfterDialFailure(t *testing.T) {
	var sleeps []time.Duration
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewStream("ws://127.0.0.1:1", "tok", 0, "", &stubHandler{},
		WithBackoff(time.Second, 4*time.Second),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			if len(sleeps) == 4 {
				cancel()
				return ctx.Err()
			}
			return nil
		}),
	)

	err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}, sleeps)
}

func TestNotification(t *testing.T) {
	s := NewStream("", "", 0, "g1", nil)

	tests := []struct {
		name  string
		event string
		data  string
		ok    bool
		want  airdrop.Notification
	}{
		{
			name:  "member join",
			event: "GUILD_MEMBER_ADD",
			data:  `{"guild_id":"g1","user":{"id":"1","username":"alice","global_name":"Alice"}}`,
			ok:    true,
			want: airdrop.Notification{
				Platform: platform.Discord,
				Action:   platform.Follow,
				Participant: platform.Participant{
					Username:    "alice",
					ExternalID:  "1",
					DisplayName: "Alice",
					ProfileURL:  "https://discord.com/users/1",
				},
			},
		},
		{
			name:  "bot join",
			event: "GUILD_MEMBER_ADD",
			data:  `{"guild_id":"g1","user":{"id":"2","username":"helper","bot":true}}`,
			ok:    true,
			want: airdrop.Notification{
				Platform: platform.Discord,
				Action:   platform.Follow,
				Bot:      true,
				Participant: platform.Participant{
					Username:    "helper",
					ExternalID:  "2",
					DisplayName: "helper",
					ProfileURL:  "https://discord.com/users/2",
				},
			},
		},
		{
			name:  "unicode reaction without member",
			event: "MESSAGE_REACTION_ADD",
			data:  `{"guild_id":"g1","user_id":"3","message_id":"m1","emoji":{"id":null,"name":"🎁"}}`,
			ok:    true,
			want: airdrop.Notification{
				Platform:    platform.Discord,
				Action:      platform.Like,
				ContentID:   "m1",
				Marker:      "🎁",
				Participant: platform.Participant{ExternalID: "3"},
			},
		},
		{
			name:  "other guild",
			event: "MESSAGE_REACTION_ADD",
			data:  `{"guild_id":"g2","user_id":"3","message_id":"m1","emoji":{"name":"x"}}`,
		},
		{
			name:  "untracked event",
			event: "MESSAGE_CREATE",
			data:  `{}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok, err := s.notification(tt.event, json.RawMessage(tt.data))
			require.NoError(t, err)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				require.Equal(t, tt.want, n)
			}
		})
	}

	_, _, err := s.notification("GUILD_MEMBER_ADD", json.RawMessage(`[`))
	require.Error(t, err)
}
