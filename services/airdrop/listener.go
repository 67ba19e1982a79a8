package airdrop

import (
	"context"
	"fmt"
	"net/url"

	"smallbiznis-airdrop/pkg/retry"
	"smallbiznis-airdrop/services/platform"

	"go.uber.org/zap"
)

// Notification is one pushed participant action.
type Notification struct {
	Platform    platform.Platform    `json:"platform"`
	Action      platform.ActionType  `json:"action"`
	ContentID   string               `json:"content_id,omitempty"`
	Marker      string               `json:"marker,omitempty"`
	Bot         bool                 `json:"bot,omitempty"`
	Participant platform.Participant `json:"participant"`
}

// Listener reconciles pushed notifications one at a time through the same
// engine and writer as the poll path.
type Listener struct {
	registry *platform.Registry
	resolver *Resolver
	engine   *Engine
	writer   *Writer
	metrics  *Metrics
}

func NewListener(registry *platform.Registry, resolver *Resolver, engine *Engine, writer *Writer, metrics *Metrics) *Listener {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Listener{
		registry: registry,
		resolver: resolver,
		engine:   engine,
		writer:   writer,
		metrics:  metrics,
	}
}

func (l *Listener) Handle(ctx context.Context, n Notification) (*Result, error) {
	log := zap.L().With(
		zap.String("platform", string(n.Platform)),
		zap.String("action", string(n.Action)),
		zap.String("username", n.Participant.Username),
		zap.String("external_id", n.Participant.ExternalID),
	)

	if !n.Platform.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrPlatformUnknown, n.Platform)
	}
	if n.Bot {
		log.Debug("[listener] ignoring bot")
		return &Result{Kind: Skipped}, nil
	}

	if n.Action == platform.Like {
		marker := l.registry.Config(n.Platform).Push.ReactionMarker
		if marker != "" && !sameMarker(n.Marker, marker) {
			log.Debug("[listener] ignoring reaction", zap.String("marker", n.Marker))
			return &Result{Kind: Skipped}, nil
		}
	}

	cc, err := l.resolver.Resolve(ctx, n.Platform, n.Action)
	if err != nil {
		return nil, err
	}

	if n.ContentID != "" && cc.Event != nil && n.Action.RequiresEvent() && n.ContentID != cc.Event.ContentID {
		log.Debug("[listener] notification is not about the active event",
			zap.String("content_id", n.ContentID), zap.String("event_content_id", cc.Event.ContentID))
		return &Result{Kind: Skipped}, nil
	}

	rec, err := l.enrich(ctx, n.Platform, n.Participant)
	if err != nil {
		return nil, &RecordError{Stage: "enrich", Platform: n.Platform, Username: n.Participant.ExternalID, Err: err}
	}

	d, err := l.engine.Decide(ctx, Input{Participant: rec, Context: cc})
	if err != nil {
		return nil, &RecordError{Stage: "decide", Platform: n.Platform, Username: rec.Username, Err: err}
	}

	res, err := l.writer.Commit(ctx, d)
	if err != nil {
		return nil, err
	}

	l.metrics.decision(n.Platform, res.Kind)
	log.Info("[listener] notification reconciled",
		zap.String("decision", string(res.Kind)),
		zap.String("tracker_id", res.TrackerID))
	return res, nil
}

// enrich looks the user up when the notification only carries an id.
func (l *Listener) enrich(ctx context.Context, p platform.Platform, rec platform.Participant) (platform.Participant, error) {
	if rec.Username != "" || rec.ExternalID == "" {
		return rec, nil
	}
	client, ok := l.registry.Client(p)
	if !ok {
		return rec, nil
	}
	fetcher, ok := client.(platform.UserFetcher)
	if !ok {
		return rec, nil
	}

	policy := l.registry.Policy(p, func(class retry.Class, attempt int, err error) {
		l.metrics.retry(p, class)
	})
	user, err := retry.Execute(ctx, policy, func(ctx context.Context) (*platform.Participant, error) {
		return fetcher.FetchUser(ctx, rec.ExternalID)
	})
	if err != nil {
		return rec, err
	}

	out := *user
	if out.ExternalID == "" {
		out.ExternalID = rec.ExternalID
	}
	return out, nil
}

// sameMarker compares reaction markers in either raw or URL-encoded form, so
// "🎉" matches "%F0%9F%8E%89". Custom emoji are "name:id" in both forms.
func sameMarker(a, b string) bool {
	return unescapeMarker(a) == unescapeMarker(b)
}

func unescapeMarker(s string) string {
	if u, err := url.PathUnescape(s); err == nil {
		return u
	}
	return s
}
