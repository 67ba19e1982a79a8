package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"smallbiznis-airdrop/pkg/retry"
)

type Platform string

const (
	Twitter   Platform = "TWITTER"
	Instagram Platform = "INSTAGRAM"
	Discord   Platform = "DISCORD"
)

func (p Platform) Valid() bool {
	switch p {
	case Twitter, Instagram, Discord:
		return true
	}
	return false
}

// Parse accepts a platform name in any case.
func Parse(s string) (Platform, error) {
	p := Platform(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown platform %q", s)
	}
	return p, nil
}

type ActionType string

const (
	Follow ActionType = "FOLLOW"
	Like   ActionType = "LIKE"
)

func ParseAction(s string) (ActionType, error) {
	a := ActionType(strings.ToUpper(strings.TrimSpace(s)))
	switch a {
	case Follow, Like:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// RequiresEvent reports whether the action targets a content item.
func (a ActionType) RequiresEvent() bool {
	return a == Like
}

// Participant is one raw record as returned by a platform.
type Participant struct {
	Username    string `json:"username"`
	ExternalID  string `json:"external_id"`
	DisplayName string `json:"display_name"`
	ProfileURL  string `json:"profile_url,omitempty"`
	Location    string `json:"location,omitempty"`
	Website     string `json:"website,omitempty"`
}

// RateLimit is the quota left after a page. A zero ResetAt means the provider
// did not report one.
type RateLimit struct {
	Remaining int
	ResetAt   time.Time
}

func (r RateLimit) Exhausted() bool {
	return !r.ResetAt.IsZero() && r.Remaining <= 0
}

type Page struct {
	Records []Participant
	// Filtered counts entries the adapter dropped from Records, such as bots.
	// A page with only filtered entries is not the end of the listing.
	Filtered   int
	NextCursor string
	RateLimit  RateLimit
}

// Client lists the participants of a monitored account, one page at a time.
type Client interface {
	Platform() Platform
	ListParticipants(ctx context.Context, accountID string, pageSize int, cursor string) (*Page, error)
	Classifier() retry.Classifier
}

// UserFetcher is implemented by clients that can look up a single user.
type UserFetcher interface {
	FetchUser(ctx context.Context, externalID string) (*Participant, error)
}

var ErrMalformedResponse = errors.New("malformed response")

// APIError is a non-2xx answer from a platform.
type APIError struct {
	Platform   Platform
	StatusCode int
	Wait       time.Duration
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api: %d %s: %s", strings.ToLower(string(e.Platform)), e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// RetryAfter implements retry.Waiter.
func (e *APIError) RetryAfter() time.Duration {
	return e.Wait
}

// StatusIn matches APIErrors carrying one of the given status codes.
func StatusIn(codes ...int) func(error) bool {
	return func(err error) bool {
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			return false
		}
		for _, c := range codes {
			if apiErr.StatusCode == c {
				return true
			}
		}
		return false
	}
}

// PollFailure means a page could not be fetched; it ends the run.
type PollFailure struct {
	Platform Platform
	Account  string
	Cursor   string
	Page     int
	Err      error
}

func (e *PollFailure) Error() string {
	return fmt.Sprintf("poll %s account %s page %d (cursor %q): %v", e.Platform, e.Account, e.Page, e.Cursor, e.Err)
}

func (e *PollFailure) Unwrap() error {
	return e.Err
}
