package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"smallbiznis-airdrop/pkg/config"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const maxErrorBody = 512

// httpClient is the JSON-over-HTTP plumbing shared by the adapters.
type httpClient struct {
	platform  Platform
	baseURL   string
	client    *http.Client
	limiter   *rate.Limiter
	header    http.Header
	rateLimit func(h http.Header, now time.Time) RateLimit
	now       func() time.Time
}

func newHTTPClient(p Platform, cfg config.Platform, header http.Header, rl func(http.Header, time.Time) RateLimit) *httpClient {
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(cfg.RequestsPerMinute / 60.0)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &httpClient{
		platform: p,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter:   rate.NewLimiter(limit, burst),
		header:    header,
		rateLimit: rl,
		now:       time.Now,
	}
}

// getJSON fetches path and decodes the body into out. It returns the rate
// limit reported alongside the response.
func (c *httpClient) getJSON(ctx context.Context, path string, query url.Values, out any) (RateLimit, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return RateLimit{}, err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return RateLimit{}, err
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return RateLimit{}, err
	}
	defer resp.Body.Close()

	rl := RateLimit{}
	if c.rateLimit != nil {
		rl = c.rateLimit(resp.Header, c.now())
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{
			Platform:   c.platform,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			Wait:       retryAfter(resp.Header),
		}
		if !rl.ResetAt.IsZero() {
			if until := rl.ResetAt.Sub(c.now()); until > apiErr.Wait {
				apiErr.Wait = until
			}
		}
		return rl, apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return rl, fmt.Errorf("%w: decode %s: %v", ErrMalformedResponse, path, err)
	}
	return rl, nil
}

func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}

func headerInt(h http.Header, key string) (int, bool) {
	v := h.Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// epochReset reads a remaining/reset pair where reset is a unix timestamp.
func epochReset(remainingKey, resetKey string) func(http.Header, time.Time) RateLimit {
	return func(h http.Header, _ time.Time) RateLimit {
		remaining, ok := headerInt(h, remainingKey)
		if !ok {
			return RateLimit{}
		}
		secs, err := strconv.ParseFloat(h.Get(resetKey), 64)
		if err != nil || secs <= 0 {
			return RateLimit{}
		}
		return RateLimit{Remaining: remaining, ResetAt: time.Unix(0, int64(secs*float64(time.Second)))}
	}
}

// relativeReset reads a remaining/reset pair where reset is seconds from now.
func relativeReset(remainingKey, resetKey string) func(http.Header, time.Time) RateLimit {
	return func(h http.Header, now time.Time) RateLimit {
		remaining, ok := headerInt(h, remainingKey)
		if !ok {
			return RateLimit{}
		}
		secs, ok := headerInt(h, resetKey)
		if !ok {
			return RateLimit{}
		}
		return RateLimit{Remaining: remaining, ResetAt: now.Add(time.Duration(secs) * time.Second)}
	}
}
