package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"smallbiznis-airdrop/pkg/config"
	"smallbiznis-airdrop/pkg/retry"
)

// The RapidAPI endpoint wants a literal placeholder when there is no cursor.
const instagramFirstCursor = "{end_cursor}"

type instagramFollowers struct {
	Success bool `json:"success"`
	Data    struct {
		User []struct {
			PK       flexID `json:"pk_id"`
			Username string `json:"username"`
			FullName string `json:"full_name"`
		} `json:"user"`
		EndCursor string `json:"end_cursor"`
	} `json:"data"`
}

// flexID accepts ids sent either as numbers or strings.
type flexID string

func (j *flexID) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		*j = flexID(unq)
		return nil
	}
	*j = flexID(s)
	return nil
}

// InstagramClient lists followers through the instagram188 RapidAPI proxy.
type InstagramClient struct {
	http *httpClient
}

func NewInstagram(cfg config.Platform) *InstagramClient {
	h := http.Header{}
	h.Set("X-RapidAPI-Key", cfg.APIKey)
	h.Set("X-RapidAPI-Host", cfg.APIHost)
	return &InstagramClient{
		http: newHTTPClient(Instagram, cfg, h, relativeReset("x-ratelimit-requests-remaining", "x-ratelimit-requests-reset")),
	}
}

func (c *InstagramClient) Platform() Platform { return Instagram }

func (c *InstagramClient) Classifier() retry.Classifier { return instagramClassifier }

func (c *InstagramClient) ListParticipants(ctx context.Context, accountID string, pageSize int, cursor string) (*Page, error) {
	if cursor == "" {
		cursor = instagramFirstCursor
	}
	path := fmt.Sprintf("/userfollowers/%s/%d/%s", url.PathEscape(accountID), pageSize, url.PathEscape(cursor))

	var body instagramFollowers
	rl, err := c.http.getJSON(ctx, path, nil, &body)
	if err != nil {
		return nil, err
	}
	if !body.Success {
		return nil, fmt.Errorf("%w: instagram answered success=false", ErrMalformedResponse)
	}

	page := &Page{
		Records:    make([]Participant, 0, len(body.Data.User)),
		NextCursor: body.Data.EndCursor,
		RateLimit:  rl,
	}
	for _, u := range body.Data.User {
		page.Records = append(page.Records, Participant{
			Username:    u.Username,
			ExternalID:  string(u.PK),
			DisplayName: u.FullName,
			ProfileURL:  "https://www.instagram.com/" + u.Username,
		})
	}
	return page, nil
}
