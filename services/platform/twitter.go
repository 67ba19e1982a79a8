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

type twitterUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Location string `json:"location"`
	URL      string `json:"url"`
	Entities struct {
		URL struct {
			URLs []struct {
				ExpandedURL string `json:"expanded_url"`
			} `json:"urls"`
		} `json:"url"`
	} `json:"entities"`
}

type twitterFollowers struct {
	Data []twitterUser `json:"data"`
	Meta struct {
		ResultCount int    `json:"result_count"`
		NextToken   string `json:"next_token"`
	} `json:"meta"`
}

// TwitterClient lists followers through the v2 API with an app bearer token.
type TwitterClient struct {
	http *httpClient
}

func NewTwitter(cfg config.Platform) *TwitterClient {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+cfg.Token)
	return &TwitterClient{
		http: newHTTPClient(Twitter, cfg, h, epochReset("x-rate-limit-remaining", "x-rate-limit-reset")),
	}
}

func (c *TwitterClient) Platform() Platform { return Twitter }

func (c *TwitterClient) Classifier() retry.Classifier { return twitterClassifier }

func (c *TwitterClient) ListParticipants(ctx context.Context, accountID string, pageSize int, cursor string) (*Page, error) {
	q := url.Values{}
	q.Set("max_results", strconv.Itoa(pageSize))
	q.Set("user.fields", "id,name,username,location,url,entities")
	if cursor != "" {
		q.Set("pagination_token", cursor)
	}

	var body twitterFollowers
	rl, err := c.http.getJSON(ctx, fmt.Sprintf("/2/users/%s/followers", url.PathEscape(accountID)), q, &body)
	if err != nil {
		return nil, err
	}

	page := &Page{
		Records:    make([]Participant, 0, len(body.Data)),
		NextCursor: body.Meta.NextToken,
		RateLimit:  rl,
	}
	for _, u := range body.Data {
		page.Records = append(page.Records, twitterParticipant(u))
	}
	return page, nil
}

func twitterParticipant(u twitterUser) Participant {
	p := Participant{
		Username:    u.Username,
		ExternalID:  u.ID,
		DisplayName: u.Name,
		ProfileURL:  "https://twitter.com/" + u.Username,
		Location:    u.Location,
	}
	if urls := u.Entities.URL.URLs; len(urls) > 0 {
		p.Website = urls[0].ExpandedURL
	}
	return p
}
