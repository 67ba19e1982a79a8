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

type DiscordUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Bot        bool   `json:"bot"`
}

// Participant maps a Discord user; profile URLs use the user id since
// usernames are not addressable.
func (u DiscordUser) Participant() Participant {
	name := u.GlobalName
	if name == "" {
		name = u.Username
	}
	return Participant{
		Username:    u.Username,
		ExternalID:  u.ID,
		DisplayName: name,
		ProfileURL:  "https://discord.com/users/" + u.ID,
	}
}

type discordMember struct {
	User DiscordUser `json:"user"`
}

// DiscordClient lists guild members with a bot token. The guild is the
// monitored "account".
type DiscordClient struct {
	http *httpClient
}

func NewDiscord(cfg config.Platform) *DiscordClient {
	h := http.Header{}
	h.Set("Authorization", "Bot "+cfg.Token)
	return &DiscordClient{
		http: newHTTPClient(Discord, cfg, h, epochReset("X-RateLimit-Remaining", "X-RateLimit-Reset")),
	}
}

func (c *DiscordClient) Platform() Platform { return Discord }

func (c *DiscordClient) Classifier() retry.Classifier { return discordClassifier }

func (c *DiscordClient) ListParticipants(ctx context.Context, guildID string, pageSize int, cursor string) (*Page, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(pageSize))
	if cursor != "" {
		q.Set("after", cursor)
	}

	var members []discordMember
	rl, err := c.http.getJSON(ctx, fmt.Sprintf("/guilds/%s/members", url.PathEscape(guildID)), q, &members)
	if err != nil {
		return nil, err
	}

	page := &Page{RateLimit: rl}
	for _, m := range members {
		if m.User.Bot {
			page.Filtered++
			continue
		}
		page.Records = append(page.Records, m.User.Participant())
	}
	// Discord has no cursor field; a full page means there may be more after the last id.
	if len(members) == pageSize && len(members) > 0 {
		page.NextCursor = members[len(members)-1].User.ID
	}
	return page, nil
}

func (c *DiscordClient) FetchUser(ctx context.Context, externalID string) (*Participant, error) {
	var u DiscordUser
	if _, err := c.http.getJSON(ctx, "/users/"+url.PathEscape(externalID), nil, &u); err != nil {
		return nil, err
	}
	p := u.Participant()
	return &p, nil
}
