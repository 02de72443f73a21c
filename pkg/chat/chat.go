package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the chat platform (guild/role/DM) settings.
type Config struct {
	BaseURL  string
	BotToken string
	GuildID  string
	// AdminChannel receives out-of-band alerts when a lifecycle side-effect
	// fails persistently. Blank falls back to log-only alerting.
	AdminChannel string
	Timeout      time.Duration
}

// Client wraps the chat API. Every method reports success as a boolean and
// never raises across the boundary: any non-2xx response or transport error
// is false.
type Client struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
}

// New constructs a chat API client.
func New(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "chat").Logger(),
	}
}

// AssignRole grants the role to the guild member.
func (c *Client) AssignRole(ctx context.Context, userID, roleID string) bool {
	url := fmt.Sprintf("%s/guilds/%s/members/%s/roles/%s", c.base(), c.cfg.GuildID, userID, roleID)
	return c.do(ctx, http.MethodPut, url, nil)
}

// RevokeRole removes the role from the guild member.
func (c *Client) RevokeRole(ctx context.Context, userID, roleID string) bool {
	url := fmt.Sprintf("%s/guilds/%s/members/%s/roles/%s", c.base(), c.cfg.GuildID, userID, roleID)
	return c.do(ctx, http.MethodDelete, url, nil)
}

// SendChannelMessage posts a text message to a channel.
func (c *Client) SendChannelMessage(ctx context.Context, channelID, content string) bool {
	url := fmt.Sprintf("%s/channels/%s/messages", c.base(), channelID)
	return c.do(ctx, http.MethodPost, url, map[string]string{"content": content})
}

// SendDM opens a direct-message channel with the user and posts the content.
func (c *Client) SendDM(ctx context.Context, userID, content string) bool {
	url := fmt.Sprintf("%s/users/@me/channels", c.base())
	body, err := json.Marshal(map[string]string{"recipient_id": userID})
	if err != nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to open dm channel")
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().Int("status", resp.StatusCode).Msg("dm channel request rejected")
		return false
	}

	var channel struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&channel); err != nil || channel.ID == "" {
		return false
	}

	return c.SendChannelMessage(ctx, channel.ID, content)
}

// AlertAdmin delivers an out-of-band alert to the configured admin channel,
// returning false when no channel is configured or the post fails.
func (c *Client) AlertAdmin(ctx context.Context, content string) bool {
	if c.cfg.AdminChannel == "" {
		return false
	}
	return c.SendChannelMessage(ctx, c.cfg.AdminChannel, content)
}

func (c *Client) do(ctx context.Context, method, url string, payload any) bool {
	var reader *bytes.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return false
		}
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return false
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", url).Msg("chat api request failed")
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().Int("status", resp.StatusCode).Str("url", url).Msg("chat api rejected request")
		return false
	}

	return true
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.BotToken)
}

func (c *Client) base() string {
	return strings.TrimSuffix(c.cfg.BaseURL, "/")
}
