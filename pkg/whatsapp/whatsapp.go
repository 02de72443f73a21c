package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the messaging transport settings. When DevMode is on the
// client writes each message to a file under DevDir instead of calling HTTP,
// which keeps local development free of real sends.
type Config struct {
	BaseURL  string
	Instance string
	APIKey   string
	DevMode  bool
	DevDir   string
	Timeout  time.Duration
}

// Client wraps the WhatsApp transport. SendText reports success or failure
// and never panics across the boundary; callers decide how to react.
type Client struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
}

// New constructs a messaging transport client.
func New(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "whatsapp").Logger(),
	}
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// SendText delivers a text message to the given phone. The phone is
// normalised first; an empty normalisation result counts as failure.
func (c *Client) SendText(ctx context.Context, phone, text string) bool {
	number := NormalizePhone(phone)
	if number == "" {
		c.logger.Warn().Str("phone", phone).Msg("refusing to send to unnormalisable phone")
		return false
	}

	if c.cfg.DevMode {
		return c.writeDevFile(number, text)
	}

	if c.cfg.BaseURL == "" || c.cfg.Instance == "" {
		c.logger.Warn().Msg("whatsapp transport not configured")
		return false
	}

	payload, err := json.Marshal(sendTextRequest{Number: number, Text: text})
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to encode message payload")
		return false
	}

	url := fmt.Sprintf("%s/message/sendText/%s", strings.TrimSuffix(c.cfg.BaseURL, "/"), c.cfg.Instance)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to build send request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("number", number).Msg("message send failed")
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().Int("status", resp.StatusCode).Str("number", number).Msg("transport rejected message")
		return false
	}

	return true
}

func (c *Client) writeDevFile(number, text string) bool {
	if err := os.MkdirAll(c.cfg.DevDir, 0o755); err != nil {
		c.logger.Error().Err(err).Msg("failed to create dev message directory")
		return false
	}

	name := fmt.Sprintf("%s-%d.txt", number, time.Now().UnixNano())
	path := filepath.Join(c.cfg.DevDir, name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		c.logger.Error().Err(err).Msg("failed to write dev message file")
		return false
	}

	c.logger.Info().Str("path", path).Msg("dev mode message written to file")
	return true
}

// NormalizePhone strips non-digits and leading zeros, then applies the
// Brazilian-local heuristic: 10 or 11 remaining digits get the 55 country
// code prefixed; 12 or more digits are assumed to carry their own code.
// Anything shorter is unusable and yields the empty string.
func NormalizePhone(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}

	cleaned := strings.TrimLeft(digits.String(), "0")
	switch {
	case len(cleaned) == 10 || len(cleaned) == 11:
		return "55" + cleaned
	case len(cleaned) >= 12:
		return cleaned
	default:
		return ""
	}
}
