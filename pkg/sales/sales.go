package sales

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// tokenCacheKey stores the bearer token in the shared TTL store so every
// worker reuses one valid token instead of hammering the token endpoint.
const tokenCacheKey = "sales:token:default"

// tokenTTLMargin is subtracted from expires_in so the cached token is
// dropped before the platform actually rejects it.
const tokenTTLMargin = 300 * time.Second

// Config holds the sales platform API credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	TokenURL     string
	Timeout      time.Duration
}

// Client consumes the sales platform REST API. Token acquisition uses HTTP
// Basic client-credentials; data endpoints use cursor pagination through
// page_info.next_page_token.
type Client struct {
	cfg    Config
	http   *http.Client
	cache  *redis.Client
	logger zerolog.Logger
}

// Subscription is one active recurring purchase.
type Subscription struct {
	SubscriberEmail string `json:"subscriber_email"`
	SubscriberName  string `json:"subscriber_name"`
	ProductID       string `json:"product_id"`
	Status          string `json:"status"`
}

// Sale is one transaction from the sales history endpoint.
type Sale struct {
	BuyerEmail        string `json:"buyer_email"`
	BuyerName         string `json:"buyer_name"`
	ProductID         string `json:"product_id"`
	TransactionID     string `json:"transaction"`
	TransactionStatus string `json:"transaction_status"`
}

// BuyerContact carries the contact details the users endpoint exposes.
type BuyerContact struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// HistoryQuery filters the sales history endpoint.
type HistoryQuery struct {
	TransactionStatus string
	StartDate         time.Time
	EndDate           time.Time
	ProductID         string
}

// New constructs a sales API client backed by the given Redis TTL store.
func New(cfg Config, cache *redis.Client, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		cache:  cache,
		logger: logger.With().Str("component", "sales_api").Logger(),
	}
}

// ListSubscriptions returns every active subscription for the product.
func (c *Client) ListSubscriptions(ctx context.Context, productID string) ([]Subscription, error) {
	query := url.Values{}
	query.Set("status", "ACTIVE")
	if productID != "" {
		query.Set("product_id", productID)
	}

	var out []Subscription
	err := c.paginate(ctx, "/subscriptions", query, func(items json.RawMessage) error {
		var page []Subscription
		if err := json.Unmarshal(items, &page); err != nil {
			return err
		}
		out = append(out, page...)
		return nil
	})
	return out, err
}

// ListSalesHistory returns transactions matching the query.
func (c *Client) ListSalesHistory(ctx context.Context, q HistoryQuery) ([]Sale, error) {
	query := url.Values{}
	query.Set("transaction_status", q.TransactionStatus)
	query.Set("start_date", fmt.Sprintf("%d", q.StartDate.UnixMilli()))
	query.Set("end_date", fmt.Sprintf("%d", q.EndDate.UnixMilli()))
	if q.ProductID != "" {
		query.Set("product_id", q.ProductID)
	}

	var out []Sale
	err := c.paginate(ctx, "/sales/history", query, func(items json.RawMessage) error {
		var page []Sale
		if err := json.Unmarshal(items, &page); err != nil {
			return err
		}
		out = append(out, page...)
		return nil
	})
	return out, err
}

// ListUsers returns the buyer contact details for the product.
func (c *Client) ListUsers(ctx context.Context, productID string) ([]BuyerContact, error) {
	query := url.Values{}
	if productID != "" {
		query.Set("product_id", productID)
	}

	var out []BuyerContact
	err := c.paginate(ctx, "/sales/users", query, func(items json.RawMessage) error {
		var page []BuyerContact
		if err := json.Unmarshal(items, &page); err != nil {
			return err
		}
		out = append(out, page...)
		return nil
	})
	return out, err
}

type pageEnvelope struct {
	Items    json.RawMessage `json:"items"`
	PageInfo struct {
		NextPageToken string `json:"next_page_token"`
	} `json:"page_info"`
}

func (c *Client) paginate(ctx context.Context, path string, query url.Values, collect func(json.RawMessage) error) error {
	pageToken := ""
	for {
		values := url.Values{}
		for key, vals := range query {
			values[key] = vals
		}
		if pageToken != "" {
			values.Set("page_token", pageToken)
		}

		endpoint := fmt.Sprintf("%s%s?%s", strings.TrimSuffix(c.cfg.BaseURL, "/"), path, values.Encode())
		body, err := c.getPage(ctx, endpoint)
		if err != nil {
			return err
		}

		var envelope pageEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return fmt.Errorf("decode sales page: %w", err)
		}
		if len(envelope.Items) > 0 {
			if err := collect(envelope.Items); err != nil {
				return fmt.Errorf("decode sales items: %w", err)
			}
		}

		if envelope.PageInfo.NextPageToken == "" {
			return nil
		}
		pageToken = envelope.PageInfo.NextPageToken
	}
}

// getPage fetches one page with bearer auth. A 401 invalidates the cached
// token and retries the page once with a freshly fetched one.
func (c *Client) getPage(ctx context.Context, endpoint string) ([]byte, error) {
	body, status, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		c.invalidateToken(ctx)
		body, status, err = c.get(ctx, endpoint)
		if err != nil {
			return nil, err
		}
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("sales api returned status %d", status)
	}

	return body, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, int, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	return body, resp.StatusCode, nil
}

// token returns a valid bearer token, preferring the shared cache. A miss
// performs the client-credentials exchange and caches the result with a TTL
// shorter than the token's real lifetime.
func (c *Client) token(ctx context.Context) (string, error) {
	if c.cache != nil {
		cached, err := c.cache.Get(ctx, tokenCacheKey).Result()
		if err == nil && cached != "" {
			return cached, nil
		}
	}

	token, expiresIn, err := c.fetchToken(ctx)
	if err != nil {
		return "", err
	}

	if c.cache != nil {
		ttl := time.Duration(expiresIn)*time.Second - tokenTTLMargin
		if ttl < time.Minute {
			ttl = time.Minute
		}
		if err := c.cache.Set(ctx, tokenCacheKey, token, ttl).Err(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to cache sales token")
		}
	}

	return token, nil
}

func (c *Client) invalidateToken(ctx context.Context) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Del(ctx, tokenCacheKey).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to invalidate sales token")
	}
}

func (c *Client) fetchToken(ctx context.Context) (string, int, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("fetch sales token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("sales token endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", 0, fmt.Errorf("decode sales token: %w", err)
	}
	if payload.AccessToken == "" {
		return "", 0, fmt.Errorf("sales token endpoint returned empty token")
	}

	return payload.AccessToken, payload.ExpiresIn, nil
}
