// Package pricing talks to the external pricing and payment service.
package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"tableside/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Client quotes visits and charges guests. Without a base URL it prices every
// seat at a flat rate and accepts every charge.
type Client struct {
	baseURL      string
	apiKey       string
	pricePerSeat int64
	httpClient   *http.Client
	logger       *zerolog.Logger

	redis    *redis.Client
	cacheTTL time.Duration
}

// QuoteRequest is the body of POST /v1/quotes.
type QuoteRequest struct {
	PartySize     int `json:"party_size"`
	DiningMinutes int `json:"dining_minutes"`
}

// QuoteResponse is returned by POST /v1/quotes.
type QuoteResponse struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency,omitempty"`
}

// ChargeRequest is the body of POST /v1/charges.
type ChargeRequest struct {
	Reference string `json:"reference"`
	Code      string `json:"confirmation_code"`
	Amount    int64  `json:"amount"`
}

// ChargeResponse is returned by POST /v1/charges.
type ChargeResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// StatusError is a non-2xx answer from the pricing service.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("pricing service: http %d", e.Code)
}

func NewClient(cfg config.PricingConfig, logger *zerolog.Logger) *Client {
	l := logger.With().Str("component", "pricing").Logger()
	return &Client{
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		pricePerSeat: cfg.PricePerSeatCents,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		logger:       &l,
	}
}

// UseRedisCache enables caching of quotes.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// Quote returns the price of a visit in minor currency units.
func (c *Client) Quote(ctx context.Context, partySize, diningMinutes int) (int64, error) {
	if c.baseURL == "" {
		return c.pricePerSeat * int64(partySize), nil
	}

	cacheKey := "tableside:quote:" + strconv.Itoa(partySize) + ":" + strconv.Itoa(diningMinutes)
	var resp QuoteResponse
	if c.readCache(ctx, cacheKey, &resp) {
		return resp.Amount, nil
	}

	body := QuoteRequest{PartySize: partySize, DiningMinutes: diningMinutes}
	if err := c.doPost(ctx, c.baseURL+"/v1/quotes", "", body, &resp); err != nil {
		return 0, fmt.Errorf("quote party of %d: %w", partySize, err)
	}
	if resp.Amount < 0 {
		return 0, fmt.Errorf("quote party of %d: negative amount %d", partySize, resp.Amount)
	}
	c.writeCache(ctx, cacheKey, resp)
	return resp.Amount, nil
}

// Charge collects amount for the reservation code. ref is sent as the
// idempotency key so a retried charge is not collected twice.
func (c *Client) Charge(ctx context.Context, ref, code string, amount int64) error {
	if c.baseURL == "" {
		c.logger.Info().Str("code", code).Str("ref", ref).Int64("amount", amount).Msg("Charge accepted without payment service")
		return nil
	}

	var resp ChargeResponse
	body := ChargeRequest{Reference: ref, Code: code, Amount: amount}
	if err := c.doPost(ctx, c.baseURL+"/v1/charges", ref, body, &resp); err != nil {
		return fmt.Errorf("charge %s: %w", code, err)
	}
	if resp.Status != "succeeded" {
		if resp.Error != "" {
			return fmt.Errorf("charge %s declined: %s", code, resp.Error)
		}
		return fmt.Errorf("charge %s: status %q", code, resp.Status)
	}
	return nil
}

// HealthCheck pings the pricing service. It is a no-op in flat-rate mode.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.baseURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.cacheTTL).Err(); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("quote cache write failed")
	}
}

func (c *Client) doPost(ctx context.Context, endpoint, idempotencyKey string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
