// Package marketdata talks to the remote coin/market API. It owns no wire
// format beyond the endpoint DTOs; everything it returns is mapped onto the
// shared models.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"wenmoon/internal/logger"
	"wenmoon/internal/models"

	"github.com/go-redis/redis_rate/v10"
	"go.uber.org/zap"
)

// ErrInvalidEndpoint indicates a misconfigured base URL or path.
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// requestsPerMinute caps outbound calls to stay inside the upstream API's
// free-tier quota.
const requestsPerMinute = 30

// Client is an HTTP client for the market data source. When a limiter is
// set, outbound requests are throttled through Redis so every process in
// the deployment shares one quota.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *redis_rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey attaches an API key header to every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithRateLimiter throttles outbound requests through the given limiter.
func WithRateLimiter(limiter *redis_rate.Limiter) Option {
	return func(c *Client) { c.limiter = limiter }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// NewClient builds a market data client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetCoins fetches full coin records for the given ids.
func (c *Client) GetCoins(ctx context.Context, ids []string) ([]models.Coin, error) {
	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))

	var coins []models.Coin
	if err := c.get(ctx, "/coins/markets", query, &coins); err != nil {
		return nil, err
	}
	return coins, nil
}

// GetCoinsAtPage fetches one page of the full coin listing, ordered by
// market cap.
func (c *Client) GetCoinsAtPage(ctx context.Context, page int) ([]models.Coin, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", "250")
	query.Set("order", "market_cap_desc")

	var coins []models.Coin
	if err := c.get(ctx, "/coins/markets", query, &coins); err != nil {
		return nil, err
	}
	return coins, nil
}

type searchResult struct {
	Coins []models.Coin `json:"coins"`
}

// SearchCoins looks coins up by free-text query.
func (c *Client) SearchCoins(ctx context.Context, q string) ([]models.Coin, error) {
	query := url.Values{}
	query.Set("query", q)

	var result searchResult
	if err := c.get(ctx, "/search", query, &result); err != nil {
		return nil, err
	}
	return result.Coins, nil
}

// GetMarketData fetches the current market snapshot per coin id.
func (c *Client) GetMarketData(ctx context.Context, ids []string) (map[string]models.MarketSnapshot, error) {
	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))

	var snapshots map[string]models.MarketSnapshot
	if err := c.get(ctx, "/simple/price", query, &snapshots); err != nil {
		return nil, err
	}
	return snapshots, nil
}

// GetChartData fetches price history for a symbol across all timeframes in
// one call, keyed by timeframe.
func (c *Client) GetChartData(ctx context.Context, symbol, currency string) (map[string][]models.ChartPoint, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("currency", currency)

	var chart map[string][]models.ChartPoint
	if err := c.get(ctx, "/chart", query, &chart); err != nil {
		return nil, err
	}
	return chart, nil
}

// GetGlobalCryptoMarketData fetches market-cap dominance shares.
func (c *Client) GetGlobalCryptoMarketData(ctx context.Context) (models.GlobalCryptoMarketData, error) {
	type globalEnvelope struct {
		Data models.GlobalCryptoMarketData `json:"data"`
	}

	var envelope globalEnvelope
	if err := c.get(ctx, "/global", nil, &envelope); err != nil {
		return models.GlobalCryptoMarketData{}, err
	}
	return envelope.Data, nil
}

// GetGlobalMarketData fetches the macro indicators (CPI, interest rate,
// upcoming dates).
func (c *Client) GetGlobalMarketData(ctx context.Context) (models.GlobalMarketData, error) {
	var global models.GlobalMarketData
	if err := c.get(ctx, "/global/macro", nil, &global); err != nil {
		return models.GlobalMarketData{}, err
	}
	return global, nil
}

// DownloadImage fetches a coin logo so it can be stored with the record.
func (c *Client) DownloadImage(ctx context.Context, imageURL string) ([]byte, error) {
	if imageURL == "" {
		return nil, fmt.Errorf("%w: empty image url", ErrInvalidEndpoint)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image request failed: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.waitForQuota(ctx); err != nil {
		return err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidEndpoint, endpoint)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed: %s returned status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// waitForQuota blocks until the shared per-minute quota admits one more
// request. A limiter failure fails open: the request proceeds.
func (c *Client) waitForQuota(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	for {
		res, err := c.limiter.Allow(ctx, "marketdata", redis_rate.PerMinute(requestsPerMinute))
		if err != nil {
			logger.Log.Warn("Rate limiter unavailable, proceeding", zap.Error(err))
			return nil
		}
		if res.Allowed > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(res.RetryAfter):
		}
	}
}
