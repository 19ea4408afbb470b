package quotes

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"brokerd/internal/config"
)

// Client fetches prices from a quote API over HTTP. It rate-limits
// outbound requests and retries transient failures with backoff.
type Client struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
}

// ensure Client implements the interface
var _ Provider = (*Client)(nil)

// NewClient creates an HTTP quote provider from the quotes config section.
func NewClient(cfg *config.Quotes, logger *zap.Logger) *Client {
	client := resty.New().SetBaseURL(cfg.BaseURL)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &Client{
		client:  client,
		logger:  logger,
		limiter: limiter,
	}
}

// quoteResponse is the body returned by the quote API.
type quoteResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Price fetches the current price for symbol. A 404 from the API means the
// symbol is not quoted and maps to ErrSymbolNotFound; transient failures
// are retried before giving up.
func (c *Client) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	req := c.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&quoteResponse{})

	resp, err := c.doRequest(ctx, http.MethodGet, "/quote", req)
	if err != nil {
		c.logger.Error("Failed to fetch quote", zap.String("symbol", symbol), zap.Error(err))
		return decimal.Decimal{}, err
	}

	result := resp.Result().(*quoteResponse)
	price, err := decimal.NewFromString(result.Price)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("quote API returned unparsable price %q for %s: %w", result.Price, symbol, err)
	}
	return price, nil
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *Client) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && err == nil {
			statusCode := resp.StatusCode()
			switch {
			case statusCode == http.StatusNotFound:
				return nil, ErrSymbolNotFound
			case statusCode == http.StatusTooManyRequests:
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			case statusCode >= 500: // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("quote request failed with status %s: %s", resp.Status(), resp.String())
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Quote request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("quote request failed after %d attempts: %w", maxRetries, err)
}
