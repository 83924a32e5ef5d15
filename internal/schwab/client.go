package schwab

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"schwab-discord-notifier/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	ordersPath         = "/trader/v1/orders"
	accountsPath       = "/trader/v1/accounts"
	accountNumbersPath = "/trader/v1/accounts/accountNumbers"
	queryTimeLayout    = "2006-01-02T15:04:05.000Z"
	maxRetries         = 3
)

// ClientInterface defines the Trader API calls the notifier depends on.
type ClientInterface interface {
	GetOrders(ctx context.Context, q OrdersQuery) ([]Order, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetAccountNumbers(ctx context.Context) ([]AccountNumber, error)
}

// OrdersQuery selects orders entered within a time window.
type OrdersQuery struct {
	From       time.Time
	To         time.Time
	Status     string
	MaxResults int
}

// Client is a client for the Schwab Trader API.
// It implements the ClientInterface.
type Client struct {
	client      *resty.Client
	tokens      TokenSource
	accountHash string
	logger      *zap.Logger
	limiter     *rate.Limiter
	backoff     func(attempt int) time.Duration
}

// ensure Client implements the interface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a new Trader API client.
func NewClient(cfg *config.Schwab, tokens TokenSource, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &Client{
		client:      client,
		tokens:      tokens,
		accountHash: cfg.AccountHash,
		logger:      logger.Named("schwab"),
		limiter:     limiter,
		backoff:     exponentialBackoff,
	}
}

// SetAccountHash scopes order queries to a single account.
func (c *Client) SetAccountHash(hash string) {
	c.accountHash = hash
}

// GetOrders fetches the orders entered within the query window.
func (c *Client) GetOrders(ctx context.Context, q OrdersQuery) ([]Order, error) {
	path := ordersPath
	if c.accountHash != "" {
		path = fmt.Sprintf("%s/%s/orders", accountsPath, c.accountHash)
	}

	params := map[string]string{
		"fromEnteredTime": q.From.UTC().Format(queryTimeLayout),
		"toEnteredTime":   q.To.UTC().Format(queryTimeLayout),
	}
	if q.Status != "" {
		params["status"] = q.Status
	}
	if q.MaxResults > 0 {
		params["maxResults"] = strconv.Itoa(q.MaxResults)
	}

	var orders []Order
	req := c.client.R().
		SetQueryParams(params).
		SetResult(&orders)

	resp, err := c.doRequest(ctx, http.MethodGet, path, req)
	if err != nil {
		return nil, fmt.Errorf("failed to get orders: %w", err)
	}

	return *resp.Result().(*[]Order), nil
}

// GetPositions fetches the open positions across the linked accounts.
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	var accounts []Account
	req := c.client.R().
		SetQueryParam("fields", "positions").
		SetResult(&accounts)

	resp, err := c.doRequest(ctx, http.MethodGet, accountsPath, req)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	var positions []Position
	for _, a := range *resp.Result().(*[]Account) {
		positions = append(positions, a.SecuritiesAccount.Positions...)
	}
	return positions, nil
}

// GetAccountNumbers lists the linked accounts and their URL hashes.
// It doubles as a connectivity check at startup.
func (c *Client) GetAccountNumbers(ctx context.Context) ([]AccountNumber, error) {
	var numbers []AccountNumber
	req := c.client.R().SetResult(&numbers)

	resp, err := c.doRequest(ctx, http.MethodGet, accountNumbersPath, req)
	if err != nil {
		return nil, fmt.Errorf("failed to get account numbers: %w", err)
	}
	return *resp.Result().(*[]AccountNumber), nil
}

// doRequest handles the actual request execution with rate limiting, auth and retry logic.
func (c *Client) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error

	req.SetContext(ctx)

	for i := 0; i < maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		token, tokenErr := c.tokens.Token(ctx)
		if tokenErr != nil {
			return nil, fmt.Errorf("failed to obtain access token: %w", tokenErr)
		}
		req.SetAuthToken(token)

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		var retryAfter time.Duration

		if err == nil && resp != nil {
			shouldRetry := false
			statusCode := resp.StatusCode()
			switch {
			case statusCode == http.StatusUnauthorized:
				// Token may have been revoked server side.
				c.tokens.Invalidate()
				shouldRetry = true
				retryAfter = time.Millisecond
			case statusCode == http.StatusTooManyRequests:
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			case statusCode >= 500:
				shouldRetry = true
			}
			if !shouldRetry {
				return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
			}
			err = fmt.Errorf("status %s", resp.Status())
		}

		if i == maxRetries-1 {
			break
		}

		if retryAfter == 0 {
			retryAfter = c.backoff(i)
		}

		c.logger.Warn("Request failed, retrying...",
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

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// exponentialBackoff waits 1s, 2s, 4s...
func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}
