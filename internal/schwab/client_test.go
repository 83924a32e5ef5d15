package schwab

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// setupTestServer creates a new test server and a Client configured to use it.
func setupTestServer(handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)

	c := &Client{
		client:  resty.New().SetBaseURL(server.URL),
		tokens:  StaticTokenSource("test_token"),
		logger:  zap.NewNop(),
		limiter: rate.NewLimiter(rate.Inf, 1), // Allow all requests in tests
		backoff: func(int) time.Duration { return time.Millisecond },
	}

	return c, server
}

const ordersFixture = `[
  {
    "orderId": 1001,
    "status": "FILLED",
    "enteredTime": "2026-01-05T14:30:00+0000",
    "closeTime": "2026-01-05T14:30:02+0000",
    "price": 2.00,
    "quantity": 1,
    "filledQuantity": 1,
    "orderLegCollection": [
      {
        "legId": 1,
        "orderLegType": "OPTION",
        "instruction": "BUY_TO_OPEN",
        "positionEffect": "OPENING",
        "quantity": 1,
        "instrument": {
          "assetType": "OPTION",
          "symbol": "SLV   260320C00090000",
          "underlyingSymbol": "SLV",
          "putCall": "CALL",
          "description": "ISHARES SILVER TR 03/20/2026 $90 Call"
        }
      }
    ],
    "orderActivityCollection": [
      {
        "activityType": "EXECUTION",
        "activityId": 77,
        "executionType": "FILL",
        "quantity": 1,
        "executionLegs": [
          {"legId": 1, "price": 2.00, "quantity": 1, "time": "2026-01-05T14:30:01+0000"}
        ]
      }
    ]
  }
]`

func TestGetOrders(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		// Arrange
		from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		to := time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC)

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/trader/v1/accounts/HASH/orders", r.URL.Path)
			assert.Equal(t, "Bearer test_token", r.Header.Get("Authorization"))
			assert.Equal(t, "2026-01-01T00:00:00.000Z", r.URL.Query().Get("fromEnteredTime"))
			assert.Equal(t, "2026-01-08T00:00:00.000Z", r.URL.Query().Get("toEnteredTime"))
			assert.Equal(t, "FILLED", r.URL.Query().Get("status"))
			assert.Equal(t, "3000", r.URL.Query().Get("maxResults"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(ordersFixture))
		})

		c, server := setupTestServer(handler)
		defer server.Close()
		c.SetAccountHash("HASH")

		// Act
		orders, err := c.GetOrders(context.Background(), OrdersQuery{From: from, To: to, Status: "FILLED", MaxResults: 3000})

		// Assert
		require.NoError(t, err)
		require.Len(t, orders, 1)
		o := orders[0]
		assert.Equal(t, int64(1001), o.OrderID)
		assert.Equal(t, time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC), o.EnteredTime.Time)
		require.Len(t, o.OrderLegCollection, 1)
		assert.Equal(t, "BUY_TO_OPEN", o.OrderLegCollection[0].Instruction)
		assert.Equal(t, "SLV", *o.OrderLegCollection[0].Instrument.UnderlyingSymbol)
		require.Len(t, o.OrderActivityCollection, 1)
		leg := o.OrderActivityCollection[0].ExecutionLegs[0]
		assert.True(t, decimal.RequireFromString("2").Equal(*leg.Price))
		assert.Nil(t, o.OrderLegCollection[0].Instrument.StrikePrice)
	})

	t.Run("RetriesServerErrors", func(t *testing.T) {
		// Arrange
		var calls int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[]`))
		})

		c, server := setupTestServer(handler)
		defer server.Close()

		// Act
		orders, err := c.GetOrders(context.Background(), OrdersQuery{From: time.Now().Add(-time.Hour), To: time.Now()})

		// Assert
		require.NoError(t, err)
		assert.Empty(t, orders)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("GivesUpAfterMaxRetries", func(t *testing.T) {
		// Arrange
		var calls int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		})

		c, server := setupTestServer(handler)
		defer server.Close()

		// Act
		_, err := c.GetOrders(context.Background(), OrdersQuery{From: time.Now().Add(-time.Hour), To: time.Now()})

		// Assert
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get orders")
		assert.Contains(t, err.Error(), "request failed after 3 attempts")
		assert.Equal(t, int32(maxRetries), atomic.LoadInt32(&calls))
	})

	t.Run("DoesNotRetryClientErrors", func(t *testing.T) {
		// Arrange
		var calls int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"bad window"}`))
		})

		c, server := setupTestServer(handler)
		defer server.Close()

		// Act
		_, err := c.GetOrders(context.Background(), OrdersQuery{From: time.Now(), To: time.Now()})

		// Assert
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad window")
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})
}

func TestGetPositions(t *testing.T) {
	// Arrange
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trader/v1/accounts", r.URL.Path)
		assert.Equal(t, "positions", r.URL.Query().Get("fields"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"securitiesAccount":{"accountNumber":"123","positions":[
			{"longQuantity":3,"shortQuantity":0,"instrument":{"assetType":"OPTION","symbol":"SLV   260320C00090000","underlyingSymbol":"SLV"}},
			{"longQuantity":0,"shortQuantity":2,"instrument":{"assetType":"OPTION","symbol":"SPY   260116P00500000","underlyingSymbol":"SPY"}}
		]}}]`))
	})

	c, server := setupTestServer(handler)
	defer server.Close()

	// Act
	positions, err := c.GetPositions(context.Background())

	// Assert
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.True(t, decimal.NewFromInt(3).Equal(positions[0].NetQuantity()))
	assert.True(t, decimal.NewFromInt(-2).Equal(positions[1].NetQuantity()))
}

// rotatingTokens returns a new token after each invalidation.
type rotatingTokens struct {
	tokens      []string
	invalidated int
}

func (r *rotatingTokens) Token(context.Context) (string, error) {
	return r.tokens[r.invalidated], nil
}

func (r *rotatingTokens) Invalidate() { r.invalidated++ }

func TestUnauthorizedRefreshesToken(t *testing.T) {
	// Arrange
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"accountNumber":"123","hashValue":"ABC"}]`))
	})

	c, server := setupTestServer(handler)
	defer server.Close()
	tokens := &rotatingTokens{tokens: []string{"stale", "fresh"}}
	c.tokens = tokens

	// Act
	numbers, err := c.GetAccountNumbers(context.Background())

	// Assert
	require.NoError(t, err)
	require.Len(t, numbers, 1)
	assert.Equal(t, "ABC", numbers[0].HashValue)
	assert.Equal(t, 1, tokens.invalidated)
}
