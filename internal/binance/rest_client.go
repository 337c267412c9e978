package binance

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"signal-backtest-go/internal/config"
	"signal-backtest-go/internal/market"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	apiPath       = "/api/v3"
	klineInterval = "1d"
	klineLimit    = 1000
	maxRetries    = 3
)

// RestClientInterface defines the market data calls the backtester needs.
type RestClientInterface interface {
	GetServerTime(ctx context.Context) (int64, error)
	GetDailyCloses(ctx context.Context, symbol string, start, end time.Time) ([]Close, error)
}

// Close is the closing price of one daily candle.
type Close struct {
	Date  time.Time
	Price decimal.Decimal
}

// RestClient is a client for the public Binance REST API.
type RestClient struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
	backoff time.Duration
}

// ensure RestClient implements the interface
var _ RestClientInterface = (*RestClient)(nil)

// NewRestClient creates a new Binance REST API client.
func NewRestClient(cfg *config.Binance, logger *zap.Logger) *RestClient {
	url := strings.TrimRight(cfg.BaseURL, "/") + apiPath
	logger.Info("Using Binance market data API", zap.String("url", url))

	client := resty.New().
		SetBaseURL(url).
		SetTimeout(time.Duration(cfg.Timeout) * time.Second)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:  client,
		logger:  logger,
		limiter: limiter,
		backoff: time.Second,
	}
}

// GetServerTime fetches the current server time from Binance.
// This is a good endpoint to test connectivity.
func (c *RestClient) GetServerTime(ctx context.Context) (int64, error) {
	type ServerTimeResponse struct {
		ServerTime int64 `json:"serverTime"`
	}

	req := c.client.R().
		SetContext(ctx).
		SetResult(&ServerTimeResponse{})

	resp, err := c.doRequest(ctx, http.MethodGet, "/time", req)
	if err != nil {
		c.logger.Error("Failed to get server time", zap.Error(err))
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}

	result := resp.Result().(*ServerTimeResponse)
	return result.ServerTime, nil
}

// GetDailyCloses fetches daily closing prices for symbol between start and
// end inclusive, paging through /klines.
func (c *RestClient) GetDailyCloses(ctx context.Context, symbol string, start, end time.Time) ([]Close, error) {
	start, end = market.Day(start), market.Day(end)
	var out []Close
	from := start
	for !from.After(end) {
		var rows [][]any
		req := c.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"symbol":    symbol,
				"interval":  klineInterval,
				"startTime": strconv.FormatInt(from.UnixMilli(), 10),
				"endTime":   strconv.FormatInt(end.Add(24*time.Hour-time.Millisecond).UnixMilli(), 10),
				"limit":     strconv.Itoa(klineLimit),
			}).
			SetResult(&rows)

		if _, err := c.doRequest(ctx, http.MethodGet, "/klines", req); err != nil {
			return nil, fmt.Errorf("failed to get klines for %s: %w", symbol, err)
		}

		last := from
		for _, row := range rows {
			cl, err := parseKline(row)
			if err != nil {
				return nil, fmt.Errorf("failed to parse kline for %s: %w", symbol, err)
			}
			last = cl.Date
			if cl.Date.After(end) {
				continue
			}
			out = append(out, cl)
		}
		if len(rows) < klineLimit {
			break
		}
		from = last.AddDate(0, 0, 1)
	}

	c.logger.Debug("Fetched daily closes", zap.String("symbol", symbol), zap.Int("count", len(out)))
	return out, nil
}

// parseKline reads the open time and close price of a kline row:
// [openTime, open, high, low, close, volume, closeTime, ...].
func parseKline(row []any) (Close, error) {
	if len(row) < 5 {
		return Close{}, fmt.Errorf("kline has %d fields", len(row))
	}
	openTime, ok := row[0].(float64)
	if !ok {
		return Close{}, fmt.Errorf("unexpected open time %v", row[0])
	}
	closeStr, ok := row[4].(string)
	if !ok {
		return Close{}, fmt.Errorf("unexpected close %v", row[4])
	}
	price, err := decimal.NewFromString(closeStr)
	if err != nil {
		return Close{}, err
	}
	return Close{Date: market.Day(time.UnixMilli(int64(openTime))), Price: price}, nil
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error

	for i := 0; i < maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && resp.RawResponse != nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == http.StatusTeapot {
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= http.StatusInternalServerError {
				shouldRetry = true
			}
			if err == nil {
				err = fmt.Errorf("status %s: %s", resp.Status(), resp.String())
			}
		} else {
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}
		if i == maxRetries-1 {
			break
		}

		if retryAfter == 0 {
			// exponential backoff: 1, 2, 4 units
			retryAfter = time.Duration(math.Pow(2, float64(i))) * c.backoff
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}
