package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"binance-signal-engine/internal/candle"
)

const (
	klinesPath  = "/fapi/v1/klines"
	maxAttempts = 3
)

// RESTClient fetches historical klines from the Binance futures REST API.
// All requests pass through a shared token bucket so concurrent backfills
// stay inside the exchange request budget.
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxPerReq  int
	logger     zerolog.Logger

	requestCount atomic.Int64
	errorCount   atomic.Int64
}

// RESTConfig carries the tunables for the REST client.
type RESTConfig struct {
	BaseURL              string
	RateLimitPerMinute   int
	MaxCandlesPerRequest int
	Timeout              time.Duration
}

// NewRESTClient creates a REST client with rate limiting.
func NewRESTClient(cfg RESTConfig, logger zerolog.Logger) *RESTClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxCandlesPerRequest <= 0 || cfg.MaxCandlesPerRequest > 1500 {
		cfg.MaxCandlesPerRequest = 1500
	}
	perSecond := float64(cfg.RateLimitPerMinute) / 60.0
	if perSecond <= 0 {
		perSecond = 20
	}

	return &RESTClient{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(perSecond), cfg.RateLimitPerMinute/60+1),
		maxPerReq:  cfg.MaxCandlesPerRequest,
		logger:     logger.With().Str("component", "binance_rest").Logger(),
	}
}

// GetKlines fetches up to limit closed candles for a symbol/interval, ending
// at endTime (zero means "now"). Results are returned oldest-first. When limit
// exceeds the per-request maximum the client paginates backward, moving
// endTime to one millisecond before the oldest candle of each page.
func (c *RESTClient) GetKlines(ctx context.Context, symbol, interval string, limit int, endTime time.Time) ([]candle.Candle, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid kline limit %d", limit)
	}

	var all []candle.Candle
	remaining := limit
	end := endTime

	for remaining > 0 {
		batch := remaining
		if batch > c.maxPerReq {
			batch = c.maxPerReq
		}

		page, err := c.fetchKlinePage(ctx, symbol, interval, batch, end)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		// Pages arrive oldest-first; prepend so the final slice stays ordered.
		all = append(page, all...)
		remaining -= len(page)

		// Exchange returned less than asked: history exhausted.
		if len(page) < batch {
			break
		}

		end = time.UnixMilli(page[0].OpenTime - 1)
	}

	c.logger.Debug().
		Str("symbol", symbol).
		Str("interval", interval).
		Int("requested", limit).
		Int("received", len(all)).
		Msg("Fetched historical klines")

	return all, nil
}

// fetchKlinePage performs a single klines request with retry on transient
// failures. HTTP 429 responses honor the Retry-After header before the next
// attempt.
func (c *RESTClient) fetchKlinePage(ctx context.Context, symbol, interval string, limit int, endTime time.Time) ([]candle.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))
	if !endTime.IsZero() {
		params.Set("endTime", strconv.FormatInt(endTime.UnixMilli(), 10))
	}
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, klinesPath, params.Encode())

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		candles, retryAfter, err := c.doKlineRequest(ctx, reqURL, symbol, interval)
		if err == nil {
			return candles, nil
		}
		lastErr = err
		c.errorCount.Add(1)

		if attempt == maxAttempts {
			break
		}

		delay := time.Duration(1<<attempt) * time.Second
		if retryAfter > delay {
			delay = retryAfter
		}
		c.logger.Warn().
			Err(err).
			Str("symbol", symbol).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("Kline request failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("error fetching klines for %s %s: %w", symbol, interval, lastErr)
}

func (c *RESTClient) doKlineRequest(ctx context.Context, reqURL, symbol, interval string) ([]candle.Candle, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("error creating request: %w", err)
	}

	c.requestCount.Add(1)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("error executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		io.Copy(io.Discard, resp.Body)
		return nil, retryAfter, fmt.Errorf("rate limited (429), retry after %s", retryAfter)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var raw [][]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, 0, fmt.Errorf("error decoding klines response: %w", err)
	}

	candles := make([]candle.Candle, 0, len(raw))
	for _, k := range raw {
		parsed, err := parseKlineArray(symbol, interval, k)
		if err != nil {
			return nil, 0, err
		}
		candles = append(candles, parsed)
	}
	return candles, 0, nil
}

// parseKlineArray converts a raw kline array into a Candle. The REST format is
// [openTime, open, high, low, close, volume, closeTime, quoteVolume, trades,
// takerBuyBase, takerBuyQuote, ignore]. Historical klines are always closed.
func parseKlineArray(symbol, interval string, k []interface{}) (candle.Candle, error) {
	if len(k) < 11 {
		return candle.Candle{}, fmt.Errorf("malformed kline array: %d fields", len(k))
	}

	openTime, ok := k[0].(float64)
	if !ok {
		return candle.Candle{}, fmt.Errorf("malformed kline open time: %v", k[0])
	}
	closeTime, ok := k[6].(float64)
	if !ok {
		return candle.Candle{}, fmt.Errorf("malformed kline close time: %v", k[6])
	}
	trades, ok := k[8].(float64)
	if !ok {
		return candle.Candle{}, fmt.Errorf("malformed kline trade count: %v", k[8])
	}

	c := candle.Candle{
		Symbol:        symbol,
		Interval:      interval,
		OpenTime:      int64(openTime),
		CloseTime:     int64(closeTime),
		Open:          parseFloat(k[1]),
		High:          parseFloat(k[2]),
		Low:           parseFloat(k[3]),
		Close:         parseFloat(k[4]),
		Volume:        parseFloat(k[5]),
		QuoteVolume:   parseFloat(k[7]),
		TradeCount:    int64(trades),
		TakerBuyBase:  parseFloat(k[9]),
		TakerBuyQuote: parseFloat(k[10]),
		IsClosed:      true,
	}
	return c, nil
}

func parseFloat(v interface{}) float64 {
	switch val := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	case float64:
		return val
	default:
		return 0
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 5 * time.Second
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(seconds) * time.Second
}

// Stats reports request counters for diagnostics.
func (c *RESTClient) Stats() map[string]interface{} {
	return map[string]interface{}{
		"requests": c.requestCount.Load(),
		"errors":   c.errorCount.Load(),
	}
}
