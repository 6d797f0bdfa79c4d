package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"binance-signal-engine/internal/candle"
)

const (
	// Binance sends a ping roughly every 3 minutes and disconnects idle
	// clients after 10; a 5 minute read deadline catches dead peers early.
	readDeadline  = 5 * time.Minute
	writeDeadline = 10 * time.Second

	maxReconnectDelay = 60 * time.Second
)

// KlineHandler receives every kline update parsed off the stream, both
// in-progress and closed.
type KlineHandler func(ctx context.Context, c candle.Candle) error

// WSConfig carries the stream subscription set and reconnect policy.
type WSConfig struct {
	BaseURL        string
	Symbols        []string
	Intervals      []string
	ReconnectDelay time.Duration
	MaxRetries     int // -1 retries forever

	// OnConnect fires after every successful dial, OnReconnect each time a
	// reconnect is scheduled. Both are optional.
	OnConnect   func()
	OnReconnect func()
}

// WSClient maintains a single combined-stream connection covering every
// symbol/interval pair. Disconnects trigger exponential backoff reconnects;
// a successful connection resets the delay.
type WSClient struct {
	url            string
	streams        []string
	handler        KlineHandler
	reconnectDelay time.Duration
	maxRetries     int
	onConnect      func()
	onReconnect    func()
	logger         zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	running  bool
	stopChan chan struct{}
	done     chan struct{}

	connected        atomic.Bool
	messagesReceived atomic.Int64
	reconnects       atomic.Int64
	lastMessageAt    atomic.Int64
}

// NewWSClient builds a client for the combined kline streams of all
// symbol/interval pairs in cfg.
func NewWSClient(cfg WSConfig, handler KlineHandler, logger zerolog.Logger) *WSClient {
	streams := BuildStreamNames(cfg.Symbols, cfg.Intervals)
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}

	return &WSClient{
		url:            CombinedStreamURL(cfg.BaseURL, streams),
		streams:        streams,
		handler:        handler,
		reconnectDelay: delay,
		maxRetries:     cfg.MaxRetries,
		onConnect:      cfg.OnConnect,
		onReconnect:    cfg.OnReconnect,
		logger:         logger.With().Str("component", "binance_ws").Logger(),
	}
}

// BuildStreamNames expands symbols and intervals into kline stream names,
// e.g. "btcusdt@kline_15m".
func BuildStreamNames(symbols, intervals []string) []string {
	streams := make([]string, 0, len(symbols)*len(intervals))
	for _, symbol := range symbols {
		lower := strings.ToLower(symbol)
		for _, interval := range intervals {
			streams = append(streams, fmt.Sprintf("%s@kline_%s", lower, interval))
		}
	}
	return streams
}

// CombinedStreamURL builds the multiplexed stream endpoint URL.
func CombinedStreamURL(baseURL string, streams []string) string {
	return fmt.Sprintf("%s/stream?streams=%s", strings.TrimRight(baseURL, "/"), strings.Join(streams, "/"))
}

// Start connects and begins dispatching kline updates to the handler. It
// returns immediately; the connection is managed on a background goroutine
// until Stop is called or ctx is cancelled.
func (c *WSClient) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("websocket client already running")
	}
	if len(c.streams) == 0 {
		c.mu.Unlock()
		return fmt.Errorf("no streams configured")
	}
	c.running = true
	c.stopChan = make(chan struct{})
	c.done = make(chan struct{})
	c.mu.Unlock()

	c.logger.Info().
		Int("streams", len(c.streams)).
		Str("url", c.url).
		Msg("Starting kline stream client")

	go c.run(ctx)
	return nil
}

// run owns the connect/read/reconnect cycle. A successful dial resets the
// backoff window and failure count.
func (c *WSClient) run(ctx context.Context) {
	defer close(c.done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.reconnectDelay
	bo.MaxInterval = maxReconnectDelay
	bo.MaxElapsedTime = 0
	bo.Reset()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		default:
		}

		conn, err := c.dial(ctx)
		if err == nil {
			bo.Reset()
			failures = 0
			err = c.readLoop(ctx, conn)
			c.connected.Store(false)
			if err == nil {
				// Clean shutdown requested.
				return
			}
		}

		failures++
		if c.maxRetries >= 0 && failures > c.maxRetries {
			c.logger.Error().
				Int("attempts", failures).
				Msg("Giving up on websocket reconnection")
			return
		}

		delay := bo.NextBackOff()
		c.logger.Warn().
			Err(err).
			Int("attempt", failures).
			Dur("reconnect_in", delay).
			Msg("Websocket disconnected, reconnecting")
		c.reconnects.Add(1)
		if c.onReconnect != nil {
			c.onReconnect()
		}

		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case <-time.After(delay):
		}
	}
}

func (c *WSClient) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("error dialing %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)

	c.logger.Info().Int("streams", len(c.streams)).Msg("Websocket connected")
	if c.onConnect != nil {
		c.onConnect()
	}

	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeDeadline))
	})
	return conn, nil
}

// readLoop pumps messages until the connection drops. A nil return means
// stop was requested.
func (c *WSClient) readLoop(ctx context.Context, conn *websocket.Conn) error {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.closeGracefully(conn)
			return nil
		case <-c.stopChan:
			c.closeGracefully(conn)
			return nil
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stopChan:
				return nil
			default:
			}
			return fmt.Errorf("error reading message: %w", err)
		}

		conn.SetReadDeadline(time.Now().Add(readDeadline))
		c.messagesReceived.Add(1)
		c.lastMessageAt.Store(time.Now().UnixNano())

		if err := c.handleMessage(ctx, message); err != nil {
			c.logger.Error().Err(err).Msg("Error handling stream message")
		}
	}
}

func (c *WSClient) closeGracefully(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeDeadline))
}

// combinedFrame is the envelope of multiplexed stream messages.
type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// klineEvent is the kline payload inside a combined frame.
type klineEvent struct {
	EventType string    `json:"e"`
	EventTime int64     `json:"E"`
	Symbol    string    `json:"s"`
	Kline     klineData `json:"k"`
}

type klineData struct {
	OpenTime      int64   `json:"t"`
	CloseTime     int64   `json:"T"`
	Symbol        string  `json:"s"`
	Interval      string  `json:"i"`
	Open          float64 `json:"o,string"`
	Close         float64 `json:"c,string"`
	High          float64 `json:"h,string"`
	Low           float64 `json:"l,string"`
	Volume        float64 `json:"v,string"`
	TradeCount    int64   `json:"n"`
	IsClosed      bool    `json:"x"`
	QuoteVolume   float64 `json:"q,string"`
	TakerBuyBase  float64 `json:"V,string"`
	TakerBuyQuote float64 `json:"Q,string"`
}

// handleMessage parses a combined frame and forwards kline updates to the
// handler. Frames that are not kline events are ignored.
func (c *WSClient) handleMessage(ctx context.Context, message []byte) error {
	var frame combinedFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		return fmt.Errorf("error decoding stream frame: %w", err)
	}
	if frame.Stream == "" || !strings.Contains(frame.Stream, "@kline_") {
		return nil
	}

	var event klineEvent
	if err := json.Unmarshal(frame.Data, &event); err != nil {
		return fmt.Errorf("error decoding kline event: %w", err)
	}
	if event.EventType != "kline" {
		return nil
	}

	return c.handler(ctx, parseKlineEvent(event))
}

// parseKlineEvent converts a stream kline payload into a Candle.
func parseKlineEvent(event klineEvent) candle.Candle {
	k := event.Kline
	return candle.Candle{
		Symbol:        strings.ToUpper(k.Symbol),
		Interval:      k.Interval,
		OpenTime:      k.OpenTime,
		CloseTime:     k.CloseTime,
		Open:          k.Open,
		High:          k.High,
		Low:           k.Low,
		Close:         k.Close,
		Volume:        k.Volume,
		QuoteVolume:   k.QuoteVolume,
		TradeCount:    k.TradeCount,
		TakerBuyBase:  k.TakerBuyBase,
		TakerBuyQuote: k.TakerBuyQuote,
		IsClosed:      k.IsClosed,
	}
}

// Stop closes the connection and waits for the run loop to exit.
func (c *WSClient) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopChan)
	conn := c.conn
	done := c.done
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			c.logger.Warn().Msg("Timed out waiting for websocket shutdown")
		}
	}
	c.connected.Store(false)
	c.logger.Info().Msg("Websocket client stopped")
}

// IsConnected reports whether the stream connection is currently up.
func (c *WSClient) IsConnected() bool {
	return c.connected.Load()
}

// Streams returns the subscribed stream names.
func (c *WSClient) Streams() []string {
	out := make([]string, len(c.streams))
	copy(out, c.streams)
	return out
}

// Stats reports connection counters for diagnostics.
func (c *WSClient) Stats() map[string]interface{} {
	var last time.Time
	if ns := c.lastMessageAt.Load(); ns > 0 {
		last = time.Unix(0, ns).UTC()
	}
	return map[string]interface{}{
		"connected":         c.connected.Load(),
		"streams":           len(c.streams),
		"messages_received": c.messagesReceived.Load(),
		"reconnects":        c.reconnects.Load(),
		"last_message_at":   last,
	}
}
