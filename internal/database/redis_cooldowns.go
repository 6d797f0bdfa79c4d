// Redis-backed persistence for suppressor cooldown state, so a restart
// does not reset cooldowns and instantly re-emit for every symbol that
// signalled just before the crash. When Redis is not configured the engine
// simply starts with empty cooldowns.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"binance-signal-engine/internal/fusion"
)

const (
	// cooldownStateKey holds the serialized suppressor state.
	cooldownStateKey = "signal-engine:cooldowns"

	// cooldownStateTTL outlives the longest default cooldown by a wide
	// margin; stale stamps are harmless because the suppressor compares
	// against wall-clock windows.
	cooldownStateTTL = 24 * time.Hour
)

// CooldownMirror persists suppressor state to Redis.
type CooldownMirror struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewCooldownMirror connects to Redis using a redis:// URL and verifies the
// connection with a ping.
func NewCooldownMirror(ctx context.Context, url string, logger zerolog.Logger) (*CooldownMirror, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	logger.Info().Str("addr", opts.Addr).Msg("connected to Redis cooldown mirror")
	return &CooldownMirror{client: client, logger: logger}, nil
}

// Save stores a suppressor snapshot. Failures are returned for logging but
// must never block signal emission.
func (m *CooldownMirror) Save(ctx context.Context, state fusion.State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling cooldown state: %w", err)
	}
	if err := m.client.Set(ctx, cooldownStateKey, payload, cooldownStateTTL).Err(); err != nil {
		return fmt.Errorf("writing cooldown state: %w", err)
	}
	return nil
}

// Load fetches the last saved suppressor snapshot. A missing key returns an
// empty state, not an error.
func (m *CooldownMirror) Load(ctx context.Context) (fusion.State, error) {
	payload, err := m.client.Get(ctx, cooldownStateKey).Bytes()
	if err == redis.Nil {
		return fusion.State{}, nil
	}
	if err != nil {
		return fusion.State{}, fmt.Errorf("reading cooldown state: %w", err)
	}

	var state fusion.State
	if err := json.Unmarshal(payload, &state); err != nil {
		return fusion.State{}, fmt.Errorf("decoding cooldown state: %w", err)
	}
	return state, nil
}

// HealthCheck pings Redis.
func (m *CooldownMirror) HealthCheck(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close releases the Redis client.
func (m *CooldownMirror) Close() error {
	return m.client.Close()
}
