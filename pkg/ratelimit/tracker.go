package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for throttle tracking.
var (
	canvasThrottleRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "canvas_throttle_remaining",
		Help: "Most recently observed Canvas rate limit bucket remaining",
	})

	canvasThrottleBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canvas_throttle_blocks_total",
		Help: "Total number of requests blocked due to critical bucket level",
	})

	canvasThrottleSlowdownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canvas_throttle_slowdowns_total",
		Help: "Total number of requests slowed due to warning bucket level",
	})
)

// throttleDelay is the pause applied per request while in the warning band.
const throttleDelay = 250 * time.Millisecond

// Tracker monitors the Canvas throttle bucket and gates outbound requests.
// State lives in process memory by default; when constructed with a Redis
// client it is shared across server processes that drain one token's bucket.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger

	mu    sync.Mutex
	local *State
}

// NewTracker creates a tracker with in-process state.
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{logger: logger}
}

// NewSharedTracker creates a tracker whose state is shared via Redis.
func NewSharedTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{redis: redisClient, logger: logger}
}

// GetState retrieves the current throttle state. A missing or stale
// observation yields a full-bucket state: Canvas buckets refill
// continuously, so old data must not keep blocking traffic.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	if t.redis == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.local == nil || t.local.IsStale(StaleAfter) {
			return healthyState(), nil
		}
		state := *t.local
		return &state, nil
	}

	remaining, err := t.redis.Get(ctx, RedisKeyRemaining).Float64()
	if err == redis.Nil {
		t.logger.Debug().Msg("No throttle state in Redis, assuming full bucket")
		return healthyState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get throttle remaining: %w", err)
	}

	lastCost, err := t.redis.Get(ctx, RedisKeyLastCost).Float64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get throttle last cost: %w", err)
	}

	lastUpdateStr, err := t.redis.Get(ctx, RedisKeyLastUpdate).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get throttle last update: %w", err)
	}

	var lastUpdate time.Time
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &lastUpdate); err != nil {
			return nil, fmt.Errorf("parse throttle last update: %w", err)
		}
	}

	state := &State{
		Remaining:  remaining,
		LastCost:   lastCost,
		LastUpdate: lastUpdate,
	}
	state.UpdateHealth()

	if state.IsStale(StaleAfter) {
		return healthyState(), nil
	}

	return state, nil
}

// UpdateFromHeaders parses Canvas throttle headers and records the state.
// Responses without the headers (non-Canvas upstreams, error pages) are
// ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get("X-Rate-Limit-Remaining")
	if remainStr == "" {
		return nil
	}

	remaining, err := strconv.ParseFloat(remainStr, 64)
	if err != nil {
		return fmt.Errorf("parse X-Rate-Limit-Remaining header: %w", err)
	}

	var lastCost float64
	if costStr := headers.Get("X-Request-Cost"); costStr != "" {
		lastCost, err = strconv.ParseFloat(costStr, 64)
		if err != nil {
			return fmt.Errorf("parse X-Request-Cost header: %w", err)
		}
	}

	state := &State{
		Remaining:  remaining,
		LastCost:   lastCost,
		LastUpdate: time.Now(),
	}
	state.UpdateHealth()

	if err := t.store(ctx, state); err != nil {
		return err
	}

	canvasThrottleRemaining.Set(remaining)

	logEvent := t.logger.Debug().
		Float64("remaining", remaining).
		Float64("last_cost", lastCost).
		Bool("is_healthy", state.IsHealthy)

	if state.NeedsCriticalBlock() {
		logEvent = t.logger.Error().Float64("remaining", remaining)
		logEvent.Msg("Canvas throttle bucket CRITICAL - requests will be blocked")
	} else if state.NeedsThrottling() {
		logEvent = t.logger.Warn().Float64("remaining", remaining)
		logEvent.Msg("Canvas throttle bucket WARNING - requests will be slowed")
	} else {
		logEvent.Msg("Canvas throttle state updated")
	}

	return nil
}

// store persists a state observation locally or in Redis.
func (t *Tracker) store(ctx context.Context, state *State) error {
	if t.redis == nil {
		t.mu.Lock()
		t.local = state
		t.mu.Unlock()
		return nil
	}

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal throttle last update: %w", err)
	}

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, RedisKeyRemaining, state.Remaining, 0)
	pipe.Set(ctx, RedisKeyLastCost, state.LastCost, 0)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store throttle state in redis: %w", err)
	}

	return nil
}

// ShouldAllowRequest checks whether a request may go out. Returns false in
// the critical band; in the warning band it sleeps briefly and allows the
// request through.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get throttle state: %w", err)
	}

	if state.NeedsCriticalBlock() {
		t.logger.Error().
			Float64("remaining", state.Remaining).
			Msg("Canvas throttle bucket critical - blocking request")
		canvasThrottleBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling() {
		t.logger.Warn().
			Float64("remaining", state.Remaining).
			Msg("Canvas throttle bucket warning - slowing request")
		canvasThrottleSlowdownsTotal.Inc()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(throttleDelay):
		}
	}

	return true, nil
}
