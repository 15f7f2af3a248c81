// Package ratelimit implements Canvas API throttle tracking and request
// gating. Canvas enforces a leaky-bucket quota per access token and reports
// it via the X-Rate-Limit-Remaining and X-Request-Cost response headers;
// requests are rejected with 403 (Rate Limit Exceeded) once the bucket
// drains. The tracker watches those headers and brakes before that happens.
package ratelimit

import (
	"time"
)

// Redis keys for throttle state shared across server processes.
const (
	RedisKeyRemaining  = "canvas:throttle:remaining"
	RedisKeyLastCost   = "canvas:throttle:last_cost"
	RedisKeyLastUpdate = "canvas:throttle:last_update"
)

// Canvas quota constants and decision thresholds.
const (
	// BucketCapacity is the default Canvas quota bucket size.
	BucketCapacity = 700.0

	// ThresholdCritical blocks all requests when the remaining quota falls
	// below this value, preventing hard 403 Rate Limit Exceeded rejections.
	ThresholdCritical = 50.0

	// ThresholdWarning applies throttling when the remaining quota falls
	// below this value, slowing the request rate so the bucket can refill.
	ThresholdWarning = 150.0

	// ThresholdHealthy indicates normal operation with no restrictions.
	ThresholdHealthy = 300.0

	// StaleAfter is how long header data stays authoritative. The bucket
	// refills continuously, so state older than this is assumed recovered.
	StaleAfter = 10 * time.Second
)

// State represents the most recently observed Canvas throttle state.
type State struct {
	// Remaining is the quota left in the bucket, from X-Rate-Limit-Remaining.
	Remaining float64 `json:"remaining"`

	// LastCost is the cost of the last observed request, from X-Request-Cost.
	LastCost float64 `json:"last_cost"`

	// LastUpdate is when this state was last refreshed from headers.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining is at or above ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the observation is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should be blocked outright.
func (s *State) NeedsCriticalBlock() bool {
	return s.Remaining < ThresholdCritical
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *State) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && !s.NeedsCriticalBlock()
}

// UpdateHealth recomputes IsHealthy from the current Remaining value.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}

// healthyState is the assumed state when no observation exists or the last
// one has gone stale.
func healthyState() *State {
	return &State{
		Remaining:  BucketCapacity,
		LastUpdate: time.Now(),
		IsHealthy:  true,
	}
}
