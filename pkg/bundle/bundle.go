// Package bundle fans out to multiple Canvas sources concurrently and
// merges their results under a partial-failure policy: one source's error
// never aborts its siblings.
package bundle

import (
	"context"
	"sync"
	"time"

	"github.com/edukit/canvas-mcp/pkg/client"
	"github.com/edukit/canvas-mcp/pkg/delta"
	"github.com/edukit/canvas-mcp/pkg/pagination"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for bundle fan-out.
var (
	bundleRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canvas_bundle_runs_total",
		Help: "Total bundle fan-out runs",
	})

	bundleRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "canvas_bundle_run_duration_seconds",
		Help:    "Bundle fan-out duration in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	})

	bundleSourceFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_bundle_source_failures_total",
		Help: "Total per-source failures inside bundle runs by error kind",
	}, []string{"kind"})
)

// FetchSpec is one named data source inside a bundle.
type FetchSpec struct {
	Name      string
	Seed      client.PageRequest
	TimeField delta.TimeField
	Limits    pagination.Limits
}

// FetchOutcome is the per-source result of a fan-out. Err is nil on
// success; on failure the items gathered before the error are kept, except
// for deadline expiry where partial data is discarded.
type FetchOutcome struct {
	Name  string
	Items []pagination.Item
	Meta  *pagination.Meta
	Err   error
}

// Config holds fan-out configuration.
type Config struct {
	// Concurrency caps how many sources fetch at once, respecting upstream
	// rate limits even though each task retries internally.
	Concurrency int

	// Timeout bounds the whole fan-out. Sources still running when it
	// expires are cancelled and reported as timeouts; completed sources
	// are kept.
	Timeout time.Duration
}

// DefaultConfig returns safe fan-out defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency: 8,
		Timeout:     60 * time.Second,
	}
}

// Runner executes bundle fan-outs.
type Runner struct {
	paginator *pagination.Paginator
	config    Config
	logger    zerolog.Logger
}

// NewRunner creates a bundle runner on top of a transport client.
func NewRunner(c *client.Client, cfg Config) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Runner{
		paginator: pagination.New(c),
		config:    cfg,
		logger:    log.With().Str("component", "bundle").Logger(),
	}
}

// Run launches one task per spec under bounded concurrency, waits for all
// of them, and returns outcomes in spec order regardless of completion
// order. Tasks share no mutable state: each owns its own cursor and writes
// only its own outcome slot.
func (r *Runner) Run(ctx context.Context, specs []FetchSpec, cred client.Credential, since *time.Time) []FetchOutcome {
	start := time.Now()
	bundleRunsTotal.Inc()
	defer func() {
		bundleRunDuration.Observe(time.Since(start).Seconds())
	}()

	runCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	outcomes := make([]FetchOutcome, len(specs))
	sem := make(chan struct{}, r.config.Concurrency)

	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func(slot int, spec FetchSpec) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-runCtx.Done():
				outcomes[slot] = timeoutOutcome(spec.Name, runCtx.Err())
				return
			}

			outcomes[slot] = r.fetchOne(runCtx, spec, cred, since)
		}(i, spec)
	}
	wg.Wait()

	failed := 0
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			failed++
		}
	}
	r.logger.Info().
		Int("sources", len(specs)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Bundle fan-out complete")

	return outcomes
}

// fetchOne runs one source's Paginator and Delta Filter, downgrading any
// propagated error into the outcome instead of letting it escape.
func (r *Runner) fetchOne(ctx context.Context, spec FetchSpec, cred client.Credential, since *time.Time) FetchOutcome {
	result, err := r.paginator.Collect(ctx, spec.Seed, cred, spec.Limits)
	if err != nil {
		kind := client.KindOf(err)
		bundleSourceFailuresTotal.WithLabelValues(string(kind)).Inc()
		r.logger.Warn().
			Str("source", spec.Name).
			Str("kind", string(kind)).
			Err(err).
			Msg("Bundle source failed")

		if kind == client.KindTimeout {
			// A cancelled task's partial page walk is unreliable; report
			// the timeout without merging its fragments.
			return timeoutOutcome(spec.Name, err)
		}
		return FetchOutcome{
			Name:  spec.Name,
			Items: delta.Filter(result.Items, since, spec.TimeField),
			Meta:  &result.Meta,
			Err:   err,
		}
	}

	return FetchOutcome{
		Name:  spec.Name,
		Items: delta.Filter(result.Items, since, spec.TimeField),
		Meta:  &result.Meta,
	}
}

// timeoutOutcome reports a source cancelled by the run deadline.
func timeoutOutcome(name string, err error) FetchOutcome {
	return FetchOutcome{
		Name: name,
		Err: &client.APIError{
			Kind:    client.KindTimeout,
			Message: "bundle deadline exceeded",
			Err:     err,
		},
	}
}
