package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/leak-twin-service/internal/domain"
	"github.com/couchcryptid/leak-twin-service/internal/observability"
)

// Source returns the current reading of every monitored sensor.
type Source interface {
	Poll(ctx context.Context) ([]domain.Reading, error)
}

// Evaluator turns a reading into a finalized outcome.
type Evaluator interface {
	Evaluate(ctx context.Context, r domain.Reading) (domain.SensorOutcome, error)
}

// BatchLoader writes outcomes to a destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, outcomes []domain.SensorOutcome) error
}

// Pipeline orchestrates the poll-evaluate-load loop and keeps the latest
// outcome of every sensor.
type Pipeline struct {
	source    Source
	evaluator Evaluator
	loader    BatchLoader
	logger    *slog.Logger
	metrics   *observability.Metrics
	clock     clockwork.Clock
	interval  time.Duration
	ready     atomic.Bool

	mu     sync.RWMutex
	latest map[string]domain.SensorOutcome
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock that drives the poll ticker.
func WithClock(c clockwork.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// New creates a Pipeline with the given stages and observability.
func New(s Source, e Evaluator, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, interval time.Duration, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:    s,
		evaluator: e,
		loader:    l,
		logger:    logger,
		metrics:   metrics,
		clock:     clockwork.NewRealClock(),
		interval:  interval,
		latest:    make(map[string]domain.SensorOutcome),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckReadiness returns nil once the pipeline has completed a poll cycle,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a poll cycle yet")
	}
	return nil
}

// Run polls once immediately and then on every interval tick until the
// context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "interval", p.interval)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	p.RunCycle(ctx)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			p.RunCycle(ctx)
		}
	}
}

// RunCycle performs one poll-evaluate-load pass and returns the outcomes it
// produced. Sensors whose classification fails are left out of the cycle.
func (p *Pipeline) RunCycle(ctx context.Context) []domain.SensorOutcome {
	start := p.clock.Now()

	readings, err := p.source.Poll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		p.logger.Error("poll failed", "error", err, "readings", len(readings))
	}

	outcomes := make([]domain.SensorOutcome, 0, len(readings))
	for _, r := range readings {
		out, err := p.evaluator.Evaluate(ctx, r)
		if err != nil {
			p.logger.Warn("evaluation failed, sensor omitted from cycle",
				"sensor", r.SensorID,
				"pressure", r.Pressure,
				"flow", r.Flow,
				"error", err,
			)
			continue
		}
		outcomes = append(outcomes, out)
	}

	p.record(outcomes)

	if len(outcomes) > 0 {
		if err := p.loader.LoadBatch(ctx, outcomes); err != nil {
			p.logger.Error("load batch failed", "error", err, "batch_size", len(outcomes))
		}
	}

	p.metrics.PollCycles.Inc()
	p.metrics.CycleDuration.Observe(p.clock.Since(start).Seconds())
	p.ready.Store(true)
	return outcomes
}

func (p *Pipeline) record(outcomes []domain.SensorOutcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, o := range outcomes {
		if o.SensorID == "" {
			continue
		}
		p.latest[o.SensorID] = o
		p.metrics.LeakProbability.WithLabelValues(o.SensorID).Set(o.Probability)
		p.metrics.LeakDiameter.WithLabelValues(o.SensorID).Set(o.LeakDiameterMm)
		if o.Leak == domain.Leak {
			p.metrics.LeaksDetected.WithLabelValues(o.SensorID).Inc()
		}
	}
}

// Latest returns the most recent outcome of every sensor, ordered by sensor ID.
func (p *Pipeline) Latest() []domain.SensorOutcome {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.SensorOutcome, 0, len(p.latest))
	for _, o := range p.latest {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out
}

// LatestFor returns the most recent outcome of one sensor.
func (p *Pipeline) LatestFor(sensorID string) (domain.SensorOutcome, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	o, ok := p.latest[sensorID]
	return o, ok
}
