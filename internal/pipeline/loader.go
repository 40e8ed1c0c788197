package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/couchcryptid/leak-twin-service/internal/domain"
	"github.com/couchcryptid/leak-twin-service/internal/observability"
)

// NamedLoader is a BatchLoader that identifies itself in logs and metrics.
type NamedLoader interface {
	BatchLoader
	Name() string
}

// MultiLoader fans each batch out to every configured sink. A failing sink
// does not prevent delivery to the others.
type MultiLoader struct {
	loaders []NamedLoader
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewMultiLoader creates a MultiLoader over the given sinks.
func NewMultiLoader(metrics *observability.Metrics, logger *slog.Logger, loaders ...NamedLoader) *MultiLoader {
	return &MultiLoader{loaders: loaders, metrics: metrics, logger: logger}
}

// Len returns the number of sinks.
func (m *MultiLoader) Len() int { return len(m.loaders) }

// LoadBatch writes the batch to every sink and joins their errors.
func (m *MultiLoader) LoadBatch(ctx context.Context, outcomes []domain.SensorOutcome) error {
	var errs []error
	for _, l := range m.loaders {
		start := time.Now()
		err := l.LoadBatch(ctx, outcomes)
		m.metrics.SinkWriteDuration.WithLabelValues(l.Name()).Observe(time.Since(start).Seconds())
		if err != nil {
			m.metrics.SinkWriteErrors.WithLabelValues(l.Name()).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", l.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func (m *MultiLoader) Close() error {
	var errs []error
	for _, l := range m.loaders {
		c, ok := l.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			m.logger.Warn("sink close failed", "sink", l.Name(), "error", err)
			errs = append(errs, fmt.Errorf("close %s: %w", l.Name(), err))
		}
	}
	return errors.Join(errs...)
}
