// Package influx persists sensor outcomes as InfluxDB points.
package influx

import (
	"context"
	"fmt"
	"log/slog"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/couchcryptid/leak-twin-service/internal/config"
	"github.com/couchcryptid/leak-twin-service/internal/domain"
)

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Writer stores outcomes in a bucket. It implements pipeline.BatchLoader.
type Writer struct {
	client      influxdb2.Client
	api         pointWriter
	measurement string
	logger      *slog.Logger
}

// NewWriter connects a blocking write API to the configured bucket.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	client := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
	return &Writer{
		client:      client,
		api:         client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket),
		measurement: cfg.InfluxMeasurement,
		logger:      logger,
	}
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "influx" }

// LoadBatch writes one point per outcome in a single request.
func (w *Writer) LoadBatch(ctx context.Context, outcomes []domain.SensorOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	points := make([]*write.Point, len(outcomes))
	for i := range outcomes {
		points[i] = toPoint(w.measurement, outcomes[i])
	}
	if err := w.api.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("write %d points: %w", len(points), err)
	}
	w.logger.Debug("outcomes persisted", "measurement", w.measurement, "count", len(points))
	return nil
}

// Close releases the client's connections.
func (w *Writer) Close() error {
	if w.client != nil {
		w.client.Close()
	}
	return nil
}

func toPoint(measurement string, o domain.SensorOutcome) *write.Point {
	sensor := o.SensorID
	if sensor == "" {
		sensor = "manual"
	}
	tags := map[string]string{
		"sensor":   sensor,
		"source":   string(o.Source),
		"severity": o.Prescription.Severity,
	}
	fields := map[string]any{
		"pressure":    o.Pressure,
		"flow":        o.Flow,
		"leak":        int(o.Leak),
		"probability": o.Probability,
		"leak_lpm":    o.LeakFlowLpm,
		"leak_mm":     o.LeakDiameterMm,
		"priority":    o.Prescription.Priority,
		"substituted": o.Substituted,
	}
	return influxdb2.NewPoint(measurement, tags, fields, o.ObservedAt)
}
