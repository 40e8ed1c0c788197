package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"
)

// Evaluate runs the full assessment for one reading: classification, leak
// sizing and, for leaks, prescription resolution. The returned outcome is
// already finalized. A classifier failure is returned as an error wrapping
// ErrClassifierUnavailable and no outcome is produced.
func Evaluate(ctx context.Context, c Classifier, rules *RuleTable, r Reading) (SensorOutcome, error) {
	cls, err := Classify(ctx, c, r)
	if err != nil {
		return SensorOutcome{}, err
	}

	estimate := EstimateLeak(cls.Leak, r)

	prescription := NormalPrescription
	if cls.Leak == Leak {
		prescription, _ = rules.Resolve(SizeRatio(estimate), MagnitudeRatio(estimate))
	}

	source := r.Source
	if source == "" {
		source = SourceManual
	}
	evaluatedAt := clock.Now().UTC()
	observedAt := r.ObservedAt
	if observedAt.IsZero() {
		observedAt = evaluatedAt
	}

	out := SensorOutcome{
		SensorID:       r.SensorID,
		Source:         source,
		Pressure:       r.Pressure,
		Flow:           r.Flow,
		Leak:           cls.Leak,
		Probability:    cls.Probability,
		LeakFlowLpm:    estimate.FlowLpm,
		LeakDiameterMm: estimate.DiameterMm,
		Prescription:   prescription,
		Substituted:    r.Substituted,
		ObservedAt:     observedAt.UTC(),
		EvaluatedAt:    evaluatedAt,
	}
	out = out.Finalize()
	out.ID = generateID(out)
	return out, nil
}

// Finalize applies the presentation contract: pressure and flow rounded to
// 2 places, probability to 4, leak rate and diameter to 3, and any non-finite
// value replaced by 0. It is the last step before serialization.
func (o SensorOutcome) Finalize() SensorOutcome {
	o.Pressure = finite(round(o.Pressure, 2))
	o.Flow = finite(round(o.Flow, 2))
	o.Probability = finite(round(o.Probability, 4))
	o.LeakFlowLpm = finite(round(o.LeakFlowLpm, 3))
	o.LeakDiameterMm = finite(round(o.LeakDiameterMm, 3))
	return o
}

func round(v float64, places int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// generateID derives a deterministic outcome ID from the sensor, observation
// time and finalized values, so a replayed reading keeps its ID.
func generateID(o SensorOutcome) string {
	input := fmt.Sprintf("%s|%s|%s|%.2f|%.2f|%d",
		o.SensorID, o.Source, o.ObservedAt.Format(time.RFC3339Nano), o.Pressure, o.Flow, o.Leak)
	hash := sha256.Sum256([]byte(input))
	short := hex.EncodeToString(hash[:8])
	if o.SensorID == "" {
		return short
	}
	return o.SensorID + "-" + short
}
