package pipeline

import (
	"context"

	"github.com/couchcryptid/leak-twin-service/internal/domain"
	"github.com/couchcryptid/leak-twin-service/internal/observability"
)

// Assessor implements Evaluator with a classifier and a prescription table.
type Assessor struct {
	classifier domain.Classifier
	rules      *domain.RuleTable
	metrics    *observability.Metrics
}

// NewAssessor creates an Assessor.
func NewAssessor(c domain.Classifier, rules *domain.RuleTable, metrics *observability.Metrics) *Assessor {
	return &Assessor{classifier: c, rules: rules, metrics: metrics}
}

// Evaluate assesses one reading and records the result in metrics.
func (a *Assessor) Evaluate(ctx context.Context, r domain.Reading) (domain.SensorOutcome, error) {
	out, err := domain.Evaluate(ctx, a.classifier, a.rules, r)
	if err != nil {
		a.metrics.ClassifierErrors.Inc()
		return domain.SensorOutcome{}, err
	}
	a.metrics.OutcomesProduced.Inc()
	a.metrics.Prescriptions.WithLabelValues(out.Prescription.Severity).Inc()
	return out, nil
}

// Rules returns the prescription table in use.
func (a *Assessor) Rules() *domain.RuleTable { return a.rules }
