package domain

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrClassifierUnavailable marks a reading whose leak state is unknown. It must
// never be reported as "Normal".
var ErrClassifierUnavailable = errors.New("classifier unavailable")

// Classifier decides whether a reading indicates an active leak.
type Classifier interface {
	// Classify returns Leak = 1 iff the leak probability reaches the
	// classifier's threshold. Inputs are pressure in bar and flow in lpm.
	Classify(ctx context.Context, pressureBar, flowLpm float64) (ClassificationResult, error)
}

// ClassifierFunc adapts a plain function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, pressureBar, flowLpm float64) (ClassificationResult, error)

func (f ClassifierFunc) Classify(ctx context.Context, pressureBar, flowLpm float64) (ClassificationResult, error) {
	return f(ctx, pressureBar, flowLpm)
}

// Classify runs c against a reading and normalizes every failure mode (error,
// panic, probability outside [0,1]) into an error wrapping
// ErrClassifierUnavailable.
func Classify(ctx context.Context, c Classifier, r Reading) (result ClassificationResult, err error) {
	if c == nil {
		return ClassificationResult{}, fmt.Errorf("%w: no classifier configured", ErrClassifierUnavailable)
	}

	defer func() {
		if p := recover(); p != nil {
			result = ClassificationResult{}
			err = fmt.Errorf("%w: panic: %v", ErrClassifierUnavailable, p)
		}
	}()

	result, err = c.Classify(ctx, r.Pressure, r.Flow)
	if err != nil {
		if errors.Is(err, ErrClassifierUnavailable) {
			return ClassificationResult{}, err
		}
		return ClassificationResult{}, fmt.Errorf("%w: %w", ErrClassifierUnavailable, err)
	}

	p := result.Probability
	if math.IsNaN(p) || p < 0 || p > 1 {
		return ClassificationResult{}, fmt.Errorf("%w: probability %v out of range", ErrClassifierUnavailable, p)
	}
	if result.Leak != NoLeak && result.Leak != Leak {
		return ClassificationResult{}, fmt.Errorf("%w: invalid leak flag %d", ErrClassifierUnavailable, result.Leak)
	}
	return result, nil
}
