// Package model loads the trained leak classifier artifact and exposes it as
// a domain.Classifier.
package model

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/leak-twin-service/internal/domain"
)

//go:embed default_model.yaml
var defaultArtifact []byte

// Artifact is the serialized form of a logistic leak model.
type Artifact struct {
	Name         string       `yaml:"name"`
	Version      string       `yaml:"version"`
	Intercept    float64      `yaml:"intercept"`
	Coefficients Coefficients `yaml:"coefficients"`
	Threshold    float64      `yaml:"threshold"`
}

// Coefficients are the feature weights of the logistic model.
type Coefficients struct {
	PressurePsi float64 `yaml:"pressure_psi"`
	FlowGpm     float64 `yaml:"flow_gpm"`
}

// Logistic scores readings with a fitted logistic regression over pressure
// (psi) and flow (gpm). It is immutable and safe for concurrent use.
type Logistic struct {
	artifact Artifact
}

// Load reads a model artifact from path. An empty path loads the embedded
// default model.
func Load(path string) (*Logistic, error) {
	data := defaultArtifact
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read model artifact: %w", err)
		}
		data = b
	}
	return Parse(data)
}

// Parse decodes and validates a YAML model artifact.
func Parse(data []byte) (*Logistic, error) {
	var a Artifact
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse model artifact: %w", err)
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return &Logistic{artifact: a}, nil
}

func (a Artifact) validate() error {
	for name, v := range map[string]float64{
		"intercept":    a.Intercept,
		"pressure_psi": a.Coefficients.PressurePsi,
		"flow_gpm":     a.Coefficients.FlowGpm,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("model artifact: %s is not finite", name)
		}
	}
	if a.Threshold <= 0 || a.Threshold >= 1 {
		return errors.New("model artifact: threshold must be in (0,1)")
	}
	return nil
}

// Artifact returns the loaded model parameters.
func (m *Logistic) Artifact() Artifact { return m.artifact }

// Probability returns the leak probability for a reading in metric units.
func (m *Logistic) Probability(pressureBar, flowLpm float64) float64 {
	z := m.artifact.Intercept +
		m.artifact.Coefficients.PressurePsi*domain.BarToPsi(pressureBar) +
		m.artifact.Coefficients.FlowGpm*domain.LpmToGpm(flowLpm)
	return 1 / (1 + math.Exp(-z))
}

// Classify implements domain.Classifier.
func (m *Logistic) Classify(_ context.Context, pressureBar, flowLpm float64) (domain.ClassificationResult, error) {
	p := m.Probability(pressureBar, flowLpm)
	if math.IsNaN(p) {
		return domain.ClassificationResult{}, fmt.Errorf("%w: model produced NaN", domain.ErrClassifierUnavailable)
	}

	leak := domain.NoLeak
	if p >= m.artifact.Threshold {
		leak = domain.Leak
	}
	return domain.ClassificationResult{Leak: leak, Probability: p}, nil
}
