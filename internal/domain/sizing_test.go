package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Reference values computed once with float64 arithmetic for 5 bar / 150 lpm.
const (
	refLeakLpm    = 45.0
	refDiameterMm = 6.977864815761537
)

func TestEstimateLeak_NoLeakShortCircuits(t *testing.T) {
	for _, r := range []Reading{
		{Pressure: 5, Flow: 50},
		{Pressure: 0.1, Flow: 0},
		{Pressure: 100, Flow: 1e6},
	} {
		assert.Equal(t, LeakEstimate{}, EstimateLeak(NoLeak, r))
	}
}

func TestEstimateLeak_ReferenceScenario(t *testing.T) {
	est := EstimateLeak(Leak, Reading{Pressure: 5.0, Flow: 150})

	flowGpm := LpmToGpm(150)
	assert.InDelta(t, 39.62, flowGpm, 0.01)
	assert.InDelta(t, 27.73, ExpectedFlowFraction*flowGpm, 0.01)
	assert.InDelta(t, 11.88, flowGpm-ExpectedFlowFraction*flowGpm, 0.01)
	assert.InDelta(t, 51.0, HeadMetres(5.0), 1e-12)

	assert.InDelta(t, refLeakLpm, est.FlowLpm, 1e-9)
	assert.InDelta(t, refDiameterMm, est.DiameterMm, 1e-9)
}

func TestEstimateLeak_NeverNegative(t *testing.T) {
	for _, flow := range []float64{0, 0.5, 10, 1e4} {
		for _, pressure := range []float64{-3, 0, 0.2, 8} {
			est := EstimateLeak(Leak, Reading{Pressure: pressure, Flow: flow})
			assert.GreaterOrEqual(t, est.FlowLpm, 0.0)
			assert.GreaterOrEqual(t, est.DiameterMm, 0.0)
		}
	}
}

func TestEstimateLeak_ZeroHeadOrFlowGivesZeroDiameter(t *testing.T) {
	assert.Equal(t, 0.0, EstimateLeak(Leak, Reading{Pressure: 0, Flow: 150}).DiameterMm)
	assert.Equal(t, 0.0, EstimateLeak(Leak, Reading{Pressure: -1, Flow: 150}).DiameterMm)
	assert.Equal(t, 0.0, EstimateLeak(Leak, Reading{Pressure: 5, Flow: 0}).DiameterMm)
}

func TestOrificeDiameterMm(t *testing.T) {
	assert.Equal(t, 0.0, OrificeDiameterMm(0, 10))
	assert.Equal(t, 0.0, OrificeDiameterMm(-1, 10))
	assert.Equal(t, 0.0, OrificeDiameterMm(1, 0))

	// Back-substituting the diameter into the discharge equation recovers q.
	q, head := 0.002, 30.0
	d := MFromMm(OrificeDiameterMm(q, head))
	area := math.Pi * d * d / 4
	assert.InDelta(t, q, DischargeCoefficient*area*math.Sqrt(2*Gravity*head), 1e-12)
}
