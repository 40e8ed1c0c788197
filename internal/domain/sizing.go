package domain

import "math"

// Calibration constants for the leak sizing model.
const (
	// ExpectedFlowFraction is the share of nominal flow expected to reach
	// the far end of the line under normal operation.
	ExpectedFlowFraction = 0.70

	// HeadMetresPerBar converts pressure in bar to metres of water head.
	HeadMetresPerBar = 10.2

	// DischargeCoefficient is the empirical Cd of a sharp-edged orifice.
	DischargeCoefficient = 0.62

	// Gravity is standard gravitational acceleration in m/s².
	Gravity = 9.81
)

// EstimateLeak sizes a leak from a reading. A NoLeak flag returns a zero
// estimate without running the model.
func EstimateLeak(flag LeakFlag, r Reading) LeakEstimate {
	if flag != Leak {
		return LeakEstimate{}
	}

	flowGpm := LpmToGpm(r.Flow)
	expectedGpm := ExpectedFlowFraction * flowGpm
	leakGpm := math.Max(0, flowGpm-expectedGpm)
	leakLpm := GpmToLpm(leakGpm)

	return LeakEstimate{
		FlowLpm:    leakLpm,
		DiameterMm: OrificeDiameterMm(M3sFromLpm(leakLpm), HeadMetres(r.Pressure)),
	}
}

// HeadMetres converts pressure in bar to hydraulic head in metres.
func HeadMetres(pressureBar float64) float64 {
	return pressureBar * HeadMetresPerBar
}

// OrificeDiameterMm solves Q = Cd*A*sqrt(2*g*h) for the area of the hole
// discharging q m³/s under headM metres of head, and returns the diameter of
// the equivalent circle in millimetres. Non-positive flow or head yields 0.
func OrificeDiameterMm(q, headM float64) float64 {
	if q <= 0 || headM <= 0 {
		return 0
	}
	area := q / (DischargeCoefficient * math.Sqrt(2*Gravity*headM))
	return MmFromM(math.Sqrt(4 * area / math.Pi))
}
