// Package domain turns pipe pressure/flow telemetry into leak assessments.
//
// # Units
//
// Telemetry arrives in metric units: pressure in bar, flow in litres per
// minute (lpm). The classifier oracle and the baseline expectation law work in
// imperial units (psi, US gallons per minute), so readings are converted on
// the way in:
//
//	1 bar = 14.5038 psi
//	1 gal = 3.78541 L
//
// # Leak Sizing
//
// A confirmed leak is sized with the orifice discharge equation
//
//	Q = Cd * A * sqrt(2 * g * h)
//
// solved for the orifice area A, where Q is the leak rate in m³/s, Cd = 0.62
// is the discharge coefficient, g = 9.81 m/s² and h is the hydraulic head in
// metres (pressure in bar × 10.2). The area is reported as the diameter of an
// equivalent circular hole, in millimetres.
//
// The leak rate itself comes from the expectation law: under normal operation
// 70% of the nominal flow reaches the far end, and whatever exceeds that
// fraction is attributed to the leak. A negative deficit is clamped to zero.
//
// # Prescriptions
//
// Severity tiers live in an ordered rule table. The leak is normalized into
//
//	size ratio      = diameter_mm / 1000
//	magnitude ratio = leak_lpm / 10800
//
// and the first row whose bounds admit both ratios wins. Rows tagged
// "Catastrophic" are reserved for manual escalation and never match
// automatically. When nothing matches, the first "Moderate" row is used.
//
// # Calibration Constants
//
// The 0.70 expected-flow fraction, the 10800 lpm magnitude denominator and the
// 10.2 bar-to-head factor are field calibration values. They are fixed, not
// derived.
package domain
