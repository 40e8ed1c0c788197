package domain

// Conversion factors between the metric telemetry units and the imperial
// units the classifier and the expectation law were calibrated in.
const (
	psiPerBar    = 14.5038
	litresPerGal = 3.78541
)

// BarToPsi converts a pressure in bar to pounds per square inch.
func BarToPsi(bar float64) float64 { return bar * psiPerBar }

// PsiToBar converts a pressure in psi to bar.
func PsiToBar(psi float64) float64 { return psi / psiPerBar }

// LpmToGpm converts litres per minute to US gallons per minute.
func LpmToGpm(lpm float64) float64 { return lpm / litresPerGal }

// GpmToLpm converts US gallons per minute to litres per minute.
func GpmToLpm(gpm float64) float64 { return gpm * litresPerGal }

// MmFromM converts metres to millimetres.
func MmFromM(m float64) float64 { return m * 1000 }

// MFromMm converts millimetres to metres.
func MFromMm(mm float64) float64 { return mm / 1000 }

// M3sFromLpm converts litres per minute to cubic metres per second.
func M3sFromLpm(lpm float64) float64 { return lpm / 1000 / 60 }

// LpmFromM3s converts cubic metres per second to litres per minute.
func LpmFromM3s(m3s float64) float64 { return m3s * 60 * 1000 }
