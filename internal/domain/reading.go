package domain

import "time"

// Source identifies how a reading reached the evaluator.
type Source string

const (
	SourceLive   Source = "live"   // polled from the telemetry channel
	SourceManual Source = "manual" // supplied directly through the API or CLI
)

// Reading is a single pressure/flow sample for one sensor. Values are always
// defined and finite by the time a Reading reaches Evaluate; the telemetry
// adapter substitutes defaults for anything missing or malformed.
type Reading struct {
	SensorID    string
	Pressure    float64 // bar
	Flow        float64 // lpm
	ObservedAt  time.Time
	Source      Source
	Substituted bool // at least one value was replaced by a default
}

// LeakFlag is the binary leak decision, serialized as 0 or 1.
type LeakFlag int

const (
	NoLeak LeakFlag = 0
	Leak   LeakFlag = 1
)

// ClassificationResult is the classifier's verdict for one reading.
type ClassificationResult struct {
	Leak        LeakFlag
	Probability float64
}

// LeakEstimate is the physical size of a confirmed leak. Both fields are zero
// when no leak was detected.
type LeakEstimate struct {
	FlowLpm    float64
	DiameterMm float64
}

// SensorOutcome is the final, serializable assessment of one reading.
type SensorOutcome struct {
	ID             string       `json:"id"`
	SensorID       string       `json:"sensor_id,omitempty"`
	Source         Source       `json:"source"`
	Pressure       float64      `json:"pressure"`
	Flow           float64      `json:"flow"`
	Leak           LeakFlag     `json:"leak"`
	Probability    float64      `json:"probability"`
	LeakFlowLpm    float64      `json:"leak_lpm"`
	LeakDiameterMm float64      `json:"leak_mm"`
	Prescription   Prescription `json:"prescription"`
	Substituted    bool         `json:"substituted,omitempty"`
	ObservedAt     time.Time    `json:"observed_at"`
	EvaluatedAt    time.Time    `json:"evaluated_at"`
}
