package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Severity tags with special meaning to the resolver.
const (
	SeverityNormal       = "Normal"
	SeverityModerate     = "Moderate"
	SeverityCatastrophic = "Catastrophic"
)

// Calibration denominators that normalize a leak estimate into the ratios the
// rule table is written against.
const (
	SizeRatioDivisorMm       = 1000.0
	MagnitudeRatioDivisorLpm = 10800.0
)

// Column names of the rule table.
const (
	ColSeverity     = "severity"
	ColLeakSizeMin  = "leak_size_min"
	ColLeakSizeMax  = "leak_size_max"
	ColMagnitudeMin = "magnitude_min"
	ColMagnitudeMax = "magnitude_max"
	ColActionType   = "action_type"
	ColPriority     = "priority"
)

// RequiredColumns lists the columns every rule table must carry.
var RequiredColumns = []string{
	ColSeverity, ColLeakSizeMin, ColLeakSizeMax,
	ColMagnitudeMin, ColMagnitudeMax, ColActionType, ColPriority,
}

// Bound is an optional numeric limit on one axis of a rule. A bound is
// absent (empty cell), valid, or malformed (a cell that is not a number).
// Absent and malformed bounds never exclude a value.
type Bound struct {
	Raw   string
	Value float64
	Valid bool
}

// ParseBound reads a rule-table cell. NaN cells are treated as empty.
func ParseBound(cell string) Bound {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return Bound{}
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return Bound{Raw: cell}
	}
	if math.IsNaN(v) {
		return Bound{}
	}
	return Bound{Raw: cell, Value: v, Valid: true}
}

// Absent reports whether the cell was empty.
func (b Bound) Absent() bool { return b.Raw == "" }

// Malformed reports whether the cell held something other than a number.
func (b Bound) Malformed() bool { return b.Raw != "" && !b.Valid }

func (b Bound) admitsAbove(x float64) bool { return !b.Valid || x >= b.Value }

func (b Bound) admitsBelow(x float64) bool { return !b.Valid || x <= b.Value }

// Rule is one row of the prescription table.
type Rule struct {
	Severity     string
	LeakSizeMin  Bound
	LeakSizeMax  Bound
	MagnitudeMin Bound
	MagnitudeMax Bound
	ActionType   string
	Priority     int

	// Attributes holds the descriptive columns beyond the required set,
	// passed through verbatim.
	Attributes map[string]string
}

// Matches reports whether both ratios fall inside the rule's bounds.
func (r Rule) Matches(sizeRatio, magnitudeRatio float64) bool {
	sizeOK := r.LeakSizeMin.admitsAbove(sizeRatio) && r.LeakSizeMax.admitsBelow(sizeRatio)
	magOK := r.MagnitudeMin.admitsAbove(magnitudeRatio) && r.MagnitudeMax.admitsBelow(magnitudeRatio)
	return sizeOK && magOK
}

// Prescription materializes a rule: every column of the row, with missing
// cells rendered as empty strings.
func (r Rule) Prescription() Prescription {
	fields := make(map[string]string, len(r.Attributes)+4)
	for k, v := range r.Attributes {
		fields[k] = v
	}
	fields[ColLeakSizeMin] = r.LeakSizeMin.Raw
	fields[ColLeakSizeMax] = r.LeakSizeMax.Raw
	fields[ColMagnitudeMin] = r.MagnitudeMin.Raw
	fields[ColMagnitudeMax] = r.MagnitudeMax.Raw

	return Prescription{
		Severity:   r.Severity,
		ActionType: r.ActionType,
		Priority:   r.Priority,
		Fields:     fields,
	}
}

// Prescription is the recommended action for an outcome. It serializes as a
// flat object: severity, action_type and priority plus every other column of
// the rule it came from.
type Prescription struct {
	Severity   string
	ActionType string
	Priority   int
	Fields     map[string]string
}

var (
	// NormalPrescription is reported for every reading without a leak.
	NormalPrescription = Prescription{
		Severity:   SeverityNormal,
		ActionType: "No action required",
		Priority:   0,
	}

	// NoPrescription is returned when no rule matches and the table has no
	// Moderate fallback.
	NoPrescription = Prescription{
		Severity:   "Unknown",
		ActionType: "No prescription found",
		Priority:   0,
	}
)

func (p Prescription) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Fields)+3)
	for k, v := range p.Fields {
		out[k] = v
	}
	out[ColSeverity] = p.Severity
	out[ColActionType] = p.ActionType
	out[ColPriority] = p.Priority
	return json.Marshal(out)
}

func (p *Prescription) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Prescription{}
	for k, v := range raw {
		switch k {
		case ColSeverity:
			p.Severity, _ = v.(string)
		case ColActionType:
			p.ActionType, _ = v.(string)
		case ColPriority:
			if f, ok := v.(float64); ok {
				p.Priority = int(f)
			}
		default:
			if p.Fields == nil {
				p.Fields = make(map[string]string)
			}
			switch tv := v.(type) {
			case string:
				p.Fields[k] = tv
			case nil:
				p.Fields[k] = ""
			default:
				b, _ := json.Marshal(tv)
				p.Fields[k] = string(b)
			}
		}
	}
	return nil
}

// Match describes how Resolve arrived at its answer.
type Match string

const (
	MatchRule     Match = "rule"     // a table row admitted the ratios
	MatchFallback Match = "fallback" // no row matched; first Moderate row used
	MatchNone     Match = "none"     // no row matched and no Moderate row exists
)

// RuleTable is an ordered, immutable set of prescription rules. It is safe
// for concurrent use.
type RuleTable struct {
	rules []Rule
}

// NewRuleTable copies rules into a table, preserving order.
func NewRuleTable(rules []Rule) *RuleTable {
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	return &RuleTable{rules: cp}
}

// Rules returns a copy of the table rows in order.
func (t *RuleTable) Rules() []Rule {
	cp := make([]Rule, len(t.rules))
	copy(cp, t.rules)
	return cp
}

// Len returns the number of rows.
func (t *RuleTable) Len() int { return len(t.rules) }

// Resolve returns the first row admitting both ratios, skipping Catastrophic
// rows. Without a match it falls back to the first Moderate row, and without
// one of those to NoPrescription.
func (t *RuleTable) Resolve(sizeRatio, magnitudeRatio float64) (Prescription, Match) {
	if t == nil {
		return NoPrescription, MatchNone
	}
	for _, r := range t.rules {
		if r.Severity == SeverityCatastrophic {
			continue
		}
		if r.Matches(sizeRatio, magnitudeRatio) {
			return r.Prescription(), MatchRule
		}
	}

	for _, r := range t.rules {
		if r.Severity == SeverityModerate {
			return r.Prescription(), MatchFallback
		}
	}
	return NoPrescription, MatchNone
}

// SizeRatio normalizes a leak diameter for rule matching.
func SizeRatio(e LeakEstimate) float64 { return e.DiameterMm / SizeRatioDivisorMm }

// MagnitudeRatio normalizes a leak rate for rule matching.
func MagnitudeRatio(e LeakEstimate) float64 { return e.FlowLpm / MagnitudeRatioDivisorLpm }
