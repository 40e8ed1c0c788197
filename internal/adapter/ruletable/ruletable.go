// Package ruletable loads the prescription rule table from CSV.
package ruletable

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/couchcryptid/leak-twin-service/internal/domain"
)

//go:embed prescription.csv
var defaultTable []byte

// ErrMissingColumn is returned when the header lacks a required column.
var ErrMissingColumn = errors.New("rule table: missing required column")

// Load reads the table at path, or the embedded default table when path is
// empty.
func Load(path string) (*domain.RuleTable, error) {
	if path == "" {
		return Parse(bytes.NewReader(defaultTable))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rule table: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a CSV rule table. Row order is preserved. Bound cells are kept
// as written; malformed bounds are the resolver's concern, not a load error.
func Parse(r io.Reader) (*domain.RuleTable, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read rule table header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[h] = i
	}
	for _, req := range domain.RequiredColumns {
		if _, ok := cols[req]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, req)
		}
	}

	var rules []domain.Rule
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read rule table line %d: %w", line, err)
		}
		if isBlank(rec) {
			continue
		}
		rule, err := parseRow(header, cols, rec)
		if err != nil {
			return nil, fmt.Errorf("rule table line %d: %w", line, err)
		}
		rules = append(rules, rule)
	}

	return domain.NewRuleTable(rules), nil
}

func parseRow(header []string, cols map[string]int, rec []string) (domain.Rule, error) {
	cell := func(name string) string {
		i := cols[name]
		if i >= len(rec) {
			return ""
		}
		return cleanCell(rec[i])
	}

	priority := 0
	if p := cell(domain.ColPriority); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			f, ferr := strconv.ParseFloat(p, 64)
			if ferr != nil || f != float64(int(f)) {
				return domain.Rule{}, fmt.Errorf("invalid priority %q", p)
			}
			n = int(f)
		}
		priority = n
	}

	rule := domain.Rule{
		Severity:     cell(domain.ColSeverity),
		LeakSizeMin:  domain.ParseBound(cell(domain.ColLeakSizeMin)),
		LeakSizeMax:  domain.ParseBound(cell(domain.ColLeakSizeMax)),
		MagnitudeMin: domain.ParseBound(cell(domain.ColMagnitudeMin)),
		MagnitudeMax: domain.ParseBound(cell(domain.ColMagnitudeMax)),
		ActionType:   cell(domain.ColActionType),
		Priority:     priority,
	}

	for i, name := range header {
		if slices.Contains(domain.RequiredColumns, name) {
			continue
		}
		if rule.Attributes == nil {
			rule.Attributes = make(map[string]string)
		}
		v := ""
		if i < len(rec) {
			v = cleanCell(rec[i])
		}
		rule.Attributes[name] = v
	}
	return rule, nil
}

// cleanCell trims a cell and renders NaN markers as empty.
func cleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "nan") {
		return ""
	}
	return s
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
