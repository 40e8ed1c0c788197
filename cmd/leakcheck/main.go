// Command leakcheck evaluates a single pressure/flow reading offline and
// prints the finalized outcome as JSON. It uses the same classifier, sizing
// and prescription code as the service.
//
// Usage:
//
//	go run ./cmd/leakcheck -pressure 5 -flow 150
//	go run ./cmd/leakcheck -pressure 5 -flow 150 \
//	  -rules prescriptions.csv -model model.yaml -at 2026-03-02T09:30:00Z
//
// Exit codes: 0 success, 1 usage or load error, 2 classifier unavailable.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/leak-twin-service/internal/adapter/model"
	"github.com/couchcryptid/leak-twin-service/internal/adapter/ruletable"
	"github.com/couchcryptid/leak-twin-service/internal/domain"
)

const (
	exitOK          = 0
	exitUsage       = 1
	exitUnavailable = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("leakcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	pressure := fs.Float64("pressure", math.NaN(), "line pressure in bar (required)")
	flow := fs.Float64("flow", math.NaN(), "flow rate in litres per minute (required)")
	rulesPath := fs.String("rules", "", "prescription rule table CSV (default: embedded table)")
	modelPath := fs.String("model", "", "classifier model YAML (default: embedded model)")
	sensor := fs.String("sensor", "", "optional sensor ID to stamp on the outcome")
	at := fs.String("at", "", "RFC3339 evaluation time, for reproducible output")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	if !isFinite(*pressure) || !isFinite(*flow) {
		fmt.Fprintln(stderr, "leakcheck: -pressure and -flow are required finite numbers")
		fs.Usage()
		return exitUsage
	}

	if *at != "" {
		t, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			fmt.Fprintf(stderr, "leakcheck: invalid -at: %v\n", err)
			return exitUsage
		}
		domain.SetClock(clockwork.NewFakeClockAt(t))
		defer domain.SetClock(nil)
	}

	rules, err := ruletable.Load(*rulesPath)
	if err != nil {
		fmt.Fprintf(stderr, "leakcheck: %v\n", err)
		return exitUsage
	}

	classifier, err := model.Load(*modelPath)
	if err != nil {
		fmt.Fprintf(stderr, "leakcheck: %v: %v\n", domain.ErrClassifierUnavailable, err)
		return exitUnavailable
	}

	out, err := domain.Evaluate(context.Background(), classifier, rules, domain.Reading{
		SensorID: *sensor,
		Pressure: *pressure,
		Flow:     *flow,
		Source:   domain.SourceManual,
	})
	if err != nil {
		fmt.Fprintf(stderr, "leakcheck: %v\n", err)
		if errors.Is(err, domain.ErrClassifierUnavailable) {
			return exitUnavailable
		}
		return exitUsage
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(stderr, "leakcheck: write output: %v\n", err)
		return exitUsage
	}
	return exitOK
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
