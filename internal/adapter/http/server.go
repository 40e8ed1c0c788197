package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/leak-twin-service/internal/domain"
)

// Evaluator assesses a single reading.
type Evaluator interface {
	Evaluate(ctx context.Context, r domain.Reading) (domain.SensorOutcome, error)
}

// LiveView exposes the latest outcome of every polled sensor.
type LiveView interface {
	Latest() []domain.SensorOutcome
	LatestFor(sensorID string) (domain.SensorOutcome, bool)
}

// Options wires the API to the rest of the service.
type Options struct {
	Evaluator Evaluator
	Live      LiveView
	Rules     *domain.RuleTable
	Ready     sharedobs.ReadinessChecker
}

// Server exposes the twin API alongside health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	opts       Options
	logger     *slog.Logger
}

// NewServer creates an HTTP server with the API, /healthz, /readyz, and /metrics routes.
func NewServer(addr string, opts Options, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr: addr,
			Handler: handlers.RecoveryHandler(
				handlers.RecoveryLogger(recoveryLogger{logger}),
			)(mux),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		opts:   opts,
		logger: logger,
	}

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /predict", s.handlePredict)
	mux.HandleFunc("GET /live", s.handleLive)
	mux.HandleFunc("GET /live/{sensor}", s.handleLiveSensor)
	mux.HandleFunc("GET /rules", s.handleRules)
	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(opts.Ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, map[string]string{"status": "Digital Twin Running"})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	pressure, err := queryFloat(r, "pressure")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	flow, err := queryFloat(r, "flow")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	out, err := s.opts.Evaluator.Evaluate(r.Context(), domain.Reading{
		Pressure: pressure,
		Flow:     flow,
		Source:   domain.SourceManual,
	})
	if err != nil {
		if errors.Is(err, domain.ErrClassifierUnavailable) {
			s.logger.Warn("manual prediction unavailable", "pressure", pressure, "flow", flow, "error", err)
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		s.logger.Error("manual prediction failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	outcomes := []domain.SensorOutcome{}
	if s.opts.Live != nil {
		outcomes = append(outcomes, s.opts.Live.Latest()...)
	}
	sharedobs.WriteJSON(w, http.StatusOK, outcomes)
}

func (s *Server) handleLiveSensor(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("sensor")
	if s.opts.Live != nil {
		if out, ok := s.opts.Live.LatestFor(id); ok {
			sharedobs.WriteJSON(w, http.StatusOK, out)
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Errorf("no outcome for sensor %q", id))
}

func (s *Server) handleRules(w http.ResponseWriter, _ *http.Request) {
	rows := []domain.Prescription{}
	if s.opts.Rules != nil {
		for _, rule := range s.opts.Rules.Rules() {
			rows = append(rows, rule.Prescription())
		}
	}
	sharedobs.WriteJSON(w, http.StatusOK, rows)
}

func queryFloat(r *http.Request, name string) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("missing query parameter %q", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: not a number", name, raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid %s %q: must be finite", name, raw)
	}
	return v, nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": err.Error()})
}

// recoveryLogger routes recovered handler panics into slog.
type recoveryLogger struct {
	logger *slog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("http handler panic", "panic", fmt.Sprint(v...))
}
