package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/leak-twin-service/internal/adapter/http"
	"github.com/couchcryptid/leak-twin-service/internal/adapter/influx"
	kafkaadapter "github.com/couchcryptid/leak-twin-service/internal/adapter/kafka"
	"github.com/couchcryptid/leak-twin-service/internal/adapter/model"
	mqttadapter "github.com/couchcryptid/leak-twin-service/internal/adapter/mqtt"
	"github.com/couchcryptid/leak-twin-service/internal/adapter/ruletable"
	"github.com/couchcryptid/leak-twin-service/internal/adapter/thingspeak"
	"github.com/couchcryptid/leak-twin-service/internal/config"
	"github.com/couchcryptid/leak-twin-service/internal/observability"
	"github.com/couchcryptid/leak-twin-service/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	classifier, err := model.Load(cfg.ModelPath)
	if err != nil {
		logger.Error("failed to load classifier model", "path", cfg.ModelPath, "error", err)
		os.Exit(1)
	}
	artifact := classifier.Artifact()
	logger.Info("classifier loaded", "model", artifact.Name, "version", artifact.Version, "threshold", artifact.Threshold)

	rules, err := ruletable.Load(cfg.RulesPath)
	if err != nil {
		logger.Error("failed to load rule table", "path", cfg.RulesPath, "error", err)
		os.Exit(1)
	}
	logger.Info("rule table loaded", "rows", rules.Len())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Outcome sinks, each feature-flagged by its configuration.
	var sinks []pipeline.NamedLoader
	if cfg.KafkaEnabled {
		sinks = append(sinks, kafkaadapter.NewWriter(cfg, logger))
		logger.Info("kafka sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	if cfg.InfluxEnabled() {
		sinks = append(sinks, influx.NewWriter(cfg, logger))
		logger.Info("influx sink enabled", "url", cfg.InfluxURL, "bucket", cfg.InfluxBucket)
	}
	if cfg.MQTTEnabled() {
		alerter, err := mqttadapter.NewAlerter(ctx, cfg, logger)
		if err != nil {
			logger.Error("mqtt alerts disabled", "error", err)
		} else {
			sinks = append(sinks, alerter)
		}
	}
	loader := pipeline.NewMultiLoader(metrics, logger, sinks...)

	telemetry := thingspeak.NewClient(cfg, metrics, logger)
	if len(cfg.Sensors) == 0 {
		logger.Warn("no telemetry sensors configured, only manual predictions are served")
	}

	assessor := pipeline.NewAssessor(classifier, rules, metrics)
	p := pipeline.New(telemetry, assessor, loader, logger, metrics, cfg.PollInterval)

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Options{
		Evaluator: assessor,
		Live:      p,
		Rules:     assessor.Rules(),
		Ready:     p,
	}, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start poll pipeline.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("pipeline did not stop before shutdown timeout")
	}
	if err := loader.Close(); err != nil {
		logger.Error("sink close error", "error", err)
	}

	logger.Info("shutdown complete")
}
