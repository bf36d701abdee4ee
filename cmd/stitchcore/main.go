// Command stitchcore runs the bespoke-garment order orchestrator: the state
// machine engine, validation gate, cutter work queue, SLA monitor, and the
// REST API in one process.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stitchcore/internal/core"
	"stitchcore/internal/cutter"
	"stitchcore/internal/eventlog"
	"stitchcore/internal/httpapi"
	"stitchcore/internal/infra/blob"
	"stitchcore/internal/metrics"
	"stitchcore/internal/pattern"
	"stitchcore/internal/queue"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err.Error())
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	// Durable event log first: the process must not serve traffic if the
	// WAL cannot flush.
	log, err := eventlog.Open()
	if err != nil {
		return err
	}
	defer func() { _ = log.Close() }()

	store, err := core.OpenOrderStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	artifacts, err := blob.Open(ctx)
	if err != nil {
		return err
	}
	generator := pattern.NewGenerator(artifacts)

	// STITCHCORE_METRICS=expvar swaps the engine recorder for the
	// process-local expvar exporter; the Prometheus collectors on /metrics
	// stay registered either way.
	var recorder core.MetricsRecorder = metrics.Recorder{}
	if getEnv("STITCHCORE_METRICS", "prometheus") == "expvar" {
		recorder = core.NewExpvarMetricsRecorder("stitchcore_engine")
	}

	engine := core.NewEngine(store, log,
		core.WithLogger(logger),
		core.WithMetrics(recorder),
		core.WithPatternGenerator(generator),
		core.WithTransitionHook(metrics.TransitionHook),
	)

	cutterAddr := getEnv("STITCHCORE_CUTTER_ADDR", cutter.DefaultAddr)
	sender := metrics.InstrumentedSender{Next: cutter.NewClient(cutterAddr)}

	q, err := queue.New(log, sender, metrics.QueueObserver{Next: engine}, queue.Config{
		Workers:     getEnvInt("STITCHCORE_QUEUE_WORKERS", 2),
		MaxAttempts: getEnvInt("STITCHCORE_QUEUE_MAX_ATTEMPTS", 5),
	})
	if err != nil {
		return err
	}
	engine.AttachQueue(q)
	metrics.QueueDepth.Set(float64(q.Depth()))
	q.Start()

	policies, err := core.LoadSLAPolicies()
	if err != nil {
		return err
	}
	monitor := core.NewSLAMonitor(engine, policies,
		core.WithSLALogger(logger),
		core.WithSLAMetrics(recorder),
	)
	monitor.Start()

	api := httpapi.NewHandler(engine)
	api.Monitor = monitor
	api.Artifacts = generator

	mux := http.NewServeMux()
	mux.Handle("/api/v1/", api)
	mux.Handle("/healthz", api)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         getEnv("STITCHCORE_HTTP_ADDR", ":8080"),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err.Error())
	}
	monitor.Stop()
	if err := q.Stop(shutdownCtx); err != nil {
		logger.Warn("queue shutdown", "error", err.Error())
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
