// Command qa-loadgen drives qa-api with anonymous attendees who post and
// like questions on one live event while following its question stream.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/liveqa/project/internal/platform/env"
	"github.com/liveqa/project/internal/platform/logging"
	"github.com/liveqa/project/internal/platform/metrics"
	"github.com/sirupsen/logrus"
)

type config struct {
	APIBase                 string
	EventID                 string
	Users                   int
	SetupConcurrency        int
	StartupWait             time.Duration
	Duration                time.Duration
	RampUp                  time.Duration
	ActionsPerUserPerSecond float64
	PostRatio               float64
	RequestTimeout          time.Duration
	MetricsAddr             string
	EnableSSE               bool
}

func loadConfig() config {
	return config{
		APIBase:                 strings.TrimRight(env.String("LOADGEN_API_BASE", "http://qa-api:8080"), "/"),
		EventID:                 env.String("LOADGEN_EVENT_ID", ""),
		Users:                   env.Int("LOADGEN_USERS", 200),
		SetupConcurrency:        env.Int("LOADGEN_SETUP_CONCURRENCY", 25),
		StartupWait:             env.Duration("LOADGEN_STARTUP_WAIT", 2*time.Minute),
		Duration:                env.Duration("LOADGEN_DURATION", 10*time.Minute),
		RampUp:                  env.Duration("LOADGEN_RAMP_UP", 30*time.Second),
		ActionsPerUserPerSecond: env.Float("LOADGEN_ACTIONS_PER_USER_PER_SECOND", 0.3),
		PostRatio:               env.Float("LOADGEN_POST_RATIO", 0.25),
		RequestTimeout:          env.Duration("LOADGEN_REQUEST_TIMEOUT", 10*time.Second),
		MetricsAddr:             env.String("LOADGEN_METRICS_ADDR", ":9099"),
		EnableSSE:               env.Bool("LOADGEN_ENABLE_SSE", true),
	}
}

func main() {
	if err := env.Load(); err != nil {
		logging.New("info").WithError(err).Fatal("load .env")
	}
	log := logging.New(env.String("LOG_LEVEL", "info"))
	cfg := loadConfig()
	if cfg.EventID == "" {
		log.Fatal("LOADGEN_EVENT_ID is required (seed a live event with qactl seed)")
	}
	if cfg.Users <= 0 || cfg.SetupConcurrency <= 0 {
		log.Fatal("LOADGEN_USERS and LOADGEN_SETUP_CONCURRENCY must be > 0")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx := baseCtx
	if cfg.Duration > 0 {
		timeoutCtx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
		defer cancel()
		ctx = timeoutCtx
	}

	go runMetricsServer(cfg.MetricsAddr, log)

	r := newRunner(cfg, log)
	if err := r.waitForReady(ctx); err != nil {
		log.WithError(err).Fatal("qa-api not ready")
	}
	if err := r.Run(ctx); err != nil {
		log.WithError(err).Fatal("load test failed")
	}
	log.WithFields(logrus.Fields{
		"success_requests": r.requestsSuccess.Load(),
		"error_requests":   r.requestsError.Load(),
		"rate_limited":     r.rateLimited.Load(),
	}).Info("load test complete")
}

func runMetricsServer(addr string, log logrus.FieldLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultHandler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.WithField("addr", addr).Info("load generator metrics endpoint listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Warn("load generator metrics server failed")
	}
}
