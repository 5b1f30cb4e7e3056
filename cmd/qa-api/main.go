package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/liveqa/project/internal/app/api"
	"github.com/liveqa/project/internal/app/events"
	"github.com/liveqa/project/internal/app/questions"
	"github.com/liveqa/project/internal/app/reminders"
	"github.com/liveqa/project/internal/backend"
	"github.com/liveqa/project/internal/config"
	"github.com/liveqa/project/internal/platform/logging"
)

func main() {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Parse()
	if err != nil {
		logging.New("info").WithError(err).Fatal("invalid configuration")
	}
	log := logging.New(cfg.LogLevel)

	b, err := backend.Open(runCtx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("backend unavailable")
	}
	defer b.Close()

	eventSvc := events.NewService(b.Store, log)
	questionSvc := questions.NewService(b.Store, eventSvc, log)
	scheduler := reminders.NewScheduler(reminders.NATSDelivery(b.Publisher, time.Now), log)
	defer scheduler.Stop()

	handler := api.NewHandler(b.Store, eventSvc, questionSvc, b.Identity, scheduler, log)
	handler.AllowedOrigin = cfg.UIOrigin
	handler.Ready = b.Ready
	handler.Start(runCtx)

	// Question streams stay open for the life of the view, so there is no
	// WriteTimeout and their contexts end with runCtx.
	server := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           handler.Router(),
		BaseContext:       func(net.Listener) context.Context { return runCtx },
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.WithField("addr", cfg.APIAddr).Info("qa-api listening")
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.WithError(err).Fatal("server failed")
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("qa-api graceful shutdown failed")
	}
}
