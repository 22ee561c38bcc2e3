package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/udayansarma/voice-ai-chat/internal/config"
	"github.com/udayansarma/voice-ai-chat/internal/httpserver"
	"github.com/udayansarma/voice-ai-chat/internal/logging"
	"github.com/udayansarma/voice-ai-chat/internal/orchestrator"
	"github.com/udayansarma/voice-ai-chat/internal/speech"
	"github.com/udayansarma/voice-ai-chat/internal/stats"
	"github.com/udayansarma/voice-ai-chat/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No logger yet; the default one honours nothing from cfg.
		zap.NewExample().Fatal("load config", zap.Error(err))
	}

	logger := logging.New(cfg.Log)
	defer func() { _ = logger.Sync() }()
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	tracing, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Fatal("init telemetry", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sink := stats.NewPrometheus("voice_ai_chat", reg)

	sessions := orchestrator.NewSessionFactory(cfg.Realtime, logger)
	handlers := httpserver.Handlers{
		Synth:    orchestrator.NewSynthesizer(cfg.Realtime, sessions, sink, logger),
		Recog:    orchestrator.NewRecognizer(cfg.Realtime, sessions, sink, logger),
		Speech:   speech.NewClient(cfg.Speech, logger),
		Info:     httpserver.NewInfo(cfg.Realtime),
		Gatherer: reg,
		Logger:   logger,
	}

	e := httpserver.New(cfg.HTTP, logger)
	handlers.Register(e)

	server := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("address", cfg.HTTP.Address),
			zap.String("realtime_protocol", string(cfg.Realtime.ResolvedProtocol())))
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	case sig := <-sigChan:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		_ = server.Close()
	}
	if err := tracing.Shutdown(ctx); err != nil {
		logger.Error("telemetry shutdown failed", zap.Error(err))
	}
}
