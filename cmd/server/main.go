// Chainplane server: tool-chain orchestration with a traceable record.
//
// The server hosts the tool registry and trace logger behind a small HTTP
// surface: each incoming invoke request starts a fresh chain, dispatch
// goes through the registry's allowlist/concurrency/schema checks, and
// the tracer keeps the span timeline for later retrieval and export.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chainplane/chainplane/internal/api"
	"github.com/chainplane/chainplane/internal/config"
	"github.com/chainplane/chainplane/internal/registry"
	"github.com/chainplane/chainplane/internal/telemetry"
	"github.com/chainplane/chainplane/internal/tools"
	"github.com/chainplane/chainplane/internal/tracer"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := config.Load()

	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize telemetry")
	}
	defer shutdownTelemetry(context.Background())

	opts := []tracer.Option{tracer.WithServiceName(cfg.Telemetry.ServiceName)}
	if cfg.Telemetry.Enabled {
		opts = append(opts, tracer.WithMirror(tracer.NewOTelMirror()))
	}
	tr := tracer.New(opts...)

	reg := registry.New()
	if err := tools.Register(reg); err != nil {
		log.Fatal().Err(err).Msg("Failed to register built-in tools")
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(cfg, reg, tr),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().
		Int("port", cfg.Port).
		Str("version", cfg.Version).
		Msg("Chainplane server listening")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
