package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"venueportal/api/internal/app"
	"venueportal/api/internal/config"
	"venueportal/api/internal/store"
	"venueportal/api/internal/util"
)

func main() {
	cfg := config.Load()
	util.ConfigureLogging(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	ctx := context.Background()

	pipeline, err := config.LoadPipeline(cfg.PipelineFile)
	if err != nil {
		log.Fatal().Err(err).Msg("pipeline config invalid")
	}

	components, err := app.Bootstrap(ctx, cfg, pipeline)
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap failed")
	}
	defer components.Close()

	applied, err := store.ApplyMigrations(ctx, components.Store.DB(), cfg.MigrationsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}
	if len(applied) > 0 {
		log.Info().Strs("migrations", applied).Msg("applied migrations")
	}
	go components.Search.ReindexAllFromPG(ctx)

	httpServer := app.NewHTTPServer(components.Service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// exports render PDFs and syncs can run long
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("venue portal API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
