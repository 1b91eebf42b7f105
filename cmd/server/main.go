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

	"kotoba.app/nihongo-assistant/internal/api"
	"kotoba.app/nihongo-assistant/internal/config"
	"kotoba.app/nihongo-assistant/internal/core"
	"kotoba.app/nihongo-assistant/internal/media"
	"kotoba.app/nihongo-assistant/internal/store"
)

func main() {
	log := zerolog.New(os.Stdout).With().
		Str("service", "nihongo-assistant").
		Timestamp().
		Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	dbStore, err := store.NewStore(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer dbStore.Close()

	mediaStore, err := media.NewStore(cfg.MediaDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize media store")
	}

	ctx := context.Background()
	model, err := core.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize model client")
	}
	defer model.Close()

	dispatcher := core.NewDispatcher(dbStore, log)
	orchestrator := core.NewOrchestrator(model, dispatcher, dbStore, mediaStore, cfg.PromptPath, log)

	handler := api.NewHandler(orchestrator, dbStore, mediaStore, cfg, log)
	router := api.NewRouter(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,  // image uploads can be large
		WriteTimeout: 180 * time.Second, // tool-call exchanges can take a while
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("model", cfg.GeminiModel).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited")
}
