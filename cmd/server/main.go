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

	router "github.com/huddlekit/huddle/internal/adapters/http"
	"github.com/huddlekit/huddle/internal/auth"
	"github.com/huddlekit/huddle/internal/config"
	"github.com/huddlekit/huddle/internal/coordinator"
	"github.com/huddlekit/huddle/internal/hub"
	"github.com/huddlekit/huddle/internal/metrics"
	"github.com/huddlekit/huddle/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	st := store.NewMemory()
	coord := coordinator.New(st, &auth.TokenResolver{}, &auth.BcryptVerifier{}, coordinator.Config{
		DefaultCapacity:  cfg.Meeting.DefaultCapacity,
		RoomCodeAttempts: cfg.Meeting.RoomCodeAttempts,
	})
	h := hub.New(coord)
	coord.SetNotifier(h)

	sweeper, err := coordinator.NewSweeper(coord, cfg.Cleanup.Interval, cfg.Cleanup.MaxIdle)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up stale session sweeper")
	}
	sweeper.Start()
	defer sweeper.Stop()

	if cfg.Monitoring.Enabled {
		mon := metrics.NewServer(fmt.Sprintf(":%d", cfg.Monitoring.Port), cfg.Monitoring.Pprof)
		go mon.Run()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = mon.Shutdown(shutdownCtx)
		}()
	}

	r := router.SetupRouter(ctx, cfg, coord, h)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Huddle server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
