package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wyydra/tandem/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/tandem/internal/adapter/driven/registry/memory"
	redisregistry "github.com/Wyydra/tandem/internal/adapter/driven/registry/redis"
	handler "github.com/Wyydra/tandem/internal/adapter/driving/http"
	"github.com/Wyydra/tandem/internal/config"
	"github.com/Wyydra/tandem/internal/core/port"
	"github.com/Wyydra/tandem/internal/core/service"
	"github.com/Wyydra/tandem/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		logging.Init("info", os.Stdout)
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	l := logging.Init(cfg.LogLevel, os.Stdout)

	var registry port.RoomRegistry
	switch cfg.Registry {
	case config.RegistryRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := redisregistry.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		cancel()
		if err != nil {
			l.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to open registry")
		}
		defer client.Close()
		registry = redisregistry.NewRoomRegistry(client, cfg.Redis.RoomTTL)
	default:
		registry = memory.NewRoomRegistry()
	}
	l.Info().Str("registry", cfg.Registry).Msg("Room registry ready")

	hub := ws.NewHub()
	relay := service.NewRelayService(registry, hub)
	h := handler.NewHandler(relay, hub, handler.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		StaticDir:      cfg.StaticDir,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		l.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	hub.Stop()
	l.Info().Msg("Server exited")
}
