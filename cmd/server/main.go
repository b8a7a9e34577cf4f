package main

// @title           Discord Panel Service API
// @version         1.0
// @description     Realtime administration panel backend for a Discord bot
// @host            localhost:8080
// @BasePath        /api/v1
// @schemes         http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"panel-service/internal/api/routes"
	"panel-service/internal/auth"
	"panel-service/internal/config"
	"panel-service/internal/database"
	"panel-service/internal/gateway"
	"panel-service/internal/realtime"
	"panel-service/internal/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	slog.Info("Starting panel service")

	redisClient, err := database.NewRedisConnection(cfg.Redis.URI)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	db, err := database.NewPostgresConnection(cfg.Database.URI)
	if err != nil {
		slog.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}

	authenticator := auth.NewJWTAuthenticator(cfg.JWT.Secret, cfg.JWT.ExpirationTime)
	presence := services.NewPresenceService(redisClient)

	// Realtime core
	registry := realtime.NewRegistry()
	metrics := realtime.NewMetrics()
	broadcaster := realtime.NewBroadcaster(registry, metrics, slog.Default())
	hub := realtime.NewHub(registry, broadcaster, authenticator, presence, metrics, slog.Default())
	go hub.Run()

	// Gateway event source
	dispatcher := gateway.NewDispatcher(broadcaster, cfg.Gateway.Buffer, slog.Default())
	go dispatcher.Run()

	gatewayCtx, gatewayCancel := context.WithCancel(context.Background())
	source := gateway.NewKafkaSource(cfg.Gateway.Brokers, cfg.Gateway.Topic, cfg.Gateway.GroupID, dispatcher, slog.Default())
	go func() {
		if err := source.Run(gatewayCtx); err != nil {
			slog.Error("Gateway source stopped", "error", err)
		}
	}()

	router := routes.NewRouter(hub, metrics, authenticator, presence, redisClient.GetClient(), db)
	router.SetupRoutes()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	gatewayCancel()
	source.Close()
	dispatcher.Stop()
	hub.Stop()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped")
}
