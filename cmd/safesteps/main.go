package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/api"
	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/auth"
	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/config"
	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/dispatch"
	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/logging"
	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/notify"
	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/repository"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	authSvc := auth.NewService(db.Users(), cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if cfg.Admin.Password != "" {
		if err := authSvc.EnsureAdmin(ctx, cfg.Admin.Name, cfg.Admin.Email, cfg.Admin.Password, cfg.Admin.Phone); err != nil {
			logging.Fatalf("Failed to bootstrap admin: %v", err)
		}
	}

	hub := notify.NewHub()

	var bridge *notify.MQTTBridge
	if cfg.MQTT.Enabled {
		bridge, err = notify.NewMQTTBridge(cfg.MQTT.BrokerURL, cfg.MQTT.ClientID, cfg.MQTT.TopicPrefix)
		if err != nil {
			logging.Fatalf("Failed to connect MQTT broker: %v", err)
		}
	}

	dispatcher := notify.NewDispatcher(hub, bridge, cfg.Notify.Workers, cfg.Notify.BufferSize)
	dispatcher.Start(ctx)

	coord := dispatch.New(db.Triggers(), db.Responses(), db.Devices(), db.Users(), dispatcher, cfg.Dispatch.MaxRetries)

	// Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))

	handler := api.NewHandler(coord, db.Triggers(), db.Responses(), db.Devices(), db.Users(), authSvc, hub)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	cancel()
	dispatcher.Stop()
	hub.Close()
	if bridge != nil {
		bridge.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}
