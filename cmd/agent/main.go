package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldsync-agent/internal/client"
	"fieldsync-agent/internal/config"
	"fieldsync-agent/internal/domain"
	"fieldsync-agent/internal/handler"
	"fieldsync-agent/internal/middleware"
	"fieldsync-agent/internal/repository"
	"fieldsync-agent/internal/service"
	"fieldsync-agent/internal/websocket"
	"fieldsync-agent/pkg/token"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	identity, err := token.ParseIdentity(cfg.Server.AuthToken)
	if err != nil {
		logger.Fatal("invalid SERVER_AUTH_TOKEN", zap.Error(err))
	}
	if identity.Expired(time.Now()) {
		logger.Warn("server auth token is expired, requests will be rejected until it is refreshed",
			zap.Time("expired_at", identity.ExpiresAt),
		)
	}

	couchURL := fmt.Sprintf("http://%s:%s@%s:%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
	)

	couch, err := kivik.New("couch", couchURL)
	if err != nil {
		logger.Fatal("failed to connect to local CouchDB", zap.Error(err))
	}

	exists, err := couch.DBExists(context.Background(), cfg.Database.Name)
	if err != nil {
		logger.Fatal("failed to check database existence", zap.Error(err))
	}
	if !exists {
		if err := couch.CreateDB(context.Background(), cfg.Database.Name); err != nil {
			logger.Fatal("failed to create database", zap.Error(err))
		}
		logger.Info("created local database", zap.String("name", cfg.Database.Name))
	}

	stateRepo := repository.NewStateRepository(couch, cfg.Database.Name, logger)
	apiClient := client.NewHTTPClient(cfg.Server.BaseURL, cfg.Server.AuthToken, cfg.Server.RequestTimeout, logger)

	callbacks := service.Callbacks{
		OnSuccess: func(update *domain.MilestoneUpdate, confirmed *domain.Milestone) {
			logger.Info("milestone update confirmed",
				zap.String("operation_id", update.OperationID),
				zap.String("milestone_id", update.MilestoneID),
			)
		},
		OnError: func(update *domain.MilestoneUpdate, err error) {
			logger.Error("milestone update failed and was rolled back",
				zap.String("operation_id", update.OperationID),
				zap.String("milestone_id", update.MilestoneID),
				zap.Error(err),
			)
		},
		OnConflict: func(update *domain.MilestoneUpdate, conflict *domain.Conflict) {
			logger.Warn("milestone conflict requires resolution",
				zap.String("milestone_id", conflict.MilestoneID),
				zap.Time("remote_updated_at", conflict.Remote.UpdatedAt),
			)
		},
	}

	manager := service.NewOptimisticManager(apiClient, stateRepo, identity.UserID, callbacks, cfg.Sync.RetryDelay, logger)
	defer manager.Close()

	milestoneService := service.NewMilestoneService(manager,
		func(componentID string, progress float64, status domain.ComponentStatus) {
			logger.Debug("component aggregate updated",
				zap.String("component_id", componentID),
				zap.Float64("progress", progress),
				zap.String("status", string(status)),
			)
		},
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor := client.NewMonitor(cfg.Server.BaseURL, cfg.Server.HealthCheckInterval, manager.SetOnline, logger)
	go monitor.Run(ctx)

	listener := websocket.NewListener(
		cfg.Server.RealtimeURL,
		cfg.Server.AuthToken,
		identity.UserID,
		manager,
		func(milestones []*domain.Milestone, userID string) {
			logger.Info("milestones changed by another user",
				zap.Int("count", len(milestones)),
				zap.String("user_id", userID),
			)
		},
		cfg.Sync.PongWait,
		cfg.Sync.ReconnectWait,
		logger,
	)
	go listener.Run(ctx)

	milestoneHandler := handler.NewMilestoneHandler(milestoneService)
	syncHandler := handler.NewSyncHandler(milestoneService, manager)

	r := mux.NewRouter()
	r.Use(middleware.LoggerMiddleware(logger))
	r.Use(middleware.CORSMiddleware(cfg.Agent.CORS))

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.AuthMiddleware(cfg.Agent.APIToken))

	api.HandleFunc("/milestones", milestoneHandler.List).Methods("GET", "OPTIONS")
	api.HandleFunc("/milestones/bulk-update", milestoneHandler.BulkUpdate).Methods("POST", "OPTIONS")
	api.HandleFunc("/milestones/{id}", milestoneHandler.Get).Methods("GET", "OPTIONS")
	api.HandleFunc("/milestones/{id}/status", milestoneHandler.GetStatus).Methods("GET", "OPTIONS")
	api.HandleFunc("/milestones/{id}/progress", milestoneHandler.UpdateProgress).Methods("POST", "OPTIONS")
	api.HandleFunc("/components/{id}/progress", milestoneHandler.ComponentProgress).Methods("GET", "OPTIONS")
	api.HandleFunc("/sync/queue", syncHandler.GetQueue).Methods("GET", "OPTIONS")
	api.HandleFunc("/sync/queue", syncHandler.ClearQueue).Methods("DELETE", "OPTIONS")
	api.HandleFunc("/sync/reset", syncHandler.Reset).Methods("POST", "OPTIONS")

	r.HandleFunc("/health", healthHandler).Methods("GET")

	addr := fmt.Sprintf("%s:%s", cfg.Agent.Host, cfg.Agent.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting fieldsync agent",
			zap.String("addr", addr),
			zap.String("env", cfg.Agent.Env),
			zap.String("server", cfg.Server.BaseURL),
			zap.String("user_id", identity.UserID),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("agent server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down agent")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("agent forced to shutdown", zap.Error(err))
	}

	logger.Info("agent stopped gracefully")
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Agent.Env == "production" {
		zcfg := zap.NewProductionConfig()
		if level, err := zap.ParseAtomicLevel(cfg.Logging.Level); err == nil {
			zcfg.Level = level
		}
		return zcfg.Build()
	}
	return zap.NewDevelopment()
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"fieldsync-agent"}`))
}
