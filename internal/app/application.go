package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"chatrelay/internal/api"
	"chatrelay/internal/auth"
	"chatrelay/internal/config"
	"chatrelay/internal/database"
	"chatrelay/internal/presence"
	"chatrelay/internal/relay"
	"chatrelay/internal/session"
	ws "chatrelay/internal/websocket"
	dbconfig "chatrelay/pkg/database"
)

// Per-sender message budget for the relay's sliding window.
const (
	rateLimitMessages = 60
	rateLimitWindow   = time.Minute
)

// Application owns every component and their startup/shutdown order.
type Application struct {
	config   *config.Config
	storage  *database.Manager
	registry *session.Registry
	server   *http.Server
}

// New builds the full component graph from configuration.
// ARCHITECTURAL DISCOVERY: Construction order follows the dependency graph;
// storage first, transport last, so nothing observes a half-wired component
func New(cfg *config.Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	storage, err := database.NewManager(&dbconfig.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		MigrationsPath:  cfg.Database.MigrationsPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	migrator := dbconfig.NewMigrationManager(storage.GetDB(), cfg.Database.MigrationsPath)
	if err := migrator.ApplyMigrations(); err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	if err := migrator.ValidateSchema(); err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	validator := dbconfig.NewSchemaValidator(storage.GetDB())
	if err := validator.ValidateTableStructure(); err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("schema structure validation failed: %w", err)
	}

	registry := session.NewRegistry()
	broadcaster := presence.NewBroadcaster(registry)
	limiter := relay.NewRateLimiter(rateLimitMessages, rateLimitWindow)
	messageRelay := relay.NewRelay(storage, registry, broadcaster, limiter)

	wsHandler := ws.NewHandler(registry, broadcaster, messageRelay, cfg.WebSocket)
	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	apiServer := api.NewServer(storage, tokens, registry, wsHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:   cfg,
		storage:  storage,
		registry: registry,
		server:   server,
	}, nil
}

// Start runs the HTTP server until it fails or Stop is called.
func (a *Application) Start() error {
	log.Printf("Starting server on %s", a.server.Addr)
	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop shuts the application down gracefully.
func (a *Application) Stop(ctx context.Context) error {
	log.Println("Shutting down application")

	if err := a.server.Shutdown(ctx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}

	// Close every live session so their read pumps exit
	for _, conn := range a.registry.Snapshot() {
		_ = conn.Close()
	}

	if err := a.storage.Close(); err != nil {
		return fmt.Errorf("storage shutdown failed: %w", err)
	}

	log.Println("Shutdown complete")
	return nil
}
