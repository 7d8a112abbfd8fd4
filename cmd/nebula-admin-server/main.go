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

	internalhttp "github.com/overmesh/nebula-admin/internal/api/http"
	"github.com/overmesh/nebula-admin/internal/audit"
	"github.com/overmesh/nebula-admin/internal/auth"
	"github.com/overmesh/nebula-admin/internal/certstore"
	"github.com/overmesh/nebula-admin/internal/db"
	"github.com/overmesh/nebula-admin/internal/nebulacert"
	"github.com/overmesh/nebula-admin/internal/provision"
	"github.com/overmesh/nebula-admin/internal/provisioning"
	"github.com/overmesh/nebula-admin/internal/supervisor"
	"github.com/overmesh/nebula-admin/internal/users"
)

var AppVersion string

func main() {
	InitConfig()

	slog.Info("Nebula Admin Server", "version", AppVersion)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if config.DB.Url == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	if err := db.RunMigrations(config.DB.Url); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	pool, err := db.InitDB(ctx, config.DB.Url)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	certClient, err := nebulacert.New(config.Nebula.CertDir)
	if err != nil {
		slog.Error("Failed to locate nebula-cert", "error", err)
		os.Exit(1)
	}

	sup, err := supervisor.New(config.Nebula.Bin, config.Nebula.ConfigDir)
	if err != nil {
		slog.Error("Failed to initialize supervisor", "error", err)
		os.Exit(1)
	}

	addressPool, err := provisioning.NewAddressPool(config.Provision.Pool, config.Provision.PoolStart)
	if err != nil {
		slog.Error("Invalid address pool", "error", err)
		os.Exit(1)
	}

	tokenTTL := time.Duration(config.Provision.TokenTTLHours) * time.Hour
	tokens := provision.NewTokenStore(tokenTTL)
	go tokens.StartCleanup(ctx, time.Hour)

	certStore := certstore.New(pool)
	auditor := audit.NewStore(pool)

	provisioner := provisioning.NewService(tokens, certClient, certStore, addressPool, auditor, provisioning.Config{
		TokenTTL:        tokenTTL,
		LighthouseHosts: config.Provision.LighthouseHosts,
	})

	if config.Http.JWTSecret == "" {
		slog.Warn("JWT secret not configured, API authentication is disabled")
	}
	authService := auth.NewService(users.NewStore(pool), auth.JWTConfig{Secret: config.Http.JWTSecret})

	services := &internalhttp.Services{
		Auth:        authService,
		Provisioner: provisioner,
		Certs:       certStore,
		CertClient:  certClient,
		Supervisor:  sup,
		Audit:       auditor,
		JWTSecret:   config.Http.JWTSecret,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"PUT", "PATCH", "GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, services)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	// Managed daemons do not outlive the supervisor.
	for _, r := range sup.KillAll() {
		if r.Err != nil {
			slog.Error("Failed to stop daemon during shutdown", "config_name", r.Name, "error", r.Err)
		}
	}

	slog.Info("Shutdown complete")
}
