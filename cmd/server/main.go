package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bcnelson/stack-executor/internal/actionstate"
	"github.com/bcnelson/stack-executor/internal/api"
	"github.com/bcnelson/stack-executor/internal/config"
	"github.com/bcnelson/stack-executor/internal/credentials"
	"github.com/bcnelson/stack-executor/internal/logging"
	"github.com/bcnelson/stack-executor/internal/monitor"
	"github.com/bcnelson/stack-executor/internal/periphery"
	"github.com/bcnelson/stack-executor/internal/resource"
	"github.com/bcnelson/stack-executor/internal/secrets"
	"github.com/bcnelson/stack-executor/internal/service"
	"github.com/bcnelson/stack-executor/internal/storage/sql"
	"github.com/bcnelson/stack-executor/internal/update"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// Create data directory if needed (for SQLite)
	if cfg.Database.Driver == "sqlite3" {
		if dir := filepath.Dir(cfg.Database.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("creating data directory: %w", err)
			}
		}
	}

	// Initialize storage
	store, err := sql.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	var kv secrets.KVReader
	if cfg.Secrets.VaultEnabled() {
		vaultKV, err := secrets.NewVaultKV(cfg.Secrets.VaultAddr, cfg.Secrets.VaultToken, cfg.Secrets.VaultMount)
		if err != nil {
			return fmt.Errorf("initializing vault: %w", err)
		}
		kv = vaultKV
		logger.Info("reading secrets from vault",
			zap.String("address", cfg.Secrets.VaultAddr),
			zap.String("mount", cfg.Secrets.VaultMount),
			zap.String("path", cfg.Secrets.VaultPath),
		)
	}

	clients := &periphery.HTTPClientFactory{Timeout: cfg.Agent.Timeout}
	resolver := resource.NewResolver(store)
	broadcaster := update.NewBroadcaster(64)
	executor := service.NewStackExecutor(service.Deps{
		Store:       store,
		Resolver:    resolver,
		Registry:    actionstate.NewRegistry(),
		Updates:     update.NewManager(store, broadcaster, logger.Named("updates")),
		Clients:     clients,
		Credentials: credentials.NewProvider(cfg.Credentials.GitTokens, cfg.Credentials.RegistryTokens),
		Secrets:     secrets.NewSource(store, cfg.Secrets.Core, kv, cfg.Secrets.VaultPath),
		Monitor:     monitor.NewCache(clients),
		Parallelism: cfg.Execution.BatchParallelism,
		Logger:      logger.Named("executor"),
	})

	router := api.NewRouter(store, resolver, executor, cfg.Auth.BootstrapAPIKey, logger.Named("http"))

	// Execute requests wait for the agent, so writes may take as long as it does
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Agent.Timeout + time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("starting stack executor", zap.String("addr", "http://"+cfg.Server.Addr()))

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
