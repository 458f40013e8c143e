package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"github.com/arkonsol/ark-app/backend"
	"github.com/arkonsol/ark-app/cache"
	"github.com/arkonsol/ark-app/delivery"
	"github.com/arkonsol/ark-app/domain"
	"github.com/arkonsol/ark-app/repositories"
	"github.com/arkonsol/ark-app/runtime/workers"
	"github.com/arkonsol/ark-app/search"
	"github.com/arkonsol/ark-app/services"
	"github.com/arkonsol/ark-app/transport"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// The main function acts as a thin wrapper.
	// Its only responsibility is to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the client lifecycle and
// centralizes error reporting, so that every defer (database cleanup
// included) executes before the process exits.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	logger := logs.GetLoggerFromString(config.LogLevel)

	// 2. Local storage (BadgerDB + Bluge)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	blugeWriter, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer func() {
		logger.Info("Closing Bluge...")
		_ = blugeWriter.Close()
	}()

	localCache := cache.New(logger, config.CacheSweepInterval)
	store := repositories.NewLocalStore(
		repositories.NewMessageRepository(db, logger),
		repositories.NewUserRepository(db),
		repositories.NewMemberRepository(db),
		localCache,
		search.NewIndex(blugeWriter, logger),
		logger,
	)

	// 3. Remote collaborators
	transportClient, err := transport.NewClient(transport.Config{
		URL:                  config.TransportURL,
		MaxReconnectAttempts: config.MaxReconnectAttempts,
		ReconnectInterval:    config.ReconnectInterval,
		HeartbeatInterval:    config.HeartbeatInterval,
		BufferLimit:          config.BufferLimit,
	}, logger)
	if err != nil {
		return exitConfig, err
	}

	backendClient, err := backend.NewClient(backend.Config{
		BaseURL: config.BackendURL,
		Timeout: config.BackendTimeout,
	}, logger)
	if err != nil {
		return exitConfig, err
	}

	// 4. Message service
	policy := delivery.DefaultRetryPolicy()
	if config.RetryMaxAttempts > 0 {
		policy.MaxAttempts = config.RetryMaxAttempts
	}
	if config.RetryBaseDelay > 0 {
		policy.BaseDelay = config.RetryBaseDelay
	}
	if config.RetryMaxDelay > 0 {
		policy.MaxDelay = config.RetryMaxDelay
	}
	if config.RetryBackoffFactor > 1 {
		policy.BackoffFactor = config.RetryBackoffFactor
	}

	notifier := services.NewBannerNotifier(logger)
	sender := domain.Sender{Username: config.Username, WalletAddress: config.WalletAddress}
	service := services.NewMessageService(
		logger, transportClient, backendClient, store, notifier, sender,
		policy, config.QueueTick,
	)

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = service.Start(ctx); err != nil {
		logger.Warn("Starting without a connection, transport will keep retrying", "error", err)
	}
	defer func() {
		logger.Info("Stopping message service...")
		_ = service.Stop()
	}()

	// 6. Background workers under supervision
	sup := workers.NewSupervisor(logger, config.RestartInterval)
	sup.Add(service, localCache)

	logger.Info("Client started",
		"transport", config.TransportURL, "backend", config.BackendURL, "user", config.Username)
	sup.Run(ctx)

	logger.Info("Client stopped")
	return exitOK, nil
}
