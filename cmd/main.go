package main

import (
	"chat-relay/auth"
	"chat-relay/infrastructure/api"
	"chat-relay/infrastructure/cache"
	"chat-relay/infrastructure/storage"
	"chat-relay/infrastructure/ws"
	"chat-relay/internal"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	blob "chat-relay/storage"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/database"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes for the service manager.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

const shutdownTimeout = 10 * time.Second

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until a signal arrives.
// Returning instead of exiting lets deferred cleanup run.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	mask, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}
	logger := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Database (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()
	if logger.Enabled(ctx, slog.LevelDebug) {
		endpoint := "/inspect"
		logger.Info("Debug Badger inspector available",
			"url", fmt.Sprintf("http://localhost:%d%s", config.DebugPort, endpoint))
		database.StartDebugServer(db, config.DebugPort, endpoint, recordMapper)
	}

	// 3. Storage & moderation
	identities := storage.NewIdentityRepository(db, logger)
	blocklist := storage.NewBlocklistRepository(db, logger)
	if err := blocklist.Add(ctx, config.Words()...); err != nil {
		return exitRuntime, fmt.Errorf("blocklist seeding failed: %w", err)
	}
	words, err := blocklist.Words(ctx)
	if err != nil {
		return exitRuntime, fmt.Errorf("blocklist loading failed: %w", err)
	}
	filter, err := moderation.NewFilter(words, mask, logger)
	if err != nil {
		return exitConfig, fmt.Errorf("moderation setup failed: %w", err)
	}

	blobs, err := blob.NewDiskBlobStore(config.MediaRoot, config.MediaBaseURL, logger)
	if err != nil {
		return exitConfig, fmt.Errorf("media root unusable: %w", err)
	}
	urls, err := cache.NewURLCache(config.URLCacheSize)
	if err != nil {
		return exitConfig, fmt.Errorf("url cache setup failed: %w", err)
	}
	defer urls.Close()

	// 4. Runtime & services
	metrics := observability.NewMetrics()
	groups := runtime.NewRegistry(logger, config.SinkTimeout, metrics)
	notifications := runtime.NewNotificationHub(logger, config.SinkTimeout, metrics)
	attachments := services.NewAttachmentService(logger, storage.NewAttachmentRepository(db, logger), urls)
	uploads := services.NewUploadService(logger,
		storage.NewUploadRepository(db, logger), blobs,
		storage.NewJobRepository(db, logger, config.JobMaxAttempts), urls, attachments,
		services.UploadConfig{
			MaxChunkSize:   config.MaxChunkSize,
			MaxTotalChunks: config.MaxTotalChunks,
			TTL:            config.UploadTTL,
		}, metrics)

	deps := api.Dependencies{
		Resolver: auth.NewResolver(logger, identities, auth.NewTokenVerifier(config.JWTSecret, config.JWTIssuer)),
		Chat: services.NewChatService(logger, groups, groups,
			storage.NewRoomMessageRepository(db, logger, config.HistoryLimit), attachments, filter, metrics),
		Private: services.NewPrivateService(logger, identities,
			storage.NewPrivateMessageRepository(db, logger, config.HistoryLimit),
			groups, notifications, attachments, filter, metrics),
		Uploads:       uploads,
		Attachments:   attachments,
		Groups:        groups,
		Notifications: notifications,
		Metrics:       metrics,
	}

	// 5. Background workers
	sup := workers.NewSupervisor(logger, config.RestartInterval)
	sup.Add(workers.NewUploadSweeper(logger, uploads, config.SweepInterval))
	supervised := make(chan struct{})
	go func() {
		defer close(supervised)
		sup.Run(ctx)
	}()

	// 6. HTTP server
	server := api.NewServer(ctx, logger, deps, api.Config{
		SessionCookie:  config.SessionCookie,
		AllowedOrigins: config.Origins(),
		MaxChunkSize:   config.MaxChunkSize,
		Socket: ws.Config{
			BufferSize:     config.ConnectionBufferSize,
			MaxMessageSize: config.MaxMessageSize,
			RateBurst:      config.RateLimitBurst,
			RateRefill:     config.RateLimitRefillInterval,
		},
	})
	httpServer := &http.Server{
		Addr:              config.Addr(),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting relay", "address", config.Addr(), "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 7. Wait for Stop or Error
	select {
	case <-ctx.Done():
	case err := <-errChan:
		stop()
		<-supervised
		return exitRuntime, err
	}

	// 8. Final Cleanup
	// The cancelled context has already asked every websocket to close.
	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	<-supervised
	logger.Info("Program stopped cleanly")

	return exitOK, nil
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}

	return options
}

// recordMapper labels inspector rows with the record family taken from the key prefix.
func recordMapper(key string, val []byte) database.InspectRow {
	row := database.DefaultMapper(key, val)
	family, _, _ := strings.Cut(key, ":")
	row.Type = strings.ToUpper(family)
	if len(val) > 0 && val[0] == '{' {
		row.Detail = string(val)
	}
	return row
}
