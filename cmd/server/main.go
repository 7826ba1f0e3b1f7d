package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roomlink/api"
	"roomlink/auth"
	"roomlink/internal"
	"roomlink/moderation"
	"roomlink/ratelimit"
	"roomlink/realtime"
	"roomlink/repositories"
	"roomlink/services"
	"roomlink/workers"

	env "github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting, so every defer (badger close included)
// executes before the process exits.
func run() error {
	// 1. Configuration & logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := internal.LoggerFromString(config.LogLevel)

	// 2. Database
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Stores & moderation
	messageStore := repositories.NewInstrumentedMessageStore(
		repositories.NewMessageRepository(db, log, config.HistoryPageSize), log)
	matchStore := repositories.NewMatchRepository(db, log)

	maskRune, err := config.MaskRune()
	if err != nil {
		return err
	}
	terms, err := moderation.DefaultTerms()
	if err != nil {
		return fmt.Errorf("blocklist loading failed: %w", err)
	}
	masker, err := moderation.NewMasker(terms, maskRune)
	if err != nil {
		return fmt.Errorf("moderation setup failed: %w", err)
	}

	// 4. Rate limiting: shared counters for fairness-sensitive classes,
	// in-process counters for typing signals.
	budgets := config.Budgets()
	sharedLimiter := ratelimit.New(ratelimit.NewBadgerStore(db), budgets,
		log, config.LimiterTimeout)
	memoryStore := ratelimit.NewMemoryStore()
	typingLimiter := ratelimit.New(memoryStore, budgets, log, config.LimiterTimeout)

	// 5. Messaging core
	verifier := auth.NewVerifier(config.TokenSecret, config.TokenIssuer)
	registry := realtime.NewRegistry()
	guard := realtime.NewGuard(matchStore, log)
	presence := realtime.NewPresence(registry, guard, log)
	chatService := services.NewChatService(messageStore, masker, log, config.StoreTimeout)
	dispatcher := realtime.NewDispatcher(log, sharedLimiter, typingLimiter,
		guard, registry, chatService)
	wsServer := realtime.NewServer(log, verifier, registry, guard, presence,
		dispatcher, config.SendBufferSize, config.WriteTimeout)

	// 6. Background workers
	supervisor := workers.NewSupervisor(log, config.RestartInterval)
	supervisor.Add(
		workers.NewLimiterJanitor(log, memoryStore,
			config.JanitorInterval, config.JanitorMaxIdle),
		workers.NewHealthMonitor(log, config.HealthInterval),
	)

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()
	go supervisor.Run(ctx)

	// 7. HTTP server
	apiServer := api.NewServer(log, verifier, guard, chatService, sharedLimiter)
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{
		Addr:    address,
		Handler: apiServer.Router(wsServer.HandleWS),
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", address, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 8. Wait for stop or error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", "error", err)
	}
	supervisor.Stop()
	log.Info("Program stopped cleanly")

	return nil
}
