package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/habitatmarket/webpay-service/internal/adapters/postgres"
	"github.com/habitatmarket/webpay-service/internal/domain/ports"
	"github.com/habitatmarket/webpay-service/internal/relay"
)

// The relay is a thin edge deployment. It reads its own small set of
// environment variables instead of the full service configuration.
func main() {
	_ = godotenv.Load()

	logger := initLogger()
	defer logger.Sync()

	port := getEnvAsInt("RELAY_PORT", 8090)
	cfg := relay.Config{
		ServiceName:  getEnv("RELAY_SERVICE_NAME", "webpay-relay"),
		AppReturnURL: getEnv("RELAY_APP_RETURN_URL", ""),
		StubReceipts: getEnvAsBool("RELAY_STUB_RECEIPTS", false),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional transaction store for the receipt lookup route.
	var transactions ports.TransactionRepository
	if connString := getEnv("RELAY_DATABASE_URL", ""); connString != "" {
		pool, err := postgres.NewPool(ctx, connString, 10, 2)
		if err != nil {
			logger.Fatal("Failed to initialize database", zap.Error(err))
		}
		defer pool.Close()
		transactions = postgres.NewTransactionRepository(pool)
		logger.Info("Receipt lookup backed by transaction store")
	}

	router := relay.New(cfg, transactions, logger).Router()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Relay listening",
			zap.Int("port", port),
			zap.String("app_return_url", cfg.AppReturnURL),
			zap.Bool("stub_receipts", cfg.StubReceipts),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down relay...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Relay shutdown error", zap.Error(err))
	}

	logger.Info("Relay stopped")
}

func initLogger() *zap.Logger {
	if getEnv("ENVIRONMENT", "development") == "production" {
		logger, _ := zap.NewProduction()
		return logger
	}
	logger, _ := zap.NewDevelopment()
	return logger
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
