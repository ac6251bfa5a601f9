package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/habitatmarket/webpay-service/internal/adapters/postgres"
	"github.com/habitatmarket/webpay-service/internal/adapters/secrets"
	"github.com/habitatmarket/webpay-service/internal/adapters/webpay"
	"github.com/habitatmarket/webpay-service/internal/config"
	"github.com/habitatmarket/webpay-service/internal/domain/ports"
	"github.com/habitatmarket/webpay-service/internal/handlers/payment"
	pkghttp "github.com/habitatmarket/webpay-service/pkg/http"
	"github.com/habitatmarket/webpay-service/pkg/observability"
)

func main() {
	// Load .env if present; ignore errors so container deployments work
	// with plain environment variables.
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger := initLogger(cfg.Logger)
	defer logger.Sync()

	logger.Info("Starting webpay service",
		zap.String("gateway_base_url", cfg.Gateway.BaseURL),
		zap.String("commerce_code", cfg.Gateway.CommerceCode),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Transaction store is optional. Without it the service still confirms
	// payments, it just keeps no record of them.
	var dbPool *pgxpool.Pool
	var transactions ports.TransactionRepository
	if cfg.Database.Enabled {
		dbPool, err = postgres.NewPool(ctx, cfg.Database.ConnectionString(), cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			logger.Fatal("Failed to initialize database", zap.Error(err))
		}
		defer dbPool.Close()
		transactions = postgres.NewTransactionRepository(dbPool)
		logger.Info("Transaction store enabled",
			zap.String("database", cfg.Database.Database),
		)
	}

	apiKeySecret, err := resolveAPIKeySecret(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to resolve gateway credentials", zap.Error(err))
	}

	httpClient := pkghttp.NewHTTPClient(pkghttp.WebpayClientConfig(), time.Duration(cfg.Gateway.Timeout)*time.Second)
	commitClient := webpay.NewCommitClient(webpay.Config{
		BaseURL:      cfg.Gateway.BaseURL,
		CommerceCode: cfg.Gateway.CommerceCode,
		APIKeySecret: apiKeySecret,
	}, httpClient, logger)

	callbackHandler := payment.NewCallbackHandler(commitClient, transactions, logger)

	healthChecker := observability.NewHealthChecker("webpay-service")
	if dbPool != nil {
		healthChecker.AddCheck("database", dbPool.Ping)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/payments/webpay/callback", callbackHandler.HandleCallback)
	mux.HandleFunc("/health", healthChecker.HealthHandler())

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsServer := observability.StartMetricsServer(strconv.Itoa(cfg.Server.MetricsPort), healthChecker, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening",
			zap.String("address", httpServer.Addr),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := observability.ShutdownMetricsServer(metricsServer); err != nil {
			logger.Error("Metrics server shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}

	logger.Info("Servers stopped")
}

// resolveAPIKeySecret returns the gateway API key secret, either directly
// from configuration or resolved through the configured secret backend.
func resolveAPIKeySecret(ctx context.Context, cfg *config.Config, logger *zap.Logger) (string, error) {
	if cfg.Gateway.APIKeySecret != "" {
		return cfg.Gateway.APIKeySecret, nil
	}

	manager, err := initSecretManager(ctx, cfg.Secrets, logger)
	if err != nil {
		return "", err
	}

	secret, err := manager.GetSecret(ctx, cfg.Gateway.SecretPath)
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", cfg.Gateway.SecretPath, err)
	}

	logger.Info("Gateway credentials resolved",
		zap.String("backend", cfg.Secrets.Backend),
		zap.String("version", secret.Version),
	)
	return secret.Value, nil
}

func initSecretManager(ctx context.Context, cfg config.SecretsConfig, logger *zap.Logger) (ports.SecretManager, error) {
	switch cfg.Backend {
	case "aws":
		awsCfg := secrets.DefaultAWSSecretsManagerConfig(cfg.AWSRegion)
		awsCfg.Profile = cfg.AWSProfile
		awsCfg.Endpoint = cfg.AWSEndpoint
		awsCfg.CacheTTL = cfg.CacheTTL
		return secrets.NewAWSSecretsManager(ctx, awsCfg, logger)
	case "vault":
		vaultCfg := secrets.DefaultVaultConfig(cfg.VaultAddress)
		vaultCfg.Token = cfg.VaultToken
		vaultCfg.CacheTTL = cfg.CacheTTL
		return secrets.NewVaultSecretManager(ctx, vaultCfg, logger)
	default:
		return secrets.NewLocalSecretManager(cfg.LocalPath, logger), nil
	}
}

func initLogger(cfg config.LoggerConfig) *zap.Logger {
	level := zapcore.InfoLevel
	if parsed, err := zapcore.ParseLevel(cfg.Level); err == nil {
		level = parsed
	}

	var zapCfg zap.Config
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
