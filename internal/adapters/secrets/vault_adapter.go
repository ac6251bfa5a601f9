package secrets

import (
	"context"
	"fmt"
	"time"

	"github.com/habitatmarket/webpay-service/internal/domain/ports"
	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

// VaultConfig contains configuration for the HashiCorp Vault adapter
type VaultConfig struct {
	// Vault server address (e.g., "https://vault.example.com:8200")
	Address string

	// Authentication method: "token" or "approle"
	AuthMethod string

	// Token for token authentication
	Token string

	// AppRole credentials (if using AppRole auth)
	RoleID   string
	SecretID string

	// KV secrets engine mount path (default: "secret")
	MountPath string

	// Cache TTL
	CacheTTL time.Duration

	// Enable caching
	EnableCache bool
}

// DefaultVaultConfig returns default configuration for the Vault adapter
func DefaultVaultConfig(address string) *VaultConfig {
	return &VaultConfig{
		Address:     address,
		AuthMethod:  "token",
		MountPath:   "secret",
		CacheTTL:    5 * time.Minute,
		EnableCache: true,
	}
}

// vaultSecretManager implements the SecretManager port on Vault KV v2
type vaultSecretManager struct {
	client *vault.Client
	config *VaultConfig
	logger *zap.Logger
	cache  *secretCache
}

// NewVaultSecretManager creates a new HashiCorp Vault adapter
func NewVaultSecretManager(ctx context.Context, cfg *VaultConfig, logger *zap.Logger) (ports.SecretManager, error) {
	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if err := authenticate(ctx, client, cfg); err != nil {
		return nil, fmt.Errorf("failed to authenticate with Vault: %w", err)
	}

	logger.Info("Vault adapter initialized",
		zap.String("address", cfg.Address),
		zap.String("auth_method", cfg.AuthMethod),
		zap.String("mount_path", cfg.MountPath),
	)

	return &vaultSecretManager{
		client: client,
		config: cfg,
		logger: logger,
		cache:  newSecretCache(cfg.EnableCache, cfg.CacheTTL),
	}, nil
}

func authenticate(ctx context.Context, client *vault.Client, cfg *VaultConfig) error {
	switch cfg.AuthMethod {
	case "token":
		if cfg.Token == "" {
			return fmt.Errorf("token is required for token auth")
		}
		client.SetToken(cfg.Token)
		return nil

	case "approle":
		if cfg.RoleID == "" || cfg.SecretID == "" {
			return fmt.Errorf("role_id and secret_id are required for AppRole auth")
		}
		resp, err := client.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]interface{}{
			"role_id":   cfg.RoleID,
			"secret_id": cfg.SecretID,
		})
		if err != nil {
			return fmt.Errorf("AppRole login failed: %w", err)
		}
		if resp.Auth == nil {
			return fmt.Errorf("AppRole login returned no auth info")
		}
		client.SetToken(resp.Auth.ClientToken)
		return nil

	default:
		return fmt.Errorf("unsupported auth method: %s", cfg.AuthMethod)
	}
}

// GetSecret retrieves a secret from the KV v2 engine.
// Path is relative to the mount, e.g. "webpay-service/merchants/597055555532".
// The secret value is expected under the "value" key.
func (v *vaultSecretManager) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	if cached := v.cache.get(path); cached != nil {
		v.logger.Debug("Secret retrieved from cache", zap.String("path", path))
		return cached, nil
	}

	kv := v.client.KVv2(v.config.MountPath)
	data, err := kv.Get(ctx, path)
	if err != nil {
		v.logger.Error("Failed to retrieve secret",
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to get secret %s: %w", path, err)
	}

	value, ok := data.Data["value"].(string)
	if !ok {
		return nil, fmt.Errorf("secret %s has no string 'value' key", path)
	}

	metadata := make(map[string]string)
	for k, raw := range data.Data {
		if k == "value" {
			continue
		}
		if s, ok := raw.(string); ok {
			metadata[k] = s
		}
	}

	secret := &ports.Secret{
		Value:    value,
		Version:  fmt.Sprintf("%d", data.VersionMetadata.Version),
		Metadata: metadata,
	}

	v.cache.put(path, secret)
	return secret, nil
}

// PutSecret writes a secret to the KV v2 engine
func (v *vaultSecretManager) PutSecret(ctx context.Context, path, value string, metadata map[string]string) (string, error) {
	data := map[string]interface{}{"value": value}
	for k, mv := range metadata {
		data[k] = mv
	}

	kv := v.client.KVv2(v.config.MountPath)
	written, err := kv.Put(ctx, path, data)
	if err != nil {
		return "", fmt.Errorf("failed to put secret %s: %w", path, err)
	}

	v.cache.invalidate(path)
	return fmt.Sprintf("%d", written.VersionMetadata.Version), nil
}
