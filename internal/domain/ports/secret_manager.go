package ports

import (
	"context"
)

// Secret represents a retrieved secret with metadata
type Secret struct {
	Value    string
	Version  string
	Metadata map[string]string
}

// SecretManager retrieves merchant credentials (the gateway API key secret)
// from a secret management backend. Path format depends on implementation:
//   - AWS: "webpay-service/merchants/{commerce_code}/api-key"
//   - Vault: "secret/data/webpay-service/merchants/{commerce_code}"
//   - Local: a filename under the configured base path
type SecretManager interface {
	// GetSecret retrieves a secret by its path/name. Returns an error when
	// the secret does not exist, permissions are insufficient, or the
	// backend is unreachable.
	GetSecret(ctx context.Context, path string) (*Secret, error)

	// PutSecret creates or updates a secret and returns the new version
	// identifier. Used by provisioning tooling, not by request handling.
	PutSecret(ctx context.Context, path string, value string, metadata map[string]string) (version string, err error)
}
