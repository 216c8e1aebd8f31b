// Package secrets stores AI provider credentials encrypted at rest and
// resolves them for AI_ANALYSIS steps.
package secrets

import (
	"context"
	"os"
	"strings"

	"github.com/rendis/autoflow/pkg/schema"
)

// Vault resolves and stores secrets by key.
type Vault interface {
	Resolve(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// SecretStore is the persistence the AES vault needs. Satisfied by store.Store.
type SecretStore interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)
}

// ProviderKey is the vault key holding an AI provider's API key.
func ProviderKey(provider string) string {
	return "ai/" + strings.ToLower(provider) + "/api_key"
}

// EnvVar maps a vault key to its environment fallback name:
// "ai/openai/api_key" becomes AUTOFLOW_SECRET_AI_OPENAI_API_KEY.
func EnvVar(key string) string {
	var b strings.Builder
	b.WriteString("AUTOFLOW_SECRET_")
	for _, r := range strings.ToUpper(key) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// EnvVault resolves secrets from process environment variables named by
// EnvVar. It is read-only.
type EnvVault struct {
	lookup func(string) (string, bool)
}

// NewEnvVault returns an EnvVault over os.LookupEnv.
func NewEnvVault() *EnvVault {
	return &EnvVault{lookup: os.LookupEnv}
}

func (v *EnvVault) Resolve(_ context.Context, key string) ([]byte, error) {
	name := EnvVar(key)
	val, ok := v.lookup(name)
	if !ok || val == "" {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found (checked %s)", key, name)
	}
	return []byte(val), nil
}

func (v *EnvVault) Store(context.Context, string, []byte) error {
	return schema.NewError(schema.ErrCodeVault, "environment vault is read-only")
}

func (v *EnvVault) Delete(context.Context, string) error {
	return schema.NewError(schema.ErrCodeVault, "environment vault is read-only")
}

func (v *EnvVault) List(context.Context) ([]string, error) {
	return nil, nil
}

// ChainVault writes to Primary and resolves from Primary, falling back to
// Fallback when Primary reports NOT_FOUND.
type ChainVault struct {
	Primary  Vault
	Fallback Vault
}

func (c *ChainVault) Resolve(ctx context.Context, key string) ([]byte, error) {
	if c.Primary != nil {
		val, err := c.Primary.Resolve(ctx, key)
		if err == nil {
			return val, nil
		}
		if !schema.IsCode(err, schema.ErrCodeNotFound) || c.Fallback == nil {
			return nil, err
		}
	}
	if c.Fallback == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	return c.Fallback.Resolve(ctx, key)
}

func (c *ChainVault) Store(ctx context.Context, key string, value []byte) error {
	if c.Primary == nil {
		return schema.NewError(schema.ErrCodeVault, "no writable vault configured")
	}
	return c.Primary.Store(ctx, key, value)
}

func (c *ChainVault) Delete(ctx context.Context, key string) error {
	if c.Primary == nil {
		return schema.NewError(schema.ErrCodeVault, "no writable vault configured")
	}
	return c.Primary.Delete(ctx, key)
}

func (c *ChainVault) List(ctx context.Context) ([]string, error) {
	if c.Primary == nil {
		return nil, nil
	}
	return c.Primary.List(ctx)
}

var (
	_ Vault = (*EnvVault)(nil)
	_ Vault = (*ChainVault)(nil)
	_ Vault = (*AESVault)(nil)
)
