package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoflow/pkg/schema"
)

func TestEnvVar(t *testing.T) {
	assert.Equal(t, "AUTOFLOW_SECRET_AI_OPENAI_API_KEY", EnvVar(ProviderKey("OpenAI")))
	assert.Equal(t, "AUTOFLOW_SECRET_WEBHOOK_TOKEN", EnvVar("webhook-token"))
}

func TestEnvVault(t *testing.T) {
	t.Setenv("AUTOFLOW_SECRET_AI_LOCAL_API_KEY", "from-env")
	v := NewEnvVault()
	ctx := context.Background()

	val, err := v.Resolve(ctx, ProviderKey("local"))
	require.NoError(t, err)
	assert.Equal(t, []byte("from-env"), val)

	_, err = v.Resolve(ctx, ProviderKey("absent"))
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))

	assert.Equal(t, schema.ErrCodeVault, schema.CodeOf(v.Store(ctx, "k", nil)))
}

func TestChainVault_FallsBackOnNotFound(t *testing.T) {
	aes, _ := testVault(t)
	env := &EnvVault{lookup: func(name string) (string, bool) {
		if name == "AUTOFLOW_SECRET_AI_OPENAI_API_KEY" {
			return "env-key", true
		}
		return "", false
	}}
	chain := &ChainVault{Primary: aes, Fallback: env}
	ctx := context.Background()

	val, err := chain.Resolve(ctx, ProviderKey("openai"))
	require.NoError(t, err)
	assert.Equal(t, []byte("env-key"), val)

	require.NoError(t, chain.Store(ctx, ProviderKey("openai"), []byte("stored-key")))
	val, err = chain.Resolve(ctx, ProviderKey("openai"))
	require.NoError(t, err)
	assert.Equal(t, []byte("stored-key"), val)

	keys, err := chain.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ai/openai/api_key"}, keys)
}

func TestChainVault_DoesNotMaskVaultErrors(t *testing.T) {
	aes, s := testVault(t)
	s.data["k"] = []byte("garbage-that-is-long-enough-for-a-nonce")
	chain := &ChainVault{Primary: aes, Fallback: &EnvVault{lookup: func(string) (string, bool) { return "x", true }}}

	_, err := chain.Resolve(context.Background(), "k")
	assert.Equal(t, schema.ErrCodeVault, schema.CodeOf(err))
}

func TestChainVault_Empty(t *testing.T) {
	chain := &ChainVault{}
	_, err := chain.Resolve(context.Background(), "k")
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
	assert.Equal(t, schema.ErrCodeVault, schema.CodeOf(chain.Store(context.Background(), "k", nil)))
}
