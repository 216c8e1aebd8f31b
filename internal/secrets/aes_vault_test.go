package secrets

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoflow/pkg/schema"
)

// mapStore is an in-memory SecretStore.
type mapStore struct {
	data map[string][]byte
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string][]byte)}
}

func (m *mapStore) StoreSecret(_ context.Context, key string, value []byte) error {
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *mapStore) GetSecret(_ context.Context, key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	return v, nil
}

func (m *mapStore) DeleteSecret(_ context.Context, key string) error {
	if _, ok := m.data[key]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	delete(m.data, key)
	return nil
}

func (m *mapStore) ListSecrets(_ context.Context) ([]string, error) {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func testVault(t *testing.T) (*AESVault, *mapStore) {
	t.Helper()
	s := newMapStore()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	v, err := NewAESVault(s, VaultConfig{MasterKey: key})
	require.NoError(t, err)
	return v, s
}

func TestAESVault_RoundTripAndAtRest(t *testing.T) {
	v, s := testVault(t)
	ctx := context.Background()

	key := ProviderKey("openai")
	require.NoError(t, v.Store(ctx, key, []byte("sk-secret-123")))

	assert.NotContains(t, string(s.data[key]), "sk-secret-123")

	val, err := v.Resolve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("sk-secret-123"), val)
}

func TestAESVault_BlobBoundToKey(t *testing.T) {
	v, s := testVault(t)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "ai/a/api_key", []byte("value")))
	s.data["ai/b/api_key"] = s.data["ai/a/api_key"]

	_, err := v.Resolve(ctx, "ai/b/api_key")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeVault, schema.CodeOf(err))
}

func TestAESVault_PassphraseDerivation(t *testing.T) {
	s := newMapStore()
	cfg := VaultConfig{Passphrase: "correct horse", Salt: []byte("autoflow-salt"), Iterations: 1000}
	v, err := NewAESVault(s, cfg)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "k", []byte("value")))

	again, err := NewAESVault(s, cfg)
	require.NoError(t, err)
	val, err := again.Resolve(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), val)

	cfg.Passphrase = "wrong"
	other, err := NewAESVault(s, cfg)
	require.NoError(t, err)
	_, err = other.Resolve(ctx, "k")
	assert.Equal(t, schema.ErrCodeVault, schema.CodeOf(err))
}

func TestAESVault_DeleteAndList(t *testing.T) {
	v, _ := testVault(t)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "a", []byte("1")))
	require.NoError(t, v.Store(ctx, "b", []byte("2")))
	require.NoError(t, v.Delete(ctx, "a"))

	keys, err := v.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys)

	_, err = v.Resolve(ctx, "a")
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestAESVault_TamperedBlob(t *testing.T) {
	v, s := testVault(t)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "k", []byte("value")))
	s.data["k"][len(s.data["k"])-1] ^= 0xFF

	_, err := v.Resolve(ctx, "k")
	assert.Equal(t, schema.ErrCodeVault, schema.CodeOf(err))

	s.data["short"] = []byte{1, 2}
	_, err = v.Resolve(ctx, "short")
	assert.Equal(t, schema.ErrCodeVault, schema.CodeOf(err))
}

func TestNewAESVault_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  VaultConfig
	}{
		{"short master key", VaultConfig{MasterKey: []byte("too-short")}},
		{"nothing", VaultConfig{}},
		{"passphrase without salt", VaultConfig{Passphrase: "pass"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAESVault(newMapStore(), tt.cfg)
			assert.Equal(t, schema.ErrCodeVault, schema.CodeOf(err))
		})
	}
}
