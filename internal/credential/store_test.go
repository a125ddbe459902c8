package credential

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetDeleteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.enc")

	store, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, store.Set("linear", Credential{Kind: KindBearer, Bearer: "tok-123"}))

	got, ok, err := store.Get("linear")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok-123", got.Bearer)

	keys, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"linear"}, keys)

	require.NoError(t, store.Delete("linear"))
	_, ok, err = store.Get("linear")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.enc")

	store1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store1.Set("github", Credential{Kind: KindOAuth2, OAuth2: &OAuth2Credential{
		AccessToken: "at", RefreshToken: "rt",
	}}))

	store2, err := Open(path)
	require.NoError(t, err)
	got, ok, err := store2.Get("github")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "at", got.OAuth2.AccessToken)
}

func TestFileModeIsOwnerOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.enc")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Set("k", Credential{Kind: KindBearer, Bearer: "v"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestMasterKeyEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.enc")

	hexKey := "0102030405060708090a0b0c0d0e0f100102030405060708090a0b0c0d0e0f10"[:64]
	t.Setenv("MCP_BRIDGE_MASTER_KEY", hexKey)

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Set("k", Credential{Kind: KindBearer, Bearer: "v"}))

	// No .key sibling file should be written when the env var supplies the key.
	_, err = os.Stat(path + ".key")
	assert.True(t, os.IsNotExist(err))
}

func TestGetMissingKeyIsNotError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.enc")
	store, err := Open(path)
	require.NoError(t, err)

	_, ok, err := store.Get("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}
