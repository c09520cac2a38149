package tokencache

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCache(t *testing.T) *Cache {
	t.Helper()
	return NewAt(filepath.Join(t.TempDir(), "nested", "token.json"))
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	cache := testCache(t)

	expiresAt := time.Now().Add(time.Hour).Truncate(time.Second)
	token := &Token{
		AccessToken: "abc123",
		TokenType:   "Bearer",
		Scope:       "openid profile email",
		ExpiresAt:   &expiresAt,
		CreatedAt:   time.Now().Truncate(time.Second),
	}
	require.NoError(t, cache.Save(token))

	loaded := cache.Load()
	require.NotNil(t, loaded)
	assert.Equal(t, "abc123", loaded.AccessToken)
	assert.Equal(t, "Bearer", loaded.TokenType)
	require.NotNil(t, loaded.ExpiresAt)
	assert.True(t, loaded.ExpiresAt.Equal(expiresAt))
}

func TestSaveSetsOwnerOnlyPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not meaningful on windows")
	}
	cache := testCache(t)

	require.NoError(t, cache.Save(&Token{AccessToken: "abc", TokenType: "Bearer", CreatedAt: time.Now()}))

	info, err := os.Stat(cache.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadMissingFile(t *testing.T) {
	cache := testCache(t)
	assert.Nil(t, cache.Load())
}

func TestLoadCorruptFile(t *testing.T) {
	cache := testCache(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(cache.Path()), 0o700))
	require.NoError(t, os.WriteFile(cache.Path(), []byte("{not json"), 0o600))

	assert.Nil(t, cache.Load())
}

func TestLoadEmptyAccessToken(t *testing.T) {
	cache := testCache(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(cache.Path()), 0o700))
	require.NoError(t, os.WriteFile(cache.Path(), []byte(`{"token_type":"Bearer"}`), 0o600))

	assert.Nil(t, cache.Load())
}

func TestClearIsIdempotent(t *testing.T) {
	cache := testCache(t)

	require.NoError(t, cache.Clear()) // nothing saved yet

	require.NoError(t, cache.Save(&Token{AccessToken: "abc", TokenType: "Bearer", CreatedAt: time.Now()}))
	require.NoError(t, cache.Clear())
	require.NoError(t, cache.Clear())
	assert.Nil(t, cache.Load())
}

func TestTokenExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, (&Token{}).Expired(now), "nil deadline never expires")
	assert.True(t, (&Token{ExpiresAt: &past}).Expired(now))
	assert.False(t, (&Token{ExpiresAt: &future}).Expired(now))
	assert.True(t, (&Token{ExpiresAt: &now}).Expired(now), "deadline itself counts as expired")
}

func TestRequireAuth(t *testing.T) {
	cache := testCache(t)

	_, err := cache.RequireAuth()
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	past := time.Now().Add(-time.Minute)
	require.NoError(t, cache.Save(&Token{AccessToken: "stale", TokenType: "Bearer", ExpiresAt: &past, CreatedAt: time.Now()}))
	_, err = cache.RequireAuth()
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	require.NoError(t, cache.Save(&Token{AccessToken: "fresh", TokenType: "Bearer", CreatedAt: time.Now()}))
	token, err := cache.RequireAuth()
	require.NoError(t, err)
	assert.Equal(t, "fresh", token.AccessToken)
}
