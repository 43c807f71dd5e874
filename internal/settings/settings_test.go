package settings_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/milora-tts/internal/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "settings-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func TestOpen_MissingFileUsesDefault(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.toml")

	store, err := settings.Open(path, 50, newTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 50, store.CacheLimit())
}

func TestSetCacheLimit_PersistsAcrossOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "settings.toml")
	log := newTestLogger(t)

	store, err := settings.Open(path, 50, log)
	require.NoError(t, err)

	require.NoError(t, store.SetCacheLimit(12))
	assert.Equal(t, 12, store.CacheLimit())

	reopened, err := settings.Open(path, 50, log)
	require.NoError(t, err)
	assert.Equal(t, 12, reopened.CacheLimit())
}

func TestSetCacheLimit_ZeroIsAllowed(t *testing.T) {
	t.Parallel()

	store, err := settings.Open("", 50, newTestLogger(t))
	require.NoError(t, err)

	require.NoError(t, store.SetCacheLimit(0))
	assert.Equal(t, 0, store.CacheLimit())
}

func TestSetCacheLimit_RejectsNegative(t *testing.T) {
	t.Parallel()

	store, err := settings.Open("", 50, newTestLogger(t))
	require.NoError(t, err)

	err = store.SetCacheLimit(-1)
	require.ErrorIs(t, err, settings.ErrNegativeLimit)
	assert.Equal(t, 50, store.CacheLimit())
}

func TestOpen_MalformedFileUsesDefault(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte("cache_limit = \"lots\""), 0o600))

	store, err := settings.Open(path, 50, newTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 50, store.CacheLimit())
}

func TestOpen_NegativeDefault(t *testing.T) {
	t.Parallel()

	_, err := settings.Open("", -5, newTestLogger(t))
	require.ErrorIs(t, err, settings.ErrNegativeLimit)
}
