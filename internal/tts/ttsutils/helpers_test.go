package ttsutils_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/milora-tts/internal/tts/ttsutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCacheDir_WithOverride(t *testing.T) {
	expectedPath := "/custom/cache/dir"
	t.Setenv("CACHE_DIR", expectedPath)

	assert.Equal(t, expectedPath, ttsutils.GetCacheDir())
	assert.Equal(t, filepath.Join(expectedPath, "audio"), ttsutils.GetAudioCacheDir())
	assert.Equal(t, filepath.Join(expectedPath, "settings.toml"), ttsutils.GetSettingsPath())
}

func TestGetCacheDir_UserDefault(t *testing.T) {
	t.Setenv("CACHE_DIR", "")

	homeDir, err := os.UserHomeDir()
	if err != nil {
		t.Skip("Skipping test: could not determine user home directory")
	}

	expected := filepath.Join(homeDir, ".cache", "milora-tts")
	assert.Equal(t, expected, ttsutils.GetCacheDir())
}

// TestEnsureDir verifies that a directory is created if it doesn't exist.
func TestEnsureDir(t *testing.T) {
	t.Parallel()

	testPath := filepath.Join(t.TempDir(), "new", "dir")

	require.NoError(t, ttsutils.EnsureDir(testPath))

	info, err := os.Stat(testPath)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// A second call on an existing directory is a no-op.
	require.NoError(t, ttsutils.EnsureDir(testPath))
}

func TestEnsureDir_FileInTheWay(t *testing.T) {
	t.Parallel()

	filePath := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(filePath, []byte("x"), 0o600))

	require.Error(t, ttsutils.EnsureDir(filePath))
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		seconds  float64
		expected string
	}{
		{name: "milliseconds", seconds: 0.25, expected: "250ms"},
		{name: "seconds", seconds: 45.2, expected: "45.2s"},
		{name: "minutes", seconds: 330.5, expected: "5m 30.5s"},
		{name: "hours", seconds: 4500, expected: "1h 15m"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.expected, ttsutils.FormatDuration(testCase.seconds))
		})
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "hello", ttsutils.Preview("hello", 30))
	assert.Equal(t, "abc...", ttsutils.Preview("abcdef", 3))
	assert.Equal(t, "你好...", ttsutils.Preview("你好世界", 2))
	assert.Equal(t, "anything", ttsutils.Preview("anything", 0))
}
