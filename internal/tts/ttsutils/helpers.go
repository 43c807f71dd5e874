// Package ttsutils provides path and formatting helpers shared by the TTS
// bridge binaries.
//
// This package focuses on platform-agnostic ways to resolve the application's
// cache and settings locations and to format durations for log lines.
package ttsutils

import (
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"
)

// Environment variable names used for path resolution.
const (
	envCacheDir = "CACHE_DIR"
)

// Common application directory and path constants.
const (
	appName               = "milora-tts"
	audioDirName          = "audio"
	settingsFileName      = "settings.toml"
	tmpDir                = "/tmp"
	dotCache              = ".cache"
	defaultDirPermissions = 0o750
	previewSuffix         = "..."
)

// Time formatting constants.
const (
	secondsInMinute = 60
	secondsInHour   = 3600
	formatMillis    = "%dms"
	formatSeconds   = "%.1fs"
	formatMinutes   = "%dm %.1fs"
	formatHours     = "%dh %dm"
)

// Error message and format string constants.
const (
	errFmtFailedToCreateDir = "failed to create directory %s: %w"
	errFmtNotADirectory     = "%s exists and is not a directory"
)

// GetCacheDir returns the application's cache directory, respecting an environment
// variable override and falling back to a standard user-based cache directory.
func GetCacheDir() string {
	// Honor the user-defined CACHE_DIR if it's set.
	if cacheDir := os.Getenv(envCacheDir); cacheDir != "" {
		return cacheDir
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(tmpDir, appName)
	}

	return filepath.Join(homeDir, dotCache, appName)
}

// GetAudioCacheDir returns the directory that holds cached compressed audio.
func GetAudioCacheDir() string {
	return filepath.Join(GetCacheDir(), audioDirName)
}

// GetSettingsPath returns the default location of the persisted engine settings.
func GetSettingsPath() string {
	return filepath.Join(GetCacheDir(), settingsFileName)
}

// EnsureDir ensures a directory exists at the given path, creating it if it doesn't.
func EnsureDir(path string) error {
	info, statErr := os.Stat(path)
	if statErr == nil {
		if !info.IsDir() {
			return fmt.Errorf(errFmtNotADirectory, path)
		}

		return nil
	}

	mkdirErr := os.MkdirAll(path, defaultDirPermissions)
	if mkdirErr != nil {
		return fmt.Errorf(errFmtFailedToCreateDir, path, mkdirErr)
	}

	return nil
}

// FormatDuration formats a duration given in seconds as a short human-readable
// string (e.g., "250ms", "5m 30.5s", "1h 15m").
func FormatDuration(seconds float64) string {
	if seconds < 1 {
		return fmt.Sprintf(formatMillis, int(seconds*1000))
	}

	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	if seconds < secondsInHour {
		minutes := int(seconds / secondsInMinute)
		remainingSeconds := seconds - float64(minutes*secondsInMinute)

		return fmt.Sprintf(formatMinutes, minutes, remainingSeconds)
	}

	hours := int(seconds / secondsInHour)
	remainingSeconds := seconds - float64(hours*secondsInHour)
	remainingMinutes := int(remainingSeconds / secondsInMinute)

	return fmt.Sprintf(formatHours, hours, remainingMinutes)
}

// Preview shortens text to at most limit runes for log lines, marking the cut
// with "...".
func Preview(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}

	runes := []rune(text)

	return string(runes[:limit]) + previewSuffix
}
