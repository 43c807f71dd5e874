package tts

import (
	"slices"
	"strings"
)

// Availability answers a language query.
type Availability int

const (
	// LanguageNotSupported means the voice cannot speak the language.
	LanguageNotSupported Availability = iota
	// LanguageCountryAvailable means language and country are both served.
	LanguageCountryAvailable
)

// Feature names advertised to hosts.
const (
	FeatureNetworkTTS     = "networkTts"
	FeatureNetworkTimeout = "networkTimeoutMs"
)

var supportedLanguages = []string{"zho-CHN", "eng-USA"}

// Languages lists the supported voices as ISO 639-2 language and ISO 3166
// alpha-3 country pairs.
func Languages() []string {
	return slices.Clone(supportedLanguages)
}

// IsLanguageAvailable reports whether lang is served. The remote voice picks
// the accent itself, so the country is not consulted.
func IsLanguageAvailable(lang, _ string) Availability {
	switch strings.ToLower(lang) {
	case "zho", "eng":
		return LanguageCountryAvailable
	default:
		return LanguageNotSupported
	}
}

// Features lists the engine features, identical for every language.
func Features() []string {
	return []string{FeatureNetworkTTS, FeatureNetworkTimeout}
}

// CheckVoiceData splits requested voices into available and unavailable ones.
// With no request every supported voice is available.
func CheckVoiceData(requested []string) ([]string, []string) {
	if len(requested) == 0 {
		return Languages(), nil
	}

	var available, unavailable []string

	for _, voice := range requested {
		if voice == "" {
			continue
		}

		if slices.Contains(supportedLanguages, voice) {
			available = append(available, voice)
		} else {
			unavailable = append(unavailable, voice)
		}
	}

	return available, unavailable
}
