package tts_test

import (
	"testing"

	"github.com/book-expert/milora-tts/internal/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractAudioURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		payload  string
		expected string
		found    bool
	}{
		{
			name:     "top level",
			payload:  `{"code":200,"url":"http://x/a.mp3"}`,
			expected: "http://x/a.mp3",
			found:    true,
		},
		{
			name:     "escaped characters",
			payload:  `{"code":200,"url":"https:\/\/cdn.example\/a b.mp3?x=1&y=2"}`,
			expected: "https://cdn.example/a b.mp3?x=1&y=2",
			found:    true,
		},
		{
			name:     "nested object",
			payload:  `{"code":200,"data":{"audio":{"url":"http://x/nested.mp3"}}}`,
			expected: "http://x/nested.mp3",
			found:    true,
		},
		{
			name:     "shallow wins over deep",
			payload:  `{"a":{"b":{"url":"deep"}},"c":{"url":"shallow"}}`,
			expected: "shallow",
			found:    true,
		},
		{name: "missing field", payload: `{"code":200}`, found: false},
		{name: "empty url", payload: `{"code":200,"url":""}`, found: false},
		{name: "non string url", payload: `{"code":200,"url":42}`, found: false},
		{name: "malformed", payload: `{"code":200,"url":"http://x`, found: false},
		{name: "not json", payload: `<html>oops</html>`, found: false},
		{name: "empty", payload: ``, found: false},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			url, found := tts.ExtractAudioURL([]byte(testCase.payload))
			assert.Equal(t, testCase.found, found)
			assert.Equal(t, testCase.expected, url)
		})
	}
}

func TestParseEnvelope(t *testing.T) {
	t.Parallel()

	envelope, err := tts.ParseEnvelope([]byte(`{"code":200,"msg":"ok","url":"http://x/a.mp3"}`))
	require.NoError(t, err)
	assert.True(t, envelope.OK())
	assert.Equal(t, "http://x/a.mp3", envelope.URL)
	assert.Equal(t, "ok", envelope.Message)
}

func TestParseEnvelope_StringCode(t *testing.T) {
	t.Parallel()

	envelope, err := tts.ParseEnvelope([]byte(`{"code":"200","data":{"url":"http://x/b.mp3"}}`))
	require.NoError(t, err)
	assert.True(t, envelope.OK())
	assert.Equal(t, "http://x/b.mp3", envelope.URL)
}

func TestParseEnvelope_Failures(t *testing.T) {
	t.Parallel()

	envelope, err := tts.ParseEnvelope([]byte(`{"code":500}`))
	require.NoError(t, err)
	assert.False(t, envelope.OK())
	assert.Empty(t, envelope.URL)

	_, err = tts.ParseEnvelope([]byte(`   `))
	require.Error(t, err)

	_, err = tts.ParseEnvelope([]byte(`{"code":"abc"}`))
	require.Error(t, err)
}
