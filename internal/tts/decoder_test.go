package tts_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/book-expert/milora-tts/internal/core"
	"github.com/book-expert/milora-tts/internal/telemetry"
	"github.com/book-expert/milora-tts/internal/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoder_StreamsInBoundedChunks(t *testing.T) {
	t.Parallel()

	codec := &rawCodec{}
	decoder := tts.NewDecoder(codec, newTestLogger(t), telemetry.Noop())
	pcm := patternPCM(20000)
	sink := newRecordingSink()

	result, err := decoder.Decode(context.Background(), encodeRaw(24000, 1, pcm), sink)
	require.NoError(t, err)

	assert.Equal(t, tts.Completed, result.Outcome)
	assert.True(t, result.Started)
	assert.Equal(t, int64(len(pcm)), result.BytesWritten)
	assert.Equal(t, []string{"start", "write", "write", "write"}, sink.Events())
	assert.Equal(t, pcm, sink.PCM())
	assert.Equal(t, core.AudioFormat{SampleRate: 24000, Channels: 1, Encoding: core.EncodingPCM16}, sink.Format())
	assert.Equal(t, int32(1), codec.closed.Load())
}

func TestDecoder_StopsWhenSinkAsks(t *testing.T) {
	t.Parallel()

	codec := &rawCodec{}
	decoder := tts.NewDecoder(codec, newTestLogger(t), nil)
	sink := newRecordingSink()
	sink.stopAfter = 1

	result, err := decoder.Decode(context.Background(), encodeRaw(16000, 2, patternPCM(40000)), sink)
	require.NoError(t, err)

	assert.Equal(t, tts.Stopped, result.Outcome)
	assert.Equal(t, []string{"start", "write"}, sink.Events())
	assert.Equal(t, int32(1), codec.closed.Load())
}

func TestDecoder_CancelStopsWrites(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	codec := &rawCodec{}
	decoder := tts.NewDecoder(codec, newTestLogger(t), nil)
	sink := newRecordingSink()
	sink.onWrite = func(int) { cancel() }

	_, err := decoder.Decode(ctx, encodeRaw(16000, 2, patternPCM(40000)), sink)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"start", "write"}, sink.Events())
	assert.Equal(t, int32(1), codec.closed.Load())
}

func TestDecoder_CancelledBeforeStart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	decoder := tts.NewDecoder(&rawCodec{}, newTestLogger(t), nil)
	sink := newRecordingSink()

	_, err := decoder.Decode(ctx, encodeRaw(16000, 2, patternPCM(100)), sink)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sink.Events())
}

func TestDecoder_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "bad header", input: []byte("NOPE0123456789")},
		{name: "truncated header", input: []byte("RAW")},
		{name: "no samples", input: encodeRaw(16000, 2, nil)},
		{name: "zero sample rate", input: encodeRaw(0, 2, patternPCM(64))},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			decoder := tts.NewDecoder(&rawCodec{}, newTestLogger(t), nil)
			sink := newRecordingSink()

			result, err := decoder.Decode(context.Background(), testCase.input, sink)
			require.ErrorIs(t, err, tts.ErrDecode)
			assert.False(t, result.Started)
			assert.Empty(t, sink.Events())
		})
	}
}

// truncatingCodec cuts a raw stream short and reports it the way a codec
// reports a frame that ends early.
type truncatingCodec struct {
	rawCodec

	after int
}

func (c *truncatingCodec) Open(input io.Reader) (tts.Stream, error) {
	stream, err := c.rawCodec.Open(input)
	if err != nil {
		return nil, err
	}

	return &truncatingStream{Stream: stream, left: c.after}, nil
}

type truncatingStream struct {
	tts.Stream

	left int
}

func (s *truncatingStream) Read(p []byte) (int, error) {
	if s.left <= 0 {
		return 0, io.ErrUnexpectedEOF
	}

	n, err := s.Stream.Read(p[:min(len(p), s.left)])
	s.left -= n

	return n, err
}

func TestDecoder_TruncatedStreamIsDecodeError(t *testing.T) {
	t.Parallel()

	codec := &truncatingCodec{after: 10000}
	decoder := tts.NewDecoder(codec, newTestLogger(t), nil)
	sink := newRecordingSink()

	result, err := decoder.Decode(context.Background(), encodeRaw(16000, 2, patternPCM(40000)), sink)
	require.ErrorIs(t, err, tts.ErrDecode)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	assert.True(t, result.Started)
	assert.Equal(t, int64(10000), result.BytesWritten)
	assert.Equal(t, []string{"start", "write", "write"}, sink.Events())
	assert.Equal(t, int32(1), codec.closed.Load())
}

func TestMP3Codec_RejectsGarbage(t *testing.T) {
	t.Parallel()

	decoder := tts.NewDecoder(nil, newTestLogger(t), nil)
	sink := newRecordingSink()

	_, err := decoder.Decode(context.Background(), bytes.Repeat([]byte("not audio "), 64), sink)
	require.ErrorIs(t, err, tts.ErrDecode)
	assert.Empty(t, sink.Events())
}

// silentMP3 builds MPEG-1 Layer III frames (128 kbit/s, 44.1 kHz, stereo)
// whose side info and main data are all zero.
func silentMP3(frames int) []byte {
	const frameSize = 417

	frame := make([]byte, frameSize)
	copy(frame, []byte{0xFF, 0xFB, 0x90, 0x00})

	return bytes.Repeat(frame, frames)
}

func TestMP3Codec_DecodesSilence(t *testing.T) {
	t.Parallel()

	decoder := tts.NewDecoder(tts.MP3Codec{}, newTestLogger(t), nil)
	sink := newRecordingSink()

	result, err := decoder.Decode(context.Background(), silentMP3(8), sink)
	require.NoError(t, err)

	assert.Equal(t, tts.Completed, result.Outcome)
	assert.Equal(t, core.AudioFormat{SampleRate: 44100, Channels: 2, Encoding: core.EncodingPCM16}, sink.Format())
	assert.Equal(t, "start", sink.Events()[0])
	assert.Positive(t, result.BytesWritten)
	assert.Equal(t, make([]byte, result.BytesWritten), sink.PCM())
}
