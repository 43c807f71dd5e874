package tts_test

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/milora-tts/internal/core"
	"github.com/book-expert/milora-tts/internal/tts"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "tts-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

// recordingSink records every call in order.
type recordingSink struct {
	mu        sync.Mutex
	events    []string
	format    core.AudioFormat
	pcm       []byte
	writes    int
	stopAfter int
	onWrite   func(writes int)
	finished  chan struct{}
	once      sync.Once
}

func newRecordingSink() *recordingSink {
	return &recordingSink{finished: make(chan struct{})}
}

func (s *recordingSink) Start(format core.AudioFormat) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.format = format
	s.events = append(s.events, "start")
}

func (s *recordingSink) Write(chunk []byte) core.Signal {
	s.mu.Lock()
	s.events = append(s.events, "write")
	s.pcm = append(s.pcm, chunk...)
	s.writes++
	writes := s.writes
	hook := s.onWrite
	stop := s.stopAfter > 0 && writes >= s.stopAfter
	s.mu.Unlock()

	if hook != nil {
		hook(writes)
	}

	if stop {
		return core.Stop
	}

	return core.Continue
}

func (s *recordingSink) Error(kind core.ErrorKind) {
	s.mu.Lock()
	s.events = append(s.events, "error:"+kind.String())
	s.mu.Unlock()

	s.once.Do(func() { close(s.finished) })
}

func (s *recordingSink) Done() {
	s.mu.Lock()
	s.events = append(s.events, "done")
	s.mu.Unlock()

	s.once.Do(func() { close(s.finished) })
}

func (s *recordingSink) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.events...)
}

func (s *recordingSink) PCM() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]byte(nil), s.pcm...)
}

func (s *recordingSink) Format() core.AudioFormat {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.format
}

// Last returns the final event, or "" when nothing was recorded.
func (s *recordingSink) Last() string {
	events := s.Events()
	if len(events) == 0 {
		return ""
	}

	return events[len(events)-1]
}

// rawCodec is a deterministic stand-in for MP3. Its input is a ten byte
// header ("RAW1", sample rate, channel count) followed by PCM16 that is
// passed through unchanged.
type rawCodec struct {
	opened atomic.Int32
	closed atomic.Int32
}

const rawHeaderSize = 10

var errBadMagic = errors.New("not a raw stream")

func (c *rawCodec) Open(input io.Reader) (tts.Stream, error) {
	header := make([]byte, rawHeaderSize)

	_, err := io.ReadFull(input, header)
	if err != nil {
		return nil, fmt.Errorf("short header: %w", err)
	}

	if string(header[:4]) != "RAW1" {
		return nil, errBadMagic
	}

	c.opened.Add(1)

	return &rawStream{
		codec: c,
		input: input,
		format: core.AudioFormat{
			SampleRate: int(binary.LittleEndian.Uint32(header[4:8])),
			Channels:   int(binary.LittleEndian.Uint16(header[8:10])),
			Encoding:   core.EncodingPCM16,
		},
	}, nil
}

type rawStream struct {
	codec  *rawCodec
	input  io.Reader
	format core.AudioFormat
}

func (s *rawStream) Format() core.AudioFormat { return s.format }

func (s *rawStream) Read(p []byte) (int, error) { return s.input.Read(p) }

func (s *rawStream) Close() error {
	s.codec.closed.Add(1)

	return nil
}

func encodeRaw(sampleRate, channels int, pcm []byte) []byte {
	out := make([]byte, rawHeaderSize, rawHeaderSize+len(pcm))
	copy(out, "RAW1")
	binary.LittleEndian.PutUint32(out[4:8], uint32(sampleRate))
	binary.LittleEndian.PutUint16(out[8:10], uint16(channels))

	return append(out, pcm...)
}

func patternPCM(size int) []byte {
	pcm := make([]byte, size)
	for i := range pcm {
		pcm[i] = byte(i % 253)
	}

	return pcm
}
