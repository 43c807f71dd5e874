package tts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/book-expert/logger"
	"github.com/book-expert/milora-tts/internal/core"
	"github.com/book-expert/milora-tts/internal/telemetry"
	"github.com/hajimehoshi/go-mp3"
)

// Buffer sizes for the decode loop.
const (
	inputChunkSize  = 4 * 1024
	outputChunkSize = 8 * 1024

	mp3Channels = 2

	maxEmptyReads = 100
)

var (
	errNoAudio       = errors.New("stream produced no audio")
	errInvalidFormat = errors.New("codec reported an unusable output format")
)

// Stream is an open codec session producing PCM.
type Stream interface {
	// Format is the negotiated output format. It is valid once Open returned.
	Format() core.AudioFormat
	// Read fills p with decoded PCM and returns io.EOF at end of stream.
	Read(p []byte) (int, error)
	// Close releases codec resources.
	Close() error
}

// Codec opens decode sessions over compressed input. The codec pulls its
// input from the reader it is given; it never sees the whole buffer at once.
type Codec interface {
	Open(input io.Reader) (Stream, error)
}

// Outcome says how a decode that did not fail ended.
type Outcome int

const (
	// Completed means the whole stream was delivered.
	Completed Outcome = iota + 1
	// Stopped means the sink asked to stop early.
	Stopped
)

// DecodeResult describes what a Decode call delivered.
type DecodeResult struct {
	Outcome      Outcome
	Format       core.AudioFormat
	Started      bool
	BytesWritten int64
}

// Decoder drives a Codec: it feeds compressed input in bounded increments and
// hands each decoded chunk to the sink before pulling the next one.
type Decoder struct {
	codec   Codec
	log     *logger.Logger
	metrics *telemetry.Instruments
}

// NewDecoder creates a Decoder. A nil codec selects MP3Codec.
func NewDecoder(codec Codec, log *logger.Logger, metrics *telemetry.Instruments) *Decoder {
	if codec == nil {
		codec = MP3Codec{}
	}

	if metrics == nil {
		metrics = telemetry.Noop()
	}

	return &Decoder{codec: codec, log: log, metrics: metrics}
}

// Decode streams compressed into sink. It calls sink.Start once, with the
// codec's negotiated format, immediately before the first Write. It returns
// an error wrapping ErrDecode on codec failure and the context's error when
// ctx is cancelled; in both cases no further writes are made. The codec
// session is closed on every path.
func (d *Decoder) Decode(ctx context.Context, compressed []byte, sink core.Sink) (DecodeResult, error) {
	var result DecodeResult

	feed := &feeder{ctx: ctx, data: compressed}

	stream, err := d.codec.Open(feed)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}

		return result, fmt.Errorf("%w: open: %w", ErrDecode, err)
	}

	defer func() {
		closeErr := stream.Close()
		if closeErr != nil {
			d.log.Warn("Failed to release decoder: %v", closeErr)
		}
	}()

	result.Format = stream.Format()
	if result.Format.SampleRate <= 0 || result.Format.Channels <= 0 {
		return result, fmt.Errorf("%w: %w: %+v", ErrDecode, errInvalidFormat, result.Format)
	}

	buf := make([]byte, outputChunkSize)

	for {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return result, ctxErr
		}

		n, readErr := fill(stream, buf)

		ctxErr = ctx.Err()
		if ctxErr != nil {
			return result, ctxErr
		}

		if n > 0 {
			if !result.Started {
				d.log.Info("Decoder output format: %d Hz, %d channel(s), %s",
					result.Format.SampleRate, result.Format.Channels, result.Format.Encoding)
				sink.Start(result.Format)
				result.Started = true
			}

			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			signal := sink.Write(chunk)
			result.BytesWritten += int64(n)
			d.metrics.RecordDecodedBytes(ctx, n)

			if signal == core.Stop {
				result.Outcome = Stopped

				return result, nil
			}
		}

		switch {
		case readErr == nil:
			continue
		case errors.Is(readErr, io.EOF):
			if result.BytesWritten == 0 {
				return result, fmt.Errorf("%w: %w", ErrDecode, errNoAudio)
			}

			result.Outcome = Completed

			return result, nil
		default:
			return result, fmt.Errorf("%w: %w", ErrDecode, readErr)
		}
	}
}

// fill reads from stream until buf is full or the stream reports an error.
// Unlike io.ReadFull it passes the stream's own error through, so only a
// bare io.EOF from the codec marks the end of the audio.
func fill(stream Stream, buf []byte) (int, error) {
	var (
		filled int
		empty  int
	)

	for filled < len(buf) {
		n, err := stream.Read(buf[filled:])
		filled += n

		if err != nil {
			return filled, err
		}

		if n > 0 {
			empty = 0

			continue
		}

		empty++
		if empty >= maxEmptyReads {
			return filled, io.ErrNoProgress
		}
	}

	return filled, nil
}

// feeder hands the codec at most inputChunkSize bytes per read and stops
// feeding once ctx is cancelled.
type feeder struct {
	ctx    context.Context
	data   []byte
	offset int
}

func (f *feeder) Read(p []byte) (int, error) {
	err := f.ctx.Err()
	if err != nil {
		return 0, err
	}

	if f.offset >= len(f.data) {
		return 0, io.EOF
	}

	n := copy(p[:min(len(p), inputChunkSize)], f.data[f.offset:])
	f.offset += n

	return n, nil
}

// MP3Codec decodes MPEG audio with go-mp3. Output is always interleaved
// stereo PCM16 at the stream's own sample rate.
type MP3Codec struct{}

// Open implements Codec.
func (MP3Codec) Open(input io.Reader) (Stream, error) {
	decoder, err := mp3.NewDecoder(input)
	if err != nil {
		return nil, fmt.Errorf("failed to read mp3 header: %w", err)
	}

	return &mp3Stream{decoder: decoder}, nil
}

type mp3Stream struct {
	decoder *mp3.Decoder
}

func (s *mp3Stream) Format() core.AudioFormat {
	return core.AudioFormat{
		SampleRate: s.decoder.SampleRate(),
		Channels:   mp3Channels,
		Encoding:   core.EncodingPCM16,
	}
}

func (s *mp3Stream) Read(p []byte) (int, error) {
	return s.decoder.Read(p)
}

func (s *mp3Stream) Close() error {
	s.decoder = nil

	return nil
}
