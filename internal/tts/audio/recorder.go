// Package audio collects decoded speech and packages it as WAV for hosts that
// want a file rather than a live stream.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/book-expert/milora-tts/internal/core"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavBitDepth  = 16
	wavFormatPCM = 1
	tempPattern  = "milora-tts-*.wav"
)

// Common errors for the audio package.
var (
	ErrNoAudio            = errors.New("no audio was recorded")
	ErrUnalignedPCM       = errors.New("pcm payload is not sample aligned")
	ErrUnsupportedFormat  = errors.New("only pcm16 audio can be packaged as wav")
	ErrSynthesisFailed    = errors.New("synthesis reported an error")
	ErrSynthesisUnsettled = errors.New("synthesis ended without done or error")
)

// Recorder is a core.Sink that keeps every chunk in memory. MaxBytes, when
// positive, caps the recording: the write that reaches it asks the producer
// to stop.
type Recorder struct {
	MaxBytes int

	mu       sync.Mutex
	format   core.AudioFormat
	started  bool
	pcm      []byte
	finished bool
	failed   bool
	kind     core.ErrorKind
}

// NewRecorder creates a Recorder capped at maxBytes of PCM; zero means no cap.
func NewRecorder(maxBytes int) *Recorder {
	return &Recorder{MaxBytes: maxBytes}
}

// Start implements core.Sink.
func (r *Recorder) Start(format core.AudioFormat) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.format = format
	r.started = true
}

// Write implements core.Sink.
func (r *Recorder) Write(chunk []byte) core.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pcm = append(r.pcm, chunk...)

	if r.MaxBytes > 0 && len(r.pcm) >= r.MaxBytes {
		r.pcm = r.pcm[:r.MaxBytes]

		return core.Stop
	}

	return core.Continue
}

// Error implements core.Sink.
func (r *Recorder) Error(kind core.ErrorKind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failed = true
	r.kind = kind
}

// Done implements core.Sink.
func (r *Recorder) Done() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.finished = true
}

// Err reports how the request ended: nil after Done, an error wrapping
// ErrSynthesisFailed after Error, ErrSynthesisUnsettled otherwise.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.failed:
		return fmt.Errorf("%w: %s", ErrSynthesisFailed, r.kind)
	case r.finished:
		return nil
	default:
		return ErrSynthesisUnsettled
	}
}

// Format returns the negotiated format and whether Start was called.
func (r *Recorder) Format() (core.AudioFormat, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.format, r.started
}

// PCM returns a copy of the recorded samples.
func (r *Recorder) PCM() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]byte(nil), r.pcm...)
}

// Duration is the playback length of the recording.
func (r *Recorder) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	frameSize := r.format.Channels * r.format.Encoding.BytesPerSample()
	if !r.started || frameSize == 0 || r.format.SampleRate == 0 {
		return 0
	}

	frames := len(r.pcm) / frameSize

	return time.Duration(frames) * time.Second / time.Duration(r.format.SampleRate)
}

// WriteWAV encodes the recording as a 16-bit PCM WAV file.
func (r *Recorder) WriteWAV(out io.WriteSeeker) error {
	format, started := r.Format()
	if !started {
		return ErrNoAudio
	}

	return EncodeWAV(out, format, r.PCM())
}

// WAV returns the recording as WAV bytes. The encoder needs to seek back to
// patch the header, so the file is assembled in a temporary file.
func (r *Recorder) WAV() ([]byte, error) {
	file, err := os.CreateTemp("", tempPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary wav file: %w", err)
	}

	defer func() {
		_ = file.Close()
		_ = os.Remove(file.Name())
	}()

	err = r.WriteWAV(file)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(file.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to read temporary wav file: %w", err)
	}

	return data, nil
}

// EncodeWAV writes interleaved little-endian PCM16 as a WAV file.
func EncodeWAV(out io.WriteSeeker, format core.AudioFormat, pcm []byte) error {
	if format.Encoding != core.EncodingPCM16 {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format.Encoding)
	}

	if len(pcm)%2 != 0 {
		return ErrUnalignedPCM
	}

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           samples,
		SourceBitDepth: wavBitDepth,
	}

	encoder := wav.NewEncoder(out, format.SampleRate, wavBitDepth, format.Channels, wavFormatPCM)

	err := encoder.Write(buffer)
	if err != nil {
		return fmt.Errorf("write wav: %w", err)
	}

	err = encoder.Close()
	if err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}

	return nil
}
