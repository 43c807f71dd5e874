// Package core defines the core business types and interfaces for the TTS bridge.
package core

import "context"

// Encoding identifies the sample layout of decoded audio.
type Encoding int

const (
	// EncodingPCM16 is signed 16-bit little-endian interleaved PCM.
	EncodingPCM16 Encoding = iota + 1
)

// String returns a short name for the encoding.
func (e Encoding) String() string {
	switch e {
	case EncodingPCM16:
		return "pcm16"
	default:
		return "unknown"
	}
}

// BytesPerSample returns the width of one sample of a single channel.
func (e Encoding) BytesPerSample() int {
	if e == EncodingPCM16 {
		return 2
	}

	return 0
}

// AudioFormat describes a decoded stream. It is negotiated once per request,
// before the first chunk is written, and applies to every chunk.
type AudioFormat struct {
	SampleRate int
	Channels   int
	Encoding   Encoding
}

// Signal is returned by Sink.Write to tell the producer whether to keep going.
type Signal int

const (
	// Continue asks the producer for more audio.
	Continue Signal = iota
	// Stop asks the producer to end the request early.
	Stop
)

// ErrorKind classifies a failed request for the host.
type ErrorKind int

const (
	// KindNetwork means the synthesis API or audio download could not be reached.
	KindNetwork ErrorKind = iota + 1
	// KindInvalidResponse means the synthesis API answered without a usable result.
	KindInvalidResponse
	// KindDecode means the compressed audio could not be decoded.
	KindDecode
	// KindSynthesis covers failures that fit no other kind.
	KindSynthesis
)

// String returns the kind's name as used in logs.
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindInvalidResponse:
		return "invalid_response"
	case KindDecode:
		return "decode"
	case KindSynthesis:
		return "synthesis"
	default:
		return "unknown"
	}
}

// Sink receives decoded audio for one request.
//
// Start is called exactly once before the first Write. Exactly one of Done or
// Error ends a request that was not cancelled; a cancelled request ends
// without either.
type Sink interface {
	Start(format AudioFormat)
	Write(chunk []byte) Signal
	Error(kind ErrorKind)
	Done()
}

// Synthesizer turns text into audio delivered to a Sink.
type Synthesizer interface {
	// Synthesize blocks until the request completes, fails or is cancelled.
	Synthesize(ctx context.Context, text string, sink Sink) error
	// Stop cancels the active request, if any.
	Stop()
}

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}
