package tts

import (
	"errors"

	"github.com/book-expert/milora-tts/internal/core"
	"github.com/book-expert/milora-tts/internal/fetch"
)

// Static errors.
var (
	// ErrInvalidResponse means the synthesis API answered without a success
	// code or without an audio URL.
	ErrInvalidResponse = errors.New("invalid synthesis response")
	// ErrDecode means the compressed audio could not be decoded.
	ErrDecode = errors.New("audio decode failed")
	// ErrServiceClosed is returned for requests submitted after Close.
	ErrServiceClosed = errors.New("synthesis service is closed")
)

// errorKind maps a pipeline error onto the kind reported to the sink. A
// network failure stays a network failure even when its last attempt ran out
// of time.
func errorKind(err error) core.ErrorKind {
	switch {
	case errors.Is(err, fetch.ErrNetwork):
		return core.KindNetwork
	case errors.Is(err, ErrInvalidResponse):
		return core.KindInvalidResponse
	case errors.Is(err, ErrDecode):
		return core.KindDecode
	default:
		return core.KindSynthesis
	}
}
