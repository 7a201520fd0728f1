// Package video plays video files into device textures.
//
// A Player opens a file through the first Backend that can probe and open
// it, then advances on an accumulator clock: every tick adds the elapsed
// wall time and decodes one frame per frame duration that has passed.
package video

import (
	"context"
	"errors"
	"time"

	"github.com/Faultbox/daro-engine/internal/engine/gpu"
)

// Limits applied before any decoding.
const (
	MaxFileSize   = 4 << 30
	MaxDimension  = 8192
	DefaultFPS    = 25.0
	MaxPlayers    = 32
	InvalidHandle = 0
)

var (
	ErrPathTraversal = errors.New("video: path contains '..'")
	ErrFileTooLarge  = errors.New("video: file exceeds size limit")
	ErrResolution    = errors.New("video: resolution out of range")
	ErrNoBackend     = errors.New("video: no backend could open the file")
	ErrNotLoaded     = errors.New("video: nothing loaded")
	ErrTooMany       = errors.New("video: player limit reached")
)

// PixelFormat is the layout of decoded frames.
type PixelFormat int

// Decoded pixel formats.
const (
	FormatBGRA PixelFormat = iota
	// FormatBGRx carries undefined alpha bytes.
	FormatBGRx
)

func (f PixelFormat) String() string {
	if f == FormatBGRx {
		return "BGRx"
	}
	return "BGRA"
}

// Probe is what a backend learned about a file before decoding. The format
// negotiation result and the alpha fix decision are part of it.
type Probe struct {
	Width, Height int
	FrameRate     float64
	Duration      time.Duration
	TotalFrames   int
	Format        PixelFormat
	// NeedsAlphaFix is set when decoded alpha must be forced opaque.
	NeedsAlphaFix bool
	HasAlpha      bool
}

// Frame is one decoded picture. Data is only valid until the next call on
// the decoder that produced it.
type Frame struct {
	Data          []byte
	Stride        int
	Width, Height int
}

// Decoder produces frames in presentation order.
type Decoder interface {
	// Next returns the next frame, or io.EOF at the end of the stream.
	Next() (Frame, error)
	// Seek positions the decoder so the next frame returned is frame.
	Seek(frame int) error
	Close() error
}

// Backend is one way of decoding video.
type Backend interface {
	Name() string
	Available() bool
	Probe(ctx context.Context, path string) (Probe, error)
	Open(ctx context.Context, path string, p Probe) (Decoder, error)
}

// Clock supplies wall time to players.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the real-time clock.
var SystemClock Clock = systemClock{}

// TextureCreator allocates the textures players decode into.
type TextureCreator interface {
	CreateTexture(width, height int) (gpu.Texture, error)
}

// State is a player's backend selection state.
type State int

// Player states.
const (
	StateUnopened State = iota
	StateOpened
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpened:
		return "opened"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}
