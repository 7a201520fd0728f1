// Package layer defines the fixed-layout layer record exchanged between the
// host and the compositor, and its binary encoding.
package layer

import (
	"fmt"
)

// Limits shared with the host.
const (
	MaxLayers   = 64
	MaxPath     = 260
	MaxText     = 1024
	MaxFontName = 64
)

// Kind is the layer type.
type Kind int32

// Layer kinds.
const (
	KindRectangle Kind = 0
	KindCircle    Kind = 1
	KindText      Kind = 2
	KindImage     Kind = 3
	KindVideo     Kind = 4
	KindMask      Kind = 5
	KindGroup     Kind = 6
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindRectangle:
		return "Rectangle"
	case KindCircle:
		return "Circle"
	case KindText:
		return "Text"
	case KindImage:
		return "Image"
	case KindVideo:
		return "Video"
	case KindMask:
		return "Mask"
	case KindGroup:
		return "Group"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(k))
	}
}

// Source selects where a layer's pixels come from.
type Source int32

// Layer sources.
const (
	SourceSolid Source = 0
	SourceSpout Source = 1
	SourceImage Source = 2
	SourceVideo Source = 3
)

// String returns a human-readable source name.
func (s Source) String() string {
	switch s {
	case SourceSolid:
		return "Solid"
	case SourceSpout:
		return "Spout"
	case SourceImage:
		return "Image"
	case SourceVideo:
		return "Video"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(s))
	}
}

// Align is the horizontal text alignment.
type Align int32

// Text alignments.
const (
	AlignLeft   Align = 0
	AlignCenter Align = 1
	AlignRight  Align = 2
)

// MaskMode selects which side of a mask stays visible.
type MaskMode int32

// Mask modes.
const (
	MaskInner MaskMode = 0 // visible only inside the mask
	MaskOuter MaskMode = 1 // visible only outside the mask
)

// Antialias is the text antialiasing mode.
type Antialias int32

// Text antialias modes.
const (
	AntialiasSmooth Antialias = 0
	AntialiasSharp  Antialias = 1
)

// Layer is the decoded form of one layer record.
type Layer struct {
	ID     int32
	Active bool
	Kind   Kind

	PosX, PosY       float32
	SizeX, SizeY     float32
	RotX, RotY, RotZ float32 // degrees
	AnchorX, AnchorY float32 // normalized, 0.5 is the center

	Opacity float32
	Color   [4]float32 // RGBA, 0..1

	Source          Source
	TextureID       int32 // texture handle, or video handle when Source is SourceVideo
	SpoutReceiverID int32

	TexX, TexY, TexW, TexH float32
	TexRot                 float32 // degrees
	TextureLocked          bool

	Text          string
	FontFamily    string
	FontSize      float32
	FontBold      bool
	FontItalic    bool
	Alignment     Align
	LineHeight    float32
	LetterSpacing float32
	Antialias     Antialias

	TexturePath string

	MaskMode     MaskMode
	MaskedLayers []int32
}

// IsMask reports whether the layer gates the visibility of other layers.
// Circles with a target list act as elliptical masks.
func (l *Layer) IsMask() bool {
	if len(l.MaskedLayers) == 0 {
		return false
	}
	return l.Kind == KindMask || l.Kind == KindCircle
}

// Bounds returns the axis-aligned box centered on the layer position.
func (l *Layer) Bounds() (left, top, width, height float32) {
	return l.PosX - l.SizeX*0.5, l.PosY - l.SizeY*0.5, l.SizeX, l.SizeY
}

// Default returns an active white rectangle with centered anchor, full
// opacity and the whole texture as its region.
func Default() Layer {
	return Layer{
		Active:     true,
		AnchorX:    0.5,
		AnchorY:    0.5,
		Opacity:    1,
		Color:      [4]float32{1, 1, 1, 1},
		TexW:       1,
		TexH:       1,
		FontFamily: "Arial",
		FontSize:   48,
		LineHeight: 1.2,
	}
}
