// Package gpu defines the drawing surface the compositor renders through.
//
// Two devices implement it: the OpenGL renderer and the pure-Go software
// rasterizer. Both share one pixel stage: premultiplied source-over blending
// into a BGRA target with an 8-bit stencil plane.
package gpu

import (
	"errors"
	"image"

	"github.com/Faultbox/daro-engine/pkg/math"
)

// MaxTextureSize is the largest texture edge a device must accept.
const MaxTextureSize = 16384

var (
	// ErrDeviceLost is returned once the device can no longer render.
	ErrDeviceLost = errors.New("gpu: device lost")
	// ErrInvalidSize is returned for zero, negative or oversized dimensions.
	ErrInvalidSize = errors.New("gpu: invalid size")
	// ErrShortBuffer is returned when a pixel buffer is smaller than required.
	ErrShortBuffer = errors.New("gpu: buffer too small")
)

// StencilMode selects how draws interact with the stencil plane.
type StencilMode int

// Stencil modes.
const (
	StencilOff   StencilMode = iota // no test, no write
	StencilWrite                    // write 1 where covered, color writes off
	StencilInner                    // draw where stencil == 1
	StencilOuter                    // draw where stencil != 1
)

func (m StencilMode) String() string {
	switch m {
	case StencilOff:
		return "off"
	case StencilWrite:
		return "write"
	case StencilInner:
		return "inner"
	case StencilOuter:
		return "outer"
	}
	return "unknown"
}

// Shape is the coverage shape of a quad.
type Shape int

// Quad shapes.
const (
	ShapeRect Shape = iota
	// ShapeEllipse covers the ellipse inscribed in the quad.
	ShapeEllipse
)

// TexRegion selects the part of a texture mapped onto a quad, in normalized
// texture coordinates. Rot is in radians and turns the region about its
// center.
type TexRegion struct {
	X, Y, W, H float32
	Rot        float32
}

// FullRegion maps the whole texture.
var FullRegion = TexRegion{W: 1, H: 1}

// Resolve substitutes the full extent for a zero width or height.
func (r TexRegion) Resolve() TexRegion {
	if r.W == 0 {
		r.W = 1
	}
	if r.H == 0 {
		r.H = 1
	}
	return r
}

// Quad is one draw of the unit quad.
type Quad struct {
	// Transform maps the unit quad (-0.5..0.5) to clip space.
	Transform math.Mat4
	// Color is a premultiplied tint. Untextured quads are filled with it.
	Color   [4]float32
	Texture Texture
	Region  TexRegion
	Shape   Shape
	// EdgeSmooth is the antialiasing falloff width in pixels. 0 disables it.
	EdgeSmooth float32
}

// Unit quad geometry: position xy followed by uv, and the index list.
var (
	QuadVertices = [16]float32{
		-0.5, -0.5, 0, 1,
		-0.5, 0.5, 0, 0,
		0.5, 0.5, 1, 0,
		0.5, -0.5, 1, 1,
	}
	QuadIndices = [6]uint16{0, 1, 2, 0, 2, 3}
)

// Texture is a BGRA texture owned by a device. Pixels are straight alpha.
type Texture interface {
	Size() (width, height int)
	// Map exposes the pixel rows for writing until Unmap is called.
	Map() (pix []byte, stride int, err error)
	Unmap()
	// Upload replaces the whole texture from rows of the given stride.
	Upload(bgra []byte, stride int) error
	Release()
}

// Device is a render target plus the state needed to composite layers.
type Device interface {
	Name() string
	Size() (width, height int)

	// Begin starts a frame and forgets any cached pipeline state.
	Begin()
	// Clear fills color with a premultiplied value and resets the stencil.
	Clear(r, g, b, a float32)
	ClearStencil()
	SetStencil(mode StencilMode)

	DrawQuad(q *Quad) error
	// BlendOverlay composites premultiplied RGBA pixels covering rect
	// source-over onto the target, honoring the stencil mode.
	BlendOverlay(pix []byte, stride int, rect image.Rectangle) error

	CreateTexture(width, height int) (Texture, error)
	// ReadPixels copies the target into dst as premultiplied BGRA, top row
	// first, and returns the row stride.
	ReadPixels(dst []byte) (stride int, err error)

	Lost() bool
	Close() error
}

// ValidSize reports whether w x h is a usable surface size.
func ValidSize(w, h int) bool {
	return w > 0 && h > 0 && w <= MaxTextureSize && h <= MaxTextureSize
}
