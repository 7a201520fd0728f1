// Package software implements gpu.Device on the CPU.
//
// The target is premultiplied BGRA with an 8-bit stencil plane. Quads are
// rasterized by mapping each pixel center back into quad space, so any
// affine placement (including X/Y rotations seen edge-on) is handled by one
// code path.
package software

import (
	"fmt"
	"image"
	gomath "math"
	"sync/atomic"

	"github.com/Faultbox/daro-engine/internal/engine/gpu"
	"github.com/Faultbox/daro-engine/pkg/math"
)

// Device is a CPU render target.
type Device struct {
	width, height int
	pix           []byte // premultiplied BGRA
	stencil       []uint8
	mode          gpu.StencilMode
	lost          atomic.Bool
}

// New creates a software device of the given size.
func New(width, height int) (*Device, error) {
	if !gpu.ValidSize(width, height) {
		return nil, fmt.Errorf("software device %dx%d: %w", width, height, gpu.ErrInvalidSize)
	}
	return &Device{
		width:   width,
		height:  height,
		pix:     make([]byte, width*height*4),
		stencil: make([]uint8, width*height),
	}, nil
}

// Name implements gpu.Device.
func (d *Device) Name() string { return "software" }

// Size implements gpu.Device.
func (d *Device) Size() (int, int) { return d.width, d.height }

// Begin implements gpu.Device.
func (d *Device) Begin() { d.mode = gpu.StencilOff }

// Clear implements gpu.Device.
func (d *Device) Clear(r, g, b, a float32) {
	px := [4]byte{to8(b), to8(g), to8(r), to8(a)}
	for i := 0; i < len(d.pix); i += 4 {
		copy(d.pix[i:i+4], px[:])
	}
	clear(d.stencil)
}

// ClearStencil implements gpu.Device.
func (d *Device) ClearStencil() { clear(d.stencil) }

// SetStencil implements gpu.Device.
func (d *Device) SetStencil(mode gpu.StencilMode) { d.mode = mode }

// MarkLost makes every later draw fail with gpu.ErrDeviceLost.
func (d *Device) MarkLost() { d.lost.Store(true) }

// Lost implements gpu.Device.
func (d *Device) Lost() bool { return d.lost.Load() }

// Close implements gpu.Device.
func (d *Device) Close() error {
	d.pix = nil
	d.stencil = nil
	return nil
}

// passes reports whether a pixel may be colored under the current mode.
func (d *Device) passes(i int) bool {
	switch d.mode {
	case gpu.StencilInner:
		return d.stencil[i] == 1
	case gpu.StencilOuter:
		return d.stencil[i] != 1
	}
	return true
}

// DrawQuad implements gpu.Device.
func (d *Device) DrawQuad(q *gpu.Quad) error {
	if d.Lost() {
		return gpu.ErrDeviceLost
	}
	fw, fh := float32(d.width), float32(d.height)
	fwd := q.Transform.PixelAffine(fw, fh)
	inv, ok := fwd.Invert()
	if !ok {
		return nil
	}

	r := d.bounds(fwd)
	if r.Empty() {
		return nil
	}

	var tex *Texture
	if q.Texture != nil {
		t, ok := q.Texture.(*Texture)
		if !ok {
			return fmt.Errorf("software device: foreign texture %T", q.Texture)
		}
		tex = t
	}
	region := q.Region.Resolve()
	sinR, cosR := gomath.Sincos(float64(region.Rot))

	// Screen-space derivatives of u and v, constant for an affine map.
	fwU := abs32(inv.A) + abs32(inv.C)
	fwV := abs32(inv.B) + abs32(inv.D)

	for py := r.Min.Y; py < r.Max.Y; py++ {
		for px := r.Min.X; px < r.Max.X; px++ {
			x, y := inv.Apply(float32(px)+0.5, float32(py)+0.5)
			u, v := x+0.5, 0.5-y
			if u < 0 || u > 1 || v < 0 || v > 1 {
				continue
			}
			edge, edgeFW, inside := coverageEdge(q.Shape, u, v, fwU, fwV)
			if !inside {
				continue
			}

			i := py*d.width + px
			if d.mode == gpu.StencilWrite {
				d.stencil[i] = 1
				continue
			}
			if !d.passes(i) {
				continue
			}

			c := q.Color
			if tex != nil {
				cu, cv := u-0.5, v-0.5
				ru := cu*float32(cosR) - cv*float32(sinR) + 0.5
				rv := cu*float32(sinR) + cv*float32(cosR) + 0.5
				s := tex.sample(region.X+ru*region.W, region.Y+rv*region.H)
				c = [4]float32{s[0] * c[0], s[1] * c[1], s[2] * c[2], s[3] * c[3]}
			}
			if q.EdgeSmooth > 0 {
				k := smoothstep(0, edgeFW*q.EdgeSmooth, edge)
				c = [4]float32{c[0] * k, c[1] * k, c[2] * k, c[3] * k}
			}
			d.blend(i*4, c)
		}
	}
	return nil
}

// coverageEdge returns the distance to the shape boundary in uv units and
// its screen-space derivative. inside is false outside the shape.
func coverageEdge(shape gpu.Shape, u, v, fwU, fwV float32) (edge, fw float32, inside bool) {
	if shape == gpu.ShapeEllipse {
		du, dv := (u-0.5)*2, (v-0.5)*2
		dist := float32(gomath.Sqrt(float64(du*du + dv*dv)))
		if dist > 1 {
			return 0, 0, false
		}
		return (1 - dist) * 0.5, max(fwU, fwV), true
	}
	edge, fw = u, fwU
	if 1-u < edge {
		edge = 1 - u
	}
	if v < edge {
		edge, fw = v, fwV
	}
	if 1-v < edge {
		edge, fw = 1-v, fwV
	}
	return edge, fw, true
}

// bounds returns the pixel box covering the transformed unit quad.
func (d *Device) bounds(a math.Affine2) image.Rectangle {
	minX, minY := float32(gomath.MaxFloat32), float32(gomath.MaxFloat32)
	maxX, maxY := -minX, -minY
	for _, p := range [4][2]float32{{-0.5, -0.5}, {-0.5, 0.5}, {0.5, 0.5}, {0.5, -0.5}} {
		x, y := a.Apply(p[0], p[1])
		minX, maxX = min(minX, x), max(maxX, x)
		minY, maxY = min(minY, y), max(maxY, y)
	}
	r := image.Rect(
		int(gomath.Floor(float64(minX))), int(gomath.Floor(float64(minY))),
		int(gomath.Ceil(float64(maxX))), int(gomath.Ceil(float64(maxY))),
	)
	return r.Intersect(image.Rect(0, 0, d.width, d.height))
}

// blend composites a premultiplied RGBA color source-over at byte offset o.
func (d *Device) blend(o int, c [4]float32) {
	if c[3] <= 0 && c[0] <= 0 && c[1] <= 0 && c[2] <= 0 {
		return
	}
	inv := 1 - c[3]
	p := d.pix[o : o+4]
	p[0] = to8(c[2] + float32(p[0])/255*inv)
	p[1] = to8(c[1] + float32(p[1])/255*inv)
	p[2] = to8(c[0] + float32(p[2])/255*inv)
	p[3] = to8(c[3] + float32(p[3])/255*inv)
}

// BlendOverlay implements gpu.Device. pix starts at rect.Min.
func (d *Device) BlendOverlay(pix []byte, stride int, rect image.Rectangle) error {
	if d.Lost() {
		return gpu.ErrDeviceLost
	}
	if d.mode == gpu.StencilWrite {
		return nil
	}
	clipped := rect.Intersect(image.Rect(0, 0, d.width, d.height))
	if clipped.Empty() {
		return nil
	}
	if need := (rect.Dy()-1)*stride + rect.Dx()*4; len(pix) < need {
		return gpu.ErrShortBuffer
	}
	for y := clipped.Min.Y; y < clipped.Max.Y; y++ {
		row := pix[(y-rect.Min.Y)*stride:]
		for x := clipped.Min.X; x < clipped.Max.X; x++ {
			s := row[(x-rect.Min.X)*4:]
			sa := s[3]
			if sa == 0 && s[0] == 0 && s[1] == 0 && s[2] == 0 {
				continue
			}
			i := y*d.width + x
			if !d.passes(i) {
				continue
			}
			dp := d.pix[i*4 : i*4+4]
			inv := 255 - uint32(sa)
			dp[0] = add8(s[2], dp[0], inv)
			dp[1] = add8(s[1], dp[1], inv)
			dp[2] = add8(s[0], dp[2], inv)
			dp[3] = add8(sa, dp[3], inv)
		}
	}
	return nil
}

// ReadPixels implements gpu.Device.
func (d *Device) ReadPixels(dst []byte) (int, error) {
	if d.Lost() {
		return 0, gpu.ErrDeviceLost
	}
	if len(dst) < len(d.pix) {
		return 0, gpu.ErrShortBuffer
	}
	copy(dst, d.pix)
	return d.width * 4, nil
}

// Pixel returns the premultiplied BGRA value at (x, y).
func (d *Device) Pixel(x, y int) [4]byte {
	o := (y*d.width + x) * 4
	return [4]byte{d.pix[o], d.pix[o+1], d.pix[o+2], d.pix[o+3]}
}

// Stencil returns the stencil value at (x, y).
func (d *Device) Stencil(x, y int) uint8 { return d.stencil[y*d.width+x] }

func add8(src, dst byte, inv uint32) byte {
	v := uint32(src) + (uint32(dst)*inv+127)/255
	if v > 255 {
		v = 255
	}
	return byte(v)
}

func to8(v float32) byte {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	}
	return byte(v*255 + 0.5)
}

func smoothstep(e0, e1, x float32) float32 {
	if e1 <= e0 {
		if x < e0 {
			return 0
		}
		return 1
	}
	t := (x - e0) / (e1 - e0)
	t = max(0, min(1, t))
	return t * t * (3 - 2*t)
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

var _ gpu.Device = (*Device)(nil)
