package software

import (
	"fmt"

	"github.com/Faultbox/daro-engine/internal/engine/gpu"
)

// Texture is a straight-alpha BGRA image in system memory.
type Texture struct {
	width, height int
	pix           []byte
}

// CreateTexture implements gpu.Device.
func (d *Device) CreateTexture(width, height int) (gpu.Texture, error) {
	if d.Lost() {
		return nil, gpu.ErrDeviceLost
	}
	if !gpu.ValidSize(width, height) {
		return nil, fmt.Errorf("texture %dx%d: %w", width, height, gpu.ErrInvalidSize)
	}
	return &Texture{width: width, height: height, pix: make([]byte, width*height*4)}, nil
}

// Size implements gpu.Texture.
func (t *Texture) Size() (int, int) { return t.width, t.height }

// Map implements gpu.Texture. The rows are written in place.
func (t *Texture) Map() ([]byte, int, error) { return t.pix, t.width * 4, nil }

// Unmap implements gpu.Texture.
func (t *Texture) Unmap() {}

// Upload implements gpu.Texture.
func (t *Texture) Upload(bgra []byte, stride int) error {
	row := t.width * 4
	if stride < row || len(bgra) < (t.height-1)*stride+row {
		return gpu.ErrShortBuffer
	}
	for y := 0; y < t.height; y++ {
		copy(t.pix[y*row:(y+1)*row], bgra[y*stride:])
	}
	return nil
}

// Release implements gpu.Texture.
func (t *Texture) Release() { t.pix = nil }

// sample fetches a bilinear, edge-clamped texel at normalized (u, v) and
// returns it premultiplied as RGBA in 0..1.
func (t *Texture) sample(u, v float32) [4]float32 {
	if len(t.pix) == 0 {
		return [4]float32{}
	}
	x := u*float32(t.width) - 0.5
	y := v*float32(t.height) - 0.5
	x0, y0 := floor(x), floor(y)
	fx, fy := x-float32(x0), y-float32(y0)

	c00 := t.texel(x0, y0)
	c10 := t.texel(x0+1, y0)
	c01 := t.texel(x0, y0+1)
	c11 := t.texel(x0+1, y0+1)

	var out [4]float32
	for k := 0; k < 4; k++ {
		top := c00[k] + (c10[k]-c00[k])*fx
		bot := c01[k] + (c11[k]-c01[k])*fx
		out[k] = top + (bot-top)*fy
	}
	return out
}

// texel returns the premultiplied RGBA value of a clamped texel.
func (t *Texture) texel(x, y int) [4]float32 {
	x = max(0, min(x, t.width-1))
	y = max(0, min(y, t.height-1))
	p := t.pix[(y*t.width+x)*4:]
	a := float32(p[3]) / 255
	return [4]float32{
		float32(p[2]) / 255 * a,
		float32(p[1]) / 255 * a,
		float32(p[0]) / 255 * a,
		a,
	}
}

func floor(v float32) int {
	i := int(v)
	if v < 0 && float32(i) != v {
		i--
	}
	return i
}
