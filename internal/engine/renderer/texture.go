package renderer

import (
	"fmt"

	"github.com/go-gl/gl/v4.1-core/gl"

	"github.com/Faultbox/daro-engine/internal/engine/gpu"
)

// Texture is a GL texture with a system-memory staging copy for Map.
type Texture struct {
	dev           *Device
	id            uint32
	width, height int
	staging       []byte
}

// CreateTexture implements gpu.Device.
func (d *Device) CreateTexture(width, height int) (gpu.Texture, error) {
	if d.Lost() {
		return nil, gpu.ErrDeviceLost
	}
	if !gpu.ValidSize(width, height) {
		return nil, fmt.Errorf("texture %dx%d: %w", width, height, gpu.ErrInvalidSize)
	}
	var (
		t   *Texture
		err error
	)
	d.thread.do(func() { t, err = d.newTexture(width, height, gl.LINEAR) })
	return t, err
}

// newTexture must run on the GL thread.
func (d *Device) newTexture(width, height int, filter int32) (*Texture, error) {
	t := &Texture{dev: d, width: width, height: height}
	gl.GenTextures(1, &t.id)
	gl.BindTexture(gl.TEXTURE_2D, t.id)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, int32(width), int32(height), 0, gl.BGRA, gl.UNSIGNED_BYTE, nil)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, filter)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, filter)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	d.cache.texture = t.id
	if err := d.checkError(); err != nil {
		gl.DeleteTextures(1, &t.id)
		return nil, err
	}
	return t, nil
}

// Size implements gpu.Texture.
func (t *Texture) Size() (int, int) { return t.width, t.height }

// Map implements gpu.Texture. Writes land in a staging buffer that Unmap
// uploads.
func (t *Texture) Map() ([]byte, int, error) {
	if t.staging == nil {
		t.staging = make([]byte, t.width*t.height*4)
	}
	return t.staging, t.width * 4, nil
}

// Unmap implements gpu.Texture.
func (t *Texture) Unmap() {
	if t.staging != nil {
		_ = t.Upload(t.staging, t.width*4)
	}
}

// Upload implements gpu.Texture.
func (t *Texture) Upload(bgra []byte, stride int) error {
	if stride < t.width*4 || stride%4 != 0 || len(bgra) < (t.height-1)*stride+t.width*4 {
		return gpu.ErrShortBuffer
	}
	var err error
	t.dev.thread.do(func() {
		gl.BindTexture(gl.TEXTURE_2D, t.id)
		t.dev.cache.texture = t.id
		gl.PixelStorei(gl.UNPACK_ROW_LENGTH, int32(stride/4))
		gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, int32(t.width), int32(t.height), gl.BGRA, gl.UNSIGNED_BYTE, gl.Ptr(bgra))
		gl.PixelStorei(gl.UNPACK_ROW_LENGTH, 0)
		err = t.dev.checkError()
	})
	return err
}

// Release implements gpu.Texture.
func (t *Texture) Release() {
	if t.id == 0 || t.dev.thread == nil {
		return
	}
	t.dev.thread.do(t.release)
}

func (t *Texture) release() {
	if t.id != 0 {
		if t.dev.cache.texture == t.id {
			t.dev.cache.texture = 0
		}
		gl.DeleteTextures(1, &t.id)
		t.id = 0
	}
	t.staging = nil
}
