// Package framebuffer provides the offscreen render target of the OpenGL
// device: an RGBA8 color texture plus a combined depth/stencil buffer.
package framebuffer

import (
	"fmt"

	"github.com/go-gl/gl/v4.1-core/gl"
)

// Framebuffer manages an offscreen render target with color and stencil attachments.
type Framebuffer struct {
	fbo          uint32
	colorTexture uint32
	stencilRBO   uint32
	width        int32
	height       int32
}

// New creates a new framebuffer with the specified dimensions.
func New(width, height int32) (*Framebuffer, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("creating framebuffer: invalid size %dx%d", width, height)
	}

	fb := &Framebuffer{
		width:  width,
		height: height,
	}

	if err := fb.create(); err != nil {
		return nil, fmt.Errorf("creating framebuffer: %w", err)
	}

	return fb, nil
}

func (fb *Framebuffer) create() error {
	gl.GenFramebuffers(1, &fb.fbo)
	gl.BindFramebuffer(gl.FRAMEBUFFER, fb.fbo)

	gl.GenTextures(1, &fb.colorTexture)
	gl.BindTexture(gl.TEXTURE_2D, fb.colorTexture)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, fb.width, fb.height, 0, gl.RGBA, gl.UNSIGNED_BYTE, nil)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.NEAREST)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, fb.colorTexture, 0)

	gl.GenRenderbuffers(1, &fb.stencilRBO)
	gl.BindRenderbuffer(gl.RENDERBUFFER, fb.stencilRBO)
	gl.RenderbufferStorage(gl.RENDERBUFFER, gl.DEPTH24_STENCIL8, fb.width, fb.height)
	gl.FramebufferRenderbuffer(gl.FRAMEBUFFER, gl.DEPTH_STENCIL_ATTACHMENT, gl.RENDERBUFFER, fb.stencilRBO)

	status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER)
	if status != gl.FRAMEBUFFER_COMPLETE {
		fb.Destroy()
		return fmt.Errorf("framebuffer incomplete: 0x%x", status)
	}
	return nil
}

// Bind makes this framebuffer the current render target.
func (fb *Framebuffer) Bind() {
	gl.BindFramebuffer(gl.FRAMEBUFFER, fb.fbo)
	gl.Viewport(0, 0, fb.width, fb.height)
}

// Clear clears color to a premultiplied value and the stencil to 0.
func (fb *Framebuffer) Clear(r, g, b, a float32) {
	gl.ColorMask(true, true, true, true)
	gl.StencilMask(0xFF)
	gl.ClearColor(r, g, b, a)
	gl.ClearStencil(0)
	gl.Clear(gl.COLOR_BUFFER_BIT | gl.STENCIL_BUFFER_BIT)
}

// ClearStencil resets the stencil plane to 0.
func (fb *Framebuffer) ClearStencil() {
	gl.StencilMask(0xFF)
	gl.ClearStencil(0)
	gl.Clear(gl.STENCIL_BUFFER_BIT)
}

// Size returns the framebuffer dimensions.
func (fb *Framebuffer) Size() (width, height int32) {
	return fb.width, fb.height
}

// ReadPixels reads the color attachment into dst as BGRA with the top row
// first (OpenGL has its origin at the bottom-left). row is scratch space of
// at least one row.
func (fb *Framebuffer) ReadPixels(dst, row []byte) {
	stride := int(fb.width) * 4
	gl.BindFramebuffer(gl.FRAMEBUFFER, fb.fbo)
	gl.PixelStorei(gl.PACK_ALIGNMENT, 4)
	gl.ReadPixels(0, 0, fb.width, fb.height, gl.BGRA, gl.UNSIGNED_BYTE, gl.Ptr(dst))

	h := int(fb.height)
	for y := 0; y < h/2; y++ {
		top := dst[y*stride : (y+1)*stride]
		bot := dst[(h-1-y)*stride : (h-y)*stride]
		copy(row, top)
		copy(top, bot)
		copy(bot, row)
	}
}

// Destroy releases all OpenGL resources.
func (fb *Framebuffer) Destroy() {
	if fb.fbo != 0 {
		gl.DeleteFramebuffers(1, &fb.fbo)
		fb.fbo = 0
	}
	if fb.colorTexture != 0 {
		gl.DeleteTextures(1, &fb.colorTexture)
		fb.colorTexture = 0
	}
	if fb.stencilRBO != 0 {
		gl.DeleteRenderbuffers(1, &fb.stencilRBO)
		fb.stencilRBO = 0
	}
}
