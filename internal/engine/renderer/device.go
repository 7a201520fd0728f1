// Package renderer implements gpu.Device on OpenGL 4.1 core.
//
// The context lives on a hidden SDL2 window. Rendering goes to an offscreen
// framebuffer with a stencil attachment and is read back as BGRA.
package renderer

import (
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"unsafe"

	"github.com/go-gl/gl/v4.1-core/gl"
	"go.uber.org/zap"

	"github.com/Faultbox/daro-engine/internal/engine/framebuffer"
	"github.com/Faultbox/daro-engine/internal/engine/gpu"
	"github.com/Faultbox/daro-engine/internal/engine/shader"
	"github.com/Faultbox/daro-engine/internal/engine/window"
	"github.com/Faultbox/daro-engine/pkg/math"
)

// glContextLost is GL_CONTEXT_LOST from KHR_robustness, absent from the
// 4.1 bindings.
const glContextLost = 0x0507

// Init failures, mapped to engine error codes by the caller.
var (
	ErrContext  = errors.New("renderer: create context")
	ErrTarget   = errors.New("renderer: create render target")
	ErrShaders  = errors.New("renderer: create shaders")
	ErrGeometry = errors.New("renderer: create geometry")
)

// Config holds device configuration.
type Config struct {
	Width  int
	Height int
	// Visible shows the context window, for debugging only.
	Visible bool
}

// Device is an OpenGL render target. Its methods may be called from any
// goroutine; they are executed on the device's GL thread.
type Device struct {
	cfg    Config
	log    *zap.Logger
	thread *glThread

	win     *window.Window
	fb      *framebuffer.Framebuffer
	prog    *shader.Layer
	vao     uint32
	vbo     uint32
	ebo     uint32
	overlay *Texture
	rowTmp  []byte

	cache stateCache
	lost  atomic.Bool
}

// stateCache remembers bound pipeline state so redundant GL calls are skipped.
type stateCache struct {
	valid   bool
	stencil gpu.StencilMode
	texture uint32
	texMode int32
	shape   int32
}

// reset forgets everything; the next draw rebinds all state.
func (c *stateCache) reset() {
	*c = stateCache{texMode: -1, shape: -1}
}

// New creates the context, render target, layer program and quad geometry.
// Errors wrap one of ErrContext, ErrTarget, ErrShaders or ErrGeometry.
func New(cfg Config, log *zap.Logger) (*Device, error) {
	if !gpu.ValidSize(cfg.Width, cfg.Height) {
		return nil, fmt.Errorf("%w: %dx%d: %w", ErrTarget, cfg.Width, cfg.Height, gpu.ErrInvalidSize)
	}
	d := &Device{
		cfg:    cfg,
		log:    log,
		thread: startThread(),
		rowTmp: make([]byte, cfg.Width*4),
	}

	var err error
	d.thread.do(func() { err = d.init() })
	if err != nil {
		d.thread.do(d.release)
		d.thread.stop()
		return nil, err
	}
	return d, nil
}

func (d *Device) init() error {
	var err error
	d.win, err = window.New(window.Config{Title: "daro", Visible: d.cfg.Visible}, d.log)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrContext, err)
	}
	if err := gl.Init(); err != nil {
		return fmt.Errorf("%w: failed to initialize OpenGL: %w", ErrContext, err)
	}
	d.log.Info("OpenGL initialized",
		zap.String("version", gl.GoStr(gl.GetString(gl.VERSION))),
		zap.String("renderer", gl.GoStr(gl.GetString(gl.RENDERER))),
	)

	d.fb, err = framebuffer.New(int32(d.cfg.Width), int32(d.cfg.Height))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTarget, err)
	}
	d.prog, err = shader.NewLayer()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrShaders, err)
	}
	if err := d.createQuad(); err != nil {
		return fmt.Errorf("%w: %w", ErrGeometry, err)
	}
	d.overlay, err = d.newTexture(d.cfg.Width, d.cfg.Height, gl.NEAREST)
	if err != nil {
		return fmt.Errorf("%w: overlay: %w", ErrTarget, err)
	}

	gl.Disable(gl.DEPTH_TEST)
	gl.Disable(gl.CULL_FACE)
	gl.Enable(gl.BLEND)
	gl.BlendFunc(gl.ONE, gl.ONE_MINUS_SRC_ALPHA)
	d.fb.Bind()
	gl.UseProgram(d.prog.Program)
	gl.Uniform1i(d.prog.Texture, 0)
	gl.BindVertexArray(d.vao)
	d.cache.reset()
	return nil
}

func (d *Device) createQuad() error {
	gl.GenVertexArrays(1, &d.vao)
	gl.BindVertexArray(d.vao)

	gl.GenBuffers(1, &d.vbo)
	gl.BindBuffer(gl.ARRAY_BUFFER, d.vbo)
	gl.BufferData(gl.ARRAY_BUFFER, len(gpu.QuadVertices)*4, unsafe.Pointer(&gpu.QuadVertices[0]), gl.STATIC_DRAW)

	gl.GenBuffers(1, &d.ebo)
	gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, d.ebo)
	gl.BufferData(gl.ELEMENT_ARRAY_BUFFER, len(gpu.QuadIndices)*2, unsafe.Pointer(&gpu.QuadIndices[0]), gl.STATIC_DRAW)

	// Position (location = 0), uv (location = 1).
	gl.VertexAttribPointerWithOffset(0, 2, gl.FLOAT, false, 4*4, 0)
	gl.EnableVertexAttribArray(0)
	gl.VertexAttribPointerWithOffset(1, 2, gl.FLOAT, false, 4*4, 2*4)
	gl.EnableVertexAttribArray(1)

	if e := gl.GetError(); e != gl.NO_ERROR {
		return fmt.Errorf("quad buffers: GL error 0x%x", e)
	}
	return nil
}

// release frees whatever init managed to create.
func (d *Device) release() {
	if d.overlay != nil {
		d.overlay.release()
	}
	if d.vao != 0 {
		gl.DeleteVertexArrays(1, &d.vao)
	}
	if d.vbo != 0 {
		gl.DeleteBuffers(1, &d.vbo)
	}
	if d.ebo != 0 {
		gl.DeleteBuffers(1, &d.ebo)
	}
	if d.prog != nil {
		d.prog.Delete()
	}
	if d.fb != nil {
		d.fb.Destroy()
	}
	if d.win != nil {
		d.win.Close()
	}
}

// Name implements gpu.Device.
func (d *Device) Name() string { return "opengl" }

// Size implements gpu.Device.
func (d *Device) Size() (int, int) { return d.cfg.Width, d.cfg.Height }

// Begin implements gpu.Device.
func (d *Device) Begin() {
	d.thread.do(func() {
		d.cache.reset()
		d.fb.Bind()
		gl.UseProgram(d.prog.Program)
		gl.BindVertexArray(d.vao)
		gl.Enable(gl.BLEND)
		gl.BlendFunc(gl.ONE, gl.ONE_MINUS_SRC_ALPHA)
		d.applyStencil(gpu.StencilOff)
	})
}

// Clear implements gpu.Device.
func (d *Device) Clear(r, g, b, a float32) {
	d.thread.do(func() {
		d.fb.Clear(r, g, b, a)
		d.cache.valid = false
		d.applyStencil(d.cache.stencil)
	})
}

// ClearStencil implements gpu.Device.
func (d *Device) ClearStencil() {
	d.thread.do(func() {
		d.fb.ClearStencil()
		d.cache.valid = false
		d.applyStencil(d.cache.stencil)
	})
}

// SetStencil implements gpu.Device.
func (d *Device) SetStencil(mode gpu.StencilMode) {
	d.thread.do(func() { d.applyStencil(mode) })
}

func (d *Device) applyStencil(mode gpu.StencilMode) {
	if d.cache.valid && d.cache.stencil == mode {
		return
	}
	switch mode {
	case gpu.StencilOff:
		gl.Disable(gl.STENCIL_TEST)
		gl.ColorMask(true, true, true, true)
	case gpu.StencilWrite:
		gl.Enable(gl.STENCIL_TEST)
		gl.StencilMask(0xFF)
		gl.StencilFunc(gl.ALWAYS, 1, 0xFF)
		gl.StencilOp(gl.KEEP, gl.KEEP, gl.REPLACE)
		gl.ColorMask(false, false, false, false)
	case gpu.StencilInner, gpu.StencilOuter:
		fn := uint32(gl.EQUAL)
		if mode == gpu.StencilOuter {
			fn = gl.NOTEQUAL
		}
		gl.Enable(gl.STENCIL_TEST)
		gl.StencilMask(0x00)
		gl.StencilFunc(fn, 1, 0xFF)
		gl.StencilOp(gl.KEEP, gl.KEEP, gl.KEEP)
		gl.ColorMask(true, true, true, true)
	}
	d.cache.stencil = mode
	d.cache.valid = true
}

// DrawQuad implements gpu.Device.
func (d *Device) DrawQuad(q *gpu.Quad) error {
	if d.Lost() {
		return gpu.ErrDeviceLost
	}
	var tex *Texture
	if q.Texture != nil {
		t, ok := q.Texture.(*Texture)
		if !ok {
			return fmt.Errorf("opengl device: foreign texture %T", q.Texture)
		}
		tex = t
	}
	var err error
	d.thread.do(func() {
		mode := int32(shader.TexNone)
		if tex != nil {
			mode = shader.TexStraight
		}
		d.draw(q.Transform, q.Color, tex, mode, q.Region.Resolve(), q.Shape, q.EdgeSmooth)
		err = d.checkError()
	})
	return err
}

func (d *Device) draw(m math.Mat4, color [4]float32, tex *Texture, texMode int32, region gpu.TexRegion, shape gpu.Shape, smooth float32) {
	p := d.prog
	gl.UniformMatrix4fv(p.WVP, 1, false, m.Ptr())
	gl.Uniform4f(p.Color, color[0], color[1], color[2], color[3])
	if d.cache.texMode != texMode {
		gl.Uniform1i(p.TexMode, texMode)
		d.cache.texMode = texMode
	}
	if tex != nil && d.cache.texture != tex.id {
		gl.ActiveTexture(gl.TEXTURE0)
		gl.BindTexture(gl.TEXTURE_2D, tex.id)
		d.cache.texture = tex.id
	}
	gl.Uniform4f(p.Region, region.X, region.Y, region.W, region.H)
	gl.Uniform1f(p.RegionRot, region.Rot)
	if s := int32(shape); d.cache.shape != s {
		gl.Uniform1i(p.Shape, s)
		d.cache.shape = s
	}
	gl.Uniform1f(p.EdgeSmooth, smooth)
	gl.DrawElementsWithOffset(gl.TRIANGLES, int32(len(gpu.QuadIndices)), gl.UNSIGNED_SHORT, 0)
}

// BlendOverlay implements gpu.Device by uploading the premultiplied pixels
// into the overlay texture and drawing them pixel-aligned.
func (d *Device) BlendOverlay(pix []byte, stride int, rect image.Rectangle) error {
	if d.Lost() {
		return gpu.ErrDeviceLost
	}
	rect = rect.Intersect(image.Rect(0, 0, d.cfg.Width, d.cfg.Height))
	if rect.Empty() {
		return nil
	}
	if need := (rect.Dy()-1)*stride + rect.Dx()*4; len(pix) < need {
		return gpu.ErrShortBuffer
	}
	fw, fh := float32(d.cfg.Width), float32(d.cfg.Height)
	w, h := float32(rect.Dx()), float32(rect.Dy())
	place := math.Placement{
		PosX: float32(rect.Min.X) + w/2, PosY: float32(rect.Min.Y) + h/2,
		Width: w, Height: h, AnchorX: 0.5, AnchorY: 0.5,
	}
	region := gpu.TexRegion{W: w / fw, H: h / fh}

	var err error
	d.thread.do(func() {
		gl.BindTexture(gl.TEXTURE_2D, d.overlay.id)
		gl.PixelStorei(gl.UNPACK_ROW_LENGTH, int32(stride/4))
		gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, int32(rect.Dx()), int32(rect.Dy()), gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(pix))
		gl.PixelStorei(gl.UNPACK_ROW_LENGTH, 0)
		d.cache.texture = d.overlay.id
		d.draw(place.WorldViewProj(fw, fh), [4]float32{1, 1, 1, 1}, d.overlay, shader.TexPremul, region, gpu.ShapeRect, 0)
		err = d.checkError()
	})
	return err
}

// ReadPixels implements gpu.Device.
func (d *Device) ReadPixels(dst []byte) (int, error) {
	if d.Lost() {
		return 0, gpu.ErrDeviceLost
	}
	stride := d.cfg.Width * 4
	if len(dst) < stride*d.cfg.Height {
		return 0, gpu.ErrShortBuffer
	}
	var err error
	d.thread.do(func() {
		d.fb.ReadPixels(dst, d.rowTmp)
		d.fb.Bind()
		err = d.checkError()
	})
	return stride, err
}

// checkError drains the GL error queue and flags the device as lost when
// the context or its memory is gone.
func (d *Device) checkError() error {
	var first uint32
	for e := gl.GetError(); e != gl.NO_ERROR; e = gl.GetError() {
		if first == 0 {
			first = e
		}
		if e == glContextLost || e == gl.OUT_OF_MEMORY {
			if !d.lost.Swap(true) {
				d.log.Error("OpenGL device lost", zap.Uint32("error", e))
			}
			return gpu.ErrDeviceLost
		}
	}
	if first != 0 {
		return fmt.Errorf("opengl: error 0x%x", first)
	}
	return nil
}

// Lost implements gpu.Device.
func (d *Device) Lost() bool { return d.lost.Load() }

// Close implements gpu.Device.
func (d *Device) Close() error {
	if d.thread == nil {
		return nil
	}
	d.thread.do(d.release)
	d.thread.stop()
	d.thread = nil
	d.log.Info("closing renderer")
	return nil
}

var _ gpu.Device = (*Device)(nil)
