// Package overlay draws vector shapes and text over the GPU target.
//
// Shapes are rasterized by gg into a straight-alpha pixmap, text into a
// coverage plane. Each draw converts its dirty rectangle to premultiplied
// RGBA, applies the active clip and hands it to the device, so the device's
// stencil state applies to overlay content as well.
package overlay

import (
	"errors"
	"image"
	gomath "math"

	"github.com/gogpu/gg"
	"go.uber.org/zap"

	"github.com/Faultbox/daro-engine/internal/engine/gpu"
)

// ErrRecreateTarget is returned by draws after the surface was invalidated
// or the device size changed. The caller must call Recreate.
var ErrRecreateTarget = errors.New("overlay: render target must be recreated")

// Recoverable is implemented by targets that can rebuild themselves in place.
type Recoverable interface {
	Recreate() error
}

// Surface is the 2D drawing layer of one device.
type Surface struct {
	dev  gpu.Device
	log  *zap.Logger
	book *FontBook

	width, height int
	pm            *gg.Pixmap
	dc            *gg.Context
	cov           *image.Alpha // text coverage
	out           []byte       // premultiplied RGBA staging

	clips   []*image.Alpha
	text    textState
	invalid bool
}

// New creates a surface matching the device size.
func New(dev gpu.Device, book *FontBook, log *zap.Logger) (*Surface, error) {
	s := &Surface{dev: dev, book: book, log: log}
	s.text.init()
	if err := s.Recreate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Recreate reallocates the drawing buffers at the current device size. The
// text format cache is dropped and the clip stack emptied.
func (s *Surface) Recreate() error {
	w, h := s.dev.Size()
	if !gpu.ValidSize(w, h) {
		return gpu.ErrInvalidSize
	}
	if s.dc != nil {
		_ = s.dc.Close()
	}
	s.width, s.height = w, h
	s.pm = gg.NewPixmap(w, h)
	s.dc = gg.NewContext(w, h, gg.WithPixmap(s.pm))
	s.cov = image.NewAlpha(image.Rect(0, 0, w, h))
	s.out = make([]byte, w*h*4)
	s.clips = s.clips[:0]
	s.text.invalidate()
	s.invalid = false
	s.log.Debug("overlay target created", zap.Int("width", w), zap.Int("height", h))
	return nil
}

// Invalidate marks the surface unusable until Recreate is called.
func (s *Surface) Invalidate() { s.invalid = true }

// Close releases the drawing context.
func (s *Surface) Close() {
	if s.dc != nil {
		_ = s.dc.Close()
		s.dc = nil
	}
}

func (s *Surface) check() error {
	if s.invalid || s.dc == nil {
		return ErrRecreateTarget
	}
	if w, h := s.dev.Size(); w != s.width || h != s.height {
		return ErrRecreateTarget
	}
	return nil
}

// FillEllipse fills an axis-aligned ellipse. c is straight RGBA.
func (s *Surface) FillEllipse(cx, cy, rx, ry float64, c [4]float32) error {
	if err := s.check(); err != nil {
		return err
	}
	if rx <= 0 || ry <= 0 || c[3] <= 0 {
		return nil
	}
	s.setColor(c)
	s.dc.DrawEllipse(cx, cy, rx, ry)
	if err := s.dc.Fill(); err != nil {
		return err
	}
	return s.flushShape(s.dirty(cx-rx, cy-ry, cx+rx, cy+ry, 1))
}

// StrokeRect outlines a rectangle with the given line width.
func (s *Surface) StrokeRect(x, y, w, h, lineWidth float64, c [4]float32) error {
	if err := s.check(); err != nil {
		return err
	}
	s.setColor(c)
	s.dc.SetLineWidth(lineWidth)
	s.dc.DrawRectangle(x, y, w, h)
	if err := s.dc.Stroke(); err != nil {
		return err
	}
	return s.flushShape(s.dirty(x, y, x+w, y+h, lineWidth))
}

// Line draws a straight segment.
func (s *Surface) Line(x1, y1, x2, y2, lineWidth float64, c [4]float32) error {
	if err := s.check(); err != nil {
		return err
	}
	s.setColor(c)
	s.dc.SetLineWidth(lineWidth)
	s.dc.DrawLine(x1, y1, x2, y2)
	if err := s.dc.Stroke(); err != nil {
		return err
	}
	return s.flushShape(s.dirty(min(x1, x2), min(y1, y2), max(x1, x2), max(y1, y2), lineWidth))
}

func (s *Surface) setColor(c [4]float32) {
	s.dc.SetRGBA(float64(c[0]), float64(c[1]), float64(c[2]), float64(c[3]))
}

// dirty returns the pixel box of a shape's bounds grown by pad, clipped to
// the surface.
func (s *Surface) dirty(x0, y0, x1, y1, pad float64) image.Rectangle {
	pad += 1
	r := image.Rect(
		int(gomath.Floor(x0-pad)), int(gomath.Floor(y0-pad)),
		int(gomath.Ceil(x1+pad)), int(gomath.Ceil(y1+pad)),
	)
	return r.Intersect(image.Rect(0, 0, s.width, s.height))
}

// flushShape premultiplies the pixmap region, applies the clip, blends it
// onto the device and clears the region.
func (s *Surface) flushShape(r image.Rectangle) error {
	if r.Empty() {
		return nil
	}
	src := s.pm.Data()
	clip := s.clip()
	stride := s.width * 4
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			o := y*stride + x*4
			p := src[o : o+4]
			a := uint32(p[3])
			if clip != nil {
				a = a * uint32(clip.Pix[y*clip.Stride+x]) / 255
			}
			d := s.out[o : o+4]
			d[0] = byte((uint32(p[0])*a + 127) / 255)
			d[1] = byte((uint32(p[1])*a + 127) / 255)
			d[2] = byte((uint32(p[2])*a + 127) / 255)
			d[3] = byte(a)
			p[0], p[1], p[2], p[3] = 0, 0, 0, 0
		}
	}
	return s.blend(r)
}

func (s *Surface) blend(r image.Rectangle) error {
	stride := s.width * 4
	off := r.Min.Y*stride + r.Min.X*4
	err := s.dev.BlendOverlay(s.out[off:], stride, r)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		clear(s.out[y*stride+r.Min.X*4 : y*stride+r.Max.X*4])
	}
	return err
}
