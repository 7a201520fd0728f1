package overlay

import (
	"image"

	"golang.org/x/image/vector"
)

// ClipShape is the geometry of a clip.
type ClipShape int

// Clip shapes.
const (
	ClipRect ClipShape = iota
	ClipEllipse
)

// Clip restricts drawing to the inside (or, when Outer is set, the outside)
// of an axis-aligned rectangle or ellipse centered on (CX, CY).
type Clip struct {
	Shape  ClipShape
	CX, CY float32
	W, H   float32
	Outer  bool
}

// kappa places cubic control points for a quarter ellipse.
const kappa = 0.5522847498307936

// Coverage rasterizes the clip into an alpha mask of the given size.
// Outer clips trace the full frame and then the shape with opposite
// winding, leaving a hole under the nonzero rule.
func (c Clip) Coverage(width, height int) *image.Alpha {
	z := vector.NewRasterizer(width, height)
	if c.Outer {
		fw, fh := float32(width), float32(height)
		z.MoveTo(0, 0)
		z.LineTo(fw, 0)
		z.LineTo(fw, fh)
		z.LineTo(0, fh)
		z.ClosePath()
	}
	c.trace(z, c.Outer)

	dst := image.NewAlpha(image.Rect(0, 0, width, height))
	z.Draw(dst, dst.Bounds(), image.Opaque, image.Point{})
	return dst
}

// trace adds the shape clockwise in screen space, or counter-clockwise when
// reverse is set.
func (c Clip) trace(z *vector.Rasterizer, reverse bool) {
	rx, ry := c.W/2, c.H/2
	l, t, r, b := c.CX-rx, c.CY-ry, c.CX+rx, c.CY+ry

	if c.Shape == ClipRect {
		if reverse {
			z.MoveTo(l, t)
			z.LineTo(l, b)
			z.LineTo(r, b)
			z.LineTo(r, t)
		} else {
			z.MoveTo(l, t)
			z.LineTo(r, t)
			z.LineTo(r, b)
			z.LineTo(l, b)
		}
		z.ClosePath()
		return
	}

	ox, oy := rx*kappa, ry*kappa
	cx, cy := c.CX, c.CY
	z.MoveTo(r, cy)
	if reverse {
		z.CubeTo(r, cy-oy, cx+ox, t, cx, t)
		z.CubeTo(cx-ox, t, l, cy-oy, l, cy)
		z.CubeTo(l, cy+oy, cx-ox, b, cx, b)
		z.CubeTo(cx+ox, b, r, cy+oy, r, cy)
	} else {
		z.CubeTo(r, cy+oy, cx+ox, b, cx, b)
		z.CubeTo(cx-ox, b, l, cy+oy, l, cy)
		z.CubeTo(l, cy-oy, cx-ox, t, cx, t)
		z.CubeTo(cx+ox, t, r, cy-oy, r, cy)
	}
	z.ClosePath()
}

// PushClip intersects the active clip with c until the matching PopClip.
func (s *Surface) PushClip(c Clip) {
	m := c.Coverage(s.width, s.height)
	if top := s.clip(); top != nil {
		for i, v := range top.Pix {
			m.Pix[i] = byte(uint32(m.Pix[i]) * uint32(v) / 255)
		}
	}
	s.clips = append(s.clips, m)
}

// PopClip removes the most recent clip.
func (s *Surface) PopClip() {
	if n := len(s.clips); n > 0 {
		s.clips[n-1] = nil
		s.clips = s.clips[:n-1]
	}
}

func (s *Surface) clip() *image.Alpha {
	if n := len(s.clips); n > 0 {
		return s.clips[n-1]
	}
	return nil
}
