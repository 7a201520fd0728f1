// Package compositor turns a frame's layer records into one image on a
// gpu.Device.
//
// Layers are drawn in array order. Quads (rectangles, images, video and
// Spout sources) go straight to the device; circles, text and the debug
// bounds go through the 2D overlay. Masks gate their targets through the
// stencil plane, except for text, which is clipped geometrically.
package compositor

import (
	"errors"

	"go.uber.org/zap"

	"github.com/Faultbox/daro-engine/internal/engine/gpu"
	"github.com/Faultbox/daro-engine/internal/engine/overlay"
	"github.com/Faultbox/daro-engine/pkg/layer"
	"github.com/Faultbox/daro-engine/pkg/math"
)

// Edge smoothing limits, in pixels.
const (
	DefaultEdgeSmoothing = 1.0
	MaxEdgeSmoothing     = 10.0
)

var (
	boundsColor = [4]float32{0, 1, 0, 0.8}
	anchorColor = [4]float32{1, 0, 0, 1}
)

const (
	boundsWidth = 2
	anchorSize  = 8
)

// Sources resolves the texture handles carried by layer records. A nil
// return means the source is not available this frame.
type Sources interface {
	ImageTexture(id int32) gpu.Texture
	VideoTexture(id int32) gpu.Texture
	SpoutTexture(id int32) gpu.Texture
}

// Compositor draws layers onto a device.
type Compositor struct {
	dev gpu.Device
	ov  *overlay.Surface
	src Sources
	log *zap.Logger

	edgeSmooth float32
	showBounds bool

	drawn int
}

// New creates a compositor. src may be nil when no textured sources exist.
func New(dev gpu.Device, ov *overlay.Surface, src Sources, log *zap.Logger) *Compositor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Compositor{
		dev:        dev,
		ov:         ov,
		src:        src,
		log:        log,
		edgeSmooth: DefaultEdgeSmoothing,
	}
}

// SetEdgeSmoothing sets the quad edge falloff, clamped to [0, MaxEdgeSmoothing].
func (c *Compositor) SetEdgeSmoothing(px float32) {
	c.edgeSmooth = min(max(px, 0), MaxEdgeSmoothing)
}

// EdgeSmoothing returns the current quad edge falloff.
func (c *Compositor) EdgeSmoothing() float32 { return c.edgeSmooth }

// SetShowBounds toggles the bounds and mask preview.
func (c *Compositor) SetShowBounds(on bool) { c.showBounds = on }

// Drawn returns the number of layers drawn by the last Render.
func (c *Compositor) Drawn() int { return c.drawn }

// BuildMaskMap maps each masked layer id to the index of the mask gating it.
// When several masks name the same target the first one in array order wins.
func BuildMaskMap(layers []layer.Layer) map[int32]int {
	m := make(map[int32]int)
	for i := range layers {
		l := &layers[i]
		if !l.IsMask() {
			continue
		}
		ids := l.MaskedLayers
		if len(ids) > layer.MaxLayers {
			ids = ids[:layer.MaxLayers]
		}
		for _, id := range ids {
			if id < 0 || id == l.ID {
				continue
			}
			if _, taken := m[id]; !taken {
				m[id] = i
			}
		}
	}
	return m
}

// Render clears the target and composites layers onto it. It returns
// gpu.ErrDeviceLost once the device is gone; any other per-layer failure is
// logged and the layer skipped.
func (c *Compositor) Render(layers []layer.Layer) error {
	c.drawn = 0
	if c.dev.Lost() {
		return gpu.ErrDeviceLost
	}
	c.dev.Begin()
	c.dev.Clear(0, 0, 0, 0)

	masks := BuildMaskMap(layers)
	for i := range layers {
		l := &layers[i]
		if !l.Active || l.Kind == layer.KindGroup {
			continue
		}
		if l.IsMask() || l.Kind == layer.KindMask {
			if c.showBounds {
				if err := c.check(l, c.previewMask(l)); err != nil {
					return err
				}
			}
			continue
		}

		var mask *layer.Layer
		if idx, ok := masks[l.ID]; ok {
			mask = &layers[idx]
		}
		if err := c.check(l, c.renderLayer(l, mask)); err != nil {
			return err
		}
		c.drawn++

		if c.showBounds {
			if err := c.check(l, c.drawBounds(l)); err != nil {
				return err
			}
		}
	}

	if c.dev.Lost() {
		return gpu.ErrDeviceLost
	}
	return nil
}

// check sorts a layer's draw error into abort, recover or skip.
func (c *Compositor) check(l *layer.Layer, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gpu.ErrDeviceLost):
		c.log.Warn("device lost during frame", zap.Int32("layer", l.ID))
		return gpu.ErrDeviceLost
	case errors.Is(err, overlay.ErrRecreateTarget):
		c.log.Debug("overlay target lost, recreating", zap.Int32("layer", l.ID))
		if rerr := c.ov.Recreate(); rerr != nil {
			c.log.Warn("overlay recreate failed", zap.Error(rerr))
		}
		return nil
	default:
		c.log.Debug("layer skipped",
			zap.Int32("layer", l.ID),
			zap.Stringer("kind", l.Kind),
			zap.Error(err))
		return nil
	}
}

func (c *Compositor) renderLayer(l, mask *layer.Layer) error {
	if l.Kind == layer.KindText {
		return c.renderText(l, mask)
	}
	if mask == nil {
		return c.draw(l)
	}

	c.dev.ClearStencil()
	c.dev.SetStencil(gpu.StencilWrite)
	err := c.dev.DrawQuad(c.maskQuad(mask))
	if err == nil {
		if mask.MaskMode == layer.MaskOuter {
			c.dev.SetStencil(gpu.StencilOuter)
		} else {
			c.dev.SetStencil(gpu.StencilInner)
		}
		err = c.draw(l)
	}
	c.dev.SetStencil(gpu.StencilOff)
	return err
}

func (c *Compositor) draw(l *layer.Layer) error {
	if l.Kind == layer.KindCircle {
		r := float64(min(l.SizeX, l.SizeY)) * 0.5
		return c.ov.FillEllipse(float64(l.PosX), float64(l.PosY), r, r, straight(l))
	}
	return c.dev.DrawQuad(c.quad(l))
}

func (c *Compositor) renderText(l, mask *layer.Layer) error {
	if l.Text == "" {
		return nil
	}
	if mask != nil {
		clip := overlay.Clip{
			Shape: overlay.ClipRect,
			CX:    mask.PosX, CY: mask.PosY,
			W: mask.SizeX, H: mask.SizeY,
			Outer: mask.MaskMode == layer.MaskOuter,
		}
		if mask.Kind == layer.KindCircle {
			clip.Shape = overlay.ClipEllipse
		}
		c.ov.PushClip(clip)
		defer c.ov.PopClip()
	}

	left, top, w, h := l.Bounds()
	return c.ov.DrawText(l.Text, float64(left), float64(top), float64(w), float64(h), overlay.TextStyle{
		Family:        l.FontFamily,
		Size:          l.FontSize,
		Bold:          l.FontBold,
		Italic:        l.FontItalic,
		Align:         l.Alignment,
		LineHeight:    l.LineHeight,
		LetterSpacing: l.LetterSpacing,
		Sharp:         l.Antialias == layer.AntialiasSharp,
		Color:         straight(l),
	})
}

func (c *Compositor) previewMask(l *layer.Layer) error {
	q := c.maskQuad(l)
	o := l.Color[3] * l.Opacity
	q.Color = [4]float32{l.Color[0] * o, l.Color[1] * o, l.Color[2] * o, o}
	q.EdgeSmooth = c.edgeSmooth
	if err := c.dev.DrawQuad(q); err != nil {
		return err
	}
	return c.drawBounds(l)
}

func (c *Compositor) drawBounds(l *layer.Layer) error {
	left, top, w, h := l.Bounds()
	if err := c.ov.StrokeRect(float64(left), float64(top), float64(w), float64(h), boundsWidth, boundsColor); err != nil {
		return err
	}
	ax := float64(l.PosX + (l.AnchorX-0.5)*l.SizeX)
	ay := float64(l.PosY + (l.AnchorY-0.5)*l.SizeY)
	if err := c.ov.Line(ax-anchorSize, ay, ax+anchorSize, ay, boundsWidth, anchorColor); err != nil {
		return err
	}
	return c.ov.Line(ax, ay-anchorSize, ax, ay+anchorSize, boundsWidth, anchorColor)
}

// quad builds the device draw for a rectangle, image, video or Spout layer.
// A source that cannot be resolved falls back to a solid fill.
func (c *Compositor) quad(l *layer.Layer) *gpu.Quad {
	fw, fh := c.dev.Size()
	o := l.Color[3] * l.Opacity
	return &gpu.Quad{
		Transform: placement(l).WorldViewProj(float32(fw), float32(fh)),
		Color:     [4]float32{l.Color[0] * o, l.Color[1] * o, l.Color[2] * o, o},
		Texture:   c.texture(l),
		Region: gpu.TexRegion{
			X: l.TexX, Y: l.TexY, W: l.TexW, H: l.TexH,
			Rot: math.Radians(l.TexRot),
		}.Resolve(),
		EdgeSmooth: c.edgeSmooth,
	}
}

// maskQuad is the stencil footprint of a mask: its quad, or the inscribed
// ellipse for circle masks.
func (c *Compositor) maskQuad(m *layer.Layer) *gpu.Quad {
	fw, fh := c.dev.Size()
	q := &gpu.Quad{
		Transform: placement(m).WorldViewProj(float32(fw), float32(fh)),
		Color:     [4]float32{1, 1, 1, 1},
		Region:    gpu.FullRegion,
	}
	if m.Kind == layer.KindCircle {
		q.Shape = gpu.ShapeEllipse
	}
	return q
}

func (c *Compositor) texture(l *layer.Layer) gpu.Texture {
	if c.src == nil {
		return nil
	}
	var t gpu.Texture
	switch l.Source {
	case layer.SourceImage:
		if l.TextureID > 0 {
			t = c.src.ImageTexture(l.TextureID)
		}
	case layer.SourceSpout:
		if l.SpoutReceiverID > 0 {
			t = c.src.SpoutTexture(l.SpoutReceiverID)
		}
	case layer.SourceVideo:
		if l.TextureID > 0 {
			t = c.src.VideoTexture(l.TextureID)
		}
	}
	return t
}

func placement(l *layer.Layer) math.Placement {
	return math.Placement{
		PosX: l.PosX, PosY: l.PosY,
		Width: l.SizeX, Height: l.SizeY,
		AnchorX: l.AnchorX, AnchorY: l.AnchorY,
		RotX: l.RotX, RotY: l.RotY, RotZ: l.RotZ,
	}
}

// straight returns the layer color with opacity folded into alpha.
func straight(l *layer.Layer) [4]float32 {
	return [4]float32{l.Color[0], l.Color[1], l.Color[2], l.Color[3] * l.Opacity}
}
