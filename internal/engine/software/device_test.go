package software

import (
	"errors"
	"image"
	"testing"

	"github.com/Faultbox/daro-engine/internal/engine/gpu"
	"github.com/Faultbox/daro-engine/pkg/math"
)

func quadAt(x, y, w, h, frameW, frameH float32) math.Mat4 {
	p := math.Placement{PosX: x, PosY: y, Width: w, Height: h, AnchorX: 0.5, AnchorY: 0.5}
	return p.WorldViewProj(frameW, frameH)
}

func newDevice(t *testing.T, w, h int) *Device {
	t.Helper()
	d, err := New(w, h)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.Begin()
	d.Clear(0, 0, 0, 0)
	return d
}

func TestNewRejectsInvalidSize(t *testing.T) {
	if _, err := New(0, 10); !errors.Is(err, gpu.ErrInvalidSize) {
		t.Errorf("expected ErrInvalidSize, got %v", err)
	}
}

func TestDrawSolidQuad(t *testing.T) {
	d := newDevice(t, 32, 32)
	err := d.DrawQuad(&gpu.Quad{
		Transform: quadAt(16, 16, 10, 10, 32, 32),
		Color:     [4]float32{1, 0, 0, 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	if got := d.Pixel(16, 16); got != [4]byte{0, 0, 255, 255} {
		t.Errorf("center: expected opaque red BGRA, got %v", got)
	}
	if got := d.Pixel(2, 2); got != [4]byte{} {
		t.Errorf("outside: expected transparent, got %v", got)
	}
	// Quad spans pixels 11..20.
	if got := d.Pixel(11, 16); got[3] != 255 {
		t.Errorf("left edge pixel: expected covered, got %v", got)
	}
	if got := d.Pixel(21, 16); got[3] != 0 {
		t.Errorf("pixel right of quad: expected empty, got %v", got)
	}
}

func TestDrawPremultipliedBlend(t *testing.T) {
	d := newDevice(t, 8, 8)
	d.Clear(0, 0, 1, 1) // opaque blue
	_ = d.DrawQuad(&gpu.Quad{
		Transform: quadAt(4, 4, 8, 8, 8, 8),
		Color:     [4]float32{0.5, 0, 0, 0.5}, // red at half opacity, premultiplied
	})
	got := d.Pixel(4, 4)
	// out = src + dst*(1-0.5): R=0.5, B=0.5, A=1
	if got[2] < 126 || got[2] > 129 || got[0] < 126 || got[0] > 129 || got[3] != 255 {
		t.Errorf("expected half red over blue, got %v", got)
	}
}

func TestEdgeSmoothing(t *testing.T) {
	d := newDevice(t, 32, 32)
	_ = d.DrawQuad(&gpu.Quad{
		Transform:  quadAt(16, 16, 10, 10, 32, 32),
		Color:      [4]float32{1, 1, 1, 1},
		EdgeSmooth: 1,
	})
	edge := d.Pixel(11, 16)[3]
	inner := d.Pixel(16, 16)[3]
	if inner != 255 {
		t.Errorf("interior should stay opaque, got alpha %d", inner)
	}
	if edge == 0 || edge == 255 {
		t.Errorf("edge pixel should be partially covered, got alpha %d", edge)
	}
}

func TestStencilInnerOuter(t *testing.T) {
	tests := []struct {
		name          string
		mode          gpu.StencilMode
		inside, other byte
	}{
		{"inner", gpu.StencilInner, 255, 0},
		{"outer", gpu.StencilOuter, 0, 255},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDevice(t, 40, 40)
			d.ClearStencil()
			d.SetStencil(gpu.StencilWrite)
			_ = d.DrawQuad(&gpu.Quad{
				Transform: quadAt(20, 20, 20, 20, 40, 40),
				Shape:     gpu.ShapeEllipse,
				Color:     [4]float32{1, 1, 1, 1},
			})
			if d.Pixel(20, 20)[3] != 0 {
				t.Fatal("stencil write must not touch color")
			}
			if d.Stencil(20, 20) != 1 || d.Stencil(11, 11) != 0 {
				t.Fatalf("ellipse stencil wrong: center=%d corner=%d", d.Stencil(20, 20), d.Stencil(11, 11))
			}

			d.SetStencil(tt.mode)
			_ = d.DrawQuad(&gpu.Quad{
				Transform: quadAt(20, 20, 40, 40, 40, 40),
				Color:     [4]float32{1, 1, 1, 1},
			})
			d.SetStencil(gpu.StencilOff)

			if got := d.Pixel(20, 20)[3]; got != tt.inside {
				t.Errorf("inside mask: expected alpha %d, got %d", tt.inside, got)
			}
			// Corner of the mask quad lies outside the inscribed ellipse.
			if got := d.Pixel(11, 11)[3]; got != tt.other {
				t.Errorf("outside ellipse: expected alpha %d, got %d", tt.other, got)
			}
		})
	}
}

func TestTexturedQuad(t *testing.T) {
	d := newDevice(t, 4, 4)
	tex, err := d.CreateTexture(2, 1)
	if err != nil {
		t.Fatal(err)
	}
	// Left texel opaque green, right texel transparent.
	if err := tex.Upload([]byte{0, 255, 0, 255, 0, 0, 0, 0}, 8); err != nil {
		t.Fatal(err)
	}
	_ = d.DrawQuad(&gpu.Quad{
		Transform: quadAt(2, 2, 4, 4, 4, 4),
		Color:     [4]float32{1, 1, 1, 1},
		Texture:   tex,
		Region:    gpu.FullRegion,
	})
	if got := d.Pixel(0, 2); got != [4]byte{0, 255, 0, 255} {
		t.Errorf("left: expected opaque green, got %v", got)
	}
	if got := d.Pixel(3, 2); got != [4]byte{} {
		t.Errorf("right: expected transparent, got %v", got)
	}
}

func TestTextureRegionRotation(t *testing.T) {
	d := newDevice(t, 4, 4)
	tex, _ := d.CreateTexture(2, 1)
	_ = tex.Upload([]byte{0, 255, 0, 255, 0, 0, 0, 0}, 8)
	_ = d.DrawQuad(&gpu.Quad{
		Transform: quadAt(2, 2, 4, 4, 4, 4),
		Color:     [4]float32{1, 1, 1, 1},
		Texture:   tex,
		Region:    gpu.TexRegion{W: 1, H: 1, Rot: math.Radians(180)},
	})
	// Half a turn swaps the sides.
	if got := d.Pixel(3, 2)[1]; got != 255 {
		t.Errorf("right after rotation: expected green, got %v", d.Pixel(3, 2))
	}
}

func TestBlendOverlayHonorsStencil(t *testing.T) {
	d := newDevice(t, 4, 1)
	d.stencil[0] = 1
	d.SetStencil(gpu.StencilInner)
	pix := make([]byte, 16)
	for i := 0; i < 16; i += 4 {
		copy(pix[i:], []byte{255, 0, 0, 255})
	}
	if err := d.BlendOverlay(pix, 16, image.Rect(0, 0, 4, 1)); err != nil {
		t.Fatal(err)
	}
	if got := d.Pixel(0, 0); got != [4]byte{0, 0, 255, 255} {
		t.Errorf("stenciled pixel: expected red, got %v", got)
	}
	if got := d.Pixel(1, 0); got != [4]byte{} {
		t.Errorf("unstenciled pixel: expected untouched, got %v", got)
	}
}

func TestDeviceLost(t *testing.T) {
	d := newDevice(t, 4, 4)
	d.MarkLost()
	if err := d.DrawQuad(&gpu.Quad{Transform: quadAt(2, 2, 2, 2, 4, 4)}); !errors.Is(err, gpu.ErrDeviceLost) {
		t.Errorf("expected ErrDeviceLost, got %v", err)
	}
	if _, err := d.ReadPixels(make([]byte, 64)); !errors.Is(err, gpu.ErrDeviceLost) {
		t.Errorf("expected ErrDeviceLost from ReadPixels, got %v", err)
	}
}

func TestEdgeOnQuadIsSkipped(t *testing.T) {
	d := newDevice(t, 16, 16)
	p := math.Placement{PosX: 8, PosY: 8, Width: 8, Height: 8, AnchorX: 0.5, AnchorY: 0.5, RotY: 90}
	if err := d.DrawQuad(&gpu.Quad{Transform: p.WorldViewProj(16, 16), Color: [4]float32{1, 1, 1, 1}}); err != nil {
		t.Fatal(err)
	}
	if d.Pixel(8, 8)[3] != 0 {
		t.Error("edge-on quad should not cover pixels")
	}
}
