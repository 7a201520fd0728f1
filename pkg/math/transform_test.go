package math

import "testing"

func pixel(m Mat4, x, y, w, h float32) (float32, float32) {
	return m.PixelAffine(w, h).Apply(x, y)
}

func TestPlacementCorners(t *testing.T) {
	p := Placement{PosX: 100, PosY: 50, Width: 40, Height: 20, AnchorX: 0.5, AnchorY: 0.5}
	m := p.WorldViewProj(200, 100)

	tests := []struct {
		name   string
		x, y   float32
		px, py float32
	}{
		{"center", 0, 0, 100, 50},
		{"top-left", -0.5, 0.5, 80, 40},
		{"bottom-right", 0.5, -0.5, 120, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			px, py := pixel(m, tt.x, tt.y, 200, 100)
			if abs(px-tt.px) > 1e-3 || abs(py-tt.py) > 1e-3 {
				t.Errorf("expected (%v, %v), got (%v, %v)", tt.px, tt.py, px, py)
			}
		})
	}
}

func TestPlacementAnchorPivot(t *testing.T) {
	// Rotating about the top-left anchor keeps that corner in place.
	p := Placement{PosX: 100, PosY: 50, Width: 40, Height: 20, AnchorX: 0, AnchorY: 0, RotZ: 37}
	m := p.WorldViewProj(200, 100)
	px, py := pixel(m, -0.5, 0.5, 200, 100)
	if abs(px-80) > 1e-3 || abs(py-40) > 1e-3 {
		t.Errorf("anchor moved: expected (80, 40), got (%v, %v)", px, py)
	}
}

func TestPlacementRotationDirection(t *testing.T) {
	// Positive RotZ turns the quad's right edge upward on screen.
	p := Placement{PosX: 100, PosY: 50, Width: 40, Height: 40, AnchorX: 0.5, AnchorY: 0.5, RotZ: 90}
	m := p.WorldViewProj(200, 100)
	px, py := pixel(m, 0.5, 0, 200, 100)
	if abs(px-100) > 1e-3 || abs(py-30) > 1e-3 {
		t.Errorf("expected (100, 30), got (%v, %v)", px, py)
	}
}

func TestAffineInvert(t *testing.T) {
	p := Placement{PosX: 64, PosY: 32, Width: 30, Height: 10, AnchorX: 0.5, AnchorY: 0.5, RotZ: 25}
	a := p.WorldViewProj(128, 64).PixelAffine(128, 64)
	inv, ok := a.Invert()
	if !ok {
		t.Fatal("expected invertible mapping")
	}
	x, y := a.Apply(0.3, -0.2)
	bx, by := inv.Apply(x, y)
	if abs(bx-0.3) > 1e-4 || abs(by+0.2) > 1e-4 {
		t.Errorf("round trip: expected (0.3, -0.2), got (%v, %v)", bx, by)
	}
}

func TestAffineInvertDegenerate(t *testing.T) {
	p := Placement{PosX: 64, PosY: 32, Width: 30, Height: 10, AnchorX: 0.5, AnchorY: 0.5, RotX: 90}
	a := p.WorldViewProj(128, 64).PixelAffine(128, 64)
	if _, ok := a.Invert(); ok {
		t.Error("expected edge-on layer to be non-invertible")
	}
}
