package math

import (
	"math"
	"testing"
)

// apply transforms (x, y, 0, 1) and returns x and y.
func apply(m Mat4, x, y float32) (float32, float32) {
	return m[0]*x + m[4]*y + m[12], m[1]*x + m[5]*y + m[13]
}

func TestTranslate(t *testing.T) {
	m := Translate(5, 10, 15)
	if m[12] != 5 || m[13] != 10 || m[14] != 15 {
		t.Errorf("expected translation in column 4, got (%v, %v, %v)", m[12], m[13], m[14])
	}
}

func TestMulOrder(t *testing.T) {
	// Scale first, then translate.
	m := Translate(10, 0, 0).Mul(Scale(2, 3, 1))
	x, y := apply(m, 1, 1)
	if x != 12 || y != 3 {
		t.Errorf("expected (12, 3), got (%v, %v)", x, y)
	}
}

func TestRotations(t *testing.T) {
	tests := []struct {
		name   string
		m      Mat4
		x, y   float32
		wx, wy float32
	}{
		{"z 90 turns x into y", RotateZ(Radians(90)), 1, 0, 0, 1},
		{"z 180", RotateZ(Radians(180)), 1, 2, -1, -2},
		{"x 180 flips y", RotateX(Radians(180)), 1, 1, 1, -1},
		{"y 180 flips x", RotateY(Radians(180)), 1, 1, -1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y := apply(tt.m, tt.x, tt.y)
			if abs(x-tt.wx) > 1e-5 || abs(y-tt.wy) > 1e-5 {
				t.Errorf("expected (%v, %v), got (%v, %v)", tt.wx, tt.wy, x, y)
			}
		})
	}
}

func TestOrtho(t *testing.T) {
	m := Ortho(-960, 960, -540, 540, -1, 1)
	x, y := apply(m, 960, -540)
	if abs(x-1) > 1e-6 || abs(y+1) > 1e-6 {
		t.Errorf("expected corner at (1, -1), got (%v, %v)", x, y)
	}
}

func TestRadians(t *testing.T) {
	if got := Radians(180); abs(got-math.Pi) > 1e-6 {
		t.Errorf("expected pi, got %f", got)
	}
}

func abs(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
