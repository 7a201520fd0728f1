// Package math provides the matrices that place layers on the output frame.
package math

import "math"

// Radians converts degrees to radians.
func Radians(deg float32) float32 {
	return deg * math.Pi / 180
}

// Mat4 is a column-major 4x4 matrix, the layout OpenGL uniforms expect.
// Element (row r, column c) is m[c*4+r].
type Mat4 [16]float32

// Ortho maps the box [left,right]x[bottom,top]x[near,far] onto clip space.
func Ortho(left, right, bottom, top, near, far float32) Mat4 {
	w, h, d := right-left, top-bottom, far-near
	var m Mat4
	m[0] = 2 / w
	m[5] = 2 / h
	m[10] = -2 / d
	m[12] = -(right + left) / w
	m[13] = -(top + bottom) / h
	m[14] = -(far + near) / d
	m[15] = 1
	return m
}

// Translate returns a translation by (x, y, z).
func Translate(x, y, z float32) Mat4 {
	return Mat4{0: 1, 5: 1, 10: 1, 12: x, 13: y, 14: z, 15: 1}
}

// Scale returns a scale by (x, y, z).
func Scale(x, y, z float32) Mat4 {
	return Mat4{0: x, 5: y, 10: z, 15: 1}
}

func sincos(rad float32) (float32, float32) {
	s, c := math.Sincos(float64(rad))
	return float32(s), float32(c)
}

// RotateX rotates by rad radians about the x axis.
func RotateX(rad float32) Mat4 {
	s, c := sincos(rad)
	return Mat4{0: 1, 5: c, 6: s, 9: -s, 10: c, 15: 1}
}

// RotateY rotates by rad radians about the y axis.
func RotateY(rad float32) Mat4 {
	s, c := sincos(rad)
	return Mat4{0: c, 2: -s, 5: 1, 8: s, 10: c, 15: 1}
}

// RotateZ rotates counter-clockwise by rad radians about the z axis.
func RotateZ(rad float32) Mat4 {
	s, c := sincos(rad)
	return Mat4{0: c, 1: s, 4: -s, 5: c, 10: 1, 15: 1}
}

// Mul returns m * n, which applies n first.
func (m Mat4) Mul(n Mat4) Mat4 {
	var out Mat4
	for c := 0; c < 4; c++ {
		for r := 0; r < 4; r++ {
			var sum float32
			for k := 0; k < 4; k++ {
				sum += m[k*4+r] * n[c*4+k]
			}
			out[c*4+r] = sum
		}
	}
	return out
}

// Ptr returns the first element for glUniformMatrix4fv.
func (m *Mat4) Ptr() *float32 {
	return &m[0]
}
