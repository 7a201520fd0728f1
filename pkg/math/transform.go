package math

// Depth range of the layer projection. Layers rotated about X or Y swing out
// of the z=0 plane and must stay inside the clip volume.
const depthRange = 16384

// Placement describes where a unit quad lands on the output frame. Positions
// are in pixels with the origin at the top-left corner and y pointing down.
type Placement struct {
	PosX, PosY       float32
	Width, Height    float32
	AnchorX, AnchorY float32 // 0.5 rotates about the center
	RotX, RotY, RotZ float32 // degrees
}

// WorldViewProj returns the matrix that maps the unit quad centered on the
// origin onto the frame, pivoting the rotation around the anchor point.
func (p Placement) WorldViewProj(frameW, frameH float32) Mat4 {
	ax := (p.AnchorX - 0.5) * p.Width
	ay := (p.AnchorY - 0.5) * p.Height

	proj := Ortho(-frameW/2, frameW/2, -frameH/2, frameH/2, -depthRange, depthRange)
	world := Translate(p.PosX-frameW/2, -(p.PosY - frameH/2), 0).
		Mul(Translate(ax, -ay, 0)).
		Mul(RotateX(Radians(p.RotX))).
		Mul(RotateY(Radians(p.RotY))).
		Mul(RotateZ(Radians(p.RotZ))).
		Mul(Translate(-ax, ay, 0)).
		Mul(Scale(p.Width, p.Height, 1))
	return proj.Mul(world)
}

// Affine2 maps (x, y) to (A*x + C*y + E, B*x + D*y + F).
type Affine2 struct {
	A, B, C, D, E, F float32
}

// Apply transforms a point.
func (a Affine2) Apply(x, y float32) (float32, float32) {
	return a.A*x + a.C*y + a.E, a.B*x + a.D*y + a.F
}

// Invert returns the inverse mapping. ok is false when the unit square maps
// to less than a thousandth of a pixel, e.g. a layer rotated 90 degrees
// about X.
func (a Affine2) Invert() (inv Affine2, ok bool) {
	det := a.A*a.D - a.B*a.C
	if det > -1e-3 && det < 1e-3 {
		return Affine2{}, false
	}
	id := 1 / det
	inv.A = a.D * id
	inv.B = -a.B * id
	inv.C = -a.C * id
	inv.D = a.A * id
	inv.E = -(inv.A*a.E + inv.C*a.F)
	inv.F = -(inv.B*a.E + inv.D*a.F)
	return inv, true
}

// PixelAffine projects the matrix onto frame pixel coordinates, dropping z.
// It is exact for the orthographic projections built by WorldViewProj.
func (m Mat4) PixelAffine(frameW, frameH float32) Affine2 {
	hw, hh := frameW/2, frameH/2
	return Affine2{
		A: m[0] * hw, B: -m[1] * hh,
		C: m[4] * hw, D: -m[5] * hh,
		E: (m[12] + 1) * hw, F: (1 - m[13]) * hh,
	}
}
