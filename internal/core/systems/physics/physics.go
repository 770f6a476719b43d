package physics

import "math"

// Vec3 is a value-type 3D vector. Z points up.
type Vec3 struct {
	X float64 `json:"x" msgpack:"x" yaml:"x"`
	Y float64 `json:"y" msgpack:"y" yaml:"y"`
	Z float64 `json:"z" msgpack:"z" yaml:"z"`
}

func (v Vec3) Add(o Vec3) Vec3    { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3    { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Mul(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// Horizontal returns v with its vertical component dropped.
func (v Vec3) Horizontal() Vec3 { return Vec3{X: v.X, Y: v.Y} }

// IsFinite reports whether every component is neither NaN nor infinite.
func (v Vec3) IsFinite() bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

// Distance computes the Euclidean distance between two points.
func Distance(a, b Vec3) float64 { return b.Sub(a).Norm() }

// HorizontalDistance computes the distance between two points projected on the ground plane.
func HorizontalDistance(a, b Vec3) float64 { return math.Hypot(b.X-a.X, b.Y-a.Y) }

// Clamp limits value to [lo, hi]. NaN collapses to zero before clamping.
func Clamp(value, lo, hi float64) float64 {
	if math.IsNaN(value) {
		value = 0
	}
	return math.Max(lo, math.Min(hi, value))
}

func isFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

func sanitizeFinite(f float64) float64 {
	if isFinite(f) {
		return f
	}
	return 0
}

func sanitizeVec(v Vec3) Vec3 {
	return Vec3{sanitizeFinite(v.X), sanitizeFinite(v.Y), sanitizeFinite(v.Z)}
}
