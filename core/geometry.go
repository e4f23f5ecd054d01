package core

import (
	"errors"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r2"
)

// Epsilon is the tolerance used when comparing lengths and offsets in the
// geometry helpers (metres).
const Epsilon = 1e-9

// ErrNoTangent is returned when no finite tangent points exist, e.g. because
// the external point lies inside the circle or coincides with its centre.
var ErrNoTangent = errors.New("no finite tangent points")

// IsFinite reports whether both coordinates are neither NaN nor infinite.
func IsFinite(v r2.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0)
}

// Unit returns the unit vector of v. ok is false for (near) zero vectors, in
// which case the zero vector is returned.
func Unit(v r2.Vec) (u r2.Vec, ok bool) {
	n := r2.Norm(v)
	if n < Epsilon {
		return r2.Vec{}, false
	}
	return r2.Scale(1/n, v), true
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b r2.Vec) float64 {
	return r2.Norm(r2.Sub(a, b))
}

// ClosestPointOnSegment returns the point of segment [a, b] nearest to p.
func ClosestPointOnSegment(p, a, b r2.Vec) r2.Vec {
	v := r2.Sub(b, a)
	l2 := r2.Dot(v, v)
	if l2 == 0 {
		// Degenerate segment: both ends coincide.
		return a
	}

	// t* minimises |a + t v - p|^2 over t ∈ [0, 1].
	t := r2.Dot(r2.Sub(p, a), v) / l2
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return r2.Add(a, r2.Scale(t, v))
}

// PointSegmentDistance returns the distance from p to segment [a, b].
func PointSegmentDistance(p, a, b r2.Vec) float64 {
	return Distance(p, ClosestPointOnSegment(p, a, b))
}

// AngleBetween returns the unsigned angle in [0, π] between a and b. Zero
// vectors yield 0.
func AngleBetween(a, b r2.Vec) float64 {
	na, nb := r2.Norm(a), r2.Norm(b)
	if na < Epsilon || nb < Epsilon {
		return 0
	}
	c := r2.Dot(a, b) / (na * nb)
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return math.Acos(c)
}

// Perpendiculars returns the left- and right-hand normals of dir, both with
// the same length as dir.
func Perpendiculars(dir r2.Vec) (left, right r2.Vec) {
	return r2.Vec{X: -dir.Y, Y: dir.X}, r2.Vec{X: dir.Y, Y: -dir.X}
}

// StepToward returns the point reached by walking length metres from `from`
// toward `toward`. ok is false when the two points coincide.
func StepToward(from, toward r2.Vec, length float64) (r2.Vec, bool) {
	dir, ok := Unit(r2.Sub(toward, from))
	if !ok {
		return from, false
	}
	return r2.Add(from, r2.Scale(length, dir)), true
}

// TangentPoints returns the two points where the lines through the external
// point p touch the circle of radius r centred at the origin.
//
// With d² = |p|², the tangent points are (r²/d²)·p ± (r·√(d²−r²)/d²)·p⊥,
// where p⊥ is p rotated by 90°. The form needs no division by a coordinate,
// so it stays accurate when p lies on or near an axis.
//
// A point on or inside the circle has no distinct tangents and is reported as
// ErrNoTangent, as are non-finite results.
func TangentPoints(p r2.Vec, r float64) (r2.Vec, r2.Vec, error) {
	r2sq := r * r
	d2 := r2.Norm2(p)
	if !(d2 > r2sq) {
		return p, p, ErrNoTangent
	}

	base := r2.Scale(r2sq/d2, p)
	h := r * math.Sqrt(d2-r2sq) / d2
	perp := r2.Vec{X: -p.Y, Y: p.X}
	t1 := r2.Add(base, r2.Scale(h, perp))
	t2 := r2.Sub(base, r2.Scale(h, perp))

	if !IsFinite(t1) || !IsFinite(t2) {
		return t1, t2, ErrNoTangent
	}
	return t1, t2, nil
}

// DetourCandidate holds the two one-step positions derived from the tangent
// points around an obstruction.
type DetourCandidate struct {
	First, Second r2.Vec
}

// SelectDetour picks the candidate closer to the undisturbed target step.
// When both deviate by less than threshold from each other the choice is made
// uniformly at random with rnd; a nil rnd always picks First in that case.
func SelectDetour(c DetourCandidate, targetStep r2.Vec, threshold float64, rnd *rand.Rand) r2.Vec {
	d1 := Distance(c.First, targetStep)
	d2 := Distance(c.Second, targetStep)
	if math.Abs(d1-d2) < threshold {
		if rnd != nil && rnd.Intn(2) == 1 {
			return c.Second
		}
		return c.First
	}
	if d1 <= d2 {
		return c.First
	}
	return c.Second
}

// Box is an axis-aligned rectangle.
type Box = r2.Box

// BoxContains reports whether p lies inside b, boundary included.
func BoxContains(b Box, p r2.Vec) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X && p.Y >= b.Min.Y && p.Y <= b.Max.Y
}

// BoxesOverlap reports whether two boxes intersect.
func BoxesOverlap(a, b Box) bool {
	return a.Min.X <= b.Max.X && b.Min.X <= a.Max.X && a.Min.Y <= b.Max.Y && b.Min.Y <= a.Max.Y
}
