package core

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Shape is an immutable 2D region used for obstacles, targets, sources and
// scenario areas.
type Shape interface {
	Contains(p r2.Vec) bool
	// ClosestPoint returns the boundary point nearest to p, or p itself when
	// p lies inside the shape.
	ClosestPoint(p r2.Vec) r2.Vec
	Bounds() Box
	Centroid() r2.Vec
}

// ShapeDistance returns the distance from p to s, zero when p is inside.
func ShapeDistance(s Shape, p r2.Vec) float64 {
	if s.Contains(p) {
		return 0
	}
	return Distance(p, s.ClosestPoint(p))
}

// Circle is a disc.
type Circle struct {
	Center r2.Vec
	Radius float64
}

func (c Circle) Contains(p r2.Vec) bool { return Distance(p, c.Center) <= c.Radius }

func (c Circle) ClosestPoint(p r2.Vec) r2.Vec {
	if c.Contains(p) {
		return p
	}
	q, _ := StepToward(c.Center, p, c.Radius)
	return q
}

func (c Circle) Bounds() Box {
	return Box{
		Min: r2.Vec{X: c.Center.X - c.Radius, Y: c.Center.Y - c.Radius},
		Max: r2.Vec{X: c.Center.X + c.Radius, Y: c.Center.Y + c.Radius},
	}
}

func (c Circle) Centroid() r2.Vec { return c.Center }

// Rectangle is an axis-aligned rectangle.
type Rectangle struct {
	Min, Max r2.Vec
}

// NewRectangle builds a rectangle from its lower-left corner and size.
func NewRectangle(x, y, width, height float64) Rectangle {
	return Rectangle{Min: r2.Vec{X: x, Y: y}, Max: r2.Vec{X: x + width, Y: y + height}}
}

func (r Rectangle) Contains(p r2.Vec) bool { return BoxContains(r.Bounds(), p) }

func (r Rectangle) ClosestPoint(p r2.Vec) r2.Vec {
	return r2.Vec{
		X: math.Max(r.Min.X, math.Min(p.X, r.Max.X)),
		Y: math.Max(r.Min.Y, math.Min(p.Y, r.Max.Y)),
	}
}

func (r Rectangle) Bounds() Box { return Box{Min: r.Min, Max: r.Max} }

func (r Rectangle) Centroid() r2.Vec {
	return r2.Scale(0.5, r2.Add(r.Min, r.Max))
}

// Polygon is a simple closed polygon given by its vertices in order.
type Polygon struct {
	Points []r2.Vec
}

// Contains uses the even-odd rule.
func (pg Polygon) Contains(p r2.Vec) bool {
	inside := false
	n := len(pg.Points)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := pg.Points[i], pg.Points[j]
		if (a.Y > p.Y) != (b.Y > p.Y) &&
			p.X < (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y)+a.X {
			inside = !inside
		}
	}
	return inside
}

func (pg Polygon) ClosestPoint(p r2.Vec) r2.Vec {
	if len(pg.Points) == 0 || pg.Contains(p) {
		return p
	}
	best := pg.Points[0]
	bestDist := math.Inf(1)
	n := len(pg.Points)
	for i := 0; i < n; i++ {
		q := ClosestPointOnSegment(p, pg.Points[i], pg.Points[(i+1)%n])
		if d := Distance(p, q); d < bestDist {
			best, bestDist = q, d
		}
	}
	return best
}

func (pg Polygon) Bounds() Box {
	if len(pg.Points) == 0 {
		return Box{}
	}
	b := Box{Min: pg.Points[0], Max: pg.Points[0]}
	for _, q := range pg.Points[1:] {
		b.Min.X = math.Min(b.Min.X, q.X)
		b.Min.Y = math.Min(b.Min.Y, q.Y)
		b.Max.X = math.Max(b.Max.X, q.X)
		b.Max.Y = math.Max(b.Max.Y, q.Y)
	}
	return b
}

func (pg Polygon) Centroid() r2.Vec {
	if len(pg.Points) == 0 {
		return r2.Vec{}
	}
	var sum r2.Vec
	for _, q := range pg.Points {
		sum = r2.Add(sum, q)
	}
	return r2.Scale(1/float64(len(pg.Points)), sum)
}

// SegmentIntersectsShape reports whether segment [a, b] comes within
// clearance of s. Circles are tested exactly; other shapes are sampled at
// five evenly spaced points along the segment.
func SegmentIntersectsShape(s Shape, a, b r2.Vec, clearance float64) bool {
	if c, ok := s.(Circle); ok {
		return PointSegmentDistance(c.Center, a, b) < c.Radius+clearance
	}
	const samples = 4
	for i := 0; i <= samples; i++ {
		p := r2.Add(a, r2.Scale(float64(i)/samples, r2.Sub(b, a)))
		if ShapeDistance(s, p) < clearance {
			return true
		}
	}
	return false
}

// Obstacle is a static shape that agents must not walk through. Obstacles
// never change during a run.
type Obstacle struct {
	ID    int
	Shape Shape
}

// Target is a destination area. Agents reaching an absorbing target leave the
// simulation; non-absorbing targets hold them for WaitingTime seconds before
// they move on to their next target.
type Target struct {
	ID          int
	Shape       Shape
	Absorbing   bool
	WaitingTime float64
}
