package libpisp

import "sort"

// PwlPoint is one vertex of a piecewise linear function.
type PwlPoint struct {
	X, Y float64
}

// Pwl is a piecewise linear function defined by vertices with ascending
// X coordinates. The zero value is an empty function.
type Pwl struct {
	points []PwlPoint
}

// NewPwl builds a function from the given vertices, which must already
// be sorted by X.
func NewPwl(points ...PwlPoint) Pwl {
	return Pwl{points: points}
}

// Empty reports whether the function has no vertices.
func (p Pwl) Empty() bool { return len(p.points) == 0 }

// Append adds a vertex; x must not precede the last vertex's X.
func (p *Pwl) Append(x, y float64) {
	p.points = append(p.points, PwlPoint{x, y})
}

// Domain returns the first and last X coordinates.
func (p Pwl) Domain() (lo, hi float64) {
	if len(p.points) == 0 {
		return 0, 0
	}
	return p.points[0].X, p.points[len(p.points)-1].X
}

// Eval interpolates the function at x. Outside the domain the first or
// last span is extrapolated.
func (p Pwl) Eval(x float64) float64 {
	switch len(p.points) {
	case 0:
		return 0
	case 1:
		return p.points[0].Y
	}
	// Find the span such that points[i].X <= x < points[i+1].X,
	// clamped to a real span so the ends extrapolate.
	i := sort.Search(len(p.points), func(j int) bool { return p.points[j].X > x }) - 1
	if i < 0 {
		i = 0
	} else if i > len(p.points)-2 {
		i = len(p.points) - 2
	}
	a, b := p.points[i], p.points[i+1]
	return a.Y + (x-a.X)*(b.Y-a.Y)/(b.X-a.X)
}
