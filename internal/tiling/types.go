// Package tiling plans how an image is carved into hardware-sized tiles.
//
// The back end processes an image as a row-major grid of tiles, each small
// enough for its internal line buffers. Planning runs one axis at a time:
// a chain of stages, one per hardware block that changes tile geometry,
// negotiates where each tile may start and end, and the results are copied
// into per-tile Region records for the caller to turn into addresses and
// phases.
package tiling

import "fmt"

// Dir selects the axis being negotiated.
type Dir int

const (
	DirX Dir = 0
	DirY Dir = 1
)

func (d Dir) String() string {
	if d == DirY {
		return "Y"
	}
	return "X"
}

// Length2 is an (x, y) pair of lengths or sizes.
type Length2 struct {
	DX, DY int
}

// Square returns a Length2 with both axes set to n.
func Square(n int) Length2 {
	return Length2{n, n}
}

func (l Length2) Get(dir Dir) int {
	if dir == DirY {
		return l.DY
	}
	return l.DX
}

func (l Length2) Sub(other Length2) Length2 {
	return Length2{l.DX - other.DX, l.DY - other.DY}
}

func (l Length2) Div(n int) Length2 {
	return Length2{l.DX / n, l.DY / n}
}

func (l Length2) String() string {
	return fmt.Sprintf("(%d, %d)", l.DX, l.DY)
}

// Crop holds trim amounts taken off the start and end of an interval.
type Crop struct {
	Start, End int
}

func (c Crop) Add(other Crop) Crop {
	return Crop{c.Start + other.Start, c.End + other.End}
}

func (c Crop) String() string {
	return fmt.Sprintf("<s %d e %d>", c.Start, c.End)
}

// Interval is a span along one axis. A zero Length marks a bare position;
// negotiation may hold transiently negative lengths while ends are being
// haggled over.
type Interval struct {
	Offset, Length int
}

func (iv Interval) End() int {
	return iv.Offset + iv.Length
}

// SetStart moves the start of the interval, leaving End unchanged.
func (iv *Interval) SetStart(start int) {
	iv.Length += iv.Offset - start
	iv.Offset = start
}

func (iv *Interval) SetEnd(end int) {
	iv.Length = end - iv.Offset
}

// SubCrop returns the interval with the crop amounts removed.
func (iv Interval) SubCrop(c Crop) Interval {
	return Interval{iv.Offset - c.Start, iv.Length - c.Start - c.End}
}

// CropTo returns the crop that turns iv into the contained interval inner.
func (iv Interval) CropTo(inner Interval) Crop {
	return Crop{inner.Offset - iv.Offset, iv.End() - inner.End()}
}

// Contains reports whether iv wholly contains other.
func (iv Interval) Contains(other Interval) bool {
	return iv.Offset <= other.Offset && iv.End() >= other.End()
}

// Include grows the interval just enough to cover the point off.
func (iv *Interval) Include(off int) {
	if off < iv.Offset {
		iv.SetStart(off)
	} else if off > iv.End() {
		iv.SetEnd(off)
	}
}

func (iv Interval) String() string {
	return fmt.Sprintf("[off %d len %d]", iv.Offset, iv.Length)
}

// Crop2 is an (x, y) pair of crops.
type Crop2 struct {
	X, Y Crop
}

func (c Crop2) Get(dir Dir) Crop {
	if dir == DirY {
		return c.Y
	}
	return c.X
}

func (c *Crop2) Set(dir Dir, v Crop) {
	if dir == DirY {
		c.Y = v
	} else {
		c.X = v
	}
}

func (c Crop2) Add(other Crop2) Crop2 {
	return Crop2{c.X.Add(other.X), c.Y.Add(other.Y)}
}

// Interval2 is an (x, y) pair of intervals.
type Interval2 struct {
	X, Y Interval
}

func (iv Interval2) Get(dir Dir) Interval {
	if dir == DirY {
		return iv.Y
	}
	return iv.X
}

func (iv *Interval2) Set(dir Dir, v Interval) {
	if dir == DirY {
		iv.Y = v
	} else {
		iv.X = v
	}
}

func (iv Interval2) Size() Length2 {
	return Length2{iv.X.Length, iv.Y.Length}
}

// Region records what one stage did with one tile: the input span it
// consumed, the crop it applied, and the output span it produced.
type Region struct {
	Input  Interval2
	Crop   Crop2
	Output Interval2
}
