package tiling

import (
	"github.com/raspberrypi/libpisp/internal/logging"
)

// TilingError reports that tile planning failed outright: no arrangement of
// tile boundaries lets every branch make progress at once. It is distinct
// from ordinary configuration errors so callers can tell a self-contradictory
// geometry from a merely invalid parameter.
type TilingError struct {
	Msg string
}

func (e *TilingError) Error() string { return "libpisp: " + e.Msg }

// tilingFail aborts the current negotiation pass. Recovered by Pipeline.Tile
// and returned to the caller as a *TilingError.
func tilingFail(msg string) {
	panic(&TilingError{Msg: msg})
}

// Stage is one link in the tile negotiation chain. Each concrete stage
// models how one hardware block transforms tile geometry along the axis
// being planned.
//
// Negotiation runs in two passes per tile. PushStartUp travels from the
// outputs toward the input, converting each desired output start into the
// input start that produces it. PushEndDown travels from the input toward
// the outputs with the available input end; each stage converts it, clamps
// it to its own limits, and recurses, with the final feasible end returned
// back up via PushEndUp. PushCropDown then walks the settled input interval
// down the chain so every stage records its crop relative to upstream.
type Stage interface {
	Name() string
	Pipeline() *Pipeline

	InputImageSize() Length2
	OutputImageSize() Length2

	setDownstream(s Stage)
	Reset()

	PushStartUp(outputStart int, dir Dir)
	PushEndDown(inputEnd int, dir Dir) int
	PushEndUp(outputEnd int, dir Dir)
	PushCropDown(iv Interval, dir Dir)

	// BranchComplete reports whether every output fed by this stage has
	// covered its whole image along dir.
	BranchComplete(dir Dir) bool
	// BranchInactive reports whether this stage's branch produced no output
	// at all for the current tile (for example, fully cropped away).
	BranchInactive(dir Dir) bool

	copyOut(t *Tile, dir Dir)
	mergeRegions(dest, xsrc, ysrc *Tile)
}

// regionAccessor locates a stage's Region inside a Tile. Stages that do not
// record a region (the split) have a nil accessor.
type regionAccessor func(*Tile) *Region

// stage carries the state common to all single-upstream, single-downstream
// stages: the intervals being negotiated and the region slot to copy them
// into.
type stage struct {
	name       string
	pipeline   *Pipeline
	upstream   Stage
	downstream Stage
	region     regionAccessor

	input  Interval
	crop   Crop
	output Interval
}

func newStage(name string, p *Pipeline, upstream Stage, region regionAccessor) stage {
	s := stage{name: name, pipeline: p, upstream: upstream, region: region}
	return s
}

func (s *stage) Name() string        { return s.name }
func (s *stage) Pipeline() *Pipeline { return s.pipeline }

func (s *stage) InputImageSize() Length2 {
	return s.upstream.OutputImageSize()
}

func (s *stage) setDownstream(d Stage) {
	s.downstream = d
}

func (s *stage) Reset() {
	s.input = Interval{}
	s.crop = Crop{}
	s.output = Interval{}
}

func (s *stage) BranchComplete(dir Dir) bool {
	return s.downstream.BranchComplete(dir)
}

func (s *stage) BranchInactive(dir Dir) bool {
	return s.downstream.BranchInactive(dir)
}

func (s *stage) copyOut(t *Tile, dir Dir) {
	if s.region == nil {
		return
	}
	r := s.region(t)
	r.Input.Set(dir, s.input)
	r.Crop.Set(dir, s.crop)
	r.Output.Set(dir, s.output)
}

// mergeRegions assembles a grid tile's region from the X-pass tile of its
// column and the Y-pass tile of its row.
func (s *stage) mergeRegions(dest, xsrc, ysrc *Tile) {
	if s.region == nil {
		return
	}
	d, x, y := s.region(dest), s.region(xsrc), s.region(ysrc)
	d.Input.X = x.Input.X
	d.Crop.X = x.Crop.X
	d.Output.X = x.Output.X
	d.Input.Y = y.Input.Y
	d.Crop.Y = y.Crop.Y
	d.Output.Y = y.Output.Y
}

func (s *stage) trace(op string, dir Dir, val int) {
	logging.Logger().Debug(op, "stage", s.name, "dir", dir.String(), "value", val)
}
