package tiling

import (
	"github.com/raspberrypi/libpisp/internal/logging"
)

// OutputConfig holds a branch's output alignment rules. MaxAlignment is the
// preferred write boundary, MinAlignment the mandatory one. XMirrored marks
// a horizontally flipped output.
type OutputConfig struct {
	MaxAlignment Length2
	MinAlignment Length2
	XMirrored    bool
}

// OutputStage terminates a branch and enforces its memory alignment.
//
// There is a crucial convention here: a flipped output is described in a
// coordinate system starting at the right-hand edge of the image travelling
// left. Tile coordinates don't change, the coordinate system did. The upshot
// is that very little changes when things are flipped, except that alignment
// applies to real addresses, so it is checked not on the given offsets and
// lengths (now measured right to left) but on their distances from the
// left-hand edge, found by subtracting from the image width.
type OutputStage struct {
	stage
	config OutputConfig
}

func NewOutputStage(name string, upstream Stage, config OutputConfig, region regionAccessor) *OutputStage {
	s := &OutputStage{stage: newStage(name, upstream.Pipeline(), upstream, region), config: config}
	s.pipeline.addStage(s)
	s.pipeline.addOutput(s)
	upstream.setDownstream(s)
	return s
}

func (s *OutputStage) OutputImageSize() Length2 { return s.InputImageSize() }

// OutputInterval returns the branch's accumulated output along the axis
// being planned; its End is where the next tile starts.
func (s *OutputStage) OutputInterval() Interval { return s.output }

func (s *OutputStage) setDownstream(d Stage) {
	panic("libpisp: output stage cannot have a downstream")
}

// BranchComplete reports whether the accumulated output covers the image.
func (s *OutputStage) BranchComplete(dir Dir) bool {
	return s.output.End() >= s.OutputImageSize().Get(dir)
}

func (s *OutputStage) BranchInactive(dir Dir) bool {
	return s.output.Length <= 0
}

func (s *OutputStage) PushStartUp(outputStart int, dir Dir) {
	s.output.Offset = outputStart
	s.input.Offset = outputStart
	s.trace("output: push start up", dir, outputStart)
	s.upstream.PushStartUp(outputStart, dir)
}

// alignEnd rounds a proposed output end to the given alignment. For a
// mirrored axis it is the end in the unflipped coordinate space that must
// align, which rounds the flipped-space value down rather than up.
func alignEnd(inputEnd, imageSize, align int, mirrored bool) int {
	if mirrored {
		unflipped := imageSize - inputEnd
		unflipped = (unflipped + align - 1) / align * align
		return imageSize - unflipped
	}
	if inputEnd < imageSize {
		return inputEnd - inputEnd%align
	}
	return inputEnd
}

func (s *OutputStage) PushEndDown(inputEnd int, dir Dir) int {
	outputEnd := inputEnd
	imageSize := s.InputImageSize().Get(dir)
	mirrored := dir == DirX && s.config.XMirrored

	aligned := alignEnd(outputEnd, imageSize, s.config.MaxAlignment.Get(dir), mirrored)
	if aligned >= s.output.Offset+s.config.MaxAlignment.Get(dir) {
		outputEnd = aligned
	} else {
		aligned = alignEnd(outputEnd, imageSize, s.config.MinAlignment.Get(dir), mirrored)
		if aligned > s.output.Offset {
			s.trace("output: preferred alignment not achievable", dir, aligned)
			outputEnd = aligned
		} else if s.input.Offset < imageSize { // a finished branch sits at the image edge
			logging.Logger().Warn("output: mandatory alignment not achievable",
				"stage", s.name, "dir", dir.String(), "align", s.config.MinAlignment.Get(dir))
			outputEnd = aligned
			// No progress here need not be fatal: the other branch may
			// advance, after which this one can succeed again. The split
			// stage decides whether nobody moved at all.
		}
	}

	s.input.SetEnd(inputEnd)
	s.output.SetEnd(outputEnd)

	s.trace("output: push end down", dir, outputEnd)
	s.PushEndUp(outputEnd, dir)
	return s.input.End()
}

func (s *OutputStage) PushEndUp(outputEnd int, dir Dir) {
	// We should be given back exactly the value we settled on.
	if outputEnd != s.output.End() {
		panic("libpisp: output stage granted an end it never offered")
	}
	s.input.SetEnd(outputEnd)
	s.trace("output: push end up", dir, outputEnd)
}

func (s *OutputStage) PushCropDown(iv Interval, dir Dir) {
	// Crop can be pushed no further down; it has to be absorbed here.
	s.input = iv
	s.crop = iv.CropTo(s.output)
	if s.crop.Start < 0 || s.crop.End < 0 {
		panic("libpisp: output stage handed an interval smaller than its output")
	}

	// The output interval is not flipped here even when mirrored; address
	// computation re-maps it into true image coordinates.
	s.trace("output: push crop down", dir, s.output.Offset)
}
