package tiling

import (
	"github.com/raspberrypi/libpisp/internal/logging"
)

// ContextConfig gives the extra pixels the downstream blocks need around
// every tile, and the alignment the expanded tile must keep.
type ContextConfig struct {
	Context   Crop2
	Alignment Length2
}

// ContextStage grows each tile by the context pixels the Bayer-domain
// blocks consume at its edges.
type ContextStage struct {
	stage
	config ContextConfig
}

func NewContextStage(name string, upstream Stage, config ContextConfig, region regionAccessor) *ContextStage {
	s := &ContextStage{stage: newStage(name, upstream.Pipeline(), upstream, region), config: config}
	s.pipeline.addStage(s)
	upstream.setDownstream(s)
	return s
}

func (s *ContextStage) OutputImageSize() Length2 { return s.InputImageSize() }

func (s *ContextStage) PushStartUp(outputStart int, dir Dir) {
	inputStart := outputStart - s.config.Context.Get(dir).Start
	if inputStart < 0 {
		inputStart = 0
	}
	inputStart -= inputStart % s.config.Alignment.Get(dir)
	s.output.Offset = outputStart
	s.input.Offset = inputStart
	s.trace("context: push start up", dir, inputStart)
	s.upstream.PushStartUp(inputStart, dir)
}

func (s *ContextStage) PushEndDown(inputEnd int, dir Dir) int {
	// A misaligned end here cannot be fixed locally; send downstream a value
	// that, whatever comes back in PushEndUp, cannot demand more input than
	// we were given.
	outputEnd := inputEnd
	if inputEnd < s.InputImageSize().Get(dir) {
		outputEnd -= outputEnd % s.config.Alignment.Get(dir)
		outputEnd -= s.config.Context.Get(dir).End
	}
	s.input.SetEnd(inputEnd)
	s.output.SetEnd(outputEnd)

	s.trace("context: push end down", dir, outputEnd)
	s.PushEndUp(s.downstream.PushEndDown(outputEnd, dir), dir)
	return s.input.End()
}

func (s *ContextStage) PushEndUp(outputEnd int, dir Dir) {
	if outputEnd > s.output.End() {
		panic("libpisp: context stage asked for more output than negotiated")
	}
	inputEnd := outputEnd + s.config.Context.Get(dir).End
	align := s.config.Alignment.Get(dir)
	inputEnd = (inputEnd + align - 1) / align * align
	if size := s.InputImageSize().Get(dir); inputEnd > size {
		inputEnd = size
	}
	s.input.SetEnd(inputEnd)
	s.output.SetEnd(outputEnd)
	s.trace("context: push end up", dir, inputEnd)
}

func (s *ContextStage) PushCropDown(iv Interval, dir Dir) {
	if !iv.Contains(s.input) {
		panic("libpisp: context stage pushed an interval smaller than negotiated")
	}

	align := s.config.Alignment.Get(dir)
	if iv.Offset%align != 0 || (iv.End()%align != 0 && iv.End() != s.InputImageSize().Get(dir)) {
		// The interval doesn't align. Rather than working out the exact crop
		// it is safe to pass our former input tile downstream. In practice
		// Bayer stages are all 2-pixel aligned so this should not happen.
		logging.Logger().Warn("context: misaligned input interval, cropping required",
			"stage", s.name, "dir", dir.String())
		s.output = s.input
	} else {
		s.output = iv
	}

	s.input = iv
	s.crop = s.input.CropTo(s.output)
	s.trace("context: push crop down", dir, s.output.Offset)
	s.downstream.PushCropDown(s.output, dir)
}
