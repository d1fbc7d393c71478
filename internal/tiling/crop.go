package tiling

// CropConfig holds one branch's crop window in input coordinates.
type CropConfig struct {
	Window Interval2
}

// CropStage trims the shared image down to one branch's crop window.
// Everything downstream of it sees the window as its whole image.
type CropStage struct {
	stage
	config CropConfig
}

func NewCropStage(name string, upstream Stage, config CropConfig, region regionAccessor) *CropStage {
	s := &CropStage{stage: newStage(name, upstream.Pipeline(), upstream, region), config: config}
	s.pipeline.addStage(s)
	upstream.setDownstream(s)
	return s
}

func (s *CropStage) OutputImageSize() Length2 {
	return Length2{s.config.Window.X.Length, s.config.Window.Y.Length}
}

func (s *CropStage) BranchInactive(dir Dir) bool {
	return s.output.Length <= 0
}

func (s *CropStage) PushStartUp(outputStart int, dir Dir) {
	inputStart := outputStart + s.config.Window.Get(dir).Offset
	s.output.Offset = outputStart
	s.input.Offset = inputStart
	s.trace("crop: push start up", dir, inputStart)
	s.upstream.PushStartUp(inputStart, dir)
}

func (s *CropStage) PushEndDown(inputEnd int, dir Dir) int {
	window := s.config.Window.Get(dir)
	outputEnd := inputEnd - window.Offset
	if outputEnd > window.Length {
		outputEnd = window.Length
	}

	// An undersized tile is only acceptable at the far end of the window,
	// where no more data exists to fill it out. Anywhere else (including a
	// window lying wholly beyond the offered pixels) we emit nothing for
	// this tile; the other branch can still drag the input forward.
	minTile := s.pipeline.Config().MinTileSize.Get(dir)
	if outputEnd-s.output.Offset < minTile && outputEnd < window.Length {
		outputEnd = s.output.Offset
	}

	s.input.SetEnd(inputEnd)
	s.output.SetEnd(outputEnd)

	s.trace("crop: push end down", dir, outputEnd)
	s.PushEndUp(s.downstream.PushEndDown(outputEnd, dir), dir)

	if s.output.Length <= 0 {
		// Nothing produced: record zero consumption at the offered end so
		// the recorded input stays inside whatever is later pushed down,
		// and the split sees this branch demanding no progress of its own.
		s.input = Interval{Offset: inputEnd}
	}
	return s.input.End()
}

func (s *CropStage) PushEndUp(outputEnd int, dir Dir) {
	inputEnd := outputEnd + s.config.Window.Get(dir).Offset
	s.input.SetEnd(inputEnd)
	s.output.SetEnd(outputEnd)
	s.trace("crop: push end up", dir, inputEnd)
}

func (s *CropStage) PushCropDown(iv Interval, dir Dir) {
	if !iv.Contains(s.input) {
		panic("libpisp: crop stage pushed an interval smaller than negotiated")
	}

	s.input = iv
	shifted := iv
	shifted.Offset -= s.config.Window.Get(dir).Offset
	s.crop = shifted.CropTo(s.output)

	s.trace("crop: push crop down", dir, s.output.Offset)
	s.downstream.PushCropDown(s.output, dir)
}
