package tiling

// RescalerType distinguishes the two scaling blocks, which consume input
// differently: the downscaler's kernel width follows the scale factor, the
// resampler has a fixed filter context on top of a per-tile initial phase.
type RescalerType int

const (
	Downscaler RescalerType = iota
	Resampler
)

// RescaleConfig describes one scaling block. Scale holds the per-axis input
// step per output pixel as a fixed-point value, left-shifted by Precision.
type RescaleConfig struct {
	OutputImageSize Length2
	Scale           Length2
	StartContext    Length2
	EndContext      Length2
	Precision       int
	Type            RescalerType
}

// RescaleStage models a downscaler or resampler in the negotiation chain.
//
// Variables suffixed P are fixed-point, left-shifted by Precision. End
// positions are exclusive unless named otherwise; comments call a last
// in-interval pixel "inclusive".
type RescaleStage struct {
	stage
	config  RescaleConfig
	roundUp int
}

func NewRescaleStage(name string, upstream Stage, config RescaleConfig, region regionAccessor) *RescaleStage {
	s := &RescaleStage{
		stage:   newStage(name, upstream.Pipeline(), upstream, region),
		config:  config,
		roundUp: (1 << config.Precision) - 1,
	}
	s.pipeline.addStage(s)
	upstream.setDownstream(s)
	return s
}

func (s *RescaleStage) OutputImageSize() Length2 {
	return s.config.OutputImageSize
}

func (s *RescaleStage) PushStartUp(outputStart int, dir Dir) {
	inputStartP := outputStart * s.config.Scale.Get(dir)
	inputStart := inputStartP >> s.config.Precision
	inputStartWithContext := inputStart - s.config.StartContext.Get(dir)
	if inputStartWithContext < 0 {
		inputStartWithContext = 0
	}

	s.output.Offset = outputStart
	s.input.Offset = inputStartWithContext
	s.trace("rescale: push start up", dir, inputStartWithContext)
	s.upstream.PushStartUp(inputStartWithContext, dir)
}

func (s *RescaleStage) PushEndDown(inputEnd int, dir Dir) int {
	inputImageSize := s.InputImageSize().Get(dir)
	s.input.SetEnd(inputEnd)

	var outputEndExc int
	if s.config.Type == Downscaler {
		// The trapezoidal downscaler has a variable-sized kernel. Round its
		// end position down to get the number of complete output samples
		// that can be generated (the scale factor was rounded down, so
		// input never runs short).
		outputEndExc = (inputEnd << s.config.Precision) / s.config.Scale.Get(dir)
	} else {
		// Resampler: find the last (inclusive) sample that can be
		// generated. Take off the filter context plus 2 extra pixels to
		// allow for an initial phase, except at the bottom of the image
		// where no more context exists.
		inputEndInc := inputEnd - 1
		inputEndIncNoContext := inputEndInc
		if inputEnd < inputImageSize {
			inputEndIncNoContext = inputEndInc - s.config.EndContext.Get(dir) - 2
		}
		outputEndInc := ((inputEndIncNoContext << s.config.Precision) + s.roundUp) / s.config.Scale.Get(dir)
		outputEndExc = outputEndInc + 1
	}

	if size := s.config.OutputImageSize.Get(dir); outputEndExc > size {
		outputEndExc = size
	}

	// Upscaling could make output tiles larger than the hardware can hold,
	// so never offer more than a maximum tile downstream.
	if maxEnd := s.output.Offset + s.pipeline.Config().MaxTileSize.Get(dir); outputEndExc > maxEnd {
		outputEndExc = maxEnd
	}

	s.output.SetEnd(outputEndExc)

	s.trace("rescale: push end down", dir, outputEndExc)
	s.PushEndUp(s.downstream.PushEndDown(outputEndExc, dir), dir)

	// If the output didn't quite finish, another tile follows, and it must
	// not be left an infeasibly thin sliver of input. Pull our own end back
	// from the input edge and simply try again.
	minTile := s.pipeline.Config().MinTileSize.Get(dir)
	if s.output.End() < s.config.OutputImageSize.Get(dir) && s.input.End() > inputImageSize-minTile {
		s.trace("rescale: too close to input edge, retry", dir, inputImageSize-minTile)
		s.PushEndDown(inputImageSize-minTile, dir)
	}

	return s.input.End()
}

func (s *RescaleStage) PushEndUp(outputEnd int, dir Dir) {
	var inputEndWithContextExc int
	if s.config.Type == Downscaler {
		// Variable-sized kernel: round the fractional end position up.
		inputEndExcP := outputEnd * s.config.Scale.Get(dir)
		inputEndWithContextExc = (inputEndExcP + s.roundUp) >> s.config.Precision
	} else {
		// The resampler's context is fixed, so work from the start position
		// of its final output sample (inclusive dimensions). Two extra
		// pixels on the right allow for an initial phase pushing the filter
		// that far forward.
		outputEndInc := outputEnd - 1
		inputEnd := (outputEndInc * s.config.Scale.Get(dir)) >> s.config.Precision
		inputEndWithContext := inputEnd + s.config.EndContext.Get(dir) + 2
		inputEndWithContextExc = inputEndWithContext + 1
	}

	if size := s.InputImageSize().Get(dir); inputEndWithContextExc > size {
		inputEndWithContextExc = size
	}

	s.output.SetEnd(outputEnd)
	s.input.SetEnd(inputEndWithContextExc)
	s.trace("rescale: push end up", dir, inputEndWithContextExc)
}

func (s *RescaleStage) PushCropDown(iv Interval, dir Dir) {
	if !iv.Contains(s.input) {
		panic("libpisp: rescale stage pushed an interval smaller than negotiated")
	}

	s.crop = iv.CropTo(s.input)
	s.input = iv

	s.trace("rescale: push crop down", dir, s.output.Offset)
	s.downstream.PushCropDown(s.output, dir)
}
