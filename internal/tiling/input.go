package tiling

import (
	"github.com/raspberrypi/libpisp/internal/logging"
)

// InputConfig describes the image being read and its alignment rules.
type InputConfig struct {
	ImageSize Length2
	// Alignment gives the byte-driven pixel alignment for tile starts.
	Alignment Length2
	// CompressionAlignment is non-zero for compressed inputs, which are
	// read in fixed-size blocks (possibly past the nominal image width).
	CompressionAlignment int
}

// InputStage heads the chain, handing out aligned spans of the source image.
type InputStage struct {
	stage
	config InputConfig
}

func NewInputStage(name string, p *Pipeline, config InputConfig, region regionAccessor) *InputStage {
	// Compression blocks dominate the basic alignment when present. One is
	// assumed to be a multiple of the other.
	if ca := config.CompressionAlignment; ca != 0 {
		if config.Alignment.DX%ca != 0 && ca%config.Alignment.DX != 0 {
			panic("libpisp: input alignment and compression alignment are incompatible")
		}
		config.Alignment.DX = max(config.Alignment.DX, ca)
	}
	s := &InputStage{stage: newStage(name, p, nil, region), config: config}
	p.addStage(s)
	p.addInput(s)
	return s
}

func (s *InputStage) InputImageSize() Length2  { return s.config.ImageSize }
func (s *InputStage) OutputImageSize() Length2 { return s.config.ImageSize }

// InputInterval returns the span of source pixels the current tile reads.
func (s *InputStage) InputInterval() Interval { return s.input }

func (s *InputStage) PushStartUp(outputStart int, dir Dir) {
	// We may have to read from a more aligned position than we were asked for.
	s.output.Offset = outputStart
	s.input.Offset = outputStart - outputStart%s.config.Alignment.Get(dir)
	s.trace("input: push start up", dir, s.input.Offset)
}

func (s *InputStage) PushEndDown(inputEnd int, dir Dir) int {
	if size := s.config.ImageSize.Get(dir); inputEnd >= size {
		inputEnd = size
	} else {
		// Align the read down; cropped-off pixels would be wasted anyway.
		// At the end of the image we instead take whatever is left.
		inputEnd -= inputEnd % s.config.Alignment.Get(dir)
	}

	s.input.SetEnd(inputEnd)
	s.output.SetEnd(inputEnd)

	s.trace("input: push end down", dir, inputEnd)
	s.PushEndUp(s.downstream.PushEndDown(inputEnd, dir), dir)
	return s.input.End()
}

func (s *InputStage) PushEndUp(outputEnd int, dir Dir) {
	align := s.config.Alignment.Get(dir)
	inputEnd := (outputEnd + align - 1) / align * align
	if size := s.config.ImageSize.Get(dir); inputEnd > size {
		inputEnd = size
		// Compressed data is read in whole blocks, even past the nominal
		// image width.
		if dir == DirX && s.config.CompressionAlignment != 0 {
			ca := s.config.CompressionAlignment
			inputEnd = (inputEnd + ca - 1) / ca * ca
		}
	}
	s.output.SetEnd(outputEnd)
	s.input.SetEnd(inputEnd)
	s.trace("input: push end up", dir, inputEnd)
}

func (s *InputStage) PushCropDown(iv Interval, dir Dir) {
	// At the head of the pipeline nobody can hand us extra pixels.
	if iv != s.input {
		panic("libpisp: input stage pushed an interval it never produced")
	}
	s.crop = Crop{}
	s.output = iv
	logging.Logger().Debug("input: push crop down", "dir", dir.String(),
		"offset", iv.Offset, "length", iv.Length)
	s.downstream.PushCropDown(iv, dir)
}
