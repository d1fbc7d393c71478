package tiling

// SplitStage fans the shared front section out to the output branches.
// Every branch reads the same pixels, so tile starts are unioned on the way
// up and a single granted end is settled on the way down.
type SplitStage struct {
	stage
	branches []Stage
	count    int
}

func NewSplitStage(name string, upstream Stage) *SplitStage {
	s := &SplitStage{stage: newStage(name, upstream.Pipeline(), upstream, nil)}
	s.pipeline.addStage(s)
	upstream.setDownstream(s)
	return s
}

// setDownstream accumulates: a split has one downstream stage per branch.
func (s *SplitStage) setDownstream(d Stage) {
	s.branches = append(s.branches, d)
}

func (s *SplitStage) OutputImageSize() Length2 { return s.InputImageSize() }

func (s *SplitStage) Reset() {
	s.stage.Reset()
	s.count = 0
}

func (s *SplitStage) BranchComplete(dir Dir) bool {
	for _, b := range s.branches {
		if !b.BranchComplete(dir) {
			return false
		}
	}
	return true
}

func (s *SplitStage) BranchInactive(dir Dir) bool {
	for _, b := range s.branches {
		if !b.BranchInactive(dir) {
			return false
		}
	}
	return true
}

func (s *SplitStage) PushStartUp(outputStart int, dir Dir) {
	// Each branch reports in turn; only when all have spoken do we know the
	// leftmost start to request from upstream.
	if s.count == 0 {
		s.input = Interval{Offset: outputStart}
	} else {
		s.input.Include(outputStart)
	}
	s.count++
	if s.count == len(s.branches) {
		s.count = 0
		s.trace("split: push start up", dir, s.input.Offset)
		s.upstream.PushStartUp(s.input.Offset, dir)
	}
}

func (s *SplitStage) PushEndDown(inputEnd int, dir Dir) int {
	// First offer every branch the whole available input to find out what
	// each can do with it, and remember the furthest end any of them
	// reaches. A branch making no progress at all is fine so long as some
	// other branch does.
	s.input.SetEnd(s.input.Offset)
	for _, b := range s.branches {
		if branchEnd := b.PushEndDown(inputEnd, dir); branchEnd > s.input.End() {
			s.input.SetEnd(branchEnd)
		}
	}

	if s.input.Length <= 0 {
		tilingFail("no branch can make progress")
	}

	// Now tell every branch what it will really get, namely that end point.
	s.trace("split: push end down", dir, s.input.End())
	for _, b := range s.branches {
		b.PushEndDown(s.input.End(), dir)
	}

	s.PushEndUp(s.input.End(), dir)
	return s.input.End()
}

func (s *SplitStage) PushEndUp(outputEnd int, dir Dir) {
	// Nothing to settle here; logged only to keep the trace readable.
	s.trace("split: push end up", dir, outputEnd)
}

func (s *SplitStage) PushCropDown(iv Interval, dir Dir) {
	if !iv.Contains(s.input) {
		panic("libpisp: split stage pushed an interval smaller than negotiated")
	}

	// Whatever we get goes down every branch; any branch that dislikes it
	// starts by cropping off what it cannot handle.
	s.input = iv
	s.trace("split: push crop down", dir, iv.Offset)
	for _, b := range s.branches {
		b.PushCropDown(iv, dir)
	}
}
