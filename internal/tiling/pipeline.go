package tiling

import (
	"fmt"

	"github.com/raspberrypi/libpisp/internal/logging"
)

// Config bounds every tile the pipeline may produce.
type Config struct {
	MaxTileSize Length2
	MinTileSize Length2
}

// Pipeline owns a chain of stages and drives the per-axis negotiation that
// carves the image into a tile grid.
type Pipeline struct {
	name    string
	config  Config
	stages  []Stage
	inputs  []*InputStage
	outputs []*OutputStage
}

func NewPipeline(name string, config Config) *Pipeline {
	return &Pipeline{name: name, config: config}
}

func (p *Pipeline) Config() Config {
	return p.config
}

func (p *Pipeline) addStage(s Stage) { p.stages = append(p.stages, s) }

func (p *Pipeline) addInput(s *InputStage) { p.inputs = append(p.inputs, s) }

func (p *Pipeline) addOutput(s *OutputStage) { p.outputs = append(p.outputs, s) }

// Tile negotiates the whole grid into tiles, which must hold capacity for
// the worst case, and returns the grid dimensions. A *TilingError reports
// a geometry no tile arrangement can satisfy; other errors are ordinary
// configuration failures.
//
// Tiling produces a rectangular X by Y grid. X direction tiles are created
// along the first row, then Y direction tiles down the first column, and
// finally the X/Y information is merged into all the other grid cells.
func (p *Pipeline) Tile(tiles []Tile) (grid Length2, err error) {
	defer func() {
		if r := recover(); r != nil {
			te, ok := r.(*TilingError)
			if !ok {
				panic(r)
			}
			err = te
		}
	}()

	grid.DX, err = p.tileDirection(DirX, tiles, 1)
	if err != nil {
		return Length2{}, err
	}
	grid.DY, err = p.tileDirection(DirY, tiles, grid.DX)
	if err != nil {
		return Length2{}, err
	}

	for j := 0; j < grid.DY; j++ {
		ysrc := &tiles[j*grid.DX]
		for i := 0; i < grid.DX; i++ {
			xsrc := &tiles[i]
			dest := &tiles[j*grid.DX+i]
			for _, s := range p.stages {
				s.mergeRegions(dest, xsrc, ysrc)
			}
		}
	}
	return grid, nil
}

func (p *Pipeline) reset() {
	for _, s := range p.stages {
		s.Reset()
	}
}

// tileDirection runs the negotiation along one axis, writing every tile it
// makes at the given stride into tiles, and returns how many it made.
func (p *Pipeline) tileDirection(dir Dir, tiles []Tile, stride int) (int, error) {
	logging.Logger().Debug("tiling direction", "pipeline", p.name, "dir", dir.String())

	p.reset()
	limit := len(tiles) / stride
	numTiles := 0
	for done := false; !done; numTiles++ {
		if numTiles == limit {
			return 0, fmt.Errorf("libpisp: too many tiles in %s direction (limit %d)", dir, limit)
		}
		for _, s := range p.outputs {
			s.PushStartUp(s.OutputInterval().End(), dir)
		}
		for _, s := range p.inputs {
			s.PushEndDown(s.InputInterval().Offset+p.config.MaxTileSize.Get(dir), dir)
		}
		for _, s := range p.inputs {
			s.PushCropDown(s.InputInterval(), dir)
		}
		for _, s := range p.stages {
			s.copyOut(&tiles[numTiles*stride], dir)
		}
		done = true
		for _, s := range p.outputs {
			done = done && s.BranchComplete(dir)
		}
	}

	logging.Logger().Debug("tiling direction done", "pipeline", p.name, "dir", dir.String(), "tiles", numTiles)
	return numTiles, nil
}
