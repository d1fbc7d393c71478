package tiling

import (
	"fmt"

	"github.com/raspberrypi/libpisp/internal/logging"
)

// NumOutputBranches is how many independent output paths the back end has.
const NumOutputBranches = 2

// ScalePrecision is the fixed-point precision of all scale factors and
// phases handled by the rescale blocks.
const ScalePrecision = 12

const (
	pipelineContextX = 16
	pipelineContextY = 16
	pipelineAlignX   = 2
	pipelineAlignY   = 2
	compressionAlign = 8

	// Resampler filter context in pixels either side of a tile.
	resampleStartContext = 2
	resampleEndContext   = 3

	roundUp = (1 << ScalePrecision) - 1
)

// Tile records what every stage decided for one grid cell, one Region per
// stage that transforms geometry, indexed per branch from the split onward.
type Tile struct {
	Input     Region
	Context   Region
	Crop      [NumOutputBranches]Region
	Downscale [NumOutputBranches]Region
	Resample  [NumOutputBranches]Region
	Output    [NumOutputBranches]Region
}

// TilingConfig is the one-shot description of a whole planning job.
type TilingConfig struct {
	InputImageSize     Length2
	Crop               [NumOutputBranches]Interval2
	DownscaleImageSize [NumOutputBranches]Length2
	OutputImageSize    [NumOutputBranches]Length2
	MaxTileSize        Length2
	MinTileSize        Length2
	DownscaleFactor    [NumOutputBranches]Length2
	ResampleFactor     [NumOutputBranches]Length2
	OutputHMirror      [NumOutputBranches]bool
	ResampleEnables    int
	DownscaleEnables   int
	CompressedInput    bool
	InputAlignment     Length2
	OutputMaxAlignment [NumOutputBranches]Length2 // preferred alignment
	OutputMinAlignment [NumOutputBranches]Length2 // required minimum alignment
}

// TilePipeline builds the stage chain described by config, negotiates the
// whole tile grid into tiles and returns the grid dimensions. The front
// section (input, context) is shared; each enabled branch then gets its own
// crop, optional downscale and resample, and output stages behind a split.
func TilePipeline(config TilingConfig, tiles []Tile) (Length2, error) {
	logging.Logger().Debug("tile pipeline",
		"input", config.InputImageSize, "align", config.InputAlignment,
		"maxTile", config.MaxTileSize, "minTile", config.MinTileSize,
		"downscaleEnables", config.DownscaleEnables, "resampleEnables", config.ResampleEnables)

	p := NewPipeline("pisp", Config{MaxTileSize: config.MaxTileSize, MinTileSize: config.MinTileSize})

	ca := 0
	if config.CompressedInput {
		ca = compressionAlign
	}
	input := NewInputStage("input", p, InputConfig{
		ImageSize:            config.InputImageSize,
		Alignment:            config.InputAlignment,
		CompressionAlignment: ca,
	}, func(t *Tile) *Region { return &t.Input })

	context := NewContextStage("context", input, ContextConfig{
		Context: Crop2{
			X: Crop{pipelineContextX, pipelineContextX},
			Y: Crop{pipelineContextY, pipelineContextY},
		},
		Alignment: Length2{pipelineAlignX, pipelineAlignY},
	}, func(t *Tile) *Region { return &t.Context })

	split := NewSplitStage("split", context)

	for i := 0; i < NumOutputBranches; i++ {
		i := i // the go directive predates per-iteration loop variables
		outputImageSize := config.OutputImageSize[i]
		// A zero-dimension output disables that branch.
		if outputImageSize.DX == 0 || outputImageSize.DY == 0 {
			continue
		}

		var prev Stage = NewCropStage(fmt.Sprintf("crop%d", i), split,
			CropConfig{Window: config.Crop[i]},
			func(t *Tile) *Region { return &t.Crop[i] })

		// A disabled resize block must stay out of the negotiation
		// entirely: resize changes the output tile size even for 1-to-1
		// scaling, because it loses context.
		if config.DownscaleEnables&(1<<i) != 0 {
			// The downscaler has right context only, namely the scale
			// factor rounded up.
			contextRight := Length2{
				DX: ((config.DownscaleFactor[i].DX + roundUp) >> ScalePrecision) - 1,
				DY: ((config.DownscaleFactor[i].DY + roundUp) >> ScalePrecision) - 1,
			}
			prev = NewRescaleStage(fmt.Sprintf("downscale%d", i), prev, RescaleConfig{
				OutputImageSize: config.DownscaleImageSize[i],
				Scale:           config.DownscaleFactor[i],
				EndContext:      contextRight,
				Precision:       ScalePrecision,
				Type:            Downscaler,
			}, func(t *Tile) *Region { return &t.Downscale[i] })
		}
		if config.ResampleEnables&(1<<i) != 0 {
			prev = NewRescaleStage(fmt.Sprintf("resample%d", i), prev, RescaleConfig{
				OutputImageSize: outputImageSize,
				Scale:           config.ResampleFactor[i],
				StartContext:    Square(resampleStartContext),
				EndContext:      Square(resampleEndContext),
				Precision:       ScalePrecision,
				Type:            Resampler,
			}, func(t *Tile) *Region { return &t.Resample[i] })
		}

		NewOutputStage(fmt.Sprintf("output%d", i), prev, OutputConfig{
			MaxAlignment: config.OutputMaxAlignment[i],
			MinAlignment: config.OutputMinAlignment[i],
			XMirrored:    config.OutputHMirror[i],
		}, func(t *Tile) *Region { return &t.Output[i] })
	}

	grid, err := p.Tile(tiles)
	if err != nil {
		return Length2{}, err
	}
	logging.Logger().Debug("tile pipeline done", "grid", grid)
	return grid, nil
}
