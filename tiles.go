package libpisp

import (
	"errors"

	"github.com/raspberrypi/libpisp/internal/logging"
	"github.com/raspberrypi/libpisp/internal/tiling"
)

// maxStripeHeight caps the tile height when the caller's Config doesn't.
const maxStripeHeight = 3072

// getPixelAlignment converts a byte alignment into the pixel alignment it
// implies for the given format.
func getPixelAlignment(format ImageFormat, byteAlignment int) int {
	align := byteAlignment // 8bpp formats
	switch {
	case format.BitsPerSample() == 16:
		align = byteAlignment / 2
	case format.BitsPerSample() == 10:
		align = byteAlignment * 3 / 4
	case format&FormatBPP32 != 0:
		align = byteAlignment / 4
	}

	if format.Planar() && !format.Sampling444() {
		align *= 2 // planar 420/422 chroma planes have half the width
	} else if format.Interleaved() && (format.Sampling422() || format.Sampling420()) {
		align /= 2 // YUYV style formats need only 8 pixels for 16 bytes
	}
	return align
}

func lcm(a, b int) int {
	g, n := a, b
	for n != 0 {
		g, n = n, g%n
	}
	return a / g * b
}

// calculateInputAlignment works out the pixel alignment that tile input
// edges must respect, taking the raw TDN and stitch buffers that share
// the input geometry into account.
func calculateInputAlignment(config *BeConfig) tiling.Length2 {
	if config.Global.RGBEnables&RGBEnableInput != 0 {
		logging.Logger().Debug("RGB input enabled")
		// 4-byte alignment and an even number of pixels. The height only
		// needs 2-row alignment for 420 input.
		yAlign := 1
		if config.InputFormat.Format.Sampling420() {
			yAlign = 2
		}
		return tiling.Length2{
			DX: lcm(getPixelAlignment(config.InputFormat.Format, BackEndInputAlign), 2),
			DY: yAlign,
		}
	}

	enables := config.Global.BayerEnables
	// 4-byte alignment covers 2-pixel alignment for all the raw formats.
	align := getPixelAlignment(config.InputFormat.Format, BackEndInputAlign)

	// Any compressed input raises that to 8 pixels for the compression blocks.
	if config.InputFormat.Format.Compressed() ||
		(enables&BayerEnableTDNInput != 0 && config.TDNInputFormat.Format.Compressed()) ||
		(enables&BayerEnableStitchInput != 0 && config.StitchInputFormat.Format.Compressed()) {
		align = lcm(align, BackEndCompressedAlign)
	}

	// Enabled Bayer outputs need 16-byte alignment, which also covers
	// those outputs being compressed.
	if enables&BayerEnableTDNOutput != 0 {
		align = lcm(align, getPixelAlignment(config.TDNOutputFormat.Format, BackEndOutputMinAlign))
	}
	if enables&BayerEnableStitchOutput != 0 {
		align = lcm(align, getPixelAlignment(config.StitchOutputFormat.Format, BackEndOutputMinAlign))
	}

	// Bayer input rows always come in pairs.
	return tiling.Length2{DX: align, DY: 2}
}

func calculateOutputAlignment(format ImageFormat, align int) tiling.Length2 {
	yAlign := 1
	if format.Sampling420() {
		yAlign = 2
	}
	return tiling.Length2{DX: getPixelAlignment(format, align), DY: yAlign}
}

func abs(a int) int {
	if a < 0 {
		return -a
	}
	return a
}

// checkTiles runs sanity checks over the finished tile list: minimum
// sizes hold at every stage of every enabled branch, except that tiles
// on the right-hand edge of the image may come out narrow.
func checkTiles(tiles []Tile, rgbEnables RGBEnable, numBranches int, tc *tiling.TilingConfig) error {
	for n := range tiles {
		tile := &tiles[n]
		if tile.InputWidth == 0 || tile.InputHeight == 0 {
			panic("libpisp: tile with zero input dimensions")
		}
		if tile.InputWidth < BackEndMinTileWidth || tile.InputHeight < BackEndMinTileHeight {
			return errors.New("libpisp: tile too small at input")
		}

		for i := 0; i < numBranches; i++ {
			if rgbEnables&RGBEnableOutput(i) == 0 {
				continue
			}

			widthAfterCrop := int(tile.InputWidth) - int(tile.CropXStart[i]) - int(tile.CropXEnd[i])
			heightAfterCrop := int(tile.InputHeight) - int(tile.CropYStart[i]) - int(tile.CropYEnd[i])

			// A tile cropped away completely cannot produce output, and
			// the other way round.
			if (widthAfterCrop*heightAfterCrop == 0) != (int(tile.OutputWidth[i])*int(tile.OutputHeight[i]) == 0) {
				panic("libpisp: tile crop and output disagree")
			}

			// A zero-sized tile legitimately means "no output here";
			// otherwise the minimum tile sizes apply.
			if widthAfterCrop == 0 || heightAfterCrop == 0 {
				continue
			}

			rhEdge := int(tile.OutputOffsetX[i])+int(tile.OutputWidth[i]) == tc.OutputImageSize[i].DX

			if widthAfterCrop < BackEndMinTileWidth {
				logging.Logger().Warn("tile narrow after crop",
					"tile", n, "output", i,
					"input_width", tile.InputWidth, "after_crop", widthAfterCrop,
					"crop_start", tile.CropXStart[i], "crop_end", tile.CropXEnd[i])
				if !rhEdge {
					return errors.New("libpisp: tile width too small after crop")
				}
			}
			if heightAfterCrop < BackEndMinTileHeight {
				return errors.New("libpisp: tile height too small after crop")
			}

			if tile.ResampleInWidth[i] < BackEndMinTileWidth {
				logging.Logger().Warn("tile narrow after downscale",
					"tile", n, "output", i,
					"input_width", tile.InputWidth, "after_crop", widthAfterCrop,
					"after_downscale", tile.ResampleInWidth[i])
				if !rhEdge {
					return errors.New("libpisp: tile width too small after downscale")
				}
			}
			if tile.ResampleInHeight[i] < BackEndMinTileHeight {
				return errors.New("libpisp: tile height too small after downscale")
			}

			if !rhEdge && tile.OutputWidth[i] < BackEndMinTileWidth {
				return errors.New("libpisp: tile width too small at output")
			}
			if tile.OutputHeight[i] < BackEndMinTileHeight {
				return errors.New("libpisp: tile height too small at output")
			}
		}
	}
	return nil
}

// updateTiles regenerates the tile list if the pipeline geometry changed,
// and refreshes the per-tile addressing if any buffer format did.
func (be *BackEnd) updateTiles() error {
	if be.retile {
		be.retile = false
		c := &be.beConfig

		var tc tiling.TilingConfig
		tc.InputAlignment = calculateInputAlignment(c)

		logging.Logger().Debug("tiling input alignment",
			"x", tc.InputAlignment.DX, "y", tc.InputAlignment.DY)

		tc.InputImageSize = tiling.Length2{DX: int(c.InputFormat.Width), DY: int(c.InputFormat.Height)}
		for i := 0; i < be.variant.BackEndNumBranches(0); i++ {
			crop := be.extra.Crop[i]
			tc.Crop[i] = tiling.Interval2{
				X: tiling.Interval{Offset: int(crop.OffsetX), Length: int(crop.Width)},
				Y: tiling.Interval{Offset: int(crop.OffsetY), Length: int(crop.Height)},
			}
			if tc.Crop[i].X.Length == 0 || tc.Crop[i].Y.Length == 0 {
				tc.Crop[i] = tiling.Interval2{
					X: tiling.Interval{Length: int(c.InputFormat.Width)},
					Y: tiling.Interval{Length: int(c.InputFormat.Height)},
				}
			}
			tc.OutputHMirror[i] = c.OutputFormat[i].Transform&TransformHFlip != 0
			tc.DownscaleFactor[i] = tiling.Length2{
				DX: int(c.Downscale[i].ScaleFactorH), DY: int(c.Downscale[i].ScaleFactorV)}
			tc.ResampleFactor[i] = tiling.Length2{
				DX: int(c.Resample[i].ScaleFactorH), DY: int(c.Resample[i].ScaleFactorV)}
			tc.DownscaleImageSize[i] = tiling.Length2{
				DX: int(be.extra.Downscale[i].ScaledWidth), DY: int(be.extra.Downscale[i].ScaledHeight)}
			tc.OutputImageSize[i] = tiling.Length2{
				DX: int(c.OutputFormat[i].Image.Width), DY: int(c.OutputFormat[i].Image.Height)}
			tc.OutputMaxAlignment[i] = calculateOutputAlignment(c.OutputFormat[i].Image.Format, BackEndOutputMaxAlign)
			tc.OutputMinAlignment[i] = calculateOutputAlignment(c.OutputFormat[i].Image.Format, BackEndOutputMinAlign)
		}

		tc.MaxTileSize.DX = be.config.MaxTileWidth
		if tc.MaxTileSize.DX == 0 {
			tc.MaxTileSize.DX = be.variant.BackEndMaxTileWidth(0)
		}
		tc.MaxTileSize.DY = be.config.MaxStripeHeight
		if tc.MaxTileSize.DY == 0 {
			tc.MaxTileSize.DY = maxStripeHeight
		}
		tc.MinTileSize = tiling.Length2{DX: BackEndMinTileWidth, DY: BackEndMinTileHeight}
		tc.ResampleEnables = int(c.Global.RGBEnables) / int(RGBEnableResample0)
		tc.DownscaleEnables = int(c.Global.RGBEnables) / int(RGBEnableDownscale0)
		// A compressed input would make the tiler pad tiles to compression
		// blocks even beyond the image width, which we don't want.
		tc.CompressedInput = false

		if err := be.retilePipeline(&tc); err != nil {
			return err
		}
		if err := checkTiles(be.tiles, c.Global.RGBEnables, be.variant.BackEndNumBranches(0), &tc); err != nil {
			return err
		}
		be.finaliseTiling = true
	}

	if be.finaliseTiling {
		be.finaliseTiles()
		be.finaliseTiling = false
	}
	return nil
}

// retilePipeline runs the tiling library over the current geometry and
// converts its per-stage regions into the hardware tile layout.
func (be *BackEnd) retilePipeline(tc *tiling.TilingConfig) error {
	var raw [NumTiles]tiling.Tile
	grid, err := tiling.TilePipeline(*tc, raw[:])
	if err != nil {
		return err
	}
	be.numTilesX = grid.DX
	be.numTilesY = grid.DY
	be.tilesFlipped = false

	numBranches := be.variant.BackEndNumBranches(0)
	be.tiles = make([]Tile, be.numTilesX*be.numTilesY)
	for i := range be.tiles {
		t := &be.tiles[i]

		if i < be.numTilesX {
			t.Edge |= TileEdgeTop
		}
		if i >= be.numTilesX*(be.numTilesY-1) {
			t.Edge |= TileEdgeBottom
		}
		if i%be.numTilesX == 0 {
			t.Edge |= TileEdgeLeft
		}
		if (i+1)%be.numTilesX == 0 {
			t.Edge |= TileEdgeRight
		}

		in := raw[i].Input.Input
		t.InputOffsetX = uint16(in.X.Offset)
		t.InputOffsetY = uint16(in.Y.Offset)
		t.InputWidth = uint16(in.X.Length)
		t.InputHeight = uint16(in.Y.Length)

		if raw[i].Input.Output != raw[i].Input.Input {
			return errors.New("libpisp: tiling error in Bayer pipe")
		}

		for j := 0; j < numBranches; j++ {
			enabled := be.beConfig.Global.RGBEnables&RGBEnableOutput(j) != 0
			out := raw[i].Output[j].Output

			if enabled && (out.X.Length == 0 || out.Y.Length == 0) {
				// A tile with no output on this branch sends nothing down
				// it: make the crop eat everything and zero the rest.
				t.CropXStart[j] = t.InputWidth
				t.CropXEnd[j] = 0
				t.CropYStart[j] = t.InputHeight
				t.CropYEnd[j] = 0
				t.ResampleInWidth[j] = 0
				t.ResampleInHeight[j] = 0
				t.OutputOffsetX[j] = 0
				t.OutputOffsetY[j] = 0
				t.OutputWidth[j] = 0
				t.OutputHeight[j] = 0
				continue
			}

			var downscaleCrop tiling.Crop2
			resampleSize := raw[i].Crop[j].Output
			resampleSize.X = resampleSize.X.SubCrop(raw[i].Resample[j].Crop.X)
			resampleSize.Y = resampleSize.Y.SubCrop(raw[i].Resample[j].Crop.Y)

			// With a resize stage disabled its region is empty, so the
			// tile size after it comes from the next stage along and it
			// contributes no extra crop.
			switch {
			case be.beConfig.Global.RGBEnables&RGBEnableDownscale(j) != 0:
				downscaleCrop = raw[i].Downscale[j].Crop.Add(raw[i].Crop[j].Crop)
				// The resample block sees what the downscaler makes of this tile.
				resampleSize = raw[i].Downscale[j].Output
			case be.beConfig.Global.RGBEnables&RGBEnableResample(j) != 0:
				downscaleCrop = raw[i].Resample[j].Crop.Add(raw[i].Crop[j].Crop)
			default:
				downscaleCrop = raw[i].Output[j].Crop.Add(raw[i].Crop[j].Crop)
			}

			t.CropXStart[j] = uint16(downscaleCrop.X.Start)
			t.CropXEnd[j] = uint16(downscaleCrop.X.End)
			t.CropYStart[j] = uint16(downscaleCrop.Y.Start)
			t.CropYEnd[j] = uint16(downscaleCrop.Y.End)
			t.ResampleInWidth[j] = uint16(resampleSize.X.Length)
			t.ResampleInHeight[j] = uint16(resampleSize.Y.Length)
			t.OutputOffsetX[j] = uint16(out.X.Offset)
			t.OutputOffsetY[j] = uint16(out.Y.Offset)
			t.OutputWidth[j] = uint16(out.X.Length)
			t.OutputHeight[j] = uint16(out.Y.Length)

			for p := 0; p < 3; p++ {
				if be.beConfig.Global.RGBEnables&RGBEnableDownscale(j) != 0 {
					fracX := (resampleSize.X.Offset * int(be.beConfig.Downscale[j].ScaleFactorH)) & (unityScale - 1)
					fracY := (resampleSize.Y.Offset * int(be.beConfig.Downscale[j].ScaleFactorV)) & (unityScale - 1)
					// Fraction of the input needed to make the first output pixel.
					t.DownscalePhaseX[p*numBranches+j] = uint16(unityScale - fracX)
					t.DownscalePhaseY[p*numBranches+j] = uint16(unityScale - fracY)
				}

				if be.beConfig.Global.RGBEnables&RGBEnableResample(j) != 0 {
					// Position of the output pixel within the interpolated
					// input image.
					interpolatedX := (int(t.OutputOffsetX[j]) * numPhases *
						int(be.beConfig.Resample[j].ScaleFactorH)) >> scalePrecision
					interpolatedY := (int(t.OutputOffsetY[j]) * numPhases *
						int(be.beConfig.Resample[j].ScaleFactorV)) >> scalePrecision
					// Phase of that pixel, plus any initial phase the
					// caller configured, which can be negative.
					phaseX := ((interpolatedX%numPhases)<<scalePrecision)/numPhases +
						int(be.extra.Resample[j].InitialPhaseH[p])
					phaseY := ((interpolatedY%numPhases)<<scalePrecision)/numPhases +
						int(be.extra.Resample[j].InitialPhaseV[p])
					if phaseX < 0 || phaseX > 2*(unityScale-1) || phaseY < 0 || phaseY > 2*(unityScale-1) {
						panic("libpisp: resample phase out of range")
					}
					t.ResamplePhaseX[p*numBranches+j] = uint16(phaseX)
					t.ResamplePhaseY[p*numBranches+j] = uint16(phaseY)
				}
			}

			// Plane phases may not differ by more than half an output pixel.
			if be.beConfig.Global.RGBEnables&RGBEnableResample(j) != 0 {
				phaseMax := (int(be.beConfig.Resample[j].ScaleFactorH) * unityScale / 2) >> scalePrecision
				if phasesDiverge(t.ResamplePhaseX[:], j, numBranches, phaseMax) {
					return errors.New("libpisp: resample phase x for tile is > 0.5 pixels on the output dimensions")
				}
				phaseMax = (int(be.beConfig.Resample[j].ScaleFactorV) * unityScale / 2) >> scalePrecision
				if phasesDiverge(t.ResamplePhaseY[:], j, numBranches, phaseMax) {
					return errors.New("libpisp: resample phase y for tile is > 0.5 pixels on the output dimensions")
				}
			}
		}
	}
	return nil
}

// phasesDiverge reports whether any pair of the three per-plane phases on
// branch j differ by more than phaseMax.
func phasesDiverge(phases []uint16, j, numBranches, phaseMax int) bool {
	p0 := int(phases[0*numBranches+j])
	p1 := int(phases[1*numBranches+j])
	p2 := int(phases[2*numBranches+j])
	return abs(p0-p1) > phaseMax || abs(p1-p2) > phaseMax || abs(p0-p2) > phaseMax
}

// finaliseTiles refreshes the per-tile addressing from the current buffer
// formats: byte offsets for every input and output, and the LSC and CAC
// grid positions. Output flips are applied once per retile.
func (be *BackEnd) finaliseTiles() {
	for idx := range be.tiles {
		t := &be.tiles[idx]
		x, y := int(t.InputOffsetX), int(t.InputOffsetY)

		t.InputAddrOffset, t.InputAddrOffset2 = ComputeAddrOffset(&be.beConfig.InputFormat, x, y)
		t.TDNInputAddrOffset, _ = ComputeAddrOffset(&be.beConfig.TDNInputFormat, x, y)
		t.TDNOutputAddrOffset, _ = ComputeAddrOffset(&be.beConfig.TDNOutputFormat, x, y)
		t.StitchInputAddrOffset, _ = ComputeAddrOffset(&be.beConfig.StitchInputFormat, x, y)
		t.StitchOutputAddrOffset, _ = ComputeAddrOffset(&be.beConfig.StitchOutputFormat, x, y)

		logging.Logger().Debug("tile input", "offset_x", x, "offset_y", y,
			"addr_offset", t.InputAddrOffset, "addr_offset2", t.InputAddrOffset2)

		if be.beConfig.Global.BayerEnables&BayerEnableLSC != 0 {
			t.LSCGridOffsetX = uint32((x + int(be.extra.LSC.OffsetX)) * int(be.beConfig.LSC.GridStepX))
			t.LSCGridOffsetY = uint32((y + int(be.extra.LSC.OffsetY)) * int(be.beConfig.LSC.GridStepY))
		}
		if be.beConfig.Global.BayerEnables&BayerEnableCAC != 0 {
			t.CACGridOffsetX = uint32((x + int(be.extra.CAC.OffsetX)) * int(be.beConfig.CAC.GridStepX))
			t.CACGridOffsetY = uint32((y + int(be.extra.CAC.OffsetY)) * int(be.beConfig.CAC.GridStepY))
		}

		if be.beConfig.Global.RGBEnables&RGBEnableHOG != 0 && t.OutputWidth[HOGOutputBranch] != 0 {
			// HOG cells follow the unflipped branch 1 geometry: the block
			// taps the image before the output transform.
			hx := int(t.OutputOffsetX[HOGOutputBranch])
			hy := int(t.OutputOffsetY[HOGOutputBranch])
			if be.tilesFlipped {
				out := &be.beConfig.OutputFormat[HOGOutputBranch]
				if out.Transform&TransformHFlip != 0 {
					hx = int(out.Image.Width) - hx - int(t.OutputWidth[HOGOutputBranch])
				}
				if out.Transform&TransformVFlip != 0 {
					hy = int(out.Image.Height) - hy - 1
				}
			}
			t.OutputHOGAddrOffset, _ = ComputeAddrOffset(&be.extra.HOGFormat, hx/HOGCellSize, hy/HOGCellSize)
		}

		for j := 0; j < be.variant.BackEndNumBranches(0); j++ {
			if !be.tilesFlipped {
				unflippedX := t.OutputOffsetX[j]
				unflippedY := t.OutputOffsetY[j]

				if be.beConfig.OutputFormat[j].Transform&TransformHFlip != 0 {
					t.OutputOffsetX[j] = be.beConfig.OutputFormat[j].Image.Width - unflippedX - t.OutputWidth[j]
				}
				if be.beConfig.OutputFormat[j].Transform&TransformVFlip != 0 {
					t.OutputOffsetY[j] = be.beConfig.OutputFormat[j].Image.Height - unflippedY - 1
				}
			}

			t.OutputAddrOffset[j], t.OutputAddrOffset2[j] = ComputeAddrOffset(
				&be.beConfig.OutputFormat[j].Image, int(t.OutputOffsetX[j]), int(t.OutputOffsetY[j]))

			logging.Logger().Debug("tile output", "branch", j,
				"offset_x", t.OutputOffsetX[j], "offset_y", t.OutputOffsetY[j],
				"addr_offset", t.OutputAddrOffset[j], "addr_offset2", t.OutputAddrOffset2[j])
		}
	}
	be.tilesFlipped = true
}
