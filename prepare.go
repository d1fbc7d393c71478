package libpisp

import (
	"errors"
	"fmt"

	"github.com/raspberrypi/libpisp/internal/logging"
)

// Fixed-point parameters of the rescaling blocks.
const (
	scalePrecision    = 12
	unityScale        = 1 << scalePrecision
	resamplePrecision = 10
	numPhases         = 16
	numTaps           = 6
)

// checkStride verifies a caller-supplied stride: sufficiently aligned,
// and no smaller than the format actually needs.
func checkStride(c *ImageFormatConfig) error {
	if c.Stride%BackEndOutputMinAlign != 0 || c.Stride2%BackEndOutputMinAlign != 0 {
		return errors.New("libpisp: output stride values not sufficiently aligned")
	}
	if c.Format.Wallpaper() && (c.Stride%128 != 0 || c.Stride2%128 != 0) {
		return errors.New("libpisp: wallpaper format should have 128-byte aligned rolls")
	}

	check := *c
	ComputeStrideAlign(&check, BackEndOutputMinAlign, true)
	if check.Stride > c.Stride || check.Stride2 > c.Stride2 {
		return fmt.Errorf("libpisp: strides should be at least %d and %d but are %d and %d",
			check.Stride, check.Stride2, c.Stride, c.Stride2)
	}
	return nil
}

func finaliseBayerRGBInputs(c *ImageFormatConfig) error {
	if c.Width < BackEndMinTileWidth || c.Height < BackEndMinTileHeight {
		return errors.New("libpisp: input image too small")
	}
	return nil
}

// finaliseInputs checks the input dimensions and strides against the
// constraints of whichever input is in use.
func finaliseInputs(config *BeConfig) error {
	in := &config.InputFormat
	if config.Global.BayerEnables&BayerEnableInput != 0 {
		if in.Width&1 != 0 || in.Height&1 != 0 {
			return errors.New("libpisp: Bayer pipe image dimensions must be even")
		}
		if in.Stride&15 != 0 {
			return errors.New("libpisp: input stride should be at least 16-byte aligned")
		}
	} else if config.Global.RGBEnables&RGBEnableInput != 0 {
		if in.Format.Sampling420() && in.Height&1 != 0 {
			return errors.New("libpisp: 420 input height must be even")
		}
		if (in.Format.Sampling420() || in.Format.Sampling422()) && in.Width&1 != 0 {
			return errors.New("libpisp: 420/422 input width must be even")
		}
		if in.Format.Wallpaper() {
			if in.Stride&127 != 0 || in.Stride2&127 != 0 {
				return errors.New("libpisp: wallpaper format strides must be at least 128-byte aligned")
			}
		} else if in.Stride&15 != 0 {
			return errors.New("libpisp: input strides must be at least 16-byte aligned")
		}
	}
	return nil
}

func finaliseLSC(lsc *LSCConfig, extra *LSCExtra, width, height uint16) error {
	const limit = LSCGridSize << LSCStepPrecision
	// A zero grid step means "stretch the grid over the whole image".
	if lsc.GridStepX == 0 {
		lsc.GridStepX = uint16(limit / int(width))
	}
	if lsc.GridStepY == 0 {
		lsc.GridStepY = uint16(limit / int(height))
	}
	if int(lsc.GridStepX)*(int(width)+int(extra.OffsetX)-1) >= limit ||
		int(lsc.GridStepY)*(int(height)+int(extra.OffsetY)-1) >= limit {
		return errors.New("libpisp: LSC grid does not cover the image")
	}
	return nil
}

func finaliseCAC(cac *CACConfig, extra *CACExtra, width, height uint16) error {
	const limit = CACGridSize << CACStepPrecision
	if cac.GridStepX == 0 {
		cac.GridStepX = uint16(limit / int(width))
	}
	if cac.GridStepY == 0 {
		cac.GridStepY = uint16(limit / int(height))
	}
	if int(cac.GridStepX)*(int(width)+int(extra.OffsetX)-1) >= limit ||
		int(cac.GridStepY)*(int(height)+int(extra.OffsetY)-1) >= limit {
		return errors.New("libpisp: CAC grid does not cover the image")
	}
	return nil
}

func finaliseResample(resample *ResampleConfig, extra *ResampleExtra, width, height uint16) error {
	scaleFactorH := ((int(width) - 1) << scalePrecision) / (int(extra.ScaledWidth) - 1)
	scaleFactorV := ((int(height) - 1) << scalePrecision) / (int(extra.ScaledHeight) - 1)

	if scaleFactorH < unityScale/16 || scaleFactorH >= 16*unityScale ||
		scaleFactorV < unityScale/16 || scaleFactorV >= 16*unityScale {
		return errors.New("libpisp: invalid scaling factors (must be < 16x down/upscale)")
	}

	resample.ScaleFactorH = uint16(scaleFactorH)
	resample.ScaleFactorV = uint16(scaleFactorV)
	return nil
}

func finaliseDownscale(downscale *DownscaleConfig, extra *DownscaleExtra, width, height uint16) error {
	scaleFactorH := (int(width) << scalePrecision) / int(extra.ScaledWidth)
	scaleFactorV := (int(height) << scalePrecision) / int(extra.ScaledHeight)

	if !(scaleFactorH == unityScale || (scaleFactorH >= 2*unityScale && scaleFactorH <= 8*unityScale)) ||
		!(scaleFactorV == unityScale || (scaleFactorV >= 2*unityScale && scaleFactorV <= 8*unityScale)) {
		return errors.New("libpisp: invalid scaling factors (must be 1x or >= 2x && <= 8x)")
	}

	downscale.ScaleFactorH = uint16(scaleFactorH)
	downscale.ScaleFactorV = uint16(scaleFactorV)
	downscale.ScaleRecipH = uint16((int(extra.ScaledWidth) << scalePrecision) / int(width))
	downscale.ScaleRecipV = uint16((int(extra.ScaledHeight) << scalePrecision) / int(height))
	return nil
}

func finaliseDecompression(config *BeConfig) error {
	compressed := config.InputFormat.Format.Compressed()
	decompress := config.Global.BayerEnables&BayerEnableDecompress != 0

	if compressed && !decompress {
		return errors.New("libpisp: input compressed but decompression not enabled")
	}
	if !compressed && decompress {
		return errors.New("libpisp: input uncompressed but decompression enabled")
	}
	if decompress && config.InputFormat.Format.BitsPerSample() != 8 {
		return errors.New("libpisp: compressed input is not 8bpp")
	}
	return nil
}

// checkRawIOFormat checks one of the TDN or stitch buffer formats, which
// must match the input image. Unset dimensions and strides are filled in.
func checkRawIOFormat(c *ImageFormatConfig, width, height uint16) error {
	if c.Width == 0 && c.Height == 0 {
		c.Width = width
		c.Height = height
	} else if c.Width != width || c.Height != height {
		return errors.New("libpisp: image dimensions do not match input")
	}

	if c.Stride == 0 {
		ComputeStride(c, true)
		return nil
	}
	return checkStride(c)
}

func finaliseTDN(config *BeConfig) error {
	enables := config.Global.BayerEnables
	tdnEnabled := enables&BayerEnableTDN != 0
	tdnInputEnabled := enables&BayerEnableTDNInput != 0
	tdnDecompress := enables&BayerEnableTDNDecompress != 0
	tdnCompress := enables&BayerEnableTDNCompress != 0
	tdnOutputEnabled := enables&BayerEnableTDNOutput != 0
	format := config.TDNOutputFormat.Format

	if tdnEnabled && !tdnOutputEnabled {
		return errors.New("libpisp: TDN output not enabled when TDN enabled")
	}
	if format.Compressed() && !tdnCompress {
		return errors.New("libpisp: TDN output compressed but compression not enabled")
	}
	if !format.Compressed() && tdnCompress {
		return errors.New("libpisp: TDN output uncompressed but compression enabled")
	}
	if tdnCompress && format.BitsPerSample() != 8 {
		return errors.New("libpisp: TDN output does not match compression mode")
	}

	if tdnOutputEnabled {
		if err := checkRawIOFormat(&config.TDNOutputFormat, config.InputFormat.Width, config.InputFormat.Height); err != nil {
			return err
		}
	}
	if tdnInputEnabled {
		if err := checkRawIOFormat(&config.TDNInputFormat, config.InputFormat.Width, config.InputFormat.Height); err != nil {
			return err
		}
	}

	switch {
	case !tdnEnabled:
		// TDN output without TDN itself is pointless but harmless, so it
		// stays allowed.
		if tdnInputEnabled {
			return errors.New("libpisp: TDN input enabled but TDN not enabled")
		}
	case config.TDN.Reset != 0:
		if tdnInputEnabled {
			return errors.New("libpisp: TDN input enabled but TDN being reset")
		}
	default:
		if !tdnInputEnabled {
			return errors.New("libpisp: TDN input not enabled but TDN not being reset")
		}
		// An unset TDN input format takes the output format, which is
		// usually the sensible choice.
		if config.TDNInputFormat.Width == 0 && config.TDNInputFormat.Height == 0 {
			config.TDNInputFormat = config.TDNOutputFormat
		}
		if format.Compressed() && !tdnDecompress {
			return errors.New("libpisp: TDN input compressed but decompression not enabled")
		}
		if !format.Compressed() && tdnDecompress {
			return errors.New("libpisp: TDN input uncompressed but decompression enabled")
		}
		if tdnCompress && format.BitsPerSample() != 8 {
			return errors.New("libpisp: TDN output does not match compression mode")
		}
	}
	return nil
}

func finaliseStitch(config *BeConfig) error {
	enables := config.Global.BayerEnables
	stitchEnabled := enables&BayerEnableStitch != 0
	stitchInputEnabled := enables&BayerEnableStitchInput != 0
	stitchDecompress := enables&BayerEnableStitchDecompress != 0
	stitchCompress := enables&BayerEnableStitchCompress != 0
	stitchOutputEnabled := enables&BayerEnableStitchOutput != 0
	inputFormat := config.StitchInputFormat.Format
	outputFormat := config.StitchOutputFormat.Format

	if stitchEnabled != stitchInputEnabled {
		return errors.New("libpisp: stitch and stitch input should be enabled/disabled together")
	}
	if stitchInputEnabled && inputFormat.Compressed() && !stitchDecompress {
		return errors.New("libpisp: stitch output compressed but decompression not enabled")
	}
	if stitchInputEnabled && !inputFormat.Compressed() && stitchDecompress {
		return errors.New("libpisp: stitch output uncompressed but decompression enabled")
	}
	if stitchOutputEnabled && outputFormat.Compressed() && !stitchCompress {
		return errors.New("libpisp: stitch output compressed but compression not enabled")
	}
	if stitchOutputEnabled && !outputFormat.Compressed() && stitchCompress {
		return errors.New("libpisp: stitch output uncompressed but compression enabled")
	}
	if stitchDecompress && inputFormat.BitsPerSample() != 8 {
		return errors.New("libpisp: stitch input does not match compression mode")
	}
	if stitchCompress && outputFormat.BitsPerSample() != 8 {
		return errors.New("libpisp: stitch output does not match compression mode")
	}

	if stitchOutputEnabled {
		if err := checkRawIOFormat(&config.StitchOutputFormat, config.InputFormat.Width, config.InputFormat.Height); err != nil {
			return err
		}
	}
	if stitchInputEnabled {
		if err := checkRawIOFormat(&config.StitchInputFormat, config.InputFormat.Width, config.InputFormat.Height); err != nil {
			return err
		}
	}

	// Fill in the motion threshold reciprocal if the caller left it out.
	if config.Stitch.MotionThresholdRecip == 0 {
		if config.Stitch.MotionThreshold256 == 0 {
			config.Stitch.MotionThresholdRecip = 255
		} else {
			// Round up, the block works very slightly better that way.
			mt := int(config.Stitch.MotionThreshold256)
			config.Stitch.MotionThresholdRecip = uint8(min(255, (256+mt-1)/mt))
		}
	}
	return nil
}

func finaliseOutput(config *OutputFormatConfig) error {
	// A zero high clipping bound means no clipping was intended.
	if config.Hi == 0 {
		config.Hi = 65535
	}
	if config.Hi2 == 0 {
		config.Hi2 = 65535
	}

	image := &config.Image
	if image.Width < BackEndMinTileWidth || image.Height < BackEndMinTileHeight {
		return errors.New("libpisp: output image too small")
	}
	if image.Format.Sampling420() && image.Height&1 != 0 {
		return errors.New("libpisp: 420 image height should be even")
	}
	if (image.Format.Sampling420() || image.Format.Sampling422()) && image.Width&1 != 0 {
		return errors.New("libpisp: 420/422 image width should be even")
	}
	if image.Format.Wallpaper() {
		if image.Stride&127 != 0 || image.Stride2&127 != 0 {
			return errors.New("libpisp: wallpaper image stride should be at least 128-byte aligned")
		}
	} else if image.Stride&15 != 0 || image.Stride2&15 != 0 {
		return errors.New("libpisp: image stride should be at least 16-byte aligned")
	}
	return nil
}

// finaliseConfig revalidates and completes every block whose configuration
// changed since the last frame, then checks the enables make sense as a
// whole.
func (be *BackEnd) finaliseConfig() error {
	// For most blocks only the dirty and enabled ones matter.
	dirtyBayer := be.extra.DirtyBayer & be.beConfig.Global.BayerEnables
	dirtyRGB := be.extra.DirtyRGB & be.beConfig.Global.RGBEnables

	if dirtyBayer&BayerEnableInput != 0 || dirtyRGB&RGBEnableInput != 0 {
		if err := finaliseBayerRGBInputs(&be.beConfig.InputFormat); err != nil {
			return err
		}
	}
	if dirtyBayer&BayerEnableInput != 0 {
		if err := finaliseInputs(&be.beConfig); err != nil {
			return err
		}
	}
	if dirtyBayer&(BayerEnableInput|BayerEnableDecompress) != 0 {
		if err := finaliseDecompression(&be.beConfig); err != nil {
			return err
		}
	}

	// TDN and stitch validate their enable combinations too, so they run
	// off the raw dirty bits.
	const tdnGroup = BayerEnableTDN | BayerEnableTDNInput | BayerEnableTDNDecompress |
		BayerEnableTDNCompress | BayerEnableTDNOutput
	if be.extra.DirtyBayer&tdnGroup != 0 {
		if err := finaliseTDN(&be.beConfig); err != nil {
			return err
		}
	}
	const stitchGroup = BayerEnableStitch | BayerEnableStitchInput | BayerEnableStitchDecompress |
		BayerEnableStitchCompress | BayerEnableStitchOutput
	if be.extra.DirtyBayer&stitchGroup != 0 {
		if err := finaliseStitch(&be.beConfig); err != nil {
			return err
		}
	}

	if dirtyBayer&BayerEnableLSC != 0 {
		if err := finaliseLSC(&be.beConfig.LSC, &be.extra.LSC,
			be.beConfig.InputFormat.Width, be.beConfig.InputFormat.Height); err != nil {
			return err
		}
	}
	if dirtyBayer&BayerEnableCAC != 0 {
		if err := finaliseCAC(&be.beConfig.CAC, &be.extra.CAC,
			be.beConfig.InputFormat.Width, be.beConfig.InputFormat.Height); err != nil {
			return err
		}
	}

	for j := 0; j < be.variant.BackEndNumBranches(0); j++ {
		if be.beConfig.Global.RGBEnables&RGBEnableOutput(j) == 0 {
			continue
		}

		// The crop is in use when it has a non-zero width.
		w, h := be.extra.Crop[j].Width, be.extra.Crop[j].Height
		if w == 0 {
			w, h = be.beConfig.InputFormat.Width, be.beConfig.InputFormat.Height
		}

		if dirtyRGB&RGBEnableDownscale(j) != 0 {
			if !be.variant.BackEndDownscalerAvailable(0, j) {
				return fmt.Errorf("libpisp: downscale is not available in output branch %d", j)
			}
			if err := finaliseDownscale(&be.beConfig.Downscale[j], &be.extra.Downscale[j], w, h); err != nil {
				return err
			}
		}
		if be.beConfig.Global.RGBEnables&RGBEnableDownscale(j) != 0 {
			// With the downscaler in use the resample stage sees its output.
			w, h = be.extra.Downscale[j].ScaledWidth, be.extra.Downscale[j].ScaledHeight
		}

		if dirtyRGB&RGBEnableResample(j) != 0 {
			if err := finaliseResample(&be.beConfig.Resample[j], &be.extra.Resample[j], w, h); err != nil {
				return err
			}
		}
		if dirtyRGB&RGBEnableOutput(j) != 0 {
			if err := finaliseOutput(&be.beConfig.OutputFormat[j]); err != nil {
				return err
			}
		}
	}

	// Finally insist on a sane collection of enable bits.
	if be.beConfig.Global.BayerEnables != 0 && be.beConfig.Global.BayerEnables&BayerEnableInput == 0 {
		return errors.New("libpisp: Bayer input disabled but Bayer pipe active")
	}
	bayerInput := be.beConfig.Global.BayerEnables&BayerEnableInput != 0
	rgbInput := be.beConfig.Global.RGBEnables&RGBEnableInput != 0
	if bayerInput == rgbInput {
		return errors.New("libpisp: exactly one of Bayer and RGB inputs should be enabled")
	}

	outputs := be.beConfig.Global.BayerEnables & (BayerEnableTDNOutput | BayerEnableStitchOutput)
	var branchOutputs RGBEnable
	for i := 0; i < be.variant.BackEndNumBranches(0); i++ {
		branchOutputs |= be.beConfig.Global.RGBEnables & RGBEnableOutput(i)
	}
	if outputs == 0 && branchOutputs == 0 {
		return errors.New("libpisp: PiSP not configured to do anything")
	}
	return nil
}

// getOutputSize gives the final image size on a branch without checking
// whether the output is enabled.
func (be *BackEnd) getOutputSize(i int, ifmt *ImageFormatConfig) (uint16, uint16) {
	switch {
	case be.smartResize[i].Width != 0 && be.smartResize[i].Height != 0:
		return be.smartResize[i].Width, be.smartResize[i].Height
	case be.beConfig.Global.RGBEnables&RGBEnableResample(i) != 0:
		return be.extra.Resample[i].ScaledWidth, be.extra.Resample[i].ScaledHeight
	case be.beConfig.Global.RGBEnables&RGBEnableDownscale(i) != 0:
		return be.extra.Downscale[i].ScaledWidth, be.extra.Downscale[i].ScaledHeight
	case be.extra.Crop[i].Width != 0:
		// The crop window is all zeroes when disabled.
		return be.extra.Crop[i].Width, be.extra.Crop[i].Height
	default:
		return ifmt.Width, ifmt.Height
	}
}

// ComputeOutputImageFormat fills in out with the image format that branch i
// will produce from an input in format ifmt, giving the size left after any
// cropping and rescaling and computing strides if the configured ones are
// zero. It reports whether the branch is enabled; a disabled branch gets
// zeroed dimensions and strides.
func (be *BackEnd) ComputeOutputImageFormat(i int, out, ifmt *ImageFormatConfig) (bool, error) {
	be.checkBranch(i)

	*out = be.beConfig.OutputFormat[i].Image
	if be.beConfig.Global.RGBEnables&RGBEnableOutput(i) == 0 {
		out.Width = 0
		out.Height = 0
		out.Stride = 0
		out.Stride2 = 0
		return false, nil
	}

	out.Width, out.Height = be.getOutputSize(i, ifmt)
	if out.Stride == 0 {
		ComputeStride(out, true)
	} else if err := checkStride(out); err != nil {
		return false, err
	}
	return true, nil
}

// ComputeHogOutputImageFormat fills in out with the format of the HOG
// feature buffer for an input in format ifmt. Cells cover
// HOGCellSize x HOGCellSize pixels of the branch 1 image; border pixels
// have no gradient, so a row of w pixels yields (w-2)/HOGCellSize complete
// cells. It reports whether HOG is enabled.
func (be *BackEnd) ComputeHogOutputImageFormat(out, ifmt *ImageFormatConfig) (bool, error) {
	*out = ImageFormatConfig{}
	if be.beConfig.Global.RGBEnables&RGBEnableHOG == 0 {
		return false, nil
	}

	w, h := be.getOutputSize(HOGOutputBranch, ifmt)
	out.Width = uint16(max(0, (int(w)-2)/HOGCellSize))
	out.Height = uint16(max(0, (int(h)-2)/HOGCellSize))
	if be.beConfig.HOG.ComputeSigned != 0 {
		out.Format = FormatHOGSigned
	} else {
		out.Format = FormatHOGUnsigned
	}

	out.Stride = int32(be.beConfig.HOG.Stride)
	if out.Stride == 0 {
		ComputeStride(out, true)
	} else if err := checkStride(out); err != nil {
		return false, err
	}
	return true, nil
}

// Prepare finalises the accumulated configuration for a frame, revalidating
// whatever changed since the last call and retiling if the geometry moved.
// When config is non-nil the finished register image and tile list are
// copied into it and the accumulated dirty state is cleared; passing nil
// checks the configuration without consuming the update.
func (be *BackEnd) Prepare(config *TilesConfig) error {
	logging.Logger().Debug("preparing new frame")

	bayerInput := be.beConfig.Global.BayerEnables&BayerEnableInput != 0
	rgbInput := be.beConfig.Global.RGBEnables&RGBEnableInput != 0
	if !bayerInput && !rgbInput {
		return errors.New("libpisp: neither Bayer nor RGB inputs are enabled")
	}
	if bayerInput && rgbInput {
		return errors.New("libpisp: both Bayer and RGB inputs are enabled")
	}

	// Pin down the output formats first: the finalising and tiling below
	// both depend on them.
	for i := 0; i < be.variant.BackEndNumBranches(0); i++ {
		image := &be.beConfig.OutputFormat[i].Image
		if _, err := be.ComputeOutputImageFormat(i, image, &be.beConfig.InputFormat); err != nil {
			return err
		}
		if image.Format&FormatIntegralImage != 0 {
			return errors.New("libpisp: integral images are not supported")
		}
	}
	hogEnabled, err := be.ComputeHogOutputImageFormat(&be.extra.HOGFormat, &be.beConfig.InputFormat)
	if err != nil {
		return err
	}
	if hogEnabled && be.beConfig.HOG.Stride == 0 {
		be.beConfig.HOG.Stride = uint32(be.extra.HOGFormat.Stride)
	}

	be.updateSmartResize()
	if err := be.finaliseConfig(); err != nil {
		return err
	}
	if err := be.updateTiles(); err != nil {
		return err
	}

	if config != nil {
		config.NumTiles = int32(be.numTilesX * be.numTilesY)
		copy(config.Tiles[:], be.tiles)
		config.Config = be.beConfig
		be.extra.DirtyBayer = 0
		be.extra.DirtyRGB = 0
		be.extra.Dirty = 0
	}
	return nil
}
