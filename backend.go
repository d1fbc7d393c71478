package libpisp

import (
	"fmt"
)

// Config carries the construction-time options for a BackEnd.
type Config struct {
	// MaxStripeHeight caps the tile height. Zero gets the default limit.
	MaxStripeHeight int
	// MaxTileWidth can only usefully exceed the hardware limit in
	// simulation. Zero gets the hardware limit.
	MaxTileWidth int
	// LockFile, when set, names a file used to serialise configuration
	// updates between processes driving the same hardware. When empty
	// the lock is purely in-process.
	LockFile string
}

// SmartResize requests an output size on a branch, leaving the library
// to apportion the scaling between the downscale and resample blocks.
type SmartResize struct {
	Width  uint16
	Height uint16
}

// BackEnd accumulates configuration for the PiSP back end and turns it
// into the exact register image and tile list that the hardware
// consumes. Methods are not safe for concurrent use; callers serialise
// access with Lock and Unlock.
type BackEnd struct {
	config  Config
	variant PiSPVariant
	tuning  *Tuning

	beConfig BeConfig
	extra    BeConfigExtra

	smartResize      [NumOutputBranches]SmartResize
	smartResizeDirty uint32

	retile         bool
	finaliseTiling bool

	tiles        []Tile
	numTilesX    int
	numTilesY    int
	tilesFlipped bool

	mu backEndLock
}

// NewBackEnd returns a BackEnd for the given hardware variant, seeded
// with the tuned default configuration. A nil tuning selects the
// built-in defaults.
func NewBackEnd(config Config, variant PiSPVariant, tuning *Tuning) (*BackEnd, error) {
	maxTileWidth := variant.BackEndMaxTileWidth(0)
	if config.MaxTileWidth > maxTileWidth {
		return nil, fmt.Errorf("libpisp: configured max tile width %d exceeds %d",
			config.MaxTileWidth, maxTileWidth)
	}

	if tuning == nil {
		var err error
		if tuning, err = DefaultTuning(); err != nil {
			return nil, err
		}
	}

	be := &BackEnd{
		config:         config,
		variant:        variant,
		tuning:         tuning,
		retile:         true,
		finaliseTiling: true,
	}
	if err := be.mu.init(config.LockFile); err != nil {
		return nil, err
	}
	be.InitialiseConfig()
	return be, nil
}

// Close releases the cross-process lock file, if one was configured.
func (be *BackEnd) Close() error {
	return be.mu.close()
}

func (be *BackEnd) checkBranch(i int) {
	if i < 0 || i >= be.variant.BackEndNumBranches(0) {
		panic(fmt.Sprintf("libpisp: output branch %d out of range", i))
	}
}

// InitialiseConfig resets the whole configuration to the tuned
// defaults, marking the seeded blocks dirty so that they are written
// out with the next frame.
func (be *BackEnd) InitialiseConfig() {
	be.beConfig = BeConfig{}
	be.extra = BeConfigExtra{}

	be.beConfig.Debin = be.tuning.Debin()
	be.extra.DirtyBayer |= BayerEnableDebin

	be.beConfig.Demosaic = be.tuning.Demosaic()
	be.extra.DirtyBayer |= BayerEnableDemosaic

	be.beConfig.FalseColour = be.tuning.FalseColour()
	be.extra.DirtyRGB |= RGBEnableFalseColour

	// Start with a sensible default YCbCr; it must be full range on
	// the 2712 C1.
	be.beConfig.YCbCr = be.tuning.YCbCr("jpeg")
	be.beConfig.YCbCrInverse = be.tuning.YCbCrInverse("jpeg")
	be.extra.DirtyRGB |= RGBEnableYCbCr | RGBEnableYCbCrInverse

	be.beConfig.Gamma = be.tuning.Gamma()
	be.extra.DirtyRGB |= RGBEnableGamma

	be.beConfig.Sharpen, be.beConfig.ShFCCombine = be.tuning.Sharpen()
	be.extra.DirtyRGB |= RGBEnableSharpen

	for i := 0; i < be.variant.BackEndNumBranches(0); i++ {
		// A sensible default resampling filter.
		if coef, ok := be.tuning.ResampleFilter("lanczos3"); ok {
			be.beConfig.Resample[i].Coef = coef
		}
		be.extra.DirtyRGB |= RGBEnableResample(i)
	}
}

// SetGlobal replaces the block enables and the Bayer order. Anything
// newly enabled is marked dirty so that it gets finalised before the
// next frame.
func (be *BackEnd) SetGlobal(global GlobalConfig) {
	changedRGB := global.RGBEnables ^ be.beConfig.Global.RGBEnables

	// Must retile when rescaling or HOG blocks come or go.
	if changedRGB&(RGBEnableDownscale0|RGBEnableDownscale1|
		RGBEnableResample0|RGBEnableResample1|RGBEnableHOG) != 0 {
		be.retile = true
	}

	be.extra.DirtyBayer |= global.BayerEnables &^ be.beConfig.Global.BayerEnables
	be.extra.DirtyRGB |= global.RGBEnables &^ be.beConfig.Global.RGBEnables
	be.beConfig.Global = global
	be.beConfig.Global.Pad = [3]uint8{}
	be.extra.Dirty |= DirtyGlobal
}

// Global returns the current block enables and Bayer order.
func (be *BackEnd) Global() GlobalConfig {
	return be.beConfig.Global
}

func (be *BackEnd) SetInputFormat(inputFormat ImageFormatConfig) {
	be.beConfig.InputFormat = inputFormat
	be.extra.DirtyBayer |= BayerEnableInput
	be.retile = true
}

// SetInputBuffer records the input DMA addresses. They pass through to
// the hardware untouched.
func (be *BackEnd) SetInputBuffer(inputBuffer TriplaneBufferConfig) {
	be.beConfig.InputBuffer = inputBuffer
}

func (be *BackEnd) SetDecompress(decompress DecompressConfig) {
	be.beConfig.Decompress = decompress
	be.extra.DirtyBayer |= BayerEnableDecompress
}

func (be *BackEnd) SetDPC(dpc DPCConfig) {
	be.beConfig.DPC = dpc
	be.beConfig.DPC.Pad = 0
	be.extra.DirtyBayer |= BayerEnableDPC
}

func (be *BackEnd) SetGEQ(geq GEQConfig) {
	be.beConfig.GEQ = geq
	be.beConfig.GEQ.SlopeSharper &= GEQSlopeMask | GEQSharper
	be.extra.DirtyBayer |= BayerEnableGEQ
}

// SetTDNInputFormat sets the format of the temporal denoise feedback
// input. The TDN input address is written for every frame.
func (be *BackEnd) SetTDNInputFormat(tdnInputFormat ImageFormatConfig) {
	be.beConfig.TDNInputFormat = tdnInputFormat
	be.extra.DirtyBayer |= BayerEnableTDNInput
	be.finaliseTiling = true
}

func (be *BackEnd) SetTDNDecompress(tdnDecompress DecompressConfig) {
	be.beConfig.TDNDecompress = tdnDecompress
	be.extra.DirtyBayer |= BayerEnableTDNDecompress
}

func (be *BackEnd) SetTDN(tdn TDNConfig) {
	be.beConfig.TDN = tdn
	be.beConfig.TDN.Pad = 0
	be.extra.DirtyBayer |= BayerEnableTDN
}

func (be *BackEnd) TDN() TDNConfig {
	return be.beConfig.TDN
}

func (be *BackEnd) SetTDNCompress(tdnCompress CompressConfig) {
	be.beConfig.TDNCompress = tdnCompress
	be.extra.DirtyBayer |= BayerEnableTDNCompress
}

func (be *BackEnd) SetTDNOutputFormat(tdnOutputFormat ImageFormatConfig) {
	be.beConfig.TDNOutputFormat = tdnOutputFormat
	be.extra.DirtyBayer |= BayerEnableTDNOutput
	be.finaliseTiling = true
}

func (be *BackEnd) TDNOutputFormat() ImageFormatConfig {
	return be.beConfig.TDNOutputFormat
}

func (be *BackEnd) SetSDN(sdn SDNConfig) {
	be.beConfig.SDN = sdn
	be.beConfig.SDN.Pad = 0
	be.extra.DirtyBayer |= BayerEnableSDN
}

func (be *BackEnd) SetBLC(blc BLAConfig) {
	be.beConfig.BLC = blc
	be.beConfig.BLC.Pad = [2]uint8{}
	be.extra.DirtyBayer |= BayerEnableBLC
}

func (be *BackEnd) SetStitchInputFormat(stitchInputFormat ImageFormatConfig) {
	be.beConfig.StitchInputFormat = stitchInputFormat
	be.beConfig.Stitch.Pad = 0
	be.extra.DirtyBayer |= BayerEnableStitchInput
	be.finaliseTiling = true
}

func (be *BackEnd) StitchInputFormat() ImageFormatConfig {
	return be.beConfig.StitchInputFormat
}

func (be *BackEnd) SetStitchDecompress(stitchDecompress DecompressConfig) {
	be.beConfig.StitchDecompress = stitchDecompress
	be.extra.DirtyBayer |= BayerEnableStitchDecompress
}

func (be *BackEnd) SetStitch(stitch StitchConfig) {
	be.beConfig.Stitch = stitch
	be.extra.DirtyBayer |= BayerEnableStitch
}

func (be *BackEnd) SetStitchCompress(stitchCompress CompressConfig) {
	be.beConfig.StitchCompress = stitchCompress
	be.extra.DirtyBayer |= BayerEnableStitchCompress
}

func (be *BackEnd) SetStitchOutputFormat(stitchOutputFormat ImageFormatConfig) {
	be.beConfig.StitchOutputFormat = stitchOutputFormat
	be.extra.DirtyBayer |= BayerEnableStitchOutput
	be.finaliseTiling = true
}

func (be *BackEnd) StitchOutputFormat() ImageFormatConfig {
	return be.beConfig.StitchOutputFormat
}

func (be *BackEnd) SetCDN(cdn CDNConfig) {
	be.beConfig.CDN = cdn
	be.extra.DirtyBayer |= BayerEnableCDN
}

func (be *BackEnd) SetWBG(wbg WBGConfig) {
	be.beConfig.WBG = wbg
	be.beConfig.WBG.Pad = [2]uint8{}
	be.extra.DirtyBayer |= BayerEnableWBG
}

func (be *BackEnd) WBG() WBGConfig {
	return be.beConfig.WBG
}

// SetLSC sets the lens shading tables. Retiling state is only touched
// when the grid geometry changes, not for new cell coefficients.
func (be *BackEnd) SetLSC(lsc LSCConfig, extra LSCExtra) {
	if lsc.GridStepX != be.beConfig.LSC.GridStepX || lsc.GridStepY != be.beConfig.LSC.GridStepY {
		be.finaliseTiling = true
	}
	be.beConfig.LSC = lsc
	be.extra.DirtyBayer |= BayerEnableLSC
	be.extra.LSC = extra
}

// SetCAC sets the chromatic aberration tables. As with SetLSC, only a
// grid geometry change requires the tiles to be finalised again.
func (be *BackEnd) SetCAC(cac CACConfig, extra CACExtra) {
	if cac.GridStepX != be.beConfig.CAC.GridStepX || cac.GridStepY != be.beConfig.CAC.GridStepY {
		be.finaliseTiling = true
	}
	be.beConfig.CAC = cac
	be.extra.CAC = extra
	be.extra.DirtyBayer |= BayerEnableCAC
}

func (be *BackEnd) SetDebin(debin DebinConfig) {
	be.beConfig.Debin = debin
	be.beConfig.Debin.Pad = [2]int8{}
	be.extra.DirtyBayer |= BayerEnableDebin
}

func (be *BackEnd) Debin() DebinConfig {
	return be.beConfig.Debin
}

func (be *BackEnd) SetTonemap(tonemap TonemapConfig) {
	be.beConfig.Tonemap = tonemap
	be.extra.DirtyBayer |= BayerEnableTonemap
}

func (be *BackEnd) SetDemosaic(demosaic DemosaicConfig) {
	be.beConfig.Demosaic = demosaic
	be.beConfig.Demosaic.Pad = [2]uint8{}
	be.extra.DirtyBayer |= BayerEnableDemosaic
}

func (be *BackEnd) Demosaic() DemosaicConfig {
	return be.beConfig.Demosaic
}

func (be *BackEnd) SetCCM(ccm CCMConfig) {
	be.beConfig.CCM = ccm
	be.beConfig.CCM.Pad = [2]uint8{}
	be.extra.DirtyRGB |= RGBEnableCCM
}

func (be *BackEnd) SetSatControl(satControl SatControlConfig) {
	be.beConfig.SatControl = satControl
	be.beConfig.SatControl.Pad = 0
	be.extra.DirtyRGB |= RGBEnableSatControl
}

func (be *BackEnd) SetYCbCr(ycbcr CCMConfig) {
	be.beConfig.YCbCr = ycbcr
	be.beConfig.YCbCr.Pad = [2]uint8{}
	be.extra.DirtyRGB |= RGBEnableYCbCr
}

func (be *BackEnd) YCbCr() CCMConfig {
	return be.beConfig.YCbCr
}

func (be *BackEnd) SetFalseColour(falseColour FalseColourConfig) {
	be.beConfig.FalseColour = falseColour
	be.beConfig.FalseColour.Pad = [3]uint8{}
	be.extra.DirtyRGB |= RGBEnableFalseColour
}

func (be *BackEnd) SetSharpen(sharpen SharpenConfig) {
	be.beConfig.Sharpen = sharpen
	be.beConfig.Sharpen.Pad0 = [3]int8{}
	be.beConfig.Sharpen.Pad1 = [3]int8{}
	be.beConfig.Sharpen.Pad2 = [3]int8{}
	be.beConfig.Sharpen.Pad3 = [3]int8{}
	be.beConfig.Sharpen.Pad4 = [3]int8{}
	be.beConfig.Sharpen.Pad5 = 0
	be.beConfig.Sharpen.Pad6 = 0
	be.beConfig.Sharpen.Pad7 = 0
	be.beConfig.Sharpen.Pad8 = 0
	be.beConfig.Sharpen.Pad9 = 0
	be.extra.DirtyRGB |= RGBEnableSharpen
}

func (be *BackEnd) Sharpen() SharpenConfig {
	return be.beConfig.Sharpen
}

func (be *BackEnd) SetShFCCombine(shFCCombine ShFCCombineConfig) {
	be.beConfig.ShFCCombine = shFCCombine
	be.beConfig.ShFCCombine.Pad = 0
	be.extra.Dirty |= DirtyShFCCombine
}

func (be *BackEnd) SetYCbCrInverse(ycbcrInverse CCMConfig) {
	be.beConfig.YCbCrInverse = ycbcrInverse
	be.beConfig.YCbCrInverse.Pad = [2]uint8{}
	be.extra.DirtyRGB |= RGBEnableYCbCrInverse
}

func (be *BackEnd) SetGamma(gamma GammaConfig) {
	be.beConfig.Gamma = gamma
	be.extra.DirtyRGB |= RGBEnableGamma
}

func (be *BackEnd) Gamma() GammaConfig {
	return be.beConfig.Gamma
}

// SetCrop sets the crop window that output branch i carves from the
// input image. A zero width and height disables the crop.
func (be *BackEnd) SetCrop(i int, crop CropConfig) {
	be.extra.Crop[i] = crop
	be.extra.Dirty |= DirtyCrop
	be.retile = true
}

func (be *BackEnd) SetCSC(i int, csc CCMConfig) {
	be.beConfig.CSC[i] = csc
	be.extra.DirtyRGB |= RGBEnableCSC(i)
}

func (be *BackEnd) CSC(i int) CCMConfig {
	return be.beConfig.CSC[i]
}

func (be *BackEnd) SetDownscale(i int, downscale DownscaleConfig, extra DownscaleExtra) {
	be.beConfig.Downscale[i] = downscale
	be.extra.Downscale[i] = extra
	be.extra.DirtyRGB |= RGBEnableDownscale(i)
	be.retile = true
}

func (be *BackEnd) SetDownscaleExtra(i int, extra DownscaleExtra) {
	be.extra.Downscale[i] = extra
	be.extra.DirtyRGB |= RGBEnableDownscale(i)
	be.retile = true
}

func (be *BackEnd) SetResample(i int, resample ResampleConfig, extra ResampleExtra) {
	be.beConfig.Resample[i] = resample
	be.extra.Resample[i] = extra
	be.extra.DirtyRGB |= RGBEnableResample(i)
	be.retile = true
}

func (be *BackEnd) SetResampleExtra(i int, extra ResampleExtra) {
	be.extra.Resample[i] = extra
	be.extra.DirtyRGB |= RGBEnableResample(i)
	be.retile = true
}

// SetOutputFormat sets the pixel format, transform and clipping ranges
// of output branch i. Requesting an integral image constrains the
// format to the planar 444 layout the hardware produces for them.
func (be *BackEnd) SetOutputFormat(i int, outputFormat OutputFormatConfig) {
	be.checkBranch(i)
	be.beConfig.OutputFormat[i] = outputFormat

	if outputFormat.Image.Format&FormatIntegralImage != 0 {
		be.beConfig.OutputFormat[i].Image.Format = FormatIntegralImage |
			FormatPlanarityPlanar | FormatSampling444 |
			outputFormat.Image.Format&FormatShiftMask |
			outputFormat.Image.Format&FormatThreeChannel
	}
	be.beConfig.OutputFormat[i].Pad = [3]uint8{}
	be.extra.DirtyRGB |= RGBEnableOutput(i)
	// Only a transform change strictly needs the full retile; anything
	// else would get by with finalising the tiles again.
	be.retile = true
}

func (be *BackEnd) SetHOG(hog HOGConfig) {
	be.beConfig.HOG = hog
	be.extra.DirtyRGB |= RGBEnableHOG
	be.finaliseTiling = true
}

func (be *BackEnd) OutputFormat(i int) OutputFormatConfig {
	be.checkBranch(i)
	return be.beConfig.OutputFormat[i]
}

// mergeRows lists the independently mergeable pieces of configuration
// with the dirty bits that carry each one across.
var mergeRows = []struct {
	bayer BayerEnable
	rgb   RGBEnable
	extra Dirty
	merge func(dst, src *BeConfig, dstExtra, srcExtra *BeConfigExtra)
}{
	{extra: DirtyGlobal, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.Global = s.Global }},
	{extra: DirtyShFCCombine, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.ShFCCombine = s.ShFCCombine }},
	{extra: DirtyCrop, merge: func(_, _ *BeConfig, de, se *BeConfigExtra) { de.Crop = se.Crop }},

	{bayer: BayerEnableDecompress, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.Decompress = s.Decompress }},
	{bayer: BayerEnableDPC, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.DPC = s.DPC }},
	{bayer: BayerEnableGEQ, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.GEQ = s.GEQ }},
	{bayer: BayerEnableTDNInput, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.TDNInputFormat = s.TDNInputFormat }},
	{bayer: BayerEnableTDNDecompress, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.TDNDecompress = s.TDNDecompress }},
	{bayer: BayerEnableTDN, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.TDN = s.TDN }},
	{bayer: BayerEnableTDNCompress, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.TDNCompress = s.TDNCompress }},
	{bayer: BayerEnableTDNOutput, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.TDNOutputFormat = s.TDNOutputFormat }},
	{bayer: BayerEnableSDN, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.SDN = s.SDN }},
	{bayer: BayerEnableBLC, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.BLC = s.BLC }},
	{bayer: BayerEnableStitchCompress, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.StitchCompress = s.StitchCompress }},
	{bayer: BayerEnableStitchOutput, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.StitchOutputFormat = s.StitchOutputFormat }},
	{bayer: BayerEnableStitchInput, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.StitchInputFormat = s.StitchInputFormat }},
	{bayer: BayerEnableStitchDecompress, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.StitchDecompress = s.StitchDecompress }},
	{bayer: BayerEnableStitch, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.Stitch = s.Stitch }},
	{bayer: BayerEnableLSC, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.LSC = s.LSC }},
	{bayer: BayerEnableWBG, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.WBG = s.WBG }},
	{bayer: BayerEnableCDN, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.CDN = s.CDN }},
	{bayer: BayerEnableCAC, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.CAC = s.CAC }},
	{bayer: BayerEnableDebin, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.Debin = s.Debin }},
	{bayer: BayerEnableTonemap, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.Tonemap = s.Tonemap }},
	{bayer: BayerEnableDemosaic, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.Demosaic = s.Demosaic }},

	{rgb: RGBEnableCCM, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.CCM = s.CCM }},
	{rgb: RGBEnableSatControl, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.SatControl = s.SatControl }},
	{rgb: RGBEnableYCbCr, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.YCbCr = s.YCbCr }},
	{rgb: RGBEnableSharpen, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.Sharpen = s.Sharpen }},
	{rgb: RGBEnableFalseColour, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.FalseColour = s.FalseColour }},
	{rgb: RGBEnableYCbCrInverse, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.YCbCrInverse = s.YCbCrInverse }},
	{rgb: RGBEnableGamma, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.Gamma = s.Gamma }},

	{rgb: RGBEnableCSC0, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.CSC[0] = s.CSC[0] }},
	{rgb: RGBEnableDownscale0, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.Downscale[0] = s.Downscale[0] }},
	{rgb: RGBEnableResample0, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.Resample[0] = s.Resample[0] }},
	{rgb: RGBEnableOutput0, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.OutputFormat[0] = s.OutputFormat[0] }},
	{rgb: RGBEnableHOG, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.HOG = s.HOG }},

	{rgb: RGBEnableCSC1, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.CSC[1] = s.CSC[1] }},
	{rgb: RGBEnableDownscale1, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.Downscale[1] = s.Downscale[1] }},
	{rgb: RGBEnableResample1, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.Resample[1] = s.Resample[1] }},
	{rgb: RGBEnableOutput1, merge: func(d, s *BeConfig, _, _ *BeConfigExtra) { d.OutputFormat[1] = s.OutputFormat[1] }},
}

// MergeConfig folds the dirty parts of a donor configuration into this
// backend's, leaving everything else alone. The donor's dirty masks in
// extra say which parts carry over.
func (be *BackEnd) MergeConfig(config *BeConfig, extra *BeConfigExtra) {
	for _, row := range mergeRows {
		if row.bayer&extra.DirtyBayer == 0 && row.rgb&extra.DirtyRGB == 0 &&
			row.extra&extra.Dirty == 0 {
			continue
		}
		row.merge(&be.beConfig, config, &be.extra, extra)
		be.extra.DirtyBayer |= row.bayer
		be.extra.DirtyRGB |= row.rgb
		be.extra.Dirty |= row.extra
		// Force a retile for now; this could become more granular.
		be.retile = true
	}
}

// SetSmartResize requests an automatically apportioned resize on
// output branch i. Non-zero width and height mean enabled.
func (be *BackEnd) SetSmartResize(i int, smartResize SmartResize) {
	be.checkBranch(i)
	be.smartResize[i] = smartResize
	be.smartResizeDirty |= 1 << i
}

// MaxDownscale estimates the largest horizontal downscale the
// configured tile width can support.
func (be *BackEnd) MaxDownscale() int {
	maxTileWidth := be.config.MaxTileWidth
	if maxTileWidth == 0 {
		maxTileWidth = be.variant.BackEndMaxTileWidth(0)
	}

	// A 640-wide tile implementation does 24x safely with formats that
	// want one byte per pixel, and this scales with the tile width.
	const refTileWidth = 640
	return 24 * maxTileWidth / refTileWidth
}

// InitialiseYCbCr returns the tuned YCbCr matrix for the named colour
// space. Unknown names produce a zeroed matrix.
func (be *BackEnd) InitialiseYCbCr(colourSpace string) CCMConfig {
	return be.tuning.YCbCr(colourSpace)
}

// InitialiseYCbCrInverse returns the tuned inverse YCbCr matrix for
// the named colour space.
func (be *BackEnd) InitialiseYCbCrInverse(colourSpace string) CCMConfig {
	return be.tuning.YCbCrInverse(colourSpace)
}

// InitialiseResample returns a resample block loaded with the named
// tuned filter. Unknown names produce zeroed coefficients.
func (be *BackEnd) InitialiseResample(filter string) ResampleConfig {
	var resample ResampleConfig
	resample.Coef, _ = be.tuning.ResampleFilter(filter)
	return resample
}

// InitialiseResampleForRatio returns a resample block loaded with the
// tuned filter appropriate to the given downscale factor.
func (be *BackEnd) InitialiseResampleForRatio(downscale float64) ResampleConfig {
	return ResampleConfig{Coef: be.tuning.ResampleFilterForRatio(downscale)}
}

// InitialiseSharpen returns the tuned sharpening configuration and the
// matching sharpen/false-colour combine settings.
func (be *BackEnd) InitialiseSharpen() (SharpenConfig, ShFCCombineConfig) {
	return be.tuning.Sharpen()
}
