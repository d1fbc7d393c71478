package libpisp

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Byte alignment required of input buffers.
const (
	BackEndInputAlign      = 4
	BackEndCompressedAlign = 8
)

// Minimum required and preferred byte alignments for output buffers.
const (
	BackEndOutputMinAlign = 16
	BackEndOutputMaxAlign = 64
)

// Minimum allowed tile dimensions anywhere in the pipeline.
const (
	BackEndMinTileWidth  = 16
	BackEndMinTileHeight = 16
)

const (
	// NumOutputBranches is the number of output branches the back end
	// hardware provides.
	NumOutputBranches = 2
	// HOGOutputBranch is the output branch feeding the HOG block.
	HOGOutputBranch = 1
	// HOGCellSize is the pixel span of one HOG histogram cell.
	HOGCellSize = 8
	// NumTiles is the fixed capacity of the tile array.
	NumTiles = 64
)

// BayerEnable selects blocks in the Bayer (front) half of the pipeline.
// The same bits double as dirty flags for those blocks.
type BayerEnable uint32

const (
	BayerEnableInput            BayerEnable = 0x000001
	BayerEnableDecompress       BayerEnable = 0x000002
	BayerEnableDPC              BayerEnable = 0x000004
	BayerEnableGEQ              BayerEnable = 0x000008
	BayerEnableTDNInput         BayerEnable = 0x000010
	BayerEnableTDNDecompress    BayerEnable = 0x000020
	BayerEnableTDN              BayerEnable = 0x000040
	BayerEnableTDNCompress      BayerEnable = 0x000080
	BayerEnableTDNOutput        BayerEnable = 0x000100
	BayerEnableSDN              BayerEnable = 0x000200
	BayerEnableBLC              BayerEnable = 0x000400
	BayerEnableStitchInput      BayerEnable = 0x000800
	BayerEnableStitchDecompress BayerEnable = 0x001000
	BayerEnableStitch           BayerEnable = 0x002000
	BayerEnableStitchCompress   BayerEnable = 0x004000
	BayerEnableStitchOutput     BayerEnable = 0x008000
	BayerEnableWBG              BayerEnable = 0x010000
	BayerEnableCDN              BayerEnable = 0x020000
	BayerEnableLSC              BayerEnable = 0x040000
	BayerEnableTonemap          BayerEnable = 0x080000
	BayerEnableCAC              BayerEnable = 0x100000
	BayerEnableDebin            BayerEnable = 0x200000
	BayerEnableDemosaic         BayerEnable = 0x400000
)

// RGBEnable selects blocks in the RGB (back) half of the pipeline.
// The same bits double as dirty flags for those blocks.
type RGBEnable uint32

const (
	RGBEnableInput       RGBEnable = 0x000001
	RGBEnableCCM         RGBEnable = 0x000002
	RGBEnableSatControl  RGBEnable = 0x000004
	RGBEnableYCbCr       RGBEnable = 0x000008
	RGBEnableFalseColour RGBEnable = 0x000010
	RGBEnableSharpen     RGBEnable = 0x000020
	// Preferred colours would occupy 0x000040.
	RGBEnableYCbCrInverse RGBEnable = 0x000080
	RGBEnableGamma        RGBEnable = 0x000100
	RGBEnableCSC0         RGBEnable = 0x000200
	RGBEnableCSC1         RGBEnable = 0x000400
	RGBEnableDownscale0   RGBEnable = 0x001000
	RGBEnableDownscale1   RGBEnable = 0x002000
	RGBEnableResample0    RGBEnable = 0x008000
	RGBEnableResample1    RGBEnable = 0x010000
	RGBEnableOutput0      RGBEnable = 0x040000
	RGBEnableOutput1      RGBEnable = 0x080000
	RGBEnableHOG          RGBEnable = 0x200000
)

// RGBEnableCSC returns the CSC enable bit for output branch i.
func RGBEnableCSC(i int) RGBEnable { return RGBEnableCSC0 << i }

// RGBEnableDownscale returns the downscale enable bit for output branch i.
func RGBEnableDownscale(i int) RGBEnable { return RGBEnableDownscale0 << i }

// RGBEnableResample returns the resample enable bit for output branch i.
func RGBEnableResample(i int) RGBEnable { return RGBEnableResample0 << i }

// RGBEnableOutput returns the output enable bit for output branch i.
func RGBEnableOutput(i int) RGBEnable { return RGBEnableOutput0 << i }

// Dirty covers state with no enable bit of its own.
type Dirty uint32

const (
	DirtyGlobal      Dirty = 0x0001
	DirtyShFCCombine Dirty = 0x0002
	DirtyCrop        Dirty = 0x0004
)

// BayerOrder gives the Bayer mosaic phase of the raw input.
type BayerOrder uint8

const (
	BayerOrderRGGB      BayerOrder = 0
	BayerOrderGBRG      BayerOrder = 1
	BayerOrderBGGR      BayerOrder = 2
	BayerOrderGRBG      BayerOrder = 3
	BayerOrderGreyscale BayerOrder = 128
)

// GlobalConfig holds the block enables and the Bayer order of the input.
type GlobalConfig struct {
	BayerEnables BayerEnable
	RGBEnables   RGBEnable
	BayerOrder   BayerOrder
	Pad          [3]uint8
}

// Compression modes for the mode field of CompressConfig and
// DecompressConfig. Delta is the recommended mode for normal use;
// Combined trades accuracy for dynamic range and suits HDR pipelines.
const (
	CompressModeCompand  = 1
	CompressModeDelta    = 2
	CompressModeCombined = 3
)

// DecompressConfig configures one of the decompression blocks.
type DecompressConfig struct {
	Offset uint16
	Pad    uint8
	Mode   uint8
}

// CompressConfig configures one of the compression blocks.
type CompressConfig struct {
	Offset uint16
	Pad    uint8
	Mode   uint8
}

// DPCFlagFoldback enables foldback correction in the DPC block.
const DPCFlagFoldback = 1

// DPCConfig configures defective pixel correction.
type DPCConfig struct {
	CoeffLevel uint8
	CoeffRange uint8
	Pad        uint8
	Flags      uint8
}

const (
	// GEQSharper is the top bit of SlopeSharper; the slope value
	// occupies the bottom 10 bits.
	GEQSharper   = 1 << 15
	GEQSlopeMask = (1 << 10) - 1
)

// GEQConfig configures the green equalisation block.
type GEQConfig struct {
	Offset       uint16
	SlopeSharper uint16
	Min          uint16
	Max          uint16
}

// TDNConfig configures temporal denoise.
type TDNConfig struct {
	BlackLevel    uint16
	Ratio         uint16
	NoiseConstant uint16
	NoiseSlope    uint16
	Threshold     uint16
	Reset         uint8
	Pad           uint8
}

// SDNConfig configures spatial denoise.
type SDNConfig struct {
	BlackLevel     uint16
	Leakage        uint8
	Pad            uint8
	NoiseConstant  uint16
	NoiseSlope     uint16
	NoiseConstant2 uint16
	NoiseSlope2    uint16
}

// BLAConfig configures Bayer black level adjustment.
type BLAConfig struct {
	BlackLevelR      uint16
	BlackLevelGR     uint16
	BlackLevelGB     uint16
	BlackLevelB      uint16
	OutputBlackLevel uint16
	Pad              [2]uint8
}

const (
	// StitchStreamingLong is the top bit of ExposureRatio, set when the
	// streaming input is the long exposure.
	StitchStreamingLong     = 0x8000
	StitchExposureRatioMask = 0x7fff
)

// StitchConfig configures HDR frame stitching.
type StitchConfig struct {
	ThresholdLo        uint16
	ThresholdDiffPower uint8
	Pad                uint8
	ExposureRatio      uint16
	MotionThreshold256 uint8
	// MotionThresholdRecip approximates 256 / MotionThreshold256.
	MotionThresholdRecip uint8
}

// WBGConfig configures white balance gains.
type WBGConfig struct {
	GainR uint16
	GainG uint16
	GainB uint16
	Pad   [2]uint8
}

// CDNConfig configures colour denoise.
type CDNConfig struct {
	Thresh      uint16
	IIRStrength uint8
	GAdjust     uint8
}

const (
	LSCLogGridSize   = 5
	LSCGridSize      = 1 << LSCLogGridSize
	LSCStepPrecision = 18
)

// LSCConfig configures lens shading correction. Grid steps are
// (1 << LSCStepPrecision) / grid_cell_size in each direction, and the
// LUT jointly encodes the RGB gains in 32 bits per grid vertex.
type LSCConfig struct {
	GridStepX uint16
	GridStepY uint16
	LUTPacked [LSCGridSize + 1][LSCGridSize + 1]uint32
}

// LSCExtra positions the LSC grid within the (uncropped) sensor image.
type LSCExtra struct {
	OffsetX uint16
	OffsetY uint16
}

const (
	CACLogGridSize   = 3
	CACGridSize      = 1 << CACLogGridSize
	CACStepPrecision = 20
)

// CACConfig configures chromatic aberration correction. The LUT is
// indexed [gridY][gridX][rb][xy].
type CACConfig struct {
	GridStepX uint16
	GridStepY uint16
	LUT       [CACGridSize + 1][CACGridSize + 1][2][2]int8
}

// CACExtra positions the CAC grid within the (uncropped) sensor image.
type CACExtra struct {
	OffsetX uint16
	OffsetY uint16
}

// DebinNumCoeffs is the tap count of the de-binning filter.
const DebinNumCoeffs = 4

// DebinConfig configures the de-binning (bin reversal) block.
type DebinConfig struct {
	Coeffs  [DebinNumCoeffs]int8
	HEnable int8
	VEnable int8
	Pad     [2]int8
}

// TonemapLUTSize is the number of entries in the tonemap LUT.
const TonemapLUTSize = 64

// TonemapConfig configures local tone mapping.
type TonemapConfig struct {
	DetailConstant uint16
	DetailSlope    uint16
	IIRStrength    uint16
	Strength       uint16
	LUT            [TonemapLUTSize]uint32
}

// DemosaicConfig configures the demosaic block.
type DemosaicConfig struct {
	Sharper uint8
	FCMode  uint8
	Pad     [2]uint8
}

// CCMConfig holds a 3x3 colour matrix with per-channel offsets. The
// same layout serves the CCM, YCbCr, inverse YCbCr and CSC blocks.
type CCMConfig struct {
	Coeffs  [9]int16
	Pad     [2]uint8
	Offsets [3]int32
}

// SatControlConfig configures saturation control shifts.
type SatControlConfig struct {
	ShiftR uint8
	ShiftG uint8
	ShiftB uint8
	Pad    uint8
}

// FalseColourConfig configures false colour suppression.
type FalseColourConfig struct {
	Distance uint8
	Pad      [3]uint8
}

const (
	// SharpenKernelSize is the side length of each sharpening kernel.
	SharpenKernelSize = 5
	// SharpenFuncNumPoints is the number of points in the response
	// functions.
	SharpenFuncNumPoints = 9
)

// SharpenConfig configures the five-kernel sharpening block.
type SharpenConfig struct {
	Kernel0          [SharpenKernelSize * SharpenKernelSize]int8
	Pad0             [3]int8
	Kernel1          [SharpenKernelSize * SharpenKernelSize]int8
	Pad1             [3]int8
	Kernel2          [SharpenKernelSize * SharpenKernelSize]int8
	Pad2             [3]int8
	Kernel3          [SharpenKernelSize * SharpenKernelSize]int8
	Pad3             [3]int8
	Kernel4          [SharpenKernelSize * SharpenKernelSize]int8
	Pad4             [3]int8
	ThresholdOffset0 uint16
	ThresholdSlope0  uint16
	Scale0           uint16
	Pad5             uint16
	ThresholdOffset1 uint16
	ThresholdSlope1  uint16
	Scale1           uint16
	Pad6             uint16
	ThresholdOffset2 uint16
	ThresholdSlope2  uint16
	Scale2           uint16
	Pad7             uint16
	ThresholdOffset3 uint16
	ThresholdSlope3  uint16
	Scale3           uint16
	Pad8             uint16
	ThresholdOffset4 uint16
	ThresholdSlope4  uint16
	Scale4           uint16
	Pad9             uint16
	PositiveStrength uint16
	PositivePreLimit uint16
	PositiveFunc     [SharpenFuncNumPoints]uint16
	PositiveLimit    uint16
	NegativeStrength uint16
	NegativePreLimit uint16
	NegativeFunc     [SharpenFuncNumPoints]uint16
	NegativeLimit    uint16
	Enables          uint8
	White            uint8
	Black            uint8
	Grey             uint8
}

// ShFCCombineConfig configures how sharpened luma and false-colour
// corrected chroma recombine.
type ShFCCombineConfig struct {
	YFactor  uint8
	C1Factor uint8
	C2Factor uint8
	Pad      uint8
}

// GammaLUTSize is the number of entries in the gamma LUT.
const GammaLUTSize = 64

// GammaConfig holds the gamma curve. Each entry packs the output level
// in the low 16 bits and the slope to the next entry in the high 16.
type GammaConfig struct {
	LUT [GammaLUTSize]uint32
}

// CropConfig is a crop window in pipeline coordinates.
type CropConfig struct {
	OffsetX uint16
	OffsetY uint16
	Width   uint16
	Height  uint16
}

// ResampleFilterSize is the coefficient count of a resample filter:
// 16 phases of 6 taps.
const ResampleFilterSize = 96

// ResampleConfig configures one branch of the resample block.
type ResampleConfig struct {
	ScaleFactorH uint16
	ScaleFactorV uint16
	Coef         [ResampleFilterSize]int16
}

// ResampleExtra carries the resample output size and the per-plane
// initial phases that tiling computes.
type ResampleExtra struct {
	ScaledWidth   uint16
	ScaledHeight  uint16
	InitialPhaseH [3]int16
	InitialPhaseV [3]int16
}

// DownscaleConfig configures one branch of the downscale block.
type DownscaleConfig struct {
	ScaleFactorH uint16
	ScaleFactorV uint16
	ScaleRecipH  uint16
	ScaleRecipV  uint16
}

// DownscaleExtra carries the downscale output size.
type DownscaleExtra struct {
	ScaledWidth  uint16
	ScaledHeight uint16
}

// HOGConfig configures the histogram-of-gradients block.
type HOGConfig struct {
	ComputeSigned uint8
	ChannelMix    [3]uint8
	Stride        uint32
}

// AXIConfig sets bus quality-of-service and cache/protection bits.
// The cache/prot fields pack { prot[2:0], cache[3:0] }.
type AXIConfig struct {
	RQOS       uint8
	RCacheProt uint8
	WQOS       uint8
	WCacheProt uint8
}

// Transform flips an output image as it is written out.
type Transform uint8

const (
	TransformNone   Transform = 0x0
	TransformHFlip  Transform = 0x1
	TransformVFlip  Transform = 0x2
	TransformRot180 Transform = TransformHFlip | TransformVFlip
)

// OutputFormatConfig describes one output branch: pixel format,
// geometric transform and the clipping ranges applied on write-out.
type OutputFormatConfig struct {
	Image     ImageFormatConfig
	Transform Transform
	Pad       [3]uint8
	Lo        uint16
	Hi        uint16
	Lo2       uint16
	Hi2       uint16
}

// BufferConfig holds one DMA buffer address, low 32 bits followed by
// high 32 bits.
type BufferConfig struct {
	Addr [2]uint32
}

// TriplaneBufferConfig holds a DMA buffer address for each of up to
// three planes, low 32 bits followed by high 32 bits.
type TriplaneBufferConfig struct {
	Addr [3][2]uint32
}

// BeConfig is the back end's register image, laid out exactly as the
// hardware consumes it. The buffer addresses at the front belong to
// whoever queues the frame; Prepare never touches them. The trailing
// pad preserves the offsets of everything else.
type BeConfig struct {
	InputBuffer        TriplaneBufferConfig
	TDNInputBuffer     BufferConfig
	TDNOutputBuffer    BufferConfig
	StitchInputBuffer  BufferConfig
	StitchOutputBuffer BufferConfig
	OutputBuffer       [NumOutputBranches]TriplaneBufferConfig
	HOGBuffer          BufferConfig
	Global             GlobalConfig
	InputFormat        ImageFormatConfig
	Decompress         DecompressConfig
	DPC                DPCConfig
	GEQ                GEQConfig
	TDNInputFormat     ImageFormatConfig
	TDNDecompress      DecompressConfig
	TDN                TDNConfig
	TDNCompress        CompressConfig
	TDNOutputFormat    ImageFormatConfig
	SDN                SDNConfig
	BLC                BLAConfig
	StitchCompress     CompressConfig
	StitchOutputFormat ImageFormatConfig
	StitchInputFormat  ImageFormatConfig
	StitchDecompress   DecompressConfig
	Stitch             StitchConfig
	LSC                LSCConfig
	WBG                WBGConfig
	CDN                CDNConfig
	CAC                CACConfig
	Debin              DebinConfig
	Tonemap            TonemapConfig
	Demosaic           DemosaicConfig
	CCM                CCMConfig
	SatControl         SatControlConfig
	YCbCr              CCMConfig
	Sharpen            SharpenConfig
	FalseColour        FalseColourConfig
	ShFCCombine        ShFCCombineConfig
	YCbCrInverse       CCMConfig
	Gamma              GammaConfig
	CSC                [NumOutputBranches]CCMConfig
	Downscale          [NumOutputBranches]DownscaleConfig
	Resample           [NumOutputBranches]ResampleConfig
	OutputFormat       [NumOutputBranches]OutputFormatConfig
	HOG                HOGConfig
	AXI                AXIConfig
	Pad1               [84]uint8
}

// BeConfigExtra is the configuration state the register image has no
// room for: grid origins, scaled output sizes, per-branch crop windows,
// the HOG output format, and the dirty masks that drive Prepare.
type BeConfigExtra struct {
	LSC       LSCExtra
	CAC       CACExtra
	Downscale [NumOutputBranches]DownscaleExtra
	Resample  [NumOutputBranches]ResampleExtra
	Crop      [NumOutputBranches]CropConfig
	HOGFormat ImageFormatConfig

	DirtyBayer BayerEnable
	DirtyRGB   RGBEnable
	Dirty      Dirty
}

// TileEdge flags which image edges a tile touches.
type TileEdge uint8

const (
	TileEdgeLeft TileEdge = 1 << iota
	TileEdgeRight
	TileEdgeTop
	TileEdgeBottom
)

// Tile describes one grid cell of the tiled image as the hardware
// consumes it. Phase arrays are ordered planes then branches.
type Tile struct {
	Edge                   TileEdge
	Pad0                   [3]uint8
	InputAddrOffset        uint32
	InputAddrOffset2       uint32
	InputOffsetX           uint16
	InputOffsetY           uint16
	InputWidth             uint16
	InputHeight            uint16
	TDNInputAddrOffset     uint32
	TDNOutputAddrOffset    uint32
	StitchInputAddrOffset  uint32
	StitchOutputAddrOffset uint32
	LSCGridOffsetX         uint32
	LSCGridOffsetY         uint32
	CACGridOffsetX         uint32
	CACGridOffsetY         uint32
	CropXStart             [NumOutputBranches]uint16
	CropXEnd               [NumOutputBranches]uint16
	CropYStart             [NumOutputBranches]uint16
	CropYEnd               [NumOutputBranches]uint16
	DownscalePhaseX        [3 * NumOutputBranches]uint16
	DownscalePhaseY        [3 * NumOutputBranches]uint16
	ResampleInWidth        [NumOutputBranches]uint16
	ResampleInHeight       [NumOutputBranches]uint16
	ResamplePhaseX         [3 * NumOutputBranches]uint16
	ResamplePhaseY         [3 * NumOutputBranches]uint16
	OutputOffsetX          [NumOutputBranches]uint16
	OutputOffsetY          [NumOutputBranches]uint16
	OutputWidth            [NumOutputBranches]uint16
	OutputHeight           [NumOutputBranches]uint16
	OutputAddrOffset       [NumOutputBranches]uint32
	OutputAddrOffset2      [NumOutputBranches]uint32
	OutputHOGAddrOffset    uint32
}

// TilesConfig is the complete unit handed to the hardware: the register
// image plus the tile array describing how the image is carved up.
type TilesConfig struct {
	Config   BeConfig
	Tiles    [NumTiles]Tile
	NumTiles int32
}

// Serialized sizes of the wire structures.
const (
	BeConfigSize    = 6476
	TileSize        = 160
	TilesConfigSize = BeConfigSize + NumTiles*TileSize + 4
)

func marshalLE(v any, size int) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, size))
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return nil, fmt.Errorf("libpisp: marshal: %w", err)
	}
	return buf.Bytes(), nil
}

func unmarshalLE(v any, data []byte, size int) error {
	if len(data) != size {
		return fmt.Errorf("libpisp: unmarshal: have %d bytes, want %d", len(data), size)
	}
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, v)
}

// MarshalBinary encodes the register image little-endian, exactly
// BeConfigSize bytes.
func (c *BeConfig) MarshalBinary() ([]byte, error) { return marshalLE(c, BeConfigSize) }

// UnmarshalBinary decodes a register image previously produced by
// MarshalBinary or by compatible software.
func (c *BeConfig) UnmarshalBinary(data []byte) error { return unmarshalLE(c, data, BeConfigSize) }

// MarshalBinary encodes the tile little-endian, exactly TileSize bytes.
func (t *Tile) MarshalBinary() ([]byte, error) { return marshalLE(t, TileSize) }

// UnmarshalBinary decodes a tile.
func (t *Tile) UnmarshalBinary(data []byte) error { return unmarshalLE(t, data, TileSize) }

// MarshalBinary encodes the full configuration little-endian, exactly
// TilesConfigSize bytes.
func (tc *TilesConfig) MarshalBinary() ([]byte, error) { return marshalLE(tc, TilesConfigSize) }

// UnmarshalBinary decodes a full configuration.
func (tc *TilesConfig) UnmarshalBinary(data []byte) error {
	return unmarshalLE(tc, data, TilesConfigSize)
}
