package libpisp

import (
	"fmt"
	"sort"
)

// ImageFormat packs the hardware's image format descriptor bits: bits per
// sample, planarity, chroma sampling, channel order, bit shift, compression
// mode and the special layouts (HOG, integral image, wallpaper rolls).
type ImageFormat uint32

const (
	FormatBPS8    ImageFormat = 0x00000000
	FormatBPS10   ImageFormat = 0x00000001
	FormatBPS12   ImageFormat = 0x00000002
	FormatBPS16   ImageFormat = 0x00000003
	FormatBPSMask ImageFormat = 0x00000003

	FormatPlanarityInterleaved ImageFormat = 0x00000000
	FormatPlanaritySemiPlanar  ImageFormat = 0x00000010
	FormatPlanarityPlanar      ImageFormat = 0x00000020
	FormatPlanarityMask        ImageFormat = 0x00000030

	FormatSampling444  ImageFormat = 0x00000000
	FormatSampling422  ImageFormat = 0x00000100
	FormatSampling420  ImageFormat = 0x00000200
	FormatSamplingMask ImageFormat = 0x00000300

	FormatOrderNormal  ImageFormat = 0x00000000
	FormatOrderSwapped ImageFormat = 0x00000400

	FormatShiftMask ImageFormat = 0x0000f000

	FormatBPP32 ImageFormat = 0x00010000

	FormatUncompressed     ImageFormat = 0x00000000
	FormatCompressionMode1 ImageFormat = 0x01000000
	FormatCompressionMode2 ImageFormat = 0x02000000
	FormatCompressionMode3 ImageFormat = 0x03000000
	FormatCompressionMask  ImageFormat = 0x03000000

	FormatHOGSigned     ImageFormat = 0x04000000
	FormatHOGUnsigned   ImageFormat = 0x08000000
	FormatIntegralImage ImageFormat = 0x10000000
	FormatWallpaperRoll ImageFormat = 0x20000000
	FormatThreeChannel  ImageFormat = 0x40000000
)

// WallpaperWidth is the byte width of one wallpaper roll column.
const WallpaperWidth = 128

// FormatShift encodes a sample shift of n bit positions.
func FormatShift(n int) ImageFormat {
	return ImageFormat(n&0xf) << 12
}

func (f ImageFormat) bps() ImageFormat { return f & FormatBPSMask }

// BitsPerSample returns the nominal sample depth, ignoring packing.
func (f ImageFormat) BitsPerSample() int {
	switch f.bps() {
	case FormatBPS10:
		return 10
	case FormatBPS12:
		return 12
	case FormatBPS16:
		return 16
	}
	return 8
}

func (f ImageFormat) Interleaved() bool {
	return f&FormatPlanarityMask == FormatPlanarityInterleaved
}

func (f ImageFormat) SemiPlanar() bool {
	return f&FormatPlanarityMask == FormatPlanaritySemiPlanar
}

func (f ImageFormat) Planar() bool {
	return f&FormatPlanarityMask == FormatPlanarityPlanar
}

func (f ImageFormat) Sampling444() bool { return f&FormatSamplingMask == FormatSampling444 }
func (f ImageFormat) Sampling422() bool { return f&FormatSamplingMask == FormatSampling422 }
func (f ImageFormat) Sampling420() bool { return f&FormatSamplingMask == FormatSampling420 }

func (f ImageFormat) ThreeChannel() bool { return f&FormatThreeChannel != 0 }
func (f ImageFormat) Compressed() bool   { return f&FormatCompressionMask != 0 }
func (f ImageFormat) HOG() bool          { return f&(FormatHOGSigned|FormatHOGUnsigned) != 0 }
func (f ImageFormat) Integral() bool     { return f&FormatIntegralImage != 0 }
func (f ImageFormat) Wallpaper() bool    { return f&FormatWallpaperRoll != 0 }

// NumPlanes returns how many memory planes the format occupies.
func NumPlanes(f ImageFormat) int {
	if !f.ThreeChannel() {
		return 1
	}
	switch f & FormatPlanarityMask {
	case FormatPlanaritySemiPlanar:
		return 2
	case FormatPlanarityPlanar:
		return 3
	}
	return 1
}

// ImageFormatConfig mirrors the hardware image descriptor: dimensions,
// format bits and per-plane strides. Stride may be negative for
// vertically flipped buffers.
type ImageFormatConfig struct {
	Width   uint16
	Height  uint16
	Format  ImageFormat
	Stride  int32
	Stride2 int32
}

// ComputeXOffset converts a sample (or HOG cell) x position into a byte
// offset within a line for the given format.
func ComputeXOffset(f ImageFormat, x int) int {
	if x < 0 || x >= 65536 {
		panic("libpisp: x offset out of range")
	}

	// HoG features are slightly different from the rest.
	if f.HOG() {
		// x is in units of cells. Output is 16-bit word samples per bin,
		// packed to 32 bytes for an unsigned histogram cell and 48 bytes
		// for a signed one.
		if f&FormatHOGUnsigned != 0 {
			return x * 32
		}
		return x * 48
	}
	if f&(FormatIntegralImage|FormatBPP32) != 0 {
		// 32-bit words per sample.
		return x * 4
	}

	var offset int
	switch f.bps() {
	case FormatBPS16:
		offset = x * 2
	case FormatBPS12:
		offset = (x*3 + 1) / 2
	case FormatBPS10:
		offset = (x / 3) * 4
	default:
		offset = x
	}

	if f.ThreeChannel() && f.Interleaved() {
		if f.Sampling422() {
			offset *= 2
		} else {
			offset *= 3
		}
	}
	return offset
}

// ComputeStrideAlign fills in the strides for an image whose width, height
// and format are already set, aligning each plane to align bytes. A caller
// supplied stride larger than the computed one is kept.
func ComputeStrideAlign(c *ImageFormatConfig, align int, preserveSubsampleRatio bool) {
	if c.Format.Wallpaper() {
		// Wallpaper rolls are stored column-major: one roll is height lines
		// of WallpaperWidth bytes.
		c.Stride = int32(int(c.Height) * WallpaperWidth)
		c.Stride2 = c.Stride
		if c.Format.Sampling420() {
			c.Stride2 /= 2
		}
		return
	}

	width := int(c.Width)
	if c.Format.Compressed() {
		width = (width + 7) &^ 7 // compression uses blocks of 8 samples
	}

	computed := int32(ComputeXOffset(c.Format, width))
	if c.Stride == 0 || c.Stride < computed {
		c.Stride = computed
	}
	c.Stride2 = 0

	if c.Format.HOG() {
		return
	}

	switch c.Format & FormatPlanarityMask {
	case FormatPlanarityPlanar:
		if c.Format.Sampling422() || c.Format.Sampling420() {
			c.Stride2 = c.Stride >> 1
		} else if c.Format.ThreeChannel() {
			c.Stride2 = c.Stride
		}
	case FormatPlanaritySemiPlanar:
		if !c.Format.Sampling422() && !c.Format.Sampling420() {
			panic("libpisp: semi-planar format requires 422 or 420 sampling")
		}
		c.Stride2 = c.Stride
	}

	// The image in memory must be sufficiently aligned.
	a := int32(align)
	c.Stride = (c.Stride + a - 1) &^ (a - 1)
	c.Stride2 = (c.Stride2 + a - 1) &^ (a - 1)

	// For YUV420/422 planar formats the stride ratio must match the
	// subsample ratio of the planes.
	if preserveSubsampleRatio && c.Format.Planar() &&
		(c.Format.Sampling422() || c.Format.Sampling420()) {
		c.Stride = c.Stride2 << 1
	}
}

// ComputeStride aligns strides to the mandatory output alignment. The
// preferred alignment is really 64 bytes, though 16 works too; 16 gives
// better test coverage.
func ComputeStride(c *ImageFormatConfig, preserveSubsampleRatio bool) {
	ComputeStrideAlign(c, BackEndOutputMinAlign, preserveSubsampleRatio)
}

// ComputeOptimalStride aligns strides to the preferred 64-byte alignment.
func ComputeOptimalStride(c *ImageFormatConfig, preserveSubsampleRatio bool) {
	ComputeStrideAlign(c, BackEndOutputMaxAlign, preserveSubsampleRatio)
}

// wallpaperPixelsInRoll returns how many pixels one 128-byte roll holds.
func wallpaperPixelsInRoll(f ImageFormat) int {
	switch f.bps() {
	case FormatBPS8:
		return WallpaperWidth
	case FormatBPS16:
		return WallpaperWidth / 2
	default: // 10-bit packed, 3 pixels per 4 bytes
		return WallpaperWidth / 4 * 3
	}
}

// ComputeAddrOffset converts pixel coordinates into byte offsets for each
// plane of the image.
func ComputeAddrOffset(c *ImageFormatConfig, x, y int) (offset, offset2 uint32) {
	if c.Format.Wallpaper() {
		pixelsInRoll := wallpaperPixelsInRoll(c.Format)
		pixelOffsetInRoll := x % pixelsInRoll

		var pixelOffsetBytes int
		switch c.Format.bps() {
		case FormatBPS8:
			pixelOffsetBytes = pixelOffsetInRoll
		case FormatBPS16:
			pixelOffsetBytes = pixelOffsetInRoll * 2
		default:
			// 10-bit packing only addresses whole 3-pixel groups.
			if pixelOffsetInRoll%3 != 0 {
				panic("libpisp: wallpaper 10-bit offset not a multiple of 3")
			}
			pixelOffsetBytes = pixelOffsetInRoll / 3 * 4
		}

		numRolls := x / pixelsInRoll
		offset = uint32(numRolls*int(c.Stride) + y*WallpaperWidth + pixelOffsetBytes)
		if c.Format.Sampling420() {
			offset2 = uint32(numRolls*int(c.Stride2) + y/2*WallpaperWidth + pixelOffsetBytes)
		} else {
			offset2 = offset
		}
		return offset, offset2
	}

	xByteOffset := ComputeXOffset(c.Format, x)
	offset = uint32(y*int(c.Stride) + xByteOffset)
	if !c.Format.Interleaved() {
		if c.Format.Sampling420() {
			y /= 2
		}
		if c.Format.Planar() && !c.Format.Sampling444() {
			xByteOffset /= 2
		}
		offset2 = uint32(y*int(c.Stride2) + xByteOffset)
	}
	return offset, offset2
}

// PlaneSize returns the byte size of one plane, or 0 if it would overflow
// the hardware's 32-bit addressing.
func PlaneSize(c *ImageFormatConfig, plane int) uint32 {
	stride := int64(c.Stride)
	if plane != 0 {
		stride = int64(c.Stride2)
	}
	if stride < 0 { // vertically flipped
		stride = -stride
	}

	var size int64
	if c.Format.Wallpaper() {
		pixelsInRoll := wallpaperPixelsInRoll(c.Format)
		numRolls := (int(c.Width) + pixelsInRoll - 1) / pixelsInRoll
		size = int64(numRolls) * stride
	} else {
		height := int(c.Height)
		if plane != 0 && c.Format.Sampling420() {
			height >>= 1
		}
		size = int64(height) * stride
	}

	if size >= 1<<32 {
		return 0
	}
	return uint32(size)
}

// namedFormats maps the conventional format names onto descriptor bits.
// Alternate names and plane orderings are left out to keep the mapping 1:1.
var namedFormats = map[string]ImageFormat{
	"YUV444P":    FormatThreeChannel | FormatBPS8 | FormatSampling444 | FormatPlanarityPlanar,
	"YUV422P":    FormatThreeChannel | FormatBPS8 | FormatSampling422 | FormatPlanarityPlanar,
	"YUV420P":    FormatThreeChannel | FormatBPS8 | FormatSampling420 | FormatPlanarityPlanar,
	"NV12":       FormatThreeChannel | FormatBPS8 | FormatSampling420 | FormatPlanaritySemiPlanar,
	"NV21":       FormatThreeChannel | FormatBPS8 | FormatSampling420 | FormatPlanaritySemiPlanar | FormatOrderSwapped,
	"YUYV":       FormatThreeChannel | FormatBPS8 | FormatSampling422 | FormatPlanarityInterleaved,
	"UYVY":       FormatThreeChannel | FormatBPS8 | FormatSampling422 | FormatPlanarityInterleaved | FormatOrderSwapped,
	"NV16":       FormatThreeChannel | FormatBPS8 | FormatSampling422 | FormatPlanaritySemiPlanar,
	"NV61":       FormatThreeChannel | FormatBPS8 | FormatSampling422 | FormatPlanaritySemiPlanar | FormatOrderSwapped,
	"RGB888":     FormatThreeChannel,
	"RGBX8888":   FormatThreeChannel | FormatBPP32 | FormatOrderSwapped,
	"RGB161616":  FormatThreeChannel | FormatBPS16,
	"BAYER":      FormatBPS16 | FormatUncompressed,
	"PISP_COMP1": FormatCompressionMode1,
	"PISP_COMP2": FormatCompressionMode2,
}

// ParseImageFormat looks up a conventional format name.
func ParseImageFormat(name string) (ImageFormat, error) {
	f, ok := namedFormats[name]
	if !ok {
		return 0, fmt.Errorf("libpisp: unknown image format %q", name)
	}
	return f, nil
}

// FormatNames lists the recognised format names in sorted order.
func FormatNames() []string {
	names := make([]string, 0, len(namedFormats))
	for name := range namedFormats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f ImageFormat) String() string {
	for name, bits := range namedFormats {
		if bits == f {
			return name
		}
	}
	return fmt.Sprintf("0x%08x", uint32(f))
}
