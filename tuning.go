package libpisp

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// Where it might help, tuning data initialises some blocks with the
// "obvious" default parameters. This saves users the trouble, and they
// can just enable the blocks.

//go:embed tuning_default.yaml
var defaultTuningYAML []byte

// Tuning holds the block defaults read from a tuning file: colour
// space matrices, resample filter banks, sharpening parameters and the
// gamma curve. A single Tuning may be shared by any number of
// BackEnds.
type Tuning struct {
	ycbcr        map[string]CCMConfig
	ycbcrInverse map[string]CCMConfig

	filters    map[string][ResampleFilterSize]int16
	selectList []resampleChoice

	debin       DebinConfig
	demosaic    DemosaicConfig
	falseColour FalseColourConfig
	sharpen     SharpenConfig
	shFCCombine ShFCCombineConfig
	gamma       GammaConfig
}

// resampleChoice maps a downscale factor threshold to a filter name.
type resampleChoice struct {
	downscale float64
	filter    string
}

type tuningMatrix struct {
	Coeffs  []int16 `yaml:"coeffs"`
	Offsets []int32 `yaml:"offsets"`
}

type tuningEncoding struct {
	YCbCr        tuningMatrix `yaml:"ycbcr"`
	YCbCrInverse tuningMatrix `yaml:"ycbcr_inverse"`
}

type tuningSharpenFilter struct {
	Kernel         []int8 `yaml:"kernel"`
	Offset         uint16 `yaml:"offset"`
	ThresholdSlope uint16 `yaml:"threshold_slope"`
	Scale          uint16 `yaml:"scale"`
}

type tuningSharpenResponse struct {
	Strength uint16   `yaml:"strength"`
	PreLimit uint16   `yaml:"pre_limit"`
	Function []uint16 `yaml:"function"`
	Limit    uint16   `yaml:"limit"`
}

type tuningFile struct {
	ColourEncoding map[string]tuningEncoding `yaml:"colour_encoding"`

	Debin struct {
		Coefs []int16 `yaml:"coefs"`
	} `yaml:"debin"`

	Demosaic struct {
		Sharper uint8 `yaml:"sharper"`
		FCMode  uint8 `yaml:"fc_mode"`
	} `yaml:"demosaic"`

	FalseColour struct {
		Distance uint8 `yaml:"distance"`
	} `yaml:"false_colour"`

	Gamma struct {
		LUT []float64 `yaml:"lut"`
	} `yaml:"gamma"`

	Sharpen struct {
		Filter0  tuningSharpenFilter   `yaml:"filter0"`
		Filter1  tuningSharpenFilter   `yaml:"filter1"`
		Filter2  tuningSharpenFilter   `yaml:"filter2"`
		Filter3  tuningSharpenFilter   `yaml:"filter3"`
		Filter4  tuningSharpenFilter   `yaml:"filter4"`
		Positive tuningSharpenResponse `yaml:"positive"`
		Negative tuningSharpenResponse `yaml:"negative"`
		Enables  string                `yaml:"enables"`
		White    uint8                 `yaml:"white"`
		Black    uint8                 `yaml:"black"`
		Grey     uint8                 `yaml:"grey"`
	} `yaml:"sharpen"`

	Resample struct {
		Filters        map[string][]int16 `yaml:"filters"`
		SmartSelection struct {
			Downscale []float64 `yaml:"downscale"`
			Filter    []string  `yaml:"filter"`
		} `yaml:"smart_selection"`
	} `yaml:"resample"`
}

var (
	defaultTuningOnce sync.Once
	defaultTuning     *Tuning
	defaultTuningErr  error
)

// DefaultTuning returns the tuning compiled into the library.
func DefaultTuning() (*Tuning, error) {
	defaultTuningOnce.Do(func() {
		defaultTuning, defaultTuningErr = ParseTuning(defaultTuningYAML)
	})
	return defaultTuning, defaultTuningErr
}

// LoadTuning reads and parses a tuning file.
func LoadTuning(path string) (*Tuning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("libpisp: reading tuning file: %w", err)
	}
	t, err := ParseTuning(data)
	if err != nil {
		return nil, fmt.Errorf("libpisp: tuning file %s: %w", path, err)
	}
	return t, nil
}

// ParseTuning parses YAML tuning data.
func ParseTuning(data []byte) (*Tuning, error) {
	var f tuningFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("libpisp: parsing tuning data: %w", err)
	}

	t := &Tuning{
		ycbcr:        make(map[string]CCMConfig),
		ycbcrInverse: make(map[string]CCMConfig),
		filters:      make(map[string][ResampleFilterSize]int16),
	}

	for name, enc := range f.ColourEncoding {
		fwd, err := makeMatrix(enc.YCbCr)
		if err != nil {
			return nil, fmt.Errorf("libpisp: colour encoding %q: %w", name, err)
		}
		inv, err := makeMatrix(enc.YCbCrInverse)
		if err != nil {
			return nil, fmt.Errorf("libpisp: colour encoding %q: %w", name, err)
		}
		t.ycbcr[name] = fwd
		t.ycbcrInverse[name] = inv
	}

	if len(f.Debin.Coefs) != DebinNumCoeffs {
		return nil, fmt.Errorf("libpisp: debin filter has %d taps, want %d",
			len(f.Debin.Coefs), DebinNumCoeffs)
	}
	for i, c := range f.Debin.Coefs {
		// Taps are Q8 and the inner ones exceed 127; the register holds
		// the low byte.
		t.debin.Coeffs[i] = int8(c)
	}
	t.debin.HEnable = 1
	t.debin.VEnable = 1

	t.demosaic.Sharper = f.Demosaic.Sharper
	t.demosaic.FCMode = f.Demosaic.FCMode
	t.falseColour.Distance = f.FalseColour.Distance

	curve, err := pwlFromFlat(f.Gamma.LUT)
	if err != nil {
		return nil, err
	}
	t.gamma, err = MakeGamma(curve)
	if err != nil {
		return nil, err
	}

	if err := parseSharpen(&f, t); err != nil {
		return nil, err
	}

	for name, coefs := range f.Resample.Filters {
		if len(coefs) != ResampleFilterSize {
			return nil, fmt.Errorf("libpisp: resample filter %q has %d coefficients, want %d",
				name, len(coefs), ResampleFilterSize)
		}
		var c [ResampleFilterSize]int16
		copy(c[:], coefs)
		t.filters[name] = c
	}
	smart := f.Resample.SmartSelection
	if len(smart.Downscale) == 0 || len(smart.Downscale) != len(smart.Filter) {
		return nil, fmt.Errorf("libpisp: resample smart selection needs matching downscale and filter lists")
	}
	for i, d := range smart.Downscale {
		name := smart.Filter[i]
		if _, ok := t.filters[name]; !ok {
			return nil, fmt.Errorf("libpisp: resample smart selection names unknown filter %q", name)
		}
		t.selectList = append(t.selectList, resampleChoice{d, name})
	}

	return t, nil
}

func makeMatrix(m tuningMatrix) (CCMConfig, error) {
	var ccm CCMConfig
	if len(m.Coeffs) != len(ccm.Coeffs) {
		return ccm, fmt.Errorf("%d matrix coefficients, want %d", len(m.Coeffs), len(ccm.Coeffs))
	}
	if len(m.Offsets) != len(ccm.Offsets) {
		return ccm, fmt.Errorf("%d matrix offsets, want %d", len(m.Offsets), len(ccm.Offsets))
	}
	copy(ccm.Coeffs[:], m.Coeffs)
	copy(ccm.Offsets[:], m.Offsets)
	return ccm, nil
}

func pwlFromFlat(vals []float64) (Pwl, error) {
	if len(vals) < 4 || len(vals)%2 != 0 {
		return Pwl{}, fmt.Errorf("libpisp: gamma curve needs pairs of points, got %d values", len(vals))
	}
	var curve Pwl
	for i := 0; i+1 < len(vals); i += 2 {
		curve.Append(vals[i], vals[i+1])
	}
	return curve, nil
}

func parseSharpen(f *tuningFile, t *Tuning) error {
	sh := &t.sharpen
	filters := []struct {
		src    tuningSharpenFilter
		kernel *[SharpenKernelSize * SharpenKernelSize]int8
		offset *uint16
		slope  *uint16
		scale  *uint16
	}{
		{f.Sharpen.Filter0, &sh.Kernel0, &sh.ThresholdOffset0, &sh.ThresholdSlope0, &sh.Scale0},
		{f.Sharpen.Filter1, &sh.Kernel1, &sh.ThresholdOffset1, &sh.ThresholdSlope1, &sh.Scale1},
		{f.Sharpen.Filter2, &sh.Kernel2, &sh.ThresholdOffset2, &sh.ThresholdSlope2, &sh.Scale2},
		{f.Sharpen.Filter3, &sh.Kernel3, &sh.ThresholdOffset3, &sh.ThresholdSlope3, &sh.Scale3},
		{f.Sharpen.Filter4, &sh.Kernel4, &sh.ThresholdOffset4, &sh.ThresholdSlope4, &sh.Scale4},
	}
	for i, fl := range filters {
		if len(fl.src.Kernel) != len(fl.kernel) {
			return fmt.Errorf("libpisp: sharpen filter%d kernel has %d entries, want %d",
				i, len(fl.src.Kernel), len(fl.kernel))
		}
		copy(fl.kernel[:], fl.src.Kernel)
		*fl.offset = fl.src.Offset
		*fl.slope = fl.src.ThresholdSlope
		*fl.scale = fl.src.Scale
	}

	responses := []struct {
		src      tuningSharpenResponse
		strength *uint16
		preLimit *uint16
		fn       *[SharpenFuncNumPoints]uint16
		limit    *uint16
	}{
		{f.Sharpen.Positive, &sh.PositiveStrength, &sh.PositivePreLimit, &sh.PositiveFunc, &sh.PositiveLimit},
		{f.Sharpen.Negative, &sh.NegativeStrength, &sh.NegativePreLimit, &sh.NegativeFunc, &sh.NegativeLimit},
	}
	for _, r := range responses {
		if len(r.src.Function) != len(r.fn) {
			return fmt.Errorf("libpisp: sharpen response function has %d points, want %d",
				len(r.src.Function), len(r.fn))
		}
		*r.strength = r.src.Strength
		*r.preLimit = r.src.PreLimit
		copy(r.fn[:], r.src.Function)
		*r.limit = r.src.Limit
	}

	enables, err := strconv.ParseUint(strings.TrimPrefix(f.Sharpen.Enables, "0x"), 16, 8)
	if err != nil {
		return fmt.Errorf("libpisp: sharpen enables %q: %w", f.Sharpen.Enables, err)
	}
	sh.Enables = uint8(enables)
	sh.White = f.Sharpen.White
	sh.Black = f.Sharpen.Black
	sh.Grey = f.Sharpen.Grey

	t.shFCCombine = ShFCCombineConfig{YFactor: 192} // 0.75 in Q8
	return nil
}

// MakeGamma samples the curve at the hardware's 64 knee points and
// packs each LUT entry as output level (low 16 bits) plus slope to the
// next entry (high 16 bits, 14 significant). The knees are 512 apart
// up to 16384, then 1024 apart to 32768, then 2048 apart. The curve
// must be non-negative and non-decreasing over [0, 65535].
func MakeGamma(curve Pwl) (GammaConfig, error) {
	const slopeBits = 14
	const posBits = 16

	var g GammaConfig
	lastY := 0
	for i := range g.LUT {
		var x int
		switch {
		case i < 32:
			x = i * 512
		case i < 48:
			x = (i-32)*1024 + 16384
		default:
			x = (i-48)*2048 + 32768
			if x > 65535 {
				x = 65535
			}
		}

		y := int(curve.Eval(float64(x)))
		if y < 0 || y > 65535 || (i > 0 && y < lastY) {
			return GammaConfig{}, fmt.Errorf("libpisp: malformed gamma curve at %d", x)
		}

		if i > 0 {
			slope := y - lastY
			if slope >= 1<<slopeBits {
				slope = 1<<slopeBits - 1
				y = lastY + slope
			}
			g.LUT[i-1] |= uint32(slope) << posBits
		}
		g.LUT[i] = uint32(y)
		lastY = y
	}
	return g, nil
}

// YCbCr returns the RGB to YCbCr matrix for the named colour space.
// Unknown colour spaces yield an all-zero matrix.
func (t *Tuning) YCbCr(colourSpace string) CCMConfig {
	return t.ycbcr[colourSpace]
}

// YCbCrInverse returns the YCbCr to RGB matrix for the named colour
// space. Unknown colour spaces yield an all-zero matrix.
func (t *Tuning) YCbCrInverse(colourSpace string) CCMConfig {
	return t.ycbcrInverse[colourSpace]
}

// ResampleFilter returns the named filter's coefficients.
func (t *Tuning) ResampleFilter(name string) ([ResampleFilterSize]int16, bool) {
	c, ok := t.filters[name]
	return c, ok
}

// ResampleFilterForRatio picks filter coefficients suited to the given
// downscale factor: the first selection entry whose threshold is not
// below the factor, or the last entry for anything stronger.
func (t *Tuning) ResampleFilterForRatio(downscale float64) [ResampleFilterSize]int16 {
	for _, c := range t.selectList {
		if c.downscale >= downscale {
			coef, _ := t.ResampleFilter(c.filter)
			return coef
		}
	}
	coef, _ := t.ResampleFilter(t.selectList[len(t.selectList)-1].filter)
	return coef
}

// Debin returns the default de-binning parameters.
func (t *Tuning) Debin() DebinConfig { return t.debin }

// Demosaic returns the default demosaic parameters.
func (t *Tuning) Demosaic() DemosaicConfig { return t.demosaic }

// FalseColour returns the default false colour parameters.
func (t *Tuning) FalseColour() FalseColourConfig { return t.falseColour }

// Sharpen returns the default sharpening parameters and the matching
// luma/chroma recombination factors.
func (t *Tuning) Sharpen() (SharpenConfig, ShFCCombineConfig) {
	return t.sharpen, t.shFCCombine
}

// Gamma returns the default gamma LUT.
func (t *Tuning) Gamma() GammaConfig { return t.gamma }
