package libpisp

import (
	"bytes"
	"testing"
)

func prepareFrame(t *testing.T, be *BackEnd) *TilesConfig {
	t.Helper()
	var tc TilesConfig
	if err := be.Prepare(&tc); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	return &tc
}

// checkOutputPartition verifies that the tiles of a single-row grid cover
// branch i's output exactly, in ascending contiguous order.
func checkOutputPartition(t *testing.T, tc *TilesConfig, branch, width int) {
	t.Helper()
	next := 0
	for n := 0; n < int(tc.NumTiles); n++ {
		tile := &tc.Tiles[n]
		if int(tile.OutputOffsetX[branch]) != next {
			t.Errorf("tile %d: OutputOffsetX[%d] = %d, want %d", n, branch, tile.OutputOffsetX[branch], next)
		}
		next += int(tile.OutputWidth[branch])
	}
	if next != width {
		t.Errorf("tile outputs cover %d pixels, want %d", next, width)
	}
}

// --- Stride and input validation ---

func TestCheckStride(t *testing.T) {
	tests := []struct {
		name    string
		config  ImageFormatConfig
		wantErr string
	}{
		{
			name:    "misaligned",
			config:  ImageFormatConfig{Width: 64, Height: 48, Format: FormatThreeChannel, Stride: 100},
			wantErr: "libpisp: output stride values not sufficiently aligned",
		},
		{
			name:    "too small",
			config:  ImageFormatConfig{Width: 64, Height: 48, Format: FormatThreeChannel, Stride: 16},
			wantErr: "libpisp: strides should be at least 192 and 0 but are 16 and 0",
		},
		{
			name: "wallpaper rolls",
			config: ImageFormatConfig{Width: 64, Height: 48,
				Format: FormatThreeChannel | FormatWallpaperRoll, Stride: 64, Stride2: 64},
			wantErr: "libpisp: wallpaper format should have 128-byte aligned rolls",
		},
		{
			name:   "valid",
			config: ImageFormatConfig{Width: 64, Height: 48, Format: FormatThreeChannel, Stride: 192},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkStride(&tt.config)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("checkStride: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("checkStride succeeded, want error")
			}
			if err.Error() != tt.wantErr {
				t.Errorf("error = %q, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestFinaliseInputs(t *testing.T) {
	bayer := func(w, h uint16, stride int32) BeConfig {
		var c BeConfig
		c.Global.BayerEnables = BayerEnableInput
		c.InputFormat = ImageFormatConfig{Width: w, Height: h, Format: FormatBPS16, Stride: stride}
		return c
	}
	rgb := func(w, h uint16, format ImageFormat, stride int32) BeConfig {
		var c BeConfig
		c.Global.RGBEnables = RGBEnableInput
		c.InputFormat = ImageFormatConfig{Width: w, Height: h, Format: format, Stride: stride}
		return c
	}

	tests := []struct {
		name    string
		config  BeConfig
		wantErr string
	}{
		{"bayer odd width", bayer(1921, 1080, 3842), "libpisp: Bayer pipe image dimensions must be even"},
		{"bayer odd height", bayer(1920, 1081, 3840), "libpisp: Bayer pipe image dimensions must be even"},
		{"bayer stride", bayer(1920, 1080, 3848), "libpisp: input stride should be at least 16-byte aligned"},
		{"bayer ok", bayer(1920, 1080, 3840), ""},
		{"420 odd height", rgb(64, 47, FormatThreeChannel | FormatPlanarityPlanar | FormatSampling420, 64),
			"libpisp: 420 input height must be even"},
		{"422 odd width", rgb(63, 48, FormatThreeChannel | FormatSampling422, 128),
			"libpisp: 420/422 input width must be even"},
		{"rgb stride", rgb(64, 48, FormatThreeChannel, 200),
			"libpisp: input strides must be at least 16-byte aligned"},
		{"rgb wallpaper stride", rgb(64, 48, FormatThreeChannel | FormatWallpaperRoll, 192),
			"libpisp: wallpaper format strides must be at least 128-byte aligned"},
		{"rgb ok", rgb(64, 48, FormatThreeChannel, 192), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := finaliseInputs(&tt.config)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("finaliseInputs: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

// --- Correction grid coverage ---

func TestFinaliseLSCGrid(t *testing.T) {
	var lsc LSCConfig
	var extra LSCExtra
	if err := finaliseLSC(&lsc, &extra, 1920, 1080); err != nil {
		t.Fatalf("finaliseLSC: %v", err)
	}
	// (32 << 18) / 1920 and / 1080.
	if lsc.GridStepX != 4369 {
		t.Errorf("GridStepX = %d, want 4369", lsc.GridStepX)
	}
	if lsc.GridStepY != 7767 {
		t.Errorf("GridStepY = %d, want 7767", lsc.GridStepY)
	}

	// A power-of-two width divides the step range exactly.
	lsc = LSCConfig{}
	if err := finaliseLSC(&lsc, &extra, 1024, 1024); err != nil {
		t.Fatalf("finaliseLSC: %v", err)
	}
	if lsc.GridStepX != 8192 {
		t.Errorf("GridStepX = %d, want 8192", lsc.GridStepX)
	}

	// An explicit step that runs off the grid before the last pixel.
	lsc = LSCConfig{GridStepX: 4400, GridStepY: 7767}
	err := finaliseLSC(&lsc, &extra, 1920, 1080)
	if err == nil || err.Error() != "libpisp: LSC grid does not cover the image" {
		t.Errorf("error = %v, want grid coverage error", err)
	}

	// A grid offset eats into the coverage too.
	lsc = LSCConfig{}
	extra = LSCExtra{OffsetX: 64}
	err = finaliseLSC(&lsc, &extra, 1920, 1080)
	if err == nil || err.Error() != "libpisp: LSC grid does not cover the image" {
		t.Errorf("error = %v, want grid coverage error", err)
	}
}

func TestFinaliseCACGrid(t *testing.T) {
	var cac CACConfig
	var extra CACExtra
	if err := finaliseCAC(&cac, &extra, 1920, 1080); err != nil {
		t.Fatalf("finaliseCAC: %v", err)
	}
	// (8 << 20) / 1920: same limit as LSC, coarser grid.
	if cac.GridStepX != 4369 {
		t.Errorf("GridStepX = %d, want 4369", cac.GridStepX)
	}
	if cac.GridStepY != 7767 {
		t.Errorf("GridStepY = %d, want 7767", cac.GridStepY)
	}

	cac = CACConfig{GridStepX: 4400, GridStepY: 7767}
	err := finaliseCAC(&cac, &extra, 1920, 1080)
	if err == nil || err.Error() != "libpisp: CAC grid does not cover the image" {
		t.Errorf("error = %v, want grid coverage error", err)
	}
}

// --- Rescale factor computation ---

func TestFinaliseResample(t *testing.T) {
	tests := []struct {
		name           string
		width, height  uint16
		scaledW        uint16
		scaledH        uint16
		wantH, wantV   uint16
		wantErr        bool
	}{
		{name: "2x down", width: 200, height: 200, scaledW: 100, scaledH: 100, wantH: 8233, wantV: 8233},
		{name: "2x up", width: 100, height: 100, scaledW: 199, scaledH: 199, wantH: 2048, wantV: 2048},
		{name: "17x down", width: 1700, height: 1700, scaledW: 100, scaledH: 100, wantErr: true},
		{name: "16x up", width: 100, height: 100, scaledW: 1600, scaledH: 1600, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resample ResampleConfig
			extra := ResampleExtra{ScaledWidth: tt.scaledW, ScaledHeight: tt.scaledH}
			err := finaliseResample(&resample, &extra, tt.width, tt.height)
			if tt.wantErr {
				want := "libpisp: invalid scaling factors (must be < 16x down/upscale)"
				if err == nil || err.Error() != want {
					t.Errorf("error = %v, want %q", err, want)
				}
				return
			}
			if err != nil {
				t.Fatalf("finaliseResample: %v", err)
			}
			if resample.ScaleFactorH != tt.wantH || resample.ScaleFactorV != tt.wantV {
				t.Errorf("scale factors = %d/%d, want %d/%d",
					resample.ScaleFactorH, resample.ScaleFactorV, tt.wantH, tt.wantV)
			}
		})
	}
}

func TestFinaliseDownscale(t *testing.T) {
	tests := []struct {
		name          string
		scaledW       uint16
		scaledH       uint16
		wantSF        uint16
		wantRecip     uint16
		wantErr       bool
	}{
		{name: "1x", scaledW: 1920, scaledH: 1080, wantSF: 4096, wantRecip: 4096},
		{name: "2x", scaledW: 960, scaledH: 540, wantSF: 8192, wantRecip: 2048},
		{name: "8x", scaledW: 240, scaledH: 135, wantSF: 32768, wantRecip: 512},
		{name: "1.5x", scaledW: 1280, scaledH: 720, wantErr: true},
		{name: "9x", scaledW: 213, scaledH: 120, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var downscale DownscaleConfig
			extra := DownscaleExtra{ScaledWidth: tt.scaledW, ScaledHeight: tt.scaledH}
			err := finaliseDownscale(&downscale, &extra, 1920, 1080)
			if tt.wantErr {
				want := "libpisp: invalid scaling factors (must be 1x or >= 2x && <= 8x)"
				if err == nil || err.Error() != want {
					t.Errorf("error = %v, want %q", err, want)
				}
				return
			}
			if err != nil {
				t.Fatalf("finaliseDownscale: %v", err)
			}
			if downscale.ScaleFactorH != tt.wantSF {
				t.Errorf("ScaleFactorH = %d, want %d", downscale.ScaleFactorH, tt.wantSF)
			}
			if downscale.ScaleRecipH != tt.wantRecip {
				t.Errorf("ScaleRecipH = %d, want %d", downscale.ScaleRecipH, tt.wantRecip)
			}
		})
	}
}

// --- Compression pairing ---

func TestFinaliseDecompression(t *testing.T) {
	tests := []struct {
		name       string
		format     ImageFormat
		decompress bool
		wantErr    string
	}{
		{"compressed without decompress", FormatCompressionMode1, false,
			"libpisp: input compressed but decompression not enabled"},
		{"uncompressed with decompress", FormatThreeChannel, true,
			"libpisp: input uncompressed but decompression enabled"},
		{"compressed 16bpp", FormatCompressionMode1 | FormatBPS16, true,
			"libpisp: compressed input is not 8bpp"},
		{"compressed 8bpp", FormatCompressionMode1, true, ""},
		{"plain bayer", FormatBPS16, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c BeConfig
			c.Global.BayerEnables = BayerEnableInput
			if tt.decompress {
				c.Global.BayerEnables |= BayerEnableDecompress
			}
			c.InputFormat = ImageFormatConfig{Width: 1920, Height: 1080, Format: tt.format}
			err := finaliseDecompression(&c)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("finaliseDecompression: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestCheckRawIOFormat(t *testing.T) {
	c := ImageFormatConfig{Format: FormatBPS16}
	if err := checkRawIOFormat(&c, 1920, 1080); err != nil {
		t.Fatalf("checkRawIOFormat: %v", err)
	}
	if c.Width != 1920 || c.Height != 1080 {
		t.Errorf("dimensions = %dx%d, want 1920x1080", c.Width, c.Height)
	}
	if c.Stride != 3840 {
		t.Errorf("stride = %d, want 3840", c.Stride)
	}

	c = ImageFormatConfig{Width: 1280, Height: 720, Format: FormatBPS16}
	err := checkRawIOFormat(&c, 1920, 1080)
	if err == nil || err.Error() != "libpisp: image dimensions do not match input" {
		t.Errorf("error = %v, want dimension mismatch", err)
	}

	// An oversized caller stride is kept.
	c = ImageFormatConfig{Width: 1920, Height: 1080, Format: FormatBPS16, Stride: 4096}
	if err := checkRawIOFormat(&c, 1920, 1080); err != nil {
		t.Fatalf("checkRawIOFormat: %v", err)
	}
	if c.Stride != 4096 {
		t.Errorf("stride = %d, want 4096 kept", c.Stride)
	}

	c = ImageFormatConfig{Width: 1920, Height: 1080, Format: FormatBPS16, Stride: 16}
	if err := checkRawIOFormat(&c, 1920, 1080); err == nil {
		t.Error("expected error for undersized stride")
	}
}

// --- Temporal denoise enable ladder ---

func TestFinaliseTDN(t *testing.T) {
	tests := []struct {
		name    string
		enables BayerEnable
		format  ImageFormat
		reset   uint8
		wantErr string
	}{
		{"tdn without output", BayerEnableTDN, FormatBPS16, 1,
			"libpisp: TDN output not enabled when TDN enabled"},
		{"compressed without compress", BayerEnableTDNOutput, FormatCompressionMode1, 0,
			"libpisp: TDN output compressed but compression not enabled"},
		{"uncompressed with compress", BayerEnableTDNOutput | BayerEnableTDNCompress, FormatBPS16, 0,
			"libpisp: TDN output uncompressed but compression enabled"},
		{"compressed 16bpp", BayerEnableTDNOutput | BayerEnableTDNCompress,
			FormatCompressionMode1 | FormatBPS16, 0,
			"libpisp: TDN output does not match compression mode"},
		{"input without tdn", BayerEnableTDNInput | BayerEnableTDNOutput, FormatBPS16, 0,
			"libpisp: TDN input enabled but TDN not enabled"},
		{"input while resetting", BayerEnableTDN | BayerEnableTDNInput | BayerEnableTDNOutput,
			FormatBPS16, 1,
			"libpisp: TDN input enabled but TDN being reset"},
		{"running without input", BayerEnableTDN | BayerEnableTDNOutput, FormatBPS16, 0,
			"libpisp: TDN input not enabled but TDN not being reset"},
		{"running compressed without decompress",
			BayerEnableTDN | BayerEnableTDNInput | BayerEnableTDNOutput | BayerEnableTDNCompress,
			FormatCompressionMode1, 0,
			"libpisp: TDN input compressed but decompression not enabled"},
		{"running uncompressed with decompress",
			BayerEnableTDN | BayerEnableTDNInput | BayerEnableTDNOutput | BayerEnableTDNDecompress,
			FormatBPS16, 0,
			"libpisp: TDN input uncompressed but decompression enabled"},
		{"reset frame", BayerEnableTDN | BayerEnableTDNOutput, FormatBPS16, 1, ""},
		{"running frame", BayerEnableTDN | BayerEnableTDNInput | BayerEnableTDNOutput,
			FormatBPS16, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c BeConfig
			c.Global.BayerEnables = BayerEnableInput | tt.enables
			c.InputFormat = ImageFormatConfig{Width: 1920, Height: 1080, Format: FormatBPS16, Stride: 3840}
			c.TDNOutputFormat.Format = tt.format
			c.TDN.Reset = tt.reset
			err := finaliseTDN(&c)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("finaliseTDN: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestFinaliseTDNFillsFormats(t *testing.T) {
	var c BeConfig
	c.Global.BayerEnables = BayerEnableInput | BayerEnableTDN | BayerEnableTDNInput | BayerEnableTDNOutput
	c.InputFormat = ImageFormatConfig{Width: 1920, Height: 1080, Format: FormatBPS16, Stride: 3840}
	c.TDNOutputFormat.Format = FormatBPS16

	if err := finaliseTDN(&c); err != nil {
		t.Fatalf("finaliseTDN: %v", err)
	}
	if c.TDNOutputFormat.Width != 1920 || c.TDNOutputFormat.Height != 1080 {
		t.Errorf("output dimensions = %dx%d, want 1920x1080",
			c.TDNOutputFormat.Width, c.TDNOutputFormat.Height)
	}
	if c.TDNOutputFormat.Stride != 3840 {
		t.Errorf("output stride = %d, want 3840", c.TDNOutputFormat.Stride)
	}
	// An unset input format picks up the input dimensions.
	if c.TDNInputFormat.Width != 1920 || c.TDNInputFormat.Height != 1080 {
		t.Errorf("input dimensions = %dx%d, want 1920x1080",
			c.TDNInputFormat.Width, c.TDNInputFormat.Height)
	}
}

// --- Stitch enable ladder ---

func TestFinaliseStitch(t *testing.T) {
	base := func(enables BayerEnable) BeConfig {
		var c BeConfig
		c.Global.BayerEnables = BayerEnableInput | enables
		c.InputFormat = ImageFormatConfig{Width: 1920, Height: 1080, Format: FormatBPS16, Stride: 3840}
		c.StitchInputFormat.Format = FormatBPS16
		c.StitchOutputFormat.Format = FormatBPS16
		return c
	}

	c := base(BayerEnableStitch)
	err := finaliseStitch(&c)
	if err == nil || err.Error() != "libpisp: stitch and stitch input should be enabled/disabled together" {
		t.Errorf("error = %v, want stitch pairing error", err)
	}

	c = base(BayerEnableStitchInput)
	if err := finaliseStitch(&c); err == nil {
		t.Error("expected pairing error for stitch input without stitch")
	}

	c = base(BayerEnableStitchOutput)
	c.StitchOutputFormat.Format = FormatCompressionMode1
	err = finaliseStitch(&c)
	if err == nil || err.Error() != "libpisp: stitch output compressed but compression not enabled" {
		t.Errorf("error = %v, want compression pairing error", err)
	}

	c = base(BayerEnableStitch | BayerEnableStitchInput | BayerEnableStitchOutput)
	if err := finaliseStitch(&c); err != nil {
		t.Fatalf("finaliseStitch: %v", err)
	}
	if c.StitchOutputFormat.Width != 1920 || c.StitchInputFormat.Width != 1920 {
		t.Errorf("buffer widths = %d/%d, want 1920/1920",
			c.StitchOutputFormat.Width, c.StitchInputFormat.Width)
	}
}

func TestStitchMotionThresholdRecip(t *testing.T) {
	tests := []struct {
		name      string
		threshold uint8
		recip     uint8
		want      uint8
	}{
		{"zero threshold", 0, 0, 255},
		{"threshold 1", 1, 0, 255},
		{"threshold 3 rounds up", 3, 0, 86},
		{"preset recip kept", 3, 7, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c BeConfig
			c.Global.BayerEnables = BayerEnableInput | BayerEnableStitch |
				BayerEnableStitchInput | BayerEnableStitchOutput
			c.InputFormat = ImageFormatConfig{Width: 1920, Height: 1080, Format: FormatBPS16, Stride: 3840}
			c.StitchInputFormat.Format = FormatBPS16
			c.StitchOutputFormat.Format = FormatBPS16
			c.Stitch.MotionThreshold256 = tt.threshold
			c.Stitch.MotionThresholdRecip = tt.recip
			if err := finaliseStitch(&c); err != nil {
				t.Fatalf("finaliseStitch: %v", err)
			}
			if c.Stitch.MotionThresholdRecip != tt.want {
				t.Errorf("MotionThresholdRecip = %d, want %d", c.Stitch.MotionThresholdRecip, tt.want)
			}
		})
	}
}

// --- Output checks ---

func TestFinaliseOutput(t *testing.T) {
	config := OutputFormatConfig{
		Image: ImageFormatConfig{Width: 64, Height: 48, Format: FormatThreeChannel, Stride: 192},
	}
	if err := finaliseOutput(&config); err != nil {
		t.Fatalf("finaliseOutput: %v", err)
	}
	if config.Hi != 65535 || config.Hi2 != 65535 {
		t.Errorf("clipping bounds = %d/%d, want 65535/65535", config.Hi, config.Hi2)
	}

	config.Hi = 1000
	config.Hi2 = 0
	if err := finaliseOutput(&config); err != nil {
		t.Fatalf("finaliseOutput: %v", err)
	}
	if config.Hi != 1000 || config.Hi2 != 65535 {
		t.Errorf("clipping bounds = %d/%d, want 1000/65535", config.Hi, config.Hi2)
	}

	tests := []struct {
		name    string
		image   ImageFormatConfig
		wantErr string
	}{
		{"too small", ImageFormatConfig{Width: 8, Height: 8, Format: FormatThreeChannel, Stride: 192},
			"libpisp: output image too small"},
		{"420 odd height", ImageFormatConfig{Width: 64, Height: 47,
			Format: FormatThreeChannel | FormatPlanarityPlanar | FormatSampling420, Stride: 64, Stride2: 32},
			"libpisp: 420 image height should be even"},
		{"422 odd width", ImageFormatConfig{Width: 63, Height: 48,
			Format: FormatThreeChannel | FormatSampling422, Stride: 128},
			"libpisp: 420/422 image width should be even"},
		{"misaligned stride", ImageFormatConfig{Width: 64, Height: 48, Format: FormatThreeChannel, Stride: 100},
			"libpisp: image stride should be at least 16-byte aligned"},
		{"wallpaper stride", ImageFormatConfig{Width: 64, Height: 48,
			Format: FormatThreeChannel | FormatWallpaperRoll, Stride: 192, Stride2: 192},
			"libpisp: wallpaper image stride should be at least 128-byte aligned"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := OutputFormatConfig{Image: tt.image}
			err := finaliseOutput(&config)
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestFinaliseConfigInputExclusivity(t *testing.T) {
	be := newTestBackEnd(t, Config{})
	be.extra.DirtyBayer = 0
	be.extra.DirtyRGB = 0

	// Neither input enabled trips the same check as both enabled.
	err := be.finaliseConfig()
	if err == nil || err.Error() != "libpisp: exactly one of Bayer and RGB inputs should be enabled" {
		t.Errorf("error = %v, want input exclusivity error", err)
	}
}

// --- Output size and format computation ---

func TestGetOutputSize(t *testing.T) {
	be := newTestBackEnd(t, Config{})
	in := ImageFormatConfig{Width: 1920, Height: 1080, Format: FormatThreeChannel, Stride: 5760}

	check := func(wantW, wantH uint16) {
		t.Helper()
		w, h := be.getOutputSize(0, &in)
		if w != wantW || h != wantH {
			t.Errorf("getOutputSize = %dx%d, want %dx%d", w, h, wantW, wantH)
		}
	}

	check(1920, 1080)

	be.SetCrop(0, CropConfig{Width: 640, Height: 480})
	check(640, 480)

	be.SetGlobal(GlobalConfig{RGBEnables: RGBEnableInput | RGBEnableDownscale0 | RGBEnableOutput0})
	be.SetDownscaleExtra(0, DownscaleExtra{ScaledWidth: 960, ScaledHeight: 540})
	check(960, 540)

	be.SetGlobal(GlobalConfig{RGBEnables: RGBEnableInput | RGBEnableDownscale0 |
		RGBEnableResample0 | RGBEnableOutput0})
	be.SetResampleExtra(0, ResampleExtra{ScaledWidth: 320, ScaledHeight: 240})
	check(320, 240)

	be.SetSmartResize(0, SmartResize{Width: 128, Height: 96})
	check(128, 96)

	// Dropping each layer falls back to the next one down.
	be.SetSmartResize(0, SmartResize{})
	check(320, 240)
	be.SetGlobal(GlobalConfig{RGBEnables: RGBEnableInput | RGBEnableDownscale0 | RGBEnableOutput0})
	check(960, 540)
	be.SetGlobal(GlobalConfig{RGBEnables: RGBEnableInput | RGBEnableOutput0})
	check(640, 480)
	be.SetCrop(0, CropConfig{})
	check(1920, 1080)
}

func TestComputeOutputImageFormat(t *testing.T) {
	be := newTestBackEnd(t, Config{})
	in := ImageFormatConfig{Width: 640, Height: 480, Format: FormatThreeChannel, Stride: 1920}

	be.SetGlobal(GlobalConfig{RGBEnables: RGBEnableInput | RGBEnableOutput0})
	be.SetOutputFormat(0, OutputFormatConfig{Image: ImageFormatConfig{Format: FormatThreeChannel}})
	be.SetOutputFormat(1, OutputFormatConfig{
		Image: ImageFormatConfig{Width: 111, Height: 222, Format: FormatThreeChannel, Stride: 336},
	})

	var out ImageFormatConfig
	enabled, err := be.ComputeOutputImageFormat(0, &out, &in)
	if err != nil {
		t.Fatalf("ComputeOutputImageFormat: %v", err)
	}
	if !enabled {
		t.Error("branch 0 not reported enabled")
	}
	if out.Width != 640 || out.Height != 480 || out.Stride != 1920 {
		t.Errorf("output = %dx%d stride %d, want 640x480 stride 1920", out.Width, out.Height, out.Stride)
	}

	// A disabled branch comes back zeroed regardless of its configuration.
	enabled, err = be.ComputeOutputImageFormat(1, &out, &in)
	if err != nil {
		t.Fatalf("ComputeOutputImageFormat: %v", err)
	}
	if enabled {
		t.Error("branch 1 reported enabled")
	}
	if out.Width != 0 || out.Height != 0 || out.Stride != 0 || out.Stride2 != 0 {
		t.Errorf("disabled branch = %dx%d strides %d/%d, want all zero",
			out.Width, out.Height, out.Stride, out.Stride2)
	}

	// A configured stride smaller than the image is rejected.
	be.SetOutputFormat(0, OutputFormatConfig{
		Image: ImageFormatConfig{Format: FormatThreeChannel, Stride: 16},
	})
	if _, err := be.ComputeOutputImageFormat(0, &out, &in); err == nil {
		t.Error("expected error for undersized stride")
	}
}

func TestComputeHogOutputImageFormat(t *testing.T) {
	be := newTestBackEnd(t, Config{})
	in := ImageFormatConfig{Width: 1920, Height: 1080, Format: FormatThreeChannel, Stride: 5760}

	var out ImageFormatConfig
	enabled, err := be.ComputeHogOutputImageFormat(&out, &in)
	if err != nil {
		t.Fatalf("ComputeHogOutputImageFormat: %v", err)
	}
	if enabled {
		t.Error("HOG reported enabled with no enable bit")
	}

	be.SetGlobal(GlobalConfig{RGBEnables: RGBEnableInput | RGBEnableOutput1 | RGBEnableHOG})
	enabled, err = be.ComputeHogOutputImageFormat(&out, &in)
	if err != nil {
		t.Fatalf("ComputeHogOutputImageFormat: %v", err)
	}
	if !enabled {
		t.Error("HOG not reported enabled")
	}
	// Cells are 8x8 with a 1-pixel gradient border: (1920-2)/8 x (1080-2)/8.
	if out.Width != 239 || out.Height != 134 {
		t.Errorf("cell grid = %dx%d, want 239x134", out.Width, out.Height)
	}
	if out.Format != FormatHOGUnsigned {
		t.Errorf("format = %#x, want unsigned HOG", uint32(out.Format))
	}
	if out.Stride != 7648 {
		t.Errorf("stride = %d, want 7648", out.Stride)
	}

	// Signed cells are 48 bytes instead of 32.
	be.SetHOG(HOGConfig{ComputeSigned: 1})
	if _, err := be.ComputeHogOutputImageFormat(&out, &in); err != nil {
		t.Fatalf("ComputeHogOutputImageFormat: %v", err)
	}
	if out.Format != FormatHOGSigned {
		t.Errorf("format = %#x, want signed HOG", uint32(out.Format))
	}
	if out.Stride != 11472 {
		t.Errorf("stride = %d, want 11472", out.Stride)
	}

	// The grid follows the branch 1 output size, not the input.
	be.SetHOG(HOGConfig{})
	be.SetSmartResize(1, SmartResize{Width: 480, Height: 270})
	if _, err := be.ComputeHogOutputImageFormat(&out, &in); err != nil {
		t.Fatalf("ComputeHogOutputImageFormat: %v", err)
	}
	if out.Width != 59 || out.Height != 33 {
		t.Errorf("cell grid = %dx%d, want 59x33", out.Width, out.Height)
	}
}

// --- Whole-frame preparation ---

func TestPrepareSingleTile(t *testing.T) {
	be := newTestBackEnd(t, Config{})
	be.SetGlobal(GlobalConfig{RGBEnables: RGBEnableInput | RGBEnableOutput0})
	be.SetInputFormat(ImageFormatConfig{Width: 64, Height: 48, Format: FormatThreeChannel, Stride: 192})
	be.SetOutputFormat(0, OutputFormatConfig{Image: ImageFormatConfig{Format: FormatThreeChannel}})

	tc := prepareFrame(t, be)

	if tc.NumTiles != 1 {
		t.Fatalf("NumTiles = %d, want 1", tc.NumTiles)
	}
	tile := &tc.Tiles[0]
	wantEdge := TileEdgeLeft | TileEdgeRight | TileEdgeTop | TileEdgeBottom
	if tile.Edge != wantEdge {
		t.Errorf("Edge = %#x, want %#x", tile.Edge, wantEdge)
	}
	if tile.InputOffsetX != 0 || tile.InputOffsetY != 0 {
		t.Errorf("input offset = %d,%d, want 0,0", tile.InputOffsetX, tile.InputOffsetY)
	}
	if tile.InputWidth != 64 || tile.InputHeight != 48 {
		t.Errorf("input size = %dx%d, want 64x48", tile.InputWidth, tile.InputHeight)
	}
	if tile.CropXStart[0] != 0 || tile.CropXEnd[0] != 0 || tile.CropYStart[0] != 0 || tile.CropYEnd[0] != 0 {
		t.Errorf("crop = %d/%d %d/%d, want none",
			tile.CropXStart[0], tile.CropXEnd[0], tile.CropYStart[0], tile.CropYEnd[0])
	}
	if tile.ResampleInWidth[0] != 64 || tile.ResampleInHeight[0] != 48 {
		t.Errorf("resample input = %dx%d, want 64x48", tile.ResampleInWidth[0], tile.ResampleInHeight[0])
	}
	if tile.OutputWidth[0] != 64 || tile.OutputHeight[0] != 48 {
		t.Errorf("output size = %dx%d, want 64x48", tile.OutputWidth[0], tile.OutputHeight[0])
	}
	if tile.OutputWidth[1] != 0 || tile.OutputHeight[1] != 0 {
		t.Errorf("disabled branch output = %dx%d, want 0x0", tile.OutputWidth[1], tile.OutputHeight[1])
	}
	if tile.InputAddrOffset != 0 || tile.OutputAddrOffset[0] != 0 {
		t.Errorf("addr offsets = %d/%d, want 0/0", tile.InputAddrOffset, tile.OutputAddrOffset[0])
	}

	out := &tc.Config.OutputFormat[0]
	if out.Image.Width != 64 || out.Image.Height != 48 || out.Image.Stride != 192 {
		t.Errorf("output format = %dx%d stride %d, want 64x48 stride 192",
			out.Image.Width, out.Image.Height, out.Image.Stride)
	}
	if out.Hi != 65535 || out.Hi2 != 65535 {
		t.Errorf("clipping bounds = %d/%d, want 65535/65535", out.Hi, out.Hi2)
	}
	if tc.Config.OutputFormat[1].Image.Width != 0 {
		t.Errorf("disabled output width = %d, want 0", tc.Config.OutputFormat[1].Image.Width)
	}
	if tc.Config.Global.RGBEnables != RGBEnableInput|RGBEnableOutput0 {
		t.Errorf("RGBEnables = %#x, want input and output 0 only", tc.Config.Global.RGBEnables)
	}
}

func TestPrepareNilLeavesDirtyState(t *testing.T) {
	be := newTestBackEnd(t, Config{})
	be.SetGlobal(GlobalConfig{RGBEnables: RGBEnableInput | RGBEnableOutput0})
	be.SetInputFormat(ImageFormatConfig{Width: 64, Height: 48, Format: FormatThreeChannel, Stride: 192})
	be.SetOutputFormat(0, OutputFormatConfig{Image: ImageFormatConfig{Format: FormatThreeChannel}})

	// A nil config validates without consuming the accumulated changes.
	if err := be.Prepare(nil); err != nil {
		t.Fatalf("Prepare(nil): %v", err)
	}
	if be.extra.DirtyRGB == 0 {
		t.Error("Prepare(nil) cleared the dirty state")
	}

	prepareFrame(t, be)
	if be.extra.DirtyBayer != 0 || be.extra.DirtyRGB != 0 || be.extra.Dirty != 0 {
		t.Errorf("dirty state after Prepare = %#x/%#x/%#x, want all clear",
			be.extra.DirtyBayer, be.extra.DirtyRGB, be.extra.Dirty)
	}
}

func TestPrepareTrapezoidResample(t *testing.T) {
	be := newTestBackEnd(t, Config{})
	be.SetGlobal(GlobalConfig{RGBEnables: RGBEnableInput | RGBEnableOutput0})
	be.SetInputFormat(ImageFormatConfig{Width: 1024, Height: 768, Format: FormatThreeChannel, Stride: 3072})
	be.SetOutputFormat(0, OutputFormatConfig{Image: ImageFormatConfig{Format: FormatThreeChannel}})
	be.SetSmartResize(0, SmartResize{Width: 256, Height: 192})

	tc := prepareFrame(t, be)

	// Branch 0 has no downscaler on this variant, so a 4x reduction gets
	// the synthesised trapezoid filter on the resampler.
	if tc.Config.Global.RGBEnables&RGBEnableResample0 == 0 {
		t.Fatal("resample 0 not enabled")
	}
	resample := &tc.Config.Resample[0]
	if resample.ScaleFactorH != 16432 || resample.ScaleFactorV != 16448 {
		t.Errorf("scale factors = %d/%d, want 16432/16448",
			resample.ScaleFactorH, resample.ScaleFactorV)
	}

	wantPhase0 := []int16{255, 255, 255, 255, 3, 0}
	for i, want := range wantPhase0 {
		if resample.Coef[i] != want {
			t.Errorf("Coef[%d] = %d, want %d", i, resample.Coef[i], want)
		}
	}
	// Phase 8 starts half a pixel in, so its first and last full taps shrink
	// and grow by half an input pixel's worth.
	if resample.Coef[48] != 127 {
		t.Errorf("Coef[48] = %d, want 127", resample.Coef[48])
	}
	if resample.Coef[52] != 130 {
		t.Errorf("Coef[52] = %d, want 130", resample.Coef[52])
	}

	out := &tc.Config.OutputFormat[0].Image
	if out.Width != 256 || out.Height != 192 || out.Stride != 768 {
		t.Errorf("output format = %dx%d stride %d, want 256x192 stride 768",
			out.Width, out.Height, out.Stride)
	}

	if tc.NumTiles != 2 {
		t.Errorf("NumTiles = %d, want 2", tc.NumTiles)
	}
	checkOutputPartition(t, tc, 0, 256)
	for n := 0; n < int(tc.NumTiles); n++ {
		if h := tc.Tiles[n].OutputHeight[0]; h != 192 {
			t.Errorf("tile %d: output height = %d, want 192", n, h)
		}
	}
}

func TestPrepareSmartResizeDownscaler(t *testing.T) {
	be := newTestBackEnd(t, Config{})
	be.SetGlobal(GlobalConfig{RGBEnables: RGBEnableInput | RGBEnableOutput1})
	be.SetInputFormat(ImageFormatConfig{Width: 1920, Height: 1080, Format: FormatThreeChannel, Stride: 5760})
	be.SetOutputFormat(1, OutputFormatConfig{Image: ImageFormatConfig{Format: FormatThreeChannel}})
	be.SetSmartResize(1, SmartResize{Width: 480, Height: 270})

	tc := prepareFrame(t, be)

	// Branch 1 has a downscaler: a 4x reduction becomes a 2x downscale
	// followed by a 2x resample with a filter picked for that ratio.
	enables := tc.Config.Global.RGBEnables
	if enables&RGBEnableDownscale1 == 0 || enables&RGBEnableResample1 == 0 {
		t.Fatalf("RGBEnables = %#x, want downscale 1 and resample 1 enabled", enables)
	}

	downscale := &tc.Config.Downscale[1]
	if downscale.ScaleFactorH != 8192 || downscale.ScaleFactorV != 8192 {
		t.Errorf("downscale factors = %d/%d, want 8192/8192",
			downscale.ScaleFactorH, downscale.ScaleFactorV)
	}
	if downscale.ScaleRecipH != 2048 || downscale.ScaleRecipV != 2048 {
		t.Errorf("downscale recips = %d/%d, want 2048/2048",
			downscale.ScaleRecipH, downscale.ScaleRecipV)
	}

	resample := &tc.Config.Resample[1]
	if resample.ScaleFactorH != 8200 || resample.ScaleFactorV != 8207 {
		t.Errorf("resample factors = %d/%d, want 8200/8207",
			resample.ScaleFactorH, resample.ScaleFactorV)
	}
	// Just over 2x selects the Mitchell filter.
	wantTaps := []int16{0, 57, 910}
	for i, want := range wantTaps {
		if resample.Coef[i] != want {
			t.Errorf("Coef[%d] = %d, want %d", i, resample.Coef[i], want)
		}
	}

	out := &tc.Config.OutputFormat[1].Image
	if out.Width != 480 || out.Height != 270 || out.Stride != 1440 {
		t.Errorf("output format = %dx%d stride %d, want 480x270 stride 1440",
			out.Width, out.Height, out.Stride)
	}

	if tc.NumTiles != 4 {
		t.Errorf("NumTiles = %d, want 4", tc.NumTiles)
	}
	checkOutputPartition(t, tc, 1, 480)
}

func TestPrepareCropWindow(t *testing.T) {
	be := newTestBackEnd(t, Config{})
	be.SetGlobal(GlobalConfig{RGBEnables: RGBEnableInput | RGBEnableOutput0})
	be.SetInputFormat(ImageFormatConfig{Width: 512, Height: 256, Format: FormatThreeChannel, Stride: 1536})
	be.SetCrop(0, CropConfig{OffsetX: 32, OffsetY: 16, Width: 256, Height: 128})
	be.SetOutputFormat(0, OutputFormatConfig{Image: ImageFormatConfig{Format: FormatThreeChannel}})

	tc := prepareFrame(t, be)

	if tc.NumTiles != 1 {
		t.Fatalf("NumTiles = %d, want 1", tc.NumTiles)
	}
	tile := &tc.Tiles[0]

	// The tile reads the crop window plus processing context, aligned down
	// to the input alignment; the crop block then trims the context off.
	if tile.InputOffsetX != 16 || tile.InputOffsetY != 0 {
		t.Errorf("input offset = %d,%d, want 16,0", tile.InputOffsetX, tile.InputOffsetY)
	}
	if tile.InputWidth != 288 || tile.InputHeight != 160 {
		t.Errorf("input size = %dx%d, want 288x160", tile.InputWidth, tile.InputHeight)
	}
	if tile.CropXStart[0] != 16 || tile.CropXEnd[0] != 16 {
		t.Errorf("x crop = %d/%d, want 16/16", tile.CropXStart[0], tile.CropXEnd[0])
	}
	if tile.CropYStart[0] != 16 || tile.CropYEnd[0] != 16 {
		t.Errorf("y crop = %d/%d, want 16/16", tile.CropYStart[0], tile.CropYEnd[0])
	}
	if tile.ResampleInWidth[0] != 256 || tile.ResampleInHeight[0] != 128 {
		t.Errorf("resample input = %dx%d, want 256x128", tile.ResampleInWidth[0], tile.ResampleInHeight[0])
	}
	if tile.OutputWidth[0] != 256 || tile.OutputHeight[0] != 128 {
		t.Errorf("output size = %dx%d, want 256x128", tile.OutputWidth[0], tile.OutputHeight[0])
	}
	if tile.InputAddrOffset != 48 {
		t.Errorf("InputAddrOffset = %d, want 48", tile.InputAddrOffset)
	}

	out := &tc.Config.OutputFormat[0].Image
	if out.Width != 256 || out.Height != 128 || out.Stride != 768 {
		t.Errorf("output format = %dx%d stride %d, want 256x128 stride 768",
			out.Width, out.Height, out.Stride)
	}
}

func TestPrepareVFlip(t *testing.T) {
	be := newTestBackEnd(t, Config{})
	be.SetGlobal(GlobalConfig{RGBEnables: RGBEnableInput | RGBEnableOutput0})
	be.SetInputFormat(ImageFormatConfig{Width: 64, Height: 48, Format: FormatThreeChannel, Stride: 192})
	be.SetOutputFormat(0, OutputFormatConfig{
		Image:     ImageFormatConfig{Format: FormatThreeChannel},
		Transform: TransformVFlip,
	})

	tc := prepareFrame(t, be)
	tile := &tc.Tiles[0]

	// A flipped tile writes from the far edge: its offset is remapped into
	// real image coordinates and the address offset follows.
	if tile.OutputOffsetY[0] != 47 {
		t.Errorf("OutputOffsetY = %d, want 47", tile.OutputOffsetY[0])
	}
	if tile.OutputAddrOffset[0] != 9024 {
		t.Errorf("OutputAddrOffset = %d, want 9024", tile.OutputAddrOffset[0])
	}

	// Refreshing the per-tile addressing without retiling must not flip the
	// offsets a second time.
	be.SetTDNInputFormat(ImageFormatConfig{})
	tc = prepareFrame(t, be)
	tile = &tc.Tiles[0]
	if tile.OutputOffsetY[0] != 47 {
		t.Errorf("OutputOffsetY after refresh = %d, want 47", tile.OutputOffsetY[0])
	}
	if tile.OutputAddrOffset[0] != 9024 {
		t.Errorf("OutputAddrOffset after refresh = %d, want 9024", tile.OutputAddrOffset[0])
	}
}

func TestPrepareHFlipPartition(t *testing.T) {
	be := newTestBackEnd(t, Config{})
	be.SetGlobal(GlobalConfig{RGBEnables: RGBEnableInput | RGBEnableOutput0})
	be.SetInputFormat(ImageFormatConfig{Width: 1280, Height: 96, Format: FormatThreeChannel, Stride: 3840})
	be.SetOutputFormat(0, OutputFormatConfig{
		Image:     ImageFormatConfig{Format: FormatThreeChannel},
		Transform: TransformHFlip,
	})

	tc := prepareFrame(t, be)
	if tc.NumTiles < 2 {
		t.Fatalf("NumTiles = %d, want several", tc.NumTiles)
	}

	// The flipped offsets must still partition the image exactly.
	covered := make(map[int]bool)
	for n := 0; n < int(tc.NumTiles); n++ {
		tile := &tc.Tiles[n]
		start := int(tile.OutputOffsetX[0])
		for x := start; x < start+int(tile.OutputWidth[0]); x++ {
			if covered[x] {
				t.Fatalf("tile %d: output pixel %d written twice", n, x)
			}
			covered[x] = true
		}
		// The rightmost source tile lands at the left edge of the output.
		if tile.Edge&TileEdgeRight != 0 && tile.OutputOffsetX[0] != 0 {
			t.Errorf("right-edge tile writes at %d, want 0", tile.OutputOffsetX[0])
		}
	}
	if len(covered) != 1280 {
		t.Errorf("tiles cover %d pixels, want 1280", len(covered))
	}
}

func TestPrepareTDNAddressing(t *testing.T) {
	be := newTestBackEnd(t, Config{})
	be.SetGlobal(GlobalConfig{
		BayerEnables: BayerEnableInput | BayerEnableTDN | BayerEnableTDNOutput,
		RGBEnables:   RGBEnableOutput0,
	})
	be.SetInputFormat(ImageFormatConfig{Width: 1920, Height: 1080, Format: FormatBPS16, Stride: 3840})
	be.SetTDN(TDNConfig{Reset: 1})
	be.SetTDNOutputFormat(ImageFormatConfig{Format: FormatBPS16})
	be.SetOutputFormat(0, OutputFormatConfig{Image: ImageFormatConfig{Format: FormatThreeChannel}})

	tc := prepareFrame(t, be)

	tdn := &tc.Config.TDNOutputFormat
	if tdn.Width != 1920 || tdn.Height != 1080 || tdn.Stride != 3840 {
		t.Errorf("TDN output format = %dx%d stride %d, want 1920x1080 stride 3840",
			tdn.Width, tdn.Height, tdn.Stride)
	}

	if tc.NumTiles < 2 {
		t.Fatalf("NumTiles = %d, want several", tc.NumTiles)
	}
	// The TDN buffer shares the input geometry: 2 bytes per sample on the
	// first stripe means twice the pixel offset.
	for n := 0; n < int(tc.NumTiles); n++ {
		tile := &tc.Tiles[n]
		if tile.InputOffsetY != 0 {
			t.Fatalf("tile %d: InputOffsetY = %d, want single stripe", n, tile.InputOffsetY)
		}
		want := 2 * uint32(tile.InputOffsetX)
		if tile.TDNOutputAddrOffset != want {
			t.Errorf("tile %d: TDNOutputAddrOffset = %d, want %d", n, tile.TDNOutputAddrOffset, want)
		}
	}
}

func TestPrepareLSCGridOffsets(t *testing.T) {
	be := newTestBackEnd(t, Config{})
	be.SetGlobal(GlobalConfig{
		BayerEnables: BayerEnableInput | BayerEnableLSC,
		RGBEnables:   RGBEnableOutput0,
	})
	be.SetInputFormat(ImageFormatConfig{Width: 1920, Height: 1080, Format: FormatBPS16, Stride: 3840})
	be.SetLSC(LSCConfig{}, LSCExtra{})
	be.SetOutputFormat(0, OutputFormatConfig{Image: ImageFormatConfig{Format: FormatThreeChannel}})

	tc := prepareFrame(t, be)

	if tc.Config.LSC.GridStepX != 4369 || tc.Config.LSC.GridStepY != 7767 {
		t.Errorf("grid steps = %d/%d, want 4369/7767",
			tc.Config.LSC.GridStepX, tc.Config.LSC.GridStepY)
	}
	if tc.NumTiles < 2 {
		t.Fatalf("NumTiles = %d, want several", tc.NumTiles)
	}
	for n := 0; n < int(tc.NumTiles); n++ {
		tile := &tc.Tiles[n]
		wantX := uint32(int(tile.InputOffsetX) * 4369)
		if tile.LSCGridOffsetX != wantX {
			t.Errorf("tile %d: LSCGridOffsetX = %d, want %d", n, tile.LSCGridOffsetX, wantX)
		}
		if tile.LSCGridOffsetY != 0 {
			t.Errorf("tile %d: LSCGridOffsetY = %d, want 0", n, tile.LSCGridOffsetY)
		}
	}
}

func TestPrepareHOGAddressing(t *testing.T) {
	be := newTestBackEnd(t, Config{})
	be.SetGlobal(GlobalConfig{RGBEnables: RGBEnableInput | RGBEnableOutput1 | RGBEnableHOG})
	be.SetInputFormat(ImageFormatConfig{Width: 1920, Height: 1080, Format: FormatThreeChannel, Stride: 5760})
	be.SetOutputFormat(1, OutputFormatConfig{Image: ImageFormatConfig{Format: FormatThreeChannel}})

	tc := prepareFrame(t, be)

	if tc.Config.HOG.Stride != 7648 {
		t.Errorf("HOG stride = %d, want 7648", tc.Config.HOG.Stride)
	}
	hf := &be.extra.HOGFormat
	if hf.Width != 239 || hf.Height != 134 || hf.Format != FormatHOGUnsigned || hf.Stride != 7648 {
		t.Errorf("HOG format = %dx%d %#x stride %d, want 239x134 unsigned stride 7648",
			hf.Width, hf.Height, uint32(hf.Format), hf.Stride)
	}

	if tc.NumTiles < 2 {
		t.Fatalf("NumTiles = %d, want several", tc.NumTiles)
	}
	// Feature cells are 32 bytes each and start on the cell containing the
	// tile's first output pixel.
	for n := 0; n < int(tc.NumTiles); n++ {
		tile := &tc.Tiles[n]
		want := uint32(int(tile.OutputOffsetX[1]) / 8 * 32)
		if tile.OutputHOGAddrOffset != want {
			t.Errorf("tile %d: OutputHOGAddrOffset = %d, want %d", n, tile.OutputHOGAddrOffset, want)
		}
	}
}

func TestPrepareErrors(t *testing.T) {
	valid := func(be *BackEnd) {
		be.SetGlobal(GlobalConfig{RGBEnables: RGBEnableInput | RGBEnableOutput0})
		be.SetInputFormat(ImageFormatConfig{Width: 64, Height: 48, Format: FormatThreeChannel, Stride: 192})
		be.SetOutputFormat(0, OutputFormatConfig{Image: ImageFormatConfig{Format: FormatThreeChannel}})
	}

	tests := []struct {
		name  string
		setup func(be *BackEnd)
		want  string
	}{
		{
			name:  "no input",
			setup: func(be *BackEnd) {},
			want:  "libpisp: neither Bayer nor RGB inputs are enabled",
		},
		{
			name: "both inputs",
			setup: func(be *BackEnd) {
				be.SetGlobal(GlobalConfig{
					BayerEnables: BayerEnableInput,
					RGBEnables:   RGBEnableInput,
				})
			},
			want: "libpisp: both Bayer and RGB inputs are enabled",
		},
		{
			name: "no outputs",
			setup: func(be *BackEnd) {
				be.SetGlobal(GlobalConfig{RGBEnables: RGBEnableInput})
				be.SetInputFormat(ImageFormatConfig{Width: 64, Height: 48, Format: FormatThreeChannel, Stride: 192})
			},
			want: "libpisp: PiSP not configured to do anything",
		},
		{
			name: "input too small",
			setup: func(be *BackEnd) {
				valid(be)
				be.SetInputFormat(ImageFormatConfig{Width: 8, Height: 8, Format: FormatThreeChannel, Stride: 32})
			},
			want: "libpisp: input image too small",
		},
		{
			name: "output too small",
			setup: func(be *BackEnd) {
				valid(be)
				be.SetCrop(0, CropConfig{Width: 8, Height: 8})
			},
			want: "libpisp: output image too small",
		},
		{
			name: "integral output",
			setup: func(be *BackEnd) {
				valid(be)
				be.SetOutputFormat(1, OutputFormatConfig{
					Image: ImageFormatConfig{Format: FormatIntegralImage},
				})
			},
			want: "libpisp: integral images are not supported",
		},
		{
			name: "downscale unavailable",
			setup: func(be *BackEnd) {
				be.SetGlobal(GlobalConfig{
					RGBEnables: RGBEnableInput | RGBEnableDownscale0 | RGBEnableOutput0,
				})
				be.SetInputFormat(ImageFormatConfig{Width: 1280, Height: 960, Format: FormatThreeChannel, Stride: 3840})
				be.SetDownscale(0, DownscaleConfig{}, DownscaleExtra{ScaledWidth: 320, ScaledHeight: 240})
				be.SetOutputFormat(0, OutputFormatConfig{Image: ImageFormatConfig{Format: FormatThreeChannel}})
			},
			want: "libpisp: downscale is not available in output branch 0",
		},
		{
			name: "resample beyond 16x",
			setup: func(be *BackEnd) {
				be.SetGlobal(GlobalConfig{
					RGBEnables: RGBEnableInput | RGBEnableResample0 | RGBEnableOutput0,
				})
				be.SetInputFormat(ImageFormatConfig{Width: 1700, Height: 1700, Format: FormatThreeChannel, Stride: 5104})
				be.SetResample(0, ResampleConfig{}, ResampleExtra{ScaledWidth: 100, ScaledHeight: 100})
				be.SetOutputFormat(0, OutputFormatConfig{Image: ImageFormatConfig{Format: FormatThreeChannel}})
			},
			want: "libpisp: invalid scaling factors (must be < 16x down/upscale)",
		},
		{
			name: "bayer pipe without bayer input",
			setup: func(be *BackEnd) {
				valid(be)
				be.SetGlobal(GlobalConfig{
					BayerEnables: BayerEnableLSC,
					RGBEnables:   RGBEnableInput | RGBEnableOutput0,
				})
			},
			want: "libpisp: Bayer input disabled but Bayer pipe active",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			be := newTestBackEnd(t, Config{})
			tt.setup(be)
			err := be.Prepare(nil)
			if err == nil {
				t.Fatal("Prepare succeeded, want error")
			}
			if err.Error() != tt.want {
				t.Errorf("error = %q, want %q", err, tt.want)
			}
		})
	}
}

func TestPrepareDeterministic(t *testing.T) {
	build := func() *TilesConfig {
		be := newTestBackEnd(t, Config{})
		be.SetGlobal(GlobalConfig{RGBEnables: RGBEnableInput | RGBEnableOutput1})
		be.SetInputFormat(ImageFormatConfig{Width: 1920, Height: 1080, Format: FormatThreeChannel, Stride: 5760})
		be.SetOutputFormat(1, OutputFormatConfig{Image: ImageFormatConfig{Format: FormatThreeChannel}})
		be.SetSmartResize(1, SmartResize{Width: 480, Height: 270})
		return prepareFrame(t, be)
	}

	first, err := build().MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	second, err := build().MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("identical configurations produced different encodings")
	}
}
