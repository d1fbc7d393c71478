// Command pispbe builds and inspects PiSP back-end configuration blobs.
//
// Usage:
//
//	pispbe prepare [options]            Build a frame configuration (use "-o -" for stdout)
//	pispbe info [options] <config.bin>  Display a configuration summary (use "-" for stdin)
//	pispbe formats                      List the recognised image format names
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/raspberrypi/libpisp"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "prepare":
		err = runPrepare(os.Args[2:])
	case "info":
		err = runInfo(os.Args[2:])
	case "formats":
		err = runFormats()
	case "-h", "-help", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "pispbe: unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "pispbe: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage:
  pispbe prepare [options]            Build a frame configuration blob
  pispbe info [options] <config.bin>  Display a configuration summary
  pispbe formats                      List the recognised image format names

Use "-o -" to write the blob to stdout, "-" as input to read from stdin.

Run "pispbe <command> -h" for command-specific options.
`)
}

// openInput returns an io.ReadCloser for the given path.
// If path is "-", stdin is returned (caller should not close).
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// --- prepare ---

func runPrepare(args []string) error {
	fs := flag.NewFlagSet("prepare", flag.ContinueOnError)
	width := fs.Int("width", 1920, "input width in pixels")
	height := fs.Int("height", 1080, "input height in pixels")
	format := fs.String("format", "RGB888", `input format name (see "pispbe formats")`)
	stride := fs.Int("stride", 0, "input stride in bytes (0=computed)")
	order := fs.String("bayer-order", "rggb", "Bayer order for raw inputs: rggb/gbrg/bggr/grbg/grey")
	outFormat := fs.String("out-format", "RGB888", "output format name")
	branch := fs.Int("branch", 0, "output branch 0-1")
	resize := fs.String("resize", "", `output size "WxH" (default: input size)`)
	crop := fs.String("crop", "", `crop window "X,Y,WxH" carved from the input`)
	transform := fs.String("transform", "none", "output transform: none/hflip/vflip/rot180")
	output := fs.String("o", "config.bin", `output path ("-" for stdout)`)

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *width < 1 || *width > 0xffff || *height < 1 || *height > 0xffff {
		return fmt.Errorf("prepare: input size %dx%d out of range", *width, *height)
	}
	if *branch < 0 || *branch >= libpisp.NumOutputBranches {
		return fmt.Errorf("prepare: output branch %d out of range", *branch)
	}

	inFmt, err := libpisp.ParseImageFormat(*format)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	outFmt, err := libpisp.ParseImageFormat(*outFormat)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	tr, err := parseTransform(*transform)
	if err != nil {
		return err
	}

	be, err := libpisp.NewBackEnd(libpisp.Config{}, libpisp.BCM2712C0, nil)
	if err != nil {
		return err
	}
	defer be.Close()
	be.InitialiseConfig()

	global := libpisp.GlobalConfig{
		RGBEnables: libpisp.RGBEnableOutput(*branch),
	}
	if inFmt.ThreeChannel() {
		global.RGBEnables |= libpisp.RGBEnableInput
	} else {
		// Raw inputs come in through the Bayer pipe and get demosaicked
		// before the output branch.
		global.BayerEnables = libpisp.BayerEnableInput | libpisp.BayerEnableDemosaic
		if inFmt.Compressed() {
			global.BayerEnables |= libpisp.BayerEnableDecompress
		}
		global.BayerOrder, err = parseBayerOrder(*order)
		if err != nil {
			return err
		}
	}
	be.SetGlobal(global)

	ifmt := libpisp.ImageFormatConfig{
		Width:  uint16(*width),
		Height: uint16(*height),
		Format: inFmt,
	}
	libpisp.ComputeOptimalStride(&ifmt, true)
	if *stride != 0 {
		// Let the library reject a stride that is too small.
		ifmt.Stride = int32(*stride)
	}
	be.SetInputFormat(ifmt)

	be.SetOutputFormat(*branch, libpisp.OutputFormatConfig{
		Image:     libpisp.ImageFormatConfig{Format: outFmt},
		Transform: tr,
	})
	if *crop != "" {
		window, err := parseCrop(*crop)
		if err != nil {
			return err
		}
		be.SetCrop(*branch, window)
	}
	if *resize != "" {
		w, h, err := parseSize(*resize)
		if err != nil {
			return fmt.Errorf("prepare: bad -resize %q: %w", *resize, err)
		}
		be.SetSmartResize(*branch, libpisp.SmartResize{Width: uint16(w), Height: uint16(h)})
	}

	var tc libpisp.TilesConfig
	if err := be.Prepare(&tc); err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	data, err := tc.MarshalBinary()
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}

	if *output == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(*output, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Prepared %dx%d %s → %s (%d bytes, %d tiles)\n",
		*width, *height, *format, *output, len(data), tc.NumTiles)
	return nil
}

// parseSize parses a "WxH" dimension string.
func parseSize(s string) (w, h int, err error) {
	ws, hs, ok := strings.Cut(s, "x")
	if !ok {
		return 0, 0, fmt.Errorf(`want "WxH"`)
	}
	if w, err = strconv.Atoi(ws); err != nil {
		return 0, 0, err
	}
	if h, err = strconv.Atoi(hs); err != nil {
		return 0, 0, err
	}
	if w < 1 || w > 0xffff || h < 1 || h > 0xffff {
		return 0, 0, fmt.Errorf("size %dx%d out of range", w, h)
	}
	return w, h, nil
}

// parseCrop parses an "X,Y,WxH" crop window.
func parseCrop(s string) (libpisp.CropConfig, error) {
	parts := strings.SplitN(s, ",", 3)
	if len(parts) != 3 {
		return libpisp.CropConfig{}, fmt.Errorf(`prepare: bad -crop %q: want "X,Y,WxH"`, s)
	}
	x, errX := strconv.Atoi(parts[0])
	y, errY := strconv.Atoi(parts[1])
	if errX != nil || errY != nil || x < 0 || x > 0xffff || y < 0 || y > 0xffff {
		return libpisp.CropConfig{}, fmt.Errorf("prepare: bad -crop offset in %q", s)
	}
	w, h, err := parseSize(parts[2])
	if err != nil {
		return libpisp.CropConfig{}, fmt.Errorf("prepare: bad -crop %q: %w", s, err)
	}
	return libpisp.CropConfig{
		OffsetX: uint16(x),
		OffsetY: uint16(y),
		Width:   uint16(w),
		Height:  uint16(h),
	}, nil
}

func parseTransform(s string) (libpisp.Transform, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return libpisp.TransformNone, nil
	case "hflip":
		return libpisp.TransformHFlip, nil
	case "vflip":
		return libpisp.TransformVFlip, nil
	case "rot180":
		return libpisp.TransformRot180, nil
	default:
		return 0, fmt.Errorf("prepare: unknown transform %q (use none/hflip/vflip/rot180)", s)
	}
}

func parseBayerOrder(s string) (libpisp.BayerOrder, error) {
	switch strings.ToLower(s) {
	case "rggb":
		return libpisp.BayerOrderRGGB, nil
	case "gbrg":
		return libpisp.BayerOrderGBRG, nil
	case "bggr":
		return libpisp.BayerOrderBGGR, nil
	case "grbg":
		return libpisp.BayerOrderGRBG, nil
	case "grey", "gray":
		return libpisp.BayerOrderGreyscale, nil
	default:
		return 0, fmt.Errorf("prepare: unknown Bayer order %q (use rggb/gbrg/bggr/grbg/grey)", s)
	}
}

// --- info ---

func runInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	showTiles := fs.Bool("tiles", false, "list the per-tile spans")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("info: missing input file\nUsage: pispbe info [options] <config.bin>")
	}
	inputPath := fs.Arg(0)

	in, err := openInput(inputPath)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(in)
	in.Close()
	if err != nil {
		return fmt.Errorf("info: reading input: %w", err)
	}

	name := inputPath
	if inputPath == "-" {
		name = "<stdin>"
	}

	var tc libpisp.TilesConfig
	hasTiles := false
	switch len(data) {
	case libpisp.TilesConfigSize:
		if err := tc.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("info: %w", err)
		}
		hasTiles = true
	case libpisp.BeConfigSize:
		if err := tc.Config.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("info: %w", err)
		}
	default:
		return fmt.Errorf("info: %s is %d bytes, want %d (registers) or %d (registers and tiles)",
			name, len(data), libpisp.BeConfigSize, libpisp.TilesConfigSize)
	}

	c := &tc.Config
	in0 := &c.InputFormat
	fmt.Printf("File:         %s\n", name)
	fmt.Printf("Input:        %dx%d %s, stride %d\n", in0.Width, in0.Height, formatName(in0.Format), in0.Stride)
	fmt.Printf("Bayer blocks: %#08x\n", uint32(c.Global.BayerEnables))
	fmt.Printf("RGB blocks:   %#08x\n", uint32(c.Global.RGBEnables))
	for i := 0; i < libpisp.NumOutputBranches; i++ {
		if c.Global.RGBEnables&libpisp.RGBEnableOutput(i) == 0 {
			continue
		}
		img := &c.OutputFormat[i].Image
		fmt.Printf("Output %d:     %dx%d %s, stride %d\n", i, img.Width, img.Height, formatName(img.Format), img.Stride)
	}
	if !hasTiles {
		return nil
	}

	fmt.Printf("Tiles:        %d\n", tc.NumTiles)
	if !*showTiles {
		return nil
	}
	for i := 0; i < int(tc.NumTiles) && i < len(tc.Tiles); i++ {
		tile := &tc.Tiles[i]
		fmt.Printf("  tile %2d: input %4d,%-4d %4dx%-4d", i,
			tile.InputOffsetX, tile.InputOffsetY, tile.InputWidth, tile.InputHeight)
		for j := 0; j < libpisp.NumOutputBranches; j++ {
			if c.Global.RGBEnables&libpisp.RGBEnableOutput(j) == 0 {
				continue
			}
			fmt.Printf("  out%d %4d,%-4d %4dx%-4d", j,
				tile.OutputOffsetX[j], tile.OutputOffsetY[j], tile.OutputWidth[j], tile.OutputHeight[j])
		}
		fmt.Println()
	}
	return nil
}

// formatName returns the conventional name for a format word, or its hex
// value when no name matches.
func formatName(f libpisp.ImageFormat) string {
	for _, name := range libpisp.FormatNames() {
		if known, err := libpisp.ParseImageFormat(name); err == nil && known == f {
			return name
		}
	}
	return fmt.Sprintf("%#x", uint32(f))
}

// --- formats ---

func runFormats() error {
	fmt.Printf("%-12s %3s  %s\n", "name", "bps", "strides at 1920x1080")
	for _, name := range libpisp.FormatNames() {
		f, err := libpisp.ParseImageFormat(name)
		if err != nil {
			continue
		}
		c := libpisp.ImageFormatConfig{Width: 1920, Height: 1080, Format: f}
		libpisp.ComputeStride(&c, true)
		if c.Stride2 != 0 {
			fmt.Printf("%-12s %3d  %d/%d\n", name, f.BitsPerSample(), c.Stride, c.Stride2)
		} else {
			fmt.Printf("%-12s %3d  %d\n", name, f.BitsPerSample(), c.Stride)
		}
	}
	return nil
}
