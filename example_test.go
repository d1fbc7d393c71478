package libpisp_test

import (
	"fmt"

	"github.com/raspberrypi/libpisp"
)

func ExampleBackEnd_Prepare() {
	be, err := libpisp.NewBackEnd(libpisp.Config{}, libpisp.BCM2712C0, nil)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer be.Close()

	be.SetGlobal(libpisp.GlobalConfig{
		RGBEnables: libpisp.RGBEnableInput | libpisp.RGBEnableOutput0,
	})
	be.SetInputFormat(libpisp.ImageFormatConfig{
		Width:  64,
		Height: 48,
		Format: libpisp.FormatThreeChannel,
		Stride: 192,
	})
	be.SetOutputFormat(0, libpisp.OutputFormatConfig{
		Image: libpisp.ImageFormatConfig{Format: libpisp.FormatThreeChannel},
	})

	var tc libpisp.TilesConfig
	if err := be.Prepare(&tc); err != nil {
		fmt.Println(err)
		return
	}
	out := tc.Config.OutputFormat[0].Image
	fmt.Printf("tiles: %d\n", tc.NumTiles)
	fmt.Printf("output: %dx%d stride %d\n", out.Width, out.Height, out.Stride)
	// Output:
	// tiles: 1
	// output: 64x48 stride 192
}

func ExampleBackEnd_SetSmartResize() {
	be, err := libpisp.NewBackEnd(libpisp.Config{}, libpisp.BCM2712C0, nil)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer be.Close()

	be.SetGlobal(libpisp.GlobalConfig{
		RGBEnables: libpisp.RGBEnableInput | libpisp.RGBEnableOutput1,
	})
	be.SetInputFormat(libpisp.ImageFormatConfig{
		Width:  1920,
		Height: 1080,
		Format: libpisp.FormatThreeChannel,
		Stride: 5760,
	})
	be.SetOutputFormat(1, libpisp.OutputFormatConfig{
		Image: libpisp.ImageFormatConfig{Format: libpisp.FormatThreeChannel},
	})

	// Ask for a quarter-size output and let the library split the work
	// between the downscale and resample blocks.
	be.SetSmartResize(1, libpisp.SmartResize{Width: 480, Height: 270})

	var tc libpisp.TilesConfig
	if err := be.Prepare(&tc); err != nil {
		fmt.Println(err)
		return
	}
	enables := tc.Config.Global.RGBEnables
	out := tc.Config.OutputFormat[1].Image
	fmt.Printf("downscale: %v\n", enables&libpisp.RGBEnableDownscale1 != 0)
	fmt.Printf("resample: %v\n", enables&libpisp.RGBEnableResample1 != 0)
	fmt.Printf("output: %dx%d\n", out.Width, out.Height)
	// Output:
	// downscale: true
	// resample: true
	// output: 480x270
}

func ExampleParseImageFormat() {
	f, err := libpisp.ParseImageFormat("YUV420P")
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("planar: %v\n", f.Planar())
	fmt.Printf("sampling 420: %v\n", f.Sampling420())
	fmt.Printf("bits per sample: %d\n", f.BitsPerSample())
	// Output:
	// planar: true
	// sampling 420: true
	// bits per sample: 8
}

func ExampleComputeStride() {
	c := libpisp.ImageFormatConfig{Width: 1920, Height: 1080}
	c.Format, _ = libpisp.ParseImageFormat("YUV420P")

	libpisp.ComputeStride(&c, true)
	fmt.Printf("luma stride: %d\n", c.Stride)
	fmt.Printf("chroma stride: %d\n", c.Stride2)
	// Output:
	// luma stride: 1920
	// chroma stride: 960
}

func ExampleTilesConfig_MarshalBinary() {
	var tc libpisp.TilesConfig
	data, err := tc.MarshalBinary()
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("encoded %d bytes\n", len(data))
	// Output:
	// encoded 16720 bytes
}
