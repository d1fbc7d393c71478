// Package libpisp programs the PiSP back end, the memory-to-memory image
// signal processor found in BCM2712 class devices.
//
// The back end reads a Bayer or RGB frame from memory, runs it through the
// Bayer and RGB processing pipes and writes up to two output branches back
// out. The hardware works on vertical stripes with limited line context, so
// every frame must be carved into tiles whose overlaps account for the
// filters, rescalers and crops active in the pipeline. This package owns
// that job: callers describe the frame with the Set methods and Prepare
// validates the configuration, fills in derived registers and computes the
// per-tile programming the hardware consumes.
//
// The package supports:
//   - Bayer, RGB, YUV and wallpaper-raster image formats
//   - Per-branch crop, downscale and resample with tuned filter selection
//   - Smart resize, apportioning large factors across both rescalers
//   - Temporal denoise and HDR stitch loops with compressed intermediates
//   - HOG feature output
//   - The exact little-endian register and tile layout the hardware reads
//
// Basic usage:
//
//	be, err := libpisp.NewBackEnd(libpisp.Config{}, libpisp.BCM2712C0, nil)
//	if err != nil { ... }
//	defer be.Close()
//
//	be.SetInputFormat(inputFormat)
//	be.SetOutputFormat(0, outputFormat)
//	be.SetSmartResize(0, libpisp.SmartResize{Width: 640, Height: 480})
//
//	var tiles libpisp.TilesConfig
//	if err := be.Prepare(&tiles); err != nil { ... }
//	blob, err := tiles.MarshalBinary()
//
// The marshalled TilesConfig is what gets handed to the kernel driver. A
// BackEnd is not safe for concurrent use; Lock and Unlock serialise access
// between cooperating processes driving the same hardware instance.
package libpisp
