package libpisp

import (
	"math"

	"github.com/raspberrypi/libpisp/internal/logging"
)

// updateSmartResize reprograms the downscale and resample blocks on any
// branch with a pending smart resize request, apportioning the scale
// between the two blocks and choosing filter coefficients to match.
func (be *BackEnd) updateSmartResize() {
	for i := 0; i < be.variant.BackEndNumBranches(0); i++ {
		if be.smartResizeDirty&(1<<i) == 0 && be.extra.Dirty&DirtyCrop == 0 {
			continue
		}
		if be.smartResize[i].Width == 0 || be.smartResize[i].Height == 0 {
			continue
		}

		// The rescalers see the crop when it's in use, else the full
		// input. The crop dimensions are zero when it's not in use.
		inputWidth := be.extra.Crop[i].Width
		if inputWidth == 0 {
			inputWidth = be.beConfig.InputFormat.Width
		}
		inputHeight := be.extra.Crop[i].Height
		if inputHeight == 0 {
			inputHeight = be.beConfig.InputFormat.Height
		}

		resamplerInputWidth := inputWidth
		resamplerInputHeight := inputHeight
		resamplerOutputWidth := be.smartResize[i].Width
		resamplerOutputHeight := be.smartResize[i].Height

		logging.Logger().Debug("smart resize", "branch", i,
			"input_width", inputWidth, "input_height", inputHeight,
			"output_width", resamplerOutputWidth, "output_height", resamplerOutputHeight)

		// Use the downscaler when it's available and we're downscaling by
		// more than 2x.
		// TODO: raise this 2x threshold by using sharper resampler kernels.
		if be.variant.BackEndDownscalerAvailable(0, i) &&
			(int(resamplerOutputWidth)*2 < int(inputWidth) || int(resamplerOutputHeight)*2 < int(inputHeight)) {
			downscalerOutputWidth := inputWidth
			downscalerOutputHeight := inputHeight

			// Width and height get the same treatment: leave 2x for the
			// resampler and put everything else into the downscaler, which
			// must do at least 2x and no more than 8x (rounding that limit
			// up).
			if int(resamplerOutputWidth)*2 < int(inputWidth) {
				downscalerOutputWidth = uint16(min(max(int(resamplerOutputWidth)*2,
					(int(inputWidth)+7)/8), int(inputWidth)/2))
			}
			if int(resamplerOutputHeight)*2 < int(inputHeight) {
				downscalerOutputHeight = uint16(min(max(int(resamplerOutputHeight)*2,
					(int(inputHeight)+7)/8), int(inputHeight)/2))
			}

			logging.Logger().Debug("smart resize using downscaler",
				"output_width", downscalerOutputWidth, "output_height", downscalerOutputHeight)

			be.SetDownscaleExtra(i, DownscaleExtra{
				ScaledWidth:  downscalerOutputWidth,
				ScaledHeight: downscalerOutputHeight,
			})
			be.beConfig.Global.RGBEnables |= RGBEnableDownscale(i)

			// The resampler programming below now sees the downscaler
			// output as its input.
			resamplerInputWidth = downscalerOutputWidth
			resamplerInputHeight = downscalerOutputHeight
		} else {
			be.beConfig.Global.RGBEnables &^= RGBEnableDownscale(i)
		}

		// When the x and y scale factors roughly agree and both downscale
		// by more than 2x, the resampler can run as a trapezoidal filter
		// with per-phase coefficients, which improves quality for larger
		// downscale factors. The factor is capped at the filter's reach
		// of numTaps-1 pixels.
		var resample ResampleConfig
		scaleFactorX := float64(int(resamplerInputWidth)-1) / float64(int(resamplerOutputWidth)-1)
		scaleFactorY := float64(int(resamplerInputHeight)-1) / float64(int(resamplerOutputHeight)-1)
		if scaleFactorX > 2.1 && scaleFactorX < scaleFactorY*1.1 && scaleFactorY < scaleFactorX*1.1 {
			logging.Logger().Debug("smart resize trapezoidal filter", "scale_factor", scaleFactorX)

			scaleFactorX = math.Min(scaleFactorX, numTaps-1)

			for p := 0; p < numPhases; p++ {
				// The weight of the current pixel, at offset 2 into the
				// filter, starts from an initial phase of 1 - p/numPhases.
				c0 := (1 << resamplePrecision) - (p<<resamplePrecision)/numPhases
				resample.Coef[p*numTaps] = int16(float64(c0) / scaleFactorX)

				scale := scaleFactorX - (1.0 - float64(p)/numPhases)
				for t := 1; t < 1+int(math.Ceil(scaleFactorX)); t++ {
					s := math.Min(1.0, scale)
					resample.Coef[p*numTaps+t] = int16(s * (1 << resamplePrecision) / scaleFactorX)
					scale -= s
				}
			}
		} else {
			// Otherwise pick a tuned resampling filter for this factor.
			resample = be.InitialiseResampleForRatio(scaleFactorX)
		}

		// Program the resampler with the output dimensions.
		be.SetResample(i, resample, ResampleExtra{
			ScaledWidth:  resamplerOutputWidth,
			ScaledHeight: resamplerOutputHeight,
		})
		be.beConfig.Global.RGBEnables |= RGBEnableResample(i)
	}

	be.smartResizeDirty = 0
}
