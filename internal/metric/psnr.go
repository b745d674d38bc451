package metric

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"aktis/internal/render"
)

// MaxPSNR caps the score for a perfect reconstruction. The exact value would
// be unbounded, and the metrics records are serialized as JSON, which cannot
// carry infinities.
const MaxPSNR = 100.0

// MSE is the mean squared error across all pixel components of two images of
// equal dimensions.
func MSE(pred, truth *render.Image) float64 {
	d := floats.Distance(pred.Pix, truth.Pix, 2)
	return d * d / float64(len(pred.Pix))
}

// PSNR scores a predicted image against ground truth in decibels, with pixel
// components spanning [0,1].
func PSNR(pred, truth *render.Image) float64 {
	return PSNRFromMSE(MSE(pred, truth), 1.0)
}

// PSNRFromMSE converts a mean squared error into decibels for the given peak
// component value. A zero error saturates at MaxPSNR.
func PSNRFromMSE(mse, peak float64) float64 {
	if mse <= 0 {
		return MaxPSNR
	}
	v := 10 * math.Log10(peak*peak/mse)
	if v > MaxPSNR {
		return MaxPSNR
	}
	return v
}
