package fusion

import "math"

// Calibrator maps a fused score in [0, 1] to a confidence in [0, 1] with a
// logistic curve rescaled so that 0 stays 0 and 1 stays 1. Steepness sets
// how sharply confidence rises around Midpoint.
type Calibrator struct {
	Steepness float64
	Midpoint  float64
}

// DefaultCalibrator is the curve used when none is configured.
var DefaultCalibrator = Calibrator{Steepness: 10, Midpoint: 0.5}

func (c Calibrator) Calibrate(f float64) float64 {
	k, m := c.Steepness, c.Midpoint
	if k <= 0 {
		k, m = DefaultCalibrator.Steepness, DefaultCalibrator.Midpoint
	}
	f = clamp(f, 0, 1)
	lo := sigmoid(-k * m)
	hi := sigmoid(k * (1 - m))
	return clamp((sigmoid(k*(f-m))-lo)/(hi-lo), 0, 1)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
