package astro

import "time"

const (
	// MeanMotionDegPerDay is the mean angular rate of the Sun along the
	// ecliptic. Used for first-guess stepping when bracketing crossings.
	MeanMotionDegPerDay = 0.9856474

	// TropicalYearDays is the mean tropical year length in days, the
	// period of the solar longitude and of the equation of time.
	TropicalYearDays = 365.24219

	// MaxSeriesOrder bounds the equation-of-center truncation order.
	MaxSeriesOrder = 3
)

// centerCoeffs are the equation-of-center harmonic amplitudes in degrees,
// indexed by harmonic (coefficient k applies to sin((k+1)g)). Order n keeps
// the first n of them.
var centerCoeffs = [MaxSeriesOrder]float64{1.915, 0.020, 0.0003}

// MeanLongitude returns the mean ecliptic longitude of the Sun in degrees
// [0,360) for a given day count since J2000.0.
func MeanLongitude(daysSinceJ2000 float64) float64 {
	return Norm360(280.460 + MeanMotionDegPerDay*daysSinceJ2000)
}

// meanAnomaly returns the solar mean anomaly in degrees [0,360).
func meanAnomaly(daysSinceJ2000 float64) float64 {
	return Norm360(357.528 + 0.9856003*daysSinceJ2000)
}

// equationOfCenter returns the correction from mean to apparent longitude in
// degrees, truncated to the requested harmonic order. Orders outside
// [1,MaxSeriesOrder] are clamped; callers validate configured orders before
// they reach this point.
func equationOfCenter(daysSinceJ2000 float64, order int) float64 {
	if order < 1 {
		order = 1
	}
	if order > MaxSeriesOrder {
		order = MaxSeriesOrder
	}
	g := meanAnomaly(daysSinceJ2000)
	c := 0.0
	for k := 1; k <= order; k++ {
		c += centerCoeffs[k-1] * sinDeg(float64(k)*g)
	}
	return c
}

// SolarLongitudeAt returns the apparent geocentric ecliptic longitude of the
// Sun in degrees [0,360) for a day count since J2000.0, using the low-order
// series with the given equation-of-center truncation order.
func SolarLongitudeAt(daysSinceJ2000 float64, order int) float64 {
	return Norm360(MeanLongitude(daysSinceJ2000) + equationOfCenter(daysSinceJ2000, order))
}

// SolarLongitude is SolarLongitudeAt keyed by instant instead of day count.
func SolarLongitude(t time.Time, order int) float64 {
	return SolarLongitudeAt(DaysSinceJ2000(t), order)
}
