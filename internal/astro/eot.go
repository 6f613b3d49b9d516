package astro

import "time"

// obliquityDeg is the mean obliquity of the ecliptic at J2000.0 in degrees.
// Treated as constant; its secular drift is far below the accuracy of the
// longitude series.
const obliquityDeg = 23.439291

// MinutesPerDegree converts an hour-angle difference in degrees to clock
// minutes: the Earth turns one degree in four minutes.
const MinutesPerDegree = 4.0

// EquationOfTime returns apparent minus mean solar time at t, in minutes.
// Positive values mean the sundial runs ahead of the clock. The annual curve
// peaks near +16.4 min in early November and bottoms near -14.2 min in
// mid-February; order selects the equation-of-center truncation used for the
// apparent longitude.
func EquationOfTime(t time.Time, order int) float64 {
	n := DaysSinceJ2000(t)
	meanLon := MeanLongitude(n)
	apparentLon := SolarLongitudeAt(n, order)

	// Right ascension of the true Sun; the mean sun's right ascension is
	// the mean longitude itself, so the hour-angle gap is their difference.
	ra := atan2Deg(cosDeg(obliquityDeg)*sinDeg(apparentLon), cosDeg(apparentLon))

	return MinutesPerDegree * Wrap180(meanLon-ra)
}

// EquationOfTimeDuration is EquationOfTime expressed as a time.Duration.
func EquationOfTimeDuration(t time.Time, order int) time.Duration {
	return time.Duration(EquationOfTime(t, order) * float64(time.Minute))
}
