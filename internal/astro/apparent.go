package astro

import (
	"math"
	"time"
)

// midnightResidualTol is the apparent-midnight root-find tolerance on the
// time residual, in seconds.
const midnightResidualTol = 1e-3

// StandardMeridian returns the reference meridian of the 15-degree-wide
// standard time zone containing the longitude, in degrees. Ties at zone
// edges round away from zero.
func StandardMeridian(lonDeg float64) float64 {
	return math.Round(lonDeg/15) * 15
}

// ApparentOffset returns the signed offset between apparent solar time at
// the longitude and UTC: four minutes per degree of longitude plus the
// equation of time.
func ApparentOffset(t time.Time, lonDeg float64, order int) time.Duration {
	minutes := MinutesPerDegree*lonDeg + EquationOfTime(t, order)
	return time.Duration(minutes * float64(time.Minute))
}

// ApparentTime returns the local apparent solar time at the longitude for
// the UTC instant t. The result's clock fields read as the sundial would;
// it is a shifted civil representation, not a new absolute instant.
func ApparentTime(t time.Time, lonDeg float64, order int) time.Time {
	return t.UTC().Add(ApparentOffset(t, lonDeg, order))
}

// ClockOffset returns apparent solar time minus local standard clock time
// for a zone centered on meridianDeg: four minutes per degree of longitude
// displacement from the meridian plus the equation of time.
func ClockOffset(t time.Time, lonDeg, meridianDeg float64, order int) time.Duration {
	minutes := MinutesPerDegree*(lonDeg-meridianDeg) + EquationOfTime(t, order)
	return time.Duration(minutes * float64(time.Minute))
}

// ApparentDayStart resolves the UTC instant at which the apparent solar day
// containing t begins, i.e. the most recent apparent-midnight crossing at or
// before t. The crossing is root-found by bisection on the apparent-time
// residual; maxIter bounds the iterations.
func ApparentDayStart(t time.Time, lonDeg float64, order, maxIter int) (time.Time, error) {
	app := ApparentTime(t, lonDeg, order)
	dayStart := time.Date(app.Year(), app.Month(), app.Day(), 0, 0, 0, 0, time.UTC)
	target := unixSeconds(dayStart)

	// First guess undoes the instant's own offset; the offset drifts well
	// under a minute per day, so a two-hour bracket is comfortably wide.
	guess := dayStart.Add(-ApparentOffset(t, lonDeg, order))
	lo := unixSeconds(guess.Add(-time.Hour))
	hi := unixSeconds(guess.Add(time.Hour))

	f := func(sec float64) (float64, error) {
		at := fromUnixSeconds(sec)
		return unixSeconds(ApparentTime(at, lonDeg, order)) - target, nil
	}

	root, err := Bisect(f, lo, hi, midnightResidualTol, maxIter)
	if err != nil {
		return time.Time{}, err
	}
	return fromUnixSeconds(root), nil
}
