// Package astro carries the solar geometry used for apparent-time
// conversion: Julian-day bookkeeping, the low-order apparent solar longitude
// series, the equation of time, and the bisection root-finder shared by the
// apparent-midnight and solar-term solvers. Everything here is a pure
// function of its inputs; instants are UTC throughout.
package astro

import (
	"math"
	"time"
)

const (
	// unixEpochJD is the Julian day number of 1970-01-01T00:00:00Z.
	unixEpochJD = 2440587.5

	// j2000JD is the Julian day number of the J2000.0 epoch,
	// 2000-01-01T12:00:00Z.
	j2000JD = 2451545.0

	// j2000Unix is the Unix timestamp of the J2000.0 epoch.
	j2000Unix int64 = 946728000

	secondsPerDay = 86400
)

// J2000 is the J2000.0 reference epoch, 2000-01-01T12:00:00Z.
var J2000 = time.Date(2000, time.January, 1, 12, 0, 0, 0, time.UTC)

// JulianDay returns the Julian day number of t, fractional days included.
func JulianDay(t time.Time) float64 {
	return unixEpochJD + unixSeconds(t)/secondsPerDay
}

// DaysSinceJ2000 returns the fractional days elapsed between the J2000.0
// epoch and t. Negative before the epoch. Computed against the Unix
// timestamp directly rather than through JulianDay so sub-second precision
// survives for instants centuries away from the epoch.
func DaysSinceJ2000(t time.Time) float64 {
	sec := float64(t.Unix()-j2000Unix) + float64(t.Nanosecond())/1e9
	return sec / secondsPerDay
}

// FromDaysSinceJ2000 is the inverse of DaysSinceJ2000, resolving fractional
// days after (or before, when negative) the J2000.0 epoch to a UTC instant.
func FromDaysSinceJ2000(d float64) time.Time {
	sec := d * secondsPerDay
	whole, frac := math.Modf(sec)
	return time.Unix(j2000Unix+int64(whole), int64(frac*1e9)).UTC()
}

func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func fromUnixSeconds(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}
