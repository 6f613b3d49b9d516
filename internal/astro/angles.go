package astro

import "math"

const degToRad = math.Pi / 180

// Norm360 maps an angle in degrees onto [0,360).
func Norm360(deg float64) float64 {
	m := math.Mod(deg, 360)
	if m < 0 {
		m += 360
	}
	return m
}

// Wrap180 maps an angle in degrees onto [-180,180).
func Wrap180(deg float64) float64 {
	return Norm360(deg+180) - 180
}

func sinDeg(deg float64) float64 { return math.Sin(deg * degToRad) }

func cosDeg(deg float64) float64 { return math.Cos(deg * degToRad) }

// atan2Deg returns the angle of (x,y) in degrees normalized to [0,360).
func atan2Deg(y, x float64) float64 {
	return Norm360(math.Atan2(y, x) / degToRad)
}
