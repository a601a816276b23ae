// Package render draws the finger overlays and graphs as images. Every
// function is a pure function of its inputs so the web layer can render on
// demand from a state snapshot.
package render

import "image/color"

// FullScaleForceG is the force at which overlays saturate (red, max radius).
const FullScaleForceG = 500.0

// ArrowClampMM bounds the x/y displacement drawn as an arrow.
const ArrowClampMM = 50.0

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// ForceFraction maps force to [0,1] against FullScaleForceG.
func ForceFraction(forceG float64) float64 {
	return Clamp(forceG/FullScaleForceG, 0, 1)
}

// ColorForForce ramps green -> yellow -> red over 0..FullScaleForceG.
func ColorForForce(forceG float64) color.RGBA {
	t := ForceFraction(forceG)
	if t < 0.5 {
		k := t / 0.5
		return color.RGBA{R: uint8(Lerp(0, 255, k)), G: uint8(Lerp(180, 200, k)), B: 0, A: 255}
	}
	k := (t - 0.5) / 0.5
	return color.RGBA{R: uint8(Lerp(255, 230, k)), G: uint8(Lerp(200, 0, k)), B: 0, A: 255}
}
