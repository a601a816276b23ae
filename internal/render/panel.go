package render

import (
	"fmt"
	"image"

	"fingerviz/internal/sensor"
)

var panelStops = []gradientStop{{0, 220.0 / 255}, {0.9, 40.0 / 255}, {1, 0}}

// Panel draws one finger's live view: crosshair axes, a force circle and the
// x/y displacement arrow.
func Panel(width, height int, title string, s sensor.Sample) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	fill(dst, white)

	w, h := float64(width), float64(height)
	cx, cy := w/2, h/2

	line(dst, 10, cy, w-10, cy, 1, axisGray)
	line(dst, cx, 10, cx, h-10, 1, axisGray)
	text(dst, width-24, int(cy)+4, "X", labelInk)
	text(dst, int(cx)+6, 20, "Y", labelInk)

	c := ColorForForce(s.ForceG)
	radius := Lerp(12, 44, ForceFraction(s.ForceG))
	glowDisc(dst, cx, cy, radius, c, panelStops, ink)

	vx, vy := arrowVector(s.XMM, s.YMM, 2.0)
	arrow(dst, cx, cy, vx, vy, 2.6, c)

	if title != "" {
		text(dst, 8, 14, title, ink)
	}
	readout := fmt.Sprintf("x=%.1f y=%.1f z=%.1f mm  F=%.0fg", s.XMM, s.YMM, s.ZMM, s.ForceG)
	text(dst, 8, height-8, readout, labelInk)
	return dst
}
