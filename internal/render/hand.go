package render

import (
	"fmt"
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"

	"fingerviz/internal/sensor"
)

// Point is a position normalised to the hand image (0..1 on each axis).
type Point struct{ X, Y float64 }

// FingerPositions are the fingertip locations on the reference hand drawing,
// in sensor index order.
var FingerPositions = [sensor.NumSensors]Point{
	{0.30, 0.25}, // thumb
	{0.48, 0.12}, // index
	{0.63, 0.10}, // middle
	{0.76, 0.13}, // ring
	{0.86, 0.18}, // pinky
}

var (
	white    = color.RGBA{255, 255, 255, 255}
	ink      = color.RGBA{30, 30, 30, 255}
	axisGray = color.RGBA{160, 160, 160, 255}
	labelInk = color.RGBA{80, 80, 80, 255}
)

var handStops = []gradientStop{{0, 220.0 / 255}, {0.8, 60.0 / 255}, {1, 0}}

// FitRect returns the largest rectangle with src's aspect ratio centred in
// dst.
func FitRect(dst image.Rectangle, src image.Rectangle) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	dw, dh := dst.Dx(), dst.Dy()
	if sw <= 0 || sh <= 0 || dw <= 0 || dh <= 0 {
		return dst
	}
	w, h := dw, sh*dw/sw
	if h > dh {
		w, h = sw*dh/sh, dh
	}
	x := dst.Min.X + (dw-w)/2
	y := dst.Min.Y + (dh-h)/2
	return image.Rect(x, y, x+w, y+h)
}

// Hand draws the hand diagram with a glow circle and force arrow per finger.
// base may be nil, in which case overlays are placed over the whole canvas.
func Hand(width, height int, base image.Image, samples [sensor.NumSensors]sensor.Sample) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	fill(dst, white)

	area := dst.Bounds()
	if base != nil {
		area = FitRect(dst.Bounds(), base.Bounds())
		xdraw.CatmullRom.Scale(dst, area, base, base.Bounds(), xdraw.Over, nil)
	}

	for i, s := range samples {
		pos := FingerPositions[i]
		cx := float64(area.Min.X) + pos.X*float64(area.Dx())
		cy := float64(area.Min.Y) + pos.Y*float64(area.Dy())

		c := ColorForForce(s.ForceG)
		radius := Lerp(8, 30, ForceFraction(s.ForceG))
		glowDisc(dst, cx, cy, radius, c, handStops, ink)

		vx, vy := arrowVector(s.XMM, s.YMM, 1.5)
		arrow(dst, cx, cy, vx, vy, 2.6, c)

		label := fmt.Sprintf("%s %.0fg", sensor.Names[i], s.ForceG)
		text(dst, int(cx)-textWidth(label)/2, int(cy+radius)+14, label, labelInk)
	}
	return dst
}
