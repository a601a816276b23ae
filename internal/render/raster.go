package render

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// blend composites c (non-premultiplied, alpha a in [0,1]) over dst at x,y.
func blend(dst *image.RGBA, x, y int, c color.RGBA, a float64) {
	if !(image.Point{X: x, Y: y}).In(dst.Rect) || a <= 0 {
		return
	}
	if a > 1 {
		a = 1
	}
	i := dst.PixOffset(x, y)
	p := dst.Pix[i : i+4 : i+4]
	inv := 1 - a
	p[0] = uint8(float64(c.R)*a + float64(p[0])*inv)
	p[1] = uint8(float64(c.G)*a + float64(p[1])*inv)
	p[2] = uint8(float64(c.B)*a + float64(p[2])*inv)
	p[3] = uint8(255*a + float64(p[3])*inv)
}

func fill(dst *image.RGBA, c color.RGBA) {
	for i := 0; i+3 < len(dst.Pix); i += 4 {
		dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2], dst.Pix[i+3] = c.R, c.G, c.B, c.A
	}
}

type gradientStop struct {
	at    float64 // fraction of radius
	alpha float64
}

// glowDisc draws a radial gradient disc in c, fading per stops, with a thin
// outline.
func glowDisc(dst *image.RGBA, cx, cy, r float64, c color.RGBA, stops []gradientStop, outline color.RGBA) {
	if r <= 0 {
		return
	}
	minX, maxX := int(math.Floor(cx-r-1)), int(math.Ceil(cx+r+1))
	minY, maxY := int(math.Floor(cy-r-1)), int(math.Ceil(cy+r+1))
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			d := math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy)
			if d > r+0.5 {
				continue
			}
			blend(dst, x, y, c, gradientAlpha(stops, d/r))
			if math.Abs(d-r) <= 0.6 {
				blend(dst, x, y, outline, 1)
			}
		}
	}
}

func gradientAlpha(stops []gradientStop, f float64) float64 {
	if len(stops) == 0 {
		return 0
	}
	if f <= stops[0].at {
		return stops[0].alpha
	}
	for i := 1; i < len(stops); i++ {
		if f <= stops[i].at {
			a, b := stops[i-1], stops[i]
			t := (f - a.at) / (b.at - a.at)
			return Lerp(a.alpha, b.alpha, t)
		}
	}
	return stops[len(stops)-1].alpha
}

// line draws an anti-aliased-ish thick segment by stamping discs.
func line(dst *image.RGBA, x0, y0, x1, y1, width float64, c color.RGBA) {
	r := width / 2
	n := int(math.Ceil(math.Hypot(x1-x0, y1-y0)*2)) + 1
	for i := 0; i <= n; i++ {
		t := float64(i) / float64(n)
		px, py := Lerp(x0, x1, t), Lerp(y0, y1, t)
		for y := int(math.Floor(py - r)); y <= int(math.Ceil(py+r)); y++ {
			for x := int(math.Floor(px - r)); x <= int(math.Ceil(px+r)); x++ {
				d := math.Hypot(float64(x)+0.5-px, float64(y)+0.5-py)
				if d <= r {
					blend(dst, x, y, c, 1)
				} else if d <= r+1 {
					blend(dst, x, y, c, (r+1-d)*0.5)
				}
			}
		}
	}
}

// arrow draws the force vector from (cx,cy) offset by (vx,vy) with a 9px head
// at +/-30 degrees. The head is omitted for tiny vectors.
func arrow(dst *image.RGBA, cx, cy, vx, vy, width float64, c color.RGBA) {
	line(dst, cx, cy, cx+vx, cy+vy, width, c)
	if math.Abs(vx)+math.Abs(vy) <= 1 {
		return
	}
	const head = 9.0
	ang := math.Atan2(vy, vx)
	tx, ty := cx+vx, cy+vy
	for _, d := range []float64{-math.Pi / 6, math.Pi / 6} {
		line(dst, tx, ty, tx-head*math.Cos(ang+d), ty-head*math.Sin(ang+d), width, c)
	}
}

// arrowVector converts x/y displacement to screen pixels. Screen y grows
// downward, so positive y displacement points up.
func arrowVector(xMM, yMM, scale float64) (vx, vy float64) {
	vx = Clamp(xMM, -ArrowClampMM, ArrowClampMM) * scale
	vy = Clamp(-yMM, -ArrowClampMM, ArrowClampMM) * scale
	return vx, vy
}

// text draws s with its baseline at (x, y) using the 7x13 bitmap face.
func text(dst *image.RGBA, x, y int, s string, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(s)
}

func textWidth(s string) int {
	return font.MeasureString(basicfont.Face7x13, s).Ceil()
}
