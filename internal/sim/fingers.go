package sim

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"fingerviz/internal/sensor"
)

// Output layouts produced by Fingers.Line. They match what ParseLine accepts.
const (
	FormatCSV15   = "csv15"
	FormatCSV20   = "csv20"
	FormatLabeled = "labeled"
)

// Fingers generates deterministic five-finger motion: each finger presses and
// releases on its own phase while drifting in x/y.
type Fingers struct {
	Period      time.Duration
	AmplitudeMM float64
	PeakForceG  float64
	Format      string
}

func (s Fingers) withDefaults() Fingers {
	if s.Period <= 0 {
		s.Period = 4 * time.Second
	}
	if s.AmplitudeMM <= 0 {
		s.AmplitudeMM = 40
	}
	if s.PeakForceG <= 0 {
		s.PeakForceG = 450
	}
	if s.Format == "" {
		s.Format = FormatCSV20
	}
	return s
}

// Samples returns the simulated reading for every finger at now.
func (s Fingers) Samples(now time.Time) [sensor.NumSensors]sensor.Sample {
	s = s.withDefaults()
	phase := float64(now.UnixNano()%s.Period.Nanoseconds()) / float64(s.Period.Nanoseconds())
	w := 2 * math.Pi * phase

	var out [sensor.NumSensors]sensor.Sample
	for i := range out {
		// Spread fingers across the cycle so they don't press in unison.
		off := float64(i) * 2 * math.Pi / sensor.NumSensors
		press := 0.5 + 0.5*math.Sin(w+off)

		x := s.AmplitudeMM * math.Sin(w+off)
		y := 0.6 * s.AmplitudeMM * math.Cos(2*w+off)
		z := 0.5 * s.AmplitudeMM * press
		out[i] = sensor.Sample{
			XMM:     round2(x),
			YMM:     round2(y),
			ZMM:     round2(z),
			ForceG:  round2(s.PeakForceG * press * press),
			HasLoad: true,
		}
	}
	return out
}

// Line renders the reading at now in the configured serial layout.
func (s Fingers) Line(now time.Time) (string, error) {
	s = s.withDefaults()
	samples := s.Samples(now)

	switch s.Format {
	case FormatCSV15, FormatCSV20:
		withLoad := s.Format == FormatCSV20
		parts := make([]string, 0, sensor.NumSensors*4)
		for _, v := range samples {
			parts = append(parts, fmtFloat(v.XMM), fmtFloat(v.YMM), fmtFloat(v.ZMM))
			if withLoad {
				parts = append(parts, fmtFloat(v.ForceG))
			}
		}
		return strings.Join(parts, ","), nil
	case FormatLabeled:
		segs := make([]string, 0, sensor.NumSensors)
		for i, v := range samples {
			segs = append(segs, fmt.Sprintf("Sensor %d: %s,%s,%s,%s", i+1,
				fmtFloat(v.XMM), fmtFloat(v.YMM), fmtFloat(v.ZMM), fmtFloat(v.ForceG)))
		}
		return strings.Join(segs, "; "), nil
	default:
		return "", fmt.Errorf("sim: unknown format %q", s.Format)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
