package sim

import (
	"math"
	"testing"
	"time"

	"fingerviz/internal/sensor"
)

func TestFingers_LinesParseInEveryFormat(t *testing.T) {
	now := time.Date(2025, 12, 20, 19, 0, 0, 123456789, time.UTC)
	for _, format := range []string{FormatCSV15, FormatCSV20, FormatLabeled} {
		t.Run(format, func(t *testing.T) {
			s := Fingers{Format: format}
			line, err := s.Line(now)
			if err != nil {
				t.Fatalf("Line() error: %v", err)
			}
			if got := sensor.Format(line); got != format {
				t.Fatalf("Format(%q)=%q want %q", line, got, format)
			}
			ups := sensor.ParseLine(line)
			if len(ups) != sensor.NumSensors {
				t.Fatalf("ParseLine(%q) gave %d updates", line, len(ups))
			}
			want := s.Samples(now)
			for _, u := range ups {
				if u.Sample.XMM != want[u.Index].XMM || u.Sample.ZMM != want[u.Index].ZMM {
					t.Fatalf("sensor %d got %+v want %+v", u.Index, u.Sample, want[u.Index])
				}
				if format != FormatCSV15 && u.Sample.ForceG != want[u.Index].ForceG {
					t.Fatalf("sensor %d force=%v want %v", u.Index, u.Sample.ForceG, want[u.Index].ForceG)
				}
			}
		})
	}
}

func TestFingers_Bounds(t *testing.T) {
	s := Fingers{AmplitudeMM: 30, PeakForceG: 400, Period: 2 * time.Second}
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for step := 0; step < 200; step++ {
		now := base.Add(time.Duration(step) * 10 * time.Millisecond)
		for i, v := range s.Samples(now) {
			if math.Abs(v.XMM) > 30.01 || math.Abs(v.YMM) > 18.01 || v.ZMM < 0 || v.ZMM > 15.01 {
				t.Fatalf("step %d finger %d out of bounds: %+v", step, i, v)
			}
			if v.ForceG < 0 || v.ForceG > 400.01 {
				t.Fatalf("step %d finger %d force out of bounds: %v", step, i, v.ForceG)
			}
		}
	}
}

func TestFingers_UnknownFormat(t *testing.T) {
	if _, err := (Fingers{Format: "binary"}).Line(time.Now()); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
