package sensor

import (
	"math"
	"testing"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestParseLine_FlatCSV15DerivesForce(t *testing.T) {
	line := "3,4,0, 1,2,2, 0,0,0, 6,8,0, -3,-4,0"
	ups := ParseLine(line)
	if len(ups) != NumSensors {
		t.Fatalf("len=%d want %d", len(ups), NumSensors)
	}
	for i, u := range ups {
		if u.Index != i {
			t.Fatalf("ups[%d].Index=%d", i, u.Index)
		}
		if u.Sample.HasLoad {
			t.Fatalf("ups[%d] unexpected load", i)
		}
	}
	wantForce := []float64{5, 3, 0, 10, 5}
	for i, w := range wantForce {
		if !approx(ups[i].Sample.ForceG, w) {
			t.Fatalf("force[%d]=%v want %v", i, ups[i].Sample.ForceG, w)
		}
	}
	if ups[4].Sample.XMM != -3 || ups[4].Sample.YMM != -4 {
		t.Fatalf("pinky=%+v", ups[4].Sample)
	}
}

func TestParseLine_FlatCSV20UsesLoad(t *testing.T) {
	line := "1,2,3,100,4,5,6,200,7,8,9,300,10,11,12,400,13,14,15,500"
	ups := ParseLine(line)
	if len(ups) != NumSensors {
		t.Fatalf("len=%d", len(ups))
	}
	for i, u := range ups {
		if !u.Sample.HasLoad {
			t.Fatalf("ups[%d] missing load", i)
		}
		if u.Sample.ForceG != float64((i+1)*100) {
			t.Fatalf("ups[%d].ForceG=%v", i, u.Sample.ForceG)
		}
		if u.Sample.ZMM != float64(i*3+3) {
			t.Fatalf("ups[%d].ZMM=%v", i, u.Sample.ZMM)
		}
	}
}

func TestParseLine_FlatStopsAtFirstBadSensor(t *testing.T) {
	line := "1,1,1,2,2,2,bad,3,3,4,4,4,5,5,5"
	ups := ParseLine(line)
	if len(ups) != 2 {
		t.Fatalf("len=%d want 2 (%+v)", len(ups), ups)
	}
	if ups[1].Index != 1 || ups[1].Sample.XMM != 2 {
		t.Fatalf("ups[1]=%+v", ups[1])
	}
}

func TestParseLine_Labeled(t *testing.T) {
	cases := []struct {
		name string
		line string
		want []Update
	}{
		{
			name: "SemicolonSeparated",
			line: "Sensor 1: 1,2,2; Sensor 3: 0,0,1,250",
			want: []Update{
				{Index: 0, Sample: Sample{XMM: 1, YMM: 2, ZMM: 2, ForceG: 3}},
				{Index: 2, Sample: Sample{XMM: 0, YMM: 0, ZMM: 1, ForceG: 250, HasLoad: true}},
			},
		},
		{
			name: "PipeSeparatedMixedCase",
			line: "SENSOR 2:3,4,0 | sensor5 : 1,1,1,9",
			want: []Update{
				{Index: 1, Sample: Sample{XMM: 3, YMM: 4, ZMM: 0, ForceG: 5}},
				{Index: 4, Sample: Sample{XMM: 1, YMM: 1, ZMM: 1, ForceG: 9, HasLoad: true}},
			},
		},
		{
			name: "TrailingComma",
			line: "Sensor 4: 0,3,4,",
			want: []Update{
				{Index: 3, Sample: Sample{XMM: 0, YMM: 3, ZMM: 4, ForceG: 5}},
			},
		},
		{
			name: "ClampsSensorNumber",
			line: "Sensor 0: 1,0,0; Sensor 9: 2,0,0; Sensor 99999999999999999999: 3,0,0",
			want: []Update{
				{Index: 0, Sample: Sample{XMM: 1, ForceG: 1}},
				{Index: 4, Sample: Sample{XMM: 2, ForceG: 2}},
				{Index: 4, Sample: Sample{XMM: 3, ForceG: 3}},
			},
		},
		{
			name: "SkipsBadSegmentsOnly",
			line: "Sensor 1: 1,x,1; Sensor 2: 1,2; garbage; Sensor 3: 0,0,2",
			want: []Update{
				{Index: 2, Sample: Sample{ZMM: 2, ForceG: 2}},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseLine(tc.line)
			if len(got) != len(tc.want) {
				t.Fatalf("len=%d want %d (%+v)", len(got), len(tc.want), got)
			}
			for i := range got {
				if got[i].Index != tc.want[i].Index {
					t.Fatalf("[%d] index=%d want %d", i, got[i].Index, tc.want[i].Index)
				}
				g, w := got[i].Sample, tc.want[i].Sample
				if !approx(g.XMM, w.XMM) || !approx(g.YMM, w.YMM) || !approx(g.ZMM, w.ZMM) || !approx(g.ForceG, w.ForceG) || g.HasLoad != w.HasLoad {
					t.Fatalf("[%d] sample=%+v want %+v", i, g, w)
				}
			}
		})
	}
}

func TestParseLine_SingleSensorFallback(t *testing.T) {
	ups := ParseLine("0.5, -1.5, 2.0, 42")
	if len(ups) != 1 || ups[0].Index != 0 {
		t.Fatalf("ups=%+v", ups)
	}
	if !ups[0].Sample.HasLoad || ups[0].Sample.ForceG != 42 {
		t.Fatalf("sample=%+v", ups[0].Sample)
	}

	ups = ParseLine("3,4,0,1,2,2,7")
	if len(ups) != 1 || !ups[0].Sample.HasLoad || ups[0].Sample.ForceG != 1 {
		t.Fatalf("extra fields: ups=%+v", ups)
	}
}

func TestParseLine_Ignored(t *testing.T) {
	lines := []string{
		"",
		"   ",
		"x,y,z,load",
		"X,Y,Z",
		"x, time",
		"1,2",
		"a,b,c",
		"hello world",
		"oops,1,2,3",
		"nan,nan,nan",
		"inf,1,2,5",
		"1e999,0,0",
		"Sensor 1: inf,1,2",
		"Sensor 4: NaN,0,0,10",
		"Sensor 2: 1,2,3,-Infinity",
	}
	for _, l := range lines {
		if ups := ParseLine(l); len(ups) != 0 {
			t.Fatalf("ParseLine(%q)=%+v want none", l, ups)
		}
	}
}

func TestFormat(t *testing.T) {
	cases := map[string]string{
		"":                "empty",
		"x,y,z":           "header",
		"Sensor 1: 1,2,3": "labeled",
		"1,2,3,4,5,6,7,8,9,1,2,3,4,5,6":           "csv15",
		"1,2,3,4,5,6,7,8,9,1,2,3,4,5,6,7,8,9,1,2": "csv20",
		"1,2,3": "single",
		"1":     "unknown",
	}
	for line, want := range cases {
		if got := Format(line); got != want {
			t.Fatalf("Format(%q)=%q want %q", line, got, want)
		}
	}
}

func TestDeriveForce(t *testing.T) {
	if got := DeriveForce(2, 3, 6); !approx(got, 7) {
		t.Fatalf("DeriveForce=%v want 7", got)
	}
	if got := DeriveForce(1e200, 1e200, 1e200); math.IsInf(got, 0) {
		t.Fatalf("DeriveForce overflowed: %v", got)
	}
}

func TestParseLine_NonFiniteValuesAreMalformed(t *testing.T) {
	// The labeled segment with +Inf is dropped, the next one survives.
	ups := ParseLine("Sensor 1: +Inf,1,2; Sensor 2: 1,1,1")
	if len(ups) != 1 || ups[0].Index != 1 {
		t.Fatalf("ups=%+v", ups)
	}

	// Flat CSV keeps the sensors before the first non-finite one.
	ups = ParseLine("1,1,1,2,2,2,nan,3,3,4,4,4,5,5,5")
	if len(ups) != 2 {
		t.Fatalf("len=%d want 2 (%+v)", len(ups), ups)
	}
	for _, u := range ups {
		if math.IsNaN(u.Sample.ForceG) || math.IsInf(u.Sample.ForceG, 0) {
			t.Fatalf("non-finite force in %+v", u)
		}
	}
}
