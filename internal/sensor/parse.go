package sensor

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Line layouts accepted by ParseLine:
//
//	Sensor 1: x,y,z; Sensor 2: x,y,z,load | ...   labeled, one or more sensors
//	x1,y1,z1,...,x5,y5,z5                         flat CSV, 15 values
//	x1,y1,z1,l1,...,x5,y5,z5,l5                   flat CSV, 20 values
//	x,y,z[,load]                                  single sensor (index 0)
//
// Header rows (e.g. "x,y,z,load") yield nothing.

const (
	flatValues     = NumSensors * 3
	flatLoadValues = NumSensors * 4
)

var labeledSegment = regexp.MustCompile(`(?i)^\s*sensor\s*(\d+)\s*:\s*(.*)$`)

// ParseLine decodes one serial line into zero or more sensor updates.
// Malformed input yields no updates; it never returns an error.
func ParseLine(line string) []Update {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	low := strings.ToLower(line)
	if strings.Contains(low, "x,y,z") || strings.HasPrefix(low, "x,") {
		return nil
	}

	if strings.Contains(low, "sensor") {
		return parseLabeled(line)
	}

	parts := splitFields(line)
	switch len(parts) {
	case flatValues, flatLoadValues:
		return parseFlat(parts, len(parts) == flatLoadValues)
	}

	if len(parts) >= 3 {
		s, ok := parseTriple(parts)
		if !ok {
			return nil
		}
		return []Update{{Index: 0, Sample: s}}
	}
	return nil
}

// Format reports which layout ParseLine would use for line. It is used for
// status reporting only.
func Format(line string) string {
	line = strings.TrimSpace(line)
	low := strings.ToLower(line)
	switch {
	case line == "":
		return "empty"
	case strings.Contains(low, "x,y,z") || strings.HasPrefix(low, "x,"):
		return "header"
	case strings.Contains(low, "sensor"):
		return "labeled"
	}
	switch n := len(splitFields(line)); {
	case n == flatValues:
		return "csv15"
	case n == flatLoadValues:
		return "csv20"
	case n >= 3:
		return "single"
	}
	return "unknown"
}

func parseLabeled(line string) []Update {
	var out []Update
	segments := strings.FieldsFunc(line, func(r rune) bool { return r == ';' || r == '|' })
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		m := labeledSegment.FindStringSubmatch(seg)
		if m == nil {
			continue
		}
		idx := clampSensorNumber(m[1]) - 1

		payload := strings.TrimSpace(m[2])
		payload = strings.TrimSuffix(payload, ",")
		parts := splitFields(payload)
		if len(parts) < 3 {
			continue
		}
		s, ok := parseTriple(parts)
		if !ok {
			continue
		}
		out = append(out, Update{Index: idx, Sample: s})
	}
	return out
}

func parseFlat(parts []string, withLoad bool) []Update {
	stride := 3
	if withLoad {
		stride = 4
	}
	out := make([]Update, 0, NumSensors)
	for i := 0; i < NumSensors; i++ {
		chunk := parts[i*stride : (i+1)*stride]
		vals, ok := parseFloats(chunk)
		if !ok {
			// Keep the sensors decoded so far.
			break
		}
		var load *float64
		if withLoad {
			load = &vals[3]
		}
		out = append(out, Update{Index: i, Sample: newSample(vals[0], vals[1], vals[2], load)})
	}
	return out
}

// parseTriple decodes x,y,z and an optional 4th load value. Extra fields are
// ignored.
func parseTriple(parts []string) (Sample, bool) {
	n := 3
	if len(parts) >= 4 {
		n = 4
	}
	vals, ok := parseFloats(parts[:n])
	if !ok {
		return Sample{}, false
	}
	var load *float64
	if n == 4 {
		load = &vals[3]
	}
	return newSample(vals[0], vals[1], vals[2], load), true
}

func parseFloats(parts []string) ([]float64, bool) {
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		// NaN and Inf parse but cannot be plotted or encoded as JSON.
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// splitFields splits on commas, trims each field and drops empty ones.
func splitFields(s string) []string {
	raw := strings.Split(s, ",")
	out := raw[:0]
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func clampSensorNumber(digits string) int {
	n, err := strconv.Atoi(digits)
	if err != nil {
		// Only digits reach here, so the error is overflow.
		return NumSensors
	}
	if n < 1 {
		return 1
	}
	if n > NumSensors {
		return NumSensors
	}
	return n
}
