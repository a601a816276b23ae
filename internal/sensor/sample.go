package sensor

import "math"

// NumSensors is the number of finger sensors on the glove.
const NumSensors = 5

// DefaultHistoryLen is the number of samples kept per sensor for graphs.
const DefaultHistoryLen = 800

// Names lists the fingers in sensor index order.
var Names = [NumSensors]string{"Thumb", "Index", "Middle", "Ring", "Pinky"}

// Sample is one reading from a single finger sensor.
//
// Positions are displacements in millimeters. ForceG is the reported load in
// grams, or the displacement magnitude when the line carried no load value
// (HasLoad=false).
type Sample struct {
	XMM     float64 `json:"x_mm"`
	YMM     float64 `json:"y_mm"`
	ZMM     float64 `json:"z_mm"`
	ForceG  float64 `json:"force_g"`
	HasLoad bool    `json:"has_load"`
}

// Update binds a sample to its sensor index (0..NumSensors-1).
type Update struct {
	Index  int    `json:"sensor"`
	Sample Sample `json:"sample"`
}

// DeriveForce estimates force from displacement when no load is reported.
func DeriveForce(x, y, z float64) float64 {
	// Hypot avoids overflowing on large finite readings.
	return math.Hypot(math.Hypot(x, y), z)
}

func newSample(x, y, z float64, load *float64) Sample {
	s := Sample{XMM: x, YMM: y, ZMM: z}
	if load != nil {
		s.ForceG = *load
		s.HasLoad = true
	} else {
		s.ForceG = DeriveForce(x, y, z)
	}
	return s
}

// Name returns the finger name for index, or "" when out of range.
func Name(index int) string {
	if index < 0 || index >= NumSensors {
		return ""
	}
	return Names[index]
}
