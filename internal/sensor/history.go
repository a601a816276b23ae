package sensor

import "sync"

// History is a fixed-length scrolling window per sensor. Slots start at zero,
// so graphs show a flat line until the window fills.
type History struct {
	mu     sync.RWMutex
	size   int
	rings  [NumSensors][]Sample
	cursor [NumSensors]uint64
}

// Series is one sensor's window ordered oldest to newest.
type Series struct {
	Sensor int       `json:"sensor"`
	Name   string    `json:"name"`
	Total  uint64    `json:"total"`
	X      []float64 `json:"x_mm"`
	Y      []float64 `json:"y_mm"`
	Z      []float64 `json:"z_mm"`
	Force  []float64 `json:"force_g"`
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistoryLen
	}
	h := &History{size: size}
	for i := range h.rings {
		h.rings[i] = make([]Sample, size)
	}
	return h
}

func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return h.size
}

// Add appends s to sensor idx's window, overwriting the oldest slot.
// Each sensor has its own cursor, so a line updating one finger does not
// shift the other plots.
func (h *History) Add(idx int, s Sample) {
	if h == nil || idx < 0 || idx >= NumSensors {
		return
	}
	h.mu.Lock()
	pos := h.cursor[idx] % uint64(h.size)
	h.rings[idx][pos] = s
	h.cursor[idx]++
	h.mu.Unlock()
}

func (h *History) Apply(ups []Update) {
	for _, u := range ups {
		h.Add(u.Index, u.Sample)
	}
}

// Series returns the window for idx with the newest sample last.
// ok is false for an out of range index.
func (h *History) Series(idx int) (Series, bool) {
	if h == nil || idx < 0 || idx >= NumSensors {
		return Series{}, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := Series{
		Sensor: idx,
		Name:   Names[idx],
		Total:  h.cursor[idx],
		X:      make([]float64, h.size),
		Y:      make([]float64, h.size),
		Z:      make([]float64, h.size),
		Force:  make([]float64, h.size),
	}
	// The slot after the last write is the oldest.
	start := int(h.cursor[idx] % uint64(h.size))
	ring := h.rings[idx]
	for i := 0; i < h.size; i++ {
		s := ring[(start+i)%h.size]
		out.X[i] = s.XMM
		out.Y[i] = s.YMM
		out.Z[i] = s.ZMM
		out.Force[i] = s.ForceG
	}
	return out, true
}
