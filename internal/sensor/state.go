package sensor

import "sync"

// State holds the latest sample for each finger.
type State struct {
	mu      sync.RWMutex
	samples [NumSensors]Sample
	seen    [NumSensors]bool
}

func NewState() *State {
	return &State{}
}

// Set stores s for sensor idx. Out of range indices are ignored.
func (st *State) Set(idx int, s Sample) {
	if st == nil || idx < 0 || idx >= NumSensors {
		return
	}
	st.mu.Lock()
	st.samples[idx] = s
	st.seen[idx] = true
	st.mu.Unlock()
}

// Apply stores every update in ups.
func (st *State) Apply(ups []Update) {
	for _, u := range ups {
		st.Set(u.Index, u.Sample)
	}
}

func (st *State) Snapshot() [NumSensors]Sample {
	if st == nil {
		return [NumSensors]Sample{}
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.samples
}

// Seen reports which sensors have reported at least once.
func (st *State) Seen() [NumSensors]bool {
	if st == nil {
		return [NumSensors]bool{}
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.seen
}
