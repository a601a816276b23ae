// Package alarm drives a GPIO indicator while any finger is overloaded.
package alarm

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"fingerviz/internal/ingest"
	"fingerviz/internal/sensor"
)

// output is the digital line the service toggles. Close should leave the
// line low.
type output interface {
	Set(on bool) error
	Close() error
}

type Config struct {
	Enable bool
	// GPIOPin is BCM GPIO numbering.
	GPIOPin  int
	ForceG   float64
	ReleaseG float64
}

type Snapshot struct {
	Enabled    bool    `json:"enabled"`
	Available  bool    `json:"available"`
	Active     bool    `json:"active"`
	MaxForceG  float64 `json:"max_force_g"`
	Finger     string  `json:"finger,omitempty"`
	TripsTotal uint64  `json:"trips_total"`

	LastTripUTC string `json:"last_trip_utc,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// Trip applies hysteresis: the alarm turns on above ForceG and only turns off
// once every finger is at or below ReleaseG.
type Trip struct {
	ForceG   float64
	ReleaseG float64
}

// Next returns the new alarm state given the current one and the largest
// finger force.
func (t Trip) Next(active bool, maxForceG float64) bool {
	if active {
		return maxForceG > t.ReleaseG
	}
	return maxForceG > t.ForceG
}

type Service struct {
	cfg  Config
	trip Trip

	mu     sync.Mutex
	snap   Snapshot
	out    output
	latest [sensor.NumSensors]sensor.Sample

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg Config) *Service {
	if cfg.ForceG <= 0 {
		cfg.ForceG = 400
	}
	if cfg.ReleaseG <= 0 || cfg.ReleaseG > cfg.ForceG {
		cfg.ReleaseG = 0.9 * cfg.ForceG
	}
	return &Service{
		cfg:    cfg,
		trip:   Trip{ForceG: cfg.ForceG, ReleaseG: cfg.ReleaseG},
		stopCh: make(chan struct{}),
	}
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Start opens the GPIO line and follows batches from hub until ctx ends or
// Close is called.
func (s *Service) Start(ctx context.Context, hub *ingest.Hub) error {
	if s == nil {
		return fmt.Errorf("alarm: service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}
	if hub == nil {
		return fmt.Errorf("alarm: hub is nil")
	}

	s.mu.Lock()
	s.snap.Enabled = true
	s.mu.Unlock()

	out, err := openGPIOFn(s.cfg.GPIOPin)
	if err != nil {
		s.setErr(err.Error())
		return err
	}
	s.mu.Lock()
	s.out = out
	s.snap.Available = true
	s.mu.Unlock()
	log.Printf("alarm gpio=%d trip=%.0fg release=%.0fg", s.cfg.GPIOPin, s.trip.ForceG, s.trip.ReleaseG)

	id, ch := hub.Subscribe(16)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer hub.Unsubscribe(id)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case b, ok := <-ch:
				if !ok {
					return
				}
				s.observe(b)
			}
		}
	}()
	return nil
}

func (s *Service) observe(b ingest.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range b.Updates {
		if u.Index >= 0 && u.Index < sensor.NumSensors {
			s.latest[u.Index] = u.Sample
		}
	}
	maxF, finger := 0.0, -1
	for i, smp := range s.latest {
		if finger < 0 || smp.ForceG > maxF {
			maxF, finger = smp.ForceG, i
		}
	}
	s.snap.MaxForceG = maxF
	s.snap.Finger = sensor.Name(finger)

	next := s.trip.Next(s.snap.Active, maxF)
	if next == s.snap.Active {
		return
	}
	if s.out != nil {
		if err := s.out.Set(next); err != nil {
			s.snap.LastError = err.Error()
			return
		}
	}
	s.snap.Active = next
	if next {
		s.snap.TripsTotal++
		at := b.At
		if at.IsZero() {
			at = time.Now()
		}
		s.snap.LastTripUTC = at.UTC().Format(time.RFC3339Nano)
		log.Printf("alarm on: %s at %.0fg", s.snap.Finger, maxF)
	} else {
		log.Printf("alarm off")
	}
}

func (s *Service) setErr(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LastError = msg
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()

	s.mu.Lock()
	out := s.out
	s.out = nil
	s.snap.Active = false
	s.snap.Available = false
	s.mu.Unlock()
	if out != nil {
		_ = out.Close()
	}
}
