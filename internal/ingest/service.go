// Package ingest runs the single background read loop: it pulls text lines
// from the configured source, parses them, and publishes rate-limited sensor
// updates to the shared state, history and subscribers.
package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fingerviz/internal/replay"
	"fingerviz/internal/sensor"
	"fingerviz/internal/serialport"
	"fingerviz/internal/sim"
)

const (
	SourceSerial = "serial"
	SourceTCP    = "tcp"
	SourceReplay = "replay"
	SourceSim    = "sim"
)

const (
	StateStopped      = "stopped"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
	StateError        = "error"
)

// Config controls the read loop. Zero values take the defaults noted below.
type Config struct {
	// Source is one of serial (default), tcp, replay, sim.
	Source string

	// Device may be empty to auto-detect /dev/ttyACM* then /dev/ttyUSB*.
	Device  string
	Baud    int
	Backend string

	TCPAddr        string
	ReconnectDelay time.Duration

	ReplayPath  string
	ReplaySpeed float64
	ReplayLoop  bool

	Sim         sim.Fingers
	SimInterval time.Duration

	// UpdateInterval is the minimum spacing between published batches
	// (default 30ms, about 33 updates per second). Lines parsed in between
	// are dropped.
	UpdateInterval time.Duration

	HistoryLen int

	// RecordPath, when set, captures every raw line from a live source.
	RecordPath string

	// Hub, when set, is shared with a previous service so subscribers
	// survive a source restart.
	Hub *Hub
}

type Snapshot struct {
	Source string `json:"source"`
	State  string `json:"state"`
	// Status is the human-readable status bar text.
	Status string `json:"status"`

	Device  string `json:"device,omitempty"`
	Baud    int    `json:"baud,omitempty"`
	Backend string `json:"backend,omitempty"`
	Addr    string `json:"addr,omitempty"`

	LinesTotal     uint64 `json:"lines_total"`
	BatchesTotal   uint64 `json:"batches_total"`
	SamplesTotal   uint64 `json:"samples_total"`
	SkippedTotal   uint64 `json:"skipped_total"`
	ThrottledTotal uint64 `json:"throttled_total"`
	LastFormat     string `json:"last_format,omitempty"`
	LastLineUTC    string `json:"last_line_utc,omitempty"`
	LastError      string `json:"last_error,omitempty"`
	Recording      string `json:"recording,omitempty"`
}

type Service struct {
	cfg Config
	now func() time.Time

	state   *sensor.State
	history *sensor.History
	hub     *Hub

	lines     atomic.Uint64
	batches   atomic.Uint64
	samples   atomic.Uint64
	skipped   atomic.Uint64
	throttled atomic.Uint64

	mu          sync.Mutex
	cancel      context.CancelFunc
	closer      io.Closer
	recorder    *replay.Writer
	lastPublish time.Time
	snap        Snapshot

	wg sync.WaitGroup
}

var openSerialFn = serialport.Open

func New(cfg Config) *Service {
	cfg.Source = strings.ToLower(strings.TrimSpace(cfg.Source))
	if cfg.Source == "" {
		cfg.Source = SourceSerial
	}
	if cfg.Baud == 0 {
		cfg.Baud = serialport.DefaultBaud
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = 30 * time.Millisecond
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 1 * time.Second
	}
	if cfg.ReplaySpeed <= 0 {
		cfg.ReplaySpeed = 1
	}
	if cfg.SimInterval <= 0 {
		cfg.SimInterval = 20 * time.Millisecond
	}

	hub := cfg.Hub
	if hub == nil {
		hub = NewHub()
	}
	s := &Service{
		cfg:     cfg,
		now:     time.Now,
		state:   sensor.NewState(),
		history: sensor.NewHistory(cfg.HistoryLen),
		hub:     hub,
	}
	s.snap = Snapshot{Source: cfg.Source, State: StateStopped, Status: "Ready", Baud: cfg.Baud}
	return s
}

func (s *Service) State() *sensor.State     { return s.state }
func (s *Service) History() *sensor.History { return s.history }
func (s *Service) Hub() *Hub                { return s.hub }

// Start opens the source and launches the read loop. An error means the
// source could not be opened; the snapshot carries the message.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("ingest service is nil")
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	if s.cfg.RecordPath != "" && s.cfg.Source != SourceReplay {
		w, err := replay.CreateWriter(s.cfg.RecordPath)
		if err != nil {
			s.setStateLocked(StateError, fmt.Sprintf("ERROR: Could not create recording %s: %v", s.cfg.RecordPath, err), err.Error())
			return fmt.Errorf("record: %w", err)
		}
		s.recorder = w
		s.snap.Recording = s.cfg.RecordPath
	}

	var err error
	switch s.cfg.Source {
	case SourceSerial:
		err = s.startSerialLocked(ctx)
	case SourceTCP:
		err = s.startTCPLocked(ctx)
	case SourceReplay:
		err = s.startReplayLocked(ctx)
	case SourceSim:
		err = s.startSimLocked(ctx)
	default:
		err = fmt.Errorf("unknown source %q", s.cfg.Source)
		s.setStateLocked(StateError, "ERROR: "+err.Error(), err.Error())
	}
	if err != nil {
		s.closeRecorderLocked()
	}
	return err
}

func (s *Service) startSerialLocked(ctx context.Context) error {
	device := strings.TrimSpace(s.cfg.Device)
	if device == "" {
		device = serialport.AutoDetect()
		if device == "" {
			msg := "ERROR: Could not open serial port: no /dev/ttyACM* or /dev/ttyUSB* found"
			s.setStateLocked(StateError, msg, "auto-detect failed")
			return fmt.Errorf("serial auto-detect failed")
		}
	}
	backend, err := serialport.ResolveBackend(s.cfg.Backend)
	if err != nil {
		s.setStateLocked(StateError, "ERROR: "+err.Error(), err.Error())
		return err
	}
	s.snap.Device = device
	s.snap.Backend = backend

	port, err := openSerialFn(device, s.cfg.Baud, backend)
	if err != nil {
		s.setStateLocked(StateError, fmt.Sprintf("ERROR: Could not open %s: %v", device, err), err.Error())
		return fmt.Errorf("open %s: %w", device, err)
	}
	s.closer = port

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.setStateLocked(StateConnected, "Connected to "+device, "")
	log.Printf("ingest serial device=%s baud=%d backend=%s", device, s.cfg.Baud, backend)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = port.Close() }()
		err := s.scanLines(childCtx, port)
		if childCtx.Err() != nil {
			s.setState(StateStopped, "Disconnected", "")
			return
		}
		if err == nil {
			err = io.EOF
		}
		s.setState(StateDisconnected, fmt.Sprintf("Serial read error: %v", err), err.Error())
		log.Printf("ingest serial read stopped: %v", err)
	}()
	return nil
}

func (s *Service) startTCPLocked(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.TCPAddr)
	if addr == "" {
		err := errors.New("tcp source requires an address")
		s.setStateLocked(StateError, "ERROR: "+err.Error(), err.Error())
		return err
	}
	s.snap.Addr = addr

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.setStateLocked(StateConnecting, "Connecting to "+addr, "")
	log.Printf("ingest tcp addr=%s", addr)

	c := &lineClient{addr: addr, reconnectDelay: s.cfg.ReconnectDelay, dialTimeout: 2 * time.Second}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.run(childCtx, s.setState, func(r io.Reader) error {
			return s.scanLines(childCtx, r)
		})
		s.setState(StateStopped, "Disconnected", "")
	}()
	return nil
}

func (s *Service) startReplayLocked(ctx context.Context) error {
	recs, err := replay.ReadFile(s.cfg.ReplayPath)
	if err != nil {
		s.setStateLocked(StateError, fmt.Sprintf("ERROR: Could not open replay %s: %v", s.cfg.ReplayPath, err), err.Error())
		return fmt.Errorf("replay: %w", err)
	}
	s.snap.Device = s.cfg.ReplayPath

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.setStateLocked(StateConnected, "Replaying "+s.cfg.ReplayPath, "")
	log.Printf("ingest replay path=%s records=%d speed=%.2f loop=%t", s.cfg.ReplayPath, len(recs), s.cfg.ReplaySpeed, s.cfg.ReplayLoop)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := replay.Play(childCtx, recs, s.cfg.ReplaySpeed, s.cfg.ReplayLoop, nil, func(line string) error {
			s.HandleLine(line)
			return nil
		})
		if err != nil && childCtx.Err() == nil {
			s.setState(StateError, "Replay error: "+err.Error(), err.Error())
			return
		}
		if childCtx.Err() != nil {
			s.setState(StateStopped, "Disconnected", "")
			return
		}
		s.setState(StateDisconnected, "Replay finished", "")
	}()
	return nil
}

func (s *Service) startSimLocked(ctx context.Context) error {
	// Validate the format before starting the ticker.
	if _, err := s.cfg.Sim.Line(time.Unix(0, 0)); err != nil {
		s.setStateLocked(StateError, "ERROR: "+err.Error(), err.Error())
		return err
	}
	s.snap.Device = "sim"

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.setStateLocked(StateConnected, "Simulating sensors", "")
	log.Printf("ingest sim interval=%s", s.cfg.SimInterval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(s.cfg.SimInterval)
		defer t.Stop()
		for {
			select {
			case <-childCtx.Done():
				s.setState(StateStopped, "Disconnected", "")
				return
			case now := <-t.C:
				line, err := s.cfg.Sim.Line(now)
				if err != nil {
					continue
				}
				s.HandleLine(line)
			}
		}
	}()
	return nil
}

// maxLineBytes bounds one serial line. Longer lines are discarded up to the
// next newline and counted as skipped.
const maxLineBytes = 64 * 1024

// scanLines reads newline-terminated lines until r fails or ctx ends.
// A trailing partial line is held until more data arrives.
func (s *Service) scanLines(ctx context.Context, r io.Reader) error {
	br := bufio.NewReaderSize(r, 4096)
	line := make([]byte, 0, 256)
	discarding := false
	for {
		chunk, err := br.ReadSlice('\n')
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !discarding {
			if len(line)+len(chunk) > maxLineBytes {
				discarding = true
				line = line[:0]
			} else {
				line = append(line, chunk...)
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			if !discarding && len(line) > 0 {
				s.HandleLine(string(line))
			}
			return err
		}

		if discarding {
			s.skipped.Add(1)
		} else {
			s.HandleLine(string(line))
		}
		line = line[:0]
		discarding = false
	}
}

// HandleLine processes one raw text line from any source.
func (s *Service) HandleLine(raw string) {
	line := strings.TrimSpace(strings.ToValidUTF8(raw, ""))
	if line == "" {
		return
	}
	now := s.now()
	s.lines.Add(1)

	s.mu.Lock()
	s.snap.LastLineUTC = now.UTC().Format(time.RFC3339Nano)
	s.snap.LastFormat = sensor.Format(line)
	if s.recorder != nil {
		if err := s.recorder.WriteLine(now, line); err != nil {
			log.Printf("ingest record failed, recording stopped: %v", err)
			s.closeRecorderLocked()
		}
	}
	s.mu.Unlock()

	ups := sensor.ParseLine(line)
	if len(ups) == 0 {
		s.skipped.Add(1)
		return
	}

	s.mu.Lock()
	if !s.lastPublish.IsZero() && now.Sub(s.lastPublish) < s.cfg.UpdateInterval {
		s.mu.Unlock()
		s.throttled.Add(1)
		return
	}
	s.lastPublish = now
	s.mu.Unlock()

	s.state.Apply(ups)
	s.history.Apply(ups)
	s.batches.Add(1)
	s.samples.Add(uint64(len(ups)))
	s.hub.Publish(Batch{At: now.UTC(), Updates: ups})
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	closer := s.closer
	s.cancel = nil
	s.closer = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closer != nil {
		_ = closer.Close()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.closeRecorderLocked()
	s.mu.Unlock()
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	out := s.snap
	s.mu.Unlock()
	out.LinesTotal = s.lines.Load()
	out.BatchesTotal = s.batches.Load()
	out.SamplesTotal = s.samples.Load()
	out.SkippedTotal = s.skipped.Load()
	out.ThrottledTotal = s.throttled.Load()
	return out
}

func (s *Service) setState(state, status, lastErr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStateLocked(state, status, lastErr)
}

func (s *Service) setStateLocked(state, status, lastErr string) {
	s.snap.State = state
	if status != "" {
		s.snap.Status = status
	}
	if lastErr != "" {
		s.snap.LastError = lastErr
	} else if state == StateConnected || state == StateConnecting {
		// Clear stale errors once healthy again.
		s.snap.LastError = ""
	}
}

func (s *Service) closeRecorderLocked() {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Close(); err != nil {
		log.Printf("ingest record close failed: %v", err)
	}
	s.recorder = nil
	s.snap.Recording = ""
}
