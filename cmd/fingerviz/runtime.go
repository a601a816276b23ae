package main

import (
	"context"
	"fmt"
	"image"
	"log"
	"strings"
	"sync"

	"fingerviz/internal/alarm"
	"fingerviz/internal/config"
	"fingerviz/internal/ingest"
	"fingerviz/internal/mqtt"
	"fingerviz/internal/render"
	"fingerviz/internal/sim"
	"fingerviz/internal/udp"
)

// liveRuntime owns the running pipeline. The hub outlives ingest restarts so
// output sinks and web sockets stay subscribed across settings changes.
type liveRuntime struct {
	ctx context.Context
	hub *ingest.Hub

	mu      sync.RWMutex
	cfg     config.Config
	svc     *ingest.Service
	handImg image.Image

	udpSender *udp.Broadcaster
	mqttPub   *mqtt.Publisher
	alarmSvc  *alarm.Service

	cancelSinks context.CancelFunc
	sinksWG     sync.WaitGroup
}

func ingestConfig(c config.Config, hub *ingest.Hub) ingest.Config {
	ic := ingest.Config{
		Source:         c.Source.Kind,
		Device:         c.Source.Device,
		Baud:           c.Source.Baud,
		Backend:        c.Source.Backend,
		TCPAddr:        c.Source.TCPAddr,
		ReconnectDelay: c.Source.ReconnectDelay,
		ReplayPath:     c.Replay.Path,
		ReplaySpeed:    c.Replay.Speed,
		ReplayLoop:     c.Replay.Loop,
		Sim: sim.Fingers{
			Period:      c.Sim.Period,
			AmplitudeMM: c.Sim.AmplitudeMM,
			PeakForceG:  c.Sim.PeakForceG,
			Format:      c.Sim.Format,
		},
		SimInterval:    c.Sim.Interval,
		UpdateInterval: c.Display.UpdateInterval,
		HistoryLen:     c.Display.HistorySamples,
		Hub:            hub,
	}
	if c.Record.Enable {
		ic.RecordPath = c.Record.Path
	}
	return ic
}

// startIngest starts a service for c. A failed start still returns the
// service so its snapshot can report the error.
func startIngest(ctx context.Context, c config.Config, hub *ingest.Hub) (*ingest.Service, error) {
	svc := ingest.New(ingestConfig(c, hub))
	err := svc.Start(ctx)
	return svc, err
}

func newLiveRuntime(ctx context.Context, cfg config.Config) (*liveRuntime, error) {
	c := cfg
	if err := config.DefaultAndValidate(&c); err != nil {
		return nil, err
	}

	r := &liveRuntime{ctx: ctx, hub: ingest.NewHub(), cfg: c}

	if p := strings.TrimSpace(c.Display.HandImage); p != "" {
		img, err := render.LoadImage(p)
		if err != nil {
			// The hand view still works with a blank background.
			log.Printf("hand image load failed: %v", err)
		} else {
			r.handImg = img
		}
	}

	svc, err := startIngest(ctx, c, r.hub)
	if err != nil {
		// Keep the UI up; the status bar shows the error.
		log.Printf("ingest start failed: %v", err)
	}
	r.svc = svc

	sinkCtx, cancel := context.WithCancel(ctx)
	r.cancelSinks = cancel

	if c.UDP.Enable {
		b, err := udp.NewBroadcaster(c.UDP.Dest)
		if err != nil {
			log.Printf("udp output init failed: %v", err)
		} else {
			r.udpSender = b
			log.Printf("udp output dest=%s", c.UDP.Dest)
			r.runSink(func() error { return b.Run(sinkCtx, r.hub) }, "udp output")
		}
	}

	if c.MQTT.Enable {
		p, err := mqtt.New(mqtt.Config{
			Broker:      c.MQTT.Broker,
			TopicPrefix: c.MQTT.TopicPrefix,
			ClientID:    c.MQTT.ClientID,
			QoS:         c.MQTT.QoS,
			KeepAlive:   c.MQTT.KeepAlive,

			ReconnectDelay: c.MQTT.ReconnectDelay,
		})
		if err != nil {
			log.Printf("mqtt output init failed: %v", err)
		} else {
			r.mqttPub = p
			log.Printf("mqtt output broker=%s prefix=%s", c.MQTT.Broker, c.MQTT.TopicPrefix)
			r.runSink(func() error { return p.Run(sinkCtx, r.hub) }, "mqtt output")
		}
	}

	if c.Alarm.Enable {
		a := alarm.New(alarm.Config{
			Enable:   c.Alarm.Enable,
			GPIOPin:  c.Alarm.GPIOPin,
			ForceG:   c.Alarm.ForceG,
			ReleaseG: c.Alarm.ReleaseG,
		})
		// Keep a reference even if init fails so status can report errors.
		r.alarmSvc = a
		if err := a.Start(sinkCtx, r.hub); err != nil {
			log.Printf("alarm init failed: %v", err)
		}
	}

	return r, nil
}

func (r *liveRuntime) runSink(run func() error, name string) {
	r.sinksWG.Add(1)
	go func() {
		defer r.sinksWG.Done()
		if err := run(); err != nil && r.ctx.Err() == nil && err != context.Canceled {
			log.Printf("%s stopped: %v", name, err)
		}
	}()
}

func (r *liveRuntime) Ingest() *ingest.Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.svc
}

func (r *liveRuntime) Hub() *ingest.Hub { return r.hub }

func (r *liveRuntime) HandImage() image.Image {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handImg
}

func (r *liveRuntime) Config() config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

func (r *liveRuntime) Outputs() map[string]any {
	out := map[string]any{}
	if r.udpSender != nil {
		sent, failed := r.udpSender.Stats()
		out["udp"] = map[string]any{"dest": r.udpSender.Dest(), "sent_total": sent, "failed_total": failed}
	}
	if r.mqttPub != nil {
		out["mqtt"] = r.mqttPub.Snapshot()
	}
	if r.alarmSvc != nil {
		out["alarm"] = r.alarmSvc.Snapshot()
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func ingestSettingsEqual(a, b config.Config) bool {
	return a.Source == b.Source &&
		a.Record == b.Record &&
		a.Replay == b.Replay &&
		a.Sim == b.Sim &&
		a.Display.UpdateInterval == b.Display.UpdateInterval &&
		a.Display.HistorySamples == b.Display.HistorySamples
}

// Apply makes next effective. Source and display changes restart ingest;
// output and web settings require a process restart.
func (r *liveRuntime) Apply(next config.Config) error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}

	c := next
	if err := config.DefaultAndValidate(&c); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// The server is already listening; -listen may differ from the file.
	c.Web = r.cfg.Web
	if c.UDP != r.cfg.UDP {
		return fmt.Errorf("udp settings require restart")
	}
	if c.MQTT != r.cfg.MQTT {
		return fmt.Errorf("mqtt settings require restart")
	}
	if c.Alarm != r.cfg.Alarm {
		return fmt.Errorf("alarm settings require restart")
	}
	if c.Display.HandImage != r.cfg.Display.HandImage {
		return fmt.Errorf("display.hand_image requires restart")
	}

	if ingestSettingsEqual(c, r.cfg) {
		r.cfg = c
		return nil
	}

	// The old port must be released before the new one can open it.
	if r.svc != nil {
		r.svc.Close()
	}
	svc, err := startIngest(r.ctx, c, r.hub)
	if err != nil {
		svc.Close()
		// Roll back so the runtime keeps matching the saved config.
		prev, perr := startIngest(r.ctx, r.cfg, r.hub)
		if perr != nil {
			log.Printf("ingest restart with previous settings failed: %v", perr)
		}
		r.svc = prev
		return fmt.Errorf("ingest start failed: %w", err)
	}
	log.Printf("ingest restarted source=%s", c.Source.Kind)
	r.svc = svc
	r.cfg = c
	return nil
}

func (r *liveRuntime) Close() {
	if r == nil {
		return
	}
	if r.cancelSinks != nil {
		r.cancelSinks()
	}
	r.sinksWG.Wait()
	if r.alarmSvc != nil {
		r.alarmSvc.Close()
	}
	if r.udpSender != nil {
		_ = r.udpSender.Close()
	}

	r.mu.Lock()
	svc := r.svc
	r.svc = nil
	r.mu.Unlock()
	if svc != nil {
		svc.Close()
	}
}
