package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"fingerviz/internal/config"
	"fingerviz/internal/ingest"
)

func simConfig() config.Config {
	cfg := config.Default()
	cfg.Source.Kind = "sim"
	cfg.Sim.Interval = 5 * time.Millisecond
	cfg.Display.UpdateInterval = 5 * time.Millisecond
	return cfg
}

func waitSamples(t *testing.T, rt *liveRuntime) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if svc := rt.Ingest(); svc != nil && svc.Snapshot().SamplesTotal > 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no samples: %+v", rt.Ingest().Snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestIngestConfig_Mapping(t *testing.T) {
	cfg := simConfig()
	cfg.Record.Enable = false
	cfg.Record.Path = "./ignored.log"
	hub := ingest.NewHub()
	ic := ingestConfig(cfg, hub)
	if ic.Source != "sim" || ic.Sim.Format != "csv20" || ic.UpdateInterval != 5*time.Millisecond {
		t.Fatalf("ingest config=%+v", ic)
	}
	if ic.RecordPath != "" {
		t.Fatalf("record path set while disabled: %q", ic.RecordPath)
	}
	if ic.Hub != hub || ic.HistoryLen != 800 {
		t.Fatalf("hub/history not mapped: %+v", ic)
	}
}

func TestLiveRuntime_SimProducesSamples(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := newLiveRuntime(ctx, simConfig())
	if err != nil {
		t.Fatalf("newLiveRuntime() error: %v", err)
	}
	defer rt.Close()
	waitSamples(t, rt)

	if rt.Outputs() != nil {
		t.Fatalf("outputs=%v want nil", rt.Outputs())
	}
	if rt.HandImage() != nil {
		t.Fatalf("unexpected hand image")
	}
}

func TestLiveRuntime_ApplyRestartsIngestOnSourceChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := newLiveRuntime(ctx, simConfig())
	if err != nil {
		t.Fatalf("newLiveRuntime() error: %v", err)
	}
	defer rt.Close()
	waitSamples(t, rt)

	hub := rt.Hub()
	id, ch := hub.Subscribe(64)
	defer hub.Unsubscribe(id)

	before := rt.Ingest()
	next := rt.Config()
	next.Sim.Format = "labeled"
	if err := rt.Apply(next); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	after := rt.Ingest()
	if after == before {
		t.Fatalf("expected a new ingest service")
	}
	if before.Snapshot().State != ingest.StateStopped {
		t.Fatalf("old service state=%q", before.Snapshot().State)
	}
	if rt.Hub() != hub {
		t.Fatalf("hub replaced on restart")
	}

	// Subscribers keep receiving batches from the new service.
	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-ch:
			if after.Snapshot().LastFormat == "labeled" {
				return
			}
		case <-deadline:
			t.Fatalf("no labeled batches after restart: %+v", after.Snapshot())
		}
	}
}

func TestLiveRuntime_ApplySameIngestSettingsKeepsService(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := newLiveRuntime(ctx, simConfig())
	if err != nil {
		t.Fatalf("newLiveRuntime() error: %v", err)
	}
	defer rt.Close()

	before := rt.Ingest()
	next := rt.Config()
	next.Web.Listen = ":9999"
	if err := rt.Apply(next); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if rt.Ingest() != before {
		t.Fatalf("ingest restarted without source change")
	}
	if rt.Config().Web.Listen != ":8080" {
		t.Fatalf("web.listen changed at runtime: %q", rt.Config().Web.Listen)
	}
}

func TestLiveRuntime_ApplyRejectsOutputChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := newLiveRuntime(ctx, simConfig())
	if err != nil {
		t.Fatalf("newLiveRuntime() error: %v", err)
	}
	defer rt.Close()

	next := rt.Config()
	next.UDP.Enable = true
	next.UDP.Dest = "127.0.0.1:5005"
	if err := rt.Apply(next); err == nil || !strings.Contains(err.Error(), "udp settings require restart") {
		t.Fatalf("Apply() err=%v", err)
	}

	next = rt.Config()
	next.Alarm.ForceG = 100
	next.Alarm.ReleaseG = 90
	if err := rt.Apply(next); err == nil || !strings.Contains(err.Error(), "alarm settings require restart") {
		t.Fatalf("Apply() err=%v", err)
	}
}

func TestLiveRuntime_ApplyRollsBackOnOpenFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := newLiveRuntime(ctx, simConfig())
	if err != nil {
		t.Fatalf("newLiveRuntime() error: %v", err)
	}
	defer rt.Close()

	next := rt.Config()
	next.Source.Kind = "serial"
	next.Source.Device = "/definitely/not/a/tty"
	if err := rt.Apply(next); err == nil {
		t.Fatalf("expected error")
	}
	if rt.Config().Source.Kind != "sim" {
		t.Fatalf("config committed despite failure: %+v", rt.Config().Source)
	}
	waitSamples(t, rt)
	if rt.Ingest().Snapshot().Source != "sim" {
		t.Fatalf("runtime not rolled back: %+v", rt.Ingest().Snapshot())
	}
}

func TestLiveRuntime_UDPOutputReported(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := simConfig()
	cfg.UDP.Enable = true
	cfg.UDP.Dest = "127.0.0.1:9"
	rt, err := newLiveRuntime(ctx, cfg)
	if err != nil {
		t.Fatalf("newLiveRuntime() error: %v", err)
	}
	defer rt.Close()

	out := rt.Outputs()
	u, ok := out["udp"].(map[string]any)
	if !ok || u["dest"] != "127.0.0.1:9" {
		t.Fatalf("outputs=%v", out)
	}
}
