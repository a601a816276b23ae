package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func TestLoad_EmptyFileGetsDefaults(t *testing.T) {
	path := writeTempConfig(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Source.Kind != "serial" || cfg.Source.Baud != 115200 || cfg.Source.Backend != "auto" {
		t.Fatalf("source defaults=%+v", cfg.Source)
	}
	if cfg.Display.UpdateInterval != 30*time.Millisecond {
		t.Fatalf("update_interval=%s want 30ms", cfg.Display.UpdateInterval)
	}
	if cfg.Display.HistorySamples != 800 {
		t.Fatalf("history_samples=%d want 800", cfg.Display.HistorySamples)
	}
	if !cfg.WebEnabled() || cfg.Web.Listen != ":8080" {
		t.Fatalf("web defaults=%+v", cfg.Web)
	}
	if cfg.Alarm.ReleaseG != 360 {
		t.Fatalf("alarm.release_g=%v want 360", cfg.Alarm.ReleaseG)
	}
	if cfg.MQTT.TopicPrefix != "fingerviz" {
		t.Fatalf("mqtt.topic_prefix=%q", cfg.MQTT.TopicPrefix)
	}
}

func TestDefault_MatchesEmptyFile(t *testing.T) {
	cfg := Default()
	if cfg.Source.Kind != "serial" || cfg.Sim.Format != "csv20" {
		t.Fatalf("Default()=%+v", cfg)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("err=%v want not-exist", err)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "UnknownSourceKind",
			body: "source:\n  kind: bluetooth\n",
			want: "source.kind must be one of serial, tcp, replay, sim",
		},
		{
			name: "BadBaud",
			body: "source:\n  baud: 1200\n",
			want: "source.baud must be one of [9600 19200 38400 57600 115200 230400]",
		},
		{
			name: "BadBackend",
			body: "source:\n  backend: usb\n",
			want: "source.backend must be one of auto, termios, portable",
		},
		{
			name: "TCPRequiresAddr",
			body: "source:\n  kind: tcp\n",
			want: "source.tcp_addr is required when source.kind is 'tcp'",
		},
		{
			name: "RecordRequiresPath",
			body: "record:\n  enable: true\n",
			want: "record.path is required when record.enable is true",
		},
		{
			name: "ReplayRequiresPath",
			body: "source:\n  kind: replay\n",
			want: "replay.path is required when source.kind is 'replay'",
		},
		{
			name: "RecordAndReplayMutuallyExclusive",
			body: "source:\n  kind: replay\nreplay:\n  path: ./a.log\nrecord:\n  enable: true\n  path: ./b.log\n",
			want: "record and replay cannot both be enabled",
		},
		{
			name: "NegativeReplaySpeed",
			body: "replay:\n  speed: -1\n",
			want: "replay.speed must be > 0",
		},
		{
			name: "BadSimFormat",
			body: "sim:\n  format: json\n",
			want: "sim.format must be one of csv15, csv20, labeled",
		},
		{
			name: "HistoryTooSmall",
			body: "display:\n  history_samples: 3\n",
			want: "display.history_samples must be in [10,100000]",
		},
		{
			name: "UDPRequiresDest",
			body: "udp:\n  enable: true\n",
			want: "udp.dest is required when udp.enable is true",
		},
		{
			name: "MQTTRequiresBroker",
			body: "mqtt:\n  enable: true\n",
			want: "mqtt.broker is required when mqtt.enable is true",
		},
		{
			name: "MQTTBrokerMustBeURL",
			body: "mqtt:\n  enable: true\n  broker: localhost\n",
			want: "mqtt.broker must be a URL like mqtt://host:1883",
		},
		{
			name: "MQTTRejectsWildcardPrefix",
			body: "mqtt:\n  topic_prefix: glove/#\n",
			want: "mqtt.topic_prefix must not contain wildcards",
		},
		{
			name: "MQTTQoS",
			body: "mqtt:\n  qos: 2\n",
			want: "mqtt.qos must be 0 or 1",
		},
		{
			name: "AlarmReleaseAboveTrip",
			body: "alarm:\n  force_g: 100\n  release_g: 200\n",
			want: "alarm.release_g must be <= alarm.force_g",
		},
		{
			name: "AlarmRequiresPin",
			body: "alarm:\n  enable: true\n",
			want: "alarm.gpio_pin is required when alarm.enable is true",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tc.body))
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_TCPSource(t *testing.T) {
	path := writeTempConfig(t, "source:\n  kind: TCP\n  tcp_addr: '192.168.4.1:2000'\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Source.Kind != "tcp" || cfg.Source.ReconnectDelay != time.Second {
		t.Fatalf("source=%+v", cfg.Source)
	}
}

func TestLoad_WebCanBeDisabled(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, "web:\n  enable: false\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.WebEnabled() {
		t.Fatalf("expected web disabled")
	}
}

func TestLoad_RejectsUnknownField(t *testing.T) {
	_, err := Load(writeTempConfig(t, "source:\n  port: /dev/ttyACM0\n"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.HasPrefix(err.Error(), "config contains unknown or invalid fields:") || !strings.Contains(err.Error(), "field port not found") {
		t.Fatalf("error=%q", err.Error())
	}
}

func TestSave_RoundTrips(t *testing.T) {
	cfg := Default()
	cfg.Source.Kind = "tcp"
	cfg.Source.TCPAddr = "10.0.0.2:4000"
	cfg.Display.UpdateInterval = 50 * time.Millisecond

	path := filepath.Join(t.TempDir(), "fingerviz.yaml")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got.Source.TCPAddr != "10.0.0.2:4000" || got.Display.UpdateInterval != 50*time.Millisecond {
		t.Fatalf("reloaded=%+v", got)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

func TestSave_RejectsInvalid(t *testing.T) {
	cfg := Default()
	cfg.Source.Baud = 7
	path := filepath.Join(t.TempDir(), "fingerviz.yaml")
	if err := Save(path, cfg); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file written despite error: %v", err)
	}
}
