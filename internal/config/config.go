package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Source  SourceConfig  `yaml:"source"`
	Record  RecordConfig  `yaml:"record"`
	Replay  ReplayConfig  `yaml:"replay"`
	Sim     SimConfig     `yaml:"sim"`
	Display DisplayConfig `yaml:"display"`
	Web     WebConfig     `yaml:"web"`
	UDP     UDPConfig     `yaml:"udp"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Alarm   AlarmConfig   `yaml:"alarm"`
}

type SourceConfig struct {
	// Kind is serial, tcp, replay or sim.
	Kind string `yaml:"kind"`

	// Device may be empty to auto-detect /dev/ttyACM* then /dev/ttyUSB*.
	Device  string `yaml:"device"`
	Baud    int    `yaml:"baud"`
	Backend string `yaml:"backend"`

	TCPAddr        string        `yaml:"tcp_addr"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type ReplayConfig struct {
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
	Loop  bool    `yaml:"loop"`
}

type SimConfig struct {
	Format      string        `yaml:"format"`
	Period      time.Duration `yaml:"period"`
	Interval    time.Duration `yaml:"interval"`
	AmplitudeMM float64       `yaml:"amplitude_mm"`
	PeakForceG  float64       `yaml:"peak_force_g"`
}

type DisplayConfig struct {
	UpdateInterval time.Duration `yaml:"update_interval"`
	HistorySamples int           `yaml:"history_samples"`
	// HandImage is an optional PNG/JPEG drawn under the finger overlays.
	HandImage string `yaml:"hand_image"`
}

type WebConfig struct {
	Enable   *bool  `yaml:"enable"`
	Listen   string `yaml:"listen"`
	LogLines int    `yaml:"log_lines"`
}

type UDPConfig struct {
	Enable bool   `yaml:"enable"`
	Dest   string `yaml:"dest"`
}

type MQTTConfig struct {
	Enable      bool          `yaml:"enable"`
	Broker      string        `yaml:"broker"`
	TopicPrefix string        `yaml:"topic_prefix"`
	ClientID    string        `yaml:"client_id"`
	QoS         byte          `yaml:"qos"`
	KeepAlive   time.Duration `yaml:"keep_alive"`

	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

type AlarmConfig struct {
	Enable   bool    `yaml:"enable"`
	GPIOPin  int     `yaml:"gpio_pin"`
	ForceG   float64 `yaml:"force_g"`
	ReleaseG float64 `yaml:"release_g"`
}

var validSourceKinds = []string{"serial", "tcp", "replay", "sim"}
var validBackends = []string{"auto", "termios", "portable"}
var validSimFormats = []string{"csv15", "csv20", "labeled"}
var validBauds = []int{9600, 19200, 38400, 57600, 115200, 230400}

// Default returns a config with every default applied, as used when no
// config file exists.
func Default() Config {
	var cfg Config
	_ = DefaultAndValidate(&cfg)
	return cfg
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Save writes cfg to path through a temp file in the same directory, so a
// crash never leaves a truncated config behind.
func Save(path string, cfg Config) error {
	if err := DefaultAndValidate(&cfg); err != nil {
		return err
	}
	b, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	_, err = tmp.Write(b)
	if err == nil {
		err = tmp.Sync()
	}
	if err == nil {
		err = tmp.Chmod(0o644)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// Parse decodes YAML strictly (unknown fields are rejected) and applies
// defaults and validation.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) {
			return Config{}, fmt.Errorf("config contains unknown or invalid fields: %s", strings.Join(te.Errors, "; "))
		}
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	// Source.
	cfg.Source.Kind = strings.ToLower(strings.TrimSpace(cfg.Source.Kind))
	if cfg.Source.Kind == "" {
		cfg.Source.Kind = "serial"
	}
	if !containsString(validSourceKinds, cfg.Source.Kind) {
		return fmt.Errorf("source.kind must be one of %s", strings.Join(validSourceKinds, ", "))
	}
	cfg.Source.Device = strings.TrimSpace(cfg.Source.Device)
	if cfg.Source.Baud == 0 {
		cfg.Source.Baud = 115200
	}
	if !containsInt(validBauds, cfg.Source.Baud) {
		return fmt.Errorf("source.baud must be one of %v", validBauds)
	}
	cfg.Source.Backend = strings.ToLower(strings.TrimSpace(cfg.Source.Backend))
	if cfg.Source.Backend == "" {
		cfg.Source.Backend = "auto"
	}
	if !containsString(validBackends, cfg.Source.Backend) {
		return fmt.Errorf("source.backend must be one of %s", strings.Join(validBackends, ", "))
	}
	if cfg.Source.ReconnectDelay <= 0 {
		cfg.Source.ReconnectDelay = 1 * time.Second
	}
	if cfg.Source.Kind == "tcp" {
		if strings.TrimSpace(cfg.Source.TCPAddr) == "" {
			return fmt.Errorf("source.tcp_addr is required when source.kind is 'tcp'")
		}
		if _, _, err := net.SplitHostPort(cfg.Source.TCPAddr); err != nil {
			return fmt.Errorf("source.tcp_addr must be host:port: %v", err)
		}
	}

	// Record / replay.
	if cfg.Record.Enable && cfg.Record.Path == "" {
		return fmt.Errorf("record.path is required when record.enable is true")
	}
	if cfg.Source.Kind == "replay" {
		if cfg.Replay.Path == "" {
			return fmt.Errorf("replay.path is required when source.kind is 'replay'")
		}
		if cfg.Record.Enable {
			return fmt.Errorf("record and replay cannot both be enabled")
		}
	}
	if cfg.Replay.Speed == 0 {
		cfg.Replay.Speed = 1
	}
	if cfg.Replay.Speed < 0 {
		return fmt.Errorf("replay.speed must be > 0")
	}

	// Simulator defaults (safe even if unused).
	cfg.Sim.Format = strings.ToLower(strings.TrimSpace(cfg.Sim.Format))
	if cfg.Sim.Format == "" {
		cfg.Sim.Format = "csv20"
	}
	if !containsString(validSimFormats, cfg.Sim.Format) {
		return fmt.Errorf("sim.format must be one of %s", strings.Join(validSimFormats, ", "))
	}
	if cfg.Sim.Period <= 0 {
		cfg.Sim.Period = 4 * time.Second
	}
	if cfg.Sim.Interval <= 0 {
		cfg.Sim.Interval = 20 * time.Millisecond
	}
	if cfg.Sim.AmplitudeMM <= 0 {
		cfg.Sim.AmplitudeMM = 40
	}
	if cfg.Sim.PeakForceG <= 0 {
		cfg.Sim.PeakForceG = 450
	}

	// Display.
	if cfg.Display.UpdateInterval <= 0 {
		cfg.Display.UpdateInterval = 30 * time.Millisecond
	}
	if cfg.Display.HistorySamples == 0 {
		cfg.Display.HistorySamples = 800
	}
	if cfg.Display.HistorySamples < 10 || cfg.Display.HistorySamples > 100000 {
		return fmt.Errorf("display.history_samples must be in [10,100000]")
	}

	// Web.
	if cfg.Web.Enable == nil {
		v := true
		cfg.Web.Enable = &v
	}
	if strings.TrimSpace(cfg.Web.Listen) == "" {
		cfg.Web.Listen = ":8080"
	}
	if cfg.Web.LogLines <= 0 {
		cfg.Web.LogLines = 2000
	}

	// UDP.
	if cfg.UDP.Enable && strings.TrimSpace(cfg.UDP.Dest) == "" {
		return fmt.Errorf("udp.dest is required when udp.enable is true")
	}

	// MQTT.
	if cfg.MQTT.Enable {
		if strings.TrimSpace(cfg.MQTT.Broker) == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
		}
		u, err := url.Parse(cfg.MQTT.Broker)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("mqtt.broker must be a URL like mqtt://host:1883")
		}
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "fingerviz"
	}
	cfg.MQTT.TopicPrefix = strings.TrimRight(cfg.MQTT.TopicPrefix, "/")
	if strings.ContainsAny(cfg.MQTT.TopicPrefix, "#+") {
		return fmt.Errorf("mqtt.topic_prefix must not contain wildcards")
	}
	if cfg.MQTT.QoS > 1 {
		return fmt.Errorf("mqtt.qos must be 0 or 1")
	}
	if cfg.MQTT.KeepAlive <= 0 {
		cfg.MQTT.KeepAlive = 30 * time.Second
	}
	if cfg.MQTT.ReconnectDelay <= 0 {
		cfg.MQTT.ReconnectDelay = 2 * time.Second
	}

	// Alarm.
	if cfg.Alarm.ForceG <= 0 {
		cfg.Alarm.ForceG = 400
	}
	if cfg.Alarm.ReleaseG <= 0 {
		cfg.Alarm.ReleaseG = 0.9 * cfg.Alarm.ForceG
	}
	if cfg.Alarm.ReleaseG > cfg.Alarm.ForceG {
		return fmt.Errorf("alarm.release_g must be <= alarm.force_g")
	}
	if cfg.Alarm.Enable && cfg.Alarm.GPIOPin <= 0 {
		return fmt.Errorf("alarm.gpio_pin is required when alarm.enable is true")
	}

	return nil
}

func (c Config) WebEnabled() bool {
	return c.Web.Enable == nil || *c.Web.Enable
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
