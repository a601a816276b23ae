package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"fingerviz/internal/config"
)

// SettingsPayload is the live-editable subset of the config as shown in the
// Settings tab.
type SettingsPayload struct {
	SourceKind     string `json:"source_kind"`
	Device         string `json:"device"`
	Baud           int    `json:"baud"`
	TCPAddr        string `json:"tcp_addr"`
	UpdateInterval string `json:"update_interval"`
}

func settingsFromConfig(cfg config.Config) SettingsPayload {
	return SettingsPayload{
		SourceKind:     cfg.Source.Kind,
		Device:         cfg.Source.Device,
		Baud:           cfg.Source.Baud,
		TCPAddr:        cfg.Source.TCPAddr,
		UpdateInterval: cfg.Display.UpdateInterval.String(),
	}
}

// settingsField decodes one POST key into the config. Every field is
// required; there are no partial updates.
type settingsField struct {
	key   string
	apply func(raw json.RawMessage, cfg *config.Config) error
}

func stringField(key string, set func(cfg *config.Config, v string) error) settingsField {
	return settingsField{key: key, apply: func(raw json.RawMessage, cfg *config.Config) error {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("%s must be a string", key)
		}
		return set(cfg, strings.TrimSpace(v))
	}}
}

var settingsFields = []settingsField{
	stringField("source_kind", func(cfg *config.Config, v string) error {
		if v == "" {
			return errors.New("source_kind must be non-empty")
		}
		cfg.Source.Kind = strings.ToLower(v)
		return nil
	}),
	// An empty device means auto-detect.
	stringField("device", func(cfg *config.Config, v string) error {
		cfg.Source.Device = v
		return nil
	}),
	{key: "baud", apply: func(raw json.RawMessage, cfg *config.Config) error {
		var v int
		if err := json.Unmarshal(raw, &v); err != nil || v <= 0 {
			return errors.New("baud must be a positive integer")
		}
		cfg.Source.Baud = v
		return nil
	}},
	stringField("tcp_addr", func(cfg *config.Config, v string) error {
		cfg.Source.TCPAddr = v
		return nil
	}),
	stringField("update_interval", func(cfg *config.Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid update_interval %q: %w", v, err)
		}
		if d <= 0 {
			return errors.New("update_interval must be > 0")
		}
		cfg.Display.UpdateInterval = d
		return nil
	}),
}

// readSettingsObject streams one JSON object and returns its values by key.
// Unknown, duplicate, null and missing keys are errors, as is trailing data.
func readSettingsObject(body []byte) (map[string]json.RawMessage, error) {
	known := make(map[string]bool, len(settingsFields))
	for _, f := range settingsFields {
		known[f.key] = true
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, errors.New("invalid json: expected object")
	}
	out := make(map[string]json.RawMessage, len(settingsFields))
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("invalid json: %w", err)
		}
		key, _ := tok.(string)
		switch {
		case !known[key]:
			return nil, fmt.Errorf("invalid json: unknown key %q", key)
		case out[key] != nil:
			return nil, fmt.Errorf("invalid json: duplicate key %q", key)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("invalid json: %w", err)
		}
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return nil, fmt.Errorf("invalid json: %q cannot be null", key)
		}
		out[key] = raw
	}
	if tok, err := dec.Token(); err != nil || tok != json.Delim('}') {
		return nil, errors.New("invalid json: expected end of object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("invalid json: trailing data")
	}

	for _, f := range settingsFields {
		if out[f.key] == nil {
			return nil, fmt.Errorf("invalid json: missing required key %q", f.key)
		}
	}
	return out, nil
}

// applySettings returns cfg with the posted values applied and validated.
func applySettings(cfg config.Config, body []byte) (config.Config, error) {
	vals, err := readSettingsObject(body)
	if err != nil {
		return cfg, err
	}
	for _, f := range settingsFields {
		if err := f.apply(vals[f.key], &cfg); err != nil {
			return cfg, fmt.Errorf("invalid settings: %w", err)
		}
	}
	if err := config.DefaultAndValidate(&cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

type SettingsStore struct {
	ConfigPath string
	// Apply makes a validated config effective. When it fails nothing is
	// saved.
	Apply func(cfg config.Config) error
	// Current, when set, reports the running config for GET so flag
	// overrides and unsaved applies are visible.
	Current func() config.Config
}

// load reads the config file; a missing file yields defaults so the first
// save creates it.
func (s SettingsStore) load() (config.Config, error) {
	cfg, err := config.Load(s.ConfigPath)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

func (s SettingsStore) post(r *http.Request) (config.Config, int, error) {
	if ct := strings.TrimSpace(r.Header.Get("Content-Type")); ct != "application/json" {
		return config.Config{}, http.StatusUnsupportedMediaType, errors.New("content-type must be application/json")
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		return config.Config{}, http.StatusBadRequest, fmt.Errorf("read failed: %w", err)
	}

	prev, err := s.load()
	if err != nil {
		return config.Config{}, http.StatusInternalServerError, fmt.Errorf("load failed: %w", err)
	}
	next, err := applySettings(prev, body)
	if err != nil {
		return config.Config{}, http.StatusBadRequest, err
	}

	if s.Apply != nil {
		if err := s.Apply(next); err != nil {
			return config.Config{}, http.StatusBadRequest, fmt.Errorf("apply failed: %w", err)
		}
	}
	if err := config.Save(s.ConfigPath, next); err != nil {
		// Put the runtime back in line with what is on disk.
		if s.Apply != nil {
			_ = s.Apply(prev)
		}
		return config.Config{}, http.StatusInternalServerError, fmt.Errorf("save failed: %w", err)
	}
	return next, http.StatusOK, nil
}

func (s SettingsStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(s.ConfigPath) == "" {
			http.Error(w, "settings not available (no config path)", http.StatusNotImplemented)
			return
		}

		var cfg config.Config
		var err error
		code := http.StatusOK
		switch r.Method {
		case http.MethodGet:
			if s.Current != nil {
				cfg = s.Current()
			} else if cfg, err = s.load(); err != nil {
				code = http.StatusInternalServerError
				err = fmt.Errorf("load failed: %w", err)
			}
		case http.MethodPost:
			cfg, code, err = s.post(r)
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), code)
			return
		}
		writeJSON(w, settingsFromConfig(cfg))
	})
}
