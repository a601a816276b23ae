package web

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io/fs"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"fingerviz/internal/ingest"
	"fingerviz/internal/render"
	"fingerviz/internal/sensor"
	"fingerviz/internal/serialport"
)

//go:embed assets/*
var embeddedAssets embed.FS

// Live exposes the running pipeline to the handlers. The ingest service may
// be replaced at runtime (settings changes), so handlers ask for it on every
// request. Implementations must be safe for concurrent use.
type Live interface {
	Ingest() *ingest.Service
	Hub() *ingest.Hub
	// HandImage is the optional background for the hand view; may be nil.
	HandImage() image.Image
	// Outputs reports optional sinks (udp, mqtt, alarm) for /api/status.
	Outputs() map[string]any
}

var listPortsFn = serialport.ListPorts

const (
	minImageSide = 64
	maxImageSide = 2048
)

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func writePNG(w http.ResponseWriter, img image.Image) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	writePNGBytes(w, buf.Bytes())
}

func writePNGBytes(w http.ResponseWriter, b []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
}

func requireGET(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// sensorParam parses the 1-based ?sensor= query value into an index.
func sensorParam(r *http.Request) (int, error) {
	s := strings.TrimSpace(r.URL.Query().Get("sensor"))
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > sensor.NumSensors {
		return 0, fmt.Errorf("sensor must be an integer in [1,%d]", sensor.NumSensors)
	}
	return n - 1, nil
}

// sizeParams reads ?w= and ?h=, falling back to the defaults.
func sizeParams(r *http.Request, defW, defH int) (int, int, error) {
	parse := func(key string, def int) (int, error) {
		s := strings.TrimSpace(r.URL.Query().Get(key))
		if s == "" {
			return def, nil
		}
		v, err := strconv.Atoi(s)
		if err != nil || v < minImageSide || v > maxImageSide {
			return 0, fmt.Errorf("%s must be an integer in [%d,%d]", key, minImageSide, maxImageSide)
		}
		return v, nil
	}
	w, err := parse("w", defW)
	if err != nil {
		return 0, 0, err
	}
	h, err := parse("h", defH)
	if err != nil {
		return 0, 0, err
	}
	return w, h, nil
}

type SensorView struct {
	Sensor  int     `json:"sensor"`
	Name    string  `json:"name"`
	Seen    bool    `json:"seen"`
	XMM     float64 `json:"x_mm"`
	YMM     float64 `json:"y_mm"`
	ZMM     float64 `json:"z_mm"`
	ForceG  float64 `json:"force_g"`
	HasLoad bool    `json:"has_load"`
}

type SensorsResponse struct {
	NowUTC  string       `json:"now_utc"`
	Sensors []SensorView `json:"sensors"`
}

func sensorsResponse(svc *ingest.Service, now time.Time) SensorsResponse {
	resp := SensorsResponse{NowUTC: now.UTC().Format(time.RFC3339Nano), Sensors: make([]SensorView, 0, sensor.NumSensors)}
	var samples [sensor.NumSensors]sensor.Sample
	var seen [sensor.NumSensors]bool
	if svc != nil {
		samples = svc.State().Snapshot()
		seen = svc.State().Seen()
	}
	for i, s := range samples {
		resp.Sensors = append(resp.Sensors, SensorView{
			Sensor:  i + 1,
			Name:    sensor.Name(i),
			Seen:    seen[i],
			XMM:     s.XMM,
			YMM:     s.YMM,
			ZMM:     s.ZMM,
			ForceG:  s.ForceG,
			HasLoad: s.HasLoad,
		})
	}
	return resp
}

func currentSamples(live Live) [sensor.NumSensors]sensor.Sample {
	if svc := live.Ingest(); svc != nil {
		return svc.State().Snapshot()
	}
	return [sensor.NumSensors]sensor.Sample{}
}

func Handler(status *Status, live Live, settings SettingsStore, logs *LogBuffer) http.Handler {
	mux := http.NewServeMux()

	assetsFS, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		assetsFS = nil
	}

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !requireGET(w, r) {
			return
		}
		writeJSON(w, status.Snapshot(time.Now().UTC(), live))
	})

	mux.HandleFunc("/api/sensors", func(w http.ResponseWriter, r *http.Request) {
		if !requireGET(w, r) {
			return
		}
		writeJSON(w, sensorsResponse(live.Ingest(), time.Now()))
	})

	mux.HandleFunc("/api/history", func(w http.ResponseWriter, r *http.Request) {
		if !requireGET(w, r) {
			return
		}
		idx, err := sensorParam(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		svc := live.Ingest()
		if svc == nil {
			http.Error(w, "no active source", http.StatusServiceUnavailable)
			return
		}
		series, _ := svc.History().Series(idx)
		writeJSON(w, series)
	})

	mux.HandleFunc("/api/hand.png", func(w http.ResponseWriter, r *http.Request) {
		if !requireGET(w, r) {
			return
		}
		width, height, err := sizeParams(r, 600, 450)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writePNG(w, render.Hand(width, height, live.HandImage(), currentSamples(live)))
	})

	mux.HandleFunc("/api/panel.png", func(w http.ResponseWriter, r *http.Request) {
		if !requireGET(w, r) {
			return
		}
		idx, err := sensorParam(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		width, height, err := sizeParams(r, 240, 240)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		samples := currentSamples(live)
		title := fmt.Sprintf("Sensor %d (%s)", idx+1, sensor.Name(idx))
		writePNG(w, render.Panel(width, height, title, samples[idx]))
	})

	mux.HandleFunc("/api/chart.png", func(w http.ResponseWriter, r *http.Request) {
		if !requireGET(w, r) {
			return
		}
		idx, err := sensorParam(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		width, height, err := sizeParams(r, 900, 240)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		svc := live.Ingest()
		if svc == nil {
			http.Error(w, "no active source", http.StatusServiceUnavailable)
			return
		}
		series, _ := svc.History().Series(idx)
		b, err := render.TimeSeries(width, height, series)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writePNGBytes(w, b)
	})

	mux.Handle("/api/ws", wsHandler(live.Hub(), status))

	mux.HandleFunc("/api/ports", func(w http.ResponseWriter, r *http.Request) {
		if !requireGET(w, r) {
			return
		}
		resp := struct {
			Ports      []string `json:"ports"`
			AutoDetect string   `json:"auto_detect,omitempty"`
			Error      string   `json:"error,omitempty"`
		}{Ports: []string{}, AutoDetect: serialport.AutoDetect()}
		ports, err := listPortsFn()
		if err != nil {
			resp.Error = err.Error()
		} else if ports != nil {
			resp.Ports = ports
		}
		writeJSON(w, resp)
	})

	mux.Handle("/api/settings", settings.Handler())

	if logs != nil {
		mux.Handle("/api/logs", logs.Handler())
	}

	mux.Handle("/api/about", AboutHandler())

	if assetsFS != nil {
		fileServer := http.FileServer(http.FS(assetsFS))
		mux.Handle("/assets/", http.StripPrefix("/assets/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			fileServer.ServeHTTP(w, r)
		})))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !requireGET(w, r) {
			return
		}

		// SPA shell: serve the UI for / and any unknown paths (except /api/* and /assets/*).
		if r.URL.Path != "/" {
			if path.Dir(r.URL.Path) == "/api" || path.Dir(r.URL.Path) == "/assets" {
				http.NotFound(w, r)
				return
			}
		}

		if assetsFS == nil {
			snap := status.Snapshot(time.Now().UTC(), live)
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>Finger Sensors</title></head><body>")
			_, _ = fmt.Fprintf(w, "<h1>Finger Sensors</h1>")
			_, _ = fmt.Fprintf(w, "<p>Web UI is unavailable. Use <a href=\"/api/status\">/api/status</a>.</p>")
			_, _ = fmt.Fprintf(w, "<pre>%s</pre></body></html>", snap.Ingest.Status)
			return
		}

		b, err := fs.ReadFile(assetsFS, "index.html")
		if err != nil {
			http.Error(w, "ui unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(b)
	})

	return mux
}

func Serve(ctx context.Context, listenAddr string, status *Status, live Live, settings SettingsStore, logs *LogBuffer) error {
	if status == nil {
		status = NewStatus()
	}

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(status, live, settings, logs),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// No WriteTimeout: /api/ws connections are long-lived and set their
		// own per-message deadlines.
		IdleTimeout:    30 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
