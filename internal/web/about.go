package web

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"time"

	"fingerviz/internal/sensor"
)

type BuildInfo struct {
	ModulePath string `json:"module_path,omitempty"`
	Version    string `json:"version,omitempty"`
	Commit     string `json:"commit,omitempty"`
	Dirty      bool   `json:"dirty,omitempty"`
	BuildTime  string `json:"build_time,omitempty"`
}

type AboutResponse struct {
	Service   string    `json:"service"`
	NowUTC    string    `json:"now_utc"`
	GoVersion string    `json:"go_version"`
	Build     BuildInfo `json:"build"`
	Fingers   []string  `json:"fingers"`
	// Formats lists the accepted serial line layouts.
	Formats []string `json:"formats"`
}

var lineFormats = []string{"csv15", "csv20", "labeled", "single"}

// ReadBuildInfo reports the module version and VCS stamp of the binary.
func ReadBuildInfo() BuildInfo {
	var out BuildInfo
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return out
	}
	out.ModulePath = bi.Main.Path
	out.Version = bi.Main.Version
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			out.Commit = s.Value
		case "vcs.modified":
			out.Dirty = s.Value == "true"
		case "vcs.time":
			out.BuildTime = s.Value
		}
	}
	return out
}

func (b BuildInfo) String() string {
	v := b.Version
	if v == "" {
		v = "(devel)"
	}
	if b.Commit != "" {
		c := b.Commit
		if len(c) > 12 {
			c = c[:12]
		}
		v += " " + c
		if b.Dirty {
			v += "+dirty"
		}
	}
	return v
}

func AboutHandler() http.Handler {
	build := ReadBuildInfo()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireGET(w, r) {
			return
		}
		writeJSON(w, AboutResponse{
			Service:   "fingerviz",
			NowUTC:    time.Now().UTC().Format(time.RFC3339Nano),
			GoVersion: runtime.Version(),
			Build:     build,
			Fingers:   sensor.Names[:],
			Formats:   lineFormats,
		})
	})
}
