package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"fingerviz/internal/config"
	"fingerviz/internal/web"
)

const defaultConfigPath = "./fingerviz.yaml"

// loadConfig reads path. A missing file is only tolerated at the default
// path, where it means "run with defaults".
func loadConfig(path string, explicit bool) (config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		log.Printf("config %s not found, using defaults", path)
		return config.Default(), nil
	}
	return config.Config{}, err
}

// applyOverrides copies non-empty flag values into cfg and revalidates.
func applyOverrides(cfg *config.Config, listen, device string) error {
	if listen != "" {
		cfg.Web.Listen = listen
	}
	if device != "" {
		cfg.Source.Device = device
		if cfg.Source.Kind != "serial" {
			log.Printf("-device ignored: source.kind is %q", cfg.Source.Kind)
		}
	}
	return config.DefaultAndValidate(cfg)
}

func main() {
	var configPath, listen, device string
	flag.StringVar(&configPath, "config", defaultConfigPath, "Path to YAML config")
	flag.StringVar(&listen, "listen", "", "Web listen address (overrides web.listen)")
	flag.StringVar(&device, "device", "", "Serial device (overrides source.device)")
	flag.Parse()

	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})

	cfg, err := loadConfig(configPath, explicit)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if err := applyOverrides(&cfg, listen, device); err != nil {
		log.Fatalf("config invalid: %v", err)
	}

	logBuf := web.NewLogBuffer(cfg.Web.LogLines)
	log.SetOutput(io.MultiWriter(os.Stderr, logBuf))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("fingerviz starting version=%s", web.ReadBuildInfo())
	log.Printf("source=%s device=%q baud=%d update_interval=%s", cfg.Source.Kind, cfg.Source.Device, cfg.Source.Baud, cfg.Display.UpdateInterval)

	rt, err := newLiveRuntime(ctx, cfg)
	if err != nil {
		log.Fatalf("runtime init failed: %v", err)
	}
	defer rt.Close()

	if cfg.WebEnabled() {
		status := web.NewStatus()
		status.SetConfigPath(configPath)
		settings := web.SettingsStore{ConfigPath: configPath, Apply: rt.Apply, Current: rt.Config}
		go func() {
			log.Printf("web listening on %s", cfg.Web.Listen)
			if err := web.Serve(ctx, cfg.Web.Listen, status, rt, settings, logBuf); err != nil && ctx.Err() == nil {
				log.Printf("web server stopped: %v", err)
				cancel()
			}
		}()
	}

	<-ctx.Done()
	log.Printf("fingerviz stopping")
}
