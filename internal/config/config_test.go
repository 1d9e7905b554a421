package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mp21695/urbanwatch/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if got := cfg.SLAHoursFor("garbage"); got != 24 {
		t.Fatalf("garbage hours = %d, want 24", got)
	}
}

func TestGeneratedTemplateRoundTrips(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault()))
	if err != nil {
		t.Fatalf("parse template: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("template should validate: %v", err)
	}
	if cfg.Generator.Provider != "ollama" {
		t.Fatalf("provider = %q", cfg.Generator.Provider)
	}
}

func TestSLAOverrides(t *testing.T) {
	cfg, err := config.FromYAML([]byte("sla:\n  hours:\n    garbage: 12\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := cfg.SLAHoursFor("garbage"); got != 12 {
		t.Fatalf("override = %d, want 12", got)
	}
	if got := cfg.SLAHoursFor("pothole"); got != 168 {
		t.Fatalf("unset category = %d, want default 168", got)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []string{
		"sla:\n  hours:\n    teleportation: 4\n",
		"sla:\n  hours:\n    garbage: 0\n",
		"monitor:\n  interval: soon\n",
		"generator:\n  provider: carrier-pigeon\n",
	}
	for _, yml := range cases {
		if _, err := config.FromYAML([]byte(yml)); err == nil {
			t.Fatalf("config %q should fail validation", yml)
		}
	}
}

func TestMonitorDurations(t *testing.T) {
	cfg, err := config.FromYAML([]byte("monitor:\n  interval: 30s\n  initial_delay: 1s\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	interval, err := cfg.MonitorInterval()
	if err != nil || interval != 30*time.Second {
		t.Fatalf("interval = %v, %v", interval, err)
	}
	delay, err := cfg.MonitorInitialDelay()
	if err != nil || delay != time.Second {
		t.Fatalf("delay = %v, %v", delay, err)
	}

	cfg = config.Default()
	interval, err = cfg.MonitorInterval()
	if err != nil || interval != 5*time.Minute {
		t.Fatalf("default interval = %v, %v", interval, err)
	}
	delay, err = cfg.MonitorInitialDelay()
	if err != nil || delay != 5*time.Second {
		t.Fatalf("default delay = %v, %v", delay, err)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		t.Fatalf("missing file should yield defaults: %v", err)
	}
	if got := cfg.SLAHoursFor("sewage"); got != 24 {
		t.Fatalf("sewage hours = %d, want 24", got)
	}

	path := filepath.Join(dir, "urbanwatch.yml")
	if err := os.WriteFile(path, []byte("sla:\n  hours:\n    sewage: 6\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = config.LoadOptional(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.SLAHoursFor("sewage"); got != 6 {
		t.Fatalf("sewage hours = %d, want 6", got)
	}
}
