package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	content := `{
  "delivery": {
    "min_delay_ms": 100,
    "unknown_field": 1
  }
}`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := LoadConfig(cfgPath)
	if err == nil {
		t.Fatalf("expected unknown field error")
	}
	if !strings.Contains(strings.ToLower(err.Error()), "unknown field") {
		t.Fatalf("expected unknown field error, got: %v", err)
	}
}

func TestLoadConfigRejectsTrailingJSONContent(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	content := `{"delivery":{"min_delay_ms":100}}{"extra":true}`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := LoadConfig(cfgPath)
	if err == nil {
		t.Fatalf("expected trailing json content error")
	}
	if !strings.Contains(err.Error(), "trailing JSON content") {
		t.Fatalf("expected trailing JSON content error, got: %v", err)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Delivery.MinDelayMS != 1500 || cfg.Delivery.MaxDelayMS != 4000 {
		t.Fatalf("unexpected pacing defaults: %+v", cfg.Delivery)
	}
	if cfg.Links.MaxRedirects != 10 || cfg.Links.TimeoutSec != 8 {
		t.Fatalf("unexpected link defaults: %+v", cfg.Links)
	}
	if cfg.ReconnectDelay() != 5*time.Second {
		t.Fatalf("unexpected reconnect delay: %s", cfg.ReconnectDelay())
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Fatalf("defaults should validate, got %v", errs)
	}
}

func TestLoadConfigEnvOverlay(t *testing.T) {
	t.Setenv("SHOPBOT_DELIVERY_CLOSING_PROMPT", "On commande ?")
	t.Setenv("SHOPBOT_LINKS_MARKERS", "fb.me,m.me")

	cfgPath := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(cfgPath, []byte(`{"gateway":{"port":19000}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Gateway.Port != 19000 {
		t.Fatalf("file value lost: %d", cfg.Gateway.Port)
	}
	if cfg.Delivery.ClosingPrompt != "On commande ?" {
		t.Fatalf("env overlay not applied: %q", cfg.Delivery.ClosingPrompt)
	}
	if len(cfg.Links.Markers) != 2 || cfg.Links.Markers[1] != "m.me" {
		t.Fatalf("unexpected markers: %v", cfg.Links.Markers)
	}
}

func TestValidateReportsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WhatsApp.Transport = "carrier-pigeon"
	cfg.Delivery.MinDelayMS = 5000
	cfg.Delivery.MaxDelayMS = 1000
	cfg.Links.Markers = []string{" "}

	errs := Validate(cfg)
	joined := make([]string, 0, len(errs))
	for _, err := range errs {
		joined = append(joined, err.Error())
	}
	all := strings.Join(joined, "\n")
	for _, want := range []string{"whatsapp.transport", "delivery.max_delay_ms", "links.markers[0]"} {
		if !strings.Contains(all, want) {
			t.Fatalf("expected %q in validation errors:\n%s", want, all)
		}
	}
}
