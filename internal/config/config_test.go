package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_SampleConfig(t *testing.T) {
	cfg, err := Load("../../configs/bridge.yaml")
	if err != nil {
		t.Fatalf("load bridge.yaml: %v", err)
	}
	if cfg.Archipelago.Game != "MetroCUBEvania" || cfg.Archipelago.Name != "player1" {
		t.Fatalf("unexpected archipelago config: %+v", cfg.Archipelago)
	}
	if cfg.Layout.FatePending.Mask != 0x02 || cfg.Layout.Inbound.Mask != 0xff {
		t.Fatalf("unexpected layout: %+v", cfg.Layout)
	}
	if cfg.Archipelago.ReadTimeout != 60*time.Second {
		t.Fatalf("read_timeout=%s", cfg.Archipelago.ReadTimeout)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "archipelago:\n  server: localhost:38281\n  name: fromfile\n")
	t.Setenv("P8LINK_AP_NAME", "fromenv")
	t.Setenv("P8LINK_AP_PASSWORD", "hunter2")
	t.Setenv("P8LINK_CONSOLE_ALLOWED_ORIGINS", "http://a.test, ,http://b.test")
	t.Setenv("P8LINK_CALL_TIMEOUT", "2s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Archipelago.Name != "fromenv" || cfg.Archipelago.Password != "hunter2" {
		t.Fatalf("env override not applied: %+v", cfg.Archipelago)
	}
	if cfg.Archipelago.Server != "localhost:38281" {
		t.Fatalf("file value lost: %q", cfg.Archipelago.Server)
	}
	if len(cfg.Console.AllowedOrigins) != 2 {
		t.Fatalf("origins=%v", cfg.Console.AllowedOrigins)
	}
	if cfg.CallTimeout != 2*time.Second {
		t.Fatalf("call_timeout=%s", cfg.CallTimeout)
	}
}

func TestLoad_RequiresName(t *testing.T) {
	_, err := Load(writeFile(t, "archipelago:\n  server: localhost:38281\n"))
	if err == nil || !strings.Contains(err.Error(), "archipelago.name") {
		t.Fatalf("expected name error, got %v", err)
	}
}

func TestLoad_RejectsOverlappingLayout(t *testing.T) {
	body := "archipelago:\n  name: p1\nlayout:\n  message: { start: 15, len: 40 }\n"
	_, err := Load(writeFile(t, body))
	if err == nil || !strings.Contains(err.Error(), "overlap") {
		t.Fatalf("expected overlap error, got %v", err)
	}
}

func TestLoad_RejectsTooSmallInboundZone(t *testing.T) {
	body := "archipelago:\n  name: p1\nlayout:\n  inbound: { start: 10, len: 1 }\n"
	_, err := Load(writeFile(t, body))
	if err == nil || !strings.Contains(err.Error(), "does not fit") {
		t.Fatalf("expected fit error, got %v", err)
	}
}

func TestDefaults_Valid(t *testing.T) {
	cfg := Defaults()
	cfg.Archipelago.Name = "p1"
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoad_OverridesWinOverEnv(t *testing.T) {
	t.Setenv("P8LINK_AP_NAME", "fromenv")
	cfg, err := Load("", func(c *Config) { c.Archipelago.Name = "fromflag" })
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Archipelago.Name != "fromflag" {
		t.Fatalf("name=%q want=fromflag", cfg.Archipelago.Name)
	}
	if cfg.Archipelago.Server != "archipelago.gg:38281" {
		t.Fatalf("default server lost: %q", cfg.Archipelago.Server)
	}
}
