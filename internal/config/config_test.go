package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Scheduler.Interval != time.Minute || cfg.Scheduler.Window != 72*time.Hour {
		t.Fatalf("unexpected scheduler defaults: %+v", cfg.Scheduler)
	}
}

func TestFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("scheduler:\n  window: 24h\nholidays:\n  PE:\n    2025: [\"2025-12-31\"]\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Scheduler.Window != 24*time.Hour {
		t.Fatalf("window not applied: %v", cfg.Scheduler.Window)
	}
	if cfg.Scheduler.Interval != time.Minute {
		t.Fatalf("interval default lost: %v", cfg.Scheduler.Interval)
	}
	days, _ := cfg.HolidaySource().Holidays("PE", 2025)
	found := false
	for _, d := range days {
		if d == "2025-12-31" {
			found = true
		}
	}
	if !found {
		t.Fatalf("configured holiday missing from %v", days)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"transport": "notify:\n  transport: sms\n",
		"webhook":   "notify:\n  transport: webhook\n",
		"interval":  "scheduler:\n  interval: 0s\n",
		"timezone":  "timezone: Mars/Olympus\n",
		"holiday":   "holidays:\n  PE:\n    2025: [\"31/12/2025\"]\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadOptionalAndPaths(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("expected defaults, got %v %v", cfg, err)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
	if err := os.WriteFile(Path(dir), []byte("rulesets:\n  file: rules.yml\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.RulesetsPath(dir); got != filepath.Join(dir, "rules.yml") {
		t.Fatalf("unexpected rulesets path %s", got)
	}
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.yml")
	if _, err := FromFile(path); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
	if err := os.WriteFile(path, []byte("scheduler:\n  interval: 30s\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := FromFile(path)
	if err != nil {
		t.Fatalf("from file: %v", err)
	}
	if cfg.Scheduler.Interval != 30*time.Second {
		t.Fatalf("interval not applied: %v", cfg.Scheduler.Interval)
	}
	if err := os.WriteFile(path, []byte("scheduler:\n  interval: -1s\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := FromFile(path); err == nil {
		t.Fatal("expected validation error")
	}
}
