package config

import (
	"os"
	"testing"
)

func TestLoadServerDefaults(t *testing.T) {
	for _, key := range []string{"CROWDWATCH_ADDR", "CROWDWATCH_DATA_DIR", "CROWDWATCH_TUNING_PATH", "CROWDWATCH_SIMULATE"} {
		t.Setenv(key, "") // register cleanup, then clear
		os.Unsetenv(key)
	}

	s, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer failed: %v", err)
	}
	if s.Addr != ":8080" {
		t.Errorf("Addr = %q, want ':8080'", s.Addr)
	}
	if s.DataDir != "data" {
		t.Errorf("DataDir = %q, want 'data'", s.DataDir)
	}
	if s.TuningPath != "" {
		t.Errorf("TuningPath = %q, want empty", s.TuningPath)
	}
	if s.Simulate {
		t.Error("Simulate = true, want false")
	}
}

func TestLoadServerFromEnvironment(t *testing.T) {
	t.Setenv("CROWDWATCH_ADDR", "127.0.0.1:9000")
	t.Setenv("CROWDWATCH_DATA_DIR", "/var/lib/crowdwatch")
	t.Setenv("CROWDWATCH_TUNING_PATH", "/etc/crowdwatch/tuning.json")
	t.Setenv("CROWDWATCH_SIMULATE", "true")

	s, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer failed: %v", err)
	}
	if s.Addr != "127.0.0.1:9000" {
		t.Errorf("Addr = %q, want '127.0.0.1:9000'", s.Addr)
	}
	if s.DataDir != "/var/lib/crowdwatch" {
		t.Errorf("DataDir = %q", s.DataDir)
	}
	if s.TuningPath != "/etc/crowdwatch/tuning.json" {
		t.Errorf("TuningPath = %q", s.TuningPath)
	}
	if !s.Simulate {
		t.Error("Simulate = false, want true")
	}
}

func TestLoadServerRejectsBadBool(t *testing.T) {
	t.Setenv("CROWDWATCH_SIMULATE", "definitely")
	if _, err := LoadServer(); err == nil {
		t.Error("Expected error for invalid boolean")
	}
}
