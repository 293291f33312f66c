package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltinSources(t *testing.T) {
	t.Setenv("SOURCES_DIR", filepath.Join(t.TempDir(), "missing"))
	cfg := &Config{}
	if err := cfg.loadSources(); err != nil {
		t.Fatalf("loadSources: %v", err)
	}

	if len(cfg.Sources) != 8 {
		t.Errorf("sources = %d, want 8 builtins", len(cfg.Sources))
	}
	gps := cfg.Sources["GPS"]
	if gps == nil || gps.MlsID != "20190211172710340762000000" {
		t.Errorf("GPS = %+v", gps)
	}
	if len(cfg.EnabledSources()) != 8 {
		t.Errorf("enabled = %d, want 8", len(cfg.EnabledSources()))
	}

	names := cfg.SourceNames()
	if names["20200218121507636729000000"] != "CRMLS" {
		t.Errorf("SourceNames missing CRMLS: %v", names)
	}
}

func TestSourceYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("id: gps\nname: Greater Palm Springs\nproperty_types: [A, B]\nenabled: false\n")
	if err := os.WriteFile(filepath.Join(dir, "gps.yaml"), yaml, 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SOURCES_DIR", dir)

	cfg := &Config{}
	if err := cfg.loadSources(); err != nil {
		t.Fatalf("loadSources: %v", err)
	}

	gps := cfg.Sources["GPS"]
	if gps.Enabled {
		t.Error("override should disable GPS")
	}
	if gps.MlsID != "20190211172710340762000000" {
		t.Errorf("override without mls_id should inherit the builtin id, got %q", gps.MlsID)
	}
	if len(gps.PropertyTypes) != 2 {
		t.Errorf("propertyTypes = %v", gps.PropertyTypes)
	}
	if len(cfg.EnabledSources()) != 7 {
		t.Errorf("enabled = %d, want 7", len(cfg.EnabledSources()))
	}
}

func TestSourceYAMLNewSourceRequiresMlsID(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("id: other\nenabled: true\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SOURCES_DIR", dir)

	cfg := &Config{}
	if err := cfg.loadSources(); err == nil {
		t.Fatal("expected an error for a new source without mls_id")
	}
}
