package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DevDir != "/dev" {
		t.Errorf("default dev_dir = %q", cfg.DevDir)
	}
	if cfg.PipelineDepth != 4 {
		t.Errorf("default pipeline_depth = %d", cfg.PipelineDepth)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cambridge.toml")
	content := `
dev_dir = "/tmp/devnodes"
port = 8088
pipeline_depth = 6
lens_facing = 0
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DevDir != "/tmp/devnodes" {
		t.Errorf("dev_dir = %q", cfg.DevDir)
	}
	if cfg.Port != 8088 {
		t.Errorf("port = %d", cfg.Port)
	}
	if cfg.PipelineDepth != 6 {
		t.Errorf("pipeline_depth = %d", cfg.PipelineDepth)
	}
	if cfg.LensFacing != 0 {
		t.Errorf("lens_facing = %d", cfg.LensFacing)
	}
}

func TestLoadClampsDepth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cambridge.toml")
	if err := os.WriteFile(path, []byte("pipeline_depth = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PipelineDepth != 3 {
		t.Errorf("pipeline_depth = %d, want clamp to 3", cfg.PipelineDepth)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 9999 {
		t.Errorf("port = %d, want default", cfg.Port)
	}
}
