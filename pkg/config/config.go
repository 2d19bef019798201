// Package config loads the service configuration from a TOML file.
// Flags set on the command line override file values at the call site.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	// DevDir is the directory scanned and watched for capture nodes.
	DevDir string `toml:"dev_dir"`
	// Port is the debug/monitoring HTTP port.
	Port int `toml:"port"`
	// PipelineDepth sizes the kernel buffer pool and the output ring.
	PipelineDepth int `toml:"pipeline_depth"`
	// LensFacing: 0 front, 1 back, 2 external.
	LensFacing int32 `toml:"lens_facing"`
	// SensorOrientation in degrees (0, 90, 180, 270).
	SensorOrientation int32 `toml:"sensor_orientation"`
	// RecordDir receives diagnostic AVI captures.
	RecordDir string `toml:"record_dir"`
}

func Default() Config {
	return Config{
		DevDir:        "/dev",
		Port:          9999,
		PipelineDepth: 4,
		LensFacing:    2,
		RecordDir:     os.TempDir(),
	}
}

// Load reads path over the defaults. A missing file is not an error; a
// malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.PipelineDepth < 3 {
		cfg.PipelineDepth = 3
	}
	return cfg, nil
}
