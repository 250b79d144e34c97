// Package config loads the platform server configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Platform holds all configuration for the platform server.
type Platform struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// Paths
	DataDir    string `yaml:"data_dir"`
	StorageDir string `yaml:"storage_dir"`
	RuntimeDir string `yaml:"runtime_dir"`

	// Game servers
	BaseGamePort int    `yaml:"base_game_port"`
	Interpreter  string `yaml:"interpreter"`
	ScriptSuffix string `yaml:"script_suffix"`

	ReadyWindow time.Duration `yaml:"ready_window"`
	StopGrace   time.Duration `yaml:"stop_grace"`
}

// Default returns the configuration used when no file is present.
func Default() Platform {
	return Platform{
		BindAddress:  "0.0.0.0",
		Port:         10001,
		DataDir:      "db",
		StorageDir:   "storage",
		RuntimeDir:   "storage/runtime",
		BaseGamePort: 10002,
		Interpreter:  "python3",
		ScriptSuffix: ".py",
		ReadyWindow:  time.Second,
		StopGrace:    3 * time.Second,
	}
}

// Load reads platform config from a YAML file. A missing file yields the
// defaults.
func Load(path string) (Platform, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
