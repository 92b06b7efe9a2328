package session

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML-serializable subset of Config: everything except
// the callback sinks, which a struct-literal caller must still supply.
// cmd/spice-client loads one of these and layers its own sinks on top via
// Merge, rather than decoding callbacks directly out of YAML.
type FileConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	LogLevel string `yaml:"log_level"`

	Inputs struct {
		Enable      bool `yaml:"enable"`
		AutoConnect bool `yaml:"auto_connect"`
	} `yaml:"inputs"`

	Clipboard struct {
		Enable bool `yaml:"enable"`
	} `yaml:"clipboard"`

	Playback struct {
		Enable      bool `yaml:"enable"`
		AutoConnect bool `yaml:"auto_connect"`
	} `yaml:"playback"`

	Record struct {
		Enable      bool `yaml:"enable"`
		AutoConnect bool `yaml:"auto_connect"`
	} `yaml:"record"`

	Display struct {
		Enable      bool `yaml:"enable"`
		AutoConnect bool `yaml:"auto_connect"`
	} `yaml:"display"`
}

// LoadFileConfig reads and validates a YAML configuration document, per
// spec §6's configuration surface table.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading session config: %w", err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing session config: %w", err)
	}
	if err := fc.validate(); err != nil {
		return nil, fmt.Errorf("validating session config: %w", err)
	}
	return &fc, nil
}

func (fc *FileConfig) validate() error {
	if fc.Host == "" {
		return fmt.Errorf("host is required")
	}
	if fc.Port < 0 || fc.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", fc.Port)
	}
	switch fc.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug|info|warn|error, got %q", fc.LogLevel)
	}
	return nil
}

// Merge layers fc's values onto base, preserving base's callback sinks, and
// returns the combined Config ready for New.
func (fc *FileConfig) Merge(base Config) Config {
	cfg := base
	cfg.Host = fc.Host
	cfg.Port = fc.Port
	cfg.Password = fc.Password

	cfg.Inputs.Enable = fc.Inputs.Enable
	cfg.Inputs.AutoConnect = fc.Inputs.AutoConnect

	cfg.Clipboard.Enable = fc.Clipboard.Enable

	cfg.Playback.Enable = fc.Playback.Enable
	cfg.Playback.AutoConnect = fc.Playback.AutoConnect

	cfg.Record.Enable = fc.Record.Enable
	cfg.Record.AutoConnect = fc.Record.AutoConnect

	cfg.Display.Enable = fc.Display.Enable
	cfg.Display.AutoConnect = fc.Display.AutoConnect

	return cfg
}
