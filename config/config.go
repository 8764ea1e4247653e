package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

//go:embed drawbridge.toml
var defaultConfigData []byte

// Global state variables for the selected bridge profile
var (
	BridgeName        string
	Port              string // empty means autodetect
	CTSFlowControl    bool
	ResetOnFailure    bool
	CalibrationOffset int
	ReadRetries       int
	LogLevel          log.Level
	Formats           []Format
)

// Config represents the entire TOML configuration structure
type Config struct {
	Default string   `toml:"default"`
	Bridge  []Bridge `toml:"bridge"`
	Format  []Format `toml:"format"`
}

// Bridge represents a bridge connection profile
type Bridge struct {
	Name              string `toml:"name"`
	Port              string `toml:"port"`
	CTSFlowControl    bool   `toml:"cts_flow_control"`
	ResetOnFailure    bool   `toml:"reset_on_failure"`
	CalibrationOffset int    `toml:"calibration_offset"`
	ReadRetries       int    `toml:"read_retries"`
	LogLevel          string `toml:"log_level"`
}

// Format represents a disk layout the format command can write
type Format struct {
	Name        string `toml:"name"`
	Tracks      int    `toml:"tracks"`
	Heads       int    `toml:"heads"`
	Sectors     int    `toml:"sectors"`
	HighDensity bool   `toml:"high_density"`
	Fill        int    `toml:"fill"`
}

// Limits of what the bridge can handle
const (
	maxTracks  = 84
	maxSectors = 36
)

// configPath determines the config file path based on the operating system
func configPath() (string, error) {
	var configDir string
	var err error

	switch runtime.GOOS {
	case "windows":
		// Use AppData directory for Windows
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "drawbridge")
	default:
		// Linux/macOS: use home directory
		configDir, err = os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user home directory: %w", err)
		}
	}

	return filepath.Join(configDir, ".drawbridge"), nil
}

// Initialize loads and validates the configuration file.
// If the config file doesn't exist, it creates it from the embedded default.
func Initialize() error {
	path, err := configPath()
	if err != nil {
		return err
	}
	return Load(path)
}

// Load reads the configuration from the given path, creating it from the
// embedded default when missing, and stores the default profile in the
// package globals.
func Load(path string) error {
	// 1. Create the file from the embedded default if needed
	if _, err := os.Stat(path); os.IsNotExist(err) {
		configDir := filepath.Dir(path)
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
		}
		if err := os.WriteFile(path, defaultConfigData, 0644); err != nil {
			return fmt.Errorf("failed to create default config file at %s: %w", path, err)
		}
	}

	// 2. Parse TOML file
	var conf Config
	if _, err := toml.DecodeFile(path, &conf); err != nil {
		return fmt.Errorf("failed to parse TOML config at %s: %w", path, err)
	}
	return apply(&conf)
}

func apply(conf *Config) error {
	// 3. Find and validate `default` key
	if conf.Default == "" {
		return errors.New("`default` key is missing or empty in config")
	}

	// 4. Search bridge array for matching name
	var found *Bridge
	for i := range conf.Bridge {
		if conf.Bridge[i].Name == conf.Default {
			found = &conf.Bridge[i]
			break
		}
	}
	if found == nil {
		return fmt.Errorf("default bridge %q not found in bridge array", conf.Default)
	}

	// 5. Validate bridge fields
	if found.CalibrationOffset <= 0 || found.CalibrationOffset >= maxTracks {
		return fmt.Errorf("bridge %q has invalid calibration_offset: %d (must be 1 to %d)", conf.Default, found.CalibrationOffset, maxTracks-1)
	}
	if found.ReadRetries <= 0 {
		return fmt.Errorf("bridge %q has invalid read_retries: %d (must be positive)", conf.Default, found.ReadRetries)
	}
	level := log.WarnLevel
	if found.LogLevel != "" {
		var err error
		level, err = log.ParseLevel(found.LogLevel)
		if err != nil {
			return fmt.Errorf("bridge %q has invalid log_level: %w", conf.Default, err)
		}
	}

	// 6. Validate format profiles
	names := make(map[string]bool)
	for _, f := range conf.Format {
		if f.Name == "" {
			return errors.New("format with empty name in config")
		}
		if names[f.Name] {
			return fmt.Errorf("format %q is defined twice", f.Name)
		}
		names[f.Name] = true

		if f.Tracks <= 0 || f.Tracks > maxTracks {
			return fmt.Errorf("format %q has invalid tracks: %d (must be 1 to %d)", f.Name, f.Tracks, maxTracks)
		}
		if f.Heads != 1 && f.Heads != 2 {
			return fmt.Errorf("format %q has invalid heads: %d (must be 1 or 2)", f.Name, f.Heads)
		}
		if f.Sectors <= 0 || f.Sectors > maxSectors {
			return fmt.Errorf("format %q has invalid sectors: %d (must be 1 to %d)", f.Name, f.Sectors, maxSectors)
		}
		if f.Fill < 0 || f.Fill > 0xFF {
			return fmt.Errorf("format %q has invalid fill: %d (must be a byte)", f.Name, f.Fill)
		}
	}

	// 7. Store profile in global variables
	BridgeName = conf.Default
	Port = found.Port
	CTSFlowControl = found.CTSFlowControl
	ResetOnFailure = found.ResetOnFailure
	CalibrationOffset = found.CalibrationOffset
	ReadRetries = found.ReadRetries
	LogLevel = level
	Formats = make([]Format, len(conf.Format))
	copy(Formats, conf.Format)
	return nil
}

// GetFormat returns the format profile with the given name
func GetFormat(name string) (Format, error) {
	for _, f := range Formats {
		if f.Name == name {
			return f, nil
		}
	}
	return Format{}, fmt.Errorf("format %q not found in configuration", name)
}

// Capacity returns the formatted size in bytes
func (f Format) Capacity() int {
	return f.Tracks * f.Heads * f.Sectors * 512
}
