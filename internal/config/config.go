// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	CameraSynthetic = "synthetic"
	CameraBrowser   = "browser"
	CameraDenied    = "denied"
)

// Config holds all nutriscan configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Scanner ScannerConfig `yaml:"scanner"`
	Storage StorageConfig `yaml:"storage"`
	Lookup  LookupConfig  `yaml:"lookup"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ScannerConfig configures the camera and the simulated decode.
type ScannerConfig struct {
	Camera      string `yaml:"camera"` // synthetic, browser, denied
	ScanDelay   string `yaml:"scan_delay"`
	FacingMode  string `yaml:"facing_mode"`
	IdealWidth  int    `yaml:"ideal_width"`
	IdealHeight int    `yaml:"ideal_height"`

	// Browser camera only
	BrowserBin string `yaml:"browser_bin"`
	Headless   bool   `yaml:"headless"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"` // memory, sqlite
}

type LookupConfig struct {
	CatalogPath string `yaml:"catalog_path"`
	Demo        bool   `yaml:"demo"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8012,
		},
		Scanner: ScannerConfig{
			Camera:      CameraSynthetic,
			ScanDelay:   "2s",
			FacingMode:  "environment",
			IdealWidth:  1280,
			IdealHeight: 720,
			Headless:    true,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Lookup: LookupConfig{
			Demo: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file over the defaults and applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("NUTRISCAN_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("NUTRISCAN_PORT", c.Server.Port)
	c.Scanner.Camera = getEnv("NUTRISCAN_CAMERA", c.Scanner.Camera)
	c.Scanner.ScanDelay = getEnv("NUTRISCAN_SCAN_DELAY", c.Scanner.ScanDelay)
	c.Scanner.BrowserBin = getEnv("NUTRISCAN_BROWSER_BIN", c.Scanner.BrowserBin)
	c.Storage.Backend = getEnv("NUTRISCAN_STORAGE", c.Storage.Backend)
	c.Lookup.CatalogPath = getEnv("NUTRISCAN_CATALOG", c.Lookup.CatalogPath)
	c.Logging.Level = getEnv("NUTRISCAN_LOG_LEVEL", c.Logging.Level)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Scanner.Camera {
	case CameraSynthetic, CameraBrowser, CameraDenied:
	default:
		errs = append(errs, fmt.Errorf("scanner.camera %q is not one of synthetic, browser, denied", c.Scanner.Camera))
	}
	if _, err := c.ScanDelay(); err != nil {
		errs = append(errs, err)
	}
	if c.Scanner.IdealWidth <= 0 || c.Scanner.IdealHeight <= 0 {
		errs = append(errs, errors.New("scanner ideal resolution must be positive"))
	}
	switch c.Storage.Backend {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of memory, sqlite", c.Storage.Backend))
	}
	return errors.Join(errs...)
}

// ScanDelay parses scanner.scan_delay.
func (c *Config) ScanDelay() (time.Duration, error) {
	d, err := time.ParseDuration(c.Scanner.ScanDelay)
	if err != nil {
		return 0, fmt.Errorf("scanner.scan_delay: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("scanner.scan_delay %s is negative", d)
	}
	return d, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
