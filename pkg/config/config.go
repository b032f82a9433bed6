package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/dcdl/internal/bleio"
	"github.com/srg/dcdl/internal/libdc"
	"github.com/srg/dcdl/internal/serialio"
	"github.com/srg/dcdl/internal/session"
	"github.com/srg/dcdl/scanner"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by OutputFormat.
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// ScanConfig tunes BLE discovery.
type ScanConfig struct {
	Budget          time.Duration `yaml:"budget" json:"budget" default:"5s"`
	Interval        time.Duration `yaml:"interval" json:"interval" default:"100ms"`
	AllowDuplicates bool          `yaml:"allow_duplicates" json:"allow_duplicates" default:"true"`
	AllowList       []string      `yaml:"allow_list,omitempty" json:"allow_list,omitempty"`
	BlockList       []string      `yaml:"block_list,omitempty" json:"block_list,omitempty"`
}

// BLEConfig tunes the BLE bridge.
type BLEConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" default:"30s"`
	PollTimeout    time.Duration `yaml:"poll_timeout" json:"poll_timeout" default:"1200ms"`
	Tick           time.Duration `yaml:"tick" json:"tick" default:"10ms"`
	NotifyBacklog  int           `yaml:"notify_backlog" json:"notify_backlog" default:"64"`
}

// SerialConfig tunes serial lines opened through Go I/O.
type SerialConfig struct {
	BaudRate int           `yaml:"baud_rate" json:"baud_rate" default:"115200"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout" default:"1200ms"`
}

// Config holds application configuration
type Config struct {
	LogLevel       string `yaml:"log_level" json:"log_level" default:"info"`
	NativeLogLevel string `yaml:"native_log_level" json:"native_log_level" default:"warning"`
	OutputFormat   string `yaml:"output_format" json:"output_format" default:"table"` // table, json

	Scan   ScanConfig   `yaml:"scan" json:"scan"`
	BLE    BLEConfig    `yaml:"ble" json:"ble"`
	Serial SerialConfig `yaml:"serial" json:"serial"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default value.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks levels, durations and the output format.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if _, err := libdc.ParseLogLevel(c.NativeLogLevel); err != nil {
		return fmt.Errorf("native_log_level: %w", err)
	}
	switch c.OutputFormat {
	case FormatTable, FormatJSON:
	default:
		return fmt.Errorf("output_format: unknown format %q (want %s or %s)", c.OutputFormat, FormatTable, FormatJSON)
	}

	positive := map[string]time.Duration{
		"scan.budget":         c.Scan.Budget,
		"scan.interval":       c.Scan.Interval,
		"ble.connect_timeout": c.BLE.ConnectTimeout,
		"ble.tick":            c.BLE.Tick,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	if c.Scan.Interval > c.Scan.Budget {
		return fmt.Errorf("scan.interval %v exceeds scan.budget %v", c.Scan.Interval, c.Scan.Budget)
	}
	if c.BLE.NotifyBacklog <= 0 {
		return fmt.Errorf("ble.notify_backlog must be positive, got %d", c.BLE.NotifyBacklog)
	}
	return nil
}

// Level returns the parsed log level, Info when it does not parse.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NativeLevel returns the engine log level, Warning when it does not parse.
func (c *Config) NativeLevel() libdc.LogLevel {
	level, err := libdc.ParseLogLevel(c.NativeLogLevel)
	if err != nil {
		return libdc.LogWarning
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

func (c *Config) ScanOptions() scanner.BLEOptions {
	return scanner.BLEOptions{
		Budget:          c.Scan.Budget,
		Interval:        c.Scan.Interval,
		AllowDuplicates: c.Scan.AllowDuplicates,
		AllowList:       c.Scan.AllowList,
		BlockList:       c.Scan.BlockList,
	}
}

func (c *Config) BridgeOptions() bleio.Options {
	return bleio.Options{
		PollTimeout:    c.BLE.PollTimeout,
		Tick:           c.BLE.Tick,
		ConnectTimeout: c.BLE.ConnectTimeout,
		NotifyBacklog:  c.BLE.NotifyBacklog,
	}
}

func (c *Config) SerialOptions() serialio.Options {
	return serialio.Options{
		BaudRate: c.Serial.BaudRate,
		Timeout:  c.Serial.Timeout,
	}
}

// SessionOptions bundles every per-component option set.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		BLE:    c.BridgeOptions(),
		Serial: c.SerialOptions(),
		Scan:   c.ScanOptions(),
	}
}
