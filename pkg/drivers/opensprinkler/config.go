package opensprinkler

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultName           = "OpenSprinkler"
	DefaultPassword       = "opendoor"
	DefaultTimeout        = 20  // seconds
	DefaultStationRuntime = 600 // seconds
	DefaultRefresh        = 300 // seconds
	DefaultRetries        = 5

	MaxStationRuntime = 64800 // 18 hours
)

// Config holds the connection settings of one controller.
// Durations are in seconds.
type Config struct {
	Host           string `json:"host"`
	Name           string `json:"name"`
	Password       string `json:"password"`
	Timeout        int    `json:"timeout"`
	DefaultRuntime int    `json:"default_runtime"`
	Refresh        int    `json:"full_refresh"`
	Retries        int    `json:"retries"`
}

var defaultConfig = Config{
	Name:           DefaultName,
	Password:       DefaultPassword,
	Timeout:        DefaultTimeout,
	DefaultRuntime: DefaultStationRuntime,
	Refresh:        DefaultRefresh,
	Retries:        DefaultRetries,
}

// DefaultConfig returns a configuration with every optional field set to its
// default. Host is left empty.
func DefaultConfig() Config {
	return defaultConfig
}

func checkRange(name string, value, min, max int) error {
	if value < min || value > max {
		return fmt.Errorf("%w: %s must be between %d and %d, got %d", ErrInvalidConfig, name, min, max, value)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidConfig)
	}
	if err := checkRange("timeout", c.Timeout, 1, 600); err != nil {
		return err
	}
	if err := checkRange("default_runtime", c.DefaultRuntime, 1, MaxStationRuntime); err != nil {
		return err
	}
	if err := checkRange("full_refresh", c.Refresh, 1, 600); err != nil {
		return err
	}
	return checkRange("retries", c.Retries, 1, 600)
}

// RefreshInterval is the minimum time between two status list fetches.
func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.Refresh) * time.Second
}

func (c Config) timeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func (c Config) defaultRuntime() time.Duration {
	return time.Duration(c.DefaultRuntime) * time.Second
}
