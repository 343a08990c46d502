package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the server's YAML-file configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`
	ReportsDir string `yaml:"reports_dir"`
	// EnrollTimeoutSeconds bounds how long a half-finished add-user exchange
	// (username sent, password never following) stays open.
	EnrollTimeoutSeconds int  `yaml:"enroll_timeout_seconds"`
	Debug                bool `yaml:"debug"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:           ":31337",
		DataDir:              "data",
		ReportsDir:           "reports",
		EnrollTimeoutSeconds: 60,
	}
}

// LoadConfig reads a YAML config file, filling defaults for absent fields.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server: read config %s: %w", path, err)
	}
	c := DefaultConfig()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("server: parse config %s: %w", path, err)
	}
	if c.EnrollTimeoutSeconds <= 0 {
		c.EnrollTimeoutSeconds = DefaultConfig().EnrollTimeoutSeconds
	}
	return c, nil
}

// EnrollTimeout returns the enrollment timeout as a duration.
func (c *Config) EnrollTimeout() time.Duration {
	return time.Duration(c.EnrollTimeoutSeconds) * time.Second
}
