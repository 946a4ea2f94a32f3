package service

import (
	"fmt"
	"os"

	"github.com/alecthomas/units"
	"gopkg.in/yaml.v3"
)

// Config configures the expression service.  All fields have usable
// defaults except Package, which names the definition package expressions
// compile against.
type Config struct {
	// Listen is the address the HTTP listener binds.
	Listen string `yaml:"listen"`
	// Package is the storage URI of the definition package: a directory,
	// a .tgz archive, or an S3 object.
	Package string `yaml:"package"`
	// MaxRequestSize bounds request bodies, parsed in human units such
	// as "4MiB".
	MaxRequestSize string `yaml:"max_request_size"`

	Logger LoggerConfig `yaml:"logger"`
	Auth   AuthConfig   `yaml:"auth"`
	CORS   CORSConfig   `yaml:"cors"`

	Terminology TerminologyConfig `yaml:"terminology"`
}

type LoggerConfig struct {
	// Path is the log file; empty logs to stderr.  Files rotate at
	// 100 MB with five rotations kept.
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
	// Secret is the HMAC secret bearer tokens are verified against.
	Secret string `yaml:"secret"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type TerminologyConfig struct {
	// Remote enables fallback to remote terminology services for value
	// sets the package cannot expand.
	Remote bool `yaml:"remote"`
	// RedisAddr enables a shared expansion cache when non-empty.
	RedisAddr string `yaml:"redis_addr"`
	// CacheSize is the in-process expansion cache size; zero disables
	// it.
	CacheSize int `yaml:"cache_size"`
}

// DefaultConfig is the configuration used for unset fields.
var DefaultConfig = Config{
	Listen:         ":9992",
	MaxRequestSize: "4MiB",
	Logger:         LoggerConfig{Level: "info"},
	Terminology:    TerminologyConfig{CacheSize: 128},
}

// LoadConfig reads a YAML config file, filling unset fields from
// DefaultConfig.
func LoadConfig(path string) (Config, error) {
	conf := DefaultConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return conf, err
	}
	if err := yaml.Unmarshal(b, &conf); err != nil {
		return conf, fmt.Errorf("config %s: %w", path, err)
	}
	return conf, nil
}

func (c *Config) maxRequestSize() (int64, error) {
	s := c.MaxRequestSize
	if s == "" {
		s = DefaultConfig.MaxRequestSize
	}
	n, err := units.ParseBase2Bytes(s)
	if err != nil {
		return 0, fmt.Errorf("max_request_size: %w", err)
	}
	return int64(n), nil
}
