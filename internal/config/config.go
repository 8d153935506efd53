package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	ConsentPrompt = "prompt"
	ConsentAllow  = "allow"
	ConsentDeny   = "deny"
)

type RateLimit struct {
	PerSecond float64 `yaml:"perSecond"`
	Burst     int     `yaml:"burst"`
}

type Config struct {
	ListenAddr string `yaml:"listenAddr"`
	// DataPath holds the session store; empty keeps sessions in memory.
	DataPath string `yaml:"dataPath"`
	// KeyFile holds the human-readable physical key.
	KeyFile string `yaml:"keyFile"`
	// SessionKeyFile holds the 32-byte session store key. It is created
	// on first start when missing.
	SessionKeyFile     string        `yaml:"sessionKeyFile"`
	SessionTTL         time.Duration `yaml:"sessionTTL"`
	MinimumFreeSpaceGB int           `yaml:"minimumFreeSpaceGB"`
	Consent            string        `yaml:"consent"`
	RateLimit          RateLimit     `yaml:"rateLimit"`
	LocalOnly          bool          `yaml:"localOnly"`
	IncludeStack       bool          `yaml:"includeStack"`
	LogLevel           string        `yaml:"logLevel"`
	Workers            int           `yaml:"workers"`
	DeriveCacheEntries int64         `yaml:"deriveCacheEntries"`
}

func Default() Config {
	return Config{
		ListenAddr:         "127.0.0.1:4280",
		SessionTTL:         30 * time.Minute,
		MinimumFreeSpaceGB: 1,
		Consent:            ConsentPrompt,
		RateLimit:          RateLimit{PerSecond: 5, Burst: 20},
		LocalOnly:          true,
		LogLevel:           "info",
		DeriveCacheEntries: 1024,
	}
}

// Load reads path over the defaults. A missing file, or an empty path,
// yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listenAddr must be set")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("sessionTTL must be positive, got %s", c.SessionTTL)
	}
	switch c.Consent {
	case ConsentPrompt, ConsentAllow, ConsentDeny:
	default:
		return fmt.Errorf("consent must be %s, %s or %s, got %q", ConsentPrompt, ConsentAllow, ConsentDeny, c.Consent)
	}
	if c.RateLimit.PerSecond < 0 || c.RateLimit.Burst < 0 {
		return errors.New("rateLimit values must not be negative")
	}
	if c.Workers < 0 {
		return errors.New("workers must not be negative")
	}
	if c.DataPath != "" && c.SessionKeyFile == "" {
		return errors.New("a persistent dataPath needs a sessionKeyFile")
	}
	return nil
}
