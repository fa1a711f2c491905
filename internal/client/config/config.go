package config

import (
	"time"

	"github.com/dmitrijs2005/hidemail/internal/filex"
)

// Config holds runtime settings for the HideMail CLI.
//
// Fields:
//   - StateDir: directory holding per-account session files (or the SQLite db).
//   - Region: service region variant, "default" or "china".
//   - Storage: session store backend, "file" or "sqlite".
//   - RequestTimeout: per-request network timeout.
type Config struct {
	StateDir       string
	Region         string
	Storage        string
	RequestTimeout time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	if dir, err := filex.DefaultStateDir("hidemail"); err == nil {
		c.StateDir = dir
	} else {
		c.StateDir = ".hidemail"
	}
	c.Region = "default"
	c.Storage = "file"
	c.RequestTimeout = 30 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
