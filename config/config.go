// Package config loads settings for the jfs command.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/stevemurr/jfs/store"
)

type Config struct {
	Store StoreConfig `toml:"store"`
	Log   LogConfig   `toml:"log"`
}

type StoreConfig struct {
	// Path is a directory, a single JSON file, or store.InMemory.
	Path   string `toml:"path"`
	Pretty bool   `toml:"pretty"`
	Indent int    `toml:"indent"`
	Single bool   `toml:"single"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Store: StoreConfig{
			Path:   "./data",
			Indent: 2,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Load reads a TOML config file over Defaults. If path is empty,
// ./jfs.toml is used when present.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = "jfs.toml"
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overlays JFS_* variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("JFS_PATH"); v != "" {
		c.Store.Path = v
	}
	if err := envBool(getenv, "JFS_PRETTY", &c.Store.Pretty); err != nil {
		return err
	}
	if err := envBool(getenv, "JFS_SINGLE", &c.Store.Single); err != nil {
		return err
	}
	if v := getenv("JFS_INDENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("JFS_INDENT: %w", err)
		}
		c.Store.Indent = n
	}
	if v := getenv("JFS_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("JFS_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	return nil
}

func envBool(getenv func(string) string, key string, dst *bool) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

// Validate checks the values a store cannot be opened with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Store.Path) == "" {
		errs = append(errs, errors.New("store.path must not be empty"))
	}
	if c.Store.Indent < 0 {
		errs = append(errs, fmt.Errorf("store.indent must be >= 0, got %d", c.Store.Indent))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// StorePath returns the store path with a leading ~/ expanded.
func (c *Config) StorePath() string {
	if c.Store.Path == store.InMemory {
		return c.Store.Path
	}
	return expandHome(c.Store.Path)
}

// StoreOptions converts the [store] section to a store.Config.
func (c *Config) StoreOptions() store.Config {
	return store.Config{
		Pretty: c.Store.Pretty,
		Indent: c.Store.Indent,
		Single: c.Store.Single,
	}
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
