package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	xdgAppName = "taskmerge"
	configFile = "config.yaml"
)

type Config struct {
	Log     Log     `yaml:"log"`
	State   State   `yaml:"state"`
	Sync    Sync    `yaml:"sync"`
	Metrics Metrics `yaml:"metrics"`
	Sources Sources `yaml:"sources"`
}

type Log struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

type State struct {
	Backend   string `yaml:"backend" validate:"oneof=file sqlite redis badger"`
	Path      string `yaml:"path" validate:"required_unless=Backend redis"`
	RedisAddr string `yaml:"redisAddr" validate:"required_if=Backend redis"`
	RedisKey  string `yaml:"redisKey"`
}

type Sync struct {
	Strategy string `yaml:"strategy" validate:"omitempty,oneof=source-wins last-modified manual-resolve"`
	Workers  int    `yaml:"workers" validate:"gte=0,lte=64"`
}

type Metrics struct {
	// Addr is the listen address of the /metrics endpoint served by `watch`. Empty disables it.
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

type Sources struct {
	Taskwarrior Taskwarrior `yaml:"taskwarrior"`
	Vault       Vault       `yaml:"vault"`
	Orgmode     Orgmode     `yaml:"orgmode"`
	Calendar    Calendar    `yaml:"calendar"`
}

type Taskwarrior struct {
	Enabled bool   `yaml:"enabled"`
	Bin     string `yaml:"bin"`
	Filter  string `yaml:"filter"`
}

type Vault struct {
	Enabled  bool          `yaml:"enabled"`
	Path     string        `yaml:"path" validate:"required_if=Enabled true"`
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
}

type Orgmode struct {
	Files []string `yaml:"files,omitempty" validate:"dive,required"`
	// Tag keeps only headlines carrying it.
	Tag string `yaml:"tag,omitempty"`
}

type Calendar struct {
	Enabled      bool          `yaml:"enabled"`
	Name         string        `yaml:"name" validate:"required_if=Enabled true"`
	PollInterval time.Duration `yaml:"pollInterval" validate:"gte=0"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	dir, err := Dir()
	if err != nil {
		dir = "."
	}
	return &Config{
		Log:   Log{Level: "info", Format: "text"},
		State: State{Backend: "file", Path: filepath.Join(dir, "state.json"), RedisKey: "taskmerge"},
		Sync:  Sync{Strategy: "source-wins", Workers: 4},
		Sources: Sources{
			Taskwarrior: Taskwarrior{Bin: "task", Filter: "status:pending or status:waiting"},
			Vault:       Vault{Debounce: 500 * time.Millisecond},
			Calendar:    Calendar{Name: "Tasks"},
		},
	}
}

// Dir returns ~/.config/taskmerge.
func Dir() (string, error) {
	xdgHome, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(xdgHome, ".config", xdgAppName), nil
}

func GetConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// Load reads the config from its default location.
func Load() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads path over the defaults. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes cfg to its default location.
func Save(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	return SaveFile(path, cfg)
}

func SaveFile(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
