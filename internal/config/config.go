// Package config loads editor and relay settings: built-in defaults, then
// an optional YAML file, then QCOMPOSE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "QCOMPOSE_"

// Config is the full application configuration.
type Config struct {
	Qubits        int           `yaml:"qubits" env:"QUBITS" validate:"min=1,max=64"`
	HistoryLimit  int           `yaml:"history_limit" env:"HISTORY_LIMIT" validate:"min=0"`
	DBPath        string        `yaml:"db_path" env:"DB_PATH" validate:"required"`
	LogFile       string        `yaml:"log_file" env:"LOG_FILE"`
	LogLevel      string        `yaml:"log_level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	AutosaveDelay time.Duration `yaml:"autosave_delay" env:"AUTOSAVE_DELAY" validate:"min=0"`

	Collab Collab `yaml:"collab" envPrefix:"COLLAB_"`
	Relay  Relay  `yaml:"relay" envPrefix:"RELAY_"`
}

// Collab configures the connection to a relay. An empty URL means the
// editor runs standalone.
type Collab struct {
	URL         string        `yaml:"url" env:"URL" validate:"omitempty,url"`
	Room        string        `yaml:"room" env:"ROOM"`
	Debounce    time.Duration `yaml:"debounce" env:"DEBOUNCE" validate:"gt=0"`
	SuppressFor time.Duration `yaml:"suppress_for" env:"SUPPRESS_FOR" validate:"gt=0"`
}

// Relay configures the relay server.
type Relay struct {
	Addr string `yaml:"addr" env:"ADDR" validate:"required"`
}

// Default returns the built-in configuration.
func Default() Config {
	dir := dataDir()
	return Config{
		Qubits:        4,
		HistoryLimit:  50,
		DBPath:        filepath.Join(dir, "qcompose.sqlite"),
		LogFile:       filepath.Join(dir, "qcompose.log"),
		LogLevel:      "info",
		AutosaveDelay: 2 * time.Second,
		Collab: Collab{
			Debounce:    150 * time.Millisecond,
			SuppressFor: 100 * time.Millisecond,
		},
		Relay: Relay{Addr: ":8080"},
	}
}

func dataDir() string {
	if d, err := os.UserConfigDir(); err == nil && d != "" {
		return filepath.Join(d, "qcompose")
	}
	return ".qcompose"
}

// Load builds the configuration. path may be empty; a named file must
// exist.
func Load(path string) (Config, error) {
	return load(path, nil)
}

func load(path string, environ map[string]string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate reports every invalid field.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, fmt.Errorf("config %s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return errors.Join(errs...)
}

// SlogLevel maps LogLevel onto slog.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
