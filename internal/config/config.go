// Package config loads the plugin configuration from YAML, an optional .env
// file and ENGAGE_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Transports a channel can run over.
const (
	TransportStdio     = "stdio"
	TransportUnix      = "unix"
	TransportWebSocket = "websocket"
)

// Config is the top-level plugin configuration.
type Config struct {
	Channel         ChannelConfig     `yaml:"channel"`
	Application     ApplicationConfig `yaml:"application"`
	Log             LogConfig         `yaml:"log"`
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout"`
}

// ChannelConfig selects how the plugin talks to its host.
type ChannelConfig struct {
	Name       string `yaml:"name"`
	Transport  string `yaml:"transport"`   // stdio, unix or websocket.
	SocketPath string `yaml:"socket_path"` // Used by the unix transport.
	Addr       string `yaml:"addr"`        // Listen address of the websocket transport.
	Path       string `yaml:"path"`        // Upgrade path of the websocket transport.
	Codec      string `yaml:"codec"`       // proto or json.
}

// ApplicationConfig describes the host application the SDK runs inside.
type ApplicationConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	DataDir string `yaml:"data_dir"`
}

// LogConfig controls plugin diagnostics.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn or error.
	Format string `yaml:"format"` // text or json.
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Channel: ChannelConfig{
			Name:      "engage",
			Transport: TransportStdio,
			Addr:      "127.0.0.1:7070",
			Path:      "/channel",
			Codec:     "proto",
		},
		Application: ApplicationConfig{
			ID:   "engage.local",
			Name: "engage",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		ShutdownTimeout: 5 * time.Second,
	}
}

// Load reads path over the defaults. An empty path skips the file. ${VAR}
// references in the file are expanded before parsing.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: load %s: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads environment variables from path. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"ENGAGE_CHANNEL_NAME": &cfg.Channel.Name,
		"ENGAGE_TRANSPORT":    &cfg.Channel.Transport,
		"ENGAGE_SOCKET_PATH":  &cfg.Channel.SocketPath,
		"ENGAGE_WS_ADDR":      &cfg.Channel.Addr,
		"ENGAGE_WS_PATH":      &cfg.Channel.Path,
		"ENGAGE_CODEC":        &cfg.Channel.Codec,
		"ENGAGE_APP_ID":       &cfg.Application.ID,
		"ENGAGE_APP_NAME":     &cfg.Application.Name,
		"ENGAGE_APP_VERSION":  &cfg.Application.Version,
		"ENGAGE_APP_DATA_DIR": &cfg.Application.DataDir,
		"ENGAGE_LOG_LEVEL":    &cfg.Log.Level,
		"ENGAGE_LOG_FORMAT":   &cfg.Log.Format,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	if v, ok := lookup("ENGAGE_SHUTDOWN_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: ENGAGE_SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.ShutdownTimeout = d
	}
	return nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	switch c.Channel.Transport {
	case TransportStdio:
	case TransportUnix:
		if c.Channel.SocketPath == "" {
			return fmt.Errorf("config: channel: socket_path is required for the unix transport")
		}
	case TransportWebSocket:
		if c.Channel.Addr == "" {
			return fmt.Errorf("config: channel: addr is required for the websocket transport")
		}
	default:
		return fmt.Errorf("config: channel: unknown transport %q", c.Channel.Transport)
	}

	switch c.Channel.Codec {
	case "", "proto", "protobuf", "json":
	default:
		return fmt.Errorf("config: channel: unknown codec %q", c.Channel.Codec)
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: log: unknown format %q", c.Log.Format)
	}

	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("config: shutdown_timeout must not be negative")
	}
	return nil
}
