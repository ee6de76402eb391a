// Package config loads the TOML configuration shared by the example
// programs.
package config

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/Zereker/msgnet"
)

// Config is the resolved configuration of a ping server or client.
type Config struct {
	// Listen is the server's TCP listen address.
	Listen string
	// Host and Port locate the server, for clients.
	Host string
	Port uint16

	MaxMessageSize   int
	HandshakeTimeout time.Duration
	MaxConnections   int

	// AdminAddr is the HTTP admin listen address. Empty disables it.
	AdminAddr        string
	MetricsNamespace string
	LogLevel         string
}

type fileConfig struct {
	Listen           string `toml:"listen"`
	Host             string `toml:"host"`
	Port             int    `toml:"port"`
	MaxMessageSize   int    `toml:"max_message_size"`
	HandshakeTimeout string `toml:"handshake_timeout"`
	MaxConnections   int    `toml:"max_connections"`
	AdminAddr        string `toml:"admin_addr"`
	MetricsNamespace string `toml:"metrics_namespace"`
	LogLevel         string `toml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen:           ":60000",
		Host:             "127.0.0.1",
		Port:             60000,
		MaxMessageSize:   1 << 20,
		MetricsNamespace: "msgnet",
		LogLevel:         "info",
	}
}

// Load reads path over Default. Only keys present in the file override
// defaults. An empty path returns Default unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, errors.Wrap(err, "load config")
	}

	if err := cfg.apply(meta, raw); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) apply(meta toml.MetaData, raw fileConfig) error {
	if meta.IsDefined("listen") {
		c.Listen = strings.TrimSpace(raw.Listen)
	}

	if meta.IsDefined("host") {
		c.Host = strings.TrimSpace(raw.Host)
	}

	if meta.IsDefined("port") {
		if raw.Port <= 0 || raw.Port > 65535 {
			return errors.Errorf("port %d out of range", raw.Port)
		}
		c.Port = uint16(raw.Port)
	}

	if meta.IsDefined("max_message_size") {
		c.MaxMessageSize = raw.MaxMessageSize
	}

	if meta.IsDefined("handshake_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HandshakeTimeout))
		if err != nil {
			return errors.Wrap(err, "parse handshake_timeout")
		}
		c.HandshakeTimeout = d
	}

	if meta.IsDefined("max_connections") {
		c.MaxConnections = raw.MaxConnections
	}

	if meta.IsDefined("admin_addr") {
		c.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}

	if meta.IsDefined("metrics_namespace") {
		c.MetricsNamespace = strings.TrimSpace(raw.MetricsNamespace)
	}

	if meta.IsDefined("log_level") {
		c.LogLevel = strings.ToLower(strings.TrimSpace(raw.LogLevel))
	}

	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen must not be empty")
	}
	if c.Host == "" {
		return errors.New("host must not be empty")
	}
	if c.MaxMessageSize <= 0 {
		return errors.Errorf("max_message_size must be positive, got %d", c.MaxMessageSize)
	}
	if c.HandshakeTimeout < 0 {
		return errors.Errorf("handshake_timeout must not be negative, got %s", c.HandshakeTimeout)
	}
	if c.MaxConnections < 0 {
		return errors.Errorf("max_connections must not be negative, got %d", c.MaxConnections)
	}
	if c.MetricsNamespace == "" {
		return errors.New("metrics_namespace must not be empty")
	}
	return nil
}

// Options converts the transport settings to msgnet options. Logger and
// metrics are left to the caller.
func (c Config) Options() []msgnet.Option {
	return []msgnet.Option{
		msgnet.MessageMaxSize(c.MaxMessageSize),
		msgnet.HandshakeTimeoutOption(c.HandshakeTimeout),
		msgnet.MaxConnectionsOption(c.MaxConnections),
	}
}
