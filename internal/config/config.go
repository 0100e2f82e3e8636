package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	DB       DBConfig       `yaml:"db"`
	Log      LogConfig      `yaml:"log"`
	Auth     AuthConfig     `yaml:"auth"`
	Realtime RealtimeConfig `yaml:"realtime"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DBConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type AuthConfig struct {
	// JWTSecret is the HMAC secret shared with the upstream application
	// that mints user tokens.
	JWTSecret string `yaml:"jwt_secret"`
	// ServiceKeys toggles bearer-key auth on the server-to-server API.
	ServiceKeys bool `yaml:"service_keys"`
}

type RealtimeConfig struct {
	LockTTLSeconds       int `yaml:"lock_ttl_seconds"`
	TypingTimeoutSeconds int `yaml:"typing_timeout_seconds"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

// LockTTL returns the configured lock lifetime; zero means use the manager
// default.
func (c RealtimeConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// TypingTimeout returns the configured typing expiry; zero means use the
// tracker default.
func (c RealtimeConfig) TypingTimeout() time.Duration {
	return time.Duration(c.TypingTimeoutSeconds) * time.Second
}

// SweepInterval returns how often the expiry sweep runs.
func (c RealtimeConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// Load reads configuration from an optional YAML file and environment variables.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		DB: DBConfig{
			Path: "collabd.db",
		},
		Log: LogConfig{
			Level: "info",
		},
		Auth: AuthConfig{
			ServiceKeys: true,
		},
		Realtime: RealtimeConfig{
			LockTTLSeconds:       300,
			TypingTimeoutSeconds: 5,
			SweepIntervalSeconds: 60,
		},
	}

	if path := os.Getenv("COLLABD_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if host := os.Getenv("COLLABD_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portStr := os.Getenv("COLLABD_SERVER_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid COLLABD_SERVER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if dbPath := os.Getenv("COLLABD_DB_PATH"); dbPath != "" {
		cfg.DB.Path = dbPath
	}
	if level := os.Getenv("COLLABD_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if secret := os.Getenv("COLLABD_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}

	if cfg.Auth.JWTSecret == "" {
		return Config{}, fmt.Errorf("missing auth.jwt_secret (or COLLABD_JWT_SECRET)")
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
