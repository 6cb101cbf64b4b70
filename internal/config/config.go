// Package config loads the client configuration from a YAML file with
// PROVIDENCE_-prefixed environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Database  DatabaseConfig `mapstructure:"database"`
	Motion    MotionConfig   `mapstructure:"motion"`
	Retention time.Duration  `mapstructure:"retention"`
	Notify    NotifyConfig   `mapstructure:"notify"`
	HTTP      HTTPConfig     `mapstructure:"http"`
	Exchange  ExchangeConfig `mapstructure:"exchange"`
	MQTT      MQTTConfig     `mapstructure:"mqtt"`
	Log       LogConfig      `mapstructure:"log"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type MotionConfig struct {
	Threshold time.Duration `mapstructure:"threshold"`
}

type NotifyConfig struct {
	Action     string           `mapstructure:"action"`
	Pushbullet PushbulletConfig `mapstructure:"pushbullet"`
}

type PushbulletConfig struct {
	Token   string `mapstructure:"token"`
	BaseURL string `mapstructure:"base_url"`
}

type HTTPConfig struct {
	// Addr is empty to disable the HTTP API.
	Addr string `mapstructure:"addr"`
}

type ExchangeConfig struct {
	// InputDir is empty to disable the drop directory.
	InputDir string `mapstructure:"input_dir"`
	ErrorDir string `mapstructure:"error_dir"`
}

type MQTTConfig struct {
	// Broker is empty to disable the relay.
	Broker   string `mapstructure:"broker"`
	Topic    string `mapstructure:"topic"`
	ClientID string `mapstructure:"client_id"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

var (
	ErrNoDatabase   = errors.New("database.url must be set")
	ErrBadThreshold = errors.New("motion.threshold must be positive")
	ErrBadRetention = errors.New("retention must be positive")
	ErrNoErrorDir   = errors.New("exchange.error_dir must be set when exchange.input_dir is")
	ErrNoTopic      = errors.New("mqtt.topic must be set when mqtt.broker is")
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.url", "file:./providence.sqlite3")
	v.SetDefault("motion.threshold", 4*time.Hour)
	v.SetDefault("retention", 7*24*time.Hour)
	v.SetDefault("notify.action", "/events")
	v.SetDefault("notify.pushbullet.token", "")
	v.SetDefault("notify.pushbullet.base_url", "")
	v.SetDefault("http.addr", ":4280")
	v.SetDefault("exchange.input_dir", "./tmp/input")
	v.SetDefault("exchange.error_dir", "./tmp/error")
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic", "providence/push")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("log.level", "info")
}

// Load reads path (skipped when empty) over the defaults and applies
// environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("providence")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return ErrNoDatabase
	}
	if c.Motion.Threshold <= 0 {
		return ErrBadThreshold
	}
	if c.Retention <= 0 {
		return ErrBadRetention
	}
	if c.Exchange.InputDir != "" && c.Exchange.ErrorDir == "" {
		return ErrNoErrorDir
	}
	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		return ErrNoTopic
	}
	return nil
}

// SlogLevel maps Log.Level onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
