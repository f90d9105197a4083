// Package config loads node definitions for volcano from yaml files via
// viper, the same way a deployment would describe its backend cluster.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// NodeSettings describes one backend node entry.
type NodeSettings struct {
	Identifier string `mapstructure:"identifier"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	Region     string `mapstructure:"region"`
	Secure     bool   `mapstructure:"secure"`
}

type Config struct {
	LogLevel         string         `mapstructure:"log_level"`
	ReconnectTries   uint64         `mapstructure:"reconnect_tries"`
	ReconnectMinWait time.Duration  `mapstructure:"reconnect_min_wait"`
	ReconnectMaxWait time.Duration  `mapstructure:"reconnect_max_wait"`
	Nodes            []NodeSettings `mapstructure:"nodes"`
}

// Load reads volcano.{env}.yaml, where env comes from CONFIG_ENV (default
// "dev"), falling back to defaults when the file is absent.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("volcano.%s.yaml", env))
}

// LoadFile reads a specific config file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	v.AddConfigPath(".")

	v.SetDefault("log_level", "info")
	v.SetDefault("reconnect_tries", 5)
	v.SetDefault("reconnect_min_wait", "1s")
	v.SetDefault("reconnect_max_wait", "30s")

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	for i := range cfg.Nodes {
		if cfg.Nodes[i].Host == "" {
			cfg.Nodes[i].Host = "127.0.0.1"
		}
		if cfg.Nodes[i].Port == 0 {
			cfg.Nodes[i].Port = 2333
		}
	}
	return &cfg, nil
}
