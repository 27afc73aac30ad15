// Package config loads the settings of the carddav command from the
// environment and an optional configuration file.
package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Server            string        `yaml:"server"             env:"CARDDAV_SERVER"              env-default:"https://contacts.icloud.com" env-description:"CardDAV endpoint"`
	Email             string        `yaml:"email"              env:"ICLOUD_EMAIL"                env-description:"account email address"`
	Password          string        `yaml:"password"           env:"ICLOUD_APP_SPECIFIC_PASSWORD" env-description:"app-specific password"`
	Timeout           time.Duration `yaml:"timeout"            env:"CARDDAV_TIMEOUT"             env-default:"30s"  env-description:"timeout of each HTTP exchange"`
	SearchConcurrency int           `yaml:"search_concurrency" env:"CARDDAV_SEARCH_CONCURRENCY"  env-default:"4"    env-description:"parallel fetches of a client-side search"`
	LogLevel          string        `yaml:"log_level"          env:"LOG_LEVEL"                   env-default:"info" env-description:"debug, info, warn or error"`
}

// Load reads the configuration from path, if not empty, then from the
// environment. Environment variables take precedence over the file.
func Load(path string) (*Config, error) {
	var cfg Config
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.SearchConcurrency < 1 {
		return nil, fmt.Errorf("config: search concurrency must be positive, got %v", cfg.SearchConcurrency)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("config: negative timeout %v", cfg.Timeout)
	}
	return &cfg, nil
}

// Usage describes the environment variables read by Load.
func Usage() string {
	header := "Environment variables:"
	s, err := cleanenv.GetDescription(&Config{}, &header)
	if err != nil {
		return ""
	}
	return s
}
