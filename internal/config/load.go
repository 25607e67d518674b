package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and optionally a config.yaml
// in the working directory. Environment variables use the TASKHUB_ prefix and
// take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:taskhub.db")
	v.SetDefault("task.queue_size", 100)

	// The config file is optional
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Configure environment variables
	v.SetEnvPrefix("TASKHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind the environment variables so they are visible to
	// Unmarshal even when absent from the config file
	bindEnvs := []struct {
		key    string
		envVar string
	}{
		{"server.port", "TASKHUB_SERVER_PORT"},
		{"server.log_level", "TASKHUB_SERVER_LOG_LEVEL"},
		{"database.driver", "TASKHUB_DATABASE_DRIVER"},
		{"database.dsn", "TASKHUB_DATABASE_DSN"},
		{"task.queue_size", "TASKHUB_TASK_QUEUE_SIZE"},
	}
	for _, env := range bindEnvs {
		if err := v.BindEnv(env.key, env.envVar); err != nil {
			return nil, fmt.Errorf("error binding environment variable %s: %w", env.envVar, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}
