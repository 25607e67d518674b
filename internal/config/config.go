package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Task     TaskConfig     `mapstructure:"task" validate:"required"`
}

// ServerConfig contains all HTTP server related settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
//
// The default driver is the embedded sqlite database, which needs no
// external service; postgres is available for multi-process deployments.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite postgres"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

// TaskConfig contains settings for the background task subsystem.
type TaskConfig struct {
	QueueSize int `mapstructure:"queue_size" validate:"required,gt=0"`
}
