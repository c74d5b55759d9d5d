// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Serial  SerialConfig  `mapstructure:"serial"`
	Query   QueryConfig   `mapstructure:"query"`
	History HistoryConfig `mapstructure:"history"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	App     AppConfig     `mapstructure:"app"`
}

// SerialConfig represents serial transport configuration
type SerialConfig struct {
	BaudRate          int           `mapstructure:"baud_rate"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	ReadPollInterval  time.Duration `mapstructure:"read_poll_interval"`
	SoftResetOnOpen   bool          `mapstructure:"soft_reset_on_open"`
	IncludeGenericTty bool          `mapstructure:"include_generic_tty"`
}

// QueryConfig represents device query configuration
type QueryConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// HistoryConfig represents the local query history store
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

// ServerConfig represents the HTTP server used by the serve command
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// Load loads configuration from file and environment variables. A
// missing config file is fine; defaults cover every field.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/mpy-devices")

	// Environment variable support
	viper.SetEnvPrefix("MPY_DEVICES")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Serial defaults; 115200 is the fixed MicroPython console rate.
	viper.SetDefault("serial.baud_rate", 115200)
	viper.SetDefault("serial.handshake_timeout", 5*time.Second)
	viper.SetDefault("serial.read_poll_interval", 10*time.Millisecond)
	viper.SetDefault("serial.soft_reset_on_open", false)
	viper.SetDefault("serial.include_generic_tty", false)

	// Query defaults
	viper.SetDefault("query.timeout", 10*time.Second)

	// History defaults
	viper.SetDefault("history.enabled", true)
	viper.SetDefault("history.db_path", "mpy-devices.db")

	// Server defaults
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", "8184")
	viper.SetDefault("server.read_timeout", 15*time.Second)
	viper.SetDefault("server.write_timeout", 15*time.Second)
	viper.SetDefault("server.idle_timeout", 60*time.Second)
	viper.SetDefault("server.allowed_origins", []string{})

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")
	viper.SetDefault("logging.output", "stderr")
	viper.SetDefault("logging.max_size", 10)
	viper.SetDefault("logging.max_backups", 3)
	viper.SetDefault("logging.max_age", 28)
	viper.SetDefault("logging.compress", true)

	// App defaults
	viper.SetDefault("app.name", "mpy-devices")
	viper.SetDefault("app.version", "0.1.0")
	viper.SetDefault("app.environment", "development")
}

// validate validates configuration values
func validate(config *Config) error {
	if config.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baud_rate must be positive, got %d", config.Serial.BaudRate)
	}
	if config.Query.Timeout <= 0 {
		return fmt.Errorf("query.timeout must be positive, got %s", config.Query.Timeout)
	}
	if config.Serial.HandshakeTimeout <= 0 {
		return fmt.Errorf("serial.handshake_timeout must be positive, got %s", config.Serial.HandshakeTimeout)
	}
	switch config.Logging.Level {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %s", config.Logging.Level)
	}
	return nil
}

// IsProduction returns whether the app runs in production mode
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// Address returns the server listen address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}
