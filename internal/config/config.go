// Package config provides configuration types and loading for ostiary.
package config

// Config is the top-level configuration for the ostiary server.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Database configures the persistence layer.
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the HTTP server listener.
type ServerConfig struct {
	// HTTPAddr is the listen address. Defaults to localhost only; users
	// who need network access must set ":8080" or "0.0.0.0:8080"
	// explicitly.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"required,hostname_port"`
	// ReadTimeout bounds reading a request (e.g. "10s").
	ReadTimeout string `yaml:"read_timeout" mapstructure:"read_timeout" validate:"omitempty,duration"`
	// WriteTimeout bounds writing a response (e.g. "30s").
	WriteTimeout string `yaml:"write_timeout" mapstructure:"write_timeout" validate:"omitempty,duration"`
	// ShutdownTimeout bounds graceful shutdown (e.g. "10s").
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"omitempty,duration"`
}

// DatabaseConfig selects and configures the persistence layer.
type DatabaseConfig struct {
	// Driver is "sqlite" for durable storage or "memory" for
	// development and testing.
	Driver string `yaml:"driver" mapstructure:"driver" validate:"required,oneof=sqlite memory"`
	// Path is the SQLite database file. Required for the sqlite driver.
	Path string `yaml:"path" mapstructure:"path"`
}

// LogConfig configures structured logging output.
type LogConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level" mapstructure:"level" validate:"required,oneof=debug info warn error"`
	// Format is "text" or "json".
	Format string `yaml:"format" mapstructure:"format" validate:"required,oneof=text json"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8484"
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "10s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "30s"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "ostiary.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}
