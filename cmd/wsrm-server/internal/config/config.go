// Package config provides configuration management for the wsrm gateway server.
// It loads settings from environment variables with sensible defaults; the
// reliability policy can additionally be read from a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/coregx/wsrm/policy"
)

// Storage drivers. The SQL drivers go through the relica adapter.
const (
	DriverMemory   = "memory"
	DriverBadger   = "badger"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config holds all configuration for the gateway server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Engine    EngineConfig
	Transport TransportConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string
	Port int
	// PublicURL is the address peers reach this gateway at. It is advertised as
	// AcksTo and as the endpoint of accepted offers.
	PublicURL       string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds storage configuration.
type DatabaseConfig struct {
	Driver   string // memory, badger, mysql, postgres, sqlite3
	Host     string
	Port     int
	User     string
	Password string
	Database string // database name, or file path for sqlite3
	Prefix   string // Table prefix (default: "wsrm_")
	Dir      string // badger data directory
}

// EngineConfig holds reliability engine configuration.
type EngineConfig struct {
	PolicyFile          string // optional YAML policy document
	BatchSize           int    // Scheduler batch size
	EnableNotifications bool   // Log lifecycle notifications
	LogLevel            string // debug, info, warn, error
}

// TransportConfig holds outbound HTTP transport configuration.
type TransportConfig struct {
	Timeout          time.Duration
	RatePerSecond    float64
	Burst            int
	BreakerFailures  int
	BreakerReset     time.Duration
	AuthorizationKey string // sent as Authorization header when set
}

// Load loads configuration from environment variables.
// Follows 12-factor app principles - configuration via environment.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			PublicURL:       getEnv("SERVER_PUBLIC_URL", ""),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", DriverMemory),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 3306),
			User:     getEnv("DB_USER", "wsrm"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "wsrm"),
			Prefix:   getEnv("DB_PREFIX", "wsrm_"),
			Dir:      getEnv("DB_DIR", "./data/wsrm"),
		},
		Engine: EngineConfig{
			PolicyFile:          getEnv("WSRM_POLICY_FILE", ""),
			BatchSize:           getEnvInt("WSRM_BATCH_SIZE", 100),
			EnableNotifications: getEnvBool("WSRM_ENABLE_NOTIFICATIONS", true),
			LogLevel:            getEnv("WSRM_LOG_LEVEL", "info"),
		},
		Transport: TransportConfig{
			Timeout:          getEnvDuration("TRANSPORT_TIMEOUT", 30*time.Second),
			RatePerSecond:    getEnvFloat("TRANSPORT_RATE", 50),
			Burst:            getEnvInt("TRANSPORT_BURST", 10),
			BreakerFailures:  getEnvInt("TRANSPORT_BREAKER_FAILURES", 5),
			BreakerReset:     getEnvDuration("TRANSPORT_BREAKER_RESET", 30*time.Second),
			AuthorizationKey: getEnv("TRANSPORT_AUTHORIZATION", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server),
		validation.Field(&c.Database),
		validation.Field(&c.Engine),
		validation.Field(&c.Transport),
	)
}

// Validate checks the server settings.
func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&s.ShutdownTimeout, validation.Min(time.Second)),
	)
}

// Validate checks the storage settings. Network databases need a password.
func (d DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Driver, validation.Required,
			validation.In(DriverMemory, DriverBadger, DriverMySQL, DriverPostgres, DriverSQLite)),
		validation.Field(&d.Password,
			validation.When(d.IsNetworked(), validation.Required.Error("DB_PASSWORD is required for "+d.Driver))),
		validation.Field(&d.Database, validation.When(d.IsSQL(), validation.Required)),
		validation.Field(&d.Dir, validation.When(d.Driver == DriverBadger, validation.Required)),
	)
}

// Validate checks the engine settings.
func (e EngineConfig) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.BatchSize, validation.Required, validation.Min(1)),
		validation.Field(&e.LogLevel, validation.In("debug", "info", "warn", "error")),
	)
}

// Validate checks the transport settings.
func (t TransportConfig) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Timeout, validation.Required),
		validation.Field(&t.RatePerSecond, validation.Min(0.0)),
		validation.Field(&t.Burst, validation.Min(1)),
		validation.Field(&t.BreakerFailures, validation.Min(1)),
	)
}

// IsSQL reports whether the driver goes through database/sql.
func (d *DatabaseConfig) IsSQL() bool {
	switch d.Driver {
	case DriverMySQL, DriverPostgres, DriverSQLite:
		return true
	}
	return false
}

// IsNetworked reports whether the driver talks to a database server.
func (d *DatabaseConfig) IsNetworked() bool {
	return d.Driver == DriverMySQL || d.Driver == DriverPostgres
}

// GetDSN returns the database connection string based on driver.
func (d *DatabaseConfig) GetDSN() string {
	switch strings.ToLower(d.Driver) {
	case DriverMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Database)
	case DriverPostgres:
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			d.Host, d.Port, d.User, d.Password, d.Database)
	case DriverSQLite:
		return d.Database // SQLite uses file path as DSN
	default:
		return ""
	}
}

// Policy resolves the reliability policy: the policy file when one is configured,
// the defaults otherwise. Any persistent driver selects permanent storage.
func (c *Config) Policy() (*policy.Policy, error) {
	p := policy.Default()
	if c.Engine.PolicyFile != "" {
		loaded, err := policy.LoadFile(c.Engine.PolicyFile)
		if err != nil {
			return nil, err
		}
		p = loaded
	}
	if c.Database.Driver != DriverMemory {
		p.StorageManager = policy.Permanent
	}
	return p, nil
}

// Headers returns the extra headers sent with every outbound message.
func (t *TransportConfig) Headers() map[string]string {
	if t.AuthorizationKey == "" {
		return nil
	}
	return map[string]string{"Authorization": t.AuthorizationKey}
}

// getEnv retrieves environment variable or returns default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves environment variable as integer or returns default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool retrieves environment variable as boolean or returns default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("30s") or plain seconds ("30").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
