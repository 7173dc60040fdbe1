// Package config provides configuration management for the tenant
// schema evolution engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the engine's full configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	ControlDB MySQLConfig     `yaml:"control_db"`
	Baseline  MySQLConfig     `yaml:"baseline_db"`
	Tenant    TenantConfig    `yaml:"tenant"`
	Store     StoreConfig     `yaml:"store_directory"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`

	// TenantDirectoryFile points at the static, operator-maintained YAML
	// file listing TenantDescriptors (spec §1: per-tenant connection
	// configuration storage is an external collaborator; the engine only
	// reads this file, it never writes to it).
	TenantDirectoryFile string `yaml:"tenant_directory_file"`
}

// ServerConfig represents the control-plane HTTP server configuration.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"read_timeout"`
	WriteTimeout int    `yaml:"write_timeout"`
}

// MySQLConfig represents one MySQL connection configuration, shared by
// the control database and the baseline (drift reference) database.
type MySQLConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Database        string `yaml:"database"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	TLS             string `yaml:"tls"` // true, false, skip-verify, preferred
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // seconds
	ConnMaxIdleTime int    `yaml:"conn_max_idle_time"`  // seconds
}

// TenantConfig represents the per-tenant Connection Registry's pool
// sizing (spec §4.1).
type TenantConfig struct {
	MaxOpenConns      int `yaml:"max_open_conns"`
	AcquireTimeoutSec int `yaml:"acquire_timeout_seconds"`
	ConnMaxIdleSec    int `yaml:"conn_max_idle_seconds"`
	TLS               string `yaml:"tls"`
}

// StoreConfig names the per-tenant store-directory table used to
// enumerate active store shards (spec §9 open question, resolved by
// treating the lookup as configuration).
type StoreConfig struct {
	TableName       string `yaml:"table_name"`
	IDColumn        string `yaml:"id_column"`
	ActivePredicate string `yaml:"active_predicate"`
}

// RetentionConfig is the Scheduler's (C9) time-shard retention policy.
type RetentionConfig struct {
	DayShards   int `yaml:"day_shards"`
	MonthShards int `yaml:"month_shards"`
	YearShards  int `yaml:"year_shards"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string       `yaml:"level"`  // debug, info, warn, error
	Format string       `yaml:"format"` // json, text
	File   string       `yaml:"file"`   // if set, logs (either format) rotate through lumberjack
	Syslog SyslogConfig `yaml:"syslog"`
}

// SyslogConfig enables a secondary audit sink for migration failures.
type SyslogConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Network  string `yaml:"network"` // "" (local), "udp", "tcp"
	Address  string `yaml:"address"`
	Tag      string `yaml:"tag"`
}

// DefaultConfig returns a configuration with default values, matching
// spec §4.1/§4.9's stated defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8090,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		ControlDB: MySQLConfig{
			Host:            "localhost",
			Port:            3306,
			Database:        "schema_evolve",
			Username:        "root",
			TLS:             "false",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 300,
			ConnMaxIdleTime: 300,
		},
		Baseline: MySQLConfig{
			Host:         "localhost",
			Port:         3306,
			TLS:          "false",
			MaxOpenConns: 5,
		},
		Tenant: TenantConfig{
			MaxOpenConns:      5,
			AcquireTimeoutSec: 30,
			ConnMaxIdleSec:    10,
			TLS:               "false",
		},
		Store: StoreConfig{
			TableName:       "stores",
			IDColumn:        "store_id",
			ActivePredicate: "status = 'active'",
		},
		Retention: RetentionConfig{
			DayShards:   30,
			MonthShards: 3,
			YearShards:  3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		TenantDirectoryFile: "tenants.yaml",
	}
}

// Load loads configuration from a YAML file and environment variables.
// Environment variables override file configuration.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		// #nosec G304 -- path is from command-line argument, user-controlled input is expected
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies SCHEMA_EVOLVE_* environment variable
// overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SCHEMA_EVOLVE_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("SCHEMA_EVOLVE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("SCHEMA_EVOLVE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SCHEMA_EVOLVE_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("SCHEMA_EVOLVE_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv("SCHEMA_EVOLVE_SYSLOG_ENABLED"); v != "" {
		c.Logging.Syslog.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("SCHEMA_EVOLVE_SYSLOG_ADDRESS"); v != "" {
		c.Logging.Syslog.Address = v
	}

	// Control database overrides.
	if v := os.Getenv("SCHEMA_EVOLVE_CONTROL_DB_HOST"); v != "" {
		c.ControlDB.Host = v
	}
	if v := os.Getenv("SCHEMA_EVOLVE_CONTROL_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.ControlDB.Port = port
		}
	}
	if v := os.Getenv("SCHEMA_EVOLVE_CONTROL_DB_DATABASE"); v != "" {
		c.ControlDB.Database = v
	}
	if v := os.Getenv("SCHEMA_EVOLVE_CONTROL_DB_USERNAME"); v != "" {
		c.ControlDB.Username = v
	}
	if v := os.Getenv("SCHEMA_EVOLVE_CONTROL_DB_PASSWORD"); v != "" {
		c.ControlDB.Password = v
	}
	if v := os.Getenv("SCHEMA_EVOLVE_CONTROL_DB_TLS"); v != "" {
		c.ControlDB.TLS = v
	}

	// Baseline database overrides.
	if v := os.Getenv("SCHEMA_EVOLVE_BASELINE_DB_HOST"); v != "" {
		c.Baseline.Host = v
	}
	if v := os.Getenv("SCHEMA_EVOLVE_BASELINE_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Baseline.Port = port
		}
	}
	if v := os.Getenv("SCHEMA_EVOLVE_BASELINE_DB_DATABASE"); v != "" {
		c.Baseline.Database = v
	}
	if v := os.Getenv("SCHEMA_EVOLVE_BASELINE_DB_USERNAME"); v != "" {
		c.Baseline.Username = v
	}
	if v := os.Getenv("SCHEMA_EVOLVE_BASELINE_DB_PASSWORD"); v != "" {
		c.Baseline.Password = v
	}

	// Retention overrides.
	if v := os.Getenv("SCHEMA_EVOLVE_RETENTION_DAY_SHARDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retention.DayShards = n
		}
	}
	if v := os.Getenv("SCHEMA_EVOLVE_RETENTION_MONTH_SHARDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retention.MonthShards = n
		}
	}
	if v := os.Getenv("SCHEMA_EVOLVE_RETENTION_YEAR_SHARDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retention.YearShards = n
		}
	}

	// Store-directory overrides.
	if v := os.Getenv("SCHEMA_EVOLVE_STORE_TABLE"); v != "" {
		c.Store.TableName = v
	}
	if v := os.Getenv("SCHEMA_EVOLVE_STORE_ID_COLUMN"); v != "" {
		c.Store.IDColumn = v
	}
	if v := os.Getenv("SCHEMA_EVOLVE_STORE_ACTIVE_PREDICATE"); v != "" {
		c.Store.ActivePredicate = v
	}

	if v := os.Getenv("SCHEMA_EVOLVE_TENANT_DIRECTORY_FILE"); v != "" {
		c.TenantDirectoryFile = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.ControlDB.Host == "" || c.ControlDB.Database == "" {
		return fmt.Errorf("control_db.host and control_db.database are required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}
	if c.Logging.Syslog.Enabled && c.Logging.Syslog.Network != "" && c.Logging.Syslog.Address == "" {
		return fmt.Errorf("logging.syslog.address is required when network is set")
	}

	if c.Retention.DayShards < 0 || c.Retention.MonthShards < 0 || c.Retention.YearShards < 0 {
		return fmt.Errorf("retention windows must be non-negative")
	}

	if c.Store.TableName == "" || c.Store.IDColumn == "" {
		return fmt.Errorf("store_directory.table_name and id_column are required")
	}

	return nil
}

// Address returns the server address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ConnMaxLifetimeDuration converts ControlDB.ConnMaxLifetime to a
// time.Duration.
func (m MySQLConfig) ConnMaxLifetimeDuration() time.Duration {
	return time.Duration(m.ConnMaxLifetime) * time.Second
}

// ConnMaxIdleTimeDuration converts ControlDB.ConnMaxIdleTime to a
// time.Duration.
func (m MySQLConfig) ConnMaxIdleTimeDuration() time.Duration {
	return time.Duration(m.ConnMaxIdleTime) * time.Second
}
