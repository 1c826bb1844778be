// Package config provides configuration management for the consolidation service.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/limiquantix/consolidator/internal/consolidation"
	"github.com/limiquantix/consolidator/internal/domain"
	"github.com/limiquantix/consolidator/internal/scheduler"
)

// Config holds all configuration for the application.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Consolidation ConsolidationConfig `mapstructure:"consolidation"`
	Scheduler     scheduler.Config    `mapstructure:"scheduler"`
	Simulation    SimulationConfig    `mapstructure:"simulation"`
	Fleet         FleetConfig         `mapstructure:"fleet"`
	Workload      WorkloadConfig      `mapstructure:"workload"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Etcd          EtcdConfig          `mapstructure:"etcd"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	CORS          CORSConfig          `mapstructure:"cors"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address string.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ConsolidationConfig holds the periodic consolidation trigger configuration.
type ConsolidationConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Interval between two passes in service mode.
	Interval time.Duration `mapstructure:"interval"`

	// PassTimeout bounds a single pass. Zero disables the deadline.
	PassTimeout time.Duration `mapstructure:"pass_timeout"`

	// LockKey names the etcd lock serializing passes across replicas.
	LockKey string `mapstructure:"lock_key"`

	// LockTimeout bounds the wait for the distributed pass lock.
	LockTimeout time.Duration `mapstructure:"lock_timeout"`

	// Engine holds the algorithm tuning.
	Engine consolidation.Config `mapstructure:",squash"`
}

// SimulationConfig holds the simulated clock configuration.
type SimulationConfig struct {
	// Tick is the simulated time advanced per step, in seconds.
	Tick float64 `mapstructure:"tick"`

	// MaxTicks stops the run. Zero runs until every request has finished.
	MaxTicks int `mapstructure:"max_ticks"`

	// ReportPath is where the properties report is written.
	ReportPath string `mapstructure:"report_path"`
}

// FleetConfig lists the physical machines.
type FleetConfig struct {
	Machines []domain.MachineSpec `mapstructure:"machines"`
}

// WorkloadConfig lists the tenant requests replayed by the simulation.
type WorkloadConfig struct {
	Requests []domain.RequestSpec `mapstructure:"requests"`
}

// DatabaseConfig holds PostgreSQL configuration for the migration journal.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// URL returns the connection string in URL form, as golang-migrate expects it.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// EtcdConfig holds etcd configuration.
type EtcdConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	// ElectionName is the leader election the trigger campaigns in.
	ElectionName string `mapstructure:"election_name"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Address returns the Redis address string.
func (c RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MetricsConfig holds the Prometheus endpoint configuration. The endpoint is
// served by the HTTP server.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Environment variables
	v.SetEnvPrefix("CONSOLIDATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the settings that have no usable fallback.
func (c *Config) Validate() error {
	if err := c.Consolidation.Engine.Validate(); err != nil {
		return fmt.Errorf("consolidation: %w", err)
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if c.Consolidation.Enabled && c.Consolidation.Interval <= 0 {
		return fmt.Errorf("consolidation: %w: interval must be positive", domain.ErrInvalidArgument)
	}
	if c.Simulation.Tick <= 0 {
		return fmt.Errorf("simulation: %w: tick must be positive", domain.ErrInvalidArgument)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Consolidation
	v.SetDefault("consolidation.enabled", true)
	v.SetDefault("consolidation.interval", "5m")
	v.SetDefault("consolidation.pass_timeout", "1m")
	v.SetDefault("consolidation.lock_key", "consolidation-pass")
	v.SetDefault("consolidation.lock_timeout", "10s")
	v.SetDefault("consolidation.secure_selection", string(consolidation.SecureSelectionIntended))
	v.SetDefault("consolidation.release_policy", string(consolidation.ReleaseNoSecureTenants))
	v.SetDefault("consolidation.max_merge_rounds", 0)

	// Scheduler
	v.SetDefault("scheduler.placement_strategy", scheduler.StrategyFirstFit)
	v.SetDefault("scheduler.reserved_processing_power", 0.0)
	v.SetDefault("scheduler.reserved_memory", 0)
	v.SetDefault("scheduler.power_on_when_full", true)

	// Simulation
	v.SetDefault("simulation.tick", 60.0)
	v.SetDefault("simulation.max_ticks", 0)
	v.SetDefault("simulation.report_path", "consolidation.properties")

	// Database
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "consolidator")
	v.SetDefault("database.user", "consolidator")
	v.SetDefault("database.password", "consolidator")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// etcd
	v.SetDefault("etcd.enabled", false)
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.dial_timeout", "5s")
	v.SetDefault("etcd.election_name", "consolidator")

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "1h")

	// Metrics
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.path", "/metrics")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// CORS
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"*"})
	v.SetDefault("cors.allow_credentials", false)
}
