package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

// EngineConfig carries the ETA engine tuning knobs.
type EngineConfig struct {
	SweepIntervalMs    int     `mapstructure:"sweep_interval_ms"`
	ApproachThresholdM float64 `mapstructure:"approach_threshold_m"`
	CandidateRadiusM   float64 `mapstructure:"candidate_radius_m"`
	NearRadiusKm       float64 `mapstructure:"near_radius_km"`
	RegionRadiusKm     float64 `mapstructure:"region_radius_km"`
	FallbackSpeedKmh   float64 `mapstructure:"fallback_speed_kmh"`
	RegistryTTLMs      int     `mapstructure:"registry_ttl_ms"`
	StoreTimeoutMs     int     `mapstructure:"store_timeout_ms"`

	CallTTLSec        int `mapstructure:"call_ttl_sec"`
	DeactivatedTTLSec int `mapstructure:"deactivated_ttl_sec"`
	LocationTTLSec    int `mapstructure:"location_ttl_sec"`
	ETATTLSec         int `mapstructure:"eta_ttl_sec"`
	MarkerTTLSec      int `mapstructure:"marker_ttl_sec"`
	HistoryWindowSec  int `mapstructure:"history_window_sec"`
	PassWindowSec     int `mapstructure:"pass_window_sec"`

	FilterProcessNoise     float64 `mapstructure:"filter_process_noise"`
	FilterMeasurementNoise float64 `mapstructure:"filter_measurement_noise"`
}

func (e EngineConfig) SweepInterval() time.Duration   { return time.Duration(e.SweepIntervalMs) * time.Millisecond }
func (e EngineConfig) RegistryTTL() time.Duration     { return time.Duration(e.RegistryTTLMs) * time.Millisecond }
func (e EngineConfig) StoreTimeout() time.Duration    { return time.Duration(e.StoreTimeoutMs) * time.Millisecond }
func (e EngineConfig) HistoryWindow() time.Duration   { return time.Duration(e.HistoryWindowSec) * time.Second }
func (e EngineConfig) PassWindow() time.Duration      { return time.Duration(e.PassWindowSec) * time.Second }
func (e EngineConfig) MarkerTTL() time.Duration       { return time.Duration(e.MarkerTTLSec) * time.Second }

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	OTLPAddr    string `mapstructure:"otlp_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "buscall")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "buscall")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")

	v.SetDefault("engine.sweep_interval_ms", 2000)
	v.SetDefault("engine.approach_threshold_m", 500)
	v.SetDefault("engine.candidate_radius_m", 10000)
	v.SetDefault("engine.near_radius_km", 5)
	v.SetDefault("engine.region_radius_km", 3)
	v.SetDefault("engine.fallback_speed_kmh", 30)
	v.SetDefault("engine.registry_ttl_ms", 5000)
	v.SetDefault("engine.store_timeout_ms", 3000)
	v.SetDefault("engine.call_ttl_sec", 3600)
	v.SetDefault("engine.deactivated_ttl_sec", 300)
	v.SetDefault("engine.location_ttl_sec", 60)
	v.SetDefault("engine.eta_ttl_sec", 300)
	v.SetDefault("engine.marker_ttl_sec", 300)
	v.SetDefault("engine.history_window_sec", 30)
	v.SetDefault("engine.pass_window_sec", 10)
	v.SetDefault("engine.filter_process_noise", 1e-5)
	v.SetDefault("engine.filter_measurement_noise", 5e-5)

	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.otlp_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", false)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: BUSCALL_ENGINE_SWEEP_INTERVAL_MS → engine.sweep_interval_ms
	v.SetEnvPrefix("BUSCALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.Engine.SweepIntervalMs <= 0 {
		errs = append(errs, "engine.sweep_interval_ms must be positive")
	}
	if c.Engine.ApproachThresholdM <= 0 {
		errs = append(errs, "engine.approach_threshold_m must be positive")
	}
	if c.Engine.CandidateRadiusM < c.Engine.ApproachThresholdM {
		errs = append(errs, "engine.candidate_radius_m must be at least the approach threshold")
	}
	if c.Engine.FallbackSpeedKmh <= 0 {
		errs = append(errs, "engine.fallback_speed_kmh must be positive")
	}
	if c.Engine.PassWindowSec <= 0 || c.Engine.PassWindowSec > c.Engine.HistoryWindowSec {
		errs = append(errs, "engine.pass_window_sec must be positive and within the history window")
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
