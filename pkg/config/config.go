package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds every setting the agrimarket service reads at startup.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Session     SessionConfig     `mapstructure:"session" yaml:"session"`
	Pricing     PricingConfig     `mapstructure:"pricing" yaml:"pricing"`
	Auction     AuctionConfig     `mapstructure:"auction" yaml:"auction"`
	Sweeper     SweeperConfig     `mapstructure:"sweeper" yaml:"sweeper"`
	PlantDoctor PlantDoctorConfig `mapstructure:"plant_doctor" yaml:"plant_doctor"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port         int    `mapstructure:"port" yaml:"port"`
	Domain       string `mapstructure:"domain" yaml:"domain"` // serve HTTPS on 80/443 when set
	ReadTimeout  string `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  string `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// DatabaseConfig selects the SQL backend.
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver" yaml:"driver"` // sqlite or postgres
	DSN             string `mapstructure:"dsn" yaml:"dsn"`
	ConnectAttempts int    `mapstructure:"connect_attempts" yaml:"connect_attempts"`
}

// SessionConfig controls how long a login stays valid.
type SessionConfig struct {
	TTL string `mapstructure:"ttl" yaml:"ttl"`
}

// VehicleRate is the fare table row for one vehicle type. Money is kept as strings so
// the YAML never goes through float64.
type VehicleRate struct {
	BaseFare   string  `mapstructure:"base_fare" yaml:"base_fare"`
	PerKm      string  `mapstructure:"per_km" yaml:"per_km"`
	PerKg      string  `mapstructure:"per_kg" yaml:"per_kg"`
	CapacityKg float64 `mapstructure:"capacity_kg" yaml:"capacity_kg"`
}

// PricingConfig feeds the transport fare calculation.
type PricingConfig struct {
	MinimumFare string                 `mapstructure:"minimum_fare" yaml:"minimum_fare"`
	Vehicles    map[string]VehicleRate `mapstructure:"vehicles" yaml:"vehicles"`
}

// AuctionConfig bounds crop auctions.
type AuctionConfig struct {
	MinIncrement string `mapstructure:"min_increment" yaml:"min_increment"`
	MaxDuration  string `mapstructure:"max_duration" yaml:"max_duration"`
}

// SweeperConfig sets how often background housekeeping runs.
type SweeperConfig struct {
	Interval string `mapstructure:"interval" yaml:"interval"`
}

// PlantDoctorConfig configures the Gemini-backed advisor. An empty key disables it.
type PlantDoctorConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
	Model  string `mapstructure:"model" yaml:"model"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // json, console
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8765,
			ReadTimeout:  "5s",
			WriteTimeout: "10s",
			IdleTimeout:  "60s",
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "agrimarket.db",
			ConnectAttempts: 5,
		},
		Session: SessionConfig{TTL: "24h"},
		Pricing: PricingConfig{
			MinimumFare: "300",
			Vehicles: map[string]VehicleRate{
				"mini_truck":      {BaseFare: "250", PerKm: "18", PerKg: "0.50", CapacityKg: 1000},
				"pickup":          {BaseFare: "400", PerKm: "22", PerKg: "0.40", CapacityKg: 2500},
				"truck":           {BaseFare: "900", PerKm: "35", PerKg: "0.25", CapacityKg: 10000},
				"tractor_trolley": {BaseFare: "350", PerKm: "15", PerKg: "0.30", CapacityKg: 5000},
			},
		},
		Auction: AuctionConfig{
			MinIncrement: "1.00",
			MaxDuration:  "720h",
		},
		Sweeper:     SweeperConfig{Interval: "1m"},
		PlantDoctor: PlantDoctorConfig{Model: "gemini-2.5-flash"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// envBindings maps config keys to the environment variables that may provide them.
// The first name is preferred; the rest are conventional fallbacks.
var envBindings = map[string][]string{
	"server.port":          {"AGRIMARKET_SERVER_PORT", "PORT"},
	"server.domain":        {"AGRIMARKET_SERVER_DOMAIN"},
	"database.driver":      {"AGRIMARKET_DATABASE_DRIVER"},
	"database.dsn":         {"AGRIMARKET_DATABASE_DSN", "DATABASE_URL"},
	"session.ttl":          {"AGRIMARKET_SESSION_TTL"},
	"sweeper.interval":     {"AGRIMARKET_SWEEPER_INTERVAL"},
	"plant_doctor.api_key": {"AGRIMARKET_PLANT_DOCTOR_API_KEY", "GEMINI_API_KEY"},
	"plant_doctor.model":   {"AGRIMARKET_PLANT_DOCTOR_MODEL"},
	"logging.level":        {"AGRIMARKET_LOGGING_LEVEL"},
	"logging.format":       {"AGRIMARKET_LOGGING_FORMAT"},
}

// Load reads the YAML file at path on top of the defaults. A missing file is not an error.
// Environment variables override values from the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bindEnvs(v *viper.Viper) error {
	for key, envs := range envBindings {
		inputs := slices.Insert(slices.Clone(envs), 0, key)
		if err := v.BindEnv(inputs...); err != nil {
			return err
		}
	}
	return nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects settings that would only fail later at first use.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q (valid: sqlite, postgres)", c.Database.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if _, err := decimal.NewFromString(c.Pricing.MinimumFare); err != nil {
		return fmt.Errorf("invalid pricing.minimum_fare: %w", err)
	}
	if len(c.Pricing.Vehicles) == 0 {
		return errors.New("pricing.vehicles must list at least one vehicle")
	}
	for name, rate := range c.Pricing.Vehicles {
		for field, raw := range map[string]string{"base_fare": rate.BaseFare, "per_km": rate.PerKm, "per_kg": rate.PerKg} {
			if _, err := decimal.NewFromString(raw); err != nil {
				return fmt.Errorf("invalid pricing.vehicles.%s.%s: %w", name, field, err)
			}
		}
		if rate.CapacityKg <= 0 {
			return fmt.Errorf("pricing.vehicles.%s.capacity_kg must be positive", name)
		}
	}
	if _, err := decimal.NewFromString(c.Auction.MinIncrement); err != nil {
		return fmt.Errorf("invalid auction.min_increment: %w", err)
	}
	return nil
}

// GetReadTimeout returns the server read timeout as a duration.
func (c *Config) GetReadTimeout() time.Duration {
	return parseDuration(c.Server.ReadTimeout, 5*time.Second)
}

// GetWriteTimeout returns the server write timeout as a duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return parseDuration(c.Server.WriteTimeout, 10*time.Second)
}

// GetIdleTimeout returns the keep-alive idle timeout as a duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return parseDuration(c.Server.IdleTimeout, 60*time.Second)
}

// GetSessionTTL returns the session TTL as a duration.
func (c *Config) GetSessionTTL() time.Duration {
	return parseDuration(c.Session.TTL, 24*time.Hour)
}

// GetSweepInterval returns how often the sweeper runs.
func (c *Config) GetSweepInterval() time.Duration {
	return parseDuration(c.Sweeper.Interval, time.Minute)
}

// GetAuctionMaxDuration returns the longest allowed auction.
func (c *Config) GetAuctionMaxDuration() time.Duration {
	return parseDuration(c.Auction.MaxDuration, 30*24*time.Hour)
}

// GetMinIncrement returns the minimum raise over the current auction price.
func (c *Config) GetMinIncrement() decimal.Decimal {
	d, err := decimal.NewFromString(c.Auction.MinIncrement)
	if err != nil {
		return decimal.NewFromInt(1)
	}
	return d
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
