package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the segmentation engine service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Engine   EngineConfig   `yaml:"engine"`
	Behavior BehaviorConfig `yaml:"behavior"`
	Alerts   AlertConfig    `yaml:"alerts"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// EngineConfig holds scheduler and reconciliation settings.
type EngineConfig struct {
	DrainIntervalSeconds int    `yaml:"drain_interval_seconds"`
	FullRefreshCron      string `yaml:"full_refresh_cron"`
	WorkerPoolSize       int    `yaml:"worker_pool_size"`
}

// BehaviorConfig holds behavioral analysis windows and thresholds.
type BehaviorConfig struct {
	ShortWindowDays  int     `yaml:"short_window_days"`
	MediumWindowDays int     `yaml:"medium_window_days"`
	LongWindowDays   int     `yaml:"long_window_days"`
	MinimumActivity  int     `yaml:"minimum_activity"`
	WeightDecay      float64 `yaml:"weight_decay"`
}

// AlertConfig holds membership churn alert thresholds.
type AlertConfig struct {
	ChangeWarnRatio     float64 `yaml:"change_warn_ratio"`
	ChangeCriticalRatio float64 `yaml:"change_critical_ratio"`
}

// DatabaseConfig holds the donor repository connection. When URL is empty
// the service runs against the in-memory repository (dev mode).
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds the optional engine-state snapshot store.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	StateKey string `yaml:"state_key"`
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv loads config from a file and then applies environment
// overrides. A .env file is side-loaded if present.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
		cfg.Redis.Enabled = true
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Engine.DrainIntervalSeconds == 0 {
		c.Engine.DrainIntervalSeconds = 60
	}
	if c.Engine.FullRefreshCron == "" {
		c.Engine.FullRefreshCron = "@hourly"
	}
	if c.Engine.WorkerPoolSize == 0 {
		c.Engine.WorkerPoolSize = 4
	}
	if c.Behavior.ShortWindowDays == 0 {
		c.Behavior.ShortWindowDays = 30
	}
	if c.Behavior.MediumWindowDays == 0 {
		c.Behavior.MediumWindowDays = 90
	}
	if c.Behavior.LongWindowDays == 0 {
		c.Behavior.LongWindowDays = 365
	}
	if c.Behavior.MinimumActivity == 0 {
		c.Behavior.MinimumActivity = 3
	}
	if c.Behavior.WeightDecay == 0 {
		c.Behavior.WeightDecay = 0.9
	}
	if c.Alerts.ChangeWarnRatio == 0 {
		c.Alerts.ChangeWarnRatio = 0.2
	}
	if c.Alerts.ChangeCriticalRatio == 0 {
		c.Alerts.ChangeCriticalRatio = 0.5
	}
	if c.Redis.StateKey == "" {
		c.Redis.StateKey = "audience-engine:state"
	}
}

func (c *Config) validate() error {
	if c.Engine.WorkerPoolSize < 1 {
		return fmt.Errorf("engine.worker_pool_size must be >= 1, got %d", c.Engine.WorkerPoolSize)
	}
	if c.Alerts.ChangeWarnRatio >= c.Alerts.ChangeCriticalRatio {
		return fmt.Errorf("alerts.change_warn_ratio (%.2f) must be below change_critical_ratio (%.2f)",
			c.Alerts.ChangeWarnRatio, c.Alerts.ChangeCriticalRatio)
	}
	if c.Behavior.ShortWindowDays > c.Behavior.LongWindowDays {
		return fmt.Errorf("behavior.short_window_days exceeds long_window_days")
	}
	return nil
}
