package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPath names the variable holding the config file path.
const EnvPath = "BONTLE_CONFIG_PATH"

const defaultPath = "configs/config.yaml"

type Config struct {
	API struct {
		BaseURL          string  `yaml:"base_url"`
		TimeoutSeconds   int     `yaml:"timeout_seconds"`
		CacheTTLSeconds  int     `yaml:"cache_ttl_seconds"`
		RateLimitPerSec  float64 `yaml:"rate_limit_per_second"`
		RateLimitBurst   int     `yaml:"rate_limit_burst"`
		PollIntervalSecs int     `yaml:"poll_interval_seconds"`
		Timezone         string  `yaml:"timezone"`
	} `yaml:"api"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Telegram struct {
		BotToken     string  `yaml:"bot_token"`
		Debug        bool    `yaml:"debug"`
		AllowedChats []int64 `yaml:"allowed_chats"`
		PageSize     int     `yaml:"page_size"`
	} `yaml:"telegram"`

	Console struct {
		ExportDir string `yaml:"export_dir"`
	} `yaml:"console"`

	Journal struct {
		Path                string `yaml:"path"`
		BackupDir           string `yaml:"backup_dir"`
		BackupIntervalHours int    `yaml:"backup_interval_hours"`
		BackupRetentionDays int    `yaml:"backup_retention_days"`
	} `yaml:"journal"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Telemetry struct {
		Endpoint    string `yaml:"endpoint"`
		Insecure    bool   `yaml:"insecure"`
		ServiceName string `yaml:"service_name"`
	} `yaml:"telemetry"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Path returns the config path from the environment or the default.
func Path() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return defaultPath
}

// Load reads the YAML config at path. Variables from a .env file in the
// working directory are loaded first so ${VAR} placeholders can use them.
func Load(path string) (*Config, error) {
	if path == "" {
		path = defaultPath
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes config YAML, expanding ${ENV_VAR} placeholders.
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.API.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.API.BaseURL), "/")
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "http://localhost:8000"
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = "data/bontle_journal.db"
	}
	if cfg.Console.ExportDir == "" {
		cfg.Console.ExportDir = "exports"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "bontle-staff"
	}
	return &cfg, nil
}

func (c *Config) APITimeout() time.Duration {
	if c.API.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	if c.API.PollIntervalSecs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.API.PollIntervalSecs) * time.Second
}

// CacheTTL is how long the store list stays in Redis; zero disables caching.
func (c *Config) CacheTTL() time.Duration {
	if c.API.CacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.API.CacheTTLSeconds) * time.Second
}

// RateLimit returns requests per second and burst; zero rate disables limiting.
func (c *Config) RateLimit() (float64, int) {
	if c.API.RateLimitPerSec <= 0 {
		return 0, 0
	}
	burst := c.API.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	return c.API.RateLimitPerSec, burst
}

// Location resolves api.timezone; empty means the host zone.
func (c *Config) Location() (*time.Location, error) {
	if c.API.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.API.Timezone)
}

func (c *Config) BackupInterval() time.Duration {
	if c.Journal.BackupIntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Journal.BackupIntervalHours) * time.Hour
}

func (c *Config) PageSize() int {
	if c.Telegram.PageSize <= 0 {
		return 8
	}
	return c.Telegram.PageSize
}

func (c *Config) HealthCheckPort() int {
	if c.Monitoring.HealthCheckPort <= 0 {
		return 8080
	}
	return c.Monitoring.HealthCheckPort
}

func (c *Config) PrometheusPort() int {
	if c.Monitoring.PrometheusPort <= 0 {
		return 9090
	}
	return c.Monitoring.PrometheusPort
}
