package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
type Config struct {
	LogLevel          string `mapstructure:"LOG_LEVEL"`
	ServerPort        string `mapstructure:"SERVER_PORT"`
	StoreDriver       string `mapstructure:"STORE_DRIVER"`
	SQLitePath        string `mapstructure:"SQLITE_PATH"`
	PostgresURL       string `mapstructure:"POSTGRES_URL"`
	RedisAddr         string `mapstructure:"REDIS_ADDR"`
	RedisPassword     string `mapstructure:"REDIS_PASSWORD"`
	RedisDB           int    `mapstructure:"REDIS_DB"`
	CrawlDocument     string `mapstructure:"CRAWL_DOCUMENT"`
	PageWaitTimeout   int    `mapstructure:"PAGE_WAIT_TIMEOUT"`  // in seconds
	NavigationTimeout int    `mapstructure:"NAVIGATION_TIMEOUT"` // in seconds
	RoundDelay        int    `mapstructure:"ROUND_DELAY"`        // in seconds
	RunLockTTL        int    `mapstructure:"RUN_LOCK_TTL"`       // in seconds
	ParallelFetch     bool   `mapstructure:"PARALLEL_FETCH"`
	Headless          bool   `mapstructure:"HEADLESS"`
	AcceptLanguage    string `mapstructure:"ACCEPT_LANGUAGE"`
	Proxies           string `mapstructure:"PROXIES"`
	DiscordToken      string `mapstructure:"DISCORD_TOKEN"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var defaults = map[string]any{
	"LOG_LEVEL":          "info",
	"SERVER_PORT":        "8080",
	"STORE_DRIVER":       DriverSQLite,
	"SQLITE_PATH":        "data/products.db",
	"POSTGRES_URL":       "",
	"REDIS_ADDR":         "",
	"REDIS_PASSWORD":     "",
	"REDIS_DB":           0,
	"CRAWL_DOCUMENT":     "config.json",
	"PAGE_WAIT_TIMEOUT":  4,
	"NAVIGATION_TIMEOUT": 60,
	"ROUND_DELAY":        3,
	"RUN_LOCK_TTL":       3600,
	"PARALLEL_FETCH":     false,
	"HEADLESS":           true,
	"ACCEPT_LANGUAGE":    "ro-RO,ro;q=0.9,en-US;q=0.8,en;q=0.7",
	"PROXIES":            "",
	"DISCORD_TOKEN":      "",
}

// Load reads configuration from file or environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Attempt to read the .env file, but don't fail if it's not present
	_ = v.ReadInConfig()

	// Every key needs a default for AutomaticEnv to reach Unmarshal.
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) PageWait() time.Duration {
	return time.Duration(c.PageWaitTimeout) * time.Second
}

func (c *Config) Navigation() time.Duration {
	return time.Duration(c.NavigationTimeout) * time.Second
}

func (c *Config) Delay() time.Duration {
	return time.Duration(c.RoundDelay) * time.Second
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.RunLockTTL) * time.Second
}

// ProxyList splits PROXIES on commas.
func (c *Config) ProxyList() []string {
	var out []string
	for _, p := range strings.Split(c.Proxies, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
