package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Schwab     Schwab     `mapstructure:"schwab"`
	Poll       Poll       `mapstructure:"poll"`
	Allocation Allocation `mapstructure:"allocation"`
	Discord    Discord    `mapstructure:"discord"`
	Redis      Redis      `mapstructure:"redis"`
	Logger     Logger     `mapstructure:"logger"`
	Server     Server     `mapstructure:"server"`
	Report     Report     `mapstructure:"report"`
	Database   Database   `mapstructure:"database"`
	Trace      Trace      `mapstructure:"trace"`
}

// Schwab holds the configuration for the Schwab Trader API.
type Schwab struct {
	AppKey         string        `mapstructure:"app_key"`
	AppSecret      string        `mapstructure:"app_secret"`
	RefreshToken   string        `mapstructure:"refresh_token"`
	AccountHash    string        `mapstructure:"account_hash"`
	BaseURL        string        `mapstructure:"base_url"`
	TokenURL       string        `mapstructure:"token_url"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Poll holds the configuration for the order polling loop.
type Poll struct {
	Interval             time.Duration `mapstructure:"interval"`
	LookbackDays         int           `mapstructure:"lookback_days"`
	Status               string        `mapstructure:"status"`
	MaxResults           int           `mapstructure:"max_results"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors"`
}

// Allocation holds the cost-basis matching settings.
type Allocation struct {
	Policy           string  `mapstructure:"policy"`
	OptionMultiplier float64 `mapstructure:"option_multiplier"`
	EquityMultiplier float64 `mapstructure:"equity_multiplier"`
}

// Discord holds the webhook settings for trade notifications.
type Discord struct {
	WebhookURL          string  `mapstructure:"webhook_url"`
	SecondaryWebhookURL string  `mapstructure:"secondary_webhook_url"`
	RoleID              string  `mapstructure:"role_id"`
	Username            string  `mapstructure:"username"`
	RateLimit           float64 `mapstructure:"rate_limit"`
}

// Redis holds the optional pub/sub fan-out settings.
type Redis struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// Server holds the configuration for the status server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Report holds the configuration for the report server and scheduled export.
type Report struct {
	Port           int           `mapstructure:"port"`
	ExportDir      string        `mapstructure:"export_dir"`
	ExportInterval time.Duration `mapstructure:"export_interval"`
	LookbackDays   int           `mapstructure:"lookback_days"`
}

// Database holds the configuration for the database.
type Database struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Trace holds the tracing settings.
type Trace struct {
	Enabled bool `mapstructure:"enabled"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
// A .env file in the working directory is loaded first when present, and a
// missing config file is not an error.
func LoadConfig(path string) (config Config, err error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	if err = v.Unmarshal(&config); err != nil {
		return
	}
	err = config.Validate()
	return
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("schwab.app_key", "")
	v.SetDefault("schwab.app_secret", "")
	v.SetDefault("schwab.refresh_token", "")
	v.SetDefault("schwab.account_hash", "")
	v.SetDefault("schwab.base_url", "https://api.schwabapi.com")
	v.SetDefault("schwab.token_url", "https://api.schwabapi.com/v1/oauth/token")
	v.SetDefault("schwab.rate_limit", 2) // requests per second
	v.SetDefault("schwab.rate_limit_burst", 2)
	v.SetDefault("schwab.timeout", "30s")

	v.SetDefault("poll.interval", "5s")
	v.SetDefault("poll.lookback_days", 7)
	v.SetDefault("poll.status", "FILLED")
	v.SetDefault("poll.max_results", 3000)
	v.SetDefault("poll.max_consecutive_errors", 10)

	v.SetDefault("allocation.policy", "fifo")
	v.SetDefault("allocation.option_multiplier", 100)
	v.SetDefault("allocation.equity_multiplier", 1)

	v.SetDefault("discord.webhook_url", "")
	v.SetDefault("discord.secondary_webhook_url", "")
	v.SetDefault("discord.role_id", "")
	v.SetDefault("discord.username", "Option Bot")
	v.SetDefault("discord.rate_limit", 1)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "trades")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")

	v.SetDefault("server.port", 8080)

	v.SetDefault("report.port", 8081)
	v.SetDefault("report.export_dir", "./exports")
	v.SetDefault("report.export_interval", "168h")
	v.SetDefault("report.lookback_days", 7)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "trades.db")

	v.SetDefault("trace.enabled", false)
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Allocation.Policy) {
	case "fifo", "lifo":
	default:
		return fmt.Errorf("unknown allocation policy %q", c.Allocation.Policy)
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.Poll.Interval)
	}
	if c.Allocation.OptionMultiplier <= 0 || c.Allocation.EquityMultiplier <= 0 {
		return errors.New("allocation multipliers must be positive")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}
