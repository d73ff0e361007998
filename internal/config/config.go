// Package config loads the service configuration from defaults, an optional
// YAML file, .env files and REMINDERS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable override,
// e.g. REMINDERS_SERVER_ADDR or REMINDERS_SCHEDULER_BATCH_SIZE.
const EnvPrefix = "REMINDERS"

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Auth      AuthConfig      `mapstructure:"auth" yaml:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	Mail      MailConfig      `mapstructure:"mail" yaml:"mail"`
	Series    SeriesConfig    `mapstructure:"series" yaml:"series"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// DatabaseConfig selects the SQL driver and data source.
type DatabaseConfig struct {
	// Driver is "sqlite3" or "postgres".
	Driver string `mapstructure:"driver" yaml:"driver"`
	// DSN is the postgres connection string or the sqlite file path.
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// AuthConfig holds JWT verification settings.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	Issuer    string `mapstructure:"issuer" yaml:"issuer"`
}

// LoggingConfig controls logger output.
type LoggingConfig struct {
	Debug        bool   `mapstructure:"debug" yaml:"debug"`
	LogToFile    bool   `mapstructure:"log_to_file" yaml:"log_to_file"`
	LogsDir      string `mapstructure:"logs_dir" yaml:"logs_dir"`
	RollbarToken string `mapstructure:"rollbar_token" yaml:"rollbar_token"`
	Environment  string `mapstructure:"environment" yaml:"environment"`
}

// SchedulerConfig holds the reminder processor settings.
type SchedulerConfig struct {
	Autostart        bool          `mapstructure:"autostart" yaml:"autostart"`
	BatchSize        int           `mapstructure:"batch_size" yaml:"batch_size"`
	TickInterval     time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	MaxRetries       int           `mapstructure:"max_retries" yaml:"max_retries"`
	LookAheadDays    int           `mapstructure:"look_ahead_days" yaml:"look_ahead_days"`
	BatchWindow      time.Duration `mapstructure:"batch_window" yaml:"batch_window"`
	Retention        time.Duration `mapstructure:"retention" yaml:"retention"`
	MaterializeLimit int           `mapstructure:"materialize_limit" yaml:"materialize_limit"`
	DistributedClaim bool          `mapstructure:"distributed_claim" yaml:"distributed_claim"`
	ClaimTTL         time.Duration `mapstructure:"claim_ttl" yaml:"claim_ttl"`
}

// CacheConfig selects the occurrence cache backend.
type CacheConfig struct {
	// Driver is "memory", "redis" or "none".
	Driver string        `mapstructure:"driver" yaml:"driver"`
	TTL    time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// Enabled reports whether a redis address is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// MailConfig selects and configures the email channel.
type MailConfig struct {
	// Driver is "log", "smtp" or "sendgrid".
	Driver       string `mapstructure:"driver" yaml:"driver"`
	From         string `mapstructure:"from" yaml:"from"`
	FromName     string `mapstructure:"from_name" yaml:"from_name"`
	SMTPHost     string `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port" yaml:"smtp_port"`
	SMTPUser     string `mapstructure:"smtp_user" yaml:"smtp_user"`
	SMTPPassword string `mapstructure:"smtp_password" yaml:"smtp_password"`
	SendgridKey  string `mapstructure:"sendgrid_key" yaml:"sendgrid_key"`
}

// SeriesConfig bounds occurrence listings.
type SeriesConfig struct {
	InstanceCap       int `mapstructure:"instance_cap" yaml:"instance_cap"`
	DefaultWindowDays int `mapstructure:"default_window_days" yaml:"default_window_days"`
}

// setDefaults registers every default value. Every key must have a default so
// that AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "./data/reminders.db")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")

	v.SetDefault("logging.debug", false)
	v.SetDefault("logging.log_to_file", false)
	v.SetDefault("logging.logs_dir", "")
	v.SetDefault("logging.rollbar_token", "")
	v.SetDefault("logging.environment", "development")

	v.SetDefault("scheduler.autostart", true)
	v.SetDefault("scheduler.batch_size", 50)
	v.SetDefault("scheduler.tick_interval", time.Minute)
	v.SetDefault("scheduler.max_retries", 3)
	v.SetDefault("scheduler.look_ahead_days", 7)
	v.SetDefault("scheduler.batch_window", 5*time.Minute)
	v.SetDefault("scheduler.retention", 7*24*time.Hour)
	v.SetDefault("scheduler.materialize_limit", 500)
	v.SetDefault("scheduler.distributed_claim", false)
	v.SetDefault("scheduler.claim_ttl", 2*time.Minute)

	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.ttl", 10*time.Minute)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("mail.driver", "log")
	v.SetDefault("mail.from", "noreply@localhost")
	v.SetDefault("mail.from_name", "Event Reminders")
	v.SetDefault("mail.smtp_host", "")
	v.SetDefault("mail.smtp_port", 587)
	v.SetDefault("mail.smtp_user", "")
	v.SetDefault("mail.smtp_password", "")
	v.SetDefault("mail.sendgrid_key", "")

	v.SetDefault("series.instance_cap", 1000)
	v.SetDefault("series.default_window_days", 365)
}

// Load builds the configuration. path may be empty; a missing file at a
// non-empty path is an error. A ".env" file in the working directory is
// loaded into the process environment first when present.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("checking %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Validate checks values that have no safe fallback.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Cache.Driver {
	case "memory", "none":
	case "redis":
		if !c.Redis.Enabled() {
			return errors.New("cache driver redis requires redis.addr")
		}
	default:
		return fmt.Errorf("unsupported cache driver %q", c.Cache.Driver)
	}
	switch c.Mail.Driver {
	case "log", "smtp", "sendgrid":
	default:
		return fmt.Errorf("unsupported mail driver %q", c.Mail.Driver)
	}
	if c.Scheduler.DistributedClaim && !c.Redis.Enabled() {
		return errors.New("scheduler.distributed_claim requires redis.addr")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	return nil
}

// YAML renders the effective configuration with secrets masked.
func (c *Config) YAML() ([]byte, error) {
	masked := *c
	masked.Auth.JWTSecret = mask(masked.Auth.JWTSecret)
	masked.Redis.Password = mask(masked.Redis.Password)
	masked.Mail.SMTPPassword = mask(masked.Mail.SMTPPassword)
	masked.Mail.SendgridKey = mask(masked.Mail.SendgridKey)
	masked.Logging.RollbarToken = mask(masked.Logging.RollbarToken)
	return yaml.Marshal(&masked)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
