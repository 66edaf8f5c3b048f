// Package config loads application configuration from defaults, an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bissquit/incident-relay/internal/domain"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "RELAY_"
	defaultConfigFile = "config.yaml"
)

// Config is the root configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Log           LogConfig           `koanf:"log"`
	Redis         RedisConfig         `koanf:"redis"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Audit         AuditConfig         `koanf:"audit"`
	Templates     TemplatesConfig     `koanf:"templates"`
	Roles         map[string]string   `koanf:"roles"`
	CORS          CORSConfig          `koanf:"cors"`
}

// ServerConfig configures the ops HTTP server.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	// MigrationsPath enables golang-migrate on startup when set, e.g. "file://migrations".
	MigrationsPath string `koanf:"migrations_path"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// RedisConfig enables the distributed incident lock and distribution list cache.
type RedisConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	LockTTL  time.Duration `koanf:"lock_ttl"`
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

// NotificationsConfig configures mail dispatch.
type NotificationsConfig struct {
	Enabled  bool        `koanf:"enabled"`
	BaseURL  string      `koanf:"base_url"`
	Timezone string      `koanf:"timezone"`
	Email    EmailConfig `koanf:"email"`
	Retry    RetryConfig `koanf:"retry"`
}

// EmailConfig configures the SMTP sender.
type EmailConfig struct {
	SMTPHost     string  `koanf:"smtp_host"`
	SMTPPort     int     `koanf:"smtp_port"`
	SMTPUser     string  `koanf:"smtp_user"`
	SMTPPassword string  `koanf:"smtp_password"`
	FromAddress  string  `koanf:"from_address"`
	BatchSize    int     `koanf:"batch_size"`
	RateLimit    float64 `koanf:"rate_limit"`
}

// RetryConfig configures redelivery of failed mail.
type RetryConfig struct {
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
}

// AuditConfig configures history recording.
type AuditConfig struct {
	DiffDenylist []string `koanf:"diff_denylist"`
}

// TemplatesConfig configures template auto-matching.
type TemplatesConfig struct {
	MatchThreshold float64 `koanf:"match_threshold"`
}

// CORSConfig configures allowed origins for the ops API.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			LockTTL:  30 * time.Second,
			CacheTTL: time.Minute,
		},
		Notifications: NotificationsConfig{
			Timezone: "Europe/Paris",
			Email: EmailConfig{
				SMTPPort:  587,
				BatchSize: 50,
			},
			Retry: RetryConfig{
				MaxAttempts:       3,
				InitialBackoff:    time.Second,
				MaxBackoff:        30 * time.Second,
				BackoffMultiplier: 2.0,
			},
		},
		Audit: AuditConfig{
			DiffDenylist: []string{"updated_at", "deleted_at", "version"},
		},
		Templates: TemplatesConfig{
			MatchThreshold: 70,
		},
		Roles: map[string]string{},
	}
}

// Load reads configuration. The YAML file named by CONFIG_FILE (default config.yaml) is optional.
// Environment variables use the RELAY_ prefix with "__" separating sections,
// e.g. RELAY_DATABASE__URL sets database.url.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_FILE")
	required := path != ""
	if path == "" {
		path = defaultConfigFile
	}
	return LoadFile(path, required)
}

// LoadFile reads configuration from path and the environment.
func LoadFile(path string, required bool) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		} else if required {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	// Slices decode over existing elements, so an explicit list must start empty.
	if k.Exists("audit.diff_denylist") {
		cfg.Audit.DiffDenylist = nil
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
}

// Validate checks required values and ranges.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is invalid", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is invalid", c.Log.Format))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	if c.Notifications.Enabled {
		if c.Notifications.Email.SMTPHost == "" {
			errs = append(errs, errors.New("notifications.email.smtp_host is required when notifications are enabled"))
		}
		if c.Notifications.Email.FromAddress == "" {
			errs = append(errs, errors.New("notifications.email.from_address is required when notifications are enabled"))
		}
	}
	if c.Templates.MatchThreshold < 0 || c.Templates.MatchThreshold > 100 {
		errs = append(errs, fmt.Errorf("templates.match_threshold %v out of range [0,100]", c.Templates.MatchThreshold))
	}
	for code, role := range c.Roles {
		if !domain.Role(role).IsValid() {
			errs = append(errs, fmt.Errorf("roles.%s: unknown role %q", code, role))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// RoleMapping converts the configured job code table into domain roles.
func (c *Config) RoleMapping() map[string]domain.Role {
	mapping := make(map[string]domain.Role, len(c.Roles))
	for code, role := range c.Roles {
		mapping[code] = domain.Role(role)
	}
	return mapping
}
