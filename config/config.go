package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// Logging
	Log LogConfig `mapstructure:"log"`

	// HTTP listener and client IP resolution
	Server ServerConfig `mapstructure:"server"`

	// Disguise domain and link issuing
	Disguise DisguiseConfig `mapstructure:"disguise"`

	// On-disk link registry
	Storage StorageConfig `mapstructure:"storage"`

	// Outbound forwarding toward origins
	Forward ForwardConfig `mapstructure:"forward"`

	// Human verification (Cloudflare Turnstile)
	Captcha CaptchaConfig `mapstructure:"captcha"`

	// Webhook notifications
	Notify NotifyConfig `mapstructure:"notify"`

	// Expiration sweeper
	Sweeper SweeperConfig `mapstructure:"sweeper"`

	// Creation endpoint rate limiting
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// Lifecycle audit trail (NATS -> Postgres)
	Audit AuditConfig `mapstructure:"audit"`

	// PostgreSQL
	Postgres PostgresConfig `mapstructure:"postgres"`

	// Redis
	Redis RedisConfig `mapstructure:"redis"`

	// NATS
	NATS NATSConfig `mapstructure:"nats"`

	// Prometheus
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Encoding    string `mapstructure:"encoding"`
	Development bool   `mapstructure:"development"`
}

type ServerConfig struct {
	Addr           string `mapstructure:"addr"`
	ClientIPHeader string `mapstructure:"client_ip_header"`
}

type DisguiseConfig struct {
	Domain           string `mapstructure:"domain"`
	AbuseContact     string `mapstructure:"abuse_contact"`
	IdentifierLength int    `mapstructure:"identifier_length"`
	ProbeWWW         bool   `mapstructure:"probe_www"`
}

type StorageConfig struct {
	Dir string `mapstructure:"dir"`
}

type ForwardConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	// InsecureSkipVerify disables certificate checks toward origins. Origins are
	// usually internal services with self-signed certificates.
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
	MaxBodyBytes       int    `mapstructure:"max_body_bytes"`
	RouteSecret        string `mapstructure:"route_secret"`
}

type CaptchaConfig struct {
	Secret    string        `mapstructure:"secret"`
	VerifyURL string        `mapstructure:"verify_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type NotifyConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// UseWebhook mirrors the legacy USE_WEBHOOK=Yes switch.
	UseWebhook        string        `mapstructure:"use_webhook"`
	CreationWebhook   string        `mapstructure:"creation_webhook"`
	ExpirationWebhook string        `mapstructure:"expiration_webhook"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// Active reports whether notifications should be sent at all.
func (c NotifyConfig) Active() bool {
	return c.Enabled || strings.EqualFold(strings.TrimSpace(c.UseWebhook), "yes")
}

type SweeperConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type RateLimitConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type PostgresConfig struct {
	Host              string `mapstructure:"host"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	Database          string `mapstructure:"database"`
	Port              int    `mapstructure:"port"`
	SSLMode           string `mapstructure:"sslmode"`
	MaxConns          int32  `mapstructure:"max_conns"`
	MinConns          int32  `mapstructure:"min_conns"`
	MaxConnLifetime   string `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   string `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod string `mapstructure:"health_check_period"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type PrometheusConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

func Load() (*Config, error) {
	// Load local .env for development (ignored when missing).
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	// Search for config/config.yaml (plus root for overrides).
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Allow environment variables to override YAML entries.
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Preserve legacy env variable names.
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Disguise.Domain = strings.ToLower(strings.Trim(strings.TrimSpace(cfg.Disguise.Domain), "."))
	cfg.Captcha.Secret = strings.TrimSpace(cfg.Captcha.Secret)

	return &cfg, nil
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	var errs []error
	if c.Disguise.Domain == "" {
		errs = append(errs, errors.New("disguise.domain (DOMAIN) is required"))
	}
	if c.Disguise.IdentifierLength < 4 {
		errs = append(errs, fmt.Errorf("disguise.identifier_length must be at least 4, got %d", c.Disguise.IdentifierLength))
	}
	if c.Storage.Dir == "" {
		errs = append(errs, errors.New("storage.dir is required"))
	}
	if len(c.Forward.RouteSecret) > 0 && len(c.Forward.RouteSecret) < 32 {
		errs = append(errs, errors.New("forward.route_secret must be at least 32 bytes"))
	}
	if c.Forward.Timeout <= 0 {
		errs = append(errs, errors.New("forward.timeout must be positive"))
	}
	if c.Captcha.Timeout <= 0 {
		errs = append(errs, errors.New("captcha.timeout must be positive"))
	}
	if c.Sweeper.Interval <= 0 {
		errs = append(errs, errors.New("sweeper.interval must be positive"))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", false)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.client_ip_header", "Cf-Connecting-Ip")

	v.SetDefault("disguise.identifier_length", 7)
	v.SetDefault("disguise.probe_www", false)

	v.SetDefault("storage.dir", "./data")

	v.SetDefault("forward.timeout", 15*time.Second)
	v.SetDefault("forward.insecure_skip_verify", true)
	v.SetDefault("forward.max_body_bytes", 32<<20)

	v.SetDefault("captcha.verify_url", "https://challenges.cloudflare.com/turnstile/v0/siteverify")
	v.SetDefault("captcha.timeout", 10*time.Second)

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.timeout", 10*time.Second)

	v.SetDefault("sweeper.interval", 600*time.Second)

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.max_requests", 20)
	v.SetDefault("rate_limit.window", time.Minute)

	v.SetDefault("audit.enabled", false)

	v.SetDefault("prometheus.enabled", false)
	v.SetDefault("prometheus.port", 9090)
}

func bindEnvVars(v *viper.Viper) {
	// Original deployment
	v.BindEnv("disguise.domain", "DOMAIN")
	v.BindEnv("disguise.abuse_contact", "ABUSE_EMAIL")
	v.BindEnv("captcha.secret", "TURNSTILE_SECRET_KEY")
	v.BindEnv("notify.creation_webhook", "DC_WEBHOOK")
	v.BindEnv("notify.expiration_webhook", "REMOVAL_WEBHOOK")
	v.BindEnv("notify.use_webhook", "USE_WEBHOOK")
	v.BindEnv("forward.route_secret", "ROUTE_SECRET")

	// PostgreSQL
	v.BindEnv("postgres.host", "PG_HOST")
	v.BindEnv("postgres.user", "PG_USER")
	v.BindEnv("postgres.password", "PG_PASSWORD")
	v.BindEnv("postgres.database", "PG_DB")
	v.BindEnv("postgres.port", "PG_PORT")
	v.BindEnv("postgres.sslmode", "PG_SSLMODE")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// NATS
	v.BindEnv("nats.host", "NATS_HOST")
	v.BindEnv("nats.port", "NATS_PORT")
	v.BindEnv("nats.user", "NATS_USER")
	v.BindEnv("nats.password", "NATS_PASSWORD")

	// Prometheus
	v.BindEnv("prometheus.port", "PROM_PORT")

	// Logging
	v.BindEnv("log.level", "LOG_LEVEL")
}
