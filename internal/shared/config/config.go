package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Routing   RoutingConfig   `mapstructure:"routing"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crypto    CryptoConfig    `mapstructure:"crypto"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	// CheckoutBaseURL is the public origin used to build hosted
	// checkout links, e.g. for the demo provider.
	CheckoutBaseURL string `mapstructure:"checkout_base_url"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RoutingConfig holds routing and orchestration configuration.
type RoutingConfig struct {
	MaxAttemptsPerRoot int           `mapstructure:"max_attempts_per_root"`
	SessionTimeout     time.Duration `mapstructure:"session_timeout"`
}

// ProvidersConfig holds global (environment-tier) provider credentials.
// Merchant-level credentials take precedence over these.
type ProvidersConfig struct {
	Stripe StripeConfig `mapstructure:"stripe"`
	Adyen  AdyenConfig  `mapstructure:"adyen"`
}

// StripeConfig holds global Stripe credentials.
type StripeConfig struct {
	SecretKey      string `mapstructure:"secret_key"`
	PublishableKey string `mapstructure:"publishable_key"`
	WebhookSecret  string `mapstructure:"webhook_secret"`
}

// Configured reports whether the required Stripe fields are present.
func (c *StripeConfig) Configured() bool {
	return c.SecretKey != "" && c.PublishableKey != ""
}

// AdyenConfig holds global Adyen credentials.
type AdyenConfig struct {
	APIKey          string `mapstructure:"api_key"`
	MerchantAccount string `mapstructure:"merchant_account"`
	ClientKey       string `mapstructure:"client_key"`
	HMACKey         string `mapstructure:"hmac_key"`
	Environment     string `mapstructure:"environment"`
}

// Configured reports whether the required Adyen fields are present.
func (c *AdyenConfig) Configured() bool {
	return c.APIKey != "" && c.MerchantAccount != "" && c.ClientKey != ""
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	JWTSecret         string        `mapstructure:"jwt_secret"`
	AccessTokenExpiry time.Duration `mapstructure:"access_token_expiry"`
}

// CryptoConfig holds encryption-at-rest configuration.
type CryptoConfig struct {
	// MasterKey is a base64-encoded 32-byte AES key used to encrypt
	// merchant provider credentials at rest.
	MasterKey string `mapstructure:"master_key"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/routepay")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults and env
	}

	v.SetEnvPrefix("ROUTEPAY")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override with environment variables for sensitive values
	if secret := os.Getenv("ROUTEPAY_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if password := os.Getenv("ROUTEPAY_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if password := os.Getenv("ROUTEPAY_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if key := os.Getenv("ROUTEPAY_MASTER_KEY"); key != "" {
		cfg.Crypto.MasterKey = key
	}
	if key := os.Getenv("ROUTEPAY_STRIPE_SECRET_KEY"); key != "" {
		cfg.Providers.Stripe.SecretKey = key
	}
	if key := os.Getenv("ROUTEPAY_ADYEN_API_KEY"); key != "" {
		cfg.Providers.Adyen.APIKey = key
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.checkout_base_url", "http://localhost:8080")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "routepay")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Routing defaults
	v.SetDefault("routing.max_attempts_per_root", 3)
	v.SetDefault("routing.session_timeout", 10*time.Second)

	// Auth defaults
	v.SetDefault("auth.access_token_expiry", 15*time.Minute)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
