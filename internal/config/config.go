package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPPort    string
	LogLevel    string
	CORSOrigins []string

	DB       DBConfig
	Gateway  GatewayConfig
	Shipping ShippingConfig
	Notifier NotifierConfig
	Worker   WorkerConfig
}

type DBConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	Schema   string
}

// DSN is the pgx connection string.
func (c DBConfig) DSN() string {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.Username, c.Password, c.Host, c.Port, c.Database)
	if c.Schema != "" {
		dsn += "&search_path=" + c.Schema
	}
	return dsn
}

type GatewayConfig struct {
	BaseURL       string
	ServerKey     string
	Timeout       time.Duration
	WebhookSecret string
	Location      *time.Location
}

type ShippingConfig struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	TrackingTimeout time.Duration
	OriginName      string
	OriginPhone     string
	OriginAddress   string
	OriginPostal    string
	Location        *time.Location
}

type NotifierConfig struct {
	Kind             string
	RabbitMQURL      string
	RabbitMQExchange string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisChannel     string
}

type WorkerConfig struct {
	Enabled           bool
	Interval          time.Duration
	StuckPaymentAge   time.Duration
	ProvisionRetryAge time.Duration
	BatchSize         int
}

func defaults(v *viper.Viper) {
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("BLUEPRINT_DB_HOST", "localhost")
	v.SetDefault("BLUEPRINT_DB_PORT", "5432")
	v.SetDefault("BLUEPRINT_DB_SCHEMA", "public")
	v.SetDefault("PAYMENT_GATEWAY_TIMEOUT", "10s")
	v.SetDefault("PAYMENT_GATEWAY_TIMEZONE", "Asia/Jakarta")
	v.SetDefault("SHIPPING_PROVIDER_TIMEZONE", "Asia/Jakarta")
	v.SetDefault("SHIPPING_PROVIDER_TIMEOUT", "10s")
	v.SetDefault("TRACKING_TIMEOUT", "3s")
	v.SetDefault("NOTIFIER", "log")
	v.SetDefault("RABBITMQ_EXCHANGE", "orders.events")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_CHANNEL", "order_events")
	v.SetDefault("WORKER_ENABLED", true)
	v.SetDefault("WORKER_INTERVAL", "1m")
	v.SetDefault("WORKER_STUCK_PAYMENT_AGE", "15m")
	v.SetDefault("WORKER_PROVISION_RETRY_AGE", "2m")
	v.SetDefault("WORKER_BATCH_SIZE", 50)
}

// Load reads configuration from the environment (and a .env file, when present).
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	defaults(v)

	cfg := &Config{
		HTTPPort:    v.GetString("HTTP_PORT"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		CORSOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		DB:          dbConfig(v),
		Gateway: GatewayConfig{
			BaseURL:       strings.TrimRight(v.GetString("PAYMENT_GATEWAY_BASE_URL"), "/"),
			ServerKey:     v.GetString("PAYMENT_GATEWAY_SERVER_KEY"),
			Timeout:       v.GetDuration("PAYMENT_GATEWAY_TIMEOUT"),
			WebhookSecret: v.GetString("PAYMENT_WEBHOOK_SECRET"),
		},
		Shipping: ShippingConfig{
			BaseURL:         strings.TrimRight(v.GetString("SHIPPING_PROVIDER_BASE_URL"), "/"),
			APIKey:          v.GetString("SHIPPING_PROVIDER_API_KEY"),
			Timeout:         v.GetDuration("SHIPPING_PROVIDER_TIMEOUT"),
			TrackingTimeout: v.GetDuration("TRACKING_TIMEOUT"),
			OriginName:      v.GetString("SHIPPING_ORIGIN_NAME"),
			OriginPhone:     v.GetString("SHIPPING_ORIGIN_PHONE"),
			OriginAddress:   v.GetString("SHIPPING_ORIGIN_ADDRESS"),
			OriginPostal:    v.GetString("SHIPPING_ORIGIN_POSTAL_CODE"),
		},
		Notifier: NotifierConfig{
			Kind:             strings.ToLower(strings.TrimSpace(v.GetString("NOTIFIER"))),
			RabbitMQURL:      v.GetString("RABBITMQ_URL"),
			RabbitMQExchange: v.GetString("RABBITMQ_EXCHANGE"),
			RedisAddr:        v.GetString("REDIS_ADDR"),
			RedisPassword:    v.GetString("REDIS_PASSWORD"),
			RedisDB:          v.GetInt("REDIS_DB"),
			RedisChannel:     v.GetString("REDIS_CHANNEL"),
		},
		Worker: WorkerConfig{
			Enabled:           v.GetBool("WORKER_ENABLED"),
			Interval:          v.GetDuration("WORKER_INTERVAL"),
			StuckPaymentAge:   v.GetDuration("WORKER_STUCK_PAYMENT_AGE"),
			ProvisionRetryAge: v.GetDuration("WORKER_PROVISION_RETRY_AGE"),
			BatchSize:         v.GetInt("WORKER_BATCH_SIZE"),
		},
	}

	var errs []error
	var err error
	if cfg.Gateway.Location, err = time.LoadLocation(v.GetString("PAYMENT_GATEWAY_TIMEZONE")); err != nil {
		errs = append(errs, fmt.Errorf("PAYMENT_GATEWAY_TIMEZONE: %w", err))
	}
	if cfg.Shipping.Location, err = time.LoadLocation(v.GetString("SHIPPING_PROVIDER_TIMEZONE")); err != nil {
		errs = append(errs, fmt.Errorf("SHIPPING_PROVIDER_TIMEZONE: %w", err))
	}
	if err := errors.Join(append(errs, cfg.Validate())...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Gateway.WebhookSecret) == "" {
		errs = append(errs, errors.New("PAYMENT_WEBHOOK_SECRET is required: webhook signature verification cannot be disabled"))
	}
	if c.DB.Database == "" || c.DB.Username == "" {
		errs = append(errs, errors.New("BLUEPRINT_DB_DATABASE and BLUEPRINT_DB_USERNAME are required"))
	}
	if c.Gateway.Timeout <= 0 || c.Shipping.Timeout <= 0 || c.Shipping.TrackingTimeout <= 0 {
		errs = append(errs, errors.New("gateway, shipping and tracking timeouts must be positive"))
	}

	switch c.Notifier.Kind {
	case "log":
	case "amqp":
		if c.Notifier.RabbitMQURL == "" {
			errs = append(errs, errors.New("RABBITMQ_URL is required when NOTIFIER=amqp"))
		}
	case "redis":
		if c.Notifier.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required when NOTIFIER=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown NOTIFIER %q", c.Notifier.Kind))
	}

	if c.Worker.Enabled && (c.Worker.Interval <= 0 || c.Worker.BatchSize <= 0) {
		errs = append(errs, errors.New("WORKER_INTERVAL and WORKER_BATCH_SIZE must be positive"))
	}

	return errors.Join(errs...)
}

// LoadDatabase reads only the database settings, for tools that need no other configuration.
func LoadDatabase() (DBConfig, error) {
	v := viper.New()
	v.AutomaticEnv()
	defaults(v)

	db := dbConfig(v)
	if db.Database == "" || db.Username == "" {
		return db, errors.New("BLUEPRINT_DB_DATABASE and BLUEPRINT_DB_USERNAME are required")
	}
	return db, nil
}

func dbConfig(v *viper.Viper) DBConfig {
	return DBConfig{
		Host:     v.GetString("BLUEPRINT_DB_HOST"),
		Port:     v.GetString("BLUEPRINT_DB_PORT"),
		Database: v.GetString("BLUEPRINT_DB_DATABASE"),
		Username: v.GetString("BLUEPRINT_DB_USERNAME"),
		Password: v.GetString("BLUEPRINT_DB_PASSWORD"),
		Schema:   v.GetString("BLUEPRINT_DB_SCHEMA"),
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
