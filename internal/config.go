package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Currency      CurrencyConfig      `mapstructure:"currency"`
	Payments      PaymentsConfig      `mapstructure:"payments"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CurrencyConfig drives the conversion service. Fallback rates are a
// configuration concern, not core logic; the defaults here only cover the
// corridors this platform actually charges in.
type CurrencyConfig struct {
	APIURL          string             `mapstructure:"api_url"`
	FetchTimeout    time.Duration      `mapstructure:"fetch_timeout"`
	FreshnessWindow time.Duration      `mapstructure:"freshness_window"`
	CacheSize       int                `mapstructure:"cache_size"`
	FallbackRates   map[string]float64 `mapstructure:"fallback_rates"`
}

// PaymentsConfig holds the fee schedule, the provider set and reconciliation
// tuning. Selecting live vs sandbox per provider is an explicit config
// decision, never inferred from build mode.
type PaymentsConfig struct {
	DefaultGateway   string                   `mapstructure:"default_gateway"`
	FeeAmount        string                   `mapstructure:"fee_amount"`
	FeeCurrency      string                   `mapstructure:"fee_currency"`
	PendingRetention time.Duration            `mapstructure:"pending_retention"`
	SweepInterval    time.Duration            `mapstructure:"sweep_interval"`
	Gateways         map[string]GatewayConfig `mapstructure:"gateways"`
}

type GatewayConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	PublicKey     string `mapstructure:"public_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	BaseURL       string `mapstructure:"base_url"`
	Environment   string `mapstructure:"environment"`
	CallbackURL   string `mapstructure:"callback_url"`
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// LoadConfigFromEnv builds a Config from environment variables for container
// deployments where no config file is mounted. Gateway credentials follow the
// PAYSTACK_* / FLUTTERWAVE_* convention.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("SERVER_PORT", 8080),
			BaseURL:           getEnv("SERVER_BASE_URL", "http://localhost:8080"),
			AllowedOrigins:    getEnv("SERVER_ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("SERVER_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Source:          getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvAsInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DATABASE_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
		Currency: CurrencyConfig{
			APIURL:          getEnv("CURRENCY_API_URL", "https://open.er-api.com/v6/latest"),
			FetchTimeout:    getEnvAsDuration("CURRENCY_FETCH_TIMEOUT", 5*time.Second),
			FreshnessWindow: getEnvAsDuration("CURRENCY_FRESHNESS_WINDOW", time.Hour),
			CacheSize:       getEnvAsInt("CURRENCY_CACHE_SIZE", 128),
		},
		Payments: PaymentsConfig{
			DefaultGateway:   getEnv("PAYMENTS_DEFAULT_GATEWAY", "paystack"),
			FeeAmount:        getEnv("PAYMENTS_FEE_AMOUNT", "300"),
			FeeCurrency:      getEnv("PAYMENTS_FEE_CURRENCY", "USD"),
			PendingRetention: getEnvAsDuration("PAYMENTS_PENDING_RETENTION", 24*time.Hour),
			SweepInterval:    getEnvAsDuration("PAYMENTS_SWEEP_INTERVAL", time.Hour),
			Gateways: map[string]GatewayConfig{
				"paystack": {
					SecretKey:     os.Getenv("PAYSTACK_SECRET_KEY"),
					PublicKey:     os.Getenv("PAYSTACK_PUBLIC_KEY"),
					WebhookSecret: os.Getenv("PAYSTACK_WEBHOOK_SECRET"),
					BaseURL:       getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
					Environment:   getEnv("PAYSTACK_ENVIRONMENT", "sandbox"),
					CallbackURL:   os.Getenv("PAYSTACK_CALLBACK_URL"),
				},
				"flutterwave": {
					SecretKey:     os.Getenv("FLUTTERWAVE_SECRET_KEY"),
					PublicKey:     os.Getenv("FLUTTERWAVE_PUBLIC_KEY"),
					WebhookSecret: os.Getenv("FLUTTERWAVE_WEBHOOK_SECRET"),
					BaseURL:       getEnv("FLUTTERWAVE_BASE_URL", "https://api.flutterwave.com/v3"),
					Environment:   getEnv("FLUTTERWAVE_ENVIRONMENT", "sandbox"),
					CallbackURL:   os.Getenv("FLUTTERWAVE_CALLBACK_URL"),
				},
			},
		},
	}
	return cfg
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Currency.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("currency config: %v", err))
	}

	if err := c.Payments.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("payments config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *CurrencyConfig) Validate() error {
	if c.APIURL == "" {
		return errors.New("api_url is required")
	}
	if c.FreshnessWindow <= 0 {
		return errors.New("freshness_window must be positive")
	}
	for pair, rate := range c.FallbackRates {
		if rate <= 0 {
			return fmt.Errorf("fallback rate for %s must be positive", pair)
		}
	}
	return nil
}

func (c *PaymentsConfig) Validate() error {
	if c.FeeAmount == "" || c.FeeCurrency == "" {
		return errors.New("fee_amount and fee_currency are required")
	}
	if len(c.Gateways) == 0 {
		return errors.New("at least one gateway must be configured")
	}
	for name, gw := range c.Gateways {
		if err := gw.Validate(); err != nil {
			return fmt.Errorf("gateway %s: %w", name, err)
		}
	}
	if c.DefaultGateway != "" {
		if _, ok := c.Gateways[c.DefaultGateway]; !ok {
			return fmt.Errorf("default gateway %s is not configured", c.DefaultGateway)
		}
	}
	return nil
}

func (g *GatewayConfig) Validate() error {
	switch g.Environment {
	case "sandbox", "live":
	default:
		return fmt.Errorf("environment must be sandbox or live, got %q", g.Environment)
	}
	return nil
}

// Complete reports whether the provider has enough credentials to register.
// Incomplete providers are omitted at startup rather than registered broken.
func (g *GatewayConfig) Complete() bool {
	return g.SecretKey != "" && g.BaseURL != ""
}
