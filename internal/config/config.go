package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the parser service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Poller    PollerConfig    `mapstructure:"poller"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	ServiceName  string `mapstructure:"service_name"`
	LogLevel     string `mapstructure:"log_level"`
}

// DatabaseConfig selects the item store. Driver is "postgres" or "memory".
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DB       string `mapstructure:"db"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// DSN renders the pgx connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DB, c.SSLMode,
	)
}

type NATSConfig struct {
	URL          string        `mapstructure:"url"`
	Subject      string        `mapstructure:"subject"`
	Stream       string        `mapstructure:"stream"`
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
	Subscribe    bool          `mapstructure:"subscribe"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns host:port for go-redis.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type PollerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
	CBRURL          string        `mapstructure:"cbr_url"`
	BinanceURL      string        `mapstructure:"binance_url"`
	Currencies      []string      `mapstructure:"currencies"`
	CryptoCodes     []string      `mapstructure:"crypto_codes"`
	CBRPlatform     string        `mapstructure:"cbr_platform"`
	CryptoPlatform  string        `mapstructure:"crypto_platform"`
	FallbackUSDRate float64       `mapstructure:"fallback_usd_rate"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
	WriteWait    time.Duration `mapstructure:"write_wait"`
}

type BootstrapConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load reads config from the optional YAML file at path, then overlays
// environment variables with the PARSER_ prefix (e.g. PARSER_SERVER_PORT).
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PARSER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Poller.Currencies = normalizeCodes(cfg.Poller.Currencies)
	cfg.Poller.CryptoCodes = normalizeCodes(cfg.Poller.CryptoCodes)

	return &cfg, nil
}

// normalizeCodes accepts both YAML lists and comma separated env values
// (PARSER_POLLER_CURRENCIES=USD,EUR) and upper-cases every code.
func normalizeCodes(in []string) []string {
	out := make([]string, 0, len(in))
	for _, raw := range in {
		for _, code := range strings.Split(raw, ",") {
			code = strings.ToUpper(strings.TrimSpace(code))
			if code != "" {
				out = append(out, code)
			}
		}
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.service_name", "currency-parser")
	v.SetDefault("telemetry.log_level", "info")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "parser")
	v.SetDefault("database.password", "parser")
	v.SetDefault("database.db", "parser")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject", "items.updates")
	v.SetDefault("nats.stream", "ITEMS")
	v.SetDefault("nats.flush_timeout", time.Second)
	v.SetDefault("nats.subscribe", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("poller.enabled", true)
	v.SetDefault("poller.interval", 60*time.Second)
	v.SetDefault("poller.request_timeout", 10*time.Second)
	v.SetDefault("poller.user_agent", "Mozilla/5.0 (compatible; CurrencyParser/1.0)")
	v.SetDefault("poller.cbr_url", "https://www.cbr.ru/scripts/XML_daily.asp")
	v.SetDefault("poller.binance_url", "https://api.binance.com/api/v3/ticker/price")
	v.SetDefault("poller.currencies", []string{"USD", "EUR", "CNY"})
	v.SetDefault("poller.crypto_codes", []string{"BTC", "ETH"})
	v.SetDefault("poller.cbr_platform", "CBR")
	v.SetDefault("poller.crypto_platform", "Binance")
	v.SetDefault("poller.fallback_usd_rate", 80.0)
	v.SetDefault("poller.cache_ttl", 10*time.Minute)

	v.SetDefault("websocket.ping_interval", 30*time.Second)
	v.SetDefault("websocket.pong_wait", 60*time.Second)
	v.SetDefault("websocket.write_wait", 10*time.Second)

	v.SetDefault("bootstrap.timeout", 2*time.Minute)
}
