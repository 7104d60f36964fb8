package config

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultSymbols is subscribed when fix.symbols is not configured: major pairs, metals,
// indices and crypto.
var DefaultSymbols = []string{
	"EURUSD", "GBPUSD", "USDJPY", "USDCHF", "AUDUSD", "USDCAD", "NZDUSD", "EURGBP", "EURJPY", "GBPJPY",
	"XAUUSD", "XAGUSD",
	"US30", "US500", "USTEC", "GER40", "UK100",
	"BTCUSD", "ETHUSD",
}

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	FIX       FIXConfig       `mapstructure:"fix"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Sim       SimConfig       `mapstructure:"sim"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// FIXConfig describes the market-data session to the upstream gateway.
type FIXConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	SenderCompID   string   `mapstructure:"sender_comp_id"`
	TargetCompID   string   `mapstructure:"target_comp_id"`
	Username       string   `mapstructure:"username"`
	Password       string   `mapstructure:"password"`
	Account        string   `mapstructure:"account"`
	Symbols        []string `mapstructure:"symbols"`
	SymbolSuffixes []string `mapstructure:"symbol_suffixes"`
	ResetSeqNum    bool     `mapstructure:"reset_seq_num"`
	MaxFrameBytes  int      `mapstructure:"max_frame_bytes"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout"`
	LogoutGrace       time.Duration `mapstructure:"logout_grace"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
}

func (c FIXConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type ReconnectConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
	Delay         time.Duration `mapstructure:"delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	Strategy      string        `mapstructure:"strategy"` // "constant" or "exponential"
}

type ProcessorConfig struct {
	NumWorkers int           `mapstructure:"num_workers"`
	QuoteTTL   time.Duration `mapstructure:"quote_ttl"`
}

type GatewayConfig struct {
	MaxQuoteAge time.Duration `mapstructure:"max_quote_age"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// SimConfig drives cmd/fixsim, the local stand-in for the upstream gateway.
type SimConfig struct {
	Port              int           `mapstructure:"port"`
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Load .env file into System Environment (if it exists)
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	// 2. Set Defaults
	setDefaults(v)

	// 3. Environment variables: "fix.sender_comp_id" -> "FIX_SENDER_COMP_ID"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Explicitly Bind Env Vars to Keys so Unmarshal sees flat env vars
	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "logger.level", "logger.development")
	bindEnv(v, "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "kafka.brokers", "kafka.topic", "kafka.group_id")
	bindEnv(v, "fix.host", "fix.port", "fix.sender_comp_id", "fix.target_comp_id",
		"fix.username", "fix.password", "fix.account", "fix.symbols", "fix.symbol_suffixes",
		"fix.reset_seq_num", "fix.max_frame_bytes", "fix.heartbeat_interval", "fix.read_timeout",
		"fix.write_timeout", "fix.dial_timeout", "fix.logout_grace", "fix.settle_delay")
	bindEnv(v, "reconnect.check_interval", "reconnect.delay", "reconnect.max_delay", "reconnect.strategy")
	bindEnv(v, "processor.num_workers", "processor.quote_ttl")
	bindEnv(v, "gateway.max_quote_age")
	bindEnv(v, "metrics.addr")
	bindEnv(v, "sim.port", "sim.tick_interval", "sim.heartbeat_interval")

	// 5. Unmarshal into Struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if len(cfg.FIX.Symbols) == 0 {
		cfg.FIX.Symbols = append([]string(nil), DefaultSymbols...)
	}

	// 6. Basic Validation
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.development", false)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "fix_quotes")
	v.SetDefault("kafka.group_id", "quote-processor-group")

	v.SetDefault("fix.host", "localhost")
	v.SetDefault("fix.port", 9880)
	v.SetDefault("fix.sender_comp_id", "QUOTES_CLIENT")
	v.SetDefault("fix.target_comp_id", "FIX_GATEWAY")
	v.SetDefault("fix.username", "")
	v.SetDefault("fix.password", "")
	v.SetDefault("fix.account", "")
	v.SetDefault("fix.symbols", []string{})
	v.SetDefault("fix.symbol_suffixes", []string{".r", ".m", ".pro", ".ecn", ".i"})
	v.SetDefault("fix.reset_seq_num", true)
	v.SetDefault("fix.max_frame_bytes", 1<<20)
	v.SetDefault("fix.heartbeat_interval", 25*time.Second)
	v.SetDefault("fix.read_timeout", 30*time.Second)
	v.SetDefault("fix.write_timeout", 5*time.Second)
	v.SetDefault("fix.dial_timeout", 10*time.Second)
	v.SetDefault("fix.logout_grace", 2*time.Second)
	v.SetDefault("fix.settle_delay", 2*time.Second)

	v.SetDefault("reconnect.check_interval", 10*time.Second)
	v.SetDefault("reconnect.delay", 5*time.Second)
	v.SetDefault("reconnect.max_delay", time.Minute)
	v.SetDefault("reconnect.strategy", "constant")

	v.SetDefault("processor.num_workers", 4)
	v.SetDefault("processor.quote_ttl", time.Hour)

	v.SetDefault("gateway.max_quote_age", 30*time.Second)

	v.SetDefault("metrics.addr", ":9100")

	v.SetDefault("sim.port", 9880)
	v.SetDefault("sim.tick_interval", 250*time.Millisecond)
	v.SetDefault("sim.heartbeat_interval", 30*time.Second)
}

// Validate rejects configurations no service can start with.
func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers cannot be empty")
	}
	if c.FIX.Host == "" || c.FIX.Port <= 0 {
		return fmt.Errorf("fix host/port must be set, got %q:%d", c.FIX.Host, c.FIX.Port)
	}
	if c.FIX.SenderCompID == "" || c.FIX.TargetCompID == "" {
		return fmt.Errorf("fix sender and target comp ids are required")
	}
	if c.FIX.HeartbeatInterval <= 0 || c.FIX.ReadTimeout <= 0 {
		return fmt.Errorf("fix heartbeat interval and read timeout must be positive")
	}
	switch c.Reconnect.Strategy {
	case "constant", "exponential":
	default:
		return fmt.Errorf("unknown reconnect strategy %q", c.Reconnect.Strategy)
	}
	if c.Processor.NumWorkers <= 0 {
		return fmt.Errorf("processor workers must be positive")
	}
	return nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
