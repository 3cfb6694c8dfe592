package config

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/Alturino/storefront/internal/log"
)

type Application struct {
	Env     string `mapstructure:"env"      json:"env"`
	Host    string `mapstructure:"host"     json:"host"`
	LogPath string `mapstructure:"log_path" json:"log_path"`
	Port    int    `mapstructure:"port"     json:"port"`
}

type Database struct {
	Name           string `mapstructure:"name"            json:"name"`
	Host           string `mapstructure:"host"            json:"host"`
	MigrationPath  string `mapstructure:"migration_path"  json:"migration_path"`
	Password       string `mapstructure:"password"        json:"-"`
	TimeZone       string `mapstructure:"timezone"        json:"timezone"`
	Username       string `mapstructure:"username"        json:"username"`
	MaxConnections int    `mapstructure:"max_connections" json:"max_connections"`
	MinConnections int    `mapstructure:"min_connections" json:"min_connections"`
	Port           uint16 `mapstructure:"port"            json:"port"`
}

type Cache struct {
	Host     string `mapstructure:"host"     json:"host"`
	Password string `mapstructure:"password" json:"-"`
	Database int    `mapstructure:"database" json:"database"`
	Port     uint16 `mapstructure:"port"     json:"port"`
}

type Otel struct {
	Host    string `mapstructure:"host"    json:"host"`
	Port    int    `mapstructure:"port"    json:"port"`
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
}

// Storage selects where the cart record lives: memory, redis or postgres.
type Storage struct {
	Driver string `mapstructure:"driver" json:"driver"`
}

type Cart struct {
	Key      string        `mapstructure:"key"      json:"key"`
	Currency string        `mapstructure:"currency" json:"currency"`
	TTL      time.Duration `mapstructure:"ttl"      json:"ttl"`
}

type Notification struct {
	Gap             time.Duration `mapstructure:"gap"              json:"gap"`
	DefaultDuration time.Duration `mapstructure:"default_duration" json:"default_duration"`
}

type Fetcher struct {
	MaxRetries         int           `mapstructure:"max_retries"         json:"max_retries"`
	BaseDelay          time.Duration `mapstructure:"base_delay"          json:"base_delay"`
	RecoverableStatus  []int         `mapstructure:"recoverable_status"  json:"recoverable_status"`
	NotificationLength time.Duration `mapstructure:"notification_length" json:"notification_length"`
}

type PaymentMethod struct {
	Name      string        `mapstructure:"name"       json:"name"`
	Currency  string        `mapstructure:"currency"   json:"currency"`
	BaseURL   string        `mapstructure:"base_url"   json:"base_url"`
	SecretKey string        `mapstructure:"secret_key" json:"-"`
	Timeout   time.Duration `mapstructure:"timeout"    json:"timeout"`
}

type Checkout struct {
	Countdown    time.Duration   `mapstructure:"countdown"     json:"countdown"`
	PollInterval time.Duration   `mapstructure:"poll_interval" json:"poll_interval"`
	Methods      []PaymentMethod `mapstructure:"methods"       json:"methods"`
}

type Kafka struct {
	Brokers       []string      `mapstructure:"brokers"        json:"brokers"`
	Topic         string        `mapstructure:"topic"          json:"topic"`
	BatchSize     int           `mapstructure:"batch_size"     json:"batchSize"`
	FlushInterval time.Duration `mapstructure:"flush_interval" json:"flushInterval"`
}

type Config struct {
	Database     `mapstructure:"db"           json:"db"`
	Cache        `mapstructure:"cache"        json:"cache"`
	Application  `mapstructure:"application"  json:"application"`
	Otel         `mapstructure:"otel"         json:"otel"`
	Storage      `mapstructure:"storage"      json:"storage"`
	Cart         `mapstructure:"cart"         json:"cart"`
	Notification `mapstructure:"notification" json:"notification"`
	Fetcher      `mapstructure:"fetcher"      json:"fetcher"`
	Checkout     `mapstructure:"checkout"     json:"checkout"`
	Kafka        `mapstructure:"kafka"        json:"kafka"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("application.env", "production")
	v.SetDefault("application.host", "localhost")
	v.SetDefault("application.port", 8080)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("cart.key", "cart_store")
	v.SetDefault("cart.currency", "USD")
	v.SetDefault("cart.ttl", 2*time.Hour)
	v.SetDefault("notification.gap", 300*time.Millisecond)
	v.SetDefault("notification.default_duration", 3*time.Second)
	v.SetDefault("fetcher.max_retries", 3)
	v.SetDefault("fetcher.base_delay", time.Second)
	v.SetDefault("fetcher.recoverable_status", []int{502, 503, 504})
	v.SetDefault("fetcher.notification_length", 5*time.Second)
	v.SetDefault("checkout.countdown", 600*time.Second)
	v.SetDefault("checkout.poll_interval", time.Duration(0))
	v.SetDefault("kafka.topic", "checkout-settled")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.flush_interval", 300*time.Millisecond)
}

// InitConfig reads <filename>.yaml from the given paths, ./env when none are
// given, and overlays environment variables.
func InitConfig(c context.Context, filename string, paths ...string) (*Config, error) {
	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "main InitConfig").
		Str(log.KeyProcess, "init config").
		Str("filename", filename).
		Logger()

	v := viper.New()
	v.SetConfigName(filename)
	if len(paths) == 0 {
		paths = []string{"./env"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	setDefaults(v)

	logger = logger.With().Str(log.KeyProcess, "reading config").Logger()
	logger.Info().Msg("reading config")
	err := v.ReadInConfig()
	if err != nil {
		err = fmt.Errorf("error when reading config with error=%w", err)
		logger.Error().Err(err).Msg(err.Error())
		return nil, err
	}
	logger.Info().Msg("read config")

	logger = logger.With().Str(log.KeyProcess, "unmarshaling config").Logger()
	logger.Info().Msg("unmarshaling config")
	cfg := Config{}
	err = v.Unmarshal(&cfg)
	if err != nil {
		err = fmt.Errorf("error unmarshaling config with error=%w", err)
		logger.Error().Err(err).Msg(err.Error())
		return nil, err
	}
	logger.Info().Any(log.KeyConfig, cfg).Msg("unmarshaled config")

	return &cfg, nil
}
