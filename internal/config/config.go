package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

type Config struct {
	Port          string `env:"PORT,default=8080"`
	AllowedOrigin string `env:"ALLOWED_ORIGIN,default=http://127.0.0.1:3000"`
	DatabaseURL   string `env:"DATABASE_URL"`
	AutoMigrate   bool   `env:"DB_AUTO_MIGRATE,default=true"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0"`

	AuthSecret            string `env:"AUTH_SECRET"`
	AccessTokenTTLMinutes int    `env:"ACCESS_TOKEN_TTL_MINUTES,default=1440"`
	LoginRatePerMinute    int    `env:"LOGIN_RATE_PER_MINUTE,default=10"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=text"`

	ReportCacheTTLSeconds int `env:"REPORT_CACHE_TTL_SECONDS,default=30"`

	KafkaBrokers      string `env:"KAFKA_BROKERS"`
	KafkaTopic        string `env:"KAFKA_TOPIC,default=taller.events"`
	StockScanSchedule string `env:"STOCK_SCAN_SCHEDULE,default=@hourly"`

	WorkshopName    string `env:"WORKSHOP_NAME,default=Taller Mecánico Negreira"`
	WorkshopAddress string `env:"WORKSHOP_ADDRESS"`
	WorkshopPhone   string `env:"WORKSHOP_PHONE"`
	WorkshopEmail   string `env:"WORKSHOP_EMAIL"`
}

// Load reads an optional .env file and decodes the environment into Config.
// Variables already present in the environment win over the file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 1440
	}
	if cfg.ReportCacheTTLSeconds < 0 {
		cfg.ReportCacheTTLSeconds = 0
	}
	if cfg.LoginRatePerMinute < 1 {
		cfg.LoginRatePerMinute = 10
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) ReportCacheTTL() time.Duration {
	return time.Duration(c.ReportCacheTTLSeconds) * time.Second
}

// Brokers splits KAFKA_BROKERS on commas. Empty means event publishing is off.
func (c Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
