// Package config loads process configuration in three layers: struct
// defaults, an optional YAML file and WARDEN_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	platformstrings "warden/pkg/platform/strings"
)

const (
	// EnvPrefix is stripped from environment variables before mapping.
	EnvPrefix = "WARDEN_"
	// ConfigPathEnvVar names the optional YAML file.
	ConfigPathEnvVar = "WARDEN_CONFIG"
)

type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	Redis       RedisConfig       `koanf:"redis"`
	Kafka       KafkaConfig       `koanf:"kafka"`
	RateLimit   RateLimitConfig   `koanf:"ratelimit"`
	Threat      ThreatConfig      `koanf:"threat"`
	Aggregation AggregationConfig `koanf:"aggregation"`
	Log         LogConfig         `koanf:"log"`
}

type ServerConfig struct {
	Addr           string        `koanf:"addr" validate:"required"`
	InternalAddr   string        `koanf:"internal_addr" validate:"required"`
	JWTSigningKey  string        `koanf:"jwt_signing_key" validate:"required,min=16"`
	JWTIssuer      string        `koanf:"jwt_issuer"`
	TrustedProxies []string      `koanf:"trusted_proxies"`
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
	ReadTimeout    time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout   time.Duration `koanf:"write_timeout" validate:"gt=0"`
	// BootstrapAdmin, when set, is created as a super_admin at startup.
	BootstrapAdmin string        `koanf:"bootstrap_admin" validate:"omitempty,uuid"`
}

// DatabaseConfig is optional: an empty URL selects the in-memory stores.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// RedisConfig is optional: an empty URL disables the distributed limiter and
// session revocation falls back to a no-op.
type RedisConfig struct {
	URL           string        `koanf:"url"`
	PoolSize      int           `koanf:"pool_size" validate:"gte=1"`
	MinIdleConns  int           `koanf:"min_idle_conns" validate:"gte=0"`
	DialTimeout   time.Duration `koanf:"dial_timeout"`
	ReadTimeout   time.Duration `koanf:"read_timeout"`
	WriteTimeout  time.Duration `koanf:"write_timeout"`
	SessionPrefix string        `koanf:"session_prefix"`
}

// KafkaConfig is optional: no brokers means critical alerts are only logged.
type KafkaConfig struct {
	Brokers     []string `koanf:"brokers"`
	AlertsTopic string   `koanf:"alerts_topic"`
	ClientID    string   `koanf:"client_id"`
}

type RateLimitConfig struct {
	Backend       string        `koanf:"backend" validate:"oneof=memory redis"`
	MaxRequests   int           `koanf:"max_requests" validate:"gte=1"`
	Window        time.Duration `koanf:"window" validate:"gt=0"`
	IPMaxRequests int           `koanf:"ip_max_requests" validate:"gte=1"`
	IPWindow      time.Duration `koanf:"ip_window" validate:"gt=0"`
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"gt=0"`
	SweepGrace    time.Duration `koanf:"sweep_grace" validate:"gte=0"`
}

type ThreatConfig struct {
	BruteForceWindow    time.Duration `koanf:"brute_force_window" validate:"gt=0"`
	BruteForceThreshold int           `koanf:"brute_force_threshold" validate:"gte=2"`
	QueueShards         int           `koanf:"queue_shards" validate:"gte=1,lte=256"`
	QueueSize           int           `koanf:"queue_size" validate:"gte=1"`
}

type AggregationConfig struct {
	Schedule     string        `koanf:"schedule" validate:"required"`
	RunTimeout   time.Duration `koanf:"run_timeout" validate:"gt=0"`
	LookbackDays int           `koanf:"lookback_days" validate:"gte=1"`
}

type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
}

// Default returns the configuration used before any file or env layer.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			InternalAddr:   ":9090",
			JWTSigningKey:  "dev-secret-key-change-in-production",
			JWTIssuer:      "warden",
			RequestTimeout: 30 * time.Second,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   35 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			AutoMigrate:     true,
		},
		Redis: RedisConfig{
			PoolSize:      10,
			MinIdleConns:  2,
			DialTimeout:   5 * time.Second,
			ReadTimeout:   3 * time.Second,
			WriteTimeout:  3 * time.Second,
			SessionPrefix: "session:",
		},
		Kafka: KafkaConfig{
			AlertsTopic: "warden.security.alerts",
			ClientID:    "warden",
		},
		RateLimit: RateLimitConfig{
			Backend:       "memory",
			MaxRequests:   100,
			Window:        time.Minute,
			IPMaxRequests: 300,
			IPWindow:      time.Minute,
			SweepInterval: time.Minute,
			SweepGrace:    5 * time.Minute,
		},
		Threat: ThreatConfig{
			BruteForceWindow:    5 * time.Minute,
			BruteForceThreshold: 5,
			QueueShards:         8,
			QueueSize:           1024,
		},
		Aggregation: AggregationConfig{
			Schedule:     "5 0 * * *",
			RunTimeout:   10 * time.Minute,
			LookbackDays: 1,
		},
		Log: LogConfig{Level: "info"},
	}
}

// sliceKeys are split on commas when they arrive as a single env string.
var sliceKeys = []string{
	"server.trusted_proxies",
	"kafka.brokers",
}

// Load layers defaults, the optional YAML file named by WARDEN_CONFIG and
// environment overrides, then validates the result.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(ConfigPathEnvVar))
}

// LoadFile is Load with an explicit file path; an empty path skips the file layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := splitSlices(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Server.TrustedProxies = platformstrings.DedupeAndTrim(cfg.Server.TrustedProxies)
	cfg.Kafka.Brokers = platformstrings.DedupeAndTrim(cfg.Kafka.Brokers)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps WARDEN_RATELIMIT__MAX_REQUESTS to ratelimit.max_requests.
// Returning "" drops the variable.
func envKey(key string) string {
	if key == ConfigPathEnvVar {
		return ""
	}
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ToLower(strings.ReplaceAll(key, "__", "."))
}

func splitSlices(k *koanf.Koanf) error {
	for _, key := range sliceKeys {
		raw, ok := k.Get(key).(string)
		if !ok {
			continue
		}
		if err := k.Set(key, platformstrings.SplitList(raw)); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.RateLimit.Backend == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("invalid configuration: ratelimit.backend=redis requires redis.url")
	}
	return nil
}
