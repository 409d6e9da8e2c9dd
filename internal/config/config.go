// Package config loads runtime configuration: defaults, then an optional
// YAML file, then BRANDMODEL_* environment overrides. The result is checked
// against an embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/AakashB275/BrandModel/internal/engine"
	"github.com/AakashB275/BrandModel/internal/model"
)

//go:embed schema.cue
var schemaSource string

type Config struct {
	Log          LogConfig          `yaml:"log"`
	Queue        QueueConfig        `yaml:"queue"`
	Remote       RemoteConfig       `yaml:"remote"`
	Retry        RetryConfig        `yaml:"retry"`
	Match        MatchConfig        `yaml:"match"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Analytics    AnalyticsConfig    `yaml:"analytics"`
	Cache        CacheConfig        `yaml:"cache"`
	HTTP         HTTPConfig         `yaml:"http"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type QueueConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisDB     int    `yaml:"redis_db"`
	RedisPrefix string `yaml:"redis_prefix"`
}

type RemoteConfig struct {
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

type RetryConfig struct {
	BaseDelay     time.Duration `yaml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	MaxAttempts   int           `yaml:"max_attempts"`
	ActionTimeout time.Duration `yaml:"action_timeout"`
	Concurrency   int           `yaml:"concurrency"`
	RateLimit     float64       `yaml:"rate_limit"`
	RateBurst     int           `yaml:"rate_burst"`
}

type MatchConfig struct {
	StandardTTL time.Duration `yaml:"standard_ttl"`
	PremiumTTL  time.Duration `yaml:"premium_ttl"`
}

type ConnectivityConfig struct {
	PingInterval time.Duration `yaml:"ping_interval"`
}

type AnalyticsConfig struct {
	MaxEvents     int           `yaml:"max_events"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type CacheConfig struct {
	MaxAge time.Duration `yaml:"max_age"`
}

type HTTPConfig struct {
	Addr      string `yaml:"addr"`
	JWTSecret string `yaml:"jwt_secret"`
}

func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Queue: QueueConfig{
			Backend:     "sqlite",
			Path:        "brandmodel.db",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "brandmodel:queue",
		},
		Remote: RemoteConfig{
			Backend: "memory",
			Migrate: true,
		},
		Retry: RetryConfig{
			BaseDelay:     engine.DefaultBaseDelay,
			MaxDelay:      engine.DefaultMaxDelay,
			MaxAttempts:   engine.DefaultMaxAttempts,
			ActionTimeout: engine.DefaultActionTimeout,
			Concurrency:   engine.DefaultConcurrency,
			RateLimit:     engine.DefaultRateLimit,
			RateBurst:     engine.DefaultRateBurst,
		},
		Match: MatchConfig{
			StandardTTL: model.StandardMatchTTL,
			PremiumTTL:  model.PremiumMatchTTL,
		},
		Connectivity: ConnectivityConfig{PingInterval: 10 * time.Second},
		Analytics: AnalyticsConfig{
			MaxEvents:     1000,
			BatchSize:     100,
			FlushInterval: 30 * time.Second,
		},
		Cache: CacheConfig{MaxAge: 7 * 24 * time.Hour},
		HTTP:  HTTPConfig{Addr: ":8080"},
	}
}

// Load builds the configuration. A missing file at path is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFromYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("unmarshal config yaml: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	overrideString("BRANDMODEL_LOG_LEVEL", &cfg.Log.Level)

	overrideString("BRANDMODEL_QUEUE_BACKEND", &cfg.Queue.Backend)
	overrideString("BRANDMODEL_QUEUE_PATH", &cfg.Queue.Path)
	overrideString("BRANDMODEL_REDIS_ADDR", &cfg.Queue.RedisAddr)
	if err := overrideInt("BRANDMODEL_REDIS_DB", &cfg.Queue.RedisDB); err != nil {
		return err
	}

	overrideString("BRANDMODEL_REMOTE_BACKEND", &cfg.Remote.Backend)
	overrideString("BRANDMODEL_POSTGRES_DSN", &cfg.Remote.DSN)
	if err := overrideBool("BRANDMODEL_REMOTE_MIGRATE", &cfg.Remote.Migrate); err != nil {
		return err
	}

	if err := overrideDuration("BRANDMODEL_RETRY_BASE_DELAY", &cfg.Retry.BaseDelay); err != nil {
		return err
	}
	if err := overrideDuration("BRANDMODEL_RETRY_MAX_DELAY", &cfg.Retry.MaxDelay); err != nil {
		return err
	}
	if err := overrideInt("BRANDMODEL_RETRY_MAX_ATTEMPTS", &cfg.Retry.MaxAttempts); err != nil {
		return err
	}
	if err := overrideDuration("BRANDMODEL_PING_INTERVAL", &cfg.Connectivity.PingInterval); err != nil {
		return err
	}

	overrideString("BRANDMODEL_HTTP_ADDR", &cfg.HTTP.Addr)
	overrideString("BRANDMODEL_JWT_SECRET", &cfg.HTTP.JWTSecret)
	return nil
}

func overrideString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func overrideDuration(key string, target *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s duration: %w", key, err)
	}
	*target = d
	return nil
}

func overrideInt(key string, target *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parse %s int: %w", key, err)
	}
	*target = n
	return nil
}

func overrideBool(key string, target *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("parse %s bool: %w", key, err)
	}
	*target = b
	return nil
}

// Validate unifies the configuration with the #Config schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(c.view()))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %s", cueerrors.Details(err, nil))
	}
	return nil
}

// Executor converts the retry section to executor settings.
func (r RetryConfig) Executor() engine.Config {
	return engine.Config{
		BaseDelay:     r.BaseDelay,
		MaxDelay:      r.MaxDelay,
		MaxAttempts:   r.MaxAttempts,
		ActionTimeout: r.ActionTimeout,
		Concurrency:   r.Concurrency,
		RateLimit:     r.RateLimit,
		RateBurst:     r.RateBurst,
	}
}

type schemaView struct {
	Log struct {
		Level string `json:"level"`
	} `json:"log"`
	Queue struct {
		Backend     string `json:"backend"`
		Path        string `json:"path"`
		RedisAddr   string `json:"redisAddr"`
		RedisDB     int    `json:"redisDB"`
		RedisPrefix string `json:"redisPrefix"`
	} `json:"queue"`
	Remote struct {
		Backend string `json:"backend"`
		DSN     string `json:"dsn"`
		Migrate bool   `json:"migrate"`
	} `json:"remote"`
	Retry struct {
		BaseDelay     float64 `json:"baseDelaySeconds"`
		MaxDelay      float64 `json:"maxDelaySeconds"`
		MaxAttempts   int     `json:"maxAttempts"`
		ActionTimeout float64 `json:"actionTimeoutSeconds"`
		Concurrency   int     `json:"concurrency"`
		RateLimit     float64 `json:"rateLimit"`
		RateBurst     int     `json:"rateBurst"`
	} `json:"retry"`
	Match struct {
		StandardTTL float64 `json:"standardTTLSeconds"`
		PremiumTTL  float64 `json:"premiumTTLSeconds"`
	} `json:"match"`
	Connectivity struct {
		PingInterval float64 `json:"pingIntervalSeconds"`
	} `json:"connectivity"`
	Analytics struct {
		MaxEvents     int     `json:"maxEvents"`
		BatchSize     int     `json:"batchSize"`
		FlushInterval float64 `json:"flushIntervalSeconds"`
	} `json:"analytics"`
	Cache struct {
		MaxAge float64 `json:"maxAgeSeconds"`
	} `json:"cache"`
	HTTP struct {
		Addr      string `json:"addr"`
		JWTSecret string `json:"jwtSecret"`
	} `json:"http"`
}

func (c Config) view() schemaView {
	var v schemaView
	v.Log.Level = c.Log.Level
	v.Queue.Backend = c.Queue.Backend
	v.Queue.Path = c.Queue.Path
	v.Queue.RedisAddr = c.Queue.RedisAddr
	v.Queue.RedisDB = c.Queue.RedisDB
	v.Queue.RedisPrefix = c.Queue.RedisPrefix
	v.Remote.Backend = c.Remote.Backend
	v.Remote.DSN = c.Remote.DSN
	v.Remote.Migrate = c.Remote.Migrate
	v.Retry.BaseDelay = c.Retry.BaseDelay.Seconds()
	v.Retry.MaxDelay = c.Retry.MaxDelay.Seconds()
	v.Retry.MaxAttempts = c.Retry.MaxAttempts
	v.Retry.ActionTimeout = c.Retry.ActionTimeout.Seconds()
	v.Retry.Concurrency = c.Retry.Concurrency
	v.Retry.RateLimit = c.Retry.RateLimit
	v.Retry.RateBurst = c.Retry.RateBurst
	v.Match.StandardTTL = c.Match.StandardTTL.Seconds()
	v.Match.PremiumTTL = c.Match.PremiumTTL.Seconds()
	v.Connectivity.PingInterval = c.Connectivity.PingInterval.Seconds()
	v.Analytics.MaxEvents = c.Analytics.MaxEvents
	v.Analytics.BatchSize = c.Analytics.BatchSize
	v.Analytics.FlushInterval = c.Analytics.FlushInterval.Seconds()
	v.Cache.MaxAge = c.Cache.MaxAge.Seconds()
	v.HTTP.Addr = c.HTTP.Addr
	v.HTTP.JWTSecret = c.HTTP.JWTSecret
	return v
}
