package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// config is the service configuration. Values come from defaults, then
	// the optional YAML file, then the environment, then flags.
	config struct {
		HTTPAddr string            `yaml:"http_addr"`
		Debug    bool              `yaml:"debug"`
		Store    string            `yaml:"store"`
		Redis    redisConfig       `yaml:"redis"`
		Mongo    mongoConfig       `yaml:"mongo"`
		Stream   streamConfig      `yaml:"stream"`
		SSE      sseConfig         `yaml:"sse"`
		Schemas  map[string]string `yaml:"schemas"`
	}

	redisConfig struct {
		URL       string        `yaml:"url"`
		Password  string        `yaml:"password"`
		Prefix    string        `yaml:"prefix"`
		Retention time.Duration `yaml:"retention"`
	}

	mongoConfig struct {
		URI      string        `yaml:"uri"`
		Database string        `yaml:"database"`
		Timeout  time.Duration `yaml:"timeout"`
	}

	streamConfig struct {
		Pulse  bool `yaml:"pulse"`
		MaxLen int  `yaml:"max_len"`
		Buffer int  `yaml:"buffer"`
	}

	sseConfig struct {
		Heartbeat    time.Duration `yaml:"heartbeat"`
		PollInterval time.Duration `yaml:"poll_interval"`
		Retry        time.Duration `yaml:"retry"`
		ReplayRate   float64       `yaml:"replay_rate"`
		ReplayBurst  int           `yaml:"replay_burst"`
		PageSize     int           `yaml:"page_size"`
	}
)

const (
	storeMemory = "memory"
	storeRedis  = "redis"
	storeMongo  = "mongo"
)

func defaultConfig() config {
	return config{
		HTTPAddr: ":8080",
		Store:    storeMemory,
		Redis:    redisConfig{URL: "localhost:6379"},
		Mongo:    mongoConfig{URI: "mongodb://localhost:27017", Database: "runstream", Timeout: 5 * time.Second},
		SSE:      sseConfig{Heartbeat: 15 * time.Second, PollInterval: time.Second},
	}
}

// loadConfig reads path, if not empty, over the defaults and applies the
// environment overrides.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.HTTPAddr = envOr("RUNSTREAM_HTTP_ADDR", cfg.HTTPAddr)
	cfg.Store = envOr("RUNSTREAM_STORE", cfg.Store)
	cfg.Redis.URL = envOr("REDIS_URL", cfg.Redis.URL)
	cfg.Redis.Password = envOr("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Mongo.URI = envOr("MONGO_URI", cfg.Mongo.URI)
	cfg.Mongo.Database = envOr("MONGO_DATABASE", cfg.Mongo.Database)
	cfg.Stream.Pulse = envBoolOr("RUNSTREAM_PULSE", cfg.Stream.Pulse)
	cfg.SSE.Heartbeat = envDurationOr("RUNSTREAM_HEARTBEAT", cfg.SSE.Heartbeat)
	cfg.SSE.ReplayRate = envFloatOr("RUNSTREAM_REPLAY_RATE", cfg.SSE.ReplayRate)
	cfg.Debug = envBoolOr("RUNSTREAM_DEBUG", cfg.Debug)
	return cfg, nil
}

func (c config) validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	switch c.Store {
	case storeMemory:
	case storeRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis url is required for the redis store"))
		}
	case storeMongo:
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			errs = append(errs, errors.New("mongo uri and database are required for the mongo store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q (valid stores: memory, redis, mongo)", c.Store))
	}
	if c.Stream.Pulse && c.Redis.URL == "" {
		errs = append(errs, errors.New("redis url is required for pulse streams"))
	}
	if c.SSE.ReplayRate < 0 {
		errs = append(errs, errors.New("replay rate must be >= 0"))
	}
	if c.Redis.Retention < 0 {
		errs = append(errs, errors.New("redis retention must be >= 0"))
	}
	return errors.Join(errs...)
}

// usesRedis reports whether a Redis connection is needed.
func (c config) usesRedis() bool {
	return c.Store == storeRedis || c.Stream.Pulse
}

// envOr returns the environment variable value or a default.
func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envBoolOr returns the environment variable as bool or a default.
func envBoolOr(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

// envFloatOr returns the environment variable as float64 or a default.
func envFloatOr(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// envDurationOr returns the environment variable as duration or a default.
func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
