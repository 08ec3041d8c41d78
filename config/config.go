// Package config loads settings for both the cart service and the client
// commands. Values come from .env, then an optional YAML file, then the
// process environment, each layer overriding the previous one.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port           string        `yaml:"port"`
	MongoURI       string        `yaml:"mongo_uri"`
	MongoDB        string        `yaml:"mongo_db"`
	RedisAddr      string        `yaml:"redis_addr"`
	RedisPassword  string        `yaml:"redis_password"`
	JWTSecret      string        `yaml:"jwt_secret"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	Store          string        `yaml:"store"` // "mongo" | "memory"
	APIBaseURL     string        `yaml:"api_base_url"`
	StorageDriver  string        `yaml:"storage_driver"` // "sqlite" | "redis" | "memory"
	StoragePath    string        `yaml:"storage_path"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	ShippingFee    int64         `yaml:"shipping_fee"` // cents
	LogLevel       string        `yaml:"log_level"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Port:           ":8080",
		MongoDB:        "stopshop",
		Store:          "memory",
		APIBaseURL:     "http://localhost:8080",
		StorageDriver:  "sqlite",
		StoragePath:    "stopshop.db",
		RequestTimeout: 20 * time.Second,
		SweepInterval:  30 * time.Second,
		ShippingFee:    5000,
		LogLevel:       "info",
	}
}

// Load builds the configuration. path names an optional YAML file; an
// empty path skips that layer. A missing .env is not an error.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if cfg.Port != "" && cfg.Port[0] != ':' {
		cfg.Port = ":" + cfg.Port
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"PORT":           &c.Port,
		"MONGO_URI":      &c.MongoURI,
		"MONGO_DB":       &c.MongoDB,
		"REDIS_ADDR":     &c.RedisAddr,
		"REDIS_PASSWORD": &c.RedisPassword,
		"JWT_SECRET":     &c.JWTSecret,
		"API_BASE_URL":   &c.APIBaseURL,
		"STORAGE_DRIVER": &c.StorageDriver,
		"STORAGE_PATH":   &c.StoragePath,
		"LOG_LEVEL":      &c.LogLevel,
		"STORE":          &c.Store,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, o)
			}
		}
	}

	durations := map[string]*time.Duration{
		"REQUEST_TIMEOUT": &c.RequestTimeout,
		"SWEEP_INTERVAL":  &c.SweepInterval,
	}
	for key, dst := range durations {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	if v, ok := os.LookupEnv("SHIPPING_FEE"); ok {
		fee, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("SHIPPING_FEE: %w", err)
		}
		c.ShippingFee = fee
	}
	return nil
}

// Validate rejects settings no command can run with.
func (c Config) Validate() error {
	switch c.Store {
	case "mongo", "memory":
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	switch c.StorageDriver {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	if c.Store == "mongo" && c.MongoURI == "" {
		return fmt.Errorf("store mongo needs MONGO_URI")
	}
	if c.StorageDriver == "redis" && c.RedisAddr == "" {
		return fmt.Errorf("storage driver redis needs REDIS_ADDR")
	}
	if c.ShippingFee < 0 {
		return fmt.Errorf("shipping fee cannot be negative")
	}
	if c.RequestTimeout <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}
