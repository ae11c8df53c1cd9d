// Package config loads the process configuration from the environment
// (plus an optional .env file), following the 12-factor shape the rest of
// the codebase expects: a flat Config struct, env-tagged fields, sane
// defaults when a variable is unset.
package config

import (
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string `env:"ENVIRONMENT"`
	Port        string `env:"PORT"`
	LogLevel    string `env:"LOG_LEVEL"`

	DatabaseURL string `env:"DATABASE_URL,secret"`
	DBPoolSize  int    `env:"DB_POOL_SIZE"`

	RedisURL string `env:"REDIS_URL"`

	JWTRSAPrivateKey string `env:"JWT_RSA_PRIVATE_KEY,secret"`
	JWTRSAPublicKey  string `env:"JWT_RSA_PUBLIC_KEY,secret"`

	// StoreSelectTimeout/StoreOpTimeout hold per-call DurableStore budgets.
	// Load fills them in; no store call in this tree applies them.
	StoreSelectTimeout time.Duration `env:"STORE_SELECT_TIMEOUT"`
	StoreOpTimeout     time.Duration `env:"STORE_OP_TIMEOUT"`
	// BusTimeout holds a per-command Bus budget. Load fills it in; no bus
	// call in this tree applies it.
	BusTimeout time.Duration `env:"BUS_TIMEOUT"`

	// ShutdownDrainTimeout bounds how long graceful shutdown waits for
	// connections to drain before forcing them closed.
	ShutdownDrainTimeout time.Duration `env:"SHUTDOWN_DRAIN_TIMEOUT"`
}

// Load reads configuration from the environment, optionally overlaid with a
// .env file in the working directory if one is present (mirrors the
// teacher's plain-getEnv helpers, but generalized with a private viper
// instance). The returned Config is a snapshot: a watcher is armed on the
// .env file, but its change callback does nothing, so later edits to the
// file do not reach an already loaded Config.
func Load() *Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("environment", "development")
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("database_url", "")
	v.SetDefault("db_pool_size", 20)
	v.SetDefault("redis_url", "")
	v.SetDefault("jwt_rsa_private_key", "")
	v.SetDefault("jwt_rsa_public_key", "")
	v.SetDefault("store_select_timeout", 5*time.Second)
	v.SetDefault("store_op_timeout", 45*time.Second)
	v.SetDefault("bus_timeout", 5*time.Second)
	v.SetDefault("shutdown_drain_timeout", 5*time.Second)

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err == nil {
		v.WatchConfig()
		v.OnConfigChange(func(fsnotify.Event) {})
	}

	return &Config{
		Environment:          v.GetString("environment"),
		Port:                 v.GetString("port"),
		LogLevel:             v.GetString("log_level"),
		DatabaseURL:          v.GetString("database_url"),
		DBPoolSize:           v.GetInt("db_pool_size"),
		RedisURL:             v.GetString("redis_url"),
		JWTRSAPrivateKey:     v.GetString("jwt_rsa_private_key"),
		JWTRSAPublicKey:      v.GetString("jwt_rsa_public_key"),
		StoreSelectTimeout:   v.GetDuration("store_select_timeout"),
		StoreOpTimeout:       v.GetDuration("store_op_timeout"),
		BusTimeout:           v.GetDuration("bus_timeout"),
		ShutdownDrainTimeout: v.GetDuration("shutdown_drain_timeout"),
	}
}
