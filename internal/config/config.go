package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "CORKBOARD"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultLogLevel          = "info"
	defaultStoreDriver       = StoreDriverSQLite
	defaultDatabasePath      = "corkboard.db"
	defaultPebblePath        = "corkboard-pebble"
	defaultRedisAddress      = "127.0.0.1:6379"
	defaultRedisKeyPrefix    = "corkboard:"
	defaultAdminPassword     = "admin123"
	defaultAdminCookieName   = "forum_admin_auth"
	defaultTokenTTLMinutes   = 30
	defaultHeartbeatInterval = 5 * time.Second
	defaultPresenceTimeout   = 15 * time.Second
	defaultLatestLimit       = 10
)

// Store drivers selectable through store.driver.
const (
	StoreDriverMemory = "memory"
	StoreDriverSQLite = "sqlite"
	StoreDriverPebble = "pebble"
	StoreDriverRedis  = "redis"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	LogLevel           string
	StoreDriver        string
	DatabasePath       string
	PebblePath         string
	RedisAddress       string
	RedisPassword      string
	RedisDB            int
	RedisKeyPrefix     string
	AdminPassword      string
	AdminSigningSecret string
	AdminCookieName    string
	AdminTokenTTL      time.Duration
	HeartbeatInterval  time.Duration
	PresenceTimeout    time.Duration
	LatestThreadLimit  int
	CORSAllowedOrigins []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.cors_allowed_origins", []string{"*"})
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("store.driver", defaultStoreDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("pebble.path", defaultPebblePath)
	configViper.SetDefault("redis.address", defaultRedisAddress)
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("redis.key_prefix", defaultRedisKeyPrefix)
	configViper.SetDefault("admin.password", defaultAdminPassword)
	configViper.SetDefault("admin.cookie_name", defaultAdminCookieName)
	configViper.SetDefault("admin.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("presence.heartbeat_interval", defaultHeartbeatInterval)
	configViper.SetDefault("presence.timeout", defaultPresenceTimeout)
	configViper.SetDefault("threads.latest_limit", defaultLatestLimit)
}

// Load parses runtime configuration for the API server from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := read(configViper)
	if err := cfg.validateAdmin(); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.validateBoard(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// LoadPresence parses configuration for presence-only clients such as the watch
// command. Admin settings are read but not required.
func LoadPresence(configViper *viper.Viper) (AppConfig, error) {
	cfg := read(configViper)
	if err := cfg.validateBoard(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func read(configViper *viper.Viper) AppConfig {
	return AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		LogLevel:           configViper.GetString("log.level"),
		StoreDriver:        strings.ToLower(strings.TrimSpace(configViper.GetString("store.driver"))),
		DatabasePath:       configViper.GetString("database.path"),
		PebblePath:         configViper.GetString("pebble.path"),
		RedisAddress:       configViper.GetString("redis.address"),
		RedisPassword:      configViper.GetString("redis.password"),
		RedisDB:            configViper.GetInt("redis.db"),
		RedisKeyPrefix:     configViper.GetString("redis.key_prefix"),
		AdminPassword:      configViper.GetString("admin.password"),
		AdminSigningSecret: configViper.GetString("admin.signing_secret"),
		AdminCookieName:    configViper.GetString("admin.cookie_name"),
		AdminTokenTTL:      time.Duration(configViper.GetInt("admin.token_ttl_minutes")) * time.Minute,
		HeartbeatInterval:  configViper.GetDuration("presence.heartbeat_interval"),
		PresenceTimeout:    configViper.GetDuration("presence.timeout"),
		LatestThreadLimit:  configViper.GetInt("threads.latest_limit"),
		CORSAllowedOrigins: configViper.GetStringSlice("http.cors_allowed_origins"),
	}
}

func (c AppConfig) validateAdmin() error {
	if strings.TrimSpace(c.AdminSigningSecret) == "" {
		return fmt.Errorf("admin.signing_secret is required")
	}
	if c.AdminPassword == "" {
		return fmt.Errorf("admin.password is required")
	}
	if c.AdminTokenTTL <= 0 {
		return fmt.Errorf("admin.token_ttl_minutes must be positive")
	}
	return nil
}

func (c AppConfig) validateBoard() error {
	switch c.StoreDriver {
	case StoreDriverMemory:
	case StoreDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required for the sqlite store")
		}
	case StoreDriverPebble:
		if strings.TrimSpace(c.PebblePath) == "" {
			return fmt.Errorf("pebble.path is required for the pebble store")
		}
	case StoreDriverRedis:
		if strings.TrimSpace(c.RedisAddress) == "" {
			return fmt.Errorf("redis.address is required for the redis store")
		}
	default:
		return fmt.Errorf("store.driver %q is not one of memory, sqlite, pebble, redis", c.StoreDriver)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("presence.heartbeat_interval must be positive")
	}
	if c.PresenceTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("presence.timeout must exceed presence.heartbeat_interval")
	}
	return nil
}
