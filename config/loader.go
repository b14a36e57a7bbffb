// Package config provides Viper configuration loading utilities.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	// JSONLogFormat indicates JSON log format.
	JSONLogFormat = "json"
	// TextLogFormat indicates text log format.
	TextLogFormat = "text"

	// EnvPrefix is the prefix for environment overrides (CAMPUSHUB_LISTEN_ADDR, ...).
	EnvPrefix = "CAMPUSHUB"
)

// Push bus kinds.
const (
	BusLocal = "local"
	BusRedis = "redis"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Format     string        `mapstructure:"format"`
	Level      zerolog.Level `mapstructure:"level"`
	WithCaller bool          `mapstructure:"with_caller"`
}

// SessionConfig holds session configuration. The same keys sign the push
// channel tokens.
type SessionConfig struct {
	AuthenticationKey string        `mapstructure:"authentication_key"`
	EncryptionKey     string        `mapstructure:"encryption_key"`
	CookieName        string        `mapstructure:"cookie_name"`
	CookieExpiry      time.Duration `mapstructure:"cookie_expiry"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path              string `mapstructure:"path"`
	WriteAheadLog     bool   `mapstructure:"write_ahead_log"`
	WALAutoCheckPoint int    `mapstructure:"wal_auto_check_point"`
}

// RedisConfig holds Redis configuration for background tasks and the push bus.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds background worker configuration.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// PushConfig holds server-side push channel configuration.
type PushConfig struct {
	KeepAlive    time.Duration `mapstructure:"keepalive"`
	SendQueue    int           `mapstructure:"send_queue"`
	FetchWindow  int           `mapstructure:"fetch_window"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	Bus          string        `mapstructure:"bus"`
	RedisChannel string        `mapstructure:"redis_channel"`
}

// ClientConfig holds the reconnect client settings used by `campushub listen`.
type ClientConfig struct {
	ServerURL   string        `mapstructure:"server_url"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

// RetentionConfig controls pruning of old read notifications.
type RetentionConfig struct {
	ReadAfter time.Duration `mapstructure:"read_after"`
}

// Config is the complete campushub configuration.
type Config struct {
	ListenAddr   string `mapstructure:"listen_addr"`
	AdvertiseURL string `mapstructure:"advertise_url"`

	// AllowedOrigins guards CORS and the push channel upgrade.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	Session   SessionConfig   `mapstructure:"session"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Push      PushConfig      `mapstructure:"push"`
	Client    ClientConfig    `mapstructure:"client"`
	Retention RetentionConfig `mapstructure:"retention"`
	Logging   LogConfig       `mapstructure:"logging"`
}

// LoaderConfig holds configuration for the config loader.
type LoaderConfig struct {
	// EnvPrefix is the prefix for environment variables.
	EnvPrefix string

	// ConfigPaths is a list of directories to search for config files.
	ConfigPaths []string

	// ConfigName is the name of the config file (without extension).
	ConfigName string

	// Defaults is a map of default values.
	Defaults map[string]interface{}
}

// DefaultLoaderConfig returns default loader configuration.
func DefaultLoaderConfig() *LoaderConfig {
	prefix := strings.ToLower(EnvPrefix)
	return &LoaderConfig{
		EnvPrefix:  EnvPrefix,
		ConfigName: "config",
		ConfigPaths: []string{
			fmt.Sprintf("/etc/%s/", prefix),
			fmt.Sprintf("$HOME/.%s", prefix),
			".",
		},
		Defaults: map[string]interface{}{
			"listen_addr":                   ":8080",
			"advertise_url":                 "http://localhost:8080",
			"allowed_origins":               []string{"*"},
			"session.cookie_name":           "campushub_session",
			"session.cookie_expiry":         24 * time.Hour,
			"database.path":                 "campushub.db",
			"database.write_ahead_log":      true,
			"database.wal_auto_check_point": 1000,
			"redis.addr":                    "localhost:6379",
			"redis.password":                "",
			"redis.db":                      0,
			"worker.concurrency":            10,
			"push.keepalive":                30 * time.Second,
			"push.send_queue":               64,
			"push.fetch_window":             20,
			"push.token_ttl":                time.Hour,
			"push.bus":                      BusLocal,
			"push.redis_channel":            "campushub:notifications",
			"client.server_url":             "http://localhost:8080",
			"client.backoff_base":           time.Second,
			"client.backoff_cap":            30 * time.Second,
			"client.max_retries":            5,
			"retention.read_after":          30 * 24 * time.Hour,
			"logging.level":                 "info",
			"logging.format":                TextLogFormat,
			"logging.with_caller":           false,
		},
	}
}

// Load reads configuration from file and environment variables.
// If configPath is empty, it searches in default paths; a missing config
// file is not an error since every key has a default or an env override.
// If isFile is true, configPath is treated as a direct file path.
func Load(configPath string, isFile bool, cfg *LoaderConfig) error {
	if cfg == nil {
		cfg = DefaultLoaderConfig()
	}

	log.Debug().Msg("Loading configuration")

	if isFile {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName(cfg.ConfigName)
		if configPath == "" {
			for _, path := range cfg.ConfigPaths {
				viper.AddConfigPath(path)
			}
		} else {
			viper.AddConfigPath(configPath)
		}
	}

	viper.SetEnvPrefix(cfg.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	for key, value := range cfg.Defaults {
		viper.SetDefault(key, value)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if isFile || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config file: %w", err)
		}
		log.Debug().Msg("No config file found, using defaults and environment")
		return nil
	}

	log.Debug().
		Str("config_file", viper.ConfigFileUsed()).
		Msg("Configuration loaded")

	return nil
}

// GetLogConfig returns the logging configuration from Viper.
func GetLogConfig() LogConfig {
	logLevel, err := zerolog.ParseLevel(viper.GetString("logging.level"))
	if err != nil {
		logLevel = zerolog.InfoLevel
	}

	logFormat := viper.GetString("logging.format")
	switch logFormat {
	case JSONLogFormat, TextLogFormat:
	case "":
		logFormat = TextLogFormat
	default:
		log.Warn().
			Str("format", logFormat).
			Msg("Invalid log format, using text")
		logFormat = TextLogFormat
	}

	return LogConfig{
		Format:     logFormat,
		Level:      logLevel,
		WithCaller: viper.GetBool("logging.with_caller"),
	}
}

// SetupLogging configures the global zerolog logger.
func SetupLogging(cfg LogConfig) {
	zerolog.SetGlobalLevel(cfg.Level)

	logger := zerolog.New(os.Stderr)
	if cfg.Format == TextLogFormat {
		logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	ctx := logger.With().Timestamp()
	if cfg.WithCaller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
}

// Get returns the complete configuration from Viper.
// It must be called after Load.
func Get() *Config {
	return &Config{
		ListenAddr:     viper.GetString("listen_addr"),
		AdvertiseURL:   viper.GetString("advertise_url"),
		AllowedOrigins: viper.GetStringSlice("allowed_origins"),
		Logging:        GetLogConfig(),
		Database: DatabaseConfig{
			Path:              viper.GetString("database.path"),
			WriteAheadLog:     viper.GetBool("database.write_ahead_log"),
			WALAutoCheckPoint: viper.GetInt("database.wal_auto_check_point"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Worker: WorkerConfig{
			Concurrency: viper.GetInt("worker.concurrency"),
		},
		Session: SessionConfig{
			CookieName:        viper.GetString("session.cookie_name"),
			CookieExpiry:      viper.GetDuration("session.cookie_expiry"),
			AuthenticationKey: viper.GetString("session.authentication_key"),
			EncryptionKey:     viper.GetString("session.encryption_key"),
		},
		Push: PushConfig{
			KeepAlive:    viper.GetDuration("push.keepalive"),
			SendQueue:    viper.GetInt("push.send_queue"),
			FetchWindow:  viper.GetInt("push.fetch_window"),
			TokenTTL:     viper.GetDuration("push.token_ttl"),
			Bus:          viper.GetString("push.bus"),
			RedisChannel: viper.GetString("push.redis_channel"),
		},
		Client: ClientConfig{
			ServerURL:   viper.GetString("client.server_url"),
			BackoffBase: viper.GetDuration("client.backoff_base"),
			BackoffCap:  viper.GetDuration("client.backoff_cap"),
			MaxRetries:  viper.GetInt("client.max_retries"),
		},
		Retention: RetentionConfig{
			ReadAfter: viper.GetDuration("retention.read_after"),
		},
	}
}

// Validate checks the fields the server cannot run without.
func (c *Config) Validate() error {
	if len(c.Session.AuthenticationKey) != 32 {
		return fmt.Errorf("session.authentication_key must be 32 bytes, got %d", len(c.Session.AuthenticationKey))
	}
	if len(c.Session.EncryptionKey) != 32 {
		return fmt.Errorf("session.encryption_key must be 32 bytes, got %d", len(c.Session.EncryptionKey))
	}
	switch c.Push.Bus {
	case BusLocal, BusRedis:
	default:
		return fmt.Errorf("push.bus must be %q or %q, got %q", BusLocal, BusRedis, c.Push.Bus)
	}
	if c.Push.FetchWindow <= 0 {
		return fmt.Errorf("push.fetch_window must be positive, got %d", c.Push.FetchWindow)
	}
	return nil
}
