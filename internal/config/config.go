// Package config provides Viper-based configuration loading for the duel server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds top-level server settings.
type ServerConfig struct {
	// Name identifies this process in logs and the presence mirror.
	Name string `mapstructure:"name"`
}

// HTTPConfig holds the HTTP listener settings shared by the REST API and the
// WebSocket upgrade endpoint.
type HTTPConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// WebSocketConfig holds per-connection WebSocket settings.
type WebSocketConfig struct {
	// PongWait is how long a connection may stay silent before it is dropped.
	PongWait time.Duration `mapstructure:"pong_wait"`
	// PingInterval is how often the server pings. Must be shorter than PongWait.
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// MaxMessageBytes is the largest inbound frame accepted.
	MaxMessageBytes int64 `mapstructure:"max_message_bytes"`
	// SendBuffer is the number of outbound events buffered per connection.
	SendBuffer int `mapstructure:"send_buffer"`
	// AllowedOrigins restricts the Origin header; empty allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// RedisConfig holds settings for the optional presence mirror.
type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PresenceKey string        `mapstructure:"presence_key"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// ObjectStoreConfig holds S3-compatible storage settings for uploaded images.
type ObjectStoreConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	// PublicBaseURL is prepended to object names to build download URLs.
	// When empty the endpoint and bucket are used.
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// AuthConfig holds token signing settings.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// MatchmakingConfig holds the expiry policy for waiting entries and idle rooms.
// A zero timeout disables that expiry.
type MatchmakingConfig struct {
	QueueTimeout       time.Duration `mapstructure:"queue_timeout"`
	IdleSessionTimeout time.Duration `mapstructure:"idle_session_timeout"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
}

// ExpiryEnabled reports whether any expiry policy is active.
func (m MatchmakingConfig) ExpiryEnabled() bool {
	return m.QueueTimeout > 0 || m.IdleSessionTimeout > 0
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// AdminConfig holds the gRPC health endpoint settings.
type AdminConfig struct {
	GRPCHost string `mapstructure:"grpc_host"`
	GRPCPort int    `mapstructure:"grpc_port"`
}

// Addr returns the "host:port" gRPC address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (a AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.GRPCHost, a.GRPCPort)
}

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	WebSocket   WebSocketConfig   `mapstructure:"websocket"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	ObjectStore ObjectStoreConfig `mapstructure:"objectstore"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Matchmaking MatchmakingConfig `mapstructure:"matchmaking"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Admin       AdminConfig       `mapstructure:"admin"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	validators := []func() error{
		func() error { return validateServer(c.Server) },
		func() error { return validateHTTP(c.HTTP) },
		func() error { return validateWebSocket(c.WebSocket) },
		func() error { return validateDatabase(c.Database) },
		func() error { return validateRedis(c.Redis) },
		func() error { return validateObjectStore(c.ObjectStore) },
		func() error { return validateAuth(c.Auth) },
		func() error { return validateMatchmaking(c.Matchmaking) },
		func() error { return validateLogging(c.Logging) },
		func() error { return validateAdmin(c.Admin) },
	}
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	if s.Name == "" {
		return errors.New("server.name must not be empty")
	}
	return nil
}

func validatePort(field string, port int) string {
	if port < 1 || port > 65535 {
		return fmt.Sprintf("%s must be 1-65535, got %d", field, port)
	}
	return ""
}

func validateHTTP(h HTTPConfig) error {
	var errs []string
	if msg := validatePort("http.port", h.Port); msg != "" {
		errs = append(errs, msg)
	}
	if h.ReadTimeout < 0 {
		errs = append(errs, "http.read_timeout must not be negative")
	}
	if h.WriteTimeout < 0 {
		errs = append(errs, "http.write_timeout must not be negative")
	}
	if h.ShutdownTimeout <= 0 {
		errs = append(errs, "http.shutdown_timeout must be positive")
	}
	return joinErrs(errs)
}

func validateWebSocket(w WebSocketConfig) error {
	var errs []string
	if w.PongWait <= 0 {
		errs = append(errs, "websocket.pong_wait must be positive")
	}
	if w.PingInterval <= 0 || w.PingInterval >= w.PongWait {
		errs = append(errs, fmt.Sprintf("websocket.ping_interval must be positive and shorter than pong_wait (got %s, pong_wait %s)", w.PingInterval, w.PongWait))
	}
	if w.WriteTimeout <= 0 {
		errs = append(errs, "websocket.write_timeout must be positive")
	}
	if w.MaxMessageBytes < 64 {
		errs = append(errs, fmt.Sprintf("websocket.max_message_bytes must be >= 64, got %d", w.MaxMessageBytes))
	}
	if w.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("websocket.send_buffer must be >= 1, got %d", w.SendBuffer))
	}
	return joinErrs(errs)
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if msg := validatePort("database.port", d.Port); msg != "" {
		errs = append(errs, msg)
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	return joinErrs(errs)
}

func validateRedis(r RedisConfig) error {
	if !r.Enabled {
		return nil
	}
	var errs []string
	if r.Addr == "" {
		errs = append(errs, "redis.addr must not be empty when redis is enabled")
	}
	if r.PresenceKey == "" {
		errs = append(errs, "redis.presence_key must not be empty when redis is enabled")
	}
	if r.DB < 0 {
		errs = append(errs, fmt.Sprintf("redis.db must be >= 0, got %d", r.DB))
	}
	return joinErrs(errs)
}

func validateObjectStore(o ObjectStoreConfig) error {
	if !o.Enabled {
		return nil
	}
	var errs []string
	if o.Endpoint == "" {
		errs = append(errs, "objectstore.endpoint must not be empty when the object store is enabled")
	}
	if o.Bucket == "" {
		errs = append(errs, "objectstore.bucket must not be empty when the object store is enabled")
	}
	return joinErrs(errs)
}

func validateAuth(a AuthConfig) error {
	var errs []string
	if len(a.JWTSecret) < 16 {
		errs = append(errs, fmt.Sprintf("auth.jwt_secret must be at least 16 bytes, got %d", len(a.JWTSecret)))
	}
	if a.TokenTTL <= 0 {
		errs = append(errs, "auth.token_ttl must be positive")
	}
	return joinErrs(errs)
}

func validateMatchmaking(m MatchmakingConfig) error {
	var errs []string
	if m.QueueTimeout < 0 {
		errs = append(errs, "matchmaking.queue_timeout must not be negative")
	}
	if m.IdleSessionTimeout < 0 {
		errs = append(errs, "matchmaking.idle_session_timeout must not be negative")
	}
	if m.ExpiryEnabled() && m.SweepInterval <= 0 {
		errs = append(errs, "matchmaking.sweep_interval must be positive when an expiry timeout is set")
	}
	return joinErrs(errs)
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateAdmin(a AdminConfig) error {
	var errs []string
	if a.GRPCHost == "" {
		errs = append(errs, "admin.grpc_host must not be empty")
	}
	if msg := validatePort("admin.grpc_port", a.GRPCPort); msg != "" {
		errs = append(errs, msg)
	}
	return joinErrs(errs)
}

func joinErrs(errs []string) error {
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with DUEL_ prefix
	v.SetEnvPrefix("DUEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "duel")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 3000)
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "15s")
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.ping_interval", "54s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.max_message_bytes", 4096)
	v.SetDefault("websocket.send_buffer", 64)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "duel")
	v.SetDefault("database.password", "duel")
	v.SetDefault("database.name", "duel")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.presence_key", "duel:online")
	v.SetDefault("redis.dial_timeout", "5s")

	v.SetDefault("objectstore.enabled", false)
	v.SetDefault("objectstore.endpoint", "localhost:9000")
	v.SetDefault("objectstore.bucket", "duel")

	v.SetDefault("auth.token_ttl", "24h")

	v.SetDefault("matchmaking.queue_timeout", "0s")
	v.SetDefault("matchmaking.idle_session_timeout", "0s")
	v.SetDefault("matchmaking.sweep_interval", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("admin.grpc_host", "127.0.0.1")
	v.SetDefault("admin.grpc_port", 50051)
}
