package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reservas/internal/models"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app" toml:"app"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Redis      RedisConfig      `yaml:"redis" toml:"redis"`
	API        APIConfig        `yaml:"api" toml:"api"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Monitoring MonitoringConfig `yaml:"monitoring" toml:"monitoring"`
	Backup     BackupConfig     `yaml:"backup" toml:"backup"`
	Worker     WorkerConfig     `yaml:"worker" toml:"worker"`
	Telegram   TelegramConfig   `yaml:"telegram" toml:"telegram"`
	AMQP       AMQPConfig       `yaml:"amqp" toml:"amqp"`
	Google     GoogleConfig     `yaml:"google" toml:"google"`
}

type AppConfig struct {
	Name        string `yaml:"name" toml:"name"`
	Environment string `yaml:"environment" toml:"environment"`
	Version     string `yaml:"version" toml:"version"`
	Timezone    string `yaml:"timezone" toml:"timezone"`
}

// Location resolves the configured timezone, falling back to UTC.
func (a AppConfig) Location() *time.Location {
	if a.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type APIConfig struct {
	HTTP          APIHTTPConfig          `yaml:"http" toml:"http"`
	GRPC          APIGRPCConfig          `yaml:"grpc" toml:"grpc"`
	Auth          APIAuthConfig          `yaml:"auth" toml:"auth"`
	JWT           JWTConfig              `yaml:"jwt" toml:"jwt"`
	RateLimit     APIRateLimitConfig     `yaml:"rate_limit" toml:"rate_limit"`
	UserRateLimit APIUserRateLimitConfig `yaml:"user_rate_limit" toml:"user_rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
	Port    int  `yaml:"port" toml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled" toml:"enabled"`
	Port       int          `yaml:"port" toml:"port"`
	Reflection bool         `yaml:"reflection" toml:"reflection"`
	TLS        APITLSConfig `yaml:"tls" toml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled" toml:"enabled"`
	CertFile          string `yaml:"cert_file" toml:"cert_file"`
	KeyFile           string `yaml:"key_file" toml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file" toml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert" toml:"require_client_cert"`
}

// APIAuthConfig holds the API keys used by machine clients of the gRPC API.
type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled" toml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key" toml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra" toml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys" toml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key" toml:"key"`
	Extra       string   `yaml:"extra" toml:"extra"`
	Name        string   `yaml:"name" toml:"name"`
	Permissions []string `yaml:"permissions" toml:"permissions"`
}

// JWTConfig verifies bearer tokens issued by the external identity provider.
type JWTConfig struct {
	Secret   string `yaml:"secret" toml:"secret"`
	Issuer   string `yaml:"issuer" toml:"issuer"`
	Audience string `yaml:"audience" toml:"audience"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps" toml:"rps"`
	Burst int     `yaml:"burst" toml:"burst"`
}

type APIUserRateLimitConfig struct {
	Requests int    `yaml:"requests" toml:"requests"`
	Window   string `yaml:"window" toml:"window"`
}

func (c APIUserRateLimitConfig) WindowDuration() time.Duration {
	return parseDurationOr(c.Window, time.Minute)
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver" toml:"driver"`
	Path     string         `yaml:"path" toml:"path"`
	Postgres PostgresConfig `yaml:"postgres" toml:"postgres"`
}

type PostgresConfig struct {
	Host           string `yaml:"host" toml:"host"`
	Port           int    `yaml:"port" toml:"port"`
	User           string `yaml:"user" toml:"user"`
	Password       string `yaml:"password" toml:"password"`
	DBName         string `yaml:"dbname" toml:"dbname"`
	SSLMode        string `yaml:"sslmode" toml:"sslmode"`
	MaxConnections int    `yaml:"max_connections" toml:"max_connections"`
}

// DSN renders a lib/pq keyword/value connection string.
func (p PostgresConfig) DSN() string {
	parts := []string{
		fmt.Sprintf("host=%s", p.Host),
		fmt.Sprintf("port=%d", p.Port),
		fmt.Sprintf("dbname=%s", p.DBName),
		fmt.Sprintf("sslmode=%s", p.SSLMode),
	}
	if p.User != "" {
		parts = append(parts, fmt.Sprintf("user=%s", p.User))
	}
	if p.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", p.Password))
	}
	return strings.Join(parts, " ")
}

type RedisConfig struct {
	Address  string `yaml:"address" toml:"address"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	PoolSize int    `yaml:"pool_size" toml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	Schedule      string `yaml:"schedule" toml:"schedule"`
	RetentionDays int    `yaml:"retention_days" toml:"retention_days"`
	StoragePath   string `yaml:"storage_path" toml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled" toml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port" toml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" toml:"level"`
	Format   string `yaml:"format" toml:"format"`
	Output   string `yaml:"output" toml:"output"`
	FilePath string `yaml:"file_path" toml:"file_path"`
}

type WorkerConfig struct {
	// InProcess runs the outbox worker inside the API binary.
	InProcess     bool    `yaml:"in_process" toml:"in_process"`
	MaxRetries    int     `yaml:"max_retries" toml:"max_retries"`
	InitialDelay  string  `yaml:"initial_delay" toml:"initial_delay"`
	MaxDelay      string  `yaml:"max_delay" toml:"max_delay"`
	BackoffFactor float64 `yaml:"backoff_factor" toml:"backoff_factor"`
	Jitter        float64 `yaml:"jitter" toml:"jitter"`
	PollInterval  string  `yaml:"poll_interval" toml:"poll_interval"`
	ReminderTime  string  `yaml:"reminder_time" toml:"reminder_time"`
}

func (w WorkerConfig) InitialDelayDuration() time.Duration {
	return parseDurationOr(w.InitialDelay, 2*time.Second)
}

func (w WorkerConfig) MaxDelayDuration() time.Duration {
	return parseDurationOr(w.MaxDelay, time.Minute)
}

func (w WorkerConfig) PollIntervalDuration() time.Duration {
	return parseDurationOr(w.PollInterval, 2*time.Second)
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token" toml:"bot_token"`
	Debug    bool   `yaml:"debug" toml:"debug"`
}

type AMQPConfig struct {
	URL      string `yaml:"url" toml:"url"`
	Exchange string `yaml:"exchange" toml:"exchange"`
}

type GoogleConfig struct {
	CredentialsFile           string `yaml:"credentials_file" toml:"credentials_file"`
	ReservationsSpreadsheetID string `yaml:"reservations_spreadsheet_id" toml:"reservations_spreadsheet_id"`
	SheetName                 string `yaml:"sheet_name" toml:"sheet_name"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; real environment variables win.
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if strings.EqualFold(filepath.Ext(configPath), ".toml") {
		if err := toml.Unmarshal(expandedData, &config); err != nil {
			return nil, fmt.Errorf("parse toml config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(expandedData, &config); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case DriverPostgres:
		if c.Database.Postgres.Host == "" || c.Database.Postgres.DBName == "" {
			return errors.New("postgres host and dbname are required")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.API.HTTP.Enabled && c.API.JWT.Secret == "" {
		return errors.New("api.jwt.secret is required when the http api is enabled")
	}

	if c.App.Timezone != "" {
		if _, err := time.LoadLocation(c.App.Timezone); err != nil {
			return fmt.Errorf("invalid app.timezone: %w", err)
		}
	}

	if _, err := time.Parse("15:04", c.Worker.ReminderTime); err != nil {
		return fmt.Errorf("invalid worker.reminder_time %q", c.Worker.ReminderTime)
	}

	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for _, k := range keys {
		if k.Key == "" || k.Extra == "" {
			return fmt.Errorf("api key '%s' must define key and extra", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for client '%s'", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "reservas"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = 5432
	}
	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.API.UserRateLimit.Requests == 0 {
		c.API.UserRateLimit.Requests = 30
	}
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "reservas.events"
	}
	if c.Google.SheetName == "" {
		c.Google.SheetName = "Reservas"
	}

	if c.Worker.MaxRetries == 0 {
		c.Worker.MaxRetries = 5
	}
	if c.Worker.BackoffFactor == 0 {
		c.Worker.BackoffFactor = 2
	}
	if c.Worker.ReminderTime == "" {
		c.Worker.ReminderTime = fmt.Sprintf("%02d:00", models.ReminderHour)
	}
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
