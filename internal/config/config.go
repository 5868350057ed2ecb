package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
type Config struct {
	API        APIConfig        `yaml:"api"`
	Redis      RedisConfig      `yaml:"redis"`
	Database   DatabaseConfig   `yaml:"database"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	TTL        TTLConfig        `yaml:"ttl"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Auth       AuthConfig       `yaml:"auth"`
	Log        LogConfig        `yaml:"log"`
}

type APIConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	EnableCORS bool   `yaml:"enable_cors"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// UpstreamConfig selects the FastHelp environment and carries its credentials.
type UpstreamConfig struct {
	Env            string `yaml:"env"` // TEST or PROD
	TestBaseURL    string `yaml:"test_base_url"`
	TestAPIKey     string `yaml:"test_api_key"`
	ProdBaseURL    string `yaml:"prod_base_url"`
	ProdAPIKey     string `yaml:"prod_api_key"`
	EnableSend     bool   `yaml:"enable_send"`
	ConnectTimeout int    `yaml:"connect_timeout_seconds"`
	TotalTimeout   int    `yaml:"total_timeout_seconds"`
}

type TTLConfig struct {
	ProcessingSeconds int `yaml:"processing_seconds"`
	DedupeSeconds     int `yaml:"dedupe_seconds"`
	CallStateSeconds  int `yaml:"call_state_seconds"`
}

// ClassifierConfig exposes the behavior knobs that varied between historical
// deployments of the relay.
type ClassifierConfig struct {
	// ErrorInfoPrecedence decides which disposition field wins for error text:
	// "disposition_code" or "system_disposition".
	ErrorInfoPrecedence string `yaml:"error_info_precedence"`
	// DedupeFailOpen admits requests when the dedup store is unreachable.
	DedupeFailOpen bool `yaml:"dedupe_fail_open"`
	// EarlyAck sends the dialer an immediate "Data Received" before classifying.
	EarlyAck bool `yaml:"early_ack"`
}

type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	TokenHours    int    `yaml:"token_hours"`
	AdminUser     string `yaml:"admin_user"`
	AdminPassHash string `yaml:"admin_pass_hash"` // bcrypt hash, generate with tools/genhash
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the YAML config file and applies env-var overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	overrideWithEnv(cfg)
	cfg.Upstream.Env = NormalizeEnv(cfg.Upstream.Env)

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		API:   APIConfig{Host: "0.0.0.0", Port: 8080},
		Redis: RedisConfig{Addr: "127.0.0.1:6379"},
		Database: DatabaseConfig{
			Host:         "127.0.0.1",
			Port:         3306,
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Upstream: UpstreamConfig{
			Env:            "TEST",
			ConnectTimeout: 10,
			TotalTimeout:   30,
		},
		TTL: TTLConfig{
			ProcessingSeconds: 30,
			DedupeSeconds:     300,
			CallStateSeconds:  600,
		},
		Classifier: ClassifierConfig{
			ErrorInfoPrecedence: "disposition_code",
			DedupeFailOpen:      true,
			EarlyAck:            true,
		},
		Auth: AuthConfig{TokenHours: 24, AdminUser: "admin"},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// overrideWithEnv lets secrets come from the environment instead of the file.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("CALLRELAY_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("CALLRELAY_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CALLRELAY_DB_USERNAME"); v != "" {
		cfg.Database.Username = v
	}
	if v := os.Getenv("CALLRELAY_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("CALLRELAY_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("CALLRELAY_DB_DATABASE"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("CALLRELAY_ENV"); v != "" {
		cfg.Upstream.Env = v
	}
	if v := os.Getenv("CALLRELAY_BASE_URL_TEST"); v != "" {
		cfg.Upstream.TestBaseURL = v
	}
	if v := os.Getenv("CALLRELAY_API_KEY_TEST"); v != "" {
		cfg.Upstream.TestAPIKey = v
	}
	if v := os.Getenv("CALLRELAY_BASE_URL_PROD"); v != "" {
		cfg.Upstream.ProdBaseURL = v
	}
	if v := os.Getenv("CALLRELAY_API_KEY_PROD"); v != "" {
		cfg.Upstream.ProdAPIKey = v
	}
	if v := os.Getenv("CALLRELAY_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
}

// NormalizeEnv collapses the environment selector to TEST or PROD.
func NormalizeEnv(v string) string {
	if strings.ToUpper(strings.TrimSpace(v)) == "PROD" {
		return "PROD"
	}
	return "TEST"
}

// BaseURL returns the upstream base URL for the selected environment.
func (u UpstreamConfig) BaseURL() string {
	if NormalizeEnv(u.Env) == "PROD" {
		return u.ProdBaseURL
	}
	return u.TestBaseURL
}

// APIKey returns the upstream API key for the selected environment.
func (u UpstreamConfig) APIKey() string {
	if NormalizeEnv(u.Env) == "PROD" {
		return u.ProdAPIKey
	}
	return u.TestAPIKey
}

// Address returns the listen address for the API server.
func (a APIConfig) Address() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// DSN returns the Data Source Name for MySQL.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		d.Username, d.Password, d.Host, d.Port, d.Database)
}

// ProcessingTTL is the in-flight dedup window.
func (t TTLConfig) ProcessingTTL() time.Duration {
	return time.Duration(t.ProcessingSeconds) * time.Second
}

// DedupeTTL is the already-processed suppression window.
func (t TTLConfig) DedupeTTL() time.Duration {
	return time.Duration(t.DedupeSeconds) * time.Second
}

// CallStateTTL is how long per-call reconciliation state stays valid.
func (t TTLConfig) CallStateTTL() time.Duration {
	return time.Duration(t.CallStateSeconds) * time.Second
}
