// Package config loads all runtime configuration from environment variables.
// Message templates may additionally come from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TIME_ZONE must resolve on minimal images

	"github.com/d9705996/statusbridge/internal/render"
	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration for statusbridge.
type Config struct {
	HTTP      HTTPConfig
	DB        DBConfig
	Log       LogConfig
	JWT       JWTConfig
	Worker    WorkerConfig
	OTel      OTelConfig
	Zabbix    ZabbixConfig
	Cachet    CachetConfig
	Bridge    BridgeConfig
	Templates render.Sources
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int
}

// DBConfig holds journal database configuration.
type DBConfig struct {
	Driver   string // "sqlite" (default) or "postgres"
	DSN      string // required when Driver == "postgres"
	File     string // SQLite database file path (default: "statusbridge.db")
	MaxConns int    // Postgres only
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string
	Format string
}

// JWTConfig protects the admin API. An empty secret disables it.
type JWTConfig struct {
	Secret string //nolint:gosec // intentional: holds JWT signing secret loaded from env
	TTL    time.Duration
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	Concurrency int
	// Retention bounds how long journal actions are kept. Zero keeps them forever.
	Retention time.Duration
}

// OTelConfig holds OpenTelemetry exporter settings.
type OTelConfig struct {
	OTLPEndpoint string
}

// ZabbixConfig holds monitoring API settings.
type ZabbixConfig struct {
	URL       string
	User      string
	Password  string //nolint:gosec // intentional: loaded from env
	Token     string //nolint:gosec // intentional: loaded from env
	VerifyTLS bool
}

// CachetConfig holds status-page API settings.
type CachetConfig struct {
	URL       string
	Token     string //nolint:gosec // intentional: loaded from env
	VerifyTLS bool
}

// BridgeConfig holds the reconciliation loop settings.
type BridgeConfig struct {
	RootService  string
	SyncInterval time.Duration
	TickInterval time.Duration
	Location     *time.Location
}

// Load reads configuration from environment variables, applies defaults,
// and returns an error if any required field is absent or malformed.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// HTTP
	cfg.HTTP.Port = envInt("HTTP_PORT", 8080)

	// DB
	cfg.DB.Driver = envStr("DB_DRIVER", "sqlite")
	cfg.DB.File = envStr("DB_FILE", "statusbridge.db")
	cfg.DB.DSN = os.Getenv("DB_DSN")
	if cfg.DB.Driver == "postgres" && cfg.DB.DSN == "" {
		return nil, errors.New("DB_DSN is required when DB_DRIVER=postgres")
	}
	cfg.DB.MaxConns = envInt("DB_MAX_CONNS", 25)

	// Log
	cfg.Log.Level = envStr("LOG_LEVEL", "info")
	cfg.Log.Format = envStr("LOG_FORMAT", "json")

	// JWT (optional)
	if cfg.JWT, err = LoadJWT(); err != nil {
		return nil, err
	}

	// Worker
	cfg.Worker.Concurrency = envInt("WORKER_CONCURRENCY", 10)
	if cfg.Worker.Retention, err = envDuration("JOURNAL_RETENTION", 30*24*time.Hour); err != nil {
		return nil, fmt.Errorf("JOURNAL_RETENTION: %w", err)
	}

	// OTel
	cfg.OTel.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	// Zabbix
	cfg.Zabbix.URL = os.Getenv("ZABBIX_URL")
	if cfg.Zabbix.URL == "" {
		return nil, errors.New("ZABBIX_URL is required")
	}
	cfg.Zabbix.User = os.Getenv("ZABBIX_USER")
	cfg.Zabbix.Password = os.Getenv("ZABBIX_PASSWORD")
	cfg.Zabbix.Token = os.Getenv("ZABBIX_TOKEN")
	if cfg.Zabbix.Token == "" && cfg.Zabbix.User == "" {
		return nil, errors.New("ZABBIX_TOKEN or ZABBIX_USER is required")
	}
	if cfg.Zabbix.VerifyTLS, err = envBool("ZABBIX_HTTPS_VERIFY", true); err != nil {
		return nil, fmt.Errorf("ZABBIX_HTTPS_VERIFY: %w", err)
	}

	// Cachet
	cfg.Cachet.URL = os.Getenv("CACHET_URL")
	if cfg.Cachet.URL == "" {
		return nil, errors.New("CACHET_URL is required")
	}
	cfg.Cachet.Token = os.Getenv("CACHET_TOKEN")
	if cfg.Cachet.Token == "" {
		return nil, errors.New("CACHET_TOKEN is required")
	}
	if cfg.Cachet.VerifyTLS, err = envBool("CACHET_HTTPS_VERIFY", true); err != nil {
		return nil, fmt.Errorf("CACHET_HTTPS_VERIFY: %w", err)
	}

	// Bridge
	cfg.Bridge.RootService = os.Getenv("ROOT_SERVICE")
	if cfg.Bridge.SyncInterval, err = envInterval("SYNC_INTERVAL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("SYNC_INTERVAL: %w", err)
	}
	if cfg.Bridge.TickInterval, err = envInterval("TICK_INTERVAL", time.Minute); err != nil {
		return nil, fmt.Errorf("TICK_INTERVAL: %w", err)
	}
	cfg.Bridge.Location = time.Local
	if tz := os.Getenv("TIME_ZONE"); tz != "" {
		if cfg.Bridge.Location, err = time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("TIME_ZONE: %w", err)
		}
	}

	// Templates: file first, then per-template env overrides.
	if path := os.Getenv("TEMPLATES_FILE"); path != "" {
		if cfg.Templates, err = LoadTemplates(path); err != nil {
			return nil, fmt.Errorf("TEMPLATES_FILE: %w", err)
		}
	}
	cfg.Templates.Acknowledgement = envStr("TEMPLATE_ACKNOWLEDGEMENT", cfg.Templates.Acknowledgement)
	cfg.Templates.Investigating = envStr("TEMPLATE_INVESTIGATING", cfg.Templates.Investigating)
	cfg.Templates.Resolving = envStr("TEMPLATE_RESOLVING", cfg.Templates.Resolving)
	if cfg.Templates.Acknowledgement == "" {
		cfg.Templates.Acknowledgement = render.DefaultAcknowledgement
	}
	if _, err := render.New(cfg.Templates, cfg.Bridge.Location); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadJWT reads only the admin token settings. The token subcommand uses it
// without requiring the remote endpoints.
func LoadJWT() (JWTConfig, error) {
	ttl, err := envDuration("API_TOKEN_TTL", 24*time.Hour)
	if err != nil {
		return JWTConfig{}, fmt.Errorf("API_TOKEN_TTL: %w", err)
	}
	return JWTConfig{Secret: os.Getenv("API_JWT_SECRET"), TTL: ttl}, nil
}

// templatesFile is the YAML layout of TEMPLATES_FILE.
type templatesFile struct {
	Templates render.Sources `yaml:"templates"`
}

// LoadTemplates reads message templates from a YAML file. Keys may sit at
// the top level or under a "templates" section.
func LoadTemplates(path string) (render.Sources, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return render.Sources{}, err
	}
	var nested templatesFile
	if err := yaml.Unmarshal(data, &nested); err != nil {
		return render.Sources{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if nested.Templates != (render.Sources{}) {
		return nested.Templates, nil
	}
	var flat render.Sources
	if err := yaml.Unmarshal(data, &flat); err != nil {
		return render.Sources{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return flat, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q: %w", v, err)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", v, err)
	}
	return d, nil
}

// envInterval is envDuration that also accepts a bare number of seconds.
func envInterval(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if n, err := strconv.Atoi(v); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("interval must be positive, got %d", n)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := envDuration(key, def)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive, got %s", d)
	}
	return d, nil
}
