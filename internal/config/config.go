package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// Config captures every setting required to boot the reliability engine.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Database    DatabaseConfig    `yaml:"database"`
	Cache       CacheConfig       `yaml:"cache"`
	ContentHost ContentHostConfig `yaml:"contentHost"`
	Audit       AuditConfig       `yaml:"audit"`
	Auth        AuthConfig        `yaml:"auth"`
	Heartbeat   HeartbeatConfig   `yaml:"heartbeat"`
	Healing     HealingConfig     `yaml:"healing"`
	RateLimit   RateLimitConfig   `yaml:"rateLimit"`
	Jobs        []models.Job      `yaml:"jobs" validate:"dive"`
}

// ServerConfig controls HTTP, gRPC and metrics listener behaviour.
type ServerConfig struct {
	HTTPAddress     string        `yaml:"httpAddress" validate:"required"`
	GRPCAddress     string        `yaml:"grpcAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout" validate:"gt=0"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
	File  string `yaml:"file"`
}

// DatabaseConfig selects the SQL backend used by every store.
type DatabaseConfig struct {
	Driver  string        `yaml:"driver" validate:"oneof=sqlite3 pgx"`
	DSN     string        `yaml:"dsn" validate:"required"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// CacheConfig controls the Redis-compatible cache used for path locks and report caching.
// When disabled an in-process cache is used, which is only safe for a single replica.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr" validate:"required_if=Enabled true"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db" validate:"gte=0"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	LockTTL      time.Duration `yaml:"lockTTL" validate:"gt=0"`
	LockWait     time.Duration `yaml:"lockWait" validate:"gt=0"`
}

// ContentHostConfig configures the version-control host patches are written to.
type ContentHostConfig struct {
	Kind              string        `yaml:"kind" validate:"oneof=github local memory"`
	BaseURL           string        `yaml:"baseURL" validate:"required_if=Kind github"`
	Owner             string        `yaml:"owner" validate:"required_if=Kind github"`
	Repo              string        `yaml:"repo" validate:"required_if=Kind github"`
	Branch            string        `yaml:"branch"`
	Token             string        `yaml:"token"`
	RootDir           string        `yaml:"rootDir" validate:"required_if=Kind local"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond" validate:"gte=0"`
}

// AuditConfig configures the optional NATS audit fan-out. The store-backed sink is always on.
type AuditConfig struct {
	NatsURL string        `yaml:"natsURL"`
	Subject string        `yaml:"subject"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// AuthConfig lists the operator credentials accepted by the API.
type AuthConfig struct {
	Operators []OperatorConfig `yaml:"operators" validate:"dive"`
}

// OperatorConfig maps a bearer token to an operator identity.
type OperatorConfig struct {
	ID    string `yaml:"id" validate:"required"`
	Token string `yaml:"token" validate:"required,min=16"`
}

// HeartbeatConfig controls the liveness emitter and its analysis.
type HeartbeatConfig struct {
	Source              string        `yaml:"source" validate:"required"`
	Interval            time.Duration `yaml:"interval" validate:"gt=0"`
	GapThresholdMinutes float64       `yaml:"gapThresholdMinutes" validate:"gt=0"`
	StaleAfter          time.Duration `yaml:"staleAfter" validate:"gt=0"`
}

// HealingConfig controls the remediation loop.
type HealingConfig struct {
	AutoFixThreshold   float64       `yaml:"autoFixThreshold" validate:"gte=0,lte=100"`
	ReviewPaths        []string      `yaml:"reviewPaths"`
	RulesPath          string        `yaml:"rulesPath"`
	RunTimeout         time.Duration `yaml:"runTimeout" validate:"gt=0"`
	StaleRunTimeout    time.Duration `yaml:"staleRunTimeout" validate:"gt=0"`
	JanitorInterval    time.Duration `yaml:"janitorInterval" validate:"gt=0"`
	ReportDays         int           `yaml:"reportDays" validate:"gte=1,lte=90"`
	ReportCacheTTL     time.Duration `yaml:"reportCacheTTL" validate:"gte=0"`
	MemoryThresholdPct float64       `yaml:"memoryThresholdPct" validate:"gte=0,lte=100"`
	DiskThresholdPct   float64       `yaml:"diskThresholdPct" validate:"gte=0,lte=100"`
	DiskPath           string        `yaml:"diskPath"`
}

// RateLimitConfig bounds how often a job may be triggered manually. TriggerMax 0 disables it.
type RateLimitConfig struct {
	TriggerMax    int           `yaml:"triggerMax" validate:"gte=0"`
	TriggerWindow time.Duration `yaml:"triggerWindow" validate:"gt=0"`
}

// Load initialises Config from a YAML file, an optional .env file and environment overrides.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("MIRADOR_HEAL_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Jobs))
	for _, job := range c.Jobs {
		if _, dup := seen[job.Name]; dup {
			return fmt.Errorf("invalid config: duplicate job %q", job.Name)
		}
		seen[job.Name] = struct{}{}
	}
	return nil
}

// Default returns the built-in configuration.
func Default() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddress:     ":8080",
			GRPCAddress:     ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Database: DatabaseConfig{
			Driver:  "sqlite3",
			DSN:     "mirador-heal.db",
			Timeout: 5 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			LockTTL:      2 * time.Minute,
			LockWait:     10 * time.Second,
		},
		ContentHost: ContentHostConfig{
			Kind:              "local",
			RootDir:           ".",
			Branch:            "main",
			BaseURL:           "https://api.github.com",
			Timeout:           10 * time.Second,
			RequestsPerSecond: 5,
		},
		Audit: AuditConfig{
			Subject: "healing.audit",
			Timeout: 3 * time.Second,
		},
		Heartbeat: HeartbeatConfig{
			Source:              "reliability-engine",
			Interval:            time.Minute,
			GapThresholdMinutes: 2,
			StaleAfter:          3 * time.Minute,
		},
		Healing: HealingConfig{
			AutoFixThreshold:   70,
			RunTimeout:         10 * time.Minute,
			StaleRunTimeout:    time.Hour,
			JanitorInterval:    5 * time.Minute,
			ReportDays:         7,
			ReportCacheTTL:     30 * time.Second,
			MemoryThresholdPct: 90,
			DiskThresholdPct:   90,
			DiskPath:           "/",
		},
		RateLimit: RateLimitConfig{
			TriggerMax:    10,
			TriggerWindow: time.Hour,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = strings.EqualFold(v, "true") || v == "1"
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	setString("MIRADOR_HEAL_HTTP_ADDRESS", &cfg.Server.HTTPAddress)
	setString("MIRADOR_HEAL_GRPC_ADDRESS", &cfg.Server.GRPCAddress)
	setString("MIRADOR_HEAL_METRICS_ADDRESS", &cfg.Server.MetricsAddress)
	setString("MIRADOR_HEAL_LOG_LEVEL", &cfg.Logging.Level)
	if v := os.Getenv("MIRADOR_HEAL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	setString("MIRADOR_HEAL_LOG_FILE", &cfg.Logging.File)
	setString("MIRADOR_HEAL_DB_DRIVER", &cfg.Database.Driver)
	setString("MIRADOR_HEAL_DB_DSN", &cfg.Database.DSN)
	setDuration("MIRADOR_HEAL_DB_TIMEOUT", &cfg.Database.Timeout)
	setBool("MIRADOR_HEAL_CACHE_ENABLED", &cfg.Cache.Enabled)
	setString("MIRADOR_HEAL_CACHE_ADDR", &cfg.Cache.Addr)
	setString("MIRADOR_HEAL_CACHE_USERNAME", &cfg.Cache.Username)
	setString("MIRADOR_HEAL_CACHE_PASSWORD", &cfg.Cache.Password)
	if v := os.Getenv("MIRADOR_HEAL_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	setBool("MIRADOR_HEAL_CACHE_TLS", &cfg.Cache.TLS)
	setString("MIRADOR_HEAL_CONTENT_HOST_KIND", &cfg.ContentHost.Kind)
	setString("MIRADOR_HEAL_CONTENT_HOST_URL", &cfg.ContentHost.BaseURL)
	setString("MIRADOR_HEAL_CONTENT_HOST_OWNER", &cfg.ContentHost.Owner)
	setString("MIRADOR_HEAL_CONTENT_HOST_REPO", &cfg.ContentHost.Repo)
	setString("MIRADOR_HEAL_CONTENT_HOST_BRANCH", &cfg.ContentHost.Branch)
	setString("MIRADOR_HEAL_CONTENT_HOST_TOKEN", &cfg.ContentHost.Token)
	setString("MIRADOR_HEAL_CONTENT_HOST_ROOT", &cfg.ContentHost.RootDir)
	setDuration("MIRADOR_HEAL_CONTENT_HOST_TIMEOUT", &cfg.ContentHost.Timeout)
	setString("MIRADOR_HEAL_AUDIT_NATS_URL", &cfg.Audit.NatsURL)
	setString("MIRADOR_HEAL_AUDIT_SUBJECT", &cfg.Audit.Subject)
	setString("MIRADOR_HEAL_HEARTBEAT_SOURCE", &cfg.Heartbeat.Source)
	setDuration("MIRADOR_HEAL_HEARTBEAT_INTERVAL", &cfg.Heartbeat.Interval)
	setFloat("MIRADOR_HEAL_AUTOFIX_THRESHOLD", &cfg.Healing.AutoFixThreshold)
	setString("MIRADOR_HEAL_RULES_PATH", &cfg.Healing.RulesPath)
	setDuration("MIRADOR_HEAL_STALE_RUN_TIMEOUT", &cfg.Healing.StaleRunTimeout)
	if v := os.Getenv("MIRADOR_HEAL_OPERATOR_TOKEN"); v != "" {
		id := os.Getenv("MIRADOR_HEAL_OPERATOR_ID")
		if id == "" {
			id = "operator"
		}
		cfg.Auth.Operators = append(cfg.Auth.Operators, OperatorConfig{ID: id, Token: v})
	}
}
