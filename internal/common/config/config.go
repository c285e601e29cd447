// Package config provides configuration management for the orchestrator.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the orchestrator.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Events       EventsConfig       `mapstructure:"events"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Runtime      RuntimeConfig      `mapstructure:"runtime"`
	RAG          RAGConfig          `mapstructure:"rag"`
	Persona      PersonaConfig      `mapstructure:"persona"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig holds HTTP+WS server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS messaging configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClusterID     string `mapstructure:"clusterId"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// EventsConfig holds event bus namespace configuration.
type EventsConfig struct {
	// Namespace isolates queue-group subscribers across deployments/instances.
	// Empty value means derive from runtime data identity.
	Namespace string `mapstructure:"namespace"`
}

// OrchestratorConfig tunes the session worker, turn scheduler, and fan-out
// behavior for every session in the process.
type OrchestratorConfig struct {
	MemoryWindowDefault int `mapstructure:"memoryWindowDefault"`
	MaxAgentsPerTurn    int `mapstructure:"maxAgentsPerTurn"`
	MaxContinuation     int `mapstructure:"maxContinuation"`

	InboundQueueCapacity   int `mapstructure:"inboundQueueCapacity"`
	InboundQueuePutTimeout int `mapstructure:"inboundQueuePutTimeoutMs"`

	SubscriberCapacity    int `mapstructure:"subscriberCapacity"`
	SubscriberSendTimeout int `mapstructure:"subscriberSendTimeoutMs"`

	// MentionScoreThreshold is loaded from configuration but not read by the
	// turn scheduler, whose selection thresholds are package constants.
	MentionScoreThreshold float64 `mapstructure:"mentionScoreThreshold"`
	// MentionBonus is loaded from configuration but not read by the turn
	// scheduler, which selects @mentioned personas outright.
	MentionBonus float64 `mapstructure:"mentionBonus"`
}

// InboundQueuePutTimeoutDuration returns the put timeout as a time.Duration.
func (o *OrchestratorConfig) InboundQueuePutTimeoutDuration() time.Duration {
	return time.Duration(o.InboundQueuePutTimeout) * time.Millisecond
}

// SubscriberSendTimeoutDuration returns the slow-consumer timeout as a time.Duration.
func (o *OrchestratorConfig) SubscriberSendTimeoutDuration() time.Duration {
	return time.Duration(o.SubscriberSendTimeout) * time.Millisecond
}

// RuntimeConfig tunes how the runtime adapter calls out to LLM providers.
type RuntimeConfig struct {
	// Mode selects "stub" (deterministic, no network calls, for tests) or
	// "live" (real provider calls).
	Mode                string  `mapstructure:"mode"`
	DefaultTemperature  float64 `mapstructure:"defaultTemperature"`
	RetryCount          int     `mapstructure:"retryCount"`
	RetryBackoffBaseMs  int     `mapstructure:"retryBackoffBaseMs"`
	RetryBackoffFactor  float64 `mapstructure:"retryBackoffFactor"`
	IdleTokenTimeoutMs  int     `mapstructure:"idleTokenTimeoutMs"`
	BedrockRegion       string  `mapstructure:"bedrockRegion"`
}

// IdleTokenTimeoutDuration returns the idle-token timeout as a time.Duration.
func (r *RuntimeConfig) IdleTokenTimeoutDuration() time.Duration {
	return time.Duration(r.IdleTokenTimeoutMs) * time.Millisecond
}

// RetryBackoffBaseDuration returns the retry backoff base as a time.Duration.
func (r *RuntimeConfig) RetryBackoffBaseDuration() time.Duration {
	return time.Duration(r.RetryBackoffBaseMs) * time.Millisecond
}

// RAGConfig tunes the per-persona retrieval layer.
type RAGConfig struct {
	EmbeddingDim      int    `mapstructure:"embeddingDim"`
	ChunkSize         int    `mapstructure:"chunkSize"`
	ChunkOverlap      int    `mapstructure:"chunkOverlap"`
	PromptTopK        int    `mapstructure:"promptTopK"`
	SearchTopKDefault int    `mapstructure:"searchTopKDefault"`
	StorePath         string `mapstructure:"storePath"`
}

// PersonaConfig points at the reference YAML-fixture persona registry used
// for local/dev runs; a production deployment wires its own Registry
// implementation behind the same interface instead.
type PersonaConfig struct {
	// FixturesDir holds one YAML file per tenant, named "{tenant_id}.yaml".
	FixturesDir string `mapstructure:"fixturesDir"`
}

// AuthConfig holds an encryption key for persona provider credentials. The
// key is loaded but not read: the orchestrator has no encrypt/decrypt step
// and uses persona profiles as the registry returns them. It does not issue or validate session
// tokens itself; that is a collaborator concern upstream of these APIs.
type AuthConfig struct {
	EncryptionKey string `mapstructure:"encryptionKey"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("PERSONAORCH_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./personaorch.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "personaorch")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "personaorch")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clusterId", "personaorch-cluster")
	v.SetDefault("nats.clientId", "personaorch-client")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("events.namespace", "")

	v.SetDefault("orchestrator.memoryWindowDefault", 8)
	v.SetDefault("orchestrator.maxAgentsPerTurn", 3)
	v.SetDefault("orchestrator.maxContinuation", 6)
	v.SetDefault("orchestrator.inboundQueueCapacity", 16)
	v.SetDefault("orchestrator.inboundQueuePutTimeoutMs", 2000)
	v.SetDefault("orchestrator.subscriberCapacity", 64)
	v.SetDefault("orchestrator.subscriberSendTimeoutMs", 50)
	v.SetDefault("orchestrator.mentionScoreThreshold", 0.35)
	v.SetDefault("orchestrator.mentionBonus", 0.5)

	v.SetDefault("runtime.mode", "stub")
	v.SetDefault("runtime.defaultTemperature", 0.7)
	v.SetDefault("runtime.retryCount", 2)
	v.SetDefault("runtime.retryBackoffBaseMs", 500)
	v.SetDefault("runtime.retryBackoffFactor", 2.0)
	v.SetDefault("runtime.idleTokenTimeoutMs", 30000)
	v.SetDefault("runtime.bedrockRegion", "us-east-1")

	v.SetDefault("rag.embeddingDim", 384)
	v.SetDefault("rag.chunkSize", 500)
	v.SetDefault("rag.chunkOverlap", 50)
	v.SetDefault("rag.promptTopK", 3)
	v.SetDefault("rag.searchTopKDefault", 5)
	v.SetDefault("rag.storePath", "./personaorch-rag.db")

	v.SetDefault("persona.fixturesDir", "./personas")

	v.SetDefault("auth.encryptionKey", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix PERSONAORCH_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/personaorch/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PERSONAORCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("logging.level", "PERSONAORCH_LOG_LEVEL")
	_ = v.BindEnv("events.namespace", "PERSONAORCH_EVENTS_NAMESPACE")
	_ = v.BindEnv("auth.encryptionKey", "PERSONAORCH_ENCRYPTION_KEY")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/personaorch/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Database.Driver == "postgres" {
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for postgres driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for postgres driver")
		}
	}

	if cfg.Orchestrator.MaxContinuation <= 0 {
		errs = append(errs, "orchestrator.maxContinuation must be positive")
	}
	if cfg.Orchestrator.InboundQueueCapacity <= 0 {
		errs = append(errs, "orchestrator.inboundQueueCapacity must be positive")
	}

	if cfg.Runtime.Mode != "stub" && cfg.Runtime.Mode != "live" {
		errs = append(errs, "runtime.mode must be one of: stub, live")
	}

	if cfg.RAG.ChunkOverlap >= cfg.RAG.ChunkSize {
		errs = append(errs, "rag.chunkOverlap must be smaller than rag.chunkSize")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}
