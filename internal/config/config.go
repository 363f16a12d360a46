// Package config provides configuration management for SimpleMem.
// Settings are loaded from environment variables with sensible defaults;
// an optional YAML file (SIMPLEMEM_CONFIG) overlays the environment for
// deployments that prefer file-based configuration.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the SimpleMem server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	LLM           LLMConfig           `yaml:"llm"`
	Memory        MemoryConfig        `yaml:"memory"`
	Redaction     RedactionConfig     `yaml:"redaction"`
	Consolidation ConsolidationConfig `yaml:"consolidation"`
}

// ServerConfig contains HTTP transport configuration.
type ServerConfig struct {
	Host    string `yaml:"host"`     // listen host (default: 0.0.0.0)
	Port    int    `yaml:"port"`     // listen port (default: 8000)
	BaseURL string `yaml:"base_url"` // externally visible base URL
}

// StorageConfig contains database locations and the vector backend choice.
type StorageConfig struct {
	UserDBPath   string `yaml:"user_db_path"`   // metadata DB: users, sessions, events, observations
	VectorDBPath string `yaml:"vector_db_path"` // per-tenant vector+lexical store root
	// VectorBackend selects the vector index implementation:
	// "chromem" (embedded, default) or "pgvector" (PostgreSQL).
	VectorBackend string `yaml:"vector_backend"`
	PGDSN         string `yaml:"pg_dsn"` // Postgres DSN when VectorBackend is "pgvector"
}

// AuthConfig contains token signing and credential encryption settings.
type AuthConfig struct {
	JWTSecretKey      string `yaml:"jwt_secret_key"` // HS256 signing key (required)
	EncryptionKey     string `yaml:"encryption_key"` // base64 32-byte AEAD key (required)
	JWTExpirationDays int    `yaml:"jwt_expiration_days"`
}

// LLMConfig contains provider gateway configuration. All supported providers
// expose an OpenAI-compatible /v1 endpoint.
type LLMConfig struct {
	Provider           string `yaml:"provider"` // litellm, openrouter, or ollama
	OpenRouterBaseURL  string `yaml:"openrouter_base_url"`
	OllamaBaseURL      string `yaml:"ollama_base_url"`
	LiteLLMBaseURL     string `yaml:"litellm_base_url"`
	Model              string `yaml:"model"`
	EmbeddingModel     string `yaml:"embedding_model"`
	EmbeddingDimension int    `yaml:"embedding_dimension"` // write-once per tenant
	MaxRetries         int    `yaml:"max_retries"`
	CallTimeout        time.Duration `yaml:"call_timeout"` // wall-clock cap per provider call
}

// MemoryConfig contains engine tunables.
type MemoryConfig struct {
	WindowSize         int `yaml:"window_size"`          // compressor window W
	WindowOverlap      int `yaml:"window_overlap"`       // turns shared between consecutive windows
	TopK               int `yaml:"top_k"`                // default retrieval depth
	ContextTokenBudget int `yaml:"context_token_budget"` // injector budget B
}

// RedactionConfig contains event-payload redaction settings. The built-in
// secret patterns always apply; these settings only extend them.
type RedactionConfig struct {
	Patterns      []string `yaml:"patterns"`        // additional identifier regexes
	MaxPayloadLen int      `yaml:"max_payload_len"` // payload size cap in bytes
}

// ConsolidationConfig contains the background maintenance tunables.
type ConsolidationConfig struct {
	DecayHalfLifeDays float64       `yaml:"decay_half_life_days"`
	MergeThreshold    float64       `yaml:"merge_threshold"` // cosine similarity gate for merge candidates
	PruneThreshold    float64       `yaml:"prune_threshold"` // score_decay floor before tombstoning
	TombstoneGrace    time.Duration `yaml:"tombstone_grace"` // delay before tombstones are collected
	Interval          time.Duration `yaml:"interval"`        // 0 disables the background timer
}

// Load reads configuration from the environment, then overlays the YAML file
// named by SIMPLEMEM_CONFIG when present. It validates the required secrets.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:    getEnv("HOST", "0.0.0.0"),
			Port:    getEnvInt("PORT", 8000),
			BaseURL: getEnv("BASE_URL", ""),
		},
		Storage: StorageConfig{
			UserDBPath:    getEnv("USER_DB_PATH", "./data/users.db"),
			VectorDBPath:  getEnv("VECTOR_DB_PATH", "./data/vectors"),
			VectorBackend: getEnv("VECTOR_BACKEND", "chromem"),
			PGDSN:         getEnv("PG_DSN", ""),
		},
		Auth: AuthConfig{
			JWTSecretKey:      getEnv("JWT_SECRET_KEY", ""),
			EncryptionKey:     getEnv("ENCRYPTION_KEY", ""),
			JWTExpirationDays: getEnvInt("JWT_EXPIRATION_DAYS", 30),
		},
		LLM: LLMConfig{
			Provider:           getEnv("LLM_PROVIDER", "openrouter"),
			OpenRouterBaseURL:  getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
			OllamaBaseURL:      getEnv("OLLAMA_BASE_URL", "http://localhost:11434/v1"),
			LiteLLMBaseURL:     getEnv("LITELLM_BASE_URL", ""),
			Model:              getEnv("LLM_MODEL", "openai/gpt-4.1-mini"),
			EmbeddingModel:     getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvInt("EMBEDDING_DIMENSION", 1536),
			MaxRetries:         getEnvInt("LLM_MAX_RETRIES", 3),
			CallTimeout:        getEnvDuration("LLM_CALL_TIMEOUT", 60*time.Second),
		},
		Memory: MemoryConfig{
			WindowSize:         getEnvInt("WINDOW_SIZE", 10),
			WindowOverlap:      getEnvInt("WINDOW_OVERLAP", 2),
			TopK:               getEnvInt("TOP_K", 10),
			ContextTokenBudget: getEnvInt("CONTEXT_TOKEN_BUDGET", 2000),
		},
		Redaction: RedactionConfig{
			Patterns:      getEnvList("REDACTION_PATTERNS"),
			MaxPayloadLen: getEnvInt("MAX_EVENT_PAYLOAD", 16384),
		},
		Consolidation: ConsolidationConfig{
			DecayHalfLifeDays: getEnvFloat("DECAY_HALF_LIFE_DAYS", 30.0),
			MergeThreshold:    getEnvFloat("CONSOLIDATION_MERGE_THRESHOLD", 0.88),
			PruneThreshold:    getEnvFloat("PRUNE_THRESHOLD", 0.05),
			TombstoneGrace:    getEnvDuration("TOMBSTONE_GRACE", 7*24*time.Hour),
			Interval:          getEnvDuration("CONSOLIDATION_INTERVAL", 0),
		},
	}

	if path := os.Getenv("SIMPLEMEM_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings. The two secrets have no usable defaults;
// refusing to start beats running with a guessable key.
func (c *Config) Validate() error {
	if c.Auth.JWTSecretKey == "" {
		return fmt.Errorf("config: JWT_SECRET_KEY is required")
	}
	if c.Auth.EncryptionKey == "" {
		return fmt.Errorf("config: ENCRYPTION_KEY is required")
	}
	if _, err := c.EncryptionKeyBytes(); err != nil {
		return err
	}
	switch c.LLM.Provider {
	case "litellm", "openrouter", "ollama":
	default:
		return fmt.Errorf("config: unsupported LLM_PROVIDER %q", c.LLM.Provider)
	}
	if c.LLM.EmbeddingDimension <= 0 {
		return fmt.Errorf("config: EMBEDDING_DIMENSION must be positive, got %d", c.LLM.EmbeddingDimension)
	}
	return nil
}

// EncryptionKeyBytes decodes the base64 AEAD key and checks its length.
// A raw 32-byte string is accepted as a fallback for development setups.
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(c.Auth.EncryptionKey); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	if len(c.Auth.EncryptionKey) == 32 {
		return []byte(c.Auth.EncryptionKey), nil
	}
	return nil, fmt.Errorf("config: ENCRYPTION_KEY must decode to 32 bytes")
}

// ProviderBaseURL returns the base URL for the configured provider.
func (c *Config) ProviderBaseURL() string {
	switch c.LLM.Provider {
	case "ollama":
		return c.LLM.OllamaBaseURL
	case "litellm":
		return c.LLM.LiteLLMBaseURL
	default:
		return c.LLM.OpenRouterBaseURL
	}
}

// DecayLambda converts the configured half-life into the decay rate used by
// score_decay updates: score *= exp(-lambda * dt).
func (c *Config) DecayLambda() float64 {
	halfLife := c.Consolidation.DecayHalfLifeDays * 24 * float64(time.Hour)
	return 0.6931471805599453 / halfLife // ln 2 / half-life, in 1/ns
}

// getEnv retrieves an environment variable or returns the default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvList retrieves a comma-separated environment variable as a slice.
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnvDuration retrieves a duration environment variable or returns the default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
