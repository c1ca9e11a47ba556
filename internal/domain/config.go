package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Admin     AdminConfig     `mapstructure:"admin"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TLSEnabled   bool          `mapstructure:"tls_enabled"`
	CertFile     string        `mapstructure:"cert_file"`
	KeyFile      string        `mapstructure:"key_file"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// CacheConfig represents the Redis session cache configuration
type CacheConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	SessionTTL  time.Duration `mapstructure:"session_ttl"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// GeneratorConfig represents text-generation service configuration.
// Extraction runs at a lower temperature than narrative phrasing to keep
// structured output close to deterministic.
type GeneratorConfig struct {
	APIKey                string        `mapstructure:"api_key"`
	Model                 string        `mapstructure:"model"`
	Timeout               time.Duration `mapstructure:"timeout"`
	RateLimit             int           `mapstructure:"rate_limit"`
	ExtractionTemperature float32       `mapstructure:"extraction_temperature"`
	NarrativeTemperature  float32       `mapstructure:"narrative_temperature"`
	ExtractionMaxTokens   int           `mapstructure:"extraction_max_tokens"`
	NarrativeMaxTokens    int           `mapstructure:"narrative_max_tokens"`
	DialogueMaxTokens     int           `mapstructure:"dialogue_max_tokens"`
}

// RetrievalConfig represents guidance-corpus retrieval configuration
type RetrievalConfig struct {
	CorpusPath string `mapstructure:"corpus_path"`
	TopK       int    `mapstructure:"top_k"`
	CacheSize  int    `mapstructure:"cache_size"`
}

// AuditConfig represents the divergence audit log configuration
type AuditConfig struct {
	Backend    string `mapstructure:"backend"` // "sqlite" or "postgres"
	SQLitePath string `mapstructure:"sqlite_path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// AdminConfig represents admin API access configuration
type AdminConfig struct {
	APIKey string `mapstructure:"api_key"`
}
