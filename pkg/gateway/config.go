package gateway

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Storage   StorageConfig   `yaml:"storage"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Name      string    `yaml:"name"`
	Address   string    `yaml:"address"`
	PublicDir string    `yaml:"public_dir"` // static UI directory, empty disables
	TLS       TLSConfig `yaml:"tls"`
}

// TLSConfig configures TLS.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AuthConfig configures authentication.
type AuthConfig struct {
	// Enabled gates the whole auth layer. When false the gateway runs
	// anonymously and sessions carry no owner.
	Enabled bool          `yaml:"enabled"`
	JWT     JWTAuthConfig `yaml:"jwt"`
}

// JWTAuthConfig configures the optional bearer-token authenticator.
type JWTAuthConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SigningKey string `yaml:"signing_key"`
	Issuer     string `yaml:"issuer"`
}

// StorageConfig selects and configures the credential store backend.
type StorageConfig struct {
	// Backend is one of "memory", "file", "postgres", "redis".
	Backend  string             `yaml:"backend"`
	File     FileStorageConfig  `yaml:"file"`
	Postgres PostgresConfig     `yaml:"postgres"`
	Redis    RedisStorageConfig `yaml:"redis"`
}

// FileStorageConfig configures the filesystem backend.
type FileStorageConfig struct {
	Root string `yaml:"root"`
}

// PostgresConfig configures the database backend.
type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	Migrate      bool   `yaml:"migrate"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// RedisStorageConfig configures the redis backend.
type RedisStorageConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// SessionsConfig configures the lifecycle manager.
type SessionsConfig struct {
	// RetainOnDelete keeps the credential record on explicit delete.
	// The default purges it; transient disconnects always retain.
	RetainOnDelete bool `yaml:"retain_on_delete"`

	// IdleTTL force-closes connected sessions idle past the duration.
	// Zero disables reaping.
	IdleTTL      time.Duration `yaml:"idle_ttl"`
	ReapInterval time.Duration `yaml:"reap_interval"`

	PairingTimeout     time.Duration `yaml:"pairing_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	StatusPollInterval time.Duration `yaml:"status_poll_interval"`

	Cooldown CooldownConfig `yaml:"cooldown"`
}

// CooldownConfig bounds the re-pairing gate after transient disconnects.
type CooldownConfig struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// RateLimitConfig configures per-client rate limiting on /api/.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// LoadConfig reads, expands and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns the configuration used when no file is supplied:
// anonymous, in-memory, rate limited.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = "chatgate"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":3000"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendMemory
	}
	if cfg.Storage.Postgres.MaxOpenConns == 0 {
		cfg.Storage.Postgres.MaxOpenConns = 25
	}
	if cfg.RateLimit.RPS == 0 {
		// Matches the original deployment's 100 requests per 15 minutes.
		cfg.RateLimit.RPS = 100.0 / (15 * 60)
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []string

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendFile:
		if c.Storage.File.Root == "" {
			errs = append(errs, "storage.file.root is required for the file backend")
		}
	case BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			errs = append(errs, "storage.postgres.dsn is required for the postgres backend")
		}
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, "storage.redis.addr is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown storage backend %q", c.Storage.Backend))
	}

	if c.Auth.JWT.Enabled && c.Auth.JWT.SigningKey == "" {
		errs = append(errs, "auth.jwt.signing_key is required when JWT auth is enabled")
	}

	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		errs = append(errs, "server.tls.cert_file and key_file are required when TLS is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// expandEnvVars substitutes ${VAR} references with the environment value.
// The ${VAR:-default} form falls back to default when VAR is unset or empty.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*)?\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return strings.TrimPrefix(parts[2], ":-")
	})
}
