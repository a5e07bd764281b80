package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Agent       AgentConfig
	Execution   ExecutionConfig
	Credentials CredentialsConfig
	Secrets     SecretsConfig
	Logging     LoggingConfig
	Auth        AuthConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" envDefault:"8080"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DSN    string `env:"DB_DSN" envDefault:"data/stack-executor.db"`
}

// AgentConfig holds remote agent client configuration.
type AgentConfig struct {
	Timeout time.Duration `env:"AGENT_TIMEOUT" envDefault:"10m"`
}

// ExecutionConfig holds command execution configuration.
type ExecutionConfig struct {
	BatchParallelism int `env:"BATCH_PARALLELISM" envDefault:"4"`
}

// CredentialsConfig holds git and registry tokens keyed by "provider/account".
type CredentialsConfig struct {
	GitTokens      map[string]string `env:"GIT_TOKENS" envKeyValSeparator:"="`
	RegistryTokens map[string]string `env:"REGISTRY_TOKENS" envKeyValSeparator:"="`
}

// SecretsConfig holds interpolation secrets. Vault is optional.
type SecretsConfig struct {
	Core       map[string]string `env:"CORE_SECRETS" envKeyValSeparator:"="`
	VaultAddr  string            `env:"VAULT_ADDR"`
	VaultToken string            `env:"VAULT_TOKEN"`
	VaultMount string            `env:"VAULT_MOUNT" envDefault:"secret"`
	VaultPath  string            `env:"VAULT_PATH"`
}

// VaultEnabled reports whether a Vault KV path is configured.
func (c *SecretsConfig) VaultEnabled() bool {
	return c.VaultAddr != "" && c.VaultPath != ""
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// AuthConfig holds API authentication configuration.
type AuthConfig struct {
	BootstrapAPIKey string `env:"BOOTSTRAP_API_KEY"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(&cfg.Server); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if err := env.Parse(&cfg.Database); err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if err := env.Parse(&cfg.Agent); err != nil {
		return nil, fmt.Errorf("parsing agent config: %w", err)
	}
	if err := env.Parse(&cfg.Execution); err != nil {
		return nil, fmt.Errorf("parsing execution config: %w", err)
	}
	if err := env.Parse(&cfg.Credentials); err != nil {
		return nil, fmt.Errorf("parsing credentials config: %w", err)
	}
	if err := env.Parse(&cfg.Secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets config: %w", err)
	}
	if err := env.Parse(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("parsing logging config: %w", err)
	}
	if err := env.Parse(&cfg.Auth); err != nil {
		return nil, fmt.Errorf("parsing auth config: %w", err)
	}

	return cfg, nil
}

// Addr returns the server address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite3 or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if c.Execution.BatchParallelism < 1 {
		return fmt.Errorf("BATCH_PARALLELISM must be at least 1")
	}
	if c.Agent.Timeout <= 0 {
		return fmt.Errorf("AGENT_TIMEOUT must be positive")
	}

	// A Vault path without a token can't be read
	if c.Secrets.VaultEnabled() && c.Secrets.VaultToken == "" {
		return fmt.Errorf("VAULT_TOKEN is required when VAULT_ADDR and VAULT_PATH are set")
	}

	return nil
}
