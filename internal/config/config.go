package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Session storage backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	Env             string        `mapstructure:"ENV"`
	ListenAddr      string        `mapstructure:"LISTEN_ADDR"`
	APIBaseURL      string        `mapstructure:"API_BASE_URL"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	SessionBackend  string        `mapstructure:"SESSION_BACKEND"`
	SessionPath     string        `mapstructure:"SESSION_PATH"`
	SessionDSN      string        `mapstructure:"SESSION_DSN"`
	SessionMaxConns int32         `mapstructure:"SESSION_MAX_CONNS"`
	SessionProfile  string        `mapstructure:"SESSION_PROFILE"`
	SessionTimeout  time.Duration `mapstructure:"SESSION_TIMEOUT"`
}

// Load reads configuration from the environment and an optional .env file
// in the working directory.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit env file path.
func LoadFile(path string) (*Config, error) {
	// Missing file is fine; existing environment wins over the file.
	_ = godotenv.Load(path)

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("ENV", "development")
	v.SetDefault("LISTEN_ADDR", "127.0.0.1:3000")
	v.SetDefault("API_BASE_URL", "http://localhost:8000/api/v1")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("SESSION_BACKEND", BackendFile)
	v.SetDefault("SESSION_MAX_CONNS", 4)
	v.SetDefault("SESSION_PROFILE", "default")
	v.SetDefault("SESSION_TIMEOUT", "5s")

	v.BindEnv("ENV")
	v.BindEnv("LISTEN_ADDR")
	v.BindEnv("API_BASE_URL")
	v.BindEnv("REQUEST_TIMEOUT")
	v.BindEnv("SESSION_BACKEND")
	v.BindEnv("SESSION_PATH")
	v.BindEnv("SESSION_DSN")
	v.BindEnv("SESSION_MAX_CONNS")
	v.BindEnv("SESSION_PROFILE")
	v.BindEnv("SESSION_TIMEOUT")

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration can start a client.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an absolute http(s) URL, got %q", c.APIBaseURL)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT must be positive, got %s", c.SessionTimeout)
	}

	switch c.SessionBackend {
	case BackendMemory, BackendFile:
	case BackendSQLite:
		if c.SessionPath == "" {
			return fmt.Errorf("SESSION_PATH is required when SESSION_BACKEND is %q", BackendSQLite)
		}
	case BackendPostgres:
		if c.SessionDSN == "" {
			return fmt.Errorf("SESSION_DSN is required when SESSION_BACKEND is %q", BackendPostgres)
		}
		if c.SessionMaxConns < 1 {
			return fmt.Errorf("SESSION_MAX_CONNS must be at least 1, got %d", c.SessionMaxConns)
		}
	default:
		return fmt.Errorf("SESSION_BACKEND must be %q, %q, %q or %q, got %q",
			BackendMemory, BackendFile, BackendSQLite, BackendPostgres, c.SessionBackend)
	}
	return nil
}
