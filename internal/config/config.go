package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeLocal Mode = "local"
	ModeGCP   Mode = "gcp"
)

type Config struct {
	Mode Mode `yaml:"mode"`

	Server  ServerConfig  `yaml:"server"`
	GCP     GCPConfig     `yaml:"gcp"`
	LLM     LLMConfig     `yaml:"llm"`
	Storage StorageConfig `yaml:"storage"`
	Auth    AuthConfig    `yaml:"auth"`
	Follow  FollowConfig  `yaml:"follow"`
	Feed    FeedConfig    `yaml:"feed"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type GCPConfig struct {
	ProjectID string `yaml:"project_id"`
	Location  string `yaml:"location"`
}

type LLMConfig struct {
	Backend     string  `yaml:"backend"` // "vertex", "gemini" or "mock"
	APIKey      string  `yaml:"api_key"`
	ModelName   string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
}

type StorageConfig struct {
	Backend    string `yaml:"backend"` // "memory", "firestore" or "sqlite"
	SQLitePath string `yaml:"sqlite_path"`
}

type AuthConfig struct {
	Provider string `yaml:"provider"` // "static" or "firebase"
}

type FollowConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	OnFailure     string        `yaml:"on_failure"` // "keep" or "rollback"
}

type FeedConfig struct {
	PageSize int           `yaml:"page_size"`
	StoryTTL time.Duration `yaml:"story_ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Default returns the local-mode configuration.
func Default() *Config {
	return &Config{
		Mode: ModeLocal,
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0, // caption generation has no client-side deadline
		},
		GCP: GCPConfig{
			Location: "us-central1",
		},
		LLM: LLMConfig{
			Backend:     "mock",
			ModelName:   "gemini-2.0-flash",
			Temperature: 0.9,
		},
		Storage: StorageConfig{
			Backend:    "memory",
			SQLitePath: "instaflow.db",
		},
		Auth: AuthConfig{
			Provider: "static",
		},
		Follow: FollowConfig{
			RetryAttempts: 3,
			RetryBackoff:  200 * time.Millisecond,
			OnFailure:     "keep",
		},
		Feed: FeedConfig{
			PageSize: 30,
			StoryTTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the optional YAML file at path, applies INSTAFLOW_* env
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := getEnv("INSTAFLOW_MODE", ""); v != "" {
		cfg.Mode = Mode(v)
		// gcp mode talks to Vertex and Firestore unless told otherwise
		if cfg.Mode == ModeGCP {
			cfg.LLM.Backend = "vertex"
			cfg.Storage.Backend = "firestore"
		}
	}

	cfg.Server.Port = getEnv("PORT", getEnv("INSTAFLOW_PORT", cfg.Server.Port))
	if v := getEnv("INSTAFLOW_ALLOWED_ORIGINS", ""); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}

	cfg.GCP.ProjectID = getEnv("INSTAFLOW_GCP_PROJECT", cfg.GCP.ProjectID)
	cfg.GCP.Location = getEnv("INSTAFLOW_GCP_LOCATION", cfg.GCP.Location)

	cfg.LLM.Backend = getEnv("INSTAFLOW_LLM_BACKEND", cfg.LLM.Backend)
	cfg.LLM.APIKey = getEnv("GEMINI_API_KEY", getEnv("INSTAFLOW_LLM_API_KEY", cfg.LLM.APIKey))
	cfg.LLM.ModelName = getEnv("INSTAFLOW_MODEL_NAME", cfg.LLM.ModelName)
	if getBoolEnv("INSTAFLOW_USE_MOCK_LLM", false) {
		cfg.LLM.Backend = "mock"
	}

	cfg.Storage.Backend = getEnv("INSTAFLOW_STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.SQLitePath = getEnv("INSTAFLOW_SQLITE_PATH", cfg.Storage.SQLitePath)

	cfg.Auth.Provider = getEnv("INSTAFLOW_AUTH_PROVIDER", cfg.Auth.Provider)
	cfg.Follow.OnFailure = getEnv("INSTAFLOW_FOLLOW_ON_FAILURE", cfg.Follow.OnFailure)

	if v := getEnv("INSTAFLOW_FOLLOW_RETRY_ATTEMPTS", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("INSTAFLOW_FOLLOW_RETRY_ATTEMPTS: %w", err)
		}
		cfg.Follow.RetryAttempts = n
	}

	cfg.Logging.Level = getEnv("INSTAFLOW_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("INSTAFLOW_LOG_FORMAT", cfg.Logging.Format)
	return nil
}

// Validate rejects configurations the composition root cannot build.
func (c *Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeLocal, ModeGCP:
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}

	switch c.LLM.Backend {
	case "mock":
	case "vertex":
		if c.GCP.ProjectID == "" {
			errs = append(errs, errors.New("INSTAFLOW_GCP_PROJECT must be set for the vertex backend"))
		}
	case "gemini":
		if c.LLM.APIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY must be set for the gemini backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown llm backend %q", c.LLM.Backend))
	}
	if c.LLM.ModelName == "" {
		errs = append(errs, errors.New("llm model must not be empty"))
	}

	switch c.Storage.Backend {
	case "memory":
	case "firestore":
		if c.GCP.ProjectID == "" {
			errs = append(errs, errors.New("INSTAFLOW_GCP_PROJECT must be set for firestore storage"))
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite storage needs a path"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	switch c.Auth.Provider {
	case "static":
	case "firebase":
		if c.GCP.ProjectID == "" {
			errs = append(errs, errors.New("INSTAFLOW_GCP_PROJECT must be set for firebase auth"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown auth provider %q", c.Auth.Provider))
	}

	switch c.Follow.OnFailure {
	case "keep", "rollback":
	default:
		errs = append(errs, fmt.Errorf("follow.on_failure must be keep or rollback, got %q", c.Follow.OnFailure))
	}
	if c.Follow.RetryAttempts < 1 {
		errs = append(errs, errors.New("follow.retry_attempts must be at least 1"))
	}

	if c.Mode == ModeGCP && c.GCP.ProjectID == "" {
		errs = append(errs, errors.New("INSTAFLOW_GCP_PROJECT must be set in gcp mode"))
	}

	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if v == "1" || v == "true" || v == "TRUE" {
		return true
	}
	return false
}
