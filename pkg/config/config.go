package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the solve service configuration.
type Config struct {
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
	Env       string `yaml:"env"`

	Solver    SolverConfig    `yaml:"solver"`
	History   HistoryConfig   `yaml:"history"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Tracing   TracingConfig   `yaml:"tracing"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
}

type SolverConfig struct {
	// BaseDir is the only directory request file names may resolve into.
	BaseDir          string  `yaml:"baseDir"`
	Backend          string  `yaml:"backend"`
	HighsExe         string  `yaml:"highsExe"`
	Method           string  `yaml:"method"`
	MaxBatchSize     int     `yaml:"maxBatchSize"`
	DefaultTimeLimit float64 `yaml:"defaultTimeLimit"`
	WorkDir          string  `yaml:"workDir"`
}

type HistoryConfig struct {
	// Backend is "none", "memory" or "redis".
	Backend    string `yaml:"backend"`
	TTLSeconds int    `yaml:"ttlSeconds"`
}

type ArtifactsConfig struct {
	// Backend is "none", "local" or "minio".
	Backend  string      `yaml:"backend"`
	LocalDir string      `yaml:"localDir"`
	MinIO    MinIOConfig `yaml:"minio"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
}

type AuthConfig struct {
	// Provider is empty (auth disabled), "static" or "hmac".
	Provider string          `yaml:"provider"`
	Config   json.RawMessage `yaml:"-"`
	// RawConfig is the provider config as written in YAML; it is converted to JSON for the provider factory.
	RawConfig map[string]any `yaml:"config"`
}

type RateLimitBucketConfig struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

type RateLimitConfig struct {
	// Backend is "redis" (shared across replicas) or "memory".
	Backend string                `yaml:"backend"`
	Solve   RateLimitBucketConfig `yaml:"solve"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	OTLPInsecure bool    `yaml:"otlpInsecure"`
	SampleRatio  float64 `yaml:"sampleRatio"`
}

// LoadConfig reads the YAML file at filePath, applies env overrides and defaults.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if err := c.finish(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadConfigOptional behaves like LoadConfig but treats an empty path or a
// missing file as an empty configuration.
func LoadConfigOptional(filePath string) (*Config, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath != "" {
		if _, err := os.Stat(filePath); err == nil {
			return LoadConfig(filePath)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	var c Config
	if err := c.finish(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) finish() error {
	c.applyEnv()
	c.applyDefaults()
	if len(c.Auth.RawConfig) > 0 {
		b, err := json.Marshal(c.Auth.RawConfig)
		if err != nil {
			return fmt.Errorf("auth config: %w", err)
		}
		c.Auth.Config = b
	}
	log.Printf("Solve Config: {Port:%d BaseDir:%s Backend:%s History:%s Artifacts:%s}\n",
		c.Port, c.Solver.BaseDir, c.Solver.Backend, c.History.Backend, c.Artifacts.Backend)
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("SOLVER_BASE_DIR"); v != "" {
		c.Solver.BaseDir = v
	}
	if v := os.Getenv("HIGHS_EXE"); v != "" {
		c.Solver.HighsExe = v
	}
	if v := os.Getenv("SOLVER_MAX_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Solver.MaxBatchSize = n
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("HISTORY_BACKEND"); v != "" {
		c.History.Backend = v
	}
	if v := os.Getenv("ARTIFACTS_BACKEND"); v != "" {
		c.Artifacts.Backend = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		c.Artifacts.MinIO.Endpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		c.Artifacts.MinIO.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		c.Artifacts.MinIO.SecretKey = v
	}
	if v := os.Getenv("AUTH_PROVIDER"); v != "" {
		c.Auth.Provider = v
	}
	if v := os.Getenv("OTEL_TRACING_ENABLED"); v != "" {
		c.Tracing.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Tracing.SampleRatio = f
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.Solver.BaseDir == "" {
		c.Solver.BaseDir = "/app"
	}
	if c.Solver.Backend == "" {
		c.Solver.Backend = "highs"
	}
	if c.Solver.HighsExe == "" {
		c.Solver.HighsExe = "highs"
	}
	if c.Solver.Method == "" {
		c.Solver.Method = "pdlp"
	}
	if c.Solver.MaxBatchSize <= 0 {
		c.Solver.MaxBatchSize = 64
	}
	if c.Solver.DefaultTimeLimit <= 0 {
		c.Solver.DefaultTimeLimit = 1
	}
	if c.Solver.WorkDir == "" {
		c.Solver.WorkDir = filepath.Join(os.TempDir(), "mpsflow-work")
	}
	if c.History.Backend == "" {
		c.History.Backend = "none"
	}
	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = "memory"
	}
	if c.History.TTLSeconds <= 0 {
		c.History.TTLSeconds = 86400
	}
	if c.Artifacts.Backend == "" {
		c.Artifacts.Backend = "none"
	}
	if c.Artifacts.LocalDir == "" {
		c.Artifacts.LocalDir = "/tmp/mpsflow-artifacts"
	}
	if c.Artifacts.MinIO.Bucket == "" {
		c.Artifacts.MinIO.Bucket = "mpsflow-artifacts"
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "mpsflow"
	}
}

func (c *Config) Validate() error {
	var errs []string

	if !filepath.IsAbs(c.Solver.BaseDir) {
		errs = append(errs, "solver.baseDir must be an absolute path")
	}
	switch c.Solver.Backend {
	case "highs":
	default:
		errs = append(errs, fmt.Sprintf("solver.backend %q is not supported", c.Solver.Backend))
	}
	switch c.History.Backend {
	case "none", "memory", "redis":
	default:
		errs = append(errs, "history.backend must be one of: none, memory, redis")
	}
	switch c.Artifacts.Backend {
	case "none", "local":
	case "minio":
		if strings.TrimSpace(c.Artifacts.MinIO.Endpoint) == "" {
			errs = append(errs, "artifacts.minio.endpoint is required when artifacts.backend=minio")
		}
	default:
		errs = append(errs, "artifacts.backend must be one of: none, local, minio")
	}
	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, "rateLimit.backend must be one of: memory, redis")
	}
	if c.Tracing.Enabled && c.Tracing.OTLPEndpoint != "" && strings.Contains(c.Tracing.OTLPEndpoint, "://") {
		if u, err := url.Parse(c.Tracing.OTLPEndpoint); err != nil || u.Host == "" {
			errs = append(errs, "tracing.otlpEndpoint must be host:port or a valid URL")
		}
	}
	if c.Auth.Provider != "" && len(c.Auth.Config) == 0 {
		errs = append(errs, "auth.config is required when auth.provider is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
