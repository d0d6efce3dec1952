package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the ScoreGate server. It is built once
// at startup and passed explicitly into constructors; request-handling code
// never reads ambient environment state.
type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Scoring   ScoringConfig
	Watcher   WatcherConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Artifacts ArtifactsConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type AuthConfig struct {
	Enabled          bool
	SignatureTimeout time.Duration
	AllowedKeys      []string
}

type ScoringConfig struct {
	EvaluatorRoot string
	VenvRoot      string
	MaxConcurrent int
	Timeout       time.Duration
	GPU           GPUConfig
}

type GPUConfig struct {
	VisibleDevices    string
	Count             int
	MemoryUtilization float64
}

type WatcherConfig struct {
	URL         string
	Timeout     time.Duration
	MaxAttempts int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL                string
	RateLimitPerMinute int
}

type ArtifactsConfig struct {
	Backend   string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Every evaluator path is derived from the two roots below. The evaluator's
// internal layout is deliberately not configurable on its own: one root in,
// one artifact path out.

// PythonPath is the interpreter inside the execution environment.
func (s ScoringConfig) PythonPath() string {
	return filepath.Join(s.VenvRoot, "bin", "python")
}

// EntrypointPath is the evaluator script launched per job.
func (s ScoringConfig) EntrypointPath() string {
	return filepath.Join(s.EvaluatorRoot, "main.py")
}

// ResultArtifactPath is the single well-known file the evaluator writes its
// final score to. It is cleared before and read after every run.
func (s ScoringConfig) ResultArtifactPath() string {
	return filepath.Join(s.EvaluatorRoot, "results", "scores.csv")
}

// Load reads configuration from environment variables and returns a
// validated Config. Fails fast with a descriptive message so a bad
// deployment dies at startup, not mid-run.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("SCOREGATE_PORT", 8080),
			Env:  envString("SCOREGATE_ENV", "development"),
		},
		Auth: AuthConfig{
			Enabled:          envBool("AUTH_ENABLED", true),
			SignatureTimeout: envDurationSecs("AUTH_SIGNATURE_TIMEOUT", 300*time.Second),
			AllowedKeys:      envStringSlice("AUTH_ALLOWED_KEYS"),
		},
		Scoring: ScoringConfig{
			EvaluatorRoot: os.Getenv("EVALUATOR_ROOT"),
			VenvRoot:      os.Getenv("VENV_ROOT"),
			MaxConcurrent: envInt("MAX_CONCURRENT_TASKS", 1),
			Timeout:       envDurationSecs("SCORING_TIMEOUT", 1800*time.Second),
			GPU: GPUConfig{
				VisibleDevices:    envString("CUDA_VISIBLE_DEVICES", "0"),
				Count:             envInt("GPU_COUNT", 1),
				MemoryUtilization: envFloat("GPU_MEMORY_UTILIZATION", 0.9),
			},
		},
		Watcher: WatcherConfig{
			URL:         os.Getenv("WATCHER_URL"),
			Timeout:     envDurationSecs("WATCHER_TIMEOUT", 10*time.Second),
			MaxAttempts: envInt("WATCHER_MAX_ATTEMPTS", 3),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:                os.Getenv("REDIS_URL"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		Artifacts: ArtifactsConfig{
			Backend:   envString("ARTIFACT_BACKEND", ""),
			Endpoint:  os.Getenv("MINIO_ENDPOINT"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			Bucket:    envString("MINIO_BUCKET", "scoregate-artifacts"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Scoring.EvaluatorRoot == "" {
		return fmt.Errorf("EVALUATOR_ROOT is required")
	}
	if c.Scoring.VenvRoot == "" {
		return fmt.Errorf("VENV_ROOT is required")
	}
	if c.Scoring.MaxConcurrent < 1 {
		return fmt.Errorf("MAX_CONCURRENT_TASKS must be at least 1, got %d", c.Scoring.MaxConcurrent)
	}
	if c.Scoring.GPU.MemoryUtilization <= 0 || c.Scoring.GPU.MemoryUtilization > 1 {
		return fmt.Errorf("GPU_MEMORY_UTILIZATION must be in (0, 1], got %v", c.Scoring.GPU.MemoryUtilization)
	}

	if c.Watcher.URL == "" {
		return fmt.Errorf("WATCHER_URL is required")
	}
	if !strings.HasPrefix(c.Watcher.URL, "http://") && !strings.HasPrefix(c.Watcher.URL, "https://") {
		return fmt.Errorf("WATCHER_URL must start with http:// or https://, got %q", c.Watcher.URL)
	}

	if c.Auth.Enabled && len(c.Auth.AllowedKeys) == 0 {
		return fmt.Errorf("AUTH_ALLOWED_KEYS is required when AUTH_ENABLED is true")
	}

	if c.Artifacts.Backend != "" && c.Artifacts.Backend != "minio" {
		return fmt.Errorf("ARTIFACT_BACKEND must be empty or minio, got %q", c.Artifacts.Backend)
	}
	if c.Artifacts.Backend == "minio" {
		if c.Artifacts.Endpoint == "" {
			return fmt.Errorf("MINIO_ENDPOINT is required when ARTIFACT_BACKEND is minio")
		}
		if c.Artifacts.AccessKey == "" || c.Artifacts.SecretKey == "" {
			return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when ARTIFACT_BACKEND is minio")
		}
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

func envStringSlice(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
