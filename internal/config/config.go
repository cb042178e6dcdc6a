package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the grading service.
type Config struct {
	AppName     string
	AppEnv      string
	AppPort     string
	DatabaseURL string
	RedisURL    string
	NATSURL     string
	JWTSecret   string
	Storage     StorageConfig
	Scorer      ScorerConfig
	Grading     GradingConfig
	Correction  CorrectionConfig
	Upload      UploadConfig
}

// StorageConfig locates the S3-compatible bucket holding submissions and corrections.
type StorageConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	PublicBaseURL   string
}

// ScorerConfig selects and configures the external language-model scorer.
type ScorerConfig struct {
	Provider string
	URL      string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// GradingConfig tunes the background grading pipeline.
type GradingConfig struct {
	Workers             int
	QueueSize           int
	MismatchPolicy      string
	PlagiarismThreshold float64
	Denylist            []string
	EventSubjectPrefix  string
	LockTTL             time.Duration
	LockWait            time.Duration
}

// CorrectionConfig configures correction model building.
type CorrectionConfig struct {
	Detector string
}

// UploadConfig bounds accepted uploads.
type UploadConfig struct {
	MaxSizeMB       int
	RateLimit       int
	RateLimitWindow time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// MaxUploadBytes converts the configured upload limit to bytes.
func (c Config) MaxUploadBytes() int64 {
	return int64(c.Upload.MaxSizeMB) << 20
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GRADER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	scorerTimeout, err := parseDuration(v, "scorer.timeout")
	if err != nil {
		return Config{}, err
	}
	lockTTL, err := parseDuration(v, "grading.lock_ttl")
	if err != nil {
		return Config{}, err
	}
	lockWait, err := parseDuration(v, "grading.lock_wait")
	if err != nil {
		return Config{}, err
	}
	rateWindow, err := parseDuration(v, "upload.rate_limit_window")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:     v.GetString("app.name"),
		AppEnv:      v.GetString("app.env"),
		AppPort:     v.GetString("app.port"),
		DatabaseURL: v.GetString("database.url"),
		RedisURL:    v.GetString("redis.url"),
		NATSURL:     v.GetString("nats.url"),
		JWTSecret:   v.GetString("jwt.secret"),
		Storage: StorageConfig{
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			Bucket:          v.GetString("storage.bucket"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
			PublicBaseURL:   v.GetString("storage.public_base_url"),
		},
		Scorer: ScorerConfig{
			Provider: strings.ToLower(strings.TrimSpace(v.GetString("scorer.provider"))),
			URL:      v.GetString("scorer.url"),
			Model:    v.GetString("scorer.model"),
			APIKey:   v.GetString("scorer.api_key"),
			Timeout:  scorerTimeout,
		},
		Grading: GradingConfig{
			Workers:             v.GetInt("grading.workers"),
			QueueSize:           v.GetInt("grading.queue_size"),
			MismatchPolicy:      strings.ToLower(strings.TrimSpace(v.GetString("grading.mismatch_policy"))),
			PlagiarismThreshold: v.GetFloat64("grading.plagiarism_threshold"),
			Denylist:            splitList(v.GetString("grading.denylist")),
			EventSubjectPrefix:  v.GetString("grading.event_subject_prefix"),
			LockTTL:             lockTTL,
			LockWait:            lockWait,
		},
		Correction: CorrectionConfig{
			Detector: strings.ToLower(strings.TrimSpace(v.GetString("correction.detector"))),
		},
		Upload: UploadConfig{
			MaxSizeMB:       v.GetInt("upload.max_size_mb"),
			RateLimit:       v.GetInt("upload.rate_limit"),
			RateLimitWindow: rateWindow,
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "GEMA Grading API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("scorer.provider", "ollama")
	v.SetDefault("scorer.model", "deepseek-coder")
	v.SetDefault("scorer.timeout", "120s")
	v.SetDefault("grading.workers", 4)
	v.SetDefault("grading.queue_size", 64)
	v.SetDefault("grading.mismatch_policy", "truncate")
	v.SetDefault("grading.plagiarism_threshold", 0.8)
	v.SetDefault("grading.event_subject_prefix", "grader.submissions")
	v.SetDefault("grading.lock_ttl", "30s")
	v.SetDefault("grading.lock_wait", "10s")
	v.SetDefault("correction.detector", "auto")
	v.SetDefault("upload.max_size_mb", 10)
	v.SetDefault("upload.rate_limit", 5)
	v.SetDefault("upload.rate_limit_window", "1m")
}

func (c Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt secret must be provided")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket must be provided")
	}

	switch c.Scorer.Provider {
	case "ollama":
		if c.Scorer.URL == "" {
			return fmt.Errorf("scorer url must be provided for the ollama provider")
		}
	case "openai":
		if c.Scorer.APIKey == "" {
			return fmt.Errorf("scorer api key must be provided for the openai provider")
		}
	default:
		return fmt.Errorf("unknown scorer provider %q", c.Scorer.Provider)
	}

	switch c.Grading.MismatchPolicy {
	case "truncate", "ungraded", "strict":
	default:
		return fmt.Errorf("unknown grading mismatch policy %q", c.Grading.MismatchPolicy)
	}

	if c.Grading.PlagiarismThreshold <= 0 || c.Grading.PlagiarismThreshold > 1 {
		return fmt.Errorf("plagiarism threshold must be within (0, 1]")
	}
	if c.Grading.Workers <= 0 || c.Grading.QueueSize <= 0 {
		return fmt.Errorf("grading workers and queue size must be positive")
	}
	if c.Upload.MaxSizeMB <= 0 {
		return fmt.Errorf("upload max size must be positive")
	}

	return nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return duration, nil
}

func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
