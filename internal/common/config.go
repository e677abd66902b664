package common

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/kid-extractor/internal/validation"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	OCR      OCRConfig
	LLM      LLMConfig
	Vision   VisionConfig
	Pipeline PipelineConfig
	Ingest   IngestConfig
	Log      LogConfig
	Scoring  validation.Config
}

// DatabaseConfig holds database-related configuration.
// DSN is either a postgres:// URL or a SQLite path / file: URI.
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds transport configuration
type ServerConfig struct {
	HTTPAddr        string
	GRPCAddr        string
	MaxUploadBytes  int64
	RateLimitEvery  time.Duration
	RateLimitBurst  int
	MaxConcurrent   int64
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// OCRConfig holds text extraction configuration
type OCRConfig struct {
	PdfToText    string
	PdfToPPM     string
	PdfImages    string
	Tesseract    string
	TessdataDir  string
	Languages    string
	DPI          int
	MinPageChars int
}

// LLMConfig holds completion service configuration
type LLMConfig struct {
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// VisionConfig holds image description configuration
type VisionConfig struct {
	Enabled bool
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// PipelineConfig holds analysis orchestration configuration
type PipelineConfig struct {
	OutputDir      string
	UploadDir      string
	MaxRetries     int
	MinScore       float64
	CacheTTL       time.Duration
	Workers        int
	QueueSize      int
	ProcessTimeout time.Duration
}

// IngestConfig holds the drop-folder watcher configuration
type IngestConfig struct {
	Roots       []string
	InitialScan bool
	Debounce    time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from an optional .env file and the environment.
// SCORING_CONFIG, when set, names a YAML file overriding the scoring weights.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, NewAppError("CONFIG_ERROR", "failed to read .env", err)
	}

	scoring := validation.DefaultConfig()
	if path := getEnv("SCORING_CONFIG", ""); path != "" {
		loaded, err := LoadScoringConfig(path)
		if err != nil {
			return nil, err
		}
		scoring = loaded
	}

	cfg := &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", "file:kid.db?_pragma=busy_timeout(5000)"),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 10),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 1),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			HTTPAddr:        getEnv("HTTP_ADDR", ":5000"),
			GRPCAddr:        getEnv("GRPC_ADDR", ":8080"),
			MaxUploadBytes:  int64(getEnvAsInt("MAX_UPLOAD_MB", 32)) << 20,
			RateLimitEvery:  getEnvAsDuration("RATE_LIMIT_EVERY", 2*time.Second),
			RateLimitBurst:  getEnvAsInt("RATE_LIMIT_BURST", 10),
			MaxConcurrent:   int64(getEnvAsInt("MAX_CONCURRENT_ANALYSES", 2)),
			RequestTimeout:  getEnvAsDuration("REQUEST_TIMEOUT", 15*time.Minute),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		OCR: OCRConfig{
			PdfToText:    getEnv("PDFTOTEXT_BIN", "pdftotext"),
			PdfToPPM:     getEnv("PDFTOPPM_BIN", "pdftoppm"),
			PdfImages:    getEnv("PDFIMAGES_BIN", "pdfimages"),
			Tesseract:    getEnv("TESSERACT_BIN", "tesseract"),
			TessdataDir:  getEnv("TESSDATA_PREFIX", ""),
			Languages:    getEnv("OCR_LANGS", "fra+eng"),
			DPI:          getEnvAsInt("OCR_DPI", 300),
			MinPageChars: getEnvAsInt("OCR_MIN_PAGE_CHARS", 20),
		},
		LLM: LLMConfig{
			BaseURL:     getEnv("LLM_BASE_URL", "http://localhost:8000/v1"),
			Model:       getEnv("LLM_MODEL", "mistral-7b-instruct"),
			APIKey:      getEnv("LLM_API_KEY", ""),
			Temperature: getEnvAsFloat32("LLM_TEMPERATURE", 0.1),
			MaxTokens:   getEnvAsInt("LLM_MAX_TOKENS", 10000),
			Timeout:     getEnvAsDuration("LLM_TIMEOUT", 120*time.Second),
		},
		Vision: VisionConfig{
			Enabled: getEnvAsBool("VISION_ENABLED", true),
			BaseURL: getEnv("VISION_BASE_URL", getEnv("LLM_BASE_URL", "http://localhost:8000/v1")),
			Model:   getEnv("VISION_MODEL", "llava-v1.6-mistral-7b"),
			APIKey:  getEnv("VISION_API_KEY", getEnv("LLM_API_KEY", "")),
			Timeout: getEnvAsDuration("VISION_TIMEOUT", 120*time.Second),
		},
		Pipeline: PipelineConfig{
			OutputDir:      getEnv("OUTPUT_DIR", "./output"),
			UploadDir:      getEnv("UPLOAD_DIR", "./uploads"),
			MaxRetries:     getEnvAsInt("MAX_RETRIES", 3),
			MinScore:       getEnvAsFloat64("MIN_SCORE", 0.5),
			CacheTTL:       getEnvAsDuration("CACHE_TTL", time.Hour),
			Workers:        getEnvAsInt("QUEUE_WORKERS", 2),
			QueueSize:      getEnvAsInt("QUEUE_SIZE", 32),
			ProcessTimeout: getEnvAsDuration("PROCESS_TIMEOUT", 15*time.Minute),
		},
		Ingest: IngestConfig{
			Roots:       getEnvAsList("WATCH_DIRS"),
			InitialScan: getEnvAsBool("WATCH_INITIAL_SCAN", true),
			Debounce:    getEnvAsDuration("WATCH_DEBOUNCE", 2*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		Scoring: scoring,
	}
	return cfg, nil
}

// LoadScoringConfig reads penalty weights and tolerance from YAML. Keys left
// out keep their default value.
func LoadScoringConfig(path string) (validation.Config, error) {
	cfg := validation.DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, NewAppError("CONFIG_ERROR", "failed to read scoring config", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, NewAppError("CONFIG_ERROR", "failed to parse scoring config "+path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, NewAppError("CONFIG_ERROR", "invalid scoring config "+path, err)
	}
	return cfg, nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.LLM.BaseURL == "" {
		return NewAppError("CONFIG_ERROR", "LLM_BASE_URL is required", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" && c.Server.GRPCAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR or GRPC_ADDR is required", ErrInvalidInput)
	}
	if c.Pipeline.OutputDir == "" {
		return NewAppError("CONFIG_ERROR", "OUTPUT_DIR is required", ErrInvalidInput)
	}
	if c.Pipeline.MinScore < 0 || c.Pipeline.MinScore > 1 {
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("MIN_SCORE=%v must be within [0,1]", c.Pipeline.MinScore), ErrInvalidInput)
	}
	if c.Pipeline.MaxRetries < 1 {
		return NewAppError("CONFIG_ERROR", "MAX_RETRIES must be at least 1", ErrInvalidInput)
	}
	if err := c.Scoring.Validate(); err != nil {
		return NewAppError("CONFIG_ERROR", "invalid scoring config", err)
	}
	return nil
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c LogConfig) NewLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
