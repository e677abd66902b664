package openai

import (
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Config for an OpenAI-compatible server (OpenAI, llama.cpp server, vLLM).
type Config struct {
	APIKey      string        // if empty, falls back to env LLM_API_KEY; may stay empty for local servers
	BaseURL     string        // default http://localhost:8000/v1
	Model       string        // completion model
	VisionModel string        // model used by Describe, defaults to Model
	Temperature float32       // 0..2
	MaxTokens   int           // default 10000
	Timeout     time.Duration // http client timeout, default 120s
	MaxImageMB  int           // images above this are not sent, default 10
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("LLM_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8000/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "mistral-7b-instruct"
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 10000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxImageMB <= 0 {
		cfg.MaxImageMB = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logger,
	}
}

// Model returns the completion model name.
func (c *Client) Model() string {
	return c.cfg.Model
}
