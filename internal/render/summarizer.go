package render

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/kid-extractor/internal/entity"
	"github.com/joseph-ayodele/kid-extractor/internal/llm"
	"github.com/joseph-ayodele/kid-extractor/internal/validation"
)

// Summary is a generated or fallback summary.
type Summary struct {
	Text      string
	Generated bool // false when Text came from the deterministic fallback
	Model     string
}

type Summarizer struct {
	completer   llm.Completer
	maxTokens   int
	temperature float32
	logger      *slog.Logger
}

// NewSummarizer builds a Summarizer. A nil completer always falls back to Text.
func NewSummarizer(c llm.Completer, maxTokens int, temperature float32, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &Summarizer{completer: c, maxTokens: maxTokens, temperature: temperature, logger: logger}
}

// Summarize asks the model for a summary of content and falls back to Text
// when the completion fails or comes back empty.
func (s *Summarizer) Summarize(ctx context.Context, content string, doc entity.KID, result *validation.Result) Summary {
	fallback := Summary{Text: Text(doc, result)}
	if s.completer == nil || strings.TrimSpace(content) == "" {
		return fallback
	}

	start := time.Now()
	out, err := s.completer.Complete(ctx, llm.CompletionRequest{
		Prompt:      llm.BuildSummaryPrompt(content),
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	})
	if err != nil {
		s.logger.Warn("render.summary.failed", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return fallback
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		s.logger.Warn("render.summary.empty", "elapsed_ms", time.Since(start).Milliseconds())
		return fallback
	}
	s.logger.Info("render.summary.ok", "chars", len(text), "model", out.Model, "elapsed_ms", time.Since(start).Milliseconds())
	return Summary{Text: text + "\n", Generated: true, Model: out.Model}
}
