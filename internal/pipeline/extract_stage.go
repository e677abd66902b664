package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/kid-extractor/internal/llm"
	"github.com/joseph-ayodele/kid-extractor/internal/validation"
)

const feedbackNoJSON = "La réponse précédente ne contenait aucun objet JSON exploitable. Réponds uniquement avec l'objet JSON demandé."

// Attempt is one completion and its verdict.
type Attempt struct {
	Number    int
	Raw       string
	Record    []byte             // repaired JSON, nil when nothing could be parsed
	Result    *validation.Result // nil when Record is nil
	SchemaErr error              // diagnostic only
	ParseErr  error
}

func (a *Attempt) score() float64 {
	if a.Result == nil {
		return -1
	}
	return a.Result.Score
}

type ExtractResult struct {
	Attempts []Attempt
	Best     *Attempt // highest scoring parsed attempt, nil when none parsed
	Accepted bool
	Model    string
}

type ExtractConfig struct {
	MaxRetries  int     // total attempts, default 3
	MinScore    float64 // accepted when score >= MinScore
	MaxTokens   int
	Temperature float32
}

type ExtractStage struct {
	completer llm.Completer
	validator *validation.Validator
	schema    map[string]any
	cfg       ExtractConfig
	logger    *slog.Logger
}

func NewExtractStage(c llm.Completer, v *validation.Validator, cfg ExtractConfig, logger *slog.Logger) *ExtractStage {
	if logger == nil {
		logger = slog.Default()
	}
	if v == nil {
		v = validation.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &ExtractStage{completer: c, validator: v, schema: llm.BuildKIDJSONSchema(), cfg: cfg, logger: logger}
}

// Run prompts for the record, retrying with the verdict's feedback while the
// score stays below MinScore. The best attempt is kept. A completion failure
// is returned only when no attempt was made yet or ctx is done; otherwise the
// attempts so far are graded as usual.
func (s *ExtractStage) Run(ctx context.Context, markdown string, hints llm.ExtractionHints) (ExtractResult, error) {
	base := llm.BuildExtractionPrompt(markdown, s.schema, hints)
	prompt := base
	var out ExtractResult

	for n := 1; n <= s.cfg.MaxRetries; n++ {
		start := time.Now()
		s.logger.Info("pipeline.extract.start", "attempt", n, "prompt_chars", len(prompt))

		completion, err := s.completer.Complete(ctx, llm.CompletionRequest{
			Prompt:      prompt,
			MaxTokens:   s.cfg.MaxTokens,
			Temperature: s.cfg.Temperature,
		})
		if err != nil {
			s.logger.Error("pipeline.extract.completion_failed", "attempt", n, "error", err)
			if len(out.Attempts) == 0 || ctx.Err() != nil {
				return out, fmt.Errorf("completion attempt %d: %w", n, err)
			}
			break
		}
		if completion.Model != "" {
			out.Model = completion.Model
		}

		attempt := s.evaluate(n, completion.Text)
		out.Attempts = append(out.Attempts, attempt)

		if attempt.Result == nil {
			s.logger.Warn("pipeline.extract.unparseable", "attempt", n, "error", attempt.ParseErr,
				"elapsed_ms", time.Since(start).Milliseconds())
			prompt = llm.BuildFeedbackPrompt(base, attempt.Raw, []string{feedbackNoJSON})
			continue
		}
		s.logger.Info("pipeline.extract.scored", "attempt", n, "score", attempt.Result.Score,
			"violations", len(attempt.Result.Violations), "elapsed_ms", time.Since(start).Milliseconds())

		if attempt.Result.Accepted(s.cfg.MinScore) {
			out.Accepted = true
			break
		}
		prompt = llm.BuildFeedbackPrompt(base, string(attempt.Record), attempt.Result.Feedback)
	}

	out.Best = bestOf(out.Attempts)
	return out, nil
}

func (s *ExtractStage) evaluate(n int, raw string) Attempt {
	a := Attempt{Number: n, Raw: raw}
	data, err := llm.RepairJSON(raw)
	if err != nil {
		a.ParseErr = err
		return a
	}
	if err := llm.ValidateJSONAgainstSchema(s.schema, data); err != nil {
		a.SchemaErr = err
		s.logger.Warn("pipeline.extract.schema_mismatch", "attempt", n, "error", err)
	}
	res, err := s.validator.ValidateJSON(data)
	if err != nil {
		if !errors.Is(err, validation.ErrStructural) {
			s.logger.Error("pipeline.extract.validate_failed", "attempt", n, "error", err)
		}
		a.ParseErr = err
		return a
	}
	a.Record = data
	a.Result = res
	return a
}

// bestOf picks the highest score; the earliest wins ties.
func bestOf(attempts []Attempt) *Attempt {
	var best *Attempt
	for i := range attempts {
		if attempts[i].Result == nil {
			continue
		}
		if best == nil || attempts[i].score() > best.score() {
			best = &attempts[i]
		}
	}
	return best
}
