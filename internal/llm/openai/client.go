package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/kid-extractor/internal/common"
	"github.com/joseph-ayodele/kid-extractor/internal/llm"
)

var ErrNoChoices = errors.New("no choices in model response")

// Complete implements llm.Completer using the raw-prompt /completions endpoint.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.Completion, error) {
	rid := requestID(ctx)
	start := time.Now()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	temperature := req.Temperature
	if temperature < 0 {
		temperature = c.cfg.Temperature
	}

	c.log.Info("llm.complete.start",
		"req_id", rid,
		"analysis_id", common.AnalysisIDFromContext(ctx),
		"model", c.cfg.Model,
		"temp", temperature,
		"max_tokens", maxTokens,
		"prompt_len", len(req.Prompt),
	)

	body := map[string]any{
		"model":       c.cfg.Model,
		"prompt":      req.Prompt,
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}
	if len(req.Stop) > 0 {
		body["stop"] = req.Stop
	}

	raw, err := llm.SendJSON(common.WithRequestID(ctx, rid), c.httpClient, c.endpoint("/completions"), body, c.headers(), c.log)
	if err != nil {
		c.log.Error("llm.complete.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.Completion{}, err
	}

	var cr struct {
		Model   string `json:"model"`
		Choices []struct {
			Text         string `json:"text"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &cr); err != nil {
		c.log.Error("llm.complete.decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.Completion{}, fmt.Errorf("decode completion response: %w", err)
	}
	if len(cr.Choices) == 0 {
		c.log.Error("llm.complete.no_choices", "req_id", rid, "elapsed_ms", time.Since(start).Milliseconds())
		return llm.Completion{}, ErrNoChoices
	}

	out := llm.Completion{
		Text:             strings.TrimSpace(cr.Choices[0].Text),
		Model:            cr.Model,
		FinishReason:     cr.Choices[0].FinishReason,
		PromptTokens:     cr.Usage.PromptTokens,
		CompletionTokens: cr.Usage.CompletionTokens,
	}
	if out.Model == "" {
		out.Model = c.cfg.Model
	}

	c.log.Info("llm.complete.ok",
		"req_id", rid,
		"finish_reason", out.FinishReason,
		"text_len", len(out.Text),
		"completion_tokens", out.CompletionTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// Describe implements vision.Describer: it sends one image with a question
// to /chat/completions and returns the answer.
func (c *Client) Describe(ctx context.Context, imagePath, prompt string) (string, error) {
	rid := requestID(ctx)
	start := time.Now()

	dataURL, mimeType, err := readAsDataURL(imagePath, int64(c.cfg.MaxImageMB)<<20)
	if err != nil {
		return "", err
	}

	c.log.Info("llm.describe.start", "req_id", rid, "model", c.cfg.VisionModel, "image", imagePath, "mime", mimeType)

	body := map[string]any{
		"model":       c.cfg.VisionModel,
		"temperature": c.cfg.Temperature,
		"max_tokens":  512,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "image_url", "image_url": map[string]any{"url": dataURL}},
					{"type": "text", "text": prompt},
				},
			},
		},
	}

	raw, err := llm.SendJSON(common.WithRequestID(ctx, rid), c.httpClient, c.endpoint("/chat/completions"), body, c.headers(), c.log)
	if err != nil {
		c.log.Error("llm.describe.http_error", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return "", err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return "", ErrNoChoices
	}
	answer := strings.TrimSpace(cc.Choices[0].Message.Content)

	c.log.Info("llm.describe.ok", "req_id", rid, "answer_len", len(answer), "elapsed_ms", time.Since(start).Milliseconds())
	return answer, nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

func (c *Client) headers() map[string]string {
	if c.cfg.APIKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
}

func requestID(ctx context.Context) string {
	if id := common.RequestIDFromContext(ctx); id != "" {
		return id
	}
	return uuid.New().String()
}
