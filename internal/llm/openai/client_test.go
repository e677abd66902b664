package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/kid-extractor/internal/llm"
)

func TestClient_Complete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/completions", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"model":"m1","choices":[{"text":"  {\"a\":1}  ","finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":4}}`))
	}))
	defer srv.Close()

	t.Setenv("LLM_API_KEY", "")
	c := NewClient(Config{BaseURL: srv.URL + "/v1/", Model: "m1", Temperature: 0.1}, nil)
	out, err := c.Complete(context.Background(), llm.CompletionRequest{Prompt: "p", Temperature: -1})
	require.NoError(t, err)

	assert.Equal(t, `{"a":1}`, out.Text)
	assert.Equal(t, "stop", out.FinishReason)
	assert.Equal(t, 4, out.CompletionTokens)
	assert.Equal(t, "p", got["prompt"])
	assert.InDelta(t, 0.1, got["temperature"], 1e-6)
	assert.Equal(t, 10000.0, got["max_tokens"])
	_, hasStop := got["stop"]
	assert.False(t, hasStop)
}

func TestClient_Complete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k"}, nil)
	_, err := c.Complete(context.Background(), llm.CompletionRequest{Prompt: "p"})
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestClient_Describe_SendsImageDataURL(t *testing.T) {
	img := filepath.Join(t.TempDir(), "p1-000.png")
	require.NoError(t, os.WriteFile(img, []byte("\x89PNG fake"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Content []map[string]any `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "vlm", body.Model)
		require.Len(t, body.Messages, 1)
		url := body.Messages[0].Content[0]["image_url"].(map[string]any)["url"].(string)
		assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":" le niveau de risque de ce document est : 3 "}}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", VisionModel: "vlm"}, nil)
	answer, err := c.Describe(context.Background(), img, "question")
	require.NoError(t, err)
	assert.Equal(t, "le niveau de risque de ce document est : 3", answer)
}

func TestClient_Describe_MissingImage(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, nil)
	_, err := c.Describe(context.Background(), filepath.Join(t.TempDir(), "none.png"), "q")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
