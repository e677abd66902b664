package llm

import "context"

// CompletionRequest is a raw-prompt completion call, as served by llama.cpp
// and other OpenAI-compatible servers on /completions.
type CompletionRequest struct {
	Prompt      string
	MaxTokens   int     // 0 means the client default
	Temperature float32 // negative means the client default
	Stop        []string
}

// Completion is the first choice returned by the model.
type Completion struct {
	Text             string
	Model            string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
}

// Completer is the interface the pipeline depends on.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req CompletionRequest) (Completion, error)

func (f CompleterFunc) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	return f(ctx, req)
}
