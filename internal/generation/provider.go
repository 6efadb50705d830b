// Package generation provides text-completion providers and the guard that
// applies per-call timeouts, rate limiting and error classification to them.
package generation

import (
	"context"
)

// Task names the pipeline step a prompt belongs to.
type Task string

const (
	TaskParse       Task = "parse"
	TaskIntent      Task = "intent"
	TaskDraft       Task = "draft"
	TaskTone        Task = "tone"
	TaskPersonalize Task = "personalize"
	TaskReview      Task = "review"
	TaskRefine      Task = "refine"
	TaskRoute       Task = "route"
)

// Prompt is a single completion request.
//
// System and User carry the rendered prompt text sent to model-backed
// providers. Vars carries the same inputs in structured form for providers
// that work without a model.
type Prompt struct {
	Task        Task
	System      string
	User        string
	Vars        map[string]string
	MaxTokens   int
	Temperature float64
}

// Var returns the named structured input, or "".
func (p Prompt) Var(name string) string {
	if p.Vars == nil {
		return ""
	}
	return p.Vars[name]
}

// Provider completes prompts.
//
// Implementations fail with errors wrapping ErrTimeout, ErrQuotaExceeded or
// ErrProvider; all three are retryable.
type Provider interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, prompt Prompt) (string, error)

// Complete implements Provider.
func (f ProviderFunc) Complete(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}
