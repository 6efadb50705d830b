package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailsmith/internal/generation"
)

const routeSystemPrompt = `You supervise an email drafting pipeline. After a stage runs you decide
whether the pipeline should continue, retry the stage, or fall back to the best
draft available. Answer with JSON only: {"decision": "continue|retry|fallback", "reason": "..."}`

// LLMRouter asks the generation provider for a routing decision. Provider
// failures defer to the heuristic router.
type LLMRouter struct {
	provider generation.Provider
	fallback Router
	logger   *zap.Logger
}

// NewLLMRouter returns a router backed by provider.
func NewLLMRouter(provider generation.Provider, logger *zap.Logger) *LLMRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMRouter{provider: provider, fallback: HeuristicRouter{}, logger: logger}
}

// Route implements Router.
func (r *LLMRouter) Route(ctx context.Context, in RouteInput) Route {
	errText := ""
	if in.Err != nil {
		errText = in.Err.Error()
	}
	user := fmt.Sprintf("Stage: %s\nAttempt: %d\nLast error: %s\nCurrent draft:\n%s",
		in.Stage, in.Attempt, orNone(errText), orNone(in.State.Draft))

	out, err := r.provider.Complete(ctx, generation.Prompt{
		Task:   generation.TaskRoute,
		System: routeSystemPrompt,
		User:   user,
		Vars: map[string]string{
			generation.VarStage:     in.Stage,
			generation.VarDraft:     in.State.Draft,
			generation.VarLastError: errText,
		},
		MaxTokens:   100,
		Temperature: 0.1,
	})
	if err != nil {
		r.logger.Debug("router provider failed, using heuristic",
			zap.String("stage", in.Stage), zap.Error(err))
		return r.fallback.Route(ctx, in)
	}

	res := gjson.Parse(extractJSONObject(out))
	return Route{
		Decision: ParseDecision(res.Get("decision").String()),
		Reason:   res.Get("reason").String(),
	}
}

// extractJSONObject returns the outermost {...} span in s, tolerating code
// fences and surrounding prose.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
