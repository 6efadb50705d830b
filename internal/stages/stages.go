// Package stages implements the email pipeline steps on top of a
// generation.Provider, and assembles them into the sequences the assistant
// runs.
package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailsmith/internal/generation"
	"github.com/fyrsmithlabs/mailsmith/internal/similarity"
	"github.com/fyrsmithlabs/mailsmith/internal/workflow"
)

// Stage names.
const (
	NameParse       = "parse"
	NameIntent      = "intent"
	NameDraft       = "draft"
	NameTone        = "tone"
	NamePersonalize = "personalize"
	NameReview      = "review"
	NameRefine      = "refine"
)

// Retriever finds an owner's past drafts similar to some text.
type Retriever interface {
	Query(ctx context.Context, owner, text string, k int) ([]similarity.Hit, error)
}

// Deps configures the stage set.
type Deps struct {
	Provider  generation.Provider
	Retriever Retriever
	Logger    *zap.Logger

	// TopK is the number of references personalization asks for.
	TopK int
	// MaxExcerptChars truncates each reference excerpt.
	MaxExcerptChars int
	// Review adds the review stage to the generate sequence.
	Review bool
}

// Set holds one instance of every stage.
type Set struct {
	byName map[string]workflow.Stage
	review bool
}

// NewSet builds every stage from deps.
func NewSet(deps Deps) *Set {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.TopK <= 0 {
		deps.TopK = 3
	}
	if deps.MaxExcerptChars <= 0 {
		deps.MaxExcerptChars = 400
	}
	c := caller{provider: deps.Provider, logger: deps.Logger}
	all := []workflow.Stage{
		&Parse{caller: c},
		&Intent{caller: c},
		&Draft{caller: c},
		&Tone{caller: c},
		&Personalize{caller: c, retriever: deps.Retriever, topK: deps.TopK, maxExcerpt: deps.MaxExcerptChars},
		&Review{caller: c},
		&Refine{caller: c},
	}
	s := &Set{byName: make(map[string]workflow.Stage, len(all)), review: deps.Review}
	for _, st := range all {
		s.byName[st.Name()] = st
	}
	return s
}

// Generate returns the full generation sequence.
func (s *Set) Generate() []workflow.Stage {
	names := []string{NameParse, NameIntent, NameDraft, NameTone, NamePersonalize}
	if s.review {
		names = append(names, NameReview)
	}
	names = append(names, NameRefine)
	out, _ := s.Select(names)
	return out
}

// Select returns the named stages in the order given.
func (s *Set) Select(names []string) ([]workflow.Stage, error) {
	out := make([]workflow.Stage, 0, len(names))
	for _, n := range names {
		st, ok := s.byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown stage %q", n)
		}
		out = append(out, st)
	}
	return out, nil
}

// caller sends rendered prompts to the provider.
type caller struct {
	provider generation.Provider
	logger   *zap.Logger
}

func (c caller) complete(ctx context.Context, stage string, task generation.Task, vars map[string]string) (string, error) {
	tpl, ok := catalogue[task]
	if !ok {
		return "", workflow.FatalError(stage, "no prompt for task", fmt.Errorf("task %q", task))
	}
	p, err := tpl.prompt(task, vars)
	if err != nil {
		return "", workflow.FatalError(stage, "prompt rendering failed", err)
	}
	out, err := c.provider.Complete(ctx, p)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// degradable reports whether a provider failure may be absorbed by the
// stage instead of failing the run.
func degradable(ctx context.Context, err error) bool {
	return ctx.Err() == nil && !errors.Is(err, context.Canceled)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
