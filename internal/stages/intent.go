package stages

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailsmith/internal/email"
	"github.com/fyrsmithlabs/mailsmith/internal/generation"
	"github.com/fyrsmithlabs/mailsmith/internal/workflow"
)

// Intent classifies the request. An intent already on the state is kept.
type Intent struct{ caller }

// Name implements workflow.Stage.
func (*Intent) Name() string { return NameIntent }

// Run implements workflow.Stage.
func (i *Intent) Run(ctx context.Context, s workflow.State) (workflow.State, error) {
	if s.Intent != "" {
		return s, nil
	}

	out, err := i.complete(ctx, NameIntent, generation.TaskIntent, map[string]string{
		generation.VarRequest: s.Raw.Prompt,
		generation.VarPurpose: s.Parsed.Purpose,
	})
	if err != nil {
		if !degradable(ctx, err) {
			return s, err
		}
		i.logger.Warn("intent classification failed, using keywords", zap.Error(err))
		s.Intent = email.DetectIntent(s.Raw.Prompt)
		return s, nil
	}

	intent, ok := email.NormalizeIntent(out)
	if !ok {
		intent = email.DetectIntent(s.Raw.Prompt)
	}
	s.Intent = intent
	return s, nil
}
