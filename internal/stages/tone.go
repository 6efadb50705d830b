package stages

import (
	"context"

	"github.com/fyrsmithlabs/mailsmith/internal/generation"
	"github.com/fyrsmithlabs/mailsmith/internal/workflow"
)

// Tone rewrites the draft in the requested tone.
type Tone struct{ caller }

// Name implements workflow.Stage.
func (*Tone) Name() string { return NameTone }

// Run implements workflow.Stage.
func (t *Tone) Run(ctx context.Context, s workflow.State) (workflow.State, error) {
	guide := s.Tone.Guide()
	out, err := t.complete(ctx, NameTone, generation.TaskTone, map[string]string{
		generation.VarTone:  string(s.Tone),
		varCharacteristics:  guide.Characteristics,
		varVocabulary:       guide.Vocabulary,
		varShape:            guide.Structure,
		varGreeting:         guide.Greeting,
		varClosing:          guide.Closing,
		generation.VarDraft: s.Draft,
	})
	if err != nil {
		return s, err
	}
	if out == "" {
		s.Warn("tone adjustment returned nothing; kept the previous draft")
		return s, nil
	}
	s.Draft = out
	return s, nil
}
