package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/mailsmith/internal/email"
	"github.com/fyrsmithlabs/mailsmith/internal/generation"
	"github.com/fyrsmithlabs/mailsmith/internal/workflow"
)

// Draft writes the first full draft from the parsed input and intent.
type Draft struct{ caller }

// Name implements workflow.Stage.
func (*Draft) Name() string { return NameDraft }

// Run implements workflow.Stage.
func (d *Draft) Run(ctx context.Context, s workflow.State) (workflow.State, error) {
	st := email.StructureFor(s.Intent)
	length := s.Parsed.Length
	if length == "" {
		length = fmt.Sprintf("%d-%d", st.MinWords, st.MaxWords)
	}

	out, err := d.complete(ctx, NameDraft, generation.TaskDraft, map[string]string{
		generation.VarIntent:    string(s.Intent),
		generation.VarRecipient: s.Parsed.RecipientName,
		generation.VarPurpose:   s.Parsed.Purpose,
		generation.VarKeyPoints: strings.Join(s.Parsed.KeyPoints, "\n"),
		generation.VarTone:      string(s.Tone),
		varStructure:            strings.Join(st.Outline, ", "),
		varLength:               length,
		varConstraints:          orDefault(s.Parsed.Constraints, "none"),
		varContext:              orDefault(s.Parsed.Context, "none"),
	})
	if err != nil {
		return s, err
	}
	if out == "" {
		return s, workflow.TransientError(NameDraft, "provider returned an empty draft", nil)
	}
	s.Draft = out
	return s, nil
}
