package stages

import (
	"context"
	"strings"

	"github.com/fyrsmithlabs/mailsmith/internal/email"
	"github.com/fyrsmithlabs/mailsmith/internal/generation"
	"github.com/fyrsmithlabs/mailsmith/internal/workflow"
)

// minRefineRatio rejects polish that drops most of the draft.
const minRefineRatio = 0.30

// Refine is the terminal stage: it polishes and tidies the draft and sets
// the final draft.
type Refine struct{ caller }

// Name implements workflow.Stage.
func (*Refine) Name() string { return NameRefine }

// Run implements workflow.Stage.
func (r *Refine) Run(ctx context.Context, s workflow.State) (workflow.State, error) {
	if strings.TrimSpace(s.Draft) == "" {
		return s, workflow.TransientError(NameRefine, "nothing to refine", nil)
	}
	out, err := r.complete(ctx, NameRefine, generation.TaskRefine, map[string]string{
		generation.VarDraft: s.Draft,
	})
	if err != nil {
		return s, err
	}

	input := Tidy(s.Draft)
	polished := Tidy(out)
	final := polished
	if len(polished) < int(float64(len(input))*minRefineRatio) {
		s.Warn("refinement dropped too much text; kept the unrefined draft")
		final = input
	}
	s.Draft = final
	s.FinalDraft = final
	return s, nil
}

// Tidy trims the draft, collapses runs of blank lines and consecutive
// duplicate lines, and removes a closing that is repeated in the sign-off.
func Tidy(draft string) string {
	lines := strings.Split(strings.ReplaceAll(strings.TrimSpace(draft), "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	prev, blanks := "", 0
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if strings.TrimSpace(l) == "" {
			blanks++
			if blanks > 1 {
				continue
			}
			out = append(out, "")
			continue
		}
		blanks = 0
		if strings.TrimSpace(l) == prev {
			continue
		}
		prev = strings.TrimSpace(l)
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(collapseSignOffs(out), "\n"))
}

// collapseSignOffs drops an earlier closing line when a later one follows
// with only blank lines between them.
func collapseSignOffs(lines []string) []string {
	last := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if isClosingLine(lines[i]) {
			last = i
			break
		}
	}
	if last < 0 {
		return lines
	}
	for i := last - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		if isClosingLine(lines[i]) {
			return append(lines[:i:i], lines[last:]...)
		}
		break
	}
	return lines
}

var extraClosings = []string{"Best", "Sincerely", "Kind regards", "Thanks", "Thank you", "Many thanks", "Yours sincerely", "Respectfully"}

func isClosingLine(line string) bool {
	line = strings.TrimRight(strings.TrimSpace(line), ",.!")
	if line == "" {
		return false
	}
	for _, t := range email.Tones {
		if strings.EqualFold(line, t.Guide().Closing) {
			return true
		}
	}
	if strings.EqualFold(line, "Best regards") {
		return true
	}
	for _, c := range extraClosings {
		if strings.EqualFold(line, c) {
			return true
		}
	}
	return false
}
