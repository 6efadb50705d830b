package stages

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailsmith/internal/generation"
	"github.com/fyrsmithlabs/mailsmith/internal/workflow"
)

// Context modes recorded in metadata.
const (
	ContextContextual = "contextual"
	ContextFresh      = "fresh"
)

// Personalize adapts the draft to its sender, using the sender's similar
// past drafts as style references.
type Personalize struct {
	caller
	retriever  Retriever
	topK       int
	maxExcerpt int
}

// Name implements workflow.Stage.
func (*Personalize) Name() string { return NamePersonalize }

// Run implements workflow.Stage.
func (p *Personalize) Run(ctx context.Context, s workflow.State) (workflow.State, error) {
	s.References = p.references(ctx, &s)
	mode := ContextFresh
	if len(s.References) > 0 {
		mode = ContextContextual
	}
	s.SetMeta("context_mode", mode)
	s.SetMeta("reference_count", len(s.References))

	profile := s.Profile
	out, err := p.complete(ctx, NamePersonalize, generation.TaskPersonalize, map[string]string{
		generation.VarName:       profile.Name,
		varTitle:                 profile.Title,
		varCompany:               profile.Company,
		varStyle:                 profile.StyleGuide(),
		generation.VarSignature:  profile.Signature,
		generation.VarReferences: formatReferences(s.References),
		generation.VarDraft:      s.Draft,
	})
	if err != nil {
		return s, err
	}
	if out == "" {
		out = s.Draft
	}
	if excerpt, ok := echoed(out, s.References); ok {
		return s, workflow.TransientError(NamePersonalize,
			"output copies a reference draft verbatim",
			fmt.Errorf("echoed %d chars of a prior draft", len(excerpt)))
	}

	s.Draft = ensureSignOff(out, profile.Name, profile.SignOff())
	return s, nil
}

// references loads style excerpts. Failure degrades to none.
func (p *Personalize) references(ctx context.Context, s *workflow.State) []workflow.Reference {
	if p.retriever == nil {
		return nil
	}
	query := strings.TrimSpace(s.Parsed.Purpose + "\n" + s.Draft)
	hits, err := p.retriever.Query(ctx, s.Owner, query, p.topK)
	if err != nil {
		p.logger.Warn("personalization context unavailable", zap.Error(err))
		s.Warn("personalization context unavailable")
		return nil
	}
	refs := make([]workflow.Reference, 0, len(hits))
	for _, h := range hits {
		excerpt := strings.TrimSpace(truncate(h.Content, p.maxExcerpt))
		// A draft already carrying the excerpt would pass it through verbatim.
		if excerpt == "" || strings.Contains(s.Draft, excerpt) {
			continue
		}
		refs = append(refs, workflow.Reference{DraftID: h.DraftID, Excerpt: excerpt, Score: h.Score})
	}
	return refs
}

func formatReferences(refs []workflow.Reference) string {
	if len(refs) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, r := range refs {
		fmt.Fprintf(&b, "--- reference %d (style only) ---\n%s\n", i+1, r.Excerpt)
	}
	return b.String()
}

// echoed reports a reference excerpt that appears verbatim in out.
func echoed(out string, refs []workflow.Reference) (string, bool) {
	for _, r := range refs {
		if r.Excerpt != "" && strings.Contains(out, r.Excerpt) {
			return r.Excerpt, true
		}
	}
	return "", false
}

// ensureSignOff appends the sender's sign-off when the draft does not
// already end with one.
func ensureSignOff(draft, name, signOff string) string {
	sig := strings.TrimSpace(signOff)
	if sig == "" || (name != "" && strings.Contains(draft, name)) {
		return draft
	}
	lines := strings.Split(strings.TrimRight(draft, "\n "), "\n")
	if i := len(lines) - 1; i >= 0 && isClosingLine(lines[i]) {
		if name == "" {
			return draft
		}
		lines[i] = strings.TrimRight(strings.TrimSpace(lines[i]), ",") + ",\n" + name
		return strings.Join(lines, "\n")
	}
	if strings.Contains(draft, sig) {
		return draft
	}
	return strings.TrimRight(draft, "\n ") + "\n\n" + sig
}
