package stages

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailsmith/internal/generation"
	"github.com/fyrsmithlabs/mailsmith/internal/workflow"
)

const (
	fallbackPurposeChars  = 200
	fallbackKeyPointChars = 100
)

// Parse extracts the recipient, purpose and key points from the request.
type Parse struct{ caller }

// Name implements workflow.Stage.
func (*Parse) Name() string { return NameParse }

// Run implements workflow.Stage.
func (p *Parse) Run(ctx context.Context, s workflow.State) (workflow.State, error) {
	request := s.Raw.Prompt
	out, err := p.complete(ctx, NameParse, generation.TaskParse, map[string]string{
		generation.VarRequest: request,
	})
	if err != nil {
		return s, err
	}

	parsed, ok := parseFields(out)
	if !ok {
		p.logger.Debug("parser output was not JSON, using request text", zap.Int("len", len(out)))
		s.Warn("request could not be parsed; using it verbatim")
		parsed = fallbackParse(request)
	}
	if hint := strings.TrimSpace(s.Raw.RecipientHint); hint != "" {
		parsed.RecipientName = hint
	}
	if hint := strings.TrimSpace(s.Raw.SubjectHint); hint != "" {
		parsed.Purpose = hint
	}
	s.Parsed = parsed
	return s, nil
}

// parseFields reads the parser's JSON answer. Code fences and prose around
// the object are tolerated.
func parseFields(out string) (workflow.ParsedInput, bool) {
	doc := jsonObject(out)
	if !gjson.Valid(doc) || !gjson.Parse(doc).IsObject() {
		return workflow.ParsedInput{}, false
	}
	res := gjson.Parse(doc)

	in := workflow.ParsedInput{
		RecipientName:  strings.TrimSpace(res.Get("recipient_name").String()),
		RecipientEmail: strings.TrimSpace(res.Get("recipient_email").String()),
		Purpose:        strings.TrimSpace(res.Get("email_purpose").String()),
		Constraints:    strings.TrimSpace(res.Get("constraints").String()),
		Context:        strings.TrimSpace(res.Get("context").String()),
		Length:         strings.TrimSpace(res.Get("length").String()),
	}
	kp := res.Get("key_points")
	if kp.IsArray() {
		for _, v := range kp.Array() {
			if point := strings.TrimSpace(v.String()); point != "" {
				in.KeyPoints = append(in.KeyPoints, point)
			}
		}
	} else if point := strings.TrimSpace(kp.String()); point != "" {
		in.KeyPoints = []string{point}
	}
	in.RecipientName = orDefault(in.RecipientName, "Recipient")
	return in, in.Purpose != "" || len(in.KeyPoints) > 0
}

func fallbackParse(request string) workflow.ParsedInput {
	request = strings.TrimSpace(request)
	return workflow.ParsedInput{
		RecipientName: "Recipient",
		Purpose:       truncate(request, fallbackPurposeChars),
		KeyPoints:     []string{truncate(request, fallbackKeyPointChars)},
	}
}

func jsonObject(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
