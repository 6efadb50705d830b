package workflow

import (
	"fmt"
	"strings"
)

// TemplateDraft builds the fixed-form draft used when a run falls back
// before any stage produced text.
func TemplateDraft(p ParsedInput) string {
	recipient := p.RecipientName
	if strings.TrimSpace(recipient) == "" {
		recipient = "Recipient"
	}
	purpose := strings.TrimSpace(p.Purpose)
	if purpose == "" {
		purpose = "reach out"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\nI hope this email finds you well.\n\nI wanted to %s.\n\n", recipient, purpose)
	for _, point := range p.KeyPoints {
		if point = strings.TrimSpace(point); point != "" {
			fmt.Fprintf(&b, "- %s\n", point)
		}
	}
	if len(p.KeyPoints) > 0 {
		b.WriteString("\n")
	}
	b.WriteString("I look forward to hearing from you.\n\nBest regards")
	return b.String()
}
