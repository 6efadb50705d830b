package generation

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/sjson"

	"github.com/fyrsmithlabs/mailsmith/internal/email"
)

// Names of the structured prompt inputs understood by Stub.
const (
	VarRequest    = "request"
	VarRecipient  = "recipient"
	VarPurpose    = "purpose"
	VarKeyPoints  = "key_points"
	VarIntent     = "intent"
	VarTone       = "tone"
	VarDraft      = "draft"
	VarSignature  = "signature"
	VarName       = "name"
	VarStage      = "stage"
	VarLastError  = "last_error"
	VarReferences = "references"
)

var (
	recipientPattern = regexp.MustCompile(`(?:with|to|for|thank|email|introduce)\s+([A-Z][a-z]+)`)
	emailPattern     = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	aboutPattern     = regexp.MustCompile(`(?i)\b(?:about|regarding|on)\s+(.+)$`)
)

var openings = map[email.Intent]string{
	email.IntentOutreach:           "I am reaching out because I believe there is a real opportunity for us to work together.",
	email.IntentFollowUp:           "I wanted to follow up on our recent conversation and keep things moving.",
	email.IntentThankYou:           "I wanted to take a moment to thank you sincerely.",
	email.IntentMeetingRequest:     "I would like to schedule some time with you to talk things through.",
	email.IntentApology:            "I want to apologize and take full responsibility for what happened.",
	email.IntentInformationRequest: "I am hoping you can help me with a few questions.",
	email.IntentStatusUpdate:       "Here is a short update on where things stand.",
	email.IntentIntroduction:       "I would like to introduce you to someone I think you should know.",
	email.IntentNetworking:         "I came across your work and would love to connect.",
	email.IntentComplaint:          "I am writing to raise a concern that needs your attention.",
}

// Stub is a deterministic offline Provider. It answers each task from the
// prompt's structured inputs and never contacts a model.
type Stub struct{}

// NewStub returns a Stub provider.
func NewStub() *Stub { return &Stub{} }

// Complete implements Provider.
func (s *Stub) Complete(ctx context.Context, p Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch p.Task {
	case TaskParse:
		return stubParse(p.Var(VarRequest))
	case TaskIntent:
		return string(email.DetectIntent(p.Var(VarRequest))), nil
	case TaskDraft:
		return stubDraft(p), nil
	case TaskTone:
		return stubTone(p.Var(VarDraft), email.Tone(p.Var(VarTone))), nil
	case TaskPersonalize:
		return stubPersonalize(p.Var(VarDraft), p.Var(VarSignature), p.Var(VarName)), nil
	case TaskReview:
		return p.Var(VarDraft), nil
	case TaskRefine:
		return strings.TrimSpace(p.Var(VarDraft)), nil
	case TaskRoute:
		return `{"decision":"continue","reason":"stub"}`, nil
	default:
		return "", newError(ErrProvider, "stub", fmt.Errorf("unknown task %q", p.Task))
	}
}

func stubParse(request string) (string, error) {
	request = strings.TrimSpace(request)
	recipient := "Recipient"
	if m := recipientPattern.FindStringSubmatch(request); m != nil {
		recipient = m[1]
	}
	purpose := request
	if m := aboutPattern.FindStringSubmatch(request); m != nil {
		purpose = strings.TrimRight(m[1], ".!? ")
	}

	doc := "{}"
	var err error
	set := func(path string, v any) {
		if err == nil {
			doc, err = sjson.Set(doc, path, v)
		}
	}
	set("recipient_name", recipient)
	set("recipient_email", emailPattern.FindString(request))
	set("email_purpose", purpose)
	set("key_points", []string{purpose})
	set("tone_preference", "")
	set("constraints", "")
	set("context", "")
	if err != nil {
		return "", newError(ErrProvider, "stub", err)
	}
	return doc, nil
}

func stubDraft(p Prompt) string {
	recipient := p.Var(VarRecipient)
	if recipient == "" {
		recipient = "there"
	}
	intent, ok := email.NormalizeIntent(p.Var(VarIntent))
	if !ok {
		intent = email.IntentOutreach
	}
	guide := email.DefaultTone.Guide()
	if t, err := email.ParseTone(p.Var(VarTone)); err == nil {
		guide = t.Guide()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s,\n\n", guide.Greeting, recipient)
	b.WriteString(openings[intent])
	if purpose := p.Var(VarPurpose); purpose != "" {
		fmt.Fprintf(&b, " This note is about %s.", purpose)
	}
	b.WriteString("\n\n")
	for _, point := range strings.Split(p.Var(VarKeyPoints), "\n") {
		if point = strings.TrimSpace(point); point != "" {
			fmt.Fprintf(&b, "- %s\n", point)
		}
	}
	b.WriteString("\nPlease let me know if you have any questions or if there is anything else I can share. ")
	b.WriteString("I would be glad to find a time that works for you.\n\n")
	b.WriteString(guide.Closing)
	return b.String()
}

var knownGreetings = []string{"Dear", "Hi", "Hello", "Hey"}

func stubTone(draft string, tone email.Tone) string {
	guide := tone.Guide()
	lines := strings.Split(draft, "\n")
	if len(lines) == 0 {
		return draft
	}

	for _, g := range knownGreetings {
		if rest, ok := strings.CutPrefix(lines[0], g+" "); ok {
			lines[0] = guide.Greeting + " " + rest
			break
		}
	}
	if i := lastNonEmpty(lines); i >= 0 && isClosing(lines[i]) {
		lines[i] = guide.Closing
	}
	return strings.Join(lines, "\n")
}

func stubPersonalize(draft, signature, name string) string {
	sig := strings.TrimSpace(signature)
	if sig == "" || strings.Contains(draft, sig) {
		return draft
	}
	if name != "" && strings.Contains(draft, name) {
		return draft
	}

	lines := strings.Split(strings.TrimRight(draft, "\n "), "\n")
	if i := lastNonEmpty(lines); i >= 0 && isClosing(lines[i]) {
		if name == "" {
			return draft
		}
		lines[i] = strings.TrimRight(lines[i], ",") + ",\n" + name
		return strings.Join(lines, "\n")
	}
	return strings.TrimRight(draft, "\n ") + "\n\n" + sig
}

func lastNonEmpty(lines []string) int {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return i
		}
	}
	return -1
}

func isClosing(line string) bool {
	line = strings.TrimRight(strings.TrimSpace(line), ",")
	for _, t := range email.Tones {
		if line == t.Guide().Closing {
			return true
		}
	}
	return line == "Best regards" || line == "Thanks" || line == "Sincerely"
}
