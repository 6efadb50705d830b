package stages

import (
	"fmt"

	"github.com/tmc/langchaingo/prompts"

	"github.com/fyrsmithlabs/mailsmith/internal/generation"
)

// template is the system text and user template for one task.
type template struct {
	system      string
	user        prompts.PromptTemplate
	maxTokens   int
	temperature float64
}

func newTemplate(system, user string, vars []string, maxTokens int, temperature float64) template {
	return template{
		system:      system,
		user:        prompts.NewPromptTemplate(user, vars),
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

// prompt renders t with vars into a Prompt for task.
func (t template) prompt(task generation.Task, vars map[string]string) (generation.Prompt, error) {
	values := make(map[string]any, len(vars))
	for k, v := range vars {
		values[k] = v
	}
	user, err := t.user.Format(values)
	if err != nil {
		return generation.Prompt{}, fmt.Errorf("rendering %s prompt: %w", task, err)
	}
	return generation.Prompt{
		Task:        task,
		System:      t.system,
		User:        user,
		Vars:        vars,
		MaxTokens:   t.maxTokens,
		Temperature: t.temperature,
	}, nil
}

var catalogue = map[generation.Task]template{
	generation.TaskParse: newTemplate(
		"You extract structured fields from email requests. Respond with a single JSON object and nothing else.",
		`Read the request below and return JSON with these keys:
recipient_name, recipient_email, email_purpose, key_points (array of strings),
tone_preference, constraints, context. Use "" for anything not stated.

Request: {{.request}}`,
		[]string{generation.VarRequest},
		400, 0.1,
	),
	generation.TaskIntent: newTemplate(
		"You classify emails. Answer with exactly one category name.",
		`Categories: outreach, follow_up, apology, information_request, thank_you,
meeting_request, status_update, introduction, networking, complaint.

Request: {{.request}}
Purpose: {{.purpose}}

Category:`,
		[]string{generation.VarRequest, generation.VarPurpose},
		10, 0,
	),
	generation.TaskDraft: newTemplate(
		"You write clear, complete emails. Return only the email body, starting with the greeting.",
		`Write a {{.intent}} email to {{.recipient}}.

Purpose: {{.purpose}}
Key points:
{{.key_points}}

Follow this structure: {{.structure}}
Length: {{.length}} words.
Constraints: {{.constraints}}
Context: {{.context}}`,
		[]string{
			generation.VarIntent, generation.VarRecipient, generation.VarPurpose,
			generation.VarKeyPoints, varStructure, varLength, varConstraints, varContext,
		},
		800, 0.7,
	),
	generation.TaskTone: newTemplate(
		"You adjust the tone of emails without changing their facts. Return only the rewritten email.",
		`Rewrite the email below in a {{.tone}} tone.

Characteristics: {{.characteristics}}
Vocabulary: {{.vocabulary}}
Structure: {{.shape}}
Greeting: start with "{{.greeting}}". Closing: end with "{{.closing}}".

Email:
{{.draft}}`,
		[]string{
			generation.VarTone, varCharacteristics, varVocabulary, varShape,
			varGreeting, varClosing, generation.VarDraft,
		},
		800, 0.5,
	),
	generation.TaskPersonalize: newTemplate(
		`You personalize emails for their sender. Reference emails are style examples only:
match their voice, never copy their sentences. Return only the email.`,
		`Sender: {{.name}} {{.title}} {{.company}}
Style notes: {{.style}}
Signature:{{.signature}}

Reference emails (style only, do not copy):
{{.references}}

Email to personalize:
{{.draft}}`,
		[]string{
			generation.VarName, varTitle, varCompany, varStyle,
			generation.VarSignature, generation.VarReferences, generation.VarDraft,
		},
		800, 0.5,
	),
	generation.TaskReview: newTemplate(
		"You review emails and fix the listed problems. Return only the corrected email.",
		`Problems found:
{{.issues}}

Email:
{{.draft}}`,
		[]string{varIssues, generation.VarDraft},
		800, 0.3,
	),
	generation.TaskRefine: newTemplate(
		`You polish emails: fix grammar, tighten wording, remove repetition. Keep the
meaning, greeting and signature. Return only the final email.`,
		`{{.draft}}`,
		[]string{generation.VarDraft},
		800, 0.3,
	),
}

// Prompt variables used only by the model-backed templates.
const (
	varStructure       = "structure"
	varLength          = "length"
	varConstraints     = "constraints"
	varContext         = "context"
	varCharacteristics = "characteristics"
	varVocabulary      = "vocabulary"
	varShape           = "shape"
	varGreeting        = "greeting"
	varClosing         = "closing"
	varTitle           = "title"
	varCompany         = "company"
	varStyle           = "style"
	varIssues          = "issues"
)
