package assistant

import (
	"time"

	"github.com/fyrsmithlabs/mailsmith/internal/email"
	"github.com/fyrsmithlabs/mailsmith/internal/regeneration"
	"github.com/fyrsmithlabs/mailsmith/internal/workflow"
)

// GenerateRequest asks for a new email.
type GenerateRequest struct {
	Prompt        string `json:"prompt"`
	RecipientHint string `json:"recipient,omitempty"`
	SubjectHint   string `json:"subject,omitempty"`
	Tone          string `json:"tone,omitempty"`
	Owner         string `json:"owner_id"`
	SaveToHistory bool   `json:"save_to_history"`
	Diagnostics   bool   `json:"diagnostics,omitempty"`

	// Format is "text" (the default) or "html".
	Format string `json:"format,omitempty"`
}

// Response formats.
const (
	FormatText = "text"
	FormatHTML = "html"
)

// RegenerateRequest asks for an edited draft to be reworked.
type RegenerateRequest struct {
	OriginalDraft string `json:"original_draft"`
	EditedDraft   string `json:"edited_draft"`
	Tone          string `json:"tone,omitempty"`
	Owner         string `json:"owner_id"`
	SaveToHistory bool   `json:"save_to_history"`
	Diagnostics   bool   `json:"diagnostics,omitempty"`
}

// LearnRequest carries a draft before and after the user edited it.
type LearnRequest struct {
	Original string `json:"original"`
	Edited   string `json:"edited"`
}

// Metadata describes how a draft was produced.
type Metadata struct {
	Intent         email.Intent      `json:"intent,omitempty"`
	Tone           email.Tone        `json:"tone"`
	Recipient      string            `json:"recipient,omitempty"`
	ContextMode    string            `json:"context_mode"`
	ReferenceCount int               `json:"reference_count"`
	DraftID        string            `json:"draft_id,omitempty"`
	Saved          bool              `json:"saved"`
	FallbackUsed   bool              `json:"fallback_used"`
	FallbackReason string            `json:"fallback_reason,omitempty"`
	Warnings       []string          `json:"warnings"`
	ReviewIssues   []string          `json:"review_issues,omitempty"`
	Path           regeneration.Path `json:"path,omitempty"`
	ChangeRatio    *float64          `json:"change_ratio,omitempty"`
}

// Metrics reports the cost of one request.
type Metrics struct {
	// StageLatencies are milliseconds per stage, retries included.
	StageLatencies map[string]float64 `json:"stage_latencies"`
	CallCount      int                `json:"call_count"`
	Invocations    int                `json:"invocations"`
}

// Response is the result of Generate or Regenerate.
type Response struct {
	Draft    string                `json:"draft"`
	HTML     string                `json:"html,omitempty"`
	Metadata Metadata              `json:"metadata"`
	Metrics  Metrics               `json:"metrics"`
	Trace    []workflow.TraceEntry `json:"trace,omitempty"`

	// References are the style excerpts personalization saw. Diagnostics only.
	References []workflow.Reference `json:"references,omitempty"`
}

func newResponse(res *workflow.Result, calls int) *Response {
	s := res.State
	md := Metadata{
		Intent:         s.Intent,
		Tone:           s.Tone,
		Recipient:      s.Parsed.RecipientName,
		ContextMode:    metaString(s.Metadata, "context_mode"),
		ReferenceCount: len(s.References),
		FallbackUsed:   res.FallbackUsed,
		FallbackReason: string(res.FallbackReason),
		Warnings:       append([]string{}, s.Warnings...),
		ReviewIssues:   metaStrings(s.Metadata, "review_issues"),
	}
	if md.ContextMode == "" {
		md.ContextMode = "fresh"
	}

	latencies := make(map[string]float64, len(res.StageLatencies))
	for name, d := range res.StageLatencies {
		latencies[name] = float64(d) / float64(time.Millisecond)
	}
	resp := &Response{
		Draft:    s.FinalDraft,
		Metadata: md,
		Metrics: Metrics{
			StageLatencies: latencies,
			CallCount:      calls,
			Invocations:    res.Invocations,
		},
	}
	if s.Diagnostics {
		resp.Trace = s.Trace
		resp.References = s.References
	}
	return resp
}

func metaString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func metaStrings(m map[string]any, key string) []string {
	v, _ := m[key].([]string)
	return v
}
