// Package workflow runs an ordered sequence of stages over an email state,
// with bounded retries and continue/retry/fallback routing between them.
package workflow

import (
	"strings"
	"time"

	"github.com/fyrsmithlabs/mailsmith/internal/email"
)

// RawRequest is the caller's input. It never changes once a run starts.
type RawRequest struct {
	Prompt        string `json:"prompt"`
	RecipientHint string `json:"recipient_hint,omitempty"`
	SubjectHint   string `json:"subject_hint,omitempty"`
}

// ParsedInput is the structured reading of a RawRequest.
type ParsedInput struct {
	RecipientName  string   `json:"recipient_name"`
	RecipientEmail string   `json:"recipient_email,omitempty"`
	Purpose        string   `json:"purpose"`
	KeyPoints      []string `json:"key_points,omitempty"`
	Length         string   `json:"length,omitempty"`
	Constraints    string   `json:"constraints,omitempty"`
	Context        string   `json:"context,omitempty"`
}

// Reference is an excerpt of a prior draft, usable for style only.
type Reference struct {
	DraftID string  `json:"draft_id"`
	Excerpt string  `json:"excerpt"`
	Score   float32 `json:"score"`
}

// TraceEntry is a snapshot taken after one stage attempt.
type TraceEntry struct {
	Stage    string        `json:"stage"`
	Attempt  int           `json:"attempt"`
	Outcome  string        `json:"outcome"`
	Draft    string        `json:"draft,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// State is threaded through the pipeline by value. Stages receive a copy
// and return a replacement.
type State struct {
	Owner   string
	Profile email.Profile
	Raw     RawRequest
	Parsed  ParsedInput
	Intent  email.Intent
	Tone    email.Tone

	// Draft is the current best text. Stages replace it whole.
	Draft      string
	References []Reference

	// FinalDraft is set once, by the terminal stage or by fallback.
	FinalDraft string

	Diagnostics bool
	Trace       []TraceEntry
	Warnings    []string
	Metadata    map[string]any
}

// NewState validates its inputs and returns the initial state for a run.
func NewState(owner string, raw RawRequest, tone email.Tone, profile email.Profile) (State, error) {
	if strings.TrimSpace(owner) == "" {
		return State{}, ValidationError("owner_id is required")
	}
	if strings.TrimSpace(raw.Prompt) == "" {
		return State{}, ValidationError("prompt is required")
	}
	t, err := email.ParseTone(string(tone))
	if err != nil {
		return State{}, ValidationError(err.Error())
	}
	if profile.Owner == "" {
		profile.Owner = owner
	}
	return State{
		Owner:    owner,
		Profile:  profile.WithDefaults(),
		Raw:      raw,
		Tone:     t,
		Metadata: map[string]any{},
	}, nil
}

// Clone returns a copy that shares no mutable storage with s.
func (s State) Clone() State {
	s.Profile = s.Profile.Clone()
	s.Parsed.KeyPoints = append([]string(nil), s.Parsed.KeyPoints...)
	s.References = append([]Reference(nil), s.References...)
	s.Trace = append([]TraceEntry(nil), s.Trace...)
	s.Warnings = append([]string(nil), s.Warnings...)
	if s.Metadata != nil {
		md := make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			md[k] = v
		}
		s.Metadata = md
	}
	return s
}

// Warn records a non-fatal warning.
func (s *State) Warn(msg string) {
	s.Warnings = append(s.Warnings, msg)
}

// SetMeta records a metadata value.
func (s *State) SetMeta(key string, v any) {
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	s.Metadata[key] = v
}

// Done reports whether a final draft has been produced.
func (s State) Done() bool { return s.FinalDraft != "" }
