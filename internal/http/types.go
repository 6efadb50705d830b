package http

import (
	"time"

	"github.com/fyrsmithlabs/mailsmith/internal/email"
	"github.com/fyrsmithlabs/mailsmith/internal/persistence"
	"github.com/fyrsmithlabs/mailsmith/internal/similarity"
	"github.com/fyrsmithlabs/mailsmith/internal/telemetry"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Indexer   *similarity.Stats       `json:"indexer,omitempty"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

// DraftView is one saved draft as listed by GET /api/v1/owners/:owner/drafts.
type DraftView struct {
	ID        string         `json:"draft_id"`
	Content   string         `json:"content"`
	Tone      email.Tone     `json:"tone"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// HistoryResponse is the response body for the draft history listing.
type HistoryResponse struct {
	Owner  string      `json:"owner_id"`
	Drafts []DraftView `json:"drafts"`
}

func newDraftView(d persistence.DraftRecord) DraftView {
	return DraftView{
		ID:        d.ID,
		Content:   d.Content,
		Tone:      d.Tone,
		CreatedAt: d.CreatedAt,
		Metadata:  d.Metadata,
	}
}
