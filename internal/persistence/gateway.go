// Package persistence saves drafts and owner profiles.
//
// Two Gateway implementations exist: SQLiteStore for durable storage and
// MemoryStore for tests and ephemeral deployments.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/mailsmith/internal/email"
)

var (
	// ErrStorageUnavailable indicates the backing store could not serve the
	// call. It is fatal for saves and degrades profile reads.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound indicates the draft does not exist for that owner.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRecord indicates a record missing required fields.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrDuplicate indicates a draft id already used by the owner.
	ErrDuplicate = errors.New("duplicate draft id")
)

// DefaultListLimit caps ListDrafts when no limit is given.
const DefaultListLimit = 20

// DraftRecord is a saved draft. Only Metadata changes after creation.
type DraftRecord struct {
	Owner     string         `json:"owner_id"`
	ID        string         `json:"draft_id"`
	Content   string         `json:"content"`
	Tone      email.Tone     `json:"tone"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Gateway is the storage surface the assistant depends on.
type Gateway interface {
	// Save stores rec, assigning an id and timestamp when absent, and
	// returns the draft id.
	Save(ctx context.Context, rec DraftRecord) (string, error)
	// LoadProfile returns nil, nil when owner has no stored profile.
	LoadProfile(ctx context.Context, owner string) (*email.Profile, error)
	SaveProfile(ctx context.Context, p email.Profile) error
	// ListDrafts returns owner's drafts, newest first.
	ListDrafts(ctx context.Context, owner string, limit int) ([]DraftRecord, error)
	// AppendMetadata merges meta into a saved draft's metadata.
	AppendMetadata(ctx context.Context, owner, draftID string, meta map[string]any) error
	Close() error
}

func cloneMeta(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
