// Package similarity stores draft embeddings per owner and answers
// nearest-neighbour queries over an owner's own history.
//
// The Retriever applies the query policy (threshold, k, ordering). The
// Indexer writes new drafts in the background after they are saved.
package similarity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	// ErrInvalidEntry indicates an entry missing its owner, id or vector.
	ErrInvalidEntry = errors.New("invalid index entry")

	// ErrDimensionMismatch indicates a vector of the wrong size.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Entry is one indexed draft.
type Entry struct {
	Owner     string
	DraftID   string
	Content   string
	Vector    []float32
	CreatedAt time.Time
}

func (e Entry) validate() error {
	switch {
	case e.Owner == "":
		return errors.Join(ErrInvalidEntry, errors.New("owner is required"))
	case e.DraftID == "":
		return errors.Join(ErrInvalidEntry, errors.New("draft id is required"))
	case len(e.Vector) == 0:
		return errors.Join(ErrInvalidEntry, errors.New("vector is required"))
	}
	return nil
}

// Hit is a query result.
type Hit struct {
	DraftID   string    `json:"draft_id"`
	Content   string    `json:"content"`
	Score     float32   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// Index is an owner-scoped vector store. Upsert is idempotent per
// (owner, draft id). Query never returns another owner's entries. Both are
// safe for concurrent use.
type Index interface {
	Upsert(ctx context.Context, e Entry) error
	Query(ctx context.Context, owner string, vector []float32, k int) ([]Hit, error)
	Close() error
}

// ownerKey derives a stable, name-safe key from an owner id.
func ownerKey(owner string) string {
	sum := sha256.Sum256([]byte(owner))
	return hex.EncodeToString(sum[:])[:16]
}
