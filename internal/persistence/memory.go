package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/mailsmith/internal/email"
)

// MemoryStore is a Gateway held in process memory.
type MemoryStore struct {
	mu          sync.RWMutex
	drafts      map[string][]DraftRecord
	profiles    map[string]email.Profile
	unavailable bool
}

var _ Gateway = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		drafts:   make(map[string][]DraftRecord),
		profiles: make(map[string]email.Profile),
	}
}

// SetUnavailable makes every call fail with ErrStorageUnavailable.
func (m *MemoryStore) SetUnavailable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = down
}

func (m *MemoryStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if m.unavailable {
		return ErrStorageUnavailable
	}
	return nil
}

// Save implements Gateway.
func (m *MemoryStore) Save(ctx context.Context, rec DraftRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return "", err
	}
	if rec.Owner == "" {
		return "", fmt.Errorf("%w: owner is required", ErrInvalidRecord)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	for _, existing := range m.drafts[rec.Owner] {
		if existing.ID == rec.ID {
			return "", fmt.Errorf("%w: %s", ErrDuplicate, rec.ID)
		}
	}
	rec.Metadata = cloneMeta(rec.Metadata)
	m.drafts[rec.Owner] = append(m.drafts[rec.Owner], rec)
	return rec.ID, nil
}

// LoadProfile implements Gateway.
func (m *MemoryStore) LoadProfile(ctx context.Context, owner string) (*email.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	p, ok := m.profiles[owner]
	if !ok {
		return nil, nil
	}
	p = p.Clone()
	return &p, nil
}

// SaveProfile implements Gateway.
func (m *MemoryStore) SaveProfile(ctx context.Context, p email.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	if p.Owner == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidRecord)
	}
	m.profiles[p.Owner] = p.Clone()
	return nil
}

// ListDrafts implements Gateway.
func (m *MemoryStore) ListDrafts(ctx context.Context, owner string, limit int) ([]DraftRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	src := m.drafts[owner]
	out := make([]DraftRecord, 0, len(src))
	for _, rec := range src {
		rec.Metadata = cloneMeta(rec.Metadata)
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendMetadata implements Gateway.
func (m *MemoryStore) AppendMetadata(ctx context.Context, owner, draftID string, meta map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	drafts := m.drafts[owner]
	for i := range drafts {
		if drafts[i].ID != draftID {
			continue
		}
		merged := cloneMeta(drafts[i].Metadata)
		if merged == nil {
			merged = make(map[string]any, len(meta))
		}
		for k, v := range meta {
			merged[k] = v
		}
		drafts[i].Metadata = merged
		return nil
	}
	return fmt.Errorf("%w: draft %s", ErrNotFound, draftID)
}

// Close implements Gateway.
func (m *MemoryStore) Close() error { return nil }
