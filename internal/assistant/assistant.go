// Package assistant is the service layer: it turns generate and regenerate
// requests into pipeline runs, saves the results and schedules indexing.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailsmith/internal/email"
	"github.com/fyrsmithlabs/mailsmith/internal/generation"
	"github.com/fyrsmithlabs/mailsmith/internal/logging"
	"github.com/fyrsmithlabs/mailsmith/internal/persistence"
	"github.com/fyrsmithlabs/mailsmith/internal/regeneration"
	"github.com/fyrsmithlabs/mailsmith/internal/render"
	"github.com/fyrsmithlabs/mailsmith/internal/stages"
	"github.com/fyrsmithlabs/mailsmith/internal/workflow"
)

// Indexer schedules a saved draft for similarity indexing.
type Indexer interface {
	IndexAfterSave(owner, draftID, content string, metadata map[string]any)
}

// Options wires an Assistant.
type Options struct {
	Engine  *workflow.Engine
	Stages  *stages.Set
	Store   persistence.Gateway
	Indexer Indexer
	Policy  regeneration.Policy
	Logger  *logging.Logger

	// Diagnostics forces trace recording for every request.
	Diagnostics bool
}

// Assistant runs requests end to end. It is safe for concurrent use.
type Assistant struct {
	engine      *workflow.Engine
	stages      *stages.Set
	store       persistence.Gateway
	indexer     Indexer
	policy      regeneration.Policy
	logger      *logging.Logger
	diagnostics bool
	now         func() time.Time
}

// New creates an Assistant.
func New(opts Options) (*Assistant, error) {
	switch {
	case opts.Engine == nil:
		return nil, errors.New("engine is required")
	case opts.Stages == nil:
		return nil, errors.New("stage set is required")
	case opts.Store == nil:
		return nil, errors.New("store is required")
	case opts.Logger == nil:
		return nil, errors.New("logger is required")
	}
	if opts.Policy.Threshold == 0 {
		opts.Policy = regeneration.NewPolicy(regeneration.DefaultThreshold)
	}
	return &Assistant{
		engine:      opts.Engine,
		stages:      opts.Stages,
		store:       opts.Store,
		indexer:     opts.Indexer,
		policy:      opts.Policy,
		logger:      opts.Logger,
		diagnostics: opts.Diagnostics,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Generate writes a new email from a free-text request.
func (a *Assistant) Generate(ctx context.Context, req GenerateRequest) (*Response, error) {
	ctx = logging.WithOwner(ctx, req.Owner)
	switch req.Format {
	case "", FormatText, FormatHTML:
	default:
		return nil, workflow.ValidationError(fmt.Sprintf("unknown format %q", req.Format))
	}
	profile := a.profile(ctx, req.Owner)

	state, err := workflow.NewState(req.Owner, workflow.RawRequest{
		Prompt:        req.Prompt,
		RecipientHint: req.RecipientHint,
		SubjectHint:   req.SubjectHint,
	}, email.Tone(req.Tone), profile)
	if err != nil {
		return nil, err
	}
	state.Diagnostics = req.Diagnostics || a.diagnostics

	ctx, calls := generation.WithCallCounter(ctx)
	res, err := a.engine.Run(ctx, state, a.stages.Generate())
	if err != nil {
		a.logger.Warn(ctx, "generation failed",
			zap.String("kind", string(workflow.KindOf(err))),
			zap.Error(err))
		return nil, err
	}

	resp := newResponse(res, calls.Count())
	if req.Format == FormatHTML {
		if resp.HTML, err = render.HTML(resp.Draft); err != nil {
			return nil, workflow.FatalError("", "rendering html failed", err)
		}
	}
	if req.SaveToHistory {
		if err := a.save(ctx, res.State, &resp.Metadata, "generate"); err != nil {
			return nil, err
		}
	}
	a.logger.Info(ctx, "email generated",
		zap.String("intent", string(res.State.Intent)),
		zap.Int("invocations", res.Invocations),
		zap.Int("provider_calls", resp.Metrics.CallCount),
		zap.Bool("saved", resp.Metadata.Saved))
	return resp, nil
}

// Regenerate re-runs part of the pipeline over a user-edited draft. Small
// edits only re-run refinement; larger ones re-run tone, personalization and
// refinement.
func (a *Assistant) Regenerate(ctx context.Context, req RegenerateRequest) (*Response, error) {
	ctx = logging.WithOwner(ctx, req.Owner)

	decision, err := a.policy.Decide(req.OriginalDraft, req.EditedDraft)
	if err != nil {
		return nil, err
	}
	seq, err := a.stages.Select(decision.Stages)
	if err != nil {
		return nil, workflow.FatalError("", "regeneration path unavailable", err)
	}

	profile := a.profile(ctx, req.Owner)
	state, err := workflow.NewState(req.Owner, workflow.RawRequest{Prompt: req.EditedDraft}, email.Tone(req.Tone), profile)
	if err != nil {
		return nil, err
	}
	state.Diagnostics = req.Diagnostics || a.diagnostics
	state.Draft = req.EditedDraft
	state.Intent = email.DetectIntent(req.EditedDraft)
	state.Parsed.RecipientName = recipientFromGreeting(req.EditedDraft)

	ctx, calls := generation.WithCallCounter(ctx)
	res, err := a.engine.Run(ctx, state, seq)
	if err != nil {
		a.logger.Warn(ctx, "regeneration failed",
			zap.String("path", string(decision.Path)),
			zap.Error(err))
		return nil, err
	}

	resp := newResponse(res, calls.Count())
	ratio := decision.ChangeRatio
	resp.Metadata.Path = decision.Path
	resp.Metadata.ChangeRatio = &ratio
	if req.SaveToHistory {
		if err := a.save(ctx, res.State, &resp.Metadata, "regenerate"); err != nil {
			return nil, err
		}
	}
	a.logger.Info(ctx, "email regenerated",
		zap.String("path", string(decision.Path)),
		zap.Float64("change_ratio", ratio),
		zap.Int("invocations", res.Invocations))
	return resp, nil
}

// History lists an owner's saved drafts, newest first.
func (a *Assistant) History(ctx context.Context, owner string, limit int) ([]persistence.DraftRecord, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, workflow.ValidationError("owner_id is required")
	}
	drafts, err := a.store.ListDrafts(ctx, owner, limit)
	if err != nil {
		return nil, storageError("listing drafts failed", err)
	}
	return drafts, nil
}

// Profile returns the owner's stored profile, or the default one.
func (a *Assistant) Profile(ctx context.Context, owner string) (email.Profile, error) {
	if strings.TrimSpace(owner) == "" {
		return email.Profile{}, workflow.ValidationError("owner_id is required")
	}
	p, err := a.store.LoadProfile(ctx, owner)
	if err != nil {
		return email.Profile{}, storageError("loading profile failed", err)
	}
	if p == nil {
		return email.EmptyProfile(owner), nil
	}
	return p.WithDefaults(), nil
}

// SaveProfile stores the owner's profile.
func (a *Assistant) SaveProfile(ctx context.Context, p email.Profile) error {
	if strings.TrimSpace(p.Owner) == "" {
		return workflow.ValidationError("owner_id is required")
	}
	if err := a.store.SaveProfile(ctx, p); err != nil {
		return storageError("saving profile failed", err)
	}
	return nil
}

// LearnFromEdits folds what the user changed in a draft into their stored
// profile preferences and returns the updated profile.
func (a *Assistant) LearnFromEdits(ctx context.Context, owner string, req LearnRequest) (email.Profile, error) {
	ctx = logging.WithOwner(ctx, owner)
	if strings.TrimSpace(owner) == "" {
		return email.Profile{}, workflow.ValidationError("owner_id is required")
	}
	if strings.TrimSpace(req.Edited) == "" {
		return email.Profile{}, workflow.ValidationError("edited draft is required")
	}
	current, err := a.Profile(ctx, owner)
	if err != nil {
		return email.Profile{}, err
	}
	learned := current.LearnFromEdit(req.Edited)
	if err := a.SaveProfile(ctx, learned); err != nil {
		return email.Profile{}, err
	}
	a.logger.Info(ctx, "preferences learned from edit",
		zap.String("preferred_length", learned.Preferences[email.PrefPreferredLength]),
		zap.String("tone_lean", learned.Preferences[email.PrefToneLean]))
	return learned, nil
}

// profile loads the owner's profile for a run. Any failure degrades to the
// default profile.
func (a *Assistant) profile(ctx context.Context, owner string) email.Profile {
	if strings.TrimSpace(owner) == "" {
		return email.Profile{}
	}
	p, err := a.store.LoadProfile(ctx, owner)
	if err != nil {
		a.logger.Warn(ctx, "profile unavailable, using defaults", zap.Error(err))
		return email.EmptyProfile(owner)
	}
	if p == nil {
		return email.EmptyProfile(owner)
	}
	return *p
}

// save persists the final draft and, only once that succeeds, schedules
// indexing. Indexing problems never reach the caller.
func (a *Assistant) save(ctx context.Context, s workflow.State, md *Metadata, source string) error {
	created := a.now()
	meta := map[string]any{
		"source":        source,
		"intent":        string(s.Intent),
		"recipient":     s.Parsed.RecipientName,
		"context_mode":  md.ContextMode,
		"fallback_used": md.FallbackUsed,
	}
	if md.FallbackReason != "" {
		meta["fallback_reason"] = md.FallbackReason
	}
	if md.Path != "" {
		meta["path"] = string(md.Path)
	}

	id, err := a.store.Save(ctx, persistence.DraftRecord{
		Owner:     s.Owner,
		Content:   s.FinalDraft,
		Tone:      s.Tone,
		CreatedAt: created,
		Metadata:  meta,
	})
	if err != nil {
		a.logger.Error(ctx, "saving draft failed", zap.Error(err))
		return storageError("saving draft failed", err)
	}
	md.DraftID = id
	md.Saved = true
	a.logger.Debug(ctx, "draft saved",
		zap.String("draft_id", id),
		logging.DraftPreview("preview", s.FinalDraft))

	if a.indexer != nil {
		a.indexer.IndexAfterSave(s.Owner, id, s.FinalDraft, map[string]any{"created_at": created})
	}
	return nil
}

func storageError(msg string, err error) error {
	if errors.Is(err, persistence.ErrStorageUnavailable) {
		return workflow.StorageError(msg, err)
	}
	if errors.Is(err, persistence.ErrInvalidRecord) {
		return workflow.ValidationError(fmt.Sprintf("%s: %v", msg, err))
	}
	return workflow.FatalError("", msg, err)
}

// recipientFromGreeting reads "Dear Sam," style openings.
func recipientFromGreeting(draft string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(draft), "\n")
	first = strings.TrimRight(strings.TrimSpace(first), ",:")
	for _, g := range []string{"Dear ", "Hi ", "Hello ", "Hey "} {
		if rest, ok := strings.CutPrefix(first, g); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}
