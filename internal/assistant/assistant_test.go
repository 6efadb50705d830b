package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/mailsmith/internal/email"
	"github.com/fyrsmithlabs/mailsmith/internal/embeddings"
	"github.com/fyrsmithlabs/mailsmith/internal/generation"
	"github.com/fyrsmithlabs/mailsmith/internal/logging"
	"github.com/fyrsmithlabs/mailsmith/internal/persistence"
	"github.com/fyrsmithlabs/mailsmith/internal/regeneration"
	"github.com/fyrsmithlabs/mailsmith/internal/similarity"
	"github.com/fyrsmithlabs/mailsmith/internal/stages"
	"github.com/fyrsmithlabs/mailsmith/internal/workflow"
)

type dispatch struct {
	owner, draftID, content string
}

type recordingIndexer struct {
	mu    sync.Mutex
	calls []dispatch
}

func (r *recordingIndexer) IndexAfterSave(owner, draftID, content string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, dispatch{owner, draftID, content})
}

type fixture struct {
	assistant *Assistant
	store     *persistence.MemoryStore
	indexer   *recordingIndexer
	log       *logging.TestLogger
}

func newFixture(t *testing.T, retriever stages.Retriever) fixture {
	t.Helper()
	store := persistence.NewMemoryStore()
	idx := &recordingIndexer{}
	log := logging.NewTestLogger()
	provider := generation.NewGuard(generation.NewStub(), generation.GuardConfig{Name: "stub"}, nil)
	a, err := New(Options{
		Engine:  workflow.NewEngine(workflow.Config{RetryBound: 2}, workflow.HeuristicRouter{}, nil),
		Stages:  stages.NewSet(stages.Deps{Provider: provider, Retriever: retriever, Review: true}),
		Store:   store,
		Indexer: idx,
		Policy:  regeneration.NewPolicy(0.20),
		Logger:  log.Logger,
	})
	require.NoError(t, err)
	return fixture{assistant: a, store: store, indexer: idx, log: log}
}

func followUp(save bool) GenerateRequest {
	return GenerateRequest{
		Prompt:        "Follow up with John about the proposal",
		Tone:          "formal",
		Owner:         "owner-1",
		SaveToHistory: save,
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestGenerate_SavesThenIndexes(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := f.assistant.Generate(context.Background(), followUp(true))
	require.NoError(t, err)

	assert.NotEmpty(t, resp.Draft)
	assert.Equal(t, email.IntentFollowUp, resp.Metadata.Intent)
	assert.Equal(t, "John", resp.Metadata.Recipient)
	assert.True(t, resp.Metadata.Saved)
	assert.NotEmpty(t, resp.Metadata.DraftID)
	assert.Equal(t, "fresh", resp.Metadata.ContextMode)
	assert.Equal(t, 7, resp.Metrics.Invocations)
	assert.Positive(t, resp.Metrics.CallCount)
	assert.Contains(t, resp.Metrics.StageLatencies, "draft")
	assert.Empty(t, resp.Trace)

	drafts, err := f.store.ListDrafts(context.Background(), "owner-1", 10)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, resp.Draft, drafts[0].Content)
	assert.Equal(t, "follow_up", drafts[0].Metadata["intent"])

	require.Len(t, f.indexer.calls, 1)
	assert.Equal(t, dispatch{"owner-1", resp.Metadata.DraftID, resp.Draft}, f.indexer.calls[0])
	f.log.AssertLogged(t, zapcore.InfoLevel, "email generated")
}

func TestGenerate_WithoutSave(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := f.assistant.Generate(context.Background(), followUp(false))
	require.NoError(t, err)
	assert.False(t, resp.Metadata.Saved)
	assert.Empty(t, resp.Metadata.DraftID)
	assert.Empty(t, f.indexer.calls)
}

func TestGenerate_Diagnostics(t *testing.T) {
	f := newFixture(t, nil)
	req := followUp(false)
	req.Diagnostics = true

	resp, err := f.assistant.Generate(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Trace, 7)
	assert.Equal(t, "parse", resp.Trace[0].Stage)
	assert.Equal(t, "refine", resp.Trace[6].Stage)
}

func TestGenerate_Validation(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.assistant.Generate(context.Background(), GenerateRequest{Prompt: "hi", Owner: "o", Tone: "sarcastic"})
	assert.Equal(t, workflow.KindValidation, workflow.KindOf(err))

	_, err = f.assistant.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	assert.Equal(t, workflow.KindValidation, workflow.KindOf(err))
}

func TestGenerate_StorageUnavailableOnSave(t *testing.T) {
	f := newFixture(t, nil)
	f.store.SetUnavailable(true)

	_, err := f.assistant.Generate(context.Background(), followUp(true))
	require.Error(t, err)
	assert.Equal(t, workflow.KindStorageUnavailable, workflow.KindOf(err))
	assert.True(t, errors.Is(err, persistence.ErrStorageUnavailable))
	assert.Empty(t, f.indexer.calls, "nothing is indexed when the save fails")
}

func TestGenerate_ProfileUnavailableDegrades(t *testing.T) {
	f := newFixture(t, nil)
	f.store.SetUnavailable(true)

	resp, err := f.assistant.Generate(context.Background(), followUp(false))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Draft)
	f.log.AssertLogged(t, zapcore.WarnLevel, "profile unavailable")
}

func TestGenerate_UsesProfile(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.assistant.SaveProfile(context.Background(), email.Profile{Owner: "owner-1", Name: "Alice Doe"}))

	resp, err := f.assistant.Generate(context.Background(), followUp(false))
	require.NoError(t, err)
	assert.Contains(t, resp.Draft, "Alice Doe")
}

func TestGenerate_FailingIndexerDoesNotAffectSave(t *testing.T) {
	store := persistence.NewMemoryStore()
	hp := embeddings.NewHashProvider(32)
	ix := similarity.NewIndexer(similarity.IndexerConfig{Enabled: true, Workers: 1}, hp, failingIndex{}, store, nil)
	ix.Start()

	a, err := New(Options{
		Engine: workflow.NewEngine(workflow.Config{RetryBound: 1}, workflow.HeuristicRouter{}, nil),
		Stages: stages.NewSet(stages.Deps{Provider: generation.NewStub()}),
		Store:  store, Indexer: ix, Logger: logging.NewTestLogger().Logger,
	})
	require.NoError(t, err)

	resp, err := a.Generate(context.Background(), followUp(true))
	require.NoError(t, err)
	assert.True(t, resp.Metadata.Saved)

	require.NoError(t, ix.Stop(context.Background()))
	assert.EqualValues(t, 1, ix.Stats().Failed)

	drafts, err := store.ListDrafts(context.Background(), "owner-1", 1)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.NotContains(t, drafts[0].Metadata, "indexed_at")
}

type failingIndex struct{}

func (failingIndex) Upsert(context.Context, similarity.Entry) error { return errors.New("index down") }
func (failingIndex) Query(context.Context, string, []float32, int) ([]similarity.Hit, error) {
	return nil, errors.New("index down")
}
func (failingIndex) Close() error { return nil }

func TestGenerate_HistoryBecomesContext(t *testing.T) {
	store := persistence.NewMemoryStore()
	hp := embeddings.NewHashProvider(128)
	index, err := similarity.NewChromemIndex(similarity.ChromemConfig{}, nil)
	require.NoError(t, err)
	retriever := similarity.NewRetriever(hp, index, similarity.RetrieverConfig{Threshold: 0.35, TopK: 3}, nil)
	ix := similarity.NewIndexer(similarity.IndexerConfig{Enabled: true, Workers: 2}, hp, index, store, nil)
	ix.Start()

	a, err := New(Options{
		Engine: workflow.NewEngine(workflow.Config{RetryBound: 2}, workflow.HeuristicRouter{}, nil),
		Stages: stages.NewSet(stages.Deps{Provider: generation.NewStub(), Retriever: retriever}),
		Store:  store, Indexer: ix, Logger: logging.NewTestLogger().Logger,
	})
	require.NoError(t, err)

	first, err := a.Generate(context.Background(), followUp(true))
	require.NoError(t, err)
	assert.Equal(t, "fresh", first.Metadata.ContextMode)
	assert.Zero(t, first.Metadata.ReferenceCount)

	require.NoError(t, ix.Stop(context.Background()))
	assert.EqualValues(t, 1, ix.Stats().Indexed)

	related := followUp(false)
	related.Prompt = "Follow up with John about the budget review"
	related.Diagnostics = true
	second, err := a.Generate(context.Background(), related)
	require.NoError(t, err)
	assert.Equal(t, "contextual", second.Metadata.ContextMode)
	assert.Equal(t, 1, second.Metadata.ReferenceCount)
	require.Len(t, second.References, 1)
	assert.NotContains(t, second.Draft, second.References[0].Excerpt)

	other := followUp(false)
	other.Owner = "owner-2"
	third, err := a.Generate(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, "fresh", third.Metadata.ContextMode, "owners never see each other's drafts")

	drafts, err := store.ListDrafts(context.Background(), "owner-1", 1)
	require.NoError(t, err)
	assert.Contains(t, drafts[0].Metadata, "indexed_at")
}

func TestGenerate_RepeatedRequestNeverEchoesHistory(t *testing.T) {
	store := persistence.NewMemoryStore()
	hp := embeddings.NewHashProvider(128)
	index, err := similarity.NewChromemIndex(similarity.ChromemConfig{}, nil)
	require.NoError(t, err)
	retriever := similarity.NewRetriever(hp, index, similarity.RetrieverConfig{Threshold: 0.35, TopK: 3}, nil)
	ix := similarity.NewIndexer(similarity.IndexerConfig{Enabled: true, Workers: 1}, hp, index, store, nil)
	ix.Start()

	a, err := New(Options{
		Engine: workflow.NewEngine(workflow.Config{RetryBound: 2}, workflow.HeuristicRouter{}, nil),
		Stages: stages.NewSet(stages.Deps{Provider: generation.NewStub(), Retriever: retriever}),
		Store:  store, Indexer: ix, Logger: logging.NewTestLogger().Logger,
	})
	require.NoError(t, err)

	req := followUp(true)
	req.Diagnostics = true
	first, err := a.Generate(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, ix.Stop(context.Background()))
	require.EqualValues(t, 1, ix.Stats().Indexed)

	req.SaveToHistory = false
	second, err := a.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.Draft, second.Draft, "the stub is deterministic")
	for _, ref := range second.References {
		assert.NotContains(t, second.Draft, ref.Excerpt)
	}
	assert.Zero(t, second.Metadata.ReferenceCount)
	assert.Equal(t, "fresh", second.Metadata.ContextMode)
}

const priorDraft = "Dear John, I wanted to follow up on the proposal we discussed last week. " +
	"The team has reviewed the timeline and budget, and we are ready to move forward " +
	"once you confirm the scope. Please let me know your thoughts soon. Best regards"

func TestRegenerate_LightPath(t *testing.T) {
	f := newFixture(t, nil)
	edited := strings.Replace(priorDraft, "last week", "yesterday afternoon", 1)

	resp, err := f.assistant.Regenerate(context.Background(), RegenerateRequest{
		OriginalDraft: priorDraft,
		EditedDraft:   edited,
		Owner:         "owner-1",
		Diagnostics:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, regeneration.PathLight, resp.Metadata.Path)
	require.NotNil(t, resp.Metadata.ChangeRatio)
	assert.Less(t, *resp.Metadata.ChangeRatio, 0.20)
	assert.Equal(t, 1, resp.Metrics.Invocations)
	require.Len(t, resp.Trace, 1)
	assert.Equal(t, "refine", resp.Trace[0].Stage)
	assert.Contains(t, resp.Draft, "yesterday afternoon")
}

func TestRegenerate_FullPath(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := f.assistant.Regenerate(context.Background(), RegenerateRequest{
		OriginalDraft: priorDraft,
		EditedDraft:   "Hi Sam,\n\nCompletely different message about quarterly taxes.\n\nCheers",
		Tone:          "casual",
		Owner:         "owner-1",
		SaveToHistory: true,
	})
	require.NoError(t, err)
	assert.Equal(t, regeneration.PathFull, resp.Metadata.Path)
	assert.Equal(t, 1.0, *resp.Metadata.ChangeRatio)
	assert.Equal(t, 3, resp.Metrics.Invocations)
	assert.Equal(t, "Sam", resp.Metadata.Recipient)
	assert.True(t, resp.Metadata.Saved)
	require.Len(t, f.indexer.calls, 1)
}

func TestRegenerate_EmptyEdit(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.assistant.Regenerate(context.Background(), RegenerateRequest{
		OriginalDraft: priorDraft,
		EditedDraft:   "   \n ",
		Owner:         "owner-1",
	})
	require.Error(t, err)
	assert.Equal(t, workflow.KindEmptyDraft, workflow.KindOf(err))
}

func TestHistoryAndProfile(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	p, err := f.assistant.Profile(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, email.DefaultStyleNotes, p.StyleNotes)

	_, err = f.assistant.History(ctx, "", 10)
	assert.Equal(t, workflow.KindValidation, workflow.KindOf(err))

	_, err = f.assistant.Generate(ctx, followUp(true))
	require.NoError(t, err)
	drafts, err := f.assistant.History(ctx, "owner-1", 10)
	require.NoError(t, err)
	assert.Len(t, drafts, 1)

	f.store.SetUnavailable(true)
	_, err = f.assistant.History(ctx, "owner-1", 10)
	assert.Equal(t, workflow.KindStorageUnavailable, workflow.KindOf(err))
}

func TestLearnFromEdits(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.assistant.SaveProfile(ctx, email.Profile{Owner: "owner-1", Name: "Alice"}))

	learned, err := f.assistant.LearnFromEdits(ctx, "owner-1", LearnRequest{
		Original: priorDraft,
		Edited:   "Hey John, thanks for the chat! Ready when you are.",
	})
	require.NoError(t, err)
	assert.Equal(t, "casual", learned.Preferences[email.PrefToneLean])

	stored, err := f.assistant.Profile(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", stored.Name)
	assert.Equal(t, "10", stored.Preferences[email.PrefPreferredLength])
	assert.Equal(t, "casual", stored.Preferences[email.PrefToneLean])
	f.log.AssertLogged(t, zapcore.InfoLevel, "preferences learned from edit")

	t.Run("validation", func(t *testing.T) {
		_, err := f.assistant.LearnFromEdits(ctx, "", LearnRequest{Edited: "hi"})
		assert.Equal(t, workflow.KindValidation, workflow.KindOf(err))
		_, err = f.assistant.LearnFromEdits(ctx, "owner-1", LearnRequest{Original: priorDraft, Edited: "  "})
		assert.Equal(t, workflow.KindValidation, workflow.KindOf(err))
	})

	t.Run("storage unavailable", func(t *testing.T) {
		f.store.SetUnavailable(true)
		defer f.store.SetUnavailable(false)
		_, err := f.assistant.LearnFromEdits(ctx, "owner-1", LearnRequest{Edited: "Dear John, noted."})
		assert.Equal(t, workflow.KindStorageUnavailable, workflow.KindOf(err))
	})
}

func TestGenerate_FallbackReasonIsSaved(t *testing.T) {
	store := persistence.NewMemoryStore()
	router := workflow.RouterFunc(func(context.Context, workflow.RouteInput) workflow.Route {
		return workflow.Route{Decision: workflow.DecisionFallback, Reason: "draft is good enough"}
	})
	a, err := New(Options{
		Engine: workflow.NewEngine(workflow.Config{RetryBound: 1}, router, nil),
		Stages: stages.NewSet(stages.Deps{Provider: generation.NewStub()}),
		Store:  store,
		Logger: logging.NewTestLogger().Logger,
	})
	require.NoError(t, err)

	resp, err := a.Generate(context.Background(), followUp(true))
	require.NoError(t, err)
	assert.True(t, resp.Metadata.FallbackUsed)
	assert.Equal(t, "router", resp.Metadata.FallbackReason)

	drafts, err := store.ListDrafts(context.Background(), "owner-1", 1)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "router", drafts[0].Metadata["fallback_reason"])
}

func TestRecipientFromGreeting(t *testing.T) {
	assert.Equal(t, "Sam", recipientFromGreeting("Hi Sam,\n\nBody"))
	assert.Equal(t, "Dr. Lee", recipientFromGreeting("Dear Dr. Lee:\nBody"))
	assert.Equal(t, "", recipientFromGreeting("Body only"))
}

func TestGenerate_HTMLFormat(t *testing.T) {
	f := newFixture(t, nil)
	req := followUp(false)
	req.Format = FormatHTML

	resp, err := f.assistant.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, resp.HTML, "<p>Dear John,</p>")

	req.Format = "pdf"
	_, err = f.assistant.Generate(context.Background(), req)
	assert.Equal(t, workflow.KindValidation, workflow.KindOf(err))
}
