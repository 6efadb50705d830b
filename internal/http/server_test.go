package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/mailsmith/internal/assistant"
	"github.com/fyrsmithlabs/mailsmith/internal/email"
	"github.com/fyrsmithlabs/mailsmith/internal/generation"
	"github.com/fyrsmithlabs/mailsmith/internal/logging"
	"github.com/fyrsmithlabs/mailsmith/internal/persistence"
	"github.com/fyrsmithlabs/mailsmith/internal/similarity"
	"github.com/fyrsmithlabs/mailsmith/internal/stages"
	"github.com/fyrsmithlabs/mailsmith/internal/telemetry"
	"github.com/fyrsmithlabs/mailsmith/internal/workflow"
)

type staticStats similarity.Stats

func (s staticStats) Stats() similarity.Stats { return similarity.Stats(s) }

type testServer struct {
	*Server
	store *persistence.MemoryStore
}

func setupTestServer(t *testing.T) testServer {
	t.Helper()
	store := persistence.NewMemoryStore()
	a, err := assistant.New(assistant.Options{
		Engine: workflow.NewEngine(workflow.Config{RetryBound: 1}, workflow.HeuristicRouter{}, nil),
		Stages: stages.NewSet(stages.Deps{Provider: generation.NewStub()}),
		Store:  store,
		Logger: logging.NewTestLogger().Logger,
	})
	require.NoError(t, err)

	server, err := NewServer(a, staticStats{Enabled: true, Indexed: 4}, logging.NewTestLogger().Logger, nil)
	require.NoError(t, err)
	return testServer{Server: server, store: store}
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, path, bytes.NewReader(raw))
		r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server := setupTestServer(t)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 8085, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(&fakeService{}, nil, nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("returns error when service is nil", func(t *testing.T) {
		_, err := NewServer(nil, nil, logging.NewTestLogger().Logger, nil)
		assert.ErrorContains(t, err, "service cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	server := setupTestServer(t)

	rec := do(t, server, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.Indexer)
	assert.True(t, resp.Indexer.Enabled)
	assert.EqualValues(t, 4, resp.Indexer.Indexed)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	assert.Nil(t, resp.Telemetry)
}

type staticTelemetry telemetry.HealthStatus

func (s staticTelemetry) Health() telemetry.HealthStatus { return telemetry.HealthStatus(s) }

func TestHandleHealth_TelemetryDegraded(t *testing.T) {
	server, err := NewServer(&fakeService{}, nil, logging.NewTestLogger().Logger, &Config{
		Port:      8085,
		Telemetry: staticTelemetry{Enabled: true, Degraded: true},
	})
	require.NoError(t, err)

	rec := do(t, server, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "degraded", resp.Status)
	assert.Nil(t, resp.Indexer)
	require.NotNil(t, resp.Telemetry)
	assert.True(t, resp.Telemetry.Degraded)
}

func TestHandleMetrics(t *testing.T) {
	server := setupTestServer(t)
	rec := do(t, server, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHandleGenerate(t *testing.T) {
	t.Run("generates and saves", func(t *testing.T) {
		server := setupTestServer(t)
		rec := do(t, server, http.MethodPost, "/api/v1/generate", map[string]any{
			"prompt":          "Follow up with John about the proposal",
			"tone":            "formal",
			"owner_id":        "owner-1",
			"save_to_history": true,
			"format":          "html",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		resp := decode[assistant.Response](t, rec)
		assert.True(t, strings.HasPrefix(resp.Draft, "Dear John"))
		assert.Contains(t, resp.HTML, "<p>")
		assert.Equal(t, email.IntentFollowUp, resp.Metadata.Intent)
		assert.True(t, resp.Metadata.Saved)
		assert.Equal(t, "fresh", resp.Metadata.ContextMode)
		assert.Equal(t, 6, resp.Metrics.Invocations)
		assert.Empty(t, resp.Trace)
	})

	t.Run("validation failure is 400", func(t *testing.T) {
		server := setupTestServer(t)
		rec := do(t, server, http.MethodPost, "/api/v1/generate", map[string]any{"prompt": "", "owner_id": "o"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "validation", decode[ErrorResponse](t, rec).Kind)
	})

	t.Run("malformed json is 400", func(t *testing.T) {
		server := setupTestServer(t)
		r := httptest.NewRequest(http.MethodPost, "/api/v1/generate", strings.NewReader("{not json"))
		r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "validation", decode[ErrorResponse](t, rec).Kind)
	})

	t.Run("storage outage on save is 503", func(t *testing.T) {
		server := setupTestServer(t)
		server.store.SetUnavailable(true)
		rec := do(t, server, http.MethodPost, "/api/v1/generate", map[string]any{
			"prompt":          "Follow up with John about the proposal",
			"owner_id":        "owner-1",
			"save_to_history": true,
		})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "storage_unavailable", decode[ErrorResponse](t, rec).Kind)
	})
}

func TestHandleRegenerate(t *testing.T) {
	server := setupTestServer(t)
	original := "Dear John,\n\nI wanted to follow up on the proposal we discussed last week and confirm the next steps for the team.\n\nBest regards"

	t.Run("light path", func(t *testing.T) {
		rec := do(t, server, http.MethodPost, "/api/v1/regenerate", map[string]any{
			"original_draft": original,
			"edited_draft":   strings.Replace(original, "last week", "on Monday", 1),
			"owner_id":       "owner-1",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[assistant.Response](t, rec)
		assert.Equal(t, "light", string(resp.Metadata.Path))
		assert.Equal(t, 1, resp.Metrics.Invocations)
	})

	t.Run("empty edit is 400", func(t *testing.T) {
		rec := do(t, server, http.MethodPost, "/api/v1/regenerate", map[string]any{
			"original_draft": original,
			"edited_draft":   "  ",
			"owner_id":       "owner-1",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "empty_draft", decode[ErrorResponse](t, rec).Kind)
	})
}

func TestHandleHistory(t *testing.T) {
	server := setupTestServer(t)
	for _, prompt := range []string{"Follow up with John about the proposal", "Send a thank you note to Maria about the launch"} {
		rec := do(t, server, http.MethodPost, "/api/v1/generate", map[string]any{
			"prompt": prompt, "owner_id": "owner-1", "save_to_history": true,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := do(t, server, http.MethodGet, "/api/v1/owners/owner-1/drafts?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HistoryResponse](t, rec)
	assert.Equal(t, "owner-1", resp.Owner)
	require.Len(t, resp.Drafts, 1)
	assert.Contains(t, resp.Drafts[0].Content, "Maria")

	rec = do(t, server, http.MethodGet, "/api/v1/owners/owner-2/drafts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[HistoryResponse](t, rec).Drafts)

	rec = do(t, server, http.MethodGet, "/api/v1/owners/owner-1/drafts?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleProfile(t *testing.T) {
	server := setupTestServer(t)

	rec := do(t, server, http.MethodGet, "/api/v1/owners/owner-1/profile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, email.DefaultStyleNotes, decode[email.Profile](t, rec).StyleNotes)

	rec = do(t, server, http.MethodPut, "/api/v1/owners/owner-1/profile", map[string]any{
		"user_name":   "Alice Doe",
		"user_title":  "Director",
		"style_notes": "warm and direct",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stored := decode[email.Profile](t, rec)
	assert.Equal(t, "owner-1", stored.Owner)
	assert.Equal(t, "Alice Doe", stored.Name)
	assert.Equal(t, email.DefaultSignature, stored.Signature)

	rec = do(t, server, http.MethodPut, "/api/v1/owners/owner-1/profile", map[string]any{"owner_id": "owner-2"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	server.store.SetUnavailable(true)
	rec = do(t, server, http.MethodGet, "/api/v1/owners/owner-1/profile", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleLearn(t *testing.T) {
	server := setupTestServer(t)

	rec := do(t, server, http.MethodPost, "/api/v1/owners/owner-1/history/learn", map[string]any{
		"original": "Dear John,\n\nPlease review the attached proposal.\n\nBest regards",
		"edited":   "Hey John, can you look at the proposal? Thanks!",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	learned := decode[email.Profile](t, rec)
	assert.Equal(t, "owner-1", learned.Owner)
	assert.Equal(t, "9", learned.Preferences[email.PrefPreferredLength])
	assert.Equal(t, "casual", learned.Preferences[email.PrefToneLean])

	rec = do(t, server, http.MethodGet, "/api/v1/owners/owner-1/profile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "casual", decode[email.Profile](t, rec).Preferences[email.PrefToneLean])

	rec = do(t, server, http.MethodPost, "/api/v1/owners/owner-1/history/learn", map[string]any{"original": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decode[ErrorResponse](t, rec).Kind)
}

type fakeService struct {
	err error
}

func (f *fakeService) Generate(context.Context, assistant.GenerateRequest) (*assistant.Response, error) {
	return nil, f.err
}

func (f *fakeService) Regenerate(context.Context, assistant.RegenerateRequest) (*assistant.Response, error) {
	return nil, f.err
}

func (f *fakeService) History(context.Context, string, int) ([]persistence.DraftRecord, error) {
	return nil, f.err
}

func (f *fakeService) Profile(context.Context, string) (email.Profile, error) {
	return email.Profile{}, f.err
}

func (f *fakeService) SaveProfile(context.Context, email.Profile) error { return f.err }

func (f *fakeService) LearnFromEdits(context.Context, string, assistant.LearnRequest) (email.Profile, error) {
	return email.Profile{}, f.err
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"validation", workflow.ValidationError("bad"), http.StatusBadRequest, "validation"},
		{"empty draft", workflow.EmptyDraftError("empty"), http.StatusBadRequest, "empty_draft"},
		{"fatal", workflow.FatalError("draft", "provider down", errors.New("boom")), http.StatusBadGateway, "stage_fatal"},
		{"storage", workflow.StorageError("db", persistence.ErrStorageUnavailable), http.StatusServiceUnavailable, "storage_unavailable"},
		{"unclassified", errors.New("surprise"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, err := NewServer(&fakeService{err: tt.err}, nil, logging.NewTestLogger().Logger, nil)
			require.NoError(t, err)

			rec := do(t, server, http.MethodPost, "/api/v1/generate", map[string]any{"prompt": "x", "owner_id": "o"})
			assert.Equal(t, tt.status, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.kind, resp.Kind)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	server := setupTestServer(t)
	rec := do(t, server, http.MethodGet, "/api/v1/nothing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, rec).Kind)
}
