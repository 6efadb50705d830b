package generation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestError_ClassifiesAndUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := &Error{Kind: ErrQuotaExceeded, Provider: "openai", Status: 429, Err: cause}

	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.ErrorIs(t, err, cause)
	assert.True(t, err.Retryable())
	assert.Contains(t, err.Error(), "status 429")
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, ErrQuotaExceeded, classifyStatus(429))
	assert.Equal(t, ErrTimeout, classifyStatus(504))
	assert.Equal(t, ErrTimeout, classifyStatus(408))
	assert.Equal(t, ErrProvider, classifyStatus(500))
}

func TestGuard_TimeoutIsRetryable(t *testing.T) {
	slow := ProviderFunc(func(ctx context.Context, _ Prompt) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	g := NewGuard(slow, GuardConfig{Name: "slow", Timeout: 20 * time.Millisecond}, nil)

	_, err := g.Complete(context.Background(), Prompt{Task: TaskDraft})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)

	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.True(t, gerr.Retryable())
}

func TestGuard_ParentCancellationIsNotTimeout(t *testing.T) {
	blocked := ProviderFunc(func(ctx context.Context, _ Prompt) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	g := NewGuard(blocked, GuardConfig{Timeout: time.Second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Complete(ctx, Prompt{Task: TaskDraft})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestGuard_WrapsUnclassifiedErrors(t *testing.T) {
	failing := ProviderFunc(func(context.Context, Prompt) (string, error) {
		return "", errors.New("socket closed")
	})
	g := NewGuard(failing, GuardConfig{Name: "x"}, nil)

	_, err := g.Complete(context.Background(), Prompt{Task: TaskTone})
	assert.ErrorIs(t, err, ErrProvider)
}

func TestGuard_CountsCalls(t *testing.T) {
	g := NewGuard(NewStub(), GuardConfig{}, nil)
	ctx, counter := WithCallCounter(context.Background())

	for i := 0; i < 3; i++ {
		_, err := g.Complete(ctx, Prompt{Task: TaskRefine, Vars: map[string]string{VarDraft: "x"}})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, counter.Count())

	var nilCounter *CallCounter
	assert.Equal(t, 0, nilCounter.Count())
}

func TestGuard_RateLimitExceededIsQuota(t *testing.T) {
	g := NewGuard(NewStub(), GuardConfig{RequestsPerMinute: 1}, nil)
	p := Prompt{Task: TaskRefine, Vars: map[string]string{VarDraft: "x"}}

	_, err := g.Complete(context.Background(), p)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = g.Complete(ctx, p)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestStub_Parse(t *testing.T) {
	out, err := NewStub().Complete(context.Background(), Prompt{
		Task: TaskParse,
		Vars: map[string]string{VarRequest: "Follow up with John about the proposal"},
	})
	require.NoError(t, err)

	assert.Equal(t, "John", gjson.Get(out, "recipient_name").String())
	assert.Equal(t, "the proposal", gjson.Get(out, "email_purpose").String())
	assert.Equal(t, "the proposal", gjson.Get(out, "key_points.0").String())
}

func TestStub_DraftToneAndSignature(t *testing.T) {
	ctx := context.Background()
	s := NewStub()

	draft, err := s.Complete(ctx, Prompt{Task: TaskDraft, Vars: map[string]string{
		VarRecipient: "John",
		VarPurpose:   "the proposal",
		VarKeyPoints: "pricing\ntimeline",
		VarIntent:    "follow_up",
		VarTone:      "formal",
	}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(draft, "Dear John,"))
	assert.GreaterOrEqual(t, len(strings.Fields(draft)), 30)
	assert.True(t, strings.HasSuffix(draft, "Best regards"))

	casual, err := s.Complete(ctx, Prompt{Task: TaskTone, Vars: map[string]string{VarDraft: draft, VarTone: "casual"}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(casual, "Hi John,"))
	assert.True(t, strings.HasSuffix(casual, "Cheers"))

	signed, err := s.Complete(ctx, Prompt{Task: TaskPersonalize, Vars: map[string]string{
		VarDraft:     casual,
		VarSignature: "\n\nBest regards,\nAda",
		VarName:      "Ada",
	}})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(signed, "Cheers,\nAda"))
}

func TestStub_UnknownTask(t *testing.T) {
	_, err := NewStub().Complete(context.Background(), Prompt{Task: "poem"})
	assert.ErrorIs(t, err, ErrProvider)
}

func TestOpenAI_RequiresKeyOrBaseURL(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{Model: "gpt-4o-mini"})
	assert.Error(t, err)
}

func TestOpenAI_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"  hello  "}}]}`))
	}))
	defer srv.Close()

	p, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "m"})
	require.NoError(t, err)

	out, err := p.Complete(context.Background(), Prompt{Task: TaskDraft, System: "s", User: "u"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestOpenAI_QuotaStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	p, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "m"})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), Prompt{User: "u"})
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}
