package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIConfig configures the OpenAI chat completions provider.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// OpenAI implements Provider with the official openai-go SDK. Any
// OpenAI-compatible endpoint can be targeted through BaseURL.
type OpenAI struct {
	client openai.Client
	cfg    OpenAIConfig
}

// NewOpenAI creates an OpenAI provider.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("openai api key missing; provide provider.api_key")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai model is required")
	}

	// Retries belong to the workflow engine, not the SDK.
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAI{client: openai.NewClient(opts...), cfg: cfg}, nil
}

// Complete implements Provider.
func (o *OpenAI) Complete(ctx context.Context, prompt Prompt) (string, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if prompt.System != "" {
		msgs = append(msgs, openai.SystemMessage(prompt.System))
	}
	msgs = append(msgs, openai.UserMessage(prompt.User))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.cfg.Model),
		Messages: msgs,
	}

	temperature := o.cfg.Temperature
	if prompt.Temperature > 0 {
		temperature = prompt.Temperature
	}
	if temperature > 0 {
		params.Temperature = openai.Float(temperature)
	}
	maxTokens := o.cfg.MaxTokens
	if prompt.MaxTokens > 0 {
		maxTokens = prompt.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", newError(ErrProvider, "openai", errors.New("empty choices"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &Error{
			Kind:     classifyStatus(apiErr.StatusCode),
			Provider: "openai",
			Status:   apiErr.StatusCode,
			Err:      err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrTimeout, "openai", err)
	}
	return newError(ErrProvider, "openai", fmt.Errorf("chat completion: %w", err))
}
