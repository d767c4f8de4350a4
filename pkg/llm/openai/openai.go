// Package openai provides an OpenAI-compatible generation provider.
//
// Example usage:
//
//	provider, err := openai.NewProvider(
//	    os.Getenv("OPENAI_API_KEY"),
//	    openai.WithBaseURL("http://localhost:8080/v1"),
//	)
//	if err != nil {
//	    panic(err)
//	}
//
//	resp, err := provider.Generate(ctx, &llm.Request{
//	    Model:    "gpt-3.5-turbo-16k",
//	    Messages: []*types.Message{types.NewUserMessage("Hello!")},
//	    Params:   types.DefaultGenerationParams(),
//	})
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/entrhq/parley/pkg/llm"
	"github.com/entrhq/parley/pkg/logging"
	"github.com/entrhq/parley/pkg/types"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is used when a request does not name a model.
	DefaultModel = "gpt-3.5-turbo-16k"
)

var debugLog *logging.Logger

func init() {
	debugLog, _ = logging.NewLogger("openai")
}

// Provider implements llm.Provider for OpenAI-compatible APIs.
type Provider struct {
	httpClient *http.Client
	client     openai.Client
	apiKey     string
	baseURL    string
	model      string
}

// ProviderOption is a function that configures a Provider.
type ProviderOption func(*Provider)

// WithModel sets the model used when a request leaves Model empty.
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		p.model = model
	}
}

// WithBaseURL sets a custom base URL for OpenAI-compatible APIs.
// This enables using Azure OpenAI, local models, or other compatible services.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// NewProvider creates a new OpenAI provider with the given API key.
//
// If apiKey is empty, it will attempt to read from the OPENAI_API_KEY environment variable.
// If baseURL is not provided via WithBaseURL option, it will check OPENAI_BASE_URL environment variable.
//
// The SDK's own retry loop is disabled: each Generate call is a single attempt,
// and retry policy belongs to the caller.
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (provide via parameter or OPENAI_API_KEY environment variable)")
	}

	p := &Provider{
		model:      DefaultModel,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		baseURL:    DefaultBaseURL,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.baseURL == DefaultBaseURL {
		if envBaseURL := os.Getenv("OPENAI_BASE_URL"); envBaseURL != "" {
			p.baseURL = envBaseURL
		}
	}

	p.client = openai.NewClient(
		option.WithAPIKey(p.apiKey),
		option.WithBaseURL(p.baseURL),
		option.WithHTTPClient(p.httpClient),
		option.WithMaxRetries(0),
	)

	return p, nil
}

// Generate sends one chat completion request and returns the reply text.
// Failures are returned as *llm.FatalError or *llm.TransientError.
func (p *Provider) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	params := openai.ChatCompletionNewParams{
		Model:            openai.ChatModel(model),
		Messages:         convertToOpenAIMessages(req.Messages),
		Temperature:      openai.Float(req.Params.Temperature),
		PresencePenalty:  openai.Float(req.Params.PresencePenalty),
		FrequencyPenalty: openai.Float(req.Params.FrequencyPenalty),
		TopP:             openai.Float(req.Params.TopP),
	}
	if req.Params.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.Params.MaxTokens))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	if len(completion.Choices) == 0 {
		return nil, &llm.TransientError{Err: errors.New("response contained no choices")}
	}

	resp := &llm.Response{
		Content: strings.TrimSpace(completion.Choices[0].Message.Content),
		Model:   completion.Model,
		Usage: llm.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	debugLog.Debugf("completion model=%s prompt_tokens=%d completion_tokens=%d total_tokens=%d",
		model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
	return resp, nil
}

// GetModel returns the default model name.
func (p *Provider) GetModel() string {
	return p.model
}

// GetBaseURL returns the base URL being used.
func (p *Provider) GetBaseURL() string {
	return p.baseURL
}

// GetAPIKey returns the API key being used.
func (p *Provider) GetAPIKey() string {
	return p.apiKey
}

// classify maps an SDK error onto the llm error classes.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		// Transport-level failure: no response was received.
		return &llm.TransientError{Err: err}
	}

	code := apiErr.Code
	if code == "" && (apiErr.Type == llm.CodeInsufficientQuota || strings.Contains(apiErr.RawJSON(), llm.CodeInsufficientQuota)) {
		code = llm.CodeInsufficientQuota
	}

	switch status := apiErr.StatusCode; {
	case status == http.StatusTooManyRequests && code == llm.CodeInsufficientQuota:
		return &llm.FatalError{Err: err, StatusCode: status, Code: code}
	case status == http.StatusRequestTimeout,
		status == http.StatusConflict,
		status == http.StatusTooManyRequests,
		status >= http.StatusInternalServerError:
		return &llm.TransientError{Err: err, StatusCode: status}
	default:
		return &llm.FatalError{Err: err, StatusCode: status, Code: code}
	}
}

// convertToOpenAIMessages converts our Message format to OpenAI's ChatCompletionMessageParamUnion format.
func convertToOpenAIMessages(messages []*types.Message) []openai.ChatCompletionMessageParamUnion {
	openaiMessages := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem, types.RoleSummary:
			openaiMessages = append(openaiMessages, openai.SystemMessage(msg.Content))
		case types.RoleAssistant:
			openaiMessages = append(openaiMessages, openai.AssistantMessage(msg.Content))
		default:
			openaiMessages = append(openaiMessages, openai.UserMessage(msg.Content))
		}
	}

	return openaiMessages
}
