// Package llm provides abstractions for generation provider integration.
//
// Example usage:
//
//	provider, err := openai.NewProvider(os.Getenv("OPENAI_API_KEY"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	resp, err := provider.Generate(ctx, &llm.Request{
//	    Model:    "gpt-4o-mini",
//	    Messages: []*types.Message{types.NewUserMessage("Hello!")},
//	    Params:   types.DefaultGenerationParams(),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(resp.Content)
package llm

import (
	"context"

	"github.com/entrhq/parley/pkg/types"
)

// Request is a single chat completion request.
type Request struct {
	// Model is the provider model name the request is addressed to.
	Model string

	// Messages is the full window, system message first.
	Messages []*types.Message

	// Params are the sampling parameters for this call.
	Params types.GenerationParams
}

// Usage reports the token accounting returned by the provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the text produced for a Request.
type Response struct {
	Content string
	Model   string
	Usage   Usage
}

// Provider defines the interface for generation integrations.
//
// Providers handle API communication only. Retries, history and stage logic
// live above them, so a Provider makes exactly one attempt per call and
// reports failures classified as *TransientError or *FatalError.
type Provider interface {
	// Generate sends the request and returns the complete reply.
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// ProviderFunc adapts an ordinary function to the Provider interface.
type ProviderFunc func(ctx context.Context, req *Request) (*Response, error)

// Generate calls f(ctx, req).
func (f ProviderFunc) Generate(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
