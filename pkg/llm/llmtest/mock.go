// Package llmtest provides test doubles for llm.Provider.
package llmtest

import (
	"context"

	"github.com/entrhq/parley/pkg/llm"
	"github.com/stretchr/testify/mock"
)

// MockProvider is a testify mock of llm.Provider.
type MockProvider struct {
	mock.Mock
}

// Generate records the call and returns the configured response.
func (m *MockProvider) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.Response), args.Error(1)
}

// Reply is a shorthand for a successful response carrying content.
func Reply(content string) *llm.Response {
	return &llm.Response{Content: content}
}
