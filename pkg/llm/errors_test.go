package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		err       error
		name      string
		fatal     bool
		transient bool
		quota     bool
	}{
		{name: "transient", err: &TransientError{Err: cause, StatusCode: 503}, transient: true},
		{name: "wrapped transient", err: fmt.Errorf("call: %w", &TransientError{Err: cause}), transient: true},
		{name: "fatal", err: &FatalError{Err: cause, StatusCode: 401}, fatal: true},
		{name: "quota", err: &FatalError{Err: cause, StatusCode: 429, Code: CodeInsufficientQuota}, fatal: true, quota: true},
		{name: "wrapped quota", err: fmt.Errorf("turn: %w", &FatalError{Err: cause, Code: CodeInsufficientQuota}), fatal: true, quota: true},
		{name: "plain", err: cause},
		{name: "nil", err: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
			assert.Equal(t, tt.transient, IsTransient(tt.err))
			assert.Equal(t, tt.quota, IsQuotaExhausted(tt.err))
		})
	}
}

func TestErrorsUnwrapToCause(t *testing.T) {
	cause := errors.New("connection reset")
	assert.ErrorIs(t, &TransientError{Err: cause}, cause)
	assert.ErrorIs(t, &FatalError{Err: cause}, cause)
	assert.Contains(t, (&FatalError{Err: cause, StatusCode: 429, Code: "insufficient_quota"}).Error(), "insufficient_quota")
	assert.Contains(t, (&TransientError{Err: cause, StatusCode: 502}).Error(), "502")
}

func TestProviderFunc(t *testing.T) {
	var p Provider = ProviderFunc(func(_ context.Context, req *Request) (*Response, error) {
		return &Response{Content: req.Model}, nil
	})
	resp, err := p.Generate(context.Background(), &Request{Model: "echo"})
	require.NoError(t, err)
	assert.Equal(t, "echo", resp.Content)
}
