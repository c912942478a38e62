package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		action RecoveryAction
	}{
		{"nil", nil, NoRetry},
		{"cancelled", context.Canceled, NoRetry},
		{"deadline", context.DeadlineExceeded, NoRetry},
		{"eof", io.EOF, RetryNewSession},
		{"connection refused", errors.New("dial tcp: connection refused"), RetryNewSession},
		{"broken pipe", fmt.Errorf("write: %w", errors.New("broken pipe")), RetryNewSession},
		{"unknown", errors.New("weird failure"), NoRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.action, ClassifyError(tt.err))
		})
	}
}

func TestIsAuthError(t *testing.T) {
	assert.True(t, IsAuthError(errors.New("server returned 401")))
	assert.True(t, IsAuthError(errors.New("token expired, please login again")))
	assert.True(t, IsAuthError(errors.New("Unauthorized")))
	assert.False(t, IsAuthError(errors.New("connection refused")))
	assert.False(t, IsAuthError(nil))
}
