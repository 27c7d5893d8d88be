package kgstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/dan-solli/kgstore/pkg/search"
	"github.com/dan-solli/kgstore/pkg/store"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"context deadline", context.DeadlineExceeded, ErrTypeTimeout},
		{"wrapped deadline", fmt.Errorf("load graph: %w", context.DeadlineExceeded), ErrTypeTimeout},
		{"string timeout", errors.New("i/o timeout"), ErrTypeTimeout},
		{"invalid config", fmt.Errorf("open: %w", store.ErrInvalidConfig), ErrTypeConfig},
		{"type mismatch", store.ErrTypeMismatch, ErrTypeConfig},
		{"not initialized", store.ErrNotInitialized, ErrTypeConfig},
		{"database search unsupported", search.ErrDatabaseSearchUnsupported, ErrTypeConfig},
		{"invalid graph", fmt.Errorf("save: %w", store.ErrInvalidGraph), ErrTypeValidation},
		{"duplicate", store.ErrDuplicate, ErrTypeValidation},
		{"entity not found", fmt.Errorf("%w: %q", ErrEntityNotFound, "x"), ErrTypeValidation},
		{"net.OpError", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, ErrTypeNetwork},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connection refused"), ErrTypeNetwork},
		{"sql error", errors.New("sql: no rows in result set"), ErrTypeDatabase},
		{"pq error", errors.New("pq: relation \"entities\" does not exist"), ErrTypeDatabase},
		{"must be", errors.New("threshold must be positive"), ErrTypeValidation},
		{"unknown", errors.New("something odd"), ErrTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
