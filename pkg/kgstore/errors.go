package kgstore

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/dan-solli/kgstore/pkg/search"
	"github.com/dan-solli/kgstore/pkg/store"
)

// Error type constants for classification
const (
	ErrTypeConfig     = "config"
	ErrTypeValidation = "validation"
	ErrTypeNetwork    = "network"
	ErrTypeTimeout    = "timeout"
	ErrTypeDatabase   = "database"
	ErrTypeUnknown    = "unknown"
)

// ErrEntityNotFound indicates an update addressed to an entity the project does not contain.
var ErrEntityNotFound = errors.New("entity not found")

// ClassifyError inspects an error and returns its type classification.
// The result is used as the error_type label in metrics and traces.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTypeTimeout
	case errors.Is(err, store.ErrInvalidConfig),
		errors.Is(err, store.ErrTypeMismatch),
		errors.Is(err, store.ErrNotInitialized),
		errors.Is(err, search.ErrDatabaseSearchUnsupported):
		return ErrTypeConfig
	case errors.Is(err, store.ErrInvalidGraph),
		errors.Is(err, store.ErrDuplicate),
		errors.Is(err, ErrEntityNotFound):
		return ErrTypeValidation
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return ErrTypeNetwork
	}

	errStrLower := strings.ToLower(err.Error())

	if strings.Contains(errStrLower, "timeout") || strings.Contains(errStrLower, "deadline exceeded") {
		return ErrTypeTimeout
	}

	if strings.Contains(errStrLower, "connection refused") ||
		strings.Contains(errStrLower, "connection reset") ||
		strings.Contains(errStrLower, "no such host") ||
		strings.Contains(errStrLower, "network is unreachable") ||
		strings.Contains(errStrLower, "dial tcp") {
		return ErrTypeNetwork
	}

	if strings.Contains(errStrLower, "sql") ||
		strings.Contains(errStrLower, "database") ||
		strings.Contains(errStrLower, "constraint") ||
		strings.Contains(errStrLower, "pq:") {
		return ErrTypeDatabase
	}

	if strings.Contains(errStrLower, "invalid") ||
		strings.Contains(errStrLower, "required") ||
		strings.Contains(errStrLower, "cannot be empty") ||
		strings.Contains(errStrLower, "must be") {
		return ErrTypeValidation
	}

	return ErrTypeUnknown
}
