// Package bedrock invokes the inference backend: agents (with their optional
// knowledge bases) through the Bedrock agent runtime, and foundation models
// directly through the Bedrock runtime.
//
// Backend failures never reach callers verbatim. Each failure is logged in
// full under a fresh correlation ID and surfaced as a *ServiceError carrying
// only that ID. Precondition failures surface as *ValidationError with a
// caller-safe reason.
package bedrock

import (
	"errors"
	"log/slog"

	"github.com/tessera-ops/bedrock-router/internal/logging"
	"github.com/tessera-ops/bedrock-router/internal/metrics"
)

// errNotInitialized is raised when an invoker is used before its client was
// wired up. It is redacted like any other backend failure so callers only
// ever see a correlation ID.
var errNotInitialized = errors.New("bedrock client not initialized")

// ValidationError reports an invalid invocation argument. Its message is
// safe to return to the caller.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// ServiceError reports a backend failure. It carries only the correlation
// ID; the underlying detail exists solely in the logs.
type ServiceError struct {
	ErrorID string
}

func (e *ServiceError) Error() string {
	return "Bedrock service error [" + e.ErrorID + "]"
}

// redact logs err in full under a fresh correlation ID and returns the
// redacted ServiceError for the caller.
func redact(logger *slog.Logger, call string, err error) *ServiceError {
	id := logging.NewErrorID()
	logger.Error("bedrock invocation error",
		"call", call,
		"error_id", id,
		"error", err.Error(),
	)
	metrics.InvokeErrors.WithLabelValues(call).Inc()
	return &ServiceError{ErrorID: id}
}
