package logger

import (
	"context"
)

// ContextKey is used for context values
type ContextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey ContextKey = "request_id"
	// OperationIDKey is the context key for the operation a checkout serves
	OperationIDKey ContextKey = "operation_id"
)

// WithContextValue adds a value to the context for logging
func WithContextValue(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}

// ExtractContextValues extracts logging-relevant values from context
func ExtractContextValues(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}

	var args []any

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		args = append(args, string(RequestIDKey), requestID)
	}

	if opID, ok := ctx.Value(OperationIDKey).(string); ok {
		args = append(args, string(OperationIDKey), opID)
	}

	return args
}
