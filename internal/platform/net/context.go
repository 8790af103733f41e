// Package net provides utilities for working with request contexts
package net

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// ctxKey is an unexported key type for context values
type ctxKey string

const keyCreatorID ctxKey = "creator_id"

// WithRequest annotates context with common request scoped ids
func WithRequest(ctx context.Context, reqID, creatorID string) context.Context {
	if reqID != "" {
		// set chi RequestID so chimw.GetReqID can retrieve it
		ctx = context.WithValue(ctx, chimw.RequestIDKey, reqID)
	}
	if creatorID != "" {
		ctx = context.WithValue(ctx, keyCreatorID, creatorID)
	}
	return ctx
}

// RequestID returns the request id on the context if present
func RequestID(ctx context.Context) string {
	return chimw.GetReqID(ctx)
}

// CreatorID returns the creator id on the context if present
func CreatorID(ctx context.Context) string {
	if v, ok := ctx.Value(keyCreatorID).(string); ok {
		return v
	}
	return ""
}
