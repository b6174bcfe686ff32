package services

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	deviceIDKey  contextKey = "device_id"
	requestIDKey contextKey = "request_id"
)

// WithDeviceID annotates context with the device identifier.
func WithDeviceID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, deviceIDKey, id)
}

// DeviceIDFromContext returns the device identifier if present.
func DeviceIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(deviceIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier. An empty id
// generates a fresh one.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// ValidDeviceID reports whether id is a well-formed device UUID.
func ValidDeviceID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
