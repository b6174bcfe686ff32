package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"printlink/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrResourceBusy, "session", "upload", "device busy", base)
	if !errors.Is(err, services.ErrResourceBusy) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	for _, fragment := range []string{"session", "upload", "device busy"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("expected %q in error string %q", fragment, err.Error())
		}
	}
	if services.Label(err) != services.LabelResourceBusy {
		t.Fatalf("unexpected label %q", services.Label(err))
	}
}

func TestNormalizeLabelTakesTrailingWord(t *testing.T) {
	cases := map[string]string{
		"Connection failed: AUTH_ERROR": "AUTH_ERROR",
		"TIMEOUT":                       "TIMEOUT",
		"  busy ":                       "BUSY",
		"reason: with spaces left":      "REASON: WITH SPACES LEFT",
	}
	for raw, want := range cases {
		if got := services.NormalizeLabel(raw); got != want {
			t.Fatalf("NormalizeLabel(%q) = %q want %q", raw, got, want)
		}
	}
}

func TestClassifyLabelMapsTaxonomy(t *testing.T) {
	cases := []struct {
		raw    string
		marker error
	}{
		{"control: TIMEOUT", services.ErrTimeout},
		{"AUTH_ERROR", services.ErrAuthRequired},
		{"AUTH_FAILED", services.ErrAuthFailed},
		{"RESOURCE_BUSY", services.ErrResourceBusy},
		{"UNKNOWN_COMMAND", services.ErrUnknownCommand},
		{"HEAD_ERROR", services.ErrTypeError},
		{"FILE_NOT_FOUND", services.ErrProtocol},
	}
	for _, tc := range cases {
		_, marker := services.ClassifyLabel(tc.raw)
		if marker != tc.marker {
			t.Fatalf("ClassifyLabel(%q) = %v want %v", tc.raw, marker, tc.marker)
		}
	}
}

func TestFromPayloadKeepsLabelAndField(t *testing.T) {
	err := services.FromPayload("set", map[string]any{
		"status": "error",
		"error":  []any{"BAD_PARAMS"},
		"field":  "position_x",
	})
	wrapped := fmt.Errorf("slice: %w", err)
	if !errors.Is(wrapped, services.ErrProtocol) {
		t.Fatalf("expected protocol marker, got %v", wrapped)
	}
	if services.Label(wrapped) != "BAD_PARAMS" {
		t.Fatalf("expected device label to win, got %q", services.Label(wrapped))
	}
	if services.Field(wrapped) != "position_x" {
		t.Fatalf("expected offending field, got %q", services.Field(wrapped))
	}
}

func TestLabelFallsBackForUnclassifiedErrors(t *testing.T) {
	if got := services.Label(errors.New("plain")); got != services.LabelProtocol {
		t.Fatalf("expected protocol label, got %q", got)
	}
	if got := services.Label(nil); got != "" {
		t.Fatalf("expected empty label for nil, got %q", got)
	}
	if got := services.Label(services.NewError(services.ErrNoDeviceSelected, "report", "")); got != services.LabelNoDeviceSelected {
		t.Fatalf("unexpected label %q", got)
	}
}

func TestMarkerForRoundTripsLabels(t *testing.T) {
	err := services.Wrap(services.ErrResourceBusy, "session", "upload", "device is PAUSED", nil)
	if marker := services.MarkerFor(services.Label(err)); marker != services.ErrResourceBusy {
		t.Fatalf("expected resource busy marker, got %v", marker)
	}
	if marker := services.MarkerFor("HEAD_ERROR"); marker != nil {
		t.Fatalf("device labels have no marker, got %v", marker)
	}
}
