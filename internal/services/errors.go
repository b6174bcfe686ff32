package services

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrTimeout           = errors.New("timeout")
	ErrAuthRequired      = errors.New("authentication required")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrResourceBusy      = errors.New("resource busy")
	ErrUnknownCommand    = errors.New("unknown command")
	ErrTypeError         = errors.New("wrong tool or hardware attached")
	ErrQueueFatal        = errors.New("command queue fatal")
	ErrNoDeviceSelected  = errors.New("no device selected")
	ErrMalformedResponse = errors.New("malformed response")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrProtocol          = errors.New("protocol error")
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
)

// Stable labels surfaced to callers for rendering.
const (
	LabelTimeout           = "TIMEOUT"
	LabelAuthRequired      = "AUTH_REQUIRED"
	LabelAuthFailed        = "AUTH_FAILED"
	LabelResourceBusy      = "RESOURCE_BUSY"
	LabelUnknownCommand    = "UNKNOWN_COMMAND"
	LabelTypeError         = "TYPE_ERROR"
	LabelQueueFatal        = "QUEUE_FATAL"
	LabelNoDeviceSelected  = "NO_DEVICE_SELECTED"
	LabelMalformedResponse = "MALFORMED_RESPONSE"
	LabelConnectionClosed  = "CONNECTION_CLOSED"
	LabelProtocol          = "PROTOCOL_ERROR"
	LabelValidation        = "VALIDATION_ERROR"
	LabelNotFound          = "NOT_FOUND"
)

var markerLabels = []struct {
	marker error
	label  string
}{
	{ErrTimeout, LabelTimeout},
	{ErrAuthRequired, LabelAuthRequired},
	{ErrAuthFailed, LabelAuthFailed},
	{ErrResourceBusy, LabelResourceBusy},
	{ErrUnknownCommand, LabelUnknownCommand},
	{ErrTypeError, LabelTypeError},
	{ErrQueueFatal, LabelQueueFatal},
	{ErrNoDeviceSelected, LabelNoDeviceSelected},
	{ErrMalformedResponse, LabelMalformedResponse},
	{ErrConnectionClosed, LabelConnectionClosed},
	{ErrValidation, LabelValidation},
	{ErrNotFound, LabelNotFound},
	{ErrProtocol, LabelProtocol},
}

// Error is a classified failure. Marker is one of the sentinels above; Label is
// the device-reported label when present, otherwise the marker's stable label.
type Error struct {
	Marker error
	Label  string
	Op     string
	Field  string
	Detail string
	Info   map[string]any
}

func (e *Error) Error() string {
	parts := make([]string, 0, 4)
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	parts = append(parts, e.Label)
	if e.Field != "" {
		parts = append(parts, "field "+e.Field)
	}
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error { return e.Marker }

// Wrap builds an error that includes operation context while tagging it with
// the provided marker for later classification.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrProtocol
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Label returns the stable machine-readable label for err. Device-reported
// labels carried by *Error take precedence over the marker label.
func Label(err error) string {
	if err == nil {
		return ""
	}
	var classified *Error
	if errors.As(err, &classified) && classified.Label != "" {
		return classified.Label
	}
	for _, entry := range markerLabels {
		if errors.Is(err, entry.marker) {
			return entry.label
		}
	}
	return LabelProtocol
}

// Field returns the offending field recorded on a classified error, if any.
func Field(err error) string {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Field
	}
	return ""
}

var trailingLabel = regexp.MustCompile(`^.*:\s+(\w+)$`)

// NormalizeLabel reduces bridge error strings such as
// "Connection failed: AUTH_ERROR" to their trailing label.
func NormalizeLabel(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if m := trailingLabel.FindStringSubmatch(trimmed); m != nil {
		trimmed = m[1]
	}
	return strings.ToUpper(trimmed)
}

// ClassifyLabel maps a raw device or bridge label to its normalized form and
// taxonomy marker.
func ClassifyLabel(raw string) (string, error) {
	label := NormalizeLabel(raw)
	switch label {
	case "TIMEOUT", "TIMEDOUT", "TIMED_OUT":
		return label, ErrTimeout
	case "AUTH_ERROR", "AUTH_REQUIRED", "NOT_AUTHORIZED", "UNAUTHORIZED":
		return label, ErrAuthRequired
	case "AUTH_FAILED", "BAD_PASSWORD", "PASSWORD_ERROR":
		return label, ErrAuthFailed
	case "RESOURCE_BUSY", "BUSY", "DEVICE_BUSY":
		return label, ErrResourceBusy
	case "UNKNOWN_COMMAND", "NOT_SUPPORT", "NOT_SUPPORTED":
		return label, ErrUnknownCommand
	case "TYPE_ERROR", "HEAD_ERROR", "HEAD_TYPE_ERROR":
		return label, ErrTypeError
	case "":
		return LabelProtocol, ErrProtocol
	default:
		return label, ErrProtocol
	}
}

// FromPayload classifies an error response. It reads the "error" member as a
// string or list of strings and an optional "field" member.
func FromPayload(op string, payload map[string]any) *Error {
	raw := firstString(payload["error"])
	label, marker := ClassifyLabel(raw)
	e := &Error{Marker: marker, Label: label, Op: op, Info: payload}
	if field := firstString(payload["field"]); field != "" {
		e.Field = field
	}
	if detail := firstString(payload["message"]); detail != "" {
		e.Detail = detail
	}
	return e
}

// NewError builds a classified error from a marker alone.
func NewError(marker error, op, detail string) *Error {
	e := &Error{Marker: marker, Op: op, Detail: detail}
	e.Label = Label(marker)
	return e
}

func firstString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return ""
		}
		return parts[0]
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{component, operation, message} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

// MarkerFor returns the sentinel behind a stable label, or nil when the label
// is not part of the taxonomy.
func MarkerFor(label string) error {
	for _, entry := range markerLabels {
		if entry.label == label {
			return entry.marker
		}
	}
	return nil
}
