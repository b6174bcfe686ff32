package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Recognized response status tags. Any other value is ignored by handlers.
const (
	StatusOK         = "ok"
	StatusContinue   = "continue"
	StatusError      = "error"
	StatusFatal      = "fatal"
	StatusConnecting = "connecting"
	StatusConnected  = "connected"
)

// Response is one decoded inbound message. Text frames populate Fields and
// Raw; binary frames populate Binary only.
type Response struct {
	Status    string
	Fields    map[string]any
	Raw       []byte
	Binary    []byte
	Sanitized bool
}

// IsBinary reports whether the response came from a binary frame.
func (r Response) IsBinary() bool { return r.Binary != nil && r.Fields == nil }

// String returns a string member or "".
func (r Response) String(key string) string {
	if v, ok := r.Fields[key].(string); ok {
		return v
	}
	return ""
}

// Float returns a numeric member.
func (r Response) Float(key string) (float64, bool) {
	return toFloat(r.Fields[key])
}

// Strings returns a member that may be encoded as a string or list of strings.
func (r Response) Strings(key string) []string {
	return toStrings(r.Fields[key])
}

// Decode parses a text frame. Bare NaN, Infinity, and undefined tokens are
// replaced with null before parsing. Frames that still fail to parse are
// returned with Raw set and no Fields so handlers can skip them.
func Decode(data []byte) Response {
	resp := Response{Raw: data}
	clean, changed := Sanitize(data)
	resp.Sanitized = changed

	var fields map[string]any
	decoder := json.NewDecoder(bytes.NewReader(clean))
	decoder.UseNumber()
	if err := decoder.Decode(&fields); err != nil {
		return resp
	}
	resp.Fields = fields
	if status, ok := fields["status"].(string); ok {
		resp.Status = status
	}
	return resp
}

// DecodeBinary wraps a binary frame.
func DecodeBinary(data []byte) Response {
	if data == nil {
		data = []byte{}
	}
	return Response{Binary: data}
}

var invalidTokens = [][]byte{
	[]byte("-Infinity"),
	[]byte("Infinity"),
	[]byte("-NaN"),
	[]byte("NaN"),
	[]byte("undefined"),
}

// Sanitize rewrites bare non-JSON numeric placeholders outside string literals
// to null. It reports whether anything was replaced.
func Sanitize(data []byte) ([]byte, bool) {
	var out []byte
	inString := false
	escaped := false
	changed := false
	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			if out != nil {
				out = append(out, c)
			}
			continue
		}
		if c == '"' {
			inString = true
			if out != nil {
				out = append(out, c)
			}
			continue
		}
		if token := matchInvalid(data[i:]); token > 0 && tokenBoundary(data, i, token) {
			if out == nil {
				out = append(make([]byte, 0, len(data)), data[:i]...)
			}
			out = append(out, "null"...)
			i += token - 1
			changed = true
			continue
		}
		if out != nil {
			out = append(out, c)
		}
	}
	if !changed {
		return data, false
	}
	return out, true
}

func matchInvalid(rest []byte) int {
	for _, token := range invalidTokens {
		if bytes.HasPrefix(rest, token) {
			return len(token)
		}
	}
	return 0
}

func tokenBoundary(data []byte, start, length int) bool {
	if start > 0 && isIdent(data[start-1]) {
		return false
	}
	end := start + length
	return end >= len(data) || !isIdent(data[end])
}

func isIdent(c byte) bool {
	return c == '_' || c == '.' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	case []any:
		for _, item := range v {
			if f, ok := toFloat(item); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func toStrings(value any) []string {
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
