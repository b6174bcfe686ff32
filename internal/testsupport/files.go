package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// Payload returns size bytes of a repeating, position-dependent pattern so
// reassembled uploads can be compared byte for byte.
func Payload(size int) []byte {
	if size <= 0 {
		return nil
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	return buf
}

// WriteModel writes a patterned payload of the requested size to path and
// returns the bytes written.
func WriteModel(t testing.TB, path string, size int) []byte {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	data := Payload(size)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return data
}
