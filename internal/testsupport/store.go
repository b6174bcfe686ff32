package testsupport

import (
	"context"
	"testing"

	"printlink/internal/catalog"
	"printlink/internal/config"
	"printlink/internal/protocol"
)

// MustOpenCatalog opens a catalog.Store for tests and registers cleanup.
func MustOpenCatalog(t testing.TB, cfg *config.Config) *catalog.Store {
	t.Helper()

	store, err := catalog.Open(cfg)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SeedDevices records descriptors in store.
func SeedDevices(t testing.TB, store *catalog.Store, descriptors ...protocol.Descriptor) {
	t.Helper()

	if err := store.Upsert(context.Background(), descriptors); err != nil {
		t.Fatalf("store.Upsert: %v", err)
	}
}
