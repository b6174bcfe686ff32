package catalog_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"printlink/internal/catalog"
	"printlink/internal/protocol"
	"printlink/internal/services"
	"printlink/internal/testsupport"
)

func TestOpenCreatesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	if store.Path() != filepath.Join(cfg.Paths.StateDir, "devices.db") {
		t.Fatalf("unexpected catalog path %s", store.Path())
	}
	entries, err := store.List(context.Background())
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected empty catalog, got %v %v", entries, err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	reopened, err := catalog.Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = reopened.Close()
}

func TestUpsertKeepsFirstSeen(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	testsupport.SeedDevices(t, store, protocol.Descriptor{ID: "d1", Name: "Delta", Serial: "S1", PasswordRequired: true})
	first, err := store.Get(ctx, "d1")
	if err != nil || first == nil {
		t.Fatalf("Get: %v %v", first, err)
	}
	time.Sleep(2 * time.Millisecond)
	testsupport.SeedDevices(t, store, protocol.Descriptor{ID: "d1", Name: "Delta Prime", ErrorLabel: "HEAD_OFFLINE"})

	updated, err := store.Get(ctx, "d1")
	if err != nil || updated == nil {
		t.Fatalf("Get: %v %v", updated, err)
	}
	if updated.Name != "Delta Prime" || updated.ErrorLabel != "HEAD_OFFLINE" || updated.Serial != "" || updated.PasswordRequired {
		t.Fatalf("unexpected update %+v", updated)
	}
	if !updated.FirstSeen.Equal(first.FirstSeen) {
		t.Fatalf("first_seen changed: %v -> %v", first.FirstSeen, updated.FirstSeen)
	}
	if !updated.LastSeen.After(first.LastSeen) {
		t.Fatalf("last_seen not advanced: %v -> %v", first.LastSeen, updated.LastSeen)
	}

	missing, err := store.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown id, got %v %v", missing, err)
	}
}

func TestListOrdersByName(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	testsupport.SeedDevices(t, store,
		protocol.Descriptor{ID: "3", Name: "charlie"},
		protocol.Descriptor{ID: "1", Name: "Alpha"},
		protocol.Descriptor{ID: "2", Name: "bravo"},
		protocol.Descriptor{Name: "ignored without id"},
	)
	entries, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 || entries[0].ID != "1" || entries[1].ID != "2" || entries[2].ID != "3" {
		t.Fatalf("unexpected order %+v", entries)
	}
}

func TestResolve(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()
	testsupport.SeedDevices(t, store,
		protocol.Descriptor{ID: "d1", Name: "Delta"},
		protocol.Descriptor{ID: "t1", Name: "Twin"},
		protocol.Descriptor{ID: "t2", Name: "twin"},
	)

	entry, err := store.Resolve(ctx, "d1")
	if err != nil || entry.Name != "Delta" {
		t.Fatalf("resolve by id: %+v %v", entry, err)
	}
	entry, err = store.Resolve(ctx, "delta")
	if err != nil || entry.ID != "d1" {
		t.Fatalf("resolve by name: %+v %v", entry, err)
	}
	if _, err := store.Resolve(ctx, "twin"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ambiguous name error, got %v", err)
	}
	if _, err := store.Resolve(ctx, "ghost"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.Resolve(ctx, " "); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPrune(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()
	testsupport.SeedDevices(t, store, protocol.Descriptor{ID: "d1", Name: "Delta"})

	removed, err := store.Prune(ctx, time.Hour)
	if err != nil || removed != 0 {
		t.Fatalf("expected nothing pruned, got %d %v", removed, err)
	}
	removed, err = store.Prune(ctx, -time.Hour)
	if err != nil || removed != 1 {
		t.Fatalf("expected one pruned, got %d %v", removed, err)
	}
}

func TestOpenRejectsNewerCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.db")
	store, err := catalog.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	_ = store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = db.Close()

	if _, err := catalog.OpenPath(path); !errors.Is(err, catalog.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
