package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"printlink/internal/config"
	"printlink/internal/protocol"
	"printlink/internal/services"
)

// timeLayout is fixed width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one catalogued device.
type Entry struct {
	protocol.Descriptor
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Store is the device catalog.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open creates or opens the catalog at cfg.CatalogPath().
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.CatalogPath())
}

// OpenPath opens a catalog database file directly.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Upsert records a discovery snapshot. Known devices keep their first_seen
// timestamp.
func (s *Store) Upsert(ctx context.Context, descriptors []protocol.Descriptor) error {
	if len(descriptors) == 0 {
		return nil
	}
	timestamp := s.now().UTC().Format(timeLayout)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO devices (
            id, name, serial, status, error_label, password_required, address, first_seen, last_seen
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            serial = excluded.serial,
            status = excluded.status,
            error_label = excluded.error_label,
            password_required = excluded.password_required,
            address = excluded.address,
            last_seen = excluded.last_seen`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, desc := range descriptors {
		if desc.ID == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			desc.ID,
			desc.Name,
			nullableString(desc.Serial),
			nullableString(desc.Status),
			nullableString(desc.ErrorLabel),
			boolToInt(desc.PasswordRequired),
			nullableString(desc.Address),
			timestamp,
			timestamp,
		); err != nil {
			return fmt.Errorf("upsert device %s: %w", desc.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

const selectColumns = `id, name, serial, status, error_label, password_required, address, first_seen, last_seen`

// List returns every device ordered by name.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM devices ORDER BY name COLLATE NOCASE, id`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Get returns the device with id, or nil when unknown.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM devices WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device %s: %w", id, err)
	}
	return &entry, nil
}

// Resolve finds a device by exact id or case-insensitive name. Names shared
// by several devices are rejected as ambiguous.
func (s *Store) Resolve(ctx context.Context, ref string) (*Entry, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, services.NewError(services.ErrValidation, "catalog", "device reference is required")
	}
	if entry, err := s.Get(ctx, ref); err != nil || entry != nil {
		return entry, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM devices WHERE name = ? COLLATE NOCASE ORDER BY id`, ref)
	if err != nil {
		return nil, fmt.Errorf("resolve device %q: %w", ref, err)
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	switch len(entries) {
	case 0:
		return nil, services.NewError(services.ErrNotFound, "catalog", fmt.Sprintf("no device named %q", ref))
	case 1:
		return &entries[0], nil
	default:
		ids := make([]string, 0, len(entries))
		for _, e := range entries {
			ids = append(ids, e.ID)
		}
		return nil, services.NewError(services.ErrValidation, "catalog",
			fmt.Sprintf("name %q matches %d devices (%s); use the id", ref, len(entries), strings.Join(ids, ", ")))
	}
}

// Prune removes devices not seen within maxAge and returns how many were
// deleted.
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := s.now().Add(-maxAge).UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE last_seen < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune devices: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		entry                          Entry
		serial, status, label, address sql.NullString
		password                       int
		firstSeen, lastSeen            string
	)
	if err := row.Scan(&entry.ID, &entry.Name, &serial, &status, &label, &password, &address, &firstSeen, &lastSeen); err != nil {
		return Entry{}, err
	}
	entry.Serial = serial.String
	entry.Status = status.String
	entry.ErrorLabel = label.String
	entry.Address = address.String
	entry.PasswordRequired = password != 0
	entry.FirstSeen = parseTime(firstSeen)
	entry.LastSeen = parseTime(lastSeen)
	return entry, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	return entries, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
