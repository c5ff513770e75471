package out

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"plughost/internal/modules/registry/domain"
	apperrors "plughost/internal/platform/errors"
	"plughost/internal/platform/tx"

	_ "modernc.org/sqlite"
)

type SQLiteRecordStore struct {
	db  *sql.DB
	txm *tx.SQLManager
}

func NewSQLiteRecordStore(dbPath string) (*SQLiteRecordStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers so transactions never hit
	// SQLITE_BUSY against each other.
	db.SetMaxOpenConns(1)
	s := &SQLiteRecordStore{db: db, txm: tx.NewSQLManager(db)}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteRecordStore) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS plugin_installs (
  id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  plugin_id TEXT NOT NULL,
  plugin_name TEXT NOT NULL,
  plugin_version TEXT NOT NULL,
  enabled INTEGER NOT NULL,
  granted_permissions TEXT NOT NULL,
  installed_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  PRIMARY KEY (user_id, plugin_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_plugin_installs_id ON plugin_installs(id);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create plugin_installs table: %w", err)
	}
	return nil
}

const selectRecord = `
SELECT id, user_id, plugin_id, plugin_name, plugin_version, enabled, granted_permissions, installed_at, updated_at
FROM plugin_installs
`

func (s *SQLiteRecordStore) List(ctx context.Context, userID string) ([]domain.Record, error) {
	rows, err := tx.From(ctx, s.db).QueryContext(ctx, selectRecord+`WHERE user_id = ? ORDER BY installed_at, plugin_id;`, userID)
	if err != nil {
		return nil, fmt.Errorf("list installs: %w", err)
	}
	defer rows.Close()
	out := []domain.Record{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate installs: %w", err)
	}
	return out, nil
}

func (s *SQLiteRecordStore) Find(ctx context.Context, userID, pluginID string) (domain.Record, error) {
	row := tx.From(ctx, s.db).QueryRowContext(ctx, selectRecord+`WHERE user_id = ? AND plugin_id = ?;`, userID, pluginID)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Record{}, fmt.Errorf("%w: plugin %s not installed", apperrors.ErrNotFound, pluginID)
	}
	return record, err
}

func (s *SQLiteRecordStore) Insert(ctx context.Context, record domain.Record) error {
	perms, err := encodePermissions(record.GrantedPermissions)
	if err != nil {
		return err
	}
	const stmt = `
INSERT INTO plugin_installs (id, user_id, plugin_id, plugin_name, plugin_version, enabled, granted_permissions, installed_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	_, err = tx.From(ctx, s.db).ExecContext(ctx, stmt,
		record.ID, record.UserID, record.PluginID, record.PluginName, record.PluginVersion,
		boolInt(record.Enabled), perms, formatTime(record.InstalledAt), formatTime(record.UpdatedAt))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return fmt.Errorf("%w: plugin %s already installed", apperrors.ErrAlreadyExists, record.PluginID)
		}
		return fmt.Errorf("insert install: %w", err)
	}
	return nil
}

func (s *SQLiteRecordStore) Update(ctx context.Context, record domain.Record) error {
	perms, err := encodePermissions(record.GrantedPermissions)
	if err != nil {
		return err
	}
	const stmt = `
UPDATE plugin_installs
SET plugin_name = ?, plugin_version = ?, enabled = ?, granted_permissions = ?, updated_at = ?
WHERE user_id = ? AND plugin_id = ?;
`
	res, err := tx.From(ctx, s.db).ExecContext(ctx, stmt,
		record.PluginName, record.PluginVersion, boolInt(record.Enabled), perms, formatTime(record.UpdatedAt),
		record.UserID, record.PluginID)
	if err != nil {
		return fmt.Errorf("update install: %w", err)
	}
	return requireAffected(res, record.PluginID)
}

func (s *SQLiteRecordStore) Delete(ctx context.Context, userID, pluginID string) error {
	res, err := tx.From(ctx, s.db).ExecContext(ctx, `DELETE FROM plugin_installs WHERE user_id = ? AND plugin_id = ?;`, userID, pluginID)
	if err != nil {
		return fmt.Errorf("delete install: %w", err)
	}
	return requireAffected(res, pluginID)
}

// Within runs fn in one sqlite transaction; store calls made with the ctx it
// receives join that transaction.
func (s *SQLiteRecordStore) Within(ctx context.Context, fn func(context.Context) error) error {
	return s.txm.Within(ctx, fn)
}

func (s *SQLiteRecordStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.Record, error) {
	var (
		record               domain.Record
		enabled              int
		perms                string
		installedAt, updated string
	)
	if err := row.Scan(&record.ID, &record.UserID, &record.PluginID, &record.PluginName, &record.PluginVersion,
		&enabled, &perms, &installedAt, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Record{}, err
		}
		return domain.Record{}, fmt.Errorf("scan install: %w", err)
	}
	record.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(perms), &record.GrantedPermissions); err != nil {
		return domain.Record{}, fmt.Errorf("decode granted permissions: %w", err)
	}
	var err error
	if record.InstalledAt, err = time.Parse(time.RFC3339Nano, installedAt); err != nil {
		return domain.Record{}, fmt.Errorf("parse installed_at: %w", err)
	}
	if record.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return domain.Record{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return record, nil
}

func requireAffected(res sql.Result, pluginID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: plugin %s not installed", apperrors.ErrNotFound, pluginID)
	}
	return nil
}

func encodePermissions(perms []string) (string, error) {
	if perms == nil {
		perms = []string{}
	}
	raw, err := json.Marshal(perms)
	if err != nil {
		return "", fmt.Errorf("encode granted permissions: %w", err)
	}
	return string(raw), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
