package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/agentdock/agentdock-core/pkg/storage"
)

func (s *Store) upsertQuery(table string) string {
	if s.dialect == "mysql" {
		return fmt.Sprintf(`INSERT INTO %s (namespace, k, value, expires_at) VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE value = VALUES(value), expires_at = VALUES(expires_at)`, table)
	}
	return fmt.Sprintf(`INSERT INTO %s (namespace, k, value, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace, k) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`, table)
}

// Get returns the value for key, or nil when absent or expired.
func (s *Store) Get(ctx context.Context, key string, opts *storage.Options) (any, error) {
	query := s.rebind(`SELECT value FROM kv_entries
		WHERE namespace = ? AND k = ? AND (expires_at IS NULL OR expires_at > ?)`)

	var raw string
	err := s.db.QueryRowContext(ctx, query, s.ns(opts), key, s.nowMillis()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %q: %w", key, err)
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		slog.Warn("Skipping undecodable stored value", "key", key, "error", err)
		return nil, nil
	}
	return value, nil
}

// Set writes a value.
func (s *Store) Set(ctx context.Context, key string, value any, opts *storage.Options) error {
	data, err := json.Marshal(value)
	if err != nil {
		return storage.DecodeError(key, err)
	}

	query := s.rebind(s.upsertQuery("kv_entries"))
	if _, err := s.db.ExecContext(ctx, query, s.ns(opts), key, string(data), s.expiresAt(opts)); err != nil {
		return fmt.Errorf("failed to set key %q: %w", key, err)
	}
	return nil
}

// Delete removes a key, reporting whether a live value existed.
func (s *Store) Delete(ctx context.Context, key string, opts *storage.Options) (bool, error) {
	query := s.rebind(`DELETE FROM kv_entries
		WHERE namespace = ? AND k = ? AND (expires_at IS NULL OR expires_at > ?)`)

	res, err := s.db.ExecContext(ctx, query, s.ns(opts), key, s.nowMillis())
	if err != nil {
		return false, fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Exists reports whether a live value is present.
func (s *Store) Exists(ctx context.Context, key string, opts *storage.Options) (bool, error) {
	query := s.rebind(`SELECT 1 FROM kv_entries
		WHERE namespace = ? AND k = ? AND (expires_at IS NULL OR expires_at > ?)`)

	var one int
	err := s.db.QueryRowContext(ctx, query, s.ns(opts), key, s.nowMillis()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check key %q: %w", key, err)
	}
	return true, nil
}

// GetMany returns the present subset of keys.
func (s *Store) GetMany(ctx context.Context, keys []string, opts *storage.Options) (map[string]any, error) {
	out := make(map[string]any, len(keys))
	for _, key := range keys {
		value, err := s.Get(ctx, key, opts)
		if err != nil {
			return nil, err
		}
		if value != nil {
			out[key] = value
		}
	}
	return out, nil
}

// SetMany writes a batch in one transaction.
func (s *Store) SetMany(ctx context.Context, items map[string]any, opts *storage.Options) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := s.rebind(s.upsertQuery("kv_entries"))
	ns := s.ns(opts)
	exp := s.expiresAt(opts)

	for key, value := range items {
		data, err := json.Marshal(value)
		if err != nil {
			return storage.DecodeError(key, err)
		}
		if _, err := tx.ExecContext(ctx, query, ns, key, string(data), exp); err != nil {
			return fmt.Errorf("failed to set key %q: %w", key, err)
		}
	}
	return tx.Commit()
}

// DeleteMany removes a batch in one transaction, returning how many
// live keys existed.
func (s *Store) DeleteMany(ctx context.Context, keys []string, opts *storage.Options) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := s.rebind(`DELETE FROM kv_entries
		WHERE namespace = ? AND k = ? AND (expires_at IS NULL OR expires_at > ?)`)
	ns := s.ns(opts)
	now := s.nowMillis()

	count := 0
	for _, key := range keys {
		res, err := tx.ExecContext(ctx, query, ns, key, now)
		if err != nil {
			return 0, fmt.Errorf("failed to delete key %q: %w", key, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			count += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// List returns all live keys with the given prefix.
func (s *Store) List(ctx context.Context, prefix string, opts *storage.Options) ([]string, error) {
	query := s.rebind(`SELECT k FROM kv_entries
		WHERE namespace = ? AND k LIKE ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY k`)

	rows, err := s.db.QueryContext(ctx, query, s.ns(opts), prefix+"%", s.nowMillis())
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// GetList returns the [start, end] slice of a stored list, or nil when
// absent.
func (s *Store) GetList(ctx context.Context, key string, start, end int, opts *storage.Options) ([]any, error) {
	query := s.rebind(`SELECT value FROM kv_lists
		WHERE namespace = ? AND k = ? AND (expires_at IS NULL OR expires_at > ?)`)

	var raw string
	err := s.db.QueryRowContext(ctx, query, s.ns(opts), key, s.nowMillis()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get list %q: %w", key, err)
	}

	var values []any
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		slog.Warn("Skipping undecodable stored list", "key", key, "error", err)
		return nil, nil
	}

	n := len(values)
	if start < 0 {
		start = 0
	}
	if end < 0 || end >= n {
		end = n - 1
	}
	if start > end || start >= n {
		return []any{}, nil
	}
	return values[start : end+1], nil
}

// SaveList replaces a stored list wholesale.
func (s *Store) SaveList(ctx context.Context, key string, values []any, opts *storage.Options) error {
	if values == nil {
		values = []any{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return storage.DecodeError(key, err)
	}

	query := s.rebind(s.upsertQuery("kv_lists"))
	if _, err := s.db.ExecContext(ctx, query, s.ns(opts), key, string(data), s.expiresAt(opts)); err != nil {
		return fmt.Errorf("failed to save list %q: %w", key, err)
	}
	return nil
}

// DeleteList removes a list, reporting whether it existed.
func (s *Store) DeleteList(ctx context.Context, key string, opts *storage.Options) (bool, error) {
	query := s.rebind(`DELETE FROM kv_lists
		WHERE namespace = ? AND k = ? AND (expires_at IS NULL OR expires_at > ?)`)

	res, err := s.db.ExecContext(ctx, query, s.ns(opts), key, s.nowMillis())
	if err != nil {
		return false, fmt.Errorf("failed to delete list %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Clear removes every key and list in the default namespace, or only
// those whose key starts with prefix.
func (s *Store) Clear(ctx context.Context, prefix string) error {
	query := s.rebind(`DELETE FROM kv_entries WHERE namespace = ? AND k LIKE ?`)
	if _, err := s.db.ExecContext(ctx, query, s.namespace, prefix+"%"); err != nil {
		return fmt.Errorf("failed to clear entries: %w", err)
	}

	query = s.rebind(`DELETE FROM kv_lists WHERE namespace = ? AND k LIKE ?`)
	if _, err := s.db.ExecContext(ctx, query, s.namespace, prefix+"%"); err != nil {
		return fmt.Errorf("failed to clear lists: %w", err)
	}
	return nil
}
