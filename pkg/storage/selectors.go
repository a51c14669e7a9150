package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/entrhq/herald/pkg/automation/selectors"
)

// ListSelectors returns every persisted selector entry. It satisfies
// selectors.Store for registry warm-up.
func (s *Store) ListSelectors(ctx context.Context) ([]selectors.PersistedSelector, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT element_name, locator, failure_count, validation_status FROM selectors;
	`)
	if err != nil {
		return nil, persistErr("list selectors", err)
	}
	defer rows.Close()

	var out []selectors.PersistedSelector
	for rows.Next() {
		var p selectors.PersistedSelector
		if err := rows.Scan(&p.Name, &p.Locator, &p.FailureCount, &p.Status); err != nil {
			return nil, persistErr("scan selector", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("selector rows", err)
	}
	return out, nil
}

// SaveSelector upserts a selector override, resetting its failure count and
// validation status.
func (s *Store) SaveSelector(ctx context.Context, name, locator string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO selectors (element_name, locator)
		VALUES (?, ?)
		ON CONFLICT(element_name) DO UPDATE SET
			locator = excluded.locator,
			failure_count = 0,
			validation_status = 'unknown',
			updated_at = CURRENT_TIMESTAMP;
	`, name, locator); err != nil {
		return persistErr("save selector", err)
	}
	return nil
}

// RecordSelectorFailure increments the failure counter for an element and
// flips its status to invalid once the count reaches threshold. Returns the
// new count.
func (s *Store) RecordSelectorFailure(ctx context.Context, name string, threshold int) (int, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO selectors (element_name, locator, failure_count)
		VALUES (?, '', 1)
		ON CONFLICT(element_name) DO UPDATE SET
			failure_count = failure_count + 1,
			updated_at = CURRENT_TIMESTAMP;
	`, name); err != nil {
		return 0, persistErr("record selector failure", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT failure_count FROM selectors WHERE element_name = ?;`, name).Scan(&count); err != nil {
		return 0, persistErr("read selector failures", err)
	}

	if count >= threshold {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE selectors SET validation_status = 'invalid', updated_at = CURRENT_TIMESTAMP
			WHERE element_name = ?;
		`, name); err != nil {
			return count, persistErr("invalidate selector", err)
		}
	}
	return count, nil
}

// SeedSelectors inserts any missing default selectors and resets entries
// previously marked invalid back to the given defaults. Valid or unknown
// existing entries are left untouched.
func (s *Store) SeedSelectors(ctx context.Context, defaults map[string]string) (added, reset int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, persistErr("begin seed", err)
	}
	defer func() { _ = tx.Rollback() }()

	for name, locator := range defaults {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT validation_status FROM selectors WHERE element_name = ?;`, name).Scan(&status)
		switch {
		case err == nil && status == "invalid":
			if _, err := tx.ExecContext(ctx, `
				UPDATE selectors
				SET locator = ?, failure_count = 0, validation_status = 'unknown', updated_at = CURRENT_TIMESTAMP
				WHERE element_name = ?;
			`, locator, name); err != nil {
				return 0, 0, persistErr("reset selector", err)
			}
			reset++
		case err == nil:
			// healthy entry, leave it alone
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO selectors (element_name, locator) VALUES (?, ?);
			`, name, locator); err != nil {
				return 0, 0, persistErr("seed selector", err)
			}
			added++
		default:
			return 0, 0, persistErr("read selector status", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, persistErr("commit seed", err)
	}
	return added, reset, nil
}
