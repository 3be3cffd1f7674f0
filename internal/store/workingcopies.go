package store

import (
	"database/sql"

	"github.com/randalmurphal/orc-core/internal/errs"
	"github.com/randalmurphal/orc-core/internal/task"
)

// CreateWorkingCopy inserts a new pool slot record in status idle.
// Idempotent from the caller's perspective: Pool.Init checks for an
// existing slot by name before calling this (spec §4.B).
func (s *Store) CreateWorkingCopy(name, path, branch string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`INSERT INTO worktrees (name, path, branch, status) VALUES (?, ?, ?, ?)`,
		name, path, branch, task.WorkingCopyIdle,
	)
	if err != nil {
		return 0, errs.Wrap(errs.CodeStore, "create working copy", err)
	}
	return res.LastInsertId()
}

// GetWorkingCopyByName returns a slot by its unique name, or nil if none
// exists. Removed slots are returned too, so Init treats a removed slot's
// name as taken and does not recreate it.
func (s *Store) GetWorkingCopyByName(name string) (*task.WorkingCopy, error) {
	row := s.db.QueryRow(`SELECT id, name, path, branch, status FROM worktrees WHERE name = ?`, name)
	wc, err := scanWorkingCopy(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeStore, "get working copy by name", err)
	}
	return wc, nil
}

// ListWorkingCopies returns every non-removed slot (spec §6: List excludes removed).
func (s *Store) ListWorkingCopies() ([]*task.WorkingCopy, error) {
	rows, err := s.db.Query(
		`SELECT id, name, path, branch, status FROM worktrees WHERE status != ? ORDER BY id ASC`,
		task.WorkingCopyRemoved)
	if err != nil {
		return nil, errs.Wrap(errs.CodeStore, "list working copies", err)
	}
	defer rows.Close()

	var out []*task.WorkingCopy
	for rows.Next() {
		wc, err := scanWorkingCopy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wc)
	}
	return out, rows.Err()
}

// AcquireWorkingCopy atomically flips the lowest-id idle slot to busy and
// returns it, or returns nil if none are idle (spec §4.B Acquire).
func (s *Store) AcquireWorkingCopy() (*task.WorkingCopy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(
		`SELECT id, name, path, branch, status FROM worktrees WHERE status = ? ORDER BY id ASC LIMIT 1`,
		task.WorkingCopyIdle)
	wc, err := scanWorkingCopy(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeStore, "acquire working copy", err)
	}

	if _, err := s.db.Exec(`UPDATE worktrees SET status = ? WHERE id = ?`, task.WorkingCopyBusy, wc.ID); err != nil {
		return nil, errs.Wrap(errs.CodeStore, "mark working copy busy", err)
	}
	wc.Status = task.WorkingCopyBusy
	return wc, nil
}

// ReleaseWorkingCopy flips a slot back to idle. Idempotent: releasing an
// already-idle or already-removed slot is a no-op, not an error, so the
// pool can never wedge on a double-release (spec §4.B).
func (s *Store) ReleaseWorkingCopy(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		`UPDATE worktrees SET status = ? WHERE id = ? AND status = ?`,
		task.WorkingCopyIdle, id, task.WorkingCopyBusy,
	); err != nil {
		return errs.Wrap(errs.CodeStore, "release working copy", err)
	}
	return nil
}

// RemoveWorkingCopy marks a slot removed, hiding it from future listings
// and acquisitions. Permitted in any state (spec §4.B).
func (s *Store) RemoveWorkingCopy(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`UPDATE worktrees SET status = ? WHERE id = ?`, task.WorkingCopyRemoved, id); err != nil {
		return errs.Wrap(errs.CodeStore, "remove working copy", err)
	}
	return nil
}

func scanWorkingCopy(row rowScanner) (*task.WorkingCopy, error) {
	var wc task.WorkingCopy
	if err := row.Scan(&wc.ID, &wc.Name, &wc.Path, &wc.Branch, &wc.Status); err != nil {
		return nil, err
	}
	return &wc, nil
}
