package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/randalmurphal/orc-core/internal/errs"
	"github.com/randalmurphal/orc-core/internal/task"
)

// CreateTask inserts a new task in status queued and returns its assigned id.
func (s *Store) CreateTask(t *task.Task) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO tasks (prompt, status, mode, priority, plan_group_id, cwd, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Prompt, task.StatusQueued, t.Mode, t.Priority, nullInt64(t.PlanGroupID), nullString(t.Cwd), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, errs.Wrap(errs.CodeStore, "create task", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errs.Wrap(errs.CodeStore, "read new task id", err)
	}
	return id, nil
}

// GetTask returns a single task by id.
func (s *Store) GetTask(id int64) (*task.Task, error) {
	row := s.db.QueryRow(`
		SELECT id, prompt, status, mode, priority, working_copy_id, plan_group_id, cwd,
		       created_at, started_at, finished_at, result_text, cost
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, errs.TaskNotFound(id)
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeStore, "get task", err)
	}
	return t, nil
}

// ListTasks returns all tasks, optionally filtered by status, most recent first.
func (s *Store) ListTasks(status *task.Status) ([]*task.Task, error) {
	query := `
		SELECT id, prompt, status, mode, priority, working_copy_id, plan_group_id, cwd,
		       created_at, started_at, finished_at, result_text, cost
		FROM tasks`
	var args []any
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.CodeStore, "list tasks", err)
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errs.Wrap(errs.CodeStore, "scan task", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// NextQueuedTask returns the highest-priority, oldest-on-tie queued task,
// or nil if none are queued. Ordering is priority DESC, id ASC (spec §4.E):
// within a priority class the queue is FIFO.
func (s *Store) NextQueuedTask() (*task.Task, error) {
	row := s.db.QueryRow(`
		SELECT id, prompt, status, mode, priority, working_copy_id, plan_group_id, cwd,
		       created_at, started_at, finished_at, result_text, cost
		FROM tasks WHERE status = ?
		ORDER BY priority DESC, id ASC LIMIT 1`, task.StatusQueued)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeStore, "pick next queued task", err)
	}
	return t, nil
}

// TaskUpdate carries a partial set of fields to apply to a task. Only
// non-nil fields are written.
type TaskUpdate struct {
	Status        *task.Status
	WorkingCopyID *int64
	StartedAt     *time.Time
	FinishedAt    *time.Time
	ResultText    *string
	Cost          *float64
}

// UpdateTaskFields applies a partial update to a task.
func (s *Store) UpdateTaskFields(id int64, u TaskUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateTaskFieldsLocked(id, u)
}

func (s *Store) updateTaskFieldsLocked(id int64, u TaskUpdate) error {
	sets := make([]string, 0, 6)
	args := make([]any, 0, 7)

	if u.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *u.Status)
	}
	if u.WorkingCopyID != nil {
		sets = append(sets, "working_copy_id = ?")
		args = append(args, *u.WorkingCopyID)
	}
	if u.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, u.StartedAt.UTC().Format(time.RFC3339Nano))
	}
	if u.FinishedAt != nil {
		sets = append(sets, "finished_at = ?")
		args = append(args, u.FinishedAt.UTC().Format(time.RFC3339Nano))
	}
	if u.ResultText != nil {
		sets = append(sets, "result_text = ?")
		args = append(args, *u.ResultText)
	}
	if u.Cost != nil {
		sets = append(sets, "cost = ?")
		args = append(args, *u.Cost)
	}
	if len(sets) == 0 {
		return nil
	}

	query := "UPDATE tasks SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE id = ?"
	args = append(args, id)

	if _, err := s.db.Exec(query, args...); err != nil {
		return errs.Wrap(errs.CodeStore, "update task fields", err)
	}
	return nil
}

// CancelTask flips a task to cancelled. Cancellation is only permitted
// from queued or running (spec §3); any other status is a no-op that
// reports the current status so the caller can decide whether to treat it
// as an error.
func (s *Store) CancelTask(id int64) (task.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.GetTask(id)
	if err != nil {
		return "", err
	}
	if !task.CanCancel(t.Status) {
		return t.Status, nil
	}
	if err := s.updateTaskFieldsLocked(id, TaskUpdate{Status: statusPtr(task.StatusCancelled)}); err != nil {
		return "", err
	}
	return task.StatusCancelled, nil
}

// FinishTaskIfNotCancelled writes a terminal status + finished_at + result
// + cost, but skips the write entirely if the task's current status is
// already cancelled (spec §5: the runner's final write must never
// overwrite a cancel). Returns whether the write was applied.
func (s *Store) FinishTaskIfNotCancelled(id int64, status task.Status, finishedAt time.Time, resultText *string, cost *float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.GetTask(id)
	if err != nil {
		return false, err
	}
	if t.Status == task.StatusCancelled {
		return false, nil
	}

	u := TaskUpdate{Status: &status, FinishedAt: &finishedAt}
	if resultText != nil {
		u.ResultText = resultText
	}
	if cost != nil {
		u.Cost = cost
	}
	if err := s.updateTaskFieldsLocked(id, u); err != nil {
		return false, err
	}
	return true, nil
}

func statusPtr(s task.Status) *task.Status { return &s }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t                                task.Task
		workingCopyID, planGroupID       sql.NullInt64
		cwd, startedAt, finishedAt       sql.NullString
		resultText                       sql.NullString
		cost                             sql.NullFloat64
		createdAt                        string
	)
	if err := row.Scan(
		&t.ID, &t.Prompt, &t.Status, &t.Mode, &t.Priority,
		&workingCopyID, &planGroupID, &cwd,
		&createdAt, &startedAt, &finishedAt, &resultText, &cost,
	); err != nil {
		return nil, err
	}

	var err error
	t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if workingCopyID.Valid {
		v := workingCopyID.Int64
		t.WorkingCopyID = &v
	}
	if planGroupID.Valid {
		v := planGroupID.Int64
		t.PlanGroupID = &v
	}
	if cwd.Valid {
		t.Cwd = cwd.String
	}
	if startedAt.Valid {
		tm, err := time.Parse(time.RFC3339Nano, startedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		t.StartedAt = &tm
	}
	if finishedAt.Valid {
		tm, err := time.Parse(time.RFC3339Nano, finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		t.FinishedAt = &tm
	}
	if resultText.Valid {
		t.ResultText = &resultText.String
	}
	if cost.Valid {
		t.Cost = &cost.Float64
	}
	return &t, nil
}

func nullInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
