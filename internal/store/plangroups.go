package store

import (
	"database/sql"
	"time"

	"github.com/randalmurphal/orc-core/internal/errs"
	"github.com/randalmurphal/orc-core/internal/task"
)

// CreatePlanGroup inserts a new group in status planning.
func (s *Store) CreatePlanGroup(goal string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`INSERT INTO plan_groups (goal, plan_text, status, created_at) VALUES (?, '', ?, ?)`,
		goal, task.PlanGroupPlanning, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, errs.Wrap(errs.CodeStore, "create plan group", err)
	}
	return res.LastInsertId()
}

// GetPlanGroup returns a plan group by id.
func (s *Store) GetPlanGroup(id int64) (*task.PlanGroup, error) {
	row := s.db.QueryRow(
		`SELECT id, goal, plan_text, status, created_at, finished_at FROM plan_groups WHERE id = ?`, id)
	pg, err := scanPlanGroup(row)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.CodePlanGroupNotFound, "plan group not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeStore, "get plan group", err)
	}
	return pg, nil
}

// SetPlanText stores parsed or raw plan text. Callers enforce the
// reviewing-only mutation rule at the plan-workflow layer (spec §4.F Edit).
func (s *Store) SetPlanText(id int64, planText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`UPDATE plan_groups SET plan_text = ? WHERE id = ?`, planText, id); err != nil {
		return errs.Wrap(errs.CodeStore, "set plan text", err)
	}
	return nil
}

// SetPlanGroupStatus transitions a group's status, stamping finished_at
// when moving to completed.
func (s *Store) SetPlanGroupStatus(id int64, status task.PlanGroupStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status == task.PlanGroupCompleted {
		_, err := s.db.Exec(
			`UPDATE plan_groups SET status = ?, finished_at = ? WHERE id = ?`,
			status, time.Now().UTC().Format(time.RFC3339Nano), id)
		if err != nil {
			return errs.Wrap(errs.CodeStore, "complete plan group", err)
		}
		return nil
	}

	if _, err := s.db.Exec(`UPDATE plan_groups SET status = ? WHERE id = ?`, status, id); err != nil {
		return errs.Wrap(errs.CodeStore, "set plan group status", err)
	}
	return nil
}

// ListGroupChildTasks returns every task sharing plan_group_id = id.
func (s *Store) ListGroupChildTasks(id int64) ([]*task.Task, error) {
	rows, err := s.db.Query(`
		SELECT id, prompt, status, mode, priority, working_copy_id, plan_group_id, cwd,
		       created_at, started_at, finished_at, result_text, cost
		FROM tasks WHERE plan_group_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return nil, errs.Wrap(errs.CodeStore, "list group child tasks", err)
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateExecuteTask inserts a subtask tagged with planGroupID, used by
// PlanGroup.Approve (spec §4.F).
func (s *Store) CreateExecuteTask(prompt string, priority int, planGroupID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`INSERT INTO tasks (prompt, status, mode, priority, plan_group_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		prompt, task.StatusQueued, task.ModeExecute, priority, planGroupID, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, errs.Wrap(errs.CodeStore, "create execute task", err)
	}
	return res.LastInsertId()
}

// CreatePlanTask inserts the planner task for a new group, mode=plan.
func (s *Store) CreatePlanTask(prompt string, planGroupID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`INSERT INTO tasks (prompt, status, mode, priority, plan_group_id, created_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		prompt, task.StatusQueued, task.ModePlan, planGroupID, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, errs.Wrap(errs.CodeStore, "create plan task", err)
	}
	return res.LastInsertId()
}

func scanPlanGroup(row rowScanner) (*task.PlanGroup, error) {
	var (
		pg         task.PlanGroup
		createdAt  string
		finishedAt sql.NullString
	)
	if err := row.Scan(&pg.ID, &pg.Goal, &pg.PlanText, &pg.Status, &createdAt, &finishedAt); err != nil {
		return nil, err
	}
	var err error
	pg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		tm, err := time.Parse(time.RFC3339Nano, finishedAt.String)
		if err != nil {
			return nil, err
		}
		pg.FinishedAt = &tm
	}
	return &pg, nil
}
