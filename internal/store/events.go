package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/randalmurphal/orc-core/internal/errs"
	"github.com/randalmurphal/orc-core/internal/task"
)

// AppendEvent appends the next event in a task's log, assigning it the
// next per-task monotonic id. Append-only: task_logs ordering is the
// authoritative replay sequence (spec §3).
func (s *Store) AppendEvent(taskID int64, category task.EventCategory, payload []byte) (*task.TaskEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var nextID int64
	row := s.db.QueryRow(`SELECT COALESCE(MAX(id), 0) + 1 FROM task_logs WHERE task_id = ?`, taskID)
	if err := row.Scan(&nextID); err != nil {
		return nil, errs.Wrap(errs.CodeStore, "compute next event id", err)
	}

	ts := time.Now().UTC()
	if _, err := s.db.Exec(
		`INSERT INTO task_logs (id, task_id, category, payload, ts) VALUES (?, ?, ?, ?, ?)`,
		nextID, taskID, category, string(payload), ts.Format(time.RFC3339Nano),
	); err != nil {
		return nil, errs.Wrap(errs.CodeStore, "append event", err)
	}

	return &task.TaskEvent{
		ID:       nextID,
		TaskID:   taskID,
		Category: category,
		Payload:  payload,
		Ts:       ts,
	}, nil
}

// ListEvents returns a task's full ordered event log.
func (s *Store) ListEvents(taskID int64) ([]*task.TaskEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, task_id, category, payload, ts FROM task_logs WHERE task_id = ? ORDER BY id ASC`,
		taskID)
	if err != nil {
		return nil, errs.Wrap(errs.CodeStore, "list events", err)
	}
	defer rows.Close()

	var out []*task.TaskEvent
	for rows.Next() {
		var (
			ev      task.TaskEvent
			payload string
			ts      string
		)
		if err := rows.Scan(&ev.ID, &ev.TaskID, &ev.Category, &payload, &ts); err != nil {
			return nil, errs.Wrap(errs.CodeStore, "scan event", err)
		}
		ev.Payload = []byte(payload)
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		ev.Ts = parsed
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// GetTaskWithEvents returns a task together with its full ordered log.
func (s *Store) GetTaskWithEvents(id int64) (*task.Task, []*task.TaskEvent, error) {
	t, err := s.GetTask(id)
	if err != nil {
		return nil, nil, err
	}
	events, err := s.ListEvents(id)
	if err != nil {
		return nil, nil, err
	}
	return t, events, nil
}

// LatestEventPayload returns the payload of the most recent event in the
// given category for a task, or nil if none exists. Used by the plan
// workflow's parse-on-complete fallback (spec §4.F).
func (s *Store) LatestEventPayload(taskID int64, category task.EventCategory) ([]byte, error) {
	row := s.db.QueryRow(
		`SELECT payload FROM task_logs WHERE task_id = ? AND category = ? ORDER BY id DESC LIMIT 1`,
		taskID, category)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errs.Wrap(errs.CodeStore, "latest event payload", err)
	}
	return []byte(payload), nil
}

// FirstAssistantEventContaining returns the payload of the earliest
// assistant event whose text contains substr, or nil if none matches.
func (s *Store) FirstAssistantEventContaining(taskID int64, substr string) ([]byte, error) {
	rows, err := s.db.Query(
		`SELECT payload FROM task_logs WHERE task_id = ? AND category = ? ORDER BY id ASC`,
		taskID, task.EventAssistant)
	if err != nil {
		return nil, errs.Wrap(errs.CodeStore, "scan assistant events", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		if strings.Contains(payload, substr) {
			return []byte(payload), nil
		}
	}
	return nil, rows.Err()
}
