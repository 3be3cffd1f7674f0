package store

import (
	"time"

	"github.com/randalmurphal/orc-core/internal/errs"
)

// AppendProgressNote inserts one row into progress_entries: the durable
// backing for the pluggable auto-experience-note hook (spec §4.E, §9). The
// core never reads this table itself — it only exists so an external
// best-effort recorder attached via Scheduler.OnTaskCompleted has somewhere
// durable to write.
func (s *Store) AppendProgressNote(taskID int64, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		`INSERT INTO progress_entries (task_id, note, created_at) VALUES (?, ?, ?)`,
		taskID, note, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return errs.Wrap(errs.CodeStore, "append progress note", err)
	}
	return nil
}
