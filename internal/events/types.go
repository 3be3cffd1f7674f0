// Package events provides the process-wide event bus: fan-out of per-task
// and global events to ephemeral subscribers, tolerant of slow or dead
// consumers. It never touches the Store — the Store's log is the durable,
// authoritative record; this package only carries live, best-effort copies
// of the same events to anyone currently subscribed.
package events

import "time"

// Category classifies a published event, mirroring task.EventCategory.
// Kept as an independent string type so this package has no dependency on
// the task package — the bus only ever forwards opaque payloads.
type Category string

const (
	CategoryAssistant  Category = "assistant"
	CategoryToolUse    Category = "tool_use"
	CategoryToolResult Category = "tool_result"
	CategoryResult     Category = "result"
	CategoryError      Category = "error"
	CategorySystem     Category = "system"
)

// GlobalTaskID is the sentinel task id subscribers use to receive every
// task's events in addition to process-wide events (e.g. scheduler_status).
const GlobalTaskID int64 = -1

// Event is the unit of delivery on the bus. The wire shape matches the
// publish format from the external event-subscription contract:
// {"task_id": int, "event_type": string, "payload": object}.
type Event struct {
	TaskID   int64     `json:"task_id"`
	Category Category  `json:"event_type"`
	Payload  any       `json:"payload"`
	Time     time.Time `json:"-"`
}

// NewEvent builds an Event stamped with the current time.
func NewEvent(taskID int64, category Category, payload any) Event {
	return Event{TaskID: taskID, Category: category, Payload: payload, Time: time.Now()}
}

// WorkerSnapshot is a read-only view of one scheduler worker slot.
type WorkerSnapshot struct {
	Index         int    `json:"index"`
	Busy          bool   `json:"busy"`
	TaskID        int64  `json:"task_id,omitempty"`
	PromptPreview string `json:"prompt_preview,omitempty"`
	WorkingCopy   string `json:"working_copy,omitempty"`
	WorkingCopyID int64  `json:"working_copy_id,omitempty"`
}

// SchedulerStatus is the payload published after every dispatch-loop fill
// pass, published against task id 0 in the system category.
type SchedulerStatus struct {
	Slots []WorkerSnapshot `json:"slots"`
}
