// Package task defines the core entities of the scheduling engine: Task,
// TaskEvent, WorkingCopy and PlanGroup, plus their status enums and the
// transition rules that govern them. The package holds no I/O — it is the
// shared vocabulary that the store, pool, runner, scheduler and plan
// workflow packages all build on.
package task

import "time"

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether s is a terminal task status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Mode distinguishes a plain execution task from a planner task.
type Mode string

const (
	ModeExecute Mode = "execute"
	ModePlan    Mode = "plan"
)

// CanCancel reports whether a task in status s may be cancelled.
// Cancellation is only permitted from queued or running (spec §3).
func CanCancel(s Status) bool {
	return s == StatusQueued || s == StatusRunning
}

// Task is one unit of work submitted to the engine.
type Task struct {
	ID            int64
	Prompt        string
	Status        Status
	Mode          Mode
	Priority      int
	WorkingCopyID *int64
	PlanGroupID   *int64
	Cwd           string // fallback working directory when no pool lease is held

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time

	ResultText *string
	Cost       *float64
}

// EventCategory classifies one line of a child agent's output stream.
type EventCategory string

const (
	EventAssistant  EventCategory = "assistant"
	EventToolUse    EventCategory = "tool_use"
	EventToolResult EventCategory = "tool_result"
	EventResult     EventCategory = "result"
	EventError      EventCategory = "error"
	EventSystem     EventCategory = "system"
)

// ClassifyEventType maps a child-emitted "type" field onto one of the six
// event categories. Unknown types map to EventSystem (spec §4.D.3).
func ClassifyEventType(t string) EventCategory {
	switch t {
	case "assistant":
		return EventAssistant
	case "tool_use":
		return EventToolUse
	case "tool_result":
		return EventToolResult
	case "result":
		return EventResult
	case "error":
		return EventError
	default:
		return EventSystem
	}
}

// TaskEvent is one append-only, ordered entry in a task's replay log.
type TaskEvent struct {
	ID       int64 // per-task monotonic sequence; insertion order is the replay order
	TaskID   int64
	Category EventCategory
	Payload  []byte // opaque JSON blob
	Ts       time.Time
}

// WorkingCopyStatus is the lease state of a pool slot.
type WorkingCopyStatus string

const (
	WorkingCopyIdle    WorkingCopyStatus = "idle"
	WorkingCopyBusy    WorkingCopyStatus = "busy"
	WorkingCopyRemoved WorkingCopyStatus = "removed"
)

// WorkingCopy is one isolated on-disk checkout slot in the pool.
type WorkingCopy struct {
	ID     int64
	Name   string // e.g. "wt-03", unique
	Path   string
	Branch string
	Status WorkingCopyStatus
}

// PlanGroupStatus is the lifecycle state of a PlanGroup.
type PlanGroupStatus string

const (
	PlanGroupPlanning  PlanGroupStatus = "planning"
	PlanGroupReviewing PlanGroupStatus = "reviewing"
	// PlanGroupApproved exists in the enum for forward compatibility but is
	// never observed: approval moves a group directly from reviewing to
	// executing (spec §9 open question — preserved, not relied upon).
	PlanGroupApproved  PlanGroupStatus = "approved"
	PlanGroupExecuting PlanGroupStatus = "executing"
	PlanGroupCompleted PlanGroupStatus = "completed"
)

// PlanGroup is a container for a user goal and the ordered subtasks its
// plan expands into.
type PlanGroup struct {
	ID         int64
	Goal       string
	PlanText   string // raw text, or a cleaned JSON object once parsed
	Status     PlanGroupStatus
	CreatedAt  time.Time
	FinishedAt *time.Time
}
