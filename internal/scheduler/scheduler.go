// Package scheduler owns the fixed-size worker-slot dispatch loop: it reaps
// finished runners, fills idle slots from the Store's queued tasks, and
// republishes a worker snapshot after every fill pass.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/orc-core/internal/events"
	"github.com/randalmurphal/orc-core/internal/runner"
	"github.com/randalmurphal/orc-core/internal/store"
	"github.com/randalmurphal/orc-core/internal/task"
	"github.com/randalmurphal/orc-core/internal/workingcopy"
)

const rePollCeiling = 5 * time.Second

const promptPreviewLen = 80

// slot is one scheduler worker seat.
type slot struct {
	index int

	mu              sync.Mutex
	busy            bool
	taskID          int64
	promptPreview   string
	workingCopyName string
	workingCopyID   int64
	done            chan struct{}
}

func (s *slot) snapshot() events.WorkerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return events.WorkerSnapshot{
		Index:         s.index,
		Busy:          s.busy,
		TaskID:        s.taskID,
		PromptPreview: s.promptPreview,
		WorkingCopy:   s.workingCopyName,
		WorkingCopyID: s.workingCopyID,
	}
}

// Scheduler dispatches queued tasks onto a fixed pool of worker slots.
type Scheduler struct {
	store  *store.Store
	pool   *workingcopy.Pool
	bus    events.Publisher
	runner *runner.Runner
	log    *slog.Logger

	slots []*slot

	// wakeup is the notify() signal: buffered 1, non-blocking send so any
	// number of triggering events collapse into a single re-poll (spec §4.E).
	wakeup chan struct{}

	// OnTaskFinished is a pluggable best-effort hook invoked (outside any
	// internal lock) after a task reaches any terminal status — e.g. the
	// plan workflow's completion check. The core scheduler has no
	// dependency on what it does (spec §9).
	OnTaskFinished func(taskID int64)

	// OnTaskCompleted is a pluggable best-effort hook invoked only when a
	// task's terminal status is specifically completed — the seam an
	// external auto-experience-note recorder attaches to (spec §4.E, §9).
	// A panic or error from it never propagates: it is swallowed, logged,
	// and the scheduler continues.
	OnTaskCompleted func(taskID int64)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// New builds a Scheduler with w fixed worker slots.
func New(st *store.Store, pool *workingcopy.Pool, bus events.Publisher, rnr *runner.Runner, w int, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if w < 1 {
		w = 1
	}
	slots := make([]*slot, w)
	for i := range slots {
		slots[i] = &slot{index: i}
	}
	return &Scheduler{
		store:  st,
		pool:   pool,
		bus:    bus,
		runner: rnr,
		log:    log,
		slots:  slots,
		wakeup: make(chan struct{}, 1),
	}
}

// Start launches the dispatch loop as an independent goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.dispatchLoop()
	return nil
}

// Stop cancels the dispatch loop and waits for it to exit. In-flight
// runners are NOT cancelled by this — their children run to completion
// (spec §5, §9 "on stop(), in-flight children are not terminated") — and
// Stop also waits for every in-flight runner goroutine to return, since
// they share the loop's WaitGroup.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// Notify wakes the dispatch loop for an immediate re-poll. Non-blocking:
// any number of calls between two poll passes collapse into one.
func (s *Scheduler) Notify() {
	select {
	case s.wakeup <- struct{}{}:
	default:
	}
}

// Snapshot returns a read-only view of every worker slot.
func (s *Scheduler) Snapshot() events.SchedulerStatus {
	slots := make([]events.WorkerSnapshot, len(s.slots))
	for i, sl := range s.slots {
		slots[i] = sl.snapshot()
	}
	return events.SchedulerStatus{Slots: slots}
}

func (s *Scheduler) dispatchLoop() {
	defer s.wg.Done()

	timer := time.NewTimer(rePollCeiling)
	defer timer.Stop()

	for {
		s.tick()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(rePollCeiling)

		select {
		case <-s.ctx.Done():
			return
		case <-s.wakeup:
		case <-timer.C:
		}
	}
}

// tick runs one reap-then-fill pass. Any panic-worthy condition here is
// logged and the loop continues (spec §7 "supervisor exception: caught and
// logged; loop continues").
func (s *Scheduler) tick() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler: recovered from panic in dispatch tick", "panic", r)
		}
	}()

	s.reap()
	s.fill()
	s.bus.Publish(events.NewEvent(0, events.CategorySystem, s.Snapshot()))
}

// reap clears any slot whose runner goroutine has finished.
func (s *Scheduler) reap() {
	for _, sl := range s.slots {
		sl.mu.Lock()
		if !sl.busy {
			sl.mu.Unlock()
			continue
		}
		done := sl.done
		sl.mu.Unlock()

		select {
		case <-done:
			s.finishSlot(sl)
		default:
		}
	}
}

// finishSlot releases the slot's working copy (if any) and clears it back
// to idle, then fires the best-effort completion hooks.
func (s *Scheduler) finishSlot(sl *slot) {
	sl.mu.Lock()
	taskID := sl.taskID
	wcID := sl.workingCopyID
	sl.mu.Unlock()

	if wcID != 0 {
		if wc, err := s.lookupWorkingCopy(wcID); err == nil && wc != nil {
			if err := s.pool.Release(wc); err != nil {
				s.log.Warn("scheduler: working copy release failed", "working_copy_id", wcID, "error", err)
			}
		}
	}

	sl.mu.Lock()
	sl.busy = false
	sl.taskID = 0
	sl.promptPreview = ""
	sl.workingCopyName = ""
	sl.workingCopyID = 0
	sl.mu.Unlock()

	if s.OnTaskFinished != nil {
		s.OnTaskFinished(taskID)
	}

	if s.OnTaskCompleted != nil {
		if t, err := s.store.GetTask(taskID); err == nil && t.Status == task.StatusCompleted {
			s.invokeOnTaskCompleted(taskID)
		}
	}
}

// invokeOnTaskCompleted calls OnTaskCompleted with a recover guard: a
// panicking external recorder must never take the scheduler down with it.
func (s *Scheduler) invokeOnTaskCompleted(taskID int64) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler: recovered from panic in OnTaskCompleted hook", "task_id", taskID, "panic", r)
		}
	}()
	s.OnTaskCompleted(taskID)
}

func (s *Scheduler) lookupWorkingCopy(id int64) (*task.WorkingCopy, error) {
	copies, err := s.store.ListWorkingCopies()
	if err != nil {
		return nil, err
	}
	for _, wc := range copies {
		if wc.ID == id {
			return wc, nil
		}
	}
	return nil, nil
}

// fill dispatches queued tasks onto idle slots until either no slot is idle
// or no task is queued (spec §4.E Fill phase).
func (s *Scheduler) fill() {
	for _, sl := range s.slots {
		sl.mu.Lock()
		idle := !sl.busy
		sl.mu.Unlock()
		if !idle {
			continue
		}

		t, err := s.store.NextQueuedTask()
		if err != nil {
			s.log.Error("scheduler: failed to pick next queued task", "error", err)
			return
		}
		if t == nil {
			return
		}

		s.dispatch(sl, t)
	}
}

// dispatch acquires a working copy (optional), marks the task running and
// launches its Runner as an independent goroutine recorded against sl.
func (s *Scheduler) dispatch(sl *slot, t *task.Task) {
	var (
		wc  *task.WorkingCopy
		cwd string
	)
	if acquired, err := s.pool.Acquire(); err != nil {
		s.log.Error("scheduler: working copy acquire failed", "task_id", t.ID, "error", err)
	} else {
		wc = acquired
	}
	if wc != nil {
		cwd = wc.Path
	} else {
		cwd = t.Cwd
	}

	update := store.TaskUpdate{Status: statusPtr(task.StatusRunning)}
	if wc != nil {
		update.WorkingCopyID = &wc.ID
	}
	if err := s.store.UpdateTaskFields(t.ID, update); err != nil {
		s.log.Error("scheduler: failed to record dispatch", "task_id", t.ID, "error", err)
		if wc != nil {
			_ = s.pool.Release(wc)
		}
		return
	}

	t.Cwd = cwd
	if wc != nil {
		t.WorkingCopyID = &wc.ID
	}

	done := make(chan struct{})
	sl.mu.Lock()
	sl.busy = true
	sl.taskID = t.ID
	sl.promptPreview = preview(t.Prompt)
	if wc != nil {
		sl.workingCopyName = wc.Name
		sl.workingCopyID = wc.ID
	}
	sl.done = done
	sl.mu.Unlock()

	s.wg.Add(1)
	go s.runSlot(t, done)
}

// runSlot executes the Runner against a context independent of the
// dispatch loop's lifetime, so Stop() never kills an in-flight child (spec
// §5, §9).
func (s *Scheduler) runSlot(t *task.Task, done chan struct{}) {
	defer s.wg.Done()
	defer close(done)
	defer s.Notify()

	if err := s.runner.Run(context.Background(), t); err != nil {
		s.log.Error("scheduler: runner failed", "task_id", t.ID, "error", err)
	}
}

func preview(prompt string) string {
	if len(prompt) <= promptPreviewLen {
		return prompt
	}
	return prompt[:promptPreviewLen]
}

func statusPtr(s task.Status) *task.Status { return &s }
