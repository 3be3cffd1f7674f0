// Package app composes the Store, working-copy Pool, event bus, Runner,
// Scheduler and Plan Workflow into a single facade, giving a future
// transport layer (HTTP, WS) one seam to bind to instead of wiring every
// component itself.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/orc-core/internal/config"
	"github.com/randalmurphal/orc-core/internal/errs"
	"github.com/randalmurphal/orc-core/internal/events"
	"github.com/randalmurphal/orc-core/internal/plan"
	"github.com/randalmurphal/orc-core/internal/runner"
	"github.com/randalmurphal/orc-core/internal/scheduler"
	"github.com/randalmurphal/orc-core/internal/store"
	"github.com/randalmurphal/orc-core/internal/task"
	"github.com/randalmurphal/orc-core/internal/workingcopy"
)

// App wires every component together and is the single composition root a
// transport layer binds to (spec §6).
type App struct {
	Store     *store.Store
	Pool      *workingcopy.Pool
	Bus       events.Publisher
	Runner    *runner.Runner
	Scheduler *scheduler.Scheduler
	Plan      *plan.Workflow

	log *slog.Logger
}

// New opens the store at cfg.DBPath, initializes the working-copy pool,
// and wires the scheduler's completion hook back into the plan workflow
// without either package importing the other (spec §9 function-value
// pattern).
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	pool := workingcopy.New(st, cfg.WorktreeBase, log)
	if err := pool.Init(ctx, cfg.PoolSize); err != nil {
		st.Close()
		return nil, fmt.Errorf("init working copy pool: %w", err)
	}

	bus := events.NewMemoryPublisher()
	rnr := runner.New(st, bus, runner.DefaultConfig(), log)
	sched := scheduler.New(st, pool, bus, rnr, cfg.MaxConcurrent, log)

	a := &App{Store: st, Pool: pool, Bus: bus, Runner: rnr, Scheduler: sched, log: log}

	planWorkflow := plan.New(st, sched.Notify)
	a.Plan = planWorkflow
	sched.OnTaskFinished = a.onTaskFinished
	sched.OnTaskCompleted = a.recordAutoExperienceNote

	return a, nil
}

// Start launches the scheduler's dispatch loop.
func (a *App) Start(ctx context.Context) error {
	return a.Scheduler.Start(ctx)
}

// Stop waits for the dispatch loop and any in-flight runners to finish,
// then releases the store and bus.
func (a *App) Stop() {
	a.Scheduler.Stop()
	a.Bus.Close()
	if err := a.Store.Close(); err != nil {
		a.log.Error("app: store close failed", "error", err)
	}
}

// onTaskFinished is the Scheduler's completion hook (spec §9): it parses a
// finished planner task's output, or checks whether a finished execute
// task's plan group has fully completed. Both steps are best-effort — a
// failure here is logged, never fatal to the scheduler.
func (a *App) onTaskFinished(taskID int64) {
	t, err := a.Store.GetTask(taskID)
	if err != nil {
		a.log.Error("app: failed to load finished task", "task_id", taskID, "error", err)
		return
	}

	switch {
	case t.Mode == task.ModePlan && t.PlanGroupID != nil:
		if err := a.Plan.ParseOnComplete(t); err != nil {
			a.log.Error("app: plan parse-on-complete failed", "task_id", taskID, "error", err)
		}
	case t.Mode == task.ModeExecute && t.PlanGroupID != nil:
		if err := a.Plan.CompletionCheck(*t.PlanGroupID); err != nil {
			a.log.Error("app: plan completion check failed", "task_id", taskID, "plan_group_id", *t.PlanGroupID, "error", err)
		}
	}
}

// recordAutoExperienceNote is the default OnTaskCompleted hook (spec §4.E
// step 3, §9): it writes a canned note to progress_entries so a future
// external collaborator has something to read. The core has no dependency
// on what happens to that note — this is intentionally the simplest
// possible occupant of the pluggable seam, and any failure here is
// swallowed rather than surfaced.
func (a *App) recordAutoExperienceNote(taskID int64) {
	note := fmt.Sprintf("task %d completed", taskID)
	if err := a.Store.AppendProgressNote(taskID, note); err != nil {
		a.log.Warn("app: auto-experience note failed, swallowing", "task_id", taskID, "error", err)
	}
}

// SubmitTask enqueues a plain execute task (TaskAPI.Create, spec §6).
func (a *App) SubmitTask(prompt string, priority int) (int64, error) {
	id, err := a.Store.CreateTask(&task.Task{Prompt: prompt, Mode: task.ModeExecute, Priority: priority})
	if err != nil {
		return 0, err
	}
	a.Scheduler.Notify()
	return id, nil
}

// GetTask implements TaskAPI.Get.
func (a *App) GetTask(id int64) (*task.Task, error) {
	return a.Store.GetTask(id)
}

// ListTasks implements TaskAPI.List.
func (a *App) ListTasks(status *task.Status) ([]*task.Task, error) {
	return a.Store.ListTasks(status)
}

// CancelTask implements TaskAPI.Cancel. The Store itself treats
// cancelling from an already-terminal status as a no-op (spec §3); this
// facade is the layer that turns that no-op into a coded error a future
// transport layer can map to a conflict response, so the Store's
// lower-level semantics stay untouched (spec §6, §7).
func (a *App) CancelTask(id int64) (task.Status, error) {
	before, err := a.Store.GetTask(id)
	if err != nil {
		return "", err
	}
	wasCancellable := task.CanCancel(before.Status)

	status, err := a.Store.CancelTask(id)
	if err != nil {
		return "", err
	}
	if !wasCancellable {
		return status, errs.InvalidTransition("task", id, string(before.Status), string(task.StatusCancelled))
	}
	return status, nil
}

// ListWorkingCopies implements WorkingCopyAPI.List.
func (a *App) ListWorkingCopies() ([]*task.WorkingCopy, error) {
	return a.Store.ListWorkingCopies()
}

// RemoveWorkingCopy implements WorkingCopyAPI.Delete.
func (a *App) RemoveWorkingCopy(wc *task.WorkingCopy) error {
	return a.Pool.Remove(wc)
}

// CreatePlan implements PlanAPI.Create.
func (a *App) CreatePlan(goal string) (groupID, plannerTaskID int64, err error) {
	return a.Plan.Create(goal)
}

// EditPlan implements PlanAPI.Edit.
func (a *App) EditPlan(groupID int64, steps []plan.Step) error {
	return a.Plan.Edit(groupID, steps)
}

// ApprovePlan implements PlanAPI.Approve.
func (a *App) ApprovePlan(groupID int64) ([]int64, error) {
	return a.Plan.Approve(groupID)
}

// GetPlanGroup implements PlanAPI.Get.
func (a *App) GetPlanGroup(id int64) (*task.PlanGroup, error) {
	return a.Store.GetPlanGroup(id)
}
