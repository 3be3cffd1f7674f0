// Package plan implements the plan→approve→execute workflow: a PlanGroup
// starts with a single planner task whose JSON output is parsed into
// ordered steps, reviewed, then expanded into prioritized execute tasks.
package plan

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"github.com/randalmurphal/orc-core/internal/errs"
	"github.com/randalmurphal/orc-core/internal/store"
	"github.com/randalmurphal/orc-core/internal/task"
)

// Step is one ordered unit of a parsed plan.
type Step struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
}

// plannerPromptTemplate is the fixed instruction given to the planner task
// (spec §4.F Create): return JSON with a summary and an ordered steps list.
const plannerPromptTemplate = `You are planning the work needed to accomplish the following goal:

%s

Respond with a single JSON object of the form:
{
  "summary": "one paragraph describing the overall approach",
  "steps": [
    {"title": "...", "description": "...", "prompt": "..."}
  ]
}

Each step's "prompt" must be a complete, self-contained instruction an
engineer could execute independently, in dependency order.`

// Workflow drives PlanGroup lifecycle transitions against the Store.
type Workflow struct {
	store  *store.Store
	notify func()

	// group dedupes concurrent completion checks for the same group, the
	// way the teacher's tokenpool guards against a duplicated expensive
	// recomputation fired from multiple goroutines at once.
	group singleflight.Group
}

// New builds a Workflow. notify is called (if non-nil) whenever new tasks
// are enqueued (the planner task in Create, the execute tasks in Approve), so the caller can wire it to Scheduler.Notify without
// this package depending on the scheduler package (spec §9 "break cyclic
// references by passing notify as a function value").
func New(st *store.Store, notify func()) *Workflow {
	return &Workflow{store: st, notify: notify}
}

// Create starts a new PlanGroup in status planning and its paired planner
// task in mode=plan (spec §4.F Create).
func (w *Workflow) Create(goal string) (groupID, plannerTaskID int64, err error) {
	groupID, err = w.store.CreatePlanGroup(goal)
	if err != nil {
		return 0, 0, err
	}

	prompt := fmt.Sprintf(plannerPromptTemplate, goal)
	plannerTaskID, err = w.store.CreatePlanTask(prompt, groupID)
	if err != nil {
		return 0, 0, err
	}

	if w.notify != nil {
		w.notify()
	}
	return groupID, plannerTaskID, nil
}

// ParseOnComplete is invoked by the Scheduler after a planner task finishes.
// It locates the plan text, attempts to parse it as JSON, stores whatever
// it produced (parsed or raw) in plan_text, and transitions the group to
// reviewing either way — a parse failure is surfaced via the raw text, not
// retried (spec §4.F Parse-on-complete).
func (w *Workflow) ParseOnComplete(plannerTask *task.Task) error {
	if plannerTask.Mode != task.ModePlan || plannerTask.PlanGroupID == nil {
		return nil
	}
	groupID := *plannerTask.PlanGroupID

	text, err := w.sourceText(plannerTask)
	if err != nil {
		return err
	}

	cleaned := stripFences(text)
	planText := cleaned
	if obj, ok := tryParseJSONObject(cleaned); ok {
		planText = obj
	}

	if err := w.store.SetPlanText(groupID, planText); err != nil {
		return err
	}
	return w.store.SetPlanGroupStatus(groupID, task.PlanGroupReviewing)
}

// sourceText finds the plan's raw source text in priority order: the
// planner task's stored result_text; otherwise the payload of the latest
// result event; otherwise the first assistant event containing "{".
func (w *Workflow) sourceText(plannerTask *task.Task) (string, error) {
	if plannerTask.ResultText != nil && strings.TrimSpace(*plannerTask.ResultText) != "" {
		return *plannerTask.ResultText, nil
	}

	if payload, err := w.store.LatestEventPayload(plannerTask.ID, task.EventResult); err != nil {
		return "", err
	} else if payload != nil {
		if result := gjson.GetBytes(payload, "result"); result.Exists() {
			return result.String(), nil
		}
		return string(payload), nil
	}

	payload, err := w.store.FirstAssistantEventContaining(plannerTask.ID, "{")
	if err != nil {
		return "", err
	}
	if payload == nil {
		return "", nil
	}
	if text := gjson.GetBytes(payload, "text"); text.Exists() {
		return text.String(), nil
	}
	return string(payload), nil
}

// Edit replaces steps[] inside a group's plan_text, preserving every other
// field. Only permitted while the group is in status reviewing (spec §4.F
// Edit).
func (w *Workflow) Edit(groupID int64, steps []Step) error {
	pg, err := w.store.GetPlanGroup(groupID)
	if err != nil {
		return err
	}
	if pg.Status != task.PlanGroupReviewing {
		return errs.New(errs.CodePlanGroupInvalid,
			fmt.Sprintf("plan group %d: edit only permitted while reviewing, current status %q", groupID, pg.Status))
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(pg.PlanText), &doc); err != nil {
		doc = map[string]any{}
	}
	doc["steps"] = steps

	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode edited plan: %w", err)
	}
	return w.store.SetPlanText(groupID, string(encoded))
}

// Approve parses plan_text into steps (synthesizing a single step from the
// raw text if unparseable), enqueues a prioritized execute task per step,
// transitions the group to executing, and wakes the scheduler (spec §4.F
// Approve).
func (w *Workflow) Approve(groupID int64) ([]int64, error) {
	pg, err := w.store.GetPlanGroup(groupID)
	if err != nil {
		return nil, err
	}

	steps := parseSteps(pg.PlanText)
	n := len(steps)

	ids := make([]int64, 0, n)
	for i, step := range steps {
		body := step.Prompt
		if body == "" {
			body = step.Description
		}
		prompt := fmt.Sprintf("[Plan Step %d: %s]\n\n%s", i+1, step.Title, body)
		priority := n - i

		id, err := w.store.CreateExecuteTask(prompt, priority, groupID)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}

	if err := w.store.SetPlanGroupStatus(groupID, task.PlanGroupExecuting); err != nil {
		return ids, err
	}

	if w.notify != nil {
		w.notify()
	}
	return ids, nil
}

// CompletionCheck marks a group completed once every one of its mode=execute
// children has reached a terminal status. Safe to call repeatedly and from
// multiple goroutines concurrently for the same group (spec §4.F Completion
// check).
func (w *Workflow) CompletionCheck(groupID int64) error {
	_, err, _ := w.group.Do(fmt.Sprintf("%d", groupID), func() (any, error) {
		children, err := w.store.ListGroupChildTasks(groupID)
		if err != nil {
			return nil, err
		}

		hasExecuteChild := false
		for _, c := range children {
			if c.Mode != task.ModeExecute {
				continue
			}
			hasExecuteChild = true
			if !c.Status.IsTerminal() {
				return nil, nil
			}
		}
		if !hasExecuteChild {
			return nil, nil
		}

		return nil, w.store.SetPlanGroupStatus(groupID, task.PlanGroupCompleted)
	})
	return err
}

// parseSteps extracts the steps array from plan text, falling back to a
// single synthetic step wrapping the entire raw text when the text cannot
// be parsed as the expected JSON shape (spec §4.F Approve).
func parseSteps(planText string) []Step {
	var doc struct {
		Steps []Step `json:"steps"`
	}
	if err := json.Unmarshal([]byte(planText), &doc); err == nil && len(doc.Steps) > 0 {
		return doc.Steps
	}
	return []Step{{Title: "plan", Prompt: planText}}
}

// stripFences removes Markdown fenced-code-block markers, the way the
// teacher's extractJSON unwraps a ```json ... ``` or ``` ... ``` block
// before attempting to parse it.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if start := strings.Index(text, "```"); start != -1 {
		rest := text[start+3:]
		if idx := strings.Index(rest, "\n"); idx != -1 && strings.TrimSpace(rest[:idx]) != "" {
			// skip a language tag on the fence's opening line, e.g. ```json
			rest = rest[idx+1:]
		}
		if end := strings.Index(rest, "```"); end != -1 {
			return strings.TrimSpace(rest[:end])
		}
	}
	return text
}

// tryParseJSONObject attempts full JSON parsing first, then falls back to
// the substring from the first '{' to the last '}' (spec §4.F
// Parse-on-complete, grounded on the teacher's extractJSON brace-matching
// fallback).
func tryParseJSONObject(text string) (string, bool) {
	var probe any
	if err := json.Unmarshal([]byte(text), &probe); err == nil {
		return text, true
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return "", false
	}
	candidate := text[start : end+1]
	if err := json.Unmarshal([]byte(candidate), &probe); err != nil {
		return "", false
	}
	return candidate, true
}
