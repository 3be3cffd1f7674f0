// Package runner spawns the opaque agent child process for a single task,
// classifies its line-delimited JSON stdout into TaskEvents, and drives the
// task through to a terminal status. It holds no scheduling policy — the
// Scheduler decides which task to run next and which working copy backs it.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/randalmurphal/orc-core/internal/events"
	"github.com/randalmurphal/orc-core/internal/store"
	"github.com/randalmurphal/orc-core/internal/task"
)

const maxScanBufferBytes = 10 << 20 // transcripts can emit very long single lines

// Cost coefficients, per 1k tokens (spec §4.D).
const (
	inputCostPer1k  = 0.015
	outputCostPer1k = 0.075
)

// Config fixes the child process contract (spec §6): an opaque binary, a
// prompt flag, a flag that skips interactive confirmation, and a flag
// requesting line-delimited JSON output.
type Config struct {
	Binary string
	Args   []string // extra args placed before the fixed contract flags (e.g. a script path for an interpreter binary)
}

// DefaultConfig matches the binary/flags named in spec.md §6.
func DefaultConfig() Config {
	return Config{Binary: "claude"}
}

// Runner executes one task's child process end to end.
type Runner struct {
	store  *store.Store
	bus    events.Publisher
	config Config
	log    *slog.Logger
}

// New builds a Runner over a Store (durable log + task status) and an
// events.Publisher (live fan-out).
func New(st *store.Store, bus events.Publisher, cfg Config, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{store: st, bus: bus, config: cfg, log: log}
}

// Run executes t to completion: marks it running, spawns the child, streams
// and persists its output, and writes a terminal status. It never returns
// an error for the child's own failure — that is recorded on the task — only
// for store failures that the caller (the Scheduler) must propagate.
func (r *Runner) Run(ctx context.Context, t *task.Task) error {
	runID := uuid.NewString()
	r.log.Info("runner: starting", "task_id", t.ID, "run_id", runID)

	now := time.Now().UTC()
	if err := r.store.UpdateTaskFields(t.ID, store.TaskUpdate{
		Status:    statusPtr(task.StatusRunning),
		StartedAt: &now,
	}); err != nil {
		return fmt.Errorf("mark task running: %w", err)
	}

	status, resultText, cost, err := r.execute(ctx, t)
	if err != nil {
		r.log.Error("runner: internal failure, marking task failed", "task_id", t.ID, "error", err)
		status = task.StatusFailed
		msg := err.Error()
		resultText = &msg
		cost = nil
	}

	finishedAt := time.Now().UTC()
	applied, ferr := r.store.FinishTaskIfNotCancelled(t.ID, status, finishedAt, resultText, cost)
	if ferr != nil {
		return fmt.Errorf("persist terminal status: %w", ferr)
	}
	if !applied {
		r.log.Info("runner: task was cancelled mid-flight, skipping terminal write", "task_id", t.ID)
	}
	return nil
}

// execute spawns the child and streams its output. Any panic-worthy
// condition is instead returned as an error so Run can record it as a
// failed task rather than crash the Scheduler (spec §4.D "any internal
// exception is caught").
func (r *Runner) execute(ctx context.Context, t *task.Task) (task.Status, *string, *float64, error) {
	args := append(append([]string{}, r.config.Args...),
		"-p", t.Prompt,
		"--dangerously-skip-permissions",
		"--output-format", "stream-json",
		"--verbose",
	)

	cmd := exec.CommandContext(ctx, r.config.Binary, args...)
	if t.Cwd != "" {
		cmd.Dir = t.Cwd
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", nil, nil, fmt.Errorf("attach stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", nil, nil, fmt.Errorf("start child process: %w", err)
	}

	var (
		resultText *string
		cost       *float64
	)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxScanBufferBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		rt, c := r.handleLine(t.ID, line)
		if rt != nil {
			resultText = rt
		}
		if c != nil {
			cost = c
		}
	}
	scanErr := scanner.Err()

	waitErr := cmd.Wait()

	if scanErr != nil {
		r.log.Warn("runner: error reading child stdout", "task_id", t.ID, "error", scanErr)
	}

	if waitErr == nil {
		return task.StatusCompleted, resultText, cost, nil
	}

	if resultText == nil {
		msg := stderrSummary(waitErr, stderr.String())
		resultText = &msg
	}
	return task.StatusFailed, resultText, cost, nil
}

// handleLine parses, persists and publishes one line of child output,
// returning a non-nil resultText/cost only when the line is a terminal
// result event.
func (r *Runner) handleLine(taskID int64, line []byte) (*string, *float64) {
	var raw map[string]any
	payload := line
	if err := json.Unmarshal(line, &raw); err != nil {
		synth, _ := json.Marshal(map[string]string{"type": "raw", "text": string(line)})
		payload = synth
		raw = map[string]any{"type": "raw"}
	}

	typeField, _ := raw["type"].(string)
	category := task.ClassifyEventType(typeField)

	ev, err := r.store.AppendEvent(taskID, category, payload)
	if err != nil {
		r.log.Error("runner: failed to persist event, dropping from live bus", "task_id", taskID, "error", err)
		return nil, nil
	}

	var decoded any
	_ = json.Unmarshal(payload, &decoded)
	r.bus.Publish(events.NewEvent(taskID, eventsCategory(category), decoded))
	_ = ev

	if category != task.EventResult {
		return nil, nil
	}
	return extractResult(payload)
}

// extractResult pulls result text and cost from a result event payload,
// deriving cost from token usage when cost_usd is absent (spec §4.D.5).
func extractResult(payload []byte) (*string, *float64) {
	parsed := gjson.ParseBytes(payload)

	var resultText *string
	if r := parsed.Get("result"); r.Exists() {
		s := r.String()
		resultText = &s
	}

	var cost *float64
	if c := parsed.Get("cost_usd"); c.Exists() {
		v := c.Float()
		cost = &v
	} else if in, out := parsed.Get("usage.input_tokens"), parsed.Get("usage.output_tokens"); in.Exists() || out.Exists() {
		v := (in.Float()/1000)*inputCostPer1k + (out.Float()/1000)*outputCostPer1k
		cost = &v
	}

	return resultText, cost
}

// stderrSummary formats a child's non-zero exit as the spec's literal
// result text (spec §8 seed scenario 4): "Process exited with code N: <stderr>".
func stderrSummary(waitErr error, stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		return fmt.Sprintf("Process exited with code %d: %s", exitErr.ExitCode(), stderr)
	}
	if stderr == "" {
		return waitErr.Error()
	}
	return fmt.Sprintf("%v: %s", waitErr, stderr)
}

func eventsCategory(c task.EventCategory) events.Category {
	switch c {
	case task.EventAssistant:
		return events.CategoryAssistant
	case task.EventToolUse:
		return events.CategoryToolUse
	case task.EventToolResult:
		return events.CategoryToolResult
	case task.EventResult:
		return events.CategoryResult
	case task.EventError:
		return events.CategoryError
	default:
		return events.CategorySystem
	}
}

func statusPtr(s task.Status) *task.Status { return &s }
