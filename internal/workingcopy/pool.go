// Package workingcopy manages a fixed-size pool of isolated git worktrees
// leased out to tasks one at a time. The Store (internal/store) is the
// durable record of each slot's identity and lease state; this package owns
// only the on-disk git operations that keep the filesystem in sync with it.
package workingcopy

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/randalmurphal/orc-core/internal/store"
	"github.com/randalmurphal/orc-core/internal/task"
)

const (
	hiddenDir     = ".orc"
	defaultPrefix = "orc"
)

// Pool wraps a Store with the on-disk git worktree operations needed to
// keep slots usable. A single Pool instance owns one source repository.
type Pool struct {
	store  *store.Store
	log    *slog.Logger
	root   string // repository root; "" means pool size 0, tasks run with cwd fallback
	prefix string
	// keepGlobs are doublestar patterns for untracked paths preserved
	// across Release's `git clean -fd` (e.g. local env files).
	keepGlobs []string

	// mu serializes compound git operations (create-with-retry-after-prune,
	// reset sequences) the way the teacher's Git.mu protects tryCreateWorktree.
	mu sync.Mutex
}

// Option configures a Pool at construction.
type Option func(*Pool)

// WithPrefix overrides the default "orc" branch/directory prefix.
func WithPrefix(prefix string) Option {
	return func(p *Pool) { p.prefix = prefix }
}

// WithKeepGlobs preserves untracked files matching any of the given
// doublestar patterns across Release's cleanup. Patterns are matched against
// the paths `git clean -fdn` reports; an untracked directory is reported and
// removed as a whole, so a matching file inside it is not preserved.
func WithKeepGlobs(globs []string) Option {
	return func(p *Pool) { p.keepGlobs = globs }
}

// New builds a Pool over root (the source repository). root == "" is valid
// and means pool size 0: Acquire always reports none idle, and tasks run
// with their cwd fallback (spec §4.B pool-size-0 edge case).
func New(st *store.Store, root string, log *slog.Logger, opts ...Option) *Pool {
	if log == nil {
		log = slog.Default()
	}
	p := &Pool{store: st, root: root, log: log, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Init ensures n worktree slots exist, creating any that are missing.
// Idempotent: slots already recorded in the Store by name are left alone.
// Per-slot failures are logged and skip that slot rather than aborting the
// whole pool (spec §4.B failure policy).
func (p *Pool) Init(ctx context.Context, n int) error {
	if p.root == "" || n <= 0 {
		return nil
	}

	worktreesDir := filepath.Join(p.root, hiddenDir)
	if err := os.MkdirAll(worktreesDir, 0o755); err != nil {
		return fmt.Errorf("create worktrees directory: %w", err)
	}

	for i := 0; i < n; i++ {
		name := slotName(i)
		existing, err := p.store.GetWorkingCopyByName(name)
		if err != nil {
			return fmt.Errorf("check existing slot %s: %w", name, err)
		}
		if existing != nil {
			continue
		}

		// a short uuid suffix keeps the branch name unique across repeated
		// create/prune cycles for the same slot, so a stale branch left
		// behind by a failed removal never collides with its replacement.
		branch := fmt.Sprintf("%s/%s-%s", p.prefix, name, uuid.NewString()[:8])
		path := filepath.Join(worktreesDir, name)

		if err := p.createWorktree(ctx, branch, path); err != nil {
			p.log.Warn("skipping working copy slot: create failed", "slot", name, "error", err)
			continue
		}

		if _, err := p.store.CreateWorkingCopy(name, path, branch); err != nil {
			p.log.Warn("skipping working copy slot: store insert failed", "slot", name, "error", err)
			continue
		}
	}
	return nil
}

// Acquire leases the lowest-id idle slot, or returns nil if none are idle
// (including when the pool has no slots at all).
func (p *Pool) Acquire() (*task.WorkingCopy, error) {
	return p.store.AcquireWorkingCopy()
}

// Release resets wc's checkout to a clean state and flips it back to idle.
// Idempotent and tolerant of a missing on-disk checkout: it logs and still
// flips the status so the pool never wedges (spec §4.B).
func (p *Pool) Release(wc *task.WorkingCopy) error {
	p.mu.Lock()
	err := p.reset(wc.Path)
	p.mu.Unlock()
	if err != nil {
		p.log.Warn("working copy reset failed, releasing anyway", "slot", wc.Name, "error", err)
	}
	return p.store.ReleaseWorkingCopy(wc.ID)
}

// Remove tears down a slot's on-disk checkout and marks it removed.
// Permitted in any lease state; callers are responsible for ensuring no
// task currently holds it (spec §4.B).
func (p *Pool) Remove(wc *task.WorkingCopy) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.runGit(p.root, "worktree", "remove", "--force", wc.Path); err != nil {
		p.log.Warn("worktree remove failed during slot teardown", "slot", wc.Name, "error", err)
		_ = os.RemoveAll(wc.Path)
	}
	_, _ = p.runGit(p.root, "worktree", "prune")

	return p.store.RemoveWorkingCopy(wc.ID)
}

// Prune runs `git worktree prune` against the pool's source repository,
// clearing stale worktree registrations left behind by a slot whose
// directory was deleted outside of Remove.
func (p *Pool) Prune(ctx context.Context) error {
	if p.root == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.runGitCtx(ctx, p.root, "worktree", "prune")
	return err
}

// createWorktree creates a new worktree on branch at path, retrying after a
// `git worktree prune` if the first attempt fails because of a stale
// registration (grounded on the teacher's tryCreateWorktree).
func (p *Pool) createWorktree(ctx context.Context, branch, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.runGitCtx(ctx, p.root, "worktree", "add", "-b", branch, path); err == nil {
		return nil
	}
	if _, err := p.runGitCtx(ctx, p.root, "worktree", "add", path, branch); err == nil {
		return nil
	}

	_, _ = p.runGitCtx(ctx, p.root, "worktree", "prune")

	if _, err := p.runGitCtx(ctx, p.root, "worktree", "add", "-b", branch, path); err == nil {
		return nil
	}
	_, err := p.runGitCtx(ctx, p.root, "worktree", "add", path, branch)
	return err
}

// reset discards tracked modifications and removes untracked files from a
// checkout, preserving any path matched by a configured keep glob. The keep
// globs are matched in Go via doublestar rather than passed to git as `-e`
// pathspecs, since doublestar's "**" recursive-match semantics are richer
// than git's own fnmatch-based pathspec exclusion.
func (p *Pool) reset(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("working copy missing on disk: %s", path)
	}

	if _, err := p.runGit(path, "reset", "--hard"); err != nil {
		return fmt.Errorf("reset --hard: %w", err)
	}

	candidates, err := p.cleanCandidates(path)
	if err != nil {
		return fmt.Errorf("list clean candidates: %w", err)
	}

	var toRemove []string
	for _, rel := range candidates {
		if !p.matchesKeepGlob(rel) {
			toRemove = append(toRemove, rel)
		}
	}
	if len(toRemove) == 0 {
		return nil
	}

	cleanArgs := append([]string{"clean", "-fd", "--"}, toRemove...)
	if _, err := p.runGit(path, cleanArgs...); err != nil {
		return fmt.Errorf("clean -fd: %w", err)
	}
	return nil
}

// cleanCandidates lists the untracked paths a bare `git clean -fd` would
// remove, via its dry-run mode, without actually touching the filesystem.
func (p *Pool) cleanCandidates(path string) ([]string, error) {
	out, err := p.runGit(path, "clean", "-fdn")
	if err != nil {
		return nil, err
	}

	const prefix = "Would remove "
	var rels []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		rels = append(rels, strings.TrimSuffix(strings.TrimPrefix(line, prefix), "/"))
	}
	return rels, nil
}

// matchesKeepGlob reports whether rel matches any configured keep pattern.
func (p *Pool) matchesKeepGlob(rel string) bool {
	for _, g := range p.keepGlobs {
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	return false
}

func (p *Pool) runGit(dir string, args ...string) (string, error) {
	return p.runGitCtx(context.Background(), dir, args...)
}

func (p *Pool) runGitCtx(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %v: %w: %s", args, err, stderr.String())
	}
	return stdout.String(), nil
}

func slotName(i int) string {
	return fmt.Sprintf("wt-%02d", i)
}
