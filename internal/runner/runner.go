// Package runner drives one action across the ordered component set. Each
// action has a start hook that checks everything before anything changes, a
// list of phases run per component, and an end hook that reports.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/atomikpanda/anvil/internal/audit"
	"github.com/atomikpanda/anvil/internal/component"
	"github.com/atomikpanda/anvil/internal/journal"
	"github.com/atomikpanda/anvil/internal/logging"
	"github.com/atomikpanda/anvil/internal/resolver"
	"github.com/atomikpanda/anvil/internal/shell"
)

// Unit is what the runner needs from a component.
type Unit interface {
	Name() string
	Dependencies() []string
	Priority() (int, bool)
	Verify() error
	State() component.State
	component.Installable
	component.Uninstallable
	component.Runtime
}

// Options configure a run.
type Options struct {
	Action string
	Run    shell.RunContext
	Exec   *shell.Executor
	Out    io.Writer
	Audit  *audit.Log
}

// Result is the outcome of one phase of one component.
type Result struct {
	Component string
	Phase     string
	Count     int
	Err       error
	Elapsed   time.Duration
}

// Summary aggregates a run.
type Summary struct {
	RunID    string
	Action   string
	Results  []Result
	Statuses map[string][]component.AppStatus
	Failed   []string
	Skipped  []string
	Elapsed  time.Duration
}

// OK reports whether no component failed.
func (s *Summary) OK() bool { return len(s.Failed) == 0 }

// Runner runs one action over a set of components.
type Runner struct {
	opts   Options
	act    action
	units  map[string]Unit
	names  []string
	logger zerolog.Logger

	began   time.Time
	halted  atomic.Bool
	mu      sync.Mutex
	summary *Summary
}

// New validates the action and prepares a runner for units.
func New(units []Unit, opts Options) (*Runner, error) {
	act, ok := actions[opts.Action]
	if !ok {
		return nil, fmt.Errorf("unknown action %q (known: %s)", opts.Action, strings.Join(Actions(), ", "))
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Run.Jobs < 1 {
		opts.Run.Jobs = 1
	}
	r := &Runner{
		opts:   opts,
		act:    act,
		units:  make(map[string]Unit, len(units)),
		logger: logging.For("runner").With().Str("action", opts.Action).Logger(),
	}
	for _, u := range units {
		if _, dup := r.units[u.Name()]; dup {
			return nil, fmt.Errorf("component %s given twice", u.Name())
		}
		r.units[u.Name()] = u
		r.names = append(r.names, u.Name())
	}
	return r, nil
}

// Actions lists the supported action names.
func Actions() []string {
	names := make([]string, 0, len(actions))
	for n := range actions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Run executes the action. The returned error is non-nil when the start
// hook refused to run or any component failed; the summary is returned
// whenever components ran.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	r.began = time.Now()
	r.halted.Store(false)
	r.summary = &Summary{
		RunID:    uuid.NewString(),
		Action:   r.opts.Action,
		Statuses: make(map[string][]component.AppStatus),
	}
	r.logger = r.logger.With().Str("run_id", r.summary.RunID).Logger()

	levels, err := r.levels()
	if err != nil {
		return nil, err
	}
	if err := r.startHook(levels); err != nil {
		return nil, err
	}
	r.run(ctx, levels)
	r.summary.Elapsed = time.Since(r.began)
	r.endHook()

	if !r.summary.OK() {
		return r.summary, fmt.Errorf("%s failed for %s", r.opts.Action, strings.Join(r.summary.Failed, ", "))
	}
	return r.summary, nil
}

func (r *Runner) levels() ([][]string, error) {
	deps := make(map[string][]string, len(r.units))
	overrides := make(map[string]int)
	for name, u := range r.units {
		deps[name] = u.Dependencies()
		if p, ok := u.Priority(); ok {
			overrides[name] = p
		}
	}
	levels, err := resolver.Levels(r.names, deps, resolver.Priorities(overrides))
	if err != nil {
		return nil, err
	}
	if r.act.reverse {
		levels = resolver.Reverse(levels)
	}
	return levels, nil
}

// startHook verifies every component before any of them runs.
func (r *Runner) startHook(levels [][]string) error {
	order := resolver.Flatten(levels)
	var errs []error
	for _, name := range order {
		if err := r.units[name].Verify(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	if r.act.check != nil {
		if err := r.act.check(r, order); err != nil {
			return err
		}
	}
	if r.opts.Exec != nil && r.opts.Run.RootDir != "" {
		if _, err := r.opts.Exec.Mkdirslist(r.opts.Run.RootDir, nil); err != nil {
			return err
		}
	}
	r.logger.Info().Strs("order", order).Int("jobs", r.opts.Run.Jobs).Bool("dryrun", r.opts.Run.DryRun).Msg("Starting")
	return nil
}

// run walks the levels. Components within a level run concurrently, limited
// by Jobs. Once a component of a halting action fails, no further component
// starts; those already running finish.
func (r *Runner) run(ctx context.Context, levels [][]string) {
	for _, level := range levels {
		var g errgroup.Group
		g.SetLimit(r.opts.Run.Jobs)
		for _, name := range level {
			u := r.units[name]
			g.Go(func() error { return r.runUnit(ctx, u) })
		}
		_ = g.Wait()
	}
}

// runUnit runs the action's phases for one component, stopping at the first
// failure.
func (r *Runner) runUnit(ctx context.Context, u Unit) error {
	if r.halted.Load() {
		r.skip(u.Name(), "an earlier component failed")
		return nil
	}
	if r.act.skip != nil {
		if reason := r.act.skip(r, u); reason != "" {
			r.skip(u.Name(), reason)
			return nil
		}
	}
	log := r.logger.With().Str("component", u.Name()).Logger()
	for _, ph := range r.act.phases {
		began := time.Now()
		n, err := ph.run(r, ctx, u)
		res := Result{Component: u.Name(), Phase: ph.name, Count: n, Err: err, Elapsed: time.Since(began)}
		r.record(res)
		if err != nil {
			log.Error().Err(err).Str("phase", ph.name).Msg("Phase failed")
			r.fail(u.Name())
			if r.act.halt {
				r.halted.Store(true)
			}
			return fmt.Errorf("%s %s: %w", u.Name(), ph.name, err)
		}
		log.Info().Str("phase", ph.name).Int("count", n).Dur("elapsed", res.Elapsed).Msg("Phase done")
	}
	return nil
}

func (r *Runner) record(res Result) {
	r.mu.Lock()
	r.summary.Results = append(r.summary.Results, res)
	r.mu.Unlock()

	entry := audit.Entry{
		RunID:     r.summary.RunID,
		Action:    r.opts.Action,
		Component: res.Component,
		Phase:     res.Phase,
		Outcome:   "success",
		Detail:    fmt.Sprintf("%d in %s", res.Count, res.Elapsed.Round(time.Millisecond)),
	}
	if res.Err != nil {
		entry.Outcome = "failure"
		entry.Error = res.Err.Error()
	}
	if err := r.opts.Audit.Append(entry); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to write history")
	}
}

func (r *Runner) fail(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Failed = append(r.summary.Failed, name)
}

func (r *Runner) skip(name, reason string) {
	r.mu.Lock()
	r.summary.Skipped = append(r.summary.Skipped, name)
	r.mu.Unlock()
	r.logger.Info().Str("component", name).Str("reason", reason).Msg("Skipped")
	if err := r.opts.Audit.Append(audit.Entry{
		RunID:     r.summary.RunID,
		Action:    r.opts.Action,
		Component: name,
		Outcome:   "skipped",
		Detail:    reason,
	}); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to write history")
	}
}

func (r *Runner) setStatuses(name string, st []component.AppStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Statuses[name] = st
}

func (r *Runner) endHook() {
	s := r.summary
	slices.Sort(s.Failed)
	slices.Sort(s.Skipped)
	if err := Report(r.opts.Out, s, r.names); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to print report")
	}
	logging.LogDuration(r.logger, r.began, r.opts.Action)
}

// installedOutsideRun reports whether dep, which this run does not handle,
// has an install journal under the root.
func (r *Runner) installedOutsideRun(dep string) bool {
	return journal.NewReader(component.InstallTracePath(r.opts.Run.RootDir, dep)).Exists()
}
