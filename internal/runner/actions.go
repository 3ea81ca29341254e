package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/atomikpanda/anvil/internal/component"
	"github.com/atomikpanda/anvil/internal/journal"
)

// phase is one step an action runs for each component.
type phase struct {
	name string
	run  func(r *Runner, ctx context.Context, u Unit) (int, error)
}

// action describes one top-level operation.
type action struct {
	phases []phase
	// reverse runs dependents before their dependencies.
	reverse bool
	// halt starts no further component once one failed.
	halt bool
	// keeps marks actions whose resolved passwords outlive the run.
	keeps bool
	// check runs once before anything changes.
	check func(r *Runner, order []string) error
	// skip returns a reason to leave a component alone.
	skip func(r *Runner, u Unit) string
}

func step(name string, fn func(Unit, context.Context) (int, error)) phase {
	return phase{name: name, run: func(_ *Runner, ctx context.Context, u Unit) (int, error) {
		return fn(u, ctx)
	}}
}

var (
	waitPhase = phase{name: "wait", run: func(_ *Runner, ctx context.Context, u Unit) (int, error) {
		return 0, u.WaitActive(ctx)
	}}
	statusPhase = phase{name: "status", run: func(r *Runner, ctx context.Context, u Unit) (int, error) {
		st, err := u.Status(ctx)
		if err != nil {
			return 0, err
		}
		r.setStatuses(u.Name(), st)
		return len(st), nil
	}}
)

var actions = map[string]action{
	"install": {
		phases: []phase{
			step("download", Unit.Download),
			step("configure", Unit.Configure),
			step("pre-install", Unit.PreInstall),
			step("install", Unit.Install),
			step("post-install", Unit.PostInstall),
		},
		halt:  true,
		keeps: true,
		check: checkInstall,
	},
	"uninstall": {
		phases: []phase{
			step("unconfigure", Unit.Unconfigure),
			step("pre-uninstall", Unit.PreUninstall),
			step("uninstall", Unit.Uninstall),
			step("post-uninstall", Unit.PostUninstall),
		},
		reverse: true,
		halt:    true,
		check:   checkStopped,
		skip:    skipUninstalled,
	},
	"start": {
		phases: []phase{
			step("start", Unit.Start),
			waitPhase,
		},
		halt:  true,
		keeps: true,
		check: checkInstalled,
	},
	"restart": {
		phases: []phase{
			step("restart", Unit.Restart),
			waitPhase,
		},
		halt:  true,
		keeps: true,
		check: checkInstalled,
	},
	"stop": {
		phases: []phase{
			step("stop", Unit.Stop),
		},
		reverse: true,
	},
	"status": {
		phases: []phase{statusPhase},
	},
}

// KeepsPasswords reports whether passwords resolved while running action
// should be saved to the keyring. Actions that only look at or tear down an
// install leave the keyring alone.
func KeepsPasswords(action string) bool {
	return actions[action].keeps
}

// checkInstall refuses to install over an existing install journal unless
// forced, and wants every dependency either in this run or already installed.
func checkInstall(r *Runner, order []string) error {
	if !r.opts.Run.Force {
		var present []string
		for _, name := range order {
			if r.units[name].State() != component.Uninstalled {
				present = append(present, name)
			}
		}
		if len(present) > 0 {
			return fmt.Errorf("%w for %s: uninstall first or use --force", journal.ErrJournalExists, strings.Join(present, ", "))
		}
	}
	for _, name := range order {
		for _, dep := range r.units[name].Dependencies() {
			if _, ok := r.units[dep]; ok || r.installedOutsideRun(dep) {
				continue
			}
			return fmt.Errorf("component %s depends on %s, which is neither requested nor installed", name, dep)
		}
	}
	return nil
}

// checkInstalled wants every component installed before it is started.
// Dry runs only warn, since nothing was really installed.
func checkInstalled(r *Runner, order []string) error {
	var missing []string
	for _, name := range order {
		if r.units[name].State() == component.Uninstalled {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if r.opts.Run.DryRun {
		r.logger.Warn().Strs("components", missing).Msg("Not installed")
		return nil
	}
	return fmt.Errorf("not installed: %s", strings.Join(missing, ", "))
}

// checkStopped refuses to uninstall components whose apps are still
// recorded as started.
func checkStopped(r *Runner, order []string) error {
	var started []string
	for _, name := range order {
		if r.units[name].State() == component.Started {
			started = append(started, name)
		}
	}
	if len(started) > 0 {
		return fmt.Errorf("stop before uninstalling: %s", strings.Join(started, ", "))
	}
	return nil
}

func skipUninstalled(_ *Runner, u Unit) string {
	if u.State() == component.Uninstalled {
		return "not installed"
	}
	return ""
}
