package component

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/juju/retry"

	"github.com/atomikpanda/anvil/internal/distro"
	"github.com/atomikpanda/anvil/internal/journal"
)

// Status values reported for apps.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
	StatusUnknown = "unknown"
)

// AppStatus is the observed state of one app.
type AppStatus struct {
	Name    string
	Status  string
	Details string
}

// StatusError means apps did not become active in time.
type StatusError struct {
	Component string
	Apps      []AppStatus
}

func (e *StatusError) Error() string {
	var parts []string
	for _, a := range e.Apps {
		if a.Status != StatusRunning {
			parts = append(parts, a.Name+" is "+a.Status)
		}
	}
	return fmt.Sprintf("component %s not active: %s", e.Component, strings.Join(parts, ", "))
}

var errNotActive = errors.New("apps not active yet")

// Start starts every app that is not already running and journals each start.
func (c *Component) Start(ctx context.Context) (int, error) {
	params, err := c.Params()
	if err != nil {
		return 0, err
	}
	apps := c.apps()
	if len(apps) == 0 {
		return 0, nil
	}
	w, err := journal.NewWriter(c.startTracePath(), false, c.deps.Run.DryRun)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, app := range apps {
		if st := c.runtime.status(ctx, c, app, params); st.Status == StatusRunning {
			c.logger.Info().Str("app", app.Name).Msg("Already running")
			continue
		}
		c.logger.Info().Str("app", app.Name).Str("how", c.runtime.kind()).Msg("Starting")
		if err := c.runtime.start(ctx, c, app, params); err != nil {
			return n, fmt.Errorf("start %s: %w", app.Name, err)
		}
		if err := w.AppStarted(journal.AppRecord{Name: app.Name, How: c.runtime.kind(), Subsystem: app.Subsystem}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Stop stops the apps the start journal names, then deletes the journal.
func (c *Component) Stop(ctx context.Context) (int, error) {
	r := journal.NewReader(c.startTracePath())
	if !r.Exists() {
		return 0, nil
	}
	params, err := c.Params()
	if err != nil {
		return 0, err
	}
	started, err := r.AppsStarted()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range started {
		app := c.app(rec.Name)
		c.logger.Info().Str("app", app.Name).Msg("Stopping")
		if err := c.runtime.stop(ctx, c, app, params); err != nil {
			return n, fmt.Errorf("stop %s: %w", app.Name, err)
		}
		n++
	}
	if c.deps.Run.DryRun {
		return n, nil
	}
	return n, r.Remove()
}

// Status queries every app. It never changes anything.
func (c *Component) Status(ctx context.Context) ([]AppStatus, error) {
	params, err := c.Params()
	if err != nil {
		return nil, err
	}
	var out []AppStatus
	for _, app := range c.apps() {
		out = append(out, c.runtime.status(ctx, c, app, params))
	}
	return out, nil
}

// Restart stops then starts the component.
func (c *Component) Restart(ctx context.Context) (int, error) {
	stopped, err := c.Stop(ctx)
	if err != nil {
		return stopped, err
	}
	started, err := c.Start(ctx)
	return stopped + started, err
}

// WaitActive polls Status with doubling delays until every app runs or the
// attempts run out.
func (c *Component) WaitActive(ctx context.Context) error {
	if c.deps.Run.DryRun || c.runtime.kind() == "empty" || len(c.apps()) == 0 {
		return nil
	}
	var last []AppStatus
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			statuses, err := c.Status(ctx)
			if err != nil {
				return err
			}
			last = statuses
			for _, s := range statuses {
				if s.Status != StatusRunning {
					return errNotActive
				}
			}
			return nil
		},
		IsFatalError: func(err error) bool { return !errors.Is(err, errNotActive) },
		NotifyFunc: func(_ error, attempt int) {
			c.logger.Debug().Int("attempt", attempt).Msg("Waiting for apps")
		},
		Attempts:    c.deps.WaitAttempts,
		Delay:       c.deps.WaitDelay,
		MaxDelay:    30 * time.Second,
		BackoffFunc: retry.DoubleDelay,
		Clock:       c.deps.Clock,
		Stop:        ctx.Done(),
	})
	switch {
	case err == nil:
		return nil
	case retry.IsAttemptsExceeded(err):
		return &StatusError{Component: c.name, Apps: last}
	case retry.IsRetryStopped(err):
		return ctx.Err()
	}
	return err
}

// app finds a started app's definition. Apps dropped from the distro since
// they were started keep only their name.
func (c *Component) app(name string) distro.App {
	for _, a := range c.spec.Apps {
		if a.Name == name {
			return a
		}
	}
	return distro.App{Name: name}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
