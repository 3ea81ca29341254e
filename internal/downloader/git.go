package downloader

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/rs/zerolog"

	"github.com/atomikpanda/anvil/internal/logging"
	"github.com/atomikpanda/anvil/internal/shell"
)

// Git clones repositories with the distro's git command lines.
type Git struct {
	exec     *shell.Executor
	clone    []string
	checkout []string
	logger   zerolog.Logger
}

// NewGit returns a git downloader. Commands default to "git clone" and
// "git checkout".
func NewGit(exec *shell.Executor, cmds Commands) *Git {
	g := &Git{
		exec:     exec,
		clone:    []string{"git", "clone"},
		checkout: []string{"git", "checkout"},
		logger:   logging.For("downloader"),
	}
	if c := cmds.CommandQuiet("git", "clone"); len(c) > 0 {
		g.clone = c
	}
	if c := cmds.CommandQuiet("git", "checkout"); len(c) > 0 {
		g.checkout = c
	}
	return g
}

// Download clones uri into target and checks out ref when one is given. A
// target that already holds a checkout is only re-checked-out.
func (g *Git) Download(ctx context.Context, uri, target, ref string, record shell.DirRecorder) ([]string, error) {
	dirs, err := g.exec.Mkdirslist(target, record)
	if err != nil {
		return nil, err
	}
	if shell.Exists(filepath.Join(target, ".git")) {
		g.logger.Info().Str("target", target).Msg("Existing checkout found, skipping clone")
	} else {
		g.logger.Info().Str("uri", uri).Str("target", target).Msg("Cloning")
		args := append(slices.Clone(g.clone), uri, target)
		if _, _, err := g.exec.Execute(ctx, args, shell.ExecOpts{}); err != nil {
			return dirs, fmt.Errorf("clone %s: %w", uri, err)
		}
	}
	if ref != "" {
		args := append(slices.Clone(g.checkout), ref)
		if _, _, err := g.exec.Execute(ctx, args, shell.ExecOpts{Cwd: target}); err != nil {
			return dirs, fmt.Errorf("checkout %s in %s: %w", ref, target, err)
		}
	}
	return dirs, nil
}
