package component

import (
	"context"
	"path/filepath"
	"slices"
	"strings"

	"github.com/atomikpanda/anvil/internal/journal"
	"github.com/atomikpanda/anvil/internal/packager"
	"github.com/atomikpanda/anvil/internal/shell"
)

func (c *Component) installReader() *journal.Reader {
	return journal.NewReader(c.installTracePath())
}

// Unconfigure removes the config files and symlinks the install wrote.
func (c *Component) Unconfigure(ctx context.Context) (int, error) {
	r := c.installReader()
	links, err := r.SymlinksMade()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, l := range links {
		unlink := func(e *shell.Executor) error { return e.Unlink(l) }
		if c.insideRoot(l) {
			err = unlink(c.deps.Exec)
		} else {
			err = c.deps.Exec.Rooted(unlink)
		}
		if err != nil {
			return n, err
		}
		n++
	}
	files, err := r.FilesConfigured()
	if err != nil {
		return n, err
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := c.deps.Exec.Unlink(f); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// PreUninstall undoes installer specific steps, such as python develop mode.
func (c *Component) PreUninstall(ctx context.Context) (int, error) {
	return c.installer.preUninstall(ctx, c, c.installReader())
}

// Uninstall removes recorded packages, pips, touched files and directories.
// Directories named in keep_dirs, their ancestors and the directories
// holding the journal itself are left for later.
func (c *Component) Uninstall(ctx context.Context) (int, error) {
	r := c.installReader()
	n := 0

	pkgs, err := r.PackagesInstalled()
	if err != nil {
		return 0, err
	}
	pips, err := r.PipsInstalled()
	if err != nil {
		return 0, err
	}
	// pips were installed after system packages and go first
	records := append(slices.Clone(pips), pkgs...)
	for _, rec := range records {
		removable := rec.Removable
		removed, err := c.deps.Packager.Remove(ctx, packager.Package{
			Name:      rec.Name,
			Version:   rec.Version,
			Packager:  rec.Packager,
			Removable: &removable,
		})
		if err != nil {
			return n, err
		}
		if removed {
			n++
		}
	}

	files, err := r.FilesTouched()
	if err != nil {
		return n, err
	}
	for _, f := range files {
		if c.keptFile(f) {
			continue
		}
		if err := c.deps.Exec.Unlink(f); err != nil {
			return n, err
		}
		n++
	}

	dirs, err := r.DirsMade()
	if err != nil {
		return n, err
	}
	for _, d := range dirs {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if c.kept(d) || c.holdsJournal(d) {
			continue
		}
		if err := c.deps.Exec.DelDir(d); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// PostUninstall deletes the install journal, then the directories that held
// it. The runner only gets here when every earlier phase succeeded.
func (c *Component) PostUninstall(ctx context.Context) (int, error) {
	r := c.installReader()
	dirs, err := r.DirsMade()
	if err != nil {
		return 0, err
	}
	if c.deps.Run.DryRun {
		c.logger.Debug().Str("path", r.Path()).Msg("[dry-run] remove install journal")
		return 0, nil
	}
	if err := r.Remove(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.install = nil
	c.mu.Unlock()

	n := 0
	if journal.NewReader(c.startTracePath()).Exists() {
		c.logger.Warn().Msg("Apps still recorded as started, leaving the component directory")
		return n, nil
	}
	for _, d := range dirs {
		if !c.holdsJournal(d) || c.kept(d) {
			continue
		}
		if err := c.deps.Exec.DelDir(d); err != nil {
			return n, err
		}
		n++
	}
	// the traces directory is created with the journal and never recorded
	traces := c.Dirs().Traces
	for _, d := range []string{traces, filepath.Dir(traces)} {
		if err := c.deps.Exec.RmDir(d); err != nil {
			return n, err
		}
	}
	return n, nil
}

// kept reports whether removing d would remove a keep_dirs entry.
func (c *Component) kept(d string) bool {
	for _, k := range c.spec.KeepDirs {
		if !filepath.IsAbs(k) {
			k = filepath.Join(c.Dirs().Root, k)
		}
		if k == d || within(d, k) {
			return true
		}
	}
	return false
}

// keptFile reports whether p lies inside a directory named in keep_dirs.
func (c *Component) keptFile(p string) bool {
	for _, k := range c.spec.KeepDirs {
		if !filepath.IsAbs(k) {
			k = filepath.Join(c.Dirs().Root, k)
		}
		if within(k, p) {
			return true
		}
	}
	return false
}

// holdsJournal reports whether d contains the traces directory.
func (c *Component) holdsJournal(d string) bool {
	traces := c.Dirs().Traces
	return d == traces || within(d, traces)
}

// within reports whether p lies strictly below dir.
func within(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !filepath.IsAbs(rel) && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
