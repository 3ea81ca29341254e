package component

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/atomikpanda/anvil/internal/journal"
	"github.com/atomikpanda/anvil/internal/progress"
	"github.com/atomikpanda/anvil/internal/shell"
	"github.com/atomikpanda/anvil/internal/template"
)

// installJournal returns the install writer, opening it on first use. Unless
// the run is forced, an existing install journal fails the first phase
// before anything is changed.
func (c *Component) installJournal() (*journal.Writer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.install != nil {
		return c.install, nil
	}
	w, err := journal.NewWriter(c.installTracePath(), !c.deps.Run.Force, c.deps.Run.DryRun)
	if err != nil {
		return nil, fmt.Errorf("component %s: %w", c.name, err)
	}
	c.install = w
	return w, nil
}

// InstallJournal exposes the writer of the current install, if one was opened.
func (c *Component) InstallJournal() *journal.Writer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.install
}

// Download creates the component's directories and an empty log file per
// app, then fetches its sources into the app directory.
func (c *Component) Download(ctx context.Context) (int, error) {
	w, err := c.installJournal()
	if err != nil {
		return 0, err
	}
	d := c.Dirs()
	for _, dir := range []string{d.App, d.Config, d.Logs} {
		if _, err := c.deps.Exec.Mkdirslist(dir, w.DirsMade); err != nil {
			return 0, err
		}
	}
	for _, app := range c.apps() {
		if err := c.deps.Exec.Touch(c.logFile(app.Name), w.FileTouched); err != nil {
			return 0, err
		}
	}
	n := 0
	for _, src := range c.spec.Downloads {
		target := src.Target
		if target == "" {
			target = strings.TrimSuffix(filepath.Base(src.URI), ".git")
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(d.App, target)
		}
		c.logger.Info().Str("uri", src.URI).Str("target", target).Msg("Downloading")
		if _, err := c.deps.Downloader.Download(ctx, src.URI, target, src.Ref, w.DirsMade); err != nil {
			return n, fmt.Errorf("download %s: %w", src.URI, err)
		}
		if err := w.DownloadHappened(journal.DownloadRecord{URI: src.URI, Target: target, Ref: src.Ref}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Configure renders config templates into the config directory and makes
// the configured symlinks.
func (c *Component) Configure(ctx context.Context) (int, error) {
	w, err := c.installJournal()
	if err != nil {
		return 0, err
	}
	params, err := c.Params()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, cf := range c.spec.ConfigFiles {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		adjust, err := lookupAdjuster(cf.Adjust)
		if err != nil {
			return n, err
		}
		contents, err := template.RenderFile(filepath.Join(c.deps.Templates, cf.Source), params)
		if err != nil {
			return n, fmt.Errorf("configure %s: %w", cf.Target, err)
		}
		target := c.configPath(cf.Target)
		if _, err := c.deps.Exec.Mkdirslist(filepath.Dir(target), w.DirsMade); err != nil {
			return n, err
		}
		if err := c.deps.Exec.WriteFile(target, []byte(adjust(contents)), w.CfgFileWritten); err != nil {
			return n, err
		}
		c.logger.Debug().Str("path", target).Msg("Wrote config")
		n++
	}

	links := c.links()
	for _, l := range links {
		if err := c.symlink(l.source, l.link, w); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

type link struct {
	source string
	link   string
}

// links lists the configured symlinks with the deepest link paths first.
func (c *Component) links() []link {
	var out []link
	for target, paths := range c.spec.Symlinks {
		for _, p := range paths {
			if !filepath.IsAbs(p) {
				p = filepath.Join(c.Dirs().Root, p)
			}
			out = append(out, link{source: c.configPath(target), link: p})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].link > out[j].link })
	return out
}

func (c *Component) configPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Dirs().Config, name)
}

// symlink makes a link, as root when the link lives outside the install root.
func (c *Component) symlink(source, linkPath string, w *journal.Writer) error {
	mk := func(e *shell.Executor) error {
		if _, err := e.Mkdirslist(filepath.Dir(linkPath), w.DirsMade); err != nil {
			return err
		}
		return e.Symlink(source, linkPath, w.SymlinkMade)
	}
	if c.insideRoot(linkPath) {
		return mk(c.deps.Exec)
	}
	return c.deps.Exec.Rooted(mk)
}

func (c *Component) insideRoot(p string) bool {
	root := filepath.Clean(c.deps.Run.RootDir)
	return filepath.Clean(p) == root || within(root, p)
}

// PreInstall runs the packages' pre-install hooks.
func (c *Component) PreInstall(ctx context.Context) (int, error) {
	return c.runPackageHooks(ctx, true)
}

// Install installs packages according to the component's installer kind.
func (c *Component) Install(ctx context.Context) (int, error) {
	w, err := c.installJournal()
	if err != nil {
		return 0, err
	}
	params, err := c.Params()
	if err != nil {
		return 0, err
	}
	return c.installer.install(ctx, c, w, params)
}

// PostInstall runs the packages' post-install hooks.
func (c *Component) PostInstall(ctx context.Context) (int, error) {
	return c.runPackageHooks(ctx, false)
}

func (c *Component) runPackageHooks(ctx context.Context, pre bool) (int, error) {
	params, err := c.Params()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, pkg := range c.packages() {
		hooks := pkg.PostInstall
		run := c.deps.Packager.PostInstall
		if pre {
			hooks = pkg.PreInstall
			run = c.deps.Packager.PreInstall
		}
		if len(hooks) == 0 {
			continue
		}
		if err := run(ctx, pkg, params); err != nil {
			return n, err
		}
		n += len(hooks)
	}
	return n, nil
}

// installPackages installs the system packages, journaling each one after it
// succeeds.
func (c *Component) installPackages(ctx context.Context, w *journal.Writer) (int, error) {
	pkgs := c.packages()
	bar := progress.Start(c.deps.Out, "Installing "+c.name, len(pkgs))
	defer bar.Stop()
	for i, pkg := range pkgs {
		if err := c.deps.Packager.Install(ctx, pkg); err != nil {
			return i, err
		}
		if err := w.PackageInstalled(journal.PackageRecord{
			Name:      pkg.Name,
			Version:   pkg.Version,
			Packager:  c.deps.Packager.BackendName(pkg),
			Removable: pkg.IsRemovable(),
		}); err != nil {
			return i, err
		}
		bar.Step(pkg.String())
	}
	return len(pkgs), nil
}
