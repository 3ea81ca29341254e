package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/atomikpanda/anvil/internal/audit"
	"github.com/atomikpanda/anvil/internal/color"
	"github.com/atomikpanda/anvil/internal/component"
	"github.com/atomikpanda/anvil/internal/distro"
	"github.com/atomikpanda/anvil/internal/downloader"
	"github.com/atomikpanda/anvil/internal/keyring"
	"github.com/atomikpanda/anvil/internal/logging"
	"github.com/atomikpanda/anvil/internal/packager"
	"github.com/atomikpanda/anvil/internal/persona"
	"github.com/atomikpanda/anvil/internal/platform"
	"github.com/atomikpanda/anvil/internal/runner"
	"github.com/atomikpanda/anvil/internal/settings"
	"github.com/atomikpanda/anvil/internal/shell"
)

// options holds the parsed command line. Fields backed by settings are
// filled from the settings file unless given explicitly.
type options struct {
	action    string
	persona   string
	directory string
	jobs      int
	verbose   int
	keyring   string
	distros   string
	templates string
	keepOld   bool
	noPrompt  bool

	dryRun     bool
	force      bool
	components []string

	settingsFile string
	historyFile  string
	logFile      string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := buildRoot().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	return newRoot(&options{})
}

func newRoot(o *options) *cobra.Command {
	root := &cobra.Command{
		Use:   "anvil",
		Short: "Install, configure and run a development stack",
		Long: `anvil installs the components a persona asks for on the detected distro,
configures them from templates, starts and stops their apps, and uninstalls
them again from the journal written while installing.`,
		Example: `  anvil -a install -p conf/personas/devstack.yaml
  anvil -a start -j 4
  anvil -a uninstall --dryrun -v`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAction(cmd, o)
		},
	}

	f := root.PersistentFlags()
	f.StringVarP(&o.action, "action", "a", "", "action to run: "+strings.Join(runner.Actions(), ", "))
	f.StringVarP(&o.persona, "persona", "p", "", "persona file naming the components")
	f.StringVarP(&o.directory, "directory", "d", "", "root directory components are installed under")
	f.IntVarP(&o.jobs, "jobs", "j", 0, "components run in parallel within one dependency level")
	f.BoolVar(&o.dryRun, "dryrun", false, "log what would happen without changing anything")
	f.CountVarP(&o.verbose, "verbose", "v", "more logging (repeat for more)")
	f.StringVar(&o.keyring, "keyring", "", "password keyring file")
	f.StringVar(&o.distros, "distros", "", "directory of distro descriptors")
	f.StringVar(&o.templates, "templates", "", "directory of config templates")
	f.BoolVar(&o.keepOld, "keep-old", false, "leave packages installed on uninstall")
	f.BoolVar(&o.force, "force", false, "install over an existing install journal")
	f.BoolVar(&o.noPrompt, "no-prompt", false, "generate missing passwords instead of asking")
	f.StringSliceVarP(&o.components, "component", "c", nil, "limit the run to these persona components")
	f.StringVar(&o.settingsFile, "settings", settings.DefaultPath(), "settings file")
	f.StringVar(&o.historyFile, "history-file", audit.DefaultPath(), "run history file")
	f.StringVar(&o.logFile, "log-file", logging.DefaultLogFile(), "log file")
	for _, name := range []string{"settings", "history-file", "log-file"} {
		_ = f.MarkHidden(name)
	}

	root.AddCommand(distroCmd(o), historyCmd(o))
	return root
}

// load reads the settings file and merges it with the explicit flags. The
// returned settings are what gets saved after a run.
func load(cmd *cobra.Command, o *options) (settings.Settings, error) {
	s, err := settings.Load(o.settingsFile)
	if err != nil {
		return s, err
	}
	merge(cmd, o, &s)
	logging.Setup(o.verbose, o.logFile)
	color.Init(cmd.OutOrStdout())
	return s, nil
}

// merge lets explicit flags win over s, and fills the rest of o from s.
func merge(cmd *cobra.Command, o *options, s *settings.Settings) {
	changed := cmd.Flags().Changed
	str := func(name string, flag, saved *string) {
		if changed(name) {
			*saved = *flag
		} else {
			*flag = *saved
		}
	}
	str("action", &o.action, &s.Action)
	str("persona", &o.persona, &s.Persona)
	str("directory", &o.directory, &s.Directory)
	str("keyring", &o.keyring, &s.Keyring)
	str("distros", &o.distros, &s.Distros)
	str("templates", &o.templates, &s.Templates)
	if changed("jobs") {
		s.Jobs = o.jobs
	} else {
		o.jobs = s.Jobs
	}
	if changed("verbose") {
		s.Verbose = o.verbose
	} else {
		o.verbose = s.Verbose
	}
	if changed("keep-old") {
		s.KeepOld = o.keepOld
	} else {
		o.keepOld = s.KeepOld
	}
	if changed("no-prompt") {
		s.NoPrompt = o.noPrompt
	} else {
		o.noPrompt = s.NoPrompt
	}
}

func runAction(cmd *cobra.Command, o *options) error {
	s, err := load(cmd, o)
	if err != nil {
		return err
	}
	logger := logging.For("anvil")

	root, err := filepath.Abs(platform.ExpandPath(o.directory))
	if err != nil {
		return fmt.Errorf("resolve directory: %w", err)
	}
	rc := shell.RunContext{
		DryRun:     o.dryRun,
		RootDir:    root,
		KeepOld:    o.keepOld,
		Force:      o.force,
		Jobs:       o.jobs,
		Privileges: shell.DetectPrivileges(),
	}
	exec := shell.New(rc)

	d, err := distro.Sniff(o.distros)
	if err != nil {
		return err
	}
	p, err := persona.Load(o.persona)
	if err != nil {
		return err
	}
	if err := p.Verify(d); err != nil {
		return err
	}
	names, err := p.Select(o.components)
	if err != nil {
		return err
	}
	logger.Info().Str("distro", d.Name).Str("persona", p.Path()).Strs("components", names).Msg("Loaded")

	var prompt keyring.Prompter
	if !o.noPrompt {
		prompt = keyring.HuhPrompt
	}
	kr, err := keyring.Open(platform.ExpandPath(o.keyring), keyring.KeyFromEnv(), prompt)
	if err != nil {
		return err
	}
	facade, err := packager.NewFacade(exec, d, d.DefaultPackager, rc.KeepOld)
	if err != nil {
		return err
	}
	set, err := component.NewSet(names, d, p.Subsystems, p.Options, component.Deps{
		Run:        rc,
		Exec:       exec,
		Packager:   facade,
		Downloader: downloader.New(exec, d),
		Distro:     d,
		Passwords:  kr,
		Templates:  o.templates,
		Out:        cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	units := make([]runner.Unit, 0, len(names))
	for _, name := range names {
		units = append(units, set[name])
	}

	r, err := runner.New(units, runner.Options{
		Action: o.action,
		Run:    rc,
		Exec:   exec,
		Out:    cmd.OutOrStdout(),
		Audit:  audit.Open(o.historyFile),
	})
	if err != nil {
		return err
	}
	_, runErr := r.Run(cmd.Context())

	if o.dryRun {
		return runErr
	}
	if runner.KeepsPasswords(o.action) {
		if err := kr.Save(); err != nil {
			logger.Error().Err(err).Msg("Failed to save keyring")
		}
	}
	if err := settings.Save(o.settingsFile, s); err != nil {
		logger.Error().Err(err).Msg("Failed to save settings")
	}
	return runErr
}

// --- distro ------------------------------------------------------------------

func distroCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "distro",
		Short: "Show the detected platform and the distro descriptor chosen for it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := load(cmd, o); err != nil {
				return err
			}
			plat, err := platform.Describe()
			if err != nil {
				return err
			}
			d, err := distro.Sniff(o.distros)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s  %s\n", color.Bold("platform:"), plat)
			fmt.Fprintf(w, "%s  %s\n", color.Bold("distro:  "), d.Name)
			fmt.Fprintf(w, "%s  %s\n", color.Bold("packager:"), d.DefaultPackager)
			fmt.Fprintf(w, "%s  %s\n", color.Bold("provides:"), strings.Join(d.ComponentNames(), ", "))
			return nil
		},
	}
}

// --- history -----------------------------------------------------------------

func historyCmd(o *options) *cobra.Command {
	var (
		runID string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the phases recorded by earlier runs",
		Example: `  anvil history
  anvil history -a install -c db --limit 0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			color.Init(cmd.OutOrStdout())
			filter := audit.Filter{RunID: runID}
			if cmd.Flags().Changed("action") {
				filter.Action = o.action
			}
			switch len(o.components) {
			case 0:
			case 1:
				filter.Component = o.components[0]
			default:
				return fmt.Errorf("history filters on one component, got %d", len(o.components))
			}

			log := audit.Open(o.historyFile)
			entries, err := log.Read(filter, limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(w, "(no history)")
				return nil
			}
			fmt.Fprintln(w, color.Bold(fmt.Sprintf("%-20s  %-9s  %-14s  %-14s  %-8s  %s",
				"TIME", "ACTION", "COMPONENT", "PHASE", "OUTCOME", "DETAIL")))
			fmt.Fprintln(w, color.Dim(strings.Repeat("-", 90)))
			for _, e := range entries {
				detail := e.Detail
				if e.Error != "" {
					detail = e.Error
				}
				fmt.Fprintf(w, "%-20s  %-9s  %-14s  %-14s  %s  %s\n",
					e.Time.Local().Format(time.DateTime),
					e.Action, e.Component, e.Phase,
					color.Outcome(fmt.Sprintf("%-8s", e.Outcome)),
					detail)
			}
			fmt.Fprintf(w, "\nhistory: %s\n", log.Path())
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "only entries of this run id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries to show (0 for all)")
	return cmd
}
