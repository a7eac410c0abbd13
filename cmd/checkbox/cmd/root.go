// Package cmd assembles the checkbox command tree.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/canonical/checkbox-sub003/internal/app"
	"github.com/canonical/checkbox-sub003/internal/launcher"
)

// rootFlags collects the persistent flags shared by every subcommand.
type rootFlags struct {
	configFile string
	config     app.Config
	manifest   []string
}

// RootCmd is the root Cobra command that gets called from the main
// func. All subcommands are registered here.
func RootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "checkbox",
		Short:         "checkbox runs hardware test plans and survives reboots doing it.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "Path to a launcher config file (YAML).")
	pf.StringVar(&flags.config.ProviderPath, "provider", "", "Directory holding unit definition files.")
	pf.StringVar(&flags.config.SessionDir, "session-dir", "", "Directory for session state.")
	pf.StringVar(&flags.config.Namespace, "namespace", "", "Implicit namespace for bare unit ids.")
	pf.StringVar(&flags.config.LogFormat, "log-format", "", "Log output format: 'text' or 'json'.")
	pf.StringVar(&flags.config.LogLevel, "log-level", "", "Log level: 'debug', 'info', 'warn', or 'error'.")
	pf.StringVar(&flags.config.ResumePolicy, "resume-policy", "",
		"Fate of a no-return job found in flight on restart: 'pass', 'crash', or 'rerun'.")
	pf.StringArrayVar(&flags.manifest, "manifest", nil,
		"Hardware manifest entry as key=value; repeatable.")

	root.AddCommand(
		runCmd(flags),
		resumeCmd(flags),
		listCmd(flags),
		workerCmd(),
	)
	return root
}

// build resolves the effective configuration and constructs the App.
func build(flags *rootFlags) (*app.App, error) {
	cfg := flags.config

	if len(flags.manifest) > 0 {
		cfg.Manifest = make(map[string]string, len(flags.manifest))
		for _, entry := range flags.manifest {
			key, value, ok := strings.Cut(entry, "=")
			if !ok {
				return nil, fmt.Errorf("invalid manifest entry %q: want key=value", entry)
			}
			cfg.Manifest[key] = value
		}
	}

	if flags.configFile != "" {
		merged, err := app.MergeFile(cfg, flags.configFile)
		if err != nil {
			return nil, err
		}
		cfg = merged
	}

	validated, err := app.NewConfig(cfg)
	if err != nil {
		return nil, err
	}
	return app.New(os.Stdout, validated), nil
}

func runCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run TEST_PLAN",
		Short: "Start a fresh session for a test plan.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.config.TestPlan = args[0]
			a, err := build(flags)
			if err != nil {
				return err
			}
			return a.RunSession(cmd.Context())
		},
	}
	return cmd
}

func resumeCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume TEST_PLAN",
		Short: "Continue the session left in the session directory.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.config.TestPlan = args[0]
			a, err := build(flags)
			if err != nil {
				return err
			}
			return a.ResumeSession(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&flags.config.DiscardOnMismatch, "discard-on-mismatch", false,
		"Restart from scratch when the snapshot no longer matches the catalog.")
	return cmd
}

func listCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the catalog's jobs, templates, and test plans.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build(flags)
			if err != nil {
				return err
			}
			return a.List(cmd.Context())
		},
	}
}

// workerCmd is the privileged half of the launcher. It is not meant to
// be invoked by operators; the supervisor spawns it.
func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    launcher.WorkerSubcommand,
		Short:  "Run one validated launch request from stdin (internal).",
		Args:   cobra.NoArgs,
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return launcher.RunWorker(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
}
