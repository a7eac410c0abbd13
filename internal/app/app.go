// Package app wires the catalog, scheduler, session, and launcher into
// the operations the CLI exposes. Everything here is testable: the App
// writes to an injected writer and builds its own isolated logger.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/canonical/checkbox-sub003/internal/catalog"
	"github.com/canonical/checkbox-sub003/internal/ctxlog"
	"github.com/canonical/checkbox-sub003/internal/jobid"
	"github.com/canonical/checkbox-sub003/internal/launcher"
	"github.com/canonical/checkbox-sub003/internal/run"
	"github.com/canonical/checkbox-sub003/internal/unit"
)

// App encapsulates the application's dependencies and configuration.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config

	// runner overrides the launcher supervisor when set; used by tests.
	runner run.Runner
}

// New constructs an App with its own logger.
func New(outW io.Writer, config *Config) *App {
	return &App{
		outW:   outW,
		logger: newLogger(config.LogLevel, config.LogFormat, os.Stderr),
		config: config,
	}
}

// RunSession starts a fresh session for the configured test plan and
// drives it as far as it will go in this process lifetime.
func (a *App) RunSession(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	cat, plan, err := a.loadPlan(ctx)
	if err != nil {
		return err
	}
	opts, err := a.sessionOptions()
	if err != nil {
		return err
	}

	session, err := run.New(ctx, opts, cat, plan)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	if err := session.Run(ctx); err != nil {
		return err
	}
	return a.printSummary(session)
}

// ResumeSession reopens the session in the configured directory and
// continues it.
func (a *App) ResumeSession(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	cat, plan, err := a.loadPlan(ctx)
	if err != nil {
		return err
	}
	opts, err := a.sessionOptions()
	if err != nil {
		return err
	}

	session, err := run.Resume(ctx, opts, cat, plan)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	if err := session.Run(ctx); err != nil {
		return err
	}
	return a.printSummary(session)
}

// List prints the catalog's jobs and test plans.
func (a *App) List(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	cat, err := a.loadCatalog(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.outW, 0, 4, 2, ' ', 0)
	for _, job := range cat.Jobs() {
		fmt.Fprintf(w, "job\t%s\t%s\t%s\n", job.ID, job.Kind, job.Summary)
	}
	for _, tmpl := range cat.Templates() {
		fmt.Fprintf(w, "template\t%s\tfrom %s\t\n", tmpl.ID, tmpl.ResourceID)
	}
	for _, plan := range cat.TestPlans() {
		fmt.Fprintf(w, "test-plan\t%s\t\t%s\n", plan.ID, plan.Summary)
	}
	return w.Flush()
}

func (a *App) loadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	cat, err := catalog.Load(ctx, a.config.Namespace, a.config.ProviderPath)
	if err != nil {
		return nil, err
	}
	if problems := cat.Problems(); problems != nil {
		a.logger.Warn("Some units were excluded from the catalog.", "error", problems)
	}
	return cat, nil
}

func (a *App) loadPlan(ctx context.Context) (*catalog.Catalog, *unit.TestPlan, error) {
	cat, err := a.loadCatalog(ctx)
	if err != nil {
		return nil, nil, err
	}
	if a.config.TestPlan == "" {
		return nil, nil, fmt.Errorf("no test plan selected")
	}
	id, err := jobid.Parse(a.config.TestPlan)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid test plan id %q: %w", a.config.TestPlan, err)
	}
	plan, ok := cat.TestPlan(id)
	if !ok {
		return nil, nil, fmt.Errorf("test plan %s not found in catalog", a.config.TestPlan)
	}
	return cat, plan, nil
}

func (a *App) sessionOptions() (run.Options, error) {
	policy, err := run.ParseResumePolicy(a.config.ResumePolicy)
	if err != nil {
		return run.Options{}, err
	}

	runner := a.runner
	if runner == nil {
		supervisor, err := launcher.New()
		if err != nil {
			return run.Options{}, err
		}
		runner = supervisor
	}

	return run.Options{
		Dir:               a.config.SessionDir,
		Runner:            runner,
		BaseEnv:           environMap(os.Environ()),
		Manifest:          a.config.Manifest,
		ResumePolicy:      policy,
		DiscardOnMismatch: a.config.DiscardOnMismatch,
	}, nil
}

func (a *App) printSummary(session *run.Session) error {
	fmt.Fprintf(a.outW, "session %s: %s\n", session.ID(), session.State())

	w := tabwriter.NewWriter(a.outW, 0, 4, 2, ' ', 0)
	for _, result := range session.Results() {
		line := fmt.Sprintf("%s\t%s", result.ID, result.Outcome)
		if result.Comment != "" {
			line += "\t" + result.Comment
		}
		fmt.Fprintln(w, line)
	}
	return w.Flush()
}

func environMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, pair := range environ {
		if key, value, ok := strings.Cut(pair, "="); ok {
			env[key] = value
		}
	}
	return env
}
