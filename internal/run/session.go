package run

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/canonical/checkbox-sub003/internal/catalog"
	"github.com/canonical/checkbox-sub003/internal/ctxlog"
	"github.com/canonical/checkbox-sub003/internal/jobid"
	"github.com/canonical/checkbox-sub003/internal/resource"
	"github.com/canonical/checkbox-sub003/internal/scheduler"
	"github.com/canonical/checkbox-sub003/internal/selection"
	"github.com/canonical/checkbox-sub003/internal/snapshot"
	"github.com/canonical/checkbox-sub003/internal/unit"
)

// CacheFileName is the resource cache file inside a session directory.
const CacheFileName = "resource-cache.json"

// Runner executes one job's command and maps every failure mode to an
// outcome. The launcher's supervisor is the production implementation.
type Runner interface {
	Run(ctx context.Context, job *unit.Job, env map[string]string) unit.Result
}

// Prompter collects operator verdicts for manual and interactive-verify
// jobs. A nil Prompter leaves those jobs undecided.
type Prompter interface {
	Verdict(ctx context.Context, job *unit.Job, output string) (unit.Outcome, string, error)
}

// Options configures a session.
type Options struct {
	// Dir is the session directory holding the snapshot, lock, and
	// resource cache.
	Dir string
	// SessionID names the session; empty generates one.
	SessionID string
	Runner    Runner
	Prompter  Prompter
	// BaseEnv is the candidate environment; each job sees only the
	// allow-listed subset.
	BaseEnv map[string]string
	// Manifest is the operator-declared hardware facts map, exposed to
	// requires programs as the manifest group.
	Manifest map[string]string
	// ResumePolicy decides a no-return job found in flight on restart.
	ResumePolicy ResumePolicy
	// DiscardOnMismatch restarts the session from scratch when the
	// snapshot was written against a different catalog generation.
	// Without it the mismatch is an error the caller must surface.
	DiscardOnMismatch bool
}

func (o *Options) validate() error {
	if o.Dir == "" {
		return errors.New("session directory is required")
	}
	if o.Runner == nil {
		return errors.New("runner is required")
	}
	return nil
}

// Session drives one test run to completion across any number of
// process lifetimes.
type Session struct {
	id    string
	opts  Options
	cat   *catalog.Catalog
	sel   *selection.Selection
	store *resource.Store
	doc   *snapshot.Document
	lock  *snapshot.Lock
	state State

	// expanded is the catalog after template instantiation, built once
	// the bootstrap phase has populated the store.
	expanded *catalog.Catalog
	order    []*unit.Job
}

// New starts a fresh session for the given plan. The session lock and
// an initial snapshot are taken before anything executes.
func New(ctx context.Context, opts Options, cat *catalog.Catalog, plan *unit.TestPlan) (*Session, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	sel, err := selection.Compile(plan)
	if err != nil {
		return nil, err
	}

	lock, err := snapshot.AcquireLock(ctx, opts.Dir)
	if err != nil {
		return nil, err
	}

	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	s := &Session{
		id:    opts.SessionID,
		opts:  opts,
		cat:   cat,
		sel:   sel,
		store: resource.NewStore(),
		lock:  lock,
		state: StateNew,
	}
	s.store.SetManifest(opts.Manifest)
	if err := s.store.LoadCache(ctx, filepath.Join(opts.Dir, CacheFileName)); err != nil {
		ctxlog.FromContext(ctx).Warn("Ignoring unreadable resource cache.", "error", err)
	}

	s.doc = snapshot.New(s.id, uuid.NewString(), cat.Fingerprint())
	s.doc.TestPlan = plan.ID.String()
	if err := s.save(ctx); err != nil {
		lock.Release()
		return nil, err
	}
	return s, nil
}

// Resume reopens a session left by an earlier process lifetime. The
// previous lifetime's end decides the entry state: a resume marker from
// a no-return job applies the configured policy, any other in-flight
// marker means the process died and the job crashed.
func Resume(ctx context.Context, opts Options, cat *catalog.Catalog, plan *unit.TestPlan) (*Session, error) {
	logger := ctxlog.FromContext(ctx)
	if err := opts.validate(); err != nil {
		return nil, err
	}
	sel, err := selection.Compile(plan)
	if err != nil {
		return nil, err
	}

	lock, err := snapshot.AcquireLock(ctx, opts.Dir)
	if err != nil {
		return nil, err
	}

	doc, err := snapshot.Load(ctx, opts.Dir)
	if err != nil {
		lock.Release()
		return nil, err
	}

	if err := doc.CheckGeneration(cat.Fingerprint()); err != nil {
		if !opts.DiscardOnMismatch {
			lock.Release()
			return nil, err
		}
		logger.Warn("Discarding stale session and restarting.", "session", doc.SessionID, "error", err)
		lock.Release()
		opts.SessionID = doc.SessionID
		return New(ctx, opts, cat, plan)
	}

	s := &Session{
		id:    doc.SessionID,
		opts:  opts,
		cat:   cat,
		sel:   sel,
		store: resource.NewStore(),
		doc:   doc,
		lock:  lock,
		state: State(doc.State),
	}
	s.store.SetManifest(opts.Manifest)
	s.restoreResources()

	// Templates expand identically because the store contents were
	// restored from the snapshot, not rerun.
	if err := s.expand(ctx); err != nil {
		lock.Release()
		return nil, err
	}
	doc.DropUnknownJobs(ctx, func(id string) bool {
		_, ok := s.expanded.Job(jobIDOrZero(id))
		return ok
	})

	if err := s.settleMarker(ctx); err != nil {
		lock.Release()
		return nil, err
	}

	if s.state == StateSuspended {
		s.requeueAfterSuspend(ctx)
	}
	if s.state == StateRunning {
		// The previous lifetime died without a clean suspend.
		s.state = StateInterrupted
		logger.Warn("Session was interrupted.", "session", s.id)
	}

	if err := s.save(ctx); err != nil {
		lock.Release()
		return nil, err
	}
	return s, nil
}

// ID returns the session identity.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle phase.
func (s *Session) State() State { return s.state }

// Results returns the recorded per-job states in execution order.
func (s *Session) Results() []snapshot.JobState {
	out := make([]snapshot.JobState, 0, len(s.doc.Jobs))
	for _, id := range s.doc.Order {
		if state, ok := s.doc.Job(id); ok {
			out = append(out, state)
		}
	}
	// Bootstrap results precede the resolved order.
	for _, state := range s.doc.Jobs {
		if !contains(s.doc.Order, state.ID) {
			out = append(out, state)
		}
	}
	return out
}

// Close releases the session lock. The snapshot stays on disk.
func (s *Session) Close(ctx context.Context) error {
	ctxlog.FromContext(ctx).Debug("Session closed.", "session", s.id, "state", string(s.state))
	return s.lock.Release()
}

// Run drives the session until every job is settled, a job suspends
// the machine, or persistence fails. Safe to call again on a resumed
// session; jobs with recorded terminal outcomes are not rerun.
func (s *Session) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	s.state = StateRunning
	if err := s.save(ctx); err != nil {
		return err
	}

	// Bootstrap phase: resource producers the plan names run before
	// template expansion, so generated jobs exist by the time the main
	// order is resolved.
	bootstrap := s.sel.Select(s.cat.Jobs()).Bootstrap
	for _, job := range bootstrap {
		if s.doc.Outcome(job.ID.String()).Terminal() {
			continue
		}
		suspended, err := s.executeJob(ctx, job)
		if err != nil {
			return err
		}
		if suspended {
			return nil
		}
	}

	if err := s.expand(ctx); err != nil {
		return err
	}
	order, err := s.resolveOrder(ctx)
	if err != nil {
		return err
	}
	s.order = order
	s.doc.Order = jobKeys(order)
	if err := s.save(ctx); err != nil {
		return err
	}

	for _, job := range order {
		key := job.ID.String()
		if s.doc.Outcome(key).Terminal() {
			continue
		}

		decision := scheduler.Gate(ctx, job, s.doc, s.store)
		switch decision.Verdict {
		case scheduler.VerdictRun:
			suspended, err := s.executeJob(ctx, job)
			if err != nil {
				return err
			}
			if suspended {
				return nil
			}
		case scheduler.VerdictSkip:
			if err := s.record(ctx, job, unit.Result{Outcome: unit.OutcomeSkip, Comment: decision.Reason}); err != nil {
				return err
			}
		case scheduler.VerdictFail:
			if err := s.record(ctx, job, unit.Result{Outcome: unit.OutcomeFail, Comment: decision.Reason}); err != nil {
				return err
			}
		case scheduler.VerdictNotStarted:
			if err := s.record(ctx, job, unit.Result{Outcome: unit.OutcomeNotStarted, Comment: decision.Reason}); err != nil {
				return err
			}
		}
	}

	if s.allSettled() {
		s.state = StateCompleted
		logger.Info("Session completed.", "session", s.id, "jobs", len(s.order))
	} else {
		logger.Info("Session has undecided jobs remaining.", "session", s.id)
	}
	if err := s.save(ctx); err != nil {
		return err
	}
	return s.saveResourceCache(ctx)
}

// executeJob runs one eligible job and records its result. Returns true
// when the job suspended the session.
func (s *Session) executeJob(ctx context.Context, job *unit.Job) (bool, error) {
	logger := ctxlog.FromContext(ctx)
	key := job.ID.String()
	noReturn := job.Flags.Has(unit.FlagNoReturn)

	// The marker makes an in-flight job visible to the next lifetime.
	s.doc.Resume = &snapshot.Marker{JobID: key, Launched: time.Now().UTC(), NoReturn: noReturn}
	if err := s.save(ctx); err != nil {
		return false, err
	}

	logger.Info("Running job.", "job", key, "kind", string(job.Kind))
	result := s.perform(ctx, job)

	if result.NoReturn {
		// The machine is going down. The marker stays; the configured
		// resume policy settles this job next boot.
		s.state = StateSuspended
		if err := s.save(ctx); err != nil {
			return false, err
		}
		logger.Info("Session suspended by no-return job.", "job", key)
		return true, nil
	}

	s.doc.Resume = nil
	if err := s.record(ctx, job, result); err != nil {
		return false, err
	}
	return false, nil
}

// perform produces a result for one job according to its kind.
func (s *Session) perform(ctx context.Context, job *unit.Job) unit.Result {
	switch job.Kind {
	case unit.KindManual:
		return s.verdict(ctx, job, "")
	case unit.KindInteractiveVerify:
		result := s.opts.Runner.Run(ctx, job, s.commandEnv(job))
		if result.Outcome != unit.OutcomePass || result.NoReturn {
			return result
		}
		return s.verdict(ctx, job, result.Output)
	default:
		return s.opts.Runner.Run(ctx, job, s.commandEnv(job))
	}
}

// verdict asks the operator. Without one the job stays undecided rather
// than being guessed at.
func (s *Session) verdict(ctx context.Context, job *unit.Job, output string) unit.Result {
	if s.opts.Prompter == nil {
		return unit.Result{Outcome: unit.OutcomeUndecided, Output: output,
			Comment: "no operator available for verdict"}
	}
	outcome, comment, err := s.opts.Prompter.Verdict(ctx, job, output)
	if err != nil {
		return unit.Result{Outcome: unit.OutcomeCrash, Output: output,
			Comment: fmt.Sprintf("operator prompt failed: %v", err)}
	}
	return unit.Result{Outcome: outcome, Output: output, Comment: comment}
}

// record persists one job's result. For a passing resource producer the
// output is parsed and ingested before the snapshot is written, so the
// stored records and the recorded outcome commit together.
func (s *Session) record(ctx context.Context, job *unit.Job, result unit.Result) error {
	logger := ctxlog.FromContext(ctx)
	key := job.ID.String()

	if job.Kind == unit.KindResource && result.Outcome == unit.OutcomePass {
		records, err := resource.ParseRecords(result.Output)
		if err != nil {
			result.Outcome = unit.OutcomeFail
			result.Comment = fmt.Sprintf("resource output rejected: %v", err)
		} else {
			s.store.Replace(key, records)
			s.syncResources()
			logger.Debug("Resource group ingested.", "group", key, "records", len(records))
		}
	}

	state := snapshot.JobState{
		ID:         key,
		Outcome:    result.Outcome,
		ReturnCode: result.ReturnCode,
		Duration:   result.Duration,
		Comment:    result.Comment,
	}
	if job.Flags.Has(unit.FlagPreserveOutput) || job.Kind == unit.KindAttachment {
		state.Output = result.Output
	}
	s.doc.SetJob(state)

	logger.Info("Job finished.", "job", key, "outcome", string(result.Outcome))
	return s.save(ctx)
}

// expand instantiates templates against the current store and keeps
// the expanded catalog for scheduling.
func (s *Session) expand(ctx context.Context) error {
	expanded, err := catalog.Expand(ctx, s.cat, s.store)
	if err != nil {
		return fmt.Errorf("template expansion failed: %w", err)
	}
	s.expanded = expanded
	return nil
}

func (s *Session) resolveOrder(ctx context.Context) ([]*unit.Job, error) {
	sel := s.sel.Select(s.expanded.Jobs())
	order, err := scheduler.Resolve(ctx, sel, s.expanded)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// settleMarker applies the restart rules to an in-flight marker left by
// the previous lifetime.
func (s *Session) settleMarker(ctx context.Context) error {
	marker := s.doc.Resume
	if marker == nil {
		return nil
	}
	logger := ctxlog.FromContext(ctx)
	s.doc.Resume = nil

	if !marker.NoReturn {
		logger.Warn("Job was in flight when the process died; recording crash.", "job", marker.JobID)
		s.doc.SetJob(snapshot.JobState{ID: marker.JobID, Outcome: unit.OutcomeCrash,
			Comment: "process died while the job was in flight"})
		return nil
	}

	policy, err := ParseResumePolicy(string(s.opts.ResumePolicy))
	if err != nil {
		return err
	}
	switch policy {
	case ResumePass:
		logger.Info("No-return job confirmed by resume policy.", "job", marker.JobID)
		s.doc.SetJob(snapshot.JobState{ID: marker.JobID, Outcome: unit.OutcomePass,
			Comment: "machine returned; confirmed pass by resume policy"})
	case ResumeCrash:
		logger.Info("No-return job recorded as crashed by resume policy.", "job", marker.JobID)
		s.doc.SetJob(snapshot.JobState{ID: marker.JobID, Outcome: unit.OutcomeCrash,
			Comment: "machine returned; no verdict was ever produced"})
	case ResumeRerun:
		logger.Info("No-return job will run again.", "job", marker.JobID)
		s.doc.RemoveJob(marker.JobID)
	}
	return nil
}

// requeueAfterSuspend forgets the outcomes of also-after-suspend jobs
// so they run again now that the machine came back.
func (s *Session) requeueAfterSuspend(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	for _, state := range append([]snapshot.JobState(nil), s.doc.Jobs...) {
		job, ok := s.expanded.Job(jobIDOrZero(state.ID))
		if !ok || !job.Flags.Has(unit.FlagAlsoAfterSuspend) {
			continue
		}
		logger.Info("Re-queuing job after suspend.", "job", state.ID)
		s.doc.RemoveJob(state.ID)
	}
}

// commandEnv builds the job's environment: a fixed baseline plus the
// job's own allow-list, all taken from the configured base environment.
func (s *Session) commandEnv(job *unit.Job) map[string]string {
	allowed := []string{"PATH", "HOME", "LANG", "LC_ALL", "TERM", "USER"}
	allowed = append(allowed, job.Environ...)

	env := make(map[string]string)
	for _, key := range allowed {
		if value, ok := s.opts.BaseEnv[key]; ok {
			env[key] = value
		}
	}
	return env
}

// allSettled reports whether the pass left any runnable work behind.
// A not-started job is settled for completion purposes: its blockers
// already ran earlier in the topological order, so re-gating it would
// reproduce the same verdict. Undecided jobs keep the session open
// because an operator verdict can still land.
func (s *Session) allSettled() bool {
	for _, job := range s.order {
		outcome := s.doc.Outcome(job.ID.String())
		if outcome.Terminal() || outcome == unit.OutcomeNotStarted {
			continue
		}
		return false
	}
	return true
}

// save persists the document. A failure here is fatal to the session:
// continuing without durable state would break the crash-safety
// guarantee.
func (s *Session) save(ctx context.Context) error {
	s.doc.State = string(s.state)
	if err := snapshot.Save(ctx, s.opts.Dir, s.doc); err != nil {
		return fmt.Errorf("session %s: %w", s.id, err)
	}
	return nil
}

// syncResources mirrors the store into the document so a resumed
// session restores it without rerunning producers.
func (s *Session) syncResources() {
	s.doc.Resources = make(map[string][]map[string]string)
	s.doc.ResourceOrder = make(map[string][][]string)
	for _, group := range s.store.Groups() {
		records := s.store.Get(group)
		maps := make([]map[string]string, 0, len(records))
		orders := make([][]string, 0, len(records))
		for _, record := range records {
			maps = append(maps, record.Map())
			orders = append(orders, record.Keys())
		}
		s.doc.Resources[group] = maps
		s.doc.ResourceOrder[group] = orders
	}
}

func (s *Session) restoreResources() {
	for group, maps := range s.doc.Resources {
		if group == resource.ManifestGroup {
			// The manifest comes from the current options, not the
			// snapshot.
			continue
		}
		records := make([]*resource.Record, 0, len(maps))
		for i, fields := range maps {
			record := resource.NewRecord()
			if orders, ok := s.doc.ResourceOrder[group]; ok && i < len(orders) {
				for _, key := range orders[i] {
					if value, ok := fields[key]; ok {
						record.Set(key, value)
					}
				}
			}
			// Pick up any field the order list missed, deterministically.
			leftovers := make([]string, 0, len(fields))
			for key := range fields {
				if !record.Has(key) {
					leftovers = append(leftovers, key)
				}
			}
			sort.Strings(leftovers)
			for _, key := range leftovers {
				record.Set(key, fields[key])
			}
			records = append(records, record)
		}
		s.store.Replace(group, records)
	}
}

// saveResourceCache persists the groups whose producers opted in.
func (s *Session) saveResourceCache(ctx context.Context) error {
	var groups []string
	for _, job := range s.expanded.Jobs() {
		if job.Kind == unit.KindResource && job.Flags.Has(unit.FlagCachable) {
			groups = append(groups, job.ID.String())
		}
	}
	if len(groups) == 0 {
		return nil
	}
	return s.store.SaveCache(ctx, filepath.Join(s.opts.Dir, CacheFileName), groups)
}

func jobKeys(jobs []*unit.Job) []string {
	out := make([]string, len(jobs))
	for i, job := range jobs {
		out[i] = job.ID.String()
	}
	return out
}

// jobIDOrZero parses a stored id, returning the zero id for garbage so
// lookups simply miss instead of failing.
func jobIDOrZero(s string) jobid.ID {
	id, err := jobid.Parse(s)
	if err != nil {
		return jobid.ID{}
	}
	return id
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
