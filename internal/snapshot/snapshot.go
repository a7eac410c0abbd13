// Package snapshot persists session state between process lifetimes.
// The document is the sole durability mechanism of the engine: it is
// rewritten after every session transition, atomically, so a crash at
// any point leaves either the previous or the next state on disk and
// never a torn one.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/canonical/checkbox-sub003/internal/ctxlog"
	"github.com/canonical/checkbox-sub003/internal/unit"
)

// schemaVersion guards the on-disk document format.
const schemaVersion = 1

// FileName is the snapshot file inside a session directory.
const FileName = "session.json"

// ErrGenerationMismatch marks a snapshot written against a different
// catalog generation than the one loaded now. The caller must decide
// between discarding the session and aborting; the engine never
// auto-resolves it.
var ErrGenerationMismatch = errors.New("snapshot catalog generation mismatch")

// JobState is one job's recorded disposition inside the document.
type JobState struct {
	ID         string        `json:"id"`
	Outcome    unit.Outcome  `json:"outcome"`
	ReturnCode int           `json:"return_code,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Output     string        `json:"output,omitempty"`
	Comment    string        `json:"comment,omitempty"`
}

// Marker records a command that was launched but will not report back,
// such as one that reboots the machine. Finding a marker on load means
// the previous lifetime ended mid-job.
type Marker struct {
	JobID    string    `json:"job_id"`
	Launched time.Time `json:"launched"`
	// NoReturn distinguishes a deliberate non-returning launch from a
	// job that was simply in flight when the process died.
	NoReturn bool `json:"no_return"`
}

// Document is the versioned on-disk session state.
type Document struct {
	Version   int    `json:"version"`
	SessionID string `json:"session_id"`
	// Generation ties the document to the catalog it was written
	// against; see CatalogFingerprint.
	Generation         string `json:"generation"`
	CatalogFingerprint string `json:"catalog_fingerprint"`

	State    string    `json:"state"`
	TestPlan string    `json:"test_plan,omitempty"`
	Updated  time.Time `json:"updated"`

	// Order is the resolved execution order, full job ids.
	Order []string `json:"order"`
	// Jobs holds a state entry for every job that has one; jobs not yet
	// reached are absent.
	Jobs []JobState `json:"jobs"`

	// Resume is set while a job is in flight, cleared once its result
	// is recorded.
	Resume *Marker `json:"resume,omitempty"`

	// Resources preserves the store contents so a resumed session does
	// not rerun producers whose consumers already passed. Field order
	// within each record is kept separately because JSON objects do
	// not preserve it.
	Resources     map[string][]map[string]string `json:"resources,omitempty"`
	ResourceOrder map[string][][]string          `json:"resource_order,omitempty"`
}

// New creates an empty document for a fresh session.
func New(sessionID, generation, fingerprint string) *Document {
	return &Document{
		Version:            schemaVersion,
		SessionID:          sessionID,
		Generation:         generation,
		CatalogFingerprint: fingerprint,
	}
}

// SetJob records or replaces one job's state.
func (d *Document) SetJob(state JobState) {
	for i, existing := range d.Jobs {
		if existing.ID == state.ID {
			d.Jobs[i] = state
			return
		}
	}
	d.Jobs = append(d.Jobs, state)
}

// RemoveJob forgets a job's recorded state, making it eligible to run
// again. Used when re-queuing also-after-suspend jobs.
func (d *Document) RemoveJob(id string) {
	for i, state := range d.Jobs {
		if state.ID == id {
			d.Jobs = append(d.Jobs[:i], d.Jobs[i+1:]...)
			return
		}
	}
}

// Job returns the recorded state for a job id, if any.
func (d *Document) Job(id string) (JobState, bool) {
	for _, state := range d.Jobs {
		if state.ID == id {
			return state, true
		}
	}
	return JobState{}, false
}

// Outcome returns the recorded outcome for a job id, OutcomeNone when
// nothing was recorded.
func (d *Document) Outcome(id string) unit.Outcome {
	state, ok := d.Job(id)
	if !ok {
		return unit.OutcomeNone
	}
	return state.Outcome
}

// DropUnknownJobs removes entries whose job no longer exists in the
// current catalog. A provider update between lifetimes must not crash a
// resume; the dropped results are logged and lost.
func (d *Document) DropUnknownJobs(ctx context.Context, known func(id string) bool) {
	logger := ctxlog.FromContext(ctx)

	kept := d.Jobs[:0]
	for _, state := range d.Jobs {
		if known(state.ID) {
			kept = append(kept, state)
			continue
		}
		logger.Warn("Dropping snapshot entry for job absent from catalog.",
			"job", state.ID, "outcome", string(state.Outcome))
	}
	d.Jobs = kept

	keptOrder := d.Order[:0]
	for _, id := range d.Order {
		if known(id) {
			keptOrder = append(keptOrder, id)
		}
	}
	d.Order = keptOrder

	if d.Resume != nil && !known(d.Resume.JobID) {
		logger.Warn("Dropping resume marker for job absent from catalog.",
			"job", d.Resume.JobID)
		d.Resume = nil
	}
}

// CheckGeneration validates the document against the current catalog
// fingerprint.
func (d *Document) CheckGeneration(fingerprint string) error {
	if d.CatalogFingerprint != fingerprint {
		return fmt.Errorf("%w: snapshot written against %s, catalog is %s",
			ErrGenerationMismatch, d.CatalogFingerprint, fingerprint)
	}
	return nil
}

// Save writes the document atomically into dir: temp file, fsync,
// rename, then fsync on the directory so the rename itself survives a
// power cut. A write failure is returned to the caller, which must
// treat it as fatal to the session.
func Save(ctx context.Context, dir string, doc *Document) error {
	logger := ctxlog.FromContext(ctx)
	doc.Updated = time.Now().UTC()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create snapshot temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot temp file: %w", err)
	}

	final := filepath.Join(dir, FileName)
	if err := os.Rename(tmp.Name(), final); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	if err := syncDir(dir); err != nil {
		return fmt.Errorf("failed to sync session directory: %w", err)
	}

	logger.Debug("Snapshot written.", "path", final, "state", doc.State, "jobs", len(doc.Jobs))
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// Load reads a session document from dir. A missing file returns
// os.ErrNotExist; a schema the code does not know is an error, never a
// silent partial read.
func Load(ctx context.Context, dir string) (*Document, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", path, err)
	}
	if doc.Version != schemaVersion {
		return nil, fmt.Errorf("snapshot %s has unsupported schema version %d (supported: %d)",
			path, doc.Version, schemaVersion)
	}

	ctxlog.FromContext(ctx).Debug("Snapshot loaded.",
		"path", path, "session", doc.SessionID, "state", doc.State)
	return &doc, nil
}
