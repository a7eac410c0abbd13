// Package resource holds the facts gathered about the target machine: flat
// string-keyed records grouped by the id of the job that produced them.
//
// A group becomes visible to expression evaluation only once its producing
// job has reached a terminal state and its output has been ingested via
// Replace; until then every read behaves as an empty group. This is what
// lets requires programs reference resources that simply were not gathered
// on this machine without erroring out.
package resource

import (
	"sort"
	"sync"
)

// ManifestGroup is the reserved group name under which session-start
// manifest answers and environment overrides are exposed to expression
// evaluation. It has exactly one record.
const ManifestGroup = "manifest"

// Store is a thread-safe collection of resource record groups keyed by
// producing job id.
type Store struct {
	mu     sync.RWMutex
	groups map[string][]*Record
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{groups: make(map[string][]*Record)}
}

// Replace swaps the entire contents of a group. Resource jobs regenerate
// their whole output on every run, so records are never merged.
func (s *Store) Replace(group string, records []*Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]*Record, len(records))
	copy(copied, records)
	s.groups[group] = copied
}

// Get returns the records of a group in ingestion order. A group that was
// never ingested yields an empty slice, not an error.
func (s *Store) Get(group string) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.groups[group]
	out := make([]*Record, len(records))
	copy(out, records)
	return out
}

// Has reports whether a group has been ingested, even if it is empty.
func (s *Store) Has(group string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.groups[group]
	return ok
}

// Groups returns the names of all ingested groups, in no particular order.
func (s *Store) Groups() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.groups))
	for name := range s.groups {
		out = append(out, name)
	}
	return out
}

// SetManifest installs the reserved manifest group from a flat key-value
// map of externally supplied facts. The whole map becomes a single record
// so programs can write `manifest.has_touchscreen == "true"`.
func (s *Store) SetManifest(values map[string]string) {
	record := NewRecord()
	for _, key := range sortedKeys(values) {
		record.Set(key, values[key])
	}
	s.Replace(ManifestGroup, []*Record{record})
}

// sortedKeys gives the manifest record a reproducible field order; map
// iteration order is not.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
