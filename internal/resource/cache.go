package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/canonical/checkbox-sub003/internal/ctxlog"
)

// cacheSchemaVersion guards the on-disk cache format. A mismatch discards
// the cache instead of misreading it.
const cacheSchemaVersion = 1

// cacheDocument is the on-disk shape of a cached group set.
type cacheDocument struct {
	Version int                            `json:"version"`
	Groups  map[string][]map[string]string `json:"groups"`
	Order   map[string][][]string          `json:"order"`
}

// SaveCache persists the named groups to a JSON file so a later session
// can reuse them without rerunning their producers. Only groups whose
// producing job opted in (the cachable flag) should be passed here.
func (s *Store) SaveCache(ctx context.Context, path string, groups []string) error {
	logger := ctxlog.FromContext(ctx)
	doc := cacheDocument{
		Version: cacheSchemaVersion,
		Groups:  make(map[string][]map[string]string),
		Order:   make(map[string][][]string),
	}
	for _, group := range groups {
		if !s.Has(group) {
			continue
		}
		for _, record := range s.Get(group) {
			doc.Groups[group] = append(doc.Groups[group], record.Map())
			doc.Order[group] = append(doc.Order[group], record.Keys())
		}
		if doc.Groups[group] == nil {
			doc.Groups[group] = []map[string]string{}
			doc.Order[group] = [][]string{}
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode resource cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create resource cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write resource cache: %w", err)
	}
	logger.Debug("Resource cache saved.", "path", path, "groups", len(doc.Groups))
	return nil
}

// LoadCache ingests previously cached groups into the store. A missing
// file is not an error; a version mismatch discards the cache with a
// warning.
func (s *Store) LoadCache(ctx context.Context, path string) error {
	logger := ctxlog.FromContext(ctx)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Debug("No resource cache present.", "path", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read resource cache: %w", err)
	}

	var doc cacheDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to decode resource cache %s: %w", path, err)
	}
	if doc.Version != cacheSchemaVersion {
		logger.Warn("Discarding resource cache with unknown version.",
			"path", path, "version", doc.Version, "supported", cacheSchemaVersion)
		return nil
	}

	for group, maps := range doc.Groups {
		records := make([]*Record, 0, len(maps))
		for i, fields := range maps {
			record := NewRecord()
			if i < len(doc.Order[group]) {
				for _, key := range doc.Order[group][i] {
					if v, ok := fields[key]; ok {
						record.Set(key, v)
					}
				}
			}
			// Pick up any field the order list missed.
			for _, key := range sortedKeys(fields) {
				if !record.Has(key) {
					record.Set(key, fields[key])
				}
			}
			records = append(records, record)
		}
		s.Replace(group, records)
	}
	logger.Debug("Resource cache loaded.", "path", path, "groups", len(doc.Groups))
	return nil
}
