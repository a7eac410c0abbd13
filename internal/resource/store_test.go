package resource

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(pairs ...string) *Record {
	r := NewRecord()
	for i := 0; i+1 < len(pairs); i += 2 {
		r.Set(pairs[i], pairs[i+1])
	}
	return r
}

func TestStore_UnknownGroupIsEmpty(t *testing.T) {
	s := NewStore()
	assert.Empty(t, s.Get("never-produced"))
	assert.False(t, s.Has("never-produced"))
}

func TestStore_ReplaceSwapsWhole(t *testing.T) {
	s := NewStore()
	s.Replace("disk", []*Record{record("name", "sda"), record("name", "sdb")})
	require.Len(t, s.Get("disk"), 2)

	// A rerun of the producer replaces, never merges.
	s.Replace("disk", []*Record{record("name", "nvme0n1")})
	records := s.Get("disk")
	require.Len(t, records, 1)
	name, err := records[0].Str("name")
	require.NoError(t, err)
	assert.Equal(t, "nvme0n1", name)

	// Replacing with nothing leaves an ingested but empty group.
	s.Replace("disk", nil)
	assert.Empty(t, s.Get("disk"))
	assert.True(t, s.Has("disk"))
}

func TestStore_Manifest(t *testing.T) {
	s := NewStore()
	s.SetManifest(map[string]string{
		"has_touchscreen": "false",
		"has_ethernet":    "true",
	})

	records := s.Get(ManifestGroup)
	require.Len(t, records, 1)
	assert.Equal(t, []string{"has_ethernet", "has_touchscreen"}, records[0].Keys())

	b, err := records[0].Bool("has_ethernet")
	require.NoError(t, err)
	assert.True(t, b)
}

func TestStore_CacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "resource-cache.json")

	s := NewStore()
	s.Replace("dmi", []*Record{record("vendor", "LENOVO", "product", "20QV")})
	s.Replace("disk", []*Record{record("name", "sda")})

	// Only opted-in groups are cached.
	require.NoError(t, s.SaveCache(ctx, path, []string{"dmi"}))

	restored := NewStore()
	require.NoError(t, restored.LoadCache(ctx, path))

	require.True(t, restored.Has("dmi"))
	assert.False(t, restored.Has("disk"))

	records := restored.Get("dmi")
	require.Len(t, records, 1)
	assert.Equal(t, []string{"vendor", "product"}, records[0].Keys())
	vendor, err := records[0].Str("vendor")
	require.NoError(t, err)
	assert.Equal(t, "LENOVO", vendor)
}

func TestStore_CacheMissingFile(t *testing.T) {
	s := NewStore()
	err := s.LoadCache(context.Background(), filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, s.Groups())
}
