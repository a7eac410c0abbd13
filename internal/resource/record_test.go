package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_OrderPreserved(t *testing.T) {
	r := NewRecord()
	r.Set("name", "sda")
	r.Set("size", "512110190592")
	r.Set("removable", "no")

	assert.Equal(t, []string{"name", "size", "removable"}, r.Keys())

	// Re-assigning an existing field must not move it.
	r.Set("name", "sdb")
	assert.Equal(t, []string{"name", "size", "removable"}, r.Keys())
	v, err := r.Str("name")
	require.NoError(t, err)
	assert.Equal(t, "sdb", v)
}

func TestRecord_TypedAccessors(t *testing.T) {
	r := NewRecord()
	r.Set("size", " 42 ")
	r.Set("ratio", "0.5")
	r.Set("removable", "no")
	r.Set("driver", "ahci")

	n, err := r.Int("size")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	f, err := r.Float("ratio")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, f, 1e-9)

	b, err := r.Bool("removable")
	require.NoError(t, err)
	assert.False(t, b)

	_, err = r.Int("driver")
	require.Error(t, err)

	_, err = r.Str("missing")
	require.ErrorIs(t, err, ErrNoSuchField)
	_, err = r.Bool("missing")
	require.ErrorIs(t, err, ErrNoSuchField)
}

func TestRecord_BoolSpellings(t *testing.T) {
	truthy := []string{"true", "Yes", "ON", "1"}
	falsy := []string{"False", "no", "off", "0"}

	for _, v := range truthy {
		r := NewRecord()
		r.Set("flag", v)
		b, err := r.Bool("flag")
		require.NoError(t, err, v)
		assert.True(t, b, v)
	}
	for _, v := range falsy {
		r := NewRecord()
		r.Set("flag", v)
		b, err := r.Bool("flag")
		require.NoError(t, err, v)
		assert.False(t, b, v)
	}

	r := NewRecord()
	r.Set("flag", "maybe")
	_, err := r.Bool("flag")
	require.Error(t, err)
}

func TestRecord_Clone(t *testing.T) {
	r := NewRecord()
	r.Set("a", "1")
	r.Set("b", "2")

	c := r.Clone()
	c.Set("a", "changed")

	v, err := r.Str("a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
	assert.Equal(t, r.Keys(), c.Keys())
}
