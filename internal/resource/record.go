package resource

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoSuchField is returned by the typed accessors when a field is absent.
var ErrNoSuchField = errors.New("no such field")

// Record is one unit of resource output: a flat string-keyed, string-valued
// mapping that preserves insertion order. Every stored value is a string;
// callers that need another type go through the fallible typed accessors.
type Record struct {
	keys   []string
	values map[string]string
}

// NewRecord creates an empty record.
func NewRecord() *Record {
	return &Record{values: make(map[string]string)}
}

// Set stores a field value, appending the key to the record's order on
// first assignment.
func (r *Record) Set(key, value string) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Keys returns the field names in insertion order.
func (r *Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of fields in the record.
func (r *Record) Len() int {
	return len(r.keys)
}

// Has reports whether the record contains the given field.
func (r *Record) Has(key string) bool {
	_, ok := r.values[key]
	return ok
}

// Str returns the raw string value of a field.
func (r *Record) Str(key string) (string, error) {
	v, ok := r.values[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNoSuchField, key)
	}
	return v, nil
}

// Int parses a field as a base-10 integer.
func (r *Record) Int(key string) (int64, error) {
	v, err := r.Str(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %q is not an integer: %w", key, err)
	}
	return n, nil
}

// Float parses a field as a floating point number.
func (r *Record) Float(key string) (float64, error) {
	v, err := r.Str(key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("field %q is not a number: %w", key, err)
	}
	return f, nil
}

// Bool parses a field as a boolean. The accepted spellings match the
// values resource scripts have historically emitted.
func (r *Record) Bool(key string) (bool, error) {
	v, err := r.Str(key)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0":
		return false, nil
	}
	return false, fmt.Errorf("field %q is not a boolean: %q", key, v)
}

// Clone returns an independent copy of the record.
func (r *Record) Clone() *Record {
	out := NewRecord()
	for _, k := range r.keys {
		out.Set(k, r.values[k])
	}
	return out
}

// Map returns the record contents as a plain map, losing field order.
func (r *Record) Map() map[string]string {
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}
