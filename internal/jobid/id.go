package jobid

import (
	"fmt"
	"strings"
)

// ID is the structured representation of a unique job identifier. The
// zero value is the empty identifier.
type ID struct {
	// Namespace is the reverse-domain provider namespace, empty for a
	// bare (not yet resolved) identifier.
	Namespace string
	// Partial is the provider-local part, e.g. "disk/stats_sda".
	Partial string
}

// New builds an ID from an explicit namespace and partial id.
func New(namespace, partial string) ID {
	return ID{Namespace: namespace, Partial: partial}
}

// String serializes the ID into its canonical representation. Bare
// identifiers render as just the partial id.
func (id ID) String() string {
	if id.Namespace == "" {
		return id.Partial
	}
	return id.Namespace + "::" + id.Partial
}

// IsBare reports whether the identifier still lacks a namespace.
func (id ID) IsBare() bool {
	return id.Namespace == ""
}

// IsZero reports whether the identifier is entirely empty.
func (id ID) IsZero() bool {
	return id.Namespace == "" && id.Partial == ""
}

// Resolve returns the identifier with the implicit namespace applied if
// it is bare, or the identifier unchanged otherwise.
func (id ID) Resolve(implicitNamespace string) ID {
	if id.Namespace != "" {
		return id
	}
	return ID{Namespace: implicitNamespace, Partial: id.Partial}
}

// Equal checks for equality between two identifiers. Bare and resolved
// forms of the same partial id are not equal.
func (id ID) Equal(other ID) bool {
	return id.Namespace == other.Namespace && id.Partial == other.Partial
}

// Category returns the leading slash-separated segments of the partial
// id, or "" when the partial id has a single segment.
func (id ID) Category() string {
	if i := strings.LastIndex(id.Partial, "/"); i >= 0 {
		return id.Partial[:i]
	}
	return ""
}

// Parse creates an ID by parsing its canonical string representation.
// Accepted forms are `partial` and `namespace::partial`.
func Parse(raw string) (ID, error) {
	if raw == "" {
		return ID{}, fmt.Errorf("identifier cannot be empty")
	}

	namespace := ""
	partial := raw
	if i := strings.Index(raw, "::"); i >= 0 {
		namespace = raw[:i]
		partial = raw[i+2:]
		if namespace == "" {
			return ID{}, fmt.Errorf("identifier %q has an empty namespace", raw)
		}
		if strings.Contains(partial, "::") {
			return ID{}, fmt.Errorf("identifier %q has more than one namespace separator", raw)
		}
		if !validNamespace(namespace) {
			return ID{}, fmt.Errorf("invalid namespace %q in identifier %q", namespace, raw)
		}
	}

	if partial == "" {
		return ID{}, fmt.Errorf("identifier %q has an empty partial id", raw)
	}
	for _, segment := range strings.Split(partial, "/") {
		if !validSegment(segment) {
			return ID{}, fmt.Errorf("invalid segment %q in identifier %q", segment, raw)
		}
	}

	return ID{Namespace: namespace, Partial: partial}, nil
}

// MustParse is Parse that panics on error, for statically known ids.
func MustParse(raw string) ID {
	id, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// validNamespace checks a reverse-domain namespace: dot-separated
// non-empty runs of [a-z0-9-].
func validNamespace(namespace string) bool {
	for _, part := range strings.Split(namespace, ".") {
		if part == "" {
			return false
		}
		for _, r := range part {
			if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
				return false
			}
		}
	}
	return true
}

// validSegment checks one slash-separated segment of a partial id.
func validSegment(segment string) bool {
	if segment == "" || segment == "." || segment == ".." {
		return false
	}
	for _, r := range segment {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.' || r == '{' || r == '}':
			// Brace characters appear in template skeleton ids before
			// rendering, e.g. "disk/stats_{name}".
		default:
			return false
		}
	}
	return true
}
