package unit

import (
	"sort"
	"strings"
)

// Flag names modifying job behavior.
const (
	// FlagNoReturn marks a command that is not expected to return, such
	// as one that reboots or powers off the machine. The launcher does
	// not wait for it and the session leaves a resume marker instead.
	FlagNoReturn = "noreturn"
	// FlagSimple fills in simplified defaults: an automated job with its
	// output preserved.
	FlagSimple = "simple"
	// FlagFailOnResource turns "requires evaluated false" into a fail
	// outcome instead of skip.
	FlagFailOnResource = "fail-on-resource"
	// FlagAlsoAfterSuspend re-queues the job when the session resumes
	// from a suspend.
	FlagAlsoAfterSuspend = "also-after-suspend"
	// FlagCachable lets a resource job's output be cached across
	// sessions.
	FlagCachable = "cachable"
	// FlagPreserveOutput keeps the captured output in the session state.
	FlagPreserveOutput = "preserve-output"
)

// Flags is the set of behavior-modifying flags on a job.
type Flags map[string]struct{}

// ParseFlags builds a flag set from a whitespace-separated list. Unknown
// flags are kept; providers introduce flags faster than engines learn
// them and an unknown flag must not reject a job.
func ParseFlags(s string) Flags {
	flags := make(Flags)
	for _, name := range strings.Fields(s) {
		flags[name] = struct{}{}
	}
	return flags
}

// Has reports whether the named flag is set.
func (f Flags) Has(name string) bool {
	_, ok := f[name]
	return ok
}

// Names returns the set contents, sorted.
func (f Flags) Names() []string {
	out := make([]string, 0, len(f))
	for name := range f {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// String renders the set as a whitespace-separated list.
func (f Flags) String() string {
	return strings.Join(f.Names(), " ")
}
