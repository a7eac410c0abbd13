package unit

import "fmt"

// Kind classifies how a job executes and how its verdict is produced.
type Kind string

const (
	// KindManual is a fully manual check: instructions plus an operator
	// verdict, no command.
	KindManual Kind = "manual"
	// KindAutomated runs a command; the return code is the verdict.
	KindAutomated Kind = "automated"
	// KindInteractive runs a command that needs an operator to interact
	// with the machine; the return code is still the verdict.
	KindInteractive Kind = "interactive"
	// KindInteractiveVerify runs a command and then asks the operator to
	// confirm the observed behavior.
	KindInteractiveVerify Kind = "interactive-verify"
	// KindResource runs a command whose output is parsed into resource
	// records rather than treated as a test.
	KindResource Kind = "resource"
	// KindAttachment runs a command whose output is captured for the
	// report, passing unless execution itself fails.
	KindAttachment Kind = "attachment"
)

// ParseKind validates a kind name from the catalog.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindManual, KindAutomated, KindInteractive, KindInteractiveVerify,
		KindResource, KindAttachment:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown job kind %q", s)
}

// NeedsCommand reports whether jobs of this kind must carry a command.
func (k Kind) NeedsCommand() bool {
	return k != KindManual
}

// Automated reports whether the verdict comes from the command alone,
// with no operator involvement.
func (k Kind) Automated() bool {
	switch k {
	case KindAutomated, KindResource, KindAttachment:
		return true
	}
	return false
}
