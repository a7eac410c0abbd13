package unit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNamespace = "com.example.provider"

func TestNewJob_Minimal(t *testing.T) {
	job, err := NewJob(Spec{
		ID:      "disk/detect",
		Kind:    "automated",
		Command: "disk_detect.sh",
	}, testNamespace)
	require.NoError(t, err)

	assert.Equal(t, "com.example.provider::disk/detect", job.ID.String())
	assert.Equal(t, KindAutomated, job.Kind)
	assert.Nil(t, job.Requires)
	assert.Empty(t, job.Depends)
}

func TestNewJob_FullSpec(t *testing.T) {
	job, err := NewJob(Spec{
		ID:                "suspend/after_reboot",
		Kind:              "automated",
		Summary:           "Verify the machine came back",
		Command:           "check_boot_marker.sh",
		User:              "root",
		Environ:           "LD_LIBRARY_PATH XDG_RUNTIME_DIR",
		Requires:          `sleep.mem == "supported"`,
		Depends:           "suspend/reboot",
		After:             "wireless/scan, bluetooth/scan",
		Salvages:          "suspend/hibernate",
		Flags:             "also-after-suspend preserve-output",
		EstimatedDuration: "90s",
	}, testNamespace)
	require.NoError(t, err)

	require.NotNil(t, job.Requires)
	assert.Equal(t, []string{"sleep"}, job.Requires.Variables())
	require.Len(t, job.Depends, 1)
	assert.Equal(t, "com.example.provider::suspend/reboot", job.Depends[0].String())
	require.Len(t, job.After, 2)
	assert.Equal(t, "com.example.provider::bluetooth/scan", job.After[1].String())
	require.Len(t, job.Salvages, 1)
	assert.True(t, job.Flags.Has(FlagAlsoAfterSuspend))
	assert.Equal(t, []string{"LD_LIBRARY_PATH", "XDG_RUNTIME_DIR"}, job.Environ)
	assert.Equal(t, 90*time.Second, job.EstimatedDuration)
	assert.Equal(t, "root", job.User)
}

func TestNewJob_SimpleFlagDefaults(t *testing.T) {
	job, err := NewJob(Spec{
		ID:      "cpu/count",
		Command: "nproc",
		Flags:   "simple",
	}, testNamespace)
	require.NoError(t, err)

	assert.Equal(t, KindAutomated, job.Kind)
	assert.True(t, job.Flags.Has(FlagPreserveOutput))
}

func TestNewJob_QualifiedRelationKeepsNamespace(t *testing.T) {
	job, err := NewJob(Spec{
		ID:      "a",
		Kind:    "manual",
		Summary: "press the button",
		Depends: "com.other.provider::b",
	}, testNamespace)
	require.NoError(t, err)
	assert.Equal(t, "com.other.provider::b", job.Depends[0].String())
}

func TestNewJob_Errors(t *testing.T) {
	testCases := []struct {
		name string
		spec Spec
	}{
		{"bad id", Spec{ID: "a b", Kind: "manual"}},
		{"unknown kind", Spec{ID: "a", Kind: "weird"}},
		{"no kind no simple", Spec{ID: "a", Command: "true"}},
		{"automated without command", Spec{ID: "a", Kind: "automated"}},
		{"resource without command", Spec{ID: "a", Kind: "resource"}},
		{"malformed requires", Spec{ID: "a", Kind: "automated", Command: "true", Requires: "disk.removable =="}},
		{"requires out of sandbox", Spec{ID: "a", Kind: "automated", Command: "true", Requires: `upper(disk.name) == "X"`}},
		{"bad depends id", Spec{ID: "a", Kind: "manual", Depends: "x//y"}},
		{"bad duration", Spec{ID: "a", Kind: "manual", EstimatedDuration: "soon"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewJob(tc.spec, testNamespace)
			require.Error(t, err)
		})
	}
}

func TestOutcome_Terminal(t *testing.T) {
	terminal := []Outcome{OutcomePass, OutcomeFail, OutcomeSkip, OutcomeCrash, OutcomeNotSupported}
	for _, o := range terminal {
		assert.True(t, o.Terminal(), string(o))
	}
	for _, o := range []Outcome{OutcomeNone, OutcomeNotStarted, OutcomeUndecided} {
		assert.False(t, o.Terminal(), string(o))
	}
}

func TestParseFlags(t *testing.T) {
	flags := ParseFlags("noreturn  also-after-suspend\ncustom-flag")
	assert.True(t, flags.Has(FlagNoReturn))
	assert.True(t, flags.Has(FlagAlsoAfterSuspend))
	assert.True(t, flags.Has("custom-flag"))
	assert.False(t, flags.Has(FlagCachable))
	assert.Equal(t, "also-after-suspend custom-flag noreturn", flags.String())
}

func TestNewTemplate(t *testing.T) {
	tmpl, err := NewTemplate(TemplateSpec{
		ID:       "disk/stats",
		Resource: "device",
		Engine:   "simple",
		Filter:   `device.category == "DISK"`,
		Skeleton: Spec{
			ID:      "disk/stats_{name}",
			Kind:    "automated",
			Command: "disk_stats.sh {name}",
		},
	}, testNamespace)
	require.NoError(t, err)

	assert.Equal(t, "com.example.provider::disk/stats", tmpl.ID.String())
	assert.Equal(t, "com.example.provider::device", tmpl.ResourceID.String())
	assert.Equal(t, EngineSimple, tmpl.Engine)
	require.NotNil(t, tmpl.Filter)

	_, err = NewTemplate(TemplateSpec{ID: "x", Resource: "device", Engine: "jinja"}, testNamespace)
	require.Error(t, err)

	_, err = NewTemplate(TemplateSpec{ID: "x"}, testNamespace)
	require.Error(t, err)
}

func TestNewTestPlan(t *testing.T) {
	plan, err := NewTestPlan(TestPlanSpec{
		ID:        "smoke",
		Bootstrap: []string{".*::device"},
		Include:   []string{".*::disk/.*"},
		Exclude:   []string{".*::disk/slow_.*"},
	}, testNamespace)
	require.NoError(t, err)
	assert.Equal(t, "com.example.provider::smoke", plan.ID.String())

	_, err = NewTestPlan(TestPlanSpec{ID: "empty"}, testNamespace)
	require.Error(t, err)
}
