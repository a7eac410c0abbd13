package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(args ...string) (string, error) {
	root := RootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootHelp(t *testing.T) {
	out, err := execute("--help")
	require.NoError(t, err)
	assert.Contains(t, out, "run")
	assert.Contains(t, out, "resume")
	assert.Contains(t, out, "list")
	// The worker subcommand is internal and should stay out of help.
	assert.NotContains(t, out, "trusted-worker")
}

func TestRunRequiresPlanArgument(t *testing.T) {
	_, err := execute("run")
	require.Error(t, err)
}

func TestRunRejectsIncompleteConfig(t *testing.T) {
	_, err := execute("run", "smoke", "--session-dir", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ProviderPath")
}

func TestRunRejectsBadManifestEntry(t *testing.T) {
	_, err := execute("run", "smoke",
		"--provider", t.TempDir(),
		"--session-dir", t.TempDir(),
		"--namespace", "com.example",
		"--manifest", "no-equals-sign")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manifest entry")
}

func TestConfigFileFillsGaps(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "launcher.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(
		"provider: "+dir+"\nsession_dir: "+filepath.Join(dir, "session")+"\nnamespace: com.example\n"), 0o644))

	// The catalog directory is empty, so the plan cannot exist; getting
	// that far proves the file supplied the required fields.
	_, err := execute("run", "smoke", "--config", configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in catalog")
}
