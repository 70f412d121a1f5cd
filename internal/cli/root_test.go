package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sampleModel  = filepath.Join("..", "harness", "testdata", "models", "sample.cue")
	scenarioDir  = filepath.Join("..", "harness", "testdata", "scenarios")
	fixtureRows  = filepath.Join("testdata", "rows.yaml")
	brokenModel  = filepath.Join("testdata", "broken.cue")
	invoiceModel = filepath.Join("testdata", "other.cue")
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "quill", cmd.Use)
	assert.Contains(t, cmd.Long, "CUE domain model")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"validate", "explain", "run", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	modelFlag := cmd.PersistentFlags().Lookup("model")
	require.NotNil(t, modelFlag)
	assert.Equal(t, "m", modelFlag.Shorthand)

	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestInvalidFormat(t *testing.T) {
	_, _, err := execute(t, "--format", "xml", "validate", sampleModel)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	model, err := filepath.Abs(sampleModel)
	require.NoError(t, err)
	path := filepath.Join(dir, "quill.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: "+model+"\nlog_level: error\n"), 0o644))

	out, _, err := execute(t, "--config", path, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Model valid")

	_, _, err = execute(t, "--config", filepath.Join(dir, "missing.yaml"), "validate")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConfigFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quill.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_format: xml\n"), 0o644))

	_, _, err := execute(t, "--config", path, "validate", sampleModel)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "log_format")
}

func TestVerboseLogsToStderr(t *testing.T) {
	out, errOut, err := execute(t, "-v", "--format", "json", "-m", sampleModel,
		"explain", "Person.count()")
	require.NoError(t, err)
	assert.Contains(t, errOut, "translation ")
	assert.NotContains(t, out, "translation ")
}
