/*
Copyright © 2025 dotlessone
*/
package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotlessone/texvault/pkg/digest"
	"github.com/dotlessone/texvault/pkg/exitcode"
)

// newTestRoot builds an isolated command tree with captured output.
func newTestRoot() (*cobra.Command, *bytes.Buffer) {
	root := newRootCommand()
	registerSubcommands(root)
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	return root, buf
}

func TestVersionCommand(t *testing.T) {
	root, buf := newTestRoot()
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "texvault")
}

func TestVersionCommandJSON(t *testing.T) {
	root, buf := newTestRoot()
	root.SetArgs([]string{"version", "--json"})
	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), `"version"`)
	assert.Contains(t, buf.String(), `"platform"`)
}

func TestReconcileCommandEndToEnd(t *testing.T) {
	dir := t.TempDir()
	storeRoot := filepath.Join(dir, "store")
	inbox := filepath.Join(dir, "inbox")
	require.NoError(t, os.MkdirAll(storeRoot, 0o750))
	require.NoError(t, os.MkdirAll(inbox, 0o750))

	content := "texture-bytes"
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "dump_0001.png"), []byte(content), 0o644))
	d, err := digest.Reader(strings.NewReader(content))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "pass1.csv"),
		[]byte(fmt.Sprintf("digest,asset_name\n%s,tex_main\n", d)), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ledger.csv"),
		[]byte(fmt.Sprintf("digest\n%s\n", d)), 0o644))

	manifest := filepath.Join(dir, "passes.toml")
	require.NoError(t, os.WriteFile(manifest, []byte(`
store_root = "store"
candidate_roots = ["inbox"]
ledger = "ledger.csv"
log_dir = "logs"

[[pass]]
id = "pass1"
evidence = "pass1.csv"
`), 0o644))

	root, buf := newTestRoot()
	root.SetArgs([]string{"reconcile", "--manifest", manifest})
	require.NoError(t, root.Execute())

	assert.FileExists(t, filepath.Join(storeRoot, "tex_main.png"))
	assert.NoFileExists(t, filepath.Join(inbox, "dump_0001.png"))
	assert.Contains(t, buf.String(), "pass1")
}

func TestVerifyCommandRepairsByDefault(t *testing.T) {
	dir := t.TempDir()
	storeRoot := filepath.Join(dir, "store")
	require.NoError(t, os.MkdirAll(storeRoot, 0o750))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "inbox"), 0o750))

	content := "texture-bytes"
	require.NoError(t, os.WriteFile(filepath.Join(storeRoot, "tex_main.png"), []byte(content), 0o644))
	d, err := digest.Reader(strings.NewReader(content))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "pass1.csv"),
		[]byte(fmt.Sprintf("digest,asset_name\n%s,tex_main\n%s,tex_main_hd\n", d, d)), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ledger.csv"),
		[]byte(fmt.Sprintf("digest\n%s\n", d)), 0o644))

	manifest := filepath.Join(dir, "passes.toml")
	require.NoError(t, os.WriteFile(manifest, []byte(`
store_root = "store"
candidate_roots = ["inbox"]
ledger = "ledger.csv"
log_dir = "logs"

[[pass]]
id = "pass1"
evidence = "pass1.csv"
`), 0o644))

	// The first run finds and restores the missing alias copy; it still
	// reports the finding.
	root, _ := newTestRoot()
	root.SetArgs([]string{"verify", "--manifest", manifest})
	err = root.Execute()
	require.Error(t, err)
	assert.Equal(t, exitcode.ValidationError, exitCodeFor(err))
	assert.FileExists(t, filepath.Join(storeRoot, "tex_main_hd.png"))

	// The repaired store verifies clean.
	root, _ = newTestRoot()
	root.SetArgs([]string{"verify", "--manifest", manifest})
	require.NoError(t, root.Execute())
}

func TestVerifyCommandNoRepairOnlyReports(t *testing.T) {
	dir := t.TempDir()
	storeRoot := filepath.Join(dir, "store")
	require.NoError(t, os.MkdirAll(storeRoot, 0o750))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "inbox"), 0o750))

	content := "texture-bytes"
	require.NoError(t, os.WriteFile(filepath.Join(storeRoot, "tex_main.png"), []byte(content), 0o644))
	d, err := digest.Reader(strings.NewReader(content))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "pass1.csv"),
		[]byte(fmt.Sprintf("digest,asset_name\n%s,tex_main\n%s,tex_main_hd\n", d, d)), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ledger.csv"),
		[]byte(fmt.Sprintf("digest\n%s\n", d)), 0o644))

	manifest := filepath.Join(dir, "passes.toml")
	require.NoError(t, os.WriteFile(manifest, []byte(`
store_root = "store"
candidate_roots = ["inbox"]
ledger = "ledger.csv"
log_dir = "logs"

[[pass]]
id = "pass1"
evidence = "pass1.csv"
`), 0o644))

	root, _ := newTestRoot()
	root.SetArgs([]string{"verify", "--manifest", manifest, "--no-repair"})
	err = root.Execute()
	require.Error(t, err)
	assert.Equal(t, exitcode.ValidationError, exitCodeFor(err))
	assert.NoFileExists(t, filepath.Join(storeRoot, "tex_main_hd.png"))
}

func TestReconcileCommandMissingManifest(t *testing.T) {
	root, _ := newTestRoot()
	root.SetArgs([]string{"reconcile", "--manifest", filepath.Join(t.TempDir(), "absent.toml")})
	err := root.Execute()
	require.Error(t, err)
	assert.Equal(t, exitcode.ValidationError, exitCodeFor(err))
}

func TestReconcilePreflightExitCode(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "store"), 0o750))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "inbox"), 0o750))
	manifest := filepath.Join(dir, "passes.toml")
	require.NoError(t, os.WriteFile(manifest, []byte(`
store_root = "store"
candidate_roots = ["inbox"]

[[pass]]
id = "pass1"
evidence = "absent.csv"
`), 0o644))

	root, _ := newTestRoot()
	root.SetArgs([]string{"reconcile", "--manifest", manifest})
	err := root.Execute()
	require.Error(t, err)
	assert.Equal(t, exitcode.PreconditionError, exitCodeFor(err))
}
