package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrisonrobin/taskmerge/pkg/config"
	"github.com/harrisonrobin/taskmerge/pkg/model"
)

const orgFile = `* TODO Write report :work:
  :PROPERTIES:
  :ID: report-1
  :END:
* DONE Book flights
  :PROPERTIES:
  :ID: flights-1
  :END:
`

type workspace struct {
	dir        string
	configPath string
	vaultDir   string
	orgPath    string
}

func newWorkspace(t *testing.T, vault bool) workspace {
	t.Helper()
	dir := t.TempDir()
	ws := workspace{
		dir:        dir,
		configPath: filepath.Join(dir, "config.yaml"),
		vaultDir:   filepath.Join(dir, "vault"),
		orgPath:    filepath.Join(dir, "work.org"),
	}
	require.NoError(t, os.WriteFile(ws.orgPath, []byte(orgFile), 0600))

	cfg := config.Default()
	cfg.Log.Level = "error"
	cfg.State.Path = filepath.Join(dir, "state.json")
	cfg.Sources.Orgmode.Files = []string{ws.orgPath}
	cfg.Sources.Vault.Enabled = vault
	cfg.Sources.Vault.Path = ws.vaultDir
	require.NoError(t, config.SaveFile(ws.configPath, cfg))
	return ws
}

func (ws workspace) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", ws.configPath}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func (ws workspace) listJSON(t *testing.T, args ...string) []model.Task {
	t.Helper()
	out, err := ws.run(t, "", append([]string{"--format", "json", "list"}, args...)...)
	require.NoError(t, err)
	var tasks []model.Task
	require.NoError(t, json.Unmarshal([]byte(out), &tasks))
	return tasks
}

func TestSync_Text(t *testing.T) {
	ws := newWorkspace(t, true)

	out, err := ws.run(t, "", "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ orgmode")
	assert.Contains(t, out, "✓ vault")
	assert.Contains(t, out, "2 task(s)")
	assert.FileExists(t, filepath.Join(ws.dir, "state.json"))
}

func TestSync_JSON(t *testing.T) {
	ws := newWorkspace(t, false)

	out, err := ws.run(t, "", "--format", "json", "sync")
	require.NoError(t, err)

	var result SyncResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "orgmode", result.Sources[0].ID)
	assert.True(t, result.Sources[0].OK)
	assert.Equal(t, 2, result.Tasks)
}

func TestSync_SourceFailure(t *testing.T) {
	ws := newWorkspace(t, true)
	require.NoError(t, os.Remove(ws.orgPath))

	out, err := ws.run(t, "", "sync")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ orgmode")
	assert.Contains(t, out, "✓ vault")
}

func TestSync_Idempotent(t *testing.T) {
	ws := newWorkspace(t, false)

	_, err := ws.run(t, "", "sync")
	require.NoError(t, err)
	first := ws.listJSON(t, "--all")

	_, err = ws.run(t, "", "sync")
	require.NoError(t, err)
	second := ws.listJSON(t, "--all")

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].UpdatedAt, second[i].UpdatedAt)
	}
}

func TestList(t *testing.T) {
	ws := newWorkspace(t, false)

	out, err := ws.run(t, "", "list")
	require.NoError(t, err)
	assert.Equal(t, "ID  STATUS  TITLE  SOURCES\n", out)

	_, err = ws.run(t, "", "sync")
	require.NoError(t, err)

	out, err = ws.run(t, "", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Write report")
	assert.Contains(t, out, "orgmode")
	assert.NotContains(t, out, "Book flights")

	out, err = ws.run(t, "", "list", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "Book flights")
}

func TestImport(t *testing.T) {
	ws := newWorkspace(t, true)

	out, err := ws.run(t, "", "import")
	require.NoError(t, err)
	assert.Contains(t, out, "imported 2 task(s), 0 failed")
	assert.FileExists(t, filepath.Join(ws.vaultDir, "write-report.md"))

	tasks := ws.listJSON(t, "--all")
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		_, inOrg := task.KeyFor("orgmode")
		_, inVault := task.KeyFor("vault")
		assert.True(t, inOrg, task.Title)
		assert.True(t, inVault, task.Title)
		assert.Equal(t, "orgmode", task.Source.Extension)
	}

	// Everything is backed by a note now.
	out, err = ws.run(t, "", "import")
	require.NoError(t, err)
	assert.Contains(t, out, "imported 0 task(s)")
	assert.Len(t, ws.listJSON(t, "--all"), 2)
}

func TestImport_VaultDisabled(t *testing.T) {
	ws := newWorkspace(t, false)

	_, err := ws.run(t, "", "import")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConfigSetCalendar(t *testing.T) {
	ws := newWorkspace(t, false)

	out, err := ws.run(t, "", "config", "set-calendar", "Work")
	require.NoError(t, err)
	assert.Equal(t, "Default calendar set to: Work\n", out)

	cfg, err := config.LoadFile(ws.configPath)
	require.NoError(t, err)
	assert.Equal(t, "Work", cfg.Sources.Calendar.Name)
	assert.True(t, cfg.Sources.Calendar.Enabled)

	out, err = ws.run(t, "", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "name: Work")
}

func TestHook(t *testing.T) {
	ws := newWorkspace(t, false)
	cfg, err := config.LoadFile(ws.configPath)
	require.NoError(t, err)
	cfg.Sources.Taskwarrior.Enabled = true
	require.NoError(t, config.SaveFile(ws.configPath, cfg))

	var spawned []string
	orig := spawnSync
	spawnSync = func(path string) error {
		spawned = append(spawned, path)
		return nil
	}
	t.Cleanup(func() { spawnSync = orig })

	in := `{"uuid":"a1","description":"old","status":"pending"}
{"uuid":"a1","description":"new","status":"pending"}
`
	out, err := ws.run(t, in, "hook")
	require.NoError(t, err)
	assert.Contains(t, out, `"description":"new"`)
	assert.NotContains(t, out, `"description":"old"`)
	assert.Equal(t, []string{ws.configPath}, spawned)

	_, err = ws.run(t, in, "hook", "--no-sync")
	require.NoError(t, err)
	assert.Len(t, spawned, 1)

	out, err = ws.run(t, "", "hook")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestInvalidFormat(t *testing.T) {
	ws := newWorkspace(t, false)

	_, err := ws.run(t, "", "--format", "xml", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
