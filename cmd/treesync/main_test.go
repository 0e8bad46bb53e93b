package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmined/treesync/internal/config"
	"github.com/openmined/treesync/internal/controlplane"
	"github.com/openmined/treesync/internal/engine/localfs"
	"github.com/openmined/treesync/internal/folder"
	"github.com/openmined/treesync/internal/version"
)

func init() {
	gin.SetMode(gin.TestMode)
	color.NoColor = true
}

// execute runs the CLI in process and returns stdout, stderr and the error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	cmd.SilenceErrors = true

	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

type workspace struct {
	config string
	src    string
	dst    string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TREESYNC_CONFIG_DIR", filepath.Join(dir, "conf"))

	ws := workspace{
		config: filepath.Join(dir, "treesync.json"),
		src:    filepath.Join(dir, "src"),
		dst:    filepath.Join(dir, "dst"),
	}
	require.NoError(t, os.MkdirAll(ws.src, 0o755))
	require.NoError(t, os.MkdirAll(ws.dst, 0o755))
	return ws
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version.DetailedWithApp(), strings.TrimSpace(out))

	out, _, err = execute(t, "version", "--json")
	require.NoError(t, err)
	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.AppName, info.App)
}

func TestDaemonCommand_Flags(t *testing.T) {
	cmd := newRootCmd()
	daemonCmd, _, err := cmd.Find([]string{"daemon"})
	require.NoError(t, err)

	for _, c := range []string{"daemon", "status", "sync", "terminate"} {
		sub, _, err := cmd.Find([]string{c})
		require.NoError(t, err, c)
		addr := sub.Flags().Lookup("http-addr")
		require.NotNil(t, addr, c)
		assert.Equal(t, "a", addr.Shorthand)
		assert.Equal(t, config.DefaultAddr, addr.DefValue)
	}

	token := daemonCmd.Flags().Lookup("http-token")
	require.NotNil(t, token)
	assert.Equal(t, "t", token.Shorthand)
	assert.Empty(t, token.DefValue)
}

func TestDaemon_NoFolders(t *testing.T) {
	ws := newWorkspace(t)
	_, _, err := execute(t, "daemon", "--config", ws.config)
	require.ErrorIs(t, err, config.ErrNoFolders)
}

func TestAddAndRun(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws.src, "a.txt"), []byte("alpha"), 0o644))

	out, _, err := execute(t, "--config", ws.config, "add", "docs", ws.src, ws.dst)
	require.NoError(t, err)
	assert.Contains(t, out, "added docs")
	require.FileExists(t, ws.config)

	_, _, err = execute(t, "--config", ws.config, "add", "docs", ws.dst, ws.src)
	require.ErrorContains(t, err, "duplicate alias")

	out, _, err = execute(t, "--config", ws.config, "run", "docs")
	require.NoError(t, err)
	assert.Contains(t, out, "run done")
	assert.Contains(t, out, "new 1")

	data, err := os.ReadFile(filepath.Join(ws.dst, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))
	assert.FileExists(t, filepath.Join(ws.src, localfs.JournalName))

	out, _, err = execute(t, "--config", ws.config, "reset", "docs")
	require.NoError(t, err)
	assert.Contains(t, out, "state of docs removed")
	assert.NoFileExists(t, filepath.Join(ws.src, localfs.JournalName))
}

func TestRun_AdHocPairJSON(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws.dst, "b.txt"), []byte("bravo"), 0o644))

	out, _, err := execute(t, "--config", ws.config, "run", "--source", ws.src, "--target", ws.dst, "--local-only", "--json")
	require.NoError(t, err)

	var res struct {
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	assert.Equal(t, "local_only_done", res.State)
	assert.NoFileExists(t, filepath.Join(ws.src, "b.txt"))
}

func TestRun_Errors(t *testing.T) {
	ws := newWorkspace(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no pair", []string{"run"}, "are required"},
		{"unknown alias", []string{"run", "music"}, `unknown folder "music"`},
		{"alias and flags", []string{"run", "docs", "--source", ws.src, "--target", ws.dst}, "either an alias"},
		{"same dirs", []string{"run", "--source", ws.src, "--target", ws.src}, "same directory"},
		{"reset unknown", []string{"reset", "music"}, `unknown folder "music"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, append([]string{"--config", ws.config}, tt.args...)...)
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestRun_MissingTargetFails(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, os.RemoveAll(ws.dst))

	out, _, err := execute(t, "--config", ws.config, "run", "--source", ws.src, "--target", ws.dst)
	require.ErrorIs(t, err, errRunFailed)
	assert.Contains(t, out, "error")
	assert.Contains(t, out, "run failed")
}

type stubFolder struct {
	status folder.Status
	synced bool
}

func (f *stubFolder) Alias() string                       { return f.status.Alias }
func (f *stubFolder) Status() folder.Status               { return f.status }
func (f *stubFolder) FileStatus(string) folder.FileStatus { return folder.FileNone }
func (f *stubFolder) SyncNow() error                      { f.synced = true; return nil }
func (f *stubFolder) Terminate() bool                     { return false }

type stubFolders []*stubFolder

func (s stubFolders) Folder(alias string) (controlplane.Folder, error) {
	for _, f := range s {
		if f.status.Alias == alias {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", folder.ErrFolderNotFound, alias)
}

func (s stubFolders) Folders() []controlplane.Folder {
	out := make([]controlplane.Folder, len(s))
	for i, f := range s {
		out[i] = f
	}
	return out
}

func TestStatusSyncTerminate(t *testing.T) {
	ws := newWorkspace(t)
	docs := &stubFolder{status: folder.Status{
		Alias:         "docs",
		Source:        ws.src,
		Target:        ws.dst,
		LastSeenFiles: 1200,
		Result:        folder.SyncResult{Status: folder.StatusSuccess},
	}}
	srv := httptest.NewServer(controlplane.NewRouter(stubFolders{docs}, controlplane.Config{Token: "tok", RateLimit: 100}))
	t.Cleanup(srv.Close)

	base := []string{"--config", ws.config}
	flags := []string{"--http-addr", srv.URL, "--http-token", "tok"}

	out, _, err := execute(t, append(append(base, "status"), flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "TreeSync")
	assert.Contains(t, out, "docs")
	assert.Contains(t, out, "success")
	assert.Contains(t, out, "1,200")

	out, _, err = execute(t, append(append(base, "status", "docs", "--json"), flags...)...)
	require.NoError(t, err)
	var st folder.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st), out)
	assert.Equal(t, "docs", st.Alias)

	out, _, err = execute(t, append(append(base, "sync", "docs"), flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "sync of docs queued")
	assert.True(t, docs.synced)

	out, _, err = execute(t, append(append(base, "terminate", "docs"), flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "docs is idle")

	_, _, err = execute(t, append(append(base, "sync", "music"), flags...)...)
	require.ErrorContains(t, err, controlplane.ErrCodeNotFound)

	_, _, err = execute(t, append(base, "status", "--http-addr", srv.URL, "--http-token", "nope")...)
	require.ErrorContains(t, err, controlplane.ErrCodeUnauthorized)
}
