package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmined/treesync/internal/csync"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	return &Config{
		ConfigDir:     filepath.Join(dir, "conf"),
		EventInterval: time.Second,
		PollInterval:  time.Minute,
		FullSyncEvery: 5,
		Proxy:         Proxy{Type: "none"},
		Folders: []Folder{
			{Alias: "docs", Source: filepath.Join(dir, "docs"), Target: filepath.Join(dir, "remote", "docs")},
		},
	}
}

func TestLoad_FileAndDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"event_interval": "250ms",
		"user": "alice",
		"proxy": {"type": "socks5", "host": "proxy.local", "port": 1080},
		"folders": [{"alias": "docs", "source": "/data/docs", "target": "/mnt/docs"}]
	}`)

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, 250*time.Millisecond, cfg.EventInterval)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, DefaultFullSyncEvery, cfg.FullSyncEvery)
	assert.Equal(t, DefaultAddr, cfg.ControlPlane.Addr)
	assert.Equal(t, "alice", cfg.User)
	require.Len(t, cfg.Folders, 1)
	assert.Equal(t, "/mnt/docs", cfg.Folders[0].Target)

	creds := cfg.Credentials()
	assert.Equal(t, csync.Socks5Proxy, creds.Proxy.Type)
	assert.Equal(t, 1080, creds.Proxy.Port)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `{"user": "alice"}`)
	t.Setenv("TREESYNC_USER", "bob")
	t.Setenv("TREESYNC_CONTROL_PLANE_TOKEN", "s3cret")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "bob", cfg.User)
	assert.Equal(t, "s3cret", cfg.ControlPlane.Token)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultEventInterval, cfg.EventInterval)
	assert.Empty(t, cfg.Folders)
	assert.Empty(t, cfg.Path)
}

func TestLoad_BrokenFile(t *testing.T) {
	path := writeConfig(t, `{"user": `)
	_, err := Load(viper.New(), path)
	assert.ErrorContains(t, err, "config read")
}

func TestValidate_ResolvesPaths(t *testing.T) {
	cfg := validConfig(t)
	cfg.Folders[0].Source = cfg.Folders[0].Source + "/./"
	cfg.ExcludeFile = filepath.Join(t.TempDir(), "x", "..", "exclude.lst")

	require.NoError(t, cfg.Validate())
	assert.True(t, filepath.IsAbs(cfg.Folders[0].Source))
	assert.Equal(t, filepath.Clean(cfg.Folders[0].Source), cfg.Folders[0].Source)
	assert.NotContains(t, cfg.ExcludeFile, "..")
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"empty alias", func(c *Config) { c.Folders[0].Alias = "" }, "`alias` is required"},
		{"empty source", func(c *Config) { c.Folders[0].Source = " " }, "`source`"},
		{"empty target", func(c *Config) { c.Folders[0].Target = "" }, "`target`"},
		{"duplicate alias", func(c *Config) {
			c.Folders = append(c.Folders, Folder{Alias: "docs", Source: "/a", Target: "/b"})
		}, "duplicate alias"},
		{"duplicate source", func(c *Config) {
			c.Folders = append(c.Folders, Folder{Alias: "more", Source: c.Folders[0].Source, Target: "/b"})
		}, "already synced by"},
		{"same dirs", func(c *Config) { c.Folders[0].Target = c.Folders[0].Source }, "same directory"},
		{"bad proxy", func(c *Config) { c.Proxy.Type = "carrier-pigeon" }, "unknown proxy type"},
		{"bad port", func(c *Config) { c.Proxy.Port = 70000 }, "out of range"},
		{"zero interval", func(c *Config) { c.EventInterval = 0 }, "`event_interval`"},
		{"zero poll", func(c *Config) { c.PollInterval = 0 }, "`poll_interval`"},
		{"zero full sync", func(c *Config) { c.FullSyncEvery = 0 }, "`full_sync_every`"},
		{"empty config dir", func(c *Config) { c.ConfigDir = "" }, "`config_dir`"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	cfg := validConfig(t)
	cfg.ControlPlane = ControlPlane{Addr: "127.0.0.1:9999", Token: "tok"}
	require.NoError(t, cfg.Validate())

	path := filepath.Join(t.TempDir(), "nested", "config.json")
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Folders, loaded.Folders)
	assert.Equal(t, cfg.ControlPlane, loaded.ControlPlane)
	assert.Equal(t, cfg.PollInterval, loaded.PollInterval)

	f, ok := loaded.Folder("docs")
	assert.True(t, ok)
	assert.Equal(t, "docs", f.Alias)
	_, ok = loaded.Folder("nope")
	assert.False(t, ok)
}

func TestSaveYAML(t *testing.T) {
	cfg := validConfig(t)
	cfg.PollInterval = 45 * time.Second
	require.NoError(t, cfg.Validate())

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "poll_interval: 45s")
	assert.Contains(t, string(data), "alias: docs")

	loaded, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, path, loaded.Path)
	assert.Equal(t, 45*time.Second, loaded.PollInterval)
	assert.Equal(t, cfg.Folders, loaded.Folders)
}
