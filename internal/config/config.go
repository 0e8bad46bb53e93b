// Package config loads and validates the treesync configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/openmined/treesync/internal/csync"
	"github.com/openmined/treesync/internal/jsonx"
	"github.com/openmined/treesync/internal/utils"
)

const (
	EnvPrefix      = "TREESYNC"
	configFileName = "config"

	DefaultEventInterval = time.Second
	DefaultPollInterval  = 30 * time.Second
	DefaultFullSyncEvery = 10
	DefaultAddr          = "127.0.0.1:7938"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigDir  = filepath.Join(home, ".config", "treesync")
	DefaultConfigPath = filepath.Join(DefaultConfigDir, configFileName+".json")
)

var ErrNoFolders = errors.New("no folders configured")

type Config struct {
	ConfigDir     string        `mapstructure:"config_dir" json:"config_dir" yaml:"config_dir"`
	ExcludeFile   string        `mapstructure:"exclude_file" json:"exclude_file,omitempty" yaml:"exclude_file,omitempty"`
	IgnoreFile    string        `mapstructure:"ignore_file" json:"ignore_file,omitempty" yaml:"ignore_file,omitempty"`
	EventInterval time.Duration `mapstructure:"event_interval" json:"event_interval" yaml:"event_interval"`
	PollInterval  time.Duration `mapstructure:"poll_interval" json:"poll_interval" yaml:"poll_interval"`
	FullSyncEvery int           `mapstructure:"full_sync_every" json:"full_sync_every" yaml:"full_sync_every"`
	LogLevel      string        `mapstructure:"log_level" json:"log_level,omitempty" yaml:"log_level,omitempty"`
	LogFile       string        `mapstructure:"log_file" json:"log_file,omitempty" yaml:"log_file,omitempty"`
	User          string        `mapstructure:"user" json:"user,omitempty" yaml:"user,omitempty"`
	Password      string        `mapstructure:"password" json:"password,omitempty" yaml:"password,omitempty"`
	Proxy         Proxy         `mapstructure:"proxy" json:"proxy" yaml:"proxy"`
	Folders       []Folder      `mapstructure:"folders" json:"folders" yaml:"folders"`
	ControlPlane  ControlPlane  `mapstructure:"control_plane" json:"control_plane" yaml:"control_plane"`

	// Path is the file the config was read from, if any.
	Path string `mapstructure:"-" json:"-" yaml:"-"`
}

type Proxy struct {
	Type     string `mapstructure:"type" json:"type,omitempty" yaml:"type,omitempty"`
	Host     string `mapstructure:"host" json:"host,omitempty" yaml:"host,omitempty"`
	Port     int    `mapstructure:"port" json:"port,omitempty" yaml:"port,omitempty"`
	User     string `mapstructure:"user" json:"user,omitempty" yaml:"user,omitempty"`
	Password string `mapstructure:"password" json:"password,omitempty" yaml:"password,omitempty"`
}

type Folder struct {
	Alias  string `mapstructure:"alias" json:"alias" yaml:"alias"`
	Source string `mapstructure:"source" json:"source" yaml:"source"`
	Target string `mapstructure:"target" json:"target" yaml:"target"`
}

type ControlPlane struct {
	Addr  string `mapstructure:"addr" json:"addr" yaml:"addr"`
	Token string `mapstructure:"token" json:"token,omitempty" yaml:"token,omitempty"`
}

// SetDefaults registers every key so environment overrides reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("config_dir", DefaultConfigDir)
	v.SetDefault("event_interval", DefaultEventInterval)
	v.SetDefault("poll_interval", DefaultPollInterval)
	v.SetDefault("full_sync_every", DefaultFullSyncEvery)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("exclude_file", "")
	v.SetDefault("ignore_file", "")
	v.SetDefault("user", "")
	v.SetDefault("password", "")
	v.SetDefault("proxy.type", csync.NoProxy.String())
	v.SetDefault("control_plane.addr", DefaultAddr)
	v.SetDefault("control_plane.token", "")
}

// Load reads the config file at path, or searches the default locations
// when path is empty. A missing file is not an error; environment
// variables prefixed with TREESYNC_ still apply.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(DefaultConfigDir)
		v.AddConfigPath(filepath.Join(home, ".treesync"))
		v.SetConfigName(configFileName)
		v.SetConfigType("json")
	}

	var used string
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	} else {
		used = v.ConfigFileUsed()
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	cfg.Path = used
	return &cfg, nil
}

// Validate resolves paths in place and rejects incomplete folders.
func (c *Config) Validate() error {
	var err error

	if c.ConfigDir, err = utils.ResolvePath(c.ConfigDir); err != nil {
		return fmt.Errorf("`config_dir`: %w", err)
	}
	if c.ExcludeFile, err = resolveOptional(c.ExcludeFile); err != nil {
		return fmt.Errorf("`exclude_file`: %w", err)
	}
	if c.IgnoreFile, err = resolveOptional(c.IgnoreFile); err != nil {
		return fmt.Errorf("`ignore_file`: %w", err)
	}
	if c.LogFile, err = resolveOptional(c.LogFile); err != nil {
		return fmt.Errorf("`log_file`: %w", err)
	}

	if c.EventInterval <= 0 {
		return fmt.Errorf("`event_interval` must be positive, got %s", c.EventInterval)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("`poll_interval` must be positive, got %s", c.PollInterval)
	}
	if c.FullSyncEvery < 1 {
		return fmt.Errorf("`full_sync_every` must be at least 1, got %d", c.FullSyncEvery)
	}

	if _, ok := csync.ParseProxyType(c.Proxy.Type); !ok {
		return fmt.Errorf("`proxy.type`: unknown proxy type %q", c.Proxy.Type)
	}
	if c.Proxy.Port < 0 || c.Proxy.Port > 65535 {
		return fmt.Errorf("`proxy.port` out of range: %d", c.Proxy.Port)
	}

	aliases := make(map[string]bool, len(c.Folders))
	sources := make(map[string]string, len(c.Folders))
	for i := range c.Folders {
		f := &c.Folders[i]
		if f.Alias == "" {
			return fmt.Errorf("folder %d: `alias` is required", i)
		}
		if aliases[f.Alias] {
			return fmt.Errorf("folder %q: duplicate alias", f.Alias)
		}
		aliases[f.Alias] = true

		if f.Source, err = utils.ResolvePath(f.Source); err != nil {
			return fmt.Errorf("folder %q `source`: %w", f.Alias, err)
		}
		if f.Target, err = utils.ResolvePath(f.Target); err != nil {
			return fmt.Errorf("folder %q `target`: %w", f.Alias, err)
		}
		if f.Source == f.Target {
			return fmt.Errorf("folder %q: source and target are the same directory", f.Alias)
		}
		if other, ok := sources[f.Source]; ok {
			return fmt.Errorf("folder %q: source already synced by %q", f.Alias, other)
		}
		sources[f.Source] = f.Alias
	}

	return nil
}

// Credentials is the engine-facing snapshot of the account and proxy
// settings. Validate must have succeeded.
func (c *Config) Credentials() csync.Credentials {
	proxyType, _ := csync.ParseProxyType(c.Proxy.Type)
	return csync.Credentials{
		User:     c.User,
		Password: c.Password,
		Proxy: csync.ProxySettings{
			Type:     proxyType,
			Host:     c.Proxy.Host,
			Port:     c.Proxy.Port,
			User:     c.Proxy.User,
			Password: c.Proxy.Password,
		},
	}
}

func (c *Config) Folder(alias string) (Folder, bool) {
	for _, f := range c.Folders {
		if f.Alias == alias {
			return f, true
		}
	}
	return Folder{}, false
}

// Save writes the config, creating parent directories. Files ending in
// .yaml or .yml are written as YAML, anything else as indented JSON.
func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = jsonx.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("config encode: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

func resolveOptional(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	return utils.ResolvePath(path)
}
