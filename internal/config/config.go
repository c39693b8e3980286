package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/agentx-labs/kiln/internal/branding"
)

const (
	fileName = "config"
	fileType = "yaml"
)

// Keys understood by kiln.
const (
	KeyPackageManager = "package_manager"
	KeyManifest       = "manifest"
	KeyInstallTimeout = "install_timeout"
	KeyFSTimeout      = "fs_timeout"
	KeyConcurrency    = "concurrency"
	KeyLogLevel       = "log_level"
	KeyLogFormat      = "log_format"
	KeyLogOutput      = "log_output"
	KeyPluginPaths    = "plugin_paths"
)

var defaults = map[string]any{
	KeyPackageManager: "npm",
	KeyManifest:       "package.json",
	KeyInstallTimeout: "5m",
	KeyFSTimeout:      "30s",
	KeyConcurrency:    4,
	KeyLogLevel:       "info",
	KeyLogFormat:      "text",
	KeyLogOutput:      "stderr",
	KeyPluginPaths:    []string{},
}

// Settings is the resolved configuration.
type Settings struct {
	PackageManager string
	Manifest       string
	InstallTimeout time.Duration
	FSTimeout      time.Duration
	Concurrency    int
	LogLevel       string
	LogFormat      string
	LogOutput      string
	PluginPaths    []string
}

// Dir returns the path to the kiln home directory (~/.kiln/). KILN_HOME
// overrides it.
func Dir() string {
	if dir := os.Getenv(branding.EnvVar("HOME")); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", branding.HomeDir())
	}
	return filepath.Join(home, branding.HomeDir())
}

// PluginsDir returns the directory holding user-installed plugins.
func PluginsDir() string {
	return filepath.Join(Dir(), "plugins")
}

// FilePath returns the full path to the config file (~/.kiln/config.yaml).
func FilePath() string {
	return filepath.Join(Dir(), fileName+"."+fileType)
}

// EnsureDir creates the config directory if it does not exist.
func EnsureDir() error {
	dir := Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}
	return nil
}

// Load initializes Viper to read from the config file and environment.
func Load() {
	for k, v := range defaults {
		viper.SetDefault(k, v)
	}
	viper.SetConfigFile(FilePath())
	viper.SetConfigType(fileType)
	viper.SetEnvPrefix(branding.EnvPrefix())
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	// Ignore error if config file doesn't exist yet.
	_ = viper.ReadInConfig()
}

// Current returns the settings from file, environment and defaults.
func Current() (*Settings, error) {
	installTimeout, err := duration(KeyInstallTimeout)
	if err != nil {
		return nil, err
	}
	fsTimeout, err := duration(KeyFSTimeout)
	if err != nil {
		return nil, err
	}
	return &Settings{
		PackageManager: viper.GetString(KeyPackageManager),
		Manifest:       viper.GetString(KeyManifest),
		InstallTimeout: installTimeout,
		FSTimeout:      fsTimeout,
		Concurrency:    viper.GetInt(KeyConcurrency),
		LogLevel:       viper.GetString(KeyLogLevel),
		LogFormat:      viper.GetString(KeyLogFormat),
		LogOutput:      viper.GetString(KeyLogOutput),
		PluginPaths:    pluginPaths(),
	}, nil
}

func duration(key string) (time.Duration, error) {
	raw := viper.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config %s: %q is not a duration: %w", key, raw, err)
	}
	return d, nil
}

// pluginPaths accepts a YAML list or, from the environment, an
// os.PathListSeparator-separated string.
func pluginPaths() []string {
	var out []string
	for _, p := range viper.GetStringSlice(KeyPluginPaths) {
		for _, part := range filepath.SplitList(p) {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Known reports whether key is a recognized setting.
func Known(key string) bool {
	_, ok := defaults[key]
	return ok
}

// Keys returns every recognized key.
func Keys() []string {
	return []string{
		KeyPackageManager, KeyManifest, KeyInstallTimeout, KeyFSTimeout,
		KeyConcurrency, KeyLogLevel, KeyLogFormat, KeyLogOutput, KeyPluginPaths,
	}
}

// Get returns a config value by key. Returns empty string if not set.
func Get(key string) string {
	if key == KeyPluginPaths {
		return strings.Join(pluginPaths(), string(os.PathListSeparator))
	}
	return viper.GetString(key)
}

// Set writes a config key-value pair and saves the config file.
func Set(key, value string) error {
	if !Known(key) {
		return fmt.Errorf("unknown config key %q (known: %s)", key, strings.Join(Keys(), ", "))
	}
	if err := validate(key, value); err != nil {
		return err
	}
	if err := EnsureDir(); err != nil {
		return err
	}

	if key == KeyPluginPaths {
		viper.Set(key, filepath.SplitList(value))
	} else {
		viper.Set(key, value)
	}

	configFile := FilePath()

	// Create the file if it doesn't exist.
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("creating config file %s: %w", configFile, err)
		}
		f.Close()
	}

	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

func validate(key, value string) error {
	switch key {
	case KeyInstallTimeout, KeyFSTimeout:
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			return fmt.Errorf("%s must be a positive duration such as 30s or 5m", key)
		}
	case KeyLogFormat:
		if value != "text" && value != "json" {
			return fmt.Errorf("%s must be text or json", key)
		}
	}
	return nil
}
