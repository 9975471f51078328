package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "omr"

	// EnvPrefix is the prefix for environment variables, e.g. OMR_SERVER_PORT.
	EnvPrefix = "OMR"
)

// Loader resolves configuration from defaults, files, environment
// variables and bound flags, in increasing precedence.
type Loader struct {
	v *viper.Viper
}

// NewLoader uses the global viper instance so flags bound by the root
// command take effect.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWithViper uses v instead of the global instance.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load searches the standard paths for omr.yaml and validates the result.
// A missing file is not an error.
func (l *Loader) Load() (*Config, error) { return l.load("", true) }

// LoadWithFile reads configFile, or searches like Load when it is empty.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) { return l.load(configFile, true) }

// LoadWithoutValidation is Load without Validate, for `config show`.
func (l *Loader) LoadWithoutValidation(configFile string) (*Config, error) {
	return l.load(configFile, false)
}

func (l *Loader) load(configFile string, validate bool) (*Config, error) {
	l.setupEnvironmentVariables()
	if err := l.setDefaults(); err != nil {
		return nil, err
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); err != nil {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		for _, p := range GetConfigSearchPaths() {
			l.v.AddConfigPath(p)
		}
		if err := l.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return &cfg, nil
}

// Get returns a raw value.
func (l *Loader) Get(key string) any { return l.v.Get(key) }

// GetString returns a string value.
func (l *Loader) GetString(key string) string { return l.v.GetString(key) }

// Set overrides a value.
func (l *Loader) Set(key string, value any) { l.v.Set(key, value) }

// GetConfigFileUsed returns the path of the config file read, if any.
func (l *Loader) GetConfigFileUsed() string { return l.v.ConfigFileUsed() }

// GetViper returns the underlying viper instance.
func (l *Loader) GetViper() *viper.Viper { return l.v }

// GetResolvedConfig returns every setting as a nested map.
func (l *Loader) GetResolvedConfig() map[string]any { return l.v.AllSettings() }

func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	l.v.AutomaticEnv()
}

// setDefaults registers every leaf of DefaultConfig as a viper default.
// Viper only unmarshals environment overrides for keys it knows about.
func (l *Loader) setDefaults() error {
	raw, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("decode defaults: %w", err)
	}
	walkLeaves("", tree, l.v.SetDefault)
	return nil
}

func walkLeaves(prefix string, m map[string]any, set func(string, any)) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			walkLeaves(key, sub, set)
			continue
		}
		set(key, v)
	}
}

// GetConfigSearchPaths returns the directories searched for omr.yaml.
func GetConfigSearchPaths() []string {
	paths := []string{"."}
	if configDir, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && configDir != "" {
		paths = append(paths, filepath.Join(configDir, "omr"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "omr"), home)
	}
	return append(paths, "/etc/omr")
}
