// Package config loads kubegcore settings from ~/.kubegcore/config.yaml and
// KUBEGCORE_* environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/solo-io/kubegcore/pkg/options"
)

type Config struct {
	Kubeconfig string `mapstructure:"kubeconfig"`
	Context    string `mapstructure:"context"`
	// Namespace of the instance. Empty means the kubeconfig context's namespace.
	Namespace string `mapstructure:"namespace"`

	// AgentNamespace empty means agents are looked up in every namespace.
	AgentNamespace string `mapstructure:"agent_namespace"`
	AgentSelector  string `mapstructure:"agent_selector"`
	AgentContainer string `mapstructure:"agent_container"`

	RemoteDir string `mapstructure:"remote_dir"`
	OutputDir string `mapstructure:"output_dir"`

	SourceRoot       string `mapstructure:"source_root"`
	ModuleCache      string `mapstructure:"module_cache"`
	BuildSourceRoot  string `mapstructure:"build_source_root"`
	BuildModuleCache string `mapstructure:"build_module_cache"`

	LeaseSeconds int `mapstructure:"lease_seconds"`

	// Machine skips the confirmation prompt.
	Machine  bool   `mapstructure:"machine"`
	Verbose  bool   `mapstructure:"verbose"`
	LogLevel string `mapstructure:"log_level"`
}

// Load reads configFile, or ~/.kubegcore/config.yaml when configFile is empty.
// A missing default file is not an error.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	if err := setDefaults(v); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(options.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config %v", configFile)
		}
	} else {
		dir, err := ConfigDir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
		v.SetConfigName(strings.TrimSuffix(options.ConfigFileName, filepath.Ext(options.ConfigFileName)))
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errors.Wrap(err, "reading config")
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	for _, p := range []*string{&cfg.Kubeconfig, &cfg.OutputDir, &cfg.SourceRoot, &cfg.ModuleCache} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return nil, err
		}
		*p = expanded
	}
	if cfg.LeaseSeconds <= 0 {
		return nil, errors.Errorf("lease_seconds must be positive, got %d", cfg.LeaseSeconds)
	}
	return &cfg, nil
}

func ConfigDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, options.ConfigDirName), nil
}

func setDefaults(v *viper.Viper) error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	moduleCache, err := defaultModuleCache()
	if err != nil {
		return err
	}

	v.SetDefault("kubeconfig", "")
	v.SetDefault("context", "")
	v.SetDefault("namespace", "")
	v.SetDefault("agent_namespace", "")
	v.SetDefault("agent_selector", options.AgentLabelSelectorString)
	v.SetDefault("agent_container", "")
	v.SetDefault("remote_dir", options.RemoteDir)
	v.SetDefault("output_dir", wd)
	v.SetDefault("source_root", wd)
	v.SetDefault("module_cache", moduleCache)
	v.SetDefault("build_source_root", options.BuildSourceRoot)
	v.SetDefault("build_module_cache", options.BuildModuleCache)
	v.SetDefault("lease_seconds", options.LeaseDurationSeconds)
	v.SetDefault("machine", false)
	v.SetDefault("verbose", false)
	v.SetDefault("log_level", "warn")
	return nil
}

// defaultModuleCache mirrors `go env GOMODCACHE` without running go.
func defaultModuleCache() (string, error) {
	if dir := os.Getenv("GOMODCACHE"); dir != "" {
		return dir, nil
	}
	if gopath := filepath.SplitList(os.Getenv("GOPATH")); len(gopath) > 0 && gopath[0] != "" {
		return filepath.Join(gopath[0], "pkg", "mod"), nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "go", "pkg", "mod"), nil
}
