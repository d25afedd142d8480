// File: internal/config/loader.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment override, e.g. BDDTRIAGE_TRIAGE_AUTO_ANALYZE.
	EnvPrefix = "BDDTRIAGE"
	// APIKeyEnv holds the analysis service credential.
	APIKeyEnv = "BDDTRIAGE_LLM_API_KEY"
)

// configCandidates are searched in order when no file is given explicitly.
var configCandidates = []string{"./bddtriage.yaml", "~/.bddtriage.yaml"}

// Load prepares v with defaults, environment bindings and the configuration
// file. A missing default file is not an error; a missing explicit file is.
func Load(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := resolveConfigFile(cfgFile)
	if err != nil {
		return err
	}
	if path == "" {
		return nil
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return nil
}

func resolveConfigFile(cfgFile string) (string, error) {
	if cfgFile != "" {
		path, err := homedir.Expand(cfgFile)
		if err != nil {
			return "", fmt.Errorf("expanding config path %q: %w", cfgFile, err)
		}
		return path, nil
	}
	for _, candidate := range configCandidates {
		path, err := homedir.Expand(candidate)
		if err != nil {
			continue
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", nil
}

// expandPaths resolves "~" in path-valued settings.
func (c *Config) expandPaths() error {
	root, err := homedir.Expand(c.TriageCfg.ProjectRoot)
	if err != nil {
		return fmt.Errorf("expanding project_root: %w", err)
	}
	c.TriageCfg.ProjectRoot = root
	return nil
}
