package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StartupTab describes a tab the host opens when it starts.
type StartupTab struct {
	URL    string `yaml:"url"`
	Active bool   `yaml:"active"`
}

// StartupTabsConfig is the top-level YAML document.
type StartupTabsConfig struct {
	Tabs []StartupTab `yaml:"tabs"`
}

// LoadStartupTabs reads and validates a startup tabs YAML file. A missing
// file is reported as an os.ErrNotExist-wrapped error; callers skip it.
func LoadStartupTabs(path string) (*StartupTabsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("startup tabs config: %w", err)
	}
	var cfg StartupTabsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("startup tabs config: %w", err)
	}
	for i, t := range cfg.Tabs {
		if t.URL == "" {
			return nil, fmt.Errorf("startup tabs config: tabs[%d] missing url", i)
		}
	}
	return &cfg, nil
}
