package app

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// overlayFile applies a YAML file on top of c. ${VAR} references are
// expanded first; keys missing from the file keep their current value.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
