package definition

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML decodes a state, accepting human-readable durations
// ("30s", "5m") for the timeout field.
func (s *State) UnmarshalYAML(value *yaml.Node) error {
	type rawState struct {
		Name           string         `yaml:"name"`
		Prompt         string         `yaml:"prompt"`
		RequiredOutput []string       `yaml:"required_output"`
		OnSuccess      *string        `yaml:"on_success"`
		OnFailure      *string        `yaml:"on_failure"`
		Timeout        string         `yaml:"timeout"`
		MaxRetries     int            `yaml:"max_retries"`
		Skip           *SkipCondition `yaml:"skip"`
	}
	var raw rawState
	if err := value.Decode(&raw); err != nil {
		return err
	}

	s.Name = raw.Name
	s.Prompt = raw.Prompt
	s.RequiredOutput = raw.RequiredOutput
	s.OnSuccess = raw.OnSuccess
	s.OnFailure = raw.OnFailure
	s.MaxRetries = raw.MaxRetries
	s.Skip = raw.Skip

	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("state %s: invalid timeout %q: %w", raw.Name, raw.Timeout, err)
		}
		s.Timeout = d
	}
	return nil
}

// LoadFromFile parses and validates a single workflow definition YAML file.
func LoadFromFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file: %w", err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse definition YAML: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadDir loads all .yaml definitions from a directory. Files that fail to
// parse or validate are logged and skipped so one bad file does not take
// down the rest of the catalog.
func LoadDir(dir string) ([]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions directory: %w", err)
	}

	var defs []*Definition
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		def, err := LoadFromFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.Printf("[Definition] Warning: skipping %s: %v", entry.Name(), err)
			continue
		}
		defs = append(defs, def)
		log.Printf("[Definition] Loaded workflow definition: %s (v%d)", def.Type, def.Version)
	}
	return defs, nil
}
