package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"salon/pkg/proto"
)

// LoadPersonas reads every .yaml/.yml file in dir as one or more persona
// definitions. A file may hold a single persona or a list under "personas".
// Results are sorted by id. A missing directory is not an error; the server
// can run with store-registered agents only.
func LoadPersonas(dir string) ([]proto.AgentConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read personas directory: %w", err)
	}

	var out []proto.AgentConfig
	seen := make(map[proto.AgentID]string)
	for _, e := range entries {
		if e.IsDir() || !isYAML(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		personas, err := loadPersonaFile(path)
		if err != nil {
			return nil, err
		}
		for i := range personas {
			p := &personas[i]
			if err := validatePersona(p); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			if prev, dup := seen[p.ID]; dup {
				return nil, fmt.Errorf("%s: persona %s already defined in %s", path, p.ID, prev)
			}
			seen[p.ID] = path
			out = append(out, *p)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func loadPersonaFile(path string) ([]proto.AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona file %s: %w", path, err)
	}

	var multi struct {
		Personas []proto.AgentConfig `yaml:"personas"`
	}
	if err := yaml.Unmarshal(data, &multi); err == nil && len(multi.Personas) > 0 {
		return multi.Personas, nil
	}

	var single proto.AgentConfig
	if err := yaml.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("failed to parse persona file %s: %w", path, err)
	}
	return []proto.AgentConfig{single}, nil
}

func validatePersona(p *proto.AgentConfig) error {
	if p.ID == "" {
		return fmt.Errorf("persona needs an id")
	}
	if p.Name == "" {
		return fmt.Errorf("persona %s needs a name", p.ID)
	}
	if p.Model == "" {
		return fmt.Errorf("persona %s needs a model", p.ID)
	}
	if p.ResponseTendency < 0 || p.ResponseTendency > 1 {
		return fmt.Errorf("persona %s: response_tendency must be in [0,1]", p.ID)
	}
	return nil
}

func isYAML(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
