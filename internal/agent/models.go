package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sdlc-agency/agency/internal/types"
)

// Models overrides matrix models per phase and role. A nil Models keeps
// every default.
//
//	implement:
//	  dev: opus
//	review:
//	  tl: opus
type Models map[types.Phase]map[types.Role]string

// Model returns the override for s, or the matrix model.
func (m Models) Model(s Spec) string {
	if byRole, ok := m[s.Phase]; ok {
		if model := byRole[s.Role]; model != "" {
			return model
		}
	}
	return s.Model
}

// LoadModels reads a model override file. An empty path yields no
// overrides; unknown phases or roles are rejected.
func LoadModels(path string) (Models, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 - path comes from config
	if err != nil {
		return nil, fmt.Errorf("failed to read models file: %w", err)
	}
	var raw map[string]map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, types.ParseErrorf("failed to parse models file %s: %v", path, err)
	}
	models := make(Models, len(raw))
	for ph, byRole := range raw {
		p, err := types.ParsePhase(ph)
		if err != nil {
			return nil, fmt.Errorf("models file %s: %w", path, err)
		}
		models[p] = make(map[types.Role]string, len(byRole))
		for role, model := range byRole {
			r, err := types.ParseRole(role)
			if err != nil {
				return nil, fmt.Errorf("models file %s: %w", path, err)
			}
			if _, err := Lookup(p, r); err != nil {
				return nil, fmt.Errorf("models file %s: %w", path, err)
			}
			models[p][r] = model
		}
	}
	return models, nil
}
