package pool

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/hivecrew/hivecrew/pkg/models"
)

// Persona is a worker definition loaded from a YAML file.
type Persona struct {
	// ID is optional; a stable one is derived from the file name when empty.
	ID string `yaml:"id,omitempty"`
	// Name is the worker's display name.
	Name string `yaml:"name"`
	// Role is the human-readable role label.
	Role string `yaml:"role,omitempty"`
	// Skills lists skill tags for assignment matching.
	Skills []string `yaml:"skills,omitempty"`
	// Model optionally overrides the default model for this worker.
	Model string `yaml:"model,omitempty"`
}

// Worker converts the persona to its registry form.
func (p Persona) Worker() *models.Worker {
	id := p.ID
	if id == "" {
		id = "worker-" + uuid.New().String()[:8]
	}
	return &models.Worker{
		ID:     id,
		Name:   p.Name,
		Role:   p.Role,
		Skills: p.Skills,
		Status: models.WorkerStatusIdle,
	}
}

// LoadPersona parses a single persona file.
func LoadPersona(path string) (Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("reading persona %s: %w", path, err)
	}

	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("parsing persona %s: %w", path, err)
	}
	if p.Name == "" {
		return Persona{}, fmt.Errorf("persona %s has no name", path)
	}
	if p.ID == "" {
		base := filepath.Base(path)
		p.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return p, nil
}

// LoadPersonaDir loads every *.yaml / *.yml persona in a directory,
// sorted by file name.
func LoadPersonaDir(dir string) ([]Persona, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading persona dir %s: %w", dir, err)
	}

	var personas []Persona
	for _, entry := range entries {
		if entry.IsDir() || !isPersonaFile(entry.Name()) {
			continue
		}
		p, err := LoadPersona(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		personas = append(personas, p)
	}
	return personas, nil
}

func isPersonaFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
