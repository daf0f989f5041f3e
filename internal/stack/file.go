package stack

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PhaseOverride replaces parts of a built-in phase. Zero fields keep the default.
type PhaseOverride struct {
	Phase         string         `yaml:"phase"`
	Services      []string       `yaml:"services,omitempty"`
	HealthTimeout *time.Duration `yaml:"health_timeout,omitempty"`
	Settle        *time.Duration `yaml:"settle,omitempty"`
}

// File is the parsed YAML structure of a stack override file:
//
//	containers: {service: container_name}
//	phases: [{phase, services, health_timeout, settle}]
//	endpoints: [{name, address}]
//	database: {service, port, conflicting_unit}
type File struct {
	Containers map[string]string `yaml:"containers"`
	Phases     []PhaseOverride   `yaml:"phases"`
	Endpoints  []Endpoint        `yaml:"endpoints"`
	Database   *struct {
		Service         string `yaml:"service"`
		Port            int    `yaml:"port"`
		ConflictingUnit string `yaml:"conflicting_unit"`
	} `yaml:"database"`
}

// LoadFile applies the YAML override at path on top of base.
// Returns base unchanged if path is empty.
func LoadFile(path string, base Stack) (Stack, error) {
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Stack{}, fmt.Errorf("read stack file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Stack{}, fmt.Errorf("parse stack file: %w", err)
	}

	result, err := apply(base, f)
	if err != nil {
		return Stack{}, fmt.Errorf("stack file %s: %w", path, err)
	}
	if err := result.Validate(); err != nil {
		return Stack{}, fmt.Errorf("stack file %s: %w", path, err)
	}
	return result, nil
}

func apply(base Stack, f File) (Stack, error) {
	result := base
	result.Phases = make([]Phase, len(base.Phases))
	copy(result.Phases, base.Phases)

	result.Containers = make(map[string]string, len(base.Containers)+len(f.Containers))
	for service, name := range base.Containers {
		result.Containers[service] = name
	}
	for service, name := range f.Containers {
		if service == "" || name == "" {
			return Stack{}, fmt.Errorf("containers: service and name are required")
		}
		result.Containers[service] = name
	}

	seen := make(map[PhaseID]bool)
	for i, override := range f.Phases {
		id, err := ParsePhaseID(override.Phase)
		if err != nil {
			return Stack{}, fmt.Errorf("phases[%d]: %w", i, err)
		}
		if seen[id] {
			return Stack{}, fmt.Errorf("phases[%d]: duplicate phase %q", i, override.Phase)
		}
		seen[id] = true

		idx := -1
		for j := range result.Phases {
			if result.Phases[j].ID == id {
				idx = j
				break
			}
		}
		if idx < 0 {
			return Stack{}, fmt.Errorf("phases[%d]: phase %q not defined", i, override.Phase)
		}

		phase := result.Phases[idx]
		if len(override.Services) > 0 {
			phase.Services = append([]string(nil), override.Services...)
		}
		if override.HealthTimeout != nil {
			if !phase.HealthGated() {
				return Stack{}, fmt.Errorf("phase %q: health_timeout only applies to health-gated phases", override.Phase)
			}
			phase.HealthTimeout = *override.HealthTimeout
		}
		if override.Settle != nil {
			if phase.HealthGated() {
				return Stack{}, fmt.Errorf("phase %q: settle only applies to delay-gated phases", override.Phase)
			}
			phase.Settle = *override.Settle
		}
		result.Phases[idx] = phase
	}

	if len(f.Endpoints) > 0 {
		result.Endpoints = append([]Endpoint(nil), f.Endpoints...)
	}

	if f.Database != nil {
		if f.Database.Service != "" {
			result.DatabaseService = f.Database.Service
		}
		if f.Database.Port != 0 {
			result.DatabasePort = f.Database.Port
		}
		if f.Database.ConflictingUnit != "" {
			result.ConflictingUnit = f.Database.ConflictingUnit
		}
	}

	return result, nil
}
