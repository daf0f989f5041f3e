package compose

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
)

// envProjectName overrides the project name, as it does for the compose CLI.
const envProjectName = "COMPOSE_PROJECT_NAME"

// Definition is the subset of a compose file the orchestrator relies on.
type Definition struct {
	Path        string
	Fingerprint string
	// Project is the compose project name, which prefixes generated container names.
	Project  string
	Services map[string]Service
}

// Service captures the fields we track for a compose service.
type Service struct {
	Name          string
	ContainerName string
	Buildable     bool
}

// LoadDefinition reads and parses the compose file at path. Variables are
// interpolated from the process environment and relative paths resolve
// against the file's directory.
func LoadDefinition(ctx context.Context, path string) (Definition, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read compose file: %w", err)
	}

	def, err := ParseDefinition(ctx, body, filepath.Dir(path), environ())
	if err != nil {
		return Definition{}, err
	}
	def.Path = path
	return def, nil
}

// ParseDefinition parses compose content loaded from workingDir.
func ParseDefinition(ctx context.Context, body []byte, workingDir string, env map[string]string) (Definition, error) {
	fingerprint, err := Fingerprint(body)
	if err != nil {
		return Definition{}, err
	}

	details := types.ConfigDetails{
		WorkingDir: workingDir,
		ConfigFiles: []types.ConfigFile{
			{
				Filename: filepath.Join(workingDir, "compose.yml"),
				Content:  body,
			},
		},
		Environment: types.Mapping(env),
	}

	projectName, explicit := env[envProjectName], true
	if projectName == "" {
		projectName, explicit = filepath.Base(workingDir), false
	}
	projectName = loader.NormalizeProjectName(projectName)
	if projectName == "" {
		projectName = "phaseup"
	}

	project, err := loader.LoadWithContext(ctx, details, func(opts *loader.Options) {
		opts.SetProjectName(projectName, explicit)
	})
	if err != nil {
		return Definition{}, fmt.Errorf("load compose: %w", err)
	}
	if len(project.Services) == 0 {
		return Definition{}, errors.New("compose has no services")
	}

	def := Definition{
		Fingerprint: fingerprint,
		Project:     project.Name,
		Services:    make(map[string]Service, len(project.Services)),
	}
	for name, service := range project.Services {
		def.Services[name] = Service{
			Name:          name,
			ContainerName: service.ContainerName,
			Buildable:     service.Build != nil,
		}
	}
	return def, nil
}

// ContainerNames returns the runtime container name of every service: its
// container_name when set, otherwise the name compose generates for the first
// replica, "<project>-<service>-1".
func (d Definition) ContainerNames() map[string]string {
	names := make(map[string]string)
	for name, service := range d.Services {
		switch {
		case service.ContainerName != "":
			names[name] = service.ContainerName
		case d.Project != "":
			names[name] = d.Project + "-" + name + "-1"
		}
	}
	return names
}

// BuildableServices lists services with a build section. Services named in
// order come first in that order; the rest follow sorted by name.
func (d Definition) BuildableServices(order []string) []string {
	seen := make(map[string]bool, len(d.Services))
	var result []string
	for _, name := range order {
		if service, ok := d.Services[name]; ok && service.Buildable && !seen[name] {
			result = append(result, name)
			seen[name] = true
		}
	}

	var rest []string
	for name, service := range d.Services {
		if service.Buildable && !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(result, rest...)
}

// Missing returns the services from want that the definition does not declare.
func (d Definition) Missing(want []string) []string {
	var missing []string
	for _, name := range want {
		if _, ok := d.Services[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if ok {
			env[key] = value
		}
	}
	return env
}
