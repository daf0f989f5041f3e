package stack

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidEnvironment is returned for environment tokens other than dev or prod.
var ErrInvalidEnvironment = errors.New("invalid environment")

// Environment selects the compose definition used for a run.
type Environment string

const (
	Dev  Environment = "dev"
	Prod Environment = "prod"
)

// ParseEnvironment validates an environment token.
func ParseEnvironment(value string) (Environment, error) {
	switch env := Environment(strings.ToLower(strings.TrimSpace(value))); env {
	case Dev, Prod:
		return env, nil
	default:
		return "", fmt.Errorf("%w %q: choose dev or prod", ErrInvalidEnvironment, value)
	}
}

// ComposeFile returns the compose definition file name for the environment.
func (e Environment) ComposeFile() string {
	return "docker-compose." + string(e) + ".yml"
}

// Endpoint is one line of the access summary printed after a successful start.
type Endpoint struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

// LogGroup is a named set of services offered by the log viewer.
type LogGroup struct {
	Name     string
	Services []string
}

// Stack is the read-only deployment definition consumed by the orchestrator.
type Stack struct {
	Phases []Phase
	// Containers maps compose service names to runtime container names when they differ.
	Containers map[string]string
	Endpoints  []Endpoint

	DatabaseService string
	DatabasePort    int
	// ConflictingUnit is the host service known to grab DatabasePort.
	ConflictingUnit string
}

var businessServices = []string{
	"microservice-catalog", "microservice-chatbot", "microservice-card",
	"microservice-identity", "microservice-inventory", "microservice-marketing",
	"microservice-notification", "microservice-order", "microservice-payment",
	"microservice-review", "microservice-search", "microservice-shipping",
	"microservice-store", "microservice-user",
}

// Default returns the built-in stack definition.
func Default() Stack {
	return Stack{
		Phases: []Phase{
			{
				ID:            PhaseDatabase,
				Title:         "PostgreSQL database",
				Services:      []string{"postgres"},
				Require:       RequireHealthy,
				HealthTimeout: 60 * time.Second,
			},
			{
				ID:       PhaseBrokerCluster,
				Title:    "Kafka cluster",
				Services: []string{"kafka-0", "kafka-1", "kafka-2"},
				Require:  RequireHealthy,
				Settle:   60 * time.Second,
			},
			{
				ID:       PhaseTopicInit,
				Title:    "Kafka topics",
				Services: []string{"kafka-init"},
				Require:  RequireRunning,
				Settle:   5 * time.Second,
			},
			{
				ID:            PhaseConfig,
				Title:         "Config service",
				Services:      []string{"microservice-config"},
				Require:       RequireHealthy,
				HealthTimeout: 90 * time.Second,
				Critical:      true,
			},
			{
				ID:            PhaseDiscovery,
				Title:         "Eureka service discovery",
				Services:      []string{"microservice-eureka"},
				Require:       RequireHealthy,
				HealthTimeout: 90 * time.Second,
				Critical:      true,
			},
			{
				ID:       PhaseBusiness,
				Title:    "Business microservices",
				Services: append([]string(nil), businessServices...),
				Require:  RequireRunning,
				Settle:   30 * time.Second,
			},
			{
				ID:       PhaseGateway,
				Title:    "API gateway",
				Services: []string{"microservice-gateway"},
				Require:  RequireRunning,
				Settle:   10 * time.Second,
			},
		},
		Containers: map[string]string{},
		Endpoints: []Endpoint{
			{Name: "PostgreSQL", Address: "localhost:5432"},
			{Name: "Kafka brokers", Address: "localhost:9094, 9095, 9096"},
			{Name: "Config server", Address: "http://localhost:8888"},
			{Name: "Eureka dashboard", Address: "http://localhost:8761"},
			{Name: "API gateway", Address: "http://localhost:8080"},
		},
		DatabaseService: "postgres",
		DatabasePort:    5432,
		ConflictingUnit: "postgresql",
	}
}

// ContainerName resolves the runtime container name for a compose service.
func (s Stack) ContainerName(service string) string {
	if name, ok := s.Containers[service]; ok && name != "" {
		return name
	}
	return service
}

// WithContainerNames returns a copy of the stack with names added for
// services that have no explicit mapping yet.
func (s Stack) WithContainerNames(names map[string]string) Stack {
	merged := make(map[string]string, len(s.Containers)+len(names))
	for service, name := range names {
		merged[service] = name
	}
	for service, name := range s.Containers {
		merged[service] = name
	}
	s.Containers = merged
	return s
}

// Phase returns the phase with the given id.
func (s Stack) Phase(id PhaseID) (Phase, bool) {
	for _, phase := range s.Phases {
		if phase.ID == id {
			return phase, true
		}
	}
	return Phase{}, false
}

// Services lists every service in phase order.
func (s Stack) Services() []string {
	var all []string
	for _, phase := range s.Phases {
		all = append(all, phase.Services...)
	}
	return all
}

// LogGroups returns the log selections offered by the interactive viewer.
func (s Stack) LogGroups() []LogGroup {
	groups := make([]LogGroup, 0, len(s.Phases)+3)
	for _, phase := range s.Phases {
		groups = append(groups, LogGroup{Name: phase.Title, Services: phase.Services})
		if phase.ID == PhaseBrokerCluster && len(phase.Services) > 1 {
			for _, service := range phase.Services {
				groups = append(groups, LogGroup{Name: service + " only", Services: []string{service}})
			}
		}
	}
	return groups
}

// Validate checks phase ordering and membership.
func (s Stack) Validate() error {
	if len(s.Phases) == 0 {
		return errors.New("stack has no phases")
	}
	seen := make(map[string]PhaseID)
	for i, phase := range s.Phases {
		if phase.ID >= PhaseDone {
			return fmt.Errorf("phase %d: invalid id %d", i, phase.ID)
		}
		if i > 0 && phase.ID <= s.Phases[i-1].ID {
			return fmt.Errorf("phase %s: out of order after %s", phase.ID, s.Phases[i-1].ID)
		}
		if len(phase.Services) == 0 {
			return fmt.Errorf("phase %s: no services", phase.ID)
		}
		if phase.HealthTimeout < 0 || phase.Settle < 0 {
			return fmt.Errorf("phase %s: durations cannot be negative", phase.ID)
		}
		for _, service := range phase.Services {
			if strings.TrimSpace(service) == "" {
				return fmt.Errorf("phase %s: empty service name", phase.ID)
			}
			if prev, ok := seen[service]; ok {
				return fmt.Errorf("service %q listed in both %s and %s", service, prev, phase.ID)
			}
			seen[service] = phase.ID
		}
	}
	if s.DatabasePort < 0 || s.DatabasePort > 65535 {
		return fmt.Errorf("database port %d out of range", s.DatabasePort)
	}
	return nil
}
