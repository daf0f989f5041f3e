package stack

import (
	"fmt"
	"strings"
	"time"
)

// PhaseID identifies a startup phase. Values are ordered; the sequencer only moves forward.
type PhaseID uint8

const (
	PhaseDatabase PhaseID = iota
	PhaseBrokerCluster
	PhaseTopicInit
	PhaseConfig
	PhaseDiscovery
	PhaseBusiness
	PhaseGateway
	PhaseDone
)

var phaseNames = map[PhaseID]string{
	PhaseDatabase:      "database",
	PhaseBrokerCluster: "broker-cluster",
	PhaseTopicInit:     "broker-topic-init",
	PhaseConfig:        "config-service",
	PhaseDiscovery:     "discovery-service",
	PhaseBusiness:      "business-services",
	PhaseGateway:       "gateway",
	PhaseDone:          "done",
}

func (p PhaseID) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "unknown"
}

// ParsePhaseID resolves a phase name as used in stack files.
func ParsePhaseID(value string) (PhaseID, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	for id, name := range phaseNames {
		if id != PhaseDone && name == value {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", value)
}

// Requirement is the container state every member must reach for a phase
// to count as already satisfied.
type Requirement uint8

const (
	RequireRunning Requirement = iota
	RequireHealthy
)

func (r Requirement) String() string {
	if r == RequireHealthy {
		return "healthy"
	}
	return "running"
}

// Phase is an ordered group of compose services with a readiness policy.
//
// A phase with HealthTimeout > 0 is health-gated: after starting, the
// sequencer polls every member until healthy or the timeout passes. Otherwise
// the phase waits a fixed Settle delay after starting.
type Phase struct {
	ID            PhaseID
	Title         string
	Services      []string
	Require       Requirement
	HealthTimeout time.Duration
	Settle        time.Duration
	// Critical phases are only built when their container does not exist yet.
	Critical bool
}

// HealthGated reports whether the phase waits on container health.
func (p Phase) HealthGated() bool {
	return p.HealthTimeout > 0
}
