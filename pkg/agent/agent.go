package agent

import (
	"fmt"

	"github.com/google/uuid"
)

// ID uniquely identifies an agent for its entire lifetime. IDs are never
// reused, even after the agent terminates.
type ID string

// NewID generates a fresh agent ID.
func NewID() ID {
	return ID(uuid.New().String())
}

func (id ID) String() string {
	return string(id)
}

// Type is the closed set of agent specializations.
type Type string

const (
	TypeDeveloper  Type = "developer"
	TypeReviewer   Type = "reviewer"
	TypeTester     Type = "tester"
	TypeOptimizer  Type = "optimizer"
	TypeArchitect  Type = "architect"
	TypeResearcher Type = "researcher"
	TypeDocumenter Type = "documenter"
)

// Valid reports whether t is one of the known agent types.
func (t Type) Valid() bool {
	switch t {
	case TypeDeveloper, TypeReviewer, TypeTester, TypeOptimizer,
		TypeArchitect, TypeResearcher, TypeDocumenter:
		return true
	}
	return false
}

func (t Type) String() string {
	return string(t)
}

// ParseType converts a string into a Type, rejecting unknown values.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown agent type: %q", s)
	}
	return t, nil
}

// Capability is an open tag describing something an agent can do. The set
// is not enumerated: callers may attach arbitrary tags at spawn time.
type Capability string

// DefaultCapabilities maps an agent type to the capabilities it carries
// out of the box. Pure function; behavior dispatch stays table-driven.
func DefaultCapabilities(t Type) []Capability {
	switch t {
	case TypeDeveloper:
		return []Capability{"code_generation", "refactoring"}
	case TypeReviewer:
		return []Capability{"code_review"}
	case TypeTester:
		return []Capability{"test_generation", "test_execution"}
	case TypeOptimizer:
		return []Capability{"performance_optimization"}
	case TypeArchitect:
		return []Capability{"system_design"}
	case TypeResearcher:
		return []Capability{"information_gathering"}
	case TypeDocumenter:
		return []Capability{"documentation"}
	default:
		return nil
	}
}
