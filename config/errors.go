package config

import (
	"fmt"
	"strings"
)

// ProblemKind classifies a single validation failure.
type ProblemKind string

const (
	ProblemMissing ProblemKind = "missing"
	ProblemEmpty   ProblemKind = "empty"
	ProblemType    ProblemKind = "type"
	ProblemInvalid ProblemKind = "invalid"
)

// Problem describes one offending key.
type Problem struct {
	Key  string
	Kind ProblemKind
	Want string
	Got  any
}

func (p Problem) String() string {
	switch p.Kind {
	case ProblemMissing:
		return fmt.Sprintf("key %q not present", p.Key)
	case ProblemEmpty:
		return fmt.Sprintf("key %q has no value (%v), want a %s", p.Key, p.Got, p.Want)
	case ProblemType:
		return fmt.Sprintf("key %q value %v is of type %T, want %s", p.Key, p.Got, p.Got, p.Want)
	default:
		return fmt.Sprintf("key %q value %v is invalid, want %s", p.Key, p.Got, p.Want)
	}
}

// ConfigError is returned by Load when the record fails validation. It is fatal at startup.
type ConfigError struct {
	Path     string
	Problems []Problem
}

func (e *ConfigError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.String())
	}
	return fmt.Sprintf("invalid configuration %s: %s", e.Path, strings.Join(parts, "; "))
}

// Keys returns the offending keys in reporting order.
func (e *ConfigError) Keys() []string {
	keys := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		keys = append(keys, p.Key)
	}
	return keys
}
