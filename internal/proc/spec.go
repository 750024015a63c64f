package proc

import (
	"slices"
	"strings"
)

// Spec describes how to launch a process. Two specs are equal when they would
// launch the same command line with the same extra environment.
type Spec struct {
	Name string   // Label used in logs
	Path string   // Executable, resolved through PATH
	Args []string // Arguments, excluding the executable
	Env  []string // Extra KEY=VALUE entries appended to the daemon environment
	PTY  bool     // Run attached to a pseudo-terminal
}

// IsZero reports whether the spec describes nothing to run
func (s Spec) IsZero() bool {
	return s.Path == ""
}

// Equal reports whether two specs launch the same process
func (s Spec) Equal(other Spec) bool {
	return s.Path == other.Path &&
		s.PTY == other.PTY &&
		slices.Equal(s.Args, other.Args) &&
		slices.Equal(s.Env, other.Env)
}

// CommandLine returns the spec as a shell-like string for logs
func (s Spec) CommandLine() string {
	parts := make([]string, 0, len(s.Args)+1)
	parts = append(parts, s.Path)
	for _, arg := range s.Args {
		if strings.ContainsAny(arg, " \t") {
			arg = `"` + arg + `"`
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}
