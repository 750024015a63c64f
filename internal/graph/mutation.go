package graph

import (
	"context"
	"fmt"
	"log/slog"

	"go.zerobridge.dev/zbridge/internal/core"
)

// Outcome is the result of applying a best-effort mutation. Applying never
// fails the caller: a Failed mutation is retried by the next pass.
type Outcome int

const (
	Skipped Outcome = iota // Already in effect
	Applied
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Applied:
		return "applied"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Mutation is one idempotent change to the live graph
type Mutation interface {
	// Satisfied reports whether the snapshot shows the change already in
	// effect. It must return false for an unknown (nil) snapshot.
	Satisfied(s *Snapshot) bool
	// Command returns the tool and arguments that perform the change
	Command(tools core.ToolConfig) (string, []string)
	String() string
}

// Apply issues m unless the snapshot shows it is already in effect
func Apply(ctx context.Context, runner Runner, tools core.ToolConfig, snap *Snapshot, m Mutation) Outcome {
	if m.Satisfied(snap) {
		return Skipped
	}
	name, args := m.Command(tools)
	if _, err := runner.Run(ctx, name, args...); err != nil {
		slog.Debug("Graph mutation failed, retrying next pass", "mutation", m.String(), "error", err)
		return Failed
	}
	slog.Debug("Graph mutation applied", "mutation", m.String())
	return Applied
}

// CreateNode creates a lingering null-audio-sink adapter node
type CreateNode struct {
	Name        string
	MediaClass  string
	Description string
}

func (c CreateNode) Satisfied(s *Snapshot) bool { return s.HasNode(c.Name) }

func (c CreateNode) Command(tools core.ToolConfig) (string, []string) {
	return tools.GraphCreate, []string{
		"create-node", "adapter",
		"factory.name=support.null-audio-sink",
		"node.name=" + c.Name,
		"media.class=" + c.MediaClass,
		"node.description=" + c.Description,
		"object.linger=true",
	}
}

func (c CreateNode) String() string { return "create " + c.Name }

// Link connects two "node:port" endpoints
type Link core.PortPair

func (l Link) Satisfied(s *Snapshot) bool { return s.HasLink(l.From, l.To) }

func (l Link) Command(tools core.ToolConfig) (string, []string) {
	return tools.GraphLink, []string{l.From, l.To}
}

func (l Link) String() string { return "link " + l.From + " -> " + l.To }

// Unlink removes a connection between two endpoints
type Unlink core.PortPair

// Satisfied is true only when the graph is known and the link is absent
func (u Unlink) Satisfied(s *Snapshot) bool { return s.Known() && !s.HasLink(u.From, u.To) }

func (u Unlink) Command(tools core.ToolConfig) (string, []string) {
	return tools.GraphLink, []string{"-d", u.From, u.To}
}

func (u Unlink) String() string { return "unlink " + u.From + " -/-> " + u.To }
