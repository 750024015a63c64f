package graph

import (
	"context"
	"log/slog"

	"go.zerobridge.dev/zbridge/internal/core"
)

// Void node descriptions shown by desktop mixers
const (
	inboundVoidDescription  = "ZeroBridge_Phone_Mic"
	outboundVoidDescription = "ZeroBridge_To_Phone"
	virtualMicDescription   = "ZeroBridge_Microphone"
)

// Report counts the outcomes of one reconcile pass
type Report struct {
	Skipped int
	Applied int
	Failed  int
}

func (r *Report) add(o Outcome) {
	switch o {
	case Skipped:
		r.Skipped++
	case Applied:
		r.Applied++
	case Failed:
		r.Failed++
	}
}

// Reconciler drives the live audio graph toward the configured topology
type Reconciler struct {
	Runner    Runner
	Tools     core.ToolConfig
	Topology  core.GraphConfig
	Loopbacks *LoopbackSupervisor
}

// NewReconciler builds a reconciler and its loopback supervisor from settings
func NewReconciler(cfg *core.Configuration) *Reconciler {
	g := cfg.Graph
	loopbacks := NewLoopbackSupervisor(cfg.Tools.Loopback, []Sink{
		{Name: g.OutboundSink, Target: g.OutboundVoid},
		{Name: g.InboundSink, Target: g.InboundVoid},
	}, g.Channels)
	loopbacks.TerminateTimeout = cfg.Timing.TerminateTimeout
	loopbacks.OrphanSettle = cfg.Timing.OrphanSettle

	return &Reconciler{
		Runner:    ExecRunner{Timeout: cfg.Timing.TerminateTimeout},
		Tools:     cfg.Tools,
		Topology:  g,
		Loopbacks: loopbacks,
	}
}

// VoidNodes returns the internal routing nodes of a topology
func VoidNodes(g core.GraphConfig) []CreateNode {
	return []CreateNode{
		{Name: g.InboundVoid, MediaClass: "Audio/Sink", Description: inboundVoidDescription},
		{Name: g.OutboundVoid, MediaClass: "Audio/Sink", Description: outboundVoidDescription},
		{Name: g.VirtualMic, MediaClass: "Audio/Source/Virtual", Description: virtualMicDescription},
	}
}

// Mutations returns the node and routing mutations of a topology, in order.
// Loopback helpers are handled between the two groups by the supervisor.
func Mutations(g core.GraphConfig) (nodes, routing []Mutation) {
	for _, n := range VoidNodes(g) {
		nodes = append(nodes, n)
	}
	for _, l := range g.Links {
		routing = append(routing, Link(l))
	}
	for _, u := range g.Unlinks {
		routing = append(routing, Unlink(u))
	}
	return nodes, routing
}

// Reconcile runs one convergence pass. It never fails; whatever did not
// apply is retried by the next pass.
func (r *Reconciler) Reconcile(ctx context.Context) Report {
	var report Report
	nodes, routing := Mutations(r.Topology)

	snap := r.snapshot(ctx)
	for _, m := range nodes {
		report.add(Apply(ctx, r.Runner, r.Tools, snap, m))
	}

	if r.Loopbacks != nil {
		r.Loopbacks.Ensure()
	}

	// Node creation and loopback spawns add ports, so look again before routing
	if report.Applied > 0 || !snap.Known() {
		snap = r.snapshot(ctx)
	}
	for _, m := range routing {
		report.add(Apply(ctx, r.Runner, r.Tools, snap, m))
	}

	if report.Applied > 0 || report.Failed > 0 {
		slog.Debug("Audio graph reconciled", "applied", report.Applied, "skipped", report.Skipped, "failed", report.Failed)
	}
	return report
}

func (r *Reconciler) snapshot(ctx context.Context) *Snapshot {
	if r.Tools.GraphQuery == "" {
		return nil
	}
	snap, err := Query(ctx, r.Runner, r.Tools.GraphQuery)
	if err != nil {
		slog.Debug("Graph snapshot unavailable, applying every mutation", "error", err)
		return nil
	}
	return snap
}

// StopLoopbacks stops the tracked loopback helpers; the next pass respawns them
func (r *Reconciler) StopLoopbacks() {
	if r.Loopbacks != nil {
		r.Loopbacks.StopAll()
	}
}

// Shutdown stops every loopback helper, including ones from earlier runs
func (r *Reconciler) Shutdown() {
	if r.Loopbacks != nil {
		r.Loopbacks.Sweep()
	}
}
