package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	typeNode = "PipeWire:Interface:Node"
	typePort = "PipeWire:Interface:Port"
	typeLink = "PipeWire:Interface:Link"
)

// Snapshot is the live graph as reported by one pw-dump call. A nil
// *Snapshot means the graph could not be read; every query on it reports
// "unknown" so mutations are issued unconditionally.
type Snapshot struct {
	nodes map[string]bool // node.name
	links map[string]bool // "node:port>node:port"
}

type dumpObject struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
	Info *struct {
		Direction    string         `json:"direction"`
		OutputNodeID int            `json:"output-node-id"`
		OutputPortID int            `json:"output-port-id"`
		InputNodeID  int            `json:"input-node-id"`
		InputPortID  int            `json:"input-port-id"`
		Props        map[string]any `json:"props"`
	} `json:"info"`
}

// ParseDump builds a Snapshot from pw-dump's JSON array
func ParseDump(data []byte) (*Snapshot, error) {
	var objects []dumpObject
	if err := json.Unmarshal(data, &objects); err != nil {
		return nil, fmt.Errorf("failed to parse graph dump: %w", err)
	}

	nodeNames := make(map[int]string)
	type port struct {
		node int
		name string
	}
	portsByID := make(map[int]port)

	for _, obj := range objects {
		if obj.Info == nil {
			continue
		}
		switch obj.Type {
		case typeNode:
			if name := propString(obj.Info.Props, "node.name"); name != "" {
				nodeNames[obj.ID] = name
			}
		case typePort:
			nodeID, ok := propInt(obj.Info.Props, "node.id")
			if !ok {
				continue
			}
			portsByID[obj.ID] = port{node: nodeID, name: propString(obj.Info.Props, "port.name")}
		}
	}

	s := &Snapshot{
		nodes: make(map[string]bool, len(nodeNames)),
		links: make(map[string]bool),
	}
	for _, name := range nodeNames {
		s.nodes[name] = true
	}

	endpoint := func(portID int) (string, bool) {
		p, ok := portsByID[portID]
		if !ok {
			return "", false
		}
		node, ok := nodeNames[p.node]
		if !ok || p.name == "" {
			return "", false
		}
		return node + ":" + p.name, true
	}

	for _, obj := range objects {
		if obj.Type != typeLink || obj.Info == nil {
			continue
		}
		from, ok1 := endpoint(obj.Info.OutputPortID)
		to, ok2 := endpoint(obj.Info.InputPortID)
		if ok1 && ok2 {
			s.links[linkKey(from, to)] = true
		}
	}
	return s, nil
}

// Query runs the graph dump tool and parses its output
func Query(ctx context.Context, runner Runner, tool string) (*Snapshot, error) {
	out, err := runner.Run(ctx, tool)
	if err != nil {
		return nil, err
	}
	return ParseDump(out)
}

// Known reports whether the snapshot holds real data
func (s *Snapshot) Known() bool { return s != nil }

// HasNode reports whether a node with the given name exists
func (s *Snapshot) HasNode(name string) bool {
	return s != nil && s.nodes[name]
}

// HasLink reports whether from is linked to to
func (s *Snapshot) HasLink(from, to string) bool {
	return s != nil && s.links[linkKey(from, to)]
}

func linkKey(from, to string) string { return from + ">" + to }

func propString(props map[string]any, key string) string {
	switch v := props[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func propInt(props map[string]any, key string) (int, bool) {
	switch v := props[key].(type) {
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}
