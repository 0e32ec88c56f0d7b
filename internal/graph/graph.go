// Package graph normalizes generative compute graphs into the canonical
// node-keyed form the compute backend accepts and applies per-run parameter
// overrides to them.
package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Node is one step of a canonical compute graph. Every input value is either
// a literal or a [nodeID, outputSlot] reference to another node's output.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Graph is the canonical node-id-keyed form of a compute graph.
type Graph map[string]Node

// widgetInputs maps node class types to the positional names of their widget
// values in the editor format. An empty name marks a UI-only widget with no
// backend input. Class types absent from this table pass through with only
// their link-derived inputs populated.
var widgetInputs = map[string][]string{
	"KSampler":         {"seed", "", "steps", "cfg", "sampler_name", "scheduler", "denoise"},
	"CLIPTextEncode":   {"text"},
	"EmptyLatentImage": {"width", "height", "batch_size"},
	"LoraLoader":       {"lora_name", "strength_model", "strength_clip"},
	"SaveImage":        {"filename_prefix"},
}

// editorGraph is the node-array form produced by the visual editor.
type editorGraph struct {
	Nodes []editorNode `json:"nodes"`
	Links []editorLink `json:"links"`
}

type editorNode struct {
	ID            int           `json:"id"`
	Type          string        `json:"type"`
	Inputs        []editorInput `json:"inputs"`
	WidgetsValues []any         `json:"widgets_values"`
}

type editorInput struct {
	Name string `json:"name"`
	Link *int   `json:"link"`
}

// editorLink is serialized as a mixed array:
// [id, sourceNode, sourceSlot, destNode, destSlot, type].
type editorLink struct {
	ID         int
	SourceNode int
	SourceSlot int
	DestNode   int
	DestSlot   int
}

func (l *editorLink) UnmarshalJSON(data []byte) error {
	// The trailing element is the link's type string; only the five numeric
	// positions matter here.
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode link: %w", err)
	}
	if len(raw) < 5 {
		return fmt.Errorf("link has %d elements, want at least 5", len(raw))
	}
	fields := []*int{&l.ID, &l.SourceNode, &l.SourceSlot, &l.DestNode, &l.DestSlot}
	for i, f := range fields {
		v, ok := raw[i].(float64)
		if !ok {
			return fmt.Errorf("link element %d is %T, want number", i, raw[i])
		}
		*f = int(v)
	}
	return nil
}

// Normalize parses a graph in either canonical or editor form and returns
// canonical form. It is pure: the input bytes are never modified, and
// normalizing an already-canonical graph returns it unchanged.
func Normalize(raw json.RawMessage) (Graph, error) {
	// The editor form is distinguished by its top-level "nodes" array.
	var probe struct {
		Nodes json.RawMessage `json:"nodes"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("parse graph: %w", err)
	}
	if probe.Nodes == nil {
		var g Graph
		if err := json.Unmarshal(raw, &g); err != nil {
			return nil, fmt.Errorf("parse canonical graph: %w", err)
		}
		return g, nil
	}

	var eg editorGraph
	if err := json.Unmarshal(raw, &eg); err != nil {
		return nil, fmt.Errorf("parse editor graph: %w", err)
	}
	return fromEditor(eg), nil
}

type linkEndpoint struct {
	sourceNode int
	sourceSlot int
}

// fromEditor converts the editor node/link/widget representation into
// canonical form with a single link-resolution pass.
func fromEditor(eg editorGraph) Graph {
	links := make(map[int]linkEndpoint, len(eg.Links))
	for _, l := range eg.Links {
		links[l.ID] = linkEndpoint{sourceNode: l.SourceNode, sourceSlot: l.SourceSlot}
	}

	g := make(Graph, len(eg.Nodes))
	for _, n := range eg.Nodes {
		inputs := make(map[string]any)

		for _, in := range n.Inputs {
			if in.Link == nil {
				continue
			}
			ep, ok := links[*in.Link]
			if !ok {
				continue
			}
			inputs[in.Name] = []any{strconv.Itoa(ep.sourceNode), ep.sourceSlot}
		}

		for i, name := range widgetInputs[n.Type] {
			if name == "" || i >= len(n.WidgetsValues) {
				continue
			}
			inputs[name] = n.WidgetsValues[i]
		}

		g[strconv.Itoa(n.ID)] = Node{ClassType: n.Type, Inputs: inputs}
	}
	return g
}

// Clone returns a copy of the graph whose node input maps are independent of
// the receiver's.
func (g Graph) Clone() Graph {
	out := make(Graph, len(g))
	for id, n := range g {
		inputs := make(map[string]any, len(n.Inputs))
		for k, v := range n.Inputs {
			inputs[k] = v
		}
		out[id] = Node{ClassType: n.ClassType, Inputs: inputs}
	}
	return out
}

// sortedNodeIDs returns the graph's node IDs in stable order: numerically
// when both IDs parse as integers, lexicographically otherwise.
func (g Graph) sortedNodeIDs() []string {
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})
	return ids
}
