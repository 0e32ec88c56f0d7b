package graph

import (
	"github.com/easelhq/easel/internal/model"
)

// Legacy parameter names honored even without an override-map entry, kept
// for workflows published before override maps existed.
const (
	legacyParamPrompt = "prompt"
	legacyParamSeed   = "seed"
)

// ApplyOverrides returns a new graph with the given parameter values written
// to the fields named by the override map. Only parameters that appear in
// both params and overrides change the graph; unknown parameter names are
// silently ignored. The receiver graph is never modified.
func ApplyOverrides(g Graph, overrides model.OverrideMap, params map[string]any) Graph {
	out := g.Clone()
	for name, value := range params {
		if target, ok := overrides[name]; ok {
			out.setField(target, value)
			continue
		}
		switch name {
		case legacyParamPrompt:
			out.setLegacyField("CLIPTextEncode", "text", value)
		case legacyParamSeed:
			out.setLegacyField("KSampler", "seed", value)
		}
	}
	return out
}

// setField writes value at the target's node/field (or node/field/subfield)
// position. A target naming a node absent from the graph is ignored, matching
// the lenient disposition of unknown parameters.
func (g Graph) setField(t model.ParamTarget, value any) {
	node, ok := g[t.NodeID]
	if !ok {
		return
	}
	if t.Subfield == "" {
		node.Inputs[t.Field] = value
		return
	}
	nested := make(map[string]any)
	if existing, ok := node.Inputs[t.Field].(map[string]any); ok {
		for k, v := range existing {
			nested[k] = v
		}
	}
	nested[t.Subfield] = value
	node.Inputs[t.Field] = nested
}

// setLegacyField writes value into the named input of the first node with
// the given class type, in node-id order so the fallback is deterministic.
func (g Graph) setLegacyField(classType, field string, value any) {
	for _, id := range g.sortedNodeIDs() {
		if g[id].ClassType == classType {
			g[id].Inputs[field] = value
			return
		}
	}
}
