// Package graph validates the structure and node settings of onboarding workflow graphs.
package graph

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/dukex/onboardflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// Code identifies the kind of a graph violation.
type Code string

const (
	CodeEmptyGraph      Code = "empty_graph"
	CodeMissingStart    Code = "missing_start"
	CodeNodeIDMismatch  Code = "node_id_mismatch"
	CodeDanglingEdge    Code = "dangling_edge"
	CodeTooManyEdges    Code = "too_many_edges"
	CodeConditionEdges  Code = "condition_edges"
	CodeUnreachableNode Code = "unreachable_node"
	CodeAutoCycle       Code = "auto_cycle"
	CodeUnknownNodeType Code = "unknown_node_type"
	CodeInvalidSettings Code = "invalid_settings"
)

// Violation is a single structural or settings problem found in a graph.
type Violation struct {
	Code    Code   `json:"code"`
	NodeID  string `json:"node_id,omitempty"`
	EdgeID  string `json:"edge_id,omitempty"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	switch {
	case v.NodeID != "":
		return fmt.Sprintf("%s (node %s): %s", v.Code, v.NodeID, v.Message)
	case v.EdgeID != "":
		return fmt.Sprintf("%s (edge %s): %s", v.Code, v.EdgeID, v.Message)
	default:
		return fmt.Sprintf("%s: %s", v.Code, v.Message)
	}
}

// Result aggregates every violation found in a graph. An empty result means the graph is valid.
type Result struct {
	Violations []Violation `json:"violations"`
}

// Valid reports whether no violation was found.
func (r Result) Valid() bool {
	return len(r.Violations) == 0
}

func (r Result) String() string {
	parts := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		parts = append(parts, v.String())
	}

	return strings.Join(parts, "; ")
}

func (r *Result) add(code Code, nodeID, edgeID, format string, args ...any) {
	r.Violations = append(r.Violations, Violation{
		Code:    code,
		NodeID:  nodeID,
		EdgeID:  edgeID,
		Message: fmt.Sprintf(format, args...),
	})
}

// Validate checks a graph that may still be under construction. A graph without nodes
// and without a start node is accepted so that seed drafts can be stored.
// Checks run in a fixed order and within each check nodes are visited by sorted id,
// so repeated calls on the same graph return identical results.
func Validate(g *models.Graph) Result {
	var result Result

	if g == nil || (len(g.Nodes) == 0 && len(g.Edges) == 0 && g.StartID == "") {
		return result
	}

	ids := g.NodeIDs()

	startOK := checkStart(g, &result)
	checkNodeIDs(g, ids, &result)
	checkEdgeEndpoints(g, &result)
	checkOutgoing(g, ids, &result)

	if startOK {
		checkReachability(g, ids, &result)
	}

	checkAutoCycles(g, ids, &result)
	checkSettings(g, ids, &result)

	return result
}

// ValidateForActivation applies Validate and additionally rejects graphs without nodes.
func ValidateForActivation(g *models.Graph) Result {
	if g.IsEmpty() {
		var result Result
		result.add(CodeEmptyGraph, "", "", "an activated graph needs at least one node")

		return result
	}

	return Validate(g)
}

func checkStart(g *models.Graph, result *Result) bool {
	if g.StartID == "" {
		result.add(CodeMissingStart, "", "", "start node is not set")

		return false
	}

	if _, ok := g.Node(g.StartID); !ok {
		result.add(CodeMissingStart, g.StartID, "", "start node %q does not exist", g.StartID)

		return false
	}

	return true
}

func checkNodeIDs(g *models.Graph, ids []string, result *Result) {
	for _, id := range ids {
		node := g.Nodes[id]
		if node == nil {
			result.add(CodeNodeIDMismatch, id, "", "node %q is empty", id)

			continue
		}

		if node.ID != id {
			result.add(CodeNodeIDMismatch, id, "", "node is indexed as %q but has id %q", id, node.ID)
		}
	}
}

func checkEdgeEndpoints(g *models.Graph, result *Result) {
	for _, edge := range g.Edges {
		if edge == nil {
			result.add(CodeDanglingEdge, "", "", "edge is empty")

			continue
		}

		if _, ok := g.Node(edge.From); !ok {
			result.add(CodeDanglingEdge, "", edge.ID, "edge source %q does not exist", edge.From)
		}

		if _, ok := g.Node(edge.To); !ok {
			result.add(CodeDanglingEdge, "", edge.ID, "edge target %q does not exist", edge.To)
		}
	}
}

func checkOutgoing(g *models.Graph, ids []string, result *Result) {
	for _, id := range ids {
		node, ok := g.Node(id)
		if !ok {
			continue
		}

		edges := g.Outgoing(id)

		if node.Type != models.NodeTypeCondition {
			if len(edges) > 1 {
				result.add(CodeTooManyEdges, id, "", "%s node has %d outgoing edges, at most one is allowed", node.Type, len(edges))
			}

			continue
		}

		if len(edges) != 2 {
			result.add(CodeConditionEdges, id, "", "condition node has %d outgoing edges, exactly two are required", len(edges))
		}

		counts := map[models.EdgeLabel]int{}

		for _, edge := range edges {
			switch edge.Label {
			case models.EdgeLabelTrue, models.EdgeLabelFalse:
				counts[edge.Label]++
			default:
				result.add(CodeConditionEdges, id, edge.ID, "condition edge label %q must be \"true\" or \"false\"", edge.Label)
			}
		}

		for _, label := range []models.EdgeLabel{models.EdgeLabelTrue, models.EdgeLabelFalse} {
			switch counts[label] {
			case 0:
				result.add(CodeConditionEdges, id, "", "condition node has no %q edge", label)
			case 1:
			default:
				result.add(CodeConditionEdges, id, "", "condition node has %d %q edges", counts[label], label)
			}
		}
	}
}

func checkReachability(g *models.Graph, ids []string, result *Result) {
	reached := map[string]bool{g.StartID: true}
	queue := []string{g.StartID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, edge := range g.Outgoing(current) {
			if _, ok := g.Node(edge.To); !ok || reached[edge.To] {
				continue
			}

			reached[edge.To] = true
			queue = append(queue, edge.To)
		}
	}

	for _, id := range ids {
		if !reached[id] {
			result.add(CodeUnreachableNode, id, "", "node is not reachable from start node %q", g.StartID)
		}
	}
}

// checkAutoCycles rejects cycles made only of nodes the engine resolves on its own,
// since a run entering one would never wait for a step service.
func checkAutoCycles(g *models.Graph, ids []string, result *Result) {
	const (
		unvisited = iota
		visiting
		done
	)

	isAuto := func(id string) bool {
		node, ok := g.Node(id)

		return ok && node.Type.AutoCompleted()
	}

	state := make(map[string]int, len(ids))
	reported := make(map[string]bool)

	var visit func(id string)
	visit = func(id string) {
		state[id] = visiting

		for _, edge := range g.Outgoing(id) {
			if !isAuto(edge.To) {
				continue
			}

			switch state[edge.To] {
			case unvisited:
				visit(edge.To)
			case visiting:
				if !reported[edge.To] {
					reported[edge.To] = true
					result.add(CodeAutoCycle, edge.To, "", "cycle of condition and dummy_task nodes never waits for a step")
				}
			}
		}

		state[id] = done
	}

	for _, id := range ids {
		if isAuto(id) && state[id] == unvisited {
			visit(id)
		}
	}
}

func checkSettings(g *models.Graph, ids []string, result *Result) {
	schemas, err := compiledSchemas()
	if err != nil {
		result.add(CodeInvalidSettings, "", "", "settings schemas unavailable: %v", err)

		return
	}

	for _, id := range ids {
		node, ok := g.Node(id)
		if !ok {
			continue
		}

		schema, known := schemas[node.Type]
		if !known {
			result.add(CodeUnknownNodeType, id, "", "node type %q is not supported", node.Type)

			continue
		}

		raw := bytes.TrimSpace(node.Settings)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			raw = []byte("{}")
		}

		validation, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			result.add(CodeInvalidSettings, id, "", "settings are not valid JSON: %v", err)

			continue
		}

		if !validation.Valid() {
			messages := make([]string, 0, len(validation.Errors()))
			for _, desc := range validation.Errors() {
				messages = append(messages, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
			}

			slices.Sort(messages)

			for _, message := range messages {
				result.add(CodeInvalidSettings, id, "", "%s", message)
			}

			continue
		}

		if _, err := models.DecodeSettings(node.Type, raw); err != nil {
			result.add(CodeInvalidSettings, id, "", "%v", err)
		}
	}
}
