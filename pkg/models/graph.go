package models

import (
	"encoding/json"
	"slices"
	"strings"
)

// NodeType identifies the kind of step a node represents.
type NodeType string

const (
	NodeTypeTask        NodeType = "task"
	NodeTypeForm        NodeType = "form"
	NodeTypeCourse      NodeType = "course"
	NodeTypeEmail       NodeType = "email"
	NodeTypeProfileTask NodeType = "profile_task"
	NodeTypeSurvey      NodeType = "survey"
	NodeTypeCondition   NodeType = "condition"
	NodeTypeDummyTask   NodeType = "dummy_task"
)

// NodeTypes lists every supported node type.
func NodeTypes() []NodeType {
	return []NodeType{
		NodeTypeTask,
		NodeTypeForm,
		NodeTypeCourse,
		NodeTypeEmail,
		NodeTypeProfileTask,
		NodeTypeSurvey,
		NodeTypeCondition,
		NodeTypeDummyTask,
	}
}

// Valid reports whether t is a supported node type.
func (t NodeType) Valid() bool {
	return slices.Contains(NodeTypes(), t)
}

// AutoCompleted reports whether nodes of this type are resolved by the engine without a step service.
func (t NodeType) AutoCompleted() bool {
	return t == NodeTypeCondition || t == NodeTypeDummyTask
}

// EdgeLabel selects a branch of a condition node.
type EdgeLabel string

const (
	EdgeLabelTrue  EdgeLabel = "true"
	EdgeLabelFalse EdgeLabel = "false"
)

// BranchLabel returns the edge label that a condition result follows.
func BranchLabel(result bool) EdgeLabel {
	if result {
		return EdgeLabelTrue
	}

	return EdgeLabelFalse
}

// Position is the editor coordinate of a node.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a single step of a workflow graph.
type Node struct {
	ID       string          `json:"id"`
	Type     NodeType        `json:"type"`
	Title    string          `json:"title,omitempty"`
	Settings json.RawMessage `json:"settings,omitempty"`
	Position Position        `json:"position"`
}

// DecodeSettings decodes the raw settings into the typed variant for the node's type.
func (n *Node) DecodeSettings() (NodeSettings, error) {
	return DecodeSettings(n.Type, n.Settings)
}

// Edge connects two nodes by id.
type Edge struct {
	ID    string    `json:"id"`
	From  string    `json:"from"`
	To    string    `json:"to"`
	Label EdgeLabel `json:"label,omitempty"`
	Order *int      `json:"order,omitempty"`
}

// Graph is the node and edge set of a workflow version. Nodes and edges reference each other by id only.
type Graph struct {
	StartID string           `json:"start_id"`
	Nodes   map[string]*Node `json:"nodes"`
	Edges   []*Edge          `json:"edges"`
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes: make(map[string]*Node),
		Edges: make([]*Edge, 0),
	}
}

// IsEmpty reports whether the graph has no nodes.
func (g *Graph) IsEmpty() bool {
	return g == nil || len(g.Nodes) == 0
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	if g == nil {
		return nil, false
	}

	node, ok := g.Nodes[id]

	return node, ok && node != nil
}

// NodeIDs returns the node ids in lexical order.
func (g *Graph) NodeIDs() []string {
	if g == nil {
		return nil
	}

	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}

// Outgoing returns the edges leaving nodeID, ordered by Order and then by id.
func (g *Graph) Outgoing(nodeID string) []*Edge {
	if g == nil {
		return nil
	}

	edges := make([]*Edge, 0)

	for _, edge := range g.Edges {
		if edge != nil && edge.From == nodeID {
			edges = append(edges, edge)
		}
	}

	slices.SortStableFunc(edges, func(a, b *Edge) int {
		ao, bo := edgeOrder(a), edgeOrder(b)
		if ao != bo {
			return ao - bo
		}

		return strings.Compare(a.ID, b.ID)
	})

	return edges
}

func edgeOrder(e *Edge) int {
	if e.Order == nil {
		return 0
	}

	return *e.Order
}

// Clone returns a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	if g == nil {
		return nil
	}

	clone := &Graph{
		StartID: g.StartID,
		Nodes:   make(map[string]*Node, len(g.Nodes)),
		Edges:   make([]*Edge, 0, len(g.Edges)),
	}

	for id, node := range g.Nodes {
		if node == nil {
			continue
		}

		copied := *node
		if node.Settings != nil {
			copied.Settings = append(json.RawMessage(nil), node.Settings...)
		}

		clone.Nodes[id] = &copied
	}

	for _, edge := range g.Edges {
		if edge == nil {
			continue
		}

		copied := *edge
		if edge.Order != nil {
			order := *edge.Order
			copied.Order = &order
		}

		clone.Edges = append(clone.Edges, &copied)
	}

	return clone
}
