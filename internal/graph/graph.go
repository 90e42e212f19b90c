package graph

import (
	"sync"
	"time"
)

// Node is a typed record in the relationship graph
type Node struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Edge is a directed, labeled link between two node ids
type Edge struct {
	Source       string         `json:"source"`
	Target       string         `json:"target"`
	Relationship string         `json:"relationship"`
	Properties   map[string]any `json:"properties,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Graph records relationships between agents, tasks, and concepts. It is a
// record store, not a constraint system: nodes upsert, edges append without
// dedup or referential checks, and nothing is ever pruned.
type Graph struct {
	nodes map[string]*Node
	order []string
	edges []Edge
	mu    sync.RWMutex
}

// New creates an empty graph
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
	}
}

// AddNode upserts a node. Re-adding an existing id overwrites type and
// properties and resets the creation timestamp; insertion order is kept from
// the first add.
func (g *Graph) AddNode(id, nodeType string, properties map[string]any) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; !exists {
		g.order = append(g.order, id)
	}
	g.nodes[id] = &Node{
		ID:         id,
		Type:       nodeType,
		Properties: copyProps(properties),
		CreatedAt:  time.Now(),
	}
}

// AddEdge appends a directed edge. Duplicates are permitted and endpoints are
// not required to exist as nodes.
func (g *Graph) AddEdge(source, target, relationship string, properties map[string]any) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.edges = append(g.edges, Edge{
		Source:       source,
		Target:       target,
		Relationship: relationship,
		Properties:   copyProps(properties),
		CreatedAt:    time.Now(),
	})
}

// Query returns node snapshots matching the given filters. A non-empty byID
// returns at most one node and takes precedence over byType. A non-empty
// byType returns all nodes of that type in insertion order. With both filters
// empty the result is empty, not the full node set.
func (g *Graph) Query(byID, byType string) []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if byID != "" {
		if n, ok := g.nodes[byID]; ok {
			return []Node{snapshotNode(n)}
		}
		return nil
	}
	if byType == "" {
		return nil
	}

	var out []Node
	for _, id := range g.order {
		if n := g.nodes[id]; n.Type == byType {
			out = append(out, snapshotNode(n))
		}
	}
	return out
}

// Node returns a snapshot of a single node by id
func (g *Graph) Node(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return snapshotNode(n), true
}

// Edges returns a snapshot of all edges in append order
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Edge, len(g.edges))
	for i, e := range g.edges {
		out[i] = e
		out[i].Properties = copyProps(e.Properties)
	}
	return out
}

// NodeCount returns the number of nodes
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edges
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// Reset discards all nodes and edges
func (g *Graph) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes = make(map[string]*Node)
	g.order = nil
	g.edges = nil
}

func snapshotNode(n *Node) Node {
	out := *n
	out.Properties = copyProps(n.Properties)
	return out
}

func copyProps(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
