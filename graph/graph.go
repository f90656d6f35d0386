// Package graph implements a directed acyclic graph and the
// topological operations forge needs over it: a full ordering (Sort)
// and a layering into concurrently-schedulable waves (Waves).
package graph

import "fmt"

// Vertex represents a single node in the graph.
type Vertex struct {
	parents  map[string]struct{}
	children map[string]struct{}
	Name     string
}

// InDegree returns the number of incoming edges to this vertex.
func (v *Vertex) InDegree() int {
	return len(v.parents)
}

// OutDegree returns the number of outgoing edges to this vertex.
func (v *Vertex) OutDegree() int {
	return len(v.children)
}

// Graph is a directed acyclic graph keyed by vertex name.
type Graph struct {
	vertices map[string]*Vertex
}

// New constructs and returns a new Graph.
func New() *Graph {
	return &Graph{vertices: make(map[string]*Vertex)}
}

// AddVertex adds a vertex with the given name to the graph, if one
// doesn't already exist. Adding a vertex that already exists is a
// no-op, preserving any edges it already has.
func (g *Graph) AddVertex(name string) {
	if _, ok := g.vertices[name]; ok {
		return
	}
	g.vertices[name] = &Vertex{
		Name:     name,
		parents:  make(map[string]struct{}),
		children: make(map[string]struct{}),
	}
}

// ContainsVertex reports whether a vertex with the given name exists.
func (g *Graph) ContainsVertex(name string) bool {
	_, ok := g.vertices[name]
	return ok
}

// Size returns the number of vertices in the graph.
func (g *Graph) Size() int {
	return len(g.vertices)
}

// AddEdge creates an edge from parent to child, meaning parent must be
// processed before child.
func (g *Graph) AddEdge(parent, child string) error {
	parentVertex, ok := g.vertices[parent]
	if !ok {
		return fmt.Errorf("parent vertex %q not in graph", parent)
	}
	childVertex, ok := g.vertices[child]
	if !ok {
		return fmt.Errorf("child vertex %q not in graph", child)
	}

	parentVertex.children[child] = struct{}{}
	childVertex.parents[parent] = struct{}{}

	return nil
}

// Sort returns a full topological ordering of the graph's vertices
// using Kahn's algorithm, or an error if the graph contains a cycle.
func (g *Graph) Sort() ([]string, error) {
	waves, err := g.Waves()
	if err != nil {
		return nil, err
	}
	order := make([]string, 0, g.Size())
	for _, wave := range waves {
		order = append(order, wave...)
	}
	return order, nil
}

// Waves partitions the graph into layers: wave 0 holds every vertex
// with no parents, wave 1 every vertex whose parents are all in wave 0,
// and so on. Each wave is the maximal set of vertices schedulable
// together at that point in a topological walk. Returns an error if
// the graph contains a cycle (some vertices never become schedulable).
func (g *Graph) Waves() ([][]string, error) {
	remaining := make(map[string]int, len(g.vertices))
	for name, v := range g.vertices {
		remaining[name] = v.InDegree()
	}

	var waves [][]string
	scheduled := 0

	for len(remaining) > 0 {
		var wave []string
		for name, indeg := range remaining {
			if indeg == 0 {
				wave = append(wave, name)
			}
		}
		if len(wave) == 0 {
			break
		}

		for _, name := range wave {
			delete(remaining, name)
			for child := range g.vertices[name].children {
				if _, ok := remaining[child]; ok {
					remaining[child]--
				}
			}
		}

		waves = append(waves, wave)
		scheduled += len(wave)
	}

	if scheduled != g.Size() {
		return nil, fmt.Errorf("graph contains a cycle: %d of %d vertices could not be scheduled", g.Size()-scheduled, g.Size())
	}

	return waves, nil
}
