package graph

import (
	"testing"
)

func TestAddVertex(t *testing.T) {
	t.Parallel()
	g := New()

	if g.Size() != 0 {
		t.Errorf("new graph does not have 0 vertices, got %d", g.Size())
	}

	g.AddVertex("v1")

	if g.Size() != 1 {
		t.Error("vertex was not correctly added to graph")
	}
}

func TestAddVertexIsIdempotent(t *testing.T) {
	t.Parallel()
	g := New()
	g.AddVertex("v1")
	g.AddVertex("v1")

	if g.Size() != 1 {
		t.Errorf("expected size 1, got %d", g.Size())
	}
}

func TestContainsVertex(t *testing.T) {
	t.Parallel()
	g := New()

	if g.ContainsVertex("v1") {
		t.Error("v1 is not in the graph but ContainsVertex returned true")
	}

	g.AddVertex("v1")

	if !g.ContainsVertex("v1") {
		t.Error("v1 is in the graph but ContainsVertex returned false")
	}
}

func TestAddEdge(t *testing.T) {
	t.Parallel()

	t.Run("happy path", func(t *testing.T) {
		t.Parallel()
		g := New()
		g.AddVertex("v1")
		g.AddVertex("v2")

		if err := g.AddEdge("v1", "v2"); err != nil {
			t.Fatalf("AddEdge returned an error: %v", err)
		}

		v1 := g.vertices["v1"]
		v2 := g.vertices["v2"]

		if _, ok := v1.children["v2"]; !ok {
			t.Error("v1 did not have v2 as a child")
		}
		if _, ok := v2.parents["v1"]; !ok {
			t.Error("v2 did not have v1 as a parent")
		}
	})

	t.Run("parent missing", func(t *testing.T) {
		t.Parallel()
		g := New()
		g.AddVertex("v2")

		if err := g.AddEdge("v1", "v2"); err == nil {
			t.Error("expected an error, got nil")
		}
	})

	t.Run("child missing", func(t *testing.T) {
		t.Parallel()
		g := New()
		g.AddVertex("v1")

		if err := g.AddEdge("v1", "v2"); err == nil {
			t.Error("expected an error, got nil")
		}
	})
}

func TestSort(t *testing.T) {
	t.Parallel()
	g := New()

	for _, name := range []string{"v1", "v2", "v3", "v4", "v5"} {
		g.AddVertex(name)
	}

	// v2 depends on v1
	if err := g.AddEdge("v1", "v2"); err != nil {
		t.Fatalf("AddEdge returned an error: %v", err)
	}
	// v4 depends on v3
	if err := g.AddEdge("v3", "v4"); err != nil {
		t.Fatalf("AddEdge returned an error: %v", err)
	}

	sorted, err := g.Sort()
	if err != nil {
		t.Fatalf("Sort returned an error: %v", err)
	}

	position := make(map[string]int, len(sorted))
	for i, name := range sorted {
		position[name] = i
	}

	if position["v1"] >= position["v2"] {
		t.Error("v1 should be sorted before v2")
	}
	if position["v3"] >= position["v4"] {
		t.Error("v3 should be sorted before v4")
	}
	if len(sorted) != 5 {
		t.Errorf("expected 5 entries, got %d", len(sorted))
	}
}

func TestSortNotADAG(t *testing.T) {
	t.Parallel()
	g := New()

	for _, name := range []string{"v1", "v2", "v3"} {
		g.AddVertex(name)
	}

	if err := g.AddEdge("v1", "v2"); err != nil {
		t.Fatalf("AddEdge returned an error: %v", err)
	}
	if err := g.AddEdge("v2", "v3"); err != nil {
		t.Fatalf("AddEdge returned an error: %v", err)
	}
	// Close the cycle.
	if err := g.AddEdge("v3", "v1"); err != nil {
		t.Fatalf("AddEdge returned an error: %v", err)
	}

	if _, err := g.Sort(); err == nil {
		t.Fatal("expected a cycle error, got nil")
	}
}

func TestWavesLayersByDependencyDepth(t *testing.T) {
	t.Parallel()
	g := New()

	// a -> b -> c, plus an independent d.
	for _, name := range []string{"a", "b", "c", "d"} {
		g.AddVertex(name)
	}
	if err := g.AddEdge("a", "b"); err != nil {
		t.Fatalf("AddEdge returned an error: %v", err)
	}
	if err := g.AddEdge("b", "c"); err != nil {
		t.Fatalf("AddEdge returned an error: %v", err)
	}

	waves, err := g.Waves()
	if err != nil {
		t.Fatalf("Waves returned an error: %v", err)
	}
	if len(waves) != 3 {
		t.Fatalf("expected 3 waves, got %d: %v", len(waves), waves)
	}

	first := toSet(waves[0])
	if !first["a"] || !first["d"] {
		t.Errorf("expected wave 0 to contain a and d, got %v", waves[0])
	}
	if !toSet(waves[1])["b"] {
		t.Errorf("expected wave 1 to contain b, got %v", waves[1])
	}
	if !toSet(waves[2])["c"] {
		t.Errorf("expected wave 2 to contain c, got %v", waves[2])
	}
}

func TestWavesDetectsCycle(t *testing.T) {
	t.Parallel()
	g := New()
	g.AddVertex("a")
	g.AddVertex("b")
	if err := g.AddEdge("a", "b"); err != nil {
		t.Fatalf("AddEdge returned an error: %v", err)
	}
	if err := g.AddEdge("b", "a"); err != nil {
		t.Fatalf("AddEdge returned an error: %v", err)
	}

	if _, err := g.Waves(); err == nil {
		t.Fatal("expected a cycle error, got nil")
	}
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		out[item] = true
	}
	return out
}
