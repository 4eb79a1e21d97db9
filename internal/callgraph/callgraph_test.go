package callgraph

import (
	"testing"

	"binlex/internal/walker"
)

func TestBuildResolvesCallEdge(t *testing.T) {
	blocks := []walker.Block{
		{Start: 0x1000, Calls: []uint64{0x2000}},
		{Start: 0x2000},
	}
	functions := []walker.Function{
		{Entry: 0x1000, Blocks: []uint64{0x1000}},
		{Entry: 0x2000, Blocks: []uint64{0x2000}},
	}

	g := Build(blocks, functions)
	if len(g.Nodes) != 2 {
		t.Fatalf("len(Nodes) = %d, want 2", len(g.Nodes))
	}
	if len(g.Edges) != 1 {
		t.Fatalf("len(Edges) = %d, want 1", len(g.Edges))
	}
	e := g.Edges[0]
	if e.Caller != "0x1000" || e.Callee != "0x2000" {
		t.Fatalf("edge = %+v, want Caller=0x1000 Callee=0x2000", e)
	}
}

func TestBuildSkipsUnresolvedCallTarget(t *testing.T) {
	blocks := []walker.Block{
		{Start: 0x1000, Calls: []uint64{0xdead}},
	}
	functions := []walker.Function{
		{Entry: 0x1000, Blocks: []uint64{0x1000}},
	}

	g := Build(blocks, functions)
	if len(g.Edges) != 0 {
		t.Fatalf("len(Edges) = %d, want 0 for unresolved call target", len(g.Edges))
	}
}

func TestBuildRecursiveSelfCallIsSingleEdge(t *testing.T) {
	blocks := []walker.Block{
		{Start: 0x1000, Calls: []uint64{0x1000}},
	}
	functions := []walker.Function{
		{Entry: 0x1000, Blocks: []uint64{0x1000}},
	}

	g := Build(blocks, functions)
	if len(g.Edges) != 1 {
		t.Fatalf("len(Edges) = %d, want 1", len(g.Edges))
	}
	if g.Edges[0].Caller != g.Edges[0].Callee {
		t.Fatalf("expected self-edge, got %+v", g.Edges[0])
	}
}
