// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package graphutil_test

import (
	"sort"
	"testing"

	"github.com/yourbasic/graph"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/awslabs/ar-sandbox-tools/analysis/ir"
	"github.com/awslabs/ar-sandbox-tools/analysis/wpa"
	"github.com/awslabs/ar-sandbox-tools/internal/graphutil"
)

// testCallGraph wires the named edges into a call graph with both edge
// directions populated, the way wpa.BuildCallGraph does.
func testCallGraph(edges map[string][]string) *wpa.CallGraph {
	cg := &wpa.CallGraph{Nodes: map[ir.FuncID]*wpa.Node{}}
	node := func(name string) (ir.FuncID, *wpa.Node) {
		id := ir.HashID("app", name)
		n, ok := cg.Nodes[id]
		if !ok {
			n = &wpa.Node{
				Name:    name,
				Module:  "app",
				Callees: map[ir.FuncID]bool{},
				Callers: map[ir.FuncID]bool{},
			}
			cg.Nodes[id] = n
		}
		return id, n
	}
	for caller, callees := range edges {
		callerID, callerNode := node(caller)
		for _, callee := range callees {
			calleeID, calleeNode := node(callee)
			callerNode.Callees[calleeID] = true
			calleeNode.Callers[callerID] = true
		}
	}
	return cg
}

func TestFindAllElementaryCycles(t *testing.T) {
	// One three-node cycle plus an entry edge that is on no cycle.
	cg := testCallGraph(map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
		"d": {"b"},
	})
	iterator := graphutil.NewCallgraphIterator(cg)
	stats := graph.Check(iterator)
	if stats.Size != 4 {
		t.Errorf("expected 4 edges, got %d", stats.Size)
	}

	cycles := graphutil.FindAllElementaryCycles(iterator)
	if len(cycles) != 1 {
		t.Fatalf("expected 1 elementary cycle, found %d", len(cycles))
	}
	names := map[string]bool{}
	for _, v := range cycles[0] {
		names[iterator.IDMap[v].Node.Name] = true
	}
	for _, want := range []string{"a", "b", "c"} {
		if !names[want] {
			t.Errorf("cycle misses %s: %v", want, names)
		}
	}
	if names["d"] {
		t.Errorf("d is on no cycle: %v", names)
	}
}

func TestFindAllElementaryCyclesSelfLoop(t *testing.T) {
	// A directly recursive function is a length-one cycle, written with the
	// start node repeated like every other cycle.
	cg := testCallGraph(map[string][]string{
		"f": {"f", "g"},
	})
	iterator := graphutil.NewCallgraphIterator(cg)
	cycles := graphutil.FindAllElementaryCycles(iterator)
	if len(cycles) != 1 || len(cycles[0]) != 2 {
		t.Fatalf("expected a single self loop, got %v", cycles)
	}
	for _, v := range cycles[0] {
		if name := iterator.IDMap[v].Node.Name; name != "f" {
			t.Errorf("self loop names %s", name)
		}
	}
}

func TestFindAllElementaryCyclesMixed(t *testing.T) {
	// A self loop inside a larger strongly connected component must be
	// reported alongside the two-node cycle.
	cg := testCallGraph(map[string][]string{
		"a": {"b"},
		"b": {"a", "b"},
	})
	cycles := graphutil.FindAllElementaryCycles(graphutil.NewCallgraphIterator(cg))
	if len(cycles) != 2 {
		t.Fatalf("expected the self loop and the two-node cycle, got %v", cycles)
	}
	lengths := map[int]int{}
	for _, cyc := range cycles {
		lengths[len(cyc)]++
	}
	if lengths[2] != 1 || lengths[3] != 1 {
		t.Errorf("unexpected cycle shapes: %v", cycles)
	}
}

func TestFindAllElementaryCyclesAcyclic(t *testing.T) {
	cg := testCallGraph(map[string][]string{
		"a": {"b", "c"},
		"b": {"c"},
	})
	if cycles := graphutil.FindAllElementaryCycles(graphutil.NewCallgraphIterator(cg)); len(cycles) != 0 {
		t.Fatalf("expected no cycles, got %v", cycles)
	}
}

func TestTarjanComponents(t *testing.T) {
	// The iterator feeds Gonum's Tarjan directly: one two-node component,
	// one directly recursive function, one plain caller.
	cg := testCallGraph(map[string][]string{
		"a": {"b"},
		"b": {"a"},
		"c": {"c"},
		"d": {"a"},
	})
	iterator := graphutil.NewCallgraphIterator(cg)
	sccs := topo.TarjanSCC(iterator)
	if len(sccs) != 3 {
		t.Fatalf("expected 3 components, got %d", len(sccs))
	}
	sizes := map[int]int{}
	for _, comp := range sccs {
		sizes[len(comp)]++
	}
	if sizes[2] != 1 || sizes[1] != 2 {
		t.Errorf("unexpected component sizes: %v", sizes)
	}
	cid := iterator.FnIDs[ir.HashID("app", "c")]
	if !iterator.HasEdgeFromTo(cid, cid) {
		t.Errorf("direct recursion should surface as a self edge")
	}
	did := iterator.FnIDs[ir.HashID("app", "d")]
	if iterator.HasEdgeFromTo(did, did) {
		t.Errorf("d does not call itself")
	}
}

func TestIteratorIdsAreStable(t *testing.T) {
	edges := map[string][]string{"a": {"b"}, "b": {"c"}}
	first := graphutil.NewCallgraphIterator(testCallGraph(edges))
	second := graphutil.NewCallgraphIterator(testCallGraph(edges))
	if first.Order() != second.Order() {
		t.Fatalf("orders differ: %d vs %d", first.Order(), second.Order())
	}
	for _, k := range first.Keys {
		if first.IDMap[k].Fn != second.IDMap[k].Fn {
			t.Errorf("node %d maps to different functions across runs", k)
		}
	}
	if !sort.SliceIsSorted(first.Keys, func(i, j int) bool { return first.Keys[i] < first.Keys[j] }) {
		t.Errorf("keys are not ordered: %v", first.Keys)
	}
}
