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

package graphutil

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph"

	"github.com/awslabs/ar-sandbox-tools/analysis/ir"
	"github.com/awslabs/ar-sandbox-tools/analysis/wpa"
)

// CGraph is an abstraction over the summary call graph to work with existing
// graph libraries. It implements the methods to satisfy graph.Iterator and
// Gonum's graph.Graph
type CGraph struct {
	// The order of the graph
	order int

	// The original call graph the CGraph was constructed from
	Graph *wpa.CallGraph

	// IDMap maps from node IDs to CNodes
	IDMap map[int64]CNode

	// FnIDs maps function identities back to node IDs
	FnIDs map[ir.FuncID]int64

	// Keys are all the node IDs
	Keys []int64

	// Edges is an adjacency matrix: Edges[x][y] means there is a directed edge between IDMap[x] and IDMap[y]
	Edges map[int64]map[int64]bool
}

// NewCallgraphIterator returns a new call graph iterator. Node ids are dense
// integers assigned in sorted function-identity order, so they stay stable
// across runs over the same program.
func NewCallgraphIterator(cg *wpa.CallGraph) CGraph {
	fns := make([]ir.FuncID, 0, len(cg.Nodes))
	for id := range cg.Nodes {
		fns = append(fns, id)
	}
	sort.Slice(fns, func(i, j int) bool {
		if fns[i].H0 != fns[j].H0 {
			return fns[i].H0 < fns[j].H0
		}
		return fns[i].H1 < fns[j].H1
	})

	n := len(fns)
	idmap := make(map[int64]CNode, n)
	fnids := make(map[ir.FuncID]int64, n)
	keys := make([]int64, n)
	for i, fn := range fns {
		keys[i] = int64(i)
		fnids[fn] = int64(i)
		idmap[int64(i)] = CNode{id: int64(i), Fn: fn, Node: cg.Nodes[fn]}
	}

	edges := make(map[int64]map[int64]bool, n)
	for i, fn := range fns {
		edges[int64(i)] = map[int64]bool{}
		for callee := range cg.Nodes[fn].Callees {
			if j, ok := fnids[callee]; ok {
				edges[int64(i)][j] = true
			}
		}
	}

	return CGraph{
		order: n,
		Graph: cg,
		IDMap: idmap,
		FnIDs: fnids,
		Keys:  keys,
		Edges: edges,
	}
}

// Subgraph returns a new graph that is the original graph with only the nodes in include. Only the edges that have
// both the origin and destination nodes in the include nodes are kept in the resulting graph.
// The subgraph's order, Graph and IDMap are the same as in origin, meaning that node indices will stay consistent
// across subgraphs.
func Subgraph(original CGraph, include []int64) CGraph {
	idmap := make(map[int64]CNode, len(include))
	edges := make(map[int64]map[int64]bool, len(include))
	keys := make([]int64, len(include))

	for j, i := range include {
		keys[j] = i
		idmap[i] = original.IDMap[i]
	}

	for _, i := range include {
		edges[i] = map[int64]bool{}
		for e := range original.Edges[i] {
			if _, ok := idmap[e]; ok {
				edges[i][e] = true
			}
		}
	}

	return CGraph{
		order: original.Order(),
		Graph: original.Graph,
		IDMap: original.IDMap,
		FnIDs: original.FnIDs,
		Edges: edges,
		Keys:  keys,
	}
}

// Order implements the order of the graph.Iterator interface for the CGraph
func (c CGraph) Order() int {
	return c.order
}

// Visit implements the graph.Iterator interface for the CGraph
func (c CGraph) Visit(v int, do func(w int, c int64) (skip bool)) (aborted bool) {
	if _, ok := c.IDMap[int64(v)]; !ok {
		return false
	}
	for w := range c.Edges[int64(v)] {
		if do(int(w), 1) {
			return true
		}
	}
	return false
}

// *************** Directed graph interface implementation **********************

// Node implements Gonum's graph.Graph interface
func (c CGraph) Node(id int64) graph.Node {
	return c.IDMap[id]
}

// Nodes returns the set of nodes in the graph, in id order
func (c CGraph) Nodes() graph.Nodes {
	keys := make([]int64, len(c.IDMap))

	i := 0
	for k := range c.IDMap {
		keys[i] = k
		i++
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return &NodeSet{
		nodes: c.IDMap,
		ids:   keys,
		cur:   -1,
	}
}

// From returns the set of nodes reachable from the id
func (c CGraph) From(id int64) graph.Nodes {
	var keys []int64

	for out := range c.Edges[id] {
		keys = append(keys, out)
	}
	return &NodeSet{
		nodes: c.IDMap,
		ids:   keys,
		cur:   -1,
	}
}

// To returns the set of nodes with an edge into the id
func (c CGraph) To(id int64) graph.Nodes {
	var keys []int64

	for in, outs := range c.Edges {
		if outs[id] {
			keys = append(keys, in)
		}
	}
	return &NodeSet{
		nodes: c.IDMap,
		ids:   keys,
		cur:   -1,
	}
}

// HasEdgeBetween returns a boolean indicating whether an edge exists between the two node identifiers
func (c CGraph) HasEdgeBetween(xid, yid int64) bool {
	xe := c.Edges[xid]
	ye := c.Edges[yid]
	return xe[yid] || ye[xid]
}

// HasEdgeFromTo returns a boolean indicating whether a directed edge exists from xid to yid
func (c CGraph) HasEdgeFromTo(xid, yid int64) bool {
	return c.Edges[xid][yid]
}

// Edge returns the edge between the two identifiers (nil if none exists)
func (c CGraph) Edge(uid, vid int64) graph.Edge {
	ue := c.Edges[uid]
	if ue != nil {
		if ue[vid] {
			return CEdge{from: c.IDMap[uid], to: c.IDMap[vid]}
		}
	}
	return nil
}

// *************** Nodes implementation **********************

// CNode is a wrapper around a summary call graph node that implements the graph.Node interface
type CNode struct {
	id int64

	// Fn is the identity of the function the node stands for
	Fn ir.FuncID

	// Node is the underlying call graph node
	Node *wpa.Node
}

// ID returns the id of the node
func (n CNode) ID() int64 {
	return n.id
}

func (n CNode) String() string {
	if n.Node == nil {
		return n.Fn.String()
	}
	return fmt.Sprintf("%s::%s", n.Node.Module, n.Node.Name)
}

// NodeSet implements the graph.Nodes interface, an iterator over a set of
// nodes. cur starts one before the first element; the first Next positions
// the iterator on it.
type NodeSet struct {
	nodes map[int64]CNode
	ids   []int64
	cur   int
}

// Next implements the graph.Nodes interface
func (ns *NodeSet) Next() bool {
	ns.cur++
	return ns.cur < len(ns.ids)
}

// Len returns the number of remaining nodes in the iterator
func (ns *NodeSet) Len() int {
	return len(ns.ids) - ns.cur - 1
}

// Reset implements the graph.Nodes interface
func (ns *NodeSet) Reset() {
	ns.cur = -1
}

// Node returns the current node of the iterator
func (ns *NodeSet) Node() graph.Node {
	return ns.nodes[ns.ids[ns.cur]]
}

// *************** Edge implementation **********************

// CEdge implements the graph.Edge interface for the CGraph
type CEdge struct {
	from CNode
	to   CNode
}

// From returns the origin node of the edge
func (e CEdge) From() graph.Node {
	return e.from
}

// To returns the destination node of the edge
func (e CEdge) To() graph.Node {
	return e.to
}

// ReversedEdge returns the reversed edge
func (e CEdge) ReversedEdge() graph.Edge {
	return CEdge{from: e.to, to: e.from}
}
