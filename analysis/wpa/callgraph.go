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

package wpa

import (
	"github.com/awslabs/ar-sandbox-tools/analysis/config"
	"github.com/awslabs/ar-sandbox-tools/analysis/ir"
	"github.com/awslabs/ar-sandbox-tools/analysis/summarize"
)

// A Node is one function in the whole-program call graph, with edges in both
// directions.
type Node struct {
	// Name and Module are for reporting only.
	Name    string
	Module  string
	Callees map[ir.FuncID]bool
	Callers map[ir.FuncID]bool
}

// A CallGraph is the bidirectional graph of function identities induced by
// the call records of all summaries. It is built once and read-only during
// propagation. Nodes exist for callees without a summary of their own
// (library-only edges); recursion shows up as cycles and is handled by the
// propagator's processed sets, not rejected here.
type CallGraph struct {
	Nodes map[ir.FuncID]*Node
}

// BuildCallGraph joins the call records of every summary into one graph,
// adding a caller-to-callee edge and the symmetric callee-to-caller edge per
// record, and creating nodes lazily for callees that have no summary.
func BuildCallGraph(sums map[ir.FuncID]*summarize.Summary) *CallGraph {
	cg := &CallGraph{Nodes: map[ir.FuncID]*Node{}}
	for id, sum := range sums {
		caller := cg.node(id, sum.Name, sum.Module)
		for _, rec := range sum.Calls {
			caller.Callees[rec.Callee] = true
			callee := cg.node(rec.Callee, rec.CalleeName, rec.CalleeModule)
			callee.Callers[id] = true
		}
	}
	return cg
}

func (cg *CallGraph) node(id ir.FuncID, name string, module string) *Node {
	if n, ok := cg.Nodes[id]; ok {
		if n.Name == "" {
			n.Name, n.Module = name, module
		}
		return n
	}
	n := &Node{
		Name:    name,
		Module:  module,
		Callees: map[ir.FuncID]bool{},
		Callers: map[ir.FuncID]bool{},
	}
	cg.Nodes[id] = n
	return n
}

// Callers returns the callers of the function, or nil when the graph has no
// node for it.
func (cg *CallGraph) Callers(id ir.FuncID) map[ir.FuncID]bool {
	if n, ok := cg.Nodes[id]; ok {
		return n.Callers
	}
	return nil
}

// Dump prints every node and its callees through the logger at trace level.
func (cg *CallGraph) Dump(log *config.LogGroup) {
	for id, n := range cg.Nodes {
		log.Tracef("%s::%s (%s): %d callees, %d callers",
			n.Module, n.Name, id, len(n.Callees), len(n.Callers))
		for callee := range n.Callees {
			if cn, ok := cg.Nodes[callee]; ok {
				log.Tracef("  -> %s::%s", cn.Module, cn.Name)
			}
		}
	}
}
