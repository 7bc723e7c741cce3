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

package analysis

import (
	"fmt"
	"io"

	"github.com/awslabs/ar-sandbox-tools/analysis/access"
	"github.com/awslabs/ar-sandbox-tools/analysis/ir"
	"github.com/awslabs/ar-sandbox-tools/analysis/summarize"
	"github.com/awslabs/ar-sandbox-tools/analysis/wpa"
)

// Statistics holds general counts about one analysis run.
type Statistics struct {
	NumberOfFunctions    uint
	NumberOfBlocks       uint
	NumberOfStatements   uint
	NumberOfDereferences uint
	NumberOfCallRecords  uint
	NumberOfUnsafeDefs   uint
	NumberOfMapEntries   uint
	NumberOfMapSites     uint
}

// ProgramStatistics returns counts over the lowered program, the summaries
// and the whole-program result. Any of the inputs may be nil when the
// corresponding phase did not run.
func ProgramStatistics(prog *ir.Program, sums map[ir.FuncID]*summarize.Summary, res wpa.Result) Statistics {
	var s Statistics
	if prog != nil {
		for _, fn := range prog.Funcs {
			s.NumberOfFunctions++
			s.NumberOfDereferences += uint(access.CountDerefs(fn))
			for _, b := range fn.Blocks {
				s.NumberOfBlocks++
				s.NumberOfStatements += uint(len(b.Stmts))
			}
		}
	}
	for _, sum := range sums {
		s.NumberOfCallRecords += uint(len(sum.Calls))
		s.NumberOfUnsafeDefs += uint(len(sum.UnsafeDefs))
	}
	for _, sites := range res {
		s.NumberOfMapEntries++
		s.NumberOfMapSites += uint(len(sites))
	}
	return s
}

// Print writes the statistics in a fixed-width layout.
func (s Statistics) Print(w io.Writer) {
	fmt.Fprintf(w, "Functions:            %d\n", s.NumberOfFunctions)
	fmt.Fprintf(w, "Blocks:               %d\n", s.NumberOfBlocks)
	fmt.Fprintf(w, "Statements:           %d\n", s.NumberOfStatements)
	fmt.Fprintf(w, "Dereferences:         %d\n", s.NumberOfDereferences)
	fmt.Fprintf(w, "Call records:         %d\n", s.NumberOfCallRecords)
	fmt.Fprintf(w, "Unsafe def sites:     %d\n", s.NumberOfUnsafeDefs)
	fmt.Fprintf(w, "Flagged functions:    %d\n", s.NumberOfMapEntries)
	fmt.Fprintf(w, "Flagged alloc sites:  %d\n", s.NumberOfMapSites)
}
