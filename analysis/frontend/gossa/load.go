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

// Package gossa is the Go frontend: it loads a Go program through
// golang.org/x/tools, builds its SSA form and lowers it into the generic
// control-flow representation of the ir package. Heap allocations become
// synthetic calls into the runtime module so the allocator tables classify
// them like any other allocation call, and every instruction touching an
// unsafe.Pointer is marked as unsafe.
package gossa

import (
	"fmt"
	"go/token"
	"os"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/awslabs/ar-sandbox-tools/analysis/config"
	"github.com/awslabs/ar-sandbox-tools/analysis/ir"
)

// PkgLoadMode is the loading mode used by the frontend. We load all possible
// information.
const PkgLoadMode = packages.NeedName |
	packages.NeedFiles |
	packages.NeedCompiledGoFiles |
	packages.NeedImports |
	packages.NeedDeps |
	packages.NeedExportFile |
	packages.NeedTypes |
	packages.NeedSyntax |
	packages.NeedTypesInfo |
	packages.NeedTypesSizes |
	packages.NeedModule

// LoadedProgram represents a loaded program.
type LoadedProgram struct {
	// Program is the SSA version of the program.
	Program *ssa.Program
	// Packages is a list of all packages in the program.
	Packages []*packages.Package
}

// LoadProgram loads a program on platform "platform" using the buildmode
// provided and the args. To understand how to specify the args, look at the
// documentation of packages.Load.
func LoadProgram(pkgConfig *packages.Config,
	platform string,
	buildmode ssa.BuilderMode,
	args []string) (LoadedProgram, error) {

	fset := token.NewFileSet()
	if pkgConfig == nil {
		pkgConfig = &packages.Config{
			Mode:  PkgLoadMode,
			Tests: false,
			Fset:  fset,
		}
	}

	if platform != "" {
		pkgConfig.Env = append(os.Environ(), fmt.Sprintf("GOOS=%s", platform))
	}

	// load, parse and type check the given packages
	initialPackages, err := packages.Load(pkgConfig, args...)
	if err != nil {
		return LoadedProgram{}, fmt.Errorf("failed to load packages: %v", err)
	}

	if len(initialPackages) == 0 {
		return LoadedProgram{}, fmt.Errorf("no packages")
	}

	if packages.PrintErrors(initialPackages) > 0 {
		return LoadedProgram{}, fmt.Errorf("errors found, exiting")
	}

	// Construct SSA for all the packages we have loaded
	program, ssaPackages := ssautil.AllPackages(initialPackages, buildmode)

	for i, p := range ssaPackages {
		if p == nil {
			return LoadedProgram{}, fmt.Errorf("cannot build SSA for package %s", initialPackages[i])
		}
	}

	// Build SSA for entire program
	program.Build()

	return LoadedProgram{Program: program, Packages: initialPackages}, nil
}

// LowerProgram lowers every function with a body in the loaded SSA program
// into the generic representation. Synthetic wrappers without bodies are
// skipped; calls to them resolve as foreign targets.
func LowerProgram(cfg *config.Config, log *config.LogGroup, lp LoadedProgram) *ir.Program {
	prog := ir.NewProgram()
	n := 0
	for f := range ssautil.AllFunctions(lp.Program) {
		if f.Blocks == nil {
			continue
		}
		fn := lowerFunc(log, f)
		if err := fn.Validate(); err != nil {
			log.Warnf("skipping %s: %v", fn.Name, err)
			continue
		}
		prog.Add(fn)
		n++
	}
	log.Infof("lowered %d functions", n)
	return prog
}
