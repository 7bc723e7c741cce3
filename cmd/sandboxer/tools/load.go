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

package tools

import (
	"fmt"
	"go/token"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"

	"github.com/awslabs/ar-sandbox-tools/analysis/config"
	"github.com/awslabs/ar-sandbox-tools/analysis/frontend/gossa"
	"github.com/awslabs/ar-sandbox-tools/analysis/ir"
)

// LoadLowered loads the Go packages named by the remaining arguments of the
// parsed flags and lowers them into the generic program representation.
func LoadLowered(cfg *config.Config, log *config.LogGroup, flags CommonFlags) (*ir.Program, error) {
	args := flags.FlagSet.Args()
	if len(args) == 0 {
		return nil, fmt.Errorf("expected at least one package pattern or Go file")
	}

	pkgConfig := &packages.Config{
		Mode:  gossa.PkgLoadMode,
		Tests: flags.WithTest,
		Fset:  token.NewFileSet(),
	}
	lp, err := gossa.LoadProgram(pkgConfig, "", ssa.InstantiateGenerics, args)
	if err != nil {
		return nil, fmt.Errorf("could not load program: %w", err)
	}
	return gossa.LowerProgram(cfg, log, lp), nil
}
