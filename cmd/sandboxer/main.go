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

package main

import (
	"fmt"
	"os"

	"github.com/awslabs/ar-sandbox-tools/analysis"
	"github.com/awslabs/ar-sandbox-tools/cmd/sandboxer/accesses"
	"github.com/awslabs/ar-sandbox-tools/cmd/sandboxer/global"
	"github.com/awslabs/ar-sandbox-tools/cmd/sandboxer/run"
	"github.com/awslabs/ar-sandbox-tools/cmd/sandboxer/tools"
	"github.com/awslabs/ar-sandbox-tools/cmd/sandboxer/unit"
)

const usage = `Sandboxer: unsafe heap allocation analysis
Usage:
  sandboxer [tool] [options] <Go file path(s)>
Tools:
  - run: runs the full pipeline on a single-unit program
  - summarize: summarizes one compilation unit into the summary store
  - wpa: runs the whole-program propagation over a populated store
  - accesses: resolves the whole-program map to concrete memory accesses
Examples:
  Run the full pipeline: sandboxer run --config=config.yaml main.go
  Summarize one unit: sandboxer summarize --config=config.yaml --unit mylib ./...`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "error: expected subcommand\n%s\n", usage)
		os.Exit(2)
	}

	// hardcode help flag
	if snd := os.Args[1]; snd == "-help" || snd == "--help" {
		fmt.Println(usage)
		return
	}

	// hardcode version flag
	if snd := os.Args[1]; snd == "-version" || snd == "--version" {
		fmt.Println(analysis.Version)
		return
	}

	args := os.Args[2:]
	switch cmd := os.Args[1]; cmd {
	case "run":
		flags, err := tools.NewCommonFlags("run", args, run.Usage)
		if err != nil {
			errExit(err)
		}
		if err := run.Run(flags); err != nil {
			errExit(err)
		}
	case "summarize":
		flags, err := unit.NewFlags(args)
		if err != nil {
			errExit(err)
		}
		if err := unit.Run(flags); err != nil {
			errExit(err)
		}
	case "wpa":
		flags, err := global.NewFlags(args)
		if err != nil {
			errExit(err)
		}
		if err := global.Run(flags); err != nil {
			errExit(err)
		}
	case "accesses":
		flags, err := tools.NewCommonFlags("accesses", args, accesses.Usage)
		if err != nil {
			errExit(err)
		}
		if err := accesses.Run(flags); err != nil {
			errExit(err)
		}
	default:
		fmt.Fprintf(os.Stderr, "error: unexpected command: %v\n", cmd)
		fmt.Fprintf(os.Stderr, "usage:\n%s\n", usage)
	}
}

func errExit(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(2)
}
