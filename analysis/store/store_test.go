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

package store

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/awslabs/ar-sandbox-tools/analysis/config"
	"github.com/awslabs/ar-sandbox-tools/analysis/ir"
	"github.com/awslabs/ar-sandbox-tools/analysis/summarize"
	"github.com/awslabs/ar-sandbox-tools/analysis/wpa"
)

func testStore(t *testing.T) (*Store, *config.Config, *config.LogGroup) {
	t.Helper()
	cfg := config.NewDefault()
	cfg.LogLevel = int(config.ErrLevel)
	cfg.SummaryDir = t.TempDir()
	log := config.NewLogGroup(cfg)
	log.SetAllOutput(io.Discard)
	st, err := Open(cfg, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return st, cfg, log
}

func sampleSummaries() map[ir.FuncID]*summarize.Summary {
	fID := ir.HashID("app", "f")
	gID := ir.HashID("app", "g")
	fSum := &summarize.Summary{
		ID:        fID,
		Name:      "f",
		Module:    "app",
		NumParams: 1,
		Calls: []*summarize.CallRecord{{
			Site:         1,
			Callee:       gID,
			CalleeName:   "g",
			CalleeModule: "app",
			ArgDefs:      []summarize.DefSiteSet{{summarize.HeapAllocAt(0): true}},
		}},
		Ret: summarize.RetDefs{Other: summarize.DefSiteSet{}, Args: []summarize.DefSite{summarize.ArgAt(0)}},
	}
	gSum := &summarize.Summary{
		ID:         gID,
		Name:       "g",
		Module:     "app",
		NumParams:  1,
		Ret:        summarize.RetDefs{Other: summarize.DefSiteSet{summarize.HeapAllocAt(2): true}},
		UnsafeDefs: summarize.DefSiteSet{summarize.ArgAt(0): true},
	}
	return map[ir.FuncID]*summarize.Summary{fID: fSum, gID: gSum}
}

func TestUnitRoundtrip(t *testing.T) {
	st, _, _ := testStore(t)
	want := sampleSummaries()
	if err := st.WriteUnit("app", want); err != nil {
		t.Fatalf("write unit: %v", err)
	}
	if err := st.WriteManifest(1); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	got, err := st.ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d summaries, got %d", len(want), len(got))
	}
	for id, w := range want {
		g, ok := got[id]
		if !ok {
			t.Fatalf("summary for %s missing", id)
		}
		if g.Name != w.Name || g.NumParams != w.NumParams {
			t.Errorf("%s: header changed: %+v", id, g)
		}
		if len(g.Calls) != len(w.Calls) {
			t.Errorf("%s: expected %d call records, got %d", id, len(w.Calls), len(g.Calls))
			continue
		}
		for i, rec := range w.Calls {
			gr := g.Calls[i]
			if gr.Site != rec.Site || gr.Callee != rec.Callee {
				t.Errorf("%s: record %d changed: %+v", id, i, gr)
			}
			for pos, set := range rec.ArgDefs {
				for d := range set {
					if !gr.ArgDefs[pos].Contains(d) {
						t.Errorf("%s: record %d lost %s at position %d", id, i, d, pos)
					}
				}
			}
		}
		for d := range w.UnsafeDefs {
			if !g.UnsafeDefs.Contains(d) {
				t.Errorf("%s: lost unsafe def %s", id, d)
			}
		}
		for d := range w.Ret.Other {
			if !g.Ret.Other.Contains(d) {
				t.Errorf("%s: lost return contributor %s", id, d)
			}
		}
		if len(g.Ret.Args) != len(w.Ret.Args) {
			t.Errorf("%s: return arguments changed: %v", id, g.Ret.Args)
		}
	}
}

func TestManifestMismatch(t *testing.T) {
	st, _, _ := testStore(t)
	if err := st.WriteUnit("app", sampleSummaries()); err != nil {
		t.Fatalf("write unit: %v", err)
	}
	if err := st.WriteManifest(2); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if _, err := st.ReadAll(); err == nil {
		t.Errorf("expected a unit-count mismatch error")
	}
}

func TestMissingManifest(t *testing.T) {
	st, _, _ := testStore(t)
	if err := st.WriteUnit("app", sampleSummaries()); err != nil {
		t.Fatalf("write unit: %v", err)
	}
	if _, err := st.ReadAll(); err == nil {
		t.Errorf("expected an error when the manifest is absent")
	}
}

func TestWholeProgramRoundtrip(t *testing.T) {
	st, _, _ := testStore(t)
	want := wpa.Result{}
	want.Add(ir.HashID("app", "f"), summarize.HeapAllocAt(0))
	want.Add(ir.HashID("app", "g"), summarize.ArgAt(0))
	want.Add(ir.HashID("app", "g"), summarize.OtherCallAt(3))
	if err := st.WriteWholeProgram(want); err != nil {
		t.Fatalf("write whole program: %v", err)
	}
	got, err := st.ReadWholeProgram()
	if err != nil {
		t.Fatalf("read whole program: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for id, set := range want {
		for d := range set {
			if !got.Contains(id, d) {
				t.Errorf("lost %s for %s", d, id)
			}
		}
	}
}

func TestUnitNameSanitized(t *testing.T) {
	st, cfg, _ := testStore(t)
	if err := st.WriteUnit("lib/sub unit", sampleSummaries()); err != nil {
		t.Fatalf("write unit: %v", err)
	}
	entries, err := os.ReadDir(cfg.SummaryDir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one unit file, got %d", len(entries))
	}
	if name := entries[0].Name(); name != "lib-sub-unit.summaries.json" {
		t.Errorf("unexpected unit file name %q", name)
	}
}

func TestCleanup(t *testing.T) {
	st, cfg, _ := testStore(t)
	if err := st.WriteUnit("app", sampleSummaries()); err != nil {
		t.Fatalf("write unit: %v", err)
	}
	if err := st.WriteManifest(1); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	want := wpa.Result{}
	want.Add(ir.HashID("app", "f"), summarize.HeapAllocAt(0))
	if err := st.WriteWholeProgram(want); err != nil {
		t.Fatalf("write whole program: %v", err)
	}

	if err := st.Cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.SummaryDir, "app"+unitSuffix)); !os.IsNotExist(err) {
		t.Errorf("unit file should be gone, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.SummaryDir, manifestName)); !os.IsNotExist(err) {
		t.Errorf("manifest should be gone, stat err = %v", err)
	}

	// The map a later accesses process consumes survives the cleanup.
	got, err := st.ReadWholeProgram()
	if err != nil {
		t.Fatalf("read whole program after cleanup: %v", err)
	}
	if !got.Contains(ir.HashID("app", "f"), summarize.HeapAllocAt(0)) {
		t.Errorf("whole-program map lost its entry: %v", got)
	}
}
