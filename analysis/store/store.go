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

// Package store persists per-unit summary artifacts between analysis
// sessions. Each compilation unit writes one JSON file of its function
// summaries; the final unit writes a manifest naming how many unit files the
// whole-program phase must observe. Reading checks the manifest count against
// the files actually present, which turns a missed dependency into a hard
// error instead of a silent under-approximation.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/awslabs/ar-sandbox-tools/analysis/config"
	"github.com/awslabs/ar-sandbox-tools/analysis/ir"
	"github.com/awslabs/ar-sandbox-tools/analysis/summarize"
	"github.com/awslabs/ar-sandbox-tools/analysis/wpa"
)

const (
	unitSuffix    = ".summaries.json"
	manifestName  = "manifest.json"
	wholeProgName = "unsafe-allocs.json"
)

// A Store reads and writes analysis artifacts under one session directory.
type Store struct {
	dir string
	log *config.LogGroup
}

// manifest is the barrier record the final compilation unit writes.
type manifest struct {
	Units int `json:"units"`
}

// Open returns a store rooted at the configured summary directory, creating
// it if needed.
func Open(cfg *config.Config, log *config.LogGroup) (*Store, error) {
	dir := cfg.SummaryDir
	if dir == "" {
		return nil, fmt.Errorf("no summary directory configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating summary directory %s: %w", dir, err)
	}
	return &Store{dir: dir, log: log}, nil
}

// Dir returns the session directory of the store.
func (s *Store) Dir() string {
	return s.dir
}

// WriteUnit persists the summaries of one compilation unit. The unit name is
// the caller's stable identifier for the unit, typically its crate or package
// name.
func (s *Store) WriteUnit(unit string, sums map[ir.FuncID]*summarize.Summary) error {
	path := filepath.Join(s.dir, sanitize(unit)+unitSuffix)
	if err := writeJSON(path, sums); err != nil {
		return err
	}
	s.log.Debugf("wrote %d summaries for unit %q to %s", len(sums), unit, path)
	return nil
}

// WriteManifest records that n unit files form the complete program. The
// build system calls this from the final unit, after all dependency units
// have written theirs.
func (s *Store) WriteManifest(n int) error {
	return writeJSON(filepath.Join(s.dir, manifestName), manifest{Units: n})
}

// ReadAll loads every unit file in the session directory and joins the
// summaries into one table. The manifest must be present and its unit count
// must match the files found; a mismatch means a dependency unit was not
// summarized and the whole-program result would be unsound.
func (s *Store) ReadAll() (map[ir.FuncID]*summarize.Summary, error) {
	var m manifest
	if err := readJSON(filepath.Join(s.dir, manifestName), &m); err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.dir, err)
	}
	joined := map[ir.FuncID]*summarize.Summary{}
	units := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), unitSuffix) {
			continue
		}
		units++
		var sums map[ir.FuncID]*summarize.Summary
		path := filepath.Join(s.dir, e.Name())
		if err := readJSON(path, &sums); err != nil {
			return nil, err
		}
		for id, sum := range sums {
			if prev, dup := joined[id]; dup {
				// Identical instantiations across units carry the same
				// summary; anything else is an identity collision.
				s.log.Warnf("summary for %s appears in multiple units (%s and %s)",
					id, prev, sum)
			}
			joined[id] = sum
		}
	}
	if units != m.Units {
		return nil, fmt.Errorf("manifest expects %d unit files, found %d in %s",
			m.Units, units, s.dir)
	}
	s.log.Infof("loaded %d summaries from %d units", len(joined), units)
	return joined, nil
}

// WriteWholeProgram persists the whole-program unsafe-allocation map.
func (s *Store) WriteWholeProgram(res wpa.Result) error {
	return writeJSON(filepath.Join(s.dir, wholeProgName), res)
}

// ReadWholeProgram loads the whole-program unsafe-allocation map written by
// an earlier whole-program run.
func (s *Store) ReadWholeProgram() (wpa.Result, error) {
	var res wpa.Result
	if err := readJSON(filepath.Join(s.dir, wholeProgName), &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Cleanup removes the unit artifacts and the manifest from the session
// directory. The whole-program map stays in place; a later accesses run
// consumes it.
func (s *Store) Cleanup() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("listing %s: %w", s.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if e.Name() != manifestName && !strings.HasSuffix(e.Name(), unitSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			return fmt.Errorf("removing %s: %w", e.Name(), err)
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// sanitize maps a unit name onto a safe file-name stem.
func sanitize(unit string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '-'
		}
		return r
	}, unit)
}
