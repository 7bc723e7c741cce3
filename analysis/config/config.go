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

package config

import (
	"fmt"
	"os"
	"path"
	"runtime"

	"gopkg.in/yaml.v3"
)

var (
	// The global config file
	configFile string
)

// SetGlobalConfig sets the global config filename
func SetGlobalConfig(filename string) {
	configFile = filename
}

// LoadGlobal loads the config file that has been set by SetGlobalConfig
func LoadGlobal() (*Config, error) {
	return Load(configFile)
}

// Config contains the name tables that drive def-site classification, plus
// the general analysis options.
// If some field is not defined in the config file, it will be empty/zero in
// the struct and the built-in default table is used instead.
// private fields are not populated from a yaml file, but computed after
// initialization.
type Config struct {
	Options `yaml:",inline"`

	sourceFile string

	// AllocatorNames is the list of bare function names recognized as
	// heap-allocating constructors. A name only counts when the owning
	// module is also a native module, so that a user-defined `new` is not
	// mistaken for an allocator.
	AllocatorNames []string `yaml:"allocator-names"`

	// NativeModules is the list of module/crate identifiers treated as
	// opaque standard or runtime libraries. Calls into these modules are
	// never analyzed further.
	NativeModules []string `yaml:"native-modules"`

	// IgnoreModules lists modules whose functions are skipped entirely
	// during summarization (build-script style units).
	IgnoreModules []string `yaml:"ignore-modules"`

	allocIndex  map[string]bool
	nativeIndex map[string]bool
	ignoreIndex map[string]bool
}

// Options are the non-table settings of the analysis.
type Options struct {
	// SummaryDir is the directory where per-unit summary artifacts and the
	// whole-program map are stored. Empty means in-memory operation only.
	SummaryDir string `yaml:"summary-dir"`

	// NumRoutines is the number of goroutines used for the per-function
	// summarization phase. Zero or negative means one per CPU.
	NumRoutines int `yaml:"num-routines"`

	// LogLevel controls the verbosity of the tool
	LogLevel int `yaml:"log-level"`

	// MaxFixpointSteps bounds the number of worklist iterations of each
	// whole-program fixpoint. Zero means the default bound, which is the
	// number of (function, def-site) pairs in the program.
	MaxFixpointSteps int `yaml:"max-fixpoint-steps"`

	// ReportAccesses writes the per-function unsafe access report to a file
	// in SummaryDir in addition to logging it.
	ReportAccesses bool `yaml:"report-accesses"`
}

// DefaultAllocatorNames are the heap-allocating constructor names consulted
// when no allocator-names list is configured.
var DefaultAllocatorNames = []string{
	"new",
	"new_in",
	"with_capacity",
	"with_capacity_in",
	"new_uninit",
	"new_zeroed",
	"pin",
	"try_new",
	"try_new_uninit",
	"try_new_zeroed",
	"from_raw_parts",
	"from_raw_parts_in",
	"exchange_malloc",
	// Go runtime entry points, used by the gossa frontend.
	"newobject",
	"makeslice",
	"makemap",
	"makechan",
}

// DefaultNativeModules are the module identifiers treated as native libraries
// when no native-modules list is configured.
var DefaultNativeModules = []string{
	"std", "core", "alloc", "proc_macro", "test",
	"panic_unwind", "panic_abort", "unwind", "libc", "compiler_builtins",
	// The Go runtime, used by the gossa frontend.
	"runtime",
}

// DefaultIgnoreModules are skipped during summarization by default.
var DefaultIgnoreModules = []string{
	"build_script_build",
	"build_script_main",
}

// NewDefault returns a config with the built-in tables and default options.
func NewDefault() *Config {
	c := &Config{
		sourceFile:     "",
		AllocatorNames: DefaultAllocatorNames,
		NativeModules:  DefaultNativeModules,
		IgnoreModules:  DefaultIgnoreModules,
		Options: Options{
			SummaryDir:       "",
			NumRoutines:      runtime.NumCPU(),
			LogLevel:         int(InfoLevel),
			MaxFixpointSteps: 0,
			ReportAccesses:   false,
		},
	}
	c.buildIndexes()
	return c
}

// Load reads a configuration from a yaml file.
func Load(filename string) (*Config, error) {
	cfg := NewDefault()
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("could not unmarshal config file %s: %w", filename, err)
	}

	cfg.sourceFile = filename

	// If log-level has not been specified (i.e. it is 0) set the default to Info
	if cfg.LogLevel == 0 {
		cfg.LogLevel = int(InfoLevel)
	}
	if cfg.NumRoutines <= 0 {
		cfg.NumRoutines = runtime.NumCPU()
	}
	if len(cfg.AllocatorNames) == 0 {
		cfg.AllocatorNames = DefaultAllocatorNames
	}
	if len(cfg.NativeModules) == 0 {
		cfg.NativeModules = DefaultNativeModules
	}

	cfg.buildIndexes()
	return cfg, nil
}

func (c *Config) buildIndexes() {
	c.allocIndex = indexNames(c.AllocatorNames)
	c.nativeIndex = indexNames(c.NativeModules)
	c.ignoreIndex = indexNames(c.IgnoreModules)
}

func indexNames(names []string) map[string]bool {
	idx := make(map[string]bool, len(names))
	for _, n := range names {
		idx[n] = true
	}
	return idx
}

// RelPath returns filename path relative to the config source file
func (c Config) RelPath(filename string) string {
	return path.Join(path.Dir(c.sourceFile), filename)
}

// IsAllocatorName returns true if name is a recognized heap-allocating
// constructor name. The caller is responsible for also checking the owning
// module with IsNativeModule; the name table alone is not a classification.
func (c Config) IsAllocatorName(name string) bool {
	return c.allocIndex[name]
}

// IsNativeModule returns true if module is a native/builtin library
// identifier not subject to analysis.
func (c Config) IsNativeModule(module string) bool {
	return c.nativeIndex[module]
}

// IsIgnoredModule returns true if functions from module should be skipped
// during summarization.
func (c Config) IsIgnoredModule(module string) bool {
	return c.ignoreIndex[module]
}

// Verbose returns true if the configuration verbosity setting is larger than
// Info (i.e. Debug or Trace)
func (c Config) Verbose() bool {
	return c.LogLevel >= int(DebugLevel)
}
