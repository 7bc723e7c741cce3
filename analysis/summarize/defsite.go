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

package summarize

import (
	"fmt"

	"github.com/awslabs/ar-sandbox-tools/analysis/config"
	"github.com/awslabs/ar-sandbox-tools/analysis/ir"
)

// DefSiteKind discriminates where a value may have originated.
type DefSiteKind uint8

// The def-site kinds. The three-way call split is load-bearing: HeapAlloc is
// a terminal finding, NativeCall is an analysis dead end, OtherCall requires
// recursive resolution through the callee's summary.
const (
	// DefHeapAlloc is a call to a recognized heap-allocating constructor.
	DefHeapAlloc DefSiteKind = iota
	// DefNativeCall is a call into a native library, opaque to the
	// analysis. Native call sites terminate a search and are never
	// persisted into any result set.
	DefNativeCall
	// DefOtherCall is a call to an analyzable function.
	DefOtherCall
	// DefArg is a formal parameter of the enclosing function.
	DefArg
)

// A DefSite is the definition site of a value: one of the call kinds located
// at a basic-block index (calls always terminate their block), or a formal
// parameter located by its 0-based position.
type DefSite struct {
	Kind DefSiteKind
	// Site is the call's block index, or the 0-based parameter position for
	// DefArg.
	Site int
}

// HeapAllocAt returns the def site of a heap allocation at block bb.
func HeapAllocAt(bb int) DefSite { return DefSite{Kind: DefHeapAlloc, Site: bb} }

// NativeCallAt returns the def site of a native-library call at block bb.
func NativeCallAt(bb int) DefSite { return DefSite{Kind: DefNativeCall, Site: bb} }

// OtherCallAt returns the def site of an analyzable call at block bb.
func OtherCallAt(bb int) DefSite { return DefSite{Kind: DefOtherCall, Site: bb} }

// ArgAt returns the def site of the formal parameter at 0-based position pos.
func ArgAt(pos int) DefSite { return DefSite{Kind: DefArg, Site: pos} }

// IsCall returns true for the three call-located kinds.
func (d DefSite) IsCall() bool {
	return d.Kind != DefArg
}

func (d DefSite) String() string {
	switch d.Kind {
	case DefHeapAlloc:
		return fmt.Sprintf("heap@bb%d", d.Site)
	case DefNativeCall:
		return fmt.Sprintf("native@bb%d", d.Site)
	case DefOtherCall:
		return fmt.Sprintf("call@bb%d", d.Site)
	default:
		return fmt.Sprintf("arg%d", d.Site)
	}
}

var defKindLetters = [...]byte{'h', 'n', 'o', 'a'}

// MarshalText encodes the def site as a short kind:site token so that it can
// key maps in persisted artifacts.
func (d DefSite) MarshalText() ([]byte, error) {
	if int(d.Kind) >= len(defKindLetters) {
		return nil, fmt.Errorf("unknown def-site kind %d", d.Kind)
	}
	return []byte(fmt.Sprintf("%c:%d", defKindLetters[d.Kind], d.Site)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DefSite) UnmarshalText(text []byte) error {
	if len(text) < 3 || text[1] != ':' {
		return fmt.Errorf("malformed def site %q", string(text))
	}
	var site int
	if _, err := fmt.Sscanf(string(text[2:]), "%d", &site); err != nil {
		return fmt.Errorf("malformed def site %q: %w", string(text), err)
	}
	for k, c := range defKindLetters {
		if c == text[0] {
			d.Kind = DefSiteKind(k)
			d.Site = site
			return nil
		}
	}
	return fmt.Errorf("unknown def-site kind %q", text[0])
}

// DefSiteSet is a growable set of def sites.
type DefSiteSet map[DefSite]bool

// NewDefSiteSet returns a set holding the given sites.
func NewDefSiteSet(sites ...DefSite) DefSiteSet {
	s := DefSiteSet{}
	for _, d := range sites {
		s[d] = true
	}
	return s
}

// Add inserts d into the set.
func (s DefSiteSet) Add(d DefSite) {
	s[d] = true
}

// Contains returns true when d is in the set.
func (s DefSiteSet) Contains(d DefSite) bool {
	return s[d]
}

// Classify classifies one call candidate at block bb. If the callee's owning
// module is a native library and its bare name is an allocator name, the call
// is a heap allocation; a native module without an allocator name is an
// opaque native call; everything else, including unrecognized names, is an
// analyzable call.
func Classify(cfg *config.Config, callee ir.Callee, bb int) DefSite {
	if cfg.IsNativeModule(callee.Module) {
		if cfg.IsAllocatorName(callee.Name) {
			return HeapAllocAt(bb)
		}
		return NativeCallAt(bb)
	}
	return OtherCallAt(bb)
}
