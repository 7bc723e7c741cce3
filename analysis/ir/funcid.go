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

package ir

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// FuncID is the stable, content-addressed identity of a function. It does not
// depend on any per-compilation index, so identities computed by independent
// compilation units for the same function agree and their artifacts can be
// joined without collision.
type FuncID struct {
	H0 uint64
	H1 uint64
}

// HashID computes the FuncID for the function with the given owning module
// and fully qualified name.
func HashID(module string, name string) FuncID {
	h := sha256.Sum256([]byte(module + "::" + name))
	return FuncID{
		H0: binary.BigEndian.Uint64(h[0:8]),
		H1: binary.BigEndian.Uint64(h[8:16]),
	}
}

// IsZero returns true for the zero FuncID, which never names a real function.
func (id FuncID) IsZero() bool {
	return id.H0 == 0 && id.H1 == 0
}

func (id FuncID) String() string {
	return fmt.Sprintf("%016x%016x", id.H0, id.H1)
}

// MarshalText implements encoding.TextMarshaler so that FuncID can be used
// as a map key in persisted artifacts.
func (id FuncID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *FuncID) UnmarshalText(text []byte) error {
	if len(text) != 32 {
		return fmt.Errorf("malformed function id %q", string(text))
	}
	var h0, h1 uint64
	if _, err := fmt.Sscanf(string(text), "%016x%016x", &h0, &h1); err != nil {
		return fmt.Errorf("malformed function id %q: %w", string(text), err)
	}
	id.H0, id.H1 = h0, h1
	return nil
}
