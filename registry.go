// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package bitserializer

import (
	"fmt"
	"reflect"
	"sync"
)

// ============================================================================
// Variant registry - discriminator value -> concrete type, per interface
// ============================================================================

// variantEntry is one registered discriminator mapping, pre-layout-build.
// The layout builder snapshots these into PolyInfo with resolved layouts.
type variantEntry struct {
	discriminator uint64
	concrete      reflect.Type
}

type variantRegistry struct {
	mu sync.RWMutex
	m  map[reflect.Type][]variantEntry // interface type -> ordered mappings
}

var variants = &variantRegistry{m: make(map[reflect.Type][]variantEntry)}

func (r *variantRegistry) add(iface, concrete reflect.Type, discriminator uint64) error {
	if iface.Kind() != reflect.Interface {
		return fmt.Errorf("bitserializer: variant target %s is not an interface", iface)
	}
	if concrete.Kind() != reflect.Struct {
		return fmt.Errorf("bitserializer: variant %s is not a struct", concrete)
	}
	if !concrete.Implements(iface) && !reflect.PointerTo(concrete).Implements(iface) {
		return fmt.Errorf("bitserializer: %s does not implement %s", concrete, iface)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.m[iface] {
		if e.discriminator == discriminator {
			return fmt.Errorf("bitserializer: discriminator %d already registered for %s as %s",
				discriminator, iface, e.concrete)
		}
		if e.concrete == concrete {
			return fmt.Errorf("bitserializer: %s already registered for %s under discriminator %d",
				concrete, iface, e.discriminator)
		}
	}
	r.m[iface] = append(r.m[iface], variantEntry{discriminator: discriminator, concrete: concrete})
	return nil
}

// snapshot returns the current ordered mappings for an interface type. The
// returned slice is a copy; later registrations do not affect layouts that
// were already built.
func (r *variantRegistry) snapshot(iface reflect.Type) []variantEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.m[iface]
	out := make([]variantEntry, len(entries))
	copy(out, entries)
	return out
}

// RegisterVariant maps a discriminator value to concrete type V for
// polymorphic fields of interface type I. Mappings must be registered before
// the first layout build of any type containing such a field; the mapping is
// snapshotted into the layout at build time.
func RegisterVariant[I any, V any](discriminator uint64) error {
	iface := reflect.TypeOf((*I)(nil)).Elem()
	concrete := reflect.TypeOf((*V)(nil)).Elem()
	return variants.add(iface, concrete, discriminator)
}

// ============================================================================
// Converter registry
// ============================================================================

type converterRegistry struct {
	mu sync.RWMutex
	m  map[string]Converter
}

var converters = &converterRegistry{m: make(map[string]Converter)}

// RegisterConverter registers a named converter for use in `conv=name` tag
// options. Registering an existing name replaces it; layouts already built
// keep the converter they resolved.
func RegisterConverter(name string, c Converter) error {
	if name == "" {
		return fmt.Errorf("%w: empty converter name", ErrInvalidConverter)
	}
	if c == nil {
		return fmt.Errorf("%w: nil converter %q", ErrInvalidConverter, name)
	}
	converters.mu.Lock()
	defer converters.mu.Unlock()
	converters.m[name] = c
	return nil
}

func (r *converterRegistry) lookup(name string) (Converter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.m[name]
	return c, ok
}

// ============================================================================
// Layout cache - the outer type-identity -> codec boundary
// ============================================================================

// layoutEntry caches the build result, error included, so repeated first-use
// of a bad type fails consistently without rebuilding.
type layoutEntry struct {
	layout *TypeLayout
	err    error
}

// layoutCache is populated build-then-LoadOrStore: duplicate builds under
// concurrent first use are harmless and exactly one result wins.
var layoutCache sync.Map // reflect.Type -> *layoutEntry

// layoutFor returns the cached layout for a struct type, building it on
// first use.
func layoutFor(t reflect.Type) (*TypeLayout, error) {
	if e, ok := layoutCache.Load(t); ok {
		entry := e.(*layoutEntry)
		return entry.layout, entry.err
	}
	layout, err := buildLayout(t, make(map[reflect.Type]bool))
	actual, _ := layoutCache.LoadOrStore(t, &layoutEntry{layout: layout, err: err})
	entry := actual.(*layoutEntry)
	return entry.layout, entry.err
}

// resetLayoutCache drops all cached layouts. Not part of the public
// contract; used by tests that re-register variants.
func resetLayoutCache() {
	layoutCache.Range(func(k, _ any) bool {
		layoutCache.Delete(k)
		return true
	})
}
