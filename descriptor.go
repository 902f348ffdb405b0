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
	"reflect"
	"strconv"
	"strings"

	"github.com/spaolacci/murmur3"
)

// FieldKind classifies how a field participates in the bit layout.
type FieldKind uint8

const (
	// KindPrimitive is a built-in bool, integer or float field.
	KindPrimitive FieldKind = iota
	// KindEnum is a named integer type; its underlying width is the default.
	KindEnum
	// KindNested is an inner struct encoded with its own layout.
	KindNested
	// KindList is a slice or array with fixed or count-field cardinality.
	KindList
	// KindPolymorphic is an interface field whose occupant is selected by a
	// discriminator field and encoded into a slot sized to the largest variant.
	KindPolymorphic
	// KindGenericSlot is a field that encodes through the Serializable
	// capability; its width is known only at traversal time.
	KindGenericSlot
)

func (k FieldKind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindEnum:
		return "enum"
	case KindNested:
		return "nested"
	case KindList:
		return "list"
	case KindPolymorphic:
		return "polymorphic"
	case KindGenericSlot:
		return "generic"
	default:
		return "unknown"
	}
}

// ListInfo describes the cardinality and element encoding of a list field.
// Exactly one of FixedCount >= 0 or CountField != "" is set.
type ListInfo struct {
	ElemKind   FieldKind // KindPrimitive, KindEnum or KindNested
	ElemBits   uint64
	ElemType   reflect.Type
	ElemLayout *TypeLayout // non-nil only for KindNested elements

	FixedCount      int    // -1 when the count comes from a field
	CountField      string // "" when the count is fixed
	CountFieldIndex int    // struct field index of the count field, -1 when fixed

	IsArray bool // [N]T rather than []T; a representational choice only
}

// Variant maps one discriminator value to a concrete record type.
type Variant struct {
	Discriminator uint64
	Type          reflect.Type
	Layout        *TypeLayout
}

// PolyInfo describes a polymorphic slot: the discriminator relation and the
// closed, ordered variant mapping snapshotted at layout-build time.
type PolyInfo struct {
	DiscriminatorField string
	DiscriminatorIndex int // struct field index of the discriminator
	Variants           []Variant
	SlotBits           uint64
}

// FieldDescriptor is the per-field layout plan, one per declared field in
// declaration order.
type FieldDescriptor struct {
	Name string
	Kind FieldKind
	Type reflect.Type

	// FieldIndex is the reflect field index within the declaring struct.
	FieldIndex int

	// BitLength is the field's statically known width: the declared or
	// natural width for primitives and enums, the recursive total for nested
	// structs, count*elemBits for fixed lists, and the slot width for
	// polymorphic fields. Zero for dynamic-count lists and generic slots.
	BitLength uint64

	// StaticOffset is the field's bit offset at build time. It is the
	// effective offset only while no dynamic-length field precedes the field
	// (AfterDynamic false); past the dynamic tail it is meaningful only as a
	// delta base relative to the runtime cursor.
	StaticOffset uint64

	// AfterDynamic marks fields whose effective offset depends on a runtime
	// cursor because some earlier field has no static length.
	AfterDynamic bool

	// Dynamic marks fields that themselves contribute no static length:
	// dynamic-count lists, generic slots, and nested layouts with a dynamic
	// tail of their own.
	Dynamic bool

	Nested *TypeLayout // KindNested
	List   *ListInfo   // KindList
	Poly   *PolyInfo   // KindPolymorphic

	// Converter, when non-nil, transforms the raw wire value of a primitive
	// or enum field to and from its logical in-memory value.
	Converter     Converter
	ConverterName string
}

// TypeLayout is the ordered, immutable bit-layout plan derived once per
// record type and cached for the process lifetime. Safe to share across
// goroutines without locking.
type TypeLayout struct {
	Type   reflect.Type
	Fields []FieldDescriptor

	// TotalStaticBits is the layout's total width assuming no runtime
	// dynamic expansion: exact when HasDynamicTail is false, otherwise a
	// lower bound.
	TotalStaticBits uint64

	// HasDynamicTail is true once any dynamic-count list or generic slot
	// exists in the layout, directly or through a nested layout.
	HasDynamicTail bool

	// Base is the layout of an embedded base record whose fields form a
	// fixed prefix of this layout. BaseFieldIndex is the reflect index of
	// the embedded field, -1 when there is no base.
	Base           *TypeLayout
	BaseFieldIndex int

	// Fingerprint is a stable hash of the layout shape (names, kinds,
	// widths), usable as a cheap cross-process compatibility check. It is
	// never written to the wire.
	Fingerprint uint64

	fieldByIndex map[int]int // struct field index -> Fields position
}

// fingerprintSeed is fixed so fingerprints are comparable across processes.
const fingerprintSeed = 47

// computeFingerprint hashes the layout shape with murmur3. Called once at
// build time, after all descriptors are final.
func (l *TypeLayout) computeFingerprint() uint64 {
	var sb strings.Builder
	if l.Base != nil {
		sb.WriteString("base=")
		sb.WriteString(strconv.FormatUint(l.Base.Fingerprint, 16))
		sb.WriteString(";")
	}
	for i := range l.Fields {
		f := &l.Fields[i]
		sb.WriteString(f.Name)
		sb.WriteString(",")
		sb.WriteString(f.Kind.String())
		sb.WriteString(",")
		sb.WriteString(strconv.FormatUint(f.BitLength, 10))
		if f.Kind == KindNested && f.Nested != nil {
			sb.WriteString(",")
			sb.WriteString(strconv.FormatUint(f.Nested.Fingerprint, 16))
		}
		if f.List != nil {
			sb.WriteString(",elem=")
			sb.WriteString(strconv.FormatUint(f.List.ElemBits, 10))
			if f.List.FixedCount >= 0 {
				sb.WriteString(",count=")
				sb.WriteString(strconv.Itoa(f.List.FixedCount))
			} else {
				sb.WriteString(",countfield=")
				sb.WriteString(f.List.CountField)
			}
		}
		if f.Poly != nil {
			sb.WriteString(",switch=")
			sb.WriteString(f.Poly.DiscriminatorField)
			sb.WriteString(",slot=")
			sb.WriteString(strconv.FormatUint(f.Poly.SlotBits, 10))
		}
		if f.ConverterName != "" {
			sb.WriteString(",conv=")
			sb.WriteString(f.ConverterName)
		}
		sb.WriteString(";")
	}
	h1, _ := murmur3.Sum128WithSeed([]byte(sb.String()), fingerprintSeed)
	return h1
}

// DescriptorAt returns the descriptor covering the given struct field index,
// or nil when the field is not part of the layout (unexported, ignored, or
// the embedded base).
func (l *TypeLayout) DescriptorAt(fieldIndex int) *FieldDescriptor {
	pos, ok := l.fieldByIndex[fieldIndex]
	if !ok {
		return nil
	}
	return &l.Fields[pos]
}
