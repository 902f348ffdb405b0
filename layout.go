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
)

// naturalBits returns the default bit width of a primitive or enum kind,
// zero when the kind has none.
func naturalBits(k reflect.Kind) uint64 {
	switch k {
	case reflect.Bool, reflect.Int8, reflect.Uint8:
		return 8
	case reflect.Int16, reflect.Uint16:
		return 16
	case reflect.Int32, reflect.Uint32, reflect.Float32:
		return 32
	case reflect.Int64, reflect.Uint64, reflect.Int, reflect.Uint, reflect.Float64:
		return 64
	default:
		return 0
	}
}

func isIntegerKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	default:
		return false
	}
}

func isFloatKind(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

// isEnumType reports whether t is a user-defined integer type. Enums in Go
// are named integer types; the underlying width is their default.
func isEnumType(t reflect.Type) bool {
	return t.PkgPath() != "" && isIntegerKind(t.Kind())
}

// implementsSerializable reports whether t, or a pointer to t, carries the
// Serializable capability.
func implementsSerializable(t reflect.Type) bool {
	if t.Kind() == reflect.Interface {
		return false
	}
	return t.Implements(serializableType) || reflect.PointerTo(t).Implements(serializableType)
}

// nestedLayout fetches or builds the layout of an inner type, sharing the
// process-wide cache. building guards against recursive types, which cannot
// have a finite bit layout.
func nestedLayout(t reflect.Type, building map[reflect.Type]bool) (*TypeLayout, error) {
	if e, ok := layoutCache.Load(t); ok {
		entry := e.(*layoutEntry)
		return entry.layout, entry.err
	}
	if building[t] {
		return nil, fmt.Errorf("%w: recursive type %s has no finite bit layout", ErrUnsupportedFieldType, t)
	}
	layout, err := buildLayout(t, building)
	actual, _ := layoutCache.LoadOrStore(t, &layoutEntry{layout: layout, err: err})
	entry := actual.(*layoutEntry)
	return entry.layout, entry.err
}

// relatedFieldIndex resolves a count or discriminator field named in a tag.
// The related field must exist on the same struct, be integral, and precede
// the referring field so deserialization has its value available.
func relatedFieldIndex(t reflect.Type, name string, before int) (int, error) {
	sf, ok := t.FieldByName(name)
	if !ok || len(sf.Index) != 1 {
		return 0, fmt.Errorf("%w: %s has no field %q", ErrRelatedFieldNotFound, t, name)
	}
	idx := sf.Index[0]
	if idx >= before {
		return 0, fmt.Errorf("%w: field %q must precede the field that references it", ErrRelatedFieldNotFound, name)
	}
	if !isIntegerKind(sf.Type.Kind()) {
		return 0, fmt.Errorf("%w: related field %q is not an integer", ErrUnsupportedFieldType, name)
	}
	return idx, nil
}

// buildLayout derives the ordered field descriptor list for a struct type in
// a single pass over its fields in declaration order, carrying a running bit
// cursor. The cursor is seeded from the base layout's total when the first
// field is an embedded struct.
func buildLayout(t reflect.Type, building map[reflect.Type]bool) (*TypeLayout, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a struct", ErrUnsupportedFieldType, t)
	}
	building[t] = true
	defer delete(building, t)

	layout := &TypeLayout{
		Type:           t,
		BaseFieldIndex: -1,
		fieldByIndex:   make(map[int]int),
	}
	var cursor uint64
	afterDynamic := false

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)

		// An embedded struct in the leading position is a base layout: its
		// fields form a fixed prefix and the cursor starts past them.
		if i == 0 && sf.Anonymous && sf.IsExported() && sf.Type.Kind() == reflect.Struct &&
			sf.Tag.Get(tagKey) != "-" && !implementsSerializable(sf.Type) {
			base, err := nestedLayout(sf.Type, building)
			if err != nil {
				return nil, fmt.Errorf("base layout of %s: %w", t, err)
			}
			layout.Base = base
			layout.BaseFieldIndex = 0
			cursor = base.TotalStaticBits
			if base.HasDynamicTail {
				afterDynamic = true
				layout.HasDynamicTail = true
			}
			continue
		}
		if !sf.IsExported() {
			continue
		}

		ft, err := parseFieldTag(sf.Name, sf.Tag.Get(tagKey))
		if err != nil {
			return nil, err
		}
		if ft.ignored {
			continue
		}

		desc := FieldDescriptor{
			Name:         sf.Name,
			Type:         sf.Type,
			FieldIndex:   i,
			StaticOffset: cursor,
			AfterDynamic: afterDynamic,
		}

		switch {
		case sf.Type.Kind() == reflect.Interface:
			if err := buildPolyField(t, sf, i, ft, &desc, building); err != nil {
				return nil, err
			}
			cursor += desc.BitLength

		case implementsSerializable(sf.Type):
			if ft.hasBits || ft.hasSlot {
				return nil, fmt.Errorf("%w: field %s: a Serializable occupant defines its own width", ErrInvalidTag, sf.Name)
			}
			desc.Kind = KindGenericSlot
			desc.Dynamic = true
			afterDynamic = true
			layout.HasDynamicTail = true

		case sf.Type.Kind() == reflect.Slice || sf.Type.Kind() == reflect.Array:
			if err := buildListField(t, sf, i, ft, &desc, building); err != nil {
				return nil, err
			}
			if desc.Dynamic {
				afterDynamic = true
				layout.HasDynamicTail = true
			} else {
				cursor += desc.BitLength
			}

		case sf.Type.Kind() == reflect.Struct,
			sf.Type.Kind() == reflect.Pointer && sf.Type.Elem().Kind() == reflect.Struct:
			if err := buildNestedField(sf, ft, &desc, building); err != nil {
				return nil, err
			}
			cursor += desc.BitLength
			if desc.Dynamic {
				afterDynamic = true
				layout.HasDynamicTail = true
			}

		case naturalBits(sf.Type.Kind()) != 0:
			if err := buildScalarField(sf, ft, &desc); err != nil {
				return nil, err
			}
			cursor += desc.BitLength

		default:
			return nil, fmt.Errorf("%w: field %s has kind %s", ErrUnsupportedFieldType, sf.Name, sf.Type.Kind())
		}

		layout.fieldByIndex[i] = len(layout.Fields)
		layout.Fields = append(layout.Fields, desc)
	}

	layout.TotalStaticBits = cursor
	layout.Fingerprint = layout.computeFingerprint()
	return layout, nil
}

// buildScalarField resolves a primitive or enum descriptor: declared width
// or the type's natural width, with the declared converter attached.
func buildScalarField(sf reflect.StructField, ft fieldTag, desc *FieldDescriptor) error {
	natural := naturalBits(sf.Type.Kind())
	bits := natural
	if ft.hasBits {
		bits = ft.bits
	}
	if bits < 1 || bits > natural {
		return fmt.Errorf("%w: field %s declares %d bits, natural width is %d",
			ErrBitRangeOutOfBounds, sf.Name, bits, natural)
	}
	if isFloatKind(sf.Type.Kind()) && bits != natural {
		return fmt.Errorf("%w: field %s: float fields must use their full %d-bit width",
			ErrUnsupportedFieldType, sf.Name, natural)
	}
	if isEnumType(sf.Type) {
		desc.Kind = KindEnum
	} else {
		desc.Kind = KindPrimitive
	}
	desc.BitLength = bits
	if ft.converter != "" {
		c, ok := converters.lookup(ft.converter)
		if !ok {
			return fmt.Errorf("%w: field %s references unregistered converter %q",
				ErrInvalidConverter, sf.Name, ft.converter)
		}
		desc.Converter = c
		desc.ConverterName = ft.converter
	}
	return nil
}

// buildNestedField resolves a nested struct descriptor: the inner layout's
// static total, or a declared override reserving extra trailing bits.
func buildNestedField(sf reflect.StructField, ft fieldTag, desc *FieldDescriptor, building map[reflect.Type]bool) error {
	if ft.converter != "" {
		return fmt.Errorf("%w: field %s: converters apply to primitive and enum fields only",
			ErrInvalidConverter, sf.Name)
	}
	inner := sf.Type
	if inner.Kind() == reflect.Pointer {
		inner = inner.Elem()
	}
	nested, err := nestedLayout(inner, building)
	if err != nil {
		return fmt.Errorf("field %s: %w", sf.Name, err)
	}
	desc.Kind = KindNested
	desc.Nested = nested
	desc.BitLength = nested.TotalStaticBits
	if nested.HasDynamicTail {
		if ft.hasBits {
			return fmt.Errorf("%w: field %s: cannot override the width of a dynamic layout",
				ErrInvalidTag, sf.Name)
		}
		desc.Dynamic = true
		return nil
	}
	if ft.hasBits {
		if ft.bits < nested.TotalStaticBits {
			return fmt.Errorf("%w: field %s declares %d bits, nested layout needs %d",
				ErrBitRangeOutOfBounds, sf.Name, ft.bits, nested.TotalStaticBits)
		}
		desc.BitLength = ft.bits
	}
	return nil
}

// buildListField resolves element width and cardinality for slice and array
// fields. A fixed count, when present, always governs over a count-field
// reference.
func buildListField(t reflect.Type, sf reflect.StructField, fieldIndex int, ft fieldTag, desc *FieldDescriptor, building map[reflect.Type]bool) error {
	if ft.converter != "" {
		return fmt.Errorf("%w: field %s: converters apply to primitive and enum fields only",
			ErrInvalidConverter, sf.Name)
	}
	elem := sf.Type.Elem()
	info := &ListInfo{
		ElemType:        elem,
		FixedCount:      -1,
		CountFieldIndex: -1,
		IsArray:         sf.Type.Kind() == reflect.Array,
	}

	switch {
	case elem.Kind() == reflect.Struct:
		if ft.hasElem {
			return fmt.Errorf("%w: field %s: element width of a nested element is its layout total",
				ErrInvalidTag, sf.Name)
		}
		el, err := nestedLayout(elem, building)
		if err != nil {
			return fmt.Errorf("field %s: %w", sf.Name, err)
		}
		if el.HasDynamicTail {
			return fmt.Errorf("%w: field %s: list elements must have a static layout",
				ErrUnsupportedFieldType, sf.Name)
		}
		info.ElemKind = KindNested
		info.ElemLayout = el
		info.ElemBits = el.TotalStaticBits
	case elem.Kind() == reflect.Interface:
		return fmt.Errorf("%w: field %s: interface element width is unknowable",
			ErrMissingFieldMetadata, sf.Name)
	case naturalBits(elem.Kind()) != 0:
		natural := naturalBits(elem.Kind())
		bits := natural
		if ft.hasElem {
			bits = ft.elemBits
		}
		if bits < 1 || bits > natural {
			return fmt.Errorf("%w: field %s declares %d-bit elements, natural width is %d",
				ErrBitRangeOutOfBounds, sf.Name, bits, natural)
		}
		if isFloatKind(elem.Kind()) && bits != natural {
			return fmt.Errorf("%w: field %s: float elements must use their full %d-bit width",
				ErrUnsupportedFieldType, sf.Name, natural)
		}
		if isEnumType(elem) {
			info.ElemKind = KindEnum
		} else {
			info.ElemKind = KindPrimitive
		}
		info.ElemBits = bits
	default:
		return fmt.Errorf("%w: field %s has %s elements", ErrUnsupportedFieldType, sf.Name, elem.Kind())
	}

	switch {
	case info.IsArray:
		if ft.hasCount && ft.count != sf.Type.Len() {
			return fmt.Errorf("%w: field %s: count=%d disagrees with array length %d",
				ErrInvalidTag, sf.Name, ft.count, sf.Type.Len())
		}
		info.FixedCount = sf.Type.Len()
	case ft.hasCount:
		// Fixed count governs even when a count field is also named.
		info.FixedCount = ft.count
	case ft.countField != "":
		idx, err := relatedFieldIndex(t, ft.countField, fieldIndex)
		if err != nil {
			return fmt.Errorf("field %s: %w", sf.Name, err)
		}
		info.CountField = ft.countField
		info.CountFieldIndex = idx
	default:
		return fmt.Errorf("%w: field %s", ErrListMissingCardinality, sf.Name)
	}

	desc.Kind = KindList
	desc.List = info
	if info.FixedCount >= 0 {
		desc.BitLength = uint64(info.FixedCount) * info.ElemBits
	} else {
		desc.Dynamic = true
	}
	return nil
}

// buildPolyField resolves a polymorphic slot: the discriminator relation and
// the variant mapping snapshot, with the slot sized to the largest variant
// unless overridden.
func buildPolyField(t reflect.Type, sf reflect.StructField, fieldIndex int, ft fieldTag, desc *FieldDescriptor, building map[reflect.Type]bool) error {
	if ft.converter != "" {
		return fmt.Errorf("%w: field %s: converters apply to primitive and enum fields only",
			ErrInvalidConverter, sf.Name)
	}
	if ft.switchField == "" {
		return fmt.Errorf("%w: field %s", ErrPolymorphicMissingDiscriminator, sf.Name)
	}
	discIdx, err := relatedFieldIndex(t, ft.switchField, fieldIndex)
	if err != nil {
		return fmt.Errorf("field %s: %w", sf.Name, err)
	}

	entries := variants.snapshot(sf.Type)
	mapped := make([]Variant, 0, len(entries))
	var maxBits uint64
	for _, e := range entries {
		vl, err := nestedLayout(e.concrete, building)
		if err != nil {
			return fmt.Errorf("field %s variant %s: %w", sf.Name, e.concrete, err)
		}
		if vl.HasDynamicTail {
			return fmt.Errorf("%w: field %s: variant %s has a dynamic tail and cannot share a fixed slot",
				ErrUnsupportedFieldType, sf.Name, e.concrete)
		}
		if vl.TotalStaticBits > maxBits {
			maxBits = vl.TotalStaticBits
		}
		mapped = append(mapped, Variant{Discriminator: e.discriminator, Type: e.concrete, Layout: vl})
	}

	slot := maxBits
	switch {
	case ft.hasSlot:
		slot = ft.slotBits
	case ft.hasBits:
		slot = ft.bits
	}
	if slot < maxBits {
		return fmt.Errorf("%w: field %s declares a %d-bit slot, largest variant needs %d",
			ErrBitRangeOutOfBounds, sf.Name, slot, maxBits)
	}

	desc.Kind = KindPolymorphic
	desc.BitLength = slot
	desc.Poly = &PolyInfo{
		DiscriminatorField: ft.switchField,
		DiscriminatorIndex: discIdx,
		Variants:           mapped,
		SlotBits:           slot,
	}
	return nil
}
