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
	"math"
	"reflect"
)

// Serializable is the capability interface for generic-slot occupants: values
// that encode themselves directly through the bit accessor. SerializeBits and
// DeserializeBits return the number of bits consumed; BitSize reports the
// value's current encoded size for buffer sizing.
//
// DeserializeBits mutates the receiver, so occupants implement the interface
// on a pointer receiver (the engine addresses fields as needed).
type Serializable interface {
	SerializeBits(ac BitAccessor, buf []byte, start uint64) (uint64, error)
	DeserializeBits(ac BitAccessor, buf []byte, start uint64) (uint64, error)
	BitSize() uint64
}

var serializableType = reflect.TypeOf((*Serializable)(nil)).Elem()

// ============================================================================
// Scalar raw <-> reflect bridging
// ============================================================================

// scalarRaw reinterprets a primitive or enum field value as a raw uint64 bit
// pattern. Signed values keep their full two's-complement pattern; the bit
// accessor truncates to the declared width on write, which is exactly the
// raw low-bit copy the format calls for.
func scalarRaw(fv reflect.Value) (uint64, error) {
	switch fv.Kind() {
	case reflect.Bool:
		if fv.Bool() {
			return 1, nil
		}
		return 0, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return uint64(fv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fv.Uint(), nil
	case reflect.Float32:
		return uint64(math.Float32bits(float32(fv.Float()))), nil
	case reflect.Float64:
		return math.Float64bits(fv.Float()), nil
	default:
		return 0, fmt.Errorf("%w: kind %s", ErrUnsupportedFieldType, fv.Kind())
	}
}

// setScalar stores a raw bit pattern into a primitive or enum field. No sign
// extension is performed: a value narrower than the field's natural width
// lands as the plain unsigned pattern the accessor read.
func setScalar(fv reflect.Value, raw uint64) error {
	switch fv.Kind() {
	case reflect.Bool:
		fv.SetBool(raw != 0)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		fv.SetInt(int64(raw))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		fv.SetUint(raw)
	case reflect.Float32:
		fv.SetFloat(float64(math.Float32frombits(uint32(raw))))
	case reflect.Float64:
		fv.SetFloat(math.Float64frombits(raw))
	default:
		return fmt.Errorf("%w: kind %s", ErrUnsupportedFieldType, fv.Kind())
	}
	return nil
}

// fieldUint reads an integer field's logical value as uint64, for count and
// discriminator lookups. A negative value fails with the caller's sentinel:
// ErrListCountMismatch on count paths, ErrUnknownVariant on discriminators.
func fieldUint(fv reflect.Value, sentinel error) (uint64, error) {
	switch fv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := fv.Int()
		if n < 0 {
			return 0, fmt.Errorf("%w: negative value %d", sentinel, n)
		}
		return uint64(n), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fv.Uint(), nil
	default:
		return 0, fmt.Errorf("%w: kind %s", ErrUnsupportedFieldType, fv.Kind())
	}
}

// ============================================================================
// Serialize traversal
// ============================================================================

// serializeValue walks the layout in declaration order, writing v into buf
// starting at bit offset, and returns the number of bits written. The
// running cursor coincides with offset+StaticOffset until the first
// dynamic-length field is traversed, then carries the runtime-resolved
// positions on its own.
func (l *TypeLayout) serializeValue(ac BitAccessor, v reflect.Value, buf []byte, offset uint64) (uint64, error) {
	cursor := offset
	if l.Base != nil {
		n, err := l.Base.serializeValue(ac, v.Field(l.BaseFieldIndex), buf, cursor)
		if err != nil {
			return 0, err
		}
		cursor += n
	}
	for i := range l.Fields {
		desc := &l.Fields[i]
		fv := v.Field(desc.FieldIndex)
		n, err := l.serializeField(ac, desc, v, fv, buf, cursor)
		if err != nil {
			return 0, fmt.Errorf("%s.%s: %w", l.Type.Name(), desc.Name, err)
		}
		cursor += n
	}
	return cursor - offset, nil
}

func (l *TypeLayout) serializeField(ac BitAccessor, desc *FieldDescriptor, owner, fv reflect.Value, buf []byte, cursor uint64) (uint64, error) {
	switch desc.Kind {
	case KindPrimitive, KindEnum:
		raw, err := scalarRaw(fv)
		if err != nil {
			return 0, err
		}
		if desc.Converter != nil {
			if raw, err = desc.Converter.ToRaw(raw); err != nil {
				return 0, fmt.Errorf("converter %q: %w", desc.ConverterName, err)
			}
		}
		if err := ac.WriteBits(buf, cursor, desc.BitLength, raw); err != nil {
			return 0, err
		}
		return desc.BitLength, nil

	case KindNested:
		inner := fv
		if inner.Kind() == reflect.Pointer {
			if inner.IsNil() {
				inner = reflect.New(fv.Type().Elem()).Elem()
			} else {
				inner = inner.Elem()
			}
		}
		n, err := desc.Nested.serializeValue(ac, inner, buf, cursor)
		if err != nil {
			return 0, err
		}
		if !desc.Dynamic {
			// Static nested fields consume their declared width, which may
			// reserve trailing bits past the inner layout.
			return desc.BitLength, nil
		}
		return n, nil

	case KindList:
		return l.serializeList(ac, desc, owner, fv, buf, cursor)

	case KindPolymorphic:
		return serializePoly(ac, desc, fv, buf, cursor)

	case KindGenericSlot:
		s, err := serializableOf(fv)
		if err != nil {
			return 0, err
		}
		return s.SerializeBits(ac, buf, cursor)

	default:
		return 0, fmt.Errorf("%w: kind %d", ErrUnsupportedFieldType, desc.Kind)
	}
}

func (l *TypeLayout) serializeList(ac BitAccessor, desc *FieldDescriptor, owner, fv reflect.Value, buf []byte, cursor uint64) (uint64, error) {
	info := desc.List
	count := info.FixedCount
	if count < 0 {
		declared, err := fieldUint(owner.Field(info.CountFieldIndex), ErrListCountMismatch)
		if err != nil {
			return 0, err
		}
		if declared != uint64(fv.Len()) {
			return 0, fmt.Errorf("%w: %s=%d, len=%d", ErrListCountMismatch, info.CountField, declared, fv.Len())
		}
		count = int(declared)
	} else if !info.IsArray && fv.Len() != count {
		return 0, fmt.Errorf("%w: fixed count %d, len=%d", ErrListCountMismatch, count, fv.Len())
	}

	pos := cursor
	for i := 0; i < count; i++ {
		ev := fv.Index(i)
		if info.ElemKind == KindNested {
			if _, err := info.ElemLayout.serializeValue(ac, ev, buf, pos); err != nil {
				return 0, fmt.Errorf("element %d: %w", i, err)
			}
		} else {
			raw, err := scalarRaw(ev)
			if err != nil {
				return 0, err
			}
			if err := ac.WriteBits(buf, pos, info.ElemBits, raw); err != nil {
				return 0, fmt.Errorf("element %d: %w", i, err)
			}
		}
		pos += info.ElemBits
	}
	return uint64(count) * info.ElemBits, nil
}

func serializePoly(ac BitAccessor, desc *FieldDescriptor, fv reflect.Value, buf []byte, cursor uint64) (uint64, error) {
	if fv.IsNil() {
		return 0, fmt.Errorf("%w: nil occupant for %s", ErrUnknownVariant, fv.Type())
	}
	occupant := fv.Elem()
	if occupant.Kind() == reflect.Pointer {
		if occupant.IsNil() {
			return 0, fmt.Errorf("%w: nil occupant for %s", ErrUnknownVariant, fv.Type())
		}
		occupant = occupant.Elem()
	}
	for i := range desc.Poly.Variants {
		variant := &desc.Poly.Variants[i]
		if occupant.Type() == variant.Type {
			if _, err := variant.Layout.serializeValue(ac, occupant, buf, cursor); err != nil {
				return 0, err
			}
			// The slot is consumed whole; trailing bits past the variant's
			// own layout are never written.
			return desc.Poly.SlotBits, nil
		}
	}
	return 0, fmt.Errorf("%w: %s is not mapped for %s", ErrUnknownVariant, occupant.Type(), fv.Type())
}

// serializableOf extracts the Serializable capability from a field value,
// allocating through nil pointers is the caller's concern; serialization of
// a nil pointer occupant fails.
func serializableOf(fv reflect.Value) (Serializable, error) {
	if fv.Kind() == reflect.Pointer && fv.IsNil() {
		return nil, fmt.Errorf("%w: nil %s in generic slot", ErrUnknownVariant, fv.Type())
	}
	if s, ok := fv.Interface().(Serializable); ok {
		return s, nil
	}
	if fv.CanAddr() {
		if s, ok := fv.Addr().Interface().(Serializable); ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s does not implement Serializable", ErrUnsupportedFieldType, fv.Type())
}

// ============================================================================
// Deserialize traversal
// ============================================================================

// deserializeValue is the structural mirror of serializeValue. It fills v
// field by field so that already-deserialized counts and discriminators are
// available when a later field needs them, and returns the bits read.
func (l *TypeLayout) deserializeValue(ac BitAccessor, v reflect.Value, buf []byte, offset uint64) (uint64, error) {
	cursor := offset
	if l.Base != nil {
		n, err := l.Base.deserializeValue(ac, v.Field(l.BaseFieldIndex), buf, cursor)
		if err != nil {
			return 0, err
		}
		cursor += n
	}
	for i := range l.Fields {
		desc := &l.Fields[i]
		fv := v.Field(desc.FieldIndex)
		n, err := l.deserializeField(ac, desc, v, fv, buf, cursor)
		if err != nil {
			return 0, fmt.Errorf("%s.%s: %w", l.Type.Name(), desc.Name, err)
		}
		cursor += n
	}
	return cursor - offset, nil
}

func (l *TypeLayout) deserializeField(ac BitAccessor, desc *FieldDescriptor, owner, fv reflect.Value, buf []byte, cursor uint64) (uint64, error) {
	switch desc.Kind {
	case KindPrimitive, KindEnum:
		raw, err := ac.ReadBits(buf, cursor, desc.BitLength)
		if err != nil {
			return 0, err
		}
		if desc.Converter != nil {
			if raw, err = desc.Converter.ToLogical(raw); err != nil {
				return 0, fmt.Errorf("converter %q: %w", desc.ConverterName, err)
			}
		}
		if err := setScalar(fv, raw); err != nil {
			return 0, err
		}
		return desc.BitLength, nil

	case KindNested:
		inner := fv
		if inner.Kind() == reflect.Pointer {
			if inner.IsNil() {
				inner.Set(reflect.New(fv.Type().Elem()))
			}
			inner = inner.Elem()
		}
		n, err := desc.Nested.deserializeValue(ac, inner, buf, cursor)
		if err != nil {
			return 0, err
		}
		if !desc.Dynamic {
			return desc.BitLength, nil
		}
		return n, nil

	case KindList:
		return l.deserializeList(ac, desc, owner, fv, buf, cursor)

	case KindPolymorphic:
		return deserializePoly(ac, desc, owner, fv, buf, cursor)

	case KindGenericSlot:
		if fv.Kind() == reflect.Pointer && fv.IsNil() {
			fv.Set(reflect.New(fv.Type().Elem()))
		}
		s, err := serializableOf(fv)
		if err != nil {
			return 0, err
		}
		return s.DeserializeBits(ac, buf, cursor)

	default:
		return 0, fmt.Errorf("%w: kind %d", ErrUnsupportedFieldType, desc.Kind)
	}
}

func (l *TypeLayout) deserializeList(ac BitAccessor, desc *FieldDescriptor, owner, fv reflect.Value, buf []byte, cursor uint64) (uint64, error) {
	info := desc.List
	count := info.FixedCount
	if count < 0 {
		declared, err := fieldUint(owner.Field(info.CountFieldIndex), ErrListCountMismatch)
		if err != nil {
			return 0, err
		}
		// The count comes off the wire; bound it by the bits left in the
		// buffer before allocating, so a hostile count fails instead of
		// attempting a huge (or, past MaxInt, negative-length) slice.
		total := uint64(len(buf)) * 8
		if cursor > total || declared > (total-cursor)/info.ElemBits {
			return 0, fmt.Errorf("%w: %d elements of %d bits exceed the remaining buffer",
				ErrBitRangeOutOfBounds, declared, info.ElemBits)
		}
		count = int(declared)
	}
	if !info.IsArray {
		fv.Set(reflect.MakeSlice(fv.Type(), count, count))
	}

	pos := cursor
	for i := 0; i < count; i++ {
		ev := fv.Index(i)
		if info.ElemKind == KindNested {
			if _, err := info.ElemLayout.deserializeValue(ac, ev, buf, pos); err != nil {
				return 0, fmt.Errorf("element %d: %w", i, err)
			}
		} else {
			raw, err := ac.ReadBits(buf, pos, info.ElemBits)
			if err != nil {
				return 0, fmt.Errorf("element %d: %w", i, err)
			}
			if err := setScalar(ev, raw); err != nil {
				return 0, err
			}
		}
		pos += info.ElemBits
	}
	return uint64(count) * info.ElemBits, nil
}

func deserializePoly(ac BitAccessor, desc *FieldDescriptor, owner, fv reflect.Value, buf []byte, cursor uint64) (uint64, error) {
	disc, err := fieldUint(owner.Field(desc.Poly.DiscriminatorIndex), ErrUnknownVariant)
	if err != nil {
		return 0, err
	}
	for i := range desc.Poly.Variants {
		variant := &desc.Poly.Variants[i]
		if variant.Discriminator != disc {
			continue
		}
		nv := reflect.New(variant.Type)
		if _, err := variant.Layout.deserializeValue(ac, nv.Elem(), buf, cursor); err != nil {
			return 0, err
		}
		if variant.Type.Implements(fv.Type()) {
			fv.Set(nv.Elem())
		} else {
			fv.Set(nv)
		}
		return desc.Poly.SlotBits, nil
	}
	return 0, fmt.Errorf("%w: discriminator %d has no mapping for %s", ErrUnknownVariant, disc, fv.Type())
}

// ============================================================================
// Measurement - exact encoded size of a value
// ============================================================================

// measureValue returns the exact number of bits a value encodes to. Layouts
// without a dynamic tail answer from the static total; otherwise the walk
// mirrors serialization without touching a buffer. When a trailing
// dynamic-count list is the sole dynamic element this reduces to
// listStart + runtimeCount*elemBits.
func (l *TypeLayout) measureValue(v reflect.Value) (uint64, error) {
	if !l.HasDynamicTail {
		return l.TotalStaticBits, nil
	}
	var total uint64
	if l.Base != nil {
		n, err := l.Base.measureValue(v.Field(l.BaseFieldIndex))
		if err != nil {
			return 0, err
		}
		total += n
	}
	for i := range l.Fields {
		desc := &l.Fields[i]
		fv := v.Field(desc.FieldIndex)
		switch {
		case !desc.Dynamic:
			total += desc.BitLength
		case desc.Kind == KindNested:
			inner := fv
			if inner.Kind() == reflect.Pointer {
				if inner.IsNil() {
					inner = reflect.New(fv.Type().Elem()).Elem()
				} else {
					inner = inner.Elem()
				}
			}
			n, err := desc.Nested.measureValue(inner)
			if err != nil {
				return 0, fmt.Errorf("%s.%s: %w", l.Type.Name(), desc.Name, err)
			}
			total += n
		case desc.Kind == KindList:
			count, err := fieldUint(v.Field(desc.List.CountFieldIndex), ErrListCountMismatch)
			if err != nil {
				return 0, fmt.Errorf("%s.%s: %w", l.Type.Name(), desc.Name, err)
			}
			total += count * desc.List.ElemBits
		case desc.Kind == KindGenericSlot:
			s, err := serializableOf(fv)
			if err != nil {
				return 0, fmt.Errorf("%s.%s: %w", l.Type.Name(), desc.Name, err)
			}
			total += s.BitSize()
		}
	}
	return total, nil
}
