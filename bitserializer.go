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

// Package bitserializer encodes struct values into bit-exact binary layouts
// declared through `bits` struct tags. Each exported field maps to a bit
// range of declared or natural width; layouts are derived once per type,
// cached, and replayed reflectively on every call. Both MSB-first and
// LSB-first bit numbering are supported, nested structs flatten inline,
// lists carry fixed or count-field cardinality, interface fields dispatch on
// a registered discriminator mapping, and fields implementing Serializable
// encode themselves.
//
// Marshal, MarshalInto and Unmarshal use MSB-first bit order; the LSB-suffixed
// family is identical under LSB-first order. All entry points are safe for
// concurrent use.
package bitserializer

import (
	"fmt"
	"reflect"
)

// marshalSize returns the layout and the exact byte size v encodes to.
func marshalSize(v reflect.Value) (*TypeLayout, uint64, error) {
	layout, err := layoutFor(v.Type())
	if err != nil {
		return nil, 0, err
	}
	bits, err := layout.measureValue(v)
	if err != nil {
		return nil, 0, err
	}
	return layout, (bits + 7) / 8, nil
}

// addressable returns an addressable copy of v so pointer-receiver
// Serializable occupants can be reached during traversal.
func addressable(v reflect.Value) reflect.Value {
	if v.CanAddr() {
		return v
	}
	av := reflect.New(v.Type()).Elem()
	av.Set(v)
	return av
}

func marshal(ac BitAccessor, v reflect.Value) ([]byte, error) {
	v = addressable(v)
	layout, size, err := marshalSize(v)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := layout.serializeValue(ac, v, buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

func marshalInto(ac BitAccessor, v reflect.Value, dst []byte) (int, error) {
	v = addressable(v)
	layout, size, err := marshalSize(v)
	if err != nil {
		return 0, err
	}
	if uint64(len(dst)) < size {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, size, len(dst))
	}
	if _, err := layout.serializeValue(ac, v, dst, 0); err != nil {
		return 0, err
	}
	return int(size), nil
}

func unmarshal(ac BitAccessor, data []byte, v reflect.Value) error {
	layout, err := layoutFor(v.Type())
	if err != nil {
		return err
	}
	_, err = layout.deserializeValue(ac, v, data, 0)
	return err
}

// Marshal encodes v into a freshly allocated buffer sized to the exact
// encoded length, rounded up to whole bytes. Padding bits are zero.
func Marshal[T any](v T) ([]byte, error) {
	return marshal(MSB, reflect.ValueOf(&v).Elem())
}

// MarshalLSB is Marshal under LSB-first bit order.
func MarshalLSB[T any](v T) ([]byte, error) {
	return marshal(LSB, reflect.ValueOf(&v).Elem())
}

// MarshalInto encodes v into dst and returns the number of bytes written.
// dst is untouched when it is too small.
func MarshalInto[T any](v T, dst []byte) (int, error) {
	return marshalInto(MSB, reflect.ValueOf(&v).Elem(), dst)
}

// MarshalIntoLSB is MarshalInto under LSB-first bit order.
func MarshalIntoLSB[T any](v T, dst []byte) (int, error) {
	return marshalInto(LSB, reflect.ValueOf(&v).Elem(), dst)
}

// Unmarshal decodes a value of type T from data.
func Unmarshal[T any](data []byte) (T, error) {
	var v T
	err := unmarshal(MSB, data, reflect.ValueOf(&v).Elem())
	return v, err
}

// UnmarshalLSB is Unmarshal under LSB-first bit order.
func UnmarshalLSB[T any](data []byte) (T, error) {
	var v T
	err := unmarshal(LSB, data, reflect.ValueOf(&v).Elem())
	return v, err
}

// ============================================================================
// Non-generic boundary
// ============================================================================

// MarshalAny encodes a struct value or non-nil struct pointer held in an
// interface, for callers that resolve types at runtime.
func MarshalAny(v any) ([]byte, error) {
	rv, err := concreteValue(v)
	if err != nil {
		return nil, err
	}
	return marshal(MSB, rv)
}

// MarshalAnyLSB is MarshalAny under LSB-first bit order.
func MarshalAnyLSB(v any) ([]byte, error) {
	rv, err := concreteValue(v)
	if err != nil {
		return nil, err
	}
	return marshal(LSB, rv)
}

// UnmarshalAny decodes data into the struct v points to.
func UnmarshalAny(data []byte, v any) error {
	rv, err := pointerTarget(v)
	if err != nil {
		return err
	}
	return unmarshal(MSB, data, rv)
}

// UnmarshalAnyLSB is UnmarshalAny under LSB-first bit order.
func UnmarshalAnyLSB(data []byte, v any) error {
	rv, err := pointerTarget(v)
	if err != nil {
		return err
	}
	return unmarshal(LSB, data, rv)
}

func concreteValue(v any) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Value{}, fmt.Errorf("%w: nil pointer", ErrUnsupportedFieldType)
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%w: %T is not a struct", ErrUnsupportedFieldType, v)
	}
	return rv, nil
}

func pointerTarget(v any) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return reflect.Value{}, fmt.Errorf("%w: target must be a non-nil struct pointer, got %T",
			ErrUnsupportedFieldType, v)
	}
	if rv.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%w: %T does not point to a struct", ErrUnsupportedFieldType, v)
	}
	return rv.Elem(), nil
}

// ============================================================================
// Introspection and warm-up
// ============================================================================

// Register builds and caches the layout of T eagerly so the first Marshal or
// Unmarshal does not pay the build cost. Safe to call from init functions
// once the type's variant mappings and converters are registered.
func Register[T any]() error {
	_, err := layoutFor(reflect.TypeOf((*T)(nil)).Elem())
	return err
}

// BitSizeOf reports the exact number of bits v encodes to, honoring dynamic
// list counts, dynamic nested layouts and Serializable occupants.
func BitSizeOf[T any](v T) (uint64, error) {
	layout, err := layoutFor(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return 0, err
	}
	return layout.measureValue(reflect.ValueOf(&v).Elem())
}

// LayoutOf returns the cached layout of T. The layout and everything it
// references are immutable after the build; callers must not modify them.
func LayoutOf[T any]() (*TypeLayout, error) {
	return layoutFor(reflect.TypeOf((*T)(nil)).Elem())
}
