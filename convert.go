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

import "fmt"

// ============================================================================
// Value converter hook
// ============================================================================

// Converter transforms a primitive or enum field between its raw wire value
// and its logical in-memory value. ToRaw runs immediately before the bit
// write, ToLogical immediately after the bit read.
//
// Both functions must be pure and total over the field's value range; any
// failure aborts the whole serialize/deserialize call.
type Converter interface {
	ToRaw(logical uint64) (uint64, error)
	ToLogical(raw uint64) (uint64, error)
}

// FuncConverter adapts a pair of functions into a Converter.
type FuncConverter struct {
	Raw     func(logical uint64) (uint64, error)
	Logical func(raw uint64) (uint64, error)
}

func (c FuncConverter) ToRaw(logical uint64) (uint64, error) { return c.Raw(logical) }

func (c FuncConverter) ToLogical(raw uint64) (uint64, error) { return c.Logical(raw) }

// OffsetConverter stores logical-Delta on the wire. Useful for fields whose
// wire range starts above zero, e.g. years stored since an epoch.
type OffsetConverter struct {
	Delta uint64
}

func (c OffsetConverter) ToRaw(logical uint64) (uint64, error) {
	if logical < c.Delta {
		return 0, fmt.Errorf("bitserializer: value %d below converter offset %d", logical, c.Delta)
	}
	return logical - c.Delta, nil
}

func (c OffsetConverter) ToLogical(raw uint64) (uint64, error) {
	return raw + c.Delta, nil
}

// ScaleConverter stores logical/Factor on the wire and restores by
// multiplication. The logical value must be an exact multiple of Factor.
type ScaleConverter struct {
	Factor uint64
}

func (c ScaleConverter) ToRaw(logical uint64) (uint64, error) {
	if c.Factor == 0 {
		return 0, fmt.Errorf("bitserializer: scale converter factor is zero")
	}
	if logical%c.Factor != 0 {
		return 0, fmt.Errorf("bitserializer: value %d is not a multiple of %d", logical, c.Factor)
	}
	return logical / c.Factor, nil
}

func (c ScaleConverter) ToLogical(raw uint64) (uint64, error) {
	if c.Factor == 0 {
		return 0, fmt.Errorf("bitserializer: scale converter factor is zero")
	}
	return raw * c.Factor, nil
}
