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
	"strconv"
	"strings"
)

// tagKey is the struct tag key carrying field bit-layout declarations.
const tagKey = "bits"

// fieldTag is the parsed form of one `bits:"..."` declaration.
//
// Grammar: a comma-separated list where the first bare integer is the
// field's bit length and the remaining entries are key=value options:
//
//	bits:"12"                      explicit 12-bit width
//	bits:"-"                       ignore the field
//	bits:"count=3,elem=8"          fixed-count list, 8-bit elements
//	bits:"countfield=Count,elem=8" dynamic list, count read from Count
//	bits:"switch=Kind,slot=24"     polymorphic slot keyed on Kind
//	bits:"8,conv=centi"            8 bits through the "centi" converter
type fieldTag struct {
	ignored bool

	bits    uint64
	hasBits bool

	count    int
	hasCount bool

	countField string

	elemBits uint64
	hasElem  bool

	switchField string

	slotBits uint64
	hasSlot  bool

	converter string
}

// parseFieldTag parses one tag value. An empty tag is valid and yields the
// zero fieldTag (everything derived from the field type).
func parseFieldTag(fieldName, tag string) (fieldTag, error) {
	var ft fieldTag
	if tag == "" {
		return ft, nil
	}
	if tag == "-" {
		ft.ignored = true
		return ft, nil
	}
	for i, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return ft, fmt.Errorf("%w: field %s has an empty tag entry", ErrInvalidTag, fieldName)
		}
		key, val, hasVal := strings.Cut(part, "=")
		if !hasVal {
			// A bare token must be the leading bit length.
			if i != 0 || ft.hasBits {
				return ft, fmt.Errorf("%w: field %s: unexpected token %q", ErrInvalidTag, fieldName, part)
			}
			n, err := strconv.ParseUint(part, 10, 64)
			if err != nil {
				return ft, fmt.Errorf("%w: field %s: bit length %q", ErrInvalidTag, fieldName, part)
			}
			ft.bits = n
			ft.hasBits = true
			continue
		}
		switch key {
		case "count":
			n, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return ft, fmt.Errorf("%w: field %s: count %q", ErrInvalidTag, fieldName, val)
			}
			ft.count = int(n)
			ft.hasCount = true
		case "countfield":
			if val == "" {
				return ft, fmt.Errorf("%w: field %s: empty countfield", ErrInvalidTag, fieldName)
			}
			ft.countField = val
		case "elem":
			n, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return ft, fmt.Errorf("%w: field %s: elem width %q", ErrInvalidTag, fieldName, val)
			}
			ft.elemBits = n
			ft.hasElem = true
		case "switch":
			if val == "" {
				return ft, fmt.Errorf("%w: field %s: empty switch", ErrInvalidTag, fieldName)
			}
			ft.switchField = val
		case "slot":
			n, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return ft, fmt.Errorf("%w: field %s: slot width %q", ErrInvalidTag, fieldName, val)
			}
			ft.slotBits = n
			ft.hasSlot = true
		case "conv":
			if val == "" {
				return ft, fmt.Errorf("%w: field %s: empty conv", ErrInvalidTag, fieldName)
			}
			ft.converter = val
		default:
			return ft, fmt.Errorf("%w: field %s: unknown option %q", ErrInvalidTag, fieldName, key)
		}
	}
	return ft, nil
}
