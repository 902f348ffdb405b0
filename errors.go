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

import "errors"

// ============================================================================
// Layout-build-time errors (surfaced to the caller of first use)
// ============================================================================

// ErrMissingFieldMetadata indicates a field lacks bit-length information and
// no default width can be derived from its type.
var ErrMissingFieldMetadata = errors.New("bitserializer: missing field bit-length metadata")

// ErrUnsupportedFieldType indicates a field type matches none of the
// recognized field kinds.
var ErrUnsupportedFieldType = errors.New("bitserializer: unsupported field type")

// ErrListMissingCardinality indicates a list field has neither a fixed count
// nor a count-field reference.
var ErrListMissingCardinality = errors.New("bitserializer: list field has no cardinality")

// ErrPolymorphicMissingDiscriminator indicates a polymorphic field has no
// discriminator field reference.
var ErrPolymorphicMissingDiscriminator = errors.New("bitserializer: polymorphic field has no discriminator")

// ErrRelatedFieldNotFound indicates a named count or discriminator field is
// absent from the declaring type.
var ErrRelatedFieldNotFound = errors.New("bitserializer: related field not found")

// ErrInvalidConverter indicates a declared converter name has no registered
// converter.
var ErrInvalidConverter = errors.New("bitserializer: invalid converter")

// ErrInvalidTag indicates a bits struct tag that cannot be parsed.
var ErrInvalidTag = errors.New("bitserializer: invalid bits tag")

// ============================================================================
// Call-time errors
// ============================================================================

// ErrUnknownVariant indicates a polymorphic occupant type (serialize) or a
// discriminator value (deserialize) with no registered mapping.
var ErrUnknownVariant = errors.New("bitserializer: unknown variant")

// ErrBufferTooSmall indicates a destination buffer smaller than the required
// byte count. Raised before any partial write.
var ErrBufferTooSmall = errors.New("bitserializer: buffer too small")

// ErrBitRangeOutOfBounds indicates a bit length outside [1, 64], a length
// exceeding the target numeric width, or a range past the end of the buffer.
var ErrBitRangeOutOfBounds = errors.New("bitserializer: bit range out of bounds")

// ErrListCountMismatch indicates a dynamic-count list whose count field
// disagrees with the actual element count at serialize time.
var ErrListCountMismatch = errors.New("bitserializer: list count field does not match element count")
