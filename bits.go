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
	"encoding/binary"
	"fmt"
)

// ============================================================================
// BitAccessor - raw bit-range access over a byte buffer
// ============================================================================

// BitAccessor reads and writes an arbitrary contiguous bit range
// [start, start+length) of a byte buffer as an unsigned integer.
//
// Ranges need not be byte-aligned and may span multiple bytes. Writes use
// read-modify-write semantics: bits outside the range within touched bytes
// are preserved. Values wider than length are truncated to the low length
// bits, so read(write(v)) == v mod 2^length always holds.
//
// The two implementations, MSB and LSB, differ only in how logical bits map
// to buffer bit positions. Both are stateless and safe for concurrent use.
type BitAccessor interface {
	// ReadBits returns the unsigned value stored in [start, start+length).
	// length must be in [1, 64] and the range must lie within buf.
	ReadBits(buf []byte, start, length uint64) (uint64, error)

	// WriteBits stores the low length bits of value into [start, start+length).
	WriteBits(buf []byte, start, length uint64, value uint64) error
}

// MSB accesses bits most-significant-first: the first logical bit of a field
// maps to the highest-numbered bit of the byte it lands in, the way bits go
// on the wire in big-endian network protocols.
var MSB BitAccessor = msbAccessor{}

// LSB accesses bits least-significant-first: bit 0 of the logical value maps
// to the lowest-numbered bit position, a byte's bit 0 being its
// least-significant bit. This is the hardware-register convention.
var LSB BitAccessor = lsbAccessor{}

type msbAccessor struct{}
type lsbAccessor struct{}

// lowMask returns a mask of the low n bits, n in [1, 64].
func lowMask(n uint64) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << n) - 1
}

// checkRange validates length and buffer bounds shared by all four paths.
func checkRange(buf []byte, start, length uint64) error {
	if length < 1 || length > 64 {
		return fmt.Errorf("%w: length %d not in [1, 64]", ErrBitRangeOutOfBounds, length)
	}
	if start+length > uint64(len(buf))*8 {
		return fmt.Errorf("%w: range [%d, %d) exceeds %d-byte buffer",
			ErrBitRangeOutOfBounds, start, start+length, len(buf))
	}
	return nil
}

// ============================================================================
// MSB-first
// ============================================================================

func (msbAccessor) ReadBits(buf []byte, start, length uint64) (uint64, error) {
	if err := checkRange(buf, start, length); err != nil {
		return 0, err
	}
	idx := start >> 3
	head := start & 7
	// Fast path: the whole range fits in one 64-bit load beginning at the
	// containing byte.
	if head+length <= 64 && idx+8 <= uint64(len(buf)) {
		w := binary.BigEndian.Uint64(buf[idx:])
		return (w >> (64 - head - length)) & lowMask(length), nil
	}
	// General path: consume byte overlaps front to back, first-stored bits
	// ending up most significant.
	var v uint64
	bit := start
	remaining := length
	for remaining > 0 {
		b := buf[bit>>3]
		avail := 8 - (bit & 7)
		take := avail
		if remaining < take {
			take = remaining
		}
		chunk := (uint64(b) >> (avail - take)) & lowMask(take)
		v = v<<take | chunk
		bit += take
		remaining -= take
	}
	return v, nil
}

func (msbAccessor) WriteBits(buf []byte, start, length uint64, value uint64) error {
	if err := checkRange(buf, start, length); err != nil {
		return err
	}
	value &= lowMask(length)
	idx := start >> 3
	head := start & 7
	if head+length <= 64 && idx+8 <= uint64(len(buf)) {
		shift := 64 - head - length
		w := binary.BigEndian.Uint64(buf[idx:])
		w = w&^(lowMask(length)<<shift) | value<<shift
		binary.BigEndian.PutUint64(buf[idx:], w)
		return nil
	}
	bit := start
	remaining := length
	for remaining > 0 {
		i := bit >> 3
		avail := 8 - (bit & 7)
		take := avail
		if remaining < take {
			take = remaining
		}
		// The most significant unwritten bits of value go into this byte.
		chunk := byte((value >> (remaining - take)) & lowMask(take))
		mask := byte(lowMask(take) << (avail - take))
		buf[i] = buf[i]&^mask | chunk<<(avail-take)
		bit += take
		remaining -= take
	}
	return nil
}

// ============================================================================
// LSB-first
// ============================================================================

func (lsbAccessor) ReadBits(buf []byte, start, length uint64) (uint64, error) {
	if err := checkRange(buf, start, length); err != nil {
		return 0, err
	}
	idx := start >> 3
	head := start & 7
	if head+length <= 64 && idx+8 <= uint64(len(buf)) {
		w := binary.LittleEndian.Uint64(buf[idx:])
		return (w >> head) & lowMask(length), nil
	}
	var v uint64
	var got uint64
	bit := start
	remaining := length
	for remaining > 0 {
		off := bit & 7
		avail := 8 - off
		take := avail
		if remaining < take {
			take = remaining
		}
		chunk := (uint64(buf[bit>>3]) >> off) & lowMask(take)
		v |= chunk << got
		got += take
		bit += take
		remaining -= take
	}
	return v, nil
}

func (lsbAccessor) WriteBits(buf []byte, start, length uint64, value uint64) error {
	if err := checkRange(buf, start, length); err != nil {
		return err
	}
	value &= lowMask(length)
	idx := start >> 3
	head := start & 7
	if head+length <= 64 && idx+8 <= uint64(len(buf)) {
		w := binary.LittleEndian.Uint64(buf[idx:])
		w = w&^(lowMask(length)<<head) | value<<head
		binary.LittleEndian.PutUint64(buf[idx:], w)
		return nil
	}
	var put uint64
	bit := start
	remaining := length
	for remaining > 0 {
		i := bit >> 3
		off := bit & 7
		avail := 8 - off
		take := avail
		if remaining < take {
			take = remaining
		}
		chunk := byte((value >> put) & lowMask(take))
		mask := byte(lowMask(take)) << off
		buf[i] = buf[i]&^mask | chunk<<off
		put += take
		bit += take
		remaining -= take
	}
	return nil
}
