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
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func init() {
	if err := RegisterConverter("epoch2000", OffsetConverter{Delta: 2000}); err != nil {
		panic(err)
	}
	if err := RegisterConverter("centi", ScaleConverter{Factor: 100}); err != nil {
		panic(err)
	}
	if err := RegisterVariant[widget, gauge](1); err != nil {
		panic(err)
	}
	if err := RegisterVariant[widget, dial](2); err != nil {
		panic(err)
	}
}

func roundTrip[T any](t *testing.T, v T) {
	t.Helper()
	data, err := Marshal(v)
	require.NoError(t, err)
	got, err := Unmarshal[T](data)
	require.NoError(t, err)
	require.Equal(t, v, got)

	data, err = MarshalLSB(v)
	require.NoError(t, err)
	got, err = UnmarshalLSB[T](data)
	require.NoError(t, err)
	require.Equal(t, v, got)
}

func TestMarshalBitExactWidths475(t *testing.T) {
	v := flagsWord{Version: 0xA, Kind: 0x58, Residue: 0x12}
	data, err := Marshal(v)
	require.NoError(t, err)
	require.Equal(t, []byte{0xAB, 0x12}, data)

	got, err := Unmarshal[flagsWord]([]byte{0xAB, 0x12})
	require.NoError(t, err)
	require.Equal(t, v, got)
}

type nibblePacked struct {
	NibbleHigh uint8  `bits:"4"`
	NibbleLow  uint8  `bits:"4"`
	TwelveBits uint16 `bits:"12"`
	Pad        uint8  `bits:"4"`
}

func TestMarshalNonByteAligned(t *testing.T) {
	got, err := Unmarshal[nibblePacked]([]byte{0xA5, 0x67, 0x80})
	require.NoError(t, err)
	require.Equal(t, nibblePacked{NibbleHigh: 0xA, NibbleLow: 0x5, TwelveBits: 0x678}, got)

	data, err := Marshal(got)
	require.NoError(t, err)
	require.Equal(t, []byte{0xA5, 0x67, 0x80}, data)
}

type countedItems struct {
	Count    uint8   `bits:"4"`
	Reserved uint8   `bits:"4"`
	Items    []uint8 `bits:"countfield=Count,elem=8"`
}

func TestDynamicListViaCountField(t *testing.T) {
	v := countedItems{Count: 3, Items: []uint8{0x11, 0x22, 0x33}}
	data, err := Marshal(v)
	require.NoError(t, err)
	require.Equal(t, []byte{0x30, 0x11, 0x22, 0x33}, data)

	got, err := Unmarshal[countedItems](data)
	require.NoError(t, err)
	require.Equal(t, v, got)

	t.Run("empty list is header only", func(t *testing.T) {
		data, err := Marshal(countedItems{Count: 0, Items: []uint8{}})
		require.NoError(t, err)
		require.Equal(t, []byte{0x00}, data)

		got, err := Unmarshal[countedItems](data)
		require.NoError(t, err)
		require.Empty(t, got.Items)
	})
}

func TestDynamicListCountMismatch(t *testing.T) {
	_, err := Marshal(countedItems{Count: 2, Items: []uint8{1, 2, 3}})
	require.ErrorIs(t, err, ErrListCountMismatch)
}

type wideCountItems struct {
	Count uint64
	Items []uint8 `bits:"countfield=Count,elem=8"`
}

// A count read off the wire must be bounded by the remaining buffer before
// anything is allocated, however wide the count field is.
func TestDynamicListCountExceedsBuffer(t *testing.T) {
	t.Run("count past MaxInt", func(t *testing.T) {
		// 2^63 would flip negative if converted to int unchecked.
		_, err := Unmarshal[wideCountItems]([]byte{0x80, 0, 0, 0, 0, 0, 0, 0})
		require.ErrorIs(t, err, ErrBitRangeOutOfBounds)
	})
	t.Run("count far past buffer", func(t *testing.T) {
		// 2^16 elements declared, zero element bytes present.
		_, err := Unmarshal[wideCountItems]([]byte{0, 0, 0, 0, 0, 1, 0, 0})
		require.ErrorIs(t, err, ErrBitRangeOutOfBounds)
	})
	t.Run("count exactly filling buffer", func(t *testing.T) {
		got, err := Unmarshal[wideCountItems]([]byte{0, 0, 0, 0, 0, 0, 0, 2, 0xAA, 0xBB})
		require.NoError(t, err)
		require.Equal(t, []uint8{0xAA, 0xBB}, got.Items)
	})
	t.Run("count one past buffer", func(t *testing.T) {
		_, err := Unmarshal[wideCountItems]([]byte{0, 0, 0, 0, 0, 0, 0, 3, 0xAA, 0xBB})
		require.ErrorIs(t, err, ErrBitRangeOutOfBounds)
	})
}

type fixedWinsItems struct {
	Count uint8   `bits:"8"`
	Items []uint8 `bits:"count=2,countfield=Count,elem=8"`
}

func TestFixedCountGovernsCardinality(t *testing.T) {
	// The count field's value is irrelevant when a fixed count is declared.
	v := fixedWinsItems{Count: 99, Items: []uint8{0xAA, 0xBB}}
	data, err := Marshal(v)
	require.NoError(t, err)
	require.Equal(t, []byte{99, 0xAA, 0xBB}, data)

	got, err := Unmarshal[fixedWinsItems](data)
	require.NoError(t, err)
	require.Equal(t, v, got)

	_, err = Marshal(fixedWinsItems{Count: 99, Items: []uint8{1, 2, 3}})
	require.ErrorIs(t, err, ErrListCountMismatch)
}

// ============================================================================
// Polymorphic slots
// ============================================================================

type widget interface {
	widgetBits() uint64
}

type gauge struct {
	Raw uint16 `bits:"16"`
}

func (g gauge) widgetBits() uint64 { return 16 }

type dial struct {
	Mode uint8  `bits:"8"`
	Pos  uint16 `bits:"16"`
}

func (d dial) widgetBits() uint64 { return 24 }

type panel struct {
	Kind uint8  `bits:"8"`
	Slot widget `bits:"switch=Kind,slot=24"`
}

func TestPolymorphicSlotZeroPadding(t *testing.T) {
	data, err := Marshal(panel{Kind: 1, Slot: gauge{Raw: 0xBEEF}})
	require.NoError(t, err)
	// 8-bit discriminator + 24-bit slot = 4 bytes; gauge fills 16 of the 24
	// slot bits and the rest stays zero.
	require.Equal(t, []byte{0x01, 0xBE, 0xEF, 0x00}, data)

	got, err := Unmarshal[panel](data)
	require.NoError(t, err)
	require.Equal(t, panel{Kind: 1, Slot: gauge{Raw: 0xBEEF}}, got)
}

func TestPolymorphicVariants(t *testing.T) {
	roundTrip(t, panel{Kind: 2, Slot: dial{Mode: 7, Pos: 0x1234}})
}

func TestPolymorphicUnknownDiscriminator(t *testing.T) {
	_, err := Unmarshal[panel]([]byte{0x09, 0x00, 0x00, 0x00})
	require.ErrorIs(t, err, ErrUnknownVariant)
}

type signedKindPanel struct {
	Kind int8   `bits:"8"`
	Slot widget `bits:"switch=Kind,slot=24"`
}

func TestPolymorphicNegativeDiscriminator(t *testing.T) {
	// Kind deserializes to -1; a negative discriminator is a variant-lookup
	// failure, not a count problem.
	_, err := Unmarshal[signedKindPanel]([]byte{0xFF, 0x00, 0x00, 0x00})
	require.ErrorIs(t, err, ErrUnknownVariant)
	require.NotErrorIs(t, err, ErrListCountMismatch)
}

type sprocket struct {
	X uint8 `bits:"8"`
}

func (s sprocket) widgetBits() uint64 { return 8 }

func TestPolymorphicUnmappedOccupant(t *testing.T) {
	// sprocket implements the interface but was never registered.
	_, err := Marshal(panel{Kind: 3, Slot: sprocket{X: 1}})
	require.ErrorIs(t, err, ErrUnknownVariant)

	_, err = Marshal(panel{Kind: 1, Slot: nil})
	require.ErrorIs(t, err, ErrUnknownVariant)
}

// ============================================================================
// Generic slots
// ============================================================================

// token4 encodes itself as a 4-bit value.
type token4 struct {
	v uint8
}

func (tk *token4) SerializeBits(ac BitAccessor, buf []byte, start uint64) (uint64, error) {
	if err := ac.WriteBits(buf, start, 4, uint64(tk.v)); err != nil {
		return 0, err
	}
	return 4, nil
}

func (tk *token4) DeserializeBits(ac BitAccessor, buf []byte, start uint64) (uint64, error) {
	raw, err := ac.ReadBits(buf, start, 4)
	if err != nil {
		return 0, err
	}
	tk.v = uint8(raw)
	return 4, nil
}

func (tk *token4) BitSize() uint64 { return 4 }

type tokenFrame struct {
	Head uint8 `bits:"4"`
	Tok  token4
	Tail uint8 `bits:"8"`
}

func TestGenericSlot(t *testing.T) {
	v := tokenFrame{Head: 0xA, Tok: token4{v: 0x5}, Tail: 0xC3}
	data, err := Marshal(v)
	require.NoError(t, err)
	require.Equal(t, []byte{0xA5, 0xC3}, data)

	got, err := Unmarshal[tokenFrame](data)
	require.NoError(t, err)
	require.Equal(t, v, got)

	bits, err := BitSizeOf(v)
	require.NoError(t, err)
	require.Equal(t, uint64(16), bits)
}

type tokenPtrFrame struct {
	Tok  *token4
	Tail uint8 `bits:"4"`
}

func TestGenericSlotPointerAllocated(t *testing.T) {
	data, err := Marshal(tokenPtrFrame{Tok: &token4{v: 0x9}, Tail: 0x3})
	require.NoError(t, err)
	require.Equal(t, []byte{0x93}, data)

	got, err := Unmarshal[tokenPtrFrame](data)
	require.NoError(t, err)
	require.NotNil(t, got.Tok)
	require.Equal(t, uint8(0x9), got.Tok.v)
	require.Equal(t, uint8(0x3), got.Tail)

	_, err = Marshal(tokenPtrFrame{Tok: nil})
	require.ErrorIs(t, err, ErrUnknownVariant)
}

// ============================================================================
// Converters
// ============================================================================

type calendarDate struct {
	Year  uint16 `bits:"7,conv=epoch2000"`
	Month uint8  `bits:"4"`
	Day   uint8  `bits:"5"`
}

func TestConverterOnSerialize(t *testing.T) {
	v := calendarDate{Year: 2026, Month: 8, Day: 28}
	data, err := Marshal(v)
	require.NoError(t, err)
	// 26 in 7 bits, 8 in 4 bits, 28 in 5 bits: 0011010 1000 11100.
	require.Equal(t, []byte{0x35, 0x1C}, data)

	got, err := Unmarshal[calendarDate](data)
	require.NoError(t, err)
	require.Equal(t, v, got)
}

func TestConverterFailureAborts(t *testing.T) {
	_, err := Marshal(calendarDate{Year: 1999})
	require.Error(t, err)

	type scaled struct {
		Weight uint16 `bits:"8,conv=centi"`
	}
	_, err = Marshal(scaled{Weight: 250})
	require.Error(t, err)
	data, err := Marshal(scaled{Weight: 300})
	require.NoError(t, err)
	require.Equal(t, []byte{3}, data)
}

// ============================================================================
// Signed semantics
// ============================================================================

type signedFull struct {
	A int8  `bits:"8"`
	B int16 `bits:"16"`
	C int64
}

func TestSignedFullWidthRoundTrip(t *testing.T) {
	roundTrip(t, signedFull{A: -5, B: -12345, C: -1})
	roundTrip(t, signedFull{A: -128, B: -32768, C: -9223372036854775808})
}

type signedNarrow struct {
	A int8 `bits:"4"`
}

func TestSignedNarrowWidthIsRawCopy(t *testing.T) {
	// -1 truncated to 4 bits is 0xF; reading back yields 15, not -1.
	data, err := Marshal(signedNarrow{A: -1})
	require.NoError(t, err)
	require.Equal(t, []byte{0xF0}, data)

	got, err := Unmarshal[signedNarrow](data)
	require.NoError(t, err)
	require.Equal(t, int8(15), got.A)
}

// ============================================================================
// Composite round trips
// ============================================================================

type telemetryRecord struct {
	embeddedFrame2
	Flags    opCode  `bits:"3"`
	Scale    float32 `bits:"32"`
	Readings [4]uint16
	Count    uint8       `bits:"8"`
	Pairs    []innerPair `bits:"countfield=Count"`
}

type embeddedFrame2 struct {
	Magic uint8 `bits:"8"`
	Seq   uint16
}

func TestCompositeRoundTrip(t *testing.T) {
	v := telemetryRecord{
		embeddedFrame2: embeddedFrame2{Magic: 0x7E, Seq: 512},
		Flags:          5,
		Scale:          1.5,
		Readings:       [4]uint16{1, 2, 3, 65535},
		Count:          2,
		Pairs:          []innerPair{{Hi: 0xF, Lo: 0x1}, {Hi: 0x2, Lo: 0xE}},
	}
	roundTrip(t, v)

	bits, err := BitSizeOf(v)
	require.NoError(t, err)
	require.Equal(t, uint64(8+16+3+32+64+8+16), bits)
}

func TestNestedPointerRoundTrip(t *testing.T) {
	v := nestedHolder{
		Head:  0x3,
		Pair:  innerPair{Hi: 0x1, Lo: 0x2},
		Wide:  innerPair{Hi: 0x3, Lo: 0x4},
		PPair: &innerPair{Hi: 0x5, Lo: 0x6},
	}
	roundTrip(t, v)
}

func TestNilNestedPointerSerializesZero(t *testing.T) {
	data, err := Marshal(nestedHolder{})
	require.NoError(t, err)
	got, err := Unmarshal[nestedHolder](data)
	require.NoError(t, err)
	require.NotNil(t, got.PPair)
	require.Equal(t, innerPair{}, *got.PPair)
}

func TestBasePrefixRoundTrip(t *testing.T) {
	v := embeddedFrame{headerBase: headerBase{Magic: 0xAB, Version: 0x9}, Payload: 0x2F3}
	data, err := Marshal(v)
	require.NoError(t, err)
	// Base fields occupy the leading 12 bits, then 10 payload bits:
	// 10101011 1001 1011110011 + 2 pad bits.
	require.Equal(t, []byte{0xAB, 0x9B, 0xCC}, data)

	got, err := Unmarshal[embeddedFrame](data)
	require.NoError(t, err)
	require.Equal(t, v, got)
}

func TestLSBOrderIsIndependent(t *testing.T) {
	v := flagsWord{Version: 0xA, Kind: 0x58, Residue: 0x12}
	msb, err := Marshal(v)
	require.NoError(t, err)
	lsb, err := MarshalLSB(v)
	require.NoError(t, err)
	require.NotEqual(t, msb, lsb)

	got, err := UnmarshalLSB[flagsWord](lsb)
	require.NoError(t, err)
	require.Equal(t, v, got)
}

// ============================================================================
// Buffers and boundaries
// ============================================================================

func TestMarshalInto(t *testing.T) {
	v := flagsWord{Version: 0xA, Kind: 0x58, Residue: 0x12}
	dst := make([]byte, 8)
	n, err := MarshalInto(v, dst)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []byte{0xAB, 0x12}, dst[:n])

	small := make([]byte, 1)
	_, err = MarshalInto(v, small)
	require.ErrorIs(t, err, ErrBufferTooSmall)
	require.Equal(t, []byte{0}, small)
}

func TestUnmarshalShortBuffer(t *testing.T) {
	_, err := Unmarshal[flagsWord]([]byte{0xAB})
	require.ErrorIs(t, err, ErrBitRangeOutOfBounds)
}

func TestMarshalAny(t *testing.T) {
	v := flagsWord{Version: 0xA, Kind: 0x58, Residue: 0x12}
	data, err := MarshalAny(v)
	require.NoError(t, err)
	require.Equal(t, []byte{0xAB, 0x12}, data)

	data, err = MarshalAny(&v)
	require.NoError(t, err)
	require.Equal(t, []byte{0xAB, 0x12}, data)

	var got flagsWord
	require.NoError(t, UnmarshalAny(data, &got))
	require.Equal(t, v, got)

	_, err = MarshalAny(42)
	require.ErrorIs(t, err, ErrUnsupportedFieldType)
	require.ErrorIs(t, UnmarshalAny(data, got), ErrUnsupportedFieldType)
	require.ErrorIs(t, UnmarshalAny(data, nil), ErrUnsupportedFieldType)
}

func TestRegisterWarmsCache(t *testing.T) {
	require.NoError(t, Register[flagsWord]())
	layout, err := LayoutOf[flagsWord]()
	require.NoError(t, err)
	require.NotNil(t, layout)
}

func TestConcurrentFirstUse(t *testing.T) {
	type racer struct {
		A uint32 `bits:"20"`
		B uint16 `bits:"12"`
	}
	resetLayoutCache()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(seed uint32) {
			defer wg.Done()
			v := racer{A: seed, B: uint16(seed)}
			data, err := Marshal(v)
			require.NoError(t, err)
			got, err := Unmarshal[racer](data)
			require.NoError(t, err)
			require.Equal(t, v, got)
		}(uint32(i * 1023))
	}
	wg.Wait()
}
