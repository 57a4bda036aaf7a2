// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestPackedLengthProperty(t *testing.T) {
	// Packed length is count * ((size + 1) &^ 1) for every element size.
	for _, elemSize := range []int{1, 2, 3, 4, 5, 7, 8} {
		for _, count := range []int{1, 2, 5} {
			src := make([]byte, count*elemSize)
			dst := make([]byte, 256)
			n, ok := packRegisters(dst, src, count, elemSize)
			assert.Assert(t, ok, "elemSize=%d count=%d", elemSize, count)
			assert.Equal(t, n, count*((elemSize+1)&^1), "elemSize=%d count=%d", elemSize, count)
		}
	}
}

func TestPackRoundTrip(t *testing.T) {
	for _, elemSize := range []int{1, 2, 3, 4, 8} {
		count := 3
		src := make([]byte, count*elemSize)
		for i := range src {
			src[i] = byte(i*37 + 11)
		}
		buf := make([]byte, 256)
		n, ok := packRegisters(buf, src, count, elemSize)
		assert.Assert(t, ok)

		m := unpackRegistersInPlace(buf[:n], count, elemSize)
		assert.Equal(t, m, count*elemSize, "elemSize=%d", elemSize)
		assert.DeepEqual(t, buf[:m], src)
	}
}

func TestPackOddSizePadsWithZero(t *testing.T) {
	src := []byte{0xAA, 0xBB, 0xCC} // one 24-bit element
	dst := make([]byte, 4)
	n, ok := packRegisters(dst, src, 1, 3)
	assert.Assert(t, ok)
	assert.Equal(t, n, 4)
	assert.DeepEqual(t, dst, []byte{0xAA, 0xBB, 0xCC, 0x00})
}

func TestPutValueWireOrder(t *testing.T) {
	// A 32-bit element 0x11223344 occupies registers 0x1122, 0x3344:
	// the wire bytes are 11 22 33 44 on every host.
	var buf [4]byte
	putValue(buf[:], uint32(0x11223344))
	assert.DeepEqual(t, buf[:], []byte{0x11, 0x22, 0x33, 0x44})
	assert.Equal(t, valueAt[uint32](buf[:]), uint32(0x11223344))
}

func TestValueRoundTrip(t *testing.T) {
	var b16 [2]byte
	putValue(b16[:], int16(-12345))
	assert.Equal(t, valueAt[int16](b16[:]), int16(-12345))

	var b32 [4]byte
	putValue(b32[:], float32(3.14159))
	assert.Equal(t, valueAt[float32](b32[:]), float32(3.14159))

	var b64 [8]byte
	putValue(b64[:], uint64(0xDEADBEEFCAFEF00D))
	assert.Equal(t, valueAt[uint64](b64[:]), uint64(0xDEADBEEFCAFEF00D))

	putValue(b64[:], float64(-2.718281828))
	assert.Equal(t, valueAt[float64](b64[:]), float64(-2.718281828))
}

func TestSizeOf(t *testing.T) {
	assert.Equal(t, sizeOf[uint16](), 2)
	assert.Equal(t, sizeOf[int16](), 2)
	assert.Equal(t, sizeOf[uint32](), 4)
	assert.Equal(t, sizeOf[float32](), 4)
	assert.Equal(t, sizeOf[int64](), 8)
	assert.Equal(t, sizeOf[float64](), 8)
}

func TestTypedReadDecoding(t *testing.T) {
	p := newTestPDU(MaxPDUSize)
	assert.Equal(t, p.buildReadRegisters(FuncCodeReadHoldingRegister, 0, 2, 4), Success)
	// Two uint32 elements -> 4 registers -> byte count 8.
	assert.DeepEqual(t, p.TX(), []byte{0x03, 0x00, 0x00, 0x00, 0x04})

	var got []uint32
	p.Acquire(func(p *PDU) { got = Values[uint32](p) }, 1)
	respond(t, p, []byte{0x03, 0x08, 0x11, 0x22, 0x33, 0x44, 0xDE, 0xAD, 0xBE, 0xEF})
	assert.DeepEqual(t, got, []uint32{0x11223344, 0xDEADBEEF})
}

func TestTypedWritePacking(t *testing.T) {
	p := newTestPDU(MaxPDUSize)
	var buf [8]byte
	putValue(buf[0:], uint32(0x11223344))
	putValue(buf[4:], uint32(0x55667788))
	assert.Equal(t, p.buildWriteMultipleRegisters(0x0100, buf[:], 2, 4), Success)
	assert.DeepEqual(t, p.TX(), []byte{
		0x10, 0x01, 0x00, 0x00, 0x04, 0x08,
		0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88,
	})
}
