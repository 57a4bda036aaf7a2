// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"encoding/binary"
	"math"
)

// Value enumerates the element types the typed register operations
// accept. Elements larger than one register span consecutive registers
// in big-endian order: 0x11223344 travels as registers 0x1122, 0x3344.
type Value interface {
	~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 | ~float32 | ~float64
}

// sizeOf returns the wire size of T in bytes.
func sizeOf[T Value]() int {
	var v T
	switch any(v).(type) {
	case int16, uint16:
		return 2
	case int32, uint32, float32:
		return 4
	default:
		return 8
	}
}

// putValue writes the big-endian image of v into b.
func putValue[T Value](b []byte, v T) {
	switch x := any(v).(type) {
	case int16:
		binary.BigEndian.PutUint16(b, uint16(x))
	case uint16:
		binary.BigEndian.PutUint16(b, x)
	case int32:
		binary.BigEndian.PutUint32(b, uint32(x))
	case uint32:
		binary.BigEndian.PutUint32(b, x)
	case float32:
		binary.BigEndian.PutUint32(b, math.Float32bits(x))
	case int64:
		binary.BigEndian.PutUint64(b, uint64(x))
	case uint64:
		binary.BigEndian.PutUint64(b, x)
	case float64:
		binary.BigEndian.PutUint64(b, math.Float64bits(x))
	}
}

// valueAt reads the big-endian image of T from b.
func valueAt[T Value](b []byte) T {
	var v T
	switch any(v).(type) {
	case int16:
		v = any(int16(binary.BigEndian.Uint16(b))).(T)
	case uint16:
		v = any(binary.BigEndian.Uint16(b)).(T)
	case int32:
		v = any(int32(binary.BigEndian.Uint32(b))).(T)
	case uint32:
		v = any(binary.BigEndian.Uint32(b)).(T)
	case float32:
		v = any(math.Float32frombits(binary.BigEndian.Uint32(b))).(T)
	case int64:
		v = any(int64(binary.BigEndian.Uint64(b))).(T)
	case uint64:
		v = any(binary.BigEndian.Uint64(b)).(T)
	case float64:
		v = any(math.Float64frombits(binary.BigEndian.Uint64(b))).(T)
	}
	return v
}

// paddedSize rounds an element size up to a whole number of registers.
func paddedSize(elemSize int) int {
	return (elemSize + 1) &^ 1
}

// packRegisters writes elemCount elements of elemSize bytes from src
// (big-endian element images, back to back) into dst as a register
// image, appending a zero pad byte to odd-sized elements. It returns
// the packed length and false if dst cannot hold it.
func packRegisters(dst, src []byte, elemCount, elemSize int) (int, bool) {
	if elemSize <= 0 || len(src) < elemCount*elemSize {
		return 0, false
	}
	padded := paddedSize(elemSize)
	total := elemCount * padded
	if len(dst) < total {
		return 0, false
	}
	for i := 0; i < elemCount; i++ {
		copy(dst[i*padded:], src[i*elemSize:(i+1)*elemSize])
		if padded > elemSize {
			dst[i*padded+padded-1] = 0x00
		}
	}
	return total, true
}

// unpackRegistersInPlace collapses a padded register image back to
// elemCount contiguous elements of elemSize bytes, stripping the pad
// byte of odd-sized elements. It returns the resulting data length,
// or -1 if buf is shorter than the padded image.
func unpackRegistersInPlace(buf []byte, elemCount, elemSize int) int {
	if elemSize <= 0 || elemCount < 0 {
		return -1
	}
	padded := paddedSize(elemSize)
	if len(buf) < elemCount*padded {
		return -1
	}
	if padded == elemSize {
		return elemCount * elemSize
	}
	for i := 0; i < elemCount; i++ {
		copy(buf[i*elemSize:], buf[i*padded:i*padded+elemSize])
	}
	return elemCount * elemSize
}

// toRegisterCount converts a byte count to the register count covering it.
func toRegisterCount(byteCount int) int {
	return (byteCount + 1) / 2
}
