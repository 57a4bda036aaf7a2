// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package store keeps the last-known value of every polled data point:
// a fixed per-slave image of the four Modbus tables, either in memory
// or memory-mapped to a file so the snapshot survives restarts.
package store

import "encoding/binary"

// TableType selects one of the four Modbus data tables.
type TableType int

const (
	TableCoils TableType = iota
	TableDiscreteInputs
	TableHoldingRegisters
	TableInputRegisters
)

// Span is the per-slave, per-table address range the cache covers.
// Addresses at or above Span are silently ignored.
const Span = 1000

const (
	slaveCount = 248 // IDs 0-247

	sizeBits      = Span     // one byte per coil/discrete input
	sizeRegisters = Span * 2 // big-endian uint16 per register

	slaveBlock = 2*sizeBits + 2*sizeRegisters

	offsetCoils    = 0
	offsetDiscrete = offsetCoils + sizeBits
	offsetHolding  = offsetDiscrete + sizeBits
	offsetInput    = offsetHolding + sizeRegisters

	totalSize = slaveCount * slaveBlock
)

// Cache is the snapshot image. Multi-byte values are stored big-endian
// so a file written on one architecture reads back on any other.
type Cache struct {
	data    []byte
	backing backing
}

// backing is what owns the data slice: heap memory or an mmap.
type backing interface {
	Flush() error
	Close() error
}

// Open returns a cache persisted at path, or a memory-only cache when
// path is empty.
func Open(path string) (*Cache, error) {
	if path == "" {
		return &Cache{data: make([]byte, totalSize), backing: memoryBacking{}}, nil
	}
	return openMmap(path)
}

func (c *Cache) offset(table TableType, slave uint8) (int, bool) {
	base := int(slave) * slaveBlock
	switch table {
	case TableCoils:
		return base + offsetCoils, true
	case TableDiscreteInputs:
		return base + offsetDiscrete, true
	case TableHoldingRegisters:
		return base + offsetHolding, true
	case TableInputRegisters:
		return base + offsetInput, true
	}
	return 0, false
}

// SetRegister records a register value.
func (c *Cache) SetRegister(table TableType, slave uint8, addr uint16, value uint16) {
	off, ok := c.offset(table, slave)
	if !ok || addr >= Span || (table != TableHoldingRegisters && table != TableInputRegisters) {
		return
	}
	binary.BigEndian.PutUint16(c.data[off+int(addr)*2:], value)
}

// Register returns the recorded register value, zero if never written.
func (c *Cache) Register(table TableType, slave uint8, addr uint16) uint16 {
	off, ok := c.offset(table, slave)
	if !ok || addr >= Span || (table != TableHoldingRegisters && table != TableInputRegisters) {
		return 0
	}
	return binary.BigEndian.Uint16(c.data[off+int(addr)*2:])
}

// SetBit records a coil or discrete input state.
func (c *Cache) SetBit(table TableType, slave uint8, addr uint16, value bool) {
	off, ok := c.offset(table, slave)
	if !ok || addr >= Span || (table != TableCoils && table != TableDiscreteInputs) {
		return
	}
	v := byte(0)
	if value {
		v = 1
	}
	c.data[off+int(addr)] = v
}

// Bit returns the recorded coil or discrete input state.
func (c *Cache) Bit(table TableType, slave uint8, addr uint16) bool {
	off, ok := c.offset(table, slave)
	if !ok || addr >= Span || (table != TableCoils && table != TableDiscreteInputs) {
		return false
	}
	return c.data[off+int(addr)] != 0
}

// Flush pushes the image to its backing store.
func (c *Cache) Flush() error { return c.backing.Flush() }

// Close flushes and releases the backing store.
func (c *Cache) Close() error { return c.backing.Close() }

// memoryBacking is the no-op backing for a memory-only cache.
type memoryBacking struct{}

func (memoryBacking) Flush() error { return nil }
func (memoryBacking) Close() error { return nil }
