// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

// Transport is the capability the typed request surface is composed
// over. The RTU master and the TCP client implement it.
type Transport interface {
	// AcquirePDU takes a free pool slot, installs the callback and
	// stamps the first target slave (the given ID, or the first ID the
	// target's slave set yields). It returns nil after delivering
	// ErrNoMoreFreeADU (or ErrInvalidArgument for an empty set) through
	// the callback.
	AcquirePDU(cb Callback, target Target) *PDU

	// DispatchPDU frames the built request for p.Slave() and places it
	// on the pending queue. On failure the error has already been
	// delivered and the slot released.
	DispatchPDU(p *PDU) bool
}

// Target selects the slave(s) a request goes to: a single unit ID or a
// slave set for rotation.
type Target struct {
	set    Slaves
	single uint8
	hasSet bool
}

// Unit targets a single slave ID (0 broadcasts, RTU write-class only).
func Unit(id uint8) Target {
	return Target{single: id}
}

// Group targets every ID in the set in increasing order, honoring the
// set's inter-slave and repeat-cycle delays. The set is copied.
func Group(s Slaves) Target {
	return Target{set: s, hasSet: true}
}

// HasSet reports whether the target carries a slave set.
func (t Target) HasSet() bool { return t.hasSet }

// Set returns the carried slave set.
func (t Target) Set() Slaves { return t.set }

// Single returns the single unit ID.
func (t Target) Single() uint8 { return t.single }

// Master is the typed request surface over a Transport. All methods are
// non-blocking: they enqueue and return, or deliver an error through
// the callback synchronously.
type Master struct {
	transport Transport
}

// NewMaster wraps a transport with the typed request surface.
func NewMaster(t Transport) Master {
	return Master{transport: t}
}

// guardUnit rejects broadcast for request classes that need a response.
func (m Master) guardUnit(target Target, cb Callback) bool {
	if !target.hasSet && target.single == 0 {
		cb(NewErrorPDU(0, ErrInvalidSlave))
		return false
	}
	return true
}

// issue runs a builder on a fresh slot and dispatches the result.
func (m Master) issue(target Target, cb Callback, build func(p *PDU) Err) {
	p := m.transport.AcquirePDU(cb, target)
	if p == nil {
		return
	}
	if build(p) != Success {
		p.Deliver()
		p.Reset()
		return
	}
	m.transport.DispatchPDU(p)
}

// ReadCoil reads a single coil (FC 0x01).
func (m Master) ReadCoil(target Target, addr uint16, cb Callback) {
	m.ReadCoils(target, addr, 1, cb)
}

// ReadCoils reads count coils (FC 0x01). Bit(i) indexes the result.
func (m Master) ReadCoils(target Target, addr, count uint16, cb Callback) {
	if !m.guardUnit(target, cb) {
		return
	}
	m.issue(target, cb, func(p *PDU) Err {
		return p.buildReadBits(FuncCodeReadCoils, addr, count)
	})
}

// ReadCoilsByBytes reads byteCount*8 coils (FC 0x01).
func (m Master) ReadCoilsByBytes(target Target, addr uint16, byteCount uint8, cb Callback) {
	m.ReadCoils(target, addr, uint16(byteCount)*8, cb)
}

// ReadDiscreteInput reads a single discrete input (FC 0x02).
func (m Master) ReadDiscreteInput(target Target, addr uint16, cb Callback) {
	m.ReadDiscreteInputs(target, addr, 1, cb)
}

// ReadDiscreteInputs reads count discrete inputs (FC 0x02).
func (m Master) ReadDiscreteInputs(target Target, addr, count uint16, cb Callback) {
	if !m.guardUnit(target, cb) {
		return
	}
	m.issue(target, cb, func(p *PDU) Err {
		return p.buildReadBits(FuncCodeReadDiscreteInputs, addr, count)
	})
}

// ReadDiscreteInputsByBytes reads byteCount*8 discrete inputs (FC 0x02).
func (m Master) ReadDiscreteInputsByBytes(target Target, addr uint16, byteCount uint8, cb Callback) {
	m.ReadDiscreteInputs(target, addr, uint16(byteCount)*8, cb)
}

// ReadHoldingRegisters reads count 16-bit holding registers (FC 0x03).
func (m Master) ReadHoldingRegisters(target Target, addr uint16, count int, cb Callback) {
	ReadHoldingRegistersAs[uint16](m, target, addr, count, cb)
}

// ReadInputRegisters reads count 16-bit input registers (FC 0x04).
func (m Master) ReadInputRegisters(target Target, addr uint16, count int, cb Callback) {
	ReadInputRegistersAs[uint16](m, target, addr, count, cb)
}

// WriteSingleCoil writes one coil (FC 0x05). Broadcast allowed on RTU.
func (m Master) WriteSingleCoil(target Target, addr uint16, value bool, cb Callback) {
	m.issue(target, cb, func(p *PDU) Err {
		return p.buildWriteSingleCoil(addr, value)
	})
}

// WriteSingleHoldingRegister writes one 16-bit register (FC 0x06).
// Broadcast allowed on RTU.
func (m Master) WriteSingleHoldingRegister(target Target, addr, value uint16, cb Callback) {
	m.issue(target, cb, func(p *PDU) Err {
		return p.buildWriteSingleRegister(addr, value)
	})
}

// WriteCoils writes coilCount coils from a pre-packed byte image
// (FC 0x0F). Broadcast allowed on RTU.
func (m Master) WriteCoils(target Target, addr uint16, src []byte, byteCount int, coilCount uint16, cb Callback) {
	m.issue(target, cb, func(p *PDU) Err {
		return p.buildWriteMultipleCoilsBytes(addr, src, byteCount, coilCount)
	})
}

// WriteCoilValues writes len(values) coils (FC 0x0F). Broadcast allowed
// on RTU.
func (m Master) WriteCoilValues(target Target, addr uint16, values []bool, cb Callback) {
	m.issue(target, cb, func(p *PDU) Err {
		return p.buildWriteMultipleCoilsBools(addr, values)
	})
}

// MaskWriteRegister applies AND and OR masks to a holding register
// (FC 0x16). Broadcast allowed on RTU.
func (m Master) MaskWriteRegister(target Target, addr, andMask, orMask uint16, cb Callback) {
	m.issue(target, cb, func(p *PDU) Err {
		return p.buildMaskWriteRegister(addr, andMask, orMask)
	})
}

// ReadExceptionStatus reads the eight-bit exception status (FC 0x07,
// serial line only).
func (m Master) ReadExceptionStatus(target Target, cb Callback) {
	if !m.guardUnit(target, cb) {
		return
	}
	m.issue(target, cb, func(p *PDU) Err {
		return p.buildReadExceptionStatus()
	})
}

// Diagnostic issues a diagnostics request (FC 0x08, serial line only).
func (m Master) Diagnostic(target Target, sub, value uint16, cb Callback) {
	if !m.guardUnit(target, cb) {
		return
	}
	m.issue(target, cb, func(p *PDU) Err {
		return p.buildDiagnostics(sub, value)
	})
}

// ReadHoldingRegistersAs reads count elements of type T from holding
// registers (FC 0x03). Use At[T]/Values[T] on the callback PDU.
func ReadHoldingRegistersAs[T Value](m Master, target Target, addr uint16, count int, cb Callback) {
	if !m.guardUnit(target, cb) {
		return
	}
	m.issue(target, cb, func(p *PDU) Err {
		return p.buildReadRegisters(FuncCodeReadHoldingRegister, addr, count, sizeOf[T]())
	})
}

// ReadInputRegistersAs reads count elements of type T from input
// registers (FC 0x04).
func ReadInputRegistersAs[T Value](m Master, target Target, addr uint16, count int, cb Callback) {
	if !m.guardUnit(target, cb) {
		return
	}
	m.issue(target, cb, func(p *PDU) Err {
		return p.buildReadRegisters(FuncCodeReadInputRegister, addr, count, sizeOf[T]())
	})
}

// WriteHoldingRegister writes one element of type T across consecutive
// registers (FC 0x10). Broadcast allowed on RTU.
func WriteHoldingRegister[T Value](m Master, target Target, addr uint16, value T, cb Callback) {
	WriteHoldingRegisters(m, target, addr, []T{value}, cb)
}

// WriteHoldingRegisters writes the values across consecutive registers
// (FC 0x10). Broadcast allowed on RTU.
func WriteHoldingRegisters[T Value](m Master, target Target, addr uint16, values []T, cb Callback) {
	m.issue(target, cb, func(p *PDU) Err {
		size := sizeOf[T]()
		var buf [MaxPDUSize]byte
		if len(values)*size > len(buf) {
			return p.fail(ErrTooManyData)
		}
		for i, v := range values {
			putValue(buf[i*size:], v)
		}
		return p.buildWriteMultipleRegisters(addr, buf[:len(values)*size], len(values), size)
	})
}

// ReadWriteRegisters writes the values at writeAddr and reads readCount
// elements of type R from readAddr in one transaction (FC 0x17).
func ReadWriteRegisters[R, W Value](m Master, target Target, readAddr uint16, readCount int,
	writeAddr uint16, values []W, cb Callback) {
	if !m.guardUnit(target, cb) {
		return
	}
	m.issue(target, cb, func(p *PDU) Err {
		size := sizeOf[W]()
		var buf [MaxPDUSize]byte
		if len(values)*size > len(buf) {
			return p.fail(ErrTooManyData)
		}
		for i, v := range values {
			putValue(buf[i*size:], v)
		}
		return p.buildReadWriteRegisters(readAddr, readCount, sizeOf[R](),
			writeAddr, buf[:len(values)*size], len(values), size)
	})
}
