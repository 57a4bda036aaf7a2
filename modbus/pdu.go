// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import "time"

// Callback receives the completed PDU: either a validated response
// (Err() == Success, data accessors live) or a failure. The PDU is only
// valid for the duration of the call; the engine recycles it afterwards.
type Callback func(*PDU)

// PDU is the transport-independent half of a request slot: the transmit
// and receive buffers (windows into the owning ADU frame), the expected
// response header captured at build time, and the scheduling state the
// queue reads.
//
// PDUs are created once at engine init and cycled through
// acquire -> build -> enqueue -> transmit -> validate -> deliver -> release.
type PDU struct {
	callback Callback
	tx       []byte // transmit window, cap Size
	rx       []byte // receive window, cap Size
	txLen    int
	head     [maxResponseHead]byte // expected response prefix
	dataBeg  int
	dataLen  int
	err      Err
	expected int // expected response PDU length
	elemSize int
	used     bool
	size     int // PDU capacity
	queuedAt time.Time
	delay    time.Duration
	slave    uint8
	poolIx   int
}

// InitBuffers attaches the transmit and receive windows carved out of
// the owning ADU frame. Called once per pool slot at engine init.
func (p *PDU) InitBuffers(tx, rx []byte, poolIx int) {
	p.tx = tx
	p.rx = rx
	p.size = len(tx)
	p.poolIx = poolIx
}

// NewErrorPDU returns a detached PDU carrying only a slave ID and an
// error, used to deliver failures when no pool slot could be taken.
func NewErrorPDU(slave uint8, err Err) *PDU {
	return &PDU{slave: slave, err: err, poolIx: -1}
}

// Acquire marks the slot used and installs the response callback and
// initial target slave.
func (p *PDU) Acquire(cb Callback, slave uint8) {
	p.used = true
	p.callback = cb
	p.slave = slave
}

// Reset returns the slot to the free state. Buffers stay attached.
func (p *PDU) Reset() {
	p.callback = nil
	p.txLen = 0
	p.dataBeg = 0
	p.dataLen = 0
	p.err = 0
	p.expected = 0
	p.elemSize = 0
	p.used = false
	p.queuedAt = time.Time{}
	p.delay = 0
	p.slave = 0
}

// Used reports whether the slot is taken.
func (p *PDU) Used() bool { return p.used }

// PoolIndex returns the slot's position in its engine pool, -1 for
// detached error PDUs.
func (p *PDU) PoolIndex() int { return p.poolIx }

// Err returns the completion status.
func (p *PDU) Err() Err { return p.err }

// SetErr records a failure prior to delivery.
func (p *PDU) SetErr(err Err) { p.err = err }

// Slave returns the target (or responding) slave ID.
func (p *PDU) Slave() uint8 { return p.slave }

// SetSlave retargets the request; used by slave-set rotation.
func (p *PDU) SetSlave(slave uint8) { p.slave = slave }

// Size returns the PDU buffer capacity.
func (p *PDU) Size() int { return p.size }

// TX returns the built request bytes (function code + payload).
func (p *PDU) TX() []byte { return p.tx[:p.txLen] }

// RX returns the receive window for the transport to fill.
func (p *PDU) RX() []byte { return p.rx }

// RequestFunction returns the function code of the built request.
func (p *PDU) RequestFunction() byte { return p.head[0] }

// ExpectedResponseLen returns the expected response PDU length computed
// at build time (exception responses are shorter).
func (p *PDU) ExpectedResponseLen() int { return p.expected }

// Schedule stamps the queue entry time and the delay before the slot
// becomes ready to transmit.
func (p *PDU) Schedule(now time.Time, delay time.Duration) {
	p.queuedAt = now
	p.delay = delay
}

// Ready reports whether the scheduled delay has elapsed.
func (p *PDU) Ready(now time.Time) bool {
	return !now.Before(p.queuedAt.Add(p.delay))
}

// DelayToSend returns the scheduled delay, the queue's tie-break key.
func (p *PDU) DelayToSend() time.Duration { return p.delay }

// Deliver invokes the stored callback, if any. The engine calls this
// exactly once per completion, then resolves slave-set repetition
// before releasing the slot.
func (p *PDU) Deliver() {
	if p.callback != nil {
		p.callback(p)
	}
}

// Complete validates the received response PDU against the expected
// header captured at build time, decodes the data region, and delivers
// the result. It returns the final status.
//
// The validation order follows the protocol: exception frame first,
// then function echo, then the per-function field checks.
func (p *PDU) Complete() Err {
	if p.err != 0 {
		p.dataBeg = 0
		p.dataLen = 0
		p.Deliver()
		return p.err
	}
	if p.rx[0] == p.head[0]|exceptionBit {
		p.err = exceptionFromByte(p.rx[1])
		p.dataBeg = 0
		p.dataLen = 0
		p.Deliver()
		return p.err
	}
	if p.rx[0] != p.head[0] {
		p.err = ErrInvalidFunction
		p.dataBeg = 0
		p.dataLen = 0
		p.Deliver()
		return p.err
	}

	switch p.rx[0] {
	case FuncCodeReadCoils,
		FuncCodeReadDiscreteInputs,
		FuncCodeReadHoldingRegister,
		FuncCodeReadInputRegister,
		FuncCodeReadWriteMultipleRegister:
		if p.rx[1] != p.head[1] {
			p.err = ErrInvalidByteLength
			break
		}
		p.dataBeg = 2
		p.dataLen = int(p.rx[1])
		if p.elemSize > 0 && p.dataLen%2 == 0 {
			elemCount := p.dataLen / paddedSize(p.elemSize)
			if n := unpackRegistersInPlace(p.rx[p.dataBeg:], elemCount, p.elemSize); n >= 0 {
				p.dataLen = n
			}
		}

	case FuncCodeWriteSingleCoil, FuncCodeWriteSingleRegister:
		if p.rx[1] != p.head[1] || p.rx[2] != p.head[2] {
			p.err = ErrInvalidAddress
			break
		}
		if p.rx[3] != p.head[3] || p.rx[4] != p.head[4] {
			p.err = ErrInvalidData
			break
		}

	case FuncCodeReadExceptionStatus:
		p.dataBeg = 1
		p.dataLen = 1

	case FuncCodeDiagnostics:
		if p.rx[1] != p.head[1] || p.rx[2] != p.head[2] {
			p.err = ErrInvalidSubFunction
			break
		}
		p.dataBeg = 3
		p.dataLen = 2

	case FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegister:
		if p.rx[1] != p.head[1] || p.rx[2] != p.head[2] {
			p.err = ErrInvalidAddress
			break
		}
		if p.rx[3] != p.head[3] || p.rx[4] != p.head[4] {
			p.err = ErrInvalidDataQuantity
			break
		}

	case FuncCodeMaskWriteRegister:
		if p.rx[1] != p.head[1] || p.rx[2] != p.head[2] {
			p.err = ErrInvalidAddress
			break
		}
		if p.rx[3] != p.head[3] || p.rx[4] != p.head[4] ||
			p.rx[5] != p.head[5] || p.rx[6] != p.head[6] {
			p.err = ErrInvalidData
			break
		}

	default:
		p.err = ErrNotSupported
	}

	if p.err != 0 {
		p.dataBeg = 0
		p.dataLen = 0
	}
	p.Deliver()
	return p.err
}

// Function returns the function code of the received response.
func (p *PDU) Function() byte {
	if len(p.rx) == 0 {
		return 0
	}
	return p.rx[0]
}

// ByteLen returns the length of the decoded data region in bytes.
func (p *PDU) ByteLen() int { return p.dataLen }

// Byte returns data byte ix, or 0 out of range.
func (p *PDU) Byte(ix int) byte {
	if ix < 0 || ix >= p.dataLen {
		return 0
	}
	return p.rx[p.dataBeg+ix]
}

// Bit returns coil/discrete-input bit ix of the data region, packed
// LSB first within each byte.
func (p *PDU) Bit(ix int) bool {
	if ix < 0 || ix >= p.dataLen*8 {
		return false
	}
	return p.rx[p.dataBeg+ix/8]>>(ix%8)&0x01 != 0
}

// Bytes returns the raw data region.
func (p *PDU) Bytes() []byte {
	if p.dataLen == 0 {
		return nil
	}
	return p.rx[p.dataBeg : p.dataBeg+p.dataLen]
}

// Uint16 returns register element ix of a plain 16-bit read.
func (p *PDU) Uint16(ix int) uint16 { return At[uint16](p, ix) }

// At returns element ix of the decoded register data as T. The element
// size must match the one the request was built with.
func At[T Value](p *PDU, ix int) T {
	size := sizeOf[T]()
	if ix < 0 || (ix+1)*size > p.dataLen {
		var zero T
		return zero
	}
	return valueAt[T](p.rx[p.dataBeg+ix*size:])
}

// Values decodes the whole data region as a slice of T.
func Values[T Value](p *PDU) []T {
	size := sizeOf[T]()
	n := p.dataLen / size
	if n == 0 {
		return nil
	}
	out := make([]T, n)
	for i := range out {
		out[i] = valueAt[T](p.rx[p.dataBeg+i*size:])
	}
	return out
}

// Len returns the number of T elements in the data region.
func Len[T Value](p *PDU) int { return p.dataLen / sizeOf[T]() }
