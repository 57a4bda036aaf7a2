// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"sync/atomic"
	"time"

	"github.com/ffutop/modbus-master/modbus"
)

const (
	tcpMinSize = 8
	tcpMaxSize = 260
)

// transactionID is the process-wide MBAP transaction counter. It is
// monotonically nondecreasing, wraps at 16 bits and is not required to
// be unique across engines.
var transactionID uint32

// adu is one TCP request slot: the PDU core plus the MBAP-framed
// transmit and receive buffers, the sent timestamp the window scans for
// timeouts, and the slave set driving rotation.
type adu struct {
	pdu     modbus.PDU
	txFrame []byte
	rxFrame []byte
	sentAt  time.Time
	slaves  modbus.Slaves
}

func newADU(pduSize, poolIx int) *adu {
	a := &adu{
		txFrame: make([]byte, modbus.MBAPLen+pduSize),
		rxFrame: make([]byte, modbus.MBAPLen+pduSize),
	}
	a.pdu.InitBuffers(
		a.txFrame[modbus.MBAPLen:modbus.MBAPLen+pduSize],
		a.rxFrame[modbus.MBAPLen:modbus.MBAPLen+pduSize],
		poolIx,
	)
	return a
}

// PDU exposes the core for the queue and the facade.
func (a *adu) PDU() *modbus.PDU { return &a.pdu }

// setMBAP stamps a fresh transaction ID and the MBAP header:
// [tid-hi tid-lo 0x00 0x00 len-hi len-lo unit], len = 1 + PDU length.
func (a *adu) setMBAP(slave uint8) {
	tid := uint16(atomic.AddUint32(&transactionID, 1))
	length := uint16(len(a.pdu.TX()) + 1)
	a.txFrame[0] = byte(tid >> 8)
	a.txFrame[1] = byte(tid)
	a.txFrame[2] = 0x00
	a.txFrame[3] = 0x00
	a.txFrame[4] = byte(length >> 8)
	a.txFrame[5] = byte(length)
	a.txFrame[6] = slave
}

// transaction returns the transaction ID of the sent frame.
func (a *adu) transaction() uint16 {
	return uint16(a.txFrame[0])<<8 | uint16(a.txFrame[1])
}

// txLen returns the framed request length.
func (a *adu) txLen() int {
	return modbus.MBAPLen + len(a.pdu.TX())
}

// checkMBAP validates the response header against the sent one:
// transaction ID, protocol ID zero, unit ID.
func (a *adu) checkMBAP() modbus.Err {
	if a.rxFrame[0] != a.txFrame[0] || a.rxFrame[1] != a.txFrame[1] {
		return modbus.ErrInvalidMBAPTransactionID
	}
	if a.rxFrame[2] != 0x00 || a.rxFrame[3] != 0x00 {
		return modbus.ErrInvalidMBAPProtocolID
	}
	if a.rxFrame[6] != a.txFrame[6] {
		return modbus.ErrInvalidMBAPUnitID
	}
	return modbus.Success
}

// release returns the slot to the pool.
func (a *adu) release() {
	a.pdu.Reset()
	a.sentAt = time.Time{}
	a.slaves.Clear()
}
