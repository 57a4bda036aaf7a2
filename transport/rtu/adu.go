// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/modbus/crc"
)

const (
	rtuMinSize = 4
	rtuMaxSize = 256

	// Exception frame: slave + function + code + CRC.
	rtuExceptionSize = 5
)

// adu is one RTU request slot: the PDU core plus the framed transmit
// and receive buffers (slave ID prefix, PDU, CRC trailer) and the slave
// set driving rotation.
type adu struct {
	pdu         modbus.PDU
	txFrame     []byte
	rxFrame     []byte
	responseLen int
	slaves      modbus.Slaves
}

func newADU(pduSize, poolIx int) *adu {
	a := &adu{
		txFrame: make([]byte, modbus.RTUHeaderLen+pduSize+modbus.RTUCRCLen),
		rxFrame: make([]byte, modbus.RTUHeaderLen+pduSize+modbus.RTUCRCLen),
	}
	a.pdu.InitBuffers(
		a.txFrame[modbus.RTUHeaderLen:modbus.RTUHeaderLen+pduSize],
		a.rxFrame[modbus.RTUHeaderLen:modbus.RTUHeaderLen+pduSize],
		poolIx,
	)
	return a
}

// PDU exposes the core for the queue and the facade.
func (a *adu) PDU() *modbus.PDU { return &a.pdu }

// frame stamps the slave ID prefix and the CRC trailer around the built
// PDU. Must run after the request builder.
func (a *adu) frame(slave uint8) {
	a.txFrame[0] = slave
	crc.Append(a.txFrame, modbus.RTUHeaderLen+len(a.pdu.TX()))
}

// txLen returns the framed request length.
func (a *adu) txLen() int {
	return modbus.RTUHeaderLen + len(a.pdu.TX()) + modbus.RTUCRCLen
}

// expectedLen returns the expected framed response length.
func (a *adu) expectedLen() int {
	return modbus.RTUHeaderLen + a.pdu.ExpectedResponseLen() + modbus.RTUCRCLen
}

// checkHead verifies the echoed slave ID against the one sent.
func (a *adu) checkHead() bool {
	return a.rxFrame[0] == a.txFrame[0]
}

// checkCRC verifies the response trailer.
func (a *adu) checkCRC() bool {
	return crc.Verify(a.rxFrame[:a.responseLen])
}

// release returns the slot to the pool.
func (a *adu) release() {
	a.pdu.Reset()
	a.responseLen = 0
	a.slaves.Clear()
}
