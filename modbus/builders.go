// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

// Request builders. Each writes the transmit buffer and the expected
// response header used later for field-by-field validation, and records
// the expected response length. On failure the error is stored on the
// PDU and returned; the facade delivers it through the callback.

// buildReadBits builds FC 0x01/0x02 for count coils or discrete inputs.
func (p *PDU) buildReadBits(fn byte, addr, count uint16) Err {
	if count == 0 {
		return p.fail(ErrTooFewData)
	}
	if count > MaxReadCoils {
		return p.fail(ErrTooManyData)
	}
	byteCount := (int(count) + 7) / 8
	if p.size < 5 || p.size < 2+byteCount {
		return p.fail(ErrBufferTooSmall)
	}
	p.tx[0] = fn
	p.head[0] = fn
	p.tx[1] = byte(addr >> 8)
	p.tx[2] = byte(addr)
	p.tx[3] = byte(count >> 8)
	p.tx[4] = byte(count)
	p.txLen = 5
	p.head[1] = byte(byteCount)
	p.expected = 2 + byteCount
	return Success
}

// buildReadRegisters builds FC 0x03/0x04 for elemCount elements of
// elemSize bytes each (even elemSize; elemSize 2 is a plain register).
func (p *PDU) buildReadRegisters(fn byte, addr uint16, elemCount, elemSize int) Err {
	if elemCount <= 0 {
		return p.fail(ErrTooFewData)
	}
	byteCount := elemCount * paddedSize(elemSize)
	regCount := toRegisterCount(byteCount)
	if regCount > MaxReadRegisters {
		return p.fail(ErrTooManyData)
	}
	if p.size < 5 || p.size < 2+byteCount {
		return p.fail(ErrBufferTooSmall)
	}
	p.tx[0] = fn
	p.head[0] = fn
	p.tx[1] = byte(addr >> 8)
	p.tx[2] = byte(addr)
	p.tx[3] = byte(regCount >> 8)
	p.tx[4] = byte(regCount)
	p.txLen = 5
	p.head[1] = byte(byteCount)
	p.expected = 2 + byteCount
	p.elemSize = elemSize
	return Success
}

// buildWriteSingleCoil builds FC 0x05. The response echoes the request.
func (p *PDU) buildWriteSingleCoil(addr uint16, value bool) Err {
	if p.size < 5 {
		return p.fail(ErrBufferTooSmall)
	}
	v := byte(0x00)
	if value {
		v = 0xFF
	}
	p.setEcho(FuncCodeWriteSingleCoil, byte(addr>>8), byte(addr), v, 0x00)
	return Success
}

// buildWriteSingleRegister builds FC 0x06. The response echoes the request.
func (p *PDU) buildWriteSingleRegister(addr, value uint16) Err {
	if p.size < 5 {
		return p.fail(ErrBufferTooSmall)
	}
	p.setEcho(FuncCodeWriteSingleRegister, byte(addr>>8), byte(addr), byte(value>>8), byte(value))
	return Success
}

// setEcho writes a five-byte request whose response must echo it.
func (p *PDU) setEcho(b0, b1, b2, b3, b4 byte) {
	p.tx[0], p.head[0] = b0, b0
	p.tx[1], p.head[1] = b1, b1
	p.tx[2], p.head[2] = b2, b2
	p.tx[3], p.head[3] = b3, b3
	p.tx[4], p.head[4] = b4, b4
	p.txLen = 5
	p.expected = 5
}

// buildWriteMultipleCoilsBytes builds FC 0x0F from a pre-packed byte
// image: byteCount bytes carrying coilCount coils, LSB first.
func (p *PDU) buildWriteMultipleCoilsBytes(addr uint16, src []byte, byteCount int, coilCount uint16) Err {
	if byteCount == 0 {
		return p.fail(ErrTooFewData)
	}
	if byteCount > MaxWriteCoilsInBytes {
		return p.fail(ErrTooManyData)
	}
	if len(src) < byteCount {
		return p.fail(ErrInvalidSourceSize)
	}
	if p.size < 6+byteCount {
		return p.fail(ErrBufferTooSmall)
	}
	p.tx[0], p.head[0] = FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleCoils
	p.tx[1], p.head[1] = byte(addr>>8), byte(addr>>8)
	p.tx[2], p.head[2] = byte(addr), byte(addr)
	p.tx[3], p.head[3] = byte(coilCount>>8), byte(coilCount>>8)
	p.tx[4], p.head[4] = byte(coilCount), byte(coilCount)
	p.tx[5] = byte(byteCount)
	copy(p.tx[6:], src[:byteCount])
	p.txLen = 6 + byteCount
	p.expected = 5
	return Success
}

// buildWriteMultipleCoilsBools builds FC 0x0F from individual coil values.
func (p *PDU) buildWriteMultipleCoilsBools(addr uint16, src []bool) Err {
	coilCount := len(src)
	if coilCount == 0 {
		return p.fail(ErrTooFewData)
	}
	if coilCount > MaxWriteCoils {
		return p.fail(ErrTooManyData)
	}
	byteCount := (coilCount + 7) / 8
	if p.size < 6+byteCount {
		return p.fail(ErrBufferTooSmall)
	}
	p.tx[0], p.head[0] = FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleCoils
	p.tx[1], p.head[1] = byte(addr>>8), byte(addr>>8)
	p.tx[2], p.head[2] = byte(addr), byte(addr)
	p.tx[3], p.head[3] = byte(coilCount>>8), byte(coilCount>>8)
	p.tx[4], p.head[4] = byte(coilCount), byte(coilCount)
	p.tx[5] = byte(byteCount)
	data := p.tx[6 : 6+byteCount]
	for i := range data {
		data[i] = 0
	}
	for i, on := range src {
		if on {
			data[i/8] |= 1 << (i % 8)
		}
	}
	p.txLen = 6 + byteCount
	p.expected = 5
	return Success
}

// buildWriteMultipleRegisters builds FC 0x10 from elemCount big-endian
// element images of elemSize bytes each, packed into registers with
// odd-size padding.
func (p *PDU) buildWriteMultipleRegisters(addr uint16, src []byte, elemCount, elemSize int) Err {
	if elemCount <= 0 {
		return p.fail(ErrTooFewData)
	}
	if len(src) < elemCount*elemSize {
		return p.fail(ErrInvalidSourceSize)
	}
	byteCount := elemCount * paddedSize(elemSize)
	regCount := toRegisterCount(byteCount)
	if regCount > MaxWriteRegisters {
		return p.fail(ErrTooManyData)
	}
	if p.size < 6+byteCount {
		return p.fail(ErrBufferTooSmall)
	}
	p.tx[0], p.head[0] = FuncCodeWriteMultipleRegister, FuncCodeWriteMultipleRegister
	p.tx[1], p.head[1] = byte(addr>>8), byte(addr>>8)
	p.tx[2], p.head[2] = byte(addr), byte(addr)
	p.tx[3], p.head[3] = byte(regCount>>8), byte(regCount>>8)
	p.tx[4], p.head[4] = byte(regCount), byte(regCount)
	p.tx[5] = byte(byteCount)
	if _, ok := packRegisters(p.tx[6:], src, elemCount, elemSize); !ok {
		return p.fail(ErrBufferTooSmall)
	}
	p.txLen = 6 + byteCount
	p.expected = 5
	return Success
}

// buildMaskWriteRegister builds FC 0x16. The response echoes the request.
func (p *PDU) buildMaskWriteRegister(addr, andMask, orMask uint16) Err {
	if p.size < 7 {
		return p.fail(ErrBufferTooSmall)
	}
	p.tx[0], p.head[0] = FuncCodeMaskWriteRegister, FuncCodeMaskWriteRegister
	p.tx[1], p.head[1] = byte(addr>>8), byte(addr>>8)
	p.tx[2], p.head[2] = byte(addr), byte(addr)
	p.tx[3], p.head[3] = byte(andMask>>8), byte(andMask>>8)
	p.tx[4], p.head[4] = byte(andMask), byte(andMask)
	p.tx[5], p.head[5] = byte(orMask>>8), byte(orMask>>8)
	p.tx[6], p.head[6] = byte(orMask), byte(orMask)
	p.txLen = 7
	p.expected = 7
	return Success
}

// buildReadExceptionStatus builds FC 0x07 (serial line only).
func (p *PDU) buildReadExceptionStatus() Err {
	if p.size < 2 {
		return p.fail(ErrBufferTooSmall)
	}
	p.tx[0], p.head[0] = FuncCodeReadExceptionStatus, FuncCodeReadExceptionStatus
	p.txLen = 1
	p.expected = 2
	return Success
}

// buildDiagnostics builds FC 0x08 (serial line only). The response
// echoes the sub-function; the echoed value is the data region.
func (p *PDU) buildDiagnostics(sub, value uint16) Err {
	if !validDiagSub(sub) {
		return p.fail(ErrInvalidSubFunction)
	}
	if p.size < 5 {
		return p.fail(ErrBufferTooSmall)
	}
	p.tx[0], p.head[0] = FuncCodeDiagnostics, FuncCodeDiagnostics
	p.tx[1], p.head[1] = byte(sub>>8), byte(sub>>8)
	p.tx[2], p.head[2] = byte(sub), byte(sub)
	p.tx[3], p.head[3] = byte(value>>8), byte(value>>8)
	p.tx[4], p.head[4] = byte(value), byte(value)
	p.txLen = 5
	p.expected = 5
	return Success
}

// buildReadWriteRegisters builds FC 0x17: one transaction writing
// writeCount elements then reading readCount elements.
func (p *PDU) buildReadWriteRegisters(readAddr uint16, readCount, readElemSize int,
	writeAddr uint16, wsrc []byte, writeCount, writeElemSize int) Err {
	if readCount <= 0 || writeCount <= 0 {
		return p.fail(ErrTooFewData)
	}
	if len(wsrc) < writeCount*writeElemSize {
		return p.fail(ErrInvalidSourceSize)
	}
	readByteCount := readCount * paddedSize(readElemSize)
	readRegCount := toRegisterCount(readByteCount)
	writeByteCount := writeCount * paddedSize(writeElemSize)
	writeRegCount := toRegisterCount(writeByteCount)
	if readRegCount > MaxReadRegisters || writeRegCount > MaxReadWriteRegisters {
		return p.fail(ErrTooManyData)
	}
	if p.size < 10+writeByteCount || p.size < 2+readByteCount {
		return p.fail(ErrBufferTooSmall)
	}
	p.tx[0], p.head[0] = FuncCodeReadWriteMultipleRegister, FuncCodeReadWriteMultipleRegister
	p.tx[1] = byte(readAddr >> 8)
	p.tx[2] = byte(readAddr)
	p.tx[3] = byte(readRegCount >> 8)
	p.tx[4] = byte(readRegCount)
	p.tx[5] = byte(writeAddr >> 8)
	p.tx[6] = byte(writeAddr)
	p.tx[7] = byte(writeRegCount >> 8)
	p.tx[8] = byte(writeRegCount)
	p.tx[9] = byte(writeByteCount)
	if _, ok := packRegisters(p.tx[10:], wsrc, writeCount, writeElemSize); !ok {
		return p.fail(ErrBufferTooSmall)
	}
	p.txLen = 10 + writeByteCount
	p.head[1] = byte(readByteCount)
	p.expected = 2 + readByteCount
	p.elemSize = readElemSize
	return Success
}

// fail records a build error on the PDU and returns it.
func (p *PDU) fail(err Err) Err {
	p.err = err
	return err
}
