// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus implements the master-side Modbus codec: request
// builders, response validation, typed register packing and the
// scheduling primitives (slave sets, ADU queue) shared by the RTU and
// TCP transports.
package modbus

// Function codes defined by the Modbus Application Protocol Specification.
const (
	FuncCodeReadCoils           = 0x01
	FuncCodeReadDiscreteInputs  = 0x02
	FuncCodeReadHoldingRegister = 0x03
	FuncCodeReadInputRegister   = 0x04

	FuncCodeWriteSingleCoil     = 0x05
	FuncCodeWriteSingleRegister = 0x06

	FuncCodeReadExceptionStatus = 0x07 // serial line only
	FuncCodeDiagnostics         = 0x08 // serial line only

	FuncCodeWriteMultipleCoils    = 0x0F
	FuncCodeWriteMultipleRegister = 0x10
	FuncCodeMaskWriteRegister     = 0x16

	FuncCodeReadWriteMultipleRegister = 0x17
)

// Diagnostic sub-function codes for function code 0x08.
const (
	DiagSubQueryData                  = 0x00
	DiagSubRestartCommunicationOption = 0x01
	DiagSubDiagnosticRegister         = 0x02
	DiagSubChangeASCIIInputDelimiter  = 0x03
	DiagSubForceListenOnlyMode        = 0x04
	DiagSubClearCounters              = 0x0A
	DiagSubBusMessageCount            = 0x0B
	DiagSubBusCommunicationErrorCount = 0x0C
	DiagSubBusExceptionErrorCount     = 0x0D
	DiagSubServerMessageCount         = 0x0E
	DiagSubServerNoResponseCount      = 0x0F
	DiagSubServerNAKCount             = 0x10
	DiagSubServerBusyCount            = 0x11
	DiagSubBusCharacterOverrunCount   = 0x12
	DiagSubClearOverrunCounterAndFlag = 0x14
)

// Protocol limits.
const (
	MaxReadCoils          = 2000 // FC 0x01, 0x02
	MaxWriteCoils         = 1968 // FC 0x0F
	MaxWriteCoilsInBytes  = 246
	MaxReadRegisters      = 125 // FC 0x03, 0x04
	MaxWriteRegisters     = 123 // FC 0x10
	MaxReadWriteRegisters = 121 // FC 0x17 write side

	MaxSlaveID = 247

	MinPDUSize = 8
	MaxPDUSize = 253

	RTUHeaderLen = 1 // slave ID
	RTUCRCLen    = 2
	MBAPLen      = 7

	// Longest fixed response prefix the validator compares
	// field-by-field (mask write echo).
	maxResponseHead = 7
)

// Slave ID sentinels. 248-255 are reserved by the protocol; the library
// uses the top of that range for iteration markers.
const (
	SlaveNull = 0xFD
	SlaveEOF  = 0xFE
	SlaveBOF  = 0xFF
)

const exceptionBit = 0x80

// isWriteFunction reports whether the function code is a write that the
// protocol allows to be broadcast (slave ID 0, RTU only).
func isWriteFunction(functionCode byte) bool {
	switch functionCode {
	case FuncCodeWriteSingleCoil,
		FuncCodeWriteSingleRegister,
		FuncCodeWriteMultipleCoils,
		FuncCodeWriteMultipleRegister,
		FuncCodeMaskWriteRegister:
		return true
	}
	return false
}

// validDiagSub reports whether sub is an allowed diagnostic
// sub-function: 0x00-0x04, 0x0A-0x12 and 0x14.
func validDiagSub(sub uint16) bool {
	if sub > DiagSubClearOverrunCounterAndFlag {
		return false
	}
	if sub > DiagSubForceListenOnlyMode && sub < DiagSubClearCounters {
		return false
	}
	return sub != 0x13
}
