// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import "fmt"

// Err is the protocol error taxonomy delivered through response
// callbacks. Codes 1-10 are Modbus exception codes as received from the
// slave; codes from 12 up are library-local.
type Err uint16

const (
	Success Err = 0

	// Modbus exception codes (bit 7 of the echoed function code set).
	ExIllegalFunction     Err = 1
	ExIllegalDataAddress  Err = 2
	ExIllegalDataValue    Err = 3
	ExSlaveDeviceError    Err = 4
	ExAcknowledge         Err = 5
	ExSlaveDeviceBusy     Err = 6
	ExNegativeAcknowledge Err = 7
	ExMemoryParityError   Err = 8
	ExGatewayPathUnavail  Err = 9
	ExGatewayTargetFailed Err = 10

	// Library-local frame and semantic errors.
	ErrTooManyData          Err = 12
	ErrTooFewData           Err = 13
	ErrResponseTimeout      Err = 14
	ErrConnResetByPeer      Err = 15
	ErrConnRefused          Err = 16
	ErrInvalidSlave         Err = 17
	ErrInvalidFunction      Err = 18
	ErrInvalidSubFunction   Err = 19
	ErrInvalidAddress       Err = 20
	ErrInvalidData          Err = 21
	ErrInvalidDataQuantity  Err = 22
	ErrInvalidByteLength    Err = 23
	ErrInvalidExceptionCode Err = 24
	ErrCRC                  Err = 25
	ErrInvalidArgument      Err = 26
	ErrInvalidSourceSize    Err = 27
	ErrNotSupported         Err = 28
	ErrQueueFull            Err = 29
	ErrTCPSentBufferFull    Err = 30
	ErrTCPNoClientForSlave  Err = 31
	ErrNoMoreFreeADU        Err = 32
	ErrBufferTooSmall       Err = 33

	ErrInvalidMBAPHeader        Err = 40
	ErrInvalidMBAPTransactionID Err = 41
	ErrInvalidMBAPProtocolID    Err = 42
	ErrInvalidMBAPLength        Err = 43
	ErrInvalidMBAPUnitID        Err = 44
)

var errNames = map[Err]string{
	Success:                     "success",
	ExIllegalFunction:           "illegal function",
	ExIllegalDataAddress:        "illegal data address",
	ExIllegalDataValue:          "illegal data value",
	ExSlaveDeviceError:          "slave device error",
	ExAcknowledge:               "acknowledge",
	ExSlaveDeviceBusy:           "slave device busy",
	ExNegativeAcknowledge:       "negative acknowledge",
	ExMemoryParityError:         "memory parity error",
	ExGatewayPathUnavail:        "gateway path unavailable",
	ExGatewayTargetFailed:       "gateway target device failed to respond",
	ErrTooManyData:              "too many data",
	ErrTooFewData:               "too few data",
	ErrResponseTimeout:          "response timeout",
	ErrConnResetByPeer:          "connection reset by peer",
	ErrConnRefused:              "connection refused",
	ErrInvalidSlave:             "invalid slave id in response",
	ErrInvalidFunction:          "invalid function code in response",
	ErrInvalidSubFunction:       "invalid diagnostic sub-function",
	ErrInvalidAddress:           "invalid address in response",
	ErrInvalidData:              "invalid data in response",
	ErrInvalidDataQuantity:      "invalid quantity in response",
	ErrInvalidByteLength:        "invalid byte length in response",
	ErrInvalidExceptionCode:     "invalid exception code",
	ErrCRC:                      "crc mismatch",
	ErrInvalidArgument:          "invalid argument",
	ErrInvalidSourceSize:        "source size not aligned",
	ErrNotSupported:             "not supported",
	ErrQueueFull:                "queue full",
	ErrTCPSentBufferFull:        "tcp sent buffer full",
	ErrTCPNoClientForSlave:      "no tcp client for slave",
	ErrNoMoreFreeADU:            "no more free adu",
	ErrBufferTooSmall:           "buffer too small",
	ErrInvalidMBAPHeader:        "invalid mbap header",
	ErrInvalidMBAPTransactionID: "invalid mbap transaction id",
	ErrInvalidMBAPProtocolID:    "invalid mbap protocol id",
	ErrInvalidMBAPLength:        "invalid mbap length",
	ErrInvalidMBAPUnitID:        "invalid mbap unit id",
}

func (e Err) Error() string {
	if name, ok := errNames[e]; ok {
		return fmt.Sprintf("modbus: %s (%d)", name, uint16(e))
	}
	return fmt.Sprintf("modbus: error %d", uint16(e))
}

// IsException reports whether e is a Modbus exception code received
// from the slave rather than a library-local error.
func (e Err) IsException() bool {
	return e >= ExIllegalFunction && e <= ExGatewayTargetFailed
}

// exceptionFromByte maps the code byte of an exception response. Codes
// outside 1-10 are rejected as InvalidExceptionCode.
func exceptionFromByte(b byte) Err {
	e := Err(b)
	if !e.IsException() {
		return ErrInvalidExceptionCode
	}
	return e
}
