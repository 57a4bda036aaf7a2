// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"bytes"
	"testing"
)

// fakeTransport is a single-slot transport capturing what the facade
// acquires and dispatches.
type fakeTransport struct {
	pdu        *PDU
	dispatched []*PDU
	exhausted  bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{pdu: newTestPDU(MaxPDUSize)}
}

func (f *fakeTransport) AcquirePDU(cb Callback, target Target) *PDU {
	if f.exhausted || f.pdu.Used() {
		cb(NewErrorPDU(target.Single(), ErrNoMoreFreeADU))
		return nil
	}
	slave := target.Single()
	if target.HasSet() {
		set := target.Set()
		slave = set.Next()
	}
	f.pdu.Acquire(cb, slave)
	return f.pdu
}

func (f *fakeTransport) DispatchPDU(p *PDU) bool {
	f.dispatched = append(f.dispatched, p)
	return true
}

func TestBroadcastGuardOnReads(t *testing.T) {
	ft := newFakeTransport()
	m := NewMaster(ft)

	calls := 0
	cb := func(p *PDU) {
		calls++
		if p.Err() != ErrInvalidSlave {
			t.Fatalf("err = %v, want invalid slave", p.Err())
		}
	}

	m.ReadCoils(Unit(0), 0, 1, cb)
	m.ReadDiscreteInputs(Unit(0), 0, 1, cb)
	m.ReadHoldingRegisters(Unit(0), 0, 1, cb)
	m.ReadInputRegisters(Unit(0), 0, 1, cb)
	m.ReadExceptionStatus(Unit(0), cb)
	m.Diagnostic(Unit(0), DiagSubQueryData, 0, cb)
	ReadWriteRegisters[uint16](m, Unit(0), 0, 1, 0, []uint16{1}, cb)

	if calls != 7 {
		t.Fatalf("callback fired %d times, want 7", calls)
	}
	if len(ft.dispatched) != 0 {
		t.Fatal("broadcast reads must not reach the transport")
	}
}

func TestBroadcastAllowedOnWrites(t *testing.T) {
	ft := newFakeTransport()
	m := NewMaster(ft)

	m.WriteSingleCoil(Unit(0), 5, true, func(p *PDU) {
		t.Fatalf("unexpected synchronous callback: %v", p.Err())
	})
	if len(ft.dispatched) != 1 {
		t.Fatal("broadcast write must be dispatched")
	}
	if ft.dispatched[0].Slave() != 0 {
		t.Fatalf("slave = %d, want 0", ft.dispatched[0].Slave())
	}
}

func TestBuildErrorDeliveredAndSlotReleased(t *testing.T) {
	ft := newFakeTransport()
	m := NewMaster(ft)

	var got Err
	m.ReadCoils(Unit(1), 0, 5000, func(p *PDU) { got = p.Err() })
	if got != ErrTooManyData {
		t.Fatalf("err = %v, want too many data", got)
	}
	if len(ft.dispatched) != 0 {
		t.Fatal("failed build must not be dispatched")
	}
	if ft.pdu.Used() {
		t.Fatal("slot must be released after a failed build")
	}
}

func TestPoolExhaustion(t *testing.T) {
	ft := newFakeTransport()
	ft.exhausted = true
	m := NewMaster(ft)

	var got Err
	var slave uint8
	m.ReadHoldingRegisters(Unit(9), 0, 1, func(p *PDU) {
		got = p.Err()
		slave = p.Slave()
	})
	if got != ErrNoMoreFreeADU || slave != 9 {
		t.Fatalf("err = %v slave = %d, want no more free adu for slave 9", got, slave)
	}
}

func TestGroupTargetStampsFirstSlave(t *testing.T) {
	ft := newFakeTransport()
	m := NewMaster(ft)

	set := NewSlaves(4, 2, 8)
	m.ReadHoldingRegisters(Group(set), 0, 1, func(p *PDU) {})
	if len(ft.dispatched) != 1 {
		t.Fatal("request not dispatched")
	}
	if ft.dispatched[0].Slave() != 2 {
		t.Fatalf("first slave = %d, want 2", ft.dispatched[0].Slave())
	}
}

func TestTypedWriteThroughFacade(t *testing.T) {
	ft := newFakeTransport()
	m := NewMaster(ft)

	WriteHoldingRegisters(m, Unit(1), 0x0100, []uint32{0x11223344}, func(p *PDU) {
		t.Fatalf("unexpected synchronous callback: %v", p.Err())
	})
	if len(ft.dispatched) != 1 {
		t.Fatal("request not dispatched")
	}
	want := []byte{0x10, 0x01, 0x00, 0x00, 0x02, 0x04, 0x11, 0x22, 0x33, 0x44}
	if !bytes.Equal(ft.dispatched[0].TX(), want) {
		t.Fatalf("TX = % X, want % X", ft.dispatched[0].TX(), want)
	}
}
