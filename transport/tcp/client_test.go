// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"bytes"
	"testing"
	"time"

	"github.com/ffutop/modbus-master/modbus"
)

// mockConn is a scripted slave connection.
type mockConn struct {
	connected bool
	connectOK bool
	connects  int
	rx        bytes.Buffer
	tx        bytes.Buffer
}

func (c *mockConn) Connect() bool {
	c.connects++
	if c.connectOK {
		c.connected = true
	}
	return c.connected
}

func (c *mockConn) Connected() bool { return c.connected }
func (c *mockConn) Available() int  { return c.rx.Len() }

func (c *mockConn) Read(buf []byte) int {
	n, _ := c.rx.Read(buf)
	return n
}

func (c *mockConn) Write(buf []byte) int {
	if !c.connected {
		return 0
	}
	c.tx.Write(buf)
	return len(buf)
}

func (c *mockConn) Close() { c.connected = false }

type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestClient(t *testing.T, conn *mockConn, opt Options) (*Client, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Unix(2000, 0)}
	c := NewClient(Config{ADUPoolSize: 8, PDUSize: modbus.MaxPDUSize, ClientCount: 4})
	c.now = clock.now
	if !c.AddClient(1, conn, opt) {
		t.Fatal("AddClient failed")
	}
	return c, clock
}

// sentFrames splits the written stream into MBAP frames.
func sentFrames(t *testing.T, conn *mockConn) [][]byte {
	t.Helper()
	var frames [][]byte
	b := conn.tx.Bytes()
	for len(b) > 0 {
		if len(b) < modbus.MBAPLen {
			t.Fatalf("short frame tail: % X", b)
		}
		length := int(b[4])<<8 | int(b[5])
		total := 6 + length
		frames = append(frames, b[:total])
		b = b[total:]
	}
	return frames
}

// respTo builds a read-holding-register response for the given request
// frame, echoing its transaction and unit IDs.
func respTo(req []byte, value uint16) []byte {
	return []byte{
		req[0], req[1], 0x00, 0x00, 0x00, 0x05, req[6],
		0x03, 0x02, byte(value >> 8), byte(value),
	}
}

func TestSingleInFlight(t *testing.T) {
	conn := &mockConn{connected: true, connectOK: true}
	c, clock := newTestClient(t, conn, Options{QueueSize: 4, KeepAlive: true})

	results := make(map[int]uint16)
	for i := 0; i < 2; i++ {
		i := i
		c.ReadHoldingRegisters(modbus.Unit(1), 0x0000, 1, func(p *modbus.PDU) {
			if p.Err() != modbus.Success {
				t.Fatalf("request %d err = %v", i, p.Err())
			}
			results[i] = p.Uint16(0)
		})
	}

	c.Tick()
	frames := sentFrames(t, conn)
	if len(frames) != 1 {
		t.Fatalf("%d frames in flight, want 1", len(frames))
	}

	conn.rx.Write(respTo(frames[0], 0xAAAA))
	clock.advance(time.Millisecond)
	c.Tick()
	if results[0] != 0xAAAA {
		t.Fatalf("first result = %#04x, want 0xAAAA", results[0])
	}

	c.Tick() // second request goes out only now
	frames = sentFrames(t, conn)
	if len(frames) != 2 {
		t.Fatalf("%d frames sent, want 2", len(frames))
	}
	conn.rx.Write(respTo(frames[1], 0xBBBB))
	c.Tick()
	if results[1] != 0xBBBB {
		t.Fatalf("second result = %#04x, want 0xBBBB", results[1])
	}
}

func TestPipelinedOutOfOrderResponses(t *testing.T) {
	conn := &mockConn{connected: true, connectOK: true}
	c, clock := newTestClient(t, conn, Options{QueueSize: 4, KeepAlive: true, AllAtOnce: true})

	var order []uint16
	for i := 0; i < 3; i++ {
		c.ReadHoldingRegisters(modbus.Unit(1), 0x0000, 1, func(p *modbus.PDU) {
			if p.Err() != modbus.Success {
				t.Fatalf("err = %v", p.Err())
			}
			order = append(order, p.Uint16(0))
		})
	}

	c.Tick()
	frames := sentFrames(t, conn)
	if len(frames) != 3 {
		t.Fatalf("%d frames in flight, want 3", len(frames))
	}

	// Responses arrive out of order: second, first, third.
	conn.rx.Write(respTo(frames[1], 0x0002))
	conn.rx.Write(respTo(frames[0], 0x0001))
	conn.rx.Write(respTo(frames[2], 0x0003))

	for i := 0; i < 3; i++ {
		clock.advance(time.Millisecond)
		c.Tick()
	}

	want := []uint16{0x0002, 0x0001, 0x0003}
	if len(order) != 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
		t.Fatalf("completion order = %#04x, want %#04x", order, want)
	}
}

func TestPipelinedUnknownTransactionDiscarded(t *testing.T) {
	conn := &mockConn{connected: true, connectOK: true}
	c, clock := newTestClient(t, conn, Options{QueueSize: 4, KeepAlive: true, AllAtOnce: true})

	fired := false
	c.ReadHoldingRegisters(modbus.Unit(1), 0x0000, 1, func(p *modbus.PDU) { fired = true })

	c.Tick()
	frames := sentFrames(t, conn)

	// A response whose transaction ID matches nothing sent.
	bogus := respTo(frames[0], 0x1111)
	bogus[0] ^= 0x55
	conn.rx.Write(bogus)
	clock.advance(time.Millisecond)
	c.Tick()
	if fired {
		t.Fatal("unknown transaction must be discarded silently")
	}
	if conn.rx.Len() != 0 {
		t.Fatal("socket buffer must be drained to re-sync")
	}
}

func TestMBAPUnitIDMismatch(t *testing.T) {
	conn := &mockConn{connected: true, connectOK: true}
	c, clock := newTestClient(t, conn, Options{QueueSize: 4, KeepAlive: true})

	var got modbus.Err
	c.ReadHoldingRegisters(modbus.Unit(1), 0x0000, 1, func(p *modbus.PDU) { got = p.Err() })

	c.Tick()
	frames := sentFrames(t, conn)
	resp := respTo(frames[0], 0x1234)
	resp[6] = 0x07 // wrong unit
	conn.rx.Write(resp)
	clock.advance(time.Millisecond)
	c.Tick()

	if got != modbus.ErrInvalidMBAPUnitID {
		t.Fatalf("err = %v, want invalid mbap unit id", got)
	}
}

func TestMBAPProtocolIDMismatch(t *testing.T) {
	conn := &mockConn{connected: true, connectOK: true}
	c, clock := newTestClient(t, conn, Options{QueueSize: 4, KeepAlive: true})

	var got modbus.Err
	c.ReadHoldingRegisters(modbus.Unit(1), 0x0000, 1, func(p *modbus.PDU) { got = p.Err() })

	c.Tick()
	frames := sentFrames(t, conn)
	resp := respTo(frames[0], 0x1234)
	resp[2] = 0x01 // protocol id must be zero
	conn.rx.Write(resp)
	clock.advance(time.Millisecond)
	c.Tick()

	if got != modbus.ErrInvalidMBAPProtocolID {
		t.Fatalf("err = %v, want invalid mbap protocol id", got)
	}
}

func TestResponseTimeoutScansSentWindow(t *testing.T) {
	conn := &mockConn{connected: true, connectOK: true}
	c, clock := newTestClient(t, conn, Options{QueueSize: 4, KeepAlive: true, AllAtOnce: true})

	var errs []modbus.Err
	for i := 0; i < 2; i++ {
		c.ReadHoldingRegisters(modbus.Unit(1), 0x0000, 1, func(p *modbus.PDU) {
			errs = append(errs, p.Err())
		})
	}

	c.Tick()
	clock.advance(c.ResponseTimeout())
	c.Tick()

	if len(errs) != 2 || errs[0] != modbus.ErrResponseTimeout || errs[1] != modbus.ErrResponseTimeout {
		t.Fatalf("errs = %v, want two response timeouts", errs)
	}
}

func TestNoClientForSlave(t *testing.T) {
	conn := &mockConn{connected: true, connectOK: true}
	c, _ := newTestClient(t, conn, Options{QueueSize: 4, KeepAlive: true})

	var got modbus.Err
	c.ReadHoldingRegisters(modbus.Unit(42), 0x0000, 1, func(p *modbus.PDU) { got = p.Err() })
	if got != modbus.ErrTCPNoClientForSlave {
		t.Fatalf("err = %v, want no tcp client for slave", got)
	}
}

func TestAddClientRejectsDuplicatesAndBroadcast(t *testing.T) {
	c := NewClient(Config{ADUPoolSize: 2, PDUSize: modbus.MaxPDUSize, ClientCount: 2})
	if !c.AddClient(1, &mockConn{}, Options{}) {
		t.Fatal("first AddClient failed")
	}
	if c.AddClient(1, &mockConn{}, Options{}) {
		t.Fatal("duplicate unit id must be rejected")
	}
	if c.AddClient(0, &mockConn{}, Options{}) {
		t.Fatal("broadcast id must be rejected")
	}
	if !c.AddClient(2, &mockConn{}, Options{}) {
		t.Fatal("second AddClient failed")
	}
	if c.AddClient(3, &mockConn{}, Options{}) {
		t.Fatal("full client table must be rejected")
	}
}

func TestReconnectInterval(t *testing.T) {
	conn := &mockConn{connected: false, connectOK: false}
	c, clock := newTestClient(t, conn, Options{
		QueueSize: 4, KeepAlive: true, ReconnectInterval: 100 * time.Millisecond,
	})

	c.ReadHoldingRegisters(modbus.Unit(1), 0x0000, 1, func(p *modbus.PDU) {})

	clock.advance(200 * time.Millisecond)
	c.Tick()
	if conn.connects != 1 {
		t.Fatalf("connects = %d, want 1", conn.connects)
	}
	clock.advance(50 * time.Millisecond)
	c.Tick()
	if conn.connects != 1 {
		t.Fatal("reconnect attempted before the interval elapsed")
	}
	clock.advance(50 * time.Millisecond)
	c.Tick()
	if conn.connects != 2 {
		t.Fatalf("connects = %d, want 2", conn.connects)
	}
}

func TestConnRefusedWithoutKeepAlive(t *testing.T) {
	conn := &mockConn{connected: false, connectOK: false}
	c, _ := newTestClient(t, conn, Options{QueueSize: 4, KeepAlive: false})

	var got modbus.Err
	c.ReadHoldingRegisters(modbus.Unit(1), 0x0000, 1, func(p *modbus.PDU) { got = p.Err() })

	c.Tick()
	if got != modbus.ErrConnRefused {
		t.Fatalf("err = %v, want connection refused", got)
	}
}

func TestSentBufferFull(t *testing.T) {
	conn := &mockConn{connected: true, connectOK: true}
	c, _ := newTestClient(t, conn, Options{QueueSize: 1, KeepAlive: true, AllAtOnce: true})

	var errs []modbus.Err
	cb := func(p *modbus.PDU) { errs = append(errs, p.Err()) }

	c.ReadHoldingRegisters(modbus.Unit(1), 0x0000, 1, cb)
	c.Tick() // fills the single-entry sent window

	c.ReadHoldingRegisters(modbus.Unit(1), 0x0000, 1, cb)
	c.Tick()

	if len(errs) != 1 || errs[0] != modbus.ErrTCPSentBufferFull {
		t.Fatalf("errs = %v, want tcp sent buffer full", errs)
	}
}

func TestRotationAcrossClients(t *testing.T) {
	connA := &mockConn{connected: true, connectOK: true}
	connB := &mockConn{connected: true, connectOK: true}
	clock := &testClock{t: time.Unix(3000, 0)}
	c := NewClient(Config{ADUPoolSize: 4, PDUSize: modbus.MaxPDUSize, ClientCount: 4})
	c.now = clock.now
	c.AddClient(1, connA, Options{QueueSize: 4, KeepAlive: true})
	c.AddClient(2, connB, Options{QueueSize: 4, KeepAlive: true})

	set := modbus.NewSlaves(1, 2)
	var slaves []uint8
	c.ReadHoldingRegisters(modbus.Group(set), 0x0000, 1, func(p *modbus.PDU) {
		slaves = append(slaves, p.Slave())
	})

	c.Tick()
	frames := sentFrames(t, connA)
	if len(frames) != 1 {
		t.Fatalf("slave 1 frames = %d, want 1", len(frames))
	}
	connA.rx.Write(respTo(frames[0], 0x0001))
	clock.advance(time.Millisecond)
	c.Tick()

	clock.advance(time.Millisecond)
	c.Tick()
	framesB := sentFrames(t, connB)
	if len(framesB) != 1 {
		t.Fatalf("slave 2 frames = %d, want 1", len(framesB))
	}
	connB.rx.Write(respTo(framesB[0], 0x0002))
	clock.advance(time.Millisecond)
	c.Tick()

	if len(slaves) != 2 || slaves[0] != 1 || slaves[1] != 2 {
		t.Fatalf("rotation order = %v, want [1 2]", slaves)
	}
}

func TestCloseFlushesWithoutCallbacks(t *testing.T) {
	conn := &mockConn{connected: true, connectOK: true}
	c, _ := newTestClient(t, conn, Options{QueueSize: 4, KeepAlive: true})

	c.ReadHoldingRegisters(modbus.Unit(1), 0x0000, 1, func(p *modbus.PDU) {
		t.Fatal("no callback may fire after teardown")
	})
	c.Close()
	c.Tick()
	if conn.connected {
		t.Fatal("teardown must close connections")
	}

	c.Begin(Config{ADUPoolSize: 2, PDUSize: modbus.MaxPDUSize, ClientCount: 2})
	if !c.AddClient(1, &mockConn{connected: true, connectOK: true}, Options{QueueSize: 2}) {
		t.Fatal("engine not reusable after Begin following Close")
	}
}
