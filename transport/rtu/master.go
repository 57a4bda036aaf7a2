// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtu implements the asynchronous Modbus RTU master: a
// tick-driven state machine over a byte-oriented serial stream, with
// frame/byte/response timeouts derived from the line parameters and
// optional RS-485 direction control.
package rtu

import (
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/ffutop/modbus-master/modbus"
)

// Stream is the byte-oriented duplex collaborator the engine drives.
// All calls must be non-blocking: Read returns what is buffered, up to
// len(buf).
type Stream interface {
	Available() int
	Read(buf []byte) int
	Write(buf []byte) int
	Flush()
}

// Pin is an optional RS-485 direction line (driver enable or receiver
// enable), asserted high for the duration of a transmit.
type Pin interface {
	Set(high bool)
}

const defaultResponseTimeout = 3 * time.Second

// Config holds the engine parameters. BaudRate, DataBits, Parity and
// StopBits drive the byte/frame timeout derivation unless overridden.
type Config struct {
	PDUSize   int // per-ADU buffer capacity, 8-253
	QueueSize int // pending queue (and pool) capacity

	BaudRate int
	DataBits int    // 5-8, default 8
	Parity   string // "N", "E", "O", default "N"
	StopBits int    // 1-2, default 1

	// Direct overrides; zero derives from the line parameters.
	FrameTimeout    time.Duration
	ByteTimeout     time.Duration
	ResponseTimeout time.Duration

	// RS-485 direction lines, nil when unused.
	DE Pin
	RE Pin
}

const (
	stateIdle = iota
	stateReceive
	stateHeadChecked
	stateBufferClear
)

// Master is the asynchronous RTU engine. Drive it by calling Tick
// periodically from a single goroutine; all requests complete through
// their callbacks during ticks.
type Master struct {
	modbus.Master

	cfg    Config
	stream Stream

	pool  []*adu
	queue *modbus.Queue[*adu]

	state        int
	current      *adu
	errorReceive bool
	lastByte     time.Time

	byteTimeout     time.Duration
	frameTimeout    time.Duration
	responseTimeout time.Duration

	now func() time.Time
}

// NewMaster allocates the pool and queue for the given configuration
// and stream. The engine is ready after this call; nothing is read or
// written until the first Tick.
func NewMaster(cfg Config, stream Stream) *Master {
	m := &Master{now: time.Now}
	m.Master = modbus.NewMaster(m)
	m.Begin(cfg, stream)
	return m
}

// Begin (re)initializes the engine. Calling Begin after Close yields a
// state indistinguishable from a fresh instance.
func (m *Master) Begin(cfg Config, stream Stream) {
	if cfg.PDUSize < modbus.MinPDUSize {
		cfg.PDUSize = modbus.MaxPDUSize
	}
	if cfg.PDUSize > modbus.MaxPDUSize {
		cfg.PDUSize = modbus.MaxPDUSize
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 5
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}
	if cfg.Parity == "" {
		cfg.Parity = "N"
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = 1
	}
	m.cfg = cfg
	m.stream = stream

	m.pool = make([]*adu, cfg.QueueSize)
	for i := range m.pool {
		m.pool[i] = newADU(cfg.PDUSize, i)
	}
	m.queue = modbus.NewQueue[*adu](cfg.QueueSize)
	m.state = stateIdle
	m.current = nil
	m.errorReceive = false
	m.lastByte = time.Time{}

	m.calcTimeouts()
	m.endTransaction()
	m.clearBuffer()
}

// Close tears the engine down: all queues are flushed, every slot is
// released and no further callbacks fire.
func (m *Master) Close() {
	m.queue.Clear()
	for _, a := range m.pool {
		a.release()
	}
	m.state = stateIdle
	m.current = nil
	m.errorReceive = false
}

// calcTimeouts derives the byte and frame timeouts from the line
// parameters: 1.5 and 3.5 character times up to 19200 baud, the fixed
// 750/1750 µs pair above (Modbus RTU high-speed provision).
func (m *Master) calcTimeouts() {
	parityBits := 1
	if m.cfg.Parity == "N" {
		parityBits = 0
	}
	if m.cfg.BaudRate > 0 && m.cfg.BaudRate <= 19200 {
		bits := 1 + m.cfg.DataBits + parityBits + m.cfg.StopBits
		charTime := time.Duration(1000000/(m.cfg.BaudRate/bits)) * time.Microsecond
		m.byteTimeout = charTime * 3 / 2
		m.frameTimeout = charTime * 7 / 2
	} else {
		m.byteTimeout = 750 * time.Microsecond
		m.frameTimeout = 1750 * time.Microsecond
	}
	m.responseTimeout = defaultResponseTimeout
	if m.cfg.ByteTimeout > 0 {
		m.byteTimeout = m.cfg.ByteTimeout
	}
	if m.cfg.FrameTimeout > 0 {
		m.frameTimeout = m.cfg.FrameTimeout
	}
	if m.cfg.ResponseTimeout > 0 {
		m.responseTimeout = m.cfg.ResponseTimeout
	}
}

// FrameTimeout returns the inter-frame silence the engine enforces.
func (m *Master) FrameTimeout() time.Duration { return m.frameTimeout }

// ByteTimeout returns the mid-frame byte-idle budget.
func (m *Master) ByteTimeout() time.Duration { return m.byteTimeout }

// ResponseTimeout returns the send-to-first-byte budget.
func (m *Master) ResponseTimeout() time.Duration { return m.responseTimeout }

// SetResponseTimeout overrides the send-to-first-byte budget.
func (m *Master) SetResponseTimeout(d time.Duration) { m.responseTimeout = d }

// AcquirePDU implements modbus.Transport.
func (m *Master) AcquirePDU(cb modbus.Callback, target modbus.Target) *modbus.PDU {
	for _, a := range m.pool {
		if a.pdu.Used() {
			continue
		}
		if target.HasSet() {
			a.slaves = target.Set()
			first := a.slaves.Next()
			if first == modbus.SlaveEOF {
				a.release()
				cb(modbus.NewErrorPDU(modbus.SlaveNull, modbus.ErrInvalidArgument))
				return nil
			}
			a.pdu.Acquire(cb, first)
		} else {
			a.slaves.Clear()
			a.pdu.Acquire(cb, target.Single())
		}
		return &a.pdu
	}
	slave := target.Single()
	if target.HasSet() {
		set := target.Set()
		slave = set.Peek()
	}
	cb(modbus.NewErrorPDU(slave, modbus.ErrNoMoreFreeADU))
	return nil
}

// DispatchPDU implements modbus.Transport: frame for the stamped slave
// and place on the pending queue.
func (m *Master) DispatchPDU(p *modbus.PDU) bool {
	a := m.pool[p.PoolIndex()]
	a.frame(p.Slave())
	a.responseLen = 0
	if !m.queue.Add(a) {
		p.SetErr(modbus.ErrQueueFull)
		p.Deliver()
		a.release()
		return false
	}
	return true
}

// Tick progresses the state machine. Call it periodically from the
// owning loop; every timeout below is a deadline read against the
// monotonic clock, never a sleep.
func (m *Master) Tick() {
	now := m.now()
	switch m.state {
	case stateBufferClear:
		if m.stream.Available() > 0 {
			m.clearBuffer()
			m.lastByte = now
		} else if now.Sub(m.lastByte) >= m.frameTimeout {
			m.state = stateIdle
		}

	case stateIdle:
		if m.queue.IsEmpty() {
			// Once the silence has elapsed, keep it satisfied so the
			// next enqueue transmits without an artificial wait. A
			// turnaround still running is left to finish.
			if now.Sub(m.lastByte) >= m.frameTimeout {
				m.lastByte = now.Add(-m.frameTimeout)
			}
			return
		}
		if now.Sub(m.lastByte) < m.frameTimeout {
			return
		}
		a, ok := m.queue.ReadReady(now)
		if !ok {
			return
		}
		m.send(a)
		if a.pdu.Slave() == 0 {
			// Broadcast: no response follows. Deliver success now; the
			// turnaround silence is enforced by lastByte before the
			// next IDLE transmission.
			a.pdu.Deliver()
			m.finish(a)
			return
		}
		m.current = a
		m.errorReceive = false
		m.state = stateReceive

	case stateReceive:
		m.receive(now)
		if m.state == stateHeadChecked {
			// The head check and length check run in the same tick.
			m.headChecked(m.now())
		}

	case stateHeadChecked:
		m.headChecked(now)
	}
}

// receive accumulates bytes until the two-byte head can be checked.
func (m *Master) receive(now time.Time) {
	a := m.current
	if avail := m.stream.Available(); avail > 0 {
		n := m.stream.Read(a.rxFrame[a.responseLen:])
		a.responseLen += n
		m.lastByte = now
		if a.responseLen < 2 {
			return
		}
		if !a.checkHead() {
			slog.Debug("modbus rtu: slave id mismatch",
				"want", a.txFrame[0], "got", a.rxFrame[0])
			m.failFrame(a, modbus.ErrInvalidSlave, now)
			return
		}
		if a.rxFrame[1] == a.pdu.RequestFunction()|0x80 {
			m.errorReceive = true
		}
		m.state = stateHeadChecked
		return
	}
	// Nothing received yet; response timeout runs from the send.
	if now.Sub(m.lastByte) >= m.responseTimeout {
		m.failFrame(a, modbus.ErrResponseTimeout, now)
	}
}

// headChecked accumulates the remainder of the frame, then validates
// CRC and hands the PDU to the codec.
func (m *Master) headChecked(now time.Time) {
	a := m.current
	if avail := m.stream.Available(); avail > 0 {
		if a.responseLen >= len(a.rxFrame) {
			// Frame overflow; treat as framing garbage.
			m.failFrame(a, modbus.ErrInvalidByteLength, now)
			return
		}
		n := m.stream.Read(a.rxFrame[a.responseLen:])
		a.responseLen += n
		m.lastByte = now
	}
	if a.responseLen == a.expectedLen() || (m.errorReceive && a.responseLen == rtuExceptionSize) {
		if !a.checkCRC() {
			slog.Debug("modbus rtu: crc mismatch",
				"frame", hex.EncodeToString(a.rxFrame[:a.responseLen]))
			m.failFrame(a, modbus.ErrCRC, now)
			return
		}
		slog.Debug("modbus rtu: recv", "frame", hex.EncodeToString(a.rxFrame[:a.responseLen]))
		a.pdu.Complete()
		m.finish(a)
		m.state = stateIdle
		m.current = nil
		m.errorReceive = false
		return
	}
	// Byte-idle budget only once part of the frame has arrived.
	if a.responseLen != 0 && now.Sub(m.lastByte) >= m.byteTimeout {
		m.failFrame(a, modbus.ErrResponseTimeout, now)
	}
}

// failFrame surfaces a framing failure, drains stale bytes and resumes:
// BUFFER_CLEAR until a frame timeout of silence if anything was
// drained, IDLE otherwise.
func (m *Master) failFrame(a *adu, err modbus.Err, now time.Time) {
	if m.clearBuffer() > 0 {
		m.state = stateBufferClear
		m.lastByte = now
	} else {
		m.state = stateIdle
	}
	a.pdu.SetErr(err)
	a.pdu.Complete()
	m.finish(a)
	m.current = nil
	m.errorReceive = false
}

// finish resolves slave-set rotation after the callback has returned;
// the slot is released when no further ID is due.
func (m *Master) finish(a *adu) {
	if !m.repeatIfNeeded(a) {
		a.release()
	}
}

// repeatIfNeeded re-queues the ADU for the next slave of its set. A
// wrap (or a single-ID cycle) waits the repeat-cycle delay, any other
// step the inter-slave delay.
func (m *Master) repeatIfNeeded(a *adu) bool {
	if !a.slaves.Valid() {
		return false
	}
	prev := a.slaves.Active()
	next := a.slaves.Next()
	if next == modbus.SlaveEOF || next == modbus.SlaveNull {
		return false
	}
	delay := a.slaves.Delay()
	if next <= prev {
		delay = a.slaves.RepeatDelay()
	}
	// The callback has consumed this cycle's outcome; the next slave
	// starts clean.
	a.pdu.SetErr(modbus.Success)
	a.pdu.Schedule(m.now(), delay)
	a.pdu.SetSlave(next)
	return m.DispatchPDU(&a.pdu)
}

// send transmits the framed request, asserting the RS-485 direction
// lines around the write.
func (m *Master) send(a *adu) {
	m.beginTransaction()
	frame := a.txFrame[:a.txLen()]
	m.stream.Write(frame)
	m.endTransaction()
	m.lastByte = m.now()
	slog.Debug("modbus rtu: send", "frame", hex.EncodeToString(frame))
}

func (m *Master) beginTransaction() {
	if m.cfg.DE != nil {
		m.cfg.DE.Set(true)
	}
	if m.cfg.RE != nil {
		m.cfg.RE.Set(true)
	}
}

func (m *Master) endTransaction() {
	if m.stream != nil {
		m.stream.Flush()
	}
	if m.cfg.DE != nil {
		m.cfg.DE.Set(false)
	}
	if m.cfg.RE != nil {
		m.cfg.RE.Set(false)
	}
}

// clearBuffer drains whatever is pending on the stream.
func (m *Master) clearBuffer() int {
	count := 0
	var scratch [64]byte
	for m.stream.Available() > 0 {
		n := m.stream.Read(scratch[:])
		if n <= 0 {
			break
		}
		count += n
	}
	return count
}
