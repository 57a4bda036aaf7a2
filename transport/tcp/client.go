// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package tcp implements the asynchronous Modbus TCP client: one
// connection per configured slave, MBAP transaction demultiplexing and
// an optional pipelined mode with a bounded in-flight window.
package tcp

import (
	"time"

	"github.com/ffutop/modbus-master/modbus"
)

const defaultResponseTimeout = 2 * time.Second

// Config holds the engine parameters.
type Config struct {
	ADUPoolSize     int // request slots shared by all slaves
	PDUSize         int // per-ADU buffer capacity, 8-253
	ClientCount     int // max concurrent slave connections
	ResponseTimeout time.Duration
}

// Client is the asynchronous TCP engine. Drive it by calling Tick
// periodically from a single goroutine; all requests complete through
// their callbacks during ticks.
type Client struct {
	modbus.Master

	pool    []*adu
	clients []*ClientItem

	responseTimeout time.Duration

	now func() time.Time
}

// NewClient allocates the shared ADU pool and the client slots. Connect
// slaves with AddClient before issuing requests.
func NewClient(cfg Config) *Client {
	c := &Client{now: time.Now}
	c.Master = modbus.NewMaster(c)
	c.Begin(cfg)
	return c
}

// Begin (re)initializes the engine. Calling Begin after Close yields a
// state indistinguishable from a fresh instance.
func (c *Client) Begin(cfg Config) {
	if cfg.PDUSize < modbus.MinPDUSize || cfg.PDUSize > modbus.MaxPDUSize {
		cfg.PDUSize = modbus.MaxPDUSize
	}
	if cfg.ADUPoolSize <= 0 {
		cfg.ADUPoolSize = 5
	}
	if cfg.ClientCount <= 0 {
		cfg.ClientCount = 5
	}
	c.pool = make([]*adu, cfg.ADUPoolSize)
	for i := range c.pool {
		c.pool[i] = newADU(cfg.PDUSize, i)
	}
	c.clients = make([]*ClientItem, cfg.ClientCount)
	c.responseTimeout = defaultResponseTimeout
	if cfg.ResponseTimeout > 0 {
		c.responseTimeout = cfg.ResponseTimeout
	}
}

// Close tears the engine down: all queues are flushed, every slot is
// released, connections are closed and no further callbacks fire.
func (c *Client) Close() {
	for i, ci := range c.clients {
		if ci.valid() {
			ci.queue.Clear()
			ci.sent.clear()
			ci.reset()
			ci.conn.Close()
		}
		c.clients[i] = nil
	}
	for _, a := range c.pool {
		a.release()
	}
}

// ResponseTimeout returns the send-to-response budget.
func (c *Client) ResponseTimeout() time.Duration { return c.responseTimeout }

// SetResponseTimeout overrides the send-to-response budget.
func (c *Client) SetResponseTimeout(d time.Duration) { c.responseTimeout = d }

// AddClient registers a slave connection. It refuses a duplicate unit
// ID, the broadcast ID 0 and a full client table.
func (c *Client) AddClient(id uint8, conn Conn, opt Options) bool {
	if id == 0 || id > modbus.MaxSlaveID {
		return false
	}
	for _, ci := range c.clients {
		if ci.valid() && ci.id == id {
			return false
		}
	}
	for i, ci := range c.clients {
		if !ci.valid() {
			c.clients[i] = newClientItem(id, conn, opt)
			return true
		}
	}
	return false
}

// AcquirePDU implements modbus.Transport.
func (c *Client) AcquirePDU(cb modbus.Callback, target modbus.Target) *modbus.PDU {
	for _, a := range c.pool {
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

// DispatchPDU implements modbus.Transport: stamp the MBAP header and
// route to the client item owning the stamped slave.
func (c *Client) DispatchPDU(p *modbus.PDU) bool {
	a := c.pool[p.PoolIndex()]
	a.setMBAP(p.Slave())
	for _, ci := range c.clients {
		if !ci.valid() || ci.id != p.Slave() {
			continue
		}
		if !ci.queue.Add(a) {
			p.SetErr(modbus.ErrQueueFull)
			p.Deliver()
			a.release()
			return false
		}
		return true
	}
	p.SetErr(modbus.ErrTCPNoClientForSlave)
	p.Deliver()
	a.release()
	return false
}

// Tick runs one scheduling round across all configured slaves.
func (c *Client) Tick() {
	now := c.now()
	for _, ci := range c.clients {
		if ci.valid() {
			ci.tick(c, now)
		}
	}
}

// fail surfaces err on the request, then resolves rotation.
func (c *Client) fail(a *adu, err modbus.Err) {
	a.pdu.SetErr(err)
	a.pdu.Complete()
	c.finish(a)
}

// finish resolves slave-set rotation after the callback has returned;
// the slot is released when no further ID is due.
func (c *Client) finish(a *adu) {
	if !c.repeatIfNeeded(a) {
		a.release()
	}
}

// repeatIfNeeded re-queues the ADU for the next slave of its set. A
// wrap (or a single-ID cycle) waits the repeat-cycle delay, any other
// step the inter-slave delay.
func (c *Client) repeatIfNeeded(a *adu) bool {
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
	a.pdu.Schedule(c.now(), delay)
	a.pdu.SetSlave(next)
	return c.DispatchPDU(&a.pdu)
}
