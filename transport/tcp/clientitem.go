// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/ffutop/modbus-master/modbus"
)

const defaultReconnectInterval = 100 * time.Millisecond

// ClientItem is one slave connection: its queue of pending requests,
// the window of transmitted ones, the reconnect policy and the
// operating mode.
type ClientItem struct {
	id        uint8
	conn      Conn
	keepAlive bool
	allAtOnce bool

	lastReconnect     time.Time
	reconnectInterval time.Duration

	current  *adu // single-in-flight mode
	incoming int  // response bytes still to read after the MBAP header

	sent  *sentWindow
	queue *modbus.Queue[*adu]
}

// Options tunes one slave connection.
type Options struct {
	// AllAtOnce enables the pipelined mode: every ready request is
	// transmitted up to the sent window capacity and responses are
	// demultiplexed by transaction ID.
	AllAtOnce bool
	// QueueSize is the pending queue and sent window capacity.
	QueueSize int
	// KeepAlive reconnects automatically after a drop.
	KeepAlive bool
	// ReconnectInterval is the minimum spacing between attempts.
	ReconnectInterval time.Duration
}

func newClientItem(id uint8, conn Conn, opt Options) *ClientItem {
	if opt.QueueSize <= 0 {
		opt.QueueSize = 5
	}
	if opt.ReconnectInterval <= 0 {
		opt.ReconnectInterval = defaultReconnectInterval
	}
	return &ClientItem{
		id:                id,
		conn:              conn,
		keepAlive:         opt.KeepAlive,
		allAtOnce:         opt.AllAtOnce,
		reconnectInterval: opt.ReconnectInterval,
		sent:              newSentWindow(opt.QueueSize),
		queue:             modbus.NewQueue[*adu](opt.QueueSize),
	}
}

// ensureConnected maintains the connection. With keep-alive on, a
// reconnect is attempted at most once per interval; without it, ready
// requests fail with ConnRefused instead of waiting forever.
func (ci *ClientItem) ensureConnected(c *Client, now time.Time) bool {
	if ci.conn.Connected() {
		return true
	}
	if !ci.keepAlive {
		for {
			a, ok := ci.queue.ReadReady(now)
			if !ok {
				break
			}
			c.fail(a, modbus.ErrConnRefused)
		}
		return false
	}
	if now.Sub(ci.lastReconnect) >= ci.reconnectInterval {
		ci.lastReconnect = now
		ci.conn.Connect()
	}
	return ci.conn.Connected()
}

// tick runs one scheduling round for this slave: reconnect, drain ready
// requests per the mode rule, demultiplex arrived responses, scan for
// timeouts.
func (ci *ClientItem) tick(c *Client, now time.Time) {
	if !ci.ensureConnected(c, now) {
		return
	}

	if ci.allAtOnce {
		for ci.queue.HasReady(now) {
			a, ok := ci.queue.ReadReady(now)
			if !ok {
				break
			}
			if !ci.sent.hasFree() {
				c.fail(a, modbus.ErrTCPSentBufferFull)
				break
			}
			if !ci.send(c, a, now) {
				return
			}
			ci.sent.add(a, now)
		}
	} else if ci.current == nil {
		if a, ok := ci.queue.ReadReady(now); ok {
			if !ci.send(c, a, now) {
				return
			}
			ci.current = a
		}
	}

	if ci.current == nil && ci.sent.isEmpty() {
		return
	}

	if ci.incoming == 0 && ci.conn.Available() >= modbus.MBAPLen {
		var mbap [modbus.MBAPLen]byte
		ci.conn.Read(mbap[:])
		tid := uint16(mbap[0])<<8 | uint16(mbap[1])
		if ci.allAtOnce {
			a, ok := ci.sent.takeByTransaction(tid)
			if !ok {
				// Unknown transaction: drain to re-sync, no callback.
				slog.Debug("modbus tcp: unknown transaction id", "tid", tid)
				ci.drain()
				ci.reset()
				return
			}
			ci.current = a
		}
		if ci.current == nil {
			ci.drain()
			ci.reset()
			return
		}
		copy(ci.current.rxFrame, mbap[:])
		if err := ci.current.checkMBAP(); err != modbus.Success {
			a := ci.current
			ci.drain()
			ci.reset()
			c.fail(a, err)
			return
		}
		incoming := int(uint16(mbap[4])<<8|uint16(mbap[5])) - 1 // unit ID already read
		if incoming < 2 || incoming > ci.current.pdu.Size() {
			a := ci.current
			ci.drain()
			ci.reset()
			c.fail(a, modbus.ErrInvalidMBAPLength)
			return
		}
		ci.incoming = incoming
	}

	if ci.incoming > 0 && ci.conn.Available() >= ci.incoming {
		a := ci.current
		ci.conn.Read(a.rxFrame[modbus.MBAPLen : modbus.MBAPLen+ci.incoming])
		slog.Debug("modbus tcp: recv",
			"slave", ci.id, "frame", hex.EncodeToString(a.rxFrame[:modbus.MBAPLen+ci.incoming]))
		ci.reset()
		a.pdu.Complete()
		c.finish(a)
	}

	if ci.allAtOnce {
		for {
			a, ok := ci.sent.nextTimeout(now, c.responseTimeout)
			if !ok {
				break
			}
			c.fail(a, modbus.ErrResponseTimeout)
		}
	} else if ci.current != nil && now.Sub(ci.current.sentAt) >= c.responseTimeout {
		a := ci.current
		ci.reset()
		c.fail(a, modbus.ErrResponseTimeout)
	}
}

// send transmits the framed request. A short write drops the
// connection and fails the request with ConnResetByPeer.
func (ci *ClientItem) send(c *Client, a *adu, now time.Time) bool {
	frame := a.txFrame[:a.txLen()]
	if n := ci.conn.Write(frame); n != len(frame) {
		c.fail(a, modbus.ErrConnResetByPeer)
		return false
	}
	a.sentAt = now
	slog.Debug("modbus tcp: send", "slave", ci.id, "frame", hex.EncodeToString(frame))
	return true
}

// drain discards whatever is buffered on the connection.
func (ci *ClientItem) drain() {
	var scratch [tcpMaxSize]byte
	for ci.conn.Available() > 0 {
		if ci.conn.Read(scratch[:]) <= 0 {
			break
		}
	}
}

func (ci *ClientItem) reset() {
	ci.current = nil
	ci.incoming = 0
}

func (ci *ClientItem) valid() bool {
	return ci != nil && ci.id != 0
}
