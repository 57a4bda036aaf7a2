// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/grid-x/serial"
)

// SerialStream adapts a grid-x serial port to the non-blocking Stream
// contract. The port is opened with a short read timeout; Available
// polls the line into an internal buffer so the engine never blocks.
type SerialStream struct {
	// Serial port configuration.
	serial.Config

	port io.ReadWriteCloser
	buf  []byte
}

// OpenStream opens the serial device described by cfg and returns it as
// an engine Stream. cfg.Timeout bounds the per-poll read; keep it well
// under the tick period.
func OpenStream(cfg serial.Config) (*SerialStream, error) {
	port, err := serial.Open(&cfg)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", cfg.Address, err)
	}
	return &SerialStream{Config: cfg, port: port}, nil
}

// poll moves whatever the line has buffered into the internal buffer.
func (s *SerialStream) poll() {
	var scratch [rtuMaxSize]byte
	n, err := s.port.Read(scratch[:])
	if n > 0 {
		s.buf = append(s.buf, scratch[:n]...)
	}
	if err != nil && err != io.EOF {
		slog.Debug("modbus rtu: serial read", "err", err)
	}
}

func (s *SerialStream) Available() int {
	s.poll()
	return len(s.buf)
}

func (s *SerialStream) Read(buf []byte) int {
	n := copy(buf, s.buf)
	s.buf = s.buf[n:]
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return n
}

func (s *SerialStream) Write(buf []byte) int {
	n, err := s.port.Write(buf)
	if err != nil {
		slog.Error("modbus rtu: serial write", "err", err)
	}
	return n
}

// Flush is a no-op for the grid-x port; writes are synchronous.
func (s *SerialStream) Flush() {}

func (s *SerialStream) Close() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
