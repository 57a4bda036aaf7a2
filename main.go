// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grid-x/serial"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/internal/store"
	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/transport/rtu"
	"github.com/ffutop/modbus-master/transport/tcp"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	slog.Info("Starting Modbus master...")

	cache, err := store.Open(cfg.Snapshot)
	if err != nil {
		slog.Error("Failed to open snapshot", "path", cfg.Snapshot, "err", err)
		os.Exit(1)
	}
	defer cache.Close()

	var rtuMaster *rtu.Master
	var stream *rtu.SerialStream
	if cfg.RTU != nil {
		stream, err = rtu.OpenStream(serial.Config{
			Address:  cfg.RTU.Device,
			BaudRate: cfg.RTU.BaudRate,
			DataBits: cfg.RTU.DataBits,
			Parity:   cfg.RTU.Parity,
			StopBits: cfg.RTU.StopBits,
			Timeout:  cfg.TickInterval / 2,
			RS485: serial.RS485Config{
				Enabled:            cfg.RTU.RS485,
				DelayRtsBeforeSend: cfg.RTU.DelayRtsBeforeSend,
				DelayRtsAfterSend:  cfg.RTU.DelayRtsAfterSend,
				RtsHighDuringSend:  cfg.RTU.RtsHighDuringSend,
				RtsHighAfterSend:   cfg.RTU.RtsHighAfterSend,
				RxDuringTx:         cfg.RTU.RxDuringTx,
			},
		})
		if err != nil {
			slog.Error("Failed to open serial device", "device", cfg.RTU.Device, "err", err)
			os.Exit(1)
		}
		defer stream.Close()

		rtuMaster = rtu.NewMaster(rtu.Config{
			PDUSize:         cfg.RTU.PDUSize,
			QueueSize:       cfg.RTU.QueueSize,
			BaudRate:        cfg.RTU.BaudRate,
			DataBits:        cfg.RTU.DataBits,
			Parity:          cfg.RTU.Parity,
			StopBits:        cfg.RTU.StopBits,
			FrameTimeout:    cfg.RTU.FrameTimeout,
			ByteTimeout:     cfg.RTU.ByteTimeout,
			ResponseTimeout: cfg.RTU.ResponseTimeout,
		}, stream)
		defer rtuMaster.Close()
		slog.Info("init Modbus RTU master", "device", cfg.RTU.Device,
			"baudRate", cfg.RTU.BaudRate, "frameTimeout", rtuMaster.FrameTimeout(),
			"byteTimeout", rtuMaster.ByteTimeout())
	}

	var tcpClient *tcp.Client
	if cfg.TCP != nil {
		tcpClient = tcp.NewClient(tcp.Config{
			ADUPoolSize:     cfg.TCP.ADUPoolSize,
			PDUSize:         cfg.TCP.PDUSize,
			ClientCount:     cfg.TCP.ClientCount,
			ResponseTimeout: cfg.TCP.ResponseTimeout,
		})
		defer tcpClient.Close()
		for _, sl := range cfg.TCP.Slaves {
			ok := tcpClient.AddClient(sl.ID, tcp.NewNetConn(sl.Address), tcp.Options{
				AllAtOnce:         sl.AllAtOnce,
				QueueSize:         sl.QueueSize,
				KeepAlive:         sl.KeepAlive,
				ReconnectInterval: sl.ReconnectInterval,
			})
			if !ok {
				slog.Error("Failed to add TCP slave", "id", sl.ID, "address", sl.Address)
				os.Exit(1)
			}
			slog.Info("init Modbus TCP slave", "id", sl.ID, "address", sl.Address,
				"allAtOnce", sl.AllAtOnce)
		}
	}

	for _, poll := range cfg.Polls {
		var master modbus.Master
		switch poll.Transport {
		case "rtu":
			if rtuMaster == nil {
				slog.Error("Poll references rtu but no rtu section is configured")
				os.Exit(1)
			}
			master = rtuMaster.Master
		case "tcp":
			if tcpClient == nil {
				slog.Error("Poll references tcp but no tcp section is configured")
				os.Exit(1)
			}
			master = tcpClient.Master
		default:
			slog.Error("Unknown poll transport", "transport", poll.Transport)
			os.Exit(1)
		}
		if err := startPoll(master, cache, poll); err != nil {
			slog.Error("Failed to start poll", "err", err)
			os.Exit(1)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if rtuMaster != nil {
				rtuMaster.Tick()
			}
			if tcpClient != nil {
				tcpClient.Tick()
			}
		case <-sigChan:
			slog.Info("Shutting down...")
			if err := cache.Flush(); err != nil {
				slog.Error("Failed to flush snapshot", "err", err)
			}
			slog.Info("Goodbye.")
			return
		}
	}
}

// startPoll issues one cyclic request; the engine reschedules it across
// the slave set and cycles for as long as the process runs.
func startPoll(master modbus.Master, cache *store.Cache, poll config.PollConfig) error {
	ids, err := config.ParseSlaveIDs(poll.SlaveIDs)
	if err != nil {
		return fmt.Errorf("bad slave_ids %q: %w", poll.SlaveIDs, err)
	}
	if len(ids) == 0 {
		return fmt.Errorf("poll has no slaves: %q", poll.SlaveIDs)
	}
	set := modbus.NewSlaves(ids...)
	set.SetDelay(poll.SlaveSetDelay)
	set.SetRepeatDelay(poll.SlaveSetRepeatDelay)
	target := modbus.Group(set)

	addr, count := poll.Address, poll.Count

	switch poll.Function {
	case "coils":
		master.ReadCoils(target, addr, count, func(p *modbus.PDU) {
			recordBits(cache, store.TableCoils, p, addr, count)
		})
	case "discrete":
		master.ReadDiscreteInputs(target, addr, count, func(p *modbus.PDU) {
			recordBits(cache, store.TableDiscreteInputs, p, addr, count)
		})
	case "holding":
		master.ReadHoldingRegisters(target, addr, int(count), func(p *modbus.PDU) {
			recordRegisters(cache, store.TableHoldingRegisters, p, addr)
		})
	case "input":
		master.ReadInputRegisters(target, addr, int(count), func(p *modbus.PDU) {
			recordRegisters(cache, store.TableInputRegisters, p, addr)
		})
	default:
		return fmt.Errorf("unknown poll function: %q", poll.Function)
	}
	return nil
}

func recordRegisters(cache *store.Cache, table store.TableType, p *modbus.PDU, addr uint16) {
	if p.Err() != modbus.Success {
		slog.Warn("poll failed", "slave", p.Slave(), "err", p.Err())
		return
	}
	n := modbus.Len[uint16](p)
	for i := 0; i < n; i++ {
		cache.SetRegister(table, p.Slave(), addr+uint16(i), p.Uint16(i))
	}
	slog.Debug("poll ok", "slave", p.Slave(), "addr", addr, "registers", n)
}

func recordBits(cache *store.Cache, table store.TableType, p *modbus.PDU, addr, count uint16) {
	if p.Err() != modbus.Success {
		slog.Warn("poll failed", "slave", p.Slave(), "err", p.Err())
		return
	}
	for i := 0; i < int(count); i++ {
		cache.SetBit(table, p.Slave(), addr+uint16(i), p.Bit(i))
	}
	slog.Debug("poll ok", "slave", p.Slave(), "addr", addr, "bits", count)
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
